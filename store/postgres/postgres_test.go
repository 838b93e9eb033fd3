package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/spend-ledger/ledger"
)

func TestRebind(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "SELECT 1", d.Rebind("SELECT 1"))
	assert.Equal(t,
		"UPDATE x SET a = $1, b = $2 WHERE id = $3",
		d.Rebind("UPDATE x SET a = ?, b = ? WHERE id = ?"))
}

func TestLock(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "", d.Lock(ledger.LockNone, "e"))
	assert.Equal(t, " FOR SHARE OF t", d.Lock(ledger.LockShare, "t"))
	assert.Equal(t, " FOR UPDATE OF s", d.Lock(ledger.LockUpdate, "s"))
}

func TestClassify(t *testing.T) {
	d := Dialect{}
	for _, code := range []string{"40001", "40P01", "55P03"} {
		err := d.Classify(&pgconn.PgError{Code: code})
		assert.ErrorIs(t, err, ledger.ErrTransient, code)
	}

	dup := d.Classify(&pgconn.PgError{Code: "23505", ConstraintName: "uq_assignment_participant"})
	assert.ErrorIs(t, dup, ledger.ErrDuplicateParticipant)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(dup, &pgErr))
	assert.Equal(t, "uq_assignment_participant", pgErr.ConstraintName)

	other := &pgconn.PgError{Code: "22001"}
	assert.Equal(t, "Internal", ledger.Kind(d.Classify(other)))
}

// TestOpen runs against a real server when TEST_DATABASE_URL is set.
func TestOpen(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Migrate(ctx))
}
