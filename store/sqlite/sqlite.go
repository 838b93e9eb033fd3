/*
Package sqlite opens the ledger store on SQLite.

PURPOSE:
  Supplies the SQLite Dialect for sqlstore and an opener that configures
  the connection for the ledger's locking model.

CONNECTION:
  The database is opened with:
    _foreign_keys=on      Referential integrity
    _journal_mode=WAL     Readers don't block the writer
    _txlock=immediate     BEGIN IMMEDIATE: the write lock is taken up front

  and a pool of exactly one connection. Every unit of work is therefore
  serialized, which is what SELECT ... FOR UPDATE provides on Postgres.
  It also keeps ":memory:" databases alive and shared across calls.

ERRORS:
  SQLITE_BUSY / SQLITE_LOCKED   -> ledger.ErrTransient
  UNIQUE / PRIMARY KEY          -> ledger.ErrDuplicateParticipant

USAGE:
  store, err := sqlite.Open(ctx, "./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlstore: Shared implementation
  - store/postgres: PostgreSQL dialect
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/spend-ledger/ledger"
	"github.com/warp/spend-ledger/store/sqlstore"
)

const params = "_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000"

// Open opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := sqlstore.New(db, Dialect{})
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params
}

// Dialect is the SQLite sqlstore.Dialect.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }

// Rebind is the identity: SQLite accepts ? placeholders.
func (Dialect) Rebind(query string) string { return query }

// Lock returns nothing. Write transactions hold the database lock for
// their whole lifetime.
func (Dialect) Lock(ledger.LockMode, string) string { return "" }

// ViewOptions returns nil. mattn/go-sqlite3 rejects a read-only flag on
// BEGIN, and a single connection already gives a consistent snapshot.
func (Dialect) ViewOptions() *sql.TxOptions { return nil }

func (Dialect) Classify(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return err
	}
	switch {
	case serr.Code == sqlite3.ErrBusy, serr.Code == sqlite3.ErrLocked:
		return sqlstore.Wrap(ledger.ErrTransient, err)
	case serr.ExtendedCode == sqlite3.ErrConstraintUnique,
		serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return sqlstore.Wrap(ledger.ErrDuplicateParticipant, err)
	}
	return err
}
