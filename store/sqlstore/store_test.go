package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/spend-ledger/ledger"
	"github.com/warp/spend-ledger/money"
	"github.com/warp/spend-ledger/store/sqlite"
	"github.com/warp/spend-ledger/store/sqlstore"
)

var (
	usd = money.MustLookup("USD")
	t0  = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTrip(t *testing.T, store *sqlstore.Store) *ledger.Trip {
	t.Helper()
	trip := &ledger.Trip{ID: "trip-1", Name: "Lisbon", BaseCurrency: usd, CreatedAt: t0}
	require.NoError(t, store.CreateTrip(context.Background(), trip, "alice"))
	return trip
}

func insertExpense(t *testing.T, store *sqlstore.Store, id ledger.ExpenseID) *ledger.Expense {
	t.Helper()
	exp := &ledger.Expense{
		ID:               id,
		TripID:           "trip-1",
		Description:      "Dinner",
		Amount:           money.New(9000, usd),
		FxRate:           decimal.NewFromInt(1),
		NormalizedAmount: money.New(9000, usd),
		Date:             t0,
		Status:           ledger.StatusOpen,
		Payer:            "alice",
		CreatedBy:        "alice",
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
	err := store.WithTx(context.Background(), func(tx ledger.Tx) error {
		return tx.InsertExpense(context.Background(), exp)
	})
	require.NoError(t, err)
	return exp
}

func TestMembership(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	newTrip(t, store)

	require.NoError(t, store.AddMember(ctx, "trip-1", "carol", ledger.RoleMember))
	require.NoError(t, store.AddMember(ctx, "trip-1", "bob", ledger.RoleOrganizer))

	role, err := store.RoleOf(ctx, "trip-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.RoleOwner, role)

	_, err = store.RoleOf(ctx, "trip-1", "mallory")
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	err = store.AddMember(ctx, "trip-1", "bob", ledger.RoleMember)
	assert.ErrorIs(t, err, ledger.ErrDuplicateParticipant)

	err = store.AddMember(ctx, "no-such-trip", "bob", ledger.RoleMember)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// A reused trip id is not a duplicate member.
	err = store.CreateTrip(ctx, &ledger.Trip{ID: "trip-1", Name: "Again", BaseCurrency: usd}, "mallory")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	assert.NotErrorIs(t, err, ledger.ErrDuplicateParticipant)
	_, err = store.RoleOf(ctx, "trip-1", "mallory")
	assert.ErrorIs(t, err, ledger.ErrForbidden)

	members, err := store.Members(ctx, "trip-1")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, ledger.ParticipantID("alice"), members[0].Participant)
	assert.Equal(t, ledger.ParticipantID("bob"), members[1].Participant)
	assert.True(t, t0.Equal(members[0].CreatedAt))
}

func TestTripRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	newTrip(t, store)

	trip, err := store.Trip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, usd, trip.BaseCurrency)
	assert.Equal(t, ledger.StatusOpen, trip.SpendStatus)
	assert.Nil(t, trip.SpendClosedAt)

	closedAt := t0.Add(time.Hour)
	trip.SpendStatus = ledger.StatusClosed
	trip.SpendClosedAt = &closedAt
	trip.SpendClosedBy = "alice"
	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.UpdateTripSpend(ctx, trip)
	}))

	got, err := store.Trip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClosed, got.SpendStatus)
	require.NotNil(t, got.SpendClosedAt)
	assert.True(t, closedAt.Equal(*got.SpendClosedAt))
	assert.Equal(t, ledger.ParticipantID("alice"), got.SpendClosedBy)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	newTrip(t, store)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		exp := insertExpenseRow("exp-1")
		if err := tx.InsertExpense(ctx, exp); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = store.View(ctx, func(tx ledger.Tx) error {
		_, err := tx.Expense(ctx, "exp-1", ledger.LockNone)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	newTrip(t, store)

	assert.Panics(t, func() {
		_ = store.WithTx(ctx, func(tx ledger.Tx) error {
			_ = tx.InsertExpense(ctx, insertExpenseRow("exp-1"))
			panic("mid-transaction")
		})
	})

	// The connection is usable again and nothing was committed.
	err := store.View(ctx, func(tx ledger.Tx) error {
		_, err := tx.Expense(ctx, "exp-1", ledger.LockNone)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func insertExpenseRow(id ledger.ExpenseID) *ledger.Expense {
	return &ledger.Expense{
		ID: id, TripID: "trip-1", Description: "Taxi",
		Amount: money.New(1000, usd), FxRate: decimal.NewFromInt(1),
		NormalizedAmount: money.New(1000, usd), Date: t0, Status: ledger.StatusOpen,
		Payer: "alice", CreatedBy: "alice", CreatedAt: t0, UpdatedAt: t0,
	}
}

func TestExpense_SoftDeleteHidesRow(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	newTrip(t, store)
	exp := insertExpense(t, store, "exp-1")

	category := "food"
	exp.Category = &category
	deletedAt := t0.Add(time.Minute)
	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		got, err := tx.Expense(ctx, "exp-1", ledger.LockUpdate)
		if err != nil {
			return err
		}
		assert.Equal(t, money.New(9000, usd), got.Amount)
		assert.True(t, got.FxRate.Equal(decimal.NewFromInt(1)))
		got.Category = &category
		got.DeletedAt = &deletedAt
		return tx.UpdateExpense(ctx, got)
	}))

	err := store.View(ctx, func(tx ledger.Tx) error {
		list, err := tx.ListExpenses(ctx, "trip-1")
		require.NoError(t, err)
		assert.Empty(t, list)
		_, err = tx.Expense(ctx, "exp-1", ledger.LockNone)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	// Updating a deleted row reports NotFound.
	err = store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.UpdateExpense(ctx, exp)
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestAssignments_UniquePerParticipant(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	newTrip(t, store)
	insertExpense(t, store, "exp-1")

	three := decimal.NewFromInt(3)
	row := func(id ledger.AssignmentID) *ledger.Assignment {
		return &ledger.Assignment{
			ID: id, ExpenseID: "exp-1", Participant: "bob",
			ShareAmount: money.New(3000, usd), NormalizedShareAmount: money.New(3000, usd),
			SplitType: ledger.SplitShares, SplitValue: &three, CreatedAt: t0, UpdatedAt: t0,
		}
	}
	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertAssignment(ctx, row("a-1"))
	}))
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertAssignment(ctx, row("a-2"))
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateParticipant)

	require.NoError(t, store.View(ctx, func(tx ledger.Tx) error {
		rows, err := tx.AssignmentsByTrip(ctx, "trip-1")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, ledger.SplitShares, rows[0].SplitType)
		require.NotNil(t, rows[0].SplitValue)
		assert.True(t, rows[0].SplitValue.Equal(three))
		return nil
	}))

	err = store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.DeleteAssignment(ctx, "missing")
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestSettlements_StaleAndPayments(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	newTrip(t, store)

	s := &ledger.Settlement{
		ID: "s-1", TripID: "trip-1", FromUser: "bob", ToUser: "alice",
		Amount: money.New(3000, usd), TotalPaid: money.Zero(usd),
		Status: ledger.SettlementPending, CreatedAt: t0, UpdatedAt: t0,
	}
	method := "cash"
	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertSettlement(ctx, s); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, &ledger.Payment{
			ID: "p-1", SettlementID: "s-1", Amount: money.New(1000, usd),
			PaidAt: t0, Method: &method, RecordedBy: "alice", CreatedAt: t0,
		}); err != nil {
			return err
		}
		return tx.MarkSettlementsStale(ctx, "trip-1")
	}))

	require.NoError(t, store.View(ctx, func(tx ledger.Tx) error {
		got, err := tx.Settlement(ctx, "s-1", ledger.LockNone)
		require.NoError(t, err)
		assert.True(t, got.Stale)

		payments, err := tx.Payments(ctx, "s-1")
		require.NoError(t, err)
		require.Len(t, payments, 1)
		assert.Equal(t, money.New(1000, usd), payments[0].Amount)
		require.NotNil(t, payments[0].Method)
		assert.Equal(t, "cash", *payments[0].Method)
		assert.Nil(t, payments[0].Reference)
		return nil
	}))
}

func TestAuditLog(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	newTrip(t, store)

	entries := []ledger.AuditEntry{
		{At: t0, Actor: "alice", TripID: "trip-1", EntityType: "expense", EntityID: "exp-1",
			Action: ledger.AuditExpenseCreated, Metadata: map[string]any{"amount": "90.00"}},
		{At: t0.Add(time.Second), Actor: "alice", TripID: "trip-1", EntityType: "expense", EntityID: "exp-1",
			Action: ledger.AuditExpenseClosed},
	}
	require.NoError(t, store.SaveAudit(ctx, entries))
	require.NoError(t, store.SaveAudit(ctx, nil))

	log, err := store.AuditLog(ctx, "trip-1", 0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, ledger.AuditExpenseClosed, log[0].Action)
	assert.Nil(t, log[0].Metadata)
	assert.Equal(t, "90.00", log[1].Metadata["amount"])
	assert.NotEmpty(t, log[1].ID)

	limited, err := store.AuditLog(ctx, "trip-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
