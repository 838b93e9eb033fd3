/*
store.go - Unit-of-work interface between the ledger and the database

PURPOSE:
  Every mutating ledger operation runs inside exactly one Store.WithTx
  call; every read that aggregates rows (balances, percentages) runs inside
  one Store.View call so it sees a single consistent snapshot.

UNIT OF WORK:
  WithTx(ctx, fn):
    - fn returns nil   -> commit
    - fn returns error -> rollback, error returned unchanged
    - fn panics        -> rollback, panic re-raised

  No partially applied multi-row change (assignment replace-all, payment
  + settlement update) is ever observable.

LOCKING:
  LockUpdate on a row read serializes concurrent writers on that row:

    Postgres: SELECT ... FOR UPDATE
    SQLite:   write transactions are already serialized (BEGIN IMMEDIATE)

  The Expense row is the lock for expense-scoped operations, the
  Settlement row for payment-scoped operations and the Trip row for
  trip-wide reconciliation.

SOFT DELETE:
  Deleted expenses and settlements are never returned by any read
  method. Lookups of a deleted row return ErrNotFound.

IMPLEMENTATIONS:
  - store/sqlstore: database/sql implementation (SQLite + Postgres dialects)

SEE ALSO:
  - ledger.go: Retry policy for reads
*/
package ledger

import "context"

// LockMode selects row locking for reads inside WithTx.
type LockMode int

const (
	LockNone LockMode = iota
	LockShare
	LockUpdate
)

// Store opens units of work.
type Store interface {
	// WithTx executes fn within a read-write transaction.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// View executes fn within a read-only snapshot transaction.
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of row operations available inside a unit of work.
// Methods returning a single row return an error wrapping ErrNotFound
// when the row does not exist or is soft-deleted.
type Tx interface {
	// Trips
	Trip(ctx context.Context, id TripID, lock LockMode) (*Trip, error)
	UpdateTripSpend(ctx context.Context, t *Trip) error

	// Expenses
	Expense(ctx context.Context, id ExpenseID, lock LockMode) (*Expense, error)
	ListExpenses(ctx context.Context, tripID TripID) ([]Expense, error)
	InsertExpense(ctx context.Context, e *Expense) error
	UpdateExpense(ctx context.Context, e *Expense) error

	// Assignments, ordered by participant id.
	Assignments(ctx context.Context, expenseID ExpenseID) ([]Assignment, error)
	AssignmentsByTrip(ctx context.Context, tripID TripID) ([]Assignment, error)
	InsertAssignment(ctx context.Context, a *Assignment) error
	UpdateAssignment(ctx context.Context, a *Assignment) error
	DeleteAssignment(ctx context.Context, id AssignmentID) error

	// Settlements, active only, ordered by creation.
	Settlement(ctx context.Context, id SettlementID, lock LockMode) (*Settlement, error)
	Settlements(ctx context.Context, tripID TripID, lock LockMode) ([]Settlement, error)
	InsertSettlement(ctx context.Context, s *Settlement) error
	UpdateSettlement(ctx context.Context, s *Settlement) error
	MarkSettlementsStale(ctx context.Context, tripID TripID) error

	// Payments are append-only.
	InsertPayment(ctx context.Context, p *Payment) error
	Payments(ctx context.Context, settlementID SettlementID) ([]Payment, error)
}
