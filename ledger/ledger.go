/*
ledger.go - The Ledger service: wiring, units of work, read retry

PURPOSE:
  Ledger is the entry point for every operation. It owns the collaborators
  (store, authorizer, audit sink, currency metadata) and the two helpers
  all operations are built on:

    tx(fn)    one WithTx, audit entries emitted only after commit
    view(fn)  one View, retried on ErrTransient with linear backoff

  Authorization is resolved before the transaction opens, so an
  Authorizer backed by the same database never waits on the writer.

RETRY POLICY:
  Reads are idempotent and retried up to readAttempts times. Writes are
  never retried here; a transient failure is returned to the caller who
  decides whether to re-drive the request.

AUDIT:
  Entries queued by an operation are handed to the AuditSink after the
  transaction commits. A rolled-back operation emits nothing. Sink
  failures cannot reach the caller.

SEE ALSO:
  - store.go: Unit-of-work contract
  - audit/:   Buffered sink implementation
*/
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warp/spend-ledger/money"
)

// Observer receives one callback per completed operation. kind is ""
// on success and Kind(err) otherwise.
type Observer interface {
	ObserveOperation(op, kind string, elapsed time.Duration)
}

// Ledger implements the spend/settlement operations.
type Ledger struct {
	store      Store
	authz      Authorizer
	audit      AuditSink
	currencies money.CurrencyInfo
	logger     *slog.Logger
	observer   Observer
	now        func() time.Time
	newID      func() string

	readAttempts int
	readBackoff  time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithAuditSink(sink AuditSink) Option {
	return func(l *Ledger) { l.audit = sink }
}

// WithCurrencies overrides the minor-unit metadata (default money.ISO).
func WithCurrencies(info money.CurrencyInfo) Option {
	return func(l *Ledger) { l.currencies = info }
}

func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

// WithClock overrides time.Now. Timestamps are stored in UTC.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides the uuid-based id source.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) { l.newID = gen }
}

// WithReadRetry sets the attempt count and base backoff for snapshot reads.
func WithReadRetry(attempts int, backoff time.Duration) Option {
	return func(l *Ledger) {
		if attempts < 1 {
			attempts = 1
		}
		l.readAttempts = attempts
		l.readBackoff = backoff
	}
}

// New creates a Ledger over store, authorizing every call through authz.
func New(store Store, authz Authorizer, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		authz:        authz,
		audit:        nopAudit{},
		currencies:   money.ISO,
		logger:       slog.Default(),
		now:          time.Now,
		newID:        uuid.NewString,
		readAttempts: 3,
		readBackoff:  20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// =============================================================================
// UNITS OF WORK
// =============================================================================

// recorder collects audit entries inside a transaction.
type recorder struct {
	at      time.Time
	entries []AuditEntry
}

func (r *recorder) add(action AuditAction, actor ParticipantID, tripID TripID, entityType, entityID string, meta map[string]any) {
	r.entries = append(r.entries, AuditEntry{
		At:         r.at,
		Actor:      actor,
		TripID:     tripID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Metadata:   meta,
	})
}

// op wraps one public operation: timing, logging and the observer.
func (l *Ledger) op(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	kind := Kind(err)
	switch {
	case err == nil:
	case IsDomainError(err):
		l.logger.Debug("operation rejected", "op", name, "kind", kind, "error", err)
	default:
		l.logger.Error("operation failed", "op", name, "kind", kind, "error", err)
	}
	if l.observer != nil {
		l.observer.ObserveOperation(name, kind, elapsed)
	}
	return err
}

// tx runs fn in one read-write transaction and emits the queued audit
// entries after commit.
func (l *Ledger) tx(ctx context.Context, fn func(tx Tx, rec *recorder) error) error {
	var rec *recorder
	err := l.store.WithTx(ctx, func(tx Tx) error {
		rec = &recorder{at: l.timestamp()}
		return fn(tx, rec)
	})
	if err != nil {
		return err
	}
	for _, e := range rec.entries {
		l.audit.Record(ctx, e)
	}
	return nil
}

// view runs fn in one snapshot, retrying transient failures.
func (l *Ledger) view(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = l.store.View(ctx, fn)
		if err == nil || !IsRetryable(err) || attempt >= l.readAttempts {
			return err
		}
		l.logger.Debug("retrying snapshot read", "attempt", attempt, "error", err)
		timer := time.NewTimer(time.Duration(attempt) * l.readBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *Ledger) timestamp() time.Time {
	return l.now().UTC()
}

// =============================================================================
// SHARED GUARDS
// =============================================================================

// openTrip loads the trip and fails with ErrTripSpendClosed if it is frozen.
func openTrip(ctx context.Context, tx Tx, id TripID) (*Trip, error) {
	trip, err := tx.Trip(ctx, id, LockShare)
	if err != nil {
		return nil, err
	}
	if trip.SpendStatus == StatusClosed {
		return nil, ErrTripSpendClosed
	}
	return trip, nil
}

// lockExpense loads the expense for update along with its trip. The trip
// lock is checked first.
func lockExpense(ctx context.Context, tx Tx, id ExpenseID) (*Expense, *Trip, error) {
	exp, err := tx.Expense(ctx, id, LockUpdate)
	if err != nil {
		return nil, nil, err
	}
	trip, err := openTrip(ctx, tx, exp.TripID)
	if err != nil {
		return nil, nil, err
	}
	return exp, trip, nil
}

// mutableExpense is lockExpense plus the expense-level lock.
func mutableExpense(ctx context.Context, tx Tx, id ExpenseID) (*Expense, *Trip, error) {
	exp, trip, err := lockExpense(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if exp.IsClosed() {
		return nil, nil, ErrExpenseClosed
	}
	return exp, trip, nil
}
