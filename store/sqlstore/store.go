/*
Package sqlstore implements the ledger's unit of work on database/sql.

PURPOSE:
  One implementation of ledger.Store, ledger.Authorizer and the audit
  saver shared by SQLite and PostgreSQL. The differences between the two
  live behind Dialect:

    Rebind    ? placeholders -> $1, $2 ... (Postgres)
    Lock      FOR UPDATE / FOR SHARE clauses (Postgres), nothing (SQLite)
    Classify  driver errors -> ledger.ErrTransient / ErrDuplicateParticipant

KEY TABLES:
  trips, trip_members:     Trip + membership (roles)
  expenses:                Soft-deleted via deleted_at
  expense_assignments:     UNIQUE (expense_id, participant_id)
  settlements, payments:   Soft-deleted via deleted_at
  audit_events:            Written by the audit worker

USAGE:
  db, _ := sql.Open("sqlite3", dsn)
  store := sqlstore.New(db, dialect)
  if err := store.Migrate(ctx); err != nil { ... }
  l := ledger.New(store, store)

SEE ALSO:
  - store/sqlite:   SQLite dialect and opener
  - store/postgres: PostgreSQL dialect and opener
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/spend-ledger/ledger"
	"github.com/warp/spend-ledger/money"
)

// Dialect captures the SQL differences between backends.
type Dialect interface {
	Name() string

	// Rebind rewrites ? placeholders into the backend's syntax.
	Rebind(query string) string

	// Lock returns the row-locking suffix for a SELECT on table alias.
	Lock(mode ledger.LockMode, alias string) string

	// ViewOptions are the options for snapshot read transactions.
	ViewOptions() *sql.TxOptions

	// Classify maps driver errors onto ledger sentinels.
	Classify(err error) error
}

// Store implements ledger.Store and ledger.Authorizer.
type Store struct {
	db      *sql.DB
	dialect Dialect
	onClose []func()
}

var (
	_ ledger.Store      = (*Store)(nil)
	_ ledger.Authorizer = (*Store)(nil)
)

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying handle (health checks, tests).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

// OnClose registers fn to run after the database handle is closed.
func (s *Store) OnClose(fn func()) {
	s.onClose = append(s.onClose, fn)
}

// Close closes the database connection.
func (s *Store) Close() error {
	err := s.db.Close()
	for _, fn := range s.onClose {
		fn()
	}
	return err
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate %s schema: %w", s.dialect.Name(), err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// UNIT OF WORK (ledger.Store)
// =============================================================================

// WithTx executes fn within a read-write transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return s.run(ctx, nil, fn)
}

// View executes fn within a snapshot transaction.
func (s *Store) View(ctx context.Context, fn func(ledger.Tx) error) error {
	return s.run(ctx, s.dialect.ViewOptions(), fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(ledger.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", s.dialect.Classify(err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&tx{tx: sqlTx, d: s.dialect}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", s.dialect.Classify(err))
	}
	return nil
}

// =============================================================================
// TRIPS AND MEMBERSHIP
// =============================================================================

// Member is one row of trip_members.
type Member struct {
	TripID      ledger.TripID
	Participant ledger.ParticipantID
	Role        ledger.Role
	CreatedAt   time.Time
}

// CreateTrip inserts a trip and its owner in one transaction. A trip id
// that is already taken fails with ledger.ErrInvalidInput.
func (s *Store) CreateTrip(ctx context.Context, trip *ledger.Trip, owner ledger.ParticipantID) error {
	if trip.SpendStatus == "" {
		trip.SpendStatus = ledger.StatusOpen
	}
	if trip.CreatedAt.IsZero() {
		trip.CreatedAt = time.Now().UTC()
	}
	return s.WithTx(ctx, func(ltx ledger.Tx) error {
		t := ltx.(*tx)
		_, err := t.exec(ctx, `
			INSERT INTO trips (id, name, base_currency, base_exponent, spend_status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			trip.ID, trip.Name, trip.BaseCurrency.Code, int(trip.BaseCurrency.Exponent),
			string(trip.SpendStatus), formatTime(trip.CreatedAt),
		)
		if errors.Is(err, ledger.ErrDuplicateParticipant) {
			return fmt.Errorf("%w: trip %s already exists", ledger.ErrInvalidInput, trip.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert trip: %w", err)
		}
		return t.addMember(ctx, trip.ID, owner, ledger.RoleOwner, trip.CreatedAt)
	})
}

// AddMember adds participant to the trip with role.
func (s *Store) AddMember(ctx context.Context, tripID ledger.TripID, participant ledger.ParticipantID, role ledger.Role) error {
	return s.WithTx(ctx, func(ltx ledger.Tx) error {
		t := ltx.(*tx)
		if _, err := t.Trip(ctx, tripID, ledger.LockNone); err != nil {
			return err
		}
		return t.addMember(ctx, tripID, participant, role, time.Now().UTC())
	})
}

// Members lists the trip's members ordered by participant id.
func (s *Store) Members(ctx context.Context, tripID ledger.TripID) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT trip_id, participant_id, role, created_at
		FROM trip_members WHERE trip_id = ? ORDER BY participant_id`), tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", s.dialect.Classify(err))
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var (
			m         Member
			role      string
			createdAt string
		)
		if err := rows.Scan(&m.TripID, &m.Participant, &role, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if m.Role, err = ledger.ParseRole(role); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// RoleOf implements ledger.Authorizer.
func (s *Store) RoleOf(ctx context.Context, tripID ledger.TripID, actor ledger.ParticipantID) (ledger.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT role FROM trip_members WHERE trip_id = ? AND participant_id = ?`),
		tripID, actor,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.RoleNone, fmt.Errorf("%w: %s is not a member of trip %s", ledger.ErrForbidden, actor, tripID)
	}
	if err != nil {
		return ledger.RoleNone, fmt.Errorf("failed to resolve role: %w", s.dialect.Classify(err))
	}
	return ledger.ParseRole(role)
}

// Trip reads a trip outside any unit of work.
func (s *Store) Trip(ctx context.Context, id ledger.TripID) (*ledger.Trip, error) {
	var out *ledger.Trip
	err := s.View(ctx, func(ltx ledger.Tx) error {
		var err error
		out, err = ltx.Trip(ctx, id, ledger.LockNone)
		return err
	})
	return out, err
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t.UTC()
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func currencyOf(code string, exp int) money.Currency {
	return money.Currency{Code: code, Exponent: uint8(exp)}
}

// classified pairs a ledger sentinel with the driver error that caused it.
type classified struct {
	kind  error
	cause error
}

func (e *classified) Error() string   { return e.kind.Error() + ": " + e.cause.Error() }
func (e *classified) Unwrap() []error { return []error{e.kind, e.cause} }

// Wrap tags cause with a ledger sentinel while keeping it inspectable.
func Wrap(kind, cause error) error {
	return &classified{kind: kind, cause: cause}
}
