package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/spend-ledger/ledger"
	"github.com/warp/spend-ledger/money"
)

// tx implements ledger.Tx over one *sql.Tx.
type tx struct {
	tx *sql.Tx
	d  Dialect
}

var _ ledger.Tx = (*tx)(nil)

func (t *tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.d.Rebind(query), args...)
	if err != nil {
		return nil, t.d.Classify(err)
	}
	return res, nil
}

func (t *tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, t.d.Rebind(query), args...)
	if err != nil {
		return nil, t.d.Classify(err)
	}
	return rows, nil
}

func (t *tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.d.Rebind(query), args...)
}

// mustAffect turns a zero-row UPDATE into ErrNotFound.
func mustAffect(res sql.Result, kind string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %v", ledger.ErrNotFound, kind, id)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// TRIPS
// =============================================================================

func (t *tx) Trip(ctx context.Context, id ledger.TripID, lock ledger.LockMode) (*ledger.Trip, error) {
	var (
		trip      ledger.Trip
		code      string
		exp       int
		status    string
		closedAt  sql.NullString
		closedBy  sql.NullString
		createdAt string
	)
	err := t.queryRow(ctx, `
		SELECT t.id, t.name, t.base_currency, t.base_exponent, t.spend_status,
		       t.spend_closed_at, t.spend_closed_by, t.created_at
		FROM trips t WHERE t.id = ?`+t.d.Lock(lock, "t"), id,
	).Scan(&trip.ID, &trip.Name, &code, &exp, &status, &closedAt, &closedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: trip %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trip: %w", t.d.Classify(err))
	}
	trip.BaseCurrency = currencyOf(code, exp)
	trip.SpendStatus = ledger.Status(status)
	trip.SpendClosedAt = parseTimePtr(closedAt)
	trip.SpendClosedBy = ledger.ParticipantID(closedBy.String)
	trip.CreatedAt = parseTime(createdAt)
	return &trip, nil
}

func (t *tx) UpdateTripSpend(ctx context.Context, trip *ledger.Trip) error {
	closedBy := sql.NullString{String: string(trip.SpendClosedBy), Valid: trip.SpendClosedBy != ""}
	res, err := t.exec(ctx, `
		UPDATE trips SET spend_status = ?, spend_closed_at = ?, spend_closed_by = ?
		WHERE id = ?`,
		string(trip.SpendStatus), formatTimePtr(trip.SpendClosedAt), closedBy, trip.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update trip: %w", err)
	}
	return mustAffect(res, "trip", trip.ID)
}

func (t *tx) addMember(ctx context.Context, tripID ledger.TripID, p ledger.ParticipantID, role ledger.Role, at time.Time) error {
	_, err := t.exec(ctx, `
		INSERT INTO trip_members (trip_id, participant_id, role, created_at)
		VALUES (?, ?, ?, ?)`,
		tripID, p, role.String(), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("failed to add member %s: %w", p, err)
	}
	return nil
}

// =============================================================================
// EXPENSES
// =============================================================================

const expenseColumns = `
	e.id, e.trip_id, e.description, e.amount_minor, e.currency, e.currency_exponent,
	e.fx_rate, e.normalized_minor, e.expense_date, e.status, e.payer, e.category,
	e.notes, e.created_by, e.created_at, e.updated_at, e.deleted_at,
	t.base_currency, t.base_exponent`

func scanExpense(s scanner) (ledger.Expense, error) {
	var (
		e                    ledger.Expense
		amount, normalized   int64
		code, baseCode       string
		exp, baseExp         int
		rate                 string
		date, status         string
		category, notes      sql.NullString
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)
	err := s.Scan(
		&e.ID, &e.TripID, &e.Description, &amount, &code, &exp,
		&rate, &normalized, &date, &status, &e.Payer, &category,
		&notes, &e.CreatedBy, &createdAt, &updatedAt, &deletedAt,
		&baseCode, &baseExp,
	)
	if err != nil {
		return e, err
	}
	e.Amount = money.New(amount, currencyOf(code, exp))
	e.NormalizedAmount = money.New(normalized, currencyOf(baseCode, baseExp))
	if e.FxRate, err = decimal.NewFromString(rate); err != nil {
		return e, fmt.Errorf("corrupt fx_rate %q on expense %s: %w", rate, e.ID, err)
	}
	e.Date = parseTime(date)
	e.Status = ledger.Status(status)
	e.Category = stringPtr(category)
	e.Notes = stringPtr(notes)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	e.DeletedAt = parseTimePtr(deletedAt)
	return e, nil
}

func (t *tx) Expense(ctx context.Context, id ledger.ExpenseID, lock ledger.LockMode) (*ledger.Expense, error) {
	row := t.queryRow(ctx, `
		SELECT`+expenseColumns+`
		FROM expenses e JOIN trips t ON t.id = e.trip_id
		WHERE e.id = ? AND e.deleted_at IS NULL`+t.d.Lock(lock, "e"), id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: expense %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load expense: %w", t.d.Classify(err))
	}
	return &e, nil
}

func (t *tx) ListExpenses(ctx context.Context, tripID ledger.TripID) ([]ledger.Expense, error) {
	rows, err := t.query(ctx, `
		SELECT`+expenseColumns+`
		FROM expenses e JOIN trips t ON t.id = e.trip_id
		WHERE e.trip_id = ? AND e.deleted_at IS NULL
		ORDER BY e.expense_date, e.id`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var out []ledger.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *tx) InsertExpense(ctx context.Context, e *ledger.Expense) error {
	_, err := t.exec(ctx, `
		INSERT INTO expenses
		(id, trip_id, description, amount_minor, currency, currency_exponent, fx_rate,
		 normalized_minor, expense_date, status, payer, category, notes, created_by,
		 created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TripID, e.Description, e.Amount.Minor, e.Amount.Currency.Code,
		int(e.Amount.Currency.Exponent), e.FxRate.String(), e.NormalizedAmount.Minor,
		formatTime(e.Date), string(e.Status), e.Payer, nullString(e.Category),
		nullString(e.Notes), e.CreatedBy, formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
		formatTimePtr(e.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return nil
}

func (t *tx) UpdateExpense(ctx context.Context, e *ledger.Expense) error {
	res, err := t.exec(ctx, `
		UPDATE expenses SET
			description = ?, amount_minor = ?, currency = ?, currency_exponent = ?,
			fx_rate = ?, normalized_minor = ?, expense_date = ?, status = ?, payer = ?,
			category = ?, notes = ?, updated_at = ?, deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		e.Description, e.Amount.Minor, e.Amount.Currency.Code, int(e.Amount.Currency.Exponent),
		e.FxRate.String(), e.NormalizedAmount.Minor, formatTime(e.Date), string(e.Status), e.Payer,
		nullString(e.Category), nullString(e.Notes), formatTime(e.UpdatedAt), formatTimePtr(e.DeletedAt),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update expense: %w", err)
	}
	return mustAffect(res, "expense", e.ID)
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

const assignmentSelect = `
	SELECT a.id, a.expense_id, a.participant_id, a.share_minor, a.normalized_share_minor,
	       a.split_type, a.split_value, a.created_at, a.updated_at,
	       e.currency, e.currency_exponent, t.base_currency, t.base_exponent
	FROM expense_assignments a
	JOIN expenses e ON e.id = a.expense_id
	JOIN trips t ON t.id = e.trip_id`

func (t *tx) queryAssignments(ctx context.Context, query string, args ...any) ([]ledger.Assignment, error) {
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []ledger.Assignment
	for rows.Next() {
		var (
			a                    ledger.Assignment
			share, normalized    int64
			splitType            string
			splitValue           sql.NullString
			createdAt, updatedAt string
			code, baseCode       string
			exp, baseExp         int
		)
		if err := rows.Scan(
			&a.ID, &a.ExpenseID, &a.Participant, &share, &normalized,
			&splitType, &splitValue, &createdAt, &updatedAt,
			&code, &exp, &baseCode, &baseExp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.ShareAmount = money.New(share, currencyOf(code, exp))
		a.NormalizedShareAmount = money.New(normalized, currencyOf(baseCode, baseExp))
		a.SplitType = ledger.SplitType(splitType)
		if splitValue.Valid {
			v, err := decimal.NewFromString(splitValue.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt split_value %q on assignment %s: %w", splitValue.String, a.ID, err)
			}
			a.SplitValue = &v
		}
		a.CreatedAt = parseTime(createdAt)
		a.UpdatedAt = parseTime(updatedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *tx) Assignments(ctx context.Context, expenseID ledger.ExpenseID) ([]ledger.Assignment, error) {
	return t.queryAssignments(ctx, assignmentSelect+`
		WHERE a.expense_id = ?
		ORDER BY a.participant_id`, expenseID)
}

func (t *tx) AssignmentsByTrip(ctx context.Context, tripID ledger.TripID) ([]ledger.Assignment, error) {
	return t.queryAssignments(ctx, assignmentSelect+`
		WHERE e.trip_id = ? AND e.deleted_at IS NULL
		ORDER BY a.expense_id, a.participant_id`, tripID)
}

func splitValueArg(v *decimal.Decimal) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func (t *tx) InsertAssignment(ctx context.Context, a *ledger.Assignment) error {
	_, err := t.exec(ctx, `
		INSERT INTO expense_assignments
		(id, expense_id, participant_id, share_minor, normalized_share_minor,
		 split_type, split_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ExpenseID, a.Participant, a.ShareAmount.Minor, a.NormalizedShareAmount.Minor,
		string(a.SplitType), splitValueArg(a.SplitValue), formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert assignment for %s: %w", a.Participant, err)
	}
	return nil
}

func (t *tx) UpdateAssignment(ctx context.Context, a *ledger.Assignment) error {
	res, err := t.exec(ctx, `
		UPDATE expense_assignments SET
			share_minor = ?, normalized_share_minor = ?, split_type = ?, split_value = ?, updated_at = ?
		WHERE id = ?`,
		a.ShareAmount.Minor, a.NormalizedShareAmount.Minor, string(a.SplitType),
		splitValueArg(a.SplitValue), formatTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}
	return mustAffect(res, "assignment", a.ID)
}

func (t *tx) DeleteAssignment(ctx context.Context, id ledger.AssignmentID) error {
	res, err := t.exec(ctx, `DELETE FROM expense_assignments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	return mustAffect(res, "assignment", id)
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

const settlementColumns = `
	s.id, s.trip_id, s.from_user, s.to_user, s.amount_minor, s.total_paid_minor,
	s.currency, s.currency_exponent, s.status, s.stale, s.created_at, s.updated_at, s.deleted_at`

func scanSettlement(sc scanner) (ledger.Settlement, error) {
	var (
		s                    ledger.Settlement
		amount, paid         int64
		code                 string
		exp                  int
		status               string
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)
	err := sc.Scan(
		&s.ID, &s.TripID, &s.FromUser, &s.ToUser, &amount, &paid,
		&code, &exp, &status, &s.Stale, &createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return s, err
	}
	cur := currencyOf(code, exp)
	s.Amount = money.New(amount, cur)
	s.TotalPaid = money.New(paid, cur)
	s.Status = ledger.SettlementStatus(status)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	s.DeletedAt = parseTimePtr(deletedAt)
	return s, nil
}

func (t *tx) Settlement(ctx context.Context, id ledger.SettlementID, lock ledger.LockMode) (*ledger.Settlement, error) {
	row := t.queryRow(ctx, `
		SELECT`+settlementColumns+`
		FROM settlements s
		WHERE s.id = ? AND s.deleted_at IS NULL`+t.d.Lock(lock, "s"), id)
	s, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: settlement %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement: %w", t.d.Classify(err))
	}
	return &s, nil
}

func (t *tx) Settlements(ctx context.Context, tripID ledger.TripID, lock ledger.LockMode) ([]ledger.Settlement, error) {
	rows, err := t.query(ctx, `
		SELECT`+settlementColumns+`
		FROM settlements s
		WHERE s.trip_id = ? AND s.deleted_at IS NULL
		ORDER BY s.created_at, s.id`+t.d.Lock(lock, "s"), tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var out []ledger.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *tx) InsertSettlement(ctx context.Context, s *ledger.Settlement) error {
	_, err := t.exec(ctx, `
		INSERT INTO settlements
		(id, trip_id, from_user, to_user, amount_minor, total_paid_minor, currency,
		 currency_exponent, status, stale, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TripID, s.FromUser, s.ToUser, s.Amount.Minor, s.TotalPaid.Minor,
		s.Amount.Currency.Code, int(s.Amount.Currency.Exponent), string(s.Status), s.Stale,
		formatTime(s.CreatedAt), formatTime(s.UpdatedAt), formatTimePtr(s.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	return nil
}

func (t *tx) UpdateSettlement(ctx context.Context, s *ledger.Settlement) error {
	res, err := t.exec(ctx, `
		UPDATE settlements SET
			from_user = ?, to_user = ?, amount_minor = ?, total_paid_minor = ?, status = ?,
			stale = ?, updated_at = ?, deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		s.FromUser, s.ToUser, s.Amount.Minor, s.TotalPaid.Minor, string(s.Status),
		s.Stale, formatTime(s.UpdatedAt), formatTimePtr(s.DeletedAt), s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	return mustAffect(res, "settlement", s.ID)
}

func (t *tx) MarkSettlementsStale(ctx context.Context, tripID ledger.TripID) error {
	_, err := t.exec(ctx, `
		UPDATE settlements SET stale = ?
		WHERE trip_id = ? AND deleted_at IS NULL`, true, tripID)
	if err != nil {
		return fmt.Errorf("failed to mark settlements stale: %w", err)
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (t *tx) InsertPayment(ctx context.Context, p *ledger.Payment) error {
	_, err := t.exec(ctx, `
		INSERT INTO payments
		(id, settlement_id, amount_minor, paid_at, method, reference, notes, recorded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SettlementID, p.Amount.Minor, formatTime(p.PaidAt), nullString(p.Method),
		nullString(p.Reference), nullString(p.Notes), p.RecordedBy, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (t *tx) Payments(ctx context.Context, settlementID ledger.SettlementID) ([]ledger.Payment, error) {
	rows, err := t.query(ctx, `
		SELECT p.id, p.settlement_id, p.amount_minor, p.paid_at, p.method, p.reference,
		       p.notes, p.recorded_by, p.created_at, s.currency, s.currency_exponent
		FROM payments p JOIN settlements s ON s.id = p.settlement_id
		WHERE p.settlement_id = ? AND p.deleted_at IS NULL
		ORDER BY p.created_at, p.id`, settlementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []ledger.Payment
	for rows.Next() {
		var (
			p                  ledger.Payment
			amount             int64
			paidAt, createdAt  string
			method, ref, notes sql.NullString
			code               string
			exp                int
		)
		if err := rows.Scan(
			&p.ID, &p.SettlementID, &amount, &paidAt, &method, &ref,
			&notes, &p.RecordedBy, &createdAt, &code, &exp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Amount = money.New(amount, currencyOf(code, exp))
		p.PaidAt = parseTime(paidAt)
		p.Method = stringPtr(method)
		p.Reference = stringPtr(ref)
		p.Notes = stringPtr(notes)
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}
