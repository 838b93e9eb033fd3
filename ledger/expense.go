/*
expense.go - Expense lifecycle (create, update, close, reopen, delete)

PURPOSE:
  Owns the Expense record and enforces both locks before any change:

    1. Trip spend lock    -> ErrTripSpendClosed
    2. Expense status     -> ErrExpenseClosed

  The trip lock is always checked first, so a closed expense in a closed
  trip reports ErrTripSpendClosed.

NORMALIZATION:
  NormalizedAmount = round_half_even(Amount × FxRate) in the trip base
  currency. It is recomputed in the same transaction as any change to
  Amount or FxRate. An FxRate change also recomputes every assignment's
  NormalizedShareAmount, so the assigned percentage never drifts.

STALE SETTLEMENTS:
  Update and delete mark the trip's active settlements Stale. Nothing is
  recomputed automatically; RecordSettlements reconciles on demand.

SEE ALSO:
  - assignment.go: Percentage check used by CloseExpense
  - settlement.go: Reconciliation of stale settlements
*/
package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/spend-ledger/money"
)

// closeTolerance is ε in |assignedPercentage - 100| ≤ ε, in percentage points.
var closeTolerance = decimal.RequireFromString("0.01")

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// CreateExpenseParams describes a new expense. Currency defaults to the
// trip base currency; FxRate defaults to 1 only in that case. Payer
// defaults to Actor.
type CreateExpenseParams struct {
	TripID      TripID
	Actor       ParticipantID
	Payer       ParticipantID
	Description string
	Amount      decimal.Decimal
	Currency    string
	FxRate      *decimal.Decimal
	Date        time.Time
	Category    *string
	Notes       *string
}

// ExpenseView is an expense with its assignments.
type ExpenseView struct {
	Expense     Expense
	Assignments []Assignment
}

// =============================================================================
// CREATE
// =============================================================================

func (l *Ledger) CreateExpense(ctx context.Context, p CreateExpenseParams) (*Expense, error) {
	var out *Expense
	err := l.op("create_expense", func() error {
		if _, err := l.tripRole(ctx, p.TripID, p.Actor, RoleMember); err != nil {
			return err
		}
		payer := p.Payer
		if payer == "" {
			payer = p.Actor
		}
		if payer != p.Actor {
			if _, err := l.requireRole(ctx, p.TripID, payer, RoleMember); err != nil {
				return fmt.Errorf("payer: %w", err)
			}
		}

		return l.tx(ctx, func(tx Tx, rec *recorder) error {
			trip, err := openTrip(ctx, tx, p.TripID)
			if err != nil {
				return err
			}

			desc := strings.TrimSpace(p.Description)
			if desc == "" {
				return fmt.Errorf("%w: description is required", ErrInvalidInput)
			}
			code := p.Currency
			if code == "" {
				code = trip.BaseCurrency.Code
			}
			cur, err := l.currency(code)
			if err != nil {
				return err
			}
			rate, err := resolveRate(p.FxRate, cur, trip.BaseCurrency)
			if err != nil {
				return err
			}
			amount, err := positiveAmount(p.Amount, cur)
			if err != nil {
				return err
			}
			date := p.Date
			if date.IsZero() {
				date = rec.at
			}

			exp := &Expense{
				ID:          ExpenseID(l.newID()),
				TripID:      trip.ID,
				Description: desc,
				Amount:      amount,
				FxRate:      rate,
				Date:        date.UTC(),
				Status:      StatusOpen,
				Payer:       payer,
				Category:    p.Category,
				Notes:       p.Notes,
				CreatedBy:   p.Actor,
				CreatedAt:   rec.at,
				UpdatedAt:   rec.at,
			}
			if err := exp.normalize(trip.BaseCurrency); err != nil {
				return err
			}
			if err := tx.InsertExpense(ctx, exp); err != nil {
				return err
			}

			rec.add(AuditExpenseCreated, p.Actor, trip.ID, "expense", string(exp.ID), map[string]any{
				"amount":           exp.Amount.String(),
				"currency":         cur.Code,
				"fxRate":           rate.String(),
				"normalizedAmount": exp.NormalizedAmount.String(),
				"payer":            string(payer),
			})
			out = exp
			return nil
		})
	})
	return out, err
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateExpense applies patch. Any trip member may edit an OPEN expense.
func (l *Ledger) UpdateExpense(ctx context.Context, id ExpenseID, actor ParticipantID, patch ExpensePatch) (*Expense, error) {
	var out *Expense
	err := l.op("update_expense", func() error {
		tripID, _, err := l.expenseRole(ctx, id, actor)
		if err != nil {
			return err
		}
		if payer, ok := patch.Payer.Get(); ok {
			if _, err := l.requireRole(ctx, tripID, payer, RoleMember); err != nil {
				return fmt.Errorf("payer: %w", err)
			}
		}

		return l.tx(ctx, func(tx Tx, rec *recorder) error {
			exp, trip, err := mutableExpense(ctx, tx, id)
			if err != nil {
				return err
			}
			if patch.Empty() {
				out = exp
				return nil
			}
			if patch.nullsRequired() {
				return fmt.Errorf("%w: only category and notes can be cleared", ErrInvalidInput)
			}

			assignments, err := tx.Assignments(ctx, exp.ID)
			if err != nil {
				return err
			}
			changed, err := l.applyPatch(exp, trip, patch, len(assignments) > 0)
			if err != nil {
				return err
			}
			if len(changed) == 0 {
				out = exp
				return nil
			}

			// Shares are in the expense currency, so only a rate change
			// moves their normalized value.
			if slices.Contains(changed, "fxRate") {
				for i := range assignments {
					a := &assignments[i]
					n, err := normalizeShare(a.ShareAmount, exp, trip)
					if err != nil {
						return err
					}
					a.NormalizedShareAmount = n
					a.UpdatedAt = rec.at
					if err := tx.UpdateAssignment(ctx, a); err != nil {
						return err
					}
				}
			}
			if slices.Contains(changed, "amount") {
				assigned, err := sumShares(exp.Currency(), assignments)
				if err != nil {
					return err
				}
				if assigned.Minor > exp.Amount.Minor {
					return fmt.Errorf("%w: amount %s is below the assigned total %s",
						ErrInvalidAmount, exp.Amount, assigned)
				}
			}

			exp.UpdatedAt = rec.at
			if err := tx.UpdateExpense(ctx, exp); err != nil {
				return err
			}
			if err := tx.MarkSettlementsStale(ctx, exp.TripID); err != nil {
				return err
			}
			rec.add(AuditExpenseUpdated, actor, exp.TripID, "expense", string(exp.ID), map[string]any{
				"fields":           changed,
				"normalizedAmount": exp.NormalizedAmount.String(),
			})
			out = exp
			return nil
		})
	})
	return out, err
}

// applyPatch mutates exp and returns the names of the fields that changed.
func (l *Ledger) applyPatch(exp *Expense, trip *Trip, patch ExpensePatch, hasAssignments bool) ([]string, error) {
	var changed []string

	if desc, ok := patch.Description.Get(); ok {
		desc = strings.TrimSpace(desc)
		if desc == "" {
			return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
		}
		if desc != exp.Description {
			exp.Description = desc
			changed = append(changed, "description")
		}
	}

	cur := exp.Currency()
	if code, ok := patch.Currency.Get(); ok {
		c, err := l.currency(code)
		if err != nil {
			return nil, err
		}
		if c != cur {
			if hasAssignments {
				return nil, fmt.Errorf("%w: expense has assignments in %s", ErrCurrencyMismatch, cur.Code)
			}
			cur = c
			changed = append(changed, "currency")
		}
	}

	amount, err := money.FromDecimal(exp.Amount.Decimal(), cur)
	if err != nil {
		return nil, moneyErr(err)
	}
	if d, ok := patch.Amount.Get(); ok {
		m, err := positiveAmount(d, cur)
		if err != nil {
			return nil, err
		}
		amount = m
	}
	if amount != exp.Amount {
		if amount.Minor <= 0 {
			return nil, fmt.Errorf("%w: %s rounds to zero in %s", ErrInvalidAmount, exp.Amount.Decimal(), cur.Code)
		}
		if amount.Minor != exp.Amount.Minor {
			changed = append(changed, "amount")
		}
		exp.Amount = amount
	}

	rate := exp.FxRate
	if r, ok := patch.FxRate.Get(); ok {
		if !r.IsPositive() {
			return nil, fmt.Errorf("%w: fxRate must be positive", ErrInvalidAmount)
		}
		rate = r
	} else if slices.Contains(changed, "currency") {
		resolved, err := resolveRate(nil, cur, trip.BaseCurrency)
		if err != nil {
			return nil, err
		}
		rate = resolved
	}
	if !rate.Equal(exp.FxRate) {
		exp.FxRate = rate
		changed = append(changed, "fxRate")
	}
	if err := exp.normalize(trip.BaseCurrency); err != nil {
		return nil, err
	}

	if d, ok := patch.Date.Get(); ok && !d.UTC().Equal(exp.Date) {
		exp.Date = d.UTC()
		changed = append(changed, "date")
	}
	if payer, ok := patch.Payer.Get(); ok && payer != exp.Payer {
		exp.Payer = payer
		changed = append(changed, "payer")
	}
	if patch.Category.IsSet() {
		patch.Category.applyPtr(&exp.Category)
		changed = append(changed, "category")
	}
	if patch.Notes.IsSet() {
		patch.Notes.applyPtr(&exp.Notes)
		changed = append(changed, "notes")
	}
	return changed, nil
}

// =============================================================================
// CLOSE / REOPEN
// =============================================================================

// CloseExpense locks the expense. Only the payer or an organizer may close.
// Without force the assigned percentage must be within closeTolerance of 100.
func (l *Ledger) CloseExpense(ctx context.Context, id ExpenseID, actor ParticipantID, force bool) (*Expense, error) {
	var out *Expense
	err := l.op("close_expense", func() error {
		_, role, err := l.expenseRole(ctx, id, actor)
		if err != nil {
			return err
		}
		return l.tx(ctx, func(tx Tx, rec *recorder) error {
			exp, _, err := lockExpense(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := payerOrOrganizer(exp, actor, role); err != nil {
				return err
			}
			if exp.IsClosed() {
				return ErrAlreadyClosed
			}

			assignments, err := tx.Assignments(ctx, exp.ID)
			if err != nil {
				return err
			}
			pct, err := assignedPercentage(exp, assignments)
			if err != nil {
				return err
			}
			if !force && pct.Sub(hundred).Abs().GreaterThan(closeTolerance) {
				return &AssignmentIncompleteError{ExpenseID: exp.ID, Percentage: pct}
			}

			exp.Status = StatusClosed
			exp.UpdatedAt = rec.at
			if err := tx.UpdateExpense(ctx, exp); err != nil {
				return err
			}
			exp.AssignedPercentage = pct
			rec.add(AuditExpenseClosed, actor, exp.TripID, "expense", string(exp.ID), map[string]any{
				"percentage": pct.StringFixed(2),
				"force":      force,
			})
			out = exp
			return nil
		})
	})
	return out, err
}

// ReopenExpense unlocks a closed expense. No percentage check.
func (l *Ledger) ReopenExpense(ctx context.Context, id ExpenseID, actor ParticipantID) (*Expense, error) {
	var out *Expense
	err := l.op("reopen_expense", func() error {
		_, role, err := l.expenseRole(ctx, id, actor)
		if err != nil {
			return err
		}
		return l.tx(ctx, func(tx Tx, rec *recorder) error {
			exp, _, err := lockExpense(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := payerOrOrganizer(exp, actor, role); err != nil {
				return err
			}
			if !exp.IsClosed() {
				return ErrNotClosed
			}
			exp.Status = StatusOpen
			exp.UpdatedAt = rec.at
			if err := tx.UpdateExpense(ctx, exp); err != nil {
				return err
			}
			rec.add(AuditExpenseReopened, actor, exp.TripID, "expense", string(exp.ID), nil)
			out = exp
			return nil
		})
	})
	return out, err
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteExpense soft-deletes an OPEN expense and marks the trip's
// settlements stale.
func (l *Ledger) DeleteExpense(ctx context.Context, id ExpenseID, actor ParticipantID) error {
	return l.op("delete_expense", func() error {
		if _, _, err := l.expenseRole(ctx, id, actor); err != nil {
			return err
		}
		return l.tx(ctx, func(tx Tx, rec *recorder) error {
			exp, _, err := mutableExpense(ctx, tx, id)
			if err != nil {
				return err
			}
			at := rec.at
			exp.DeletedAt = &at
			exp.UpdatedAt = at
			if err := tx.UpdateExpense(ctx, exp); err != nil {
				return err
			}
			if err := tx.MarkSettlementsStale(ctx, exp.TripID); err != nil {
				return err
			}
			rec.add(AuditExpenseDeleted, actor, exp.TripID, "expense", string(exp.ID), map[string]any{
				"normalizedAmount": exp.NormalizedAmount.String(),
			})
			return nil
		})
	})
}

// =============================================================================
// READS
// =============================================================================

// GetExpense returns the expense, its assignments and assignedPercentage.
func (l *Ledger) GetExpense(ctx context.Context, id ExpenseID, actor ParticipantID) (*ExpenseView, error) {
	var out *ExpenseView
	err := l.op("get_expense", func() error {
		if _, _, err := l.expenseRole(ctx, id, actor); err != nil {
			return err
		}
		return l.view(ctx, func(tx Tx) error {
			exp, err := tx.Expense(ctx, id, LockNone)
			if err != nil {
				return err
			}
			assignments, err := tx.Assignments(ctx, id)
			if err != nil {
				return err
			}
			if exp.AssignedPercentage, err = assignedPercentage(exp, assignments); err != nil {
				return err
			}
			out = &ExpenseView{Expense: *exp, Assignments: assignments}
			return nil
		})
	})
	return out, err
}

// ListExpenses returns the trip's live expenses ordered by date, then id.
func (l *Ledger) ListExpenses(ctx context.Context, tripID TripID, actor ParticipantID) ([]Expense, error) {
	var out []Expense
	err := l.op("list_expenses", func() error {
		if _, err := l.tripRole(ctx, tripID, actor, RoleMember); err != nil {
			return err
		}
		return l.view(ctx, func(tx Tx) error {
			expenses, err := tx.ListExpenses(ctx, tripID)
			if err != nil {
				return err
			}
			all, err := tx.AssignmentsByTrip(ctx, tripID)
			if err != nil {
				return err
			}
			byExpense := make(map[ExpenseID][]Assignment)
			for _, a := range all {
				byExpense[a.ExpenseID] = append(byExpense[a.ExpenseID], a)
			}
			for i := range expenses {
				pct, err := assignedPercentage(&expenses[i], byExpense[expenses[i].ID])
				if err != nil {
					return err
				}
				expenses[i].AssignedPercentage = pct
			}
			out = expenses
			return nil
		})
	})
	return out, err
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) currency(code string) (money.Currency, error) {
	c, err := money.Lookup(l.currencies, code)
	if err != nil {
		return money.Currency{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return c, nil
}

// resolveRate validates an explicit rate or defaults it to 1 when the
// expense is already in the base currency.
func resolveRate(rate *decimal.Decimal, cur, base money.Currency) (decimal.Decimal, error) {
	if rate == nil {
		if cur != base {
			return decimal.Zero, fmt.Errorf("%w: fxRate is required for %s expenses in a %s trip",
				ErrInvalidInput, cur.Code, base.Code)
		}
		return one, nil
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: fxRate must be positive, got %s", ErrInvalidAmount, rate)
	}
	return *rate, nil
}

// positiveAmount converts d to Money and requires it to be > 0 after rounding.
func positiveAmount(d decimal.Decimal, cur money.Currency) (money.Money, error) {
	m, err := money.FromDecimal(d, cur)
	if err != nil {
		return money.Money{}, moneyErr(err)
	}
	if !m.IsPositive() {
		return money.Money{}, fmt.Errorf("%w: amount must be positive, got %s %s", ErrInvalidAmount, d, cur.Code)
	}
	return m, nil
}

func payerOrOrganizer(exp *Expense, actor ParticipantID, role Role) error {
	if exp.Payer == actor || role.AtLeast(RoleOrganizer) {
		return nil
	}
	return fmt.Errorf("%w: only the payer or an organizer can change the status of expense %s", ErrForbidden, exp.ID)
}
