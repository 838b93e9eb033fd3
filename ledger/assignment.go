/*
assignment.go - Assignment engine

PURPOSE:
  Apportions an expense across participants and maintains the assigned
  percentage:

    assignedPercentage = 100 × Σ NormalizedShareAmount / NormalizedAmount

REPLACE-ALL (SetAssignments):
  The submitted set is partitioned against the stored rows:

    continuing  stored and submitted  -> stored row kept as-is
    new         submitted only        -> priced and inserted
    removed     stored only           -> deleted

  Continuing participants keep their stored amounts; a repeated identical
  submission is a no-op. On a CLOSED expense only an unchanged participant
  set is accepted (and nothing is written).

SINGLE-ROW (AddOrUpdateAssignment, RemoveAssignment):
  Never allowed on a CLOSED expense. The payer may edit any row, a
  participant only their own.

INVARIANTS:
  - At most one row per (expense, participant)
  - Σ ShareAmount ≤ Amount
  - NormalizedShareAmount = round_half_even(ShareAmount × FxRate)

SEE ALSO:
  - split.go: Share pricing per split type
*/
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/spend-ledger/money"
)

// =============================================================================
// REPLACE-ALL
// =============================================================================

// SetAssignments replaces the expense's assignment set atomically and
// returns the resulting set with its assigned percentage. Requires the
// payer or an organizer.
func (l *Ledger) SetAssignments(ctx context.Context, expenseID ExpenseID, actor ParticipantID, inputs []AssignmentInput) ([]Assignment, decimal.Decimal, error) {
	var (
		out []Assignment
		pct decimal.Decimal
	)
	err := l.op("set_assignments", func() error {
		tripID, role, err := l.expenseRole(ctx, expenseID, actor)
		if err != nil {
			return err
		}
		if err := l.requireParticipants(ctx, tripID, inputs...); err != nil {
			return err
		}

		return l.tx(ctx, func(tx Tx, rec *recorder) error {
			exp, trip, err := lockExpense(ctx, tx, expenseID)
			if err != nil {
				return err
			}
			if exp.Payer != actor && !role.AtLeast(RoleOrganizer) {
				return fmt.Errorf("%w: only the payer or an organizer can replace assignments", ErrForbidden)
			}
			submitted, err := indexInputs(inputs)
			if err != nil {
				return err
			}

			existing, err := tx.Assignments(ctx, exp.ID)
			if err != nil {
				return err
			}
			stored := make(map[ParticipantID]Assignment, len(existing))
			for _, a := range existing {
				stored[a.Participant] = a
			}

			var continuing, removed []Assignment
			var entrants []AssignmentInput
			for _, a := range existing {
				if _, ok := submitted[a.Participant]; ok {
					continuing = append(continuing, a)
				} else {
					removed = append(removed, a)
				}
			}
			for _, in := range inputs {
				if _, ok := stored[in.Participant]; !ok {
					entrants = append(entrants, in)
				}
			}

			if exp.IsClosed() {
				if len(entrants) > 0 || len(removed) > 0 {
					return ErrPeopleChangeOnClosedExpense
				}
				out = existing
				pct, err = assignedPercentage(exp, existing)
				return err
			}

			for _, a := range removed {
				if err := tx.DeleteAssignment(ctx, a.ID); err != nil {
					return err
				}
			}

			fixed, err := sumShares(exp.Currency(), continuing)
			if err != nil {
				return err
			}
			basis := decimal.Zero
			for _, in := range inputs {
				if in.SplitType == SplitShares {
					basis = basis.Add(*in.SplitValue)
				}
			}
			shares, err := priceShares(exp.Amount, fixed, entrants, basis)
			if err != nil {
				return err
			}
			if err := checkAllocation(exp, fixed, shares); err != nil {
				return err
			}
			for _, in := range entrants {
				a, err := l.newAssignment(exp, trip, in, shares[in.Participant], rec)
				if err != nil {
					return err
				}
				if err := tx.InsertAssignment(ctx, a); err != nil {
					return err
				}
			}

			if len(entrants) > 0 || len(removed) > 0 {
				if err := tx.MarkSettlementsStale(ctx, exp.TripID); err != nil {
					return err
				}
			}
			if out, err = tx.Assignments(ctx, exp.ID); err != nil {
				return err
			}
			if pct, err = assignedPercentage(exp, out); err != nil {
				return err
			}
			rec.add(AuditAssignmentsSet, actor, exp.TripID, "expense", string(exp.ID), map[string]any{
				"added":      len(entrants),
				"removed":    len(removed),
				"kept":       len(continuing),
				"percentage": pct.StringFixed(2),
			})
			return nil
		})
	})
	return out, pct, err
}

// =============================================================================
// SINGLE-ROW
// =============================================================================

// AddOrUpdateAssignment inserts or re-prices one participant's row.
func (l *Ledger) AddOrUpdateAssignment(ctx context.Context, expenseID ExpenseID, actor ParticipantID, in AssignmentInput) (*Assignment, error) {
	var out *Assignment
	err := l.op("upsert_assignment", func() error {
		tripID, _, err := l.expenseRole(ctx, expenseID, actor)
		if err != nil {
			return err
		}
		if err := l.requireParticipants(ctx, tripID, in); err != nil {
			return err
		}

		return l.tx(ctx, func(tx Tx, rec *recorder) error {
			exp, trip, err := mutableExpense(ctx, tx, expenseID)
			if err != nil {
				return err
			}
			if err := payerOrSelf(exp, actor, in.Participant); err != nil {
				return err
			}
			if err := in.validate(); err != nil {
				return err
			}

			existing, err := tx.Assignments(ctx, exp.ID)
			if err != nil {
				return err
			}
			var current *Assignment
			var others []Assignment
			basis := decimal.Zero
			for i, a := range existing {
				if a.Participant == in.Participant {
					current = &existing[i]
					continue
				}
				others = append(others, a)
				if a.SplitType == SplitShares && a.SplitValue != nil {
					basis = basis.Add(*a.SplitValue)
				}
			}
			if in.SplitType == SplitShares {
				basis = basis.Add(*in.SplitValue)
			}

			fixed, err := sumShares(exp.Currency(), others)
			if err != nil {
				return err
			}
			shares, err := priceShares(exp.Amount, fixed, []AssignmentInput{in}, basis)
			if err != nil {
				return err
			}
			if err := checkAllocation(exp, fixed, shares); err != nil {
				return err
			}

			share := shares[in.Participant]
			normalized, err := normalizeShare(share, exp, trip)
			if err != nil {
				return err
			}
			if current == nil {
				if out, err = l.newAssignment(exp, trip, in, share, rec); err != nil {
					return err
				}
				err = tx.InsertAssignment(ctx, out)
			} else {
				current.ShareAmount = share
				current.NormalizedShareAmount = normalized
				current.SplitType = in.SplitType
				current.SplitValue = in.storedValue()
				current.UpdatedAt = rec.at
				out = current
				err = tx.UpdateAssignment(ctx, out)
			}
			if err != nil {
				return err
			}
			if err := tx.MarkSettlementsStale(ctx, exp.TripID); err != nil {
				return err
			}
			rec.add(AuditAssignmentUpserted, actor, exp.TripID, "assignment", string(out.ID), map[string]any{
				"expenseId":   string(exp.ID),
				"participant": string(in.Participant),
				"splitType":   string(in.SplitType),
				"shareAmount": share.String(),
			})
			return nil
		})
	})
	return out, err
}

// RemoveAssignment deletes one participant's row.
func (l *Ledger) RemoveAssignment(ctx context.Context, expenseID ExpenseID, actor, participant ParticipantID) error {
	return l.op("remove_assignment", func() error {
		if _, _, err := l.expenseRole(ctx, expenseID, actor); err != nil {
			return err
		}
		return l.tx(ctx, func(tx Tx, rec *recorder) error {
			exp, _, err := mutableExpense(ctx, tx, expenseID)
			if err != nil {
				return err
			}
			if err := payerOrSelf(exp, actor, participant); err != nil {
				return err
			}
			existing, err := tx.Assignments(ctx, exp.ID)
			if err != nil {
				return err
			}
			for _, a := range existing {
				if a.Participant != participant {
					continue
				}
				if err := tx.DeleteAssignment(ctx, a.ID); err != nil {
					return err
				}
				if err := tx.MarkSettlementsStale(ctx, exp.TripID); err != nil {
					return err
				}
				rec.add(AuditAssignmentRemoved, actor, exp.TripID, "assignment", string(a.ID), map[string]any{
					"expenseId":   string(exp.ID),
					"participant": string(participant),
				})
				return nil
			}
			return notFound("assignment for participant", participant)
		})
	})
}

// =============================================================================
// PERCENTAGE
// =============================================================================

// ComputeAssignedPercentage returns 100 × Σ normalized shares / normalized
// amount, or 0 for a zero normalized amount.
func (l *Ledger) ComputeAssignedPercentage(ctx context.Context, expenseID ExpenseID, actor ParticipantID) (decimal.Decimal, error) {
	var pct decimal.Decimal
	err := l.op("assigned_percentage", func() error {
		if _, _, err := l.expenseRole(ctx, expenseID, actor); err != nil {
			return err
		}
		return l.view(ctx, func(tx Tx) error {
			exp, err := tx.Expense(ctx, expenseID, LockNone)
			if err != nil {
				return err
			}
			assignments, err := tx.Assignments(ctx, expenseID)
			if err != nil {
				return err
			}
			pct, err = assignedPercentage(exp, assignments)
			return err
		})
	})
	return pct, err
}

func assignedPercentage(exp *Expense, assignments []Assignment) (decimal.Decimal, error) {
	base := exp.NormalizedAmount.Currency
	total := money.Zero(base)
	for _, a := range assignments {
		var err error
		if total, err = total.Add(a.NormalizedShareAmount); err != nil {
			return decimal.Zero, moneyErr(err)
		}
	}
	pct, err := total.PercentageOf(exp.NormalizedAmount)
	return pct, moneyErr(err)
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) newAssignment(exp *Expense, trip *Trip, in AssignmentInput, share money.Money, rec *recorder) (*Assignment, error) {
	normalized, err := normalizeShare(share, exp, trip)
	if err != nil {
		return nil, err
	}
	return &Assignment{
		ID:                    AssignmentID(l.newID()),
		ExpenseID:             exp.ID,
		Participant:           in.Participant,
		ShareAmount:           share,
		NormalizedShareAmount: normalized,
		SplitType:             in.SplitType,
		SplitValue:            in.storedValue(),
		CreatedAt:             rec.at,
		UpdatedAt:             rec.at,
	}, nil
}

// normalizeShare converts a share into the trip base currency at the
// expense rate.
func normalizeShare(share money.Money, exp *Expense, trip *Trip) (money.Money, error) {
	n, err := share.Normalize(exp.FxRate, trip.BaseCurrency)
	if err != nil {
		return money.Money{}, moneyErr(err)
	}
	return n, nil
}

// requireParticipants checks every submitted participant is a trip member.
func (l *Ledger) requireParticipants(ctx context.Context, tripID TripID, inputs ...AssignmentInput) error {
	for _, in := range inputs {
		if in.Participant == "" {
			continue
		}
		if _, err := l.authz.RoleOf(ctx, tripID, in.Participant); err != nil {
			if errors.Is(err, ErrForbidden) {
				return fmt.Errorf("%w: %s is not a member of trip %s", ErrInvalidInput, in.Participant, tripID)
			}
			return err
		}
	}
	return nil
}

// indexInputs validates a replace-all submission.
func indexInputs(inputs []AssignmentInput) (map[ParticipantID]AssignmentInput, error) {
	out := make(map[ParticipantID]AssignmentInput, len(inputs))
	for _, in := range inputs {
		if err := in.validate(); err != nil {
			return nil, err
		}
		if _, dup := out[in.Participant]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParticipant, in.Participant)
		}
		out[in.Participant] = in
	}
	return out, nil
}

// checkAllocation rejects share sets that exceed the expense amount.
func checkAllocation(exp *Expense, fixed money.Money, shares map[ParticipantID]money.Money) error {
	total := fixed
	for _, s := range shares {
		var err error
		if total, err = total.Add(s); err != nil {
			return moneyErr(err)
		}
	}
	if total.Minor > exp.Amount.Minor {
		return fmt.Errorf("%w: shares total %s exceeds expense amount %s",
			ErrInvalidAmount, total, exp.Amount)
	}
	return nil
}

func sumShares(cur money.Currency, assignments []Assignment) (money.Money, error) {
	total := money.Zero(cur)
	for _, a := range assignments {
		var err error
		if total, err = total.Add(a.ShareAmount); err != nil {
			return money.Money{}, moneyErr(err)
		}
	}
	return total, nil
}

func payerOrSelf(exp *Expense, actor, participant ParticipantID) error {
	if actor == exp.Payer || actor == participant {
		return nil
	}
	return fmt.Errorf("%w: only the payer or %s can change this assignment", ErrForbidden, participant)
}
