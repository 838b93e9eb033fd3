/*
settlement.go - Settlement ledger and payments

PURPOSE:
  Persists the calculator's transfers as settlements and records manual
  payments against them.

RECONCILIATION (RecordSettlements):
  Settlements are reconciled per unordered participant pair {a, b}:

    desired  = net flow a->b from the current transfers
    frozen   = net flow a->b of settlements that have payments
    residual = desired - frozen

  A settlement with any payment is frozen: its Amount never changes again.
  The residual becomes the pair's single unpaid settlement (created,
  adjusted or reversed as needed). An unpaid settlement that is no longer
  needed is soft-deleted. Every surviving settlement is marked fresh.

  Example:
    A owes B 50, B pays nothing yet, A pays 30 (frozen at 50).
    An expense edit now says A owes B 40.
    -> frozen 50 stays, a new unpaid settlement B->A 10 appears.

PAYMENTS (RecordPayment):
  The settlement row is locked for the whole check-then-insert, so
  concurrent payments serialize and Remaining never goes negative.
  Overpayment is rejected, never clamped.

SEE ALSO:
  - balance.go: Transfers being reconciled
*/
package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/spend-ledger/money"
)

// RecordPaymentParams describes one manual payment. Currency defaults to
// the settlement currency.
type RecordPaymentParams struct {
	SettlementID SettlementID
	Actor        ParticipantID
	Amount       decimal.Decimal
	Currency     string
	PaidAt       time.Time
	Method       *string
	Reference    *string
	Notes        *string
}

// SettlementView is a settlement with its payments, oldest first.
type SettlementView struct {
	Settlement Settlement
	Payments   []Payment
}

type pairKey struct{ lo, hi ParticipantID }

func keyOf(a, b ParticipantID) pairKey {
	if a < b {
		return pairKey{a, b}
	}
	return pairKey{b, a}
}

// flow returns amount signed as a flow lo->hi.
func (k pairKey) flow(from ParticipantID, amount int64) int64 {
	if from == k.lo {
		return amount
	}
	return -amount
}

// =============================================================================
// RECORD SETTLEMENTS
// =============================================================================

// RecordSettlements reconciles the trip's stored settlements with its
// current balances and returns the active settlements.
func (l *Ledger) RecordSettlements(ctx context.Context, tripID TripID, actor ParticipantID) ([]Settlement, error) {
	var out []Settlement
	err := l.op("record_settlements", func() error {
		if _, err := l.tripRole(ctx, tripID, actor, RoleMember); err != nil {
			return err
		}
		return l.tx(ctx, func(tx Tx, rec *recorder) error {
			// Serializes reconciliation per trip.
			if _, err := tx.Trip(ctx, tripID, LockUpdate); err != nil {
				return err
			}
			r, err := report(ctx, tx, tripID)
			if err != nil {
				return err
			}
			existing, err := tx.Settlements(ctx, tripID, LockUpdate)
			if err != nil {
				return err
			}

			desired := make(map[pairKey]int64)
			for _, t := range r.Transfers {
				k := keyOf(t.From, t.To)
				desired[k] += k.flow(t.From, t.Amount.Minor)
			}
			frozen := make(map[pairKey]int64)
			unpaid := make(map[pairKey][]*Settlement)
			var keys []pairKey
			seen := make(map[pairKey]bool)
			addKey := func(k pairKey) {
				if !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
			for k := range desired {
				addKey(k)
			}
			for i := range existing {
				s := &existing[i]
				k := keyOf(s.FromUser, s.ToUser)
				addKey(k)
				if s.HasPayments() {
					frozen[k] += k.flow(s.FromUser, s.Amount.Minor)
					if s.Stale {
						s.Stale = false
						s.UpdatedAt = rec.at
						if err := tx.UpdateSettlement(ctx, s); err != nil {
							return err
						}
					}
					continue
				}
				unpaid[k] = append(unpaid[k], s)
			}
			slices.SortFunc(keys, func(a, b pairKey) int {
				if c := cmp.Compare(a.lo, b.lo); c != 0 {
					return c
				}
				return cmp.Compare(a.hi, b.hi)
			})

			var created, adjusted, removed int
			for _, k := range keys {
				residual := desired[k] - frozen[k]
				from, to, amount := k.lo, k.hi, residual
				if residual < 0 {
					from, to, amount = k.hi, k.lo, -residual
				}

				var keep *Settlement
				for _, s := range unpaid[k] {
					if keep == nil && amount > 0 && s.FromUser == from {
						keep = s
						continue
					}
					at := rec.at
					s.DeletedAt = &at
					s.UpdatedAt = at
					if err := tx.UpdateSettlement(ctx, s); err != nil {
						return err
					}
					removed++
				}
				if amount == 0 {
					continue
				}

				want := money.New(amount, r.BaseCurrency)
				if keep != nil {
					if keep.Amount != want || keep.Stale {
						keep.Amount = want
						keep.Stale = false
						keep.refreshStatus()
						keep.UpdatedAt = rec.at
						if err := tx.UpdateSettlement(ctx, keep); err != nil {
							return err
						}
						adjusted++
					}
					continue
				}
				s := &Settlement{
					ID:        SettlementID(l.newID()),
					TripID:    tripID,
					FromUser:  from,
					ToUser:    to,
					Amount:    want,
					TotalPaid: money.Zero(r.BaseCurrency),
					Status:    SettlementPending,
					CreatedAt: rec.at,
					UpdatedAt: rec.at,
				}
				if err := tx.InsertSettlement(ctx, s); err != nil {
					return err
				}
				created++
			}

			if out, err = tx.Settlements(ctx, tripID, LockNone); err != nil {
				return err
			}
			rec.add(AuditSettlementRecorded, actor, tripID, "trip", string(tripID), map[string]any{
				"transfers": len(r.Transfers),
				"created":   created,
				"adjusted":  adjusted,
				"removed":   removed,
			})
			return nil
		})
	})
	return out, err
}

// =============================================================================
// RECORD PAYMENT
// =============================================================================

// RecordPayment records a payment against a settlement. Only the creditor
// (ToUser) or an organizer may record.
func (l *Ledger) RecordPayment(ctx context.Context, p RecordPaymentParams) (*Payment, *Settlement, error) {
	var (
		payment    *Payment
		settlement *Settlement
	)
	err := l.op("record_payment", func() error {
		_, role, err := l.settlementRole(ctx, p.SettlementID, p.Actor)
		if err != nil {
			return err
		}
		return l.tx(ctx, func(tx Tx, rec *recorder) error {
			s, err := tx.Settlement(ctx, p.SettlementID, LockUpdate)
			if err != nil {
				return err
			}
			if p.Actor != s.ToUser && !role.AtLeast(RoleOrganizer) {
				return fmt.Errorf("%w: only %s or an organizer can record payments on settlement %s",
					ErrForbidden, s.ToUser, s.ID)
			}

			cur := s.Amount.Currency
			if p.Currency != "" {
				c, err := l.currency(p.Currency)
				if err != nil {
					return err
				}
				if c != cur {
					return fmt.Errorf("%w: settlement is in %s, payment in %s", ErrCurrencyMismatch, cur.Code, c.Code)
				}
			}
			amount, err := money.FromDecimal(p.Amount, cur)
			if err != nil {
				return moneyErr(err)
			}
			if !amount.IsPositive() {
				return fmt.Errorf("%w: payment must be positive, got %s", ErrInvalidAmount, p.Amount)
			}
			remaining := s.Remaining()
			if amount.Minor > remaining.Minor {
				return &OverPaymentError{SettlementID: s.ID, Requested: amount, Remaining: remaining}
			}

			paidAt := p.PaidAt
			if paidAt.IsZero() {
				paidAt = rec.at
			}
			payment = &Payment{
				ID:           PaymentID(l.newID()),
				SettlementID: s.ID,
				Amount:       amount,
				PaidAt:       paidAt.UTC(),
				Method:       p.Method,
				Reference:    p.Reference,
				Notes:        p.Notes,
				RecordedBy:   p.Actor,
				CreatedAt:    rec.at,
			}
			if err := tx.InsertPayment(ctx, payment); err != nil {
				return err
			}

			s.TotalPaid.Minor += amount.Minor
			s.refreshStatus()
			s.UpdatedAt = rec.at
			if err := tx.UpdateSettlement(ctx, s); err != nil {
				return err
			}
			rec.add(AuditPaymentRecorded, p.Actor, s.TripID, "settlement", string(s.ID), map[string]any{
				"paymentId": string(payment.ID),
				"amount":    amount.String(),
				"remaining": s.Remaining().String(),
				"status":    string(s.Status),
			})
			settlement = s
			return nil
		})
	})
	return payment, settlement, err
}

// =============================================================================
// READS
// =============================================================================

func (l *Ledger) GetSettlement(ctx context.Context, id SettlementID, actor ParticipantID) (*SettlementView, error) {
	var out *SettlementView
	err := l.op("get_settlement", func() error {
		if _, _, err := l.settlementRole(ctx, id, actor); err != nil {
			return err
		}
		return l.view(ctx, func(tx Tx) error {
			s, err := tx.Settlement(ctx, id, LockNone)
			if err != nil {
				return err
			}
			payments, err := tx.Payments(ctx, id)
			if err != nil {
				return err
			}
			out = &SettlementView{Settlement: *s, Payments: payments}
			return nil
		})
	})
	return out, err
}

func (l *Ledger) ListSettlements(ctx context.Context, tripID TripID, actor ParticipantID) ([]Settlement, error) {
	var out []Settlement
	err := l.op("list_settlements", func() error {
		if _, err := l.tripRole(ctx, tripID, actor, RoleMember); err != nil {
			return err
		}
		return l.view(ctx, func(tx Tx) error {
			var err error
			out, err = tx.Settlements(ctx, tripID, LockNone)
			return err
		})
	})
	return out, err
}
