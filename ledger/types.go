/*
Package ledger is the trip spend/settlement ledger.

PURPOSE:
  Records shared trip expenses, apportions them across participants
  (possibly in a currency other than the trip's base currency), locks them
  once allocation is final, and reconciles everything into pairwise
  settlements and manually recorded payments.

KEY CONCEPTS IN THIS FILE (types.go):
  - Trip:       Base currency + trip-wide spend lock
  - Expense:    One purchase, OPEN or CLOSED, soft-deletable
  - Assignment: One participant's share of one expense
  - Settlement: "debtor owes creditor X" in base currency
  - Payment:    One recorded (partial) discharge of a settlement

LOCKING:
  Two independent two-state machines:

    Trip.SpendStatus   OPEN <-> CLOSED   (organizer only, unconditional)
    Expense.Status     OPEN <-> CLOSED   (close requires ~100% assigned)

  An expense is mutable only when both are OPEN.

SEE ALSO:
  - store.go:      Unit-of-work interfaces implemented by store/sqlstore
  - expense.go:    Expense lifecycle
  - assignment.go: Assignment engine
  - balance.go:    Settlement calculator (pure)
  - settlement.go: Settlement ledger and payments
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/spend-ledger/money"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TripID string
type ExpenseID string
type AssignmentID string
type SettlementID string
type PaymentID string

// ParticipantID identifies a trip member. Actors are participants too.
type ParticipantID string

// =============================================================================
// STATUS
// =============================================================================

// Status is the OPEN/CLOSED flag shared by trips (spend status) and expenses.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

type SettlementStatus string

const (
	SettlementPending       SettlementStatus = "PENDING"
	SettlementPartiallyPaid SettlementStatus = "PARTIALLY_PAID"
	SettlementPaid          SettlementStatus = "PAID"
)

type SplitType string

const (
	SplitEqual      SplitType = "EQUAL"
	SplitExact      SplitType = "EXACT"
	SplitPercentage SplitType = "PERCENTAGE"
	SplitShares     SplitType = "SHARES"
)

func (s SplitType) Valid() bool {
	switch s {
	case SplitEqual, SplitExact, SplitPercentage, SplitShares:
		return true
	}
	return false
}

// =============================================================================
// TRIP
// =============================================================================

type Trip struct {
	ID            TripID
	Name          string
	BaseCurrency  money.Currency
	SpendStatus   Status
	SpendClosedAt *time.Time
	SpendClosedBy ParticipantID
	CreatedAt     time.Time
}

// =============================================================================
// EXPENSE
// =============================================================================

type Expense struct {
	ID               ExpenseID
	TripID           TripID
	Description      string
	Amount           money.Money     // in the expense currency
	FxRate           decimal.Decimal // Amount × FxRate = amount in trip base currency
	NormalizedAmount money.Money     // in the trip base currency
	Date             time.Time
	Status           Status
	Payer            ParticipantID
	Category         *string
	Notes            *string
	CreatedBy        ParticipantID
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time

	// AssignedPercentage is computed on read; it is never stored.
	AssignedPercentage decimal.Decimal
}

// Currency is the currency the expense was paid in.
func (e *Expense) Currency() money.Currency { return e.Amount.Currency }

func (e *Expense) IsClosed() bool { return e.Status == StatusClosed }

// normalize recomputes NormalizedAmount. Must follow every Amount/FxRate change.
func (e *Expense) normalize(base money.Currency) error {
	n, err := e.Amount.Normalize(e.FxRate, base)
	if err != nil {
		return fmt.Errorf("normalized amount: %w", moneyErr(err))
	}
	e.NormalizedAmount = n
	return nil
}

// =============================================================================
// ASSIGNMENT
// =============================================================================

type Assignment struct {
	ID                    AssignmentID
	ExpenseID             ExpenseID
	Participant           ParticipantID
	ShareAmount           money.Money // expense currency
	NormalizedShareAmount money.Money // trip base currency
	SplitType             SplitType
	SplitValue            *decimal.Decimal // percentage or share count that produced ShareAmount
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// =============================================================================
// SETTLEMENT + PAYMENT
// =============================================================================

type Settlement struct {
	ID        SettlementID
	TripID    TripID
	FromUser  ParticipantID // debtor
	ToUser    ParticipantID // creditor
	Amount    money.Money
	TotalPaid money.Money
	Status    SettlementStatus

	// Stale is set when an expense the settlement was computed from changes.
	// Cleared by the next RecordSettlements.
	Stale bool

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Remaining is max(0, Amount - TotalPaid).
func (s *Settlement) Remaining() money.Money {
	r := s.Amount.Minor - s.TotalPaid.Minor
	if r < 0 {
		r = 0
	}
	return money.New(r, s.Amount.Currency)
}

// HasPayments reports whether the amount is frozen.
func (s *Settlement) HasPayments() bool { return s.TotalPaid.Minor > 0 }

// refreshStatus derives Status from Amount and TotalPaid.
func (s *Settlement) refreshStatus() {
	switch {
	case s.Remaining().IsZero():
		s.Status = SettlementPaid
	case s.TotalPaid.Minor > 0:
		s.Status = SettlementPartiallyPaid
	default:
		s.Status = SettlementPending
	}
}

type Payment struct {
	ID           PaymentID
	SettlementID SettlementID
	Amount       money.Money
	PaidAt       time.Time
	Method       *string
	Reference    *string
	Notes        *string
	RecordedBy   ParticipantID
	CreatedAt    time.Time
	DeletedAt    *time.Time
}
