/*
errors.go - Error taxonomy for the ledger

PURPOSE:
  Every expected domain outcome has a sentinel, so callers classify with
  errors.Is and never by message text. Structured errors carry extra
  context and Unwrap to their sentinel.

ERROR CATEGORIES:
  1. Domain outcomes - NotFound, Forbidden, lock violations, validation
  2. Infrastructure  - ErrTransient (busy store, serialization failure)

  Only reads are retried on ErrTransient. Mutations are never retried
  inside the ledger; the caller re-drives the request.

SEE ALSO:
  - store/sqlstore: Maps driver errors onto ErrTransient / ErrDuplicateParticipant
  - api/errors.go:  Maps kinds onto HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/spend-ledger/money"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound                    = errors.New("not found")
	ErrForbidden                   = errors.New("forbidden")
	ErrTripSpendClosed             = errors.New("trip spend is closed")
	ErrExpenseClosed               = errors.New("expense is closed")
	ErrAlreadyClosed               = errors.New("expense already closed")
	ErrNotClosed                   = errors.New("expense is not closed")
	ErrAssignmentIncomplete        = errors.New("assignment incomplete")
	ErrPeopleChangeOnClosedExpense = errors.New("cannot change participants of a closed expense")
	ErrCurrencyMismatch            = errors.New("currency mismatch")
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrOverPayment                 = errors.New("payment exceeds remaining amount")
	ErrDuplicateParticipant        = errors.New("duplicate participant")

	// ErrInvalidInput covers malformed requests that are not amount problems
	// (empty description, unknown split type, unknown currency).
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransient marks store failures that may succeed on retry.
	ErrTransient = errors.New("transient store failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AssignmentIncompleteError reports the percentage that blocked a close.
type AssignmentIncompleteError struct {
	ExpenseID  ExpenseID
	Percentage decimal.Decimal
}

func (e *AssignmentIncompleteError) Error() string {
	return fmt.Sprintf("assignment incomplete: expense %s is %s%% assigned",
		e.ExpenseID, e.Percentage.StringFixed(2))
}

func (e *AssignmentIncompleteError) Unwrap() error { return ErrAssignmentIncomplete }

// OverPaymentError reports how much could still be paid.
type OverPaymentError struct {
	SettlementID SettlementID
	Requested    money.Money
	Remaining    money.Money
}

func (e *OverPaymentError) Error() string {
	return fmt.Sprintf("payment of %s exceeds remaining %s on settlement %s",
		e.Requested, e.Remaining, e.SettlementID)
}

func (e *OverPaymentError) Unwrap() error { return ErrOverPayment }

// notFound wraps ErrNotFound with the entity kind and id.
func notFound(kind string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, kind, id)
}

// moneyErr lifts money package errors into the ledger taxonomy.
func moneyErr(err error) error {
	switch {
	case errors.Is(err, money.ErrCurrencyMismatch) && !errors.Is(err, ErrCurrencyMismatch):
		return fmt.Errorf("%w: %v", ErrCurrencyMismatch, err)
	case errors.Is(err, money.ErrInvalidAmount) && !errors.Is(err, ErrInvalidAmount):
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotFound, "NotFound"},
	{ErrForbidden, "Forbidden"},
	{ErrTripSpendClosed, "TripSpendClosed"},
	{ErrExpenseClosed, "ExpenseClosed"},
	{ErrAlreadyClosed, "AlreadyClosed"},
	{ErrNotClosed, "NotClosed"},
	{ErrAssignmentIncomplete, "AssignmentIncomplete"},
	{ErrPeopleChangeOnClosedExpense, "PeopleChangeOnClosedExpense"},
	{ErrCurrencyMismatch, "CurrencyMismatch"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrOverPayment, "OverPayment"},
	{ErrDuplicateParticipant, "DuplicateParticipant"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrTransient, "Transient"},
}

// Kind returns the stable name of err's category, "" for nil and
// "Internal" for anything unclassified.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsDomainError returns true for expected outcomes (anything but
// infrastructure failures).
func IsDomainError(err error) bool {
	k := Kind(err)
	return k != "" && k != "Internal" && k != "Transient"
}
