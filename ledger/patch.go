package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Optional is a patch field with three states: unset (leave alone),
// set to a value, or set to null (clear a nullable attribute).
type Optional[T any] struct {
	set   bool
	null  bool
	value T
}

// Set returns an Optional holding v.
func Set[T any](v T) Optional[T] { return Optional[T]{set: true, value: v} }

// Null returns an Optional that clears the field.
func Null[T any]() Optional[T] { return Optional[T]{set: true, null: true} }

func (o Optional[T]) IsSet() bool  { return o.set }
func (o Optional[T]) IsNull() bool { return o.set && o.null }

// Get returns the value and whether a non-null value was provided.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set && !o.null
}

// applyPtr overwrites a nullable field, clearing it on Null.
func (o Optional[T]) applyPtr(dst **T) {
	switch {
	case !o.set:
	case o.null:
		*dst = nil
	default:
		v := o.value
		*dst = &v
	}
}

// ExpensePatch is a partial update. Only Category and Notes are nullable.
type ExpensePatch struct {
	Description Optional[string]
	Amount      Optional[decimal.Decimal]
	Currency    Optional[string]
	FxRate      Optional[decimal.Decimal]
	Date        Optional[time.Time]
	Payer       Optional[ParticipantID]
	Category    Optional[string]
	Notes       Optional[string]
}

// Empty reports whether the patch changes nothing.
func (p ExpensePatch) Empty() bool {
	return !p.Description.IsSet() && !p.Amount.IsSet() && !p.Currency.IsSet() &&
		!p.FxRate.IsSet() && !p.Date.IsSet() && !p.Payer.IsSet() &&
		!p.Category.IsSet() && !p.Notes.IsSet()
}

func (p ExpensePatch) nullsRequired() bool {
	return p.Description.IsNull() || p.Amount.IsNull() || p.Currency.IsNull() ||
		p.FxRate.IsNull() || p.Date.IsNull() || p.Payer.IsNull()
}
