/*
Package money provides a fixed-point currency amount.

PURPOSE:
  Every stored monetary value in the ledger is an integer count of minor
  units (cents, pence, yen) tagged with its currency. Decimal strings only
  appear at the edges (parsing input, rendering output). Binary floating
  point is never used for amounts.

ROUNDING:
  All rounding is half-to-even (banker's rounding) at the minor-unit
  exponent of the target currency:

    0.125 GBP -> 0.12
    0.135 GBP -> 0.14
    2.5   JPY -> 2

  The rule is pinned here rather than inherited from decimal defaults.

CURRENCY SAFETY:
  Add/Sub/Cmp between different currencies fail with ErrCurrencyMismatch.
  Crossing currencies is only possible through Normalize, which takes an
  explicit exchange rate.

SEE ALSO:
  - currency.go: Currency metadata (minor-unit exponents)
  - ledger/split.go: Share computation built on Allocate
*/
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrCurrencyMismatch is returned when combining amounts of different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidAmount is returned for unparseable amounts or bad allocation input.
	ErrInvalidAmount = errors.New("invalid amount")
)

var (
	hundred  = decimal.NewFromInt(100)
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Money is an amount in minor units of Currency.
type Money struct {
	Minor    int64
	Currency Currency
}

// New returns minor units of c.
func New(minor int64, c Currency) Money {
	return Money{Minor: minor, Currency: c}
}

// Zero returns a zero amount in c.
func Zero(c Currency) Money {
	return Money{Currency: c}
}

// Parse reads a decimal string ("33.34", "1200") in currency c.
// Extra precision is rounded half-to-even to the currency exponent.
func Parse(s string, c Currency) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d, c)
}

// FromDecimal converts a major-unit decimal to Money, rounding half-to-even.
// Values whose minor-unit count does not fit in an int64 fail with
// ErrInvalidAmount.
func FromDecimal(d decimal.Decimal, c Currency) (Money, error) {
	exp := int32(c.Exponent)
	minor := d.RoundBank(exp).Shift(exp)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return Money{}, fmt.Errorf("%w: %s %s is out of range", ErrInvalidAmount, d, c.Code)
	}
	return Money{Minor: minor.IntPart(), Currency: c}, nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Minor, -int32(m.Currency.Exponent))
}

// String renders the amount with exactly Exponent fractional digits.
func (m Money) String() string {
	return m.Decimal().StringFixed(int32(m.Currency.Exponent))
}

func (m Money) IsZero() bool     { return m.Minor == 0 }
func (m Money) IsPositive() bool { return m.Minor > 0 }
func (m Money) IsNegative() bool { return m.Minor < 0 }
func (m Money) Neg() Money       { return Money{Minor: -m.Minor, Currency: m.Currency} }

// SameCurrency reports whether m and o can be combined.
func (m Money) SameCurrency(o Money) bool {
	return m.Currency == o.Currency
}

func (m Money) check(o Money) error {
	if !m.SameCurrency(o) {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency.Code, o.Currency.Code)
	}
	return nil
}

// Add returns m + o. A result outside the int64 range fails with
// ErrInvalidAmount.
func (m Money) Add(o Money) (Money, error) {
	if err := m.check(o); err != nil {
		return Money{}, err
	}
	sum := m.Minor + o.Minor
	if (o.Minor > 0 && sum < m.Minor) || (o.Minor < 0 && sum > m.Minor) {
		return Money{}, fmt.Errorf("%w: %s + %s overflows", ErrInvalidAmount, m, o)
	}
	return Money{Minor: sum, Currency: m.Currency}, nil
}

// Sub returns m - o. A result outside the int64 range fails with
// ErrInvalidAmount.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.check(o); err != nil {
		return Money{}, err
	}
	diff := m.Minor - o.Minor
	if (o.Minor > 0 && diff > m.Minor) || (o.Minor < 0 && diff < m.Minor) {
		return Money{}, fmt.Errorf("%w: %s - %s overflows", ErrInvalidAmount, m, o)
	}
	return Money{Minor: diff, Currency: m.Currency}, nil
}

// Cmp returns -1, 0 or 1 comparing m to o.
func (m Money) Cmp(o Money) (int, error) {
	if err := m.check(o); err != nil {
		return 0, err
	}
	switch {
	case m.Minor < o.Minor:
		return -1, nil
	case m.Minor > o.Minor:
		return 1, nil
	}
	return 0, nil
}

// Normalize converts m into target using rate, where
// amount-in-m.Currency × rate = amount-in-target.
// The product is rounded half-to-even to target's exponent and must fit
// in target's minor units.
func (m Money) Normalize(rate decimal.Decimal, target Currency) (Money, error) {
	return FromDecimal(m.Decimal().Mul(rate), target)
}

// PercentageOf returns 100 × m / total. A zero total yields zero.
func (m Money) PercentageOf(total Money) (decimal.Decimal, error) {
	if err := m.check(total); err != nil {
		return decimal.Zero, err
	}
	if total.Minor == 0 {
		return decimal.Zero, nil
	}
	return decimal.NewFromInt(m.Minor).Mul(hundred).DivRound(decimal.NewFromInt(total.Minor), 8), nil
}

// Allocate splits m across weights in proportion, exactly. Each part is
// floored, and the leftover minor units go one each to the earliest
// weights. The parts always sum to m. m must not be negative.
func (m Money) Allocate(weights []int64) ([]Money, error) {
	if m.Minor < 0 {
		return nil, fmt.Errorf("%w: cannot allocate negative amount %s", ErrInvalidAmount, m)
	}
	var total int64
	for _, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("%w: negative weight %d", ErrInvalidAmount, w)
		}
		if total > math.MaxInt64-w {
			return nil, fmt.Errorf("%w: weights overflow", ErrInvalidAmount)
		}
		total += w
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidAmount)
	}

	amount := decimal.NewFromInt(m.Minor)
	divisor := decimal.NewFromInt(total)
	parts := make([]Money, len(weights))
	var assigned int64
	for i, w := range weights {
		q, _ := amount.Mul(decimal.NewFromInt(w)).QuoRem(divisor, 0)
		parts[i] = Money{Minor: q.IntPart(), Currency: m.Currency}
		assigned += parts[i].Minor
	}
	for i := 0; assigned < m.Minor; i = (i + 1) % len(parts) {
		if weights[i] == 0 {
			continue
		}
		parts[i].Minor++
		assigned++
	}
	return parts, nil
}

// Sum adds amounts, all of which must be in c.
func Sum(c Currency, amounts ...Money) (Money, error) {
	total := Zero(c)
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// Min returns the smaller of two same-currency amounts.
func Min(a, b Money) (Money, error) {
	c, err := a.Cmp(b)
	if err != nil {
		return Money{}, err
	}
	if c <= 0 {
		return a, nil
	}
	return b, nil
}
