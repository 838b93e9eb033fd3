package ledger

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/warp/spend-ledger/money"
)

// Share counts are turned into integer allocation weights by shifting
// them maxShareScale digits. Bounding both the digits and the count keeps
// every weight, and the sum of any realistic set of weights, inside int64.
const maxShareScale = 8

var maxShareCount = decimal.NewFromInt(1_000_000)

// AssignmentInput is one submitted participant share. SplitValue is the
// amount (EXACT), percentage (PERCENTAGE) or share count (SHARES); it is
// ignored for EQUAL.
type AssignmentInput struct {
	Participant ParticipantID
	SplitType   SplitType
	SplitValue  *decimal.Decimal
}

func (in AssignmentInput) validate() error {
	if in.Participant == "" {
		return fmt.Errorf("%w: participant is required", ErrInvalidInput)
	}
	if !in.SplitType.Valid() {
		return fmt.Errorf("%w: unknown split type %q", ErrInvalidInput, in.SplitType)
	}
	if in.SplitType == SplitEqual {
		return nil
	}
	if in.SplitValue == nil {
		return fmt.Errorf("%w: %s split for %s needs a value", ErrInvalidInput, in.SplitType, in.Participant)
	}
	v := *in.SplitValue
	switch in.SplitType {
	case SplitExact:
		if v.IsNegative() {
			return fmt.Errorf("%w: exact share for %s is negative", ErrInvalidAmount, in.Participant)
		}
	case SplitPercentage:
		if v.IsNegative() || v.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage for %s must be within 0..100", ErrInvalidAmount, in.Participant)
		}
	case SplitShares:
		if !v.IsPositive() {
			return fmt.Errorf("%w: share count for %s must be positive", ErrInvalidAmount, in.Participant)
		}
		if v.GreaterThan(maxShareCount) {
			return fmt.Errorf("%w: share count for %s must not exceed %s", ErrInvalidAmount, in.Participant, maxShareCount)
		}
		if !v.Equal(v.Truncate(maxShareScale)) {
			return fmt.Errorf("%w: share count for %s has more than %d decimal places",
				ErrInvalidAmount, in.Participant, maxShareScale)
		}
	}
	return nil
}

// storedValue is the SplitValue kept on the row.
func (in AssignmentInput) storedValue() *decimal.Decimal {
	if in.SplitType == SplitEqual || in.SplitValue == nil {
		return nil
	}
	v := *in.SplitValue
	return &v
}

// priceShares computes ShareAmount for each entrant of an expense.
//
//	amount       the expense amount
//	fixed        total held by rows that keep their stored amount
//	entrants     the rows being priced
//	sharesBasis  Σ share counts over the whole target set (SHARES only)
//
// EXACT, PERCENTAGE and SHARES rows are priced first. EQUAL rows then
// split whatever is left unassigned. Wherever minor units cannot be split
// evenly, the lexicographically-first participant ids receive the extra
// unit.
func priceShares(amount, fixed money.Money, entrants []AssignmentInput, sharesBasis decimal.Decimal) (map[ParticipantID]money.Money, error) {
	sorted := slices.Clone(entrants)
	slices.SortFunc(sorted, func(a, b AssignmentInput) int {
		return cmp.Compare(a.Participant, b.Participant)
	})

	cur := amount.Currency
	out := make(map[ParticipantID]money.Money, len(sorted))
	var equal, shares []AssignmentInput
	priced := money.Zero(cur)

	for _, in := range sorted {
		var share money.Money
		var err error
		switch in.SplitType {
		case SplitExact:
			share, err = money.FromDecimal(*in.SplitValue, cur)
		case SplitPercentage:
			share, err = money.FromDecimal(amount.Decimal().Mul(*in.SplitValue).Div(hundred), cur)
		case SplitShares:
			shares = append(shares, in)
			continue
		case SplitEqual:
			equal = append(equal, in)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("share for %s: %w", in.Participant, moneyErr(err))
		}
		out[in.Participant] = share
		if priced, err = priced.Add(share); err != nil {
			return nil, moneyErr(err)
		}
	}

	if len(shares) > 0 {
		if !sharesBasis.IsPositive() {
			return nil, fmt.Errorf("%w: share counts sum to zero", ErrInvalidAmount)
		}
		values := make([]decimal.Decimal, len(shares))
		sumNew := decimal.Zero
		for i, in := range shares {
			values[i] = *in.SplitValue
			sumNew = sumNew.Add(values[i])
		}
		pool, err := money.FromDecimal(amount.Decimal().Mul(sumNew).DivRound(sharesBasis, 16), cur)
		if err != nil {
			return nil, moneyErr(err)
		}
		parts, err := pool.Allocate(shareWeights(values))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		for i, in := range shares {
			out[in.Participant] = parts[i]
			if priced, err = priced.Add(parts[i]); err != nil {
				return nil, moneyErr(err)
			}
		}
	}

	if len(equal) > 0 {
		assigned, err := fixed.Add(priced)
		if err != nil {
			return nil, moneyErr(err)
		}
		remaining := amount.Minor - assigned.Minor
		if remaining < 0 {
			return nil, fmt.Errorf("%w: nothing left to split equally (over-assigned by %s)",
				ErrInvalidAmount, money.New(-remaining, cur))
		}
		weights := make([]int64, len(equal))
		for i := range weights {
			weights[i] = 1
		}
		parts, err := money.New(remaining, cur).Allocate(weights)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		for i, in := range equal {
			out[in.Participant] = parts[i]
		}
	}
	return out, nil
}

// shareWeights scales decimal share counts to integers on a common scale.
// Counts must already be validated.
func shareWeights(values []decimal.Decimal) []int64 {
	var scale int32
	for _, v := range values {
		if e := -v.Exponent(); e > scale {
			scale = e
		}
	}
	scale = min(scale, maxShareScale)
	weights := make([]int64, len(values))
	for i, v := range values {
		weights[i] = v.Shift(scale).IntPart()
	}
	return weights
}
