package money

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// ErrUnknownCurrency is returned when a currency code has no minor-unit metadata.
var ErrUnknownCurrency = errors.New("unknown currency")

// Currency is an ISO 4217 code plus the number of minor-unit digits used
// when storing amounts in that currency (2 for GBP, 0 for JPY, 3 for BHD).
type Currency struct {
	Code     string
	Exponent uint8
}

func (c Currency) String() string { return c.Code }

// CurrencyInfo supplies the minor-unit exponent for a currency code.
type CurrencyInfo interface {
	MinorUnitExponent(code string) (uint8, error)
}

// ISO resolves exponents from the CLDR currency data shipped with x/text.
var ISO CurrencyInfo = isoInfo{}

type isoInfo struct{}

func (isoInfo) MinorUnitExponent(code string) (uint8, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return uint8(scale), nil
}

// Table is a fixed CurrencyInfo, handy for tests and for pinning
// exponents that differ from CLDR.
type Table map[string]uint8

func (t Table) MinorUnitExponent(code string) (uint8, error) {
	exp, ok := t[strings.ToUpper(code)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return exp, nil
}

// Lookup builds a Currency for code using info. Codes are upper-cased.
func Lookup(info CurrencyInfo, code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return Currency{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	exp, err := info.MinorUnitExponent(code)
	if err != nil {
		return Currency{}, err
	}
	return Currency{Code: code, Exponent: exp}, nil
}

// MustLookup is Lookup against ISO that panics on unknown codes.
// Intended for package-level test fixtures.
func MustLookup(code string) Currency {
	c, err := Lookup(ISO, code)
	if err != nil {
		panic(err)
	}
	return c
}
