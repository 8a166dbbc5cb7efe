// Package money represents monetary amounts as integer minor units so that
// gateway-reported decimal strings never round-trip through binary floats.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in minor units (e.g. cents, fen).
type Amount int64

// ErrInvalidAmount is returned when a gateway amount string cannot be parsed.
var ErrInvalidAmount = errors.New("money: invalid amount")

// currencyExponents maps ISO currency codes to their minor-unit exponent.
// Unlisted currencies default to two decimal places.
var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"IDR": 2,
	"CNY": 2,
	"USD": 2,
	"EUR": 2,
}

// Exponent returns the minor-unit exponent for the currency code.
func Exponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return exp
	}
	return 2
}

// Parse converts a gateway-supplied decimal string (e.g. "99.00") into minor
// units for the given currency. Fractions finer than the currency's minor unit
// are rejected rather than silently rounded.
func Parse(value, currency string) (Amount, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	dec, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	shifted := dec.Shift(Exponent(currency))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %q has sub-minor-unit precision", ErrInvalidAmount, value)
	}
	return Amount(shifted.IntPart()), nil
}

// MustParse is a test helper that panics on parse failure.
func MustParse(value, currency string) Amount {
	a, err := Parse(value, currency)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount as a decimal string for the given currency.
func (a Amount) String(currency string) string {
	return decimal.New(int64(a), -Exponent(currency)).StringFixed(Exponent(currency))
}

// WithinTolerance reports whether reported is close enough to expected:
// within one minor unit or 1% of the expected amount, whichever is larger.
// The slack absorbs upstream gateway rounding, nothing more.
func WithinTolerance(expected, reported Amount) bool {
	diff := int64(expected) - int64(reported)
	if diff < 0 {
		diff = -diff
	}
	tolerance := int64(expected) / 100
	if tolerance < 1 {
		tolerance = 1
	}
	return diff <= tolerance
}
