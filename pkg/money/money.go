// Package money converts between decimal amounts in major units ("18.00") and
// the int64 minor units (cents) stored everywhere else.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrTooPrecise = errors.New("amount has more than two decimal places")

var hundred = decimal.NewFromInt(100)

// ToMinor converts d to cents. Fractions of a cent are rejected rather than rounded.
func ToMinor(d decimal.Decimal) (int64, error) {
	cents := d.Mul(hundred)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrTooPrecise, d.String())
	}
	return cents.IntPart(), nil
}

func FromMinor(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Format renders cents with exactly two decimals, e.g. 1800 -> "18.00".
func Format(cents int64) string {
	return FromMinor(cents).StringFixed(2)
}

func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return ToMinor(d)
}
