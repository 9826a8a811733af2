package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits carried by prices and
// quantities.
const Precision = 8

// ParseAmount parses a decimal string and rejects values with more than
// Precision fractional digits. Trailing zeros beyond Precision are accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", s)
	}
	if err := CheckPrecision(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckPrecision returns an error when d cannot be represented with
// Precision fractional digits.
func CheckPrecision(d decimal.Decimal) error {
	if !d.Equal(d.Truncate(Precision)) {
		return fmt.Errorf("values must have at most %d decimal places", Precision)
	}
	return nil
}

// FormatAmount renders d with exactly Precision fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(Precision)
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
