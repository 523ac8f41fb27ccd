// Package money holds the minor-unit helpers shared by the settlement packages.
// Amounts are int64 pence everywhere; decimals only appear for rates and percentages.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ToDecimal converts pence to pounds.
func ToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// FromDecimal converts pounds to pence, rounding half away from zero.
func FromDecimal(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromFloat is used at JSON boundaries where the remote side speaks float pounds.
func FromFloat(amount float64) int64 {
	return FromDecimal(decimal.NewFromFloat(amount))
}

func ToFloat(cents int64) float64 {
	f, _ := ToDecimal(cents).Float64()
	return f
}

// Format renders pence as a plain two-decimal amount, e.g. "-12.30".
func Format(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// Label renders an amount with a currency prefix, e.g. "GBP 12.30".
func Label(cents int64, currency string) string {
	if currency == "" {
		currency = "GBP"
	}
	return currency + " " + Format(cents)
}

func Abs(cents int64) int64 {
	if cents < 0 {
		return -cents
	}
	return cents
}

func Max(a int64, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func Min(a int64, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
