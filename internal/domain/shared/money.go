package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places money is rounded to
const MoneyScale = 2

var (
	ErrInvalidAmount = errors.New("invalid amount: must be greater than zero")

	hundred = decimal.NewFromInt(100)
)

// RoundMoney rounds an amount to currency precision
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// NormalizeAmount rounds an amount and rejects anything that is not strictly positive afterwards
func NormalizeAmount(d decimal.Decimal) (decimal.Decimal, error) {
	rounded := RoundMoney(d)
	if !rounded.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return rounded, nil
}

// ParseAmount parses a decimal string into a normalized positive amount
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	return NormalizeAmount(d)
}

// PercentOf returns pct percent of amount rounded to currency precision
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(pct).Div(hundred))
}

// FormatMoney renders an amount with exactly two decimals
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}
