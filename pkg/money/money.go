// Package money wraps go-money for the dollar figures surfaced in audit
// output. Pipeline arithmetic stays in shopspring/decimal end to end; this
// package only converts at the display boundary, so no precision is lost
// before formatting.
package money

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// USD is the only currency the audit report renders.
const USD = "USD"

// Money is an immutable monetary value with currency.
type Money struct {
	m *money.Money
}

// New creates a Money value from minor units (cents).
func New(amountCents int64, currencyCode string) *Money {
	return &Money{m: money.New(amountCents, currencyCode)}
}

// NewFromDecimal converts a decimal amount to Money, rounding to the
// currency's minor unit.
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	currency := money.GetCurrency(currencyCode)
	if currency == nil {
		currency = money.GetCurrency(USD)
	}
	cents := amount.Mul(decimal.New(1, int32(currency.Fraction))).Round(0).IntPart()
	return New(cents, currencyCode)
}

// Amount returns the value in minor units.
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// IsNegative reports whether the amount is below zero.
func (m *Money) IsNegative() bool {
	return m != nil && m.m != nil && m.m.IsNegative()
}

// Display renders the locale-formatted amount, e.g. "$1,234.56".
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return "$0.00"
	}
	return m.m.Display()
}

// ToDecimal converts back to an exact decimal amount.
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	return decimal.NewFromInt(m.m.Amount()).Div(decimal.New(1, int32(m.m.Currency().Fraction)))
}

// FormatUSD renders a decimal amount as a dollar string with thousands
// separators. Negative amounts keep the leading minus so spreadsheet readers
// see the sign convention the cells use.
func FormatUSD(amount decimal.Decimal) string {
	return NewFromDecimal(amount, USD).Display()
}
