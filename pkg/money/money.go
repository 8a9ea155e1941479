package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency identifies the currency a monetary amount is expressed in.
type Currency string

const (
	// Real is the Brazilian Real (BRL).
	Real Currency = "REAL"
	// Dollar is the US Dollar (USD).
	Dollar Currency = "DOLLAR"
)

const (
	// ArithmeticScale is the minimum number of fractional digits preserved
	// by all arithmetic operations.
	ArithmeticScale int32 = 8
	// DisplayScale is the number of fractional digits used for display.
	DisplayScale int32 = 2
)

var (
	ErrCurrencyMismatch      = errors.New("operands have different currencies")
	ErrConversionUnavailable = errors.New("conversion rate unavailable")
	ErrDivisionByZero        = errors.New("division by zero")
	ErrUnknownCurrency       = errors.New("unknown currency")
)

// ParseCurrency maps provider currency codes to a Currency.
// USDT is a pseudo-currency and collapses to Dollar on ingestion.
func ParseCurrency(code string) (Currency, error) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "REAL", "BRL", "R$":
		return Real, nil
	case "DOLLAR", "USD", "USDT", "US$":
		return Dollar, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
}

// Symbol returns the display symbol for the currency.
func (c Currency) Symbol() string {
	if c == Dollar {
		return "US$"
	}
	return "R$"
}

// Money is a fixed-point decimal amount tagged with its currency.
// Amounts of different currencies are never combined without an
// explicit conversion rate.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

// New creates a Money value.
func New(amount decimal.Decimal, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

// NewFromString parses a decimal string into a Money value.
func NewFromString(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid monetary amount %q: %w", amount, err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

// Zero returns the zero amount in the given currency.
func Zero(currency Currency) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Add returns m + other. Fails with ErrCurrencyMismatch when the
// currencies disagree.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other. Fails with ErrCurrencyMismatch when the
// currencies disagree.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// MulScalar returns m scaled by a dimensionless factor.
func (m Money) MulScalar(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// DivScalar returns m divided by a dimensionless divisor, preserving
// at least ArithmeticScale fractional digits.
func (m Money) DivScalar(divisor decimal.Decimal) (Money, error) {
	if divisor.IsZero() {
		return Money{}, ErrDivisionByZero
	}
	return Money{Amount: m.Amount.DivRound(divisor, ArithmeticScale), Currency: m.Currency}, nil
}

// Quantize rounds the amount to the given number of fractional digits.
func (m Money) Quantize(scale int32) Money {
	return Money{Amount: m.Amount.Round(scale), Currency: m.Currency}
}

// Normalize converts m into the target currency using the given rate,
// expressed in target units per source unit. Same-currency conversion
// ignores the rate. A zero rate fails with ErrConversionUnavailable.
func (m Money) Normalize(to Currency, rate decimal.Decimal) (Money, error) {
	if m.Currency == to {
		return m, nil
	}
	if rate.IsZero() {
		return Money{}, fmt.Errorf("%w: %s to %s", ErrConversionUnavailable, m.Currency, to)
	}
	return Money{Amount: m.Amount.Mul(rate), Currency: to}, nil
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// IsNegative reports whether the amount is negative.
func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

// String renders the amount with its currency symbol at display scale.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Currency.Symbol(), m.Amount.StringFixed(DisplayScale))
}
