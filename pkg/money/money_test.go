package money_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barbosaigor/investrack/pkg/money"
)

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		want    money.Currency
		wantErr bool
	}{
		{name: "brl", code: "BRL", want: money.Real},
		{name: "real", code: "REAL", want: money.Real},
		{name: "usd", code: "USD", want: money.Dollar},
		{name: "usdt collapses to dollar", code: "USDT", want: money.Dollar},
		{name: "lowercase", code: "usd", want: money.Dollar},
		{name: "unknown", code: "EUR", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := money.ParseCurrency(tt.code)
			if tt.wantErr {
				assert.ErrorIs(t, err, money.ErrUnknownCurrency)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdd_CurrencyMismatch(t *testing.T) {
	brl := money.New(decimal.NewFromInt(10), money.Real)
	usd := money.New(decimal.NewFromInt(10), money.Dollar)

	_, err := brl.Add(usd)
	assert.ErrorIs(t, err, money.ErrCurrencyMismatch)

	_, err = brl.Sub(usd)
	assert.ErrorIs(t, err, money.ErrCurrencyMismatch)
}

func TestAddSub(t *testing.T) {
	a := money.New(decimal.RequireFromString("10.50"), money.Real)
	b := money.New(decimal.RequireFromString("0.25"), money.Real)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.True(t, sum.Amount.Equal(decimal.RequireFromString("10.75")))

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.True(t, diff.Amount.Equal(decimal.RequireFromString("10.25")))
}

func TestDivScalar_PreservesScale(t *testing.T) {
	// 4400 / 600 must preserve at least 8 fractional digits.
	total := money.New(decimal.NewFromInt(4400), money.Real)
	avg, err := total.DivScalar(decimal.NewFromInt(600))
	require.NoError(t, err)
	assert.Equal(t, "7.33333333", avg.Amount.StringFixed(8))
}

func TestDivScalar_ByZero(t *testing.T) {
	total := money.New(decimal.NewFromInt(100), money.Real)
	_, err := total.DivScalar(decimal.Zero)
	assert.ErrorIs(t, err, money.ErrDivisionByZero)
}

func TestNormalize(t *testing.T) {
	usd := money.New(decimal.NewFromInt(1200), money.Dollar)

	brl, err := usd.Normalize(money.Real, decimal.NewFromInt(6))
	require.NoError(t, err)
	assert.Equal(t, money.Real, brl.Currency)
	assert.True(t, brl.Amount.Equal(decimal.NewFromInt(7200)))
}

func TestNormalize_SameCurrencyIgnoresRate(t *testing.T) {
	brl := money.New(decimal.NewFromInt(100), money.Real)
	got, err := brl.Normalize(money.Real, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(100)))
}

func TestNormalize_MissingRate(t *testing.T) {
	usd := money.New(decimal.NewFromInt(100), money.Dollar)
	_, err := usd.Normalize(money.Real, decimal.Zero)
	assert.ErrorIs(t, err, money.ErrConversionUnavailable)
}

func TestQuantize(t *testing.T) {
	m := money.New(decimal.RequireFromString("7.33333333"), money.Real)
	assert.Equal(t, "7.33", m.Quantize(2).Amount.StringFixed(2))
	assert.Equal(t, "7.3333", m.Quantize(4).Amount.StringFixed(4))
}
