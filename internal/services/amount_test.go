package services

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/markjakearzadon/propertypay-gobackend/internal/config"
	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		unit    int64
		minimum int64
		want    int64
	}{
		{name: "tiny", amount: "0.01", unit: 5, minimum: 5, want: 5},
		{name: "below unit", amount: "3", unit: 5, minimum: 5, want: 5},
		{name: "exact unit", amount: "5", unit: 5, minimum: 5, want: 5},
		{name: "round up", amount: "37", unit: 5, minimum: 5, want: 40},
		{name: "multiple", amount: "40", unit: 5, minimum: 5, want: 40},
		{name: "fraction above multiple", amount: "1000.2", unit: 5, minimum: 5, want: 1005},
		{name: "minimum dominates", amount: "37", unit: 5, minimum: 100, want: 100},
		{name: "minimum off unit", amount: "1", unit: 5, minimum: 7, want: 10},
		{name: "bad unit falls back", amount: "6", unit: 0, minimum: 0, want: 10},
		{name: "largest multiple that fits", amount: "9223372036854775805", unit: 5, minimum: 5, want: 9223372036854775805},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAmount(decimal.RequireFromString(tt.amount), tt.unit, tt.minimum)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Zero(t, got%5)
		})
	}
}

func TestNormalizeAmountTooLarge(t *testing.T) {
	for _, amount := range []string{"9223372036854775806", "1e19", "1e20", "3e25"} {
		t.Run(amount, func(t *testing.T) {
			got, err := NormalizeAmount(decimal.RequireFromString(amount), 5, 5)
			require.ErrorIs(t, err, ErrValidation)
			require.Zero(t, got)
		})
	}
}

func TestAmountNormalizer(t *testing.T) {
	n := NewAmountNormalizer(5, 5, "xof", config.DefaultPaymentMethods())

	got, err := n.Normalize(1000)
	require.NoError(t, err)
	require.Equal(t, int64(1000), got)

	got, err = n.Normalize(2.5)
	require.NoError(t, err)
	require.Equal(t, int64(5), got)

	for _, bad := range []float64{0, -1, 1e19, 1e20, math.NaN(), math.Inf(1)} {
		_, err := n.Normalize(bad)
		require.ErrorIs(t, err, ErrValidation)
	}
}

func TestPaymentMethodAndCurrency(t *testing.T) {
	n := NewAmountNormalizer(5, 5, "XOF", config.DefaultPaymentMethods())

	m, err := n.PaymentMethod(" orange_money_ci ")
	require.NoError(t, err)
	require.Equal(t, "MOBILE_MONEY", m.Channel)

	_, err = n.PaymentMethod("")
	require.ErrorIs(t, err, ErrValidation)
	_, err = n.PaymentMethod("PAYPAL")
	require.ErrorIs(t, err, ErrValidation)

	cm, err := n.PaymentMethod("MTN_MONEY_CM")
	require.NoError(t, err)
	require.Equal(t, "XAF", n.ResolveCurrency("", cm))
	require.Equal(t, "USD", n.ResolveCurrency("usd", cm))
	require.Equal(t, "XOF", n.ResolveCurrency("", models.PaymentMethod{Code: "ALL", Channel: "ALL"}))
}
