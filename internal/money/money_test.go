package money_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lapak-dev/backend-lapak/internal/money"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		value    string
		currency string
		want     money.Amount
		wantErr  bool
	}{
		{name: "two decimals", value: "99.00", currency: "CNY", want: 9900},
		{name: "no decimals", value: "50", currency: "CNY", want: 5000},
		{name: "single decimal", value: "12.5", currency: "USD", want: 1250},
		{name: "zero exponent currency", value: "1200", currency: "JPY", want: 1200},
		{name: "whitespace", value: " 7.25 ", currency: "USD", want: 725},
		{name: "sub minor unit", value: "1.005", currency: "USD", wantErr: true},
		{name: "empty", value: "", currency: "CNY", wantErr: true},
		{name: "garbage", value: "abc", currency: "CNY", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := money.Parse(tc.value, tc.currency)
			if tc.wantErr {
				require.ErrorIs(t, err, money.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "99.00", money.Amount(9900).String("CNY"))
	require.Equal(t, "1200", money.Amount(1200).String("JPY"))
	require.Equal(t, "0.01", money.Amount(1).String("USD"))
}

func TestWithinTolerance(t *testing.T) {
	t.Parallel()

	// 1% of 9900 = 99 minor units.
	require.True(t, money.WithinTolerance(9900, 9900))
	require.True(t, money.WithinTolerance(9900, 9801))
	require.True(t, money.WithinTolerance(9900, 9999))
	require.False(t, money.WithinTolerance(9900, 9800))
	require.False(t, money.WithinTolerance(9900, 5000))

	// Small amounts fall back to the one-minor-unit floor.
	require.True(t, money.WithinTolerance(50, 51))
	require.True(t, money.WithinTolerance(50, 49))
	require.False(t, money.WithinTolerance(50, 48))
}
