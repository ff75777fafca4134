package runes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDecimalToRaw tests the decimal to raw unit conversion, including the
// precision cases float arithmetic would get wrong.
func TestDecimalToRaw(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		expected uint64
		err      error
	}{
		{
			name:     "integer",
			amount:   "1500",
			decimals: 0,
			expected: 1500,
		},
		{
			name:     "fraction scaled",
			amount:   "1.5",
			decimals: 2,
			expected: 150,
		},
		{
			name:     "full precision",
			amount:   "0.00000001",
			decimals: 8,
			expected: 1,
		},
		{
			name:     "trailing dot",
			amount:   "12.",
			decimals: 2,
			expected: 1200,
		},
		{
			name:     "leading dot",
			amount:   ".5",
			decimals: 1,
			expected: 5,
		},
		{
			name:     "zero",
			amount:   "0.0",
			decimals: 4,
			expected: 0,
		},
		{
			name: "beyond float53 precision",
			// 2^53 + 1 is not representable in a float64.
			amount:   "90071992.54740993",
			decimals: 8,
			expected: 9007199254740993,
		},
		{
			name:     "max uint64",
			amount:   "18446744073709551615",
			decimals: 0,
			expected: math.MaxUint64,
		},
		{
			name:     "overflow",
			amount:   "18446744073709551616",
			decimals: 0,
			err:      ErrAmountOverflow,
		},
		{
			name:     "overflow via scaling",
			amount:   "18446744073709551615",
			decimals: 1,
			err:      ErrAmountOverflow,
		},
		{
			name:     "too many decimals",
			amount:   "1.234",
			decimals: 2,
			err:      ErrTooManyDecimals,
		},
		{
			name:     "empty",
			amount:   "",
			decimals: 2,
			err:      ErrInvalidAmount,
		},
		{
			name:     "negative",
			amount:   "-1",
			decimals: 2,
			err:      ErrInvalidAmount,
		},
		{
			name:     "double dot",
			amount:   "1..2",
			decimals: 4,
			err:      ErrInvalidAmount,
		},
		{
			name:     "letters",
			amount:   "12a",
			decimals: 2,
			err:      ErrInvalidAmount,
		},
		{
			name:     "negative divisibility",
			amount:   "1",
			decimals: -1,
			err:      ErrInvalidAmount,
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			raw, err := DecimalToRaw(test.amount, test.decimals)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, test.expected, raw)
		})
	}
}

// TestRawToDecimal tests the inverse rendering.
func TestRawToDecimal(t *testing.T) {
	tests := []struct {
		name     string
		raw      uint64
		decimals int
		expected string
	}{
		{
			name:     "no divisibility",
			raw:      1500,
			decimals: 0,
			expected: "1500",
		},
		{
			name:     "fraction",
			raw:      150,
			decimals: 2,
			expected: "1.5",
		},
		{
			name:     "sub one",
			raw:      1,
			decimals: 8,
			expected: "0.00000001",
		},
		{
			name:     "trailing zeros trimmed",
			raw:      1200,
			decimals: 2,
			expected: "12",
		},
		{
			name:     "zero",
			raw:      0,
			decimals: 4,
			expected: "0",
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			require.Equal(
				t, test.expected,
				RawToDecimal(test.raw, test.decimals),
			)
		})
	}
}

// TestRoundTrip asserts conversion and rendering are inverses.
func TestRoundTrip(t *testing.T) {
	amounts := []string{"1", "0.5", "1234.875", "999999999.999"}
	for _, amount := range amounts {
		raw, err := DecimalToRaw(amount, 3)
		require.NoError(t, err)
		require.Equal(t, amount, RawToDecimal(raw, 3))
	}
}

// TestFormatAmount tests thousands separator insertion.
func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"0", "0"},
		{"123", "123"},
		{"1234", "1,234"},
		{"1234567.89", "1,234,567.89"},
		{"1000", "1,000"},
		{"0.00015", "0.00015"},
		// Non numeric input passes through unchanged.
		{"", ""},
		{"n/a", "n/a"},
		{"-12", "-12"},
	}

	for _, test := range tests {
		require.Equal(
			t, test.expected, FormatAmount(test.in),
			"input %q", test.in,
		)
	}
}

// TestFormatUSD tests dollar rendering, including the extended precision for
// sub-cent values.
func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in       float64
		expected string
	}{
		{0, "$0.00"},
		{1, "$1.00"},
		{1234.5, "$1,234.50"},
		{0.005, "$0.005000"},
		{0.00000123, "$0.000001"},
		{-2500.75, "-$2,500.75"},
	}

	for _, test := range tests {
		require.Equal(
			t, test.expected, FormatUSD(test.in),
			"input %v", test.in,
		)
	}
}
