// Package runes holds amount conversion and formatting helpers for rune
// tokens. Conversions between user entered decimal amounts and raw integer
// units go through big integer string arithmetic, never through a float:
// runes may carry up to 38 significant digits and float64 silently loses
// precision past 15.
package runes

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrInvalidAmount is returned for input that is not a plain decimal
	// number.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrTooManyDecimals is returned when the fractional part exceeds
	// the token's divisibility.
	ErrTooManyDecimals = errors.New("too many decimal places")

	// ErrAmountOverflow is returned when the raw amount does not fit in
	// a uint64.
	ErrAmountOverflow = errors.New("amount overflows raw units")
)

// DecimalToRaw converts a user entered decimal amount into raw token units
// for a token with the given divisibility. "1.5" with two decimals becomes
// 150.
func DecimalToRaw(amount string, decimals int) (uint64, error) {
	if decimals < 0 {
		return 0, fmt.Errorf("%w: negative divisibility %d",
			ErrInvalidAmount, decimals)
	}

	amount = strings.TrimSpace(amount)
	if amount == "" || strings.HasPrefix(amount, "-") ||
		strings.HasPrefix(amount, "+") {

		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	intPart := amount
	fracPart := ""
	if idx := strings.IndexByte(amount, '.'); idx >= 0 {
		intPart = amount[:idx]
		fracPart = amount[idx+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !digitsOnly(intPart) || !digitsOnly(fracPart) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	if len(fracPart) > decimals {
		return 0, fmt.Errorf("%w: %q has %d, token allows %d",
			ErrTooManyDecimals, amount, len(fracPart), decimals)
	}

	// Scale by appending zeros instead of multiplying floats: the digit
	// string is exact at any divisibility.
	digits := intPart + fracPart +
		strings.Repeat("0", decimals-len(fracPart))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return 0, nil
	}

	raw, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !raw.IsUint64() {
		return 0, fmt.Errorf("%w: %q at %d decimals",
			ErrAmountOverflow, amount, decimals)
	}

	return raw.Uint64(), nil
}

// RawToDecimal renders a raw token amount as a decimal string, trimming
// trailing fractional zeros. The inverse of DecimalToRaw.
func RawToDecimal(raw uint64, decimals int) string {
	digits := new(big.Int).SetUint64(raw).String()
	if decimals <= 0 {
		return digits
	}

	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	intPart := digits[:len(digits)-decimals]
	fracPart := strings.TrimRight(digits[len(digits)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}

	return intPart + "." + fracPart
}

// FormatAmount inserts thousands separators into a plain decimal number
// string: "1234567.89" becomes "1,234,567.89". Input that doesn't look like
// a number is returned unchanged.
func FormatAmount(amount string) string {
	intPart := amount
	fracPart := ""
	if idx := strings.IndexByte(amount, '.'); idx >= 0 {
		intPart = amount[:idx]
		fracPart = amount[idx:]
	}
	if !digitsOnly(intPart) || intPart == "" {
		return amount
	}

	grouped := groupDigits(intPart)

	return grouped + fracPart
}

// FormatUSD renders a dollar value with thousands separators and two
// fractional digits, e.g. "$1,234.56". Values below a cent keep more digits
// so cheap tokens don't all display as "$0.00".
func FormatUSD(v float64) string {
	var s string
	if v != 0 && v < 0.01 && v > -0.01 {
		s = fmt.Sprintf("%.6f", v)
	} else {
		s = fmt.Sprintf("%.2f", v)
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	s = FormatAmount(s)
	if neg {
		return "-$" + s
	}

	return "$" + s
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return true
}

func groupDigits(digits string) string {
	n := len(digits)
	if n <= 3 {
		return digits
	}

	var b strings.Builder
	b.Grow(n + (n-1)/3)

	lead := n % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}

	return b.String()
}
