// Package certnum provides domain contracts for certificate numbering.
// Implementations live in infrastructure layer.
package certnum

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// Width is the fixed number of digits of a certificate number.
	Width = 10

	// MaxValue is the largest value representable in Width digits.
	MaxValue int64 = 9_999_999_999
)

// Number is a certificate number: a positive integer rendered as exactly
// Width decimal digits, zero-padded (e.g. "0000000042").
type Number string

// Format renders v as a certificate number.
// Values outside [1, MaxValue] are rejected; the width never grows.
func Format(v int64) (Number, error) {
	if v < 1 {
		return "", fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}
	if v > MaxValue {
		return "", fmt.Errorf("%w: %d exceeds %d digits", ErrSequenceExhausted, v, Width)
	}
	return Number(fmt.Sprintf("%0*d", Width, v)), nil
}

// MustFormat is Format for values known to be in range. Use in tests and fixtures.
func MustFormat(v int64) Number {
	n, err := Format(v)
	if err != nil {
		panic(err)
	}
	return n
}

// Parse extracts the integer value of a certificate number.
// Shorter inputs ("42") are accepted; signs, spaces and non-digits are not.
func Parse(s string) (int64, error) {
	if s == "" || len(s) > Width {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if v < 1 {
		return 0, fmt.Errorf("%w: %q", ErrOutOfRange, s)
	}
	return v, nil
}

// Normalize parses s and re-renders it at full width.
func Normalize(s string) (Number, error) {
	v, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(v)
}

// Value returns the integer value of n, or 0 if n is malformed.
func (n Number) Value() int64 {
	v, err := Parse(string(n))
	if err != nil {
		return 0
	}
	return v
}

// String implements fmt.Stringer.
func (n Number) String() string {
	return string(n)
}

// Block renders the contiguous range ending at last and holding count values.
// The range is validated before anything is rendered.
func Block(last int64, count int) ([]Number, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidRequest, count)
	}
	if int64(count) > MaxValue || last > MaxValue {
		return nil, fmt.Errorf("%w: %d values ending at %d", ErrSequenceExhausted, count, last)
	}
	first := last - int64(count) + 1
	if first < 1 {
		return nil, fmt.Errorf("%w: block of %d ending at %d", ErrOutOfRange, count, last)
	}
	out := make([]Number, 0, count)
	for v := first; v <= last; v++ {
		n, err := Format(v)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
