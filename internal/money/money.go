package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount in integer minor units (cents). All monetary
// arithmetic in the system goes through this type; floats never enter.
type Money int64

// ErrInvalid is returned on parse failures and on operations that would
// produce a negative amount where one is not allowed.
var ErrInvalid = errors.New("invalid money amount")

// Zero is the additive identity.
const Zero Money = 0

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return m + other
}

// Sub returns m - other. The result may be negative; use SubNonNegative
// where the invariant requires otherwise.
func (m Money) Sub(other Money) Money {
	return m - other
}

// SubNonNegative returns m - other, failing with ErrInvalid if the result
// would be negative.
func (m Money) SubNonNegative(other Money) (Money, error) {
	if other > m {
		return 0, fmt.Errorf("%w: %s - %s is negative", ErrInvalid, m, other)
	}
	return m - other, nil
}

// MulInt returns m * n.
func (m Money) MulInt(n int) Money {
	return m * Money(n)
}

// Percent returns p percent of m, rounded half away from zero.
func (m Money) Percent(p int) Money {
	return roundDiv(int64(m)*int64(p), 100)
}

// Units returns the amount in whole currency units, rounded half away
// from zero. The mobile-money provider accepts whole units only.
func (m Money) Units() int64 {
	return int64(roundDiv(int64(m), 100))
}

// Min returns the smaller of a and b.
func Min(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

// roundDiv divides num by den rounding half away from zero.
func roundDiv(num, den int64) Money {
	if num >= 0 {
		return Money((num + den/2) / den)
	}
	return Money((num - den/2) / den)
}

// Parse converts a fixed-point decimal string ("1234.56") to minor units.
// At most two fraction digits are accepted; "12", "12.5" and "12.50" are
// all valid.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalid)
	}

	negative := false
	if strings.HasPrefix(s, "-") {
		negative = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" || len(frac) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	amount := units*100 + cents
	if negative {
		amount = -amount
	}
	return Money(amount), nil
}

// String formats the amount with exactly two decimal places.
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
