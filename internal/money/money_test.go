package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Money
	}{
		{"1234.56", 123456},
		{"12", 1200},
		{"12.5", 1250},
		{"0.05", 5},
		{"-3.20", -320},
		{"0", 0},
	}

	for _, c := range cases {
		got, err := Parse(c.in)
		assert.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1.234", ".50", "1.2.3", "1,50"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalid, in)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "1234.56", Money(123456).String())
	assert.Equal(t, "0.05", Money(5).String())
	assert.Equal(t, "-3.20", Money(-320).String())
	assert.Equal(t, "0.00", Zero.String())
}

func TestPercentRoundsHalfAwayFromZero(t *testing.T) {
	// 15% of 0.10 = 0.015 -> rounds to 0.02
	assert.Equal(t, Money(2), Money(10).Percent(15))
	// 20% of 100.00
	assert.Equal(t, Money(2000), Money(10000).Percent(20))
	// negative amounts round away from zero too
	assert.Equal(t, Money(-2), Money(-10).Percent(15))
}

func TestUnits(t *testing.T) {
	assert.Equal(t, int64(27), Money(2700).Units())
	assert.Equal(t, int64(28), Money(2750).Units())
	assert.Equal(t, int64(27), Money(2749).Units())
}

func TestSubNonNegative(t *testing.T) {
	got, err := Money(500).SubNonNegative(200)
	assert.NoError(t, err)
	assert.Equal(t, Money(300), got)

	_, err = Money(100).SubNonNegative(200)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestMin(t *testing.T) {
	assert.Equal(t, Money(100), Min(100, 200))
	assert.Equal(t, Money(100), Min(200, 100))
}
