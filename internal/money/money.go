package money

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned when a value cannot be read as a currency amount.
var ErrInvalidAmount = errors.New("invalid amount")

// Cents is a currency amount in minor units. The ledger exchanges amounts as
// decimal numbers with cents precision; Cents keeps them exact in memory.
type Cents int64

// FromFloat rounds a decimal amount to the nearest cent.
func FromFloat(v float64) Cents {
	return Cents(math.Round(v * 100))
}

// FromUnits builds an amount from whole currency units.
func FromUnits(units int64) Cents {
	return Cents(units * 100)
}

// Parse reads a decimal string such as "4.99", "10" or "$3.00".
func Parse(s string) (Cents, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	if s == "" {
		return 0, ErrInvalidAmount
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	// float64(math.MaxInt64) is 2^63, one past the largest Cents
	if c := math.Round(v * 100); c >= math.MaxInt64 || c <= math.MinInt64 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return FromFloat(v), nil
}

// Float returns the amount as a decimal number.
func (c Cents) Float() float64 {
	return float64(c) / 100
}

// String formats the amount with two decimals, e.g. "7.00".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON writes the amount as a JSON number with two decimals.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts a JSON number, a numeric string, or null (zero).
func (c *Cents) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}
	if data[0] == '"' {
		unquoted, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, data)
		}
		if strings.TrimSpace(unquoted) == "" {
			*c = 0
			return nil
		}
		data = []byte(unquoted)
	}
	v, err := Parse(string(data))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
