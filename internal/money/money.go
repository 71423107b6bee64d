// Package money converts between the backend's decimal amounts and the
// int64 cents used everywhere else.
package money

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a cent value that travels over JSON as a decimal number (105.00).
type Amount int64

func (a Amount) Cents() int64 {
	return int64(a)
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts numbers and quoted numbers; fractions beyond cents round half-up.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || len(b) == 0 {
		*a = 0
		return nil
	}
	b = bytes.Trim(b, `"`)
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", string(b), err)
	}
	*a = FromDecimal(d)
	return nil
}

func FromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Shift(2).Round(0).IntPart())
}

// Parse reads a human amount such as "105.00" or "99,90".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(normalizeSeparator(s))
	if err != nil {
		return 0, err
	}
	return FromDecimal(d), nil
}

// Format renders cents for display ("105.00").
func Format(cents int64) string {
	return Amount(cents).String()
}

func normalizeSeparator(s string) string {
	out := []byte(s)
	hasDot := bytes.IndexByte(out, '.') >= 0
	for i, c := range out {
		if c == ',' && !hasDot {
			out[i] = '.'
		}
	}
	return string(bytes.TrimSpace(out))
}
