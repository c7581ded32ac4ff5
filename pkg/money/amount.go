package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmpty is returned when an amount string is blank
	ErrEmpty = errors.New("amount cannot be empty")
	// ErrNotPositive is returned when a positive amount is required
	ErrNotPositive = errors.New("amount must be greater than 0")
	// ErrNegative is returned when a non-negative amount is required
	ErrNegative = errors.New("amount cannot be negative")
)

// Amount is a fixed-precision decimal created once at the boundary.
// The zero value is a valid zero amount.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount
var Zero = Amount{}

// Parse converts a decimal string into an Amount.
// Parse failures are reported, never turned into zero.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, ErrEmpty
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount format %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

// ParsePositive parses s and requires a value strictly greater than zero
func ParsePositive(s string) (Amount, error) {
	a, err := Parse(s)
	if err != nil {
		return Amount{}, err
	}
	if !a.IsPositive() {
		return Amount{}, ErrNotPositive
	}
	return a, nil
}

// ParseNonNegative parses s and requires a value of at least zero
func ParseNonNegative(s string) (Amount, error) {
	a, err := Parse(s)
	if err != nil {
		return Amount{}, err
	}
	if a.IsNegative() {
		return Amount{}, ErrNegative
	}
	return a, nil
}

// MustParse is Parse for constants and tests
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromFloat builds an Amount from a float reported by the backend
func FromFloat(f float64) Amount {
	return Amount{d: decimal.NewFromFloat(f)}
}

// FromInt builds an Amount from an integer
func FromInt(i int64) Amount {
	return Amount{d: decimal.NewFromInt(i)}
}

// FromBaseUnits converts an integer count of base units (wei, lamports)
// into a whole-token amount with the given number of decimals.
func FromBaseUnits(units decimal.Decimal, decimals int32) Amount {
	return Amount{d: units.Shift(-decimals)}
}

func (a Amount) IsZero() bool { return a.d.IsZero() }
func (a Amount) IsPositive() bool { return a.d.IsPositive() }
func (a Amount) IsNegative() bool { return a.d.IsNegative() }

func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }
func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }
func (a Amount) GreaterThan(b Amount) bool { return a.d.GreaterThan(b.d) }
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.d.GreaterThanOrEqual(b.d) }
func (a Amount) LessThan(b Amount) bool { return a.d.LessThan(b.d) }
func (a Amount) LessThanOrEqual(b Amount) bool { return a.d.LessThanOrEqual(b.d) }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }
func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Mul(b Amount) Amount { return Amount{d: a.d.Mul(b.d)} }
func (a Amount) Abs() Amount { return Amount{d: a.d.Abs()} }
func (a Amount) Decimal() decimal.Decimal { return a.d }
func (a Amount) StringFixed(places int32) string { return a.d.StringFixed(places) }

// String renders the amount without trailing zeros
func (a Amount) String() string {
	return a.d.String()
}

// Float64 is for display and threshold comparisons only
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// PercentChange returns (b - a) / a * 100. It reports false when a is zero.
func PercentChange(a, b Amount) (Amount, bool) {
	if a.IsZero() {
		return Amount{}, false
	}
	return Amount{d: b.d.Sub(a.d).Div(a.d).Mul(decimal.NewFromInt(100))}, true
}

// MarshalJSON encodes the amount as a JSON string to keep precision
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.d.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number
func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.d.UnmarshalJSON(data)
}
