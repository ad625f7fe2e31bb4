// Package money provides the fixed-precision decimal type used everywhere
// on the order path. No float64 arithmetic happens between a strategy's
// signal and the bytes written to the wire.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal is a thin alias around shopspring/decimal.Decimal so the rest of
// the module has one vocabulary type to import instead of reaching into a
// third-party package directly at every call site.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{d: decimal.Zero}

// NewFromString parses a base-10 string exactly, with no float round-trip.
func NewFromString(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

// NewFromFloat should only be used at system boundaries (e.g. parsing a
// venue's JSON number field) — never on an already-fixed-precision value.
func NewFromFloat(f float64) Decimal {
	return Decimal{d: decimal.NewFromFloat(f)}
}

// NewFromInt builds a whole-unit decimal, used for test fixtures and
// default configuration values.
func NewFromInt(i int64) Decimal {
	return Decimal{d: decimal.NewFromInt(i)}
}

func (d Decimal) Add(o Decimal) Decimal      { return Decimal{d: d.d.Add(o.d)} }
func (d Decimal) Sub(o Decimal) Decimal      { return Decimal{d: d.d.Sub(o.d)} }
func (d Decimal) Mul(o Decimal) Decimal      { return Decimal{d: d.d.Mul(o.d)} }
func (d Decimal) Div(o Decimal) Decimal      { return Decimal{d: d.d.Div(o.d)} }
func (d Decimal) Neg() Decimal               { return Decimal{d: d.d.Neg()} }
func (d Decimal) Abs() Decimal               { return Decimal{d: d.d.Abs()} }
func (d Decimal) Cmp(o Decimal) int          { return d.d.Cmp(o.d) }
func (d Decimal) Equal(o Decimal) bool       { return d.d.Equal(o.d) }
func (d Decimal) IsZero() bool               { return d.d.IsZero() }
func (d Decimal) IsNegative() bool           { return d.d.IsNegative() }
func (d Decimal) IsPositive() bool           { return d.d.IsPositive() }
func (d Decimal) GreaterThan(o Decimal) bool { return d.d.GreaterThan(o.d) }
func (d Decimal) LessThan(o Decimal) bool    { return d.d.LessThan(o.d) }
func (d Decimal) Float64() float64           { f, _ := d.d.Float64(); return f }
func (d Decimal) String() string             { return d.d.String() }
func (d Decimal) Round(places int32) Decimal { return Decimal{d: d.d.Round(places)} }

func (d Decimal) MarshalJSON() ([]byte, error)    { return d.d.MarshalJSON() }
func (d *Decimal) UnmarshalJSON(b []byte) error   { return d.d.UnmarshalJSON(b) }
func (d Decimal) Value() (driver.Value, error)    { return d.d.Value() }
func (d *Decimal) Scan(v interface{}) error        { return d.d.Scan(v) }

// Max returns the greater of a and b.
func Max(a, b Decimal) Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Min returns the lesser of a and b.
func Min(a, b Decimal) Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
