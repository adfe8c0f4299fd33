// Package decimal is the single source of truth for monetary, quantity, and
// ratio arithmetic across tradecore. No floating-point value may enter an
// order, a PnL, or an equity number — everything routes through Decimal.
//
// Decimal is a thin wrapper over shopspring/decimal: it adds the
// division-by-zero guards the trading core needs (return 0 for ratios, or a
// typed error where a ratio is semantically required) and a Newton-Raphson
// square root that operates on Decimal directly, so standard-deviation based
// metrics (Sharpe, Sortino) stay exact instead of round-tripping through
// float64.
package decimal

import (
	"errors"
	"fmt"

	shopspring "github.com/shopspring/decimal"
)

// ErrDivisionByZero is returned where a ratio is semantically required and
// the denominator is zero (e.g. Calmar with MDD == 0 is handled separately
// by returning 0, but callers that truly need a ratio get this instead).
var ErrDivisionByZero = errors.New("decimal: division by zero")

// Decimal is an arbitrary-precision signed fixed-point number.
type Decimal struct {
	d shopspring.Decimal
}

// Zero, One and Hundred are the constants used throughout performance math.
var (
	Zero    = Decimal{d: shopspring.Zero}
	One     = Decimal{d: shopspring.NewFromInt(1)}
	Hundred = Decimal{d: shopspring.NewFromInt(100)}
)

// NewFromInt builds a Decimal from an integer.
func NewFromInt(v int64) Decimal { return Decimal{d: shopspring.NewFromInt(v)} }

// NewFromFloat builds a Decimal from a float64. Only used at system
// boundaries (config parsing, test fixtures) — never on a value that has
// already entered the order/PnL/equity path as a float.
func NewFromFloat(v float64) Decimal { return Decimal{d: shopspring.NewFromFloat(v)} }

// NewFromString parses a decimal string, as used for JSON-encoded decimal
// fields (spec.md §6: "Decimals are encoded as strings").
func NewFromString(s string) (Decimal, error) {
	d, err := shopspring.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("decimal: parse %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

// MustFromString is NewFromString but panics on a malformed literal. Only
// safe to use on compile-time constants.
func MustFromString(s string) Decimal {
	d, err := NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Decimal) String() string { return d.d.String() }

// MarshalJSON encodes the Decimal as a JSON string, per spec.md §6.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.d.String() + `"`), nil
}

// UnmarshalJSON decodes a JSON string (or bare number, for convenience) into
// a Decimal.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" || s == "" {
		*d = Zero
		return nil
	}
	v, err := NewFromString(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Decimal) Add(o Decimal) Decimal { return Decimal{d: d.d.Add(o.d)} }
func (d Decimal) Sub(o Decimal) Decimal { return Decimal{d: d.d.Sub(o.d)} }
func (d Decimal) Mul(o Decimal) Decimal { return Decimal{d: d.d.Mul(o.d)} }
func (d Decimal) Neg() Decimal          { return Decimal{d: d.d.Neg()} }
func (d Decimal) Abs() Decimal          { return Decimal{d: d.d.Abs()} }

// Div divides d by o. Returns Zero when o is zero — most ratio fields in
// this domain (return_pct, drawdown_pct, Calmar) are defined to be 0 under a
// zero denominator rather than undefined, per spec.md §4.A.
func (d Decimal) Div(o Decimal) Decimal {
	if o.IsZero() {
		return Zero
	}
	return Decimal{d: d.d.DivRound(o.d, 16)}
}

// DivStrict divides d by o, returning ErrDivisionByZero when o is zero, for
// the callers where a ratio is semantically required (spec.md §4.A).
func (d Decimal) DivStrict(o Decimal) (Decimal, error) {
	if o.IsZero() {
		return Zero, ErrDivisionByZero
	}
	return Decimal{d: d.d.DivRound(o.d, 16)}, nil
}

func (d Decimal) Cmp(o Decimal) int                 { return d.d.Cmp(o.d) }
func (d Decimal) Equal(o Decimal) bool              { return d.d.Equal(o.d) }
func (d Decimal) GreaterThan(o Decimal) bool        { return d.d.GreaterThan(o.d) }
func (d Decimal) GreaterThanOrEqual(o Decimal) bool { return d.d.GreaterThanOrEqual(o.d) }
func (d Decimal) LessThan(o Decimal) bool           { return d.d.LessThan(o.d) }
func (d Decimal) LessThanOrEqual(o Decimal) bool    { return d.d.LessThanOrEqual(o.d) }
func (d Decimal) IsZero() bool                      { return d.d.IsZero() }
func (d Decimal) IsPositive() bool                  { return d.d.IsPositive() }
func (d Decimal) IsNegative() bool                  { return d.d.IsNegative() }
func (d Decimal) Sign() int                         { return d.d.Sign() }

// Floor truncates toward negative infinity; used for whole-share quantity
// rounding.
func (d Decimal) Floor() Decimal { return Decimal{d: d.d.Floor()} }

// Round rounds half away from zero to the given number of fractional
// digits.
func (d Decimal) Round(places int32) Decimal { return Decimal{d: d.d.Round(places)} }

// Truncate drops fractional digits past places without rounding.
func (d Decimal) Truncate(places int32) Decimal { return Decimal{d: d.d.Truncate(places)} }

func (d Decimal) Float64() float64 {
	f, _ := d.d.Float64()
	return f
}

// Max and Min are free functions (not methods) so call sites read naturally:
// decimal.Max(a, b).
func Max(a, b Decimal) Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func Min(a, b Decimal) Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// sqrtTolerance and sqrtMaxIterations pin the convergence behavior required
// by spec.md §4.B / Testable Property 8 (boundary: "Decimal precision near
// 1e-10, sqrt iteration must converge").
var sqrtTolerance = MustFromString("0.0000000001") // 1e-10
const sqrtMaxIterations = 50

// Sqrt computes the square root of d via Newton-Raphson on Decimal values.
// Negative inputs return Zero (variance/magnitude values are never negative
// in this domain; a negative input would indicate a caller bug, not a case
// to propagate silently as NaN).
func (d Decimal) Sqrt() Decimal {
	if d.IsNegative() {
		return Zero
	}
	if d.IsZero() {
		return Zero
	}

	two := NewFromInt(2)
	guess := d
	if guess.GreaterThan(One) {
		// Inputs above one start from d/2, a closer first guess than d;
		// inputs at or below one start from d itself.
		guess = d.Div(two)
	}
	if guess.IsZero() {
		guess = One
	}

	for i := 0; i < sqrtMaxIterations; i++ {
		if guess.IsZero() {
			guess = MustFromString("0.0000000001")
		}
		next := guess.Add(d.Div(guess)).Div(two)
		diff := next.Sub(guess).Abs()
		guess = next
		if diff.LessThan(sqrtTolerance) {
			break
		}
	}
	return guess
}
