package math

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Precision of every protocol quantity: 18 decimal places.
const Precision = 18

var (
	// DecimalPrecision is 1.0 in raw units (1e18).
	DecimalPrecision = Decimal{v: *uint256.NewInt(1_000_000_000_000_000_000)}

	// NICRPrecision scales the nominal ICR (1e20).
	NICRPrecision = Decimal{v: *new(uint256.Int).Mul(uint256.NewInt(100), uint256.NewInt(1_000_000_000_000_000_000))}

	zero       Decimal
	maxDecimal = Decimal{v: *new(uint256.Int).Not(new(uint256.Int))}
)

// Decimal is an unsigned 18-decimal fixed-point value on a 256-bit integer.
// Values are immutable; every operation returns a new Decimal.
//
// The raw operations (Mul, Div, MulDiv) work on the underlying integer and leave the
// scale to the caller. DecMul is the scaled product.
type Decimal struct {
	v uint256.Int
}

// Zero returns 0.
func Zero() Decimal { return zero }

// One returns 1.0 (1e18 raw).
func One() Decimal { return DecimalPrecision }

// Max returns the largest representable value, used as the ratio of debt-free positions.
func Max() Decimal { return maxDecimal }

// FromRaw builds a Decimal from raw integer units.
func FromRaw(raw uint64) Decimal {
	return Decimal{v: *uint256.NewInt(raw)}
}

// FromUint256 copies a raw 256-bit integer.
func FromUint256(raw *uint256.Int) Decimal {
	return Decimal{v: *raw}
}

// FromUnits returns n whole units (n * 1e18).
func FromUnits(n uint64) Decimal {
	return Decimal{v: *new(uint256.Int).Mul(uint256.NewInt(n), &DecimalPrecision.v)}
}

// FromRawString parses a base-10 raw integer ("1000000000000000000" == 1.0).
func FromRawString(s string) (Decimal, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return zero, fmt.Errorf("invalid raw amount %q: %w", s, err)
	}
	return Decimal{v: *v}, nil
}

// Parse reads a human decimal string ("1.5", "200", "0.005"). Digits past the 18th
// decimal place are truncated.
func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.IsNegative() {
		return zero, fmt.Errorf("invalid decimal %q: negative", s)
	}
	raw := d.Shift(Precision).Truncate(0).BigInt()
	v, overflow := uint256.FromBig(raw)
	if overflow {
		return zero, fmt.Errorf("invalid decimal %q: overflows 256 bits", s)
	}
	return Decimal{v: *v}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String formats as a human decimal ("1.5").
func (d Decimal) String() string {
	return decimal.NewFromBigInt(d.v.ToBig(), -Precision).String()
}

// RawString formats the raw integer.
func (d Decimal) RawString() string {
	return d.v.Dec()
}

// Float64 is a lossy conversion for metrics and logs.
func (d Decimal) Float64() float64 {
	return decimal.NewFromBigInt(d.v.ToBig(), -Precision).InexactFloat64()
}

// BigInt returns the raw value as a big.Int.
func (d Decimal) BigInt() *big.Int {
	return d.v.ToBig()
}

// Uint256 returns a copy of the raw value.
func (d Decimal) Uint256() *uint256.Int {
	return d.v.Clone()
}

// MarshalText encodes the human decimal form.
func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts the human decimal form.
func (d *Decimal) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// === Comparison ===

func (d Decimal) Cmp(o Decimal) int  { return d.v.Cmp(&o.v) }
func (d Decimal) Eq(o Decimal) bool  { return d.v.Eq(&o.v) }
func (d Decimal) Lt(o Decimal) bool  { return d.v.Lt(&o.v) }
func (d Decimal) Gt(o Decimal) bool  { return d.v.Gt(&o.v) }
func (d Decimal) Lte(o Decimal) bool { return !d.v.Gt(&o.v) }
func (d Decimal) Gte(o Decimal) bool { return !d.v.Lt(&o.v) }
func (d Decimal) IsZero() bool       { return d.v.IsZero() }

// Min returns the smaller of a and b.
func Min(a, b Decimal) Decimal {
	if a.Lt(b) {
		return a
	}
	return b
}

// MaxOf returns the larger of a and b.
func MaxOf(a, b Decimal) Decimal {
	if a.Gt(b) {
		return a
	}
	return b
}

// === Raw arithmetic ===

// Add panics on overflow; amounts never approach 2^256.
func (d Decimal) Add(o Decimal) Decimal {
	var r Decimal
	if _, overflow := r.v.AddOverflow(&d.v, &o.v); overflow {
		panic(fmt.Sprintf("FATAL: decimal overflow %s + %s", d.RawString(), o.RawString()))
	}
	return r
}

// Sub panics on underflow. Callers must compare first; an underflow is a broken
// accounting invariant.
func (d Decimal) Sub(o Decimal) Decimal {
	var r Decimal
	if _, underflow := r.v.SubOverflow(&d.v, &o.v); underflow {
		panic(fmt.Sprintf("FATAL: decimal underflow %s - %s", d.RawString(), o.RawString()))
	}
	return r
}

// SubFloor returns d - o, or zero when o > d.
func (d Decimal) SubFloor(o Decimal) Decimal {
	if o.Gt(d) {
		return zero
	}
	return d.Sub(o)
}

// Mul is the raw integer product. Panics on overflow.
func (d Decimal) Mul(o Decimal) Decimal {
	var r Decimal
	if _, overflow := r.v.MulOverflow(&d.v, &o.v); overflow {
		panic(fmt.Sprintf("FATAL: decimal overflow %s * %s", d.RawString(), o.RawString()))
	}
	return r
}

// Div is the raw truncating quotient. Panics on a zero divisor.
func (d Decimal) Div(o Decimal) Decimal {
	if o.IsZero() {
		panic("FATAL: decimal division by zero")
	}
	var r Decimal
	r.v.Div(&d.v, &o.v)
	return r
}

// MulDiv computes d * m / div with a 512-bit intermediate, truncating.
func (d Decimal) MulDiv(m, div Decimal) Decimal {
	if div.IsZero() {
		panic("FATAL: decimal division by zero")
	}
	var r Decimal
	if _, overflow := r.v.MulDivOverflow(&d.v, &m.v, &div.v); overflow {
		panic(fmt.Sprintf("FATAL: decimal overflow %s * %s / %s", d.RawString(), m.RawString(), div.RawString()))
	}
	return r
}

// MulUint64 multiplies by a plain integer.
func (d Decimal) MulUint64(n uint64) Decimal {
	return d.Mul(FromRaw(n))
}

// DivUint64 divides by a plain integer, truncating.
func (d Decimal) DivUint64(n uint64) Decimal {
	return d.Div(FromRaw(n))
}

// === Fixed-point arithmetic ===

// DecMul is the 18-decimal product rounded half up: (d*o + 0.5e18) / 1e18.
func (d Decimal) DecMul(o Decimal) Decimal {
	half := DecimalPrecision.DivUint64(2)
	var prod uint256.Int
	if _, overflow := prod.MulOverflow(&d.v, &o.v); overflow {
		wide := new(big.Int).Mul(d.BigInt(), o.BigInt())
		wide.Add(wide, half.BigInt())
		wide.Quo(wide, DecimalPrecision.BigInt())
		r, overflow := uint256.FromBig(wide)
		if overflow {
			panic(fmt.Sprintf("FATAL: decimal overflow %s * %s", d.RawString(), o.RawString()))
		}
		return Decimal{v: *r}
	}
	return Decimal{v: prod}.Add(half).Div(DecimalPrecision)
}

// DecDiv is the 18-decimal quotient d * 1e18 / o, truncating.
func (d Decimal) DecDiv(o Decimal) Decimal {
	return d.MulDiv(DecimalPrecision, o)
}
