package math_test

import (
	fpmath "TroveLedger/internal/math"
	"encoding/json"
	"testing"
)

// ============================================================================
// Test: Parse / String
// ============================================================================

func TestParse_RoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		raw  string
		want string
	}{
		{"1", "1000000000000000000", "1"},
		{"1.5", "1500000000000000000", "1.5"},
		{"0.005", "5000000000000000", "0.005"},
		{"200", "200000000000000000000", "200"},
		{"0.000000000000000001", "1", "0.000000000000000001"},
	}

	for _, tt := range tests {
		d, err := fpmath.Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.in, err)
		}
		if d.RawString() != tt.raw {
			t.Errorf("Parse(%q) raw: got %s, want %s", tt.in, d.RawString(), tt.raw)
		}
		if d.String() != tt.want {
			t.Errorf("Parse(%q) string: got %s, want %s", tt.in, d.String(), tt.want)
		}
	}
}

func TestParse_TruncatesBeyondPrecision(t *testing.T) {
	d := fpmath.MustParse("0.0000000000000000019")
	if d.RawString() != "1" {
		t.Errorf("got %s, want 1", d.RawString())
	}
}

func TestParse_RejectsNegativeAndGarbage(t *testing.T) {
	for _, in := range []string{"-1", "abc", ""} {
		if _, err := fpmath.Parse(in); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestDecimal_JSONUsesDecimalString(t *testing.T) {
	type wrapper struct {
		Amount fpmath.Decimal `json:"amount"`
	}
	b, err := json.Marshal(wrapper{Amount: fpmath.MustParse("2.25")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"amount":"2.25"}` {
		t.Errorf("got %s", b)
	}

	var back wrapper
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Amount.Eq(fpmath.MustParse("2.25")) {
		t.Errorf("round trip: got %s", back.Amount)
	}
}

// ============================================================================
// Test: Arithmetic
// ============================================================================

func TestDecimal_RawArithmetic(t *testing.T) {
	a := fpmath.FromUnits(3)
	b := fpmath.FromUnits(2)

	if got := a.Add(b); !got.Eq(fpmath.FromUnits(5)) {
		t.Errorf("add: got %s", got)
	}
	if got := a.Sub(b); !got.Eq(fpmath.FromUnits(1)) {
		t.Errorf("sub: got %s", got)
	}
	if got := a.DivUint64(2); !got.Eq(fpmath.MustParse("1.5")) {
		t.Errorf("div: got %s", got)
	}
	if got := b.SubFloor(a); !got.IsZero() {
		t.Errorf("sub floor: got %s, want 0", got)
	}
}

func TestDecimal_SubUnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on underflow")
		}
	}()
	fpmath.FromUnits(1).Sub(fpmath.FromUnits(2))
}

func TestDecimal_DivByZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on zero divisor")
		}
	}()
	fpmath.FromUnits(1).Div(fpmath.Zero())
}

func TestDecimal_MulDivWideIntermediate(t *testing.T) {
	// 1e54 * 1e54 is far above 2^256.
	wide := fpmath.FromUnits(1).Mul(fpmath.FromUnits(1_000_000_000_000_000_000))
	got := wide.MulDiv(wide, wide)
	if !got.Eq(wide) {
		t.Errorf("got %s, want %s", got.RawString(), wide.RawString())
	}
}

func TestDecimal_DecMulRoundsHalfUp(t *testing.T) {
	// 1.5e-18 is not representable: 3 raw * 0.5 = 1.5 raw rounds to 2.
	got := fpmath.FromRaw(3).DecMul(fpmath.MustParse("0.5"))
	if got.RawString() != "2" {
		t.Errorf("got %s, want 2", got.RawString())
	}
}

func TestDecimal_DecMulRoundsHalfUpOnWideProduct(t *testing.T) {
	// (1e60 + 1) raw * 1.5 overflows 256 bits before scaling down and
	// leaves exactly half a raw unit.
	a, err := fpmath.FromRawString("1000000000000000000000000000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("FromRawString: %v", err)
	}
	got := a.DecMul(fpmath.MustParse("1.5"))
	want := "1500000000000000000000000000000000000000000000000000000000002"
	if got.RawString() != want {
		t.Errorf("got %s, want %s", got.RawString(), want)
	}
	if !got.Eq(fpmath.MustParse("1.5").DecMul(a)) {
		t.Error("DecMul should be commutative on the wide path")
	}
}

func TestMinMax(t *testing.T) {
	a := fpmath.FromUnits(1)
	b := fpmath.FromUnits(2)
	if !fpmath.Min(a, b).Eq(a) || !fpmath.MaxOf(a, b).Eq(b) {
		t.Error("min/max mismatch")
	}
}
