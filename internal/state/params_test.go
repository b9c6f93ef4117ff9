package state_test

import (
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
	"testing"
)

func TestDefaultParams_Valid(t *testing.T) {
	if err := state.ValidateParams(state.DefaultParams()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateParams_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *state.Params)
	}{
		{"mcr not above 1", func(p *state.Params) { p.MCR = fpmath.One() }},
		{"ccr below mcr", func(p *state.Params) { p.CCR = fpmath.MustParse("1.05") }},
		{"zero beta", func(p *state.Params) { p.Beta = 0 }},
		{"decay factor 1", func(p *state.Params) { p.MinuteDecayFactor = fpmath.One() }},
		{"floor above max fee", func(p *state.Params) { p.BorrowingFeeFloor = fpmath.MustParse("0.1") }},
		{"zero list size", func(p *state.Params) { p.MaxSortedListSize = 0 }},
	}
	for _, tt := range tests {
		p := state.DefaultParams()
		tt.mutate(&p)
		if err := state.ValidateParams(p); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestParams_CollGasCompensation(t *testing.T) {
	p := state.DefaultParams()
	if got := p.CollGasCompensation(fpmath.FromUnits(2)); !got.Eq(fpmath.MustParse("0.01")) {
		t.Errorf("got %s, want 0.01", got)
	}
	p.PercentDivisor = 0
	if !p.CollGasCompensation(fpmath.FromUnits(2)).IsZero() {
		t.Error("divisor 0 disables collateral gas compensation")
	}
}

func TestCollSurplusPool_AccountAndClaim(t *testing.T) {
	pool := state.NewCollSurplusPool()
	owner := [16]byte{1}

	pool.AccountSurplus(owner, fpmath.FromUnits(1))
	pool.AccountSurplus(owner, fpmath.FromUnits(2))
	if !pool.Claimable(owner).Eq(fpmath.FromUnits(3)) || !pool.Total().Eq(fpmath.FromUnits(3)) {
		t.Fatalf("claimable: got %s", pool.Claimable(owner))
	}

	got, err := pool.Claim(owner)
	if err != nil || !got.Eq(fpmath.FromUnits(3)) {
		t.Fatalf("claim: %s, %v", got, err)
	}
	if _, err := pool.Claim(owner); err == nil {
		t.Error("second claim should fail")
	}
	if !pool.Total().IsZero() {
		t.Error("total should be zero after claim")
	}
}
