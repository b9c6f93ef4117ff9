package core_test

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Test: Snapshot / Restore
// ============================================================================

func TestSnapshot_RestoreReproducesState(t *testing.T) {
	h := newHarness(t, testParams())
	whale, bob, alice, carol := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	h.open(whale, units(100), units(1000))
	h.open(bob, units(100), units(1000))
	h.open(alice, units(10), units(700))
	h.open(carol, units(10), units(600))
	h.provide(bob, units(300))
	h.setPrice(units(70))
	h.liquidate(uuid.New(), alice)
	replayed := &event.FundCollateral{Header: h.header(), Owner: whale, Amount: units(1)}
	h.apply(replayed)

	raw, err := json.Marshal(h.core.CreateSnapshotState())
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var snap core.SnapshotState
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	restored := newHarness(t, testParams())
	if err := restored.core.RestoreFromSnapshot(&snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.core.GetSequence() != h.core.GetSequence() {
		t.Errorf("sequence: got %d, want %d", restored.core.GetSequence(), h.core.GetSequence())
	}
	if restored.core.GetStateHash() != h.core.GetStateHash() {
		t.Error("state hash differs after restore")
	}
	if !restored.core.Price().Eq(units(70)) {
		t.Errorf("price: got %s", restored.core.Price())
	}
	want, got := h.core.SystemTotals(), restored.core.SystemTotals()
	if !got.Debt.Eq(want.Debt) || !got.Collateral.Eq(want.Collateral) || got.Positions != want.Positions {
		t.Errorf("system totals: got %+v, want %+v", got, want)
	}
	for _, id := range []uuid.UUID{whale, bob, carol} {
		a, b := h.position(id), restored.position(id)
		if !a.EntireDebt.Eq(b.EntireDebt) || !a.EntireCollateral.Eq(b.EntireCollateral) || !a.Stake.Eq(b.Stake) {
			t.Errorf("position %s differs after restore", id)
		}
	}
	if a, b := h.core.Deposit(bob), restored.core.Deposit(bob); !a.Compounded.Eq(b.Compounded) || !a.CollateralGain.Eq(b.CollateralGain) {
		t.Error("deposit differs after restore")
	}

	if _, err := restored.core.ProcessCommand(replayed); !errors.Is(err, core.ErrDuplicateCommand) {
		t.Errorf("restored core should remember processed commands, got %v", err)
	}

	// The same commands must produce the same hashes on both cores.
	fund := &event.FundCollateral{Header: h.header(), Owner: carol, Amount: units(1)}
	adjust := &event.AdjustPosition{Header: h.header(), Owner: carol, CollDeposit: units(1)}
	for _, cmd := range []event.Command{fund, adjust} {
		a := h.apply(cmd)
		b, err := restored.core.ProcessCommand(cmd)
		if err != nil {
			t.Fatalf("restored core rejected %s: %v", cmd.EventType(), err)
		}
		if a.Envelope.StateHash != b.Envelope.StateHash {
			t.Errorf("cores diverged at %s", cmd.EventType())
		}
	}
}
