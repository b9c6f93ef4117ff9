package state_test

import (
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Test: Status transitions
// ============================================================================

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to state.Status
		want     bool
	}{
		{state.StatusNonExistent, state.StatusActive, true},
		{state.StatusActive, state.StatusClosedByLiquidation, true},
		{state.StatusActive, state.StatusClosedByRedemption, true},
		{state.StatusActive, state.StatusClosedByOwner, true},
		{state.StatusClosedByRedemption, state.StatusActive, true},
		{state.StatusActive, state.StatusActive, false},
		{state.StatusNonExistent, state.StatusClosedByOwner, false},
		{state.StatusClosedByLiquidation, state.StatusClosedByOwner, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

// ============================================================================
// Test: PositionRegistry
// ============================================================================

func TestPositionRegistry_OpenAndCloseSwapRemove(t *testing.T) {
	r := state.NewPositionRegistry()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		if _, err := r.Open(id, fpmath.FromUnits(1), fpmath.FromUnits(100)); err != nil {
			t.Fatalf("open: %v", err)
		}
	}
	if r.Count() != 4 {
		t.Fatalf("count: got %d", r.Count())
	}

	// Closing index 1 moves the last owner into slot 1.
	if err := r.Close(ids[1], state.StatusClosedByLiquidation); err != nil {
		t.Fatalf("close: %v", err)
	}
	if r.Count() != 3 {
		t.Fatalf("count after close: got %d", r.Count())
	}
	if r.OwnerAt(1) != ids[3] {
		t.Errorf("slot 1 should hold the former last owner")
	}
	if r.Get(ids[3]).ArrayIndex != 1 {
		t.Errorf("moved owner index: got %d, want 1", r.Get(ids[3]).ArrayIndex)
	}

	closed := r.Get(ids[1])
	if closed.Status != state.StatusClosedByLiquidation || !closed.Debt.IsZero() || !closed.Collateral.IsZero() {
		t.Errorf("closed position should be zeroed with status, got %+v", closed)
	}

	for i := 0; i < r.Count(); i++ {
		if r.Get(r.OwnerAt(i)).ArrayIndex != uint64(i) {
			t.Errorf("owner %d has stale index", i)
		}
	}
}

func TestPositionRegistry_CloseLastElement(t *testing.T) {
	r := state.NewPositionRegistry()
	a, b := uuid.New(), uuid.New()
	_, _ = r.Open(a, fpmath.FromUnits(1), fpmath.FromUnits(1))
	_, _ = r.Open(b, fpmath.FromUnits(1), fpmath.FromUnits(1))

	if err := r.Close(b, state.StatusClosedByOwner); err != nil {
		t.Fatal(err)
	}
	if r.Count() != 1 || r.OwnerAt(0) != a {
		t.Error("closing the last slot should leave the first untouched")
	}
}

func TestPositionRegistry_Errors(t *testing.T) {
	r := state.NewPositionRegistry()
	id := uuid.New()

	if _, err := r.Open(uuid.Nil, fpmath.FromUnits(1), fpmath.FromUnits(1)); !errors.Is(err, state.ErrZeroID) {
		t.Errorf("zero id: got %v", err)
	}
	if _, err := r.Open(id, fpmath.FromUnits(1), fpmath.FromUnits(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Open(id, fpmath.FromUnits(1), fpmath.FromUnits(1)); !errors.Is(err, state.ErrDuplicateID) {
		t.Errorf("duplicate: got %v", err)
	}
	if err := r.Close(uuid.New(), state.StatusClosedByOwner); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("close missing: got %v", err)
	}
	if r.Status(uuid.New()) != state.StatusNonExistent {
		t.Error("unknown id should be NonExistent")
	}
}

func TestPositionRegistry_ReopenClosed(t *testing.T) {
	r := state.NewPositionRegistry()
	id := uuid.New()
	_, _ = r.Open(id, fpmath.FromUnits(1), fpmath.FromUnits(1))
	_ = r.Close(id, state.StatusClosedByRedemption)

	pos, err := r.Open(id, fpmath.FromUnits(2), fpmath.FromUnits(3))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !pos.IsActive() || !pos.Collateral.Eq(fpmath.FromUnits(2)) {
		t.Error("reopened position should be active with new values")
	}
}

func TestPositionRegistry_Restore(t *testing.T) {
	r := state.NewPositionRegistry()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	_, _ = r.Open(a, fpmath.FromUnits(1), fpmath.FromUnits(1))
	_, _ = r.Open(b, fpmath.FromUnits(1), fpmath.FromUnits(1))
	_, _ = r.Open(c, fpmath.FromUnits(1), fpmath.FromUnits(1))
	_ = r.Close(a, state.StatusClosedByOwner)

	restored := state.NewPositionRegistry()
	if err := restored.Restore(r.AllPositions()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	owners := restored.Owners()
	want := r.Owners()
	if len(owners) != len(want) {
		t.Fatalf("owner count: got %d, want %d", len(owners), len(want))
	}
	for i := range want {
		if owners[i] != want[i] {
			t.Errorf("owner %d mismatch", i)
		}
	}
}
