package core_test

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/state"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func (h *harness) liquidate(liquidator, id uuid.UUID) *core.LiquidationTotals {
	h.t.Helper()
	out := h.apply(&event.Liquidate{Header: h.header(), Liquidator: liquidator, Position: id})
	return out.Result.(*core.LiquidationTotals)
}

// ============================================================================
// Test: Offset against the Stability Pool
// ============================================================================

func TestLiquidate_OffsetsAgainstStabilityPool(t *testing.T) {
	h := newHarness(t, testParams())
	whale, alice, liquidator := uuid.New(), uuid.New(), uuid.New()
	h.open(whale, units(100), units(1000))
	h.open(alice, units(10), units(700))
	h.provide(whale, units(800))

	h.setPrice(units(70))
	totals := h.liquidate(liquidator, alice)

	if len(totals.Liquidated) != 1 || totals.Liquidated[0] != alice {
		t.Fatalf("liquidated: got %v", totals.Liquidated)
	}
	if !totals.DebtToOffset.Eq(units(710)) || !totals.CollToSendToSP.Eq(units(10)) {
		t.Errorf("offset: debt=%s coll=%s", totals.DebtToOffset, totals.CollToSendToSP)
	}
	if !totals.DebtToRedistribute.IsZero() {
		t.Errorf("nothing should be redistributed, got %s", totals.DebtToRedistribute)
	}
	if v := h.position(alice); v.Status != state.StatusClosedByLiquidation {
		t.Errorf("status: got %s", v.Status)
	}
	if !h.debtBalance(liquidator).Eq(units(10)) {
		t.Errorf("liquidator gas compensation: got %s, want 10", h.debtBalance(liquidator))
	}

	pool := h.core.StabilityPool()
	if !pool.TotalDeposits.Eq(units(90)) || !pool.Collateral.Eq(units(10)) {
		t.Errorf("pool: deposits=%s coll=%s", pool.TotalDeposits, pool.Collateral)
	}
	dep := h.core.Deposit(whale)
	if dep.Compounded.Gt(units(90)) || dep.Compounded.Lt(dec("89.999999")) {
		t.Errorf("compounded deposit: got %s, want ~90", dep.Compounded)
	}
	if dep.CollateralGain.Gt(units(10)) || dep.CollateralGain.Lt(dec("9.999999")) {
		t.Errorf("collateral gain: got %s, want ~10", dep.CollateralGain)
	}
	h.requireSupplyMatchesDebt()
}

func TestWithdrawCollateralGainToPosition(t *testing.T) {
	h := newHarness(t, testParams())
	whale, alice := uuid.New(), uuid.New()
	h.open(whale, units(100), units(1000))
	h.open(alice, units(10), units(700))
	h.provide(whale, units(800))
	h.setPrice(units(70))
	h.liquidate(uuid.New(), alice)

	gain := h.core.Deposit(whale).CollateralGain
	h.apply(&event.WithdrawCollateralGainToPosition{Header: h.header(), Depositor: whale})

	if v := h.position(whale); !v.Collateral.Eq(units(100).Add(gain)) {
		t.Errorf("position collateral: got %s, want 100 + %s", v.Collateral, gain)
	}
	if got := h.core.Deposit(whale).CollateralGain; !got.IsZero() {
		t.Errorf("gain should be paid out, still %s", got)
	}
	if _, err := h.core.ProcessCommand(&event.WithdrawCollateralGainToPosition{Header: h.header(), Depositor: whale}); err == nil {
		t.Error("second withdrawal without gain should fail")
	}
}

// ============================================================================
// Test: Redistribution
// ============================================================================

func TestLiquidate_RedistributesWhenPoolEmpty(t *testing.T) {
	h := newHarness(t, testParams())
	whale, bob, alice := uuid.New(), uuid.New(), uuid.New()
	h.open(whale, units(100), units(1000))
	h.open(bob, units(100), units(1000))
	h.open(alice, units(10), units(700))

	h.setPrice(units(70))
	totals := h.liquidate(uuid.New(), alice)

	if !totals.DebtToRedistribute.Eq(units(710)) || !totals.CollToRedistribute.Eq(units(10)) {
		t.Fatalf("redistribution: debt=%s coll=%s", totals.DebtToRedistribute, totals.CollToRedistribute)
	}

	v := h.position(whale)
	if !v.PendingDebt.Eq(units(355)) || !v.PendingCollateral.Eq(units(5)) {
		t.Errorf("pending: debt=%s coll=%s, want 355 and 5", v.PendingDebt, v.PendingCollateral)
	}
	if !v.EntireDebt.Eq(units(1365)) || !v.EntireCollateral.Eq(units(105)) {
		t.Errorf("entire: debt=%s coll=%s", v.EntireDebt, v.EntireCollateral)
	}
	sys := h.core.SystemTotals()
	if !sys.Debt.Eq(units(2730)) || !sys.Collateral.Eq(units(210)) {
		t.Errorf("system totals changed: debt=%s coll=%s", sys.Debt, sys.Collateral)
	}
	h.requireSupplyMatchesDebt()

	// Touching the position applies its pending share.
	h.fund(whale, units(1))
	h.apply(&event.AdjustPosition{Header: h.header(), Owner: whale, CollDeposit: units(1)})

	v = h.position(whale)
	if !v.Debt.Eq(units(1365)) || !v.Collateral.Eq(units(106)) {
		t.Errorf("after adjust: debt=%s coll=%s", v.Debt, v.Collateral)
	}
	if !v.PendingDebt.IsZero() || !v.PendingCollateral.IsZero() {
		t.Error("pending rewards should be applied")
	}
	defaultColl := ledger.NewSystemAccountKey(ledger.SubTypeDefaultPool, ledger.AssetCollateral)
	if got := h.core.AccountBalance(defaultColl); !got.Eq(units(5)) {
		t.Errorf("default pool collateral: got %s, want bob's 5", got)
	}
	h.requireSupplyMatchesDebt()
	h.requireOrdered()
}

func TestLiquidate_PartialOffsetThenRedistribute(t *testing.T) {
	p := testParams()
	p.PercentDivisor = 200
	h := newHarness(t, p)
	whale, bob, alice, liquidator := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	h.open(whale, units(100), units(1000))
	h.open(bob, units(100), units(1000))
	h.open(alice, units(10), units(700))
	h.provide(whale, units(300))

	h.setPrice(units(70))
	out := h.apply(&event.Liquidate{Header: h.header(), Liquidator: liquidator, Position: alice})
	totals := out.Result.(*core.LiquidationTotals)

	// 0.05 of alice's 10 goes to the liquidator; the other 9.95 is split
	// 300:410 between the pool and the redistribution.
	collToSP := raw(t, "4204225352112676056")
	collToRedistribute := raw(t, "5745774647887323944")
	if !totals.CollGasCompensation.Eq(dec("0.05")) {
		t.Errorf("coll gas compensation: got %s, want 0.05", totals.CollGasCompensation)
	}
	if !totals.DebtToOffset.Eq(units(300)) || !totals.CollToSendToSP.Eq(collToSP) {
		t.Errorf("offset: debt=%s coll=%s", totals.DebtToOffset, totals.CollToSendToSP)
	}
	if !totals.DebtToRedistribute.Eq(units(410)) || !totals.CollToRedistribute.Eq(collToRedistribute) {
		t.Errorf("redistribution: debt=%s coll=%s", totals.DebtToRedistribute, totals.CollToRedistribute)
	}
	if !h.collBalance(liquidator).Eq(dec("0.05")) || !h.debtBalance(liquidator).Eq(units(10)) {
		t.Errorf("liquidator: coll=%s debt=%s", h.collBalance(liquidator), h.debtBalance(liquidator))
	}

	// The offset consumed every deposit, so the pool moved to a new epoch.
	if !hasEvent(out.Events, event.EventTypeEpochUpdated) {
		t.Error("emptying the pool should start a new epoch")
	}
	pool := h.core.StabilityPool()
	if pool.Epoch != 1 || !pool.TotalDeposits.IsZero() || !pool.Collateral.Eq(collToSP) {
		t.Errorf("pool: epoch=%d deposits=%s coll=%s", pool.Epoch, pool.TotalDeposits, pool.Collateral)
	}
	dep := h.core.Deposit(whale)
	if !dep.Compounded.IsZero() {
		t.Errorf("compounded deposit: got %s, want 0", dep.Compounded)
	}
	if !dep.CollateralGain.Eq(raw(t, "4204225352112675900")) {
		t.Errorf("depositor gain: got %s", dep.CollateralGain.RawString())
	}

	// Whale and bob hold equal stakes and share the redistribution evenly.
	for _, id := range []uuid.UUID{whale, bob} {
		v := h.position(id)
		if !v.PendingDebt.Eq(units(205)) || !v.PendingCollateral.Eq(raw(t, "2872887323943661900")) {
			t.Errorf("pending: debt=%s coll=%s", v.PendingDebt, v.PendingCollateral.RawString())
		}
	}
	sys := h.core.SystemTotals()
	if !sys.Debt.Eq(units(2430)) {
		t.Errorf("system debt: got %s, want 2430", sys.Debt)
	}
	h.requireSupplyMatchesDebt()
}

// A and B open; B is redistributed to A. C and D open at the new stake ratio
// and D is redistributed. A's stake of 1 against C's 0.5 earns it 2/3 of D.
func TestLiquidate_RedistributionSharesFollowStakeSnapshots(t *testing.T) {
	h := newHarness(t, testParams())
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	h.setPrice(units(1000))
	h.open(a, units(1), units(90))
	h.open(b, units(1), units(390))

	h.setPrice(units(400))
	totals := h.liquidate(uuid.New(), b)
	if !totals.DebtToOffset.IsZero() || !totals.CollToRedistribute.Eq(units(1)) {
		t.Fatalf("b: offset=%s redistributed coll=%s", totals.DebtToOffset, totals.CollToRedistribute)
	}
	if v := h.position(a); !v.EntireCollateral.Eq(units(2)) {
		t.Fatalf("a after first liquidation: got %s, want 2", v.EntireCollateral)
	}

	h.setPrice(units(1000))
	if res := h.open(c, units(1), units(90)); !res.Stake.Eq(dec("0.5")) {
		t.Errorf("c stake: got %s, want 0.5", res.Stake)
	}
	if res := h.open(d, units(1), units(390)); !res.Stake.Eq(dec("0.5")) {
		t.Errorf("d stake: got %s, want 0.5", res.Stake)
	}

	h.setPrice(units(400))
	h.liquidate(uuid.New(), d)

	if v := h.position(a); !v.EntireCollateral.Eq(raw(t, "2666666666666666666")) {
		t.Errorf("a collateral: got %s, want 2.666666666666666666", v.EntireCollateral)
	}
	if v := h.position(c); !v.EntireCollateral.Eq(raw(t, "1333333333333333333")) {
		t.Errorf("c collateral: got %s, want 1.333333333333333333", v.EntireCollateral)
	}
	if sys := h.core.SystemTotals(); !sys.Collateral.Eq(units(4)) {
		t.Errorf("system collateral: got %s, want 4", sys.Collateral)
	}
	h.requireSupplyMatchesDebt()
}

// ============================================================================
// Test: Recovery mode
// ============================================================================

func TestLiquidate_RecoveryModeCapsAtMCR(t *testing.T) {
	h := newHarness(t, testParams())
	whale, alice := uuid.New(), uuid.New()
	h.open(whale, units(20), units(1000))
	h.open(alice, units(12), units(800))
	h.provide(whale, units(1000))

	h.setPrice(units(80))
	if !h.core.SystemTotals().RecoveryMode {
		t.Fatalf("expected recovery mode, TCR %s", h.core.SystemTotals().TCR)
	}

	totals := h.liquidate(uuid.New(), alice)

	if !totals.RecoveryMode {
		t.Error("totals should record recovery mode")
	}
	if !totals.CollToSendToSP.Eq(dec("11.1375")) {
		t.Errorf("capped collateral: got %s, want 11.1375", totals.CollToSendToSP)
	}
	if !totals.CollSurplus.Eq(dec("0.8625")) {
		t.Errorf("surplus: got %s, want 0.8625", totals.CollSurplus)
	}
	if got := h.core.CollateralSurplus(alice); !got.Eq(dec("0.8625")) {
		t.Errorf("claimable: got %s", got)
	}

	out := h.apply(&event.ClaimCollateralSurplus{Header: h.header(), Owner: alice})
	if !hasEvent(out.Events, event.EventTypeCollateralSurplusClaimed) {
		t.Error("missing CollateralSurplusClaimed event")
	}
	if !h.collBalance(alice).Eq(dec("0.8625")) {
		t.Errorf("alice collateral after claim: got %s", h.collBalance(alice))
	}
	if _, err := h.core.ProcessCommand(&event.ClaimCollateralSurplus{Header: h.header(), Owner: alice}); !errors.Is(err, state.ErrNoSurplus) {
		t.Errorf("second claim: got %v, want ErrNoSurplus", err)
	}
	h.requireSupplyMatchesDebt()
}

func TestLiquidate_LastPositionRefused(t *testing.T) {
	h := newHarness(t, testParams())
	alice := uuid.New()
	h.open(alice, units(10), units(500))
	h.setPrice(units(50))

	_, err := h.core.ProcessCommand(&event.Liquidate{Header: h.header(), Liquidator: uuid.New(), Position: alice})
	if !errors.Is(err, core.ErrOnlyOnePosition) {
		t.Fatalf("got %v, want ErrOnlyOnePosition", err)
	}
	if v := h.position(alice); v.Status != state.StatusActive {
		t.Errorf("position should stay active, got %s", v.Status)
	}
}

// ============================================================================
// Test: Batch liquidation
// ============================================================================

func TestLiquidatePositions_NothingQualifiesIsNoOp(t *testing.T) {
	h := newHarness(t, testParams())
	h.open(uuid.New(), units(100), units(1000))
	h.open(uuid.New(), units(10), units(500))

	before := h.core.SystemTotals()
	out := h.apply(&event.LiquidatePositions{Header: h.header(), Liquidator: uuid.New(), MaxCount: 10})

	if totals := out.Result.(*core.LiquidationTotals); len(totals.Liquidated) != 0 {
		t.Errorf("nothing should be liquidated, got %v", totals.Liquidated)
	}
	if out.Batch != nil {
		t.Error("no-op liquidation should move no tokens")
	}
	if after := h.core.SystemTotals(); !after.Debt.Eq(before.Debt) || after.Positions != before.Positions {
		t.Error("no-op liquidation changed the system")
	}

	if _, err := h.core.ProcessCommand(&event.LiquidatePositions{Header: h.header(), Liquidator: uuid.New()}); !errors.Is(err, core.ErrZeroAmount) {
		t.Errorf("zero max count: got %v, want ErrZeroAmount", err)
	}
}

func TestLiquidatePositions_WalksFromLowestRatio(t *testing.T) {
	h := newHarness(t, testParams())
	whale, alice, bob := uuid.New(), uuid.New(), uuid.New()
	h.open(whale, units(100), units(2000))
	h.open(alice, units(10), units(650))
	h.open(bob, units(10), units(700))
	h.provide(whale, units(1500))

	h.setPrice(units(70))
	out := h.apply(&event.LiquidatePositions{Header: h.header(), Liquidator: uuid.New(), MaxCount: 10})
	totals := out.Result.(*core.LiquidationTotals)

	if len(totals.Liquidated) != 2 || totals.Liquidated[0] != bob || totals.Liquidated[1] != alice {
		t.Fatalf("liquidation order: got %v, want [bob alice]", totals.Liquidated)
	}
	if !totals.DebtToOffset.Eq(units(1370)) {
		t.Errorf("offset: got %s, want 1370", totals.DebtToOffset)
	}
	if got := h.core.SortedPositions(); len(got) != 1 || got[0] != whale {
		t.Errorf("remaining: got %v", got)
	}
	if !hasEvent(out.Events, event.EventTypeLiquidation) || !hasEvent(out.Events, event.EventTypeProductUpdated) {
		t.Error("missing liquidation or product events")
	}
	h.requireSupplyMatchesDebt()
}

func TestBatchLiquidate_SkipsHealthyAndUnknown(t *testing.T) {
	h := newHarness(t, testParams())
	whale, alice := uuid.New(), uuid.New()
	h.open(whale, units(100), units(1000))
	h.open(alice, units(10), units(700))
	h.setPrice(units(70))

	out := h.apply(&event.BatchLiquidate{
		Header:     h.header(),
		Liquidator: uuid.New(),
		Positions:  []uuid.UUID{uuid.New(), whale, alice},
	})
	totals := out.Result.(*core.LiquidationTotals)
	if len(totals.Liquidated) != 1 || totals.Liquidated[0] != alice {
		t.Errorf("liquidated: got %v, want [alice]", totals.Liquidated)
	}

	if _, err := h.core.ProcessCommand(&event.BatchLiquidate{Header: h.header(), Liquidator: uuid.New()}); !errors.Is(err, core.ErrZeroAmount) {
		t.Errorf("empty list: got %v, want ErrZeroAmount", err)
	}
}

func TestWithdrawFromSP_BlockedByUndercollateralized(t *testing.T) {
	h := newHarness(t, testParams())
	whale, alice := uuid.New(), uuid.New()
	h.open(whale, units(100), units(1000))
	h.open(alice, units(10), units(700))
	h.provide(whale, units(500))
	h.setPrice(units(70))

	_, err := h.core.ProcessCommand(&event.WithdrawFromSP{Header: h.header(), Depositor: whale, Amount: units(100)})
	if !errors.Is(err, core.ErrUndercollateralizedPositions) {
		t.Errorf("got %v, want ErrUndercollateralizedPositions", err)
	}

	// A zero withdrawal only claims gains and is always allowed.
	h.apply(&event.WithdrawFromSP{Header: h.header(), Depositor: whale})
	if !h.core.StabilityPool().TotalDeposits.Eq(units(500)) {
		t.Errorf("deposits: got %s", h.core.StabilityPool().TotalDeposits)
	}
}
