package core_test

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/stability"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func (h *harness) stake(staker uuid.UUID, amount fpmath.Decimal) *stability.StakingPayout {
	h.t.Helper()
	return h.apply(&event.StakeRewards{Header: h.header(), Staker: staker, Amount: amount}).Result.(*stability.StakingPayout)
}

func (h *harness) rewardBalance(owner uuid.UUID) fpmath.Decimal {
	return h.core.BalanceOf(owner, ledger.AssetReward)
}

// earnRewards gives each depositor reward tokens by keeping a deposit in
// the pool for a day and then claiming.
func (h *harness) earnRewards(funder uuid.UUID, depositors ...uuid.UUID) {
	h.t.Helper()
	for _, d := range depositors {
		h.apply(&event.TransferDebt{Header: h.header(), From: funder, To: d, Amount: units(100)})
		h.provide(d, units(100))
	}
	h.now = h.now.Add(24 * time.Hour)
	for _, d := range depositors {
		h.apply(&event.WithdrawFromSP{Header: h.header(), Depositor: d, Amount: fpmath.Zero()})
		if h.rewardBalance(d).Lt(units(300)) {
			h.t.Fatalf("depositor %s earned only %s reward tokens", d, h.rewardBalance(d))
		}
	}
}

// ============================================================================
// Test: Fee distribution to stakers
// ============================================================================

func TestStaking_FeesFlowToStakersProRata(t *testing.T) {
	p := testParams()
	p.BorrowingFeeFloor = dec("0.005")
	h := newHarness(t, p)
	whale, carol, alice, bob := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	// 10 borrowing fee with nothing staked is held for the next fee.
	h.open(whale, units(100), units(2000))
	h.earnRewards(whale, alice, bob)
	aliceRewards := h.rewardBalance(alice)

	h.stake(alice, units(100))
	h.stake(bob, units(300))

	res := h.open(carol, units(50), units(2000))
	if !res.BorrowingFee.Eq(units(10)) {
		t.Fatalf("carol fee: got %s, want 10", res.BorrowingFee)
	}
	// (10 held + 10 new) / 400 staked
	if v := h.core.Stake(alice); !v.DebtGain.Eq(units(5)) {
		t.Errorf("alice debt gain: got %s, want 5", v.DebtGain)
	}
	if v := h.core.Stake(bob); !v.DebtGain.Eq(units(15)) {
		t.Errorf("bob debt gain: got %s, want 15", v.DebtGain)
	}

	redeem := &event.Redeem{Header: h.header(), Redeemer: whale, Amount: units(100), MaxFeePercentage: fpmath.One()}
	out := h.apply(redeem)
	totals := out.Result.(*core.RedemptionTotals)
	if totals.Redeemed[0] != carol || totals.CollFee.IsZero() {
		t.Fatalf("redemption: redeemed %v fee %s", totals.Redeemed, totals.CollFee)
	}
	if !hasEvent(out.Events, event.EventTypeFeeRewardsUpdated) {
		t.Error("redemption should credit the fee to stakers")
	}

	perUnit := totals.CollFee.MulDiv(fpmath.One(), units(400))
	wantAlice := units(100).MulDiv(perUnit, fpmath.One())
	wantBob := units(300).MulDiv(perUnit, fpmath.One())
	aliceView, bobView := h.core.Stake(alice), h.core.Stake(bob)
	if !aliceView.CollateralGain.Eq(wantAlice) || !bobView.CollateralGain.Eq(wantBob) {
		t.Errorf("coll gains: alice %s bob %s, want %s and %s", aliceView.CollateralGain, bobView.CollateralGain, wantAlice, wantBob)
	}
	if aliceView.CollateralGain.Add(bobView.CollateralGain).Gt(totals.CollFee) {
		t.Error("stakers cannot be owed more than the fee")
	}

	unstake := h.apply(&event.UnstakeRewards{Header: h.header(), Staker: alice, Amount: units(1000)})
	payout := unstake.Result.(*stability.StakingPayout)
	if !payout.Withdrawn.Eq(units(100)) || !payout.NewStake.IsZero() {
		t.Errorf("unstake: withdrawn %s new stake %s", payout.Withdrawn, payout.NewStake)
	}
	if !hasEvent(unstake.Events, event.EventTypeStakingGainsWithdrawn) {
		t.Error("missing StakingGainsWithdrawn event")
	}
	if !h.debtBalance(alice).Eq(units(5)) {
		t.Errorf("alice debt tokens: got %s, want 5", h.debtBalance(alice))
	}
	if !h.collBalance(alice).Eq(wantAlice) {
		t.Errorf("alice collateral: got %s, want %s", h.collBalance(alice), wantAlice)
	}
	if !h.rewardBalance(alice).Eq(aliceRewards) {
		t.Errorf("alice rewards: got %s, want %s back", h.rewardBalance(alice), aliceRewards)
	}

	staked := ledger.NewSystemAccountKey(ledger.SubTypeFeeStaking, ledger.AssetReward)
	if got := h.core.AccountBalance(staked); !got.Eq(units(300)) {
		t.Errorf("staked reward tokens: got %s, want 300", got)
	}
	if v := h.core.Stake(bob); !v.TotalStaked.Eq(units(300)) || !v.Stake.Eq(units(300)) {
		t.Errorf("bob view: %+v", v)
	}
	h.requireSupplyMatchesDebt()
}

func TestStaking_Rejections(t *testing.T) {
	h := newHarness(t, testParams())
	whale, alice := uuid.New(), uuid.New()
	h.open(whale, units(100), units(2000))

	_, err := h.core.ProcessCommand(&event.StakeRewards{Header: h.header(), Staker: alice, Amount: units(1)})
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Errorf("stake without rewards: got %v, want ErrInsufficientBalance", err)
	}
	_, err = h.core.ProcessCommand(&event.UnstakeRewards{Header: h.header(), Staker: alice, Amount: units(1)})
	if !errors.Is(err, stability.ErrNoStake) {
		t.Errorf("unstake without stake: got %v, want ErrNoStake", err)
	}
	_, err = h.core.ProcessCommand(&event.StakeRewards{Header: h.header(), Staker: alice, Amount: fpmath.Zero()})
	if !errors.Is(err, stability.ErrZeroAmount) {
		t.Errorf("zero stake: got %v, want ErrZeroAmount", err)
	}
	if v := h.core.Stake(alice); !v.TotalStaked.IsZero() {
		t.Errorf("rejected commands must not stake, total %s", v.TotalStaked)
	}
}
