package core_test

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Test: Open / Adjust / Close
// ============================================================================

func TestOpenPosition_AddsGasReserveAndInserts(t *testing.T) {
	h := newHarness(t, testParams())
	alice := uuid.New()

	res := h.open(alice, units(10), units(500))

	if !res.Debt.Eq(units(510)) {
		t.Errorf("composite debt: got %s, want 510", res.Debt)
	}
	if !res.Stake.Eq(units(10)) {
		t.Errorf("first stake should equal collateral, got %s", res.Stake)
	}
	if !h.debtBalance(alice).Eq(units(500)) {
		t.Errorf("alice debt tokens: got %s, want 500", h.debtBalance(alice))
	}
	if !h.collBalance(alice).IsZero() {
		t.Errorf("collateral should be locked, wallet has %s", h.collBalance(alice))
	}
	if got := h.core.SortedPositions(); len(got) != 1 || got[0] != alice {
		t.Errorf("sorted list: got %v", got)
	}
	h.requireSupplyMatchesDebt()
}

func TestOpenPosition_Rejections(t *testing.T) {
	h := newHarness(t, testParams())
	alice := uuid.New()
	h.fund(alice, units(100))

	tests := []struct {
		name string
		coll fpmath.Decimal
		debt fpmath.Decimal
		want error
	}{
		{"zero collateral", fpmath.Zero(), units(500), core.ErrZeroAmount},
		{"below min net debt", units(10), units(89), core.ErrNetDebtBelowMin},
		{"ICR below MCR", units(10), units(900), core.ErrICRBelowMCR},
		{"TCR below CCR", units(10), units(700), core.ErrTCRBelowCCR},
		{"not enough collateral", units(101), units(500), core.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		_, err := h.core.ProcessCommand(h.openCmd(alice, tt.coll, tt.debt))
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}

	h.apply(h.openCmd(alice, units(10), units(500)))
	if _, err := h.core.ProcessCommand(h.openCmd(alice, units(10), units(500))); !errors.Is(err, state.ErrDuplicateID) {
		t.Errorf("second open: got %v, want ErrDuplicateID", err)
	}
}

func TestAdjustAndClose_RoundTrip(t *testing.T) {
	h := newHarness(t, testParams())
	alice, bob := uuid.New(), uuid.New()
	h.open(alice, units(10), units(500))
	h.open(bob, units(10), units(300))

	out := h.apply(&event.AdjustPosition{Header: h.header(), Owner: alice, DebtChange: units(100)})
	res := out.Result.(*core.PositionResult)
	if !res.Debt.Eq(units(410)) {
		t.Errorf("debt after repay: got %s, want 410", res.Debt)
	}
	if !h.debtBalance(alice).Eq(units(400)) {
		t.Errorf("alice balance after repay: got %s, want 400", h.debtBalance(alice))
	}
	h.requireSupplyMatchesDebt()

	h.apply(&event.ClosePosition{Header: h.header(), Owner: alice})

	if !h.collBalance(alice).Eq(units(10)) {
		t.Errorf("collateral returned: got %s, want 10", h.collBalance(alice))
	}
	if !h.debtBalance(alice).IsZero() {
		t.Errorf("alice should have repaid everything, has %s", h.debtBalance(alice))
	}
	if v := h.position(alice); v.Status != state.StatusClosedByOwner {
		t.Errorf("status: got %s, want closed by owner", v.Status)
	}
	if !h.core.Supply(ledger.AssetDebt).Eq(units(310)) {
		t.Errorf("supply: got %s, want 310", h.core.Supply(ledger.AssetDebt))
	}
	h.requireSupplyMatchesDebt()

	if _, err := h.core.ProcessCommand(&event.ClosePosition{Header: h.header(), Owner: bob}); !errors.Is(err, core.ErrOnlyOnePosition) {
		t.Errorf("closing the last position: got %v, want ErrOnlyOnePosition", err)
	}
}

func TestAdjustPosition_Rejections(t *testing.T) {
	h := newHarness(t, testParams())
	alice, bob := uuid.New(), uuid.New()
	h.open(alice, units(10), units(500))
	h.open(bob, units(10), units(300))
	h.fund(alice, units(5))

	tests := []struct {
		name string
		cmd  *event.AdjustPosition
		want error
	}{
		{"no change", &event.AdjustPosition{Owner: alice}, core.ErrNoAdjustment},
		{"both collateral directions", &event.AdjustPosition{Owner: alice, CollDeposit: units(1), CollWithdrawal: units(1)}, core.ErrBothCollChanges},
		{"repay into gas reserve", &event.AdjustPosition{Owner: alice, DebtChange: units(501)}, core.ErrRepaymentTooLarge},
		{"repay below min net debt", &event.AdjustPosition{Owner: alice, DebtChange: units(420)}, core.ErrNetDebtBelowMin},
		{"withdraw too much", &event.AdjustPosition{Owner: alice, CollWithdrawal: units(11)}, core.ErrWithdrawalTooLarge},
		{"withdraw below MCR", &event.AdjustPosition{Owner: alice, CollWithdrawal: units(5)}, core.ErrICRBelowMCR},
		{"unknown owner", &event.AdjustPosition{Owner: uuid.New(), CollDeposit: units(1)}, state.ErrNotFound},
	}
	for _, tt := range tests {
		tt.cmd.Header = h.header()
		if _, err := h.core.ProcessCommand(tt.cmd); !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}

	if v := h.position(alice); !v.Debt.Eq(units(510)) || !v.Collateral.Eq(units(10)) {
		t.Errorf("rejected adjustments must not mutate: debt=%s coll=%s", v.Debt, v.Collateral)
	}
}

func TestAdjustPosition_ReordersList(t *testing.T) {
	h := newHarness(t, testParams())
	alice, bob := uuid.New(), uuid.New()
	h.open(alice, units(10), units(500))
	h.open(bob, units(10), units(300))

	if got := h.core.SortedPositions(); got[0] != bob {
		t.Fatalf("bob should be first, got %v", got)
	}

	h.fund(alice, units(10))
	h.apply(&event.AdjustPosition{Header: h.header(), Owner: alice, CollDeposit: units(10)})

	if got := h.core.SortedPositions(); got[0] != alice {
		t.Errorf("alice should move to the head after topping up, got %v", got)
	}
	h.requireOrdered()
}

// ============================================================================
// Test: Borrowing fee
// ============================================================================

func TestOpenPosition_ChargesBorrowingFee(t *testing.T) {
	p := testParams()
	p.BorrowingFeeFloor = dec("0.005")
	h := newHarness(t, p)
	alice := uuid.New()
	h.fund(alice, units(100))

	low := h.openCmd(alice, units(100), units(1000))
	low.MaxFeePercentage = dec("0.004")
	if _, err := h.core.ProcessCommand(low); !errors.Is(err, core.ErrInvalidMaxFee) {
		t.Fatalf("max fee below floor: got %v, want ErrInvalidMaxFee", err)
	}

	cmd := h.openCmd(alice, units(100), units(1000))
	cmd.MaxFeePercentage = dec("0.05")
	res := h.apply(cmd).Result.(*core.PositionResult)

	if !res.BorrowingFee.Eq(units(5)) {
		t.Errorf("fee: got %s, want 5", res.BorrowingFee)
	}
	if !res.Debt.Eq(units(1015)) {
		t.Errorf("debt: got %s, want 1015", res.Debt)
	}
	feeAccount := ledger.NewSystemAccountKey(ledger.SubTypeFeeStaking, ledger.AssetDebt)
	if got := h.core.AccountBalance(feeAccount); !got.Eq(units(5)) {
		t.Errorf("fee staking account: got %s, want 5", got)
	}
	if !h.debtBalance(alice).Eq(units(1000)) {
		t.Errorf("borrower receives the requested amount, got %s", h.debtBalance(alice))
	}
	h.requireSupplyMatchesDebt()
}

// ============================================================================
// Test: Wallet commands, price, idempotency, hash chain
// ============================================================================

func TestTransferDebt(t *testing.T) {
	h := newHarness(t, testParams())
	alice, bob := uuid.New(), uuid.New()
	h.open(alice, units(10), units(500))

	h.apply(&event.TransferDebt{Header: h.header(), From: alice, To: bob, Amount: units(200)})
	if !h.debtBalance(bob).Eq(units(200)) || !h.debtBalance(alice).Eq(units(300)) {
		t.Errorf("balances: alice=%s bob=%s", h.debtBalance(alice), h.debtBalance(bob))
	}

	if _, err := h.core.ProcessCommand(&event.TransferDebt{Header: h.header(), From: bob, To: alice, Amount: units(201)}); !errors.Is(err, core.ErrInsufficientBalance) {
		t.Errorf("overdraft: got %v", err)
	}
	if _, err := h.core.ProcessCommand(&event.TransferDebt{Header: h.header(), From: bob, To: bob, Amount: units(1)}); !errors.Is(err, core.ErrSelfTransfer) {
		t.Errorf("self transfer: got %v", err)
	}
}

func TestPriceUpdate_SequenceMustIncrease(t *testing.T) {
	h := newHarness(t, testParams())
	h.setPrice(units(90))

	if !h.core.Price().Eq(units(90)) {
		t.Errorf("price: got %s, want 90", h.core.Price())
	}

	replay := &event.PriceUpdate{Header: h.header(), Price: units(80), Sequence: 1}
	if _, err := h.core.ProcessCommand(replay); !errors.Is(err, core.ErrDuplicateCommand) {
		t.Errorf("replayed sequence: got %v, want ErrDuplicateCommand", err)
	}
	stale := &event.PriceUpdate{Header: h.header(), Price: units(80), Sequence: 0}
	if _, err := h.core.ProcessCommand(stale); !errors.Is(err, core.ErrStalePrice) {
		t.Errorf("older sequence: got %v, want ErrStalePrice", err)
	}
	zero := &event.PriceUpdate{Header: h.header(), Price: fpmath.Zero(), Sequence: 5}
	if _, err := h.core.ProcessCommand(zero); !errors.Is(err, core.ErrZeroPrice) {
		t.Errorf("zero price: got %v, want ErrZeroPrice", err)
	}
	if !h.core.Price().Eq(units(90)) {
		t.Errorf("rejected updates must not change the price, got %s", h.core.Price())
	}
}

func TestDuplicateCommand_Rejected(t *testing.T) {
	h := newHarness(t, testParams())
	alice := uuid.New()
	cmd := &event.FundCollateral{Header: h.header(), Owner: alice, Amount: units(3)}

	h.apply(cmd)
	seq := h.core.GetSequence()
	if _, err := h.core.ProcessCommand(cmd); !errors.Is(err, core.ErrDuplicateCommand) {
		t.Fatalf("expected ErrDuplicateCommand, got %v", err)
	}
	if h.core.GetSequence() != seq {
		t.Error("duplicate must not consume a sequence")
	}
	if !h.collBalance(alice).Eq(units(3)) {
		t.Errorf("duplicate must not be applied twice, balance %s", h.collBalance(alice))
	}
}

func TestStateHash_Chains(t *testing.T) {
	h := newHarness(t, testParams())
	alice := uuid.New()
	for i := 0; i < 3; i++ {
		h.fund(alice, units(1))
	}
	if _, err := h.core.ProcessCommand(&event.FundCollateral{Header: h.header(), Owner: alice}); !errors.Is(err, core.ErrZeroAmount) {
		t.Fatalf("zero funding: got %v", err)
	}

	outputs := drainOutputs(h.out)
	if len(outputs) != 3 {
		t.Fatalf("rejected commands produce no output; got %d outputs", len(outputs))
	}
	for i, o := range outputs {
		if o.Envelope.Sequence != int64(i) {
			t.Errorf("output %d: sequence %d", i, o.Envelope.Sequence)
		}
		if i > 0 && o.Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("output %d: prev hash does not chain", i)
		}
	}
	if h.core.GetStateHash() != outputs[2].Envelope.StateHash {
		t.Error("state hash should equal the last envelope hash")
	}
	if outputs[1].Envelope.StateHash == outputs[2].Envelope.StateHash {
		t.Error("state hashes should differ between commands")
	}
}

func TestInsertHints_BracketRatio(t *testing.T) {
	h := newHarness(t, testParams())
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	h.open(alice, units(10), units(200))
	h.open(bob, units(10), units(300))
	h.open(carol, units(10), units(400))

	nicr := fpmath.ComputeNominalCR(units(10), units(260))
	prev, next := h.core.InsertHints(nicr, uuid.Nil, uuid.Nil)
	if prev != alice || next != bob {
		t.Errorf("hints: got (%s, %s), want (alice, bob)", prev, next)
	}
}
