package projection_test

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/projection"
	"testing"
	"time"

	"github.com/google/uuid"
)

func names(stmts []projection.Statement) []string {
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.Name
	}
	return out
}

// ============================================================================
// Test: Plan
// ============================================================================

func TestPlan_BalancesMoveBothSides(t *testing.T) {
	out := projection.ProjectionOutput{
		Sequence: 4,
		JournalEntries: []projection.JournalEntry{
			{DebitAccount: "user:a:wallet:DEBT", CreditAccount: "external:issuer:DEBT", AssetID: 2, Amount: "5000"},
		},
	}

	stmts := projection.Plan(out)
	if len(stmts) != 3 {
		t.Fatalf("got %v, want two balance writes and a watermark", names(stmts))
	}
	if stmts[0].Args[0] != "user:a:wallet:DEBT" || stmts[0].Args[2] != "5000" {
		t.Errorf("debit side: %v", stmts[0].Args)
	}
	if stmts[1].Args[0] != "external:issuer:DEBT" || stmts[1].Args[2] != "-5000" {
		t.Errorf("credit side: %v", stmts[1].Args)
	}
	if stmts[2].Name != "watermark" || stmts[2].Args[0] != int64(4) {
		t.Errorf("watermark: %+v", stmts[2])
	}
}

func TestPlan_PositionStatusFollowsOperation(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		op   string
		want string
	}{
		{"open", projection.StatusActive},
		{"adjust", projection.StatusActive},
		{"redeem", projection.StatusActive},
		{"close", projection.StatusClosedByOwner},
		{"redeem_close", projection.StatusClosedByRedemption},
	}

	for _, tt := range tests {
		stmts := projection.Plan(projection.ProjectionOutput{
			Sequence: 1,
			Events:   []event.Event{&event.PositionUpdated{Position: id, Operation: tt.op}},
		})
		if stmts[0].Name != "position" {
			t.Fatalf("%s: got %v", tt.op, names(stmts))
		}
		if got := stmts[0].Args[4]; got != tt.want {
			t.Errorf("%s: status %v, want %s", tt.op, got, tt.want)
		}
	}
}

func TestPlan_LiquidationAndRedemption(t *testing.T) {
	pos := uuid.New()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	stmts := projection.Plan(projection.ProjectionOutput{
		Sequence:  9,
		Timestamp: ts,
		Events: []event.Event{
			&event.PositionLiquidated{Position: pos, Mode: "normal", Debt: fpmath.FromUnits(700), Collateral: fpmath.FromUnits(10)},
			&event.Liquidation{},
			&event.Redemption{Redeemer: uuid.New(), Actual: fpmath.FromUnits(1)},
			&event.DepositChanged{Depositor: uuid.New(), NewDeposit: fpmath.FromUnits(3)},
			&event.StakeChanged{Staker: uuid.New(), NewStake: fpmath.FromUnits(8)},
			&event.FeeRewardsUpdated{},
		},
	})

	want := []string{"position_liquidated", "liquidation_history", "redemption_history", "sp_deposit", "fee_stake", "watermark"}
	got := names(stmts)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statement %d: got %s, want %s", i, got[i], want[i])
		}
	}
	if stmts[1].Args[3] != fpmath.FromUnits(700).RawString() {
		t.Errorf("liquidated debt stored as %v", stmts[1].Args[3])
	}
	if stmts[3].Args[1] != fpmath.FromUnits(3).RawString() {
		t.Errorf("deposit stored as %v", stmts[3].Args[1])
	}
	if stmts[4].Args[1] != fpmath.FromUnits(8).RawString() {
		t.Errorf("stake stored as %v", stmts[4].Args[1])
	}
}

func TestNewProjectionOutput(t *testing.T) {
	owner := uuid.New()
	env := &event.EventEnvelope{Sequence: 2, EventType: event.EventTypeFundCollateral, Timestamp: time.Unix(10, 0)}
	batch := &ledger.Batch{Journals: []ledger.Journal{{
		DebitAccount:  ledger.NewUserAccountKey(owner, ledger.AssetCollateral),
		CreditAccount: ledger.NewExternalAccountKey(ledger.AssetCollateral),
		AssetID:       ledger.AssetCollateral,
		Amount:        fpmath.FromUnits(2),
	}}}

	out := projection.NewProjectionOutput(env, batch, nil)
	if out.EventType != "FundCollateral" || len(out.JournalEntries) != 1 {
		t.Fatalf("unexpected output: %+v", out)
	}
	if out.JournalEntries[0].Amount != "2000000000000000000" {
		t.Errorf("amount: got %s", out.JournalEntries[0].Amount)
	}
	if out.JournalEntries[0].DebitAccount != "user:"+owner.String()+":wallet:COLL" {
		t.Errorf("debit account: got %s", out.JournalEntries[0].DebitAccount)
	}
}
