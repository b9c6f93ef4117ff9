package ledger_test

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"testing"

	"github.com/google/uuid"
)

func units(n uint64) fpmath.Decimal { return fpmath.FromUnits(n) }

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewUserAccountKey(userID, ledger.AssetDebt)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:wallet:DEBT"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.NewSystemAccountKey(ledger.SubTypeStabilityPool, ledger.AssetCollateral)

	if path := key.AccountPath(); path != "system:stability_pool:COLL" {
		t.Errorf("got %q, want %q", path, "system:stability_pool:COLL")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.AssetReward)

	if path := key.AccountPath(); path != "external:issuer:RWD" {
		t.Errorf("got %q, want %q", path, "external:issuer:RWD")
	}
}

func TestGetAssetID_KnownAndUnknown(t *testing.T) {
	if id, ok := ledger.GetAssetID("DEBT"); !ok || id != ledger.AssetDebt {
		t.Error("DEBT should be a known asset")
	}
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: Ledger mint / burn / transfer
// ============================================================================

func TestLedger_MintTransferBurn(t *testing.T) {
	l := ledger.NewLedger()
	alice := ledger.NewUserAccountKey(uuid.New(), ledger.AssetDebt)
	bob := ledger.NewUserAccountKey(uuid.New(), ledger.AssetDebt)

	if err := l.Mint(alice, units(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Transfer(alice, bob, units(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := l.Burn(bob, units(10)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	if !l.BalanceOf(alice).Eq(units(60)) {
		t.Errorf("alice: got %s, want 60", l.BalanceOf(alice))
	}
	if !l.BalanceOf(bob).Eq(units(30)) {
		t.Errorf("bob: got %s, want 30", l.BalanceOf(bob))
	}
	if !l.Supply(ledger.AssetDebt).Eq(units(90)) {
		t.Errorf("supply: got %s, want 90", l.Supply(ledger.AssetDebt))
	}

	if err := ledger.NewInvariantValidator(l.Tracker()).ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
}

func TestLedger_OverdraftRejectedWithoutMutation(t *testing.T) {
	l := ledger.NewLedger()
	alice := ledger.NewUserAccountKey(uuid.New(), ledger.AssetCollateral)
	bob := ledger.NewUserAccountKey(uuid.New(), ledger.AssetCollateral)
	_ = l.Mint(alice, units(5))

	if err := l.Transfer(alice, bob, units(6)); err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if !l.BalanceOf(alice).Eq(units(5)) || !l.BalanceOf(bob).IsZero() {
		t.Error("failed transfer must not move funds")
	}
	if err := l.Burn(bob, units(1)); err == nil {
		t.Error("burn from empty account should fail")
	}
}

func TestLedger_TransferAssetMismatch(t *testing.T) {
	l := ledger.NewLedger()
	id := uuid.New()
	if err := l.Transfer(ledger.NewUserAccountKey(id, ledger.AssetDebt), ledger.NewUserAccountKey(id, ledger.AssetCollateral), units(1)); err == nil {
		t.Error("cross-asset transfer should fail")
	}
}

func TestLedger_CommandBatchCollectsJournals(t *testing.T) {
	l := ledger.NewLedger()
	alice := ledger.NewUserAccountKey(uuid.New(), ledger.AssetDebt)
	pool := ledger.NewSystemAccountKey(ledger.SubTypeStabilityPool, ledger.AssetDebt)

	l.Begin("cmd-1", 7, 1_000)
	_ = l.Mint(alice, units(10))
	_ = l.Transfer(alice, pool, units(4))
	batch := l.End()

	if batch == nil || len(batch.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %+v", batch)
	}
	for _, j := range batch.Journals {
		if j.BatchID != batch.BatchID || j.EventRef != "cmd-1" || j.Sequence != 7 {
			t.Errorf("journal not stamped with command batch: %+v", j)
		}
	}
	if batch.Journals[0].JournalType != ledger.JournalTypeMint || batch.Journals[1].JournalType != ledger.JournalTypeTransfer {
		t.Error("journal types out of order")
	}

	l.Begin("cmd-2", 8, 2_000)
	if l.End() != nil {
		t.Error("command without token movement should yield no batch")
	}
}

func TestToken_View(t *testing.T) {
	l := ledger.NewLedger()
	debt := l.Token(ledger.AssetDebt)
	user := ledger.NewUserAccountKey(uuid.New(), ledger.AssetCollateral)

	// The view rewrites the asset of any key it is given.
	if err := debt.Mint(user, units(3)); err != nil {
		t.Fatal(err)
	}
	if !debt.BalanceOf(user).Eq(units(3)) || !debt.TotalSupply().Eq(units(3)) {
		t.Error("token view balance mismatch")
	}
	if !l.BalanceOf(user).IsZero() {
		t.Error("collateral balance should be untouched")
	}
}

// ============================================================================
// Test: Vault
// ============================================================================

func TestVault_CollateralAndDebt(t *testing.T) {
	l := ledger.NewLedger()
	active := ledger.NewVault(l, ledger.SubTypeActivePool)
	def := ledger.NewVault(l, ledger.SubTypeDefaultPool)
	owner := ledger.NewUserAccountKey(uuid.New(), ledger.AssetCollateral)
	_ = l.Mint(owner, units(10))

	if err := active.ReceiveCollateral(owner, units(10)); err != nil {
		t.Fatal(err)
	}
	active.IncreaseDebt(units(500))
	if err := active.SendCollateral(def.Account(), units(4)); err != nil {
		t.Fatal(err)
	}
	active.DecreaseDebt(units(200))
	def.IncreaseDebt(units(200))

	if !active.Collateral().Eq(units(6)) || !def.Collateral().Eq(units(4)) {
		t.Errorf("collateral: active=%s default=%s", active.Collateral(), def.Collateral())
	}
	if !active.Debt().Eq(units(300)) || !def.Debt().Eq(units(200)) {
		t.Errorf("debt: active=%s default=%s", active.Debt(), def.Debt())
	}
}

func TestVault_DecreaseDebtUnderflowPanics(t *testing.T) {
	v := ledger.NewVault(ledger.NewLedger(), ledger.SubTypeActivePool)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	v.DecreaseDebt(units(1))
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_Rejects(t *testing.T) {
	batchID := uuid.New()
	user := ledger.NewUserAccountKey(uuid.New(), ledger.AssetDebt)
	issuer := ledger.NewExternalAccountKey(ledger.AssetDebt)

	tests := []struct {
		name string
		j    ledger.Journal
	}{
		{"zero amount", ledger.Journal{BatchID: batchID, DebitAccount: user, CreditAccount: issuer, AssetID: ledger.AssetDebt}},
		{"self transfer", ledger.Journal{BatchID: batchID, DebitAccount: user, CreditAccount: user, AssetID: ledger.AssetDebt, Amount: units(1)}},
		{"mismatched batch", ledger.Journal{BatchID: uuid.New(), DebitAccount: user, CreditAccount: issuer, AssetID: ledger.AssetDebt, Amount: units(1)}},
		{"mixed assets", ledger.Journal{BatchID: batchID, DebitAccount: user, CreditAccount: issuer.WithAsset(ledger.AssetReward), AssetID: ledger.AssetDebt, Amount: units(1)}},
	}

	for _, tt := range tests {
		tt.j.JournalID = uuid.New()
		batch := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{tt.j}}
		if err := batch.Validate(); err == nil {
			t.Errorf("%s should fail validation", tt.name)
		}
	}
}

func TestBalanceTracker_SnapshotIsCopy(t *testing.T) {
	l := ledger.NewLedger()
	user := ledger.NewUserAccountKey(uuid.New(), ledger.AssetDebt)
	_ = l.Mint(user, units(999))

	snap := l.Tracker().Snapshot()
	for k := range snap {
		snap[k] = fpmath.Zero()
	}

	if !l.BalanceOf(user).Eq(units(999)) {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}

	restored := ledger.NewBalanceTracker()
	restored.Restore(l.Tracker().Snapshot(), l.Tracker().SupplySnapshot())
	if !restored.GetBalance(user).Eq(units(999)) || !restored.Supply(ledger.AssetDebt).Eq(units(999)) {
		t.Error("restore should reproduce balances and supply")
	}
}
