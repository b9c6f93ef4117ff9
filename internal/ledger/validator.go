package ledger

import (
	fpmath "TroveLedger/internal/math"
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies a batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies that, per asset, tracked balances sum to supply
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()
	supply := v.tracker.SupplySnapshot()

	for assetID := range merge(totals, supply) {
		if !totals[assetID].Eq(supply[assetID]) {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s (%s) does not match supply (%s)",
				assetName, totals[assetID], supply[assetID])
		}
	}

	return nil
}

// ValidateAccountEquals checks an account against an expected amount, e.g. the
// stability pool collateral against the pool's own bookkeeping.
func (v *InvariantValidator) ValidateAccountEquals(key AccountKey, expected fpmath.Decimal) error {
	got := v.tracker.GetBalance(key)
	if !got.Eq(expected) {
		return fmt.Errorf("account %s: balance %s, expected %s", key.AccountPath(), got, expected)
	}
	return nil
}

func merge(a, b map[AssetID]fpmath.Decimal) map[AssetID]struct{} {
	out := make(map[AssetID]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}
