package ledger

import (
	fpmath "TroveLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances and per-asset supply.
// The external issuer is not tracked: crediting it mints, debiting it burns.
type BalanceTracker struct {
	balances map[AccountKey]fpmath.Decimal
	supply   map[AssetID]fpmath.Decimal
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]fpmath.Decimal),
		supply:   make(map[AssetID]fpmath.Decimal),
	}
}

// ApplyBatch applies all journals in a batch, or none of them if any entry
// would overdraw an account.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	staged := make(map[AccountKey]fpmath.Decimal)
	get := func(k AccountKey) fpmath.Decimal {
		if v, ok := staged[k]; ok {
			return v
		}
		return bt.balances[k]
	}

	for _, j := range batch.Journals {
		if !j.CreditAccount.IsExternal() {
			have := get(j.CreditAccount)
			if have.Lt(j.Amount) {
				return fmt.Errorf("insufficient balance in %s: have=%s, need=%s",
					j.CreditAccount.AccountPath(), have, j.Amount)
			}
			staged[j.CreditAccount] = have.Sub(j.Amount)
		}
		if !j.DebitAccount.IsExternal() {
			staged[j.DebitAccount] = get(j.DebitAccount).Add(j.Amount)
		}
	}

	for _, j := range batch.Journals {
		switch {
		case j.CreditAccount.IsExternal():
			bt.supply[j.AssetID] = bt.supply[j.AssetID].Add(j.Amount)
		case j.DebitAccount.IsExternal():
			bt.supply[j.AssetID] = bt.supply[j.AssetID].Sub(j.Amount)
		}
	}
	for k, v := range staged {
		if v.IsZero() {
			delete(bt.balances, k)
			continue
		}
		bt.balances[k] = v
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) fpmath.Decimal {
	return bt.balances[key]
}

// GetUserBalance returns a user's wallet balance
func (bt *BalanceTracker) GetUserBalance(userID uuid.UUID, assetID AssetID) fpmath.Decimal {
	return bt.GetBalance(NewUserAccountKey(userID, assetID))
}

// Supply returns the minted-minus-burned amount of an asset
func (bt *BalanceTracker) Supply(assetID AssetID) fpmath.Decimal {
	return bt.supply[assetID]
}

// ValidateSufficient checks if an account can pay amount
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required fpmath.Decimal) error {
	have := bt.GetBalance(key)
	if have.Lt(required) {
		return fmt.Errorf("insufficient balance in %s: have=%s, need=%s", key.AccountPath(), have, required)
	}
	return nil
}

// ComputeGlobalBalance sums all tracked balances per asset (must equal supply)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]fpmath.Decimal {
	totals := make(map[AssetID]fpmath.Decimal)

	for key, balance := range bt.balances {
		totals[key.AssetID] = totals[key.AssetID].Add(balance)
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing and persistence)
func (bt *BalanceTracker) Snapshot() map[AccountKey]fpmath.Decimal {
	snapshot := make(map[AccountKey]fpmath.Decimal, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SupplySnapshot returns a copy of per-asset supply
func (bt *BalanceTracker) SupplySnapshot() map[AssetID]fpmath.Decimal {
	out := make(map[AssetID]fpmath.Decimal, len(bt.supply))
	for k, v := range bt.supply {
		out[k] = v
	}
	return out
}

// Restore replaces balances and supply (snapshot recovery)
func (bt *BalanceTracker) Restore(balances map[AccountKey]fpmath.Decimal, supply map[AssetID]fpmath.Decimal) {
	bt.balances = make(map[AccountKey]fpmath.Decimal, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
	bt.supply = make(map[AssetID]fpmath.Decimal, len(supply))
	for k, v := range supply {
		bt.supply[k] = v
	}
}
