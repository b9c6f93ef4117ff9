package core

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/stability"
	"TroveLedger/internal/state"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotState is the full in-memory state at a sequence boundary.
type SnapshotState struct {
	Sequence         int64                             `json:"sequence"` // last applied
	StateHash        [32]byte                          `json:"state_hash"`
	Price            fpmath.Decimal                    `json:"price"`
	PriceSequence    int64                             `json:"price_sequence"`
	Balances         []BalanceEntry                    `json:"balances"`
	Supply           map[ledger.AssetID]fpmath.Decimal `json:"supply"`
	ActiveDebt       fpmath.Decimal                    `json:"active_debt"`
	DefaultDebt      fpmath.Decimal                    `json:"default_debt"`
	Positions        []*state.Position                 `json:"positions"`
	Ordered          []uuid.UUID                       `json:"ordered"`
	Redistribution   state.RedistributionState         `json:"redistribution"`
	Surplus          map[uuid.UUID]fpmath.Decimal      `json:"surplus"`
	Pool             stability.PoolState               `json:"pool"`
	FeeStaking       stability.FeeStakingState         `json:"fee_staking"`
	IssuanceStart    time.Time                         `json:"issuance_start"`
	IssuanceTotal    fpmath.Decimal                    `json:"issuance_total"`
	BaseRate         fpmath.Decimal                    `json:"base_rate"`
	LastFeeOperation time.Time                         `json:"last_fee_operation"`
	IdempotencyKeys  []string                          `json:"idempotency_keys"`
}

// BalanceEntry is one ledger account balance.
type BalanceEntry struct {
	Account ledger.AccountKey `json:"account"`
	Amount  fpmath.Decimal    `json:"amount"`
}

type debtRestorer interface {
	RestoreDebt(debt fpmath.Decimal)
}

type priceRestorer interface {
	restore(price fpmath.Decimal, sequence int64)
}

// CreateSnapshotState captures the current state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	balances := c.ledger.Tracker().Snapshot()
	entries := make([]BalanceEntry, 0, len(balances))
	for key, amount := range balances {
		entries = append(entries, BalanceEntry{Account: key, Amount: amount})
	}

	positions := c.positions.AllPositions()
	copies := make([]*state.Position, len(positions))
	for i, pos := range positions {
		cp := *pos
		copies[i] = &cp
	}

	snap := &SnapshotState{
		Sequence:         c.sequence - 1,
		StateHash:        c.hasher.GetPrevHash(),
		Price:            c.oracle.Price(),
		Balances:         entries,
		Supply:           c.ledger.Tracker().SupplySnapshot(),
		ActiveDebt:       c.activePool.Debt(),
		DefaultDebt:      c.defaultPool.Debt(),
		Positions:        copies,
		Ordered:          c.sorted.Ordered(),
		Redistribution:   c.rewards.State(),
		Surplus:          c.surplus.Claims(),
		Pool:             c.pool.State(),
		FeeStaking:       c.staking.State(),
		IssuanceStart:    c.issuance.DeployedAt(),
		IssuanceTotal:    c.issuance.TotalIssued(),
		BaseRate:         c.baseRate,
		LastFeeOperation: c.lastFeeOperation,
		IdempotencyKeys:  c.idempotency.lru.Keys(),
	}
	if feed, ok := c.oracle.(*PriceFeed); ok {
		snap.PriceSequence = feed.Sequence()
	}
	return snap
}

// RestoreFromSnapshot replaces the in-memory state. Events after
// snap.Sequence are then replayed by the caller.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	balances := make(map[ledger.AccountKey]fpmath.Decimal, len(snap.Balances))
	for _, e := range snap.Balances {
		balances[e.Account] = e.Amount
	}
	c.ledger.Tracker().Restore(balances, snap.Supply)

	active, ok := c.activePool.(debtRestorer)
	if !ok {
		return fmt.Errorf("active pool %T cannot restore debt", c.activePool)
	}
	deflt, ok := c.defaultPool.(debtRestorer)
	if !ok {
		return fmt.Errorf("default pool %T cannot restore debt", c.defaultPool)
	}
	active.RestoreDebt(snap.ActiveDebt)
	deflt.RestoreDebt(snap.DefaultDebt)

	if err := c.positions.Restore(snap.Positions); err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	c.rewards.Restore(snap.Redistribution)
	if err := c.sorted.Restore(snap.Ordered); err != nil {
		return fmt.Errorf("restore sorted positions: %w", err)
	}
	c.surplus.Restore(snap.Surplus)
	c.pool.Restore(snap.Pool)
	c.staking.Restore(snap.FeeStaking)
	c.issuance.Restore(snap.IssuanceStart, snap.IssuanceTotal)
	c.baseRate = snap.BaseRate
	c.lastFeeOperation = snap.LastFeeOperation
	if feed, ok := c.oracle.(priceRestorer); ok && !snap.Price.IsZero() {
		feed.restore(snap.Price, snap.PriceSequence)
	}

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	c.logger.Info().Int64("sequence", snap.Sequence).Int("positions", c.positions.Count()).Msg("state restored from snapshot")
	return nil
}

// WarmLRU loads recent idempotency keys, in "EventType:key" form, after a
// restart.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}
