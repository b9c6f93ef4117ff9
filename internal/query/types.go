package query

import (
	fpmath "TroveLedger/internal/math"
	"time"

	"github.com/google/uuid"
)

// BalanceResponse is a projected wallet balance.
type BalanceResponse struct {
	Owner        uuid.UUID      `json:"owner"`
	Asset        string         `json:"asset"`
	Balance      fpmath.Decimal `json:"balance"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// PositionRecord is a row of the positions projection.
type PositionRecord struct {
	PositionID    uuid.UUID      `json:"position_id"`
	Debt          fpmath.Decimal `json:"debt"`
	Collateral    fpmath.Decimal `json:"collateral"`
	Stake         fpmath.Decimal `json:"stake"`
	Status        string         `json:"status"`
	LastOperation string         `json:"last_operation"`
	LastSequence  int64          `json:"last_sequence"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// LiquidationRecord is one liquidated position.
type LiquidationRecord struct {
	Sequence          int64          `json:"sequence"`
	PositionID        uuid.UUID      `json:"position_id"`
	Mode              string         `json:"mode"`
	Debt              fpmath.Decimal `json:"debt"`
	Collateral        fpmath.Decimal `json:"collateral"`
	DebtOffset        fpmath.Decimal `json:"debt_offset"`
	CollToSP          fpmath.Decimal `json:"coll_to_sp"`
	DebtRedistributed fpmath.Decimal `json:"debt_redistributed"`
	CollRedistributed fpmath.Decimal `json:"coll_redistributed"`
	CollGasComp       fpmath.Decimal `json:"coll_gas_comp"`
	CollSurplus       fpmath.Decimal `json:"coll_surplus"`
	LiquidatedAt      time.Time      `json:"liquidated_at"`
}

// RedemptionRecord is one redemption command.
type RedemptionRecord struct {
	Sequence   int64          `json:"sequence"`
	Redeemer   uuid.UUID      `json:"redeemer"`
	Attempted  fpmath.Decimal `json:"attempted"`
	Actual     fpmath.Decimal `json:"actual"`
	CollSent   fpmath.Decimal `json:"coll_sent"`
	CollFee    fpmath.Decimal `json:"coll_fee"`
	RedeemedAt time.Time      `json:"redeemed_at"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string         `json:"journal_id"`
	BatchID       string         `json:"batch_id"`
	EventRef      string         `json:"event_ref"`
	Sequence      int64          `json:"sequence"`
	DebitAccount  string         `json:"debit_account"`
	CreditAccount string         `json:"credit_account"`
	AssetID       uint16         `json:"asset_id"`
	Amount        fpmath.Decimal `json:"amount"`
	JournalType   int32          `json:"journal_type"`
	Timestamp     int64          `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset is an asset whose projected balances do not sum to zero.
// Imbalance is the raw signed sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance string `json:"imbalance"`
}

// Page bounds a history query. Before, when positive, returns only rows with
// a lower sequence (cursor pagination, newest first).
type Page struct {
	Limit  int   `json:"limit"`
	Before int64 `json:"before"`
}

// Normalize clamps the limit into [1, max], using def when unset.
func (p Page) Normalize(def, max int) Page {
	if p.Limit <= 0 {
		p.Limit = def
	}
	if p.Limit > max {
		p.Limit = max
	}
	return p
}
