package server

import (
	"TroveLedger/internal/core"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/query"
	"TroveLedger/internal/state"
	"encoding/json"

	"github.com/google/uuid"
)

// Empty is the request of parameterless calls.
type Empty struct{}

// ============================================================================
// Live engine views
// ============================================================================

type SystemResponse struct {
	Totals    core.SystemTotals `json:"totals"`
	Sequence  int64             `json:"sequence"`
	StateHash string            `json:"state_hash"`
}

type PositionRequest struct {
	ID uuid.UUID `json:"id"`
}

type PositionResponse struct {
	Position core.PositionView `json:"position"`
}

// SortedPositionsRequest limits the walk from the head (highest NICR). Zero
// returns the whole list.
type SortedPositionsRequest struct {
	Limit int `json:"limit"`
}

type SortedPositionsResponse struct {
	Positions []uuid.UUID `json:"positions"`
	Total     int         `json:"total"`
}

type InsertHintsRequest struct {
	NICR fpmath.Decimal `json:"nicr"`
	Prev uuid.UUID      `json:"prev"`
	Next uuid.UUID      `json:"next"`
}

type InsertHintsResponse struct {
	Prev uuid.UUID `json:"prev"`
	Next uuid.UUID `json:"next"`
}

type RedemptionHintsRequest struct {
	Amount        fpmath.Decimal `json:"amount"`
	MaxIterations int            `json:"max_iterations"`
}

type RedemptionHintsResponse struct {
	First       uuid.UUID      `json:"first"`
	PartialNICR fpmath.Decimal `json:"partial_nicr"`
	Truncated   fpmath.Decimal `json:"truncated"`
}

type DepositRequest struct {
	Depositor uuid.UUID `json:"depositor"`
}

type StakeRequest struct {
	Staker uuid.UUID `json:"staker"`
}

type FrontEndRequest struct {
	FrontEnd uuid.UUID `json:"front_end"`
}

type StabilityPoolResponse struct {
	Pool           core.PoolView             `json:"pool"`
	Redistribution state.RedistributionState `json:"redistribution"`
}

// BalanceRequest names a wallet by owner and asset ("COLL", "DEBT", "RWD").
type BalanceRequest struct {
	Owner uuid.UUID `json:"owner"`
	Asset string    `json:"asset"`
}

type BalanceResponse struct {
	Owner    uuid.UUID      `json:"owner"`
	Asset    string         `json:"asset"`
	Balance  fpmath.Decimal `json:"balance"`
	Supply   fpmath.Decimal `json:"supply"`
	Sequence int64          `json:"sequence"`
}

type SurplusRequest struct {
	Owner uuid.UUID `json:"owner"`
}

type SurplusResponse struct {
	Owner  uuid.UUID      `json:"owner"`
	Amount fpmath.Decimal `json:"amount"`
}

type RatesResponse struct {
	BaseRate       fpmath.Decimal `json:"base_rate"`
	BorrowingRate  fpmath.Decimal `json:"borrowing_rate"`
	RedemptionRate fpmath.Decimal `json:"redemption_rate"`
}

// ============================================================================
// Projected history
// ============================================================================

type ListPositionsRequest struct {
	Status string     `json:"status"`
	Page   query.Page `json:"page"`
}

type ListPositionsResponse struct {
	Positions []query.PositionRecord `json:"positions"`
}

// ListLiquidationsRequest filters by position when Position is set.
type ListLiquidationsRequest struct {
	Position uuid.UUID  `json:"position"`
	Page     query.Page `json:"page"`
}

type ListLiquidationsResponse struct {
	Liquidations []query.LiquidationRecord `json:"liquidations"`
}

type ListRedemptionsRequest struct {
	Redeemer uuid.UUID  `json:"redeemer"`
	Page     query.Page `json:"page"`
}

type ListRedemptionsResponse struct {
	Redemptions []query.RedemptionRecord `json:"redemptions"`
}

type JournalsRequest struct {
	Owner uuid.UUID  `json:"owner"`
	Page  query.Page `json:"page"`
}

type JournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

// ============================================================================
// Commands and admin
// ============================================================================

// SubmitCommandRequest carries one command in the same JSON form producers
// publish to NATS.
type SubmitCommandRequest struct {
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload"`
}

type SubmitCommandResponse struct {
	CommandType    string `json:"command_type"`
	IdempotencyKey string `json:"idempotency_key"`
}

type TakeSnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildProjectionsResponse struct {
	Rebuilt bool `json:"rebuilt"`
}

type EventLogInfoResponse struct {
	LastPersistedSequence int64  `json:"last_persisted_sequence"`
	HasEvents             bool   `json:"has_events"`
	NextSequence          int64  `json:"next_sequence"`
	StateHash             string `json:"state_hash"`
}

type VerifyIntegrityResponse struct {
	Report query.IntegrityReport `json:"report"`
}
