package event

import (
	fpmath "TroveLedger/internal/math"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Header carries the fields shared by every command.
type Header struct {
	CommandID uuid.UUID `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (h Header) IdempotencyKey() string { return h.CommandID.String() }
func (h Header) Time() time.Time        { return h.Timestamp }

// Stamp sets the header of a decoded command.
func (h *Header) Stamp(commandID uuid.UUID, ts time.Time) {
	h.CommandID = commandID
	h.Timestamp = ts
}

// PriceUpdate sets the collateral price reported by a settable oracle.
// Sequence must increase; older updates are rejected.
type PriceUpdate struct {
	Header
	Price    fpmath.Decimal `json:"price"`
	Sequence int64          `json:"sequence"`
}

func (c *PriceUpdate) EventType() EventType { return EventTypePriceUpdate }

// IdempotencyKey is the price sequence, so a replayed feed is deduplicated.
func (c *PriceUpdate) IdempotencyKey() string { return fmt.Sprintf("price:%d", c.Sequence) }

// FundCollateral credits collateral arriving from outside the system.
type FundCollateral struct {
	Header
	Owner  uuid.UUID      `json:"owner"`
	Amount fpmath.Decimal `json:"amount"`
}

func (c *FundCollateral) EventType() EventType { return EventTypeFundCollateral }

// TransferDebt moves debt tokens between two wallets.
type TransferDebt struct {
	Header
	From   uuid.UUID      `json:"from"`
	To     uuid.UUID      `json:"to"`
	Amount fpmath.Decimal `json:"amount"`
}

func (c *TransferDebt) EventType() EventType { return EventTypeTransferDebt }

// OpenPosition locks Collateral and borrows DebtAmount (net of fee and gas reserve).
type OpenPosition struct {
	Header
	Owner            uuid.UUID      `json:"owner"`
	Collateral       fpmath.Decimal `json:"collateral"`
	DebtAmount       fpmath.Decimal `json:"debt_amount"`
	MaxFeePercentage fpmath.Decimal `json:"max_fee_percentage"`
	UpperHint        uuid.UUID      `json:"upper_hint"`
	LowerHint        uuid.UUID      `json:"lower_hint"`
}

func (c *OpenPosition) EventType() EventType { return EventTypeOpenPosition }

// AdjustPosition changes collateral and/or debt of an active position.
// At most one of CollDeposit and CollWithdrawal may be non-zero.
type AdjustPosition struct {
	Header
	Owner            uuid.UUID      `json:"owner"`
	CollDeposit      fpmath.Decimal `json:"coll_deposit"`
	CollWithdrawal   fpmath.Decimal `json:"coll_withdrawal"`
	DebtChange       fpmath.Decimal `json:"debt_change"`
	IsDebtIncrease   bool           `json:"is_debt_increase"`
	MaxFeePercentage fpmath.Decimal `json:"max_fee_percentage"`
	UpperHint        uuid.UUID      `json:"upper_hint"`
	LowerHint        uuid.UUID      `json:"lower_hint"`
}

func (c *AdjustPosition) EventType() EventType { return EventTypeAdjustPosition }

type ClosePosition struct {
	Header
	Owner uuid.UUID `json:"owner"`
}

func (c *ClosePosition) EventType() EventType { return EventTypeClosePosition }

// ClaimCollateralSurplus pays out collateral left over from a liquidation in
// recovery mode or a full redemption.
type ClaimCollateralSurplus struct {
	Header
	Owner uuid.UUID `json:"owner"`
}

func (c *ClaimCollateralSurplus) EventType() EventType { return EventTypeClaimCollateralSurplus }

type RegisterFrontEnd struct {
	Header
	FrontEnd     uuid.UUID      `json:"front_end"`
	KickbackRate fpmath.Decimal `json:"kickback_rate"`
}

func (c *RegisterFrontEnd) EventType() EventType { return EventTypeRegisterFrontEnd }

type ProvideToSP struct {
	Header
	Depositor uuid.UUID      `json:"depositor"`
	Amount    fpmath.Decimal `json:"amount"`
	FrontEnd  uuid.UUID      `json:"front_end"`
}

func (c *ProvideToSP) EventType() EventType { return EventTypeProvideToSP }

// WithdrawFromSP withdraws up to Amount; zero only claims gains.
type WithdrawFromSP struct {
	Header
	Depositor uuid.UUID      `json:"depositor"`
	Amount    fpmath.Decimal `json:"amount"`
}

func (c *WithdrawFromSP) EventType() EventType { return EventTypeWithdrawFromSP }

// WithdrawCollateralGainToPosition moves the depositor's collateral gain into
// their own active position.
type WithdrawCollateralGainToPosition struct {
	Header
	Depositor uuid.UUID `json:"depositor"`
	UpperHint uuid.UUID `json:"upper_hint"`
	LowerHint uuid.UUID `json:"lower_hint"`
}

func (c *WithdrawCollateralGainToPosition) EventType() EventType {
	return EventTypeWithdrawCollateralGainToPosition
}

type Liquidate struct {
	Header
	Liquidator uuid.UUID `json:"liquidator"`
	Position   uuid.UUID `json:"position"`
}

func (c *Liquidate) EventType() EventType { return EventTypeLiquidate }

// LiquidatePositions liquidates up to MaxCount positions starting from the
// lowest collateral ratio.
type LiquidatePositions struct {
	Header
	Liquidator uuid.UUID `json:"liquidator"`
	MaxCount   int       `json:"max_count"`
}

func (c *LiquidatePositions) EventType() EventType { return EventTypeLiquidatePositions }

type BatchLiquidate struct {
	Header
	Liquidator uuid.UUID   `json:"liquidator"`
	Positions  []uuid.UUID `json:"positions"`
}

func (c *BatchLiquidate) EventType() EventType { return EventTypeBatchLiquidate }

// Redeem exchanges debt tokens for collateral at face value, starting from the
// riskiest redeemable position.
type Redeem struct {
	Header
	Redeemer         uuid.UUID      `json:"redeemer"`
	Amount           fpmath.Decimal `json:"amount"`
	FirstHint        uuid.UUID      `json:"first_hint"`
	UpperPartialHint uuid.UUID      `json:"upper_partial_hint"`
	LowerPartialHint uuid.UUID      `json:"lower_partial_hint"`
	PartialHintNICR  fpmath.Decimal `json:"partial_hint_nicr"`
	MaxIterations    int            `json:"max_iterations"`
	MaxFeePercentage fpmath.Decimal `json:"max_fee_percentage"`
}

func (c *Redeem) EventType() EventType { return EventTypeRedeem }

// StakeRewards moves reward tokens from the staker's wallet into fee staking.
type StakeRewards struct {
	Header
	Staker uuid.UUID      `json:"staker"`
	Amount fpmath.Decimal `json:"amount"`
}

func (c *StakeRewards) EventType() EventType { return EventTypeStakeRewards }

// UnstakeRewards withdraws up to Amount of stake; zero only claims fee gains.
type UnstakeRewards struct {
	Header
	Staker uuid.UUID      `json:"staker"`
	Amount fpmath.Decimal `json:"amount"`
}

func (c *UnstakeRewards) EventType() EventType { return EventTypeUnstakeRewards }

// NewCommand returns an empty command of type et, or nil.
func NewCommand(et EventType) Command {
	switch et {
	case EventTypePriceUpdate:
		return &PriceUpdate{}
	case EventTypeFundCollateral:
		return &FundCollateral{}
	case EventTypeTransferDebt:
		return &TransferDebt{}
	case EventTypeOpenPosition:
		return &OpenPosition{}
	case EventTypeAdjustPosition:
		return &AdjustPosition{}
	case EventTypeClosePosition:
		return &ClosePosition{}
	case EventTypeClaimCollateralSurplus:
		return &ClaimCollateralSurplus{}
	case EventTypeRegisterFrontEnd:
		return &RegisterFrontEnd{}
	case EventTypeProvideToSP:
		return &ProvideToSP{}
	case EventTypeWithdrawFromSP:
		return &WithdrawFromSP{}
	case EventTypeWithdrawCollateralGainToPosition:
		return &WithdrawCollateralGainToPosition{}
	case EventTypeLiquidate:
		return &Liquidate{}
	case EventTypeLiquidatePositions:
		return &LiquidatePositions{}
	case EventTypeBatchLiquidate:
		return &BatchLiquidate{}
	case EventTypeRedeem:
		return &Redeem{}
	case EventTypeStakeRewards:
		return &StakeRewards{}
	case EventTypeUnstakeRewards:
		return &UnstakeRewards{}
	default:
		return nil
	}
}
