package event

import (
	fpmath "TroveLedger/internal/math"

	"github.com/google/uuid"
)

// PositionUpdated reports a position's stored values after an operation.
type PositionUpdated struct {
	Position   uuid.UUID      `json:"position"`
	Debt       fpmath.Decimal `json:"debt"`
	Collateral fpmath.Decimal `json:"collateral"`
	Stake      fpmath.Decimal `json:"stake"`
	Operation  string         `json:"operation"`
}

func (e *PositionUpdated) EventType() EventType { return EventTypePositionUpdated }

// PositionLiquidated reports how one position's debt and collateral were split.
type PositionLiquidated struct {
	Position          uuid.UUID      `json:"position"`
	Mode              string         `json:"mode"`
	Debt              fpmath.Decimal `json:"debt"`
	Collateral        fpmath.Decimal `json:"collateral"`
	DebtOffset        fpmath.Decimal `json:"debt_offset"`
	CollToSP          fpmath.Decimal `json:"coll_to_sp"`
	DebtRedistributed fpmath.Decimal `json:"debt_redistributed"`
	CollRedistributed fpmath.Decimal `json:"coll_redistributed"`
	CollGasComp       fpmath.Decimal `json:"coll_gas_comp"`
	CollSurplus       fpmath.Decimal `json:"coll_surplus"`
}

func (e *PositionLiquidated) EventType() EventType { return EventTypePositionLiquidated }

// Liquidation summarizes one liquidation command.
type Liquidation struct {
	Liquidator          uuid.UUID      `json:"liquidator"`
	LiquidatedDebt      fpmath.Decimal `json:"liquidated_debt"`
	LiquidatedColl      fpmath.Decimal `json:"liquidated_coll"`
	CollGasCompensation fpmath.Decimal `json:"coll_gas_compensation"`
	DebtGasCompensation fpmath.Decimal `json:"debt_gas_compensation"`
}

func (e *Liquidation) EventType() EventType { return EventTypeLiquidation }

type Redemption struct {
	Redeemer  uuid.UUID      `json:"redeemer"`
	Attempted fpmath.Decimal `json:"attempted"`
	Actual    fpmath.Decimal `json:"actual"`
	CollSent  fpmath.Decimal `json:"coll_sent"`
	CollFee   fpmath.Decimal `json:"coll_fee"`
}

func (e *Redemption) EventType() EventType { return EventTypeRedemption }

type DepositChanged struct {
	Depositor  uuid.UUID      `json:"depositor"`
	NewDeposit fpmath.Decimal `json:"new_deposit"`
}

func (e *DepositChanged) EventType() EventType { return EventTypeDepositChanged }

type CollateralGainWithdrawn struct {
	Depositor      uuid.UUID      `json:"depositor"`
	CollateralGain fpmath.Decimal `json:"collateral_gain"`
	DepositLoss    fpmath.Decimal `json:"deposit_loss"`
}

func (e *CollateralGainWithdrawn) EventType() EventType { return EventTypeCollateralGainWithdrawn }

// RewardPaid reports reward tokens paid to a depositor or a front end.
type RewardPaid struct {
	Recipient uuid.UUID      `json:"recipient"`
	Amount    fpmath.Decimal `json:"amount"`
	FrontEnd  bool           `json:"front_end"`
}

func (e *RewardPaid) EventType() EventType { return EventTypeRewardPaid }

type FrontEndRegistered struct {
	FrontEnd     uuid.UUID      `json:"front_end"`
	KickbackRate fpmath.Decimal `json:"kickback_rate"`
}

func (e *FrontEndRegistered) EventType() EventType { return EventTypeFrontEndRegistered }

type EpochUpdated struct {
	Epoch uint64 `json:"epoch"`
}

func (e *EpochUpdated) EventType() EventType { return EventTypeEpochUpdated }

type ScaleUpdated struct {
	Scale uint64 `json:"scale"`
}

func (e *ScaleUpdated) EventType() EventType { return EventTypeScaleUpdated }

type SumUpdated struct {
	S     fpmath.Decimal `json:"s"`
	Epoch uint64         `json:"epoch"`
	Scale uint64         `json:"scale"`
}

func (e *SumUpdated) EventType() EventType { return EventTypeSumUpdated }

type RewardSumUpdated struct {
	G     fpmath.Decimal `json:"g"`
	Epoch uint64         `json:"epoch"`
	Scale uint64         `json:"scale"`
}

func (e *RewardSumUpdated) EventType() EventType { return EventTypeRewardSumUpdated }

type ProductUpdated struct {
	P fpmath.Decimal `json:"p"`
}

func (e *ProductUpdated) EventType() EventType { return EventTypeProductUpdated }

type BaseRateUpdated struct {
	BaseRate fpmath.Decimal `json:"base_rate"`
}

func (e *BaseRateUpdated) EventType() EventType { return EventTypeBaseRateUpdated }

type CollateralSurplusClaimed struct {
	Owner  uuid.UUID      `json:"owner"`
	Amount fpmath.Decimal `json:"amount"`
}

func (e *CollateralSurplusClaimed) EventType() EventType { return EventTypeCollateralSurplusClaimed }

type StakeChanged struct {
	Staker   uuid.UUID      `json:"staker"`
	NewStake fpmath.Decimal `json:"new_stake"`
}

func (e *StakeChanged) EventType() EventType { return EventTypeStakeChanged }

type StakingGainsWithdrawn struct {
	Staker         uuid.UUID      `json:"staker"`
	CollateralGain fpmath.Decimal `json:"collateral_gain"`
	DebtGain       fpmath.Decimal `json:"debt_gain"`
}

func (e *StakingGainsWithdrawn) EventType() EventType { return EventTypeStakingGainsWithdrawn }

// FeeRewardsUpdated reports the per-unit fee sums after a fee was credited.
type FeeRewardsUpdated struct {
	FCollateral fpmath.Decimal `json:"f_collateral"`
	FDebt       fpmath.Decimal `json:"f_debt"`
}

func (e *FeeRewardsUpdated) EventType() EventType { return EventTypeFeeRewardsUpdated }

func newProtocolEvent(et EventType) Event {
	switch et {
	case EventTypePositionUpdated:
		return &PositionUpdated{}
	case EventTypePositionLiquidated:
		return &PositionLiquidated{}
	case EventTypeLiquidation:
		return &Liquidation{}
	case EventTypeRedemption:
		return &Redemption{}
	case EventTypeDepositChanged:
		return &DepositChanged{}
	case EventTypeCollateralGainWithdrawn:
		return &CollateralGainWithdrawn{}
	case EventTypeRewardPaid:
		return &RewardPaid{}
	case EventTypeFrontEndRegistered:
		return &FrontEndRegistered{}
	case EventTypeEpochUpdated:
		return &EpochUpdated{}
	case EventTypeScaleUpdated:
		return &ScaleUpdated{}
	case EventTypeSumUpdated:
		return &SumUpdated{}
	case EventTypeRewardSumUpdated:
		return &RewardSumUpdated{}
	case EventTypeProductUpdated:
		return &ProductUpdated{}
	case EventTypeBaseRateUpdated:
		return &BaseRateUpdated{}
	case EventTypeCollateralSurplusClaimed:
		return &CollateralSurplusClaimed{}
	case EventTypeStakeChanged:
		return &StakeChanged{}
	case EventTypeStakingGainsWithdrawn:
		return &StakingGainsWithdrawn{}
	case EventTypeFeeRewardsUpdated:
		return &FeeRewardsUpdated{}
	default:
		return nil
	}
}
