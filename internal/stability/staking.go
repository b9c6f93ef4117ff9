package stability

import (
	fpmath "TroveLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// Stake is a staker's reward-token stake and the fee accumulators it was
// last settled against.
type Stake struct {
	Amount      fpmath.Decimal `json:"amount"`
	FCollateral fpmath.Decimal `json:"f_collateral"`
	FDebt       fpmath.Decimal `json:"f_debt"`
}

// StakingPayout is what a stake operation realized. The caller moves the
// tokens.
type StakingPayout struct {
	Staker         uuid.UUID
	CollateralGain fpmath.Decimal
	DebtGain       fpmath.Decimal
	Withdrawn      fpmath.Decimal // reward tokens returned to the staker
	NewStake       fpmath.Decimal
}

// FeeStaking shares protocol fees among reward-token stakers. Redemption fees
// (collateral) and borrowing fees (debt tokens) raise the per-unit sums
// FCollateral and FDebt; a stake earns amount * (F - F_snapshot).
//
// Fees arriving while nothing is staked are held and credited on the next
// fee after a stake appears.
type FeeStaking struct {
	fCollateral    fpmath.Decimal
	fDebt          fpmath.Decimal
	totalStaked    fpmath.Decimal
	unassignedColl fpmath.Decimal
	unassignedDebt fpmath.Decimal
	stakes         map[uuid.UUID]Stake
}

// NewFeeStaking returns an empty staking pool.
func NewFeeStaking() *FeeStaking {
	return &FeeStaking{stakes: make(map[uuid.UUID]Stake)}
}

func (s *FeeStaking) FCollateral() fpmath.Decimal    { return s.fCollateral }
func (s *FeeStaking) FDebt() fpmath.Decimal          { return s.fDebt }
func (s *FeeStaking) TotalStaked() fpmath.Decimal    { return s.totalStaked }
func (s *FeeStaking) UnassignedColl() fpmath.Decimal { return s.unassignedColl }
func (s *FeeStaking) UnassignedDebt() fpmath.Decimal { return s.unassignedDebt }

// Stake returns the stored stake of staker.
func (s *FeeStaking) Stake(staker uuid.UUID) (Stake, bool) {
	st, ok := s.stakes[staker]
	return st, ok
}

// PendingCollateralGain is the collateral fee share owed to staker.
func (s *FeeStaking) PendingCollateralGain(staker uuid.UUID) fpmath.Decimal {
	st, ok := s.stakes[staker]
	if !ok {
		return fpmath.Zero()
	}
	return st.Amount.MulDiv(s.fCollateral.Sub(st.FCollateral), fpmath.DecimalPrecision)
}

// PendingDebtGain is the debt-token fee share owed to staker.
func (s *FeeStaking) PendingDebtGain(staker uuid.UUID) fpmath.Decimal {
	st, ok := s.stakes[staker]
	if !ok {
		return fpmath.Zero()
	}
	return st.Amount.MulDiv(s.fDebt.Sub(st.FDebt), fpmath.DecimalPrecision)
}

// ValidateStake checks the preconditions of AddStake.
func (s *FeeStaking) ValidateStake(staker uuid.UUID, amount fpmath.Decimal) error {
	if staker == uuid.Nil {
		return fmt.Errorf("staker id: %w", ErrZeroID)
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	return nil
}

// ValidateUnstake checks that staker has a stake.
func (s *FeeStaking) ValidateUnstake(staker uuid.UUID) error {
	st, ok := s.stakes[staker]
	if !ok || st.Amount.IsZero() {
		return fmt.Errorf("%s: %w", staker, ErrNoStake)
	}
	return nil
}

// AddStake realizes pending gains and increases the stake by amount.
func (s *FeeStaking) AddStake(staker uuid.UUID, amount fpmath.Decimal) (StakingPayout, error) {
	if err := s.ValidateStake(staker, amount); err != nil {
		return StakingPayout{}, err
	}
	payout := s.realize(staker)
	newStake := s.stakes[staker].Amount.Add(amount)
	s.totalStaked = s.totalStaked.Add(amount)
	s.settle(staker, newStake)

	payout.NewStake = newStake
	return payout, nil
}

// Unstake realizes pending gains and removes up to amount from the stake.
// Requests above the stake are capped. An amount of zero only claims gains.
func (s *FeeStaking) Unstake(staker uuid.UUID, amount fpmath.Decimal) (StakingPayout, error) {
	if err := s.ValidateUnstake(staker); err != nil {
		return StakingPayout{}, err
	}
	payout := s.realize(staker)
	current := s.stakes[staker].Amount
	withdrawn := fpmath.Min(amount, current)
	newStake := current.Sub(withdrawn)
	s.totalStaked = s.totalStaked.Sub(withdrawn)
	s.settle(staker, newStake)

	payout.Withdrawn = withdrawn
	payout.NewStake = newStake
	return payout, nil
}

func (s *FeeStaking) realize(staker uuid.UUID) StakingPayout {
	return StakingPayout{
		Staker:         staker,
		CollateralGain: s.PendingCollateralGain(staker),
		DebtGain:       s.PendingDebtGain(staker),
	}
}

func (s *FeeStaking) settle(staker uuid.UUID, amount fpmath.Decimal) {
	if amount.IsZero() {
		delete(s.stakes, staker)
		return
	}
	s.stakes[staker] = Stake{Amount: amount, FCollateral: s.fCollateral, FDebt: s.fDebt}
}

// === Fee intake ===

// IncreaseFCollateral credits a collateral fee to stakers and returns the
// new FCollateral.
func (s *FeeStaking) IncreaseFCollateral(fee fpmath.Decimal) fpmath.Decimal {
	s.fCollateral, s.unassignedColl = s.increase(s.fCollateral, s.unassignedColl, fee)
	return s.fCollateral
}

// IncreaseFDebt credits a debt-token fee to stakers and returns the new FDebt.
func (s *FeeStaking) IncreaseFDebt(fee fpmath.Decimal) fpmath.Decimal {
	s.fDebt, s.unassignedDebt = s.increase(s.fDebt, s.unassignedDebt, fee)
	return s.fDebt
}

func (s *FeeStaking) increase(f, unassigned, fee fpmath.Decimal) (fpmath.Decimal, fpmath.Decimal) {
	fee = fee.Add(unassigned)
	if fee.IsZero() {
		return f, fpmath.Zero()
	}
	if s.totalStaked.IsZero() {
		return f, fee
	}
	return f.Add(fee.MulDiv(fpmath.DecimalPrecision, s.totalStaked)), fpmath.Zero()
}

// === Snapshot ===

// FeeStakingState is the serializable form of FeeStaking.
type FeeStakingState struct {
	FCollateral    fpmath.Decimal      `json:"f_collateral"`
	FDebt          fpmath.Decimal      `json:"f_debt"`
	TotalStaked    fpmath.Decimal      `json:"total_staked"`
	UnassignedColl fpmath.Decimal      `json:"unassigned_coll"`
	UnassignedDebt fpmath.Decimal      `json:"unassigned_debt"`
	Stakes         map[uuid.UUID]Stake `json:"stakes"`
}

// State returns a copy of the staking pool.
func (s *FeeStaking) State() FeeStakingState {
	stakes := make(map[uuid.UUID]Stake, len(s.stakes))
	for id, st := range s.stakes {
		stakes[id] = st
	}
	return FeeStakingState{
		FCollateral:    s.fCollateral,
		FDebt:          s.fDebt,
		TotalStaked:    s.totalStaked,
		UnassignedColl: s.unassignedColl,
		UnassignedDebt: s.unassignedDebt,
		Stakes:         stakes,
	}
}

// Restore replaces the staking pool with st.
func (s *FeeStaking) Restore(st FeeStakingState) {
	s.fCollateral = st.FCollateral
	s.fDebt = st.FDebt
	s.totalStaked = st.TotalStaked
	s.unassignedColl = st.UnassignedColl
	s.unassignedDebt = st.UnassignedDebt
	s.stakes = make(map[uuid.UUID]Stake, len(st.Stakes))
	for id, stake := range st.Stakes {
		s.stakes[id] = stake
	}
}
