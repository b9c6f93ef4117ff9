package state

import (
	fpmath "TroveLedger/internal/math"
)

// RedistributionState is the serializable form of the accumulator.
type RedistributionState struct {
	LCollateral             fpmath.Decimal `json:"l_collateral"`
	LDebt                   fpmath.Decimal `json:"l_debt"`
	TotalStakes             fpmath.Decimal `json:"total_stakes"`
	TotalStakesSnapshot     fpmath.Decimal `json:"total_stakes_snapshot"`
	TotalCollateralSnapshot fpmath.Decimal `json:"total_collateral_snapshot"`
	LastCollateralError     fpmath.Decimal `json:"last_collateral_error"`
	LastDebtError           fpmath.Decimal `json:"last_debt_error"`
	UnassignedCollateral    fpmath.Decimal `json:"unassigned_collateral"`
	UnassignedDebt          fpmath.Decimal `json:"unassigned_debt"`
}

// RedistributionAccumulator shares liquidated collateral and debt among all
// active positions pro rata by stake. Each position settles its share lazily:
// pending = stake * (L - snapshot) / 1e18.
//
// Per-stake increments carry the division remainder forward so that nothing is
// lost across many redistributions. When there are no stakes the amounts wait
// in the unassigned bucket for the next redistribution.
type RedistributionAccumulator struct {
	s RedistributionState
}

func NewRedistributionAccumulator() *RedistributionAccumulator {
	return &RedistributionAccumulator{}
}

// PendingCollateral returns the collateral reward not yet applied to pos.
func (a *RedistributionAccumulator) PendingCollateral(pos *Position) fpmath.Decimal {
	if !pos.IsActive() {
		return fpmath.Zero()
	}
	delta := a.s.LCollateral.Sub(pos.Snapshot.Collateral)
	if delta.IsZero() || pos.Stake.IsZero() {
		return fpmath.Zero()
	}
	return pos.Stake.MulDiv(delta, fpmath.DecimalPrecision)
}

// PendingDebt returns the debt reward not yet applied to pos.
func (a *RedistributionAccumulator) PendingDebt(pos *Position) fpmath.Decimal {
	if !pos.IsActive() {
		return fpmath.Zero()
	}
	delta := a.s.LDebt.Sub(pos.Snapshot.Debt)
	if delta.IsZero() || pos.Stake.IsZero() {
		return fpmath.Zero()
	}
	return pos.Stake.MulDiv(delta, fpmath.DecimalPrecision)
}

// HasPendingRewards is true when pos has a stale snapshot.
func (a *RedistributionAccumulator) HasPendingRewards(pos *Position) bool {
	if !pos.IsActive() {
		return false
	}
	return pos.Snapshot.Collateral.Lt(a.s.LCollateral) || pos.Snapshot.Debt.Lt(a.s.LDebt)
}

// EntireDebtAndColl returns the position's values with pending rewards included.
func (a *RedistributionAccumulator) EntireDebtAndColl(pos *Position) (debt, coll, pendingDebt, pendingColl fpmath.Decimal) {
	pendingDebt = a.PendingDebt(pos)
	pendingColl = a.PendingCollateral(pos)
	return pos.Debt.Add(pendingDebt), pos.Collateral.Add(pendingColl), pendingDebt, pendingColl
}

// ApplyPending folds pending rewards into pos and advances its snapshot.
// Calling it twice in a row adds nothing the second time.
func (a *RedistributionAccumulator) ApplyPending(pos *Position) (pendingColl, pendingDebt fpmath.Decimal) {
	if !a.HasPendingRewards(pos) {
		return fpmath.Zero(), fpmath.Zero()
	}

	pendingColl = a.PendingCollateral(pos)
	pendingDebt = a.PendingDebt(pos)

	pos.Collateral = pos.Collateral.Add(pendingColl)
	pos.Debt = pos.Debt.Add(pendingDebt)
	a.UpdateSnapshot(pos)
	return pendingColl, pendingDebt
}

// UpdateSnapshot sets the position's reward snapshot to the current L values.
func (a *RedistributionAccumulator) UpdateSnapshot(pos *Position) {
	pos.Snapshot = RewardSnapshot{Collateral: a.s.LCollateral, Debt: a.s.LDebt}
}

// Redistribute spreads coll and debt over all stakes.
func (a *RedistributionAccumulator) Redistribute(coll, debt fpmath.Decimal) {
	if coll.IsZero() && debt.IsZero() {
		return
	}
	if a.s.TotalStakes.IsZero() {
		a.s.UnassignedCollateral = a.s.UnassignedCollateral.Add(coll)
		a.s.UnassignedDebt = a.s.UnassignedDebt.Add(debt)
		return
	}

	coll = coll.Add(a.s.UnassignedCollateral)
	debt = debt.Add(a.s.UnassignedDebt)
	a.s.UnassignedCollateral = fpmath.Zero()
	a.s.UnassignedDebt = fpmath.Zero()

	collNumerator := coll.Mul(fpmath.DecimalPrecision).Add(a.s.LastCollateralError)
	debtNumerator := debt.Mul(fpmath.DecimalPrecision).Add(a.s.LastDebtError)

	collPerStake := collNumerator.Div(a.s.TotalStakes)
	debtPerStake := debtNumerator.Div(a.s.TotalStakes)

	a.s.LastCollateralError = collNumerator.Sub(collPerStake.Mul(a.s.TotalStakes))
	a.s.LastDebtError = debtNumerator.Sub(debtPerStake.Mul(a.s.TotalStakes))

	a.s.LCollateral = a.s.LCollateral.Add(collPerStake)
	a.s.LDebt = a.s.LDebt.Add(debtPerStake)
}

// ComputeNewStake scales collateral by the stake/collateral ratio recorded at
// the last liquidation, so that earlier stakers keep their share of rewards
// already redistributed.
func (a *RedistributionAccumulator) ComputeNewStake(coll fpmath.Decimal) fpmath.Decimal {
	if a.s.TotalCollateralSnapshot.IsZero() {
		return coll
	}
	return coll.MulDiv(a.s.TotalStakesSnapshot, a.s.TotalCollateralSnapshot)
}

// UpdateStakeAndTotalStakes recomputes pos.Stake from its collateral.
func (a *RedistributionAccumulator) UpdateStakeAndTotalStakes(pos *Position) fpmath.Decimal {
	newStake := a.ComputeNewStake(pos.Collateral)
	a.s.TotalStakes = a.s.TotalStakes.Sub(pos.Stake).Add(newStake)
	pos.Stake = newStake
	return newStake
}

// RemoveStake drops pos from totalStakes.
func (a *RedistributionAccumulator) RemoveStake(pos *Position) {
	a.s.TotalStakes = a.s.TotalStakes.Sub(pos.Stake)
	pos.Stake = fpmath.Zero()
}

// UpdateSystemSnapshots records totalStakes and the system collateral right
// after a liquidation.
func (a *RedistributionAccumulator) UpdateSystemSnapshots(totalCollateral fpmath.Decimal) {
	a.s.TotalStakesSnapshot = a.s.TotalStakes
	a.s.TotalCollateralSnapshot = totalCollateral
}

func (a *RedistributionAccumulator) LCollateral() fpmath.Decimal { return a.s.LCollateral }
func (a *RedistributionAccumulator) LDebt() fpmath.Decimal       { return a.s.LDebt }
func (a *RedistributionAccumulator) TotalStakes() fpmath.Decimal { return a.s.TotalStakes }

// Unassigned returns collateral and debt waiting for stakes to exist.
func (a *RedistributionAccumulator) Unassigned() (coll, debt fpmath.Decimal) {
	return a.s.UnassignedCollateral, a.s.UnassignedDebt
}

// State returns a copy for snapshots.
func (a *RedistributionAccumulator) State() RedistributionState {
	return a.s
}

// Restore replaces the accumulator state.
func (a *RedistributionAccumulator) Restore(s RedistributionState) {
	a.s = s
}
