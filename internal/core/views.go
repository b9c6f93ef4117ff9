package core

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"

	"github.com/google/uuid"
)

// GetSequence returns the next sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

// GetStateHash returns the state hash chain tip.
func (c *DeterministicCore) GetStateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.GetPrevHash()
}

func (c *DeterministicCore) Params() state.Params {
	return c.params
}

func (c *DeterministicCore) Price() fpmath.Decimal {
	return c.oracle.Price()
}

// SystemTotals is the aggregate view of all positions.
type SystemTotals struct {
	Collateral   fpmath.Decimal `json:"collateral"`
	Debt         fpmath.Decimal `json:"debt"`
	TCR          fpmath.Decimal `json:"tcr"`
	RecoveryMode bool           `json:"recovery_mode"`
	Positions    int            `json:"positions"`
	BaseRate     fpmath.Decimal `json:"base_rate"`
	Price        fpmath.Decimal `json:"price"`
}

func (c *DeterministicCore) SystemTotals() SystemTotals {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price := c.oracle.Price()
	coll, debt := c.systemCollateral(), c.systemDebt()
	tcr := fpmath.ComputeCR(coll, debt, price)
	return SystemTotals{
		Collateral:   coll,
		Debt:         debt,
		TCR:          tcr,
		RecoveryMode: tcr.Lt(c.params.CCR),
		Positions:    c.positions.Count(),
		BaseRate:     c.baseRate,
		Price:        price,
	}
}

// PositionView is a position with its pending redistribution rewards.
type PositionView struct {
	state.Position
	PendingDebt       fpmath.Decimal `json:"pending_debt"`
	PendingCollateral fpmath.Decimal `json:"pending_collateral"`
	EntireDebt        fpmath.Decimal `json:"entire_debt"`
	EntireCollateral  fpmath.Decimal `json:"entire_collateral"`
	ICR               fpmath.Decimal `json:"icr"`
	NICR              fpmath.Decimal `json:"nicr"`
}

// Position returns a copy of the position record, or ErrNotFound for an id
// that never existed.
func (c *DeterministicCore) Position(id uuid.UUID) (PositionView, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pos := c.positions.Get(id)
	if pos == nil {
		return PositionView{}, state.ErrNotFound
	}
	v := PositionView{Position: *pos}
	v.EntireDebt, v.EntireCollateral, v.PendingDebt, v.PendingCollateral = c.rewards.EntireDebtAndColl(pos)
	if pos.IsActive() {
		v.ICR = fpmath.ComputeCR(v.EntireCollateral, v.EntireDebt, c.oracle.Price())
		v.NICR = fpmath.ComputeNominalCR(v.EntireCollateral, v.EntireDebt)
	}
	return v, nil
}

// SortedPositions returns active ids from highest to lowest NICR.
func (c *DeterministicCore) SortedPositions() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sorted.Ordered()
}

// InsertHints returns a (prev, next) pair bracketing nicr, searching from
// the given hints.
func (c *DeterministicCore) InsertHints(nicr fpmath.Decimal, prev, next uuid.UUID) (uuid.UUID, uuid.UUID) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sorted.FindInsertPosition(nicr, prev, next)
}

func (c *DeterministicCore) BalanceOf(owner uuid.UUID, asset ledger.AssetID) fpmath.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.BalanceOf(wallet(owner, asset))
}

// AccountBalance reads any ledger account, including system pools.
func (c *DeterministicCore) AccountBalance(key ledger.AccountKey) fpmath.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.BalanceOf(key)
}

func (c *DeterministicCore) Supply(asset ledger.AssetID) fpmath.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Supply(asset)
}

func (c *DeterministicCore) CollateralSurplus(owner uuid.UUID) fpmath.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.surplus.Claimable(owner)
}

// BorrowingRate and RedemptionRate use the stored, undecayed base rate.
func (c *DeterministicCore) BorrowingRate() fpmath.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.borrowingRate(c.baseRate)
}

func (c *DeterministicCore) RedemptionRate() fpmath.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.redemptionRate(c.baseRate)
}

// DepositView is a depositor's live Stability Pool position.
type DepositView struct {
	Depositor      uuid.UUID      `json:"depositor"`
	FrontEnd       uuid.UUID      `json:"front_end"`
	Initial        fpmath.Decimal `json:"initial"`
	Compounded     fpmath.Decimal `json:"compounded"`
	CollateralGain fpmath.Decimal `json:"collateral_gain"`
	RewardGain     fpmath.Decimal `json:"reward_gain"`
}

func (c *DeterministicCore) Deposit(depositor uuid.UUID) DepositView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := DepositView{
		Depositor:      depositor,
		Compounded:     c.pool.CompoundedDeposit(depositor),
		CollateralGain: c.pool.DepositorCollateralGain(depositor),
		RewardGain:     c.pool.DepositorRewardGain(depositor),
	}
	if d, ok := c.pool.Deposit(depositor); ok {
		v.FrontEnd = d.FrontEnd
		v.Initial = d.Initial
	}
	return v
}

// StakeView is a staker's reward-token stake and pending fee gains.
type StakeView struct {
	Staker         uuid.UUID      `json:"staker"`
	Stake          fpmath.Decimal `json:"stake"`
	CollateralGain fpmath.Decimal `json:"collateral_gain"`
	DebtGain       fpmath.Decimal `json:"debt_gain"`
	TotalStaked    fpmath.Decimal `json:"total_staked"`
}

func (c *DeterministicCore) Stake(staker uuid.UUID) StakeView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, _ := c.staking.Stake(staker)
	return StakeView{
		Staker:         staker,
		Stake:          st.Amount,
		CollateralGain: c.staking.PendingCollateralGain(staker),
		DebtGain:       c.staking.PendingDebtGain(staker),
		TotalStaked:    c.staking.TotalStaked(),
	}
}

// FrontEndView is a front end's aggregated stake and pending reward.
type FrontEndView struct {
	FrontEnd     uuid.UUID      `json:"front_end"`
	Registered   bool           `json:"registered"`
	KickbackRate fpmath.Decimal `json:"kickback_rate"`
	Stake        fpmath.Decimal `json:"stake"`
	RewardGain   fpmath.Decimal `json:"reward_gain"`
}

func (c *DeterministicCore) FrontEnd(id uuid.UUID) FrontEndView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fe, ok := c.pool.FrontEnd(id)
	if !ok {
		return FrontEndView{FrontEnd: id}
	}
	return FrontEndView{
		FrontEnd:     id,
		Registered:   true,
		KickbackRate: fe.KickbackRate,
		Stake:        c.pool.CompoundedFrontEndStake(id),
		RewardGain:   c.pool.FrontEndRewardGain(id),
	}
}

// PoolView is the Stability Pool's global accounting state.
type PoolView struct {
	TotalDeposits    fpmath.Decimal `json:"total_deposits"`
	Collateral       fpmath.Decimal `json:"collateral"`
	P                fpmath.Decimal `json:"p"`
	Epoch            uint64         `json:"epoch"`
	Scale            uint64         `json:"scale"`
	S                fpmath.Decimal `json:"s"`
	G                fpmath.Decimal `json:"g"`
	UnassignedReward fpmath.Decimal `json:"unassigned_reward"`
	RewardsIssued    fpmath.Decimal `json:"rewards_issued"`
}

func (c *DeterministicCore) StabilityPool() PoolView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	epoch, scale := c.pool.CurrentEpoch(), c.pool.CurrentScale()
	return PoolView{
		TotalDeposits:    c.pool.TotalDeposits(),
		Collateral:       c.pool.Collateral(),
		P:                c.pool.P(),
		Epoch:            epoch,
		Scale:            scale,
		S:                c.pool.EpochToScaleToSum(epoch, scale),
		G:                c.pool.EpochToScaleToG(epoch, scale),
		UnassignedReward: c.pool.UnassignedReward(),
		RewardsIssued:    c.issuance.TotalIssued(),
	}
}

// RedistributionView exposes the redistribution accumulator.
func (c *DeterministicCore) Redistribution() state.RedistributionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rewards.State()
}
