package stability

import (
	fpmath "TroveLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// ScaleFactor is the renormalization step of P: when a product update would
// push P below 1e9 raw units, P is multiplied by 1e9 and the scale advances.
const ScaleFactor = 1_000_000_000

var scaleFactor = fpmath.FromRaw(ScaleFactor)

type slot struct {
	epoch uint64
	scale uint64
}

// Snapshot captures the pool accumulators when a deposit or front-end stake
// was last updated.
type Snapshot struct {
	S     fpmath.Decimal `json:"s"`
	P     fpmath.Decimal `json:"p"`
	G     fpmath.Decimal `json:"g"`
	Scale uint64         `json:"scale"`
	Epoch uint64         `json:"epoch"`
}

// Deposit is a depositor's stored position. Initial is the value at the last
// update; the live value is derived from Snapshot and the pool accumulators.
type Deposit struct {
	Initial  fpmath.Decimal `json:"initial"`
	FrontEnd uuid.UUID      `json:"front_end"`
	Snapshot Snapshot       `json:"snapshot"`
}

// FrontEnd is a registered operator tagging deposits. Its stake is the sum of
// tagged deposits and compounds exactly like a deposit.
type FrontEnd struct {
	KickbackRate fpmath.Decimal `json:"kickback_rate"`
	Stake        fpmath.Decimal `json:"stake"`
	Snapshot     Snapshot       `json:"snapshot"`
}

// Payout is what a deposit operation realized for the depositor and its
// front end. The caller moves the tokens.
type Payout struct {
	Depositor        uuid.UUID
	FrontEnd         uuid.UUID
	CollateralGain   fpmath.Decimal
	DepositorReward  fpmath.Decimal
	FrontEndReward   fpmath.Decimal
	DepositLoss      fpmath.Decimal // initial - compounded before the operation
	Withdrawn        fpmath.Decimal // debt tokens returned to the depositor
	NewDeposit       fpmath.Decimal
	NewFrontEndStake fpmath.Decimal
}

// OffsetResult reports how an offset moved the accumulators.
type OffsetResult struct {
	DebtOffset      fpmath.Decimal
	CollateralAdded fpmath.Decimal
	P               fpmath.Decimal
	S               fpmath.Decimal
	Epoch           uint64
	Scale           uint64
	EpochChanged    bool
	ScaleChanged    bool
}

// Pool is the Stability Pool ledger. Liquidated debt is cancelled against the
// pool's deposits and the matching collateral is shared among depositors in
// O(1) per liquidation using a running product P (deposit shrink factor) and
// per (epoch, scale) sums S (collateral gain) and G (reward gain).
//
// A depositor's compounded deposit is initial * P / P_snapshot, adjusted for
// at most one scale change. A liquidation that empties the pool starts a new
// epoch, which zeroes every older deposit.
type Pool struct {
	totalDeposits fpmath.Decimal
	collateral    fpmath.Decimal

	p            fpmath.Decimal
	currentScale uint64
	currentEpoch uint64

	sums  map[slot]fpmath.Decimal // S
	gains map[slot]fpmath.Decimal // G

	lastCollateralError fpmath.Decimal
	lastDebtLossError   fpmath.Decimal
	lastRewardError     fpmath.Decimal
	unassignedReward    fpmath.Decimal

	deposits  map[uuid.UUID]*Deposit
	frontEnds map[uuid.UUID]*FrontEnd
}

func NewPool() *Pool {
	return &Pool{
		p:         fpmath.DecimalPrecision,
		sums:      make(map[slot]fpmath.Decimal),
		gains:     make(map[slot]fpmath.Decimal),
		deposits:  make(map[uuid.UUID]*Deposit),
		frontEnds: make(map[uuid.UUID]*FrontEnd),
	}
}

func (p *Pool) TotalDeposits() fpmath.Decimal { return p.totalDeposits }
func (p *Pool) Collateral() fpmath.Decimal    { return p.collateral }
func (p *Pool) P() fpmath.Decimal             { return p.p }
func (p *Pool) CurrentScale() uint64          { return p.currentScale }
func (p *Pool) CurrentEpoch() uint64          { return p.currentEpoch }

// EpochToScaleToSum returns S for (epoch, scale); zero if never written.
func (p *Pool) EpochToScaleToSum(epoch, scale uint64) fpmath.Decimal {
	return p.sums[slot{epoch, scale}]
}

// EpochToScaleToG returns G for (epoch, scale); zero if never written.
func (p *Pool) EpochToScaleToG(epoch, scale uint64) fpmath.Decimal {
	return p.gains[slot{epoch, scale}]
}

// Deposit returns a copy of the stored deposit.
func (p *Pool) Deposit(depositor uuid.UUID) (Deposit, bool) {
	d, ok := p.deposits[depositor]
	if !ok {
		return Deposit{}, false
	}
	return *d, true
}

// FrontEnd returns a copy of the front end record.
func (p *Pool) FrontEnd(id uuid.UUID) (FrontEnd, bool) {
	fe, ok := p.frontEnds[id]
	if !ok {
		return FrontEnd{}, false
	}
	return *fe, true
}

// IsRegisteredFrontEnd reports whether id registered as a front end.
func (p *Pool) IsRegisteredFrontEnd(id uuid.UUID) bool {
	_, ok := p.frontEnds[id]
	return ok
}

// === Views ===

// CompoundedDeposit returns the depositor's current deposit value.
func (p *Pool) CompoundedDeposit(depositor uuid.UUID) fpmath.Decimal {
	d, ok := p.deposits[depositor]
	if !ok {
		return fpmath.Zero()
	}
	return p.compoundedStake(d.Initial, d.Snapshot)
}

// CompoundedFrontEndStake returns the front end's current stake.
func (p *Pool) CompoundedFrontEndStake(frontEnd uuid.UUID) fpmath.Decimal {
	fe, ok := p.frontEnds[frontEnd]
	if !ok {
		return fpmath.Zero()
	}
	return p.compoundedStake(fe.Stake, fe.Snapshot)
}

// DepositorCollateralGain returns the collateral owed to the depositor.
func (p *Pool) DepositorCollateralGain(depositor uuid.UUID) fpmath.Decimal {
	d, ok := p.deposits[depositor]
	if !ok || d.Initial.IsZero() {
		return fpmath.Zero()
	}
	return p.collateralGainFromSnapshot(d.Initial, d.Snapshot)
}

// DepositorRewardGain returns the depositor's reward share after the front
// end kickback.
func (p *Pool) DepositorRewardGain(depositor uuid.UUID) fpmath.Decimal {
	d, ok := p.deposits[depositor]
	if !ok || d.Initial.IsZero() {
		return fpmath.Zero()
	}
	kickback := fpmath.DecimalPrecision
	if fe, ok := p.frontEnds[d.FrontEnd]; ok {
		kickback = fe.KickbackRate
	}
	gain := p.rewardGainFromSnapshot(d.Initial, d.Snapshot)
	return kickback.MulDiv(gain, fpmath.DecimalPrecision)
}

// FrontEndRewardGain returns the front end's share of rewards earned by its
// tagged deposits.
func (p *Pool) FrontEndRewardGain(frontEnd uuid.UUID) fpmath.Decimal {
	fe, ok := p.frontEnds[frontEnd]
	if !ok || fe.Stake.IsZero() {
		return fpmath.Zero()
	}
	share := fpmath.DecimalPrecision.Sub(fe.KickbackRate)
	gain := p.rewardGainFromSnapshot(fe.Stake, fe.Snapshot)
	return share.MulDiv(gain, fpmath.DecimalPrecision)
}

func (p *Pool) compoundedStake(initial fpmath.Decimal, snap Snapshot) fpmath.Decimal {
	if initial.IsZero() {
		return fpmath.Zero()
	}
	// Emptied in an earlier epoch.
	if snap.Epoch < p.currentEpoch {
		return fpmath.Zero()
	}

	switch p.currentScale - snap.Scale {
	case 0:
		return initial.MulDiv(p.p, snap.P)
	case 1:
		return initial.MulDiv(p.p, snap.P).Div(scaleFactor)
	default:
		return fpmath.Zero()
	}
}

// collateralGainFromSnapshot sums S over the snapshot scale and the next one.
// Gains from two or more scales later are below precision.
func (p *Pool) collateralGainFromSnapshot(initial fpmath.Decimal, snap Snapshot) fpmath.Decimal {
	first := p.sums[slot{snap.Epoch, snap.Scale}].Sub(snap.S)
	second := p.sums[slot{snap.Epoch, snap.Scale + 1}].Div(scaleFactor)
	return initial.MulDiv(first.Add(second), snap.P).Div(fpmath.DecimalPrecision)
}

func (p *Pool) rewardGainFromSnapshot(initial fpmath.Decimal, snap Snapshot) fpmath.Decimal {
	if initial.IsZero() {
		return fpmath.Zero()
	}
	first := p.gains[slot{snap.Epoch, snap.Scale}].Sub(snap.G)
	second := p.gains[slot{snap.Epoch, snap.Scale + 1}].Div(scaleFactor)
	return initial.MulDiv(first.Add(second), snap.P).Div(fpmath.DecimalPrecision)
}

// === Depositor operations ===

// RegisterFrontEnd registers id with a kickback rate in [0, 1]. A depositor
// with a live deposit cannot become a front end.
func (p *Pool) RegisterFrontEnd(id uuid.UUID, kickbackRate fpmath.Decimal) error {
	if err := p.ValidateRegisterFrontEnd(id, kickbackRate); err != nil {
		return err
	}
	p.frontEnds[id] = &FrontEnd{KickbackRate: kickbackRate}
	return nil
}

// Provide adds amount to the depositor's deposit after realizing the gains
// earned since the last snapshot. frontEnd is only used for a new deposit.
func (p *Pool) Provide(depositor uuid.UUID, amount fpmath.Decimal, frontEnd uuid.UUID) (Payout, error) {
	if err := p.ValidateProvide(depositor, amount, frontEnd); err != nil {
		return Payout{}, err
	}

	tag := frontEnd
	if d, ok := p.deposits[depositor]; ok {
		tag = d.FrontEnd
	}

	payout := p.realize(depositor, tag)
	newFrontEndStake := fpmath.Zero()
	if tag != uuid.Nil {
		newFrontEndStake = p.CompoundedFrontEndStake(tag).Add(amount)
		p.updateFrontEndStakeAndSnapshot(tag, newFrontEndStake)
	}

	compounded := p.CompoundedDeposit(depositor)
	p.totalDeposits = p.totalDeposits.Add(amount)
	newDeposit := compounded.Add(amount)
	p.updateDepositAndSnapshot(depositor, newDeposit, tag)
	p.collateral = p.collateral.Sub(payout.CollateralGain)

	payout.NewDeposit = newDeposit
	payout.NewFrontEndStake = newFrontEndStake
	return payout, nil
}

// ValidateProvide checks the preconditions of Provide without mutating.
func (p *Pool) ValidateProvide(depositor uuid.UUID, amount fpmath.Decimal, frontEnd uuid.UUID) error {
	if depositor == uuid.Nil {
		return fmt.Errorf("depositor id: %w", ErrZeroID)
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if frontEnd != uuid.Nil && !p.IsRegisteredFrontEnd(frontEnd) {
		return fmt.Errorf("%s: %w", frontEnd, ErrFrontEndNotRegistered)
	}
	if p.IsRegisteredFrontEnd(depositor) {
		return fmt.Errorf("%s: %w", depositor, ErrFrontEndRegistered)
	}
	return nil
}

// ValidateWithdraw checks that depositor has a deposit.
func (p *Pool) ValidateWithdraw(depositor uuid.UUID) error {
	d, ok := p.deposits[depositor]
	if !ok || d.Initial.IsZero() {
		return fmt.Errorf("%s: %w", depositor, ErrNoDeposit)
	}
	return nil
}

// ValidateWithdrawCollateralGain checks that depositor has a deposit with a
// non-zero collateral gain.
func (p *Pool) ValidateWithdrawCollateralGain(depositor uuid.UUID) error {
	if err := p.ValidateWithdraw(depositor); err != nil {
		return err
	}
	if p.DepositorCollateralGain(depositor).IsZero() {
		return fmt.Errorf("%s: %w", depositor, ErrNoCollateralGain)
	}
	return nil
}

// ValidateRegisterFrontEnd checks the preconditions of RegisterFrontEnd.
func (p *Pool) ValidateRegisterFrontEnd(id uuid.UUID, kickbackRate fpmath.Decimal) error {
	if id == uuid.Nil {
		return fmt.Errorf("front end id: %w", ErrZeroID)
	}
	if _, ok := p.frontEnds[id]; ok {
		return fmt.Errorf("%s: %w", id, ErrFrontEndRegistered)
	}
	if _, ok := p.deposits[id]; ok {
		return fmt.Errorf("%s: %w", id, ErrHasDeposit)
	}
	if kickbackRate.Gt(fpmath.DecimalPrecision) {
		return fmt.Errorf("kickback rate %s: %w", kickbackRate, ErrInvalidKickbackRate)
	}
	return nil
}

// Withdraw removes up to amount from the deposit. Requests above the
// compounded value are capped. An amount of zero only claims gains.
func (p *Pool) Withdraw(depositor uuid.UUID, amount fpmath.Decimal) (Payout, error) {
	if err := p.ValidateWithdraw(depositor); err != nil {
		return Payout{}, err
	}
	tag := p.deposits[depositor].FrontEnd

	payout := p.realize(depositor, tag)
	compounded := p.CompoundedDeposit(depositor)
	withdrawn := fpmath.Min(fpmath.Min(amount, compounded), p.totalDeposits)

	newFrontEndStake := fpmath.Zero()
	if tag != uuid.Nil {
		newFrontEndStake = p.CompoundedFrontEndStake(tag).SubFloor(withdrawn)
		p.updateFrontEndStakeAndSnapshot(tag, newFrontEndStake)
	}

	p.totalDeposits = p.totalDeposits.Sub(withdrawn)
	newDeposit := compounded.Sub(withdrawn)
	p.updateDepositAndSnapshot(depositor, newDeposit, tag)
	p.collateral = p.collateral.Sub(payout.CollateralGain)

	payout.Withdrawn = withdrawn
	payout.NewDeposit = newDeposit
	payout.NewFrontEndStake = newFrontEndStake
	return payout, nil
}

// WithdrawCollateralGain realizes the depositor's gains without changing the
// compounded deposit. The caller moves the collateral gain into the
// depositor's position.
func (p *Pool) WithdrawCollateralGain(depositor uuid.UUID) (Payout, error) {
	if err := p.ValidateWithdrawCollateralGain(depositor); err != nil {
		return Payout{}, err
	}
	tag := p.deposits[depositor].FrontEnd

	payout := p.realize(depositor, tag)
	newFrontEndStake := fpmath.Zero()
	if tag != uuid.Nil {
		newFrontEndStake = p.CompoundedFrontEndStake(tag)
		p.updateFrontEndStakeAndSnapshot(tag, newFrontEndStake)
	}

	compounded := p.CompoundedDeposit(depositor)
	p.updateDepositAndSnapshot(depositor, compounded, tag)
	p.collateral = p.collateral.Sub(payout.CollateralGain)

	payout.NewDeposit = compounded
	payout.NewFrontEndStake = newFrontEndStake
	return payout, nil
}

// realize computes every gain owed against the current snapshots. It does not
// mutate state.
func (p *Pool) realize(depositor, frontEnd uuid.UUID) Payout {
	payout := Payout{
		Depositor:       depositor,
		FrontEnd:        frontEnd,
		CollateralGain:  fpmath.Min(p.DepositorCollateralGain(depositor), p.collateral),
		DepositorReward: p.DepositorRewardGain(depositor),
	}
	if d, ok := p.deposits[depositor]; ok {
		payout.DepositLoss = d.Initial.SubFloor(p.compoundedStake(d.Initial, d.Snapshot))
	}
	if frontEnd != uuid.Nil {
		payout.FrontEndReward = p.FrontEndRewardGain(frontEnd)
	}
	return payout
}

func (p *Pool) currentSnapshot() Snapshot {
	cur := slot{p.currentEpoch, p.currentScale}
	return Snapshot{
		S:     p.sums[cur],
		P:     p.p,
		G:     p.gains[cur],
		Scale: p.currentScale,
		Epoch: p.currentEpoch,
	}
}

func (p *Pool) updateDepositAndSnapshot(depositor uuid.UUID, value fpmath.Decimal, frontEnd uuid.UUID) {
	if value.IsZero() {
		delete(p.deposits, depositor)
		return
	}
	p.deposits[depositor] = &Deposit{
		Initial:  value,
		FrontEnd: frontEnd,
		Snapshot: p.currentSnapshot(),
	}
}

func (p *Pool) updateFrontEndStakeAndSnapshot(frontEnd uuid.UUID, stake fpmath.Decimal) {
	fe := p.frontEnds[frontEnd]
	fe.Stake = stake
	if stake.IsZero() {
		fe.Snapshot = Snapshot{}
		return
	}
	snap := p.currentSnapshot()
	snap.S = fpmath.Zero()
	fe.Snapshot = snap
}

// === Liquidation offset ===

// Offset cancels debt against the pool deposits and adds coll to the pool.
// debt must not exceed TotalDeposits. A zero debt or an empty pool is a no-op.
func (p *Pool) Offset(debt, coll fpmath.Decimal) (OffsetResult, error) {
	if p.totalDeposits.IsZero() || debt.IsZero() {
		return OffsetResult{P: p.p, Epoch: p.currentEpoch, Scale: p.currentScale}, nil
	}
	if debt.Gt(p.totalDeposits) {
		return OffsetResult{}, fmt.Errorf("offset %s > deposits %s: %w", debt, p.totalDeposits, ErrDebtExceedsDeposits)
	}

	collPerUnit, lossPerUnit := p.computeRewardsPerUnitStaked(coll, debt)
	result := p.updateRewardSumAndProduct(collPerUnit, lossPerUnit)

	p.collateral = p.collateral.Add(coll)
	p.totalDeposits = p.totalDeposits.Sub(debt)

	result.DebtOffset = debt
	result.CollateralAdded = coll
	return result, nil
}

// computeRewardsPerUnitStaked returns collateral gain and deposit loss per
// unit deposited. The loss is rounded up and the remainders of both divisions
// are fed into the next offset.
func (p *Pool) computeRewardsPerUnitStaked(coll, debt fpmath.Decimal) (collPerUnit, lossPerUnit fpmath.Decimal) {
	total := p.totalDeposits
	collNumerator := coll.Mul(fpmath.DecimalPrecision).Add(p.lastCollateralError)

	if debt.Eq(total) {
		lossPerUnit = fpmath.DecimalPrecision
		p.lastDebtLossError = fpmath.Zero()
	} else {
		lossNumerator := debt.Mul(fpmath.DecimalPrecision).SubFloor(p.lastDebtLossError)
		lossPerUnit = lossNumerator.Div(total).Add(fpmath.FromRaw(1))
		p.lastDebtLossError = lossPerUnit.Mul(total).Sub(lossNumerator)
	}

	collPerUnit = collNumerator.Div(total)
	p.lastCollateralError = collNumerator.Sub(collPerUnit.Mul(total))
	return collPerUnit, lossPerUnit
}

func (p *Pool) updateRewardSumAndProduct(collPerUnit, lossPerUnit fpmath.Decimal) OffsetResult {
	currentP := p.p
	cur := slot{p.currentEpoch, p.currentScale}

	// The loss is at most one whole unit per unit deposited.
	if lossPerUnit.Gt(fpmath.DecimalPrecision) {
		panic(fmt.Sprintf("FATAL: loss per unit %s exceeds 1", lossPerUnit.RawString()))
	}
	newProductFactor := fpmath.DecimalPrecision.Sub(lossPerUnit)

	newS := p.sums[cur].Add(collPerUnit.Mul(currentP))
	p.sums[cur] = newS

	result := OffsetResult{S: newS}

	var newP fpmath.Decimal
	switch {
	case newProductFactor.IsZero():
		p.currentEpoch++
		p.currentScale = 0
		newP = fpmath.DecimalPrecision
		result.EpochChanged = true
		result.ScaleChanged = true
	case currentP.MulDiv(newProductFactor, fpmath.DecimalPrecision).Lt(scaleFactor):
		newP = currentP.Mul(newProductFactor).Mul(scaleFactor).Div(fpmath.DecimalPrecision)
		p.currentScale++
		result.ScaleChanged = true
	default:
		newP = currentP.MulDiv(newProductFactor, fpmath.DecimalPrecision)
	}

	if newP.IsZero() {
		panic("FATAL: stability pool product P reached zero")
	}
	p.p = newP

	result.P = newP
	result.Epoch = p.currentEpoch
	result.Scale = p.currentScale
	return result
}

// === Reward issuance ===

// UpdateG credits newly issued rewards to depositors through G. Rewards
// issued while the pool is empty wait for the next depositor.
func (p *Pool) UpdateG(issuance fpmath.Decimal) fpmath.Decimal {
	issuance = issuance.Add(p.unassignedReward)
	if issuance.IsZero() {
		return p.gains[slot{p.currentEpoch, p.currentScale}]
	}
	if p.totalDeposits.IsZero() {
		p.unassignedReward = issuance
		return p.gains[slot{p.currentEpoch, p.currentScale}]
	}
	p.unassignedReward = fpmath.Zero()

	numerator := issuance.Mul(fpmath.DecimalPrecision).Add(p.lastRewardError)
	perUnit := numerator.Div(p.totalDeposits)
	p.lastRewardError = numerator.Sub(perUnit.Mul(p.totalDeposits))

	cur := slot{p.currentEpoch, p.currentScale}
	p.gains[cur] = p.gains[cur].Add(perUnit.Mul(p.p))
	return p.gains[cur]
}

// UnassignedReward returns rewards waiting for a non-empty pool.
func (p *Pool) UnassignedReward() fpmath.Decimal {
	return p.unassignedReward
}
