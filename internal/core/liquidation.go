package core

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/stability"
	"TroveLedger/internal/state"
	"fmt"

	"github.com/google/uuid"
)

// LiquidationTotals aggregates one liquidation command.
type LiquidationTotals struct {
	Liquidator          uuid.UUID      `json:"liquidator"`
	Liquidated          []uuid.UUID    `json:"liquidated"`
	RecoveryMode        bool           `json:"recovery_mode"`
	DebtInSequence      fpmath.Decimal `json:"debt_in_sequence"`
	CollInSequence      fpmath.Decimal `json:"coll_in_sequence"`
	CollGasCompensation fpmath.Decimal `json:"coll_gas_compensation"`
	DebtGasCompensation fpmath.Decimal `json:"debt_gas_compensation"`
	DebtToOffset        fpmath.Decimal `json:"debt_to_offset"`
	CollToSendToSP      fpmath.Decimal `json:"coll_to_send_to_sp"`
	DebtToRedistribute  fpmath.Decimal `json:"debt_to_redistribute"`
	CollToRedistribute  fpmath.Decimal `json:"coll_to_redistribute"`
	CollSurplus         fpmath.Decimal `json:"coll_surplus"`
}

type liquidationMode int

const (
	liquidationNone liquidationMode = iota
	liquidationRedistribute
	liquidationNormal
	liquidationCapped
)

func (m liquidationMode) String() string {
	switch m {
	case liquidationRedistribute:
		return "redistribution"
	case liquidationNormal:
		return "normal"
	case liquidationCapped:
		return "capped"
	default:
		return "none"
	}
}

type liquidationValues struct {
	debt               fpmath.Decimal
	coll               fpmath.Decimal
	collGasComp        fpmath.Decimal
	debtGasComp        fpmath.Decimal
	debtToOffset       fpmath.Decimal
	collToSP           fpmath.Decimal
	debtToRedistribute fpmath.Decimal
	collToRedistribute fpmath.Decimal
	collSurplus        fpmath.Decimal
}

// liquidationWalk carries the running system state across a batch so that
// later positions are judged against the effect of earlier ones.
type liquidationWalk struct {
	totals          *LiquidationTotals
	startedRecovery bool
	recovery        bool
	remainingSP     fpmath.Decimal
	systemColl      fpmath.Decimal
	systemDebt      fpmath.Decimal
	reachedLast     bool
}

func (c *DeterministicCore) newLiquidationWalk(liquidator uuid.UUID) *liquidationWalk {
	recovery := c.isRecoveryMode()
	return &liquidationWalk{
		totals:          &LiquidationTotals{Liquidator: liquidator, RecoveryMode: recovery},
		startedRecovery: recovery,
		recovery:        recovery,
		remainingSP:     c.pool.TotalDeposits(),
		systemColl:      c.systemCollateral(),
		systemDebt:      c.systemDebt(),
	}
}

// evaluate decides how pos would be liquidated. It does not mutate.
func (c *DeterministicCore) evaluate(w *liquidationWalk, pos *state.Position) (liquidationMode, fpmath.Decimal) {
	debt, coll, _, _ := c.rewards.EntireDebtAndColl(pos)
	icr := fpmath.ComputeCR(coll, debt, c.price)
	if !w.recovery {
		if icr.Lt(c.params.MCR) {
			return liquidationNormal, icr
		}
		return liquidationNone, icr
	}

	tcr := fpmath.ComputeCR(w.systemColl, w.systemDebt, c.price)
	switch {
	case icr.Lte(fpmath.One()):
		return liquidationRedistribute, icr
	case icr.Lt(c.params.MCR):
		return liquidationNormal, icr
	case icr.Lt(tcr) && debt.Lte(w.remainingSP):
		return liquidationCapped, icr
	default:
		return liquidationNone, icr
	}
}

// liquidate closes pos and returns how its debt and collateral are split.
// Token movements happen once per command in finishLiquidation.
func (c *DeterministicCore) liquidate(w *liquidationWalk, pos *state.Position, mode liquidationMode) {
	c.applyPending(pos)
	c.rewards.RemoveStake(pos)

	v := liquidationValues{
		debt:        pos.Debt,
		coll:        pos.Collateral,
		debtGasComp: fpmath.Min(c.params.GasCompensation, pos.Debt),
	}
	switch mode {
	case liquidationCapped:
		collToOffset := v.debt.MulDiv(c.params.MCR, c.price)
		v.collGasComp = c.params.CollGasCompensation(collToOffset)
		v.debtToOffset = v.debt
		v.collToSP = collToOffset.Sub(v.collGasComp)
		v.collSurplus = v.coll.Sub(collToOffset)
	case liquidationRedistribute:
		v.collGasComp = c.params.CollGasCompensation(v.coll)
		v.debtToRedistribute = v.debt
		v.collToRedistribute = v.coll.Sub(v.collGasComp)
	default:
		v.collGasComp = c.params.CollGasCompensation(v.coll)
		v.debtToOffset, v.collToSP, v.debtToRedistribute, v.collToRedistribute =
			offsetAndRedistribution(v.debt, v.coll.Sub(v.collGasComp), w.remainingSP)
	}

	id := pos.ID
	must(c.sorted.Remove(id))
	must(c.positions.Close(id, state.StatusClosedByLiquidation))
	c.surplus.AccountSurplus(id, v.collSurplus)
	c.touch(id)
	c.emit(&event.PositionLiquidated{
		Position:          id,
		Mode:              mode.String(),
		Debt:              v.debt,
		Collateral:        v.coll,
		DebtOffset:        v.debtToOffset,
		CollToSP:          v.collToSP,
		DebtRedistributed: v.debtToRedistribute,
		CollRedistributed: v.collToRedistribute,
		CollGasComp:       v.collGasComp,
		CollSurplus:       v.collSurplus,
	})
	if c.metrics != nil {
		c.metrics.Liquidations.WithLabelValues(mode.String()).Inc()
	}

	w.remainingSP = w.remainingSP.Sub(v.debtToOffset)
	w.systemDebt = w.systemDebt.Sub(v.debtToOffset)
	w.systemColl = w.systemColl.Sub(v.collToSP.Add(v.collGasComp).Add(v.collSurplus))
	if w.recovery {
		w.recovery = fpmath.ComputeCR(w.systemColl, w.systemDebt, c.price).Lt(c.params.CCR)
	}

	t := w.totals
	t.Liquidated = append(t.Liquidated, id)
	t.DebtInSequence = t.DebtInSequence.Add(v.debt)
	t.CollInSequence = t.CollInSequence.Add(v.coll)
	t.CollGasCompensation = t.CollGasCompensation.Add(v.collGasComp)
	t.DebtGasCompensation = t.DebtGasCompensation.Add(v.debtGasComp)
	t.DebtToOffset = t.DebtToOffset.Add(v.debtToOffset)
	t.CollToSendToSP = t.CollToSendToSP.Add(v.collToSP)
	t.DebtToRedistribute = t.DebtToRedistribute.Add(v.debtToRedistribute)
	t.CollToRedistribute = t.CollToRedistribute.Add(v.collToRedistribute)
	t.CollSurplus = t.CollSurplus.Add(v.collSurplus)
}

// offsetAndRedistribution cancels as much debt as the pool holds and
// redistributes the rest, splitting collateral in the same proportion.
func offsetAndRedistribution(debt, coll, poolDeposits fpmath.Decimal) (debtToOffset, collToSP, debtToRedistribute, collToRedistribute fpmath.Decimal) {
	if poolDeposits.IsZero() {
		return fpmath.Zero(), fpmath.Zero(), debt, coll
	}
	debtToOffset = fpmath.Min(debt, poolDeposits)
	collToSP = coll.MulDiv(debtToOffset, debt)
	return debtToOffset, collToSP, debt.Sub(debtToOffset), coll.Sub(collToSP)
}

// canClose reports whether closing one more position leaves at least one.
func (c *DeterministicCore) canClose(w *liquidationWalk) bool {
	if c.positions.Count() <= 1 || c.sorted.Size() <= 1 {
		w.reachedLast = true
		return false
	}
	return true
}

// === Handlers ===

func (c *DeterministicCore) handleLiquidate(cmd *event.Liquidate) (any, error) {
	if cmd.Liquidator == uuid.Nil {
		return nil, state.ErrZeroID
	}
	if _, err := c.positions.GetActive(cmd.Position); err != nil {
		return nil, err
	}
	w := c.batchLiquidate(cmd.Liquidator, []uuid.UUID{cmd.Position})
	if len(w.totals.Liquidated) == 0 && w.reachedLast {
		return nil, ErrOnlyOnePosition
	}
	return c.finishLiquidation(w), nil
}

func (c *DeterministicCore) handleBatchLiquidate(cmd *event.BatchLiquidate) (any, error) {
	if cmd.Liquidator == uuid.Nil {
		return nil, state.ErrZeroID
	}
	if len(cmd.Positions) == 0 {
		return nil, fmt.Errorf("empty position list: %w", ErrZeroAmount)
	}
	return c.finishLiquidation(c.batchLiquidate(cmd.Liquidator, cmd.Positions)), nil
}

// batchLiquidate liquidates every qualifying id in order. Inactive ids and
// positions that do not qualify are skipped.
func (c *DeterministicCore) batchLiquidate(liquidator uuid.UUID, ids []uuid.UUID) *liquidationWalk {
	w := c.newLiquidationWalk(liquidator)
	for _, id := range ids {
		pos := c.positions.Get(id)
		if pos == nil || !pos.IsActive() {
			continue
		}
		mode, _ := c.evaluate(w, pos)
		if mode == liquidationNone {
			continue
		}
		if !c.canClose(w) {
			break
		}
		c.liquidate(w, pos, mode)
	}
	return w
}

// handleLiquidatePositions walks up from the lowest-ratio position, stopping
// at the first one that cannot be liquidated or after MaxCount positions.
func (c *DeterministicCore) handleLiquidatePositions(cmd *event.LiquidatePositions) (any, error) {
	if cmd.Liquidator == uuid.Nil {
		return nil, state.ErrZeroID
	}
	if cmd.MaxCount <= 0 {
		return nil, fmt.Errorf("max count %d: %w", cmd.MaxCount, ErrZeroAmount)
	}

	w := c.newLiquidationWalk(cmd.Liquidator)
	first := c.sorted.First()
	id := c.sorted.Last()
	for i := 0; i < cmd.MaxCount && id != uuid.Nil; i++ {
		if w.startedRecovery && id == first {
			break
		}
		prev := c.sorted.Prev(id)
		pos := c.positions.Get(id)
		mode, icr := c.evaluate(w, pos)
		if mode == liquidationNone {
			if !w.recovery || (icr.Gte(c.params.MCR) && w.remainingSP.IsZero()) {
				break
			}
			id = prev
			continue
		}
		if !c.canClose(w) {
			break
		}
		c.liquidate(w, pos, mode)
		id = prev
	}
	return c.finishLiquidation(w), nil
}

// finishLiquidation moves the tokens for everything liquidated in the
// command: offset against the pool, redistribution to the default pool,
// surplus and gas compensation. Nothing qualifying is a no-op.
func (c *DeterministicCore) finishLiquidation(w *liquidationWalk) *LiquidationTotals {
	t := w.totals
	if len(t.Liquidated) == 0 {
		return t
	}

	c.issueRewards()

	if !t.DebtToOffset.IsZero() {
		epoch, scale := c.pool.CurrentEpoch(), c.pool.CurrentScale()
		res, err := c.pool.Offset(t.DebtToOffset, t.CollToSendToSP)
		must(err)
		c.activePool.DecreaseDebt(t.DebtToOffset)
		must(c.debtToken.Burn(stabilityDebtKey, t.DebtToOffset))
		must(c.activePool.SendCollateral(stabilityCollKey, t.CollToSendToSP))
		c.emitOffset(res, epoch, scale)
	}

	if !t.DebtToRedistribute.IsZero() || !t.CollToRedistribute.IsZero() {
		c.rewards.Redistribute(t.CollToRedistribute, t.DebtToRedistribute)
		c.activePool.DecreaseDebt(t.DebtToRedistribute)
		c.defaultPool.IncreaseDebt(t.DebtToRedistribute)
		must(c.activePool.SendCollateral(c.defaultPool.Account(), t.CollToRedistribute))
	}

	must(c.activePool.SendCollateral(collSurplusKey, t.CollSurplus))
	must(c.debtToken.Transfer(gasPoolKey, wallet(t.Liquidator, ledger.AssetDebt), t.DebtGasCompensation))
	must(c.activePool.SendCollateral(wallet(t.Liquidator, ledger.AssetCollateral), t.CollGasCompensation))

	c.rewards.UpdateSystemSnapshots(c.systemCollateral())

	c.emit(&event.Liquidation{
		Liquidator:          t.Liquidator,
		LiquidatedDebt:      t.DebtInSequence,
		LiquidatedColl:      t.CollInSequence,
		CollGasCompensation: t.CollGasCompensation,
		DebtGasCompensation: t.DebtGasCompensation,
	})
	if c.metrics != nil {
		c.metrics.DebtOffset.Add(t.DebtToOffset.Float64())
		c.metrics.DebtRedistributed.Add(t.DebtToRedistribute.Float64())
		c.metrics.CollRedistributed.Add(t.CollToRedistribute.Float64())
	}
	c.logger.Info().
		Str("liquidator", t.Liquidator.String()).
		Int("count", len(t.Liquidated)).
		Bool("recovery_mode", t.RecoveryMode).
		Str("debt", t.DebtInSequence.String()).
		Str("offset", t.DebtToOffset.String()).
		Str("redistributed", t.DebtToRedistribute.String()).
		Msg("liquidation")
	return t
}

// emitOffset reports the pool accumulator changes of an offset. S belongs to
// the slot that was current before the offset.
func (c *DeterministicCore) emitOffset(res stability.OffsetResult, epoch, scale uint64) {
	c.emit(&event.SumUpdated{S: res.S, Epoch: epoch, Scale: scale})
	c.emit(&event.ProductUpdated{P: res.P})
	if res.EpochChanged {
		c.emit(&event.EpochUpdated{Epoch: res.Epoch})
	}
	if res.ScaleChanged {
		c.emit(&event.ScaleUpdated{Scale: res.Scale})
	}
}
