package core

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
	"fmt"

	"github.com/google/uuid"
)

// RedemptionTotals reports one redemption.
type RedemptionTotals struct {
	Redeemer     uuid.UUID      `json:"redeemer"`
	Attempted    fpmath.Decimal `json:"attempted"`
	DebtRedeemed fpmath.Decimal `json:"debt_redeemed"`
	CollDrawn    fpmath.Decimal `json:"coll_drawn"`
	CollFee      fpmath.Decimal `json:"coll_fee"`
	CollSent     fpmath.Decimal `json:"coll_sent"`
	BaseRate     fpmath.Decimal `json:"base_rate"`
	Redeemed     []uuid.UUID    `json:"redeemed"`
	Closed       []uuid.UUID    `json:"closed"`
}

// redemptionStep is one position's share of a planned redemption.
type redemptionStep struct {
	pos     *state.Position
	debtLot fpmath.Decimal
	collLot fpmath.Decimal
	newDebt fpmath.Decimal
	newColl fpmath.Decimal
	full    bool
}

func (c *DeterministicCore) handleRedeem(cmd *event.Redeem) (any, error) {
	if cmd.Redeemer == uuid.Nil {
		return nil, state.ErrZeroID
	}
	if cmd.MaxFeePercentage.Lt(c.params.RedemptionFeeFloor) || cmd.MaxFeePercentage.Gt(fpmath.One()) {
		return nil, fmt.Errorf("%s not in [%s, 1]: %w", cmd.MaxFeePercentage, c.params.RedemptionFeeFloor, ErrInvalidMaxFee)
	}
	if tcr := c.tcr(); tcr.Lt(c.params.MCR) {
		return nil, fmt.Errorf("TCR %s: %w", tcr, ErrTCRBelowMCR)
	}
	if cmd.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	debtWallet := wallet(cmd.Redeemer, ledger.AssetDebt)
	if err := c.requireBalance(debtWallet, cmd.Amount); err != nil {
		return nil, err
	}
	if cmd.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations %d must be >= 0", cmd.MaxIterations)
	}

	supplyAtStart := c.systemDebt()
	steps, totalDebt, totalColl := c.planRedemption(cmd)
	if totalColl.IsZero() {
		return nil, ErrNothingRedeemed
	}

	newBaseRate := c.redemptionBaseRate(totalColl, supplyAtStart)
	fee := c.redemptionRate(newBaseRate).MulDiv(totalColl, fpmath.One())
	if err := requireUserAcceptsFee(fee, totalColl, cmd.MaxFeePercentage); err != nil {
		return nil, err
	}

	totals := &RedemptionTotals{
		Redeemer:     cmd.Redeemer,
		Attempted:    cmd.Amount,
		DebtRedeemed: totalDebt,
		CollDrawn:    totalColl,
		CollFee:      fee,
		CollSent:     totalColl.Sub(fee),
		BaseRate:     newBaseRate,
	}
	for _, step := range steps {
		c.redeemFromPosition(step, cmd)
		totals.Redeemed = append(totals.Redeemed, step.pos.ID)
		if step.full {
			totals.Closed = append(totals.Closed, step.pos.ID)
		}
	}

	c.setBaseRate(newBaseRate)
	c.payRedemptionFee(fee)
	must(c.debtToken.Burn(debtWallet, totalDebt))
	c.activePool.DecreaseDebt(totalDebt)
	must(c.activePool.SendCollateral(wallet(cmd.Redeemer, ledger.AssetCollateral), totals.CollSent))

	c.emit(&event.Redemption{
		Redeemer:  cmd.Redeemer,
		Attempted: cmd.Amount,
		Actual:    totalDebt,
		CollSent:  totals.CollSent,
		CollFee:   fee,
	})
	if c.metrics != nil {
		c.metrics.Redemptions.Inc()
		c.metrics.RedeemedDebt.Add(totalDebt.Float64())
	}
	c.logger.Info().
		Str("redeemer", cmd.Redeemer.String()).
		Str("debt", totalDebt.String()).
		Str("coll", totalColl.String()).
		Str("fee", fee.String()).
		Int("positions", len(steps)).
		Msg("redemption")
	return totals, nil
}

// planRedemption walks the candidates without mutating and returns the lots
// each position gives up.
func (c *DeterministicCore) planRedemption(cmd *event.Redeem) (steps []redemptionStep, totalDebt, totalColl fpmath.Decimal) {
	maxIterations := cmd.MaxIterations
	if maxIterations == 0 {
		maxIterations = c.params.MaxRedemptionIterations
	}
	remaining := cmd.Amount
	count := c.positions.Count()

	id := c.firstRedemptionCandidate(cmd.FirstHint)
	for i := 0; id != uuid.Nil && !remaining.IsZero() && (maxIterations == 0 || i < maxIterations); i++ {
		next := c.sorted.Prev(id)
		pos := c.positions.Get(id)
		debt, coll, _, _ := c.rewards.EntireDebtAndColl(pos)

		debtLot := fpmath.Min(remaining, debt.SubFloor(c.params.GasCompensation))
		collLot := debtLot.MulDiv(fpmath.One(), c.price)
		step := redemptionStep{
			pos:     pos,
			debtLot: debtLot,
			collLot: collLot,
			newDebt: debt.Sub(debtLot),
			newColl: coll.Sub(collLot),
		}
		if step.newDebt.Lte(c.params.GasCompensation) {
			if count <= 1 {
				break
			}
			step.full = true
			count--
		} else if c.params.NetDebt(step.newDebt).Lt(c.params.MinNetDebt) {
			break
		}

		steps = append(steps, step)
		totalDebt = totalDebt.Add(debtLot)
		totalColl = totalColl.Add(collLot)
		remaining = remaining.Sub(debtLot)
		id = next
	}
	return steps, totalDebt, totalColl
}

// redeemFromPosition applies a planned step. A fully redeemed position is
// closed and its leftover collateral becomes a claimable surplus; a partial
// one is re-inserted with the caller's hints.
func (c *DeterministicCore) redeemFromPosition(step redemptionStep, cmd *event.Redeem) {
	pos := step.pos
	id := pos.ID
	c.applyPending(pos)

	if step.full {
		c.rewards.RemoveStake(pos)
		must(c.sorted.Remove(id))
		must(c.positions.Close(id, state.StatusClosedByRedemption))
		must(c.debtToken.Burn(gasPoolKey, step.newDebt))
		c.activePool.DecreaseDebt(step.newDebt)
		c.surplus.AccountSurplus(id, step.newColl)
		must(c.activePool.SendCollateral(collSurplusKey, step.newColl))
		c.emitPositionUpdated(pos, "redeem_close")
		if c.metrics != nil {
			c.metrics.PositionsRedeemed.WithLabelValues("full").Inc()
		}
		return
	}

	pos.Debt = step.newDebt
	pos.Collateral = step.newColl
	newNICR := fpmath.ComputeNominalCR(step.newColl, step.newDebt)
	if !newNICR.Eq(cmd.PartialHintNICR) {
		c.logger.Debug().Str("position", id.String()).Str("nicr", newNICR.String()).Str("hint", cmd.PartialHintNICR.String()).Msg("stale partial redemption hint")
	}
	must(c.sorted.ReInsert(id, newNICR, cmd.UpperPartialHint, cmd.LowerPartialHint))
	c.rewards.UpdateStakeAndTotalStakes(pos)
	c.emitPositionUpdated(pos, "redeem")
	if c.metrics != nil {
		c.metrics.PositionsRedeemed.WithLabelValues("partial").Inc()
	}
}

// firstRedemptionCandidate returns the hint when it is the lowest position
// with ICR >= MCR, otherwise searches up from the tail.
func (c *DeterministicCore) firstRedemptionCandidate(hint uuid.UUID) uuid.UUID {
	if c.isValidFirstRedemptionHint(hint) {
		return hint
	}
	id := c.sorted.Last()
	for id != uuid.Nil && c.currentICR(c.positions.Get(id), c.price).Lt(c.params.MCR) {
		id = c.sorted.Prev(id)
	}
	return id
}

func (c *DeterministicCore) isValidFirstRedemptionHint(hint uuid.UUID) bool {
	if hint == uuid.Nil || !c.sorted.Contains(hint) {
		return false
	}
	if c.currentICR(c.positions.Get(hint), c.price).Lt(c.params.MCR) {
		return false
	}
	next := c.sorted.Next(hint)
	return next == uuid.Nil || c.currentICR(c.positions.Get(next), c.price).Lt(c.params.MCR)
}

// RedemptionHints computes the inputs a redeemer should pass: the first
// position to redeem from, the NICR the final partial redemption will leave
// and the amount that can actually be redeemed without a partial that drops
// below the minimum net debt.
func (c *DeterministicCore) RedemptionHints(amount fpmath.Decimal, maxIterations int) (first uuid.UUID, partialNICR, truncated fpmath.Decimal) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price := c.oracle.Price()

	remaining := amount
	id := c.sorted.Last()
	for id != uuid.Nil && c.currentICR(c.positions.Get(id), price).Lt(c.params.MCR) {
		id = c.sorted.Prev(id)
	}
	first = id

	for i := 0; id != uuid.Nil && !remaining.IsZero() && (maxIterations == 0 || i < maxIterations); i++ {
		debt, coll, _, _ := c.rewards.EntireDebtAndColl(c.positions.Get(id))
		netDebt := c.params.NetDebt(debt)
		if netDebt.Gt(remaining) {
			if netDebt.Gt(c.params.MinNetDebt) {
				lot := fpmath.Min(remaining, netDebt.Sub(c.params.MinNetDebt))
				newColl := coll.Sub(lot.MulDiv(fpmath.One(), price))
				newDebt := netDebt.Sub(lot).Add(c.params.GasCompensation)
				partialNICR = fpmath.ComputeNominalCR(newColl, newDebt)
				remaining = remaining.Sub(lot)
			}
			break
		}
		remaining = remaining.Sub(netDebt)
		id = c.sorted.Prev(id)
	}
	return first, partialNICR, amount.Sub(remaining)
}
