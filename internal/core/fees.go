package core

import (
	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"fmt"
	"time"
)

// minutesSinceLastFeeOp counts whole minutes; a timestamp before the last fee
// operation counts as zero.
func (c *DeterministicCore) minutesSinceLastFeeOp() uint64 {
	if c.now.Before(c.lastFeeOperation) {
		return 0
	}
	return uint64(c.now.Sub(c.lastFeeOperation) / time.Minute)
}

func (c *DeterministicCore) decayedBaseRate() fpmath.Decimal {
	return fpmath.DecayBaseRate(c.baseRate, c.minutesSinceLastFeeOp(), c.params.MinuteDecayFactor)
}

func (c *DeterministicCore) borrowingRate(baseRate fpmath.Decimal) fpmath.Decimal {
	return fpmath.Min(c.params.BorrowingFeeFloor.Add(baseRate), c.params.MaxBorrowingFee)
}

func (c *DeterministicCore) redemptionRate(baseRate fpmath.Decimal) fpmath.Decimal {
	return fpmath.Min(c.params.RedemptionFeeFloor.Add(baseRate), fpmath.One())
}

// redemptionBaseRate is the base rate after redeeming collDrawn against a
// debt supply of totalSupply: decayed + (collDrawn * price / supply) / beta,
// capped at 100%.
func (c *DeterministicCore) redemptionBaseRate(collDrawn, totalSupply fpmath.Decimal) fpmath.Decimal {
	fraction := collDrawn.MulDiv(c.price, totalSupply)
	return fpmath.Min(c.decayedBaseRate().Add(fraction.DivUint64(c.params.Beta)), fpmath.One())
}

// setBaseRate stores a new base rate and advances the fee clock when at least
// a minute has passed, so that frequent operations cannot stall the decay.
func (c *DeterministicCore) setBaseRate(rate fpmath.Decimal) {
	c.baseRate = rate
	if c.now.Sub(c.lastFeeOperation) >= time.Minute {
		c.lastFeeOperation = c.now
	}
	c.emit(&event.BaseRateUpdated{BaseRate: rate})
}

// requireValidMaxBorrowingFee bounds the caller's fee tolerance. In recovery mode no
// borrowing fee is charged, so only the upper bound applies.
func (c *DeterministicCore) requireValidMaxBorrowingFee(maxFee fpmath.Decimal, recovery bool) error {
	if recovery {
		if maxFee.Gt(fpmath.One()) {
			return fmt.Errorf("%s > 100%%: %w", maxFee, ErrInvalidMaxFee)
		}
		return nil
	}
	if maxFee.Lt(c.params.BorrowingFeeFloor) || maxFee.Gt(fpmath.One()) {
		return fmt.Errorf("%s not in [%s, 1]: %w", maxFee, c.params.BorrowingFeeFloor, ErrInvalidMaxFee)
	}
	return nil
}

// requireUserAcceptsFee checks fee/amount <= maxFee.
func requireUserAcceptsFee(fee, amount, maxFee fpmath.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if pct := fee.MulDiv(fpmath.One(), amount); pct.Gt(maxFee) {
		return fmt.Errorf("fee %s of %s is %s > %s: %w", fee, amount, pct, maxFee, ErrFeeExceedsMax)
	}
	return nil
}
