package state

import (
	fpmath "TroveLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// CollSurplusPool tracks collateral owed back to owners whose positions were
// closed with more collateral than debt: fully redeemed positions and capped
// liquidations in recovery mode. The tokens themselves sit in the
// system:coll_surplus ledger account; this struct holds the per-owner claims.
type CollSurplusPool struct {
	claims map[uuid.UUID]fpmath.Decimal
	total  fpmath.Decimal
}

func NewCollSurplusPool() *CollSurplusPool {
	return &CollSurplusPool{claims: make(map[uuid.UUID]fpmath.Decimal)}
}

// AccountSurplus adds amount to owner's claim.
func (c *CollSurplusPool) AccountSurplus(owner uuid.UUID, amount fpmath.Decimal) {
	if amount.IsZero() {
		return
	}
	c.claims[owner] = c.claims[owner].Add(amount)
	c.total = c.total.Add(amount)
}

// Claimable returns owner's outstanding claim.
func (c *CollSurplusPool) Claimable(owner uuid.UUID) fpmath.Decimal {
	return c.claims[owner]
}

// Claim clears and returns owner's claim.
func (c *CollSurplusPool) Claim(owner uuid.UUID) (fpmath.Decimal, error) {
	amount := c.claims[owner]
	if amount.IsZero() {
		return fpmath.Zero(), fmt.Errorf("%s: %w", owner, ErrNoSurplus)
	}
	delete(c.claims, owner)
	c.total = c.total.Sub(amount)
	return amount, nil
}

// Total returns the sum of all claims.
func (c *CollSurplusPool) Total() fpmath.Decimal {
	return c.total
}

// Claims returns a copy of all claims (for snapshots).
func (c *CollSurplusPool) Claims() map[uuid.UUID]fpmath.Decimal {
	out := make(map[uuid.UUID]fpmath.Decimal, len(c.claims))
	for k, v := range c.claims {
		out[k] = v
	}
	return out
}

// Restore replaces all claims.
func (c *CollSurplusPool) Restore(claims map[uuid.UUID]fpmath.Decimal) {
	c.claims = make(map[uuid.UUID]fpmath.Decimal, len(claims))
	c.total = fpmath.Zero()
	for k, v := range claims {
		c.claims[k] = v
		c.total = c.total.Add(v)
	}
}
