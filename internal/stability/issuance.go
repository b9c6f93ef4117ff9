package stability

import (
	fpmath "TroveLedger/internal/math"
	"time"
)

// CommunityIssuance releases reward tokens to the pool on a time-decayed curve
// measured in whole minutes since deployment.
type CommunityIssuance struct {
	curve       fpmath.IssuanceCurve
	deployedAt  time.Time
	totalIssued fpmath.Decimal
}

func NewCommunityIssuance(curve fpmath.IssuanceCurve, deployedAt time.Time) *CommunityIssuance {
	return &CommunityIssuance{curve: curve, deployedAt: deployedAt}
}

// Issue returns the amount released since the previous call.
func (c *CommunityIssuance) Issue(now time.Time) fpmath.Decimal {
	amount := c.curve.Issuance(c.totalIssued, c.minutesSinceDeployment(now))
	c.totalIssued = c.totalIssued.Add(amount)
	return amount
}

func (c *CommunityIssuance) minutesSinceDeployment(now time.Time) uint64 {
	if now.Before(c.deployedAt) {
		return 0
	}
	return uint64(now.Sub(c.deployedAt) / time.Minute)
}

func (c *CommunityIssuance) TotalIssued() fpmath.Decimal { return c.totalIssued }
func (c *CommunityIssuance) DeployedAt() time.Time       { return c.deployedAt }

// Restore sets the deployment time and issued total (snapshot recovery).
func (c *CommunityIssuance) Restore(deployedAt time.Time, totalIssued fpmath.Decimal) {
	c.deployedAt = deployedAt
	c.totalIssued = totalIssued
}
