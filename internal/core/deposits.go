package core

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/stability"
	"fmt"

	"github.com/google/uuid"
)

// issueRewards releases the community issuance accrued up to the command
// time and credits it to depositors through G.
func (c *DeterministicCore) issueRewards() {
	amount := c.issuance.Issue(c.now)
	if amount.IsZero() && c.pool.UnassignedReward().IsZero() {
		return
	}
	must(c.rewardToken.Mint(issuanceRewardKey, amount))

	epoch, scale := c.pool.CurrentEpoch(), c.pool.CurrentScale()
	before := c.pool.EpochToScaleToG(epoch, scale)
	g := c.pool.UpdateG(amount)
	if !g.Eq(before) {
		c.emit(&event.RewardSumUpdated{G: g, Epoch: epoch, Scale: scale})
	}
	if c.metrics != nil && !amount.IsZero() {
		c.metrics.RewardsIssued.Add(amount.Float64())
	}
}

// payGains moves the realized collateral gain and rewards of a pool operation.
// A nil collateral destination keeps the gain in the pool account for the
// caller to route.
func (c *DeterministicCore) payGains(p stability.Payout, collTo *ledger.AccountKey) {
	if collTo != nil {
		must(c.collToken.Transfer(stabilityCollKey, *collTo, p.CollateralGain))
	}
	if !p.CollateralGain.IsZero() || !p.DepositLoss.IsZero() {
		c.emit(&event.CollateralGainWithdrawn{Depositor: p.Depositor, CollateralGain: p.CollateralGain, DepositLoss: p.DepositLoss})
	}
	if !p.DepositorReward.IsZero() {
		must(c.rewardToken.Transfer(issuanceRewardKey, wallet(p.Depositor, ledger.AssetReward), p.DepositorReward))
		c.emit(&event.RewardPaid{Recipient: p.Depositor, Amount: p.DepositorReward})
	}
	if p.FrontEnd != uuid.Nil && !p.FrontEndReward.IsZero() {
		must(c.rewardToken.Transfer(issuanceRewardKey, wallet(p.FrontEnd, ledger.AssetReward), p.FrontEndReward))
		c.emit(&event.RewardPaid{Recipient: p.FrontEnd, Amount: p.FrontEndReward, FrontEnd: true})
	}
	c.emit(&event.DepositChanged{Depositor: p.Depositor, NewDeposit: p.NewDeposit})
}

func (c *DeterministicCore) handleRegisterFrontEnd(cmd *event.RegisterFrontEnd) (any, error) {
	if err := c.pool.ValidateRegisterFrontEnd(cmd.FrontEnd, cmd.KickbackRate); err != nil {
		return nil, err
	}
	must(c.pool.RegisterFrontEnd(cmd.FrontEnd, cmd.KickbackRate))
	c.emit(&event.FrontEndRegistered{FrontEnd: cmd.FrontEnd, KickbackRate: cmd.KickbackRate})
	return nil, nil
}

func (c *DeterministicCore) handleProvideToSP(cmd *event.ProvideToSP) (any, error) {
	if err := c.pool.ValidateProvide(cmd.Depositor, cmd.Amount, cmd.FrontEnd); err != nil {
		return nil, err
	}
	debtWallet := wallet(cmd.Depositor, ledger.AssetDebt)
	if err := c.requireBalance(debtWallet, cmd.Amount); err != nil {
		return nil, err
	}

	c.issueRewards()
	payout, err := c.pool.Provide(cmd.Depositor, cmd.Amount, cmd.FrontEnd)
	must(err)
	must(c.debtToken.Transfer(debtWallet, stabilityDebtKey, cmd.Amount))
	collWallet := wallet(cmd.Depositor, ledger.AssetCollateral)
	c.payGains(payout, &collWallet)
	return &payout, nil
}

func (c *DeterministicCore) handleWithdrawFromSP(cmd *event.WithdrawFromSP) (any, error) {
	if err := c.pool.ValidateWithdraw(cmd.Depositor); err != nil {
		return nil, err
	}
	if !cmd.Amount.IsZero() {
		if err := c.requireNoUndercollateralizedPositions(); err != nil {
			return nil, err
		}
	}

	c.issueRewards()
	payout, err := c.pool.Withdraw(cmd.Depositor, cmd.Amount)
	must(err)
	must(c.debtToken.Transfer(stabilityDebtKey, wallet(cmd.Depositor, ledger.AssetDebt), payout.Withdrawn))
	collWallet := wallet(cmd.Depositor, ledger.AssetCollateral)
	c.payGains(payout, &collWallet)
	return &payout, nil
}

// handleWithdrawCollateralGainToPosition moves the depositor's collateral gain
// straight into their position as a collateral top-up.
func (c *DeterministicCore) handleWithdrawCollateralGainToPosition(cmd *event.WithdrawCollateralGainToPosition) (any, error) {
	if err := c.pool.ValidateWithdrawCollateralGain(cmd.Depositor); err != nil {
		return nil, err
	}
	gain := fpmath.Min(c.pool.DepositorCollateralGain(cmd.Depositor), c.pool.Collateral())
	plan, err := c.planAdjust(adjustRequest{
		owner:       cmd.Depositor,
		collDeposit: gain,
		upperHint:   cmd.UpperHint,
		lowerHint:   cmd.LowerHint,
		collSource:  stabilityCollKey,
	})
	if err != nil {
		return nil, err
	}

	c.issueRewards()
	payout, err := c.pool.WithdrawCollateralGain(cmd.Depositor)
	must(err)
	if !payout.CollateralGain.Eq(gain) {
		panic(fmt.Sprintf("FATAL: collateral gain changed during command: planned %s, realized %s", gain, payout.CollateralGain))
	}
	c.payGains(payout, nil)
	c.applyAdjust(plan, "collateral_gain_topup")
	return &payout, nil
}

// requireNoUndercollateralizedPositions checks the lowest-ratio position.
func (c *DeterministicCore) requireNoUndercollateralizedPositions() error {
	last := c.sorted.Last()
	if last == uuid.Nil {
		return nil
	}
	if icr := c.currentICR(c.positions.Get(last), c.price); icr.Lt(c.params.MCR) {
		return fmt.Errorf("lowest ICR %s: %w", icr, ErrUndercollateralizedPositions)
	}
	return nil
}
