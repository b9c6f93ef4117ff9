package core

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/stability"
)

// payBorrowingFee mints the borrowing fee into the staking account and
// credits it to stakers.
func (c *DeterministicCore) payBorrowingFee(fee fpmath.Decimal) {
	if fee.IsZero() {
		return
	}
	must(c.debtToken.Mint(stakingDebtKey, fee))
	c.staking.IncreaseFDebt(fee)
	c.emit(&event.FeeRewardsUpdated{FCollateral: c.staking.FCollateral(), FDebt: c.staking.FDebt()})
}

// payRedemptionFee moves the redemption fee from the active pool into the
// staking account and credits it to stakers.
func (c *DeterministicCore) payRedemptionFee(fee fpmath.Decimal) {
	if fee.IsZero() {
		return
	}
	must(c.activePool.SendCollateral(stakingCollKey, fee))
	c.staking.IncreaseFCollateral(fee)
	c.emit(&event.FeeRewardsUpdated{FCollateral: c.staking.FCollateral(), FDebt: c.staking.FDebt()})
}

// payStakingGains moves realized fee gains to the staker's wallets.
func (c *DeterministicCore) payStakingGains(p stability.StakingPayout) {
	must(c.collToken.Transfer(stakingCollKey, wallet(p.Staker, ledger.AssetCollateral), p.CollateralGain))
	must(c.debtToken.Transfer(stakingDebtKey, wallet(p.Staker, ledger.AssetDebt), p.DebtGain))
	if !p.CollateralGain.IsZero() || !p.DebtGain.IsZero() {
		c.emit(&event.StakingGainsWithdrawn{Staker: p.Staker, CollateralGain: p.CollateralGain, DebtGain: p.DebtGain})
	}
	c.emit(&event.StakeChanged{Staker: p.Staker, NewStake: p.NewStake})
}

func (c *DeterministicCore) handleStakeRewards(cmd *event.StakeRewards) (any, error) {
	if err := c.staking.ValidateStake(cmd.Staker, cmd.Amount); err != nil {
		return nil, err
	}
	rewardWallet := wallet(cmd.Staker, ledger.AssetReward)
	if err := c.requireBalance(rewardWallet, cmd.Amount); err != nil {
		return nil, err
	}

	payout, err := c.staking.AddStake(cmd.Staker, cmd.Amount)
	must(err)
	must(c.rewardToken.Transfer(rewardWallet, stakingRewardKey, cmd.Amount))
	c.payStakingGains(payout)
	return &payout, nil
}

func (c *DeterministicCore) handleUnstakeRewards(cmd *event.UnstakeRewards) (any, error) {
	if err := c.staking.ValidateUnstake(cmd.Staker); err != nil {
		return nil, err
	}

	payout, err := c.staking.Unstake(cmd.Staker, cmd.Amount)
	must(err)
	must(c.rewardToken.Transfer(stakingRewardKey, wallet(cmd.Staker, ledger.AssetReward), payout.Withdrawn))
	c.payStakingGains(payout)
	return &payout, nil
}
