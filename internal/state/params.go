package state

import (
	fpmath "TroveLedger/internal/math"
	"fmt"
)

// Params are the protocol constants. Every ratio and amount is an 18-decimal value.
type Params struct {
	MCR                     fpmath.Decimal `toml:"mcr" json:"mcr"`                           // minimum collateral ratio
	CCR                     fpmath.Decimal `toml:"ccr" json:"ccr"`                           // critical system ratio (recovery mode below)
	GasCompensation         fpmath.Decimal `toml:"gas_compensation" json:"gas_compensation"` // debt reserve paid to liquidators
	MinNetDebt              fpmath.Decimal `toml:"min_net_debt" json:"min_net_debt"`
	PercentDivisor          uint64         `toml:"percent_divisor" json:"percent_divisor"` // collateral gas comp = coll / divisor; 0 disables
	BorrowingFeeFloor       fpmath.Decimal `toml:"borrowing_fee_floor" json:"borrowing_fee_floor"`
	RedemptionFeeFloor      fpmath.Decimal `toml:"redemption_fee_floor" json:"redemption_fee_floor"`
	MaxBorrowingFee         fpmath.Decimal `toml:"max_borrowing_fee" json:"max_borrowing_fee"`
	Beta                    uint64         `toml:"beta" json:"beta"`
	MinuteDecayFactor       fpmath.Decimal `toml:"minute_decay_factor" json:"minute_decay_factor"`
	RewardSupplyCap         fpmath.Decimal `toml:"reward_supply_cap" json:"reward_supply_cap"`
	RewardIssuanceFactor    fpmath.Decimal `toml:"reward_issuance_factor" json:"reward_issuance_factor"`
	MaxSortedListSize       int            `toml:"max_sorted_list_size" json:"max_sorted_list_size"`
	MaxRedemptionIterations int            `toml:"max_redemption_iterations" json:"max_redemption_iterations"` // 0 = unbounded
}

// DefaultParams returns the production constants.
func DefaultParams() Params {
	return Params{
		MCR:                     fpmath.MustParse("1.1"),
		CCR:                     fpmath.MustParse("1.5"),
		GasCompensation:         fpmath.FromUnits(200),
		MinNetDebt:              fpmath.FromUnits(1800),
		PercentDivisor:          200,
		BorrowingFeeFloor:       fpmath.MustParse("0.005"),
		RedemptionFeeFloor:      fpmath.MustParse("0.005"),
		MaxBorrowingFee:         fpmath.MustParse("0.05"),
		Beta:                    2,
		MinuteDecayFactor:       fpmath.DefaultMinuteDecayFactor,
		RewardSupplyCap:         fpmath.FromUnits(32_000_000),
		RewardIssuanceFactor:    fpmath.DefaultIssuanceFactor,
		MaxSortedListSize:       1_000_000,
		MaxRedemptionIterations: 0,
	}
}

// CollGasCompensation returns the collateral share paid to a liquidator.
func (p Params) CollGasCompensation(entireColl fpmath.Decimal) fpmath.Decimal {
	if p.PercentDivisor == 0 {
		return fpmath.Zero()
	}
	return entireColl.DivUint64(p.PercentDivisor)
}

// NetDebt strips the gas reserve from a composite debt.
func (p Params) NetDebt(debt fpmath.Decimal) fpmath.Decimal {
	return debt.SubFloor(p.GasCompensation)
}

// ValidateParams checks that the constants are mutually consistent:
// 1 < mcr < ccr, fee floors <= max fee <= 1, beta > 0,
// decay and issuance factors < 1, list size > 0.
func ValidateParams(p Params) error {
	one := fpmath.One()
	if p.MCR.Lte(one) {
		return fmt.Errorf("mcr must be > 1, got %s", p.MCR)
	}
	if p.CCR.Lte(p.MCR) {
		return fmt.Errorf("ccr (%s) must be > mcr (%s)", p.CCR, p.MCR)
	}
	if p.BorrowingFeeFloor.Gt(p.MaxBorrowingFee) {
		return fmt.Errorf("borrowing_fee_floor (%s) must be <= max_borrowing_fee (%s)", p.BorrowingFeeFloor, p.MaxBorrowingFee)
	}
	if p.MaxBorrowingFee.Gt(one) {
		return fmt.Errorf("max_borrowing_fee must be <= 1, got %s", p.MaxBorrowingFee)
	}
	if p.RedemptionFeeFloor.Gt(one) {
		return fmt.Errorf("redemption_fee_floor must be <= 1, got %s", p.RedemptionFeeFloor)
	}
	if p.Beta == 0 {
		return fmt.Errorf("beta must be > 0")
	}
	if p.MinuteDecayFactor.IsZero() || p.MinuteDecayFactor.Gte(one) {
		return fmt.Errorf("minute_decay_factor must be in (0, 1), got %s", p.MinuteDecayFactor)
	}
	if p.RewardIssuanceFactor.IsZero() || p.RewardIssuanceFactor.Gte(one) {
		return fmt.Errorf("reward_issuance_factor must be in (0, 1), got %s", p.RewardIssuanceFactor)
	}
	if p.MaxSortedListSize <= 0 {
		return fmt.Errorf("max_sorted_list_size must be > 0, got %d", p.MaxSortedListSize)
	}
	if p.MaxRedemptionIterations < 0 {
		return fmt.Errorf("max_redemption_iterations must be >= 0, got %d", p.MaxRedemptionIterations)
	}
	return nil
}
