package core

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"fmt"
	"sync"
)

// PriceOracle reports the collateral price in debt-token units.
type PriceOracle interface {
	Price() fpmath.Decimal
}

// PriceSetter is implemented by oracles fed through PriceUpdate commands.
type PriceSetter interface {
	SetPrice(price fpmath.Decimal, sequence int64) error
}

// PriceFeed is a settable oracle.
type PriceFeed struct {
	mu       sync.RWMutex
	price    fpmath.Decimal
	sequence int64
}

func NewPriceFeed(initial fpmath.Decimal) *PriceFeed {
	return &PriceFeed{price: initial}
}

func (f *PriceFeed) Price() fpmath.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.price
}

func (f *PriceFeed) Sequence() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sequence
}

// SetPrice accepts strictly increasing sequences only.
func (f *PriceFeed) SetPrice(price fpmath.Decimal, sequence int64) error {
	if price.IsZero() {
		return ErrZeroPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if sequence <= f.sequence {
		return fmt.Errorf("got %d, have %d: %w", sequence, f.sequence, ErrStalePrice)
	}
	f.price = price
	f.sequence = sequence
	return nil
}

// restore is used by snapshot recovery and bypasses the sequence check.
func (f *PriceFeed) restore(price fpmath.Decimal, sequence int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
	f.sequence = sequence
}

// DebtToken is the debt-token capability the engine needs.
type DebtToken interface {
	Mint(to ledger.AccountKey, amount fpmath.Decimal) error
	Burn(from ledger.AccountKey, amount fpmath.Decimal) error
	Transfer(from, to ledger.AccountKey, amount fpmath.Decimal) error
	BalanceOf(key ledger.AccountKey) fpmath.Decimal
	TotalSupply() fpmath.Decimal
}

// RewardToken is minted on issuance and paid out of the issuance account.
type RewardToken interface {
	Mint(to ledger.AccountKey, amount fpmath.Decimal) error
	Transfer(from, to ledger.AccountKey, amount fpmath.Decimal) error
	BalanceOf(key ledger.AccountKey) fpmath.Decimal
}

// CollateralVault is the active or default pool.
type CollateralVault interface {
	Account() ledger.AccountKey
	SendCollateral(to ledger.AccountKey, amount fpmath.Decimal) error
	ReceiveCollateral(from ledger.AccountKey, amount fpmath.Decimal) error
	Collateral() fpmath.Decimal
	Debt() fpmath.Decimal
	IncreaseDebt(amount fpmath.Decimal)
	DecreaseDebt(amount fpmath.Decimal)
}

var (
	_ DebtToken       = (*ledger.Token)(nil)
	_ RewardToken     = (*ledger.Token)(nil)
	_ CollateralVault = (*ledger.Vault)(nil)
	_ PriceSetter     = (*PriceFeed)(nil)
)

var (
	stabilityDebtKey  = ledger.NewSystemAccountKey(ledger.SubTypeStabilityPool, ledger.AssetDebt)
	stabilityCollKey  = ledger.NewSystemAccountKey(ledger.SubTypeStabilityPool, ledger.AssetCollateral)
	gasPoolKey        = ledger.NewSystemAccountKey(ledger.SubTypeGasPool, ledger.AssetDebt)
	collSurplusKey    = ledger.NewSystemAccountKey(ledger.SubTypeCollSurplus, ledger.AssetCollateral)
	stakingDebtKey    = ledger.NewSystemAccountKey(ledger.SubTypeFeeStaking, ledger.AssetDebt)
	stakingCollKey    = ledger.NewSystemAccountKey(ledger.SubTypeFeeStaking, ledger.AssetCollateral)
	stakingRewardKey  = ledger.NewSystemAccountKey(ledger.SubTypeFeeStaking, ledger.AssetReward)
	issuanceRewardKey = ledger.NewSystemAccountKey(ledger.SubTypeCommunityIssuance, ledger.AssetReward)
)
