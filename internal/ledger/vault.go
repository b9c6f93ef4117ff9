package ledger

import (
	fpmath "TroveLedger/internal/math"
	"fmt"
)

// Vault is a collateral pool that also records the protocol debt it backs.
// The active pool holds collateral and debt of open positions; the default pool
// holds redistributed amounts that positions have not yet applied.
type Vault struct {
	ledger  *Ledger
	account AccountKey
	debt    fpmath.Decimal
}

func NewVault(l *Ledger, subType AccountSubType) *Vault {
	return &Vault{
		ledger:  l,
		account: NewSystemAccountKey(subType, AssetCollateral),
	}
}

// Account is the vault's collateral account.
func (v *Vault) Account() AccountKey { return v.account }

// Collateral returns the collateral held.
func (v *Vault) Collateral() fpmath.Decimal {
	return v.ledger.BalanceOf(v.account)
}

// Debt returns the recorded debt.
func (v *Vault) Debt() fpmath.Decimal { return v.debt }

func (v *Vault) IncreaseDebt(amount fpmath.Decimal) {
	v.debt = v.debt.Add(amount)
}

// DecreaseDebt panics when amount exceeds the recorded debt.
func (v *Vault) DecreaseDebt(amount fpmath.Decimal) {
	if amount.Gt(v.debt) {
		panic(fmt.Sprintf("FATAL: %s debt underflow: have=%s, decrease=%s", v.account.AccountPath(), v.debt, amount))
	}
	v.debt = v.debt.Sub(amount)
}

// SendCollateral moves collateral out of the vault.
func (v *Vault) SendCollateral(to AccountKey, amount fpmath.Decimal) error {
	return v.ledger.Transfer(v.account, to.WithAsset(AssetCollateral), amount)
}

// ReceiveCollateral moves collateral into the vault.
func (v *Vault) ReceiveCollateral(from AccountKey, amount fpmath.Decimal) error {
	return v.ledger.Transfer(from.WithAsset(AssetCollateral), v.account, amount)
}

// RestoreDebt sets the recorded debt (snapshot recovery).
func (v *Vault) RestoreDebt(debt fpmath.Decimal) {
	v.debt = debt
}
