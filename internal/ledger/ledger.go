package ledger

import (
	fpmath "TroveLedger/internal/math"
	"fmt"
)

// Ledger is the token bookkeeping behind the protocol: collateral, the debt
// token and the reward token, each zero-sum against the external issuer.
type Ledger struct {
	tracker   *BalanceTracker
	generator *JournalGenerator
}

func NewLedger() *Ledger {
	return &Ledger{
		tracker:   NewBalanceTracker(),
		generator: NewJournalGenerator(),
	}
}

func (l *Ledger) Tracker() *BalanceTracker { return l.tracker }

// Begin opens the journal batch of a command.
func (l *Ledger) Begin(eventRef string, sequence, timestamp int64) {
	l.generator.Begin(eventRef, sequence, timestamp)
}

// End closes the batch and returns it.
func (l *Ledger) End() *Batch {
	return l.generator.End()
}

// Mint creates amount in account to.
func (l *Ledger) Mint(to AccountKey, amount fpmath.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	return l.apply(l.generator.GenerateMint(to, amount))
}

// Burn destroys amount held by from.
func (l *Ledger) Burn(from AccountKey, amount fpmath.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	return l.apply(l.generator.GenerateBurn(from, amount))
}

// Transfer moves amount from one account to another of the same asset.
func (l *Ledger) Transfer(from, to AccountKey, amount fpmath.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	if from.AssetID != to.AssetID {
		return fmt.Errorf("transfer %s -> %s: asset mismatch", from.AccountPath(), to.AccountPath())
	}
	return l.apply(l.generator.GenerateTransfer(from, to, amount))
}

// BalanceOf returns the balance of an account.
func (l *Ledger) BalanceOf(key AccountKey) fpmath.Decimal {
	return l.tracker.GetBalance(key)
}

// Supply returns the outstanding amount of an asset.
func (l *Ledger) Supply(assetID AssetID) fpmath.Decimal {
	return l.tracker.Supply(assetID)
}

func (l *Ledger) apply(b *Batch) error {
	if err := l.tracker.ApplyBatch(b); err != nil {
		return err
	}
	l.generator.record(b)
	return nil
}

// Token is a single-asset view of the ledger.
type Token struct {
	ledger  *Ledger
	assetID AssetID
}

// Token returns the view for assetID.
func (l *Ledger) Token(assetID AssetID) *Token {
	return &Token{ledger: l, assetID: assetID}
}

func (t *Token) Mint(to AccountKey, amount fpmath.Decimal) error {
	return t.ledger.Mint(to.WithAsset(t.assetID), amount)
}

func (t *Token) Burn(from AccountKey, amount fpmath.Decimal) error {
	return t.ledger.Burn(from.WithAsset(t.assetID), amount)
}

func (t *Token) Transfer(from, to AccountKey, amount fpmath.Decimal) error {
	return t.ledger.Transfer(from.WithAsset(t.assetID), to.WithAsset(t.assetID), amount)
}

func (t *Token) BalanceOf(key AccountKey) fpmath.Decimal {
	return t.ledger.BalanceOf(key.WithAsset(t.assetID))
}

func (t *Token) TotalSupply() fpmath.Decimal {
	return t.ledger.Supply(t.assetID)
}
