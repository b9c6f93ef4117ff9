package core

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
	"fmt"

	"github.com/google/uuid"
)

// PositionResult is returned by the borrower operations.
type PositionResult struct {
	Position     uuid.UUID      `json:"position"`
	Debt         fpmath.Decimal `json:"debt"`
	Collateral   fpmath.Decimal `json:"collateral"`
	Stake        fpmath.Decimal `json:"stake"`
	BorrowingFee fpmath.Decimal `json:"borrowing_fee"`
}

func positionResult(pos *state.Position, fee fpmath.Decimal) *PositionResult {
	return &PositionResult{
		Position:     pos.ID,
		Debt:         pos.Debt,
		Collateral:   pos.Collateral,
		Stake:        pos.Stake,
		BorrowingFee: fee,
	}
}

// === Wallet commands ===

func (c *DeterministicCore) handlePriceUpdate(cmd *event.PriceUpdate) (any, error) {
	setter, ok := c.oracle.(PriceSetter)
	if !ok {
		return nil, ErrPriceNotSettable
	}
	if err := setter.SetPrice(cmd.Price, cmd.Sequence); err != nil {
		return nil, err
	}
	c.price = cmd.Price
	return nil, nil
}

func (c *DeterministicCore) handleFundCollateral(cmd *event.FundCollateral) (any, error) {
	if cmd.Owner == uuid.Nil {
		return nil, state.ErrZeroID
	}
	if cmd.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	must(c.collToken.Mint(wallet(cmd.Owner, ledger.AssetCollateral), cmd.Amount))
	return nil, nil
}

func (c *DeterministicCore) handleTransferDebt(cmd *event.TransferDebt) (any, error) {
	if cmd.From == uuid.Nil || cmd.To == uuid.Nil {
		return nil, state.ErrZeroID
	}
	if cmd.From == cmd.To {
		return nil, ErrSelfTransfer
	}
	if cmd.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	from := wallet(cmd.From, ledger.AssetDebt)
	if err := c.requireBalance(from, cmd.Amount); err != nil {
		return nil, err
	}
	must(c.debtToken.Transfer(from, wallet(cmd.To, ledger.AssetDebt), cmd.Amount))
	return nil, nil
}

// === Open ===

func (c *DeterministicCore) handleOpenPosition(cmd *event.OpenPosition) (any, error) {
	if cmd.Owner == uuid.Nil {
		return nil, state.ErrZeroID
	}
	if pos := c.positions.Get(cmd.Owner); pos != nil && pos.IsActive() {
		return nil, fmt.Errorf("%s: %w", cmd.Owner, state.ErrDuplicateID)
	}
	if cmd.Collateral.IsZero() || cmd.DebtAmount.IsZero() {
		return nil, ErrZeroAmount
	}
	if c.sorted.IsFull() {
		return nil, state.ErrListFull
	}
	recovery := c.isRecoveryMode()
	if err := c.requireValidMaxBorrowingFee(cmd.MaxFeePercentage, recovery); err != nil {
		return nil, err
	}
	collWallet := wallet(cmd.Owner, ledger.AssetCollateral)
	if err := c.requireBalance(collWallet, cmd.Collateral); err != nil {
		return nil, err
	}

	fee := fpmath.Zero()
	newBaseRate := c.baseRate
	if !recovery {
		newBaseRate = c.decayedBaseRate()
		fee = c.borrowingRate(newBaseRate).MulDiv(cmd.DebtAmount, fpmath.One())
		if err := requireUserAcceptsFee(fee, cmd.DebtAmount, cmd.MaxFeePercentage); err != nil {
			return nil, err
		}
	}
	netDebt := cmd.DebtAmount.Add(fee)
	if netDebt.Lt(c.params.MinNetDebt) {
		return nil, fmt.Errorf("%s < %s: %w", netDebt, c.params.MinNetDebt, ErrNetDebtBelowMin)
	}
	compositeDebt := netDebt.Add(c.params.GasCompensation)

	icr := fpmath.ComputeCR(cmd.Collateral, compositeDebt, c.price)
	if recovery {
		if icr.Lt(c.params.CCR) {
			return nil, fmt.Errorf("ICR %s: %w", icr, ErrICRBelowCCR)
		}
	} else {
		if icr.Lt(c.params.MCR) {
			return nil, fmt.Errorf("ICR %s: %w", icr, ErrICRBelowMCR)
		}
		if tcr := c.newTCR(cmd.Collateral, true, compositeDebt, true); tcr.Lt(c.params.CCR) {
			return nil, fmt.Errorf("TCR %s: %w", tcr, ErrTCRBelowCCR)
		}
	}

	if !recovery {
		c.setBaseRate(newBaseRate)
	}
	pos, err := c.positions.Open(cmd.Owner, cmd.Collateral, compositeDebt)
	must(err)
	c.rewards.UpdateSnapshot(pos)
	c.rewards.UpdateStakeAndTotalStakes(pos)
	must(c.sorted.Insert(pos.ID, fpmath.ComputeNominalCR(cmd.Collateral, compositeDebt), cmd.UpperHint, cmd.LowerHint))

	must(c.activePool.ReceiveCollateral(collWallet, cmd.Collateral))
	c.activePool.IncreaseDebt(compositeDebt)
	must(c.debtToken.Mint(wallet(cmd.Owner, ledger.AssetDebt), cmd.DebtAmount))
	must(c.debtToken.Mint(gasPoolKey, c.params.GasCompensation))
	c.payBorrowingFee(fee)

	c.emitPositionUpdated(pos, "open")
	c.logger.Debug().Str("position", pos.ID.String()).Str("debt", pos.Debt.String()).Str("coll", pos.Collateral.String()).Msg("position opened")
	return positionResult(pos, fee), nil
}

// === Adjust ===

// adjustPlan is a validated adjustment. Building it does not mutate state.
type adjustPlan struct {
	pos          *state.Position
	collSource   ledger.AccountKey
	collChange   fpmath.Decimal
	collIncrease bool
	debtChange   fpmath.Decimal
	debtIncrease bool
	fee          fpmath.Decimal
	chargeFee    bool
	newBaseRate  fpmath.Decimal
	newColl      fpmath.Decimal
	newDebt      fpmath.Decimal
	upperHint    uuid.UUID
	lowerHint    uuid.UUID
}

type adjustRequest struct {
	owner          uuid.UUID
	collDeposit    fpmath.Decimal
	collWithdrawal fpmath.Decimal
	debtChange     fpmath.Decimal
	isDebtIncrease bool
	maxFee         fpmath.Decimal
	upperHint      uuid.UUID
	lowerHint      uuid.UUID
	collSource     ledger.AccountKey
}

func (c *DeterministicCore) handleAdjustPosition(cmd *event.AdjustPosition) (any, error) {
	plan, err := c.planAdjust(adjustRequest{
		owner:          cmd.Owner,
		collDeposit:    cmd.CollDeposit,
		collWithdrawal: cmd.CollWithdrawal,
		debtChange:     cmd.DebtChange,
		isDebtIncrease: cmd.IsDebtIncrease,
		maxFee:         cmd.MaxFeePercentage,
		upperHint:      cmd.UpperHint,
		lowerHint:      cmd.LowerHint,
		collSource:     wallet(cmd.Owner, ledger.AssetCollateral),
	})
	if err != nil {
		return nil, err
	}
	c.applyAdjust(plan, "adjust")
	return positionResult(plan.pos, plan.fee), nil
}

func (c *DeterministicCore) planAdjust(req adjustRequest) (*adjustPlan, error) {
	pos, err := c.positions.GetActive(req.owner)
	if err != nil {
		return nil, err
	}
	if !req.collDeposit.IsZero() && !req.collWithdrawal.IsZero() {
		return nil, ErrBothCollChanges
	}
	if req.collDeposit.IsZero() && req.collWithdrawal.IsZero() && req.debtChange.IsZero() {
		return nil, ErrNoAdjustment
	}
	recovery := c.isRecoveryMode()
	if req.isDebtIncrease {
		if req.debtChange.IsZero() {
			return nil, ErrZeroAmount
		}
		if err := c.requireValidMaxBorrowingFee(req.maxFee, recovery); err != nil {
			return nil, err
		}
	}

	debt, coll, _, _ := c.rewards.EntireDebtAndColl(pos)
	plan := &adjustPlan{
		pos:          pos,
		collSource:   req.collSource,
		debtChange:   req.debtChange,
		debtIncrease: req.isDebtIncrease,
		fee:          fpmath.Zero(),
		upperHint:    req.upperHint,
		lowerHint:    req.lowerHint,
	}

	netDebtChange := req.debtChange
	if req.isDebtIncrease && !recovery {
		plan.chargeFee = true
		plan.newBaseRate = c.decayedBaseRate()
		plan.fee = c.borrowingRate(plan.newBaseRate).MulDiv(req.debtChange, fpmath.One())
		if err := requireUserAcceptsFee(plan.fee, req.debtChange, req.maxFee); err != nil {
			return nil, err
		}
		netDebtChange = req.debtChange.Add(plan.fee)
	}

	if !req.collDeposit.IsZero() {
		if err := c.requireBalance(req.collSource, req.collDeposit); err != nil {
			return nil, err
		}
		plan.collChange, plan.collIncrease = req.collDeposit, true
		plan.newColl = coll.Add(req.collDeposit)
	} else {
		if req.collWithdrawal.Gt(coll) {
			return nil, fmt.Errorf("%s > %s: %w", req.collWithdrawal, coll, ErrWithdrawalTooLarge)
		}
		plan.collChange = req.collWithdrawal
		plan.newColl = coll.Sub(req.collWithdrawal)
	}

	if req.isDebtIncrease {
		plan.newDebt = debt.Add(netDebtChange)
	} else {
		if req.debtChange.Gt(debt.SubFloor(c.params.GasCompensation)) {
			return nil, fmt.Errorf("repay %s of %s: %w", req.debtChange, debt, ErrRepaymentTooLarge)
		}
		if err := c.requireBalance(wallet(req.owner, ledger.AssetDebt), req.debtChange); err != nil {
			return nil, err
		}
		plan.newDebt = debt.Sub(req.debtChange)
	}

	oldICR := fpmath.ComputeCR(coll, debt, c.price)
	newICR := fpmath.ComputeCR(plan.newColl, plan.newDebt, c.price)
	if recovery {
		if !req.collWithdrawal.IsZero() {
			return nil, fmt.Errorf("collateral withdrawal: %w", ErrRecoveryMode)
		}
		if req.isDebtIncrease {
			if newICR.Lt(c.params.CCR) {
				return nil, fmt.Errorf("ICR %s: %w", newICR, ErrICRBelowCCR)
			}
			if newICR.Lt(oldICR) {
				return nil, fmt.Errorf("ICR %s -> %s: %w", oldICR, newICR, ErrICRDecrease)
			}
		}
	} else {
		if newICR.Lt(c.params.MCR) {
			return nil, fmt.Errorf("ICR %s: %w", newICR, ErrICRBelowMCR)
		}
		if tcr := c.newTCR(plan.collChange, plan.collIncrease, netDebtChange, req.isDebtIncrease); tcr.Lt(c.params.CCR) {
			return nil, fmt.Errorf("TCR %s: %w", tcr, ErrTCRBelowCCR)
		}
	}

	if !req.isDebtIncrease && !req.debtChange.IsZero() {
		if net := c.params.NetDebt(plan.newDebt); net.Lt(c.params.MinNetDebt) {
			return nil, fmt.Errorf("%s < %s: %w", net, c.params.MinNetDebt, ErrNetDebtBelowMin)
		}
	}
	return plan, nil
}

func (c *DeterministicCore) applyAdjust(plan *adjustPlan, operation string) {
	pos := plan.pos
	owner := pos.ID

	c.applyPending(pos)
	if plan.chargeFee {
		c.setBaseRate(plan.newBaseRate)
	}
	pos.Collateral = plan.newColl
	pos.Debt = plan.newDebt
	c.rewards.UpdateStakeAndTotalStakes(pos)
	must(c.sorted.ReInsert(owner, fpmath.ComputeNominalCR(pos.Collateral, pos.Debt), plan.upperHint, plan.lowerHint))

	if plan.collIncrease {
		must(c.activePool.ReceiveCollateral(plan.collSource, plan.collChange))
	} else {
		must(c.activePool.SendCollateral(wallet(owner, ledger.AssetCollateral), plan.collChange))
	}

	if plan.debtIncrease {
		c.activePool.IncreaseDebt(plan.debtChange.Add(plan.fee))
		must(c.debtToken.Mint(wallet(owner, ledger.AssetDebt), plan.debtChange))
		c.payBorrowingFee(plan.fee)
	} else if !plan.debtChange.IsZero() {
		must(c.debtToken.Burn(wallet(owner, ledger.AssetDebt), plan.debtChange))
		c.activePool.DecreaseDebt(plan.debtChange)
	}

	c.emitPositionUpdated(pos, operation)
}

// === Close ===

func (c *DeterministicCore) handleClosePosition(cmd *event.ClosePosition) (any, error) {
	pos, err := c.positions.GetActive(cmd.Owner)
	if err != nil {
		return nil, err
	}
	if c.isRecoveryMode() {
		return nil, fmt.Errorf("close: %w", ErrRecoveryMode)
	}
	if c.positions.Count() <= 1 || c.sorted.Size() <= 1 {
		return nil, ErrOnlyOnePosition
	}
	debt, coll, _, _ := c.rewards.EntireDebtAndColl(pos)
	if tcr := c.newTCR(coll, false, debt, false); tcr.Lt(c.params.CCR) {
		return nil, fmt.Errorf("TCR %s: %w", tcr, ErrTCRBelowCCR)
	}
	gasComp := fpmath.Min(c.params.GasCompensation, debt)
	repay := debt.Sub(gasComp)
	debtWallet := wallet(cmd.Owner, ledger.AssetDebt)
	if err := c.requireBalance(debtWallet, repay); err != nil {
		return nil, err
	}

	c.applyPending(pos)
	c.rewards.RemoveStake(pos)
	must(c.sorted.Remove(pos.ID))
	must(c.positions.Close(pos.ID, state.StatusClosedByOwner))

	must(c.debtToken.Burn(debtWallet, repay))
	must(c.debtToken.Burn(gasPoolKey, gasComp))
	c.activePool.DecreaseDebt(debt)
	must(c.activePool.SendCollateral(wallet(cmd.Owner, ledger.AssetCollateral), coll))

	c.emitPositionUpdated(pos, "close")
	return &PositionResult{Position: pos.ID, Debt: debt, Collateral: coll, BorrowingFee: fpmath.Zero()}, nil
}

// === Surplus ===

func (c *DeterministicCore) handleClaimCollateralSurplus(cmd *event.ClaimCollateralSurplus) (any, error) {
	amount, err := c.surplus.Claim(cmd.Owner)
	if err != nil {
		return nil, err
	}
	must(c.collToken.Transfer(collSurplusKey, wallet(cmd.Owner, ledger.AssetCollateral), amount))
	c.emit(&event.CollateralSurplusClaimed{Owner: cmd.Owner, Amount: amount})
	return amount, nil
}
