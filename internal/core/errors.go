package core

import (
	"TroveLedger/internal/stability"
	"TroveLedger/internal/state"
	"errors"
)

var (
	ErrDuplicateCommand = errors.New("duplicate command")
	ErrUnknownCommand   = errors.New("unknown command")

	ErrZeroAmount          = errors.New("amount must be non-zero")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSelfTransfer        = errors.New("sender and recipient are the same")

	ErrZeroPrice        = errors.New("price must be non-zero")
	ErrStalePrice       = errors.New("price sequence not newer than current")
	ErrPriceNotSettable = errors.New("price oracle is read-only")
	ErrOnlyOnePosition  = errors.New("only one position in the system")

	ErrInvalidMaxFee      = errors.New("max fee percentage out of range")
	ErrFeeExceedsMax      = errors.New("fee exceeds max fee percentage")
	ErrTCRBelowMCR        = errors.New("cannot redeem when TCR < MCR")
	ErrNothingRedeemed    = errors.New("unable to redeem any amount")
	ErrICRBelowMCR        = errors.New("operation would leave position with ICR < MCR")
	ErrICRBelowCCR        = errors.New("operation must leave position with ICR >= CCR in recovery mode")
	ErrTCRBelowCCR        = errors.New("operation would leave TCR < CCR")
	ErrICRDecrease        = errors.New("cannot decrease ICR in recovery mode")
	ErrRecoveryMode       = errors.New("operation not permitted during recovery mode")
	ErrNetDebtBelowMin    = errors.New("net debt below minimum")
	ErrNoAdjustment       = errors.New("adjustment must change collateral or debt")
	ErrBothCollChanges    = errors.New("cannot deposit and withdraw collateral at once")
	ErrRepaymentTooLarge  = errors.New("repayment exceeds debt net of gas reserve")
	ErrWithdrawalTooLarge = errors.New("collateral withdrawal exceeds position collateral")

	ErrUndercollateralizedPositions = errors.New("cannot withdraw while positions with ICR < MCR exist")
)

// rejectReason maps an error to a low-cardinality metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateCommand):
		return "duplicate"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, state.ErrNotFound), errors.Is(err, stability.ErrNoDeposit), errors.Is(err, stability.ErrNoStake):
		return "not_found"
	case errors.Is(err, ErrFeeExceedsMax), errors.Is(err, ErrInvalidMaxFee):
		return "fee"
	case errors.Is(err, ErrICRBelowMCR), errors.Is(err, ErrICRBelowCCR), errors.Is(err, ErrTCRBelowCCR),
		errors.Is(err, ErrTCRBelowMCR), errors.Is(err, ErrICRDecrease), errors.Is(err, ErrRecoveryMode):
		return "collateral_ratio"
	default:
		return "validation"
	}
}
