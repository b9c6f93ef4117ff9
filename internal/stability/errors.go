package stability

import "errors"

var (
	ErrZeroAmount            = errors.New("amount must be non-zero")
	ErrZeroID                = errors.New("zero id")
	ErrNoDeposit             = errors.New("depositor has no deposit")
	ErrHasDeposit            = errors.New("depositor already has a deposit")
	ErrNoCollateralGain      = errors.New("depositor has no collateral gain")
	ErrFrontEndRegistered    = errors.New("front end already registered")
	ErrFrontEndNotRegistered = errors.New("front end not registered")
	ErrInvalidKickbackRate   = errors.New("kickback rate must be in [0, 1]")
	ErrDebtExceedsDeposits   = errors.New("debt to offset exceeds total deposits")
	ErrNoStake               = errors.New("staker has no stake")
)
