package state

import "errors"

var (
	ErrNotFound    = errors.New("position not found")
	ErrDuplicateID = errors.New("position already exists")
	ErrZeroID      = errors.New("zero position id")
	ErrZeroRatio   = errors.New("ratio must be positive")
	ErrListFull    = errors.New("sorted position list is full")
	ErrNotActive   = errors.New("position is not active")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoSurplus         = errors.New("no collateral surplus to claim")
)
