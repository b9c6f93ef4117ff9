package state

import (
	fpmath "TroveLedger/internal/math"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a position.
type Status int32

const (
	StatusNonExistent Status = iota
	StatusActive
	StatusClosedByOwner
	StatusClosedByLiquidation
	StatusClosedByRedemption
)

func (s Status) String() string {
	switch s {
	case StatusNonExistent:
		return "NonExistent"
	case StatusActive:
		return "Active"
	case StatusClosedByOwner:
		return "ClosedByOwner"
	case StatusClosedByLiquidation:
		return "ClosedByLiquidation"
	case StatusClosedByRedemption:
		return "ClosedByRedemption"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates status transitions. A closed position can be reopened
// by its owner.
func (s Status) CanTransitionTo(next Status) bool {
	validTransitions := map[Status][]Status{
		StatusNonExistent: {
			StatusActive,
		},
		StatusActive: {
			StatusClosedByOwner,
			StatusClosedByLiquidation,
			StatusClosedByRedemption,
		},
		StatusClosedByOwner:       {StatusActive},
		StatusClosedByLiquidation: {StatusActive},
		StatusClosedByRedemption:  {StatusActive},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// IsClosed reports a terminal (but reopenable) status.
func (s Status) IsClosed() bool {
	return s == StatusClosedByOwner || s == StatusClosedByLiquidation || s == StatusClosedByRedemption
}

// RewardSnapshot records L_collateral / L_debt at the last time pending
// redistribution rewards were applied to a position.
type RewardSnapshot struct {
	Collateral fpmath.Decimal `json:"collateral"`
	Debt       fpmath.Decimal `json:"debt"`
}

// Position is a collateralized debt position. Debt includes the gas
// compensation reserve.
type Position struct {
	ID         uuid.UUID      `json:"id"`
	Debt       fpmath.Decimal `json:"debt"`
	Collateral fpmath.Decimal `json:"collateral"`
	Stake      fpmath.Decimal `json:"stake"`
	Status     Status         `json:"status"`
	ArrayIndex uint64         `json:"array_index"`
	Snapshot   RewardSnapshot `json:"snapshot"`
}

// IsActive returns true while the position is in the sorted list.
func (p *Position) IsActive() bool {
	return p.Status == StatusActive
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)

	// id (16 bytes UUID binary)
	buf = append(buf, p.ID[:]...)

	buf = appendDecimal(buf, p.Debt)
	buf = appendDecimal(buf, p.Collateral)
	buf = appendDecimal(buf, p.Stake)

	// status (1 byte)
	buf = append(buf, byte(p.Status))

	buf = appendUint64LE(buf, p.ArrayIndex)
	buf = appendDecimal(buf, p.Snapshot.Collateral)
	buf = appendDecimal(buf, p.Snapshot.Debt)

	return buf
}

// appendDecimal writes the raw value as 32 bytes big-endian.
func appendDecimal(buf []byte, d fpmath.Decimal) []byte {
	b := d.Uint256().Bytes32()
	return append(buf, b[:]...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
