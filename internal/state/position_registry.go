package state

import (
	fpmath "TroveLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// PositionRegistry stores positions by id plus the dense array of active owners.
// Removal swaps the last owner into the freed slot and fixes its ArrayIndex.
type PositionRegistry struct {
	positions map[uuid.UUID]*Position
	owners    []uuid.UUID
}

func NewPositionRegistry() *PositionRegistry {
	return &PositionRegistry{
		positions: make(map[uuid.UUID]*Position),
		owners:    make([]uuid.UUID, 0),
	}
}

// Get returns the position record (any status) or nil.
func (r *PositionRegistry) Get(id uuid.UUID) *Position {
	return r.positions[id]
}

// GetActive returns an active position or ErrNotFound.
func (r *PositionRegistry) GetActive(id uuid.UUID) (*Position, error) {
	pos := r.positions[id]
	if pos == nil || !pos.IsActive() {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return pos, nil
}

// Status returns NonExistent for unknown ids.
func (r *PositionRegistry) Status(id uuid.UUID) Status {
	if pos := r.positions[id]; pos != nil {
		return pos.Status
	}
	return StatusNonExistent
}

// Open activates a position with the given collateral and debt. Reopening a
// closed id reuses its record.
func (r *PositionRegistry) Open(id uuid.UUID, coll, debt fpmath.Decimal) (*Position, error) {
	if id == uuid.Nil {
		return nil, ErrZeroID
	}

	pos := r.positions[id]
	if pos == nil {
		pos = &Position{ID: id, Status: StatusNonExistent}
	}
	if pos.IsActive() {
		return nil, fmt.Errorf("%s: %w", id, ErrDuplicateID)
	}
	if !pos.Status.CanTransitionTo(StatusActive) {
		return nil, fmt.Errorf("%s -> Active: %w", pos.Status, ErrInvalidTransition)
	}

	pos.Collateral = coll
	pos.Debt = debt
	pos.Stake = fpmath.Zero()
	pos.Snapshot = RewardSnapshot{}
	pos.Status = StatusActive
	pos.ArrayIndex = uint64(len(r.owners))

	r.positions[id] = pos
	r.owners = append(r.owners, id)
	return pos, nil
}

// Close zeroes the position, sets the closing status and removes it from the
// owners array.
func (r *PositionRegistry) Close(id uuid.UUID, status Status) error {
	pos, err := r.GetActive(id)
	if err != nil {
		return err
	}
	if !pos.Status.CanTransitionTo(status) {
		return fmt.Errorf("%s -> %s: %w", pos.Status, status, ErrInvalidTransition)
	}

	pos.Status = status
	pos.Collateral = fpmath.Zero()
	pos.Debt = fpmath.Zero()
	pos.Stake = fpmath.Zero()
	pos.Snapshot = RewardSnapshot{}

	r.removeOwner(pos)
	return nil
}

func (r *PositionRegistry) removeOwner(pos *Position) {
	idx := pos.ArrayIndex
	last := uint64(len(r.owners) - 1)
	if idx > last || r.owners[idx] != pos.ID {
		panic(fmt.Sprintf("FATAL: owners array corrupt for %s (index %d, len %d)", pos.ID, idx, len(r.owners)))
	}

	moved := r.owners[last]
	r.owners[idx] = moved
	r.positions[moved].ArrayIndex = idx
	r.owners = r.owners[:last]
	pos.ArrayIndex = 0
}

// Count returns the number of active positions.
func (r *PositionRegistry) Count() int {
	return len(r.owners)
}

// OwnerAt returns the id stored at index i of the owners array.
func (r *PositionRegistry) OwnerAt(i int) uuid.UUID {
	return r.owners[i]
}

// Owners returns a copy of the owners array.
func (r *PositionRegistry) Owners() []uuid.UUID {
	out := make([]uuid.UUID, len(r.owners))
	copy(out, r.owners)
	return out
}

// AllPositions returns every record including closed ones (for snapshots).
func (r *PositionRegistry) AllPositions() []*Position {
	result := make([]*Position, 0, len(r.positions))
	for _, pos := range r.positions {
		result = append(result, pos)
	}
	return result
}

// Restore rebuilds the registry from snapshot records. Active positions are placed
// in the owners array at their recorded ArrayIndex.
func (r *PositionRegistry) Restore(positions []*Position) error {
	r.positions = make(map[uuid.UUID]*Position, len(positions))
	active := 0
	for _, pos := range positions {
		r.positions[pos.ID] = pos
		if pos.IsActive() {
			active++
		}
	}

	r.owners = make([]uuid.UUID, active)
	for _, pos := range positions {
		if !pos.IsActive() {
			continue
		}
		if pos.ArrayIndex >= uint64(active) || r.owners[pos.ArrayIndex] != uuid.Nil {
			return fmt.Errorf("position %s has invalid array index %d", pos.ID, pos.ArrayIndex)
		}
		r.owners[pos.ArrayIndex] = pos.ID
	}
	return nil
}
