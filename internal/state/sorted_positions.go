package state

import (
	fpmath "TroveLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// RatioSource reports the current nominal ICR of a listed position, including
// pending redistribution rewards. The list never stores ratios itself.
type RatioSource interface {
	NominalICR(id uuid.UUID) fpmath.Decimal
}

type listNode struct {
	next uuid.UUID // toward the tail (lower ratio)
	prev uuid.UUID // toward the head (higher ratio)
}

// SortedPositions is a doubly linked list of active position ids in descending
// nominal ICR: head has the highest ratio, tail the lowest. Among equal ratios
// the later insert sits closer to the tail.
//
// Callers pass prev/next hints found off-line. A correct hint makes insertion
// O(1); a stale one falls back to a walk from the hint or the list ends.
type SortedPositions struct {
	head    uuid.UUID
	tail    uuid.UUID
	maxSize int
	nodes   map[uuid.UUID]*listNode
	ratios  RatioSource
}

func NewSortedPositions(maxSize int, ratios RatioSource) *SortedPositions {
	return &SortedPositions{
		maxSize: maxSize,
		nodes:   make(map[uuid.UUID]*listNode),
		ratios:  ratios,
	}
}

// Insert links id at the position implied by ratio.
func (l *SortedPositions) Insert(id uuid.UUID, ratio fpmath.Decimal, prevID, nextID uuid.UUID) error {
	if l.IsFull() {
		return ErrListFull
	}
	if l.Contains(id) {
		return fmt.Errorf("%s: %w", id, ErrDuplicateID)
	}
	if id == uuid.Nil {
		return ErrZeroID
	}
	if ratio.IsZero() {
		return ErrZeroRatio
	}

	l.insert(id, ratio, prevID, nextID)
	return nil
}

func (l *SortedPositions) insert(id uuid.UUID, ratio fpmath.Decimal, prevID, nextID uuid.UUID) {
	if !l.ValidInsertPosition(ratio, prevID, nextID) {
		prevID, nextID = l.FindInsertPosition(ratio, prevID, nextID)
	}

	node := &listNode{}
	switch {
	case prevID == uuid.Nil && nextID == uuid.Nil:
		l.head = id
		l.tail = id
	case prevID == uuid.Nil:
		node.next = l.head
		l.nodes[l.head].prev = id
		l.head = id
	case nextID == uuid.Nil:
		node.prev = l.tail
		l.nodes[l.tail].next = id
		l.tail = id
	default:
		node.next = nextID
		node.prev = prevID
		l.nodes[prevID].next = id
		l.nodes[nextID].prev = id
	}
	l.nodes[id] = node
}

// Remove unlinks id.
func (l *SortedPositions) Remove(id uuid.UUID) error {
	if !l.Contains(id) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	l.remove(id)
	return nil
}

func (l *SortedPositions) remove(id uuid.UUID) {
	node := l.nodes[id]

	if len(l.nodes) > 1 {
		switch id {
		case l.head:
			l.head = node.next
			l.nodes[l.head].prev = uuid.Nil
		case l.tail:
			l.tail = node.prev
			l.nodes[l.tail].next = uuid.Nil
		default:
			l.nodes[node.prev].next = node.next
			l.nodes[node.next].prev = node.prev
		}
	} else {
		l.head = uuid.Nil
		l.tail = uuid.Nil
	}

	delete(l.nodes, id)
}

// ReInsert moves id to the position implied by its new ratio.
func (l *SortedPositions) ReInsert(id uuid.UUID, ratio fpmath.Decimal, prevID, nextID uuid.UUID) error {
	if !l.Contains(id) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if ratio.IsZero() {
		return ErrZeroRatio
	}

	l.remove(id)
	l.insert(id, ratio, prevID, nextID)
	return nil
}

// ValidInsertPosition reports whether (prevID, nextID) brackets ratio:
// ratio(prev) >= ratio > ratio(next), with Nil meaning the list end.
func (l *SortedPositions) ValidInsertPosition(ratio fpmath.Decimal, prevID, nextID uuid.UUID) bool {
	switch {
	case prevID == uuid.Nil && nextID == uuid.Nil:
		return l.IsEmpty()
	case prevID == uuid.Nil:
		return l.head == nextID && ratio.Gt(l.ratio(nextID))
	case nextID == uuid.Nil:
		return l.tail == prevID && ratio.Lte(l.ratio(prevID))
	default:
		prev, ok := l.nodes[prevID]
		if !ok || prev.next != nextID {
			return false
		}
		return l.ratio(prevID).Gte(ratio) && ratio.Gt(l.ratio(nextID))
	}
}

// FindInsertPosition returns a valid (prev, next) pair for ratio, starting from
// whichever hint still makes sense.
func (l *SortedPositions) FindInsertPosition(ratio fpmath.Decimal, prevID, nextID uuid.UUID) (uuid.UUID, uuid.UUID) {
	if prevID != uuid.Nil {
		if !l.Contains(prevID) || ratio.Gt(l.ratio(prevID)) {
			prevID = uuid.Nil
		}
	}
	if nextID != uuid.Nil {
		if !l.Contains(nextID) || ratio.Lte(l.ratio(nextID)) {
			nextID = uuid.Nil
		}
	}

	switch {
	case prevID == uuid.Nil && nextID == uuid.Nil:
		return l.descendList(ratio, l.head)
	case prevID == uuid.Nil:
		return l.ascendList(ratio, nextID)
	default:
		return l.descendList(ratio, prevID)
	}
}

// descendList walks toward the tail from start.
func (l *SortedPositions) descendList(ratio fpmath.Decimal, start uuid.UUID) (uuid.UUID, uuid.UUID) {
	if start == uuid.Nil {
		return uuid.Nil, uuid.Nil
	}
	if l.head == start && ratio.Gt(l.ratio(start)) {
		return uuid.Nil, start
	}

	prevID := start
	nextID := l.nodes[prevID].next
	for prevID != uuid.Nil && !l.ValidInsertPosition(ratio, prevID, nextID) {
		prevID = l.nodes[prevID].next
		if prevID == uuid.Nil {
			break
		}
		nextID = l.nodes[prevID].next
	}
	return prevID, nextID
}

// ascendList walks toward the head from start.
func (l *SortedPositions) ascendList(ratio fpmath.Decimal, start uuid.UUID) (uuid.UUID, uuid.UUID) {
	if start == uuid.Nil {
		return uuid.Nil, uuid.Nil
	}
	if l.tail == start && ratio.Lte(l.ratio(start)) {
		return start, uuid.Nil
	}

	nextID := start
	prevID := l.nodes[nextID].prev
	for nextID != uuid.Nil && !l.ValidInsertPosition(ratio, prevID, nextID) {
		nextID = l.nodes[nextID].prev
		if nextID == uuid.Nil {
			break
		}
		prevID = l.nodes[nextID].prev
	}
	return prevID, nextID
}

func (l *SortedPositions) ratio(id uuid.UUID) fpmath.Decimal {
	return l.ratios.NominalICR(id)
}

func (l *SortedPositions) Contains(id uuid.UUID) bool {
	_, ok := l.nodes[id]
	return ok
}

// First returns the head (highest ratio) or Nil.
func (l *SortedPositions) First() uuid.UUID { return l.head }

// Last returns the tail (lowest ratio) or Nil.
func (l *SortedPositions) Last() uuid.UUID { return l.tail }

// Next returns the neighbour toward the tail, or Nil.
func (l *SortedPositions) Next(id uuid.UUID) uuid.UUID {
	if node, ok := l.nodes[id]; ok {
		return node.next
	}
	return uuid.Nil
}

// Prev returns the neighbour toward the head, or Nil.
func (l *SortedPositions) Prev(id uuid.UUID) uuid.UUID {
	if node, ok := l.nodes[id]; ok {
		return node.prev
	}
	return uuid.Nil
}

func (l *SortedPositions) Size() int     { return len(l.nodes) }
func (l *SortedPositions) MaxSize() int  { return l.maxSize }
func (l *SortedPositions) IsFull() bool  { return len(l.nodes) >= l.maxSize }
func (l *SortedPositions) IsEmpty() bool { return len(l.nodes) == 0 }

// Ordered returns ids from head to tail (for snapshots and queries).
func (l *SortedPositions) Ordered() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(l.nodes))
	for id := l.head; id != uuid.Nil; id = l.nodes[id].next {
		out = append(out, id)
	}
	return out
}

// Restore relinks the list from a head-to-tail order without consulting ratios.
func (l *SortedPositions) Restore(ordered []uuid.UUID) error {
	if len(ordered) > l.maxSize {
		return ErrListFull
	}
	l.nodes = make(map[uuid.UUID]*listNode, len(ordered))
	l.head = uuid.Nil
	l.tail = uuid.Nil

	for _, id := range ordered {
		if id == uuid.Nil {
			return ErrZeroID
		}
		if l.Contains(id) {
			return fmt.Errorf("%s: %w", id, ErrDuplicateID)
		}
		node := &listNode{prev: l.tail}
		if l.tail != uuid.Nil {
			l.nodes[l.tail].next = id
		} else {
			l.head = id
		}
		l.nodes[id] = node
		l.tail = id
	}
	return nil
}
