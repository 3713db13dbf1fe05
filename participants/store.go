// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package participants

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/luxfi/ids"

	"github.com/luxfi/horizon/geometry"
	"github.com/luxfi/horizon/utils/math"
)

const btreeDegree = 32

var (
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrDuplicateParticipant = errors.New("participant already registered")
	ErrNotPinned            = errors.New("participant is not pinned")
	ErrInvalidEnergy        = errors.New("energy must be in [0, 1]")
)

type entry struct {
	Participant
	pins int
}

func lessEntry(a, b *entry) bool {
	return Compare(a.ID, b.ID) < 0
}

// Move sets a participant's position.
type Move struct {
	ID ids.NodeID
	To geometry.Point
}

// Store is the participant position table. Positions are only changed
// through Apply, which validates a whole batch before writing any of it.
type Store struct {
	mu   sync.RWMutex
	dim  int
	tree *btree.BTreeG[*entry]
}

func NewStore(dim int) *Store {
	return &Store{
		dim:  dim,
		tree: btree.NewG(btreeDegree, lessEntry),
	}
}

// Dim returns the dimension of every position in the store.
func (s *Store) Dim() int {
	return s.dim
}

func (s *Store) get(id ids.NodeID) (*entry, bool) {
	return s.tree.Get(&entry{Participant: Participant{ID: id}})
}

// Register adds a participant at [at], or at the origin if [at] is nil.
func (s *Store) Register(id ids.NodeID, role Role, at geometry.Point, energy float64, now time.Time) error {
	if energy < 0 || energy > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidEnergy, energy)
	}
	if at == nil {
		at = geometry.Origin(s.dim)
	}
	if len(at) != s.dim {
		return fmt.Errorf("register %s: %w: %d != %d", id, geometry.ErrDimensionMismatch, len(at), s.dim)
	}
	if err := geometry.Validate(at); err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.get(id); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateParticipant, id)
	}
	s.tree.ReplaceOrInsert(&entry{
		Participant: Participant{
			ID:         id,
			Role:       role,
			Position:   at.Clone(),
			Energy:     energy,
			LastActive: now,
			Registered: now,
		},
	})
	return nil
}

// Get returns a copy of the participant.
func (s *Store) Get(id ids.NodeID) (Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.get(id)
	if !ok {
		return Participant{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return e.Clone(), nil
}

// Position returns a copy of the participant's position.
func (s *Store) Position(id ids.NodeID) (geometry.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return e.Position.Clone(), nil
}

// IsActive reports whether [id] is registered and not pending removal.
func (s *Store) IsActive(id ids.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.get(id)
	return ok && e.Active()
}

// Len returns the number of registered participants, including those
// pending removal.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tree.Len()
}

// Touch records activity by [id] at [now].
func (s *Store) Touch(id ids.NodeID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	if now.After(e.LastActive) {
		e.LastActive = now
	}
	return nil
}

// AdjustEnergy replaces the participant's energy with f(energy), limited to
// [0, 1], and returns the new value.
func (s *Store) AdjustEnergy(id ids.NodeID, f func(float64) float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	e.Energy = math.Unit(f(e.Energy))
	return e.Energy, nil
}

// Pin marks [id] as referenced by an open round. Pinned participants are
// not deleted until every pin is released.
func (s *Store) Pin(id ids.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(id)
	if !ok || !e.Active() {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	e.pins++
	return nil
}

// Unpin releases one pin on [id]. If that was the last pin of a participant
// pending removal, the participant is deleted and removed is true.
func (s *Store) Unpin(id ids.NodeID) (removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	if e.pins == 0 {
		return false, fmt.Errorf("%w: %s", ErrNotPinned, id)
	}
	e.pins--
	if e.pins == 0 && e.PendingRemoval {
		s.tree.Delete(e)
		return true, nil
	}
	return false, nil
}

// Remove deletes [id], or defers the deletion until the last pin is
// released. removed reports whether the participant is gone now.
func (s *Store) Remove(id ids.NodeID) (removed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	if e.pins > 0 {
		e.PendingRemoval = true
		return false, nil
	}
	s.tree.Delete(e)
	return true, nil
}

// Apply sets every position in [moves] or none of them.
func (s *Store) Apply(moves []Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	targets := make([]*entry, len(moves))
	for i, m := range moves {
		e, ok := s.get(m.ID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParticipant, m.ID)
		}
		if len(m.To) != s.dim {
			return fmt.Errorf("move %s: %w: %d != %d", m.ID, geometry.ErrDimensionMismatch, len(m.To), s.dim)
		}
		if err := geometry.Validate(m.To); err != nil {
			return fmt.Errorf("move %s: %w", m.ID, err)
		}
		targets[i] = e
	}
	for i, e := range targets {
		e.Position = moves[i].To.Clone()
	}
	return nil
}

// Snapshot returns a consistent copy of every participant, ordered by id.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		participants: make([]Participant, 0, s.tree.Len()),
		index:        make(map[ids.NodeID]int, s.tree.Len()),
	}
	s.tree.Ascend(func(e *entry) bool {
		snap.index[e.ID] = len(snap.participants)
		snap.participants = append(snap.participants, e.Clone())
		return true
	})
	return snap
}
