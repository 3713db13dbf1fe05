// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package participants

import "github.com/luxfi/ids"

// Snapshot is an immutable, id-ordered copy of the participant table.
type Snapshot struct {
	participants []Participant
	index        map[ids.NodeID]int
}

// Len returns the number of participants in the snapshot.
func (s Snapshot) Len() int {
	return len(s.participants)
}

// All returns every participant, ordered by id.
func (s Snapshot) All() []Participant {
	out := make([]Participant, len(s.participants))
	for i, p := range s.participants {
		out[i] = p.Clone()
	}
	return out
}

// Get returns the participant with [id].
func (s Snapshot) Get(id ids.NodeID) (Participant, bool) {
	i, ok := s.index[id]
	if !ok {
		return Participant{}, false
	}
	return s.participants[i].Clone(), true
}

// Eligible returns the number of active participants whose role can vote.
func (s Snapshot) Eligible() int {
	n := 0
	for _, p := range s.participants {
		if p.Active() && p.Role.CanVote() {
			n++
		}
	}
	return n
}
