// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package participants

import (
	"bytes"
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/horizon/geometry"
)

// Role is what a participant is allowed to do in a round.
type Role uint8

const (
	// Observer may submit reports but never votes.
	Observer Role = iota
	// Voter may vote on rounds.
	Voter
	// Proposer may coordinate rounds and vote on them.
	Proposer
)

func (r Role) String() string {
	switch r {
	case Observer:
		return "observer"
	case Voter:
		return "voter"
	case Proposer:
		return "proposer"
	default:
		return "unknown"
	}
}

// CanVote reports whether the role is eligible to vote.
func (r Role) CanVote() bool {
	return r == Voter || r == Proposer
}

// Participant is a point-in-time copy of a participant's state. Mutating it
// has no effect on the store.
type Participant struct {
	ID       ids.NodeID
	Role     Role
	Position geometry.Point
	// Energy is the participant's trust scalar in [0, 1].
	Energy     float64
	LastActive time.Time
	Registered time.Time
	// PendingRemoval is set once removal was requested while the participant
	// was still referenced by an open round.
	PendingRemoval bool
}

// Active reports whether the participant is registered and not evicted.
func (p Participant) Active() bool {
	return !p.PendingRemoval
}

// Clone returns a deep copy of p.
func (p Participant) Clone() Participant {
	p.Position = p.Position.Clone()
	return p
}

// Compare orders participant ids by their bytes. It is the total order used
// wherever iteration order affects floating point results.
func Compare(a, b ids.NodeID) int {
	return bytes.Compare(a[:], b[:])
}
