// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"context"
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/horizon/audit"
	"github.com/luxfi/horizon/geometry"
	"github.com/luxfi/horizon/participants"
	"github.com/luxfi/horizon/priority"
)

// State of a round.
type State uint8

const (
	Open State = iota + 1
	Tallying
	Committed
	Rejected
	Inconclusive
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Tallying:
		return "tallying"
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	case Inconclusive:
		return "inconclusive"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Committed || s == Rejected || s == Inconclusive
}

// Decision is a voter's answer to a proposal.
type Decision uint8

const (
	Accept Decision = iota + 1
	Reject
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	case Abstain:
		return "abstain"
	default:
		return "unknown"
	}
}

func (d Decision) Valid() bool {
	return d == Accept || d == Reject || d == Abstain
}

// Ack describes how a vote was taken.
type Ack uint8

const (
	// AckRecorded votes count toward the tally.
	AckRecorded Ack = iota + 1
	// AckDuplicate votes repeated an earlier identical vote and changed
	// nothing.
	AckDuplicate
	// AckNonBinding votes were recorded but will not be tallied, because
	// they arrived after the deadline or from a stale participant.
	AckNonBinding
)

func (a Ack) String() string {
	switch a {
	case AckRecorded:
		return "recorded"
	case AckDuplicate:
		return "duplicate"
	case AckNonBinding:
		return "non_binding"
	default:
		return "unknown"
	}
}

// Reasons attached to results.
const (
	ReasonQuorum    = "quorum"
	ReasonNoQuorum  = "no quorum"
	ReasonNoVoters  = "no eligible participants"
	ReasonConflict  = "conflict"
	ReasonCancelled = "cancelled"
)

// ProposalSpec is what a coordinator supplies to open a round.
type ProposalSpec struct {
	PayloadDigest ids.ID
	Anchor        geometry.Point
	Coordinator   ids.NodeID
	// ConflictKey groups mutually exclusive proposals. Empty means the
	// proposal conflicts with nothing.
	ConflictKey string
	Priority    priority.Priority
	// Deadline defaults to the open time plus Config.RoundTimeout.
	Deadline time.Time
}

// Proposal is an opened round's immutable description.
type Proposal struct {
	RoundID       uint64
	PayloadDigest ids.ID
	Anchor        geometry.Point
	Coordinator   ids.NodeID
	ConflictKey   string
	Priority      priority.Priority
	Deadline      time.Time
	OpenedAt      time.Time
}

func (p Proposal) clone() Proposal {
	p.Anchor = p.Anchor.Clone()
	return p
}

// Vote is a recorded decision. Binding votes are tallied.
type Vote struct {
	ParticipantID ids.NodeID
	RoundID       uint64
	Decision      Decision
	CastAt        time.Time
	Binding       bool
}

// Outlier is a voter whose influence was discounted.
type Outlier struct {
	ID ids.NodeID
	// Distance from the voters' geometric median.
	Distance float64
	Weight   float64
}

// QuorumResult is the outcome of a finalized round.
type QuorumResult struct {
	RoundID uint64
	Outcome State
	Reason  string
	// CommittingSet lists the binding accepting voters, minus outliers,
	// sorted by id. It is empty unless the round committed.
	CommittingSet  []ids.NodeID
	AcceptCoverage float64
	RejectCoverage float64
	Outliers       []Outlier
	Timestamp      time.Time
	Audit          []audit.Entry
}

func (r QuorumResult) clone() QuorumResult {
	r.CommittingSet = append([]ids.NodeID(nil), r.CommittingSet...)
	r.Outliers = append([]Outlier(nil), r.Outliers...)
	r.Audit = append([]audit.Entry(nil), r.Audit...)
	return r
}

// Participants is the view of the participant table the engine needs.
type Participants interface {
	Dim() int
	Get(ids.NodeID) (participants.Participant, error)
	Snapshot() participants.Snapshot
	Pin(ids.NodeID) error
	Unpin(ids.NodeID) (bool, error)
}

// Freshness reports whether a participant was recently admitted.
type Freshness interface {
	IsFresh(id ids.NodeID, now time.Time, bound time.Duration) bool
}

// Rewarder is told about every committed round.
type Rewarder interface {
	Reward(QuorumResult) error
}

// DecisionSource produces a participant's decision on a proposal. The
// decision may come from a state machine, a human, or a model; the engine
// only consumes the resulting votes.
type DecisionSource interface {
	ParticipantID() ids.NodeID
	Decide(context.Context, Proposal) (Decision, error)
}
