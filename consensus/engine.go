// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/horizon/audit"
	"github.com/luxfi/horizon/geometry"
	"github.com/luxfi/horizon/participants"
	utilmath "github.com/luxfi/horizon/utils/math"
	"github.com/luxfi/horizon/utils/wrappers"
)

var (
	ErrUnknownRound    = errors.New("unknown round")
	ErrRoundClosed     = errors.New("round is not open")
	ErrRoundNotFinal   = errors.New("round is not finalized")
	ErrVoteConflict    = errors.New("conflicting vote")
	ErrRoundFull       = errors.New("round vote limit reached")
	ErrInvalidProposal = errors.New("invalid proposal")
	ErrInvalidDecision = errors.New("invalid decision")
	ErrNotEligible     = errors.New("participant role cannot vote")
)

type round struct {
	proposal Proposal
	state    State
	votes    map[ids.NodeID]Vote
	// pinned lists every participant this round holds a pin on.
	pinned []ids.NodeID
	audit  []audit.Entry
	result QuorumResult
}

func (r *round) sortedVotes() []Vote {
	votes := make([]Vote, 0, len(r.votes))
	for _, v := range r.votes {
		votes = append(votes, v)
	}
	slices.SortFunc(votes, func(a, b Vote) int {
		return participants.Compare(a.ParticipantID, b.ParticipantID)
	})
	return votes
}

// Engine runs rounds. It is safe for concurrent use.
type Engine struct {
	config       Config
	log          log.Logger
	metrics      Metrics
	recorder     *audit.Recorder
	participants Participants
	freshness    Freshness
	rewarder     Rewarder

	lock        sync.Mutex
	nextRoundID uint64
	rounds      map[uint64]*round
}

// New returns an engine. [freshness] and [rewarder] may be nil, which
// disables the staleness check and rewards respectively.
func New(
	config Config,
	logger log.Logger,
	metrics Metrics,
	recorder *audit.Recorder,
	participants Participants,
	freshness Freshness,
	rewarder Rewarder,
) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		config:       config,
		log:          logger,
		metrics:      metrics,
		recorder:     recorder,
		participants: participants,
		freshness:    freshness,
		rewarder:     rewarder,
		nextRoundID:  1,
		rounds:       make(map[uint64]*round),
	}, nil
}

func (e *Engine) Config() Config {
	return e.config
}

// Open starts a round for [spec] and returns its id. Round ids are strictly
// increasing.
func (e *Engine) Open(spec ProposalSpec, now time.Time) (uint64, error) {
	if len(spec.Anchor) != e.participants.Dim() {
		return 0, fmt.Errorf("%w: anchor: %w: %d != %d",
			ErrInvalidProposal, geometry.ErrDimensionMismatch, len(spec.Anchor), e.participants.Dim())
	}
	if err := geometry.Validate(spec.Anchor); err != nil {
		return 0, fmt.Errorf("%w: anchor: %w", ErrInvalidProposal, err)
	}
	coordinator, err := e.participants.Get(spec.Coordinator)
	if err != nil {
		return 0, err
	}
	if !coordinator.Active() {
		return 0, fmt.Errorf("%w: %s", participants.ErrUnknownParticipant, spec.Coordinator)
	}
	if coordinator.Role != participants.Proposer {
		return 0, fmt.Errorf("%w: coordinator %s is a %s", ErrInvalidProposal, spec.Coordinator, coordinator.Role)
	}
	deadline := spec.Deadline
	if deadline.IsZero() {
		deadline = now.Add(e.config.RoundTimeout)
	}
	if !deadline.After(now) {
		return 0, fmt.Errorf("%w: deadline %s is not after %s", ErrInvalidProposal, deadline, now)
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	roundID := e.nextRoundID
	next, err := utilmath.Add(roundID, 1)
	if err != nil {
		return 0, fmt.Errorf("assigning round id: %w", err)
	}
	if err := e.participants.Pin(spec.Coordinator); err != nil {
		return 0, err
	}
	e.nextRoundID = next
	e.rounds[roundID] = &round{
		proposal: Proposal{
			RoundID:       roundID,
			PayloadDigest: spec.PayloadDigest,
			Anchor:        spec.Anchor.Clone(),
			Coordinator:   spec.Coordinator,
			ConflictKey:   spec.ConflictKey,
			Priority:      spec.Priority,
			Deadline:      deadline,
			OpenedAt:      now,
		},
		state:  Open,
		votes:  make(map[ids.NodeID]Vote),
		pinned: []ids.NodeID{spec.Coordinator},
	}

	e.metrics.MarkOpened()
	e.log.Info("opened round",
		log.Uint64("roundID", roundID),
		log.Stringer("coordinator", spec.Coordinator),
		log.Stringer("digest", spec.PayloadDigest),
		log.String("conflictKey", spec.ConflictKey),
		log.Stringer("priority", spec.Priority),
	)
	return roundID, nil
}

// CastVote records [decision] by [voterID] on round [roundID]. Every check
// runs before anything is recorded.
func (e *Engine) CastVote(roundID uint64, voterID ids.NodeID, decision Decision, now time.Time) (Ack, error) {
	if !decision.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDecision, decision)
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRound, roundID)
	}
	// A resubmitted vote is acknowledged even after the round closed.
	prev, voted := r.votes[voterID]
	if voted && prev.Decision == decision {
		e.metrics.MarkVote(AckDuplicate)
		return AckDuplicate, nil
	}
	p, err := e.participants.Get(voterID)
	if err != nil {
		return 0, err
	}
	if !p.Active() {
		return 0, fmt.Errorf("%w: %s", participants.ErrUnknownParticipant, voterID)
	}
	if !p.Role.CanVote() {
		return 0, fmt.Errorf("%w: %s is a %s", ErrNotEligible, voterID, p.Role)
	}
	if r.state != Open {
		return 0, fmt.Errorf("%w: round %d is %s", ErrRoundClosed, roundID, r.state)
	}
	if voted {
		return 0, fmt.Errorf("%w: %s already voted %s on round %d", ErrVoteConflict, voterID, prev.Decision, roundID)
	}
	if len(r.votes) >= e.config.MaxVotesPerRound {
		return 0, fmt.Errorf("%w: round %d holds %d votes", ErrRoundFull, roundID, len(r.votes))
	}

	var (
		late    = now.After(r.proposal.Deadline)
		stale   = e.freshness != nil && !e.freshness.IsFresh(voterID, now, e.config.StalenessBound)
		binding = !late && !stale
	)
	if err := e.participants.Pin(voterID); err != nil {
		return 0, err
	}
	r.pinned = append(r.pinned, voterID)
	r.votes[voterID] = Vote{
		ParticipantID: voterID,
		RoundID:       roundID,
		Decision:      decision,
		CastAt:        now,
		Binding:       binding,
	}

	ack, kind, detail := AckRecorded, audit.VoteRecorded, decision.String()
	if !binding {
		ack, kind = AckNonBinding, audit.VoteNonBinding
		if late {
			detail += " late"
		}
		if stale {
			detail += " stale"
		}
	}
	e.auditLocked(r, audit.Entry{
		Kind:        kind,
		RoundID:     roundID,
		Participant: voterID,
		Time:        now,
		Detail:      detail,
	})
	e.metrics.MarkVote(ack)
	e.log.Debug("recorded vote",
		log.Uint64("roundID", roundID),
		log.Stringer("voter", voterID),
		log.Stringer("decision", decision),
		log.Stringer("ack", ack),
	)
	return ack, nil
}

// Finalize tallies round [roundID], which always reaches a terminal state.
// If it commits, the open rounds sharing its conflict key settle with it:
// the winner of the group commits and the others are rejected.
func (e *Engine) Finalize(roundID uint64, now time.Time) (QuorumResult, error) {
	results, err := e.finalize(roundID, now)
	if err != nil {
		return QuorumResult{}, err
	}
	return results[0], nil
}

// FinalizeExpired finalizes every open round whose deadline is not after
// [now]. Rounds are processed by descending priority, then ascending id.
// Results include conflict group members settled along the way.
func (e *Engine) FinalizeExpired(now time.Time) ([]QuorumResult, error) {
	e.lock.Lock()
	var expired []Proposal
	for _, r := range e.rounds {
		if r.state == Open && !now.Before(r.proposal.Deadline) {
			expired = append(expired, r.proposal)
		}
	}
	e.lock.Unlock()

	slices.SortFunc(expired, func(a, b Proposal) int {
		if c := b.Priority.Compare(a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.RoundID, b.RoundID)
	})

	var (
		results []QuorumResult
		done    = make(map[uint64]struct{})
		errs    wrappers.Errs
	)
	for _, p := range expired {
		if _, ok := done[p.RoundID]; ok {
			continue
		}
		group, err := e.finalize(p.RoundID, now)
		if errors.Is(err, ErrRoundClosed) {
			continue
		}
		if err != nil {
			errs.Join(err)
			continue
		}
		for _, r := range group {
			done[r.RoundID] = struct{}{}
			results = append(results, r)
		}
	}
	return results, errs.Err
}

type job struct {
	proposal Proposal
	votes    []Vote
}

// finalize settles [roundID] and, if it commits, its conflict group. The
// result for [roundID] comes first.
func (e *Engine) finalize(roundID uint64, now time.Time) ([]QuorumResult, error) {
	e.lock.Lock()
	r, ok := e.rounds[roundID]
	if !ok {
		e.lock.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownRound, roundID)
	}
	if r.state != Open {
		e.lock.Unlock()
		return nil, fmt.Errorf("%w: round %d is %s", ErrRoundClosed, roundID, r.state)
	}
	group := e.groupLocked(r)
	jobs := make([]job, len(group))
	for i, g := range group {
		g.state = Tallying
		jobs[i] = job{
			proposal: g.proposal.clone(),
			votes:    g.sortedVotes(),
		}
	}
	e.lock.Unlock()

	results, err := e.settle(jobs, now)

	e.lock.Lock()
	if err != nil {
		for _, g := range group {
			g.state = Open
		}
		e.lock.Unlock()
		return nil, fmt.Errorf("finalizing round %d: %w", roundID, err)
	}
	for _, g := range group[len(results):] {
		g.state = Open
	}
	var release []ids.NodeID
	for i, g := range group[:len(results)] {
		res := results[i]
		for _, o := range res.Outliers {
			e.auditLocked(g, audit.Entry{
				Kind:        audit.OutlierFlagged,
				RoundID:     g.proposal.RoundID,
				Participant: o.ID,
				Time:        now,
				Value:       o.Weight,
				Detail:      fmt.Sprintf("distance=%g", o.Distance),
			})
		}
		e.auditLocked(g, audit.Entry{
			Kind:        audit.RoundFinalized,
			RoundID:     g.proposal.RoundID,
			Participant: g.proposal.Coordinator,
			Time:        now,
			Value:       res.AcceptCoverage,
			Detail:      fmt.Sprintf("%s: %s", res.Outcome, res.Reason),
		})
		res.Audit = slices.Clone(g.audit)
		g.state = res.Outcome
		g.result = res
		results[i] = res.clone()
		release = append(release, g.pinned...)
		g.pinned = nil

		e.metrics.MarkFinalized(res)
		e.log.Info("finalized round",
			log.Uint64("roundID", g.proposal.RoundID),
			log.Stringer("outcome", res.Outcome),
			log.String("reason", res.Reason),
			log.Reflect("acceptCoverage", res.AcceptCoverage),
			log.Reflect("rejectCoverage", res.RejectCoverage),
			log.Int("outliers", len(res.Outliers)),
		)
	}
	e.lock.Unlock()

	e.release(release)
	for _, res := range results {
		e.reward(res)
	}
	return results, nil
}

// groupLocked returns [r] followed by the other open rounds sharing its
// conflict key, in id order.
func (e *Engine) groupLocked(r *round) []*round {
	group := []*round{r}
	if r.proposal.ConflictKey == "" {
		return group
	}
	for _, other := range e.rounds {
		if other != r && other.state == Open && other.proposal.ConflictKey == r.proposal.ConflictKey {
			group = append(group, other)
		}
	}
	slices.SortFunc(group[1:], func(a, b *round) int {
		return cmp.Compare(a.proposal.RoundID, b.proposal.RoundID)
	})
	return group
}

// settle tallies every job against one participant snapshot. The first
// job is the round being finalized and always gets a result. The others
// only settle when it commits: the group winner commits and every other
// member is rejected for the conflict. Otherwise they get no result and
// stay open.
func (e *Engine) settle(jobs []job, now time.Time) ([]QuorumResult, error) {
	snap := e.participants.Snapshot()
	eligible := snap.Eligible()

	results := make([]QuorumResult, len(jobs))
	tallies := make([]tally, len(jobs))
	var (
		committed  []Proposal
		committedI []int
	)
	for i, j := range jobs {
		t, err := tallyVotes(e.config, j.proposal.Anchor, collectVoters(j.votes, snap), eligible)
		if err != nil {
			return nil, err
		}
		state, reason := outcome(e.config, t, eligible)
		tallies[i] = t
		results[i] = QuorumResult{
			RoundID:        j.proposal.RoundID,
			Outcome:        state,
			Reason:         reason,
			AcceptCoverage: t.acceptCoverage,
			RejectCoverage: t.rejectCoverage,
			Outliers:       t.outliers,
			Timestamp:      now,
		}
		if state == Committed {
			committed = append(committed, j.proposal)
			committedI = append(committedI, i)
		}
	}
	if results[0].Outcome != Committed {
		return results[:1], nil
	}

	w, err := pickWinner(committed)
	if err != nil {
		return nil, err
	}
	winner := committedI[w]
	for i := range results {
		if i == winner {
			results[i].CommittingSet = committingSet(tallies[i])
			continue
		}
		results[i].Outcome = Rejected
		results[i].Reason = ReasonConflict
	}
	return results, nil
}

// Cancel moves an open round to Rejected immediately.
func (e *Engine) Cancel(roundID uint64, now time.Time) error {
	e.lock.Lock()
	r, ok := e.rounds[roundID]
	if !ok {
		e.lock.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownRound, roundID)
	}
	if r.state != Open {
		e.lock.Unlock()
		return fmt.Errorf("%w: round %d is %s", ErrRoundClosed, roundID, r.state)
	}
	e.auditLocked(r, audit.Entry{
		Kind:        audit.RoundCancelled,
		RoundID:     roundID,
		Participant: r.proposal.Coordinator,
		Time:        now,
		Detail:      ReasonCancelled,
	})
	r.state = Rejected
	r.result = QuorumResult{
		RoundID:   roundID,
		Outcome:   Rejected,
		Reason:    ReasonCancelled,
		Timestamp: now,
		Audit:     slices.Clone(r.audit),
	}
	release := r.pinned
	r.pinned = nil
	e.metrics.MarkFinalized(r.result)
	e.lock.Unlock()

	e.log.Info("cancelled round", log.Uint64("roundID", roundID))
	e.release(release)
	return nil
}

// Status returns the state of round [roundID].
func (e *Engine) Status(roundID uint64) (State, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRound, roundID)
	}
	return r.state, nil
}

// Proposal returns the proposal of round [roundID] and its current state.
func (e *Engine) Proposal(roundID uint64) (Proposal, State, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return Proposal{}, 0, fmt.Errorf("%w: %d", ErrUnknownRound, roundID)
	}
	return r.proposal.clone(), r.state, nil
}

// Votes returns the votes recorded on round [roundID], sorted by voter.
func (e *Engine) Votes(roundID uint64) ([]Vote, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRound, roundID)
	}
	return r.sortedVotes(), nil
}

// Result returns the result of a finalized round.
func (e *Engine) Result(roundID uint64) (QuorumResult, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return QuorumResult{}, fmt.Errorf("%w: %d", ErrUnknownRound, roundID)
	}
	if !r.state.Terminal() {
		return QuorumResult{}, fmt.Errorf("%w: round %d is %s", ErrRoundNotFinal, roundID, r.state)
	}
	return r.result.clone(), nil
}

// EvictResult forgets a finalized round.
func (e *Engine) EvictResult(roundID uint64) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	r, ok := e.rounds[roundID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRound, roundID)
	}
	if !r.state.Terminal() {
		return fmt.Errorf("%w: round %d is %s", ErrRoundNotFinal, roundID, r.state)
	}
	delete(e.rounds, roundID)
	return nil
}

// OpenRounds returns the ids of open rounds in ascending order.
func (e *Engine) OpenRounds() []uint64 {
	e.lock.Lock()
	defer e.lock.Unlock()

	var out []uint64
	for id, r := range e.rounds {
		if r.state == Open {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (e *Engine) auditLocked(r *round, entry audit.Entry) {
	entry, err := e.recorder.Record(entry)
	if err != nil {
		e.log.Warn("failed to audit round",
			log.Uint64("roundID", entry.RoundID),
			log.Stringer("kind", entry.Kind),
			log.Err(err),
		)
	}
	r.audit = append(r.audit, entry)
}

func (e *Engine) release(pinned []ids.NodeID) {
	for _, id := range pinned {
		removed, err := e.participants.Unpin(id)
		if err != nil {
			e.log.Warn("failed to unpin participant",
				log.Stringer("participant", id),
				log.Err(err),
			)
			continue
		}
		if removed {
			e.log.Info("removed participant after its last round",
				log.Stringer("participant", id),
			)
		}
	}
}

func (e *Engine) reward(res QuorumResult) {
	if e.rewarder == nil || res.Outcome != Committed {
		return
	}
	if err := e.rewarder.Reward(res); err != nil {
		e.log.Error("failed to reward committed round",
			log.Uint64("roundID", res.RoundID),
			log.Err(err),
		)
	}
}
