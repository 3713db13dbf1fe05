// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package horizon is a geometric consensus and information-gating engine.
//
// Participants are points in the Poincaré ball. Reports they submit are
// attenuated by hyperbolic distance and admitted through a thermal gate,
// rounds are decided by how much of the space around a proposal the
// accepting voters cover, and participants drift outward while idle and are
// pulled back toward the center when they help commit a round.
//
// Core is the entry point. All time is logical: it only moves through
// AdvanceTime, so identical call sequences produce bit-identical results.
package horizon

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/horizon/audit"
	"github.com/luxfi/horizon/consensus"
	"github.com/luxfi/horizon/dynamics"
	"github.com/luxfi/horizon/gate"
	"github.com/luxfi/horizon/geometry"
	"github.com/luxfi/horizon/participants"
	utilmetric "github.com/luxfi/horizon/utils/metric"
	"github.com/luxfi/horizon/utils/timer/mockable"
	"github.com/luxfi/horizon/utils/wrappers"
)

// Advance is the outcome of moving the logical clock forward.
type Advance struct {
	Now       time.Time
	Updates   []dynamics.PositionUpdate
	Finalized []consensus.QuorumResult
}

// Solicitation is the outcome of asking one decision source for a vote.
type Solicitation struct {
	ParticipantID ids.NodeID
	Decision      consensus.Decision
	Ack           consensus.Ack
	Err           error
}

// ParticipantOption customizes a registration.
type ParticipantOption func(*participantOptions)

type participantOptions struct {
	position geometry.Point
	energy   *float64
}

// WithPosition registers the participant at [p] instead of the origin.
func WithPosition(p geometry.Point) ParticipantOption {
	return func(o *participantOptions) {
		o.position = p
	}
}

// WithEnergy registers the participant with energy [e] instead of the
// configured default.
func WithEnergy(e float64) ParticipantOption {
	return func(o *participantOptions) {
		o.energy = &e
	}
}

// Core wires the participant store, dynamics, gate and consensus engine
// together behind one clock.
type Core struct {
	config   Config
	log      log.Logger
	clock    *mockable.Clock
	recorder *audit.Recorder

	// writeLock serializes everything that moves or removes participants,
	// so readers observe positions from before or after a tick, never
	// during, and a tick never applies moves to a participant removed
	// after its snapshot was taken.
	writeLock sync.Mutex

	store    *participants.Store
	dynamics *dynamics.Dynamics
	gate     *gate.Gate
	engine   *consensus.Engine
}

// New returns a Core. A nil [sink] discards audit entries and a nil [clock]
// starts at mockable.Epoch.
func New(
	config Config,
	logger log.Logger,
	registry metric.Registry,
	sink audit.Sink,
	clock *mockable.Clock,
) (*Core, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = mockable.NewClock(mockable.Epoch)
	}

	dynamicsMetrics, err := dynamics.NewMetrics(utilmetric.AppendNamespace(config.MetricsNamespace, "dynamics"), registry)
	if err != nil {
		return nil, fmt.Errorf("registering dynamics metrics: %w", err)
	}
	gateMetrics, err := gate.NewMetrics(utilmetric.AppendNamespace(config.MetricsNamespace, "gate"), registry)
	if err != nil {
		return nil, fmt.Errorf("registering gate metrics: %w", err)
	}
	consensusMetrics, err := consensus.NewMetrics(utilmetric.AppendNamespace(config.MetricsNamespace, "consensus"), registry)
	if err != nil {
		return nil, fmt.Errorf("registering consensus metrics: %w", err)
	}

	c := &Core{
		config:   config,
		log:      logger,
		clock:    clock,
		recorder: audit.NewRecorder(sink),
		store:    participants.NewStore(config.Dimension),
	}
	c.dynamics, err = dynamics.New(config.Dynamics, logger, dynamicsMetrics)
	if err != nil {
		return nil, err
	}
	c.gate, err = gate.New(config.Gate, logger, gateMetrics, c.recorder)
	if err != nil {
		return nil, err
	}
	c.engine, err = consensus.New(
		config.Consensus,
		logger,
		consensusMetrics,
		c.recorder,
		c.store,
		c.gate,
		&rewarder{core: c},
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Now returns the logical time.
func (c *Core) Now() time.Time {
	return c.clock.Time()
}

// RegisterParticipant adds a participant at the origin with the default
// energy, unless options say otherwise.
func (c *Core) RegisterParticipant(id ids.NodeID, role participants.Role, opts ...ParticipantOption) error {
	o := participantOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	energy := c.config.DefaultEnergy
	if o.energy != nil {
		energy = *o.energy
	}
	if err := c.store.Register(id, role, o.position, energy, c.clock.Time()); err != nil {
		return err
	}
	c.gate.Reserve(c.store.Len())
	c.log.Info("registered participant",
		log.Stringer("participant", id),
		log.Stringer("role", role),
	)
	return nil
}

// RemoveParticipant removes [id], or marks it for removal once every round
// referencing it closes. removed reports whether it is already gone.
func (c *Core) RemoveParticipant(id ids.NodeID) (bool, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	removed, err := c.store.Remove(id)
	if err != nil {
		return false, err
	}
	c.log.Info("removing participant",
		log.Stringer("participant", id),
		log.Bool("deferred", !removed),
	)
	return removed, nil
}

// SubmitReport runs [report] through the gate. The report travels to the
// anchor of the round it names if that round is open, to the round's
// coordinator if it is not, and to the origin otherwise. Admitted reports
// count as activity of their source.
func (c *Core) SubmitReport(report gate.Report) (gate.AdmissionRecord, error) {
	now := c.clock.Time()
	source, err := c.store.Get(report.SourceID)
	if err != nil {
		return gate.AdmissionRecord{}, err
	}
	if !source.Active() {
		return gate.AdmissionRecord{}, fmt.Errorf("%w: %s", participants.ErrUnknownParticipant, report.SourceID)
	}

	record, err := c.gate.Admit(report, source.Position, c.target(report.RoundID), now)
	if err != nil {
		return gate.AdmissionRecord{}, err
	}
	if record.Admitted {
		if err := c.store.Touch(report.SourceID, now); err != nil {
			return record, err
		}
	}
	return record, nil
}

func (c *Core) target(roundID uint64) gate.Target {
	origin := gate.Target{Point: geometry.Origin(c.config.Dimension)}
	proposal, state, err := c.engine.Proposal(roundID)
	if err != nil {
		return origin
	}
	if state == consensus.Open {
		return gate.Target{Scope: proposal.Coordinator, Point: proposal.Anchor}
	}
	pos, err := c.store.Position(proposal.Coordinator)
	if err != nil {
		return origin
	}
	return gate.Target{Scope: proposal.Coordinator, Point: pos}
}

// SetScope overrides the gate parameters for reports sent to rounds
// coordinated by [coordinator].
func (c *Core) SetScope(coordinator ids.NodeID, params gate.Params) error {
	return c.gate.SetScope(coordinator, params)
}

// ClearScope restores the default gate parameters for [coordinator].
func (c *Core) ClearScope(coordinator ids.NodeID) {
	c.gate.ClearScope(coordinator)
}

// OpenRound opens a round for [spec] and returns its id.
func (c *Core) OpenRound(spec consensus.ProposalSpec) (uint64, error) {
	now := c.clock.Time()
	roundID, err := c.engine.Open(spec, now)
	if err != nil {
		return 0, err
	}
	return roundID, c.store.Touch(spec.Coordinator, now)
}

// CastVote records a vote by [id] on round [roundID].
func (c *Core) CastVote(roundID uint64, id ids.NodeID, decision consensus.Decision) (consensus.Ack, error) {
	now := c.clock.Time()
	ack, err := c.engine.CastVote(roundID, id, decision, now)
	if err != nil {
		return 0, err
	}
	if ack == consensus.AckRecorded {
		if err := c.store.Touch(id, now); err != nil {
			return ack, err
		}
	}
	return ack, nil
}

// SolicitVotes asks every source for its decision on round [roundID]
// concurrently, then casts the decisions in participant id order. Sources
// that fail are reported and skipped.
func (c *Core) SolicitVotes(ctx context.Context, roundID uint64, sources []consensus.DecisionSource) ([]Solicitation, error) {
	proposal, state, err := c.engine.Proposal(roundID)
	if err != nil {
		return nil, err
	}
	if state != consensus.Open {
		return nil, fmt.Errorf("%w: round %d is %s", consensus.ErrRoundClosed, roundID, state)
	}

	sources = slices.Clone(sources)
	slices.SortFunc(sources, func(a, b consensus.DecisionSource) int {
		return participants.Compare(a.ParticipantID(), b.ParticipantID())
	})
	out := make([]Solicitation, len(sources))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, src := range sources {
		g.Go(func() error {
			decision, err := src.Decide(ctx, proposal)
			out[i] = Solicitation{
				ParticipantID: src.ParticipantID(),
				Decision:      decision,
				Err:           err,
			}
			return nil
		})
	}
	_ = g.Wait()

	errs := wrappers.Errs{}
	for i := range out {
		if out[i].Err != nil {
			out[i].Err = fmt.Errorf("soliciting %s: %w", out[i].ParticipantID, out[i].Err)
			errs.Join(out[i].Err)
			continue
		}
		out[i].Ack, out[i].Err = c.CastVote(roundID, out[i].ParticipantID, out[i].Decision)
		if out[i].Err != nil {
			errs.Join(out[i].Err)
		}
	}
	return out, errs.Err
}

// FinalizeRound settles round [roundID] and, if it commits, its conflict
// group.
func (c *Core) FinalizeRound(roundID uint64) (consensus.QuorumResult, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	return c.engine.Finalize(roundID, c.clock.Time())
}

// CancelRound rejects an open round immediately.
func (c *Core) CancelRound(roundID uint64) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	return c.engine.Cancel(roundID, c.clock.Time())
}

// FinalizeExpired settles every round whose deadline has passed.
func (c *Core) FinalizeExpired() ([]consensus.QuorumResult, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	return c.engine.FinalizeExpired(c.clock.Time())
}

// AdvanceTime moves the logical clock forward by [elapsed], applies one
// dynamics tick, then finalizes rounds whose deadline passed. A tick that
// fails is not applied.
func (c *Core) AdvanceTime(elapsed time.Duration) (Advance, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	now := c.clock.Advance(elapsed)
	updates, err := c.dynamics.Tick(c.store.Snapshot(), now)
	if err != nil {
		return Advance{Now: now}, fmt.Errorf("ticking dynamics: %w", err)
	}
	if err := c.store.Apply(dynamics.Moves(updates)); err != nil {
		return Advance{Now: now}, fmt.Errorf("applying tick: %w", err)
	}
	finalized, err := c.engine.FinalizeExpired(now)
	return Advance{
		Now:       now,
		Updates:   updates,
		Finalized: finalized,
	}, err
}

// GetParticipant returns a copy of participant [id].
func (c *Core) GetParticipant(id ids.NodeID) (participants.Participant, error) {
	return c.store.Get(id)
}

// GetParticipantPosition returns the position of participant [id].
func (c *Core) GetParticipantPosition(id ids.NodeID) (geometry.Point, error) {
	return c.store.Position(id)
}

// GetRoundStatus returns the state of round [roundID].
func (c *Core) GetRoundStatus(roundID uint64) (consensus.State, error) {
	return c.engine.Status(roundID)
}

// GetResult returns the result of a finalized round.
func (c *Core) GetResult(roundID uint64) (consensus.QuorumResult, error) {
	return c.engine.Result(roundID)
}

// EvictResult forgets a finalized round.
func (c *Core) EvictResult(roundID uint64) error {
	return c.engine.EvictResult(roundID)
}

// Snapshot returns a consistent copy of every participant.
func (c *Core) Snapshot() participants.Snapshot {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	return c.store.Snapshot()
}

// rewarder centers the committing set of a round, relaxes the crowding the
// pull leaves behind in the same store update, and moves energies. The
// engine calls it while Core already holds writeLock.
type rewarder struct {
	core *Core
}

func (r *rewarder) Reward(res consensus.QuorumResult) error {
	c := r.core
	snap := c.store.Snapshot()
	members := make([]ids.NodeID, 0, len(res.CommittingSet))
	for _, id := range res.CommittingSet {
		if p, ok := snap.Get(id); ok && p.Active() {
			members = append(members, id)
		}
	}
	updates, err := c.dynamics.Center(snap, members)
	if err != nil {
		return err
	}
	if err := c.store.Apply(dynamics.Moves(updates)); err != nil {
		return err
	}

	gamma := c.config.Dynamics.Gamma
	errs := wrappers.Errs{}
	for _, id := range members {
		_, err := c.store.AdjustEnergy(id, func(e float64) float64 {
			return e + gamma*(1-e)
		})
		errs.Join(err)
	}
	for _, o := range res.Outliers {
		_, err := c.store.AdjustEnergy(o.ID, func(e float64) float64 {
			return e - gamma*e
		})
		if !errors.Is(err, participants.ErrUnknownParticipant) {
			errs.Join(err)
		}
	}
	c.log.Debug("rewarded committed round",
		log.Uint64("roundID", res.RoundID),
		log.Int("centered", len(updates)),
		log.Int("penalized", len(res.Outliers)),
	)
	return errs.Err
}
