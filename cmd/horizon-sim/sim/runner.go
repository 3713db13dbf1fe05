// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sim

import (
	"fmt"
	"io"
	"strings"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/horizon"
	"github.com/luxfi/horizon/audit"
	"github.com/luxfi/horizon/consensus"
	"github.com/luxfi/horizon/gate"
	"github.com/luxfi/horizon/geometry"
	"github.com/luxfi/horizon/utils/timer/mockable"
	"github.com/luxfi/horizon/utils/wrappers"
)

// Runner replays a scenario against a Core and prints what happens.
type Runner struct {
	scenario *Scenario
	core     *horizon.Core
	out      io.Writer

	names      map[ids.NodeID]string
	rounds     map[string]uint64
	roundNames map[uint64]string
}

func NewRunner(
	scenario *Scenario,
	logger log.Logger,
	registry metric.Registry,
	sink audit.Sink,
	out io.Writer,
) (*Runner, error) {
	start := scenario.Start
	if start.IsZero() {
		start = mockable.Epoch
	}
	core, err := horizon.New(scenario.Config, logger, registry, sink, mockable.NewClock(start))
	if err != nil {
		return nil, err
	}
	return &Runner{
		scenario:   scenario,
		core:       core,
		out:        out,
		names:      make(map[ids.NodeID]string),
		rounds:     make(map[string]uint64),
		roundNames: make(map[uint64]string),
	}, nil
}

// Core exposes the replayed core for inspection.
func (r *Runner) Core() *horizon.Core {
	return r.core
}

// Run registers the scenario's participants and executes every step. A
// failing step is reported and the run continues; the failures are returned
// together once every step ran.
func (r *Runner) Run() error {
	errs := wrappers.Errs{}
	for i := range r.scenario.Participants {
		if err := r.register(&r.scenario.Participants[i]); err != nil {
			errs.Join(fmt.Errorf("participant %q: %w", r.scenario.Participants[i].Name, err))
		}
	}
	for i := range r.scenario.Steps {
		if err := r.step(&r.scenario.Steps[i]); err != nil {
			fmt.Fprintf(r.out, "step %d failed: %v\n", i, err)
			errs.Join(fmt.Errorf("step %d: %w", i, err))
		}
	}
	return errs.Err
}

func (r *Runner) step(s *Step) error {
	switch {
	case s.Advance != 0:
		return r.advance(s)
	case s.Register != nil:
		return r.register(s.Register)
	case s.Remove != "":
		return r.remove(s.Remove)
	case s.Scope != nil:
		return r.scope(s.Scope)
	case s.Report != nil:
		return r.report(s.Report)
	case s.Open != nil:
		return r.open(s.Open)
	case s.Vote != nil:
		return r.vote(s.Vote)
	case s.Finalize != "":
		return r.finalize(s.Finalize)
	case s.Cancel != "":
		return r.cancel(s.Cancel)
	default:
		results, err := r.core.FinalizeExpired()
		for _, res := range results {
			r.printResult(res)
		}
		return err
	}
}

func (r *Runner) register(reg *Registration) error {
	id, err := NodeID(reg.Name)
	if err != nil {
		return err
	}
	role, err := ParseRole(reg.Role)
	if err != nil {
		return err
	}
	var opts []horizon.ParticipantOption
	if reg.Position != nil {
		opts = append(opts, horizon.WithPosition(geometry.Point(reg.Position)))
	}
	if reg.Energy != nil {
		opts = append(opts, horizon.WithEnergy(*reg.Energy))
	}
	if err := r.core.RegisterParticipant(id, role, opts...); err != nil {
		return err
	}
	r.names[id] = reg.Name

	pos, err := r.core.GetParticipantPosition(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s registered %s as %s at %s\n", r.stamp(), reg.Name, role, pos)
	return nil
}

func (r *Runner) remove(name string) error {
	id, err := NodeID(name)
	if err != nil {
		return err
	}
	removed, err := r.core.RemoveParticipant(id)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(r.out, "%s removed %s\n", r.stamp(), name)
	} else {
		fmt.Fprintf(r.out, "%s removal of %s deferred\n", r.stamp(), name)
	}
	return nil
}

func (r *Runner) scope(s *ScopeStep) error {
	id, err := NodeID(s.Coordinator)
	if err != nil {
		return err
	}
	if s.Params == nil {
		r.core.ClearScope(id)
		fmt.Fprintf(r.out, "%s cleared gate scope of %s\n", r.stamp(), s.Coordinator)
		return nil
	}
	if err := r.core.SetScope(id, *s.Params); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s scoped gate of %s to threshold=%g temperature=%g decay=%g\n",
		r.stamp(), s.Coordinator, s.Params.Threshold, s.Params.Temperature, s.Params.Decay)
	return nil
}

func (r *Runner) report(s *ReportStep) error {
	source, err := NodeID(s.Source)
	if err != nil {
		return err
	}
	digest, err := Digest(s.Digest)
	if err != nil {
		return err
	}
	record, err := r.core.SubmitReport(gate.Report{
		SourceID:      source,
		RoundID:       r.rounds[s.Round],
		PayloadDigest: digest,
		Relevance:     s.Relevance,
		Confidence:    s.Confidence,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s report from %s: distance=%.4f received=%.4f mode=%s p=%.4f draw=%.4f admitted=%t\n",
		r.stamp(), s.Source, record.Distance, record.Received, record.Mode, record.Probability, record.Draw, record.Admitted)
	return nil
}

func (r *Runner) open(s *OpenStep) error {
	coordinator, err := NodeID(s.Coordinator)
	if err != nil {
		return err
	}
	digest, err := Digest(s.Digest)
	if err != nil {
		return err
	}
	spec := consensus.ProposalSpec{
		PayloadDigest: digest,
		Anchor:        geometry.Point(s.Anchor),
		Coordinator:   coordinator,
		ConflictKey:   s.ConflictKey,
	}
	if spec.Anchor == nil {
		spec.Anchor = geometry.Origin(r.scenario.Config.Dimension)
	}
	if s.Priority != nil {
		spec.Priority = *s.Priority
	}
	if s.Timeout > 0 {
		spec.Deadline = r.core.Now().Add(s.Timeout)
	}
	roundID, err := r.core.OpenRound(spec)
	if err != nil {
		return err
	}
	r.rounds[s.Name] = roundID
	r.roundNames[roundID] = s.Name
	fmt.Fprintf(r.out, "%s opened round %s (%d) anchored at %s\n", r.stamp(), s.Name, roundID, spec.Anchor)
	return nil
}

func (r *Runner) vote(s *VoteStep) error {
	voter, err := NodeID(s.Voter)
	if err != nil {
		return err
	}
	decision, err := ParseDecision(s.Decision)
	if err != nil {
		return err
	}
	ack, err := r.core.CastVote(r.rounds[s.Round], voter, decision)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s %s voted %s on %s: %s\n", r.stamp(), s.Voter, decision, s.Round, ack)
	return nil
}

func (r *Runner) finalize(round string) error {
	res, err := r.core.FinalizeRound(r.rounds[round])
	if err != nil {
		return err
	}
	r.printResult(res)
	return nil
}

func (r *Runner) cancel(round string) error {
	if err := r.core.CancelRound(r.rounds[round]); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s cancelled round %s\n", r.stamp(), round)
	return nil
}

func (r *Runner) advance(s *Step) error {
	adv, err := r.core.AdvanceTime(s.Advance)
	fmt.Fprintf(r.out, "%s advanced %s: %d moved, %d finalized\n", r.stamp(), s.Advance, len(adv.Updates), len(adv.Finalized))
	for _, u := range adv.Updates {
		suffix := ""
		if u.Saturated {
			suffix = " (at horizon)"
		}
		fmt.Fprintf(r.out, "  %s %s: %s -> %s%s\n", r.name(u.ID), u.Cause, u.From, u.To, suffix)
	}
	for _, res := range adv.Finalized {
		r.printResult(res)
	}
	return err
}

func (r *Runner) printResult(res consensus.QuorumResult) {
	committing := make([]string, len(res.CommittingSet))
	for i, id := range res.CommittingSet {
		committing[i] = r.name(id)
	}
	outliers := make([]string, len(res.Outliers))
	for i, o := range res.Outliers {
		outliers[i] = fmt.Sprintf("%s(d=%.3f w=%.3f)", r.name(o.ID), o.Distance, o.Weight)
	}
	fmt.Fprintf(r.out, "%s round %s %s (%s): accept=%.4f reject=%.4f committing=[%s] outliers=[%s]\n",
		r.stamp(),
		r.roundName(res.RoundID),
		res.Outcome,
		res.Reason,
		res.AcceptCoverage,
		res.RejectCoverage,
		strings.Join(committing, " "),
		strings.Join(outliers, " "),
	)
}

// PrintAudit writes [entries] with participant and round names resolved.
func (r *Runner) PrintAudit(entries []audit.Entry) {
	for _, e := range entries {
		who := ""
		if e.Participant != ids.EmptyNodeID {
			who = r.name(e.Participant)
		}
		fmt.Fprintf(r.out, "#%d %s %s round=%s participant=%s value=%.4f %s\n",
			e.Seq, e.Time.Format("15:04:05.000"), e.Kind, r.roundName(e.RoundID), who, e.Value, e.Detail)
	}
}

func (r *Runner) stamp() string {
	return fmt.Sprintf("[%s]", r.core.Now().Format("15:04:05"))
}

func (r *Runner) name(id ids.NodeID) string {
	if name, ok := r.names[id]; ok {
		return name
	}
	return id.String()
}

func (r *Runner) roundName(roundID uint64) string {
	if name, ok := r.roundNames[roundID]; ok {
		return name
	}
	return fmt.Sprint(roundID)
}
