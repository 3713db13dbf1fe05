// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package horizon

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luxfi/horizon/audit"
	"github.com/luxfi/horizon/consensus"
	"github.com/luxfi/horizon/dynamics"
	"github.com/luxfi/horizon/gate"
	"github.com/luxfi/horizon/geometry"
	"github.com/luxfi/horizon/participants"
	"github.com/luxfi/horizon/utils/timer/mockable"
)

var errUnavailable = errors.New("source unavailable")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newCore(t *testing.T, config Config, sink audit.Sink) *Core {
	t.Helper()
	c, err := New(config, log.NoLog{}, metric.NewRegistry(), sink, nil)
	require.NoError(t, err)
	return c
}

func nodeID(i int) ids.NodeID {
	return ids.NodeID{byte(i >> 8), byte(i), 0x5a}
}

type fixedSource struct {
	id       ids.NodeID
	decision consensus.Decision
	err      error
}

func (s fixedSource) ParticipantID() ids.NodeID {
	return s.id
}

func (s fixedSource) Decide(context.Context, consensus.Proposal) (consensus.Decision, error) {
	return s.decision, s.err
}

func TestConfigValidate(t *testing.T) {
	require := require.New(t)

	require.NoError(DefaultConfig().Validate())

	c := DefaultConfig()
	c.Dimension = 0
	require.ErrorIs(c.Validate(), ErrInvalidDimension)

	c = DefaultConfig()
	c.DefaultEnergy = 2
	require.ErrorIs(c.Validate(), ErrInvalidEnergy)

	c = DefaultConfig()
	c.Dynamics.Gamma = 0
	require.ErrorIs(c.Validate(), dynamics.ErrInvalidGamma)

	c = DefaultConfig()
	c.Gate.Default.Threshold = -1
	require.ErrorIs(c.Validate(), gate.ErrInvalidThreshold)

	c = DefaultConfig()
	c.Consensus.GridRings = 0
	require.ErrorIs(c.Validate(), consensus.ErrInvalidGrid)
}

func TestFactory(t *testing.T) {
	require := require.New(t)

	f := &Factory{Config: DefaultConfig()}
	c, err := f.New(log.NoLog{})
	require.NoError(err)
	require.Equal(mockable.Epoch, c.Now())

	start := time.Unix(1_700_000_000, 0)
	f.Start = start
	c, err = f.New(log.NoLog{})
	require.NoError(err)
	require.Equal(start, c.Now())
}

func TestRegisterParticipant(t *testing.T) {
	require := require.New(t)

	c := newCore(t, DefaultConfig(), nil)
	a, b := nodeID(1), nodeID(2)
	require.NoError(c.RegisterParticipant(a, participants.Voter))
	require.NoError(c.RegisterParticipant(b, participants.Proposer, WithPosition(geometry.Point{0.1, 0.2, 0.3}), WithEnergy(0.9)))
	require.ErrorIs(c.RegisterParticipant(a, participants.Voter), participants.ErrDuplicateParticipant)

	pos, err := c.GetParticipantPosition(a)
	require.NoError(err)
	require.True(pos.IsOrigin())

	p, err := c.GetParticipant(b)
	require.NoError(err)
	require.Equal(geometry.Point{0.1, 0.2, 0.3}, p.Position)
	require.Equal(0.9, p.Energy)
	require.Equal(participants.Proposer, p.Role)

	require.Equal(2, c.Snapshot().Len())

	_, err = c.GetParticipantPosition(nodeID(3))
	require.ErrorIs(err, participants.ErrUnknownParticipant)
}

func TestCommitCentersAndRewards(t *testing.T) {
	require := require.New(t)

	mem := audit.NewMemory()
	c := newCore(t, DefaultConfig(), mem)

	// Ten participants on a circle around the origin, spaced well beyond
	// the repulsion range before and after centering.
	positions := make([]geometry.Point, 10)
	for i := range positions {
		theta := 2 * math.Pi * float64(i) / float64(len(positions))
		positions[i] = geometry.Point{0.2 * math.Cos(theta), 0.2 * math.Sin(theta), 0}
	}
	coordinator := nodeID(0)
	require.NoError(c.RegisterParticipant(coordinator, participants.Proposer, WithPosition(positions[0])))
	voters := []ids.NodeID{coordinator}
	for i := 1; i < 10; i++ {
		require.NoError(c.RegisterParticipant(nodeID(i), participants.Voter, WithPosition(positions[i])))
		voters = append(voters, nodeID(i))
	}

	roundID, err := c.OpenRound(consensus.ProposalSpec{
		PayloadDigest: ids.ID{1},
		Anchor:        geometry.Origin(3),
		Coordinator:   coordinator,
	})
	require.NoError(err)
	for _, id := range voters {
		ack, err := c.CastVote(roundID, id, consensus.Accept)
		require.NoError(err)
		require.Equal(consensus.AckRecorded, ack)
	}

	res, err := c.FinalizeRound(roundID)
	require.NoError(err)
	require.Equal(consensus.Committed, res.Outcome)
	require.Len(res.CommittingSet, 10)

	gamma := DefaultConfig().Dynamics.Gamma
	for i, id := range voters {
		p, err := c.GetParticipant(id)
		require.NoError(err)
		for k := range p.Position {
			require.Equal((1-gamma)*positions[i][k], p.Position[k])
		}
		require.InDelta(0.5+gamma*0.5, p.Energy, 1e-12)
	}

	status, err := c.GetRoundStatus(roundID)
	require.NoError(err)
	require.Equal(consensus.Committed, status)

	stored, err := c.GetResult(roundID)
	require.NoError(err)
	require.Equal(res, stored)
	require.Equal(res.Audit, mem.Round(roundID))

	require.NoError(c.EvictResult(roundID))
	_, err = c.GetResult(roundID)
	require.ErrorIs(err, consensus.ErrUnknownRound)
}

func TestCenteringKeepsMinDistance(t *testing.T) {
	require := require.New(t)

	config := DefaultConfig()
	c := newCore(t, config, nil)
	proposer, voter := nodeID(0), nodeID(1)
	require.NoError(c.RegisterParticipant(proposer, participants.Proposer, WithPosition(geometry.Point{0.6, 0, 0})))
	require.NoError(c.RegisterParticipant(voter, participants.Voter, WithPosition(geometry.Point{0.632, 0, 0})))

	before, err := geometry.Distance(geometry.Point{0.6, 0, 0}, geometry.Point{0.632, 0, 0})
	require.NoError(err)
	require.GreaterOrEqual(before, config.Dynamics.MinDistance)

	roundID, err := c.OpenRound(consensus.ProposalSpec{
		PayloadDigest: ids.ID{2},
		Anchor:        geometry.Point{0.6, 0, 0},
		Coordinator:   proposer,
	})
	require.NoError(err)
	for _, id := range []ids.NodeID{proposer, voter} {
		_, err := c.CastVote(roundID, id, consensus.Accept)
		require.NoError(err)
	}

	res, err := c.FinalizeRound(roundID)
	require.NoError(err)
	require.Equal(consensus.Committed, res.Outcome)
	require.Len(res.CommittingSet, 2)

	a, err := c.GetParticipantPosition(proposer)
	require.NoError(err)
	b, err := c.GetParticipantPosition(voter)
	require.NoError(err)
	require.Less(a.Norm(), 0.6)

	after, err := geometry.Distance(a, b)
	require.NoError(err)
	require.GreaterOrEqual(after, config.Dynamics.MinDistance)
}

func TestOutliersLoseEnergy(t *testing.T) {
	require := require.New(t)

	c := newCore(t, DefaultConfig(), nil)
	coordinator := nodeID(0)
	require.NoError(c.RegisterParticipant(coordinator, participants.Proposer))
	honest := []ids.NodeID{coordinator}
	for i := 1; i < 7; i++ {
		require.NoError(c.RegisterParticipant(nodeID(i), participants.Voter))
		honest = append(honest, nodeID(i))
	}
	var colluders []ids.NodeID
	for i := 7; i < 10; i++ {
		require.NoError(c.RegisterParticipant(nodeID(i), participants.Voter, WithPosition(geometry.Point{0, math.Tanh(0.75), 0})))
		colluders = append(colluders, nodeID(i))
	}

	roundID, err := c.OpenRound(consensus.ProposalSpec{Anchor: geometry.Origin(3), Coordinator: coordinator})
	require.NoError(err)
	for _, id := range honest {
		_, err := c.CastVote(roundID, id, consensus.Accept)
		require.NoError(err)
	}
	for _, id := range colluders {
		_, err := c.CastVote(roundID, id, consensus.Reject)
		require.NoError(err)
	}

	res, err := c.FinalizeRound(roundID)
	require.NoError(err)
	require.Equal(consensus.Committed, res.Outcome)
	require.Len(res.Outliers, 3)

	gamma := DefaultConfig().Dynamics.Gamma
	for _, id := range colluders {
		p, err := c.GetParticipant(id)
		require.NoError(err)
		require.InDelta(0.5-gamma*0.5, p.Energy, 1e-12)
	}
}

func TestSubmitReportTargets(t *testing.T) {
	require := require.New(t)

	c := newCore(t, DefaultConfig(), nil)
	coordinator, source := nodeID(1), nodeID(2)
	require.NoError(c.RegisterParticipant(coordinator, participants.Proposer))
	require.NoError(c.RegisterParticipant(source, participants.Observer))

	anchor := geometry.Point{math.Tanh(1), 0, 0}
	roundID, err := c.OpenRound(consensus.ProposalSpec{Anchor: anchor, Coordinator: coordinator})
	require.NoError(err)

	report := gate.Report{
		SourceID:      source,
		RoundID:       roundID,
		PayloadDigest: ids.ID{7},
		Relevance:     0.9,
		Confidence:    0.9,
	}
	record, err := c.SubmitReport(report)
	require.NoError(err)
	require.InDelta(2.0, record.Distance, 1e-9)
	require.InDelta(0.1096, record.Received, 1e-4)
	require.Equal(gate.Thermal, record.Mode)

	// A per-coordinator scope applies to reports for its rounds.
	require.NoError(c.SetScope(coordinator, gate.Params{Threshold: 0.05, Decay: 1}))
	record, err = c.SubmitReport(report)
	require.NoError(err)
	require.Equal(gate.AboveThreshold, record.Mode)
	c.ClearScope(coordinator)

	// Once the round closes, reports travel to the coordinator itself.
	require.NoError(c.CancelRound(roundID))
	record, err = c.SubmitReport(report)
	require.NoError(err)
	require.Zero(record.Distance)
	require.True(record.Admitted)

	report.RoundID = 0
	record, err = c.SubmitReport(report)
	require.NoError(err)
	require.Zero(record.Distance)

	_, err = c.SubmitReport(gate.Report{SourceID: nodeID(9)})
	require.ErrorIs(err, participants.ErrUnknownParticipant)
}

func TestAdvanceTime(t *testing.T) {
	require := require.New(t)

	c := newCore(t, DefaultConfig(), nil)
	coordinator, idle := nodeID(1), nodeID(2)
	require.NoError(c.RegisterParticipant(coordinator, participants.Proposer, WithPosition(geometry.Point{-0.3, 0, 0})))
	require.NoError(c.RegisterParticipant(idle, participants.Voter, WithPosition(geometry.Point{0.3, 0, 0})))

	roundID, err := c.OpenRound(consensus.ProposalSpec{Anchor: geometry.Origin(3), Coordinator: coordinator})
	require.NoError(err)

	adv, err := c.AdvanceTime(time.Minute)
	require.NoError(err)
	require.Equal(mockable.Epoch.Add(time.Minute), adv.Now)
	require.Len(adv.Updates, 2)
	for _, u := range adv.Updates {
		require.Equal(dynamics.CauseDrift, u.Cause)
		require.Greater(u.To.Norm(), u.From.Norm())
	}

	require.Len(adv.Finalized, 1)
	require.Equal(roundID, adv.Finalized[0].RoundID)
	require.Equal(consensus.Inconclusive, adv.Finalized[0].Outcome)

	pos, err := c.GetParticipantPosition(idle)
	require.NoError(err)
	for _, u := range adv.Updates {
		if u.ID == idle {
			require.Equal(u.To, pos)
		}
	}

	results, err := c.FinalizeExpired()
	require.NoError(err)
	require.Empty(results)
}

func TestDeferredRemoval(t *testing.T) {
	require := require.New(t)

	c := newCore(t, DefaultConfig(), nil)
	coordinator, voter := nodeID(1), nodeID(2)
	require.NoError(c.RegisterParticipant(coordinator, participants.Proposer))
	require.NoError(c.RegisterParticipant(voter, participants.Voter))

	roundID, err := c.OpenRound(consensus.ProposalSpec{Anchor: geometry.Origin(3), Coordinator: coordinator})
	require.NoError(err)
	_, err = c.CastVote(roundID, voter, consensus.Accept)
	require.NoError(err)

	removed, err := c.RemoveParticipant(voter)
	require.NoError(err)
	require.False(removed)

	_, err = c.FinalizeRound(roundID)
	require.NoError(err)

	_, err = c.GetParticipant(voter)
	require.ErrorIs(err, participants.ErrUnknownParticipant)
}

func TestFreshnessLedgerTracksRegistrations(t *testing.T) {
	require := require.New(t)

	config := DefaultConfig()
	config.Gate.FreshnessCapacity = 2
	c := newCore(t, config, nil)
	for i := 0; i < 5; i++ {
		require.NoError(c.RegisterParticipant(nodeID(i), participants.Voter))
	}
	for i := 0; i < 5; i++ {
		record, err := c.SubmitReport(gate.Report{
			SourceID:   nodeID(i),
			Relevance:  1,
			Confidence: 1,
		})
		require.NoError(err)
		require.True(record.Admitted)
	}
	for i := 0; i < 5; i++ {
		require.True(c.gate.IsFresh(nodeID(i), c.Now(), time.Minute))
	}
}

func TestRemoveDuringTicks(t *testing.T) {
	require := require.New(t)

	c := newCore(t, DefaultConfig(), nil)
	const n = 64
	for i := 0; i < n; i++ {
		pos := geometry.Point{0.3 * math.Cos(float64(i)), 0.3 * math.Sin(float64(i)), 0}
		require.NoError(c.RegisterParticipant(nodeID(i), participants.Voter, WithPosition(pos)))
	}

	var (
		wg         sync.WaitGroup
		tickErr    error
		removeErrs []error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range n {
			if _, err := c.AdvanceTime(time.Second); err != nil {
				tickErr = err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if _, err := c.RemoveParticipant(nodeID(i)); err != nil {
				removeErrs = append(removeErrs, err)
			}
		}
	}()
	wg.Wait()

	require.NoError(tickErr)
	require.Empty(removeErrs)
	require.Zero(c.Snapshot().Len())
}

func TestSolicitVotes(t *testing.T) {
	require := require.New(t)

	c := newCore(t, DefaultConfig(), nil)
	coordinator := nodeID(1)
	require.NoError(c.RegisterParticipant(coordinator, participants.Proposer))
	for i := 2; i <= 4; i++ {
		require.NoError(c.RegisterParticipant(nodeID(i), participants.Voter))
	}
	roundID, err := c.OpenRound(consensus.ProposalSpec{Anchor: geometry.Origin(3), Coordinator: coordinator})
	require.NoError(err)

	sources := []consensus.DecisionSource{
		fixedSource{id: nodeID(4), decision: consensus.Reject},
		fixedSource{id: nodeID(2), decision: consensus.Accept},
		fixedSource{id: nodeID(3), err: errUnavailable},
		fixedSource{id: nodeID(99), decision: consensus.Accept},
	}
	out, err := c.SolicitVotes(context.Background(), roundID, sources)
	require.ErrorIs(err, errUnavailable)
	require.ErrorIs(err, participants.ErrUnknownParticipant)
	require.Len(out, 4)

	require.Equal(nodeID(2), out[0].ParticipantID)
	require.Equal(consensus.AckRecorded, out[0].Ack)
	require.Equal(nodeID(3), out[1].ParticipantID)
	require.ErrorIs(out[1].Err, errUnavailable)
	require.Equal(nodeID(4), out[2].ParticipantID)
	require.Equal(consensus.AckRecorded, out[2].Ack)
	require.ErrorIs(out[3].Err, participants.ErrUnknownParticipant)

	require.NoError(c.CancelRound(roundID))
	_, err = c.SolicitVotes(context.Background(), roundID, sources)
	require.ErrorIs(err, consensus.ErrRoundClosed)
}

// scenario drives a core through registrations, reports, rounds and ticks
// and returns everything observable about the run.
func scenario(t *testing.T) ([]participants.Participant, []consensus.QuorumResult, []gate.AdmissionRecord) {
	require := require.New(t)

	c := newCore(t, DefaultConfig(), nil)
	coordinator := nodeID(0)
	require.NoError(c.RegisterParticipant(coordinator, participants.Proposer))
	for i := 1; i < 16; i++ {
		angle := float64(i) * 0.7
		pos := geometry.Point{0.2 * math.Cos(angle), 0.2 * math.Sin(angle), 0.01 * float64(i%4)}
		require.NoError(c.RegisterParticipant(nodeID(i), participants.Voter, WithPosition(pos)))
	}

	var (
		results []consensus.QuorumResult
		records []gate.AdmissionRecord
	)
	for step := 0; step < 4; step++ {
		roundID, err := c.OpenRound(consensus.ProposalSpec{
			PayloadDigest: ids.ID{byte(step)},
			Anchor:        geometry.Point{0.05 * float64(step), 0, 0},
			Coordinator:   coordinator,
			Deadline:      c.Now().Add(10 * time.Second),
		})
		require.NoError(err)

		for i := 1; i < 16; i++ {
			record, err := c.SubmitReport(gate.Report{
				SourceID:      nodeID(i),
				RoundID:       roundID,
				PayloadDigest: ids.ID{byte(step), byte(i)},
				Relevance:     0.5 + 0.03*float64(i),
				Confidence:    0.6,
			})
			require.NoError(err)
			records = append(records, record)

			decision := consensus.Accept
			if (i+step)%5 == 0 {
				decision = consensus.Reject
			}
			_, err = c.CastVote(roundID, nodeID(i), decision)
			require.NoError(err)
		}

		adv, err := c.AdvanceTime(15 * time.Second)
		require.NoError(err)
		results = append(results, adv.Finalized...)
	}
	return c.Snapshot().All(), results, records
}

func TestDeterministicReplay(t *testing.T) {
	require := require.New(t)

	p1, r1, a1 := scenario(t)
	p2, r2, a2 := scenario(t)

	require.Len(p2, len(p1))
	for i := range p1 {
		require.Equal(p1[i].ID, p2[i].ID)
		require.Equal(math.Float64bits(p1[i].Energy), math.Float64bits(p2[i].Energy))
		for k := range p1[i].Position {
			require.Equal(math.Float64bits(p1[i].Position[k]), math.Float64bits(p2[i].Position[k]))
		}
	}
	require.Equal(r1, r2)
	require.Equal(a1, a2)
	require.Len(r1, 4)
}
