// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dynamics

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luxfi/horizon/geometry"
	"github.com/luxfi/horizon/participants"
)

var start = time.Unix(1_700_000_000, 0)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newDynamics(t *testing.T, config Config) *Dynamics {
	t.Helper()
	metrics, err := NewMetrics("dynamics", metric.NewRegistry())
	require.NoError(t, err)
	d, err := New(config, log.NoLog{}, metrics)
	require.NoError(t, err)
	return d
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		err    error
	}{
		{"defaults", func(*Config) {}, nil},
		{"negative alpha", func(c *Config) { c.Alpha = -1 }, ErrInvalidAlpha},
		{"negative mu", func(c *Config) { c.Mu = -0.1 }, ErrInvalidMu},
		{"gamma one", func(c *Config) { c.Gamma = 1 }, ErrInvalidGamma},
		{"zero k", func(c *Config) { c.K = 0 }, ErrInvalidRepulsion},
		{"zero iterations", func(c *Config) { c.RepulsionIterations = 0 }, ErrInvalidIterations},
		{"horizon outside ball", func(c *Config) { c.MaxRadius = geometry.MaxNorm }, ErrInvalidMaxRadius},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := DefaultConfig()
			test.modify(&c)
			require.ErrorIs(t, c.Validate(), test.err)
		})
	}
}

func TestDriftMonotonic(t *testing.T) {
	require := require.New(t)

	d := newDynamics(t, DefaultConfig())
	s := participants.NewStore(3)
	id := ids.GenerateTestNodeID()
	require.NoError(s.Register(id, participants.Voter, geometry.Point{0.1, 0.2, -0.1}, 0.5, start))
	snap := s.Snapshot()

	last := 0.0
	for _, idle := range []time.Duration{time.Second, time.Minute, 5 * time.Minute, 10 * time.Minute} {
		updates, err := d.Tick(snap, start.Add(idle))
		require.NoError(err)
		require.Len(updates, 1)
		require.Equal(CauseDrift, updates[0].Cause)

		from, err := geometry.DistanceFromOrigin(updates[0].From)
		require.NoError(err)
		to, err := geometry.DistanceFromOrigin(updates[0].To)
		require.NoError(err)
		require.Greater(to, from)
		require.Greater(to, last)
		require.InDelta(d.DriftStep(idle), to-from, 1e-9)
		last = to
	}
}

func TestDriftFromOrigin(t *testing.T) {
	require := require.New(t)

	d := newDynamics(t, DefaultConfig())
	s := participants.NewStore(4)
	id := ids.GenerateTestNodeID()
	require.NoError(s.Register(id, participants.Observer, nil, 0.5, start))

	updates, err := d.Tick(s.Snapshot(), start.Add(time.Minute))
	require.NoError(err)
	require.Len(updates, 1)

	to := updates[0].To
	nonZero := 0
	for _, c := range to {
		if c != 0 {
			nonZero++
			require.Positive(c)
		}
	}
	require.Equal(1, nonZero)
	require.InDelta(math.Tanh(d.DriftStep(time.Minute)/2), to.Norm(), 1e-12)
}

func TestDriftSaturatesAtHorizon(t *testing.T) {
	require := require.New(t)

	config := DefaultConfig()
	config.Alpha = 50
	config.Mu = 1
	d := newDynamics(t, config)

	s := participants.NewStore(2)
	id := ids.GenerateTestNodeID()
	require.NoError(s.Register(id, participants.Voter, geometry.Point{0.3, 0.4}, 0.5, start))

	updates, err := d.Tick(s.Snapshot(), start.Add(time.Hour))
	require.NoError(err)
	require.Len(updates, 1)
	require.True(updates[0].Saturated)
	require.InDelta(config.MaxRadius, updates[0].To.Norm(), 1e-12)
	require.NoError(geometry.Validate(updates[0].To))

	// Direction is preserved.
	require.InDelta(0.6, updates[0].To[0]/updates[0].To.Norm(), 1e-9)

	require.NoError(s.Apply(Moves(updates)))
	updates, err = d.Tick(s.Snapshot(), start.Add(2*time.Hour))
	require.NoError(err)
	require.Empty(updates)
}

func TestNoIdleNoMove(t *testing.T) {
	require := require.New(t)

	d := newDynamics(t, DefaultConfig())
	s := participants.NewStore(2)
	require.NoError(s.Register(ids.GenerateTestNodeID(), participants.Voter, geometry.Point{0.5, 0}, 0.5, start))

	updates, err := d.Tick(s.Snapshot(), start)
	require.NoError(err)
	require.Empty(updates)
}

func TestEvictedParticipantsDoNotMove(t *testing.T) {
	require := require.New(t)

	d := newDynamics(t, DefaultConfig())
	s := participants.NewStore(2)
	id := ids.GenerateTestNodeID()
	require.NoError(s.Register(id, participants.Voter, geometry.Point{0.5, 0}, 0.5, start))
	require.NoError(s.Pin(id))
	_, err := s.Remove(id)
	require.NoError(err)

	updates, err := d.Tick(s.Snapshot(), start.Add(time.Hour))
	require.NoError(err)
	require.Empty(updates)
}

func TestRepulsionSeparates(t *testing.T) {
	require := require.New(t)

	d := newDynamics(t, DefaultConfig())
	s := participants.NewStore(2)
	a, b := ids.GenerateTestNodeID(), ids.GenerateTestNodeID()
	require.NoError(s.Register(a, participants.Voter, geometry.Point{0.1, 0}, 0.5, start))
	require.NoError(s.Register(b, participants.Voter, geometry.Point{0.11, 0}, 0.5, start))

	before, err := geometry.Distance(geometry.Point{0.1, 0}, geometry.Point{0.11, 0})
	require.NoError(err)

	updates, err := d.Tick(s.Snapshot(), start)
	require.NoError(err)
	require.Len(updates, 2)
	for _, u := range updates {
		require.Equal(CauseRepulsion, u.Cause)
		require.Zero(u.To[1])
	}
	require.NoError(s.Apply(Moves(updates)))

	pa, err := s.Position(a)
	require.NoError(err)
	pb, err := s.Position(b)
	require.NoError(err)
	after, err := geometry.Distance(pa, pb)
	require.NoError(err)
	require.Greater(after, before)
	require.GreaterOrEqual(after, DefaultConfig().MinDistance)
}

func TestRepulsionCoincident(t *testing.T) {
	require := require.New(t)

	d := newDynamics(t, DefaultConfig())
	s := participants.NewStore(3)
	require.NoError(s.Register(ids.GenerateTestNodeID(), participants.Voter, nil, 0.5, start))
	require.NoError(s.Register(ids.GenerateTestNodeID(), participants.Voter, nil, 0.5, start))

	updates, err := d.Tick(s.Snapshot(), start)
	require.NoError(err)
	require.Len(updates, 2)

	dist, err := geometry.Distance(updates[0].To, updates[1].To)
	require.NoError(err)
	require.Positive(dist)
}

func TestCenter(t *testing.T) {
	require := require.New(t)

	d := newDynamics(t, DefaultConfig())
	s := participants.NewStore(2)
	a, b, c := ids.GenerateTestNodeID(), ids.GenerateTestNodeID(), ids.GenerateTestNodeID()
	require.NoError(s.Register(a, participants.Voter, geometry.Point{0.5, -0.2}, 0.5, start))
	require.NoError(s.Register(b, participants.Voter, nil, 0.5, start))
	require.NoError(s.Register(c, participants.Voter, geometry.Point{0, 0.8}, 0.5, start))

	updates, err := d.Center(s.Snapshot(), []ids.NodeID{c, a, b, a})
	require.NoError(err)
	require.Len(updates, 2)
	for _, u := range updates {
		require.Equal(CauseCentering, u.Cause)
		for i := range u.From {
			require.Equal((1-DefaultConfig().Gamma)*u.From[i], u.To[i])
		}
	}
	require.Negative(participants.Compare(updates[0].ID, updates[1].ID))

	_, err = d.Center(s.Snapshot(), []ids.NodeID{ids.GenerateTestNodeID()})
	require.ErrorIs(err, participants.ErrUnknownParticipant)
}

func TestCenterRelaxes(t *testing.T) {
	require := require.New(t)

	config := DefaultConfig()
	d := newDynamics(t, config)
	s := participants.NewStore(2)
	a, b := ids.GenerateTestNodeID(), ids.GenerateTestNodeID()
	require.NoError(s.Register(a, participants.Proposer, geometry.Point{0.6, 0}, 0.5, start))
	require.NoError(s.Register(b, participants.Voter, geometry.Point{0.632, 0}, 0.5, start))

	updates, err := d.Center(s.Snapshot(), []ids.NodeID{a, b})
	require.NoError(err)
	require.Len(updates, 2)
	for _, u := range updates {
		require.Equal(CauseCentering|CauseRepulsion, u.Cause)
	}
	require.NoError(s.Apply(Moves(updates)))

	pa, err := s.Position(a)
	require.NoError(err)
	pb, err := s.Position(b)
	require.NoError(err)
	dist, err := geometry.Distance(pa, pb)
	require.NoError(err)
	require.GreaterOrEqual(dist, config.MinDistance)
}

func TestRelax(t *testing.T) {
	require := require.New(t)

	d := newDynamics(t, DefaultConfig())
	s := participants.NewStore(2)
	require.NoError(s.Register(ids.GenerateTestNodeID(), participants.Voter, nil, 0.5, start))
	require.NoError(s.Register(ids.GenerateTestNodeID(), participants.Voter, nil, 0.5, start))
	require.NoError(s.Register(ids.GenerateTestNodeID(), participants.Voter, geometry.Point{0, 0.9}, 0.5, start))

	updates, err := d.Relax(s.Snapshot())
	require.NoError(err)
	require.Len(updates, 2)
	for _, u := range updates {
		require.Equal(CauseRepulsion, u.Cause)
		require.True(u.From.IsOrigin())
	}
}

func TestTickDeterministic(t *testing.T) {
	require := require.New(t)

	nodeIDs := make([]ids.NodeID, 40)
	for i := range nodeIDs {
		nodeIDs[i] = ids.GenerateTestNodeID()
	}
	build := func() *participants.Store {
		rng := rand.New(rand.NewPCG(7, 11))
		s := participants.NewStore(3)
		for i, id := range nodeIDs {
			p := geometry.Point{rng.Float64()*0.6 - 0.3, rng.Float64()*0.6 - 0.3, rng.Float64()*0.6 - 0.3}
			idle := time.Duration(rng.IntN(600)) * time.Second
			require.NoError(s.Register(id, participants.Role(i%3), p, 0.5, start.Add(-idle)))
		}
		return s
	}

	run := func() [][]PositionUpdate {
		d := newDynamics(t, DefaultConfig())
		s := build()
		var out [][]PositionUpdate
		for tick := 1; tick <= 5; tick++ {
			updates, err := d.Tick(s.Snapshot(), start.Add(time.Duration(tick)*time.Minute))
			require.NoError(err)
			require.NoError(s.Apply(Moves(updates)))
			out = append(out, updates)
		}
		return out
	}

	first, second := run(), run()
	require.Equal(len(first), len(second))
	for i := range first {
		require.Equal(len(first[i]), len(second[i]))
		for j := range first[i] {
			require.Equal(first[i][j].ID, second[i][j].ID)
			for k := range first[i][j].To {
				require.Equal(math.Float64bits(first[i][j].To[k]), math.Float64bits(second[i][j].To[k]))
			}
		}
	}
}

func TestCauseString(t *testing.T) {
	require.Equal(t, "drift+repulsion", (CauseDrift | CauseRepulsion).String())
	require.Equal(t, "centering", CauseCentering.String())
	require.Equal(t, "none", Cause(0).String())
}
