// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dynamics moves participants through the ball: idle participants
// drift toward the horizon, committed participants are pulled toward the
// center, and participants that crowd each other repel.
package dynamics

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/luxfi/horizon/geometry"
	"github.com/luxfi/horizon/participants"
)

// horizonTolerance absorbs rounding in the norm of points stopped on the
// horizon.
const horizonTolerance = 1e-12

// Cause records which forces produced a position update.
type Cause uint8

const (
	CauseDrift Cause = 1 << iota
	CauseCentering
	CauseRepulsion
)

func (c Cause) String() string {
	var parts []string
	if c&CauseDrift != 0 {
		parts = append(parts, "drift")
	}
	if c&CauseCentering != 0 {
		parts = append(parts, "centering")
	}
	if c&CauseRepulsion != 0 {
		parts = append(parts, "repulsion")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// PositionUpdate is a participant move computed by the dynamics. Saturated
// is set when the move stopped at the horizon.
type PositionUpdate struct {
	ID        ids.NodeID
	From      geometry.Point
	To        geometry.Point
	Cause     Cause
	Saturated bool
}

// Moves converts updates into store moves.
func Moves(updates []PositionUpdate) []participants.Move {
	moves := make([]participants.Move, len(updates))
	for i, u := range updates {
		moves[i] = participants.Move{ID: u.ID, To: u.To}
	}
	return moves
}

// Dynamics computes position updates. It never writes to the participant
// store; callers apply the returned updates.
type Dynamics struct {
	config  Config
	log     log.Logger
	metrics Metrics
}

func New(config Config, logger log.Logger, metrics Metrics) (*Dynamics, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Dynamics{
		config:  config,
		log:     logger,
		metrics: metrics,
	}, nil
}

func (d *Dynamics) Config() Config {
	return d.config
}

// Tick drifts every active participant in [snap] for the idle time up to
// [now], then relaxes repulsion over the drifted positions. The returned
// updates are sorted by id and only name participants that moved. If any
// step fails, no updates are returned.
func (d *Dynamics) Tick(snap participants.Snapshot, now time.Time) ([]PositionUpdate, error) {
	active := activeOf(snap)

	var (
		n         = len(active)
		drifted   = make([]geometry.Point, n)
		steps     = make([]float64, n)
		saturated = make([]bool, n)
		g         errgroup.Group
	)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range active {
		g.Go(func() error {
			p, step, sat, err := d.drift(active[i], now)
			if err != nil {
				return fmt.Errorf("drifting %s: %w", active[i].ID, err)
			}
			drifted[i], steps[i], saturated[i] = p, step, sat
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	updates, passes, err := d.relax(active, drifted, CauseDrift, saturated)
	if err != nil {
		return nil, err
	}

	for _, step := range steps {
		if step > 0 {
			d.metrics.ObserveDrift(step)
		}
	}
	d.metrics.ObserveRepulsionPasses(passes)
	d.metrics.MarkTick(n)
	d.metrics.MarkUpdates(updates)
	d.log.Debug("computed dynamics tick",
		log.Int("participants", n),
		log.Int("updates", len(updates)),
		log.Int("repulsionPasses", passes),
	)
	return updates, nil
}

// Center pulls each participant in [members] toward the origin,
// p' = (1-γ)p, then relaxes repulsion over every active participant so the
// pull never leaves two of them closer than MinDistance. Updates are
// sorted by id.
func (d *Dynamics) Center(snap participants.Snapshot, members []ids.NodeID) ([]PositionUpdate, error) {
	active := activeOf(snap)
	index := make(map[ids.NodeID]int, len(active))
	positions := make([]geometry.Point, len(active))
	for i, p := range active {
		index[p.ID] = i
		positions[i] = p.Position
	}

	members = slices.Clone(members)
	slices.SortFunc(members, participants.Compare)
	members = slices.Compact(members)
	for _, id := range members {
		i, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("centering %s: %w", id, participants.ErrUnknownParticipant)
		}
		if positions[i].IsOrigin() {
			continue
		}
		to := positions[i].Clone()
		floats.Scale(1-d.config.Gamma, to)
		positions[i] = to
	}

	updates, passes, err := d.relax(active, positions, CauseCentering, nil)
	if err != nil {
		return nil, err
	}
	d.metrics.ObserveRepulsionPasses(passes)
	d.metrics.MarkUpdates(updates)
	return updates, nil
}

// Relax runs repulsion alone over the active participants of [snap].
func (d *Dynamics) Relax(snap participants.Snapshot) ([]PositionUpdate, error) {
	active := activeOf(snap)
	positions := make([]geometry.Point, len(active))
	for i, p := range active {
		positions[i] = p.Position
	}
	updates, passes, err := d.relax(active, positions, 0, nil)
	if err != nil {
		return nil, err
	}
	d.metrics.ObserveRepulsionPasses(passes)
	d.metrics.MarkUpdates(updates)
	return updates, nil
}

// relax repels from [start] and returns an update for every participant in
// [active] that ended away from its stored position. [cause] is credited
// to participants whose start already differed. [saturated] may be nil.
func (d *Dynamics) relax(
	active []participants.Participant,
	start []geometry.Point,
	cause Cause,
	saturated []bool,
) ([]PositionUpdate, int, error) {
	nodeIDs := make([]ids.NodeID, len(active))
	for i, p := range active {
		nodeIDs[i] = p.ID
	}
	final, repelled, repelSaturated, passes, err := d.repel(nodeIDs, start)
	if err != nil {
		return nil, 0, err
	}

	var updates []PositionUpdate
	for i, p := range active {
		if final[i].Equal(p.Position) {
			continue
		}
		var c Cause
		if !start[i].Equal(p.Position) {
			c |= cause
		}
		if repelled[i] {
			c |= CauseRepulsion
		}
		updates = append(updates, PositionUpdate{
			ID:        p.ID,
			From:      p.Position,
			To:        final[i],
			Cause:     c,
			Saturated: (saturated != nil && saturated[i]) || repelSaturated[i],
		})
	}
	return updates, passes, nil
}

func activeOf(snap participants.Snapshot) []participants.Participant {
	var active []participants.Participant
	for _, p := range snap.All() {
		if p.Active() {
			active = append(active, p)
		}
	}
	return active
}

// DriftStep returns the hyperbolic length an idle participant drifts:
// λ(idle) = α(1 - e^(-μ·idle)).
func (d *Dynamics) DriftStep(idle time.Duration) float64 {
	if idle <= 0 {
		return 0
	}
	return d.config.Alpha * -math.Expm1(-d.config.Mu*idle.Seconds())
}

func (d *Dynamics) drift(p participants.Participant, now time.Time) (geometry.Point, float64, bool, error) {
	step := d.DriftStep(now.Sub(p.LastActive))
	r := p.Position.Norm()
	if step == 0 || r >= d.config.MaxRadius-horizonTolerance {
		return p.Position, 0, false, nil
	}

	dir := make([]float64, len(p.Position))
	if r == 0 {
		dir[axis(p.ID, len(dir))] = 1
	} else {
		floats.ScaleTo(dir, 1/r, p.Position)
	}

	// Radial geodesics through the origin have closed-form radii.
	if target := math.Tanh(math.Atanh(r) + step/2); target > d.config.MaxRadius {
		floats.Scale(d.config.MaxRadius, dir)
		return dir, step, true, nil
	}

	floats.Scale(step/geometry.ConformalFactor(p.Position), dir)
	out, err := geometry.ExpMap(p.Position, dir)
	if err != nil {
		return nil, 0, false, err
	}
	out, sat := d.bound(out)
	return out, step, sat, nil
}

// repel runs up to RepulsionIterations passes. Each pass computes every
// force from the positions at the start of the pass, iterating pairs in
// [nodeIDs] order, then moves everyone at once.
func (d *Dynamics) repel(nodeIDs []ids.NodeID, start []geometry.Point) ([]geometry.Point, []bool, []bool, int, error) {
	var (
		n         = len(start)
		pos       = slices.Clone(start)
		moved     = make([]bool, n)
		saturated = make([]bool, n)
		passes    int
	)
	for range d.config.RepulsionIterations {
		forces := make([][]float64, n)
		crowded := false
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				dist, err := geometry.Distance(pos[i], pos[j])
				if err != nil {
					return nil, nil, nil, 0, err
				}
				if dist >= d.config.MinDistance {
					continue
				}
				crowded = true

				ui, uj, err := separation(nodeIDs[i], pos[i], pos[j])
				if err != nil {
					return nil, nil, nil, 0, err
				}
				sep := max(dist, d.config.MinSeparation)
				mag := d.config.K / (sep * sep)
				forces[i] = accumulate(forces[i], mag, ui)
				forces[j] = accumulate(forces[j], mag, uj)
			}
		}
		if !crowded {
			break
		}
		passes++

		next := slices.Clone(pos)
		for i, f := range forces {
			if f == nil {
				continue
			}
			fn := floats.Norm(f, 2)
			if fn == 0 {
				continue
			}
			disp := min(fn*d.config.Timestep, d.config.MaxStep)
			tangent := make([]float64, len(f))
			floats.ScaleTo(tangent, disp/(fn*geometry.ConformalFactor(pos[i])), f)
			q, err := geometry.ExpMap(pos[i], tangent)
			if err != nil {
				return nil, nil, nil, 0, fmt.Errorf("repelling %s: %w", nodeIDs[i], err)
			}
			q, sat := d.bound(q)
			next[i] = q
			moved[i] = true
			saturated[i] = saturated[i] || sat
		}
		pos = next
	}
	return pos, moved, saturated, passes, nil
}

// bound stops [p] on the horizon.
func (d *Dynamics) bound(p geometry.Point) (geometry.Point, bool) {
	if p.Norm() <= d.config.MaxRadius {
		return p, false
	}
	return geometry.Clamp(p, d.config.MaxRadius), true
}

// separation returns unit tangent directions pushing a away from b (at a)
// and b away from a (at b). Coincident points split along an axis derived
// from the id of a.
func separation(aID ids.NodeID, a, b geometry.Point) ([]float64, []float64, error) {
	toB, err := geometry.LogMap(a, b)
	if err != nil {
		return nil, nil, err
	}
	toA, err := geometry.LogMap(b, a)
	if err != nil {
		return nil, nil, err
	}
	na, nb := floats.Norm(toB, 2), floats.Norm(toA, 2)
	if na == 0 || nb == 0 {
		ua := make([]float64, len(a))
		ub := make([]float64, len(a))
		k := axis(aID, len(a))
		ua[k], ub[k] = -1, 1
		return ua, ub, nil
	}
	floats.Scale(-1/na, toB)
	floats.Scale(-1/nb, toA)
	return toB, toA, nil
}

func accumulate(sum []float64, scale float64, dir []float64) []float64 {
	if sum == nil {
		sum = make([]float64, len(dir))
	}
	floats.AddScaled(sum, scale, dir)
	return sum
}

// axis derives a stable coordinate index from a participant id.
func axis(id ids.NodeID, dim int) int {
	return int(binary.BigEndian.Uint64(id[:8]) % uint64(dim))
}
