// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"fmt"
	"math"
	"slices"

	"github.com/luxfi/ids"

	"github.com/luxfi/horizon/geometry"
	"github.com/luxfi/horizon/participants"
	utilmath "github.com/luxfi/horizon/utils/math"
)

// minOutlierVoters is the smallest group in which a majority position is
// meaningful.
const minOutlierVoters = 3

type voter struct {
	id       ids.NodeID
	decision Decision
	position geometry.Point
	weight   float64
}

type tally struct {
	acceptCoverage float64
	rejectCoverage float64
	outliers       []Outlier
	voters         []voter
}

// collectVoters returns the binding accepting and rejecting voters that are
// still active in [snap], sorted by id, with unit weight.
func collectVoters(votes []Vote, snap participants.Snapshot) []voter {
	var out []voter
	for _, v := range votes {
		if !v.Binding || v.Decision == Abstain {
			continue
		}
		p, ok := snap.Get(v.ParticipantID)
		if !ok || !p.Active() || !p.Role.CanVote() {
			continue
		}
		out = append(out, voter{
			id:       v.ParticipantID,
			decision: v.Decision,
			position: p.Position,
			weight:   1,
		})
	}
	slices.SortFunc(out, func(a, b voter) int {
		return participants.Compare(a.id, b.id)
	})
	return out
}

// detectOutliers discounts the weight of voters far from the geometric
// median of all voter positions and returns them.
func detectOutliers(c Config, voters []voter) ([]Outlier, error) {
	if len(voters) < minOutlierVoters {
		return nil, nil
	}
	points := make([]geometry.Point, len(voters))
	for i, v := range voters {
		points[i] = v.position
	}
	median, err := geometry.GeometricMedian(points, c.MedianIterations, c.MedianTolerance)
	if err != nil {
		return nil, fmt.Errorf("computing voter median: %w", err)
	}

	dists := make([]float64, len(voters))
	for i, p := range points {
		dists[i], err = geometry.Distance(median, p)
		if err != nil {
			return nil, err
		}
	}
	deviation := max(utilmath.Median(slices.Sorted(slices.Values(dists))), c.MinDeviation)
	limit := c.OutlierMultiple * deviation

	var outliers []Outlier
	for i, d := range dists {
		if d <= limit {
			continue
		}
		voters[i].weight = math.Exp(-(d - limit))
		outliers = append(outliers, Outlier{
			ID:       voters[i].id,
			Distance: d,
			Weight:   voters[i].weight,
		})
	}
	return outliers, nil
}

// samples returns the anchor followed by, for each axis, each ring, and
// each direction, the point at hyperbolic distance (k/rings)·radius from
// the anchor.
func samples(c Config, anchor geometry.Point) ([]geometry.Point, error) {
	dim := len(anchor)
	out := make([]geometry.Point, 0, c.Samples(dim))
	out = append(out, anchor.Clone())

	scale := 1 / geometry.ConformalFactor(anchor)
	for axis := 0; axis < dim; axis++ {
		for k := 1; k <= c.GridRings; k++ {
			length := float64(k) / float64(c.GridRings) * c.GridRadius
			for _, sign := range []float64{1, -1} {
				tangent := make([]float64, dim)
				tangent[axis] = sign * length * scale
				p, err := geometry.ExpMap(anchor, tangent)
				if err != nil {
					return nil, fmt.Errorf("placing quorum sample: %w", err)
				}
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// tallyVotes measures how much of the lattice around [anchor] the
// accepting and rejecting voters cover, normalized by [eligible].
func tallyVotes(c Config, anchor geometry.Point, voters []voter, eligible int) (tally, error) {
	outliers, err := detectOutliers(c, voters)
	if err != nil {
		return tally{}, err
	}
	t := tally{
		outliers: outliers,
		voters:   voters,
	}
	if eligible == 0 || len(voters) == 0 {
		return t, nil
	}

	points, err := samples(c, anchor)
	if err != nil {
		return tally{}, err
	}
	var acceptCovered, rejectCovered int
	for _, p := range points {
		var accept, reject float64
		for _, v := range voters {
			d, err := geometry.Distance(p, v.position)
			if err != nil {
				return tally{}, err
			}
			influence := v.weight * math.Exp(-d)
			if v.decision == Accept {
				accept += influence
			} else {
				reject += influence
			}
		}
		if accept/float64(eligible) > c.InfluenceThreshold {
			acceptCovered++
		}
		if reject/float64(eligible) > c.InfluenceThreshold {
			rejectCovered++
		}
	}
	t.acceptCoverage = float64(acceptCovered) / float64(len(points))
	t.rejectCoverage = float64(rejectCovered) / float64(len(points))
	return t, nil
}

// outcome maps coverages to a terminal state.
func outcome(c Config, t tally, eligible int) (State, string) {
	switch {
	case eligible == 0:
		return Inconclusive, ReasonNoVoters
	case t.acceptCoverage >= c.QuorumRequired:
		return Committed, ReasonQuorum
	case t.rejectCoverage >= c.QuorumRequired:
		return Rejected, ReasonQuorum
	default:
		return Inconclusive, ReasonNoQuorum
	}
}

// committingSet lists the accepting voters that were not discounted.
func committingSet(t tally) []ids.NodeID {
	flagged := make(map[ids.NodeID]struct{}, len(t.outliers))
	for _, o := range t.outliers {
		flagged[o.ID] = struct{}{}
	}
	var out []ids.NodeID
	for _, v := range t.voters {
		if _, ok := flagged[v.id]; ok || v.decision != Accept {
			continue
		}
		out = append(out, v.id)
	}
	return out
}
