// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package geometry

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// coincident is the distance under which an iterate is considered to sit on
// a sample, which Weiszfeld's update cannot divide by.
const coincident = 1e-12

var ErrNoPoints = errors.New("no points")

// GeometricMedian returns the point minimising the sum of hyperbolic
// distances to points. It runs a Riemannian Weiszfeld iteration from the
// Euclidean mean of the samples:
//
//	m ← exp_m( Σ log_m(x_i)/d_i / Σ 1/d_i )
//
// stopping after maxIter steps or once the step is shorter than tol. An
// iterate that lands on samples uses the Vardi-Zhang correction. The
// sample order is the summation order, so equal inputs give bit-identical
// results.
func GeometricMedian(points []Point, maxIter int, tol float64) (Point, error) {
	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	dim := len(points[0])
	for _, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("geometric median: %w: %d != %d", ErrDimensionMismatch, len(p), dim)
		}
		if err := validate("geometric median", p); err != nil {
			return nil, err
		}
	}

	// The mean of points inside a ball lies inside the same ball.
	m := Origin(dim)
	for _, p := range points {
		floats.Add(m, p)
	}
	floats.Scale(1/float64(len(points)), m)
	if err := validate("geometric median", m); err != nil {
		return nil, err
	}

	step := make([]float64, dim)
	for i := 0; i < maxIter; i++ {
		for j := range step {
			step[j] = 0
		}
		var (
			invSum float64
			onTop  int
		)
		for _, p := range points {
			v, err := logMap(m, p)
			if err != nil {
				return nil, err
			}
			d := tangentNorm(m, v)
			if d < coincident {
				onTop++
				continue
			}
			floats.AddScaled(step, 1/d, v)
			invSum += 1 / d
		}
		if invSum == 0 {
			return m, nil
		}
		// Vardi-Zhang: an iterate sitting on samples is optimal unless the
		// pull of the others outweighs them, and otherwise moves less.
		shrink := 1.0
		if onTop > 0 {
			pull := tangentNorm(m, step)
			if pull <= float64(onTop) {
				return m, nil
			}
			shrink = 1 - float64(onTop)/pull
		}
		floats.Scale(shrink/invSum, step)
		if tangentNorm(m, step) < tol {
			return m, nil
		}
		next, err := ExpMap(m, step)
		if err != nil {
			return nil, err
		}
		m = next
	}
	return m, nil
}
