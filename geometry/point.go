// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// Epsilon is the margin kept between every valid point and the boundary
	// of the unit ball.
	Epsilon = 1e-5

	// MaxNorm is the exclusive upper bound on the Euclidean norm of a point.
	MaxNorm = 1 - Epsilon
)

var (
	ErrSingularity       = errors.New("geometric singularity")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrZeroDimension     = errors.New("zero-dimensional point")
)

// Point is a position in the Poincaré ball.
type Point []float64

// Origin returns the center of the ball in [dim] dimensions.
func Origin(dim int) Point {
	return make(Point, dim)
}

// Dim returns the number of coordinates of p.
func (p Point) Dim() int {
	return len(p)
}

// Norm returns the Euclidean norm of p.
func (p Point) Norm() float64 {
	if len(p) == 0 {
		return 0
	}
	return floats.Norm(p, 2)
}

// Clone returns a copy of p that shares no memory with it.
func (p Point) Clone() Point {
	if p == nil {
		return nil
	}
	out := make(Point, len(p))
	copy(out, p)
	return out
}

// Equal reports whether p and q have identical coordinates.
func (p Point) Equal(q Point) bool {
	return floats.Equal(p, q)
}

// IsOrigin reports whether every coordinate of p is zero.
func (p Point) IsOrigin() bool {
	for _, c := range p {
		if c != 0 {
			return false
		}
	}
	return true
}

func (p Point) String() string {
	return fmt.Sprintf("%v", []float64(p))
}

// Validate returns nil if p is a usable point: non-empty, finite, and
// strictly inside the ball.
func Validate(p Point) error {
	return validate("validate", p)
}

func validate(op string, p Point) error {
	if len(p) == 0 {
		return fmt.Errorf("%s: %w", op, ErrZeroDimension)
	}
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%s: %w: non-finite coordinate", op, ErrSingularity)
		}
	}
	if n := p.Norm(); n >= MaxNorm {
		return fmt.Errorf("%s: %w: norm %.12f >= %.12f", op, ErrSingularity, n, MaxNorm)
	}
	return nil
}

func validatePair(op string, u, v Point) error {
	if len(u) != len(v) {
		return fmt.Errorf("%s: %w: %d != %d", op, ErrDimensionMismatch, len(u), len(v))
	}
	if err := validate(op, u); err != nil {
		return err
	}
	return validate(op, v)
}

// validateTangent checks a tangent vector against the dimension of its base.
// Tangent vectors are not bounded by the ball.
func validateTangent(op string, base Point, v []float64) error {
	if len(v) != len(base) {
		return fmt.Errorf("%s: %w: %d != %d", op, ErrDimensionMismatch, len(v), len(base))
	}
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%s: %w: non-finite tangent", op, ErrSingularity)
		}
	}
	return nil
}

// Clamp returns p scaled toward the origin so that its norm does not exceed
// maxNorm. maxNorm is itself capped just below MaxNorm, so the result always
// validates. Non-finite points clamp to the origin.
func Clamp(p Point, maxNorm float64) Point {
	limit := math.Nextafter(MaxNorm, 0)
	if maxNorm < limit {
		limit = maxNorm
	}
	if limit < 0 {
		limit = 0
	}
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Origin(len(p))
		}
	}
	out := p.Clone()
	n := out.Norm()
	if n <= limit || n == 0 {
		return out
	}
	floats.Scale(limit/n, out)
	// Rounding in the scale can leave the norm a few ulps above the limit.
	for out.Norm() > limit {
		floats.Scale(math.Nextafter(1, 0), out)
	}
	return out
}
