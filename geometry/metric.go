// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package geometry

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Distance returns the hyperbolic distance between u and v:
//
//	arccosh(1 + 2‖u-v‖² / ((1-‖u‖²)(1-‖v‖²)))
//
// The arccosh is evaluated as log1p(t + sqrt(t(2+t))) with x = 1+t, which
// keeps full precision when u and v are close.
func Distance(u, v Point) (float64, error) {
	if err := validatePair("distance", u, v); err != nil {
		return 0, err
	}
	return distance(u, v), nil
}

func distance(u, v Point) float64 {
	diff := floats.Distance(u, v, 2)
	if diff == 0 {
		return 0
	}
	uu := floats.Dot(u, u)
	vv := floats.Dot(v, v)
	t := 2 * diff * diff / ((1 - uu) * (1 - vv))
	return math.Log1p(t + math.Sqrt(t*(2+t)))
}

// DistanceFromOrigin returns the hyperbolic distance between p and the
// origin, 2·artanh(‖p‖).
func DistanceFromOrigin(p Point) (float64, error) {
	if err := validate("distance from origin", p); err != nil {
		return 0, err
	}
	return 2 * math.Atanh(p.Norm()), nil
}

// ConformalFactor returns λ_p = 2 / (1 - ‖p‖²), the ratio between Riemannian
// and Euclidean lengths of tangent vectors at p.
func ConformalFactor(p Point) float64 {
	return conformal(p)
}

func conformal(p Point) float64 {
	return 2 / (1 - floats.Dot(p, p))
}

// TangentNorm returns the Riemannian length of the tangent vector v at base.
func TangentNorm(base Point, v []float64) (float64, error) {
	if err := validate("tangent norm", base); err != nil {
		return 0, err
	}
	if err := validateTangent("tangent norm", base, v); err != nil {
		return 0, err
	}
	return tangentNorm(base, v), nil
}

func tangentNorm(base Point, v []float64) float64 {
	return conformal(base) * floats.Norm(v, 2)
}
