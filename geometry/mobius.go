// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package geometry

import (
	"gonum.org/v1/gonum/floats"
)

// gyrationScale is the norm that tangent vectors are scaled to before being
// pushed through the Möbius additions that define a gyration.
const gyrationScale = 0.25

// MobiusAdd returns the gyrovector sum x ⊕ y:
//
//	((1 + 2⟨x,y⟩ + ‖y‖²)x + (1 - ‖x‖²)y) / (1 + 2⟨x,y⟩ + ‖x‖²‖y‖²)
func MobiusAdd(x, y Point) (Point, error) {
	if err := validatePair("mobius add", x, y); err != nil {
		return nil, err
	}
	out := mobiusAdd(x, y)
	if err := validate("mobius add", out); err != nil {
		return nil, err
	}
	return out, nil
}

func mobiusAdd(x, y []float64) Point {
	xy := floats.Dot(x, y)
	x2 := floats.Dot(x, x)
	y2 := floats.Dot(y, y)
	den := 1 + 2*xy + x2*y2

	out := make(Point, len(x))
	floats.ScaleTo(out, (1+2*xy+y2)/den, x)
	floats.AddScaled(out, (1-x2)/den, y)
	return out
}

// Negate returns ⊖p, the gyrovector inverse of p.
func Negate(p Point) Point {
	out := make(Point, len(p))
	floats.ScaleTo(out, -1, p)
	return out
}

// Translate applies the isometry that maps a to the origin, (⊖a) ⊕ z. It is
// used to re-center the space on an observer before local comparisons.
func Translate(z, a Point) (Point, error) {
	if err := validatePair("translate", z, a); err != nil {
		return nil, err
	}
	out := mobiusAdd(Negate(a), z)
	if err := validate("translate", out); err != nil {
		return nil, err
	}
	return out, nil
}

// Gyration returns gyr[u,v]w, the rotation that corrects the
// non-associativity of Möbius addition:
//
//	gyr[u,v]w = ⊖(u ⊕ v) ⊕ (u ⊕ (v ⊕ w))
//
// Gyrations are orthogonal linear maps, so w may be any vector; it is
// evaluated at a fixed small norm and scaled back.
func Gyration(u, v Point, w []float64) ([]float64, error) {
	if err := validatePair("gyration", u, v); err != nil {
		return nil, err
	}
	if err := validateTangent("gyration", u, w); err != nil {
		return nil, err
	}
	return gyration(u, v, w), nil
}

func gyration(u, v Point, w []float64) []float64 {
	wn := floats.Norm(w, 2)
	out := make([]float64, len(w))
	if wn == 0 {
		return out
	}
	scaled := make([]float64, len(w))
	floats.ScaleTo(scaled, gyrationScale/wn, w)

	inner := mobiusAdd(u, mobiusAdd(v, scaled))
	rotated := mobiusAdd(Negate(mobiusAdd(u, v)), inner)

	// The rotated point has norm gyrationScale up to rounding.
	floats.ScaleTo(out, wn/floats.Norm(rotated, 2), rotated)
	return out
}
