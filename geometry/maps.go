// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package geometry

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ExpMap follows the geodesic that leaves base with initial velocity tangent
// for unit time:
//
//	exp_b(t) = b ⊕ (tanh(λ_b‖t‖/2) · t/‖t‖)
//
// The Riemannian length of tangent equals the distance travelled.
func ExpMap(base Point, tangent []float64) (Point, error) {
	if err := validate("exp map", base); err != nil {
		return nil, err
	}
	if err := validateTangent("exp map", base, tangent); err != nil {
		return nil, err
	}
	tn := floats.Norm(tangent, 2)
	if tn == 0 {
		return base.Clone(), nil
	}

	step := make([]float64, len(tangent))
	floats.ScaleTo(step, math.Tanh(conformal(base)*tn/2)/tn, tangent)
	out := mobiusAdd(base, step)
	if err := validate("exp map", out); err != nil {
		return nil, err
	}
	return out, nil
}

// LogMap returns the tangent vector at base whose exponential reaches p. It
// is the inverse of ExpMap:
//
//	log_b(p) = (2/λ_b) · artanh(‖⊖b ⊕ p‖) · (⊖b ⊕ p)/‖⊖b ⊕ p‖
func LogMap(base, p Point) ([]float64, error) {
	if err := validatePair("log map", base, p); err != nil {
		return nil, err
	}
	return logMap(base, p)
}

func logMap(base, p Point) ([]float64, error) {
	w := mobiusAdd(Negate(base), p)
	out := make([]float64, len(w))
	wn := floats.Norm(w, 2)
	if wn == 0 {
		return out, nil
	}
	if wn >= 1 {
		return nil, validate("log map", w)
	}
	floats.ScaleTo(out, (2/conformal(base))*math.Atanh(wn)/wn, w)
	return out, nil
}

// ParallelTransport moves the tangent vector v at from along the geodesic to
// to, preserving its Riemannian length:
//
//	P(v) = (λ_from/λ_to) · gyr[to, ⊖from] v
func ParallelTransport(from, to Point, v []float64) ([]float64, error) {
	if err := validatePair("parallel transport", from, to); err != nil {
		return nil, err
	}
	if err := validateTangent("parallel transport", from, v); err != nil {
		return nil, err
	}
	out := gyration(to, Negate(from), v)
	floats.Scale(conformal(from)/conformal(to), out)
	return out, nil
}
