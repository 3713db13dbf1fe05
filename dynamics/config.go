// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dynamics

import (
	"errors"
	"fmt"

	"github.com/luxfi/horizon/geometry"
)

var (
	ErrInvalidAlpha      = errors.New("alpha must be non-negative")
	ErrInvalidMu         = errors.New("mu must be non-negative")
	ErrInvalidGamma      = errors.New("gamma must be in (0, 1)")
	ErrInvalidRepulsion  = errors.New("repulsion parameters must be positive")
	ErrInvalidIterations = errors.New("repulsion iterations must be positive")
	ErrInvalidMaxRadius  = errors.New("max radius must be in (0, 1-epsilon)")
)

// Config holds the force constants of the position dynamics.
type Config struct {
	// Alpha is the drift step length, in hyperbolic units, approached as a
	// participant stays idle.
	Alpha float64 `json:"alpha" yaml:"alpha"`

	// Mu is the rate, per second of idle time, at which the drift step
	// approaches Alpha.
	Mu float64 `json:"mu" yaml:"mu"`

	// Gamma is the centering factor applied on committed participation.
	Gamma float64 `json:"gamma" yaml:"gamma"`

	// K is the repulsion strength.
	K float64 `json:"k" yaml:"k"`

	// MinDistance is the distance under which two participants repel.
	MinDistance float64 `json:"minDistance" yaml:"minDistance"`

	// MinSeparation floors the distance used in the repulsion force.
	MinSeparation float64 `json:"minSeparation" yaml:"minSeparation"`

	// Timestep converts a repulsion force into a displacement.
	Timestep float64 `json:"timestep" yaml:"timestep"`

	// MaxStep caps one repulsion displacement.
	MaxStep float64 `json:"maxStep" yaml:"maxStep"`

	// RepulsionIterations is the maximum number of relaxation passes per
	// tick.
	RepulsionIterations int `json:"repulsionIterations" yaml:"repulsionIterations"`

	// MaxRadius is the horizon. Moves that would cross it stop on it.
	MaxRadius float64 `json:"maxRadius" yaml:"maxRadius"`
}

func DefaultConfig() Config {
	return Config{
		Alpha:               0.05,
		Mu:                  0.01,
		Gamma:               0.1,
		K:                   0.01,
		MinDistance:         0.1,
		MinSeparation:       0.01,
		Timestep:            1,
		MaxStep:             0.05,
		RepulsionIterations: 3,
		MaxRadius:           1 - 1e-3,
	}
}

// Validate checks Config invariants.
func (c Config) Validate() error {
	if c.Alpha < 0 {
		return fmt.Errorf("%w: %f", ErrInvalidAlpha, c.Alpha)
	}
	if c.Mu < 0 {
		return fmt.Errorf("%w: %f", ErrInvalidMu, c.Mu)
	}
	if c.Gamma <= 0 || c.Gamma >= 1 {
		return fmt.Errorf("%w: %f", ErrInvalidGamma, c.Gamma)
	}
	if c.K <= 0 || c.MinDistance <= 0 || c.MinSeparation <= 0 || c.Timestep <= 0 || c.MaxStep <= 0 {
		return ErrInvalidRepulsion
	}
	if c.RepulsionIterations <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIterations, c.RepulsionIterations)
	}
	if c.MaxRadius <= 0 || c.MaxRadius >= geometry.MaxNorm {
		return fmt.Errorf("%w: %f", ErrInvalidMaxRadius, c.MaxRadius)
	}
	return nil
}
