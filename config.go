// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package horizon

import (
	"errors"
	"fmt"

	"github.com/luxfi/horizon/consensus"
	"github.com/luxfi/horizon/dynamics"
	"github.com/luxfi/horizon/gate"
)

var (
	ErrInvalidDimension = errors.New("dimension must be positive")
	ErrInvalidEnergy    = errors.New("default energy must be in [0, 1]")
)

// Config aggregates the configuration of every component of a Core.
type Config struct {
	// Dimension of the ball participants live in.
	Dimension int `json:"dimension" yaml:"dimension"`

	// DefaultEnergy is the energy of newly registered participants.
	DefaultEnergy float64 `json:"defaultEnergy" yaml:"defaultEnergy"`

	// MetricsNamespace prefixes every metric name.
	MetricsNamespace string `json:"metricsNamespace" yaml:"metricsNamespace"`

	Dynamics  dynamics.Config  `json:"dynamics" yaml:"dynamics"`
	Gate      gate.Config      `json:"gate" yaml:"gate"`
	Consensus consensus.Config `json:"consensus" yaml:"consensus"`
}

func DefaultConfig() Config {
	return Config{
		Dimension:        3,
		DefaultEnergy:    0.5,
		MetricsNamespace: "horizon",
		Dynamics:         dynamics.DefaultConfig(),
		Gate:             gate.DefaultConfig(),
		Consensus:        consensus.DefaultConfig(),
	}
}

// Validate checks every component configuration.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDimension, c.Dimension)
	}
	if c.DefaultEnergy < 0 || c.DefaultEnergy > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidEnergy, c.DefaultEnergy)
	}
	if err := c.Dynamics.Validate(); err != nil {
		return fmt.Errorf("dynamics config: %w", err)
	}
	if err := c.Gate.Validate(); err != nil {
		return fmt.Errorf("gate config: %w", err)
	}
	if err := c.Consensus.Validate(); err != nil {
		return fmt.Errorf("consensus config: %w", err)
	}
	return nil
}
