// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gate

import (
	"errors"
	"fmt"
	"math"
)

// MinTemperature is the temperature at or below which admission becomes
// deterministic.
const MinTemperature = 1e-6

var (
	ErrInvalidThreshold   = errors.New("threshold must be in [0, 1]")
	ErrInvalidTemperature = errors.New("temperature must be non-negative")
	ErrInvalidDecay       = errors.New("decay must be non-negative")
	ErrInvalidCapacity    = errors.New("freshness capacity must be positive")
)

// Params are the admission constants of one scope.
type Params struct {
	// Threshold is the received energy at or above which a report is
	// always admitted.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// Temperature controls how likely reports below Threshold are to be
	// admitted.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// Decay is the attenuation rate λ per unit of hyperbolic distance.
	Decay float64 `json:"decay" yaml:"decay"`
}

func DefaultParams() Params {
	return Params{
		Threshold:   0.3,
		Temperature: 0.05,
		Decay:       1,
	}
}

// Validate checks Params invariants.
func (p Params) Validate() error {
	if math.IsNaN(p.Threshold) || p.Threshold < 0 || p.Threshold > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidThreshold, p.Threshold)
	}
	if math.IsNaN(p.Temperature) || p.Temperature < 0 {
		return fmt.Errorf("%w: %f", ErrInvalidTemperature, p.Temperature)
	}
	if math.IsNaN(p.Decay) || p.Decay < 0 {
		return fmt.Errorf("%w: %f", ErrInvalidDecay, p.Decay)
	}
	return nil
}

// Config configures a Gate.
type Config struct {
	// Default applies to every scope without an override.
	Default Params `json:"default" yaml:"default"`

	// FreshnessCapacity is the initial number of participants whose last
	// admission time is remembered. Beyond it the least recently admitted
	// participant is forgotten and reads as stale, so the ledger must be
	// reserved to at least the number of registered participants.
	FreshnessCapacity int `json:"freshnessCapacity" yaml:"freshnessCapacity"`
}

func DefaultConfig() Config {
	return Config{
		Default:           DefaultParams(),
		FreshnessCapacity: 4096,
	}
}

// Validate checks Config invariants.
func (c Config) Validate() error {
	if c.FreshnessCapacity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, c.FreshnessCapacity)
	}
	return c.Default.Validate()
}
