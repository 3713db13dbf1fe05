// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"errors"
	"fmt"
	"time"
)

// Configuration errors
var (
	ErrInvalidQuorum    = errors.New("quorum required must be in (0, 1]")
	ErrInvalidInfluence = errors.New("influence threshold must be in [0, 1)")
	ErrInvalidGrid      = errors.New("grid radius and rings must be positive")
	ErrInvalidOutlier   = errors.New("outlier parameters must be positive")
	ErrInvalidMedian    = errors.New("median iterations and tolerance must be positive")
	ErrInvalidVoteLimit = errors.New("max votes per round must be positive")
	ErrInvalidTimeout   = errors.New("round timeout must be positive")
	ErrInvalidStaleness = errors.New("staleness bound must be non-negative")
)

// Config holds the quorum and round parameters.
type Config struct {
	// QuorumRequired is the fraction of covered samples needed to commit
	// or reject.
	QuorumRequired float64 `json:"quorumRequired" yaml:"quorumRequired"`

	// InfluenceThreshold is the normalized influence a sample must exceed
	// to be covered.
	InfluenceThreshold float64 `json:"influenceThreshold" yaml:"influenceThreshold"`

	// GridRadius is the hyperbolic distance from the anchor to the outer
	// ring of samples.
	GridRadius float64 `json:"gridRadius" yaml:"gridRadius"`

	// GridRings is the number of sample rings along each axis direction.
	GridRings int `json:"gridRings" yaml:"gridRings"`

	// OutlierMultiple is how many median deviations a voter may sit from
	// the median before being discounted.
	OutlierMultiple float64 `json:"outlierMultiple" yaml:"outlierMultiple"`

	// MinDeviation floors the median deviation.
	MinDeviation float64 `json:"minDeviation" yaml:"minDeviation"`

	MedianIterations int     `json:"medianIterations" yaml:"medianIterations"`
	MedianTolerance  float64 `json:"medianTolerance" yaml:"medianTolerance"`

	// MaxVotesPerRound bounds the votes held by one round.
	MaxVotesPerRound int `json:"maxVotesPerRound" yaml:"maxVotesPerRound"`

	// RoundTimeout is the deadline of rounds opened without one.
	RoundTimeout time.Duration `json:"roundTimeout" yaml:"roundTimeout"`

	// StalenessBound is how recently a voter must have had a report
	// admitted for its vote to bind. Zero disables the check.
	StalenessBound time.Duration `json:"stalenessBound" yaml:"stalenessBound"`
}

func DefaultConfig() Config {
	return Config{
		QuorumRequired:     0.66,
		InfluenceThreshold: 0.5,
		GridRadius:         0.25,
		GridRings:          2,
		OutlierMultiple:    3,
		MinDeviation:       1e-3,
		MedianIterations:   64,
		MedianTolerance:    1e-9,
		MaxVotesPerRound:   1024,
		RoundTimeout:       30 * time.Second,
	}
}

// Validate checks Config invariants.
func (c Config) Validate() error {
	if c.QuorumRequired <= 0 || c.QuorumRequired > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidQuorum, c.QuorumRequired)
	}
	if c.InfluenceThreshold < 0 || c.InfluenceThreshold >= 1 {
		return fmt.Errorf("%w: %f", ErrInvalidInfluence, c.InfluenceThreshold)
	}
	if c.GridRadius <= 0 || c.GridRings <= 0 {
		return ErrInvalidGrid
	}
	if c.OutlierMultiple <= 0 || c.MinDeviation <= 0 {
		return ErrInvalidOutlier
	}
	if c.MedianIterations <= 0 || c.MedianTolerance <= 0 {
		return ErrInvalidMedian
	}
	if c.MaxVotesPerRound <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidVoteLimit, c.MaxVotesPerRound)
	}
	if c.RoundTimeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, c.RoundTimeout)
	}
	if c.StalenessBound < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidStaleness, c.StalenessBound)
	}
	return nil
}

// Samples returns the number of lattice samples in [dim] dimensions.
func (c Config) Samples(dim int) int {
	return 1 + 2*dim*c.GridRings
}
