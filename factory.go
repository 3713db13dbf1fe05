// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package horizon

import (
	"time"

	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/horizon/audit"
	"github.com/luxfi/horizon/utils/timer/mockable"
)

// Factory creates cores that share a configuration.
type Factory struct {
	Config Config
	// Start is the logical time new cores begin at. Zero means
	// mockable.Epoch.
	Start time.Time
	// Registry receives the metrics of created cores. Nil means a fresh
	// registry per core.
	Registry metric.Registry
	// Sink receives audit entries. Nil discards them.
	Sink audit.Sink
}

// New creates a new Core with the given logger.
func (f *Factory) New(logger log.Logger) (*Core, error) {
	start := f.Start
	if start.IsZero() {
		start = mockable.Epoch
	}
	registry := f.Registry
	if registry == nil {
		registry = metric.NewRegistry()
	}
	return New(f.Config, logger, registry, f.Sink, mockable.NewClock(start))
}
