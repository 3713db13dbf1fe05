// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dynamics

import (
	"github.com/luxfi/metric"

	utilmetric "github.com/luxfi/horizon/utils/metric"
)

const causeLabel = "cause"

var _ Metrics = (*metricsImpl)(nil)

type Metrics interface {
	// Mark that a tick ran for the given number of participants.
	MarkTick(participants int)
	// Mark the position updates a tick or centering produced.
	MarkUpdates([]PositionUpdate)
	// Mark that a drift step of the given hyperbolic length was taken.
	ObserveDrift(step float64)
	// Mark that repulsion ran the given number of passes.
	ObserveRepulsionPasses(passes int)
}

type metricsImpl struct {
	ticks           metric.Counter
	participants    metric.Gauge
	updates         metric.CounterVec
	saturations     metric.Counter
	repulsionPass   metric.Counter
	driftStepLength utilmetric.Averager
}

func NewMetrics(namespace string, registry metric.Registry) (Metrics, error) {
	metricsInstance := metric.NewWithRegistry(namespace, registry)

	return &metricsImpl{
		ticks: metricsInstance.NewCounter(
			"ticks",
			"Total number of dynamics ticks applied",
		),
		participants: metricsInstance.NewGauge(
			"tick_participants",
			"Number of participants moved by the last tick",
		),
		updates: metricsInstance.NewCounterVec(
			"position_updates",
			"Total number of position updates by cause",
			[]string{causeLabel},
		),
		saturations: metricsInstance.NewCounter(
			"horizon_saturations",
			"Total number of moves stopped at the horizon",
		),
		repulsionPass: metricsInstance.NewCounter(
			"repulsion_passes",
			"Total number of repulsion relaxation passes",
		),
		driftStepLength: utilmetric.NewAverager(
			utilmetric.AppendNamespace(namespace, "drift_step"),
			"hyperbolic drift step lengths",
			registry,
		),
	}, nil
}

func (m *metricsImpl) MarkTick(participants int) {
	m.ticks.Inc()
	m.participants.Set(float64(participants))
}

func (m *metricsImpl) MarkUpdates(updates []PositionUpdate) {
	for _, u := range updates {
		m.updates.With(metric.Labels{
			causeLabel: u.Cause.String(),
		}).Inc()
		if u.Saturated {
			m.saturations.Inc()
		}
	}
}

func (m *metricsImpl) ObserveDrift(step float64) {
	m.driftStepLength.Observe(step)
}

func (m *metricsImpl) ObserveRepulsionPasses(passes int) {
	m.repulsionPass.Add(float64(passes))
}
