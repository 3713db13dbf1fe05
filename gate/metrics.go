// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gate

import (
	"strconv"

	"github.com/luxfi/metric"

	utilmetric "github.com/luxfi/horizon/utils/metric"
)

const (
	modeLabel     = "mode"
	admittedLabel = "admitted"
)

var _ Metrics = (*metricsImpl)(nil)

type Metrics interface {
	// Mark that an admission decision was made.
	MarkDecision(AdmissionRecord)
}

type metricsImpl struct {
	decisions   metric.CounterVec
	received    utilmetric.Averager
	probability utilmetric.Averager
}

func NewMetrics(namespace string, registry metric.Registry) (Metrics, error) {
	metricsInstance := metric.NewWithRegistry(namespace, registry)

	return &metricsImpl{
		decisions: metricsInstance.NewCounterVec(
			"decisions",
			"Total number of admission decisions",
			[]string{modeLabel, admittedLabel},
		),
		received: utilmetric.NewAverager(
			utilmetric.AppendNamespace(namespace, "received_energy"),
			"attenuated report energy",
			registry,
		),
		probability: utilmetric.NewAverager(
			utilmetric.AppendNamespace(namespace, "admission_probability"),
			"admission probability",
			registry,
		),
	}, nil
}

func (m *metricsImpl) MarkDecision(r AdmissionRecord) {
	m.decisions.With(metric.Labels{
		modeLabel:     r.Mode.String(),
		admittedLabel: strconv.FormatBool(r.Admitted),
	}).Inc()
	m.received.Observe(r.Received)
	m.probability.Observe(r.Probability)
}
