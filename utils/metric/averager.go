// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package utilmetric

import (
	"github.com/luxfi/metric"
	dto "github.com/prometheus/client_model/go"
)

type Averager interface {
	Observe(float64)
}

type averager struct {
	count metric.Counter
	sum   metric.Gauge
}

// NewAverager registers [name]_count and [name]_sum on [registry].
func NewAverager(name, desc string, registry metric.Registry) Averager {
	metricsInstance := metric.NewWithRegistry("", registry)

	return &averager{
		count: metricsInstance.NewCounter(
			AppendNamespace(name, "count"),
			"Total # of observations of "+desc,
		),
		sum: metricsInstance.NewGauge(
			AppendNamespace(name, "sum"),
			"Sum of "+desc,
		),
	}
}

func (a *averager) Observe(v float64) {
	a.count.Inc()
	a.sum.Add(v)
}

// AppendNamespace joins a metric namespace and name with an underscore,
// omitting the separator when either side is empty.
func AppendNamespace(namespace, name string) string {
	switch {
	case namespace == "":
		return name
	case name == "":
		return namespace
	default:
		return namespace + "_" + name
	}
}

// Value returns the value of the unlabelled sample of [name] in [registry].
func Value(registry metric.Registry, name string) (float64, bool, error) {
	families, err := registry.Gather()
	if err != nil {
		return 0, false, err
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if len(m.GetLabel()) == 0 {
				return sampleValue(m), true, nil
			}
		}
	}
	return 0, false, nil
}

func sampleValue(m *dto.Metric) float64 {
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	return m.GetGauge().GetValue()
}
