// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"github.com/luxfi/metric"

	utilmetric "github.com/luxfi/horizon/utils/metric"
)

const (
	outcomeLabel = "outcome"
	ackLabel     = "ack"
)

var _ Metrics = (*metricsImpl)(nil)

type Metrics interface {
	// Mark that a round was opened.
	MarkOpened()
	// Mark that a vote was taken.
	MarkVote(Ack)
	// Mark that a round reached a terminal state.
	MarkFinalized(QuorumResult)
}

type metricsImpl struct {
	opened         metric.Counter
	openRounds     metric.Gauge
	finalized      metric.CounterVec
	votes          metric.CounterVec
	outliers       metric.Counter
	acceptCoverage utilmetric.Averager
}

func NewMetrics(namespace string, registry metric.Registry) (Metrics, error) {
	metricsInstance := metric.NewWithRegistry(namespace, registry)

	return &metricsImpl{
		opened: metricsInstance.NewCounter(
			"rounds_opened",
			"Total number of rounds opened",
		),
		openRounds: metricsInstance.NewGauge(
			"rounds_open",
			"Number of rounds currently open",
		),
		finalized: metricsInstance.NewCounterVec(
			"rounds_finalized",
			"Total number of rounds finalized by outcome",
			[]string{outcomeLabel},
		),
		votes: metricsInstance.NewCounterVec(
			"votes",
			"Total number of votes taken by acknowledgement",
			[]string{ackLabel},
		),
		outliers: metricsInstance.NewCounter(
			"outliers",
			"Total number of voters discounted as outliers",
		),
		acceptCoverage: utilmetric.NewAverager(
			utilmetric.AppendNamespace(namespace, "accept_coverage"),
			"accept coverage of finalized rounds",
			registry,
		),
	}, nil
}

func (m *metricsImpl) MarkOpened() {
	m.opened.Inc()
	m.openRounds.Inc()
}

func (m *metricsImpl) MarkVote(ack Ack) {
	m.votes.With(metric.Labels{
		ackLabel: ack.String(),
	}).Inc()
}

func (m *metricsImpl) MarkFinalized(r QuorumResult) {
	m.openRounds.Dec()
	m.finalized.With(metric.Labels{
		outcomeLabel: r.Outcome.String(),
	}).Inc()
	m.outliers.Add(float64(len(r.Outliers)))
	m.acceptCoverage.Observe(r.AcceptCoverage)
}
