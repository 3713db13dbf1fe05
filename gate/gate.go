// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gate filters incoming reports. A report's energy is attenuated by
// the hyperbolic distance it travels, then admitted outright, rejected
// outright, or decided by a replayable draw.
package gate

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/horizon/audit"
	"github.com/luxfi/horizon/geometry"
)

// Target is where a report is sent. Scope names the coordinating
// participant whose parameter override applies; ids.EmptyNodeID selects the
// default parameters.
type Target struct {
	Scope ids.NodeID
	Point geometry.Point
}

// Gate applies admission decisions and remembers when each participant was
// last admitted.
type Gate struct {
	config   Config
	log      log.Logger
	metrics  Metrics
	recorder *audit.Recorder

	scopesLock sync.RWMutex
	scopes     map[ids.NodeID]Params

	capacityLock sync.Mutex
	capacity     int
	// NodeID -> time.Time of the last admitted report
	freshness *lru.Cache
}

func New(config Config, logger log.Logger, metrics Metrics, recorder *audit.Recorder) (*Gate, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	freshness, err := lru.New(config.FreshnessCapacity)
	if err != nil {
		return nil, fmt.Errorf("creating freshness ledger: %w", err)
	}
	return &Gate{
		config:    config,
		log:       logger,
		metrics:   metrics,
		recorder:  recorder,
		scopes:    make(map[ids.NodeID]Params),
		capacity:  config.FreshnessCapacity,
		freshness: freshness,
	}, nil
}

// Reserve grows the freshness ledger so it can remember at least [n]
// participants. It never shrinks the ledger.
func (g *Gate) Reserve(n int) {
	g.capacityLock.Lock()
	defer g.capacityLock.Unlock()

	if n <= g.capacity {
		return
	}
	g.capacity = max(n, 2*g.capacity)
	g.freshness.Resize(g.capacity)
}

// SetScope overrides the parameters used for reports sent to [coordinator].
func (g *Gate) SetScope(coordinator ids.NodeID, params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	g.scopesLock.Lock()
	defer g.scopesLock.Unlock()

	g.scopes[coordinator] = params
	return nil
}

// ClearScope removes the override for [coordinator].
func (g *Gate) ClearScope(coordinator ids.NodeID) {
	g.scopesLock.Lock()
	defer g.scopesLock.Unlock()

	delete(g.scopes, coordinator)
}

// Params returns the parameters in effect for [scope].
func (g *Gate) Params(scope ids.NodeID) Params {
	g.scopesLock.RLock()
	defer g.scopesLock.RUnlock()

	if p, ok := g.scopes[scope]; ok {
		return p
	}
	return g.config.Default
}

// Admit evaluates [report] sent from [source] to [target] at [now]. Admitted
// reports refresh the source's freshness. Every decision is audited.
func (g *Gate) Admit(report Report, source geometry.Point, target Target, now time.Time) (AdmissionRecord, error) {
	record, err := Evaluate(report, source, target.Point, g.Params(target.Scope))
	if err != nil {
		return AdmissionRecord{}, err
	}
	if record.Admitted {
		g.freshness.Add(report.SourceID, now)
	}

	g.metrics.MarkDecision(record)
	detail := fmt.Sprintf(
		"mode=%s admitted=%t confidence=%g relevance=%g distance=%g received=%g threshold=%g temperature=%g draw=%g",
		record.Mode,
		record.Admitted,
		report.Confidence,
		report.Relevance,
		record.Distance,
		record.Received,
		record.Params.Threshold,
		record.Params.Temperature,
		record.Draw,
	)
	if _, err := g.recorder.Record(audit.Entry{
		Kind:        audit.Admission,
		RoundID:     report.RoundID,
		Participant: report.SourceID,
		Time:        now,
		Value:       record.Probability,
		Detail:      detail,
	}); err != nil {
		g.log.Warn("failed to audit admission",
			log.Stringer("source", report.SourceID),
			log.Err(err),
		)
	}
	g.log.Debug("evaluated report",
		log.Stringer("source", report.SourceID),
		log.Uint64("roundID", report.RoundID),
		log.Stringer("mode", record.Mode),
		log.Bool("admitted", record.Admitted),
	)
	return record, nil
}

// LastAdmission returns when [id] last had a report admitted.
func (g *Gate) LastAdmission(id ids.NodeID) (time.Time, bool) {
	v, ok := g.freshness.Get(id)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// IsFresh reports whether [id] had a report admitted within [bound] of
// [now]. A non-positive bound disables the check.
func (g *Gate) IsFresh(id ids.NodeID, now time.Time, bound time.Duration) bool {
	if bound <= 0 {
		return true
	}
	last, ok := g.LastAdmission(id)
	return ok && now.Sub(last) <= bound
}
