// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gate

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/luxfi/ids"
	"github.com/spaolacci/murmur3"

	"github.com/luxfi/horizon/geometry"
	utilmath "github.com/luxfi/horizon/utils/math"
)

// Mode is how an admission decision was reached.
type Mode uint8

const (
	// AboveThreshold reports cleared the threshold and were admitted outright.
	AboveThreshold Mode = iota + 1
	// Frozen reports were rejected outright because the scope has no
	// temperature.
	Frozen
	// Thermal reports were decided by a seeded draw.
	Thermal
)

func (m Mode) String() string {
	switch m {
	case AboveThreshold:
		return "above_threshold"
	case Frozen:
		return "frozen"
	case Thermal:
		return "thermal"
	default:
		return "unknown"
	}
}

// Report is a candidate item submitted by a participant.
type Report struct {
	SourceID      ids.NodeID
	RoundID       uint64
	PayloadDigest ids.ID
	Relevance     float64
	Confidence    float64
}

// AdmissionRecord is the full account of one admission decision.
type AdmissionRecord struct {
	Report   Report
	Params   Params
	Source   geometry.Point
	Target   geometry.Point
	Distance float64
	// Received is the report's energy after geometric attenuation.
	Received float64
	// Probability is 1 or 0 for outright decisions.
	Probability float64
	// Draw is the seeded sample compared against Probability. It is only
	// set for Thermal decisions.
	Draw     float64
	Mode     Mode
	Admitted bool
}

// Evaluate decides whether [report], sent from [source] toward [target], is
// admitted under [params]. It is a pure function of its inputs.
func Evaluate(report Report, source, target geometry.Point, params Params) (AdmissionRecord, error) {
	if err := params.Validate(); err != nil {
		return AdmissionRecord{}, err
	}
	dist, err := geometry.Distance(source, target)
	if err != nil {
		return AdmissionRecord{}, fmt.Errorf("attenuating report from %s: %w", report.SourceID, err)
	}

	r := AdmissionRecord{
		Report:   report,
		Params:   params,
		Source:   source.Clone(),
		Target:   target.Clone(),
		Distance: dist,
		Received: Received(report, dist, params.Decay),
	}
	switch {
	case r.Received >= params.Threshold:
		r.Mode = AboveThreshold
		r.Probability = 1
		r.Admitted = true
	case params.Temperature <= MinTemperature:
		r.Mode = Frozen
	default:
		r.Mode = Thermal
		r.Probability = math.Exp(-(params.Threshold - r.Received) / params.Temperature)
		r.Draw = Draw(report.RoundID, report.SourceID, report.PayloadDigest)
		r.Admitted = r.Draw < r.Probability
	}
	return r, nil
}

// Received returns clamp(confidence·relevance, 0, 1)·e^(-decay·distance).
func Received(report Report, distance, decay float64) float64 {
	return utilmath.Unit(report.Confidence*report.Relevance) * math.Exp(-decay*distance)
}

// Draw returns a value in [0, 1) determined entirely by its arguments. The
// murmur3-128 hash of the round id (big endian), source id and payload
// digest seeds a PCG generator.
func Draw(roundID uint64, sourceID ids.NodeID, digest ids.ID) float64 {
	buf := make([]byte, 0, 8+len(sourceID)+len(digest))
	buf = binary.BigEndian.AppendUint64(buf, roundID)
	buf = append(buf, sourceID[:]...)
	buf = append(buf, digest[:]...)
	h1, h2 := murmur3.Sum128(buf)
	return rand.New(rand.NewPCG(h1, h2)).Float64()
}
