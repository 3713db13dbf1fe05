// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package audit defines the ordered trail of admission and consensus
// decisions.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/ids"
)

// Kind identifies what an Entry records.
type Kind uint8

const (
	Admission Kind = iota + 1
	VoteRecorded
	VoteNonBinding
	OutlierFlagged
	RoundFinalized
	RoundCancelled
)

func (k Kind) String() string {
	switch k {
	case Admission:
		return "admission"
	case VoteRecorded:
		return "vote_recorded"
	case VoteNonBinding:
		return "vote_non_binding"
	case OutlierFlagged:
		return "outlier_flagged"
	case RoundFinalized:
		return "round_finalized"
	case RoundCancelled:
		return "round_cancelled"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Entry is one audited decision. Seq is assigned by the Recorder and is
// strictly increasing across every entry it stamps.
type Entry struct {
	Seq         uint64
	Kind        Kind
	RoundID     uint64
	Participant ids.NodeID
	Time        time.Time
	// Value carries the number the decision turned on: admission
	// probability, outlier weight, or accept coverage.
	Value  float64
	Detail string
}

func (e Entry) String() string {
	return fmt.Sprintf("#%d %s round=%d participant=%s value=%g %s",
		e.Seq, e.Kind, e.RoundID, e.Participant, e.Value, e.Detail)
}

// Sink receives audit entries in sequence order.
type Sink interface {
	Record(Entry) error
}

// NoOp discards every entry.
var NoOp Sink = noOp{}

type noOp struct{}

func (noOp) Record(Entry) error { return nil }

// Recorder stamps entries with sequence numbers and forwards them to a Sink.
// It is safe for concurrent use; entries reach the sink in Seq order.
type Recorder struct {
	mu   sync.Mutex
	next uint64
	sink Sink
}

func NewRecorder(sink Sink) *Recorder {
	if sink == nil {
		sink = NoOp
	}
	return &Recorder{next: 1, sink: sink}
}

// Record stamps [e], forwards it and returns the stamped entry. The entry is
// returned even if the sink failed.
func (r *Recorder) Record(e Entry) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.Seq = r.next
	r.next++
	if err := r.sink.Record(e); err != nil {
		return e, fmt.Errorf("recording audit entry %d: %w", e.Seq, err)
	}
	return e, nil
}

// Memory keeps every entry in memory.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, e)
	return nil
}

// Entries returns a copy of the recorded entries.
func (m *Memory) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Round returns the recorded entries for [roundID].
func (m *Memory) Round(roundID uint64) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries {
		if e.RoundID == roundID {
			out = append(out, e)
		}
	}
	return out
}
