// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package auditdb persists audit entries in a database.Database.
package auditdb

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"

	"github.com/luxfi/horizon/audit"
)

var entryPrefix = []byte("audit:")

var _ audit.Sink = (*DB)(nil)

// record is the stored form of an audit.Entry. Floats are kept as their
// IEEE-754 bits so values read back are bit-identical.
type record struct {
	Seq         uint64     `serialize:"true"`
	Kind        uint8      `serialize:"true"`
	RoundID     uint64     `serialize:"true"`
	Participant ids.NodeID `serialize:"true"`
	UnixNano    int64      `serialize:"true"`
	ValueBits   uint64     `serialize:"true"`
	Detail      string     `serialize:"true"`
}

// DB is an audit.Sink backed by a database. Entries are keyed by sequence
// number, so iteration returns them in order.
type DB struct {
	db database.Database
}

func New(db database.Database) *DB {
	return &DB{db: db}
}

func key(seq uint64) []byte {
	k := make([]byte, len(entryPrefix)+8)
	copy(k, entryPrefix)
	binary.BigEndian.PutUint64(k[len(entryPrefix):], seq)
	return k
}

func (d *DB) Record(e audit.Entry) error {
	r := record{
		Seq:         e.Seq,
		Kind:        uint8(e.Kind),
		RoundID:     e.RoundID,
		Participant: e.Participant,
		UnixNano:    e.Time.UnixNano(),
		ValueBits:   math.Float64bits(e.Value),
		Detail:      e.Detail,
	}
	bytes, err := Codec.Marshal(codecVersion, &r)
	if err != nil {
		return fmt.Errorf("marshalling audit entry %d: %w", e.Seq, err)
	}
	return d.db.Put(key(e.Seq), bytes)
}

// Get returns the entry with sequence number [seq].
func (d *DB) Get(seq uint64) (audit.Entry, error) {
	bytes, err := d.db.Get(key(seq))
	if err != nil {
		return audit.Entry{}, err
	}
	return parse(bytes)
}

// Entries returns every stored entry in sequence order.
func (d *DB) Entries() ([]audit.Entry, error) {
	iter := d.db.NewIteratorWithPrefix(entryPrefix)
	defer iter.Release()

	var out []audit.Entry
	for iter.Next() {
		e, err := parse(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

func parse(bytes []byte) (audit.Entry, error) {
	var r record
	if _, err := Codec.Unmarshal(bytes, &r); err != nil {
		return audit.Entry{}, fmt.Errorf("unmarshalling audit entry: %w", err)
	}
	return audit.Entry{
		Seq:         r.Seq,
		Kind:        audit.Kind(r.Kind),
		RoundID:     r.RoundID,
		Participant: r.Participant,
		Time:        time.Unix(0, r.UnixNano).UTC(),
		Value:       math.Float64frombits(r.ValueBits),
		Detail:      r.Detail,
	}, nil
}
