// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mockable

import (
	"sync"
	"time"
)

// Epoch is the instant a logical clock starts at.
var Epoch = time.Unix(0, 0).UTC()

// Clock is a logical clock. It only moves when it is told to, which keeps
// every consumer deterministic under replay.
// It is safe for concurrent use.
type Clock struct {
	mu   sync.RWMutex
	init bool
	time time.Time
}

// NewClock returns a clock reading [start].
func NewClock(start time.Time) *Clock {
	return &Clock{init: true, time: start}
}

// Set the time on the clock. The clock never moves backwards; earlier times
// are ignored.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.init && t.Before(c.time) {
		return
	}
	c.init = true
	c.time = t
}

// Advance moves the clock forward by [d] and returns the new time. Negative
// durations are treated as zero.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.init {
		c.init = true
		c.time = Epoch
	}
	if d > 0 {
		c.time = c.time.Add(d)
	}
	return c.time
}

// Time returns the time on this clock
func (c *Clock) Time() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.init {
		return Epoch
	}
	return c.time
}

// Since returns the logical time elapsed since [t], floored at zero.
func (c *Clock) Since(t time.Time) time.Duration {
	return max(c.Time().Sub(t), 0)
}
