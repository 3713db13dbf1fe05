// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package priority orders rounds whose deadlines expire together.
package priority

import (
	"cmp"
	"fmt"
	"math"
)

// Priority is either a finite value or Unbounded. Unbounded is greater than
// every finite priority. The zero value is Finite(0).
type Priority struct {
	unbounded bool
	value     float64
}

// Unbounded is the greatest priority.
var Unbounded = Priority{unbounded: true}

// Finite returns the priority [v]. NaN is treated as 0 and +Inf as Unbounded.
func Finite(v float64) Priority {
	switch {
	case math.IsNaN(v):
		return Priority{}
	case math.IsInf(v, 1):
		return Unbounded
	default:
		return Priority{value: v}
	}
}

// IsUnbounded reports whether p is Unbounded.
func (p Priority) IsUnbounded() bool {
	return p.unbounded
}

// Value returns the finite value of p, or +Inf if p is Unbounded.
func (p Priority) Value() float64 {
	if p.unbounded {
		return math.Inf(1)
	}
	return p.value
}

// Compare returns -1, 0 or +1 as p is less than, equal to or greater than q.
func (p Priority) Compare(q Priority) int {
	switch {
	case p.unbounded && q.unbounded:
		return 0
	case p.unbounded:
		return 1
	case q.unbounded:
		return -1
	default:
		return cmp.Compare(p.value, q.value)
	}
}

func (p Priority) String() string {
	if p.unbounded {
		return "unbounded"
	}
	return fmt.Sprintf("%g", p.value)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "unbounded" {
		*p = Unbounded
		return nil
	}
	var v float64
	if _, err := fmt.Sscanf(s, "%g", &v); err != nil {
		return fmt.Errorf("invalid priority %q: %w", s, err)
	}
	*p = Finite(v)
	return nil
}
