// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/ids"

	"github.com/luxfi/horizon/geometry"
)

// CompareDigests orders payload digests as unsigned big-endian integers.
func CompareDigests(a, b ids.ID) int {
	x := new(uint256.Int).SetBytes(a[:])
	y := new(uint256.Int).SetBytes(b[:])
	return x.Cmp(y)
}

// pickWinner returns the index of the proposal in [candidates] that wins
// its conflict group: the anchor closest to the origin, then the smallest
// digest. It returns -1 if there are no candidates.
func pickWinner(candidates []Proposal) (int, error) {
	winner := -1
	var best float64
	for i, p := range candidates {
		d, err := geometry.DistanceFromOrigin(p.Anchor)
		if err != nil {
			return -1, err
		}
		switch {
		case winner == -1, d < best:
		case d == best && CompareDigests(p.PayloadDigest, candidates[winner].PayloadDigest) < 0:
		default:
			continue
		}
		winner, best = i, d
	}
	return winner, nil
}
