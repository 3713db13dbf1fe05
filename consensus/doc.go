// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

/*
Package consensus decides rounds by spatial quorum.

# Rounds

A round is opened by a coordinating participant around an anchor point and
moves through

	Open -> Tallying -> Committed | Rejected | Inconclusive

Votes are accepted while the round is Open. Late votes and votes from
participants without a recent admission are recorded as non-binding and
never counted.

# Quorum

Finalization first looks for geometric outliers among the binding voters:
the hyperbolic geometric median of their positions is computed, and voters
further from it than OutlierMultiple times the median deviation have their
influence discounted by e^-(excess).

The region around the anchor is then sampled on a star lattice: the anchor
itself plus GridRings points in each direction of each axis, spaced evenly
out to GridRadius in hyperbolic length. The influence of a set of voters on
a sample p is

	I(p) = Σ w_v·e^(-d(p, v)) / N

where N is the number of eligible participants. A sample is covered when
I(p) exceeds InfluenceThreshold. The round commits when the accepting voters
cover at least QuorumRequired of the samples, is rejected when the rejecting
voters do, and is otherwise inconclusive.

# Conflicts

Rounds sharing a conflict key are mutually exclusive. Finalizing a round
that does not commit leaves the others open. When it commits, every open
round of the group is tallied with it: among those that would commit, the
proposal anchored closest to the origin wins, with ties broken by the
smaller payload digest read as a big-endian integer. The winner commits and
every other round of the group is rejected.
*/
package consensus
