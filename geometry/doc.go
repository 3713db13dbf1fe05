// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

/*
Package geometry implements the Poincaré ball model of hyperbolic space with
constant curvature -1.

# Points

A Point is a coordinate vector strictly inside the open unit ball. Every
exported operation checks that its inputs and outputs satisfy

	‖p‖ < 1 - Epsilon

and fails with ErrSingularity otherwise. Nothing in this package clamps a
point on its own; callers that prefer to clamp do so explicitly with Clamp
after receiving the error.

# Operations

Distance evaluates the hyperbolic metric. MobiusAdd is the gyrovector
addition law, from which Translate (the isometry sending a point to the
origin), ExpMap, LogMap and ParallelTransport are built. GeometricMedian is a
Riemannian Weiszfeld iteration used for robust centering of point sets.

All functions are pure and safe for concurrent use.
*/
package geometry
