// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wrappers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrsAddKeepsFirst(t *testing.T) {
	require := require.New(t)

	errA := errors.New("a")
	errB := errors.New("b")

	errs := Errs{}
	require.False(errs.Errored())

	errs.Add(nil, errA, errB)
	errs.Add(errB)
	require.True(errs.Errored())
	require.Equal(errA, errs.Err)
}

func TestErrsJoinKeepsAll(t *testing.T) {
	require := require.New(t)

	errA := errors.New("a")
	errB := errors.New("b")

	errs := Errs{}
	errs.Join(nil)
	require.False(errs.Errored())

	errs.Join(errA)
	errs.Join(nil, errB)
	require.ErrorIs(errs.Err, errA)
	require.ErrorIs(errs.Err, errB)
}
