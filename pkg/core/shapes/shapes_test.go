// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	noShape := NoShape()
	require.False(t, noShape.HasShape())
	require.False(t, noShape.RankKnown())
	require.Equal(t, -1, noShape.Rank())
	require.Equal(t, "(NoShape)", noShape.String())

	shape0 := Make(dtypes.Int64)
	require.True(t, shape0.HasShape())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, "(Int64)", shape0.String())

	shape1 := Make(dtypes.Float32, UnknownDim, 5)
	require.Equal(t, 2, shape1.Rank())
	require.False(t, shape1.IsPinned(0))
	require.True(t, shape1.IsPinned(1))
	require.Equal(t, 5, shape1.Dim(-1))
	require.False(t, shape1.IsFullyKnown())
	require.Equal(t, -1, shape1.Size())
	require.Equal(t, "(Float32)[? 5]", shape1.String())

	unknown := MakeUnknownRank(dtypes.Float32)
	require.True(t, unknown.HasShape())
	require.False(t, unknown.RankKnown())
	require.Equal(t, -1, unknown.Rank())
	require.False(t, unknown.IsScalar())
	require.Equal(t, "(Float32)[...]", unknown.String())
	require.Panics(t, func() { _ = unknown.Dim(0) })

	require.Panics(t, func() { _ = Make(dtypes.Float32, -3) })
	require.Panics(t, func() { _ = shape1.Dim(2) })
}

func TestCompatible(t *testing.T) {
	a := Make(dtypes.Float32, UnknownDim, 5)
	assert.True(t, a.Compatible(Make(dtypes.Float32, 3, 5)))
	assert.True(t, a.Compatible(Make(dtypes.Float32, 3, UnknownDim)))
	assert.False(t, a.Compatible(Make(dtypes.Float32, 3, 4)))
	assert.False(t, a.Compatible(Make(dtypes.Float32, 5)))
	assert.False(t, a.Compatible(Make(dtypes.Int32, 3, 5)))
	assert.True(t, a.Compatible(MakeUnknownRank(dtypes.Float32)))

	assert.True(t, a.Equal(Make(dtypes.Float32, UnknownDim, 5)))
	assert.False(t, a.Equal(Make(dtypes.Float32, 3, 5)))
}

func TestSameBroadcastPattern(t *testing.T) {
	a := Make(dtypes.Float32, 1, UnknownDim, 7)
	assert.True(t, a.SameBroadcastPattern(Make(dtypes.Float32, 1, 3, UnknownDim)))
	assert.False(t, a.SameBroadcastPattern(Make(dtypes.Float32, UnknownDim, 3, 7)))
	assert.False(t, a.SameBroadcastPattern(Make(dtypes.Float32, 1, 3)))
}

func TestCheckDims(t *testing.T) {
	s := Make(dtypes.Int64, 2, UnknownDim)
	require.NoError(t, s.CheckDims(2, UnknownDim))
	require.NoError(t, s.CheckDims(UncheckedAxis, UncheckedAxis))
	require.Error(t, s.CheckDims(2, 3))
	require.Error(t, s.CheckDims(2))
	require.NoError(t, s.Check(dtypes.Int64, 2, UncheckedAxis))
	require.Error(t, s.Check(dtypes.Int32, 2, UncheckedAxis))
	require.Panics(t, func() { s.AssertRank(3) })
	require.Error(t, MakeUnknownRank(dtypes.Int64).CheckDims())
}
