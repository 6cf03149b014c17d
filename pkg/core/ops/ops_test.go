// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops_test

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	. "github.com/gomlx/shapeopt/pkg/core/ops"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const U = shapes.UnknownDim

func input(name string, dims ...int) *graph.Value {
	return graph.NewInput(name, shapes.Make(dtypes.Float32, dims...))
}

func TestShapeOps(t *testing.T) {
	x := input("x", U, 5)
	s := Shape(x)
	assert.Equal(t, "(Int64)[2]", s.Shape().String())
	assert.Equal(t, graph.OpTypeShape, s.OwnerType())

	s0 := ShapeI(x, 0)
	assert.True(t, s0.Shape().IsScalar())
	gotX, axis, ok := AsShapeI(s0)
	require.True(t, ok)
	assert.Equal(t, x, gotX)
	assert.Equal(t, 0, axis)
	_, _, ok = AsShapeI(s)
	assert.False(t, ok)

	require.Panics(t, func() { _ = ShapeI(x, 2) })

	unknownRank := graph.NewInput("u", shapes.MakeUnknownRank(dtypes.Float32))
	assert.False(t, Shape(unknownRank).Shape().IsPinned(0))
}

func TestScalarConstantValue(t *testing.T) {
	x := input("x", U, 5)
	testCases := []struct {
		name  string
		value *graph.Value
		want  int64
		ok    bool
	}{
		{"constant", Const(7), 7, true},
		{"pinned accessor", ShapeI(x, 1), 5, true},
		{"unknown accessor", ShapeI(x, 0), 0, false},
		{"subtensor of shape", Index(Shape(x), 1), 5, true},
		{"negative index", Index(Shape(x), -1), 5, true},
		{"arithmetic", Mul(ShapeI(x, 1), Const(3)), 15, true},
		{"int division", IntDiv(Const(12), ShapeI(x, 1)), 2, true},
		{"unknown arithmetic", Mul(ShapeI(x, 0), Const(3)), 0, false},
		{"cast", Cast(ShapeI(x, 1), dtypes.Int32), 5, true},
		{"make vector element", Index(MakeVector(Const(2), ShapeI(x, 1)), 1), 5, true},
		{"free input", graph.NewInput("n", shapes.Scalar(dtypes.Int64)), 0, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ScalarConstantValue(tc.value)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestExtractVector(t *testing.T) {
	x := input("x", U, 5, 1)
	values, known, ok := ExtractVector(Shape(x))
	require.True(t, ok)
	assert.Equal(t, []bool{false, true, true}, known)
	assert.Equal(t, []int{U, 5, 1}, StaticDims(values, known))

	values, known, ok = ExtractVector(MakeVector(ShapeI(x, 0), Const(-1), Const(3)))
	require.True(t, ok)
	if diff := cmp.Diff([]int{U, U, 3}, StaticDims(values, known)); diff != "" {
		t.Errorf("StaticDims mismatch (-want +got):\n%s", diff)
	}

	_, _, ok = ExtractVector(Const(3))
	assert.False(t, ok)
}

func TestReshape(t *testing.T) {
	x := input("x", 2, 3)
	y := ReshapeDims(x, -1)
	assert.NoError(t, y.Shape().CheckDims(6))

	x2 := input("x2", U, 5)
	y2 := ReshapeDims(x2, -1, 5)
	assert.NoError(t, y2.Shape().CheckDims(U, 5))

	// Shape requested from values only known at run time.
	n := graph.NewInput("n", shapes.Scalar(dtypes.Int64))
	y3 := Reshape(x, MakeVector(n, Const(2)))
	assert.NoError(t, y3.Shape().CheckDims(U, 2))

	err := exceptions.TryCatch[error](func() { _ = ReshapeDims(x, 4, 2) })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { _ = ReshapeDims(x, -1, -1) })
	require.ErrorContains(t, err, "more than one -1")

	// Symbolic inference of the -1 dimension.
	node := y2.Owner()
	inferer := node.Op().(graph.ShapeInferer)
	d0 := graph.NewInput("d0", shapes.Scalar(dtypes.Int64))
	tuples, err := inferer.InferShape(nil, node, [][]*graph.Value{{d0, Const(5)}, {Const(2)}})
	require.NoError(t, err)
	require.Len(t, tuples, 1)
	require.Len(t, tuples[0], 2)
	got, ok := ScalarConstantValue(tuples[0][1])
	require.True(t, ok)
	assert.Equal(t, int64(5), got)
	assert.True(t, graph.IsAncestor(d0, tuples[0][0]))
}

func TestSpecifyShape(t *testing.T) {
	x := input("x", U, U, 3)
	y := SpecifyShapeDims(x, 2, U, 3)
	assert.NoError(t, y.Shape().CheckDims(2, U, 3))
	assert.True(t, graph.IsNone(y.Owner().Input(2)))

	require.Panics(t, func() { _ = SpecifyShapeDims(x, 2, U, 4) })
	require.Panics(t, func() { _ = SpecifyShapeDims(x, 2, U) })

	node := y.Owner()
	d1 := graph.NewInput("d1", shapes.Scalar(dtypes.Int64))
	tuples, err := node.Op().(graph.ShapeInferer).InferShape(nil, node, [][]*graph.Value{
		{graph.NewInput("d0", shapes.Scalar(dtypes.Int64)), d1, Const(3)},
		{}, {}, {},
	})
	require.NoError(t, err)
	assert.Equal(t, node.Input(1), tuples[0][0])
	assert.Equal(t, d1, tuples[0][1])
}

func TestDimShuffle(t *testing.T) {
	x := input("x", U, 1, 5)
	y := DimShuffle(x, 2, NewAxis, 0)
	assert.NoError(t, y.Shape().CheckDims(5, 1, U))
	assert.Equal(t, "DimShuffle{2,x,0}", y.Owner().Op().String())
	assert.False(t, y.Owner().Op().(*DimShuffleOp).KeepsOrder())
	assert.True(t, (&DimShuffleOp{NewOrder: []int{0, NewAxis, 2}}).KeepsOrder())

	// Axis 0 is not broadcastable.
	require.Panics(t, func() { _ = DimShuffle(x, 1, 2) })
	// Repeated axis.
	require.Panics(t, func() { _ = DimShuffle(x, 0, 0, 1) })
}

func TestUnbroadcast(t *testing.T) {
	x := input("x", 1, U, 1)
	assert.Equal(t, x, Unbroadcast(x))
	y := Unbroadcast(x, 2, 0, 2)
	assert.Equal(t, []int{0, 2}, y.Owner().Op().(*UnbroadcastOp).Axes)
	assert.NoError(t, y.Shape().CheckDims(U, U, U))
	assert.Equal(t, "Unbroadcast{0,2}", y.Owner().Op().String())
	require.Panics(t, func() { _ = Unbroadcast(x, 3) })
}

func TestElemwise(t *testing.T) {
	x := input("x", U, 1)
	y := input("y", 3, 4)
	z := Add(x, y)
	assert.NoError(t, z.Shape().CheckDims(3, 4))
	assert.True(t, IsUnaryElemwise(Exp(x).Owner()))
	assert.False(t, IsUnaryElemwise(z.Owner()))
	require.Panics(t, func() { _ = Add(x, input("w", 3)) })
	require.Panics(t, func() { _ = Add(x, Cast(y, dtypes.Int32)) })
}

func TestFold(t *testing.T) {
	x := input("x", 2, 3)
	folded, err := graph.FoldConstants([]*graph.Value{
		Mul(ShapeI(x, 0), ShapeI(x, 1)),
		Shape(x),
		Index(ConstVector(4, 5, 6), -1),
		ReshapeDims(ConstVector(1, 2, 3, 4), 2, -1),
	})
	require.NoError(t, err)
	// ShapeI has a non-constant operand: only static extraction knows its value.
	assert.False(t, folded[0].IsConstant())
	assert.False(t, folded[1].IsConstant())
	require.True(t, folded[2].IsConstant())
	got, _ := folded[2].ScalarValue()
	assert.Equal(t, int64(6), got)
	require.True(t, folded[3].IsConstant())
	assert.NoError(t, folded[3].Shape().CheckDims(2, 2))

	folded, err = graph.FoldConstants([]*graph.Value{Add(Mul(Const(2), Const(3)), Const(1))})
	require.NoError(t, err)
	got, ok := folded[0].ScalarValue()
	require.True(t, ok)
	assert.Equal(t, int64(7), got)
}
