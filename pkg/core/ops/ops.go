// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops implements the operators of the graph that shape tracking and shape rewrites deal with:
// Shape, ShapeI, Reshape, SpecifyShape, MakeVector, Subtensor, DimShuffle, Unbroadcast, Elemwise
// and Cast.
//
// Each operator computes the static type of its outputs (graph.Op), and most can also express the
// symbolic shape of their outputs from the symbolic shapes of their inputs (graph.ShapeInferer) and
// compute their outputs from constant inputs (graph.Folder).
//
// The builder functions (Reshape, Shape, ...) follow the graph-building convention: they return the
// output value and panic (with a stack trace) if the arguments are invalid. Use exceptions.TryCatch
// to convert the panic to an error.
package ops

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/pkg/errors"
)

// apply creates a node with op applied to inputs, and panics if the inputs are invalid.
func apply(op graph.Op, inputs ...*graph.Value) *graph.Node {
	node, err := graph.Apply(op, inputs...)
	if err != nil {
		panic(errors.WithMessagef(err, "ops: failed to build %s", op))
	}
	return node
}

// apply1 is like apply, and returns the only output of the node.
func apply1(op graph.Op, inputs ...*graph.Value) *graph.Value {
	return apply(op, inputs...).Output(0)
}

// Const returns a new int64 scalar constant.
func Const(value int64) *graph.Value {
	return graph.Int64Scalar(value)
}

// ConstVector returns a new int64 rank-1 constant.
func ConstVector(values ...int64) *graph.Value {
	return graph.VectorConstant(dtypes.Int64, values)
}

// Dims converts int dimensions to the int64 used by shape values.
func Dims(dims ...int) []int64 {
	result := make([]int64, len(dims))
	for ii, d := range dims {
		result[ii] = int64(d)
	}
	return result
}

// isIntegerScalar returns whether v is a scalar of integer (or bool) dtype.
func isIntegerScalar(v *graph.Value) bool {
	shape := v.Shape()
	return shape.IsScalar() && (shape.DType.IsInt() || shape.DType == dtypes.Bool)
}

// cannotInfer returns graph.ErrCannotInferShape with the given context.
func cannotInfer(node *graph.Node, format string, args ...any) error {
	return errors.Wrapf(graph.ErrCannotInferShape, "%s: "+format, append([]any{node.Op()}, args...)...)
}
