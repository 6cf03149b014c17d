// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
	"github.com/pkg/errors"
)

// SpecifyShapeOp asserts the shape of its first operand, and returns it unchanged.
//
// It takes one extra operand per axis of x: an integer scalar with the asserted dimension, or
// graph.NoneConst() if the axis is unconstrained.
type SpecifyShapeOp struct{}

var _ graph.ShapeInferer = (*SpecifyShapeOp)(nil)

// Type implements graph.Op.
func (op *SpecifyShapeOp) Type() graph.OpType { return graph.OpTypeSpecifyShape }

// String implements graph.Op.
func (op *SpecifyShapeOp) String() string { return "SpecifyShape" }

// Equal implements graph.Op.
func (op *SpecifyShapeOp) Equal(other graph.Op) bool {
	_, ok := other.(*SpecifyShapeOp)
	return ok
}

// OutputShapes implements graph.Op.
func (op *SpecifyShapeOp) OutputShapes(inputs []*graph.Value) ([]shapes.Shape, error) {
	if len(inputs) == 0 {
		return nil, errors.New("SpecifyShape requires at least the operand")
	}
	x, specified := inputs[0], inputs[1:]
	xShape := x.Shape()
	if !xShape.HasShape() {
		return nil, errors.Errorf("SpecifyShape: operand %s is not a tensor", x)
	}
	if xShape.RankKnown() && xShape.Rank() != len(specified) {
		return nil, errors.Errorf("SpecifyShape: operand %s has rank %d, but %d dimensions were specified",
			x, xShape.Rank(), len(specified))
	}
	dims := make([]int, len(specified))
	for ii, s := range specified {
		dims[ii] = shapes.UnknownDim
		if xShape.RankKnown() {
			dims[ii] = xShape.Dim(ii)
		}
		if graph.IsNone(s) {
			continue
		}
		if !isIntegerScalar(s) {
			return nil, errors.Errorf("SpecifyShape: dimension #%d (%s) must be an integer scalar or None, got %s", ii, s, s.Shape())
		}
		value, ok := ScalarConstantValue(s)
		if !ok {
			continue
		}
		if value < 0 {
			return nil, errors.Errorf("SpecifyShape: dimension #%d has invalid value %d", ii, value)
		}
		if dims[ii] != shapes.UnknownDim && dims[ii] != int(value) {
			return nil, errors.Errorf("SpecifyShape: operand %s of shape %s can't have dimension %d on axis %d",
				x, xShape, value, ii)
		}
		dims[ii] = int(value)
	}
	return []shapes.Shape{shapes.Make(x.DType(), dims...)}, nil
}

// InferShape implements graph.ShapeInferer: specified dimensions are taken as is, unconstrained ones from
// the operand's shape.
func (op *SpecifyShapeOp) InferShape(_ *graph.Graph, node *graph.Node, inputShapes [][]*graph.Value) ([][]*graph.Value, error) {
	specified := node.Inputs()[1:]
	tuple := make([]*graph.Value, len(specified))
	for ii, s := range specified {
		if !graph.IsNone(s) {
			tuple[ii] = s
			continue
		}
		if inputShapes[0] == nil {
			return nil, cannotInfer(node, "operand rank unknown")
		}
		tuple[ii] = inputShapes[0][ii]
	}
	return [][]*graph.Value{tuple}, nil
}

// SpecifyShape asserts that x has the given dimensions: one integer scalar (or graph.NoneConst() for
// an unconstrained axis) per axis.
func SpecifyShape(x *graph.Value, dims ...*graph.Value) *graph.Value {
	return apply1(&SpecifyShapeOp{}, append([]*graph.Value{x}, dims...)...)
}

// SpecifyShapeDims asserts that x has the given constant dimensions. Dimensions set to
// shapes.UnknownDim are unconstrained.
func SpecifyShapeDims(x *graph.Value, dims ...int) *graph.Value {
	values := make([]*graph.Value, len(dims))
	for ii, d := range dims {
		if d == shapes.UnknownDim {
			values[ii] = graph.NoneConst()
		} else {
			values[ii] = Const(int64(d))
		}
	}
	return SpecifyShape(x, values...)
}
