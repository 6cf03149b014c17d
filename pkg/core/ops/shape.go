// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ShapeOp returns the shape of its operand as an int64 vector.
type ShapeOp struct{}

var (
	_ graph.ShapeInferer = (*ShapeOp)(nil)
	_ graph.Folder       = (*ShapeOp)(nil)
)

// Type implements graph.Op.
func (op *ShapeOp) Type() graph.OpType { return graph.OpTypeShape }

// String implements graph.Op.
func (op *ShapeOp) String() string { return "Shape" }

// Equal implements graph.Op.
func (op *ShapeOp) Equal(other graph.Op) bool {
	_, ok := other.(*ShapeOp)
	return ok
}

// OutputShapes implements graph.Op.
func (op *ShapeOp) OutputShapes(inputs []*graph.Value) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("Shape takes 1 operand, got %d", len(inputs))
	}
	if !inputs[0].Shape().HasShape() {
		return nil, errors.Errorf("Shape: operand %s is not a tensor", inputs[0])
	}
	return []shapes.Shape{shapes.Make(dtypes.Int64, inputs[0].Rank())}, nil
}

// InferShape implements graph.ShapeInferer: the shape of the shape is its rank.
func (op *ShapeOp) InferShape(_ *graph.Graph, node *graph.Node, _ [][]*graph.Value) ([][]*graph.Value, error) {
	rank := node.Input(0).Rank()
	if rank < 0 {
		return nil, cannotInfer(node, "operand rank unknown")
	}
	return [][]*graph.Value{{Const(int64(rank))}}, nil
}

// Fold implements graph.Folder.
func (op *ShapeOp) Fold(_ *graph.Node, inputs []*graph.Literal) ([]*graph.Literal, error) {
	dims := inputs[0].Shape().Dimensions
	return []*graph.Literal{graph.NewLiteral(dtypes.Int64, Dims(dims...), len(dims))}, nil
}

// Shape returns the shape of x as an int64 vector.
func Shape(x *graph.Value) *graph.Value {
	return apply1(&ShapeOp{}, x)
}

// ShapeIOp returns the dimension of one axis of its operand, as an int64 scalar.
// It is the dimension accessor tracked by the shape feature.
type ShapeIOp struct {
	Axis int
}

var (
	_ graph.ShapeInferer = (*ShapeIOp)(nil)
	_ graph.Folder       = (*ShapeIOp)(nil)
)

// Type implements graph.Op.
func (op *ShapeIOp) Type() graph.OpType { return graph.OpTypeShapeI }

// String implements graph.Op.
func (op *ShapeIOp) String() string { return fmt.Sprintf("ShapeI{%d}", op.Axis) }

// Equal implements graph.Op.
func (op *ShapeIOp) Equal(other graph.Op) bool {
	o, ok := other.(*ShapeIOp)
	return ok && o.Axis == op.Axis
}

// OutputShapes implements graph.Op.
func (op *ShapeIOp) OutputShapes(inputs []*graph.Value) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s takes 1 operand, got %d", op, len(inputs))
	}
	shape := inputs[0].Shape()
	if shape.RankKnown() && (op.Axis < 0 || op.Axis >= shape.Rank()) {
		return nil, errors.Errorf("%s: axis out of range for operand %s of shape %s", op, inputs[0], shape)
	}
	if !shape.HasShape() || op.Axis < 0 {
		return nil, errors.Errorf("%s: invalid operand %s of shape %s", op, inputs[0], shape)
	}
	return []shapes.Shape{shapes.Scalar(dtypes.Int64)}, nil
}

// InferShape implements graph.ShapeInferer: the output is a scalar.
func (op *ShapeIOp) InferShape(_ *graph.Graph, _ *graph.Node, _ [][]*graph.Value) ([][]*graph.Value, error) {
	return [][]*graph.Value{{}}, nil
}

// Fold implements graph.Folder.
func (op *ShapeIOp) Fold(_ *graph.Node, inputs []*graph.Literal) ([]*graph.Literal, error) {
	dim := inputs[0].Shape().Dim(op.Axis)
	return []*graph.Literal{graph.NewLiteral(dtypes.Int64, []int64{int64(dim)})}, nil
}

// ShapeI returns the dimension of the given axis of x, as an int64 scalar.
func ShapeI(x *graph.Value, axis int) *graph.Value {
	return apply1(&ShapeIOp{Axis: axis}, x)
}

// ShapeIAxis returns the axis of a dimension accessor node, and whether node is one.
func ShapeIAxis(node *graph.Node) (axis int, ok bool) {
	if node == nil {
		return 0, false
	}
	op, ok := node.Op().(*ShapeIOp)
	if !ok {
		return 0, false
	}
	return op.Axis, true
}

// AsShapeI returns the operand and axis if v is computed by a dimension accessor.
func AsShapeI(v *graph.Value) (x *graph.Value, axis int, ok bool) {
	if v == nil {
		return nil, 0, false
	}
	axis, ok = ShapeIAxis(v.Owner())
	if !ok {
		return nil, 0, false
	}
	return v.Owner().Input(0), axis, true
}
