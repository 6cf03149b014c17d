// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
	"github.com/gomlx/shapeopt/pkg/support/sets"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/pkg/errors"
)

// NewAxis is used in DimShuffleOp.NewOrder to insert a new broadcastable axis (of dimension 1).
const NewAxis = -1

// DimShuffleOp reorders the axes of its operand, inserting new broadcastable axes (NewAxis) and
// dropping axes that are broadcastable (of dimension 1).
type DimShuffleOp struct {
	NewOrder []int
}

var (
	_ graph.ShapeInferer = (*DimShuffleOp)(nil)
	_ graph.Folder       = (*DimShuffleOp)(nil)
)

// Type implements graph.Op.
func (op *DimShuffleOp) Type() graph.OpType { return graph.OpTypeDimShuffle }

// String implements graph.Op.
func (op *DimShuffleOp) String() string {
	parts := xslices.Map(op.NewOrder, func(axis int) string {
		if axis == NewAxis {
			return "x"
		}
		return fmt.Sprintf("%d", axis)
	})
	return fmt.Sprintf("DimShuffle{%s}", strings.Join(parts, ","))
}

// Equal implements graph.Op.
func (op *DimShuffleOp) Equal(other graph.Op) bool {
	o, ok := other.(*DimShuffleOp)
	return ok && slices.Equal(o.NewOrder, op.NewOrder)
}

// OutputShapes implements graph.Op.
func (op *DimShuffleOp) OutputShapes(inputs []*graph.Value) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s takes 1 operand, got %d", op, len(inputs))
	}
	xShape := inputs[0].Shape()
	if !xShape.RankKnown() {
		return nil, errors.Errorf("%s: operand %s must have a known rank, got %s", op, inputs[0], xShape)
	}
	used := sets.Make[int]()
	dims := make([]int, len(op.NewOrder))
	for ii, axis := range op.NewOrder {
		if axis == NewAxis {
			dims[ii] = 1
			continue
		}
		if axis < 0 || axis >= xShape.Rank() || used.Has(axis) {
			return nil, errors.Errorf("%s: invalid axis %d for operand of shape %s", op, axis, xShape)
		}
		used.Insert(axis)
		dims[ii] = xShape.Dim(axis)
	}
	for axis := range xShape.Rank() {
		if !used.Has(axis) && !xShape.IsBroadcastable(axis) {
			return nil, errors.Errorf("%s: cannot drop axis %d of shape %s, it is not broadcastable", op, axis, xShape)
		}
	}
	return []shapes.Shape{shapes.Make(xShape.DType, dims...)}, nil
}

// InferShape implements graph.ShapeInferer.
func (op *DimShuffleOp) InferShape(_ *graph.Graph, node *graph.Node, inputShapes [][]*graph.Value) ([][]*graph.Value, error) {
	if inputShapes[0] == nil {
		return nil, cannotInfer(node, "operand shape unknown")
	}
	tuple := make([]*graph.Value, len(op.NewOrder))
	for ii, axis := range op.NewOrder {
		if axis == NewAxis {
			tuple[ii] = Const(1)
		} else {
			tuple[ii] = inputShapes[0][axis]
		}
	}
	return [][]*graph.Value{tuple}, nil
}

// KeepsOrder returns whether the non-broadcastable axes kept are in their original order, in which
// case the operator doesn't move any data.
func (op *DimShuffleOp) KeepsOrder() bool {
	kept := xslices.Filter(op.NewOrder, func(axis int) bool { return axis != NewAxis })
	return slices.IsSorted(kept)
}

// Fold implements graph.Folder, for shuffles that don't move data.
func (op *DimShuffleOp) Fold(node *graph.Node, inputs []*graph.Literal) ([]*graph.Literal, error) {
	if !op.KeepsOrder() {
		return nil, errors.Errorf("%s: transpositions are not folded", op)
	}
	dims := make([]int, len(op.NewOrder))
	for ii, axis := range op.NewOrder {
		if axis == NewAxis {
			dims[ii] = 1
		} else {
			dims[ii] = inputs[0].Shape().Dim(axis)
		}
	}
	return []*graph.Literal{graph.NewLiteral(node.Output(0).DType(), inputs[0].Data(), dims...)}, nil
}

// DimShuffle reorders the axes of x according to newOrder: each element is an axis of x, or NewAxis to
// insert a new axis of dimension 1. Axes of x not listed must have dimension 1.
func DimShuffle(x *graph.Value, newOrder ...int) *graph.Value {
	return apply1(&DimShuffleOp{NewOrder: slices.Clone(newOrder)}, x)
}

// UnbroadcastOp marks axes of its operand as not broadcastable: axes of static dimension 1 become of
// unknown dimension. Values are not changed.
type UnbroadcastOp struct {
	// Axes marked, sorted and unique.
	Axes []int
}

var (
	_ graph.ShapeInferer = (*UnbroadcastOp)(nil)
	_ graph.Folder       = (*UnbroadcastOp)(nil)
)

// Type implements graph.Op.
func (op *UnbroadcastOp) Type() graph.OpType { return graph.OpTypeUnbroadcast }

// String implements graph.Op.
func (op *UnbroadcastOp) String() string {
	return fmt.Sprintf("Unbroadcast{%s}", strings.Join(xslices.Map(op.Axes, func(axis int) string { return fmt.Sprintf("%d", axis) }), ","))
}

// Equal implements graph.Op.
func (op *UnbroadcastOp) Equal(other graph.Op) bool {
	o, ok := other.(*UnbroadcastOp)
	return ok && slices.Equal(o.Axes, op.Axes)
}

// OutputShapes implements graph.Op.
func (op *UnbroadcastOp) OutputShapes(inputs []*graph.Value) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s takes 1 operand, got %d", op, len(inputs))
	}
	xShape := inputs[0].Shape()
	if !xShape.RankKnown() {
		return nil, errors.Errorf("%s: operand %s must have a known rank, got %s", op, inputs[0], xShape)
	}
	output := xShape.Clone()
	for _, axis := range op.Axes {
		if axis < 0 || axis >= xShape.Rank() {
			return nil, errors.Errorf("%s: invalid axis %d for operand of shape %s", op, axis, xShape)
		}
		if output.Dimensions[axis] == 1 {
			output.Dimensions[axis] = shapes.UnknownDim
		}
	}
	return []shapes.Shape{output}, nil
}

// InferShape implements graph.ShapeInferer: the shape is the one of the operand.
func (op *UnbroadcastOp) InferShape(_ *graph.Graph, node *graph.Node, inputShapes [][]*graph.Value) ([][]*graph.Value, error) {
	if inputShapes[0] == nil {
		return nil, cannotInfer(node, "operand shape unknown")
	}
	return [][]*graph.Value{inputShapes[0]}, nil
}

// Fold implements graph.Folder.
func (op *UnbroadcastOp) Fold(_ *graph.Node, inputs []*graph.Literal) ([]*graph.Literal, error) {
	return []*graph.Literal{inputs[0]}, nil
}

// Unbroadcast marks the given axes of x as not broadcastable. If no axes are given, x is returned.
func Unbroadcast(x *graph.Value, axes ...int) *graph.Value {
	if len(axes) == 0 {
		return x
	}
	return apply1(&UnbroadcastOp{Axes: sets.Sorted(sets.MakeWith(axes...))}, x)
}
