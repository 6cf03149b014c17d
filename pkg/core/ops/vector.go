// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
	"github.com/pkg/errors"
)

// MakeVectorOp stacks scalar operands into a rank-1 vector.
type MakeVectorOp struct {
	DType dtypes.DType
}

var (
	_ graph.ShapeInferer = (*MakeVectorOp)(nil)
	_ graph.Folder       = (*MakeVectorOp)(nil)
)

// Type implements graph.Op.
func (op *MakeVectorOp) Type() graph.OpType { return graph.OpTypeMakeVector }

// String implements graph.Op.
func (op *MakeVectorOp) String() string { return fmt.Sprintf("MakeVector{%s}", op.DType) }

// Equal implements graph.Op.
func (op *MakeVectorOp) Equal(other graph.Op) bool {
	o, ok := other.(*MakeVectorOp)
	return ok && o.DType == op.DType
}

// OutputShapes implements graph.Op.
func (op *MakeVectorOp) OutputShapes(inputs []*graph.Value) ([]shapes.Shape, error) {
	for ii, input := range inputs {
		shape := input.Shape()
		if !shape.IsScalar() || shape.DType != op.DType {
			return nil, errors.Errorf("%s: element #%d (%s) must be a %s scalar, got %s", op, ii, input, op.DType, shape)
		}
	}
	return []shapes.Shape{shapes.Make(op.DType, len(inputs))}, nil
}

// InferShape implements graph.ShapeInferer.
func (op *MakeVectorOp) InferShape(_ *graph.Graph, node *graph.Node, _ [][]*graph.Value) ([][]*graph.Value, error) {
	return [][]*graph.Value{{Const(int64(node.NumInputs()))}}, nil
}

// Fold implements graph.Folder.
func (op *MakeVectorOp) Fold(_ *graph.Node, inputs []*graph.Literal) ([]*graph.Literal, error) {
	data := make([]int64, len(inputs))
	for ii, lit := range inputs {
		data[ii] = lit.Data()[0]
	}
	return []*graph.Literal{graph.NewLiteral(op.DType, data, len(data))}, nil
}

// MakeVector stacks scalars into a vector. All elements must have the same dtype.
// It panics if no elements are given: use MakeVectorOf for that.
func MakeVector(elements ...*graph.Value) *graph.Value {
	if len(elements) == 0 {
		exceptions.Panicf("MakeVector requires at least one element, use MakeVectorOf to create empty vectors")
	}
	return MakeVectorOf(elements[0].DType(), elements...)
}

// MakeVectorOf stacks scalars of the given dtype into a vector.
func MakeVectorOf(dtype dtypes.DType, elements ...*graph.Value) *graph.Value {
	return apply1(&MakeVectorOp{DType: dtype}, elements...)
}

// SubtensorOp indexes a rank-1 vector with a scalar index, returning a scalar.
// Negative indices count from the end.
type SubtensorOp struct{}

var (
	_ graph.ShapeInferer = (*SubtensorOp)(nil)
	_ graph.Folder       = (*SubtensorOp)(nil)
)

// Type implements graph.Op.
func (op *SubtensorOp) Type() graph.OpType { return graph.OpTypeSubtensor }

// String implements graph.Op.
func (op *SubtensorOp) String() string { return "Subtensor" }

// Equal implements graph.Op.
func (op *SubtensorOp) Equal(other graph.Op) bool {
	_, ok := other.(*SubtensorOp)
	return ok
}

// OutputShapes implements graph.Op.
func (op *SubtensorOp) OutputShapes(inputs []*graph.Value) ([]shapes.Shape, error) {
	if len(inputs) != 2 {
		return nil, errors.Errorf("Subtensor takes 2 operands (vector, index), got %d", len(inputs))
	}
	vector, index := inputs[0], inputs[1]
	if vector.Rank() != 1 {
		return nil, errors.Errorf("Subtensor: operand %s must be a vector, got shape %s", vector, vector.Shape())
	}
	if !isIntegerScalar(index) {
		return nil, errors.Errorf("Subtensor: index %s must be an integer scalar, got %s", index, index.Shape())
	}
	if i, ok := index.ScalarValue(); ok {
		if length := vector.Shape().Dim(0); length != shapes.UnknownDim && (i >= int64(length) || i < -int64(length)) {
			return nil, errors.Errorf("Subtensor: index %d out of range for %s of shape %s", i, vector, vector.Shape())
		}
	}
	return []shapes.Shape{shapes.Scalar(vector.DType())}, nil
}

// InferShape implements graph.ShapeInferer: the output is a scalar.
func (op *SubtensorOp) InferShape(_ *graph.Graph, _ *graph.Node, _ [][]*graph.Value) ([][]*graph.Value, error) {
	return [][]*graph.Value{{}}, nil
}

// Fold implements graph.Folder.
func (op *SubtensorOp) Fold(_ *graph.Node, inputs []*graph.Literal) ([]*graph.Literal, error) {
	data := inputs[0].Data()
	i, ok := inputs[1].Scalar()
	if !ok {
		return nil, errors.Errorf("Subtensor: index is not a scalar")
	}
	if i < 0 {
		i += int64(len(data))
	}
	if i < 0 || i >= int64(len(data)) {
		return nil, errors.Errorf("Subtensor: index %d out of range for length %d", i, len(data))
	}
	return []*graph.Literal{graph.NewLiteral(inputs[0].Shape().DType, []int64{data[i]})}, nil
}

// Subtensor returns vector[index].
func Subtensor(vector, index *graph.Value) *graph.Value {
	return apply1(&SubtensorOp{}, vector, index)
}

// Index returns vector[i], with a constant index.
func Index(vector *graph.Value, i int) *graph.Value {
	return Subtensor(vector, Const(int64(i)))
}
