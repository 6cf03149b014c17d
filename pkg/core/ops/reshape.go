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

// ReshapeOp reshapes its first operand to the shape given by its second operand, an integer vector of
// length NDim. At most one element of the shape may be -1, in which case its dimension is inferred
// from the size of the operand.
type ReshapeOp struct {
	NDim int
}

var (
	_ graph.ShapeInferer = (*ReshapeOp)(nil)
	_ graph.Folder       = (*ReshapeOp)(nil)
)

// Type implements graph.Op.
func (op *ReshapeOp) Type() graph.OpType { return graph.OpTypeReshape }

// String implements graph.Op.
func (op *ReshapeOp) String() string { return fmt.Sprintf("Reshape{%d}", op.NDim) }

// Equal implements graph.Op.
func (op *ReshapeOp) Equal(other graph.Op) bool {
	o, ok := other.(*ReshapeOp)
	return ok && o.NDim == op.NDim
}

// OutputShapes implements graph.Op.
func (op *ReshapeOp) OutputShapes(inputs []*graph.Value) ([]shapes.Shape, error) {
	if len(inputs) != 2 {
		return nil, errors.Errorf("%s takes 2 operands (x, shape), got %d", op, len(inputs))
	}
	x, shapeVec := inputs[0], inputs[1]
	if !x.Shape().HasShape() {
		return nil, errors.Errorf("%s: operand %s is not a tensor", op, x)
	}
	if shapeVec.Rank() != 1 || !shapeVec.DType().IsInt() {
		return nil, errors.Errorf("%s: shape %s must be an integer vector, got %s", op, shapeVec, shapeVec.Shape())
	}
	if length := shapeVec.Shape().Dim(0); length != shapes.UnknownDim && length != op.NDim {
		return nil, errors.Errorf("%s: shape %s has %d elements", op, shapeVec, length)
	}

	dims := make([]int, op.NDim)
	for ii := range dims {
		dims[ii] = shapes.UnknownDim
	}
	values, known, ok := ExtractVector(shapeVec)
	if !ok {
		return []shapes.Shape{shapes.Make(x.DType(), dims...)}, nil
	}
	inferAxis := -1
	knownSize := 1
	allKnown := true
	for ii, value := range values {
		switch {
		case !known[ii]:
			allKnown = false
		case value == -1:
			if inferAxis >= 0 {
				return nil, errors.Errorf("%s: shape %v has more than one -1", op, values)
			}
			inferAxis = ii
		case value < 0:
			return nil, errors.Errorf("%s: shape %v has invalid dimension %d", op, values, value)
		default:
			dims[ii] = int(value)
			knownSize *= int(value)
		}
	}
	xSize := x.Shape().Size()
	if allKnown && xSize >= 0 {
		if inferAxis >= 0 {
			if knownSize == 0 || xSize%knownSize != 0 {
				return nil, errors.Errorf("%s: cannot reshape %s (size %d) to %v", op, x.Shape(), xSize, values)
			}
			dims[inferAxis] = xSize / knownSize
		} else if knownSize != xSize {
			return nil, errors.Errorf("%s: cannot reshape %s (size %d) to %v", op, x.Shape(), xSize, values)
		}
	}
	return []shapes.Shape{shapes.Make(x.DType(), dims...)}, nil
}

// ShapeElements returns one scalar per element of the requested shape vector (the second operand of a
// Reshape), or nil if they cannot be expressed: shapeVec must be a constant, a MakeVector or a Shape.
func (op *ReshapeOp) ShapeElements(shapeVec *graph.Value) []*graph.Value {
	elements := make([]*graph.Value, op.NDim)
	switch {
	case shapeVec.OwnerType() == graph.OpTypeMakeVector:
		copy(elements, shapeVec.Owner().Inputs())
	case shapeVec.IsConstant():
		data := shapeVec.Literal().Data()
		if len(data) != op.NDim {
			return nil
		}
		for ii, value := range data {
			elements[ii] = graph.ScalarConstant(shapeVec.DType(), value)
		}
	case shapeVec.OwnerType() == graph.OpTypeShape:
		for ii := range elements {
			elements[ii] = Index(shapeVec, ii)
		}
	default:
		return nil
	}
	return elements
}

// InferShape implements graph.ShapeInferer. Each dimension is the corresponding element of the requested
// shape, except a -1 element that is computed as the size of the operand divided by the product of
// the other elements.
func (op *ReshapeOp) InferShape(_ *graph.Graph, node *graph.Node, inputShapes [][]*graph.Value) ([][]*graph.Value, error) {
	output := node.Output(0).Shape()
	elements := op.ShapeElements(node.Input(1))
	if elements == nil {
		return nil, cannotInfer(node, "requested shape %s is not a constant or MakeVector", node.Input(1))
	}
	inferAxis := -1
	for ii, element := range elements {
		if value, ok := element.ScalarValue(); ok && value == -1 {
			inferAxis = ii
		}
	}
	tuple := make([]*graph.Value, op.NDim)
	for ii, element := range elements {
		switch {
		case output.IsPinned(ii):
			tuple[ii] = Const(int64(output.Dim(ii)))
		case ii != inferAxis:
			tuple[ii] = element
		}
	}
	if inferAxis >= 0 && tuple[inferAxis] == nil {
		xTuple := inputShapes[0]
		if xTuple == nil {
			return nil, cannotInfer(node, "operand rank unknown and requested shape has a -1")
		}
		var others []*graph.Value
		for ii, element := range elements {
			if ii != inferAxis {
				others = append(others, Cast(element, dtypes.Int64))
			}
		}
		tuple[inferAxis] = IntDiv(product(xTuple), product(others))
	}
	return [][]*graph.Value{tuple}, nil
}

// product returns the symbolic product of int64 scalars, or the constant 1 if there are none.
func product(values []*graph.Value) *graph.Value {
	if len(values) == 0 {
		return Const(1)
	}
	result := values[0]
	for _, v := range values[1:] {
		result = Mul(result, v)
	}
	return result
}

// Fold implements graph.Folder.
func (op *ReshapeOp) Fold(node *graph.Node, inputs []*graph.Literal) ([]*graph.Literal, error) {
	output := node.Output(0).Shape()
	if !output.IsFullyKnown() {
		return nil, errors.Errorf("%s: output shape %s not fully known", op, output)
	}
	return []*graph.Literal{graph.NewLiteral(output.DType, inputs[0].Data(), output.Dimensions...)}, nil
}

// Reshape x to the given shape, an integer vector whose length must be statically known.
func Reshape(x, shape *graph.Value) *graph.Value {
	if shape.Rank() != 1 || !shape.Shape().IsPinned(0) {
		exceptions.Panicf("Reshape(%s, %s): shape must be a vector of known length, got %s", x, shape, shape.Shape())
	}
	return ReshapeN(x, shape, shape.Shape().Dim(0))
}

// ReshapeN reshapes x to shape, an integer vector of ndim elements.
func ReshapeN(x, shape *graph.Value, ndim int) *graph.Value {
	return apply1(&ReshapeOp{NDim: ndim}, x, shape)
}

// ReshapeDims reshapes x to the given constant dimensions. One of them may be -1.
func ReshapeDims(x *graph.Value, dims ...int) *graph.Value {
	return Reshape(x, ConstVector(Dims(dims...)...))
}
