// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
)

// extract.go implements the static analysis of shape values: it extracts the constant value of scalars
// and vectors built from constants, dimension accessors, MakeVector, Subtensor, Cast and integer
// element-wise arithmetic.

// ScalarConstantValue returns the value of the scalar v if it can be determined statically, looking
// through the operations used to build shapes.
func ScalarConstantValue(v *graph.Value) (value int64, ok bool) {
	if v == nil || !v.Shape().IsScalar() {
		return 0, false
	}
	switch v.OwnerType() {
	case graph.OpTypeInvalid:
		return v.ScalarValue()
	case graph.OpTypeCast:
		return extractFromCast(v)
	case graph.OpTypeShapeI:
		return extractFromShapeI(v)
	case graph.OpTypeSubtensor:
		return extractFromSubtensor(v)
	case graph.OpTypeElemwise:
		return extractFromElemwise(v)
	case graph.OpTypeSpecifyShape:
		// SpecifyShape doesn't change values.
		return ScalarConstantValue(v.Owner().Input(0))
	default:
		return 0, false
	}
}

// extractFromCast extracts the value of an integer conversion.
func extractFromCast(v *graph.Value) (int64, bool) {
	value, ok := ScalarConstantValue(v.Owner().Input(0))
	if !ok {
		return 0, false
	}
	if v.DType() == dtypes.Bool && value != 0 {
		value = 1
	}
	return value, v.DType().IsInt() || v.DType() == dtypes.Bool
}

// extractFromShapeI returns the static dimension of the accessed axis, if pinned.
func extractFromShapeI(v *graph.Value) (int64, bool) {
	x, axis, _ := AsShapeI(v)
	shape := x.Shape()
	if !shape.RankKnown() || axis >= shape.Rank() || !shape.IsPinned(axis) {
		return 0, false
	}
	return int64(shape.Dim(axis)), true
}

// extractFromSubtensor extracts the indexed element of a vector whose elements are known.
func extractFromSubtensor(v *graph.Value) (int64, bool) {
	node := v.Owner()
	index, ok := ScalarConstantValue(node.Input(1))
	if !ok {
		return 0, false
	}
	values, known, ok := ExtractVector(node.Input(0))
	if !ok {
		return 0, false
	}
	if index < 0 {
		index += int64(len(values))
	}
	if index < 0 || index >= int64(len(values)) || !known[index] {
		return 0, false
	}
	return values[index], true
}

// extractFromElemwise evaluates integer arithmetic over scalars whose values are known.
func extractFromElemwise(v *graph.Value) (int64, bool) {
	node := v.Owner()
	op := node.Op().(*ElemwiseOp)
	if !v.DType().IsInt() {
		return 0, false
	}
	args := make([]int64, node.NumInputs())
	for ii, input := range node.Inputs() {
		var ok bool
		args[ii], ok = ScalarConstantValue(input)
		if !ok {
			return 0, false
		}
	}
	value, err := op.Scalar.eval(args)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ExtractVector extracts the elements of a rank-1 value whose length is statically known. For each
// element, known tells whether its value could be determined. ok is false if v is not a vector of
// known length.
//
// It handles constants, MakeVector (each element analyzed with ScalarConstantValue), Shape (the static
// dimensions of the operand) and Cast.
func ExtractVector(v *graph.Value) (values []int64, known []bool, ok bool) {
	if v == nil || v.Rank() != 1 || !v.Shape().IsPinned(0) {
		return nil, nil, false
	}
	length := v.Shape().Dim(0)
	values = make([]int64, length)
	known = make([]bool, length)
	switch v.OwnerType() {
	case graph.OpTypeInvalid:
		if lit := v.Literal(); lit != nil && len(lit.Data()) == length {
			copy(values, lit.Data())
			for ii := range known {
				known[ii] = true
			}
		}
	case graph.OpTypeMakeVector:
		for ii, element := range v.Owner().Inputs() {
			values[ii], known[ii] = ScalarConstantValue(element)
		}
	case graph.OpTypeShape:
		shape := v.Owner().Input(0).Shape()
		for ii := range values {
			if shape.IsPinned(ii) {
				values[ii], known[ii] = int64(shape.Dim(ii)), true
			}
		}
	case graph.OpTypeCast, graph.OpTypeSpecifyShape:
		inValues, inKnown, inOk := ExtractVector(v.Owner().Input(0))
		if inOk && len(inValues) == length {
			return inValues, inKnown, true
		}
	}
	return values, known, true
}

// StaticDims converts the result of ExtractVector to static dimensions, with shapes.UnknownDim for
// the elements not known (or negative, like the -1 placeholder of Reshape).
func StaticDims(values []int64, known []bool) []int {
	dims := make([]int, len(values))
	for ii, value := range values {
		if known[ii] && value >= 0 {
			dims[ii] = int(value)
		} else {
			dims[ii] = shapes.UnknownDim
		}
	}
	return dims
}
