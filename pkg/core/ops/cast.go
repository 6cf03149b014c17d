// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
	"github.com/pkg/errors"
)

// CastOp converts its operand to another dtype.
type CastOp struct {
	DType dtypes.DType
}

var (
	_ graph.ShapeInferer = (*CastOp)(nil)
	_ graph.Folder       = (*CastOp)(nil)
)

// Type implements graph.Op.
func (op *CastOp) Type() graph.OpType { return graph.OpTypeCast }

// String implements graph.Op.
func (op *CastOp) String() string { return fmt.Sprintf("Cast{%s}", op.DType) }

// Equal implements graph.Op.
func (op *CastOp) Equal(other graph.Op) bool {
	o, ok := other.(*CastOp)
	return ok && o.DType == op.DType
}

// OutputShapes implements graph.Op.
func (op *CastOp) OutputShapes(inputs []*graph.Value) ([]shapes.Shape, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s takes 1 operand, got %d", op, len(inputs))
	}
	if !inputs[0].Shape().HasShape() {
		return nil, errors.Errorf("%s: operand %s is not a tensor", op, inputs[0])
	}
	return []shapes.Shape{inputs[0].Shape().WithDType(op.DType)}, nil
}

// InferShape implements graph.ShapeInferer: the shape is the one of the operand.
func (op *CastOp) InferShape(_ *graph.Graph, node *graph.Node, inputShapes [][]*graph.Value) ([][]*graph.Value, error) {
	if inputShapes[0] == nil {
		return nil, cannotInfer(node, "operand shape unknown")
	}
	return [][]*graph.Value{inputShapes[0]}, nil
}

// Fold implements graph.Folder, for conversions between integer and bool dtypes.
func (op *CastOp) Fold(node *graph.Node, inputs []*graph.Literal) ([]*graph.Literal, error) {
	if !op.DType.IsInt() && op.DType != dtypes.Bool {
		return nil, errors.Errorf("%s: only integer conversions can be folded", op)
	}
	data := make([]int64, len(inputs[0].Data()))
	for ii, d := range inputs[0].Data() {
		if op.DType == dtypes.Bool && d != 0 {
			d = 1
		}
		data[ii] = d
	}
	return []*graph.Literal{graph.NewLiteral(op.DType, data, inputs[0].Shape().Dimensions...)}, nil
}

// Cast converts x to dtype. If x already has the dtype, x is returned.
func Cast(x *graph.Value, dtype dtypes.DType) *graph.Value {
	if x.DType() == dtype {
		return x
	}
	return apply1(&CastOp{DType: dtype}, x)
}
