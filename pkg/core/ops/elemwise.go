// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"slices"

	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ScalarOp is the element-wise function applied by an Elemwise operator.
type ScalarOp int

const (
	ScalarIdentity ScalarOp = iota
	ScalarNeg
	ScalarAbs
	ScalarExp
	ScalarAdd
	ScalarSub
	ScalarMul
	ScalarIntDiv
	ScalarMaximum
)

var scalarOpNames = []string{"identity", "neg", "abs", "exp", "add", "sub", "mul", "int_div", "maximum"}

// String implements fmt.Stringer.
func (s ScalarOp) String() string {
	if s < 0 || int(s) >= len(scalarOpNames) {
		return fmt.Sprintf("ScalarOp(%d)", int(s))
	}
	return scalarOpNames[s]
}

// Arity returns the number of operands of the scalar function.
func (s ScalarOp) Arity() int {
	switch s {
	case ScalarIdentity, ScalarNeg, ScalarAbs, ScalarExp:
		return 1
	default:
		return 2
	}
}

// eval applies the scalar function to integer operands.
func (s ScalarOp) eval(args []int64) (int64, error) {
	switch s {
	case ScalarIdentity:
		return args[0], nil
	case ScalarNeg:
		return -args[0], nil
	case ScalarAbs:
		if args[0] < 0 {
			return -args[0], nil
		}
		return args[0], nil
	case ScalarAdd:
		return args[0] + args[1], nil
	case ScalarSub:
		return args[0] - args[1], nil
	case ScalarMul:
		return args[0] * args[1], nil
	case ScalarIntDiv:
		if args[1] == 0 {
			return 0, errors.Errorf("%s: division by zero", s)
		}
		return args[0] / args[1], nil
	case ScalarMaximum:
		return max(args[0], args[1]), nil
	}
	return 0, errors.Errorf("%s cannot be evaluated on integers", s)
}

// ElemwiseOp applies a scalar function element-wise, with broadcasting of axes of dimension 1.
// All operands must have the same rank and dtype.
type ElemwiseOp struct {
	Scalar ScalarOp
}

var (
	_ graph.ShapeInferer = (*ElemwiseOp)(nil)
	_ graph.Folder       = (*ElemwiseOp)(nil)
)

// Type implements graph.Op.
func (op *ElemwiseOp) Type() graph.OpType { return graph.OpTypeElemwise }

// String implements graph.Op.
func (op *ElemwiseOp) String() string { return fmt.Sprintf("Elemwise{%s}", op.Scalar) }

// Equal implements graph.Op.
func (op *ElemwiseOp) Equal(other graph.Op) bool {
	o, ok := other.(*ElemwiseOp)
	return ok && o.Scalar == op.Scalar
}

// OutputShapes implements graph.Op.
func (op *ElemwiseOp) OutputShapes(inputs []*graph.Value) ([]shapes.Shape, error) {
	if len(inputs) != op.Scalar.Arity() {
		return nil, errors.Errorf("%s takes %d operands, got %d", op, op.Scalar.Arity(), len(inputs))
	}
	first := inputs[0].Shape()
	if !first.HasShape() {
		return nil, errors.Errorf("%s: operand %s is not a tensor", op, inputs[0])
	}
	rankKnown := true
	rank := -1
	for _, input := range inputs {
		shape := input.Shape()
		if shape.DType != first.DType {
			return nil, errors.Errorf("%s: operands have different dtypes %s and %s", op, first.DType, shape.DType)
		}
		if !shape.RankKnown() {
			rankKnown = false
			continue
		}
		if rank >= 0 && shape.Rank() != rank {
			return nil, errors.Errorf("%s: operands have different ranks %d and %d", op, rank, shape.Rank())
		}
		rank = shape.Rank()
	}
	if !rankKnown {
		return []shapes.Shape{shapes.MakeUnknownRank(first.DType)}, nil
	}
	dims := make([]int, rank)
	for axis := range dims {
		dims[axis] = 1
		for _, input := range inputs {
			dim := input.Shape().Dim(axis)
			if dim == 1 {
				continue
			}
			if dims[axis] == 1 || dims[axis] == shapes.UnknownDim {
				dims[axis] = dim
			} else if dim != shapes.UnknownDim && dim != dims[axis] {
				return nil, errors.Errorf("%s: operands have incompatible dimensions %d and %d on axis %d", op, dims[axis], dim, axis)
			}
		}
	}
	return []shapes.Shape{shapes.Make(first.DType, dims...)}, nil
}

// InferShape implements graph.ShapeInferer: for each axis, the symbolic dimension of the first operand
// not broadcastable on that axis, or 1 if all are.
func (op *ElemwiseOp) InferShape(_ *graph.Graph, node *graph.Node, inputShapes [][]*graph.Value) ([][]*graph.Value, error) {
	output := node.Output(0)
	if !output.Shape().RankKnown() {
		return nil, cannotInfer(node, "output rank unknown")
	}
	tuple := make([]*graph.Value, output.Rank())
	for axis := range tuple {
		for ii, input := range node.Inputs() {
			if input.Shape().IsBroadcastable(axis) {
				continue
			}
			if inputShapes[ii] == nil {
				return nil, cannotInfer(node, "shape of operand #%d unknown", ii)
			}
			tuple[axis] = inputShapes[ii][axis]
			break
		}
		if tuple[axis] == nil {
			tuple[axis] = Const(1)
		}
	}
	return [][]*graph.Value{tuple}, nil
}

// Fold implements graph.Folder, for integer operands that have the same shape or a single element.
func (op *ElemwiseOp) Fold(node *graph.Node, inputs []*graph.Literal) ([]*graph.Literal, error) {
	output := node.Output(0).Shape()
	size := 1
	var dims []int
	for _, lit := range inputs {
		if n := len(lit.Data()); n != 1 {
			if size != 1 && n != size {
				return nil, errors.Errorf("%s: cannot fold operands with broadcasting", op)
			}
			size = n
			dims = lit.Shape().Dimensions
		}
	}
	if dims == nil {
		dims = slices.Repeat([]int{1}, max(output.Rank(), 0))
	}
	data := make([]int64, size)
	args := make([]int64, len(inputs))
	for ii := range data {
		for jj, lit := range inputs {
			if len(lit.Data()) == 1 {
				args[jj] = lit.Data()[0]
			} else {
				args[jj] = lit.Data()[ii]
			}
		}
		var err error
		data[ii], err = op.Scalar.eval(args)
		if err != nil {
			return nil, err
		}
	}
	return []*graph.Literal{graph.NewLiteral(output.DType, data, dims...)}, nil
}

// Elemwise applies the scalar function to the operands, element-wise.
func Elemwise(scalar ScalarOp, operands ...*graph.Value) *graph.Value {
	return apply1(&ElemwiseOp{Scalar: scalar}, operands...)
}

// Neg returns -x element-wise.
func Neg(x *graph.Value) *graph.Value { return Elemwise(ScalarNeg, x) }

// Abs returns |x| element-wise.
func Abs(x *graph.Value) *graph.Value { return Elemwise(ScalarAbs, x) }

// Exp returns e^x element-wise.
func Exp(x *graph.Value) *graph.Value { return Elemwise(ScalarExp, x) }

// Add returns x+y element-wise.
func Add(x, y *graph.Value) *graph.Value { return Elemwise(ScalarAdd, x, y) }

// Mul returns x*y element-wise.
func Mul(x, y *graph.Value) *graph.Value { return Elemwise(ScalarMul, x, y) }

// IntDiv returns x/y element-wise, rounded towards zero.
func IntDiv(x, y *graph.Value) *graph.Value { return Elemwise(ScalarIntDiv, x, y) }

// IsUnaryElemwise returns whether node is an Elemwise operator with a single operand.
func IsUnaryElemwise(node *graph.Node) bool {
	if node == nil {
		return false
	}
	_, ok := node.Op().(*ElemwiseOp)
	return ok && node.NumInputs() == 1
}
