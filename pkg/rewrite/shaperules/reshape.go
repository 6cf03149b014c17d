// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shaperules

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/ops"
	"github.com/gomlx/shapeopt/pkg/core/shapefeature"
	. "github.com/gomlx/shapeopt/pkg/rewrite"
	"k8s.io/klog/v2"
)

// Rule names, as registered in the rewrite database.
const (
	reshapeChainName               = "local_reshape_chain"
	uselessReshapeName             = "local_useless_reshape"
	reshapeToDimShuffleName        = "local_reshape_to_dimshuffle"
	reshapeLiftName                = "local_reshape_lift"
	uselessDimShuffleInReshapeName = "local_useless_dimshuffle_in_reshape"
)

var reshapeTracks = []graph.OpType{graph.OpTypeReshape}

// ReshapeChain fuses reshape(reshape(x, s1), s2) into reshape(x, s2).
//
// The fused reshape may know less statically than the outer one, for instance if x has an unknown
// dimension and s2 contains a -1: the rule is declined if a dimension pinned in the original output
// is not pinned to the same value in the fused output.
var ReshapeChain = &NodeRewriter{
	Name:   reshapeChainName,
	Tracks: reshapeTracks,
	Fn:     reshapeChain,
}

func reshapeChain(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
	inner := ownerOf(node.Input(0), graph.OpTypeReshape)
	if inner == nil {
		return nil, nil
	}
	op := node.Op().(*ops.ReshapeOp)
	fused := build(reshapeChainName, node, func() *graph.Value {
		return ops.ReshapeN(inner.Input(0), node.Input(1), op.NDim)
	})
	if fused == nil {
		return nil, nil
	}
	original, result := node.Output(0).Shape(), fused.Shape()
	if original.Rank() != result.Rank() {
		return nil, nil
	}
	for axis := range original.Rank() {
		if original.IsPinned(axis) && result.Dim(axis) != original.Dim(axis) {
			klog.V(2).Infof("%s: declined on %s, fused reshape loses static dimension %d of axis %d",
				reshapeChainName, node, original.Dim(axis), axis)
			return nil, nil
		}
	}
	return single(fused), nil
}

// UselessReshape removes reshapes that don't change the shape of their operand.
//
// A reshape is useless if:
//
//   - Operand and result are vectors with compatible dimensions.
//   - The requested shape is Shape(x) of the operand x itself.
//   - Every element of the requested shape provably equals the dimension of the operand: it is the
//     accessor of that axis (ShapeI, or an element of Shape(x)), a literal 1 on an axis of static
//     dimension 1, the dimension tracked by the shape index, or -1 (at most once).
var UselessReshape = &NodeRewriter{
	Name:   uselessReshapeName,
	Tracks: reshapeTracks,
	Fn:     uselessReshape,
}

func uselessReshape(g *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
	x, shapeVec, output := node.Input(0), node.Input(1), node.Output(0)
	xShape, outShape := x.Shape(), output.Shape()
	if !xShape.RankKnown() || xShape.Rank() != outShape.Rank() {
		return nil, nil
	}
	if xShape.Rank() == 1 && xShape.Compatible(outShape) {
		return single(x), nil
	}
	if shapeVec.OwnerType() == graph.OpTypeShape && shapeVec.Owner().Input(0) == x {
		return single(x), nil
	}

	op := node.Op().(*ops.ReshapeOp)
	elements := op.ShapeElements(shapeVec)
	if elements == nil {
		return nil, nil
	}
	sf := shapefeature.From(g)
	numInferred := 0
	for axis, element := range elements {
		if element == nil {
			return nil, nil
		}
		if isAccessorOf(element, x, axis) {
			continue
		}
		value, isConst := element.ScalarValue()
		if isConst && value == 1 && xShape.IsBroadcastable(axis) {
			continue
		}
		if isConst && value == -1 {
			numInferred++
			continue
		}
		if sf != nil {
			dim, err := sf.GetShape(x, axis)
			if err == nil && sameDim(dim, element) {
				continue
			}
		}
		return nil, nil
	}
	if numInferred > 1 {
		return nil, nil
	}
	return single(x), nil
}

// isAccessorOf returns whether v is ShapeI(x, axis) or Shape(x)[axis].
func isAccessorOf(v, x *graph.Value, axis int) bool {
	if target, accessed, ok := ops.AsShapeI(v); ok {
		return target == x && accessed == axis
	}
	subtensor := ownerOf(v, graph.OpTypeSubtensor)
	if subtensor == nil {
		return false
	}
	shapeNode := ownerOf(subtensor.Input(0), graph.OpTypeShape)
	if shapeNode == nil || shapeNode.Input(0) != x {
		return false
	}
	index, ok := ops.ScalarConstantValue(subtensor.Input(1))
	return ok && index == int64(axis)
}

// sameDim returns whether two dimension scalars are the same value or constants of equal value.
func sameDim(a, b *graph.Value) bool {
	if a == b {
		return true
	}
	aValue, aOk := a.ScalarValue()
	bValue, bOk := b.ScalarValue()
	return aOk && bOk && aValue == bValue
}

// ReshapeToDimShuffle replaces the elements of the requested shape that are statically 1 by new axes
// inserted with a DimShuffle after a reshape to the remaining dimensions.
//
//	reshape(x, [1, n, 1, m]) -> DimShuffle{x,0,x,1}(reshape(x, [n, m]))
var ReshapeToDimShuffle = &NodeRewriter{
	Name:   reshapeToDimShuffleName,
	Tracks: reshapeTracks,
	Fn:     reshapeToDimShuffle,
}

func reshapeToDimShuffle(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
	op := node.Op().(*ops.ReshapeOp)
	elements := op.ShapeElements(node.Input(1))
	if elements == nil || slices.Contains(elements, nil) {
		return nil, nil
	}
	newOrder := make([]int, 0, op.NDim)
	var kept []*graph.Value
	for _, element := range elements {
		if value, ok := ops.ScalarConstantValue(element); ok && value == 1 {
			newOrder = append(newOrder, ops.NewAxis)
			continue
		}
		newOrder = append(newOrder, len(kept))
		kept = append(kept, element)
	}
	if len(kept) == op.NDim {
		return nil, nil
	}
	return single(build(reshapeToDimShuffleName, node, func() *graph.Value {
		castKept := make([]*graph.Value, len(kept))
		for ii, element := range kept {
			castKept[ii] = ops.Cast(element, dtypes.Int64)
		}
		inner := ops.ReshapeN(node.Input(0), ops.MakeVectorOf(dtypes.Int64, castKept...), len(kept))
		return ops.DimShuffle(inner, newOrder...)
	})), nil
}

// ReshapeLift moves a reshape before a unary element-wise operation:
//
//	reshape(f(x), s) -> f(reshape(x, s))
var ReshapeLift = &NodeRewriter{
	Name:   reshapeLiftName,
	Tracks: reshapeTracks,
	Fn:     reshapeLift,
}

func reshapeLift(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
	elemwise := node.Input(0).Owner()
	if !ops.IsUnaryElemwise(elemwise) {
		return nil, nil
	}
	op := node.Op().(*ops.ReshapeOp)
	return single(build(reshapeLiftName, node, func() *graph.Value {
		reshaped := ops.ReshapeN(elemwise.Input(0), node.Input(1), op.NDim)
		return ops.Elemwise(elemwise.Op().(*ops.ElemwiseOp).Scalar, reshaped)
	})), nil
}

// UselessDimShuffleInReshape removes a DimShuffle feeding a reshape if it only inserts or drops
// axes of dimension 1, that is, if it keeps the order of the other axes.
//
//	reshape(DimShuffle{x,0}(x), s) -> reshape(x, s)
var UselessDimShuffleInReshape = &NodeRewriter{
	Name:   uselessDimShuffleInReshapeName,
	Tracks: reshapeTracks,
	Fn:     uselessDimShuffleInReshape,
}

func uselessDimShuffleInReshape(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
	shuffle := ownerOf(node.Input(0), graph.OpTypeDimShuffle)
	if shuffle == nil {
		return nil, nil
	}
	shuffled := shuffle.Output(0).Shape()
	var order []int
	for ii, axis := range shuffle.Op().(*ops.DimShuffleOp).NewOrder {
		if !shuffled.IsBroadcastable(ii) {
			order = append(order, axis)
		}
	}
	if !slices.IsSorted(order) {
		return nil, nil
	}
	op := node.Op().(*ops.ReshapeOp)
	return single(build(uselessDimShuffleInReshapeName, node, func() *graph.Value {
		return ops.ReshapeN(shuffle.Input(0), node.Input(1), op.NDim)
	})), nil
}
