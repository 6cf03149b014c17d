// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shaperules

import (
	"slices"

	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/ops"
	. "github.com/gomlx/shapeopt/pkg/rewrite"
	"github.com/gomlx/shapeopt/pkg/support/sets"
)

// Rule names, as registered in the rewrite database.
const (
	uselessUnbroadcastName = "local_useless_unbroadcast"
	unbroadcastLiftName    = "local_unbroadcast_lift"
)

var unbroadcastTracks = []graph.OpType{graph.OpTypeUnbroadcast}

// UselessUnbroadcast removes an Unbroadcast that doesn't change the static type of its operand,
// and otherwise trims its axes to the ones that are actually broadcastable in the operand.
var UselessUnbroadcast = &NodeRewriter{
	Name:   uselessUnbroadcastName,
	Tracks: unbroadcastTracks,
	Fn:     uselessUnbroadcast,
}

func uselessUnbroadcast(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
	x := node.Input(0)
	axes := node.Op().(*ops.UnbroadcastOp).Axes
	xShape, outShape := x.Shape(), node.Output(0).Shape()
	if !xShape.RankKnown() {
		return nil, nil
	}

	useless := true
	for axis := range xShape.Rank() {
		if (xShape.IsBroadcastable(axis) || outShape.IsBroadcastable(axis)) && xShape.Dim(axis) != outShape.Dim(axis) {
			useless = false
			break
		}
	}
	if useless {
		return single(x), nil
	}

	trimmed := slices.DeleteFunc(slices.Clone(axes), func(axis int) bool {
		return !xShape.IsBroadcastable(axis)
	})
	if len(trimmed) == len(axes) {
		return nil, nil
	}
	return single(build(uselessUnbroadcastName, node, func() *graph.Value {
		return ops.Unbroadcast(x, trimmed...)
	})), nil
}

// UnbroadcastLift moves an Unbroadcast before a unary element-wise operation whose result has no
// other use, and merges consecutive Unbroadcast markers into one with the union of their axes.
//
//	Unbroadcast{a}(f(x)) -> f(Unbroadcast{a}(x))
//	Unbroadcast{a}(Unbroadcast{b}(x)) -> Unbroadcast{a ∪ b}(x)
var UnbroadcastLift = &NodeRewriter{
	Name:   unbroadcastLiftName,
	Tracks: unbroadcastTracks,
	Fn:     unbroadcastLift,
}

func unbroadcastLift(g *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
	operand := node.Input(0)
	inner := operand.Owner()
	axes := node.Op().(*ops.UnbroadcastOp).Axes
	switch {
	case ops.IsUnaryElemwise(inner):
		if g.NumClients(operand) != 1 {
			return nil, nil
		}
		scalar := inner.Op().(*ops.ElemwiseOp).Scalar
		return single(build(unbroadcastLiftName, node, func() *graph.Value {
			return ops.Elemwise(scalar, ops.Unbroadcast(inner.Input(0), axes...))
		})), nil

	case operand.OwnerType() == graph.OpTypeUnbroadcast:
		merged := sets.MakeWith(axes...).Union(sets.MakeWith(inner.Op().(*ops.UnbroadcastOp).Axes...))
		return single(build(unbroadcastLiftName, node, func() *graph.Value {
			return ops.Unbroadcast(inner.Input(0), sets.Sorted(merged)...)
		})), nil
	}
	return nil, nil
}
