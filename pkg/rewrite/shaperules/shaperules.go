// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shaperules implements the local rewrites that simplify shape computations: fusing and
// removing reshapes, lowering Shape to per-axis accessors, grounding accessors of statically known
// dimensions, merging shape assertions and trimming unbroadcast markers.
//
// The rules register themselves into rewrite.Default when the package is imported:
//
//	import _ "github.com/gomlx/shapeopt/pkg/rewrite/shaperules"
//
// Rules that need the symbolic shape index look it up with shapefeature.From and don't apply to
// graphs without one (see rewrite.ShapeOptimizer).
package shaperules

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	. "github.com/gomlx/shapeopt/pkg/rewrite"
	"k8s.io/klog/v2"
)

// All lists the rules of this package, in the order they are registered.
var All = []*NodeRewriter{
	ReshapeChain,
	UselessReshape,
	ReshapeToDimShuffle,
	ReshapeLift,
	UselessDimShuffleInReshape,
	MergeConsecutiveSpecifyShape,
	ShapeOfSpecifyShape,
	ShapeIGround,
	ShapeToShapeI,
	TrackShapeI,
	UselessUnbroadcast,
	UnbroadcastLift,
}

func init() {
	Register(ReshapeChain, Canonicalize)
	Register(UselessReshape, Useless, Canonicalize, Stabilize)
	Register(ReshapeToDimShuffle, Canonicalize)
	Register(ReshapeLift, Canonicalize, Stabilize)
	Register(UselessDimShuffleInReshape, Canonicalize)
	Register(MergeConsecutiveSpecifyShape, Useless, Canonicalize)
	Register(ShapeOfSpecifyShape, Useless, Canonicalize)
	Register(ShapeIGround, Useless, Canonicalize)
	Register(ShapeToShapeI, Specialize, Canonicalize)
	Register(TrackShapeI, Specialize, Canonicalize)
	Register(UselessUnbroadcast, Useless, Canonicalize, Specialize)
	Register(UnbroadcastLift, Canonicalize, Specialize)
}

// build calls fn to create the replacement of node's output. If the builders reject their operands
// (they panic), the rule doesn't apply and build returns nil.
func build(rule string, node *graph.Node, fn func() *graph.Value) *graph.Value {
	var v *graph.Value
	err := exceptions.TryCatch[error](func() { v = fn() })
	if err != nil {
		klog.V(2).Infof("%s: declined on %s: %v", rule, node, err)
		return nil
	}
	return v
}

// single returns the replacement list for a node with one output, or nil if v is nil.
func single(v *graph.Value) []*graph.Value {
	if v == nil {
		return nil
	}
	return []*graph.Value{v}
}

// ownerOf returns the node computing v if it is of the given type, or nil.
func ownerOf(v *graph.Value, opType graph.OpType) *graph.Node {
	if v.OwnerType() != opType {
		return nil
	}
	return v.Owner()
}
