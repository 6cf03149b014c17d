// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shaperules

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/ops"
	"github.com/gomlx/shapeopt/pkg/core/shapefeature"
	. "github.com/gomlx/shapeopt/pkg/rewrite"
)

// Rule names, as registered in the rewrite database.
const (
	mergeConsecutiveSpecifyShapeName = "local_merge_consecutive_specify_shape"
	shapeOfSpecifyShapeName          = "local_shape_of_specify_shape"
	shapeIGroundName                 = "local_shape_i_ground"
	shapeToShapeIName                = "local_shape_to_shape_i"
	trackShapeIName                  = "local_track_shape_i"
)

// MergeConsecutiveSpecifyShape collapses SpecifyShape(SpecifyShape(x, s1), s2) into one assertion.
// The dimensions asserted by the outer SpecifyShape take precedence, the inner ones are kept only
// for the axes the outer one leaves unconstrained.
var MergeConsecutiveSpecifyShape = &NodeRewriter{
	Name:   mergeConsecutiveSpecifyShapeName,
	Tracks: []graph.OpType{graph.OpTypeSpecifyShape},
	Fn:     mergeConsecutiveSpecifyShape,
}

func mergeConsecutiveSpecifyShape(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
	inner := ownerOf(node.Input(0), graph.OpTypeSpecifyShape)
	if inner == nil {
		return nil, nil
	}
	dims := slices.Clone(inner.Inputs()[1:])
	outerDims := node.Inputs()[1:]
	if len(dims) != len(outerDims) {
		return nil, nil
	}
	for axis, dim := range outerDims {
		if !graph.IsNone(dim) {
			dims[axis] = dim
		}
	}
	return single(build(mergeConsecutiveSpecifyShapeName, node, func() *graph.Value {
		return ops.SpecifyShape(inner.Input(0), dims...)
	})), nil
}

// ShapeOfSpecifyShape replaces Shape(SpecifyShape(x, s)) by the vector of the asserted dimensions.
// Unconstrained axes use ShapeI(x, axis).
var ShapeOfSpecifyShape = &NodeRewriter{
	Name:   shapeOfSpecifyShapeName,
	Tracks: []graph.OpType{graph.OpTypeShape},
	Fn:     shapeOfSpecifyShape,
}

func shapeOfSpecifyShape(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
	specify := ownerOf(node.Input(0), graph.OpTypeSpecifyShape)
	if specify == nil {
		return nil, nil
	}
	x := specify.Input(0)
	return single(build(shapeOfSpecifyShapeName, node, func() *graph.Value {
		dims := make([]*graph.Value, specify.NumInputs()-1)
		for axis, dim := range specify.Inputs()[1:] {
			if graph.IsNone(dim) {
				dims[axis] = ops.ShapeI(x, axis)
			} else {
				dims[axis] = ops.Cast(dim, dtypes.Int64)
			}
		}
		return ops.MakeVectorOf(dtypes.Int64, dims...)
	})), nil
}

// ShapeIGround replaces the accessor of a statically known dimension by its value.
var ShapeIGround = &NodeRewriter{
	Name:   shapeIGroundName,
	Tracks: []graph.OpType{graph.OpTypeShapeI},
	Fn: func(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
		axis, _ := ops.ShapeIAxis(node)
		shape := node.Input(0).Shape()
		if !shape.RankKnown() || axis >= shape.Rank() || !shape.IsPinned(axis) {
			return nil, nil
		}
		return single(ops.Const(int64(shape.Dim(axis)))), nil
	},
}

// ShapeToShapeI lowers Shape(x) to the vector of the dimensions tracked by the shape index, which
// exposes each dimension separately to the other rules.
var ShapeToShapeI = &NodeRewriter{
	Name:   shapeToShapeIName,
	Tracks: []graph.OpType{graph.OpTypeShape},
	Fn: func(g *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
		sf := shapefeature.From(g)
		if sf == nil {
			return nil, nil
		}
		lowered, err := sf.MakeVectorShape(node.Input(0))
		if err != nil {
			// Unknown rank.
			return nil, nil
		}
		return single(lowered), nil
	},
}

// TrackShapeI replaces an accessor the shape index scheduled, after its operand was replaced, by
// the dimension the index tracks for the replacement.
//
// The accessor stays scheduled: the index drops the entry only when the replacement is itself
// replaced.
var TrackShapeI = &NodeRewriter{
	Name:   trackShapeIName,
	Tracks: []graph.OpType{graph.OpTypeShapeI},
	Fn: func(g *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
		sf := shapefeature.From(g)
		if sf == nil {
			return nil, nil
		}
		target, found := sf.Scheduled(node)
		if !found {
			return nil, nil
		}
		axis, _ := ops.ShapeIAxis(node)
		dim, err := sf.GetShape(target, axis)
		if err != nil {
			return nil, nil
		}
		return single(dim), nil
	},
}
