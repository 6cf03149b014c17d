// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapefeature

import (
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"k8s.io/klog/v2"
)

// SameShape returns whether x and y are known to have the same shape: their tracked dimensions,
// after constant folding, compute the same values.
//
// It returns false if either is untracked, has unknown rank, or if their ranks differ.
// A false result doesn't mean the shapes are different, only that it could not be proven.
func (f *ShapeFeature) SameShape(x, y *graph.Value) bool {
	xTuple, xFound := f.shapeOf[x]
	yTuple, yFound := f.shapeOf[y]
	if !xFound || !yFound || xTuple == nil || yTuple == nil || len(xTuple) != len(yTuple) {
		return false
	}
	return equalDims(xTuple, yTuple)
}

// SameAxis returns whether the dimension axisX of x is known to be the same as the dimension axisY
// of y. See SameShape.
func (f *ShapeFeature) SameAxis(x *graph.Value, axisX int, y *graph.Value, axisY int) bool {
	xTuple, xFound := f.shapeOf[x]
	yTuple, yFound := f.shapeOf[y]
	if !xFound || !yFound || axisX < 0 || axisX >= len(xTuple) || axisY < 0 || axisY >= len(yTuple) {
		return false
	}
	return equalDims(Tuple{xTuple[axisX]}, Tuple{yTuple[axisY]})
}

// equalDims folds the two lists of dimensions together, so common sub-expressions are folded
// identically, and compares the results.
func equalDims(xs, ys Tuple) bool {
	folded, err := graph.FoldConstants(append(append(make(Tuple, 0, len(xs)+len(ys)), xs...), ys...))
	if err != nil {
		klog.V(1).Infof("ShapeFeature: failed to fold dimensions for comparison: %v", err)
		return graph.EqualComputations(xs, ys)
	}
	return graph.EqualComputations(folded[:len(xs)], folded[len(xs):])
}
