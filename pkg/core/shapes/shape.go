// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the static type of a value in a computation graph.
//
// A Shape holds the DType of the elements and, when known, the rank and the
// dimension of each axis. Unlike a concrete tensor, a value in a graph being
// rewritten may only be partially known:
//
//   - Rank unknown: the number of axes is not known statically. See MakeUnknownRank.
//   - Dimension unknown: the rank is known, but the size of an axis is not. Such an
//     axis is marked with UnknownDim (-1).
//
// A Shape with DType InvalidDType has no tensor type at all ("NoShape"). It is used
// for values like the "none" marker constant, that stand for the absence of a value.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a value.
//   - Axis: the index of a dimension. Here we try to refer to a dimension index as "axis"
//     (plural axes), and its size as its dimension.
//   - Dimension: the size of one axis, or UnknownDim.
//   - Pinned axis: an axis whose dimension is statically known.
//   - Broadcastable axis: an axis statically known to have dimension 1.
//
// Example: `shapes.Make(dtypes.Float32, shapes.UnknownDim, 5)` is a matrix with
// an unknown number of rows and 5 columns, printed as `(Float32)[? 5]`.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// UnknownDim marks an axis whose dimension is not statically known.
const UnknownDim = -1

// Shape represents the static type of a value in a graph.
//
// Use Make, MakeUnknownRank or NoShape to create one.
type Shape struct {
	DType dtypes.DType

	// Dimensions of each axis, UnknownDim for axes not statically known.
	// It is nil if the rank is unknown.
	Dimensions []int

	rankKnown bool
}

// Make returns a Shape with the given dtype and dimensions.
// Dimensions must be >= 0 or UnknownDim.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions), rankKnown: true}
	if s.Dimensions == nil {
		s.Dimensions = []int{}
	}
	for _, dim := range dimensions {
		if dim < UnknownDim {
			exceptions.Panicf("shapes.Make(%s, %v): invalid dimension %d, dimensions must be >= 0 or UnknownDim", dtype, dimensions, dim)
		}
	}
	return s
}

// Scalar returns a scalar shape of the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Make(dtype)
}

// MakeUnknownRank returns a shape whose rank (and hence dimensions) is not known.
func MakeUnknownRank(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// NoShape returns the type of values that are not tensors.
//
// NoShape().HasShape() == false.
func NoShape() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// HasShape returns whether the shape describes a tensor. It is false for NoShape.
func (s Shape) HasShape() bool { return s.DType != dtypes.InvalidDType }

// RankKnown returns whether the number of axes is statically known.
func (s Shape) RankKnown() bool { return s.HasShape() && s.rankKnown }

// Rank returns the number of axes, or -1 if the rank is unknown or s has no shape.
func (s Shape) Rank() int {
	if !s.RankKnown() {
		return -1
	}
	return len(s.Dimensions)
}

// IsScalar returns whether the shape represents a scalar, that is, rank is known and is 0.
func (s Shape) IsScalar() bool { return s.Rank() == 0 }

// Dim returns the dimension of the given axis, or UnknownDim. Axis can take negative numbers,
// in which case it counts from the end -- so axis=-1 refers to the last axis.
//
// It panics for an out-of-bound axis or if the rank is unknown.
func (s Shape) Dim(axis int) int {
	if !s.RankKnown() {
		exceptions.Panicf("Shape.Dim(%d) for shape %s with unknown rank", axis, s)
	}
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// IsPinned returns whether the dimension of axis is statically known.
func (s Shape) IsPinned(axis int) bool {
	return s.Dim(axis) != UnknownDim
}

// IsBroadcastable returns whether axis is statically known to have dimension 1.
func (s Shape) IsBroadcastable(axis int) bool {
	return s.Dim(axis) == 1
}

// IsFullyKnown returns whether the rank and all dimensions are statically known.
func (s Shape) IsFullyKnown() bool {
	if !s.RankKnown() {
		return false
	}
	return !slices.Contains(s.Dimensions, UnknownDim)
}

// Size returns the number of elements, or -1 if not statically known.
func (s Shape) Size() int {
	if !s.IsFullyKnown() {
		return -1
	}
	size := 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return size
}

// Shape returns a shallow copy of itself. It implements the HasShape interface.
func (s Shape) Shape() Shape { return s }

// String implements stringer, pretty-prints the shape. Unknown dimensions are printed as "?".
func (s Shape) String() string {
	if !s.HasShape() {
		return "(NoShape)"
	}
	if !s.rankKnown {
		return fmt.Sprintf("(%s)[...]", s.DType)
	}
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, len(s.Dimensions))
	for ii, dim := range s.Dimensions {
		if dim == UnknownDim {
			parts[ii] = "?"
		} else {
			parts[ii] = fmt.Sprintf("%d", dim)
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// Equal compares two shapes for equality: dtype, rank knowledge and dimensions are compared.
// An UnknownDim is only equal to another UnknownDim.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType || s.RankKnown() != s2.RankKnown() {
		return false
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Compatible returns whether s and s2 may describe the same value: same dtype, same
// rank (if both known) and no axis where both are pinned to different dimensions.
func (s Shape) Compatible(s2 Shape) bool {
	if s.DType != s2.DType {
		return false
	}
	if !s.RankKnown() || !s2.RankKnown() {
		return true
	}
	if s.Rank() != s2.Rank() {
		return false
	}
	for ii, dim := range s.Dimensions {
		dim2 := s2.Dimensions[ii]
		if dim != UnknownDim && dim2 != UnknownDim && dim != dim2 {
			return false
		}
	}
	return true
}

// SameBroadcastPattern returns whether s and s2 have the same rank and agree on which axes are
// broadcastable (statically 1): only axes where one of them is 1 are compared.
func (s Shape) SameBroadcastPattern(s2 Shape) bool {
	if !s.RankKnown() || !s2.RankKnown() || s.Rank() != s2.Rank() {
		return false
	}
	for ii, dim := range s.Dimensions {
		dim2 := s2.Dimensions[ii]
		if (dim == 1 || dim2 == 1) && dim != dim2 {
			return false
		}
	}
	return true
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2 = s
	s2.Dimensions = slices.Clone(s.Dimensions)
	return
}

// WithDType returns a copy of the shape with the given dtype.
func (s Shape) WithDType(dtype dtypes.DType) Shape {
	s2 := s.Clone()
	s2.DType = dtype
	return s2
}
