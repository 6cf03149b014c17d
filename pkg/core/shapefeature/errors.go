// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapefeature

import (
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/pkg/errors"
)

var (
	// ErrShapeArity is returned when a shape tuple doesn't have one element per axis of its value.
	ErrShapeArity = errors.New("shape tuple with the wrong number of dimensions")

	// ErrShapeCountMismatch is returned when shape inference returns a number of tuples different
	// from the number of outputs of the node.
	ErrShapeCountMismatch = errors.New("shape inference returned the wrong number of shapes")

	// ErrShapeInference is returned when shape inference of a node fails unexpectedly, and the
	// "on_shape_error" configuration is "raise".
	ErrShapeInference = errors.New("shape inference failed")

	// ErrShapeDType is returned when a shape element is not an integer scalar, or is an uint64.
	ErrShapeDType = errors.New("shape element must be an integer scalar")

	// ErrInvariantViolation is returned when an operation would break the invariants of the index,
	// for instance setting the shape of a value already tracked without override.
	ErrInvariantViolation = errors.New("shape index invariant violation")

	// ErrAlreadyAttached is returned when attaching a ShapeFeature to a graph that already has one,
	// or attaching a ShapeFeature that is already attached to another graph.
	// It wraps graph.ErrAlreadyThere.
	ErrAlreadyAttached = errors.WithMessage(graph.ErrAlreadyThere, "shape feature")
)
