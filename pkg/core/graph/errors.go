// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "github.com/pkg/errors"

var (
	// ErrCannotInferShape is returned by a ShapeInferer that cannot determine the symbolic shape of
	// the node's outputs. It is not a failure: callers fall back to the static type of the outputs.
	ErrCannotInferShape = errors.New("cannot infer shape")

	// ErrInconsistency is returned by features (or the graph itself) when a mutation would leave
	// the graph or a feature in an inconsistent state. The mutation is reverted.
	ErrInconsistency = errors.New("inconsistent graph mutation")

	// ErrMissingInput is returned when importing a computation that depends on a free input
	// not declared as an input of the graph.
	ErrMissingInput = errors.New("missing graph input")

	// ErrCycle is returned when a mutation would create a cycle in the graph.
	ErrCycle = errors.New("graph has a cycle")

	// ErrNotInGraph is returned when an operation refers to a node or value not part of the graph.
	ErrNotInGraph = errors.New("not part of the graph")

	// ErrTypeMismatch is returned when replacing a value by another with an incompatible static type.
	ErrTypeMismatch = errors.New("incompatible value types")

	// ErrAlreadyThere is returned (wrapped) by Feature.OnAttach when the graph already has a
	// feature of the same kind.
	ErrAlreadyThere = errors.New("feature already attached")
)
