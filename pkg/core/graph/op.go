// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/shapeopt/pkg/core/shapes"
)

// OpType is an enum of the operator kinds known to the graph. Rewriters are dispatched by OpType.
//
// Operators not in this list use OpTypeCustom.
type OpType int

//go:generate go tool enumer -type=OpType -trimprefix=OpType -output=gen_optype_enumer.go op.go

const (
	OpTypeInvalid OpType = iota
	OpTypeShape
	OpTypeShapeI
	OpTypeReshape
	OpTypeSpecifyShape
	OpTypeMakeVector
	OpTypeSubtensor
	OpTypeDimShuffle
	OpTypeUnbroadcast
	OpTypeElemwise
	OpTypeCast
	OpTypeCustom

	// OpTypeLast should always be kept the last, it is used as a counter/marker for OpType.
	OpTypeLast
)

// Op is the operator of a Node. Ops are immutable and may be shared among nodes.
type Op interface {
	// Type returns the kind of operator.
	Type() OpType

	// String returns a human-readable description of the operator, including its parameters.
	String() string

	// Equal returns whether other is the same operator with the same parameters.
	// Two nodes with equal ops and the same inputs compute the same values.
	Equal(other Op) bool

	// OutputShapes returns the static type of each output, given the inputs.
	// It returns an error if the inputs are not valid for the operator.
	OutputShapes(inputs []*Value) ([]shapes.Shape, error)
}

// ShapeInferer is implemented by Ops that can express the symbolic shape of their outputs
// in terms of the symbolic shapes of their inputs.
//
// inputShapes holds one tuple per input: each tuple has one symbolic int64 scalar per axis, or is nil
// if the rank of the input is unknown (or the input is not a tensor).
// It must return one tuple per output (nil for unknown rank).
//
// It returns ErrCannotInferShape (possibly wrapped) if the shape cannot be determined, in which case
// callers fall back to the static output types.
type ShapeInferer interface {
	InferShape(g *Graph, node *Node, inputShapes [][]*Value) ([][]*Value, error)
}

// Folder is implemented by Ops that can compute their outputs when all inputs are constants.
type Folder interface {
	// Fold returns one literal per output. It returns an error if the computation is not supported
	// for the given inputs, in which case the node is left as is.
	Fold(node *Node, inputs []*Literal) ([]*Literal, error)
}
