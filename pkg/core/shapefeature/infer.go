// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapefeature

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/config"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/ops"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InferNodeShape returns the symbolic shape of each output of node, given the tracked shapes of its
// inputs.
//
// If the node's Op implements graph.ShapeInferer it is used, otherwise (or if it returns
// graph.ErrCannotInferShape) the default shape of the outputs is used (see ShapeTuple).
// Any other error, or a panic, during inference is logged and then handled according to the
// configuration "on_shape_error": "raise" returns ErrShapeInference, "warn" uses the default shape.
//
// Dimensions are converted to int64: constants are re-created as int64 constants and other integer
// scalars are converted with a Cast. Dimensions that are not integer scalars, or are uint64, are
// rejected with ErrShapeDType.
func (f *ShapeFeature) InferNodeShape(node *graph.Node) ([]Tuple, error) {
	inputShapes := make([]Tuple, node.NumInputs())
	for ii, input := range node.Inputs() {
		inputShapes[ii] = f.shapeOf[input]
	}

	tuples, err := f.dispatch(node, inputShapes)
	if err != nil {
		return nil, err
	}
	if len(tuples) != len(node.Outputs()) {
		return nil, errors.Wrapf(ErrShapeCountMismatch, "shape inference of %s returned %d shapes for %d outputs",
			node.Op(), len(tuples), len(node.Outputs()))
	}
	for ii, tuple := range tuples {
		out := node.Output(ii)
		if tuple == nil {
			tuples[ii] = f.ShapeTuple(out)
			continue
		}
		tuples[ii], err = f.normalizeDTypes(node, tuple)
		if err != nil {
			return nil, err
		}
	}
	return tuples, nil
}

// dispatch calls the shape inference of the node's Op, handling its failures.
func (f *ShapeFeature) dispatch(node *graph.Node, inputShapes []Tuple) ([]Tuple, error) {
	inferer, ok := node.Op().(graph.ShapeInferer)
	if !ok {
		return f.defaultInferShape(node), nil
	}
	var tuples []Tuple
	var err error
	exception := exceptions.Try(func() {
		tuples, err = inferer.InferShape(f.g, node, inputShapes)
	})
	if exception != nil {
		if e, isErr := exception.(error); isErr {
			err = errors.WithMessage(e, "panic during shape inference")
		} else {
			err = errors.Errorf("panic during shape inference: %v", exception)
		}
	}
	if err == nil {
		return tuples, nil
	}
	if errors.Is(err, graph.ErrCannotInferShape) {
		klog.V(2).Infof("Shape of %s not inferred, using its static shape: %v", node, err)
		return f.defaultInferShape(node), nil
	}

	klog.Errorf("Failed to infer shape from op %s.\nInput shapes: %s\nError: %+v",
		node.Op(), formatShapes(inputShapes), err)
	if f.config().GetString(config.OnShapeError) == "raise" {
		return nil, errors.Wrapf(ErrShapeInference, "op %s: %v", node.Op(), err)
	}
	klog.Warningf("Shape inference of %s failed, using its static shape instead: %v", node, err)
	return f.defaultInferShape(node), nil
}

// defaultInferShape returns the default shape of each output of node, from their static types.
func (f *ShapeFeature) defaultInferShape(node *graph.Node) []Tuple {
	return xslices.Map(node.Outputs(), f.ShapeTuple)
}

// normalizeDTypes converts the dimensions of tuple to int64.
func (f *ShapeFeature) normalizeDTypes(node *graph.Node, tuple Tuple) (Tuple, error) {
	var normalized Tuple
	for axis, dim := range tuple {
		if dim == nil {
			return nil, errors.Wrapf(ErrShapeDType, "shape inference of %s returned no dimension for axis %d", node.Op(), axis)
		}
		dtype := dim.DType()
		if dtype == dtypes.Int64 {
			continue
		}
		if !dim.Shape().IsScalar() || !(dtype.IsInt() || dtype == dtypes.Bool) || dtype == dtypes.Uint64 {
			return nil, errors.Wrapf(ErrShapeDType, "shape inference of %s returned %s:%s for axis %d",
				node.Op(), dim, dim.Shape(), axis)
		}
		if normalized == nil {
			normalized = make(Tuple, len(tuple))
			copy(normalized, tuple)
		}
		if value, ok := dim.ScalarValue(); ok {
			if dtype == dtypes.Bool && value != 0 {
				value = 1
			}
			normalized[axis] = f.constant(value)
		} else {
			normalized[axis] = ops.Cast(dim, dtypes.Int64)
		}
	}
	if normalized == nil {
		return tuple, nil
	}
	return normalized, nil
}

func formatShapes(tuples []Tuple) string {
	return "[" + strings.Join(xslices.Map(tuples, func(t Tuple) string { return formatTuple(t) }), ", ") + "]"
}
