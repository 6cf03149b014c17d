// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/ops"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/pkg/errors"
)

const U = shapes.UnknownDim

// demo builds one of the demonstration graphs.
type demo struct {
	name, description string
	build             func() (*graph.Graph, error)
}

var demos = []demo{
	{"reshape_chain", "(?, 4) reshaped to (-1, 2) and then to (-1, 8)", func() (*graph.Graph, error) {
		x := floatInput("x", U, 4)
		y := ops.ReshapeDims(ops.ReshapeDims(x, -1, 2), -1, 8)
		return graph.New("reshape_chain", []*graph.Value{x}, []*graph.Value{y})
	}},
	{"reshape_own_shape", "reshapes of (?, 3) to its own shape", func() (*graph.Graph, error) {
		x := floatInput("x", U, 3)
		y := ops.Reshape(x, ops.Shape(x))
		z := ops.Reshape(ops.Exp(x), ops.MakeVector(ops.ShapeI(x, 0), ops.Const(3)))
		return graph.New("reshape_own_shape", []*graph.Value{x}, []*graph.Value{y, z})
	}},
	{"specify_shape", "consecutive shape assertions and the shape of the result", func() (*graph.Graph, error) {
		x := floatInput("x", U, U)
		n := graph.NewInput("n", shapes.Scalar(dtypes.Int64))
		y := ops.SpecifyShape(ops.SpecifyShapeDims(x, U, 7), n, graph.NoneConst())
		return graph.New("specify_shape", []*graph.Value{x, n}, []*graph.Value{y, ops.Shape(y)})
	}},
	{"unbroadcast", "(1, ?, 1) unbroadcast on {0} and then on {0, 2}", func() (*graph.Graph, error) {
		x := floatInput("x", 1, U, 1)
		y := ops.Unbroadcast(ops.Unbroadcast(x, 0), 0, 2)
		return graph.New("unbroadcast", []*graph.Value{x}, []*graph.Value{y})
	}},
	{"shape_lowering", "(?, 5) reshaped to (-1, 5), then to (rows, 5), and its shape", func() (*graph.Graph, error) {
		x := floatInput("x", U, 5)
		rows := graph.NewInput("rows", shapes.Scalar(dtypes.Int64))
		y := ops.Reshape(ops.ReshapeDims(x, -1, 5), ops.MakeVector(rows, ops.Const(5)))
		return graph.New("shape_lowering", []*graph.Value{x, rows}, []*graph.Value{y, ops.Shape(y)})
	}},
}

func floatInput(name string, dims ...int) *graph.Value {
	return graph.NewInput(name, shapes.Make(dtypes.Float32, dims...))
}

// selectDemos parses the comma-separated list of demo names, "all" selects every demo.
func selectDemos(list string) ([]demo, error) {
	var selected []demo
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "all" {
			return demos, nil
		}
		idx := slices.IndexFunc(demos, func(d demo) bool { return d.name == name })
		if idx < 0 {
			return nil, errors.Errorf("unknown demo %q, valid demos are \"all\" or one of %q",
				name, xslices.Map(demos, func(d demo) string { return d.name }))
		}
		selected = append(selected, demos[idx])
	}
	return selected, nil
}
