// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rewrite

import (
	"context"
	"time"

	"github.com/gomlx/shapeopt/pkg/config"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/shapefeature"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Pass is a whole-graph rewrite.
type Pass interface {
	// Name of the pass, used in logs.
	Name() string

	// Rewrite transforms g in place.
	Rewrite(ctx context.Context, g *graph.Graph) error
}

// ShapeOptimizer is the Pass that attaches a shapefeature.ShapeFeature to the graph, if it doesn't
// have one yet. Shape rules need it to be attached.
type ShapeOptimizer struct {
	// Config used by the attached feature. If nil, config.Default() is used.
	Config *config.Config
}

// Name implements Pass.
func (*ShapeOptimizer) Name() string { return "ShapeOpt" }

// Rewrite implements Pass.
func (p *ShapeOptimizer) Rewrite(_ context.Context, g *graph.Graph) error {
	if shapefeature.From(g) != nil {
		return nil
	}
	f := shapefeature.New()
	if p.Config != nil {
		f.WithConfig(p.Config)
	}
	return g.AttachFeature(f)
}

// UnShapeOptimizer is the Pass that removes the shapefeature.ShapeFeature from the graph, if any.
type UnShapeOptimizer struct{}

// Name implements Pass.
func (UnShapeOptimizer) Name() string { return "UnShapeOpt" }

// Rewrite implements Pass.
func (UnShapeOptimizer) Rewrite(_ context.Context, g *graph.Graph) error {
	if f := shapefeature.From(g); f != nil {
		g.RemoveFeature(f)
	}
	return nil
}

// ConstantFolding replaces the outputs of nodes whose inputs are all constants by the constants
// they evaluate to, for the ops that implement graph.Folder.
var ConstantFolding = &NodeRewriter{
	Name: "constant_folding",
	Fn: func(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
		if _, ok := node.Op().(graph.Folder); !ok {
			return nil, nil
		}
		for _, input := range node.Inputs() {
			if !input.IsConstant() || graph.IsNone(input) {
				return nil, nil
			}
		}
		folded, err := graph.FoldConstants(node.Outputs())
		if err != nil {
			return nil, err
		}
		for _, v := range folded {
			if !v.IsConstant() {
				return nil, nil
			}
		}
		return folded, nil
	},
}

func init() {
	Register(ConstantFolding, Canonicalize, Specialize)
}

// Pipeline runs passes in order.
type Pipeline struct {
	Passes []Pass

	// OnPass, if set, is called after each pass completes successfully, with its index.
	OnPass func(idx int, pass Pass, elapsed time.Duration)
}

// NewPipeline creates a Pipeline with the given passes.
func NewPipeline(passes ...Pass) *Pipeline {
	return &Pipeline{Passes: passes}
}

// Run the passes on g. It stops at the first error.
func (p *Pipeline) Run(ctx context.Context, g *graph.Graph) error {
	for ii, pass := range p.Passes {
		start := time.Now()
		if err := pass.Rewrite(ctx, g); err != nil {
			return errors.WithMessagef(err, "pass #%d (%s) on graph %q", ii, pass.Name(), g.Name())
		}
		elapsed := time.Since(start)
		klog.V(1).Infof("graph %q: pass %s done in %s", g.Name(), pass.Name(), elapsed)
		if p.OnPass != nil {
			p.OnPass(ii, pass, elapsed)
		}
	}
	return nil
}

// ShapePipeline returns the standard pipeline for the given phases: attach the shape index, rewrite
// with every rewriter of the Default DB in those phases until a fixed point, and detach the index.
// The Equilibrium pass is returned too, to access its statistics.
func ShapePipeline(cfg *config.Config, phases ...Phase) (*Pipeline, *Equilibrium) {
	eq := NewEquilibrium("Equilibrium", Query(phases...)...)
	if cfg != nil {
		eq.WithConfig(cfg)
	}
	return NewPipeline(&ShapeOptimizer{Config: cfg}, eq, UnShapeOptimizer{}), eq
}
