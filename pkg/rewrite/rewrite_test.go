// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rewrite_test

import (
	"context"
	"testing"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/config"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/ops"
	"github.com/gomlx/shapeopt/pkg/core/shapefeature"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
	. "github.com/gomlx/shapeopt/pkg/rewrite"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func input(name string, dims ...int) *graph.Value {
	return graph.NewInput(name, shapes.Make(dtypes.Float32, dims...))
}

func newConfig(t *testing.T, settings map[string]string) *config.Config {
	cfg := must.M1(config.New(nil, nil))
	for name, value := range settings {
		require.NoError(t, cfg.Set(name, value))
	}
	return cfg
}

func isScalarOp(node *graph.Node, scalar ops.ScalarOp) bool {
	op, ok := node.Op().(*ops.ElemwiseOp)
	return ok && op.Scalar == scalar
}

// negNeg rewrites Neg(Neg(x)) to x.
var negNeg = &NodeRewriter{
	Name:   "neg_neg",
	Tracks: []graph.OpType{graph.OpTypeElemwise},
	Fn: func(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
		if !isScalarOp(node, ops.ScalarNeg) {
			return nil, nil
		}
		inner := node.Input(0).Owner()
		if inner == nil || !isScalarOp(inner, ops.ScalarNeg) {
			return nil, nil
		}
		return []*graph.Value{inner.Input(0)}, nil
	},
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase(" Canonicalize")
	require.NoError(t, err)
	assert.Equal(t, Canonicalize, p)
	_, err = ParsePhase("optimize")
	assert.Error(t, err)
}

func TestDB(t *testing.T) {
	db := NewDB()
	a := &NodeRewriter{Name: "a", Fn: negNeg.Fn}
	b := &NodeRewriter{Name: "b", Fn: negNeg.Fn}
	db.Register(a, Canonicalize)
	db.Register(b, Useless, Specialize)
	db.Register(a, Stabilize)

	assert.Equal(t, []*NodeRewriter{a}, db.Query(Canonicalize))
	assert.Equal(t, []*NodeRewriter{a, b}, db.Query(Stabilize, Useless))
	assert.Empty(t, db.Query())
	assert.Equal(t, []Phase{Canonicalize, Stabilize}, db.PhasesOf(a))
	assert.Equal(t, []string{"a", "b"}, db.Names())
	assert.Same(t, b, db.Get("b"))
	assert.Nil(t, db.Get("c"))

	require.Panics(t, func() { db.Register(&NodeRewriter{Name: "a", Fn: negNeg.Fn}, Canonicalize) })
	require.Panics(t, func() { db.Register(&NodeRewriter{Name: "c", Fn: negNeg.Fn}) })
	require.Panics(t, func() { db.Register(&NodeRewriter{Name: "c"}, Canonicalize) })
	require.Panics(t, func() { db.Register(&NodeRewriter{Name: "c", Fn: negNeg.Fn}, "optimize") })

	assert.Contains(t, Query(Canonicalize), ConstantFolding)
	assert.NotContains(t, Query(Useless), ConstantFolding)
}

func TestEquilibrium(t *testing.T) {
	x := input("x", 2, 3)
	y := ops.Exp(ops.Neg(ops.Neg(x)))
	g := must.M1(graph.New("neg_neg", []*graph.Value{x}, []*graph.Value{y}))
	eq := NewEquilibrium("test", negNeg).WithConfig(newConfig(t, map[string]string{config.RewriteCheckGraph: "true"}))
	stats, err := eq.Apply(context.Background(), g)
	require.NoError(t, err)
	assert.True(t, stats.Converged)
	assert.Equal(t, 2, stats.Iterations)
	assert.Equal(t, map[string]int{"neg_neg": 1}, stats.Applied)
	assert.Equal(t, 1, stats.NumApplied())
	assert.Contains(t, stats.String(), "neg_neg=1")
	assert.Same(t, x, y.Owner().Input(0))
	assert.Equal(t, 1, g.NumNodes())
	require.NoError(t, g.Check())
}

func TestEquilibriumRejected(t *testing.T) {
	x := input("x", 2, 3)
	y := ops.Exp(x)
	z := ops.Neg(y)
	g := must.M1(graph.New("cycle", []*graph.Value{x}, []*graph.Value{z}))

	// Replacing Exp(x) by its own consumer creates a cycle: the replacement is reverted.
	cyclic := &NodeRewriter{
		Name:   "cyclic",
		Tracks: []graph.OpType{graph.OpTypeElemwise},
		Fn: func(g *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
			if !isScalarOp(node, ops.ScalarExp) {
				return nil, nil
			}
			clients := g.Clients(node.Output(0))
			if len(clients) == 0 || clients[0].IsOutput() {
				return nil, nil
			}
			return []*graph.Value{clients[0].Node.Output(0)}, nil
		},
	}
	stats, err := NewEquilibrium("test", cyclic).WithConfig(newConfig(t, nil)).Apply(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejected)
	assert.True(t, stats.Converged)
	assert.Same(t, y, z.Owner().Input(0))
	assert.Same(t, z, g.Outputs()[0])
	require.NoError(t, g.Check())
}

func TestEquilibriumErrors(t *testing.T) {
	panicking := &NodeRewriter{
		Name:   "boom",
		Tracks: []graph.OpType{graph.OpTypeElemwise},
		Fn: func(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
			panic(errors.Errorf("boom at %s", node))
		},
	}
	failing := &NodeRewriter{
		Name: "failing",
		Fn: func(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
			return nil, errors.New("failing")
		},
	}
	wrongCount := &NodeRewriter{
		Name: "wrong_count",
		Fn: func(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
			return []*graph.Value{node.Input(0), node.Input(0)}, nil
		},
	}
	for _, rw := range []*NodeRewriter{panicking, failing, wrongCount} {
		for _, policy := range []string{"warn", "ignore", "raise"} {
			t.Run(rw.Name+"/"+policy, func(t *testing.T) {
				x := input("x", 2)
				g := must.M1(graph.New("errors", []*graph.Value{x}, []*graph.Value{ops.Exp(x)}))
				cfg := newConfig(t, map[string]string{config.OnOptError: policy})
				stats, err := NewEquilibrium("test", rw).WithConfig(cfg).Apply(context.Background(), g)
				assert.Equal(t, 1, stats.Failed)
				if policy == "raise" {
					require.Error(t, err)
					assert.Contains(t, err.Error(), rw.Name)
					return
				}
				require.NoError(t, err)
				assert.True(t, stats.Converged)
			})
		}
	}
}

func TestEquilibriumMaxIterations(t *testing.T) {
	x := input("x", 2)
	g := must.M1(graph.New("loop", []*graph.Value{x}, []*graph.Value{ops.Neg(x)}))

	// Always replaces Neg(x) by an identical new node: it never converges.
	renew := &NodeRewriter{
		Name:   "renew",
		Tracks: []graph.OpType{graph.OpTypeElemwise},
		Fn: func(_ *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
			return []*graph.Value{ops.Neg(node.Input(0))}, nil
		},
	}
	cfg := newConfig(t, map[string]string{config.RewriteMaxIterations: "3"})
	stats, err := NewEquilibrium("test", renew).WithConfig(cfg).Apply(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, stats.Converged)
	assert.Equal(t, 3, stats.Iterations)
	assert.Equal(t, 3, stats.Applied["renew"])
}

func TestEquilibriumContext(t *testing.T) {
	x := input("x", 2)
	g := must.M1(graph.New("ctx", []*graph.Value{x}, []*graph.Value{ops.Neg(x)}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEquilibrium("test", negNeg).WithConfig(newConfig(t, nil)).Apply(ctx, g)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConstantFolding(t *testing.T) {
	x := input("x", 2)
	sum := ops.Add(ops.Const(2), ops.Const(3))
	product := ops.Mul(sum, ops.Const(2))
	g := must.M1(graph.New("fold", []*graph.Value{x}, []*graph.Value{product, ops.Neg(x)}))
	eq := NewEquilibrium("fold", ConstantFolding).WithConfig(newConfig(t, nil))
	require.NoError(t, eq.Rewrite(context.Background(), g))
	require.NotNil(t, eq.LastStats)
	assert.True(t, eq.LastStats.Converged)

	folded := g.Outputs()[0]
	value, ok := folded.ScalarValue()
	require.True(t, ok, "output not folded: %s", g)
	assert.Equal(t, int64(10), value)
	assert.Equal(t, graph.OpTypeElemwise, g.Outputs()[1].OwnerType())
}

// probe is a Pass that records whether the graph has a shape index.
type probe struct{ hadIndex bool }

func (p *probe) Name() string { return "probe" }
func (p *probe) Rewrite(_ context.Context, g *graph.Graph) error {
	p.hadIndex = shapefeature.From(g) != nil
	return nil
}

func TestPipeline(t *testing.T) {
	x := input("x", 2, 3)
	g := must.M1(graph.New("pipeline", []*graph.Value{x}, []*graph.Value{ops.Neg(ops.Neg(x))}))
	cfg := newConfig(t, nil)
	p := &probe{}
	var done []string
	pipeline := NewPipeline(&ShapeOptimizer{Config: cfg}, p, NewEquilibrium("eq", negNeg).WithConfig(cfg), UnShapeOptimizer{})
	pipeline.OnPass = func(_ int, pass Pass, _ time.Duration) { done = append(done, pass.Name()) }
	require.NoError(t, pipeline.Run(context.Background(), g))
	assert.True(t, p.hadIndex)
	assert.Nil(t, shapefeature.From(g))
	assert.Equal(t, []string{"ShapeOpt", "probe", "eq", "UnShapeOpt"}, done)
	assert.Same(t, x, g.Outputs()[0])

	// ShapeOptimizer doesn't attach a second index.
	g2 := must.M1(graph.New("twice", []*graph.Value{x}, []*graph.Value{ops.Neg(x)}))
	opt := &ShapeOptimizer{Config: cfg}
	require.NoError(t, opt.Rewrite(context.Background(), g2))
	require.NoError(t, opt.Rewrite(context.Background(), g2))
	assert.Len(t, g2.Features(), 1)
}
