// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shaperules_test

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
	"github.com/gomlx/shapeopt/pkg/rewrite"
	. "github.com/gomlx/shapeopt/pkg/rewrite/shaperules"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

const U = shapes.UnknownDim

func input(name string, dims ...int) *graph.Value {
	return graph.NewInput(name, shapes.Make(dtypes.Float32, dims...))
}

func intScalar(name string) *graph.Value {
	return graph.NewInput(name, shapes.Scalar(dtypes.Int64))
}

// newConfig returns a private configuration that validates the graph after every rewrite and
// fails on rewriter errors.
func newConfig(t *testing.T) *config.Config {
	cfg := must.M1(config.New(nil, nil))
	require.NoError(t, cfg.Set(config.RewriteCheckGraph, "true"))
	require.NoError(t, cfg.Set(config.OnOptError, "raise"))
	return cfg
}

// attach attaches a new shape index to g.
func attach(t *testing.T, g *graph.Graph, cfg *config.Config) *shapefeature.ShapeFeature {
	sf := shapefeature.New().WithConfig(cfg)
	require.NoError(t, g.AttachFeature(sf))
	return sf
}

// run applies the rules until convergence, and checks the graph and its shape index (if attached).
func run(t *testing.T, g *graph.Graph, cfg *config.Config, rules ...*rewrite.NodeRewriter) *rewrite.Stats {
	stats, err := rewrite.NewEquilibrium(t.Name(), rules...).WithConfig(cfg).Apply(context.Background(), g)
	require.NoError(t, err)
	require.True(t, stats.Converged)
	require.NoError(t, g.Check())
	if sf := shapefeature.From(g); sf != nil {
		require.NoError(t, sf.Check())
	}
	return stats
}

// rewriteWithIndex creates a graph, attaches a shape index and applies the rules.
func rewriteWithIndex(t *testing.T, inputs, outputs []*graph.Value, rules ...*rewrite.NodeRewriter) (*graph.Graph, *rewrite.Stats) {
	g := must.M1(graph.New(t.Name(), inputs, outputs))
	cfg := newConfig(t)
	attach(t, g, cfg)
	return g, run(t, g, cfg, rules...)
}

func countNodes(g *graph.Graph, opType graph.OpType) int {
	count := 0
	for _, node := range g.Nodes() {
		if node.Type() == opType {
			count++
		}
	}
	return count
}

func TestRegistration(t *testing.T) {
	assert.Equal(t, []string{
		"local_reshape_chain", "local_useless_reshape", "local_reshape_to_dimshuffle", "local_reshape_lift",
		"local_useless_dimshuffle_in_reshape", "local_merge_consecutive_specify_shape",
		"local_shape_of_specify_shape", "local_shape_i_ground", "local_shape_to_shape_i", "local_track_shape_i",
		"local_useless_unbroadcast", "local_unbroadcast_lift",
	}, xslices.Map(All, func(rw *rewrite.NodeRewriter) string { return rw.Name }))
	for _, rw := range All {
		assert.Same(t, rw, rewrite.Default.Get(rw.Name), "rule %q not registered", rw.Name)
		assert.NotEmpty(t, rw.Tracks, "rule %q", rw.Name)
	}
	assert.Equal(t, []rewrite.Phase{rewrite.Canonicalize, rewrite.Stabilize, rewrite.Useless},
		rewrite.Default.PhasesOf(UselessReshape))
	assert.Equal(t, []rewrite.Phase{rewrite.Canonicalize, rewrite.Specialize},
		rewrite.Default.PhasesOf(TrackShapeI))
	assert.Contains(t, rewrite.Query(rewrite.Useless), ShapeIGround)
	assert.NotContains(t, rewrite.Query(rewrite.Useless), ReshapeChain)
}

func TestReshapeChain(t *testing.T) {
	t.Run("fused", func(t *testing.T) {
		x := input("x", U, 4)
		inner := ops.ReshapeDims(x, -1, 2)
		outer := ops.ReshapeDims(inner, -1, 8)
		shapeVec := outer.Owner().Input(1)
		g, stats := rewriteWithIndex(t, []*graph.Value{x}, []*graph.Value{outer}, ReshapeChain)
		assert.Equal(t, 1, stats.Applied[ReshapeChain.Name])
		out := g.Outputs()[0]
		require.Equal(t, graph.OpTypeReshape, out.OwnerType())
		assert.Same(t, x, out.Owner().Input(0))
		assert.Same(t, shapeVec, out.Owner().Input(1))
		assert.Equal(t, []int{U, 8}, out.Shape().Dimensions)
		assert.Equal(t, 1, countNodes(g, graph.OpTypeReshape))
	})

	t.Run("declined", func(t *testing.T) {
		// The fused reshape of x to [-1] would lose the static dimension 6.
		x := input("x", U)
		inner := ops.ReshapeDims(x, 2, 3)
		outer := ops.ReshapeDims(inner, -1)
		require.Equal(t, []int{6}, outer.Shape().Dimensions)
		g, stats := rewriteWithIndex(t, []*graph.Value{x}, []*graph.Value{outer}, ReshapeChain)
		assert.Equal(t, 0, stats.NumApplied())
		assert.Same(t, outer, g.Outputs()[0])
		assert.Same(t, inner, outer.Owner().Input(0))
	})
}

func TestUselessReshape(t *testing.T) {
	x := input("x", U, 3)
	rows := intScalar("rows")
	n := intScalar("n")
	vec := input("vec", U)

	ownShape := ops.Reshape(x, ops.Shape(x))
	accessors := ops.Reshape(x, ops.MakeVector(ops.ShapeI(x, 0), ops.Index(ops.Shape(x), 1)))
	inferred := ops.Reshape(x, ops.MakeVector(ops.Const(-1), ops.ShapeI(x, 1)))
	tracked := ops.Reshape(x, ops.MakeVector(ops.ShapeI(x, 0), ops.Const(3)))
	vector := ops.Reshape(vec, ops.MakeVector(n))
	notUseless := ops.Reshape(x, ops.MakeVector(rows, ops.Const(3)))
	swapped := ops.Reshape(x, ops.MakeVector(ops.Const(3), ops.ShapeI(x, 0)))

	g, stats := rewriteWithIndex(t, []*graph.Value{x, rows, n, vec},
		[]*graph.Value{ownShape, accessors, inferred, tracked, vector, notUseless, swapped}, UselessReshape)
	assert.Equal(t, 5, stats.Applied[UselessReshape.Name])
	outputs := g.Outputs()
	for ii := range 4 {
		assert.Same(t, x, outputs[ii], "output #%d", ii)
	}
	assert.Same(t, vec, outputs[4])
	assert.Same(t, notUseless, outputs[5])
	assert.Same(t, swapped, outputs[6])
}

func TestReshapeToDimShuffle(t *testing.T) {
	x := input("x", U, U)
	n, m := intScalar("n"), intScalar("m")
	y := ops.Reshape(x, ops.MakeVector(ops.Const(1), n, ops.Const(1), m))
	require.Equal(t, []int{1, U, 1, U}, y.Shape().Dimensions)

	g, stats := rewriteWithIndex(t, []*graph.Value{x, n, m}, []*graph.Value{y}, ReshapeToDimShuffle)
	assert.Equal(t, 1, stats.Applied[ReshapeToDimShuffle.Name])
	out := g.Outputs()[0]
	require.Equal(t, graph.OpTypeDimShuffle, out.OwnerType())
	assert.Equal(t, []int{ops.NewAxis, 0, ops.NewAxis, 1}, out.Owner().Op().(*ops.DimShuffleOp).NewOrder)
	inner := out.Owner().Input(0)
	require.Equal(t, graph.OpTypeReshape, inner.OwnerType())
	assert.Same(t, x, inner.Owner().Input(0))
	assert.Equal(t, 2, inner.Rank())
}

func TestReshapeLift(t *testing.T) {
	x := input("x", U, 3)
	y := ops.ReshapeDims(ops.Exp(x), -1)
	g, stats := rewriteWithIndex(t, []*graph.Value{x}, []*graph.Value{y}, ReshapeLift)
	assert.Equal(t, 1, stats.Applied[ReshapeLift.Name])
	out := g.Outputs()[0]
	require.True(t, ops.IsUnaryElemwise(out.Owner()))
	assert.Equal(t, ops.ScalarExp, out.Owner().Op().(*ops.ElemwiseOp).Scalar)
	reshaped := out.Owner().Input(0)
	require.Equal(t, graph.OpTypeReshape, reshaped.OwnerType())
	assert.Same(t, x, reshaped.Owner().Input(0))
}

func TestUselessDimShuffleInReshape(t *testing.T) {
	x := input("x", U)
	expanded := ops.DimShuffle(x, ops.NewAxis, 0)
	y := ops.ReshapeDims(expanded, -1)
	x2 := input("x2", U, U)
	transposed := ops.DimShuffle(x2, 1, 0)
	y2 := ops.ReshapeDims(transposed, -1)

	g, stats := rewriteWithIndex(t, []*graph.Value{x, x2}, []*graph.Value{y, y2}, UselessDimShuffleInReshape)
	assert.Equal(t, 1, stats.Applied[UselessDimShuffleInReshape.Name])
	out := g.Outputs()[0]
	require.Equal(t, graph.OpTypeReshape, out.OwnerType())
	assert.Same(t, x, out.Owner().Input(0))
	assert.Same(t, y2, g.Outputs()[1])
	assert.Same(t, transposed, y2.Owner().Input(0))
}

func TestMergeConsecutiveSpecifyShape(t *testing.T) {
	x := input("x", U, U)
	n, m, k := intScalar("n"), intScalar("m"), intScalar("k")
	symbolic := ops.SpecifyShape(ops.SpecifyShape(x, n, m), k, graph.NoneConst())
	static := ops.SpecifyShapeDims(ops.SpecifyShapeDims(x, 2, U), U, 3)

	g, stats := rewriteWithIndex(t, []*graph.Value{x, n, m, k}, []*graph.Value{symbolic, static}, MergeConsecutiveSpecifyShape)
	assert.Equal(t, 2, stats.Applied[MergeConsecutiveSpecifyShape.Name])

	// The outer assertion takes precedence.
	merged := g.Outputs()[0].Owner()
	require.Equal(t, graph.OpTypeSpecifyShape, merged.Type())
	assert.Equal(t, []*graph.Value{x, k, m}, merged.Inputs())

	merged = g.Outputs()[1].Owner()
	require.Equal(t, graph.OpTypeSpecifyShape, merged.Type())
	assert.Same(t, x, merged.Input(0))
	assert.Equal(t, []int{2, 3}, merged.Output(0).Shape().Dimensions)
	assert.Equal(t, 2, countNodes(g, graph.OpTypeSpecifyShape))
}

func TestShapeOfSpecifyShape(t *testing.T) {
	x := input("x", U, U)
	n := intScalar("n")
	y := ops.Shape(ops.SpecifyShape(x, n, graph.NoneConst()))
	g, stats := rewriteWithIndex(t, []*graph.Value{x, n}, []*graph.Value{y}, ShapeOfSpecifyShape)
	assert.Equal(t, 1, stats.Applied[ShapeOfSpecifyShape.Name])
	out := g.Outputs()[0]
	require.Equal(t, graph.OpTypeMakeVector, out.OwnerType())
	assert.Same(t, n, out.Owner().Input(0))
	target, axis, ok := ops.AsShapeI(out.Owner().Input(1))
	require.True(t, ok)
	assert.Same(t, x, target)
	assert.Equal(t, 1, axis)
	assert.Equal(t, 0, countNodes(g, graph.OpTypeSpecifyShape))
}

func TestShapeIGround(t *testing.T) {
	x := input("x", U, 5)
	g, stats := rewriteWithIndex(t, []*graph.Value{x}, []*graph.Value{ops.ShapeI(x, 0), ops.ShapeI(x, 1)}, ShapeIGround)
	assert.Equal(t, 1, stats.Applied[ShapeIGround.Name])
	assert.Equal(t, graph.OpTypeShapeI, g.Outputs()[0].OwnerType())
	value, ok := g.Outputs()[1].ScalarValue()
	require.True(t, ok)
	assert.Equal(t, int64(5), value)
}

func TestShapeToShapeI(t *testing.T) {
	x := input("x", U, 5)
	g, stats := rewriteWithIndex(t, []*graph.Value{x}, []*graph.Value{ops.Shape(x)}, ShapeToShapeI)
	assert.Equal(t, 1, stats.Applied[ShapeToShapeI.Name])
	out := g.Outputs()[0]
	require.Equal(t, graph.OpTypeMakeVector, out.OwnerType())
	target, axis, ok := ops.AsShapeI(out.Owner().Input(0))
	require.True(t, ok)
	assert.Same(t, x, target)
	assert.Equal(t, 0, axis)
	value, ok := out.Owner().Input(1).ScalarValue()
	require.True(t, ok)
	assert.Equal(t, int64(5), value)

	// Without a shape index the rule doesn't apply.
	g2 := must.M1(graph.New("no_index", []*graph.Value{x}, []*graph.Value{ops.Shape(x)}))
	stats = run(t, g2, newConfig(t), ShapeToShapeI, TrackShapeI)
	assert.Equal(t, 0, stats.NumApplied())
}

func TestTrackShapeI(t *testing.T) {
	x := input("x", U, 3)
	z := input("z", U, 3)
	y := ops.Exp(x)
	s := ops.ShapeI(y, 0)
	g := must.M1(graph.New(t.Name(), []*graph.Value{x, z}, []*graph.Value{y, s}))
	cfg := newConfig(t)
	sf := attach(t, g, cfg)

	w := ops.Neg(z)
	require.NoError(t, g.Replace(y, w, "test"))
	target, found := sf.Scheduled(s.Owner())
	require.True(t, found)
	assert.Same(t, w, target)

	// The index merged the shapes of Exp(x) and Neg(z): the accessor is replaced by what it tracks.
	want := must.M1(sf.GetShape(w, 0))
	stats := run(t, g, cfg, TrackShapeI)
	assert.Equal(t, 1, stats.Applied[TrackShapeI.Name])
	assert.Same(t, want, g.Outputs()[1])
	accessed, axis, ok := ops.AsShapeI(want)
	require.True(t, ok)
	assert.Contains(t, []*graph.Value{x, z}, accessed)
	assert.Equal(t, 0, axis)

	// The accessor stays scheduled.
	_, found = sf.Scheduled(s.Owner())
	assert.True(t, found)
}

func TestTrackShapeIRejected(t *testing.T) {
	x := input("x", U)
	y := ops.Exp(x)
	s := ops.ShapeI(y, 0)
	sum := ops.Add(s, ops.Const(0))
	v := ops.Reshape(ops.Neg(x), ops.MakeVector(sum))
	g := must.M1(graph.New(t.Name(), []*graph.Value{x}, []*graph.Value{v, y}))
	cfg := newConfig(t)
	attach(t, g, cfg)

	// replaceByDependent proposes to replace Exp(x) by v while v depends on it: the graph rejects
	// the cycle and reverts the replacement, but the accessor of Exp(x) was scheduled meanwhile.
	replaceByDependent := &rewrite.NodeRewriter{
		Name:   "replace_by_dependent",
		Tracks: []graph.OpType{graph.OpTypeElemwise},
		Fn: func(g *graph.Graph, node *graph.Node) ([]*graph.Value, error) {
			if node.Output(0) != y || !g.HasValue(v) || !graph.IsAncestor(y, v) {
				return nil, nil
			}
			return []*graph.Value{v}, nil
		},
	}
	stats := run(t, g, cfg, replaceByDependent, TrackShapeI)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 1, stats.Applied[TrackShapeI.Name])
	assert.Same(t, y, g.Outputs()[1])

	// The accessor of Exp(x) was replaced by the accessor of x.
	accessed, axis, ok := ops.AsShapeI(sum.Owner().Input(0))
	require.True(t, ok)
	assert.Same(t, x, accessed)
	assert.Equal(t, 0, axis)
}

func TestUselessUnbroadcast(t *testing.T) {
	x := input("x", U, 3)
	x2 := input("x2", 1, 1, U)
	g, stats := rewriteWithIndex(t, []*graph.Value{x, x2},
		[]*graph.Value{ops.Unbroadcast(x, 0), ops.Unbroadcast(x2, 0, 2)}, UselessUnbroadcast)
	assert.Equal(t, 2, stats.Applied[UselessUnbroadcast.Name])
	assert.Same(t, x, g.Outputs()[0])
	trimmed := g.Outputs()[1]
	require.Equal(t, graph.OpTypeUnbroadcast, trimmed.OwnerType())
	assert.Equal(t, []int{0}, trimmed.Owner().Op().(*ops.UnbroadcastOp).Axes)
	assert.Same(t, x2, trimmed.Owner().Input(0))
	assert.Equal(t, []int{U, 1, U}, trimmed.Shape().Dimensions)
}

func TestUnbroadcastLift(t *testing.T) {
	x := input("x", 1, U)
	lifted := ops.Unbroadcast(ops.Exp(x), 0)
	x2 := input("x2", 1, U)
	shared := ops.Exp(x2)
	notLifted := ops.Unbroadcast(shared, 0)

	g, stats := rewriteWithIndex(t, []*graph.Value{x, x2}, []*graph.Value{lifted, notLifted, shared}, UnbroadcastLift)
	assert.Equal(t, 1, stats.Applied[UnbroadcastLift.Name])
	out := g.Outputs()[0]
	require.True(t, ops.IsUnaryElemwise(out.Owner()))
	inner := out.Owner().Input(0)
	require.Equal(t, graph.OpTypeUnbroadcast, inner.OwnerType())
	assert.Same(t, x, inner.Owner().Input(0))
	assert.Same(t, notLifted, g.Outputs()[1])
}

// TestReshapeEndToEnd reshapes a (?, 5) matrix to (-1, 5) and then to (rows, 5): the canonical rules
// leave a single reshape, and the index keeps the literal 5.
func TestReshapeEndToEnd(t *testing.T) {
	x := input("x", U, 5)
	rows := intScalar("rows")
	y := ops.ReshapeDims(x, -1, 5)
	z := ops.Reshape(y, ops.MakeVector(rows, ops.Const(5)))
	g := must.M1(graph.New(t.Name(), []*graph.Value{x, rows}, []*graph.Value{z}))

	pipeline, eq := rewrite.ShapePipeline(newConfig(t), rewrite.Canonicalize)
	var dim1 *graph.Value
	pipeline.OnPass = func(_ int, pass rewrite.Pass, _ time.Duration) {
		if pass == eq {
			dim1 = must.M1(shapefeature.From(g).GetShape(g.Outputs()[0], 1))
		}
	}
	require.NoError(t, pipeline.Run(context.Background(), g))
	require.NotNil(t, eq.LastStats)
	assert.True(t, eq.LastStats.Converged)

	assert.Equal(t, 1, countNodes(g, graph.OpTypeReshape), "graph:\n%s", g)
	out := g.Outputs()[0]
	require.Equal(t, graph.OpTypeReshape, out.OwnerType())
	assert.Same(t, x, out.Owner().Input(0))
	assert.Equal(t, []int{U, 5}, out.Shape().Dimensions)
	require.NotNil(t, dim1)
	value, ok := dim1.ScalarValue()
	require.True(t, ok)
	assert.Equal(t, int64(5), value)
}

// TestUnbroadcastEndToEnd marks axis 0 and then axes {0, 2} of a (1, ?, 1) tensor as not
// broadcastable: the canonical rules leave a single marker of axes {0, 2}.
func TestUnbroadcastEndToEnd(t *testing.T) {
	x := input("x", 1, U, 1)
	y := ops.Unbroadcast(ops.Unbroadcast(x, 0), 0, 2)
	g := must.M1(graph.New(t.Name(), []*graph.Value{x}, []*graph.Value{y}))
	pipeline, eq := rewrite.ShapePipeline(newConfig(t), rewrite.Canonicalize)
	require.NoError(t, pipeline.Run(context.Background(), g))
	assert.True(t, eq.LastStats.Converged)
	assert.Nil(t, shapefeature.From(g))

	assert.Equal(t, 1, g.NumNodes(), "graph:\n%s", g)
	out := g.Outputs()[0]
	require.Equal(t, graph.OpTypeUnbroadcast, out.OwnerType())
	assert.Equal(t, []int{0, 2}, out.Owner().Op().(*ops.UnbroadcastOp).Axes)
	assert.Same(t, x, out.Owner().Input(0))
	assert.Equal(t, []int{U, U, U}, out.Shape().Dimensions)
}
