// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	. "github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/ops"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// recorder is a Feature that records every notification.
type recorder struct {
	events       []string
	rejectChange bool
}

func (r *recorder) OnAttach(_ *Graph) error { return nil }
func (r *recorder) OnDetach(_ *Graph)       {}

func (r *recorder) OnImport(_ *Graph, node *Node, reason string) error {
	r.events = append(r.events, fmt.Sprintf("import %s %s", node.Op(), reason))
	return nil
}

func (r *recorder) OnChangeInput(_ *Graph, node *Node, index int, oldValue, newValue *Value, reason string) error {
	r.events = append(r.events, fmt.Sprintf("change %s %s", Client{Node: node, Index: index}, reason))
	if r.rejectChange && reason != "revert" {
		return errors.Wrapf(ErrInconsistency, "rejecting %s -> %s", oldValue, newValue)
	}
	return nil
}

func (r *recorder) OnPrune(_ *Graph, node *Node, reason string) {
	r.events = append(r.events, fmt.Sprintf("prune %s %s", node.Op(), reason))
}

func input(name string, dims ...int) *Value {
	return NewInput(name, shapes.Make(dtypes.Float32, dims...))
}

func TestNew(t *testing.T) {
	x := input("x", 2, 3)
	y := ops.Neg(x)
	z := ops.Add(y, y)
	g := must.M1(New("test", []*Value{x}, []*Value{z}))
	require.NoError(t, g.Check())
	assert.Equal(t, "test", g.Name())
	assert.Equal(t, 2, g.NumNodes())
	assert.True(t, g.HasNode(y.Owner()))
	assert.Equal(t, 2, g.NumClients(y))
	assert.Equal(t, []Client{{Index: 0}}, g.Clients(z))
	assert.Equal(t, []*Node{y.Owner(), z.Owner()}, must.M1(g.Toposort()))

	// Free inputs must be declared.
	_, err := New("missing", nil, []*Value{z})
	require.ErrorIs(t, err, ErrMissingInput)

	// Constants don't need to be declared.
	c := ops.Const(3)
	g2 := must.M1(New("", nil, []*Value{ops.Neg(c)}))
	assert.True(t, g2.HasValue(c))
	assert.Contains(t, g2.Name(), "graph_")
}

func TestReplacePrunes(t *testing.T) {
	x := input("x", 2, 3)
	y := ops.Neg(x)
	z := ops.Exp(y)
	g := must.M1(New("test", []*Value{x}, []*Value{z}))
	r := &recorder{}
	require.NoError(t, g.AttachFeature(r))
	require.NoError(t, g.AttachFeature(r)) // No-op.
	assert.Len(t, g.Features(), 1)

	w := ops.Exp(x)
	require.NoError(t, g.Replace(y, w, "test"))
	require.NoError(t, g.Check())
	assert.Equal(t, w, z.Owner().Input(0))
	assert.False(t, g.HasNode(y.Owner()))
	assert.False(t, g.HasValue(y))
	assert.Equal(t, []string{
		"import Elemwise{exp} test",
		"prune Elemwise{neg} test",
		"change Elemwise{exp}(" + w.String() + ")[0] test",
	}, r.events)

	assert.True(t, g.RemoveFeature(r))
	assert.False(t, g.RemoveFeature(r))
}

func TestReplaceTypeMismatch(t *testing.T) {
	x := input("x", 2, 3)
	y := ops.Neg(x)
	g := must.M1(New("test", []*Value{x}, []*Value{y}))
	err := g.Replace(y, ops.Neg(input("x2", 3, 2)), "test")
	require.ErrorIs(t, err, ErrTypeMismatch)
	require.NoError(t, g.Check())

	// An unknown dimension is compatible.
	x3 := input("x3", shapes.UnknownDim, 3)
	g3 := must.M1(New("test", []*Value{x, x3}, []*Value{y}))
	require.NoError(t, g3.Replace(y, ops.Neg(x3), "test"))
}

func TestReplaceAllRevert(t *testing.T) {
	x := input("x", 2, 3)
	y := ops.Neg(x)
	z := ops.Add(y, ops.Exp(y))
	g := must.M1(New("test", []*Value{x}, []*Value{z}))
	r := &recorder{rejectChange: true}
	require.NoError(t, g.AttachFeature(r))

	w := ops.Abs(x)
	err := g.Replace(y, w, "test")
	require.ErrorIs(t, err, ErrInconsistency)
	require.NoError(t, g.Check())
	assert.Equal(t, y, z.Owner().Input(0))
	assert.True(t, g.HasNode(y.Owner()))
	assert.False(t, g.HasNode(w.Owner()))
	assert.Contains(t, r.events, "prune Elemwise{abs} revert")
}

func TestReplaceAllCycle(t *testing.T) {
	x := input("x", 2, 3)
	a := ops.Neg(x)
	b := ops.Exp(a)
	g := must.M1(New("test", []*Value{x}, []*Value{b}))

	// Replacing a by a function of b creates a cycle.
	err := g.Replace(a, ops.Neg(b), "test")
	require.ErrorIs(t, err, ErrCycle)
	require.NoError(t, g.Check())
	assert.Equal(t, a, b.Owner().Input(0))
	assert.Equal(t, 2, g.NumNodes())

	// Replacing a value not in the graph.
	err = g.Replace(ops.Neg(x), a, "test")
	require.ErrorIs(t, err, ErrNotInGraph)
}

func TestChangeGraphOutput(t *testing.T) {
	x := input("x", 2, 3)
	y := ops.Neg(x)
	g := must.M1(New("test", []*Value{x}, []*Value{y}))
	require.NoError(t, g.ChangeNodeInput(nil, 0, x, "test"))
	assert.Equal(t, []*Value{x}, g.Outputs())
	assert.Equal(t, 0, g.NumNodes())
	require.NoError(t, g.Check())
}

func TestAncestorsAndEqualComputations(t *testing.T) {
	x := input("x", 2, 3)
	y := input("y", 2, 3)
	a := ops.Add(ops.Neg(x), y)
	b := ops.Add(ops.Neg(x), y)
	assert.True(t, IsAncestor(x, a))
	assert.False(t, IsAncestor(x, y))
	assert.Len(t, Ancestors(a), 4)

	assert.True(t, EqualComputations([]*Value{a}, []*Value{b}))
	assert.False(t, EqualComputations([]*Value{a}, []*Value{ops.Add(ops.Neg(y), x)}))
	assert.True(t, EqualComputations([]*Value{ops.Const(3)}, []*Value{ops.Const(3)}))
	assert.False(t, EqualComputations([]*Value{ops.Const(3)}, []*Value{ops.Const(4)}))
	assert.False(t, EqualComputations([]*Value{ops.Const(3)}, []*Value{ScalarConstant(dtypes.Int32, 3)}))
	assert.False(t, EqualComputations([]*Value{a}, []*Value{a, b}))
}

func TestToposortDeterministic(t *testing.T) {
	x := input("x", 2, 3)
	b := ops.Exp(x)
	a := ops.Neg(x)
	out := ops.Add(a, b)
	g := must.M1(New("test", []*Value{x}, []*Value{out}))
	sorted := must.M1(g.Toposort())
	require.Len(t, sorted, 3)
	// Both b and a are ready at the start: the one created first comes first.
	assert.Equal(t, []*Node{b.Owner(), a.Owner(), out.Owner()}, sorted)
	assert.Contains(t, g.String(), "Elemwise{add}")
}
