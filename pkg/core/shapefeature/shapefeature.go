// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapefeature implements ShapeFeature, a graph.Feature that tracks the symbolic shape of
// every value of a graph.
//
// The symbolic shape of a value (a Tuple) holds one int64 scalar value per axis: a constant when the
// dimension is statically known, or an expression computing it (for instance ShapeI(x, 0), or the
// product of other dimensions). Rewrites use it to replace shape computations by cheaper or constant
// ones, and to prove that two values have the same shape.
//
// The index is kept consistent under every mutation of the graph: nodes imported, inputs rewired
// (including the reverts of rejected mutations) and nodes pruned. When a value r is replaced by
// newR, the dimension accessors of r are scheduled to be replaced by the shape of newR (see
// Scheduled), which the shape rewrite rules then do.
//
// A ShapeFeature is bound to at most one graph, and a graph has at most one ShapeFeature.
// It is not safe for concurrent use.
package shapefeature

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/shapeopt/pkg/config"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/support/sets"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Tuple is the symbolic shape of a value: one int64 scalar value per axis. A nil Tuple means the
// rank is unknown (or the value is not a tensor).
type Tuple = []*graph.Value

var one = graph.Int64Scalar(1)

// One returns the int64 constant 1 used in every Tuple for dimensions of size 1.
func One() *graph.Value { return one }

// ShapeFeature tracks the symbolic shape of every value of the graph it is attached to.
type ShapeFeature struct {
	g   *graph.Graph
	cfg *config.Config

	// shapeOf is the index: value -> symbolic shape.
	shapeOf map[*graph.Value]Tuple

	// scheduled dimension accessors (ShapeI nodes) to be replaced by the shape of a value.
	scheduled map[*graph.Node]*graph.Value

	// reverseIndex maps a symbolic dimension to the values whose shape uses it. It only grows (besides
	// being cleared for replaced values), so readers must validate the entries against shapeOf.
	reverseIndex map[*graph.Value]sets.Set[*graph.Value]

	// constants caches the int64 constants used for static dimensions.
	constants map[int64]*graph.Value
}

var (
	_ graph.Feature             = (*ShapeFeature)(nil)
	_ graph.ImportListener      = (*ShapeFeature)(nil)
	_ graph.ChangeInputListener = (*ShapeFeature)(nil)
)

// New creates a ShapeFeature, not yet attached. Attach it with graph.Graph.AttachFeature.
func New() *ShapeFeature {
	return &ShapeFeature{}
}

// WithConfig sets the configuration used, instead of config.Default(). It returns the feature itself.
func (f *ShapeFeature) WithConfig(cfg *config.Config) *ShapeFeature {
	f.cfg = cfg
	return f
}

func (f *ShapeFeature) config() *config.Config {
	if f.cfg == nil {
		return config.Default()
	}
	return f.cfg
}

// From returns the ShapeFeature attached to g, or nil if there is none.
func From(g *graph.Graph) *ShapeFeature {
	for _, feature := range g.Features() {
		if f, ok := feature.(*ShapeFeature); ok {
			return f
		}
	}
	return nil
}

// Graph returns the graph the feature is attached to, or nil.
func (f *ShapeFeature) Graph() *graph.Graph { return f.g }

// OnAttach implements graph.Feature: it imports every node of the graph in dependency order.
func (f *ShapeFeature) OnAttach(g *graph.Graph) error {
	if f.g != nil {
		return errors.Wrapf(ErrAlreadyAttached, "already attached to graph %q", f.g.Name())
	}
	if other := From(g); other != nil {
		return errors.Wrapf(ErrAlreadyAttached, "graph %q already has a ShapeFeature", g.Name())
	}
	f.g = g
	f.shapeOf = make(map[*graph.Value]Tuple)
	f.scheduled = make(map[*graph.Node]*graph.Value)
	f.reverseIndex = make(map[*graph.Value]sets.Set[*graph.Value])
	f.constants = map[int64]*graph.Value{1: one}
	err := f.importAll(g)
	if err != nil {
		f.reset()
		return err
	}
	klog.V(1).Infof("ShapeFeature attached to graph %q (%s): %d values tracked", g.Name(), g.UUID(), len(f.shapeOf))
	return nil
}

func (f *ShapeFeature) importAll(g *graph.Graph) error {
	nodes, err := g.Toposort()
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if err := f.OnImport(g, node, "on_attach"); err != nil {
			return err
		}
	}
	// Values not used by any node: graph inputs and outputs that are not computed.
	for _, v := range g.Values() {
		if err := f.initValue(v); err != nil {
			return err
		}
	}
	return nil
}

// OnDetach implements graph.Feature: all the shape information is dropped.
func (f *ShapeFeature) OnDetach(g *graph.Graph) {
	klog.V(1).Infof("ShapeFeature detached from graph %q", g.Name())
	f.reset()
}

func (f *ShapeFeature) reset() {
	f.g = nil
	f.shapeOf = nil
	f.scheduled = nil
	f.reverseIndex = nil
	f.constants = nil
}

// ShapeOf returns the symbolic shape tracked for v. found is false if v is not tracked.
// The returned Tuple must not be modified.
func (f *ShapeFeature) ShapeOf(v *graph.Value) (tuple Tuple, found bool) {
	tuple, found = f.shapeOf[v]
	return
}

// NumTracked returns the number of values in the index.
func (f *ShapeFeature) NumTracked() int { return len(f.shapeOf) }

// Scheduled returns the value whose shape should replace the dimension accessor node, if node is
// scheduled for replacement.
func (f *ShapeFeature) Scheduled(node *graph.Node) (*graph.Value, bool) {
	v, found := f.scheduled[node]
	return v, found
}

// NumScheduled returns the number of dimension accessors scheduled for replacement.
func (f *ShapeFeature) NumScheduled() int { return len(f.scheduled) }

// isStale returns whether the symbolic dimension is the accessor of a value no longer in the graph.
func (f *ShapeFeature) isStale(dim *graph.Value) bool {
	if dim == nil || dim.OwnerType() != graph.OpTypeShapeI {
		return false
	}
	return !f.g.HasValue(dim.Owner().Input(0))
}

// hasStale returns whether any dimension of the tracked shape of v is stale.
func (f *ShapeFeature) hasStale(v *graph.Value) bool {
	return slices.ContainsFunc(f.shapeOf[v], f.isStale)
}

// Check validates the index against the graph and returns every violation found, combined with
// multierr:
//
//   - Every value of the graph is tracked, and its Tuple has one element per axis, or is nil iff
//     the rank is unknown.
//   - Every statically known dimension is the literal constant, and dimensions of size 1 are One().
func (f *ShapeFeature) Check() error {
	if f.g == nil {
		return errors.New("ShapeFeature not attached")
	}
	var err error
	for _, v := range f.g.Values() {
		tuple, found := f.shapeOf[v]
		if !found {
			err = multierr.Append(err, errors.Errorf("value %s is not tracked", v))
			continue
		}
		shape := v.Shape()
		if !shape.RankKnown() {
			if tuple != nil {
				err = multierr.Append(err, errors.Errorf("value %s of unknown rank has shape %s", v, formatTuple(tuple)))
			}
			continue
		}
		if tuple == nil || len(tuple) != shape.Rank() {
			err = multierr.Append(err, errors.Wrapf(ErrShapeArity, "value %s:%s has shape %s", v, shape, formatTuple(tuple)))
			continue
		}
		for axis, dim := range tuple {
			if !shape.IsPinned(axis) {
				continue
			}
			value, ok := dim.ScalarValue()
			if !ok || value != int64(shape.Dim(axis)) {
				err = multierr.Append(err, errors.Errorf("value %s:%s has dimension %s on axis %d", v, shape, dim, axis))
			} else if value == 1 && dim != one {
				err = multierr.Append(err, errors.Errorf("value %s:%s has a non-canonical 1 on axis %d", v, shape, axis))
			}
		}
	}
	return err
}

func formatTuple(tuple Tuple) string {
	if tuple == nil {
		return "<unknown rank>"
	}
	return "[" + strings.Join(xslices.Map(tuple, func(v *graph.Value) string { return v.String() }), ", ") + "]"
}

// String returns a listing of the index, one value per line ordered by value id.
func (f *ShapeFeature) String() string {
	if f.g == nil {
		return "ShapeFeature (detached)"
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "ShapeFeature of graph %q: %d values, %d scheduled\n", f.g.Name(), len(f.shapeOf), len(f.scheduled))
	for _, v := range f.g.Values() {
		tuple, found := f.shapeOf[v]
		if !found {
			continue
		}
		_, _ = fmt.Fprintf(&sb, "\t%s:%s -> %s\n", v, v.Shape(), formatTuple(tuple))
	}
	return sb.String()
}
