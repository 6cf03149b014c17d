// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package rewrite implements local graph rewriting: NodeRewriter rules registered into phases of a
// DB, the Equilibrium driver that applies a set of rules until a fixed point, and the passes
// (Pass) that compose a Pipeline.
//
// Rules are dispatched by the OpType of the node they inspect. A rule returns the values replacing
// the outputs of the node, or nil if it doesn't apply.
package rewrite

import (
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/support/sets"
	"github.com/pkg/errors"
)

// Phase is a named group of rewriters, applied together.
type Phase string

const (
	// Canonicalize rewrites the graph to a canonical form, which simplifies the matching of other rules.
	Canonicalize Phase = "canonicalize"

	// Stabilize rewrites computations to numerically stable equivalents.
	Stabilize Phase = "stabilize"

	// Specialize rewrites generic computations to cheaper specialized ones.
	Specialize Phase = "specialize"

	// Useless removes computations that don't change their operand.
	Useless Phase = "useless"
)

// Phases lists all known phases, in the order they are usually applied.
var Phases = []Phase{Useless, Canonicalize, Stabilize, Specialize}

// ParsePhase converts a phase name (case-insensitive) to a Phase.
func ParsePhase(name string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(name)))
	if !slices.Contains(Phases, p) {
		return "", errors.Errorf("unknown rewrite phase %q, valid phases are %q", name, Phases)
	}
	return p, nil
}

// RewriteFn inspects node and returns the values that replace each of its outputs. A nil element
// keeps the corresponding output. If the rule doesn't apply it returns nil, nil.
//
// It must not modify the graph: the driver does the replacement.
type RewriteFn func(g *graph.Graph, node *graph.Node) ([]*graph.Value, error)

// NodeRewriter is a named local rewrite rule.
type NodeRewriter struct {
	// Name identifies the rule in logs and statistics.
	Name string

	// Tracks lists the OpTypes of the nodes the rule inspects. If empty, every node is inspected.
	Tracks []graph.OpType

	// Fn implements the rule.
	Fn RewriteFn
}

// String implements fmt.Stringer.
func (rw *NodeRewriter) String() string { return rw.Name }

// DB holds rewriters registered into phases.
type DB struct {
	rewriters []*NodeRewriter
	phases    map[*NodeRewriter]sets.Set[Phase]
	byName    map[string]*NodeRewriter
}

// NewDB creates an empty DB.
func NewDB() *DB {
	return &DB{
		phases: make(map[*NodeRewriter]sets.Set[Phase]),
		byName: make(map[string]*NodeRewriter),
	}
}

// Register rw into the given phases. Registering a rewriter again adds the new phases.
//
// It panics if rw has no name or function, if another rewriter with the same name was registered,
// or if no phase is given: registration happens during initialization.
func (db *DB) Register(rw *NodeRewriter, phases ...Phase) {
	if rw == nil || rw.Name == "" || rw.Fn == nil {
		exceptions.Panicf("rewrite.Register: rewriter must have a Name and a Fn, got %+v", rw)
	}
	if len(phases) == 0 {
		exceptions.Panicf("rewrite.Register(%q): no phases given", rw.Name)
	}
	if other, found := db.byName[rw.Name]; found && other != rw {
		exceptions.Panicf("rewrite.Register(%q): a different rewriter with the same name is already registered", rw.Name)
	}
	for _, p := range phases {
		if !slices.Contains(Phases, p) {
			exceptions.Panicf("rewrite.Register(%q): unknown phase %q", rw.Name, p)
		}
	}
	if _, found := db.phases[rw]; !found {
		db.rewriters = append(db.rewriters, rw)
		db.phases[rw] = sets.Make[Phase]()
		db.byName[rw.Name] = rw
	}
	for _, p := range phases {
		db.phases[rw].Insert(p)
	}
}

// Query returns the rewriters registered in any of the given phases, in order of registration.
func (db *DB) Query(phases ...Phase) []*NodeRewriter {
	var result []*NodeRewriter
	for _, rw := range db.rewriters {
		if slices.ContainsFunc(phases, db.phases[rw].Has) {
			result = append(result, rw)
		}
	}
	return result
}

// Get returns the rewriter registered with the given name, or nil.
func (db *DB) Get(name string) *NodeRewriter {
	return db.byName[name]
}

// PhasesOf returns the phases rw is registered in, sorted.
func (db *DB) PhasesOf(rw *NodeRewriter) []Phase {
	return sets.Sorted(db.phases[rw])
}

// Names returns the names of all registered rewriters, in order of registration.
func (db *DB) Names() []string {
	names := make([]string, len(db.rewriters))
	for ii, rw := range db.rewriters {
		names[ii] = rw.Name
	}
	return names
}

// Default is the DB rules of this module register into.
var Default = NewDB()

// Register rw into the given phases of the Default DB.
func Register(rw *NodeRewriter, phases ...Phase) {
	Default.Register(rw, phases...)
}

// Query returns the rewriters of the Default DB registered in any of the given phases.
func Query(phases ...Phase) []*NodeRewriter {
	return Default.Query(phases...)
}
