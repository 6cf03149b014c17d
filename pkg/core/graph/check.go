// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Check validates the internal invariants of the graph and returns all violations found, combined
// with multierr. It returns nil if the graph is consistent.
//
// It is meant for tests and debugging (see config option "rewrite__check_graph").
func (g *Graph) Check() error {
	var err error
	for ii, input := range g.inputs {
		if !g.values.Has(input) {
			err = multierr.Append(err, errors.Errorf("input #%d %s is not a graph value", ii, input))
		}
	}
	for ii, output := range g.outputs {
		if !g.values.Has(output) {
			err = multierr.Append(err, errors.Errorf("output #%d %s is not a graph value", ii, output))
		}
		if !slices.Contains(g.clients[output], Client{Index: ii}) {
			err = multierr.Append(err, errors.Errorf("output #%d %s is missing its output client", ii, output))
		}
	}
	for node := range g.nodes {
		for ii, input := range node.inputs {
			if !g.values.Has(input) {
				err = multierr.Append(err, errors.Wrapf(ErrNotInGraph, "input #%d (%s) of %s", ii, input, node))
			}
			if !slices.Contains(g.clients[input], Client{Node: node, Index: ii}) {
				err = multierr.Append(err, errors.Errorf("%s is not registered as client #%d of %s", node, ii, input))
			}
		}
		for _, o := range node.outputs {
			if !g.values.Has(o) {
				err = multierr.Append(err, errors.Wrapf(ErrNotInGraph, "output %s of %s", o, node))
			}
		}
	}
	for v := range g.values {
		if v.owner != nil && !g.nodes.Has(v.owner) {
			err = multierr.Append(err, errors.Errorf("value %s is in the graph but its owner %s is not", v, v.owner))
		}
		for _, c := range g.clients[v] {
			if c.Node != nil && !g.nodes.Has(c.Node) {
				err = multierr.Append(err, errors.Errorf("value %s has client %s that is not in the graph", v, c))
			}
		}
	}
	if _, cycleErr := g.Toposort(); cycleErr != nil {
		err = multierr.Append(err, cycleErr)
	}
	return err
}
