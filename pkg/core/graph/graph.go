// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements a mutable dataflow graph of tensor operations, used as the subject of
// shape tracking and rewriting.
//
// The main types are:
//
//   - Value: an edge of the graph, a typed quantity. It is either a constant, the output of a Node
//     or a free input.
//   - Node: the application of an Op to input values.
//   - Graph: the set of nodes reachable from a list of outputs, given a list of free inputs. It keeps
//     track of the clients (consumers) of every value and notifies attached Feature objects of every
//     structural change: nodes imported, inputs rewired, nodes pruned.
//
// Nodes and values are created outside of any graph (see Apply, NewInput, NewConstant) and are
// imported when they become reachable from the graph outputs. Values no longer used are pruned.
//
// A Graph is not safe for concurrent use.
package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
	"github.com/gomlx/shapeopt/pkg/support/sets"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Client is a consumer of a Value: either the input Index of Node, or, if Node is nil, the graph
// output at position Index.
type Client struct {
	Node  *Node
	Index int
}

// IsOutput returns whether the client is a graph output.
func (c Client) IsOutput() bool { return c.Node == nil }

// String implements fmt.Stringer.
func (c Client) String() string {
	if c.Node == nil {
		return fmt.Sprintf("output[%d]", c.Index)
	}
	return fmt.Sprintf("%s[%d]", c.Node, c.Index)
}

// Graph is a mutable directed acyclic dataflow graph.
type Graph struct {
	uuid uuid.UUID
	name string

	inputs  []*Value
	outputs []*Value

	nodes  sets.Set[*Node]
	values sets.Set[*Value]

	// clients of each value. Values that are no longer used keep an empty entry.
	clients map[*Value][]Client

	features []Feature
}

// New creates a graph with the given free inputs, importing everything needed to compute outputs.
//
// Every free input reachable from outputs must be listed in inputs, or ErrMissingInput is returned.
func New(name string, inputs, outputs []*Value) (*Graph, error) {
	g := &Graph{
		uuid:    uuid.New(),
		name:    name,
		inputs:  slices.Clone(inputs),
		nodes:   sets.Make[*Node](),
		values:  sets.Make[*Value](),
		clients: make(map[*Value][]Client),
	}
	if g.name == "" {
		g.name = fmt.Sprintf("graph_%s", g.uuid.String()[:8])
	}
	for ii, input := range inputs {
		if !input.IsFreeInput() {
			return nil, errors.Errorf("graph %q: input #%d (%s) is not a free input", g.name, ii, input)
		}
		if g.values.Has(input) {
			return nil, errors.Errorf("graph %q: input #%d (%s) given more than once", g.name, ii, input)
		}
		g.values.Insert(input)
		g.clients[input] = nil
	}
	g.outputs = make([]*Value, len(outputs))
	for ii, output := range outputs {
		if err := g.importValue(output, "init"); err != nil {
			return nil, errors.WithMessagef(err, "graph %q: importing output #%d", g.name, ii)
		}
		g.outputs[ii] = output
		g.addClient(output, Client{Index: ii})
	}
	klog.V(2).Infof("graph %q (%s) created with %d nodes", g.name, g.uuid, len(g.nodes))
	return g, nil
}

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// UUID uniquely identifies the graph. It is used in logs and reports.
func (g *Graph) UUID() uuid.UUID { return g.uuid }

// Inputs returns the free inputs of the graph.
func (g *Graph) Inputs() []*Value { return slices.Clone(g.inputs) }

// Outputs returns the current outputs of the graph.
func (g *Graph) Outputs() []*Value { return slices.Clone(g.outputs) }

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// HasValue returns whether v is part of the graph: a graph input, a constant in use, or the output
// of a node in the graph.
func (g *Graph) HasValue(v *Value) bool { return g.values.Has(v) }

// HasNode returns whether node is part of the graph.
func (g *Graph) HasNode(node *Node) bool { return g.nodes.Has(node) }

// Nodes returns the nodes of the graph ordered by id. For dependency order use Toposort.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for node := range g.nodes {
		nodes = append(nodes, node)
	}
	slices.SortFunc(nodes, func(a, b *Node) int { return int(a.id - b.id) })
	return nodes
}

// Values returns the values of the graph ordered by id.
func (g *Graph) Values() []*Value {
	values := make([]*Value, 0, len(g.values))
	for v := range g.values {
		values = append(values, v)
	}
	slices.SortFunc(values, func(a, b *Value) int { return int(a.id - b.id) })
	return values
}

// Clients returns a copy of the list of consumers of v, in the order they were added.
func (g *Graph) Clients(v *Value) []Client {
	return slices.Clone(g.clients[v])
}

// NumClients returns the number of consumers of v.
func (g *Graph) NumClients(v *Value) int {
	return len(g.clients[v])
}

func (g *Graph) addClient(v *Value, c Client) {
	g.clients[v] = append(g.clients[v], c)
}

// removeClient removes c from the clients of v, and prunes the owner of v (recursively) if none of its
// outputs is used any longer.
func (g *Graph) removeClient(v *Value, c Client, reason string) {
	type removal struct {
		v *Value
		c Client
	}
	stack := []removal{{v, c}}
	for len(stack) > 0 {
		var r removal
		r, stack = xslices.Pop(stack)
		clients := g.clients[r.v]
		idx := slices.Index(clients, r.c)
		if idx < 0 {
			continue
		}
		clients = slices.Delete(clients, idx, idx+1)
		g.clients[r.v] = clients
		if len(clients) > 0 {
			continue
		}
		if r.v.owner == nil {
			if r.v.IsConstant() {
				g.values.Delete(r.v)
			}
			continue
		}
		node := r.v.owner
		if !g.nodes.Has(node) {
			continue
		}
		if slices.ContainsFunc(node.outputs, func(o *Value) bool { return len(g.clients[o]) > 0 }) {
			continue
		}
		for _, o := range node.outputs {
			g.values.Delete(o)
		}
		g.nodes.Delete(node)
		klog.V(2).Infof("graph %q: pruned %s (%s)", g.name, node, reason)
		g.notifyPrune(node, reason)
		for ii, input := range node.inputs {
			stack = append(stack, removal{input, Client{Node: node, Index: ii}})
		}
	}
}

// importValue makes v part of the graph, importing its owner and all its missing ancestors.
func (g *Graph) importValue(v *Value, reason string) error {
	if g.values.Has(v) {
		return nil
	}
	if v.owner == nil {
		if v.IsConstant() {
			g.values.Insert(v)
			return nil
		}
		return errors.Wrapf(ErrMissingInput, "graph %q: free input %s is not an input of the graph", g.name, v)
	}
	return g.importNode(v.owner, reason)
}

// missingNodes returns the nodes not yet in the graph needed to compute node (node included), in
// dependency order.
func (g *Graph) missingNodes(node *Node) ([]*Node, error) {
	type frame struct {
		node     *Node
		expanded bool
	}
	var order []*Node
	visited := sets.Make[*Node]()
	stack := []frame{{node: node}}
	for len(stack) > 0 {
		var f frame
		f, stack = xslices.Pop(stack)
		if f.expanded {
			order = append(order, f.node)
			continue
		}
		if visited.Has(f.node) || g.nodes.Has(f.node) {
			continue
		}
		visited.Insert(f.node)
		stack = append(stack, frame{node: f.node, expanded: true})
		for ii := len(f.node.inputs) - 1; ii >= 0; ii-- {
			input := f.node.inputs[ii]
			switch {
			case input.owner != nil:
				if !g.nodes.Has(input.owner) && !visited.Has(input.owner) {
					stack = append(stack, frame{node: input.owner})
				}
			case input.IsFreeInput() && !g.values.Has(input):
				return nil, errors.Wrapf(ErrMissingInput, "graph %q: free input %s (used by %s) is not an input of the graph",
					g.name, input, f.node)
			}
		}
	}
	return order, nil
}

// importNode adds node and its missing ancestors to the graph, notifying the features.
func (g *Graph) importNode(node *Node, reason string) error {
	newNodes, err := g.missingNodes(node)
	if err != nil {
		return err
	}
	for _, n := range newNodes {
		g.nodes.Insert(n)
		for _, o := range n.outputs {
			g.values.Insert(o)
			if _, found := g.clients[o]; !found {
				g.clients[o] = nil
			}
		}
		for ii, input := range n.inputs {
			if input.IsConstant() {
				g.values.Insert(input)
			}
			g.addClient(input, Client{Node: n, Index: ii})
		}
		klog.V(2).Infof("graph %q: imported %s (%s)", g.name, n, reason)
		if err := g.notifyImport(n, reason); err != nil {
			return err
		}
	}
	return nil
}

// checkReplaceable returns an error if newValue cannot take the place of oldValue.
func checkReplaceable(oldValue, newValue *Value) error {
	oldShape, newShape := oldValue.Shape(), newValue.Shape()
	if oldShape.HasShape() != newShape.HasShape() || !oldShape.Compatible(newShape) {
		return errors.Wrapf(ErrTypeMismatch, "cannot replace %s:%s by %s:%s", oldValue, oldShape, newValue, newShape)
	}
	return nil
}

// ChangeNodeInput rewires the input index of node to newValue. If node is nil, the graph output at
// index is changed.
//
// The order of events is: newValue (and its missing ancestors) is imported, node becomes a client
// of newValue, node stops being a client of the old value (which may prune it), and finally the
// features are notified with OnChangeInput.
//
// If a feature returns an error the change is not reverted here: see ReplaceAll for transactional
// replacements.
func (g *Graph) ChangeNodeInput(node *Node, index int, newValue *Value, reason string) error {
	_, err := g.changeNodeInput(node, index, newValue, reason)
	return err
}

// changeNodeInput implements ChangeNodeInput, and reports whether the structural change took place.
func (g *Graph) changeNodeInput(node *Node, index int, newValue *Value, reason string) (changed bool, err error) {
	var oldValue *Value
	if node == nil {
		if index < 0 || index >= len(g.outputs) {
			return false, errors.Errorf("graph %q: output index %d out of range", g.name, index)
		}
		oldValue = g.outputs[index]
	} else {
		if !g.nodes.Has(node) {
			return false, errors.Wrapf(ErrNotInGraph, "graph %q: node %s", g.name, node)
		}
		if index < 0 || index >= len(node.inputs) {
			return false, errors.Errorf("graph %q: input index %d out of range for %s", g.name, index, node)
		}
		oldValue = node.inputs[index]
	}
	if oldValue == newValue {
		return false, nil
	}
	if err = checkReplaceable(oldValue, newValue); err != nil {
		return false, err
	}
	if err = g.importValue(newValue, reason); err != nil {
		if g.HasValue(newValue) && len(g.clients[newValue]) == 0 && newValue.owner != nil {
			// Drop what was partially imported.
			g.pruneUnused(newValue.owner, "import-failure")
		}
		return false, err
	}
	if node == nil {
		g.outputs[index] = newValue
	} else {
		node.inputs[index] = newValue
	}
	client := Client{Node: node, Index: index}
	g.addClient(newValue, client)
	g.removeClient(oldValue, client, reason)
	klog.V(2).Infof("graph %q: %s: %s -> %s (%s)", g.name, client, oldValue, newValue, reason)
	return true, g.notifyChangeInput(node, index, oldValue, newValue, reason)
}

// pruneUnused removes node from the graph if none of its outputs has clients.
func (g *Graph) pruneUnused(node *Node, reason string) {
	if !g.nodes.Has(node) {
		return
	}
	// A fake client is added and removed on the first output, which triggers the regular pruning.
	fake := Client{Node: nil, Index: -1}
	g.addClient(node.outputs[0], fake)
	g.removeClient(node.outputs[0], fake, reason)
}

// Replacement of Old by New in all its clients.
type Replacement struct {
	Old, New *Value
}

// Replace every use of oldValue by newValue. See ReplaceAll.
func (g *Graph) Replace(oldValue, newValue *Value, reason string) error {
	return g.ReplaceAll([]Replacement{{Old: oldValue, New: newValue}}, reason)
}

// ReplaceAll replaces every use (clients) of each pair's Old value by its New value, as one transaction.
//
// If any change fails (incompatible types, a feature rejecting it, or the result having a cycle), all
// changes done so far are reverted, with the reason "revert", and the error is returned. Errors
// during the revert itself are logged.
func (g *Graph) ReplaceAll(pairs []Replacement, reason string) error {
	type change struct {
		node  *Node
		index int
		old   *Value
	}
	var done []change
	revert := func(cause error) error {
		for ii := len(done) - 1; ii >= 0; ii-- {
			c := done[ii]
			if _, err := g.changeNodeInput(c.node, c.index, c.old, "revert"); err != nil {
				klog.Errorf("graph %q: failed to revert replacement at %s: %+v", g.name, Client{c.node, c.index}, err)
			}
		}
		klog.V(1).Infof("graph %q: replacement %q reverted: %v", g.name, reason, cause)
		return cause
	}
	for _, pair := range pairs {
		if !g.values.Has(pair.Old) {
			return revert(errors.Wrapf(ErrNotInGraph, "graph %q: replacing %s", g.name, pair.Old))
		}
		for _, client := range g.Clients(pair.Old) {
			changed, err := g.changeNodeInput(client.Node, client.Index, pair.New, reason)
			if changed {
				done = append(done, change{node: client.Node, index: client.Index, old: pair.Old})
			}
			if err != nil {
				return revert(err)
			}
		}
	}
	if _, err := g.Toposort(); err != nil {
		return revert(err)
	}
	return nil
}

// Toposort returns the nodes of the graph in dependency order. Among nodes whose inputs are all
// available, the one with the smallest id comes first, so the order is deterministic.
//
// It returns ErrCycle if the graph has a cycle.
func (g *Graph) Toposort() ([]*Node, error) {
	pending := make(map[*Node]int, len(g.nodes))
	var ready []*Node
	insertReady := func(node *Node) {
		pos, _ := slices.BinarySearchFunc(ready, node, func(a, b *Node) int { return int(b.id - a.id) })
		ready = slices.Insert(ready, pos, node)
	}
	for node := range g.nodes {
		count := 0
		for _, input := range node.inputs {
			if input.owner != nil && g.nodes.Has(input.owner) {
				count++
			}
		}
		pending[node] = count
		if count == 0 {
			insertReady(node)
		}
	}
	sorted := make([]*Node, 0, len(g.nodes))
	for len(ready) > 0 {
		// ready is sorted in decreasing id order, so the last is the smallest.
		var node *Node
		node, ready = xslices.Pop(ready)
		sorted = append(sorted, node)
		for _, o := range node.outputs {
			for _, c := range g.clients[o] {
				if c.Node == nil || !g.nodes.Has(c.Node) {
					continue
				}
				pending[c.Node]--
				if pending[c.Node] == 0 {
					insertReady(c.Node)
				}
			}
		}
	}
	if len(sorted) != len(g.nodes) {
		return nil, errors.Wrapf(ErrCycle, "graph %q: %d of %d nodes are part of or depend on a cycle",
			g.name, len(g.nodes)-len(sorted), len(g.nodes))
	}
	return sorted, nil
}

// String returns a multi-line description of the graph, one node per line in dependency order.
func (g *Graph) String() string {
	var sb strings.Builder
	describe := func(v *Value) string { return fmt.Sprintf("%s:%s", v, v.Shape()) }
	_, _ = fmt.Fprintf(&sb, "Graph %q: inputs=[%s]\n", g.name, strings.Join(xslices.Map(g.inputs, describe), ", "))
	nodes, err := g.Toposort()
	if err != nil {
		_, _ = fmt.Fprintf(&sb, "\t(%v)\n", err)
		nodes = g.Nodes()
	}
	for _, node := range nodes {
		_, _ = fmt.Fprintf(&sb, "\t%s = %s\n", strings.Join(xslices.Map(node.outputs, describe), ", "), node)
	}
	_, _ = fmt.Fprintf(&sb, "\toutputs=[%s]\n", strings.Join(xslices.Map(g.outputs, describe), ", "))
	return sb.String()
}

// Shapes is a convenience function that returns the static types of values.
func Shapes(values ...*Value) []shapes.Shape {
	return xslices.Map(values, func(v *Value) shapes.Shape { return v.Shape() })
}
