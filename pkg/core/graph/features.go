// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Feature is an object attached to a Graph that is notified of its structural changes.
//
// Besides OnAttach and OnDetach, a Feature may implement any of ImportListener,
// ChangeInputListener and PruneListener. Notifications are delivered synchronously, exactly once per
// graph event, in the order the features were attached.
type Feature interface {
	// OnAttach is called by Graph.AttachFeature. If it returns an error, the feature is not attached.
	OnAttach(g *Graph) error

	// OnDetach is called by Graph.RemoveFeature.
	OnDetach(g *Graph)
}

// ImportListener is implemented by features that want to be notified when a node is added to the graph.
// Nodes are imported in dependency order: all inputs of node are already part of the graph.
//
// During the revert of a rejected mutation, a node previously pruned may be imported again.
type ImportListener interface {
	OnImport(g *Graph, node *Node, reason string) error
}

// ChangeInputListener is implemented by features that want to be notified when the input index of
// node is rewired from oldValue to newValue. If node is nil, the graph output at index was changed.
//
// It is called after the change took place (including imports of newValue and pruning of oldValue).
// Returning an error rejects the whole mutation: the graph reverts it.
type ChangeInputListener interface {
	OnChangeInput(g *Graph, node *Node, index int, oldValue, newValue *Value, reason string) error
}

// PruneListener is implemented by features that want to be notified when a node is removed from the
// graph because none of its outputs is used any longer.
type PruneListener interface {
	OnPrune(g *Graph, node *Node, reason string)
}

// AttachFeature attaches f to the graph. Attaching a feature already attached is a no-op.
func (g *Graph) AttachFeature(f Feature) error {
	if slices.Contains(g.features, f) {
		return nil
	}
	if err := f.OnAttach(g); err != nil {
		return errors.WithMessagef(err, "attaching feature %T to graph %q", f, g.name)
	}
	g.features = append(g.features, f)
	klog.V(2).Infof("graph %q: attached feature %T", g.name, f)
	return nil
}

// RemoveFeature detaches f from the graph. It returns false if f was not attached.
func (g *Graph) RemoveFeature(f Feature) bool {
	idx := slices.Index(g.features, f)
	if idx < 0 {
		return false
	}
	g.features = slices.Delete(g.features, idx, idx+1)
	f.OnDetach(g)
	klog.V(2).Infof("graph %q: removed feature %T", g.name, f)
	return true
}

// Features returns the features attached to the graph, in order of attachment.
func (g *Graph) Features() []Feature {
	return slices.Clone(g.features)
}

func (g *Graph) notifyImport(node *Node, reason string) error {
	for _, f := range g.features {
		if l, ok := f.(ImportListener); ok {
			if err := l.OnImport(g, node, reason); err != nil {
				return errors.WithMessagef(err, "feature %T failed to import node %s", f, node)
			}
		}
	}
	return nil
}

func (g *Graph) notifyChangeInput(node *Node, index int, oldValue, newValue *Value, reason string) error {
	for _, f := range g.features {
		if l, ok := f.(ChangeInputListener); ok {
			if err := l.OnChangeInput(g, node, index, oldValue, newValue, reason); err != nil {
				return errors.WithMessagef(err, "feature %T rejected replacing %s by %s", f, oldValue, newValue)
			}
		}
	}
	return nil
}

func (g *Graph) notifyPrune(node *Node, reason string) {
	for _, f := range g.features {
		if l, ok := f.(PruneListener); ok {
			l.OnPrune(g, node, reason)
		}
	}
}
