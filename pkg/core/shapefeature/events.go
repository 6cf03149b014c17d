// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapefeature

import (
	"cmp"
	"slices"

	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/ops"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OnImport implements graph.ImportListener: it infers the shape of the outputs of the new node.
//
// A node whose outputs are already tracked is being re-imported by the revert of a rejected
// mutation: its shapes are kept.
func (f *ShapeFeature) OnImport(g *graph.Graph, node *graph.Node, reason string) error {
	if len(node.Outputs()) == 0 {
		return nil
	}
	if _, found := f.shapeOf[node.Output(0)]; found {
		for _, v := range slices.Concat(node.Outputs(), node.Inputs()) {
			if _, found := f.shapeOf[v]; !found {
				return errors.Wrapf(ErrInvariantViolation, "re-importing %s (%s): %s is not tracked", node, reason, v)
			}
		}
		return nil
	}
	for _, input := range node.Inputs() {
		if err := f.initValue(input); err != nil {
			return err
		}
	}
	tuples, err := f.InferNodeShape(node)
	if err != nil {
		return err
	}
	for ii, out := range node.Outputs() {
		if err := f.SetShape(out, tuples[ii], false); err != nil {
			return errors.WithMessagef(err, "importing %s", node)
		}
	}
	if klog.V(2).Enabled() {
		klog.Infof("ShapeFeature: imported %s (%s): %s", node, reason,
			formatShapes(xslices.Map(node.Outputs(), func(out *graph.Value) Tuple { return f.shapeOf[out] })))
	}
	return nil
}

// OnChangeInput implements graph.ChangeInputListener.
//
// Since oldValue was replaced by newValue, both have the same shape: their shapes are merged into
// the shape of newValue (see UpdateShape). The dimension accessors (ShapeI) of oldValue, and node if
// it is one, are scheduled to be replaced by the shape of newValue. Accessors scheduled on oldValue
// are unscheduled, since it happens when a mutation is reverted. Finally, shapes that use oldValue as
// a dimension are updated to use newValue.
//
// It returns graph.ErrInconsistency if scheduling an accessor would create a cycle.
func (f *ShapeFeature) OnChangeInput(g *graph.Graph, node *graph.Node, index int, oldValue, newValue *graph.Value, reason string) error {
	if err := f.initValue(newValue); err != nil {
		return err
	}
	if err := f.initValue(oldValue); err != nil {
		return err
	}
	if err := f.UpdateShape(newValue, oldValue); err != nil {
		return err
	}

	newTuple := f.shapeOf[newValue]
	clients := append(g.Clients(oldValue), graph.Client{Node: node, Index: index})
	for _, client := range clients {
		axis, isAccessor := ops.ShapeIAxis(client.Node)
		if !isAccessor || newTuple == nil || axis >= len(newTuple) {
			continue
		}
		accessor := client.Node
		replacement := newTuple[axis]
		if replacement.Owner() == accessor {
			continue
		}
		if x, replAxis, ok := ops.AsShapeI(replacement); ok && x == accessor.Input(0) && replAxis == axis {
			continue
		}
		if graph.IsAncestor(accessor.Output(0), replacement) {
			return errors.Wrapf(graph.ErrInconsistency,
				"scheduling %s to be replaced by %s would insert a cycle in the graph (%s[%d]: %s -> %s)",
				accessor, replacement, node, index, oldValue, newValue)
		}
		f.scheduled[accessor] = newValue
		klog.V(2).Infof("ShapeFeature: scheduled %s to use the shape of %s (%s)", accessor, newValue, reason)
	}

	for accessor, v := range f.scheduled {
		if v == oldValue {
			delete(f.scheduled, accessor)
		}
	}

	if users, found := f.reverseIndex[oldValue]; found {
		values := make([]*graph.Value, 0, len(users))
		for v := range users {
			values = append(values, v)
		}
		slices.SortFunc(values, func(a, b *graph.Value) int { return cmp.Compare(a.Id(), b.Id()) })
		for _, v := range values {
			for axis, dim := range f.shapeOf[v] {
				if dim == oldValue {
					if err := f.SetShapeI(v, axis, newValue); err != nil {
						return err
					}
				}
			}
		}
	}
	delete(f.reverseIndex, oldValue)
	return nil
}
