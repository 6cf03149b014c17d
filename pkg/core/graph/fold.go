// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FoldConstants returns the values recomputed with every node whose inputs are all constants, and
// whose Op implements Folder, replaced by constants holding its results.
//
// It works on an isolated, disposable copy: nodes that change are re-created outside any graph and
// the given values (and any graph holding them) are left untouched. Values that don't change are
// returned as is.
func FoldConstants(values []*Value) ([]*Value, error) {
	folded := make(map[*Value]*Value)
	type frame struct {
		node     *Node
		expanded bool
	}
	var stack []frame
	for _, v := range values {
		if v.owner != nil {
			stack = append(stack, frame{node: v.owner})
		}
	}
	for len(stack) > 0 {
		var f frame
		f, stack = xslices.Pop(stack)
		node := f.node
		if _, done := folded[node.outputs[0]]; done {
			continue
		}
		if !f.expanded {
			stack = append(stack, frame{node: node, expanded: true})
			for _, input := range node.inputs {
				if input.owner != nil {
					if _, done := folded[input]; !done {
						stack = append(stack, frame{node: input.owner})
					}
				}
			}
			continue
		}
		if err := foldNode(node, folded); err != nil {
			return nil, err
		}
	}
	return xslices.Map(values, func(v *Value) *Value {
		if f, found := folded[v]; found {
			return f
		}
		return v
	}), nil
}

// foldNode sets folded for each output of node, assuming all of node's inputs have been folded already.
func foldNode(node *Node, folded map[*Value]*Value) error {
	newInputs := xslices.Map(node.inputs, func(in *Value) *Value {
		if f, found := folded[in]; found {
			return f
		}
		return in
	})
	if folder, ok := node.op.(Folder); ok && len(newInputs) > 0 {
		allConstant := true
		for _, in := range newInputs {
			if !in.IsConstant() || IsNone(in) {
				allConstant = false
				break
			}
		}
		if allConstant {
			literals, err := folder.Fold(node, xslices.Map(newInputs, (*Value).Literal))
			if err == nil && len(literals) == len(node.outputs) {
				compatible := true
				for ii, lit := range literals {
					if lit == nil || !lit.Shape().Compatible(node.outputs[ii].shape) {
						compatible = false
						break
					}
				}
				if compatible {
					for ii, lit := range literals {
						folded[node.outputs[ii]] = NewConstant(lit)
					}
					return nil
				}
			} else if err != nil {
				klog.V(2).Infof("FoldConstants: %s not folded: %v", node, err)
			}
		}
	}

	changed := false
	for ii, in := range newInputs {
		if in != node.inputs[ii] {
			changed = true
			break
		}
	}
	if !changed {
		for _, o := range node.outputs {
			folded[o] = o
		}
		return nil
	}
	newNode, err := Apply(node.op, newInputs...)
	if err != nil {
		return errors.WithMessagef(err, "FoldConstants: re-creating %s", node)
	}
	for ii, o := range node.outputs {
		folded[o] = newNode.outputs[ii]
	}
	return nil
}
