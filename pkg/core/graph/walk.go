// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/shapeopt/pkg/support/sets"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
)

// Ancestors returns all values needed to compute the given values (the values themselves included),
// following owners regardless of graph membership.
func Ancestors(values ...*Value) []*Value {
	var result []*Value
	walkAncestors(values, func(v *Value) bool {
		result = append(result, v)
		return true
	})
	return result
}

// IsAncestor returns whether target is needed to compute any of values (or is one of them).
func IsAncestor(target *Value, values ...*Value) bool {
	found := false
	walkAncestors(values, func(v *Value) bool {
		if v == target {
			found = true
			return false
		}
		return true
	})
	return found
}

// walkAncestors visits each ancestor of values once, until visit returns false.
func walkAncestors(values []*Value, visit func(v *Value) bool) {
	visited := sets.Make[*Value]()
	stack := make([]*Value, 0, len(values))
	for ii := len(values) - 1; ii >= 0; ii-- {
		stack = append(stack, values[ii])
	}
	for len(stack) > 0 {
		var v *Value
		v, stack = xslices.Pop(stack)
		if v == nil || visited.Has(v) {
			continue
		}
		visited.Insert(v)
		if !visit(v) {
			return
		}
		if v.owner != nil {
			for ii := len(v.owner.inputs) - 1; ii >= 0; ii-- {
				stack = append(stack, v.owner.inputs[ii])
			}
		}
	}
}

// EqualComputations returns whether xs[i] and ys[i] compute the same thing for every i:
// they are the same value, constants with equal literals, or outputs at the same position of nodes
// with equal ops whose inputs are (recursively) equal computations. Free inputs are only equal to
// themselves.
func EqualComputations(xs, ys []*Value) bool {
	if len(xs) != len(ys) {
		return false
	}
	type pair struct{ x, y *Value }
	equal := make(map[pair]bool)
	var compare func(x, y *Value) bool
	compare = func(x, y *Value) bool {
		if x == y {
			return true
		}
		if x == nil || y == nil {
			return false
		}
		key := pair{x, y}
		if result, found := equal[key]; found {
			return result
		}
		result := false
		switch {
		case x.literal != nil || y.literal != nil:
			result = x.literal.Equal(y.literal) && x.shape.Equal(y.shape)
		case x.owner == nil || y.owner == nil:
			result = false
		case x.index != y.index || !x.owner.op.Equal(y.owner.op) || len(x.owner.inputs) != len(y.owner.inputs):
			result = false
		default:
			result = true
			for ii, xIn := range x.owner.inputs {
				if !compare(xIn, y.owner.inputs[ii]) {
					result = false
					break
				}
			}
		}
		equal[key] = result
		return result
	}
	for ii, x := range xs {
		if !compare(x, ys[ii]) {
			return false
		}
	}
	return true
}
