// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapefeature

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/core/graph"
	"github.com/gomlx/shapeopt/pkg/core/ops"
	"github.com/gomlx/shapeopt/pkg/support/sets"
	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/pkg/errors"
)

// constant returns the cached int64 constant for a static dimension. 1 is always One().
func (f *ShapeFeature) constant(value int64) *graph.Value {
	if value == 1 {
		return one
	}
	if f.constants == nil {
		return ops.Const(value)
	}
	c, found := f.constants[value]
	if !found {
		c = ops.Const(value)
		f.constants[value] = c
	}
	return c
}

// shapeAxis returns the default symbolic dimension of v on axis: the static dimension if known, or
// the accessor ShapeI(v, axis).
func (f *ShapeFeature) shapeAxis(v *graph.Value, axis int) *graph.Value {
	shape := v.Shape()
	if shape.IsPinned(axis) {
		return f.constant(int64(shape.Dim(axis)))
	}
	s := ops.ShapeI(v, axis)
	if value, ok := ops.ScalarConstantValue(s); ok {
		return f.constant(value)
	}
	return s
}

// ShapeTuple returns the default symbolic shape of v, computed from its static type only:
// static dimensions are constants, the others are ShapeI(v, axis). It returns nil if the rank of
// v is unknown, or v is not a tensor.
func (f *ShapeFeature) ShapeTuple(v *graph.Value) Tuple {
	shape := v.Shape()
	if !shape.RankKnown() {
		return nil
	}
	tuple := make(Tuple, shape.Rank())
	for axis := range tuple {
		tuple[axis] = f.shapeAxis(v, axis)
	}
	return tuple
}

// initValue tracks v with its default shape, if not tracked yet.
func (f *ShapeFeature) initValue(v *graph.Value) error {
	if _, found := f.shapeOf[v]; found {
		return nil
	}
	return f.SetShape(v, f.ShapeTuple(v), false)
}

// addReverse records that the shape of v uses each of the dimensions of tuple.
func (f *ShapeFeature) addReverse(v *graph.Value, tuple Tuple) {
	for _, dim := range tuple {
		values, found := f.reverseIndex[dim]
		if !found {
			values = sets.Make[*graph.Value]()
			f.reverseIndex[dim] = values
		}
		values.Insert(v)
	}
}

// toSymbolicInt canonicalizes a symbolic dimension: integer literals become the cached int64
// constants (1 becomes One()), and the accessor pattern Subtensor(Shape(x), i) (with constant i)
// becomes the tracked dimension of x.
// It returns ErrShapeDType if dim is not an integer scalar, or if it is a negative literal.
func (f *ShapeFeature) toSymbolicInt(dim *graph.Value) (*graph.Value, error) {
	if dim == nil {
		return nil, errors.Wrap(ErrShapeDType, "nil shape element")
	}
	if dim.OwnerType() == graph.OpTypeSubtensor && dim.Owner().Input(0).OwnerType() == graph.OpTypeShape {
		if index, ok := ops.ScalarConstantValue(dim.Owner().Input(1)); ok {
			x := dim.Owner().Input(0).Owner().Input(0)
			if xTuple, found := f.shapeOf[x]; found && xTuple != nil {
				if index < 0 {
					index += int64(len(xTuple))
				}
				if index >= 0 && index < int64(len(xTuple)) {
					dim = xTuple[index]
				}
			}
		}
	}
	shape := dim.Shape()
	if !shape.IsScalar() || !shape.DType.IsInt() || shape.DType == dtypes.Uint64 {
		return nil, errors.Wrapf(ErrShapeDType, "shape element %s has type %s", dim, shape)
	}
	if value, ok := dim.ScalarValue(); ok {
		if value < 0 {
			return nil, errors.Wrapf(ErrShapeDType, "negative shape element %d", value)
		}
		return f.constant(value), nil
	}
	return dim, nil
}

// SetShape sets the symbolic shape of v. Static dimensions of v are always set to their literal
// value, regardless of tuple.
//
// If override is false, v must not be tracked yet (ErrInvariantViolation). The tuple must have one
// element per axis of v (ErrShapeArity), or be nil.
func (f *ShapeFeature) SetShape(v *graph.Value, tuple Tuple, override bool) error {
	if !override {
		if _, found := f.shapeOf[v]; found {
			return errors.Wrapf(ErrInvariantViolation, "shape of %s already set", v)
		}
	}
	if tuple == nil {
		f.shapeOf[v] = nil
		return nil
	}
	shape := v.Shape()
	if shape.Rank() != len(tuple) {
		return errors.Wrapf(ErrShapeArity, "a shape with %d dimensions was inferred for %s, a value of shape %s",
			len(tuple), v, shape)
	}
	newTuple := make(Tuple, len(tuple))
	for axis, dim := range tuple {
		if shape.IsPinned(axis) {
			newTuple[axis] = f.constant(int64(shape.Dim(axis)))
			continue
		}
		var err error
		newTuple[axis], err = f.toSymbolicInt(dim)
		if err != nil {
			return errors.WithMessagef(err, "setting shape of %s on axis %d", v, axis)
		}
	}
	f.shapeOf[v] = newTuple
	f.addReverse(v, newTuple)
	return nil
}

// UpdateShape merges the shape of other into the shape of v: they are known to have the same shape.
// The shape of other takes priority, except on dimensions where it is less informative.
//
// For each axis i, with ps the dimension of other and rs the dimension of v:
//
//   - If ps is ShapeI(v, i) or ShapeI(other, i), rs is kept.
//   - Else constants are preferred, rs first.
//   - Else if ps and rs are the same, or rs is used to compute ps, rs is kept.
//   - Otherwise ps is used.
func (f *ShapeFeature) UpdateShape(v, other *graph.Value) error {
	otherTuple, found := f.shapeOf[other]
	if !found {
		return errors.Wrapf(ErrInvariantViolation, "UpdateShape(%s, %s): %s is not tracked", v, other, other)
	}
	if !v.Shape().RankKnown() {
		// Nothing can be stored for a value of unknown rank.
		if _, found := f.shapeOf[v]; !found {
			f.shapeOf[v] = nil
		}
		return nil
	}
	if otherTuple == nil {
		return nil
	}
	vTuple, found := f.shapeOf[v]
	if !found {
		return f.SetShape(v, otherTuple, false)
	}
	if v.Owner() != nil && other.Owner() != nil &&
		v.Owner().Op().Equal(other.Owner().Op()) && slices.Equal(v.Owner().Inputs(), other.Owner().Inputs()) {
		// Merge of equivalent nodes: the shape graphs are the same.
		return nil
	}
	if vTuple != nil && len(vTuple) != len(otherTuple) {
		return errors.Wrapf(ErrShapeArity, "UpdateShape(%s, %s): shapes %s and %s", v, other,
			formatTuple(vTuple), formatTuple(otherTuple))
	}

	shape := v.Shape()
	merged := make(Tuple, len(otherTuple))
	for axis, ps := range otherTuple {
		if vTuple == nil {
			merged[axis] = ps
			continue
		}
		rs := vTuple[axis]
		x, psAxis, isAccessor := ops.AsShapeI(ps)
		switch {
		case isAccessor && psAxis == axis && (x == v || x == other):
			merged[axis] = rs
		case rs.IsConstant():
			merged[axis] = rs
		case ps.IsConstant():
			merged[axis] = ps
		case ps == rs:
			merged[axis] = rs
		case graph.IsAncestor(rs, ps):
			merged[axis] = rs
		default:
			merged[axis] = ps
		}
		if shape.IsPinned(axis) {
			merged[axis] = f.constant(int64(shape.Dim(axis)))
		}
	}
	if vTuple == nil {
		// v had no information: go through SetShape to canonicalize it.
		return f.SetShape(v, merged, true)
	}
	f.shapeOf[v] = merged
	f.addReverse(v, merged)
	return nil
}

// SetShapeI replaces the symbolic dimension of v on axis by dim.
func (f *ShapeFeature) SetShapeI(v *graph.Value, axis int, dim *graph.Value) error {
	prev, found := f.shapeOf[v]
	if !found || prev == nil {
		return errors.Wrapf(ErrInvariantViolation, "SetShapeI(%s, %d): shape unknown", v, axis)
	}
	if axis < 0 || axis >= len(prev) {
		return errors.Wrapf(ErrShapeArity, "SetShapeI(%s, %d): shape has %d dimensions", v, axis, len(prev))
	}
	newTuple := slices.Clone(prev)
	if shape := v.Shape(); shape.IsPinned(axis) {
		newTuple[axis] = f.constant(int64(shape.Dim(axis)))
	} else {
		var err error
		newTuple[axis], err = f.toSymbolicInt(dim)
		if err != nil {
			return err
		}
	}
	f.shapeOf[v] = newTuple
	f.addReverse(v, newTuple[axis:axis+1])
	return nil
}

// GetShape returns the symbolic dimension of v on axis.
//
// Unlike reading the tuple returned by ShapeOf, it refreshes dimensions that are accessors of values
// no longer in the graph (stale): shape inference is run again on the nodes computing v, after their
// inputs are refreshed in turn. Only stale dimensions are updated. If the dimension is still stale
// afterwards, the accessor ShapeI(v, axis) is returned.
func (f *ShapeFeature) GetShape(v *graph.Value, axis int) (*graph.Value, error) {
	if f.g == nil {
		return nil, errors.New("ShapeFeature not attached to a graph")
	}
	tuple, found := f.shapeOf[v]
	if !found {
		return nil, errors.Wrapf(ErrInvariantViolation, "GetShape(%s, %d): value not tracked", v, axis)
	}
	if tuple == nil {
		return nil, errors.Errorf("GetShape(%s, %d): rank unknown", v, axis)
	}
	if axis < 0 || axis >= len(tuple) {
		return nil, errors.Wrapf(ErrShapeArity, "GetShape(%s, %d): shape has %d dimensions", v, axis, len(tuple))
	}
	if !f.isStale(tuple[axis]) {
		return tuple[axis], nil
	}
	if err := f.refresh(v); err != nil {
		return nil, err
	}
	dim := f.shapeOf[v][axis]
	if f.isStale(dim) {
		return f.shapeAxis(v, axis), nil
	}
	return dim, nil
}

// refresh re-infers the shape of the nodes computing v, and of their ancestors, whose shapes have
// stale dimensions. Ancestors are refreshed first, using an explicit stack.
func (f *ShapeFeature) refresh(v *graph.Value) error {
	type frame struct {
		node     *graph.Node
		expanded bool
	}
	if v.Owner() == nil {
		return nil
	}
	visited := sets.Make[*graph.Node]()
	stack := []frame{{node: v.Owner()}}
	for len(stack) > 0 {
		var fr frame
		fr, stack = xslices.Pop(stack)
		if fr.expanded {
			if err := f.reinfer(fr.node); err != nil {
				return err
			}
			continue
		}
		if visited.Has(fr.node) {
			continue
		}
		visited.Insert(fr.node)
		stack = append(stack, frame{node: fr.node, expanded: true})
		for _, input := range fr.node.Inputs() {
			if input.Owner() != nil && !visited.Has(input.Owner()) && f.hasStale(input) {
				stack = append(stack, frame{node: input.Owner()})
			}
		}
	}
	return nil
}

// reinfer runs shape inference on node, and replaces the stale dimensions of its outputs.
func (f *ShapeFeature) reinfer(node *graph.Node) error {
	tuples, err := f.InferNodeShape(node)
	if err != nil {
		return err
	}
	for ii, out := range node.Outputs() {
		outTuple := f.shapeOf[out]
		if outTuple == nil || tuples[ii] == nil {
			continue
		}
		merged := slices.Clone(outTuple)
		changed := false
		for axis, dim := range outTuple {
			if f.isStale(dim) && axis < len(tuples[ii]) {
				merged[axis] = tuples[ii][axis]
				changed = true
			}
		}
		if changed {
			if err := f.SetShape(out, merged, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// MakeVectorShape returns an int64 vector value with the tracked shape of v.
func (f *ShapeFeature) MakeVectorShape(v *graph.Value) (*graph.Value, error) {
	tuple, found := f.shapeOf[v]
	if !found || tuple == nil {
		return nil, errors.Errorf("MakeVectorShape(%s): shape unknown", v)
	}
	return ops.MakeVectorOf(dtypes.Int64, tuple...), nil
}
