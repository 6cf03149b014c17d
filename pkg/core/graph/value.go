// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/shapeopt/pkg/core/shapes"
)

// ValueId is a process-unique identifier of a Value. It is used for deterministic ordering and
// printing, never for identity: values are identified by their pointer.
type ValueId int64

// NodeId is a process-unique identifier of a Node.
type NodeId int64

var (
	valueCount atomic.Int64
	nodeCount  atomic.Int64
)

func newValueId() ValueId { return ValueId(valueCount.Add(1)) }
func newNodeId() NodeId   { return NodeId(nodeCount.Add(1)) }

// Value is an edge of the dataflow graph: a typed quantity that is either a constant (it carries a
// Literal), computed (the output of exactly one Node, its Owner) or a free input (no owner).
//
// Values are immutable and carry no graph-specific state, so constants can be shared by
// different graphs. Two structurally identical values are still different values.
type Value struct {
	id      ValueId
	shape   shapes.Shape
	owner   *Node
	index   int
	name    string
	literal *Literal
}

// NewInput creates a free input value with the given static type.
func NewInput(name string, shape shapes.Shape) *Value {
	return &Value{id: newValueId(), shape: shape, name: name}
}

// NewConstant creates a constant value holding the literal.
func NewConstant(literal *Literal) *Value {
	return &Value{id: newValueId(), shape: literal.Shape(), literal: literal}
}

// ScalarConstant creates a scalar constant of the given dtype.
func ScalarConstant(dtype dtypes.DType, value int64) *Value {
	return NewConstant(NewLiteral(dtype, []int64{value}))
}

// Int64Scalar creates an int64 scalar constant.
func Int64Scalar(value int64) *Value {
	return ScalarConstant(dtypes.Int64, value)
}

// VectorConstant creates a rank-1 constant of the given dtype.
func VectorConstant(dtype dtypes.DType, values []int64) *Value {
	return NewConstant(NewLiteral(dtype, values, len(values)))
}

var noneConst = &Value{id: newValueId(), shape: shapes.NoShape(), name: "None", literal: &Literal{shape: shapes.NoShape()}}

// NoneConst returns the special constant used to mark the absence of a value, for instance
// an unconstrained dimension. It has no tensor type.
func NoneConst() *Value { return noneConst }

// IsNone returns whether v is the NoneConst marker.
func IsNone(v *Value) bool { return v == noneConst }

// Id returns the process-unique id of the value.
func (v *Value) Id() ValueId { return v.id }

// Shape returns the static type of the value. It implements shapes.HasShape.
func (v *Value) Shape() shapes.Shape { return v.shape }

// DType returns the dtype of the value.
func (v *Value) DType() dtypes.DType { return v.shape.DType }

// Rank returns the rank of the value, or -1 if unknown.
func (v *Value) Rank() int { return v.shape.Rank() }

// Owner returns the node that computes the value, or nil for constants and free inputs.
func (v *Value) Owner() *Node { return v.owner }

// OutputIndex returns the position of the value among its owner's outputs.
func (v *Value) OutputIndex() int { return v.index }

// Name returns the name given to the value, if any.
func (v *Value) Name() string { return v.name }

// Literal returns the literal of a constant, or nil if v is not a constant.
func (v *Value) Literal() *Literal { return v.literal }

// IsConstant returns whether v is a constant.
func (v *Value) IsConstant() bool { return v.literal != nil }

// IsFreeInput returns whether v is neither a constant nor computed by a node.
func (v *Value) IsFreeInput() bool { return v.owner == nil && v.literal == nil }

// OwnerType returns the OpType of v's owner, or OpTypeInvalid if v has no owner.
func (v *Value) OwnerType() OpType {
	if v == nil || v.owner == nil {
		return OpTypeInvalid
	}
	return v.owner.op.Type()
}

// ScalarValue returns the value of a scalar constant. ok is false if v is not a scalar constant.
func (v *Value) ScalarValue() (value int64, ok bool) {
	if v == nil || v.literal == nil {
		return 0, false
	}
	return v.literal.Scalar()
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	if v == noneConst {
		return "None"
	}
	if v.literal != nil {
		return v.literal.String()
	}
	if v.name != "" {
		return v.name
	}
	if v.owner != nil {
		if len(v.owner.outputs) == 1 {
			return fmt.Sprintf("%s#%d", v.owner.op.Type(), v.id)
		}
		return fmt.Sprintf("%s#%d.%d", v.owner.op.Type(), v.id, v.index)
	}
	return fmt.Sprintf("input#%d", v.id)
}

// Literal is the data of a constant value. Only integer (and bool) data is represented, which is
// what shape arithmetic needs.
type Literal struct {
	shape shapes.Shape
	data  []int64
}

// NewLiteral creates a literal with the given dtype, flat data and dimensions.
// It panics if the dimensions don't match the size of data.
func NewLiteral(dtype dtypes.DType, data []int64, dimensions ...int) *Literal {
	shape := shapes.Make(dtype, dimensions...)
	if shape.Size() != len(data) {
		exceptions.Panicf("graph.NewLiteral(%s, %v): shape %s requires %d elements", dtype, data, shape, shape.Size())
	}
	return &Literal{shape: shape, data: slices.Clone(data)}
}

// Shape of the literal.
func (l *Literal) Shape() shapes.Shape { return l.shape }

// Data returns the flat data of the literal. It must not be modified.
func (l *Literal) Data() []int64 { return l.data }

// Scalar returns the value of a scalar literal.
func (l *Literal) Scalar() (int64, bool) {
	if !l.shape.IsScalar() || len(l.data) != 1 {
		return 0, false
	}
	return l.data[0], true
}

// Equal returns whether both literals have the same type and data.
func (l *Literal) Equal(l2 *Literal) bool {
	if l == l2 {
		return true
	}
	if l == nil || l2 == nil {
		return false
	}
	return l.shape.Equal(l2.shape) && slices.Equal(l.data, l2.data)
}

// String implements fmt.Stringer.
func (l *Literal) String() string {
	if !l.shape.HasShape() {
		return "None"
	}
	if l.shape.IsScalar() {
		if l.shape.DType == dtypes.Int64 {
			return fmt.Sprintf("%d", l.data[0])
		}
		return fmt.Sprintf("%s(%d)", l.shape.DType, l.data[0])
	}
	parts := make([]string, len(l.data))
	for ii, d := range l.data {
		parts[ii] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("%s[%s]", l.shape.DType, strings.Join(parts, " "))
}
