// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/shapeopt/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Node is the application of an Op to an ordered list of input values, producing an ordered list
// of output values.
//
// Nodes are created with Apply, outside any graph: a Graph imports them when they become
// reachable from its outputs. The only mutation ever done to a Node is the rewiring of its inputs,
// and it is done by the Graph (see Graph.ChangeNodeInput).
type Node struct {
	id      NodeId
	op      Op
	inputs  []*Value
	outputs []*Value
}

// Apply creates a new node applying op to inputs. The static types of the outputs are given by
// Op.OutputShapes.
func Apply(op Op, inputs ...*Value) (*Node, error) {
	for ii, input := range inputs {
		if input == nil {
			return nil, errors.Errorf("%s: input #%d is nil", op, ii)
		}
	}
	outputShapes, err := op.OutputShapes(inputs)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s(%s)", op, strings.Join(xslices.Map(inputs, func(v *Value) string {
			return fmt.Sprintf("%s:%s", v, v.Shape())
		}), ", "))
	}
	node := &Node{
		id:     newNodeId(),
		op:     op,
		inputs: slices.Clone(inputs),
	}
	node.outputs = make([]*Value, len(outputShapes))
	for ii, shape := range outputShapes {
		node.outputs[ii] = &Value{id: newValueId(), shape: shape, owner: node, index: ii}
	}
	return node, nil
}

// Id returns the process-unique id of the node.
func (n *Node) Id() NodeId { return n.id }

// Op returns the operator of the node.
func (n *Node) Op() Op { return n.op }

// Type returns the OpType of the node's operator.
func (n *Node) Type() OpType { return n.op.Type() }

// Inputs returns the inputs of the node. The slice must not be modified.
func (n *Node) Inputs() []*Value { return n.inputs }

// NumInputs returns the number of inputs of the node.
func (n *Node) NumInputs() int { return len(n.inputs) }

// Input returns the i-th input of the node.
func (n *Node) Input(i int) *Value { return n.inputs[i] }

// Outputs returns the outputs of the node. The slice must not be modified.
func (n *Node) Outputs() []*Value { return n.outputs }

// Output returns the i-th output of the node.
func (n *Node) Output(i int) *Value { return n.outputs[i] }

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.op, strings.Join(xslices.Map(n.inputs, func(v *Value) string { return v.String() }), ", "))
}
