// Copyright 2025 onnxruntime-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package graph provides a mutable dataflow-graph substrate for optimizer
// passes. The Graph is the sole owner of all Nodes and Values; callers hold
// node indices and value names and resolve them through the Graph at time of
// use. Every mutator keeps the producer map, the consumer map, and the
// slot-level edge set consistent with each node's input/output lists.
package graph

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pkg/errors"
)

// DataType identifies a tensor element type. The numbering follows the ONNX
// TensorProto enum so serialized graphs keep their wire values.
type DataType int32

const (
	Undefined DataType = 0
	Float     DataType = 1
	Float16   DataType = 10
	Double    DataType = 11
	BFloat16  DataType = 16
)

// String returns the canonical lowercase name used by the YAML codec.
func (t DataType) String() string {
	switch t {
	case Float:
		return "float32"
	case Float16:
		return "float16"
	case Double:
		return "float64"
	case BFloat16:
		return "bfloat16"
	default:
		return fmt.Sprintf("undefined(%d)", int32(t))
	}
}

// ParseDataType maps a YAML type name back to a DataType.
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "float32", "float":
		return Float, nil
	case "float16", "half":
		return Float16, nil
	case "float64", "double":
		return Double, nil
	case "bfloat16":
		return BFloat16, nil
	default:
		return Undefined, errors.Errorf("unknown data type %q", s)
	}
}

// Value is a tensor placeholder with a graph-unique name. A Value with an
// empty name represents an absent optional operand; rewriting operations
// must skip it.
type Value struct {
	name  string
	dtype DataType
}

// Name returns the value's graph-unique name.
func (v *Value) Name() string { return v.name }

// Type returns the value's element type.
func (v *Value) Type() DataType { return v.dtype }

// Exists reports whether the value denotes an actual tensor rather than an
// absent optional operand.
func (v *Value) Exists() bool { return v != nil && v.name != "" }

// Attr is a node attribute. This substrate only needs integer attributes for
// the passes built on it, but carries the other scalar payloads too.
type Attr struct {
	I int64
	F float64
	S string
}

// NodeIndex is the stable identifier of a node within its Graph. Indices are
// never reused within a Graph's lifetime, so a vanished index resolves to nil
// rather than to an unrelated node.
type NodeIndex int

// Node is one operator instance. Nodes are owned by their Graph; use the
// Graph's Replace* methods instead of mutating the def lists directly so the
// producer/consumer bookkeeping stays consistent.
type Node struct {
	index   NodeIndex
	name    string
	op      string
	domain  string
	inputs  []*Value
	outputs []*Value
	attrs   map[string]Attr
}

// Index returns the node's stable identifier.
func (n *Node) Index() NodeIndex { return n.index }

// Name returns the node's graph-unique name.
func (n *Node) Name() string { return n.name }

// OpType returns the operator kind identifier.
func (n *Node) OpType() string { return n.op }

// Domain returns the operator's originating domain, or "" for the default.
func (n *Node) Domain() string { return n.domain }

// Inputs returns the node's ordered input list. Callers must not mutate it.
func (n *Node) Inputs() []*Value { return n.inputs }

// Outputs returns the node's ordered output list. Callers must not mutate it.
func (n *Node) Outputs() []*Value { return n.outputs }

// Attrs returns the node's attribute map. Callers must not mutate it.
func (n *Node) Attrs() map[string]Attr { return n.attrs }

// Attr looks up a single attribute.
func (n *Node) Attr(name string) (Attr, bool) {
	a, ok := n.attrs[name]
	return a, ok
}

// InputSlots returns every input slot holding v.
func (n *Node) InputSlots(v *Value) []int {
	var slots []int
	for i, in := range n.inputs {
		if in == v {
			slots = append(slots, i)
		}
	}
	return slots
}

// OutputSlots returns every output slot holding v.
func (n *Node) OutputSlots(v *Value) []int {
	var slots []int
	for i, out := range n.outputs {
		if out == v {
			slots = append(slots, i)
		}
	}
	return slots
}

// Edge is a directed dataflow edge between two node slots.
type Edge struct {
	Src     NodeIndex
	Dst     NodeIndex
	SrcSlot int
	DstSlot int
}

// Graph owns every Node and Value and the relations between them.
type Graph struct {
	nodes     map[NodeIndex]*Node
	nextIndex NodeIndex
	nodeNames map[string]struct{}

	values map[string]*Value

	// producers maps a value name to the node producing it. Graph inputs and
	// initializers have no entry.
	producers map[string]NodeIndex
	// consumers maps a value name to the ordered nodes reading it. A node
	// consuming the same value at several slots appears once.
	consumers map[string][]NodeIndex

	edges map[Edge]struct{}

	inputs       map[string]struct{}
	initializers map[string]struct{}
	outputs      []string
	outputSet    map[string]struct{}
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:        make(map[NodeIndex]*Node),
		nodeNames:    make(map[string]struct{}),
		values:       make(map[string]*Value),
		producers:    make(map[string]NodeIndex),
		consumers:    make(map[string][]NodeIndex),
		edges:        make(map[Edge]struct{}),
		inputs:       make(map[string]struct{}),
		initializers: make(map[string]struct{}),
		outputSet:    make(map[string]struct{}),
	}
}

// GetOrCreateValue interns a typed value by name. If the value already exists
// its stored type wins; creating with Undefined never clobbers a known type.
func (g *Graph) GetOrCreateValue(name string, t DataType) *Value {
	if v, ok := g.values[name]; ok {
		if v.dtype == Undefined && t != Undefined {
			v.dtype = t
		}
		return v
	}
	v := &Value{name: name, dtype: t}
	g.values[name] = v
	return v
}

// Value returns the named value, or nil if it was never created.
func (g *Graph) Value(name string) *Value { return g.values[name] }

// GenerateValueName returns hint if unused, otherwise hint_0, hint_1, ...
func (g *Graph) GenerateValueName(hint string) string {
	if _, ok := g.values[hint]; !ok {
		return hint
	}
	for i := 0; ; i++ {
		name := fmt.Sprintf("%s_%d", hint, i)
		if _, ok := g.values[name]; !ok {
			return name
		}
	}
}

// GenerateNodeName returns hint if unused, otherwise hint_0, hint_1, ...
func (g *Graph) GenerateNodeName(hint string) string {
	if _, ok := g.nodeNames[hint]; !ok {
		return hint
	}
	for i := 0; ; i++ {
		name := fmt.Sprintf("%s_%d", hint, i)
		if _, ok := g.nodeNames[name]; !ok {
			return name
		}
	}
}

// AddNode creates a node and registers its defs: the node becomes the
// producer of every existing output and a consumer of every existing input.
// Slot-level edges are not created; use AddEdge or ConnectEdges.
func (g *Graph) AddNode(name, op string, inputs, outputs []*Value, attrs map[string]Attr, domain string) *Node {
	n := &Node{
		index:   g.nextIndex,
		name:    name,
		op:      op,
		domain:  domain,
		inputs:  slices.Clone(inputs),
		outputs: slices.Clone(outputs),
		attrs:   maps.Clone(attrs),
	}
	if n.attrs == nil {
		n.attrs = make(map[string]Attr)
	}
	g.nextIndex++
	g.nodes[n.index] = n
	g.nodeNames[name] = struct{}{}
	for _, out := range n.outputs {
		if out.Exists() {
			g.producers[out.name] = n.index
		}
	}
	for _, in := range n.inputs {
		if in.Exists() {
			g.addConsumer(in.name, n.index)
		}
	}
	return n
}

// Node resolves an index to its node, or nil if the node was removed.
func (g *Graph) Node(idx NodeIndex) *Node { return g.nodes[idx] }

// Nodes returns a sorted snapshot of the live node indices. The snapshot is
// safe to iterate while the graph is mutated; resolve each index through
// Node and skip nil.
func (g *Graph) Nodes() []NodeIndex {
	idxs := slices.Collect(maps.Keys(g.nodes))
	slices.Sort(idxs)
	return idxs
}

// NumNodes returns the number of live nodes.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// RemoveNode deletes a node, its incident edges, and its def registrations.
// Removing an absent index is a no-op.
func (g *Graph) RemoveNode(idx NodeIndex) {
	n := g.nodes[idx]
	if n == nil {
		return
	}
	for e := range g.edges {
		if e.Src == idx || e.Dst == idx {
			delete(g.edges, e)
		}
	}
	for _, out := range n.outputs {
		if out.Exists() && g.producers[out.name] == idx {
			delete(g.producers, out.name)
		}
	}
	for _, in := range n.inputs {
		if in.Exists() {
			g.removeConsumer(in.name, idx)
		}
	}
	delete(g.nodeNames, n.name)
	delete(g.nodes, idx)
}

// RemoveOutputEdges deletes every edge leaving the node.
func (g *Graph) RemoveOutputEdges(idx NodeIndex) {
	for e := range g.edges {
		if e.Src == idx {
			delete(g.edges, e)
		}
	}
}

// AddEdge records a slot-level edge after checking that both slots resolve
// to the same existing value.
func (g *Graph) AddEdge(e Edge) error {
	src := g.nodes[e.Src]
	dst := g.nodes[e.Dst]
	if src == nil || dst == nil {
		return errors.Errorf("edge %v references a removed node", e)
	}
	if e.SrcSlot < 0 || e.SrcSlot >= len(src.outputs) {
		return errors.Errorf("edge %v: output slot out of range for node %q", e, src.name)
	}
	if e.DstSlot < 0 || e.DstSlot >= len(dst.inputs) {
		return errors.Errorf("edge %v: input slot out of range for node %q", e, dst.name)
	}
	out := src.outputs[e.SrcSlot]
	in := dst.inputs[e.DstSlot]
	if out != in || !out.Exists() {
		return errors.Errorf("edge %v: slots disagree (%q produces %q, %q consumes %q)",
			e, src.name, out.Name(), dst.name, in.Name())
	}
	g.edges[e] = struct{}{}
	return nil
}

// RemoveEdge deletes an edge if present.
func (g *Graph) RemoveEdge(e Edge) { delete(g.edges, e) }

// HasEdge reports whether the edge is present.
func (g *Graph) HasEdge(e Edge) bool {
	_, ok := g.edges[e]
	return ok
}

// Edges returns a snapshot of all edges.
func (g *Graph) Edges() []Edge {
	return slices.Collect(maps.Keys(g.edges))
}

// ConnectEdges derives the slot-level edge set from the current def lists:
// one edge per (producer output slot, consumer input slot) pair sharing a
// value. Used after bulk construction (decoders, test fixtures).
func (g *Graph) ConnectEdges() error {
	for _, n := range g.nodes {
		for dstSlot, in := range n.inputs {
			if !in.Exists() {
				continue
			}
			pIdx, ok := g.producers[in.name]
			if !ok {
				continue
			}
			p := g.nodes[pIdx]
			for _, srcSlot := range p.OutputSlots(in) {
				if err := g.AddEdge(Edge{Src: pIdx, Dst: n.index, SrcSlot: srcSlot, DstSlot: dstSlot}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Producer returns the node producing the named value, or nil for graph
// inputs, initializers, and orphaned values.
func (g *Graph) Producer(name string) *Node {
	idx, ok := g.producers[name]
	if !ok {
		return nil
	}
	return g.nodes[idx]
}

// Consumers returns a snapshot of the nodes reading the named value.
func (g *Graph) Consumers(name string) []*Node {
	idxs := g.consumers[name]
	out := make([]*Node, 0, len(idxs))
	for _, idx := range idxs {
		if n := g.nodes[idx]; n != nil {
			out = append(out, n)
		}
	}
	return out
}

// ReplaceInput swaps old for new in every input slot of n and fixes the
// consumer map. Slot-level edges are the caller's responsibility.
func (g *Graph) ReplaceInput(n *Node, old, new *Value) {
	if old == new {
		return
	}
	replaced := false
	for i, in := range n.inputs {
		if in == old {
			n.inputs[i] = new
			replaced = true
		}
	}
	if !replaced {
		return
	}
	if old.Exists() {
		g.removeConsumer(old.name, n.index)
	}
	if new.Exists() {
		g.addConsumer(new.name, n.index)
	}
}

// ReplaceOutput swaps old for new in every output slot of n and fixes the
// producer map. Slot-level edges are the caller's responsibility.
func (g *Graph) ReplaceOutput(n *Node, old, new *Value) {
	if old == new {
		return
	}
	replaced := false
	for i, out := range n.outputs {
		if out == old {
			n.outputs[i] = new
			replaced = true
		}
	}
	if !replaced {
		return
	}
	if old.Exists() && g.producers[old.name] == n.index {
		delete(g.producers, old.name)
	}
	if new.Exists() {
		g.producers[new.name] = n.index
	}
}

// AddInput declares a graph input.
func (g *Graph) AddInput(v *Value) { g.inputs[v.name] = struct{}{} }

// AddInitializer declares an initializer.
func (g *Graph) AddInitializer(v *Value) { g.initializers[v.name] = struct{}{} }

// AddOutput declares a graph output. Declaration order is preserved.
func (g *Graph) AddOutput(v *Value) {
	if _, ok := g.outputSet[v.name]; ok {
		return
	}
	g.outputSet[v.name] = struct{}{}
	g.outputs = append(g.outputs, v.name)
}

// IsInputOrInitializer reports whether the named value is a graph input or
// an initializer.
func (g *Graph) IsInputOrInitializer(name string) bool {
	if _, ok := g.inputs[name]; ok {
		return true
	}
	_, ok := g.initializers[name]
	return ok
}

// IsInput reports whether the named value is a declared graph input.
func (g *Graph) IsInput(name string) bool {
	_, ok := g.inputs[name]
	return ok
}

// IsInitializer reports whether the named value is a declared initializer.
func (g *Graph) IsInitializer(name string) bool {
	_, ok := g.initializers[name]
	return ok
}

// IsOutput reports whether the named value is a declared graph output.
func (g *Graph) IsOutput(name string) bool {
	_, ok := g.outputSet[name]
	return ok
}

// Inputs returns the declared graph inputs.
func (g *Graph) Inputs() []*Value { return g.collect(slices.Sorted(maps.Keys(g.inputs))) }

// Initializers returns the declared initializers.
func (g *Graph) Initializers() []*Value { return g.collect(slices.Sorted(maps.Keys(g.initializers))) }

// Outputs returns the declared graph outputs in declaration order.
func (g *Graph) Outputs() []*Value { return g.collect(g.outputs) }

func (g *Graph) collect(names []string) []*Value {
	vals := make([]*Value, 0, len(names))
	for _, name := range names {
		if v := g.values[name]; v != nil {
			vals = append(vals, v)
		}
	}
	return vals
}

func (g *Graph) addConsumer(name string, idx NodeIndex) {
	if slices.Contains(g.consumers[name], idx) {
		return
	}
	g.consumers[name] = append(g.consumers[name], idx)
}

func (g *Graph) removeConsumer(name string, idx NodeIndex) {
	list := g.consumers[name]
	list = slices.DeleteFunc(list, func(i NodeIndex) bool { return i == idx })
	if len(list) == 0 {
		delete(g.consumers, name)
	} else {
		g.consumers[name] = list
	}
}
