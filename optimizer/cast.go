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

package optimizer

import (
	"github.com/pkg/errors"

	"github.com/yeshivsher/onnxruntime/graph"
)

// CastOp is the operator kind of a precision-conversion node.
const CastOp = "Cast"

// castTargetAttr names the required integer attribute holding a cast's
// target element type.
const castTargetAttr = "to"

// castTarget returns the target element type of a cast node. A cast without
// the attribute is a malformed graph and aborts the pass.
func castTarget(n *graph.Node) (graph.DataType, error) {
	a, ok := n.Attr(castTargetAttr)
	if !ok {
		return graph.Undefined, errors.Errorf("cast node %q has no %q attribute", n.Name(), castTargetAttr)
	}
	return graph.DataType(a.I), nil
}

// pass carries one invocation's state: the graph under rewrite and the
// classification policy. All methods require exclusive access to the graph.
type pass struct {
	g      *graph.Graph
	policy *Policy
}

// insertCastsAt splices a cast to the target type into each of the given
// values, rewiring producer and consumers so the cast is the sole path for
// that value. A value whose type already equals the target becomes the
// cast's output (a fresh opposite-typed value is created upstream of it);
// otherwise it becomes the cast's input (a fresh target-typed value is
// created downstream). Absent values are skipped.
func (p *pass) insertCastsAt(values []*graph.Value, to graph.DataType) error {
	g := p.g
	for _, v := range values {
		if !v.Exists() {
			continue
		}
		if g.IsInputOrInitializer(v.Name()) && g.IsOutput(v.Name()) {
			return errors.Errorf("value %q is both a graph input/initializer and a graph output", v.Name())
		}

		isCastOutput := v.Type() == to
		newType := to
		if isCastOutput {
			newType = p.policy.opposite(to)
		}
		newVal := g.GetOrCreateValue(g.GenerateValueName(v.Name()), newType)
		castIn, castOut := v, newVal
		if isCastOutput {
			castIn, castOut = newVal, v
		}

		// Capture the old wiring before the cast claims v.
		producer := g.Producer(v.Name())
		outSlot := -1
		if producer != nil {
			outSlot = producer.OutputSlots(v)[0]
		}
		type rewire struct {
			node  *graph.Node
			slots []int
		}
		var consumers []rewire
		for _, c := range g.Consumers(v.Name()) {
			consumers = append(consumers, rewire{node: c, slots: c.InputSlots(v)})
		}

		cast := g.AddNode(
			g.GenerateNodeName(v.Name()+"_cast"),
			CastOp,
			[]*graph.Value{castIn},
			[]*graph.Value{castOut},
			map[string]graph.Attr{castTargetAttr: {I: int64(to)}},
			"",
		)

		// Route every old consumer through the cast output.
		for _, c := range consumers {
			if producer != nil {
				for _, s := range c.slots {
					g.RemoveEdge(graph.Edge{Src: producer.Index(), Dst: c.node.Index(), SrcSlot: outSlot, DstSlot: s})
				}
			}
			g.ReplaceInput(c.node, castIn, castOut)
			for _, s := range c.slots {
				if err := g.AddEdge(graph.Edge{Src: cast.Index(), Dst: c.node.Index(), SrcSlot: 0, DstSlot: s}); err != nil {
					return err
				}
			}
		}

		// Route the old producer into the cast input.
		if producer != nil {
			g.ReplaceOutput(producer, v, castIn)
			if err := g.AddEdge(graph.Edge{Src: producer.Index(), Dst: cast.Index(), SrcSlot: outSlot, DstSlot: 0}); err != nil {
				return err
			}
		}
	}
	return nil
}

// removeCastRun deletes a non-empty chain of cast nodes, reconnecting the
// lead input's producer directly to every consumer of the trail output. If
// the trail output is a declared graph output and a producer exists, the
// producer's output def is renamed to the trail output instead, keeping the
// graph interface produced.
func (p *pass) removeCastRun(run []graph.NodeIndex) error {
	if len(run) == 0 {
		return errors.New("removeCastRun: empty cast run")
	}
	g := p.g
	lead := g.Node(run[0])
	trail := g.Node(run[len(run)-1])
	if lead == nil || trail == nil {
		return errors.New("removeCastRun: run references a removed node")
	}
	in := lead.Inputs()[0]
	out := trail.Outputs()[0]

	producer := g.Producer(in.Name())
	outSlot := -1
	if producer != nil {
		outSlot = producer.OutputSlots(in)[0]
		for _, s := range lead.InputSlots(in) {
			g.RemoveEdge(graph.Edge{Src: producer.Index(), Dst: lead.Index(), SrcSlot: outSlot, DstSlot: s})
		}
	}

	type rewire struct {
		node  *graph.Node
		slots []int
	}
	var consumers []rewire
	for _, c := range g.Consumers(out.Name()) {
		consumers = append(consumers, rewire{node: c, slots: c.InputSlots(out)})
	}
	for _, c := range consumers {
		for _, s := range c.slots {
			g.RemoveEdge(graph.Edge{Src: trail.Index(), Dst: c.node.Index(), SrcSlot: 0, DstSlot: s})
		}
	}

	renamed := producer != nil && g.IsOutput(out.Name())
	if renamed {
		// The producer takes over the graph output name; consumers keep it.
		g.ReplaceOutput(producer, in, out)
		for _, c := range consumers {
			for _, s := range c.slots {
				if err := g.AddEdge(graph.Edge{Src: producer.Index(), Dst: c.node.Index(), SrcSlot: outSlot, DstSlot: s}); err != nil {
					return err
				}
			}
		}
	} else {
		for _, c := range consumers {
			g.ReplaceInput(c.node, out, in)
			if producer != nil {
				for _, s := range c.slots {
					if err := g.AddEdge(graph.Edge{Src: producer.Index(), Dst: c.node.Index(), SrcSlot: outSlot, DstSlot: s}); err != nil {
						return err
					}
				}
			}
		}
	}

	for _, idx := range run {
		g.RemoveOutputEdges(idx)
		g.RemoveNode(idx)
	}

	if renamed {
		// Any remaining readers of the lead input follow the rename so their
		// slot edges from the producer stay resolvable.
		for _, c := range g.Consumers(in.Name()) {
			g.ReplaceInput(c, in, out)
		}
	}
	return nil
}
