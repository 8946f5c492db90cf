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
	"maps"

	"github.com/yeshivsher/onnxruntime/graph"
)

// propagateForwards walks from one node toward its consumers. A wide cast
// is sunk to the downstream frontier when it is not already unavoidable at
// its current edge; a tolerant node whose inputs are all fed by wide casts
// trades them for a single wide cast on its output.
func (p *pass) propagateForwards(idx graph.NodeIndex, visited map[graph.NodeIndex]struct{}) (bool, error) {
	if _, ok := visited[idx]; ok {
		return false, nil
	}
	visited[idx] = struct{}{}
	node := p.g.Node(idx)
	if node == nil {
		return false, nil
	}

	if node.OpType() == CastOp {
		target, err := castTarget(node)
		if err != nil {
			return false, err
		}
		if target != p.policy.Wide() || len(node.Outputs()) == 0 {
			return false, nil
		}
		out := node.Outputs()[0]
		frontier := newFrontierSet()
		if err := p.searchDownstream(out, frontier, newWalk()); err != nil {
			return false, err
		}
		if frontier.empty() || frontier.contains(out.Name()) {
			return false, nil
		}
		if err := p.removeCastRun([]graph.NodeIndex{idx}); err != nil {
			return false, err
		}
		if err := p.insertCastsAt(frontier.values, p.policy.Wide()); err != nil {
			return false, err
		}
		return true, nil
	}

	if p.policy.IsTolerant(node.OpType()) && len(node.Inputs()) > 0 && len(node.Outputs()) > 0 {
		var castProducers []graph.NodeIndex
		seen := make(map[graph.NodeIndex]struct{})
		allCast := true
		for _, in := range node.Inputs() {
			producer := p.g.Producer(in.Name())
			if producer == nil || producer.OpType() != CastOp {
				allCast = false
				break
			}
			target, err := castTarget(producer)
			if err != nil {
				return false, err
			}
			if target != p.policy.Wide() {
				allCast = false
				break
			}
			if _, ok := seen[producer.Index()]; !ok {
				seen[producer.Index()] = struct{}{}
				castProducers = append(castProducers, producer.Index())
			}
		}
		if !allCast {
			return false, nil
		}
		for _, pIdx := range castProducers {
			if err := p.removeCastRun([]graph.NodeIndex{pIdx}); err != nil {
				return false, err
			}
		}
		if err := p.insertCastsAt([]*graph.Value{node.Outputs()[0]}, p.policy.Wide()); err != nil {
			return false, err
		}
		return true, nil
	}

	modified := false
	for _, out := range node.Outputs() {
		if !out.Exists() {
			continue
		}
		for _, consumer := range p.g.Consumers(out.Name()) {
			m, err := p.propagateForwards(consumer.Index(), visited)
			if err != nil {
				return modified, err
			}
			modified = modified || m
		}
	}
	return modified, nil
}

// propagateBackwards walks from one node toward its producers. A narrow
// cast is hoisted to the upstream frontier when its own input is not part
// of it, i.e. the whole subgraph up to the frontier can run natively in
// narrow precision.
func (p *pass) propagateBackwards(idx graph.NodeIndex, visited map[graph.NodeIndex]struct{}) (bool, error) {
	if _, ok := visited[idx]; ok {
		return false, nil
	}
	visited[idx] = struct{}{}
	node := p.g.Node(idx)
	if node == nil {
		return false, nil
	}

	if node.OpType() == CastOp {
		target, err := castTarget(node)
		if err != nil {
			return false, err
		}
		if target != p.policy.Narrow() || len(node.Inputs()) == 0 {
			return false, nil
		}
		in := node.Inputs()[0]
		frontier := newFrontierSet()
		if err := p.searchUpstream(in, frontier, newWalk()); err != nil {
			return false, err
		}
		if frontier.contains(in.Name()) {
			return false, nil
		}
		if err := p.removeCastRun([]graph.NodeIndex{idx}); err != nil {
			return false, err
		}
		if err := p.insertCastsAt(frontier.values, p.policy.Narrow()); err != nil {
			return false, err
		}
		return true, nil
	}

	modified := false
	for _, in := range node.Inputs() {
		if !in.Exists() {
			continue
		}
		producer := p.g.Producer(in.Name())
		if producer == nil {
			continue
		}
		m, err := p.propagateBackwards(producer.Index(), visited)
		if err != nil {
			return modified, err
		}
		modified = modified || m
	}
	return modified, nil
}

// removeBackToBackCasts cancels directly chained casts: inverse pairs are
// both removed, a duplicate child is removed against its parent. An inverse
// pair is only cancelled when the child is the parent output's sole
// consumer, since removing the parent would leave any other consumer
// reading an unproduced value.
func (p *pass) removeBackToBackCasts() (bool, error) {
	modified := false
	for _, idx := range p.g.Nodes() {
		node := p.g.Node(idx)
		if node == nil || node.OpType() != CastOp {
			continue
		}
		target, err := castTarget(node)
		if err != nil {
			return modified, err
		}
		isWide := target == p.policy.Wide()
		isNarrow := target == p.policy.Narrow()

	scan:
		for _, out := range node.Outputs() {
			if !out.Exists() {
				continue
			}
			consumers := p.g.Consumers(out.Name())
			for _, child := range consumers {
				if child.OpType() != CastOp {
					continue
				}
				childTarget, err := castTarget(child)
				if err != nil {
					return modified, err
				}
				childWide := childTarget == p.policy.Wide()
				childNarrow := childTarget == p.policy.Narrow()
				switch {
				case (isWide && childNarrow) || (isNarrow && childWide):
					if len(consumers) != 1 {
						continue
					}
					// The pair cancels out.
					if err := p.removeCastRun([]graph.NodeIndex{idx, child.Index()}); err != nil {
						return modified, err
					}
					modified = true
					break scan
				case (isWide && childWide) || (isNarrow && childNarrow):
					// The child duplicates the parent.
					if err := p.removeCastRun([]graph.NodeIndex{child.Index()}); err != nil {
						return modified, err
					}
					modified = true
				}
			}
		}
	}
	return modified, nil
}

// fuseCastSiblings merges, per output value of the node, all sibling casts
// sharing that input and a target type into a single cast node carrying the
// union of their outputs.
func (p *pass) fuseCastSiblings(idx graph.NodeIndex) (bool, error) {
	node := p.g.Node(idx)
	if node == nil {
		return false, nil
	}
	modified := false
	for _, out := range node.Outputs() {
		if !out.Exists() {
			continue
		}
		var narrowSibs, wideSibs []graph.NodeIndex
		for _, c := range p.g.Consumers(out.Name()) {
			if c.OpType() != CastOp {
				continue
			}
			target, err := castTarget(c)
			if err != nil {
				return modified, err
			}
			switch target {
			case p.policy.Narrow():
				narrowSibs = append(narrowSibs, c.Index())
			case p.policy.Wide():
				wideSibs = append(wideSibs, c.Index())
			}
		}
		if len(narrowSibs) > 1 {
			if err := p.fuseCasts(out, narrowSibs); err != nil {
				return modified, err
			}
			modified = true
		}
		if len(wideSibs) > 1 {
			if err := p.fuseCasts(out, wideSibs); err != nil {
				return modified, err
			}
			modified = true
		}
	}
	return modified, nil
}

// fuseCasts replaces sibling cast nodes sharing input with one node of the
// first sibling's kind, attributes, and domain, whose output list is the
// concatenation of all siblings' outputs. Every downstream consumer keeps
// its output value; only one conversion remains.
func (p *pass) fuseCasts(input *graph.Value, siblings []graph.NodeIndex) error {
	g := p.g
	first := g.Node(siblings[0])

	type rewire struct {
		node  *graph.Node
		slots []int
	}
	var outputs []*graph.Value
	downstream := make(map[string][]rewire)
	for _, sIdx := range siblings {
		sib := g.Node(sIdx)
		for _, out := range sib.Outputs() {
			outputs = append(outputs, out)
			for _, c := range g.Consumers(out.Name()) {
				downstream[out.Name()] = append(downstream[out.Name()], rewire{node: c, slots: c.InputSlots(out)})
			}
		}
	}

	producer := g.Producer(input.Name())
	outSlot := -1
	if producer != nil {
		outSlot = producer.OutputSlots(input)[0]
	}

	fused := g.AddNode(
		g.GenerateNodeName(first.Name()+"_replace"),
		first.OpType(),
		[]*graph.Value{input},
		outputs,
		maps.Clone(first.Attrs()),
		first.Domain(),
	)

	for _, sIdx := range siblings {
		if producer != nil {
			for _, s := range g.Node(sIdx).InputSlots(input) {
				g.RemoveEdge(graph.Edge{Src: producer.Index(), Dst: sIdx, SrcSlot: outSlot, DstSlot: s})
			}
		}
		g.RemoveOutputEdges(sIdx)
		g.RemoveNode(sIdx)
	}

	if producer != nil {
		if err := g.AddEdge(graph.Edge{Src: producer.Index(), Dst: fused.Index(), SrcSlot: outSlot, DstSlot: 0}); err != nil {
			return err
		}
	}
	for j, out := range outputs {
		for _, c := range downstream[out.Name()] {
			for _, s := range c.slots {
				if err := g.AddEdge(graph.Edge{Src: fused.Index(), Dst: c.node.Index(), SrcSlot: j, DstSlot: s}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// PropagateCastOps runs one bounded sweep of the cast-propagation pass over
// the graph and reports whether it changed anything. The caller is expected
// to re-invoke it until it reports no change. A nil policy selects
// DefaultPolicy. Any returned error means the graph is malformed; the
// caller must treat it as a pipeline failure, not attempt recovery.
//
// The sweep order is: forward propagation seeded at every node, back-to-back
// cancellation, backward propagation from each graph output's producer (only
// when the earlier steps changed nothing), then sibling fusion at every
// node. Node sets are snapshotted before each stage; indices deleted
// mid-stage are skipped.
func PropagateCastOps(g *graph.Graph, policy *Policy) (bool, error) {
	if policy == nil {
		policy = DefaultPolicy()
	}
	p := &pass{g: g, policy: policy}
	modified := false

	forwardVisited := make(map[graph.NodeIndex]struct{})
	for _, idx := range g.Nodes() {
		m, err := p.propagateForwards(idx, forwardVisited)
		if err != nil {
			return modified, err
		}
		modified = modified || m
	}

	m, err := p.removeBackToBackCasts()
	if err != nil {
		return modified, err
	}
	modified = modified || m

	if !modified {
		backwardVisited := make(map[graph.NodeIndex]struct{})
		for _, out := range g.Outputs() {
			producer := g.Producer(out.Name())
			if producer == nil {
				continue
			}
			m, err := p.propagateBackwards(producer.Index(), backwardVisited)
			if err != nil {
				return modified, err
			}
			modified = modified || m
		}
	}

	for _, idx := range g.Nodes() {
		m, err := p.fuseCastSiblings(idx)
		if err != nil {
			return modified, err
		}
		modified = modified || m
	}

	return modified, nil
}
