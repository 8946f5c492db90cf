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
	"testing"

	"github.com/yeshivsher/onnxruntime/graph"
)

func addOp(g *graph.Graph, name, op string, ins, outs []*graph.Value) *graph.Node {
	return g.AddNode(g.GenerateNodeName(name), op, ins, outs, nil, "")
}

func addCast(g *graph.Graph, name string, in, out *graph.Value, to graph.DataType) *graph.Node {
	return g.AddNode(g.GenerateNodeName(name), CastOp,
		[]*graph.Value{in}, []*graph.Value{out},
		map[string]graph.Attr{castTargetAttr: {I: int64(to)}}, "")
}

func connect(t *testing.T, g *graph.Graph) {
	t.Helper()
	if err := g.ConnectEdges(); err != nil {
		t.Fatalf("ConnectEdges: %v", err)
	}
}

func countCasts(g *graph.Graph) int {
	count := 0
	for _, idx := range g.Nodes() {
		if n := g.Node(idx); n != nil && n.OpType() == CastOp {
			count++
		}
	}
	return count
}

// checkIntegrity verifies the structural invariants every rewrite must
// preserve: edges resolve to the same existing value on both endpoints, and
// every producer/consumer relation implied by the def lists is backed by
// the maps and by at least one slot edge.
func checkIntegrity(t *testing.T, g *graph.Graph) {
	t.Helper()
	for _, e := range g.Edges() {
		src := g.Node(e.Src)
		dst := g.Node(e.Dst)
		if src == nil || dst == nil {
			t.Fatalf("edge %v references a removed node", e)
		}
		if e.SrcSlot >= len(src.Outputs()) || e.DstSlot >= len(dst.Inputs()) {
			t.Fatalf("edge %v has out-of-range slots (%q -> %q)", e, src.Name(), dst.Name())
		}
		out := src.Outputs()[e.SrcSlot]
		in := dst.Inputs()[e.DstSlot]
		if out != in || !out.Exists() {
			t.Fatalf("edge %v is dangling: %q produces %q, %q consumes %q",
				e, src.Name(), out.Name(), dst.Name(), in.Name())
		}
	}

	for _, idx := range g.Nodes() {
		n := g.Node(idx)
		for s, in := range n.Inputs() {
			if !in.Exists() {
				continue
			}
			found := false
			for _, c := range g.Consumers(in.Name()) {
				if c == n {
					found = true
				}
			}
			if !found {
				t.Fatalf("node %q reads %q but is not in its consumer list", n.Name(), in.Name())
			}
			p := g.Producer(in.Name())
			if p == nil {
				continue
			}
			edged := false
			for _, ps := range p.OutputSlots(in) {
				if g.HasEdge(graph.Edge{Src: p.Index(), Dst: idx, SrcSlot: ps, DstSlot: s}) {
					edged = true
				}
			}
			if !edged {
				t.Fatalf("no edge for %q slot %d reading %q from %q", n.Name(), s, in.Name(), p.Name())
			}
		}
		for _, out := range n.Outputs() {
			if !out.Exists() {
				continue
			}
			if p := g.Producer(out.Name()); p != n {
				t.Fatalf("node %q writes %q but the producer map says %v", n.Name(), out.Name(), p)
			}
		}
	}
}
