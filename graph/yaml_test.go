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

package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleGraph = `
inputs:
  - {name: x, type: float16}
outputs: [out]
values:
  - {name: wide, type: float32}
  - {name: out, type: float32}
nodes:
  - name: up
    op: Cast
    inputs: [x]
    outputs: [wide]
    attrs: {to: 1}
  - name: matmul
    op: MatMul
    inputs: [wide, wide]
    outputs: [out]
`

func TestDecodeWiresGraph(t *testing.T) {
	g, err := Decode([]byte(sampleGraph))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if g.NumNodes() != 2 {
		t.Fatalf("NumNodes = %d, want 2", g.NumNodes())
	}
	if !g.IsInput("x") || !g.IsOutput("out") {
		t.Error("input/output declarations lost")
	}
	if got := g.Value("x").Type(); got != Float16 {
		t.Errorf("type of x = %v, want Float16", got)
	}

	cast := g.Producer("wide")
	if cast == nil || cast.OpType() != "Cast" {
		t.Fatalf("producer of wide = %v, want the cast", cast)
	}
	if a, ok := cast.Attr("to"); !ok || a.I != int64(Float) {
		t.Errorf("cast attr to = %v (%v), want %d", a.I, ok, Float)
	}

	matmul := g.Producer("out")
	var consumerNames []string
	for _, c := range g.Consumers("wide") {
		consumerNames = append(consumerNames, c.Name())
	}
	if diff := cmp.Diff([]string{"matmul"}, consumerNames); diff != "" {
		t.Errorf("consumers of wide (-want +got):\n%s", diff)
	}
	// Both matmul slots read the cast output.
	for slot := 0; slot < 2; slot++ {
		e := Edge{Src: cast.Index(), Dst: matmul.Index(), SrcSlot: 0, DstSlot: slot}
		if !g.HasEdge(e) {
			t.Errorf("missing edge %v", e)
		}
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte("inputs:\n  - {name: x, type: complex128}\n"))
	if err == nil {
		t.Fatal("expected an error for an unknown value type")
	}
}

func TestDecodeRejectsUnknownOutput(t *testing.T) {
	_, err := Decode([]byte("outputs: [missing]\nnodes: []\n"))
	if err == nil {
		t.Fatal("expected an error for an undeclared output")
	}
}

func TestEncodeDecodeKeepsStructure(t *testing.T) {
	g, err := Decode([]byte(sampleGraph))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	data, err := Encode(g)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	g2, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(Encode): %v\n%s", err, data)
	}
	if g2.NumNodes() != g.NumNodes() {
		t.Errorf("round trip changed node count: %d != %d", g2.NumNodes(), g.NumNodes())
	}
	if g2.Value("wide").Type() != Float {
		t.Errorf("round trip lost the type of wide")
	}
	if !g2.IsOutput("out") {
		t.Error("round trip lost the declared output")
	}
}
