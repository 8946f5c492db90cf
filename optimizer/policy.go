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

// Package optimizer implements the cast-propagation pass: it relocates,
// cancels, and merges the precision-conversion nodes an earlier pipeline
// stage inserted for mixed-precision execution, so that the minimum
// necessary number remain. The pass rewires topology only; it never
// executes tensors.
package optimizer

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/yeshivsher/onnxruntime/graph"
)

// Policy is the immutable operator classification configuration for one
// deployment target. Transparent operators pass narrow-precision data
// through unchanged in meaning, so casts may cross them in either
// direction. Tolerant operators may execute directly in narrow precision,
// so a cast feeding all of their inputs can be replaced by one cast on the
// output. Moving a cast across a tolerant operator changes which precision
// performs the arithmetic; that is an accepted precision/performance
// trade-off, not an equivalence.
type Policy struct {
	transparent map[string]struct{}
	tolerant    map[string]struct{}
	narrow      graph.DataType
	wide        graph.DataType
}

// defaultTransparent are the shape/selection operators casts cross freely.
var defaultTransparent = []string{
	"Transpose", "Reshape", "Gather", "Split", "Relu", "Where", "Dropout",
}

// defaultTolerant are the elementwise/matmul-like operators safe to run in
// narrow precision.
var defaultTolerant = []string{
	"LayerNorm", "Gelu", "FastGelu", "Tanh", "MatMul", "MatAdd", "Add",
	"Sub", "Mul", "Div", "Neg", "Gemm", "FusedMatMul", "FusedGemm",
}

// NewPolicy builds a validated Policy.
func NewPolicy(transparent, tolerant []string, narrow, wide graph.DataType) (*Policy, error) {
	if narrow == graph.Undefined || wide == graph.Undefined {
		return nil, errors.New("policy: narrow and wide element types must be set")
	}
	if narrow == wide {
		return nil, errors.Errorf("policy: narrow and wide element types are both %s", narrow)
	}
	p := &Policy{
		transparent: make(map[string]struct{}, len(transparent)),
		tolerant:    make(map[string]struct{}, len(tolerant)),
		narrow:      narrow,
		wide:        wide,
	}
	for _, op := range transparent {
		p.transparent[op] = struct{}{}
	}
	for _, op := range tolerant {
		p.tolerant[op] = struct{}{}
	}
	return p, nil
}

// DefaultPolicy returns the float16/float32 policy with the stock operator
// tables.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(defaultTransparent, defaultTolerant, graph.Float16, graph.Float)
	if err != nil {
		panic(err) // static tables, cannot fail
	}
	return p
}

// IsTransparent reports whether casts may cross the operator freely.
func (p *Policy) IsTransparent(op string) bool {
	_, ok := p.transparent[op]
	return ok
}

// IsTolerant reports whether the operator may run directly in narrow
// precision.
func (p *Policy) IsTolerant(op string) bool {
	_, ok := p.tolerant[op]
	return ok
}

// Narrow returns the narrow element type.
func (p *Policy) Narrow() graph.DataType { return p.narrow }

// Wide returns the wide element type.
func (p *Policy) Wide() graph.DataType { return p.wide }

// opposite maps wide to narrow and anything else to wide.
func (p *Policy) opposite(t graph.DataType) graph.DataType {
	if t == p.wide {
		return p.narrow
	}
	return p.wide
}

// filePolicy is the YAML schema for a policy file. Absent fields keep the
// default value.
type filePolicy struct {
	Transparent []string `yaml:"transparent"`
	Tolerant    []string `yaml:"tolerant"`
	Narrow      string   `yaml:"narrow"`
	Wide        string   `yaml:"wide"`
}

// LoadPolicy reads a policy overlay from a YAML file. Fields left empty in
// the file keep the defaults, so a deployment can swap just the element
// types (e.g. bfloat16) or just the operator tables.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read policy")
	}
	var fp filePolicy
	if err := yaml.Unmarshal(data, &fp); err != nil {
		return nil, errors.Wrap(err, "parse policy")
	}

	transparent := defaultTransparent
	if fp.Transparent != nil {
		transparent = fp.Transparent
	}
	tolerant := defaultTolerant
	if fp.Tolerant != nil {
		tolerant = fp.Tolerant
	}
	narrow, wide := graph.Float16, graph.Float
	if fp.Narrow != "" {
		if narrow, err = graph.ParseDataType(fp.Narrow); err != nil {
			return nil, errors.Wrap(err, "policy narrow type")
		}
	}
	if fp.Wide != "" {
		if wide, err = graph.ParseDataType(fp.Wide); err != nil {
			return nil, errors.Wrap(err, "policy wide type")
		}
	}
	return NewPolicy(transparent, tolerant, narrow, wide)
}
