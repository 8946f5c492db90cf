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
	"os"
	"slices"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// fileGraph is the YAML schema for a graph. Values referenced by nodes but
// not typed anywhere default to Undefined.
type fileGraph struct {
	Inputs       []fileValue `yaml:"inputs,omitempty"`
	Initializers []fileValue `yaml:"initializers,omitempty"`
	Outputs      []string    `yaml:"outputs,omitempty"`
	Values       []fileValue `yaml:"values,omitempty"`
	Nodes        []fileNode  `yaml:"nodes"`
}

type fileValue struct {
	Name string `yaml:"name"`
	Type string `yaml:"type,omitempty"`
}

type fileNode struct {
	Name    string           `yaml:"name"`
	Op      string           `yaml:"op"`
	Domain  string           `yaml:"domain,omitempty"`
	Inputs  []string         `yaml:"inputs,omitempty"`
	Outputs []string         `yaml:"outputs,omitempty"`
	Attrs   map[string]int64 `yaml:"attrs,omitempty"`
}

// Decode builds a Graph from YAML, deriving the slot-level edge set from the
// decoded producer/consumer relations.
func Decode(data []byte) (*Graph, error) {
	var fg fileGraph
	if err := yaml.Unmarshal(data, &fg); err != nil {
		return nil, errors.Wrap(err, "parse graph")
	}
	g := New()

	declare := func(fv fileValue) (*Value, error) {
		t := Undefined
		if fv.Type != "" {
			var err error
			t, err = ParseDataType(fv.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "value %q", fv.Name)
			}
		}
		return g.GetOrCreateValue(fv.Name, t), nil
	}
	for _, fv := range fg.Inputs {
		v, err := declare(fv)
		if err != nil {
			return nil, err
		}
		g.AddInput(v)
	}
	for _, fv := range fg.Initializers {
		v, err := declare(fv)
		if err != nil {
			return nil, err
		}
		g.AddInitializer(v)
	}
	for _, fv := range fg.Values {
		if _, err := declare(fv); err != nil {
			return nil, err
		}
	}

	for _, fn := range fg.Nodes {
		resolve := func(names []string) []*Value {
			vals := make([]*Value, len(names))
			for i, name := range names {
				vals[i] = g.GetOrCreateValue(name, Undefined)
			}
			return vals
		}
		var attrs map[string]Attr
		if len(fn.Attrs) > 0 {
			attrs = make(map[string]Attr, len(fn.Attrs))
			for k, v := range fn.Attrs {
				attrs[k] = Attr{I: v}
			}
		}
		g.AddNode(g.GenerateNodeName(fn.Name), fn.Op, resolve(fn.Inputs), resolve(fn.Outputs), attrs, fn.Domain)
	}

	for _, name := range fg.Outputs {
		v := g.Value(name)
		if v == nil {
			return nil, errors.Errorf("declared output %q is not produced or declared", name)
		}
		g.AddOutput(v)
	}

	if err := g.ConnectEdges(); err != nil {
		return nil, errors.Wrap(err, "connect edges")
	}
	return g, nil
}

// Encode serializes a Graph to YAML with stable ordering: nodes in index
// order, typed values sorted by name.
func Encode(g *Graph) ([]byte, error) {
	fg := fileGraph{}
	for _, v := range g.Inputs() {
		fg.Inputs = append(fg.Inputs, fileValue{Name: v.Name(), Type: typeName(v.Type())})
	}
	for _, v := range g.Initializers() {
		fg.Initializers = append(fg.Initializers, fileValue{Name: v.Name(), Type: typeName(v.Type())})
	}
	for _, v := range g.Outputs() {
		fg.Outputs = append(fg.Outputs, v.Name())
	}

	var typed []fileValue
	for name, v := range g.values {
		if v.Type() == Undefined || g.IsInputOrInitializer(name) {
			continue
		}
		typed = append(typed, fileValue{Name: name, Type: typeName(v.Type())})
	}
	slices.SortFunc(typed, func(a, b fileValue) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	fg.Values = typed

	for _, idx := range g.Nodes() {
		n := g.Node(idx)
		fn := fileNode{Name: n.Name(), Op: n.OpType(), Domain: n.Domain()}
		for _, in := range n.Inputs() {
			fn.Inputs = append(fn.Inputs, in.Name())
		}
		for _, out := range n.Outputs() {
			fn.Outputs = append(fn.Outputs, out.Name())
		}
		for k, a := range n.Attrs() {
			if fn.Attrs == nil {
				fn.Attrs = make(map[string]int64)
			}
			fn.Attrs[k] = a.I
		}
		fg.Nodes = append(fg.Nodes, fn)
	}

	data, err := yaml.Marshal(&fg)
	return data, errors.Wrap(err, "marshal graph")
}

func typeName(t DataType) string {
	if t == Undefined {
		return ""
	}
	return t.String()
}

// LoadFile reads and decodes a graph YAML file.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read graph")
	}
	return Decode(data)
}

// SaveFile encodes a graph and writes it to path.
func SaveFile(g *Graph, path string) error {
	data, err := Encode(g)
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "write graph")
}
