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

// frontierSet accumulates the values at which a cast must remain. Insertion
// order is kept so rewrites are deterministic.
type frontierSet struct {
	values []*graph.Value
	member map[string]struct{}
}

func newFrontierSet() *frontierSet {
	return &frontierSet{member: make(map[string]struct{})}
}

func (f *frontierSet) add(v *graph.Value) {
	if _, ok := f.member[v.Name()]; ok {
		return
	}
	f.member[v.Name()] = struct{}{}
	f.values = append(f.values, v)
}

func (f *frontierSet) contains(name string) bool {
	_, ok := f.member[name]
	return ok
}

func (f *frontierSet) empty() bool { return len(f.values) == 0 }

// walk tracks one search's traversal state. visited memoizes values already
// expanded (diamonds are cheap to revisit); onPath holds the current
// recursion stack so a cycle is reported instead of recursed into.
type walk struct {
	visited map[string]struct{}
	onPath  map[string]struct{}
}

func newWalk() *walk {
	return &walk{
		visited: make(map[string]struct{}),
		onPath:  make(map[string]struct{}),
	}
}

// searchUpstream collects the values needing a cast so that a narrow cast
// downstream of v can be removed: graph inputs, and outputs of operators
// that are neither transparent nor tolerant. Transparent and tolerant
// producers are crossed by recursing into their inputs.
func (p *pass) searchUpstream(v *graph.Value, f *frontierSet, w *walk) error {
	if !v.Exists() {
		return nil
	}
	name := v.Name()
	if _, ok := w.onPath[name]; ok {
		return errors.Errorf("cycle through value %q", name)
	}
	if _, ok := w.visited[name]; ok {
		return nil
	}
	w.visited[name] = struct{}{}

	producer := p.g.Producer(name)
	if producer == nil {
		// Graph inputs and initializers have no producer.
		f.add(v)
		return nil
	}
	op := producer.OpType()
	if !p.policy.IsTransparent(op) && !p.policy.IsTolerant(op) {
		f.add(v)
		return nil
	}
	w.onPath[name] = struct{}{}
	for _, in := range producer.Inputs() {
		if err := p.searchUpstream(in, f, w); err != nil {
			return err
		}
	}
	delete(w.onPath, name)
	return nil
}

// searchDownstream collects the values needing a cast so that a wide cast
// upstream of v can be removed: v itself for every non-transparent
// consumer, recursing through the outputs of transparent ones.
func (p *pass) searchDownstream(v *graph.Value, f *frontierSet, w *walk) error {
	if !v.Exists() {
		return nil
	}
	name := v.Name()
	if _, ok := w.onPath[name]; ok {
		return errors.Errorf("cycle through value %q", name)
	}
	if _, ok := w.visited[name]; ok {
		return nil
	}
	w.visited[name] = struct{}{}

	w.onPath[name] = struct{}{}
	for _, consumer := range p.g.Consumers(name) {
		if !p.policy.IsTransparent(consumer.OpType()) {
			f.add(v)
			continue
		}
		for _, out := range consumer.Outputs() {
			if err := p.searchDownstream(out, f, w); err != nil {
				return err
			}
		}
	}
	delete(w.onPath, name)
	return nil
}
