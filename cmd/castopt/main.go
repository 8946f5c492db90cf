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

// castopt loads a graph from YAML, runs the cast-propagation pass until it
// reaches a fixpoint, and writes the rewritten graph back out.
//
// Usage:
//
//	castopt -in model.yaml -out optimized.yaml [-policy policy.yaml] [-max-passes 100]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/yeshivsher/onnxruntime/graph"
	"github.com/yeshivsher/onnxruntime/optimizer"
)

func main() {
	var (
		inPath     = flag.String("in", "", "input graph YAML file")
		outPath    = flag.String("out", "", "output graph YAML file")
		policyPath = flag.String("policy", "", "optional policy YAML file")
		maxPasses  = flag.Int("max-passes", 100, "maximum pass invocations before giving up on a fixpoint")
	)
	flag.Parse()

	if *inPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "castopt: -in and -out are required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*inPath, *outPath, *policyPath, *maxPasses); err != nil {
		fmt.Fprintf(os.Stderr, "castopt: %v\n", err)
		os.Exit(1)
	}
}

func run(inPath, outPath, policyPath string, maxPasses int) error {
	g, err := graph.LoadFile(inPath)
	if err != nil {
		return err
	}

	policy := optimizer.DefaultPolicy()
	if policyPath != "" {
		if policy, err = optimizer.LoadPolicy(policyPath); err != nil {
			return err
		}
	}

	before := countCasts(g)
	passes := 0
	for ; passes < maxPasses; passes++ {
		modified, err := optimizer.PropagateCastOps(g, policy)
		if err != nil {
			return err
		}
		if !modified {
			break
		}
	}
	after := countCasts(g)

	if err := graph.SaveFile(g, outPath); err != nil {
		return err
	}
	fmt.Printf("castopt: %d pass(es), casts %d -> %d, %d node(s)\n", passes, before, after, g.NumNodes())
	return nil
}

func countCasts(g *graph.Graph) int {
	count := 0
	for _, idx := range g.Nodes() {
		if n := g.Node(idx); n != nil && n.OpType() == optimizer.CastOp {
			count++
		}
	}
	return count
}
