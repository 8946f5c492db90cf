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
	"os"
	"path/filepath"
	"testing"

	"github.com/yeshivsher/onnxruntime/graph"
)

func TestDefaultPolicyTables(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		op          string
		transparent bool
		tolerant    bool
	}{
		{"Transpose", true, false},
		{"Gather", true, false},
		{"Dropout", true, false},
		{"MatMul", false, true},
		{"Gemm", false, true},
		{"LayerNorm", false, true},
		{"Conv", false, false},
		{"Cast", false, false},
	}
	for _, tt := range tests {
		if got := p.IsTransparent(tt.op); got != tt.transparent {
			t.Errorf("IsTransparent(%q) = %v, want %v", tt.op, got, tt.transparent)
		}
		if got := p.IsTolerant(tt.op); got != tt.tolerant {
			t.Errorf("IsTolerant(%q) = %v, want %v", tt.op, got, tt.tolerant)
		}
	}
	if p.Narrow() != graph.Float16 || p.Wide() != graph.Float {
		t.Errorf("default types = (%v, %v), want (Float16, Float)", p.Narrow(), p.Wide())
	}
}

func TestNewPolicyValidation(t *testing.T) {
	if _, err := NewPolicy(nil, nil, graph.Float, graph.Float); err == nil {
		t.Error("identical narrow/wide types accepted")
	}
	if _, err := NewPolicy(nil, nil, graph.Undefined, graph.Float); err == nil {
		t.Error("undefined narrow type accepted")
	}
}

func TestLoadPolicyOverridesTypesOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("narrow: bfloat16\n"), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.Narrow() != graph.BFloat16 {
		t.Errorf("Narrow() = %v, want BFloat16", p.Narrow())
	}
	if p.Wide() != graph.Float {
		t.Errorf("Wide() = %v, want the Float default", p.Wide())
	}
	if !p.IsTransparent("Transpose") || !p.IsTolerant("MatMul") {
		t.Error("operator tables lost their defaults")
	}
}

func TestLoadPolicyOverridesTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := "transparent: [Identity]\ntolerant: [Conv]\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if !p.IsTransparent("Identity") || p.IsTransparent("Transpose") {
		t.Error("transparent table was not replaced")
	}
	if !p.IsTolerant("Conv") || p.IsTolerant("MatMul") {
		t.Error("tolerant table was not replaced")
	}
}

func TestLoadPolicyRejectsBadType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("wide: int9\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(path); err == nil {
		t.Fatal("expected an error for an unknown element type")
	}
}
