// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dsa_test

import (
	"testing"

	"github.com/awslabs/go-dsa/analysis/dsa"
	"github.com/awslabs/go-dsa/internal/analysistest"
	"golang.org/x/tools/go/ssa"
)

// localSetup builds the local graph of main for the fp scenario, where main
// stores foo into the global function pointer. The store makes the global's
// cell and foo's node equivalent inside the local graph.
func localSetup(t *testing.T) (*dsa.Builder, *dsa.Graph, ssa.Value, ssa.Value) {
	prog, _ := analysistest.LoadTest(t, testDir("fp"), nil)
	mainFn := dsa.FindFunction(prog, "main")
	fooFn := dsa.FindFunction(prog, "foo")
	fpGlobal, ok := mainFn.Pkg.Members["fp"].(*ssa.Global)
	if !ok {
		t.Fatalf("no global fp in test program")
	}
	b := dsa.NewBuilder(prog, nil)
	g := b.FunctionGraph(mainFn)
	return b, g, fpGlobal, fooFn
}

func storedCell(t *testing.T, g *dsa.Graph, global ssa.Value) *dsa.Handle {
	h, ok := g.LookupValue(global)
	if !ok {
		t.Fatalf("global not bound in graph")
	}
	link := h.Node().Link(h.Offset())
	if link == nil {
		t.Fatalf("global cell has no out-edge although a function was stored")
	}
	return link
}

func TestLocalGraphRecordsStore(t *testing.T) {
	_, g, fpGlobal, fooFn := localSetup(t)
	hFoo, ok := g.LookupValue(fooFn)
	if !ok {
		t.Fatalf("foo not bound in main's local graph")
	}
	if !dsa.SameNode(storedCell(t, g, fpGlobal), hFoo) {
		t.Errorf("storing foo into the global must unify the global's cell with foo's node")
	}
}

func TestSpliceFromPreservesEquivalence(t *testing.T) {
	b, g, fpGlobal, fooFn := localSetup(t)

	dest := dsa.NewGraph(b.GlobalsGraph())
	dest.SpliceFrom(g)

	hFoo, ok := dest.LookupValue(fooFn)
	if !ok {
		t.Fatalf("foo lost by splice")
	}
	if !dsa.SameNode(storedCell(t, dest, fpGlobal), hFoo) {
		t.Errorf("values equivalent before a splice must stay equivalent after it")
	}
}

func TestCloneIntoPreservesEquivalence(t *testing.T) {
	b, g, fpGlobal, fooFn := localSetup(t)

	dest := dsa.NewGraph(b.GlobalsGraph())
	nodeMap := dest.CloneInto(g, 0)
	if len(nodeMap) == 0 {
		t.Fatalf("clone produced no node mapping")
	}

	hFoo, ok := dest.LookupValue(fooFn)
	if !ok {
		t.Fatalf("foo not cloned")
	}
	if !dsa.SameNode(storedCell(t, dest, fpGlobal), hFoo) {
		t.Errorf("cloning must preserve equivalences")
	}

	// The source graph is left intact by a clone.
	if _, ok := g.LookupValue(fooFn); !ok {
		t.Errorf("clone must not consume the source graph")
	}
}

func TestScalarMapGrowsOnDemand(t *testing.T) {
	_, g, _, fooFn := localSetup(t)
	before := len(g.Values())
	h := g.NodeForValue(fooFn)
	if h == nil {
		t.Fatalf("lookup of a bound value returned nil")
	}
	if len(g.Values()) != before {
		t.Errorf("looking up a bound value must not grow the scalar map")
	}
}
