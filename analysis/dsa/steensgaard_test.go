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
	"path/filepath"
	"runtime"
	"testing"

	"github.com/awslabs/go-dsa/analysis/dsa"
	"github.com/awslabs/go-dsa/internal/analysistest"
	"golang.org/x/tools/go/ssa"
)

func testDir(name string) string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "../../testdata/src/dsa", name)
}

func runScenario(t *testing.T, name string, mode dsa.Mode) (*ssa.Program, *dsa.Result) {
	prog, _ := analysistest.LoadTest(t, testDir(name), nil)
	res, err := dsa.Analyze(prog, dsa.NewBuilder(prog, nil), mode, nil)
	if err != nil {
		t.Fatalf("analysis of %s failed: %v", name, err)
	}
	return prog, res
}

func checkScenario(t *testing.T, name string, mode dsa.Mode) {
	prog, res := runScenario(t, name, mode)
	exps := analysistest.SameNodeExpectations(t, testDir(name))
	if len(exps) == 0 {
		t.Fatalf("scenario %s carries no expectations", name)
	}
	for _, exp := range exps {
		analysistest.CheckSameNode(t, prog, res, exp)
	}
}

func TestFunctionPointerThroughGlobal(t *testing.T) {
	checkScenario(t, "fp", dsa.Mode{})
}

func TestFunctionPointerArgument(t *testing.T) {
	checkScenario(t, "fp2", dsa.Mode{})
}

func TestSecondOrderIndirection(t *testing.T) {
	checkScenario(t, "fp3", dsa.Mode{})
}

// The auxiliary-list variant must deliver the same equivalences as the plain
// driver.
func TestAuxVariant(t *testing.T) {
	mode := dsa.Mode{UseAuxCalls: true, StripAllocaOnClone: true, ComputeExternalFlags: true}
	for _, name := range []string{"fp", "fp2", "fp3"} {
		checkScenario(t, name, mode)
	}
}

func TestDirectRecursion(t *testing.T) {
	prog, res := runScenario(t, "recursion", dsa.Mode{})
	for _, exp := range analysistest.SameNodeExpectations(t, testDir("recursion")) {
		analysistest.CheckSameNode(t, prog, res, exp)
	}

	f := dsa.FindFunction(prog, "f")
	cg := res.CallGraph
	found := false
	for _, site := range cg.Sites() {
		if site.Parent() != f {
			continue
		}
		found = true
		callees := cg.Callees(site)
		if len(callees) != 1 || callees[0] != f {
			t.Errorf("recursive site must resolve to exactly {f}, got %v", callees)
		}
		if !cg.IsComplete(site) {
			t.Errorf("recursive direct site must be complete")
		}
	}
	if !found {
		t.Fatalf("no call site recorded inside f")
	}
	if scc := cg.SCCOf(f); len(scc) != 1 || scc[0] != f {
		t.Errorf("f must form its own component, got %v", scc)
	}
}

func TestEscapeToUnknownCode(t *testing.T) {
	prog, res := runScenario(t, "extern", dsa.Mode{ComputeExternalFlags: true})

	mainFn := dsa.FindFunction(prog, "main")
	hx, err := res.ValueHandle(mainFn, "x")
	if err != nil {
		t.Fatalf("no handle for main:x: %v", err)
	}
	if !hx.Node().IsIncomplete() {
		t.Errorf("x escapes through an externally visible function and must be incomplete")
	}

	hy, err := res.ValueHandle(mainFn, "y")
	if err != nil {
		t.Fatalf("no handle for main:y: %v", err)
	}
	if !hy.Node().IsIncomplete() || !hy.Node().IsExternal() {
		t.Errorf("y escapes through unresolvable dispatch and must be incomplete and external, flags=%s",
			hy.Node().Flags())
	}
}

// The aux variant only changes bookkeeping, so at every site its published
// callee set has the same size as the plain variant's.
func TestVariantsAgreeOnCalleeSetSizes(t *testing.T) {
	_, plain := runScenario(t, "fp3", dsa.Mode{})
	_, aux := runScenario(t, "fp3", dsa.Mode{UseAuxCalls: true})
	plainSites := plain.CallGraph.Sites()
	auxSites := aux.CallGraph.Sites()
	if len(plainSites) != len(auxSites) {
		t.Fatalf("site count differs between variants: %d vs %d", len(plainSites), len(auxSites))
	}
	for i, site := range plainSites {
		a := plain.CallGraph.Callees(site)
		b := aux.CallGraph.Callees(auxSites[i])
		if len(a) != len(b) {
			t.Errorf("site %v: callee sets differ between variants: %v vs %v", site, a, b)
		}
	}
}

func TestSharedResultGraph(t *testing.T) {
	prog, res := runScenario(t, "fp", dsa.Mode{})
	mainFn := dsa.FindFunction(prog, "main")
	fooFn := dsa.FindFunction(prog, "foo")
	if res.FunctionGraph(mainFn) != res.FunctionGraph(fooFn) {
		t.Errorf("every function must share the result graph")
	}
}
