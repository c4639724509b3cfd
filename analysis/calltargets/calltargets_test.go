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

package calltargets_test

import (
	"bytes"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/awslabs/go-dsa/analysis/calltargets"
	"github.com/awslabs/go-dsa/analysis/dsa"
	"github.com/awslabs/go-dsa/internal/analysistest"
	"github.com/awslabs/go-dsa/internal/funcutil"
	"golang.org/x/tools/go/ssa"
)

func runFinder(t *testing.T, name string) (*ssa.Program, *calltargets.Finder) {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(filename), "../../testdata/src/dsa", name)
	prog, _ := analysistest.LoadTest(t, dir, nil)
	res, err := dsa.Analyze(prog, dsa.NewBuilder(prog, nil), dsa.Mode{ComputeExternalFlags: true}, nil)
	if err != nil {
		t.Fatalf("analysis failed: %v", err)
	}
	return prog, calltargets.Run(prog, res, nil)
}

func TestDirectCallsComplete(t *testing.T) {
	_, finder := runFinder(t, "recursion")
	if finder.Stats.Direct != 2 {
		t.Errorf("expected 2 direct calls (main->f, f->f), got %d", finder.Stats.Direct)
	}
	if finder.Stats.Indirect != 0 {
		t.Errorf("expected no indirect calls, got %d", finder.Stats.Indirect)
	}
	for _, site := range finder.Sites() {
		if site.Common().StaticCallee() != nil && !finder.IsComplete(site) {
			t.Errorf("direct site %v must be complete", site)
		}
	}
}

func TestCompleteEmpty(t *testing.T) {
	_, finder := runFinder(t, "completeempty")
	if finder.Stats.CompleteEmpty != 1 {
		t.Errorf("expected exactly one complete-empty site, got %d", finder.Stats.CompleteEmpty)
	}
	if finder.Stats.Indirect != 1 {
		t.Errorf("expected exactly one indirect site, got %d", finder.Stats.Indirect)
	}
	for _, site := range finder.Sites() {
		if site.Common().StaticCallee() == nil && !site.Common().IsInvoke() {
			if len(finder.Targets(site)) != 0 {
				t.Errorf("never-assigned function pointer must have no targets, got %v",
					finder.Targets(site))
			}
			if finder.IsComplete(site) {
				t.Errorf("a complete-empty site is counted, not marked complete")
			}
		}
	}
}

// The caller's own component is reported among the candidates of every
// indirect site in that caller once the caller's address flowed into the
// graph. Unusual, but preserved deliberately.
func TestCallerComponentIncluded(t *testing.T) {
	prog, finder := runFinder(t, "callerscc")
	loop := dsa.FindFunction(prog, "loop")
	checked := false
	for _, site := range finder.Sites() {
		if site.Common().StaticCallee() != nil || site.Parent() != loop {
			continue
		}
		checked = true
		if !funcutil.Contains(finder.Targets(site), loop) {
			t.Errorf("caller %s must appear in its own indirect candidate list, got %v",
				loop, finder.Targets(site))
		}
		if !finder.IsComplete(site) {
			t.Errorf("site with known candidates and a closed callee node must be complete")
		}
	}
	if !checked {
		t.Fatalf("no indirect site found in loop")
	}
	if finder.Stats.CompleteIndirect != 1 {
		t.Errorf("expected one complete indirect site, got %d", finder.Stats.CompleteIndirect)
	}
}

func TestPrintFlagsIncompleteSites(t *testing.T) {
	_, finder := runFinder(t, "fp")
	var buf bytes.Buffer
	finder.Print(&buf)
	out := buf.String()
	if !strings.HasPrefix(out, "[* = incomplete] CS: func list\n") {
		t.Errorf("report must start with the legend, got %q", out)
	}
	if !strings.Contains(out, "foo") {
		t.Errorf("resolved indirect call must list foo:\n%s", out)
	}
}
