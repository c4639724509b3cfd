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

package dsa

import (
	"sort"

	"github.com/awslabs/go-dsa/internal/graphutil"
	"golang.org/x/tools/go/ssa"
)

// CallGraph is the call structure refined by the analysis: per call site the
// candidate callees, a completeness verdict, and the strongly connected
// component structure over the program's functions.
type CallGraph struct {
	fns      []*ssa.Function
	callees  map[ssa.CallInstruction][]*ssa.Function
	complete map[ssa.CallInstruction]bool
	sites    []ssa.CallInstruction

	leader map[*ssa.Function]*ssa.Function
	sccOf  map[*ssa.Function][]*ssa.Function
	roots  []*ssa.Function
}

// newCallGraph assembles the output call graph from the resolved callee sets
// and computes its SCCs.
func newCallGraph(fns []*ssa.Function, g *Graph, callees map[*CallSite][]*ssa.Function) *CallGraph {
	cg := &CallGraph{
		fns:      fns,
		callees:  make(map[ssa.CallInstruction][]*ssa.Function),
		complete: make(map[ssa.CallInstruction]bool),
		leader:   make(map[*ssa.Function]*ssa.Function),
		sccOf:    make(map[*ssa.Function][]*ssa.Function),
	}

	succs := make(map[*ssa.Function][]*ssa.Function)
	called := make(map[*ssa.Function]bool)
	for _, cs := range g.Calls() {
		targets := callees[cs]
		cg.callees[cs.Instruction] = targets
		cg.sites = append(cg.sites, cs.Instruction)
		if cs.IsDirect() {
			cg.complete[cs.Instruction] = true
		} else {
			n := cs.CalleeHandle.Node()
			cg.complete[cs.Instruction] = !n.IsIncomplete() && !n.IsExternal()
		}
		for _, t := range targets {
			succs[cs.Caller] = append(succs[cs.Caller], t)
			called[t] = true
		}
	}
	for f, ts := range succs {
		sort.Slice(ts, func(i, j int) bool { return ts[i].String() < ts[j].String() })
		succs[f] = dedupFunctions(ts)
	}

	sccs := graphutil.StronglyConnectedComponents(fns, func(f *ssa.Function) []*ssa.Function {
		return succs[f]
	})
	for _, scc := range sccs {
		members := append([]*ssa.Function(nil), scc...)
		sort.Slice(members, func(i, j int) bool { return members[i].String() < members[j].String() })
		lead := members[0]
		for _, f := range scc {
			cg.leader[f] = lead
			cg.sccOf[f] = members
		}
	}

	for _, f := range fns {
		if !called[f] {
			cg.roots = append(cg.roots, f)
		}
	}
	return cg
}

func dedupFunctions(sorted []*ssa.Function) []*ssa.Function {
	out := sorted[:0]
	for i, f := range sorted {
		if i == 0 || sorted[i-1] != f {
			out = append(out, f)
		}
	}
	return out
}

// Functions returns every analyzed function, in the driver's deterministic
// order.
func (cg *CallGraph) Functions() []*ssa.Function { return cg.fns }

// Sites returns every recorded call site in deterministic order.
func (cg *CallGraph) Sites() []ssa.CallInstruction { return cg.sites }

// Callees returns the candidate callees of a site.
func (cg *CallGraph) Callees(site ssa.CallInstruction) []*ssa.Function {
	return cg.callees[site]
}

// IsComplete reports whether the candidate set of the site is certified to
// contain every real callee.
func (cg *CallGraph) IsComplete(site ssa.CallInstruction) bool {
	return cg.complete[site]
}

// SCCOf returns the members of f's strongly connected component, sorted.
// Functions outside the analyzed set form singleton components.
func (cg *CallGraph) SCCOf(f *ssa.Function) []*ssa.Function {
	if scc, ok := cg.sccOf[f]; ok {
		return scc
	}
	return []*ssa.Function{f}
}

// Leader returns the canonical representative of f's component.
func (cg *CallGraph) Leader(f *ssa.Function) *ssa.Function {
	if l, ok := cg.leader[f]; ok {
		return l
	}
	return f
}

// Roots returns the functions no analyzed call site targets.
func (cg *CallGraph) Roots() []*ssa.Function { return cg.roots }
