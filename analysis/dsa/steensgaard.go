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
	"fmt"
	"sort"

	"github.com/awslabs/go-dsa/analysis/config"
	"golang.org/x/tools/go/ssa"
)

// Mode selects between the two historical flavors of the whole-program
// driver. The analyzed semantics are identical; the flavors differ in
// auxiliary bookkeeping and flag finalization.
type Mode struct {
	// UseAuxCalls tracks still-unresolved call sites on a separate list;
	// after the fixpoint, sites that resolved completely stop seeding the
	// incompleteness marking.
	UseAuxCalls bool

	// StripAllocaOnClone drops the stack-allocation bit when callee graphs
	// are cloned rather than merged in place.
	StripAllocaOnClone bool

	// ComputeExternalFlags propagates the external bit transitively after
	// the fixpoint.
	ComputeExternalFlags bool
}

// Result is the published outcome of the whole-program analysis. The graph
// is shared: every function of the program maps to the same graph.
type Result struct {
	// Graph is the single points-to graph covering the whole program.
	Graph *Graph

	// Globals is the finalized globals graph the result was anchored to.
	Globals *Graph

	// CallGraph maps every recorded call site to its candidate callees.
	CallGraph *CallGraph

	mode Mode
}

// FunctionGraph returns the points-to graph for f. All functions share the
// result graph.
func (r *Result) FunctionGraph(_ *ssa.Function) *Graph { return r.Graph }

// GlobalsGraph returns the finalized globals graph.
func (r *Result) GlobalsGraph() *Graph { return r.Globals }

// ReleaseMemory drops the result graph and every cache. Queries after the
// call are undefined.
func (r *Result) ReleaseMemory() {
	r.Graph = nil
	r.Globals = nil
	r.CallGraph = nil
}

// Analyze computes the context-insensitive points-to graph of the program:
// every local graph the source delivers is spliced into one result graph, and
// call sites are resolved to a fixpoint, unifying the formals and return of
// every candidate callee with the actuals and return of each site.
func Analyze(prog *ssa.Program, source GraphSource, mode Mode, logger *config.LogGroup) (*Result, error) {
	if logger == nil {
		logger = config.NewLogGroup(config.NewDefault())
	}

	fns := ModuleFunctions(prog)
	logger.Debugf("splicing %d function graphs", len(fns))

	// Every local graph is requested before the globals graph is copied: the
	// source registers symbols into its globals graph while building them.
	locals := make([]*Graph, 0, len(fns))
	for _, f := range fns {
		locals = append(locals, source.FunctionGraph(f))
	}

	// The result graph is anchored to a private copy of the globals graph so
	// the source's graph stays untouched.
	gg := source.GlobalsGraph()
	globals := NewGraph(nil)
	globals.ids = gg.GlobalsGraph().ids
	globals.CloneInto(gg, DontCloneCallNodes|DontCloneAuxCallNodes)

	result := NewGraph(globals)
	for _, lg := range locals {
		result.SpliceFrom(lg)
	}
	resolveClosureBindings(result)

	result.RemoveTriviallyDeadNodes()
	result.MaskIncompleteMarkers()
	result.MarkIncompleteNodes(MarkFormalArgs | IgnoreGlobals)

	if mode.UseAuxCalls {
		result.setAuxCalls(append([]*CallSite(nil), result.Calls()...))
	}

	// Merging can add candidates to a call site, which can in turn enable
	// more merging; iterate until no callee set changes. Termination follows
	// from the monotone growth of each set over a finite function universe.
	callees := make(map[*CallSite][]*ssa.Function)
	cloneFlags := DontCloneCallNodes | DontCloneAuxCallNodes
	if mode.StripAllocaOnClone {
		cloneFlags |= StripAllocas
	}
	iterations := 0
	for rebuildCalleeSets(result, source, callees) {
		iterations++
		if iterations > len(fns)+1 {
			return nil, fmt.Errorf("call resolution did not converge after %d iterations", iterations)
		}
		for _, cs := range result.Calls() {
			for _, f := range callees[cs] {
				if f.Blocks == nil {
					continue
				}
				result.MergeInGraph(cs, f, result, cloneFlags)
			}
		}
	}
	logger.Debugf("call resolution converged after %d iterations", iterations)

	// Returns of internally linked functions are fully accounted for by the
	// merging above; only externally visible functions keep theirs.
	for _, f := range result.Functions() {
		if !externallyVisible(f) {
			delete(result.returns, f)
		}
	}

	if mode.UseAuxCalls {
		pruneResolvedAuxCalls(result, callees)
	}
	result.MaskIncompleteMarkers()
	result.MarkIncompleteNodes(MarkFormalArgs | IgnoreGlobals)

	// Finalize the globals graph and clone its nodes back in, re-forming the
	// one-node-per-global invariant across both graphs.
	globals.RemoveTriviallyDeadNodes()
	globals.MaskIncompleteMarkers()
	globals.MarkIncompleteNodes(IgnoreGlobals)
	globals.formGlobalEquivalences()
	result.CloneInto(globals, DontCloneCallNodes|DontCloneAuxCallNodes)
	result.formGlobalEquivalences()

	if mode.ComputeExternalFlags {
		result.propagateFlag(ExternalNode)
	}
	result.propagateFlag(IntToPtrNode)
	result.propagateFlag(PtrToIntNode)

	cg := newCallGraph(fns, result, callees)

	result.RemoveDeadNodes(KeepUnreachableGlobals)

	return &Result{Graph: result, Globals: globals, CallGraph: cg, mode: mode}, nil
}

// rebuildCalleeSets recomputes the candidate callees of every call site and
// reports whether any set changed. Sets only ever grow.
func rebuildCalleeSets(g *Graph, source GraphSource, callees map[*CallSite][]*ssa.Function) bool {
	changed := false
	for _, cs := range g.Calls() {
		next := calleesOf(cs, source)
		if !sameFunctions(callees[cs], next) {
			callees[cs] = next
			changed = true
		}
	}
	return changed
}

// calleesOf enumerates the candidate targets of one site: the static callee
// for direct calls, otherwise the functions classified into the callee node,
// filtered by signature compatibility with the site.
func calleesOf(cs *CallSite, source GraphSource) []*ssa.Function {
	if cs.IsDirect() {
		if cs.Callee.Blocks == nil {
			return nil
		}
		return []*ssa.Function{cs.Callee}
	}
	var out []*ssa.Function
	for _, f := range cs.CalleeHandle.Node().Functions() {
		if source.FunctionIsCallable(cs.Instruction, f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func sameFunctions(a, b []*ssa.Function) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// pruneResolvedAuxCalls drops from the auxiliary list every direct site and
// every site whose callee node is complete, so they no longer seed the
// incompleteness marking.
func pruneResolvedAuxCalls(g *Graph, callees map[*CallSite][]*ssa.Function) {
	var remaining []*CallSite
	for _, cs := range g.AuxCalls() {
		if cs.IsDirect() {
			continue
		}
		n := cs.CalleeHandle.Node()
		if !n.IsIncomplete() && !n.IsExternal() && len(callees[cs]) > 0 {
			continue
		}
		remaining = append(remaining, cs)
	}
	g.setAuxCalls(remaining)
}

// resolveClosureBindings unifies the values captured at each closure creation
// with the closed-over function's free-variable cells. This can only happen
// once creator and closure body live in the same graph.
func resolveClosureBindings(g *Graph) {
	for _, cb := range g.closures {
		for i, b := range cb.Bindings {
			if b == nil || i >= len(cb.Fn.FreeVars) {
				continue
			}
			fv := cb.Fn.FreeVars[i]
			if !pointerLike(fv.Type()) {
				continue
			}
			g.NodeForValue(fv).MergeWith(b)
		}
	}
	g.closures = nil
}
