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

// Package calltargets maps the targets of every call site of a program using
// the points-to analysis, and reports whether it thinks it knows all targets
// of a given call. It is essentially a utility pass to simplify later passes
// that only depend on call sites and callees to operate, such as a
// devirtualizer.
package calltargets

import (
	"fmt"
	"io"
	"sort"

	"github.com/awslabs/go-dsa/analysis/config"
	"github.com/awslabs/go-dsa/analysis/dsa"
	"github.com/awslabs/go-dsa/internal/funcutil"
	"golang.org/x/tools/go/ssa"
)

// Stats counts the call-site population by resolution outcome.
type Stats struct {
	// Direct is the number of statically resolved calls.
	Direct int
	// Indirect is the number of calls through a function value.
	Indirect int
	// CompleteIndirect counts indirect calls whose target set is certified
	// complete.
	CompleteIndirect int
	// CompleteEmpty counts indirect calls that resolve, with certainty, to
	// no targets at all; such a site is unreachable or a bug in the
	// analyzed program.
	CompleteEmpty int
}

// Finder holds the per-site resolution produced by [Run].
type Finder struct {
	// Stats summarizes the outcome counts.
	Stats Stats

	res      *dsa.Result
	sites    []ssa.CallInstruction
	targets  map[ssa.CallInstruction][]*ssa.Function
	complete map[ssa.CallInstruction]bool
}

// Run resolves every call site of the program against the analysis result.
func Run(prog *ssa.Program, res *dsa.Result, logger *config.LogGroup) *Finder {
	if logger == nil {
		logger = config.NewLogGroup(config.NewDefault())
	}
	f := &Finder{
		res:      res,
		targets:  make(map[ssa.CallInstruction][]*ssa.Function),
		complete: make(map[ssa.CallInstruction]bool),
	}
	for _, fn := range dsa.ModuleFunctions(prog) {
		for _, blk := range fn.Blocks {
			for _, instr := range blk.Instrs {
				site, ok := instr.(ssa.CallInstruction)
				if !ok {
					continue
				}
				f.resolveSite(fn, site, logger)
			}
		}
	}
	return f
}

//gocyclo:ignore
func (f *Finder) resolveSite(caller *ssa.Function, site ssa.CallInstruction, logger *config.LogGroup) {
	f.sites = append(f.sites, site)
	common := site.Common()

	if common.IsInvoke() {
		// Interface dispatch carries no function value the graph could
		// classify; the site stays unresolved.
		f.Stats.Indirect++
		return
	}

	if callee := common.StaticCallee(); callee != nil {
		f.Stats.Direct++
		f.targets[site] = []*ssa.Function{callee}
		f.complete[site] = true
		return
	}

	if isNilValue(common.Value) {
		// Calling a nil function value traps before transferring control;
		// treat it as a trivial direct call to nothing.
		f.Stats.Direct++
		f.complete[site] = true
		return
	}

	f.Stats.Indirect++
	cg := f.res.CallGraph
	gg := f.res.GlobalsGraph()

	set := make(map[*ssa.Function]bool)
	for _, callee := range cg.Callees(site) {
		// Within a strongly connected component, context insensitivity
		// makes callees indistinguishable; pull in the whole component of
		// each candidate, keeping only functions whose address flowed into
		// the globals graph.
		for _, member := range cg.SCCOf(callee) {
			if gg.HasValue(member) {
				set[member] = true
			}
		}
	}
	// The caller's own component is included as well, which captures
	// recursive indirect dispatch that points back at the caller cluster.
	for _, member := range cg.SCCOf(cg.Leader(caller)) {
		if gg.HasValue(member) {
			set[member] = true
		}
	}

	targets := make([]*ssa.Function, 0, len(set))
	for fn := range set {
		targets = append(targets, fn)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].String() < targets[j].String() })
	f.targets[site] = targets

	h, ok := f.res.Graph.LookupValue(common.Value)
	if !ok {
		logger.Debugf("no node for callee value %s in %s", common.Value.Name(), caller)
		return
	}
	n := h.Node()
	if !n.IsIncomplete() && !n.IsExternal() {
		if len(targets) > 0 {
			f.complete[site] = true
			f.Stats.CompleteIndirect++
		} else {
			f.Stats.CompleteEmpty++
			logger.Debugf("call site empty: %q in %q", common.Value.Name(), caller.Name())
		}
	}
}

// isNilValue reports whether v is statically the nil function value.
func isNilValue(v ssa.Value) bool {
	c, ok := v.(*ssa.Const)
	return ok && c.IsNil()
}

// IsComplete reports whether the target list of the site is certified to
// contain every function the site can reach at run time.
func (f *Finder) IsComplete(site ssa.CallInstruction) bool {
	return f.complete[site]
}

// Targets returns the candidate callees of the site, sorted by name.
func (f *Finder) Targets(site ssa.CallInstruction) []*ssa.Function {
	return f.targets[site]
}

// Sites returns every visited call site in visit order.
func (f *Finder) Sites() []ssa.CallInstruction { return f.sites }

// Print writes the per-site report for the indirect calls of the program.
// Incomplete sites are flagged with a leading asterisk.
func (f *Finder) Print(w io.Writer) {
	fmt.Fprintf(w, "[* = incomplete] CS: func list\n")
	for _, site := range f.sites {
		common := site.Common()
		if common.IsInvoke() || common.StaticCallee() != nil || isNilValue(common.Value) {
			continue
		}
		caller := site.Parent()
		if !f.IsComplete(site) {
			fmt.Fprintf(w, "* ")
		}
		fmt.Fprintf(w, "%s %s %s :", site, caller.Name(), common.Value.Name())
		funcutil.Iter(f.Targets(site), func(t *ssa.Function) {
			fmt.Fprintf(w, " %s", t.Name())
		})
		fmt.Fprintf(w, "\n")
	}
}
