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
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// stdSizes fixes the byte layout the analysis assumes. Offsets within nodes
// are byte offsets under this sizing.
var stdSizes = types.StdSizes{WordSize: 8, MaxAlign: 8}

// idCounter hands out node identities. All graphs that may eventually be
// spliced together share one counter so node ids stay unique and the
// first-seen merge tie-break stays deterministic.
type idCounter struct {
	next int
}

// CloneFlags select what [Graph.CloneInto] and [Graph.MergeInGraph] carry
// over from the source graph.
type CloneFlags uint8

const (
	// StripAllocas drops the stack-allocation bit on cloned nodes; an object
	// that was a local of the callee is not a local of the caller.
	StripAllocas CloneFlags = 1 << iota
	// DontCloneCallNodes leaves the source's call-site list behind.
	DontCloneCallNodes
	// DontCloneAuxCallNodes leaves the source's auxiliary call-site list behind.
	DontCloneAuxCallNodes
)

// MarkFlags select the seeds of [Graph.MarkIncompleteNodes].
type MarkFlags uint8

const (
	// MarkFormalArgs seeds marking at the formal parameters of externally
	// visible functions.
	MarkFormalArgs MarkFlags = 1 << iota
	// IgnoreGlobals excludes global nodes from the seed set.
	IgnoreGlobals
)

// DeadNodePolicy controls what [Graph.RemoveDeadNodes] keeps alive.
type DeadNodePolicy int

const (
	// RemoveUnreachableGlobals sweeps global nodes like any other node.
	RemoveUnreachableGlobals DeadNodePolicy = iota
	// KeepUnreachableGlobals roots every node carrying a global symbol.
	KeepUnreachableGlobals
)

// ClosureBinding records the free-variable bindings captured when a closure
// over Fn is created. The bindings unify with Fn's free-variable cells once
// all graphs live in one result graph.
type ClosureBinding struct {
	Fn       *ssa.Function
	Bindings []*Handle
}

// A Graph owns a set of nodes plus the maps that tie them to the program: the
// scalar map from SSA values to handles, the per-function return and vararg
// cells, and the call-site lists. Graphs for single functions are built by
// [Builder]; [Analyze] splices them into one whole-program graph.
type Graph struct {
	ids *idCounter

	// nodes is the owned node list in creation order. Forwarded nodes linger
	// here until a dead-node sweep.
	nodes []*Node

	scalars     map[ssa.Value]*Handle
	scalarOrder []ssa.Value

	returns  map[*ssa.Function]*Handle
	varargs  map[*ssa.Function]*Handle
	fnsOrder []*ssa.Function
	fns      map[*ssa.Function]bool

	calls    []*CallSite
	auxCalls []*CallSite
	closures []ClosureBinding

	globalsGraph *Graph
}

// NewGraph returns an empty graph. A nil globals argument makes the graph its
// own root (this is how the globals graph itself is created); otherwise the
// graph shares the given globals graph and its node identity space.
func NewGraph(globals *Graph) *Graph {
	g := &Graph{
		scalars: make(map[ssa.Value]*Handle),
		returns: make(map[*ssa.Function]*Handle),
		varargs: make(map[*ssa.Function]*Handle),
		fns:     make(map[*ssa.Function]bool),
	}
	if globals != nil {
		g.globalsGraph = globals
		g.ids = globals.ids
	} else {
		g.ids = &idCounter{}
	}
	return g
}

// GlobalsGraph returns the module-wide globals graph shared by this graph,
// or the graph itself if it is the globals graph.
func (g *Graph) GlobalsGraph() *Graph {
	if g.globalsGraph == nil {
		return g
	}
	return g.globalsGraph
}

func (g *Graph) newNode() *Node {
	n := &Node{id: g.ids.next, graph: g}
	g.ids.next++
	g.nodes = append(g.nodes, n)
	return n
}

func (g *Graph) newNodeOfSize(sz int64) *Node {
	n := g.newNode()
	n.size = sz
	return n
}

// Nodes returns the live representative nodes of the graph, in creation order.
func (g *Graph) Nodes() []*Node {
	var live []*Node
	for _, n := range g.nodes {
		if !n.isForwarded() {
			live = append(live, n)
		}
	}
	return live
}

// NodeForValue returns the handle bound to v, creating and binding a fresh
// empty node when v is absent. The scalar map grows monotonically.
func (g *Graph) NodeForValue(v ssa.Value) *Handle {
	if h, ok := g.scalars[v]; ok {
		return h
	}
	h := &Handle{node: g.newNode()}
	g.scalars[v] = h
	g.scalarOrder = append(g.scalarOrder, v)
	return h
}

// HasValue reports whether v is bound in the scalar map.
func (g *Graph) HasValue(v ssa.Value) bool {
	_, ok := g.scalars[v]
	return ok
}

// LookupValue returns the handle bound to v without creating one.
func (g *Graph) LookupValue(v ssa.Value) (*Handle, bool) {
	h, ok := g.scalars[v]
	return h, ok
}

// Values returns the scalar map domain in insertion order.
func (g *Graph) Values() []ssa.Value { return g.scalarOrder }

// bind attaches h to v, merging with any existing binding.
func (g *Graph) bind(v ssa.Value, h *Handle) *Handle {
	if cur, ok := g.scalars[v]; ok {
		cur.MergeWith(h)
		return cur
	}
	g.scalars[v] = h
	g.scalarOrder = append(g.scalarOrder, v)
	return h
}

// registerFunction records that this graph summarizes the body of f.
func (g *Graph) registerFunction(f *ssa.Function) {
	if !g.fns[f] {
		g.fns[f] = true
		g.fnsOrder = append(g.fnsOrder, f)
	}
}

// Functions returns the functions whose bodies this graph summarizes.
func (g *Graph) Functions() []*ssa.Function { return g.fnsOrder }

// ReturnFor returns the cell holding f's return value, creating it on demand.
func (g *Graph) ReturnFor(f *ssa.Function) *Handle {
	if h, ok := g.returns[f]; ok {
		return h
	}
	h := &Handle{node: g.newNode()}
	g.returns[f] = h
	return h
}

// returnIfPresent returns f's return cell without creating one.
func (g *Graph) returnIfPresent(f *ssa.Function) *Handle { return g.returns[f] }

// VarargFor returns the cell collecting f's excess arguments, creating it on
// demand.
func (g *Graph) VarargFor(f *ssa.Function) *Handle {
	if h, ok := g.varargs[f]; ok {
		return h
	}
	h := &Handle{node: g.newNode()}
	g.varargs[f] = h
	return h
}

func (g *Graph) varargIfPresent(f *ssa.Function) *Handle { return g.varargs[f] }

// AddCallSite appends a call record to the primary list.
func (g *Graph) AddCallSite(cs *CallSite) { g.calls = append(g.calls, cs) }

// Calls returns the primary call-site list.
func (g *Graph) Calls() []*CallSite { return g.calls }

// AuxCalls returns the auxiliary call-site list used by the variant that
// tracks still-unresolved sites separately.
func (g *Graph) AuxCalls() []*CallSite { return g.auxCalls }

func (g *Graph) setAuxCalls(calls []*CallSite) { g.auxCalls = calls }

// addClosure records the bindings of a closure creation over fn.
func (g *Graph) addClosure(fn *ssa.Function, bindings []*Handle) {
	g.closures = append(g.closures, ClosureBinding{Fn: fn, Bindings: bindings})
}

// SpliceFrom moves every node, binding and call record of other into g
// without cloning. The two graphs must share a globals graph; other must not
// be used afterwards. Values bound in both graphs are unified.
func (g *Graph) SpliceFrom(other *Graph) {
	if other == g {
		panic("dsa: graph cannot splice from itself")
	}

	for _, n := range other.nodes {
		n.graph = g
	}
	g.nodes = append(g.nodes, other.nodes...)

	for _, v := range other.scalarOrder {
		g.bind(v, other.scalars[v])
	}
	for _, f := range other.fnsOrder {
		g.registerFunction(f)
		if h, ok := other.returns[f]; ok {
			if cur, ok := g.returns[f]; ok {
				cur.MergeWith(h)
			} else {
				g.returns[f] = h
			}
		}
		if h, ok := other.varargs[f]; ok {
			if cur, ok := g.varargs[f]; ok {
				cur.MergeWith(h)
			} else {
				g.varargs[f] = h
			}
		}
	}
	g.calls = append(g.calls, other.calls...)
	g.auxCalls = append(g.auxCalls, other.auxCalls...)
	g.closures = append(g.closures, other.closures...)

	other.nodes = nil
	other.scalars = nil
	other.scalarOrder = nil
	other.returns = nil
	other.varargs = nil
	other.calls = nil
	other.auxCalls = nil
	other.closures = nil
}

// CloneInto deep-copies src's nodes and mappings into g and returns the
// mapping from src representatives to their copies. flags select whether
// call-site lists are carried over and whether the stack-allocation bit
// survives.
func (g *Graph) CloneInto(src *Graph, flags CloneFlags) map[*Node]*Handle {
	nodeMap := make(map[*Node]*Handle)
	reps := src.Nodes()
	for _, n := range reps {
		nn := g.newNode()
		nn.size = n.size
		nn.flags = n.flags
		if flags&StripAllocas != 0 {
			nn.flags &^= AllocaNode
		}
		if n.typeRec != nil {
			nn.typeRec = make(map[int64][]types.Type, len(n.typeRec))
			for off, ts := range n.typeRec {
				nn.typeRec[off] = append([]types.Type(nil), ts...)
			}
		}
		nn.globals = append([]ssa.Member(nil), n.globals...)
		nodeMap[n] = &Handle{node: nn}
	}

	mapHandle := func(h *Handle) *Handle {
		if h == nil {
			return nil
		}
		h.normalize()
		base, ok := nodeMap[h.node]
		if !ok {
			panic("dsa: clone encountered a handle outside the source graph")
		}
		return &Handle{node: base.Node(), offset: h.offset}
	}

	for _, n := range reps {
		nn := nodeMap[n].Node()
		for _, off := range n.edgeOffsets() {
			nn.mergeEdge(off, mapHandle(n.links[off]))
		}
	}

	for _, v := range src.scalarOrder {
		g.bind(v, mapHandle(src.scalars[v]))
	}
	for _, f := range src.fnsOrder {
		g.registerFunction(f)
		if h, ok := src.returns[f]; ok {
			if cur, present := g.returns[f]; present {
				cur.MergeWith(mapHandle(h))
			} else {
				g.returns[f] = mapHandle(h)
			}
		}
		if h, ok := src.varargs[f]; ok {
			if cur, present := g.varargs[f]; present {
				cur.MergeWith(mapHandle(h))
			} else {
				g.varargs[f] = mapHandle(h)
			}
		}
	}

	mapSite := func(cs *CallSite) *CallSite {
		cc := &CallSite{
			Caller:       cs.Caller,
			Instruction:  cs.Instruction,
			Callee:       cs.Callee,
			CalleeHandle: mapHandle(cs.CalleeHandle),
			ReturnHandle: mapHandle(cs.ReturnHandle),
			VarargHandle: mapHandle(cs.VarargHandle),
		}
		for _, a := range cs.Args {
			cc.Args = append(cc.Args, mapHandle(a))
		}
		return cc
	}
	if flags&DontCloneCallNodes == 0 {
		for _, cs := range src.calls {
			g.calls = append(g.calls, mapSite(cs))
		}
	}
	if flags&DontCloneAuxCallNodes == 0 {
		for _, cs := range src.auxCalls {
			g.auxCalls = append(g.auxCalls, mapSite(cs))
		}
	}
	for _, cb := range src.closures {
		mapped := ClosureBinding{Fn: cb.Fn}
		for _, b := range cb.Bindings {
			mapped.Bindings = append(mapped.Bindings, mapHandle(b))
		}
		g.closures = append(g.closures, mapped)
	}

	return nodeMap
}

// MergeInGraph resolves the call recorded at cs against callee f whose
// summary lives in calleeGraph: the callee's return, vararg and formal
// parameter cells unify with the site's return, vararg and actual argument
// handles, trailing extras on either side falling into the vararg cell. When
// calleeGraph is g itself the merge happens in place; otherwise the callee
// graph is cloned in first using flags.
func (g *Graph) MergeInGraph(cs *CallSite, f *ssa.Function, calleeGraph *Graph, flags CloneFlags) {
	var ret, vararg *Handle
	var params []*Handle

	if calleeGraph == g {
		ret = g.returnIfPresent(f)
		vararg = g.varargIfPresent(f)
		for _, p := range f.Params {
			if h, ok := g.scalars[p]; ok {
				params = append(params, h)
			}
		}
	} else {
		nodeMap := g.CloneInto(calleeGraph, flags)
		mapped := func(h *Handle) *Handle {
			if h == nil {
				return nil
			}
			h.normalize()
			if base, ok := nodeMap[h.node]; ok {
				return &Handle{node: base.Node(), offset: h.offset}
			}
			return nil
		}
		ret = mapped(calleeGraph.returnIfPresent(f))
		vararg = mapped(calleeGraph.varargIfPresent(f))
		for _, p := range f.Params {
			if h, ok := calleeGraph.scalars[p]; ok {
				params = append(params, mapped(h))
			}
		}
	}

	if cs.ReturnHandle != nil && ret != nil {
		ret.MergeWith(cs.ReturnHandle)
	}
	if cs.VarargHandle != nil && vararg != nil {
		vararg.MergeWith(cs.VarargHandle)
	}

	n := len(params)
	if len(cs.Args) < n {
		n = len(cs.Args)
	}
	for i := 0; i < n; i++ {
		params[i].MergeWith(cs.Args[i])
	}
	// Trailing extras on either side fall into the vararg cell.
	if vararg == nil {
		vararg = cs.VarargHandle
	}
	if vararg != nil {
		for i := n; i < len(params); i++ {
			vararg.MergeWith(params[i])
		}
		for i := n; i < len(cs.Args); i++ {
			vararg.MergeWith(cs.Args[i])
		}
	}
}

// rootHandles returns every handle anchoring the graph: the scalar map, the
// return and vararg cells, the call-site lists and the closure bindings.
func (g *Graph) rootHandles() []*Handle {
	var roots []*Handle
	for _, v := range g.scalarOrder {
		roots = append(roots, g.scalars[v])
	}
	for _, f := range g.fnsOrder {
		if h, ok := g.returns[f]; ok {
			roots = append(roots, h)
		}
		if h, ok := g.varargs[f]; ok {
			roots = append(roots, h)
		}
	}
	// returns/varargs may hold entries for functions never registered
	// (e.g. created directly by ReturnFor in tests); sweep the maps too.
	for f, h := range g.returns {
		if !g.fns[f] {
			roots = append(roots, h)
		}
	}
	for f, h := range g.varargs {
		if !g.fns[f] {
			roots = append(roots, h)
		}
	}
	for _, cs := range g.calls {
		roots = append(roots, cs.handles()...)
	}
	for _, cs := range g.auxCalls {
		roots = append(roots, cs.handles()...)
	}
	for _, cb := range g.closures {
		roots = append(roots, cb.Bindings...)
	}
	return roots
}

// RemoveTriviallyDeadNodes drops nodes nothing refers to and that carry no
// information worth keeping: no flag in {Global, External, Incomplete,
// Modified, Read, Unknown}, no globals and an empty type record. Forwarded
// nodes are dropped unconditionally.
func (g *Graph) RemoveTriviallyDeadNodes() {
	refs := make(map[*Node]int)
	for _, h := range g.rootHandles() {
		refs[h.Node()]++
	}
	for _, n := range g.nodes {
		if n.isForwarded() {
			continue
		}
		for _, off := range n.edgeOffsets() {
			refs[n.links[off].Node()]++
		}
	}

	const keep = GlobalNode | ExternalNode | IncompleteNode | ModifiedNode | ReadNode | UnknownNode
	var live []*Node
	for _, n := range g.nodes {
		if n.isForwarded() {
			continue
		}
		if refs[n] == 0 && n.flags&keep == 0 && len(n.globals) == 0 && len(n.typeRec) == 0 {
			continue
		}
		live = append(live, n)
	}
	g.nodes = live
}

// RemoveDeadNodes sweeps every node unreachable from the graph's roots. With
// KeepUnreachableGlobals, nodes carrying a global symbol are rooted as well.
func (g *Graph) RemoveDeadNodes(policy DeadNodePolicy) {
	reachable := make(map[*Node]bool)
	var visit func(h *Handle)
	visit = func(h *Handle) {
		n := h.Node()
		if reachable[n] {
			return
		}
		reachable[n] = true
		for _, off := range n.edgeOffsets() {
			visit(n.links[off])
		}
	}
	for _, h := range g.rootHandles() {
		visit(h)
	}
	if policy == KeepUnreachableGlobals {
		for _, n := range g.nodes {
			if !n.isForwarded() && len(n.globals) > 0 {
				visit(&Handle{node: n})
			}
		}
	}

	var live []*Node
	for _, n := range g.nodes {
		if !n.isForwarded() && reachable[n] {
			live = append(live, n)
		}
	}
	g.nodes = live
}

// MaskIncompleteMarkers clears the incomplete bit everywhere, in preparation
// for a fresh marking pass.
func (g *Graph) MaskIncompleteMarkers() {
	for _, n := range g.nodes {
		if !n.isForwarded() {
			n.flags &^= IncompleteNode
		}
	}
}

// MarkIncompleteNodes marks as incomplete every node whose summary cannot be
// closed from inside the graph: everything reachable from the formal
// parameters of externally visible functions (with MarkFormalArgs), from the
// nodes of calls to functions without a body, from still-unresolved auxiliary
// call sites, and from global nodes (unless IgnoreGlobals).
func (g *Graph) MarkIncompleteNodes(flags MarkFlags) {
	visited := make(map[*Node]bool)

	if flags&MarkFormalArgs != 0 {
		for _, f := range g.fnsOrder {
			if !externallyVisible(f) {
				continue
			}
			for _, p := range f.Params {
				if h, ok := g.scalars[p]; ok {
					markIncomplete(h, visited)
				}
			}
			for _, fv := range f.FreeVars {
				if h, ok := g.scalars[fv]; ok {
					markIncomplete(h, visited)
				}
			}
		}
	}

	for _, cs := range g.calls {
		if cs.Callee != nil && cs.Callee.Blocks == nil {
			markCallSite(cs, visited)
		}
	}
	for _, cs := range g.auxCalls {
		markCallSite(cs, visited)
	}

	// Whatever flowed through unmodeled operations can never be summarized.
	for _, n := range g.nodes {
		if !n.isForwarded() && n.flags&UnknownNode != 0 {
			markIncomplete(&Handle{node: n}, visited)
		}
	}

	if flags&IgnoreGlobals == 0 {
		for _, n := range g.nodes {
			if !n.isForwarded() && n.flags&GlobalNode != 0 {
				markIncomplete(&Handle{node: n}, visited)
			}
		}
	}
}

func markCallSite(cs *CallSite, visited map[*Node]bool) {
	if cs.ReturnHandle != nil {
		markIncomplete(cs.ReturnHandle, visited)
	}
	if cs.VarargHandle != nil {
		markIncomplete(cs.VarargHandle, visited)
	}
	for _, a := range cs.Args {
		markIncomplete(a, visited)
	}
}

// markIncomplete sets the incomplete bit on the target of h and everything
// reachable from it.
func markIncomplete(h *Handle, visited map[*Node]bool) {
	n := h.Node()
	if visited[n] {
		return
	}
	visited[n] = true
	n.flags |= IncompleteNode
	for _, off := range n.edgeOffsets() {
		markIncomplete(n.links[off], visited)
	}
}

// propagateFlag pushes the given bits from every node that carries them to
// everything reachable from that node.
func (g *Graph) propagateFlag(bits NodeFlags) {
	visited := make(map[*Node]bool)
	var spread func(n *Node)
	spread = func(n *Node) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, off := range n.edgeOffsets() {
			t := n.links[off].Node()
			t.flags |= bits
			spread(t)
		}
	}
	for _, n := range g.nodes {
		if !n.isForwarded() && n.flags&bits != 0 {
			spread(n)
		}
	}
}

// formGlobalEquivalences re-forms the invariant that a global symbol is
// classified into exactly one node of the graph: nodes sharing a symbol are
// unified.
func (g *Graph) formGlobalEquivalences() {
	leader := make(map[ssa.Member]*Handle)
	for _, n := range g.nodes {
		if n.isForwarded() {
			continue
		}
		for _, m := range append([]ssa.Member(nil), n.globals...) {
			h := &Handle{node: n}
			if cur, ok := leader[m]; ok {
				cur.MergeWith(h)
			} else {
				leader[m] = h
			}
		}
	}
}

// externallyVisible reports whether f can be entered or observed from outside
// the analyzed program: functions without a body, entry points, and exported
// functions.
func externallyVisible(f *ssa.Function) bool {
	if f.Blocks == nil {
		return true
	}
	switch f.Name() {
	case "main", "init":
		return true
	}
	return ast.IsExported(f.Name()) && f.Parent() == nil && f.Signature.Recv() == nil
}
