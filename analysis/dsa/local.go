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
	"go/token"
	"go/types"
	"sort"

	"github.com/awslabs/go-dsa/analysis/config"
	"golang.org/x/tools/go/ssa"
)

// A GraphSource supplies the per-function graphs the whole-program pass
// splices together, plus the module-wide globals graph and the predicate
// deciding which functions a call site may legally reach.
type GraphSource interface {
	// FunctionGraph returns the local graph summarizing f. Ownership
	// transfers to the caller; the source must hand out each graph once.
	FunctionGraph(f *ssa.Function) *Graph

	// GlobalsGraph returns the shared module-wide globals graph. It is
	// cloned by consumers, never mutated.
	GlobalsGraph() *Graph

	// FunctionIsCallable reports whether f is ABI-compatible with the given
	// call site.
	FunctionIsCallable(site ssa.CallInstruction, f *ssa.Function) bool
}

// Builder is the default GraphSource. It derives a local graph per function
// by a single pass over the function's SSA instructions, recording
// allocations, loads, stores, address arithmetic and call sites, without any
// interprocedural reasoning.
type Builder struct {
	prog    *ssa.Program
	log     *config.LogGroup
	globals *Graph
	built   map[*ssa.Function]bool
}

// NewBuilder returns a Builder for the program.
func NewBuilder(prog *ssa.Program, logger *config.LogGroup) *Builder {
	if logger == nil {
		logger = config.NewLogGroup(config.NewDefault())
	}
	return &Builder{
		prog:    prog,
		log:     logger,
		globals: NewGraph(nil),
		built:   make(map[*ssa.Function]bool),
	}
}

// GlobalsGraph returns the module-wide globals graph. Symbols are registered
// into it as function graphs reference them, so it reflects the part of the
// module whose addresses actually flow somewhere.
func (b *Builder) GlobalsGraph() *Graph { return b.globals }

// FunctionGraph builds and returns the local graph for f.
func (b *Builder) FunctionGraph(f *ssa.Function) *Graph {
	if b.built[f] {
		b.log.Warnf("local graph for %s requested twice", f)
	}
	b.built[f] = true

	g := NewGraph(b.globals)
	g.registerFunction(f)
	fb := &funcBuilder{b: b, g: g, fn: f}

	for _, p := range f.Params {
		fb.paramCell(p)
	}
	for _, fv := range f.FreeVars {
		fb.paramCell(fv)
	}
	for _, blk := range f.Blocks {
		for _, instr := range blk.Instrs {
			fb.instruction(instr)
		}
	}
	return g
}

// FunctionIsCallable reports whether f could be the target of the given call
// site: the signatures must agree on arity, variadicity, result count, and on
// the pointer-likeness of each parameter.
func (b *Builder) FunctionIsCallable(site ssa.CallInstruction, f *ssa.Function) bool {
	common := site.Common()
	sig, ok := common.Value.Type().Underlying().(*types.Signature)
	if !ok {
		return false
	}
	fsig := f.Signature
	if fsig.Variadic() != sig.Variadic() ||
		fsig.Params().Len() != sig.Params().Len() ||
		fsig.Results().Len() != sig.Results().Len() {
		return false
	}
	for i := 0; i < sig.Params().Len(); i++ {
		if pointerLike(sig.Params().At(i).Type()) != pointerLike(fsig.Params().At(i).Type()) {
			return false
		}
	}
	return true
}

// registerGlobal gives m a node in the globals graph. Only symbols actually
// referenced as values end up there, which is what the call-target finder
// keys candidate membership on.
func (b *Builder) registerGlobal(m ssa.Member) {
	v, ok := m.(ssa.Value)
	if !ok || b.globals.HasValue(v) {
		return
	}
	h := b.globals.NodeForValue(v)
	n := h.Node()
	n.flags |= GlobalNode
	n.addGlobal(m)
	if gl, isVar := m.(*ssa.Global); isVar {
		n.growSize(sizeOf(gl.Type().(*types.Pointer).Elem()))
		n.mergeTypeInfo(gl.Type().(*types.Pointer).Elem(), 0)
		if gl.Pkg != nil && gl.Pkg.Pkg != nil && !b.inProgram(gl.Pkg) {
			n.flags |= ExternalNode
		}
	}
}

func (b *Builder) inProgram(pkg *ssa.Package) bool {
	for _, p := range b.prog.AllPackages() {
		if p == pkg {
			return true
		}
	}
	return false
}

// funcBuilder accumulates the graph of a single function.
type funcBuilder struct {
	b  *Builder
	g  *Graph
	fn *ssa.Function
}

// paramCell binds a formal parameter or free variable to a fresh pointee
// node sized after its referent.
func (fb *funcBuilder) paramCell(p ssa.Value) {
	if !pointerLike(p.Type()) {
		return
	}
	h := fb.g.NodeForValue(p)
	n := h.Node()
	if pt, ok := p.Type().Underlying().(*types.Pointer); ok {
		n.growSize(sizeOf(pt.Elem()))
		n.mergeTypeInfo(pt.Elem(), 0)
	}
}

// valueCell resolves an operand to the handle of the object it refers to,
// creating nodes for functions, globals and constants on first sight.
func (fb *funcBuilder) valueCell(v ssa.Value) *Handle {
	g := fb.g
	switch v := v.(type) {
	case *ssa.Function:
		h := g.NodeForValue(v)
		n := h.Node()
		n.flags |= GlobalNode
		n.addGlobal(v)
		fb.b.registerGlobal(v)
		return h
	case *ssa.Global:
		h := g.NodeForValue(v)
		n := h.Node()
		n.flags |= GlobalNode
		n.addGlobal(v)
		n.growSize(sizeOf(v.Type().(*types.Pointer).Elem()))
		n.mergeTypeInfo(v.Type().(*types.Pointer).Elem(), 0)
		fb.b.registerGlobal(v)
		return h
	case *ssa.Const:
		// nil constants point at nothing; other constants cannot carry
		// a pointer the analysis tracks.
		return g.NodeForValue(v)
	default:
		return g.NodeForValue(v)
	}
}

//gocyclo:ignore
func (fb *funcBuilder) instruction(instr ssa.Instruction) {
	g := fb.g
	switch v := instr.(type) {
	case *ssa.Alloc:
		h := g.NodeForValue(v)
		n := h.Node()
		elem := v.Type().(*types.Pointer).Elem()
		n.growSize(sizeOf(elem))
		n.mergeTypeInfo(elem, 0)
		if v.Heap {
			n.flags |= HeapNode
		} else {
			n.flags |= AllocaNode
		}

	case *ssa.MakeSlice:
		h := g.NodeForValue(v)
		n := h.Node()
		elem := v.Type().Underlying().(*types.Slice).Elem()
		n.growSize(sizeOf(elem))
		n.mergeTypeInfo(elem, 0)
		n.flags |= HeapNode | ArrayNode

	case *ssa.MakeMap:
		h := g.NodeForValue(v)
		n := h.Node()
		n.flags |= HeapNode | ArrayNode
		n.mergeTypeInfo(v.Type(), 0)

	case *ssa.MakeChan:
		h := g.NodeForValue(v)
		n := h.Node()
		n.flags |= HeapNode
		n.mergeTypeInfo(v.Type(), 0)

	case *ssa.MakeClosure:
		h := g.NodeForValue(v)
		n := h.Node()
		fn := v.Fn.(*ssa.Function)
		n.flags |= HeapNode
		n.addGlobal(fn)
		fb.b.registerGlobal(fn)
		var bindings []*Handle
		for _, bv := range v.Bindings {
			if pointerLike(bv.Type()) {
				bindings = append(bindings, fb.valueCell(bv))
			} else {
				bindings = append(bindings, nil)
			}
		}
		g.addClosure(fn, bindings)

	case *ssa.MakeInterface:
		if pointerLike(v.X.Type()) {
			g.bind(v, fb.valueCell(v.X).copy())
		} else {
			h := g.NodeForValue(v)
			h.Node().flags |= HeapNode
		}

	case *ssa.ChangeInterface:
		g.bind(v, fb.valueCell(v.X).copy())

	case *ssa.ChangeType:
		if pointerLike(v.Type()) {
			g.bind(v, fb.valueCell(v.X).copy())
		}

	case *ssa.SliceToArrayPointer:
		g.bind(v, fb.valueCell(v.X).copy())

	case *ssa.Convert:
		fb.convert(v)

	case *ssa.TypeAssert:
		// With CommaOk the result is a tuple; either way the asserted
		// value is the operand's referent.
		g.bind(v, fb.valueCell(v.X).copy())

	case *ssa.Slice:
		g.bind(v, fb.valueCell(v.X).copy())

	case *ssa.FieldAddr:
		base := fb.valueCell(v.X)
		st := v.X.Type().Underlying().(*types.Pointer).Elem().Underlying().(*types.Struct)
		bn := base.Node()
		bn.growSize(sizeOf(v.X.Type().Underlying().(*types.Pointer).Elem()))
		off := fieldOffset(st, v.Field)
		bn.mergeTypeInfo(st.Field(v.Field).Type(), base.Offset()+off)
		g.bind(v, base.atOffset(off))

	case *ssa.IndexAddr:
		base := fb.valueCell(v.X)
		bn := base.Node()
		bn.flags |= ArrayNode
		g.bind(v, base.copy())

	case *ssa.Field, *ssa.Index:
		// Aggregate values are not in the scalar map; a pointer extracted
		// from one is unknown to the local pass.
		if val := instr.(ssa.Value); pointerLike(val.Type()) {
			h := g.NodeForValue(val)
			h.Node().flags |= UnknownNode
		}

	case *ssa.UnOp:
		fb.unop(v)

	case *ssa.Store:
		addr := fb.valueCell(v.Addr)
		n := addr.Node()
		n.flags |= ModifiedNode
		n.mergeTypeInfo(v.Val.Type(), addr.Offset())
		if pointerLike(v.Val.Type()) {
			n.getOrCreateLink(addr.Offset()).MergeWith(fb.valueCell(v.Val))
		}

	case *ssa.MapUpdate:
		m := fb.valueCell(v.Map)
		n := m.Node()
		n.flags |= ModifiedNode
		if pointerLike(v.Value.Type()) {
			n.getOrCreateLink(0).MergeWith(fb.valueCell(v.Value))
		}
		if pointerLike(v.Key.Type()) {
			n.getOrCreateLink(0).MergeWith(fb.valueCell(v.Key))
		}

	case *ssa.Lookup:
		m := fb.valueCell(v.X)
		n := m.Node()
		n.flags |= ReadNode
		if pointerLike(v.Type()) {
			g.bind(v, n.getOrCreateLink(0).copy())
		}

	case *ssa.Send:
		ch := fb.valueCell(v.Chan)
		n := ch.Node()
		n.flags |= ModifiedNode
		if pointerLike(v.X.Type()) {
			n.getOrCreateLink(0).MergeWith(fb.valueCell(v.X))
		}

	case *ssa.Select:
		fb.selectStates(v)

	case *ssa.Range:
		g.bind(v, fb.valueCell(v.X).copy())

	case *ssa.Next:
		it := fb.valueCell(v.Iter)
		n := it.Node()
		n.flags |= ReadNode
		if pointerLike(v.Type()) {
			g.bind(v, n.getOrCreateLink(0).copy())
		}

	case *ssa.Extract:
		if pointerLike(v.Type()) && pointerLike(v.Tuple.Type()) {
			g.bind(v, fb.valueCell(v.Tuple).copy())
		} else if pointerLike(v.Type()) {
			h := g.NodeForValue(v)
			h.Node().flags |= UnknownNode
		}

	case *ssa.Phi:
		h := g.NodeForValue(v)
		for _, e := range v.Edges {
			if pointerLike(e.Type()) {
				h.MergeWith(fb.valueCell(e))
			}
		}

	case *ssa.Return:
		for _, r := range v.Results {
			if pointerLike(r.Type()) {
				g.ReturnFor(fb.fn).MergeWith(fb.valueCell(r))
			}
		}

	case *ssa.Panic:
		if pointerLike(v.X.Type()) {
			fb.valueCell(v.X).Node().flags |= UnknownNode
		}

	case *ssa.Call, *ssa.Go, *ssa.Defer:
		fb.call(instr.(ssa.CallInstruction))
	}
}

// unop handles loads and channel receives; other unary operators cannot
// produce tracked pointers.
func (fb *funcBuilder) unop(v *ssa.UnOp) {
	g := fb.g
	switch v.Op {
	case token.MUL:
		addr := fb.valueCell(v.X)
		n := addr.Node()
		n.flags |= ReadNode
		n.mergeTypeInfo(v.Type(), addr.Offset())
		if pointerLike(v.Type()) {
			g.bind(v, n.getOrCreateLink(addr.Offset()).copy())
		}
	case token.ARROW:
		ch := fb.valueCell(v.X)
		n := ch.Node()
		n.flags |= ReadNode
		if pointerLike(v.Type()) {
			g.bind(v, n.getOrCreateLink(0).copy())
		}
	}
}

// convert tracks pointers laundered through integers; other conversions
// either preserve the referent or cannot carry one.
func (fb *funcBuilder) convert(v *ssa.Convert) {
	g := fb.g
	srcPtr := pointerLike(v.X.Type())
	dstPtr := pointerLike(v.Type())
	switch {
	case srcPtr && dstPtr:
		g.bind(v, fb.valueCell(v.X).copy())
	case srcPtr && !dstPtr:
		fb.valueCell(v.X).Node().flags |= PtrToIntNode
	case !srcPtr && dstPtr:
		h := g.NodeForValue(v)
		h.Node().flags |= IntToPtrNode | UnknownNode | IncompleteNode
	}
}

func (fb *funcBuilder) selectStates(v *ssa.Select) {
	g := fb.g
	recv := g.NodeForValue(v)
	for _, st := range v.States {
		ch := fb.valueCell(st.Chan)
		n := ch.Node()
		if st.Dir == types.SendOnly {
			n.flags |= ModifiedNode
			if st.Send != nil && pointerLike(st.Send.Type()) {
				n.getOrCreateLink(0).MergeWith(fb.valueCell(st.Send))
			}
		} else {
			n.flags |= ReadNode
			recv.MergeWith(n.getOrCreateLink(0))
		}
	}
}

// call records a call site. Builtins are modeled directly; interface
// dispatch has no function-pointer cell to resolve against and escapes to
// unknown code.
func (fb *funcBuilder) call(instr ssa.CallInstruction) {
	g := fb.g
	common := instr.Common()

	if common.IsInvoke() {
		fb.b.log.Debugf("interface dispatch at %s in %s treated as unknown code", instr, fb.fn)
		if h := fb.escapeCell(common.Value); h != nil {
			h.Node().flags |= ExternalNode | IncompleteNode | UnknownNode
		}
		for _, a := range common.Args {
			if pointerLike(a.Type()) {
				h := fb.valueCell(a)
				h.Node().flags |= ExternalNode | IncompleteNode | UnknownNode
			}
		}
		if v, ok := instr.(*ssa.Call); ok && pointerLike(v.Type()) {
			h := g.NodeForValue(v)
			h.Node().flags |= ExternalNode | IncompleteNode | UnknownNode
		}
		return
	}

	if blt, ok := common.Value.(*ssa.Builtin); ok {
		fb.builtin(instr, blt)
		return
	}

	cs := &CallSite{Caller: fb.fn, Instruction: instr}
	if callee := common.StaticCallee(); callee != nil {
		cs.Callee = callee
	} else {
		cs.CalleeHandle = fb.valueCell(common.Value)
	}
	if v, ok := instr.(*ssa.Call); ok && pointerLike(v.Type()) {
		cs.ReturnHandle = g.NodeForValue(v)
	}
	for _, a := range common.Args {
		if pointerLike(a.Type()) {
			cs.Args = append(cs.Args, fb.valueCell(a))
		}
	}
	if sig := common.Signature(); sig != nil && sig.Variadic() {
		cs.VarargHandle = g.newHandle()
	}

	if cs.Callee != nil && cs.Callee.Blocks == nil {
		// The callee's body is unavailable; everything it touches escapes.
		for _, h := range cs.handles() {
			h.Node().flags |= ExternalNode | IncompleteNode
		}
	}

	g.AddCallSite(cs)
}

func (fb *funcBuilder) escapeCell(v ssa.Value) *Handle {
	if !pointerLike(v.Type()) {
		return nil
	}
	return fb.valueCell(v)
}

func (fb *funcBuilder) builtin(instr ssa.CallInstruction, blt *ssa.Builtin) {
	g := fb.g
	common := instr.Common()
	v, _ := instr.(*ssa.Call)
	switch blt.Name() {
	case "append":
		if v == nil {
			return
		}
		res := g.NodeForValue(v)
		for _, a := range common.Args {
			if pointerLike(a.Type()) {
				res.MergeWith(fb.valueCell(a))
			}
		}
	case "copy":
		if len(common.Args) == 2 && pointerLike(common.Args[1].Type()) {
			fb.valueCell(common.Args[0]).MergeWith(fb.valueCell(common.Args[1]))
		}
	case "recover":
		if v != nil && pointerLike(v.Type()) {
			h := g.NodeForValue(v)
			h.Node().flags |= UnknownNode | IncompleteNode
		}
	case "ssa:wrapnilchk":
		if v != nil {
			g.bind(v, fb.valueCell(common.Args[0]).copy())
		}
	case "print", "println":
		for _, a := range common.Args {
			if pointerLike(a.Type()) {
				fb.valueCell(a).Node().flags |= ReadNode
			}
		}
	}
}

// newHandle returns a handle to a fresh empty node of the graph.
func (g *Graph) newHandle() *Handle {
	return &Handle{node: g.newNode()}
}

// ModuleFunctions returns every function of the program that has a body, in
// a deterministic order: packages sorted by path, members sorted by name,
// anonymous functions after their parent.
func ModuleFunctions(prog *ssa.Program) []*ssa.Function {
	pkgs := prog.AllPackages()
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Pkg.Path() < pkgs[j].Pkg.Path() })
	var fns []*ssa.Function
	var addWithAnons func(f *ssa.Function)
	addWithAnons = func(f *ssa.Function) {
		if f.Blocks == nil {
			return
		}
		fns = append(fns, f)
		for _, anon := range f.AnonFuncs {
			addWithAnons(anon)
		}
	}
	for _, pkg := range pkgs {
		var names []string
		for name := range pkg.Members {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			switch m := pkg.Members[name].(type) {
			case *ssa.Function:
				addWithAnons(m)
			case *ssa.Type:
				mset := prog.MethodSets.MethodSet(m.Type())
				for i := 0; i < mset.Len(); i++ {
					if f := prog.MethodValue(mset.At(i)); f != nil && !contains(fns, f) {
						addWithAnons(f)
					}
				}
				pset := prog.MethodSets.MethodSet(types.NewPointer(m.Type()))
				for i := 0; i < pset.Len(); i++ {
					if f := prog.MethodValue(pset.At(i)); f != nil && f.Blocks != nil && !contains(fns, f) {
						addWithAnons(f)
					}
				}
			}
		}
	}
	return fns
}

func contains(fns []*ssa.Function, f *ssa.Function) bool {
	for _, x := range fns {
		if x == f {
			return true
		}
	}
	return false
}

func sizeOf(t types.Type) int64 {
	return stdSizes.Sizeof(t)
}

func fieldOffset(st *types.Struct, field int) int64 {
	if st.NumFields() == 0 {
		return 0
	}
	fields := make([]*types.Var, st.NumFields())
	for i := range fields {
		fields[i] = st.Field(i)
	}
	return stdSizes.Offsetsof(fields)[field]
}

// pointerLike reports whether values of type t can carry a tracked pointer.
func pointerLike(t types.Type) bool {
	switch u := t.Underlying().(type) {
	case *types.Pointer, *types.Slice, *types.Map, *types.Chan, *types.Signature, *types.Interface:
		return true
	case *types.Basic:
		return u.Kind() == types.UnsafePointer
	case *types.Tuple:
		for i := 0; i < u.Len(); i++ {
			if pointerLike(u.At(i).Type()) {
				return true
			}
		}
	}
	return false
}
