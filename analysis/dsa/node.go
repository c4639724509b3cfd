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
	"go/types"
	"sort"
	"strings"

	"golang.org/x/tools/go/ssa"
)

// NodeFlags is the set of property bits tracked on each node.
type NodeFlags uint16

const (
	// AllocaNode marks nodes for stack allocations.
	AllocaNode NodeFlags = 1 << iota
	// HeapNode marks nodes for heap allocations (new, make, composite literals that escape).
	HeapNode
	// GlobalNode marks nodes holding the storage of a package-level variable or function.
	GlobalNode
	// UnknownNode marks nodes whose contents come from operations the analysis does not model.
	UnknownNode
	// IncompleteNode marks nodes whose summary is not closed under all information flow,
	// e.g. values that escape through code outside the analyzed program.
	IncompleteNode
	// ExternalNode marks nodes reachable from symbols defined outside the analyzed program.
	ExternalNode
	// ModifiedNode marks nodes written through.
	ModifiedNode
	// ReadNode marks nodes read through.
	ReadNode
	// ArrayNode marks nodes accessed with a variable index; offsets wrap modulo the node size.
	ArrayNode
	// CollapsedNode marks nodes whose internal structure has been folded to offset 0.
	CollapsedNode
	// IntToPtrNode marks nodes that received a pointer fabricated from an integer.
	IntToPtrNode
	// PtrToIntNode marks nodes whose address was observed as an integer.
	PtrToIntNode
)

var flagNames = []struct {
	bit  NodeFlags
	name string
}{
	{AllocaNode, "S"},
	{HeapNode, "H"},
	{GlobalNode, "G"},
	{UnknownNode, "U"},
	{IncompleteNode, "I"},
	{ExternalNode, "E"},
	{ModifiedNode, "M"},
	{ReadNode, "R"},
	{ArrayNode, "A"},
	{CollapsedNode, "C"},
	{IntToPtrNode, "P"},
	{PtrToIntNode, "2"},
}

func (f NodeFlags) String() string {
	var b strings.Builder
	for _, fn := range flagNames {
		if f&fn.bit != 0 {
			b.WriteString(fn.name)
		}
	}
	return b.String()
}

// A Node represents an equivalence class of memory objects. A node is either
// live (forward == nil) and authoritative for its edges, type record, globals
// and flags, or forwarded into another node after a merge. Forwarded nodes
// carry no payload; every read must canonicalize through the forwarding chain
// first (see Handle).
type Node struct {
	id    int
	graph *Graph

	// size is the extent of the object in bytes. 0 means no known size:
	// either the node is empty or it has been collapsed.
	size int64

	flags NodeFlags

	// typeRec records, per byte offset, the types believed to live there.
	// It is precision metadata only; offsets need not align with type sizes.
	typeRec map[int64][]types.Type

	// links maps a byte offset to the cell the pointer stored at that offset
	// may target.
	links map[int64]*Handle

	// globals is the insertion-ordered set of package-level symbols whose
	// address is classified into this node. Functions in this list are the
	// candidate targets of indirect calls reaching the node.
	globals []ssa.Member

	// forward is nil while this node is a representative. After a merge the
	// losing node forwards into the winner with the offset delta recorded
	// here.
	forward *Handle
}

// ID returns a stable integer identity for the node, usable for deterministic
// ordering and printing.
func (n *Node) ID() int { return n.id }

// Size returns the extent of the node in bytes; 0 for empty or collapsed nodes.
func (n *Node) Size() int64 { return n.size }

// Flags returns the node's property bits.
func (n *Node) Flags() NodeFlags { return n.flags }

// Graph returns the graph that owns this node.
func (n *Node) Graph() *Graph { return n.graph }

func (n *Node) isForwarded() bool { return n.forward != nil }

// IsIncomplete reports whether the node's summary is not yet closed.
func (n *Node) IsIncomplete() bool { return n.flags&IncompleteNode != 0 }

// IsExternal reports whether the node is reachable from external symbols.
func (n *Node) IsExternal() bool { return n.flags&ExternalNode != 0 }

// IsCollapsed reports whether the node's internal structure has been folded away.
func (n *Node) IsCollapsed() bool { return n.flags&CollapsedNode != 0 }

// IsArray reports whether the node is accessed with variable indices.
func (n *Node) IsArray() bool { return n.flags&ArrayNode != 0 }

// SetFlags sets the given property bits on the node.
func (n *Node) SetFlags(f NodeFlags) { n.flags |= f }

// ClearFlags removes the given property bits from the node.
func (n *Node) ClearFlags(f NodeFlags) { n.flags &^= f }

// adjustOffset maps an arbitrary offset into the node's valid range:
// collapsed and empty nodes admit only offset 0, array nodes wrap, and other
// nodes clamp into [0, size).
func (n *Node) adjustOffset(off int64) int64 {
	if n.flags&CollapsedNode != 0 || n.size == 0 {
		return 0
	}
	if off < 0 {
		return 0
	}
	if n.flags&ArrayNode != 0 {
		return off % n.size
	}
	if off >= n.size {
		return n.size - 1
	}
	return off
}

// growSize raises the node size. Size is monotone non-decreasing while the
// node is not collapsed.
func (n *Node) growSize(sz int64) {
	if sz > n.size && !n.IsCollapsed() {
		n.size = sz
	}
}

// Globals returns the symbols classified into this node, in insertion order.
func (n *Node) Globals() []ssa.Member { return n.globals }

// Functions returns the functions classified into this node, in insertion
// order. These are the candidate targets of indirect calls through the node.
func (n *Node) Functions() []*ssa.Function {
	var fns []*ssa.Function
	for _, m := range n.globals {
		if f, ok := m.(*ssa.Function); ok {
			fns = append(fns, f)
		}
	}
	return fns
}

// addGlobal classifies the address of m into this node. Insertion order is
// preserved and duplicates are dropped.
func (n *Node) addGlobal(m ssa.Member) {
	for _, g := range n.globals {
		if g == m {
			return
		}
	}
	n.globals = append(n.globals, m)
}

func (n *Node) addGlobals(ms []ssa.Member) {
	for _, m := range ms {
		n.addGlobal(m)
	}
}

// hasGlobal reports whether m is classified into this node.
func (n *Node) hasGlobal(m ssa.Member) bool {
	for _, g := range n.globals {
		if g == m {
			return true
		}
	}
	return false
}

// mergeTypeInfo installs t at the given offset of the type record. Discovering
// a conflicting primitive type at an overlapping extent collapses the node.
func (n *Node) mergeTypeInfo(t types.Type, off int64) {
	if t == nil || n.IsCollapsed() {
		return
	}
	off = n.adjustOffset(off)
	for _, prev := range n.typeRec[off] {
		if types.Identical(prev, t) {
			return
		}
	}
	for _, prev := range n.typeRec[off] {
		if basicTypesConflict(prev, t) {
			n.foldCompletely()
			return
		}
	}
	if n.typeRec == nil {
		n.typeRec = make(map[int64][]types.Type)
	}
	n.typeRec[off] = append(n.typeRec[off], t)
}

// basicTypesConflict reports whether two basic types of different extents
// claim the same bytes. Composite types are never considered conflicting;
// their overlap is resolved through edges instead.
func basicTypesConflict(a, b types.Type) bool {
	ba, oka := a.Underlying().(*types.Basic)
	bb, okb := b.Underlying().(*types.Basic)
	if !oka || !okb {
		return false
	}
	return stdSizes.Sizeof(ba) != stdSizes.Sizeof(bb)
}

// typesAt returns the recorded types at an offset.
func (n *Node) typesAt(off int64) []types.Type {
	return n.typeRec[n.adjustOffset(off)]
}

// edgeOffsets returns the offsets carrying an out-edge, in increasing order.
func (n *Node) edgeOffsets() []int64 {
	offs := make([]int64, 0, len(n.links))
	for o := range n.links {
		offs = append(offs, o)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	return offs
}

// Link returns the out-edge at the given offset, or nil when the node does
// not point anywhere from there.
func (n *Node) Link(off int64) *Handle {
	return n.links[n.adjustOffset(off)]
}

// getOrCreateLink returns the out-edge at the given offset, installing an
// edge to a fresh empty node of the owning graph when there is none.
func (n *Node) getOrCreateLink(off int64) *Handle {
	off = n.adjustOffset(off)
	if h, ok := n.links[off]; ok {
		return h
	}
	h := &Handle{node: n.graph.newNode()}
	if n.links == nil {
		n.links = make(map[int64]*Handle)
	}
	n.links[off] = h
	return h
}

// mergeEdge records that bytes at the given offset may point at the target of
// h, merging with any existing edge.
func (n *Node) mergeEdge(off int64, h *Handle) {
	off = n.adjustOffset(off)
	if cur, ok := n.links[off]; ok {
		if cur != h {
			cur.MergeWith(h)
		}
		return
	}
	if n.links == nil {
		n.links = make(map[int64]*Handle)
	}
	n.links[off] = h
}

// foldCompletely collapses the node: the size becomes the 0 sentinel, the
// type record is dropped, and every out-edge is merged into a single edge at
// offset 0. Subsequent reads treat every offset as 0.
func (n *Node) foldCompletely() {
	if n.IsCollapsed() {
		return
	}
	n.flags |= CollapsedNode
	n.size = 0
	n.typeRec = nil

	old := n.links
	n.links = make(map[int64]*Handle)
	offs := make([]int64, 0, len(old))
	for o := range old {
		offs = append(offs, o)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })

	var folded *Handle
	for _, o := range offs {
		if folded == nil {
			folded = old[o]
		} else {
			folded.MergeWith(old[o])
		}
	}
	if folded != nil {
		// The pairwise merges above may have forwarded n itself (a self
		// edge unifies n with another node). Attach the folded edge to
		// whatever n canonicalizes to now.
		rep := &Handle{node: n}
		rep.normalize()
		rep.node.mergeEdge(rep.offset, folded)
	}
}

// forwardTo retires n as a representative: all payload is relinquished and
// reads through n chase into rep at the given offset delta.
func (n *Node) forwardTo(rep *Node, delta int64) {
	n.forward = &Handle{node: rep, offset: delta}
	n.links = nil
	n.typeRec = nil
	n.globals = nil
	n.size = 0
	n.flags = 0
}
