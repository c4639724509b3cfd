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
)

// A Handle is a (node, offset) reference, the analysis's universal way of
// pointing into a graph. Stored handles may be stale: the node they carry may
// have been forwarded by a merge. Reads normalize the handle first, chasing
// and shortening the forwarding chain Tarjan-style and rewriting the handle
// in place, so normalization is idempotent and amortized cheap.
type Handle struct {
	node   *Node
	offset int64
}

// Node returns the representative node of the handle, normalizing it first.
func (h *Handle) Node() *Node {
	h.normalize()
	return h.node
}

// Offset returns the offset of the handle within its representative node,
// normalizing the handle first.
func (h *Handle) Offset() int64 {
	h.normalize()
	return h.offset
}

func (h *Handle) String() string {
	h.normalize()
	return fmt.Sprintf("<n%d+%d>", h.node.id, h.offset)
}

func (h *Handle) copy() *Handle {
	h.normalize()
	return &Handle{node: h.node, offset: h.offset}
}

// atOffset returns a handle displaced by delta bytes within the same node.
func (h *Handle) atOffset(delta int64) *Handle {
	h.normalize()
	return &Handle{node: h.node, offset: h.node.adjustOffset(h.offset + delta)}
}

// normalize rewrites h so that h.node is a representative (forward == nil)
// and h.offset is within the representative's valid range. The forwarding
// chain is shortened as a side effect.
func (h *Handle) normalize() {
	n := h.node
	if n == nil {
		return
	}
	if n.forward == nil {
		h.offset = n.adjustOffset(h.offset)
		return
	}
	n.forward.normalize()
	h.offset += n.forward.offset
	h.node = n.forward.node
	h.offset = h.node.adjustOffset(h.offset)
}

// SameNode reports whether two handles canonicalize into the same node.
func SameNode(a, b *Handle) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Node() == b.Node()
}

// MergeWith unifies the memory referenced by h and other. After the call both
// handles normalize to the same (node, offset) and every fact known about
// either input is recorded on the representative. Merge is total: it cannot
// fail, and merging already-unified handles is a no-op.
func (h *Handle) MergeWith(other *Handle) {
	if h == nil || other == nil || h == other || h.node == nil || other.node == nil {
		return
	}
	for {
		h.normalize()
		other.normalize()
		n1, o1 := h.node, h.offset
		n2, o2 := other.node, other.offset

		if n1 == n2 {
			if o1 != o2 {
				// Two offsets within one node alias each other; the node
				// loses its internal structure.
				n1.foldCompletely()
				continue
			}
			return
		}

		if n1.graph != n2.graph {
			panic("dsa: cannot merge handles from different graphs")
		}

		// A collapsed node infects its merge partner before any offset
		// arithmetic: all offsets become 0 on both sides.
		if n2.IsCollapsed() && !n1.IsCollapsed() {
			n1.foldCompletely()
			continue
		}
		if n1.IsCollapsed() && !n2.IsCollapsed() {
			n2.foldCompletely()
			continue
		}

		// Larger size wins the representative election; first-seen wins ties.
		r, ro, s, so := n1, o1, n2, o2
		if s.size > r.size || (s.size == r.size && s.id < r.id) {
			r, ro, s, so = n2, o2, n1, o1
		}

		// delta is the amount by which s's offsets shift when viewed in r.
		delta := ro - so
		if delta < 0 {
			// s has bytes that would land before the start of r.
			r.foldCompletely()
			continue
		}

		if r.IsArray() || s.IsArray() {
			// Indexable objects merge only when they overlay exactly;
			// anything else aliases distinct offsets.
			if delta != 0 || (r.size != s.size && r.size != 0 && s.size != 0) {
				r.foldCompletely()
				continue
			}
		} else if s.size > 0 {
			r.growSize(delta + s.size)
		}

		mergeNodes(r, s, delta)
		return
	}
}

// mergeNodes retires s into r at the given offset delta, migrating flags,
// globals, the type record and the edges. s is forwarded before its edges
// are merged so that cycles through s canonicalize into r during the
// recursive merges.
func mergeNodes(r, s *Node, delta int64) {
	sLinks := s.links
	sTypes := s.typeRec
	sGlobals := s.globals
	sFlags := s.flags

	s.forwardTo(r, delta)

	r.flags |= sFlags &^ CollapsedNode
	r.addGlobals(sGlobals)

	if !r.IsCollapsed() && sTypes != nil {
		offs := make([]int64, 0, len(sTypes))
		for o := range sTypes {
			offs = append(offs, o)
		}
		sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
		for _, o := range offs {
			for _, t := range sTypes[o] {
				r.mergeTypeInfo(t, o+delta)
			}
		}
	}

	// The recursive edge merges below may fold r or forward it into yet
	// another node; track its canonical position with a handle.
	rh := &Handle{node: r}
	offs := make([]int64, 0, len(sLinks))
	for o := range sLinks {
		offs = append(offs, o)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	for _, o := range offs {
		rh.normalize()
		rh.node.mergeEdge(rh.offset+o+delta, sLinks[o])
	}
}
