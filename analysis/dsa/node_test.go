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
	"testing"
)

func TestMergeIdempotent(t *testing.T) {
	g := NewGraph(nil)
	a := &Handle{node: g.newNodeOfSize(8)}
	b := &Handle{node: g.newNodeOfSize(8)}
	a.MergeWith(b)
	if !SameNode(a, b) {
		t.Fatalf("expected %v and %v in one node after merge", a, b)
	}
	live := len(g.Nodes())
	a.MergeWith(b)
	if !SameNode(a, b) || len(g.Nodes()) != live {
		t.Errorf("second merge changed the graph: %d live nodes, was %d", len(g.Nodes()), live)
	}
}

func TestMergeCommutative(t *testing.T) {
	mk := func() (*Graph, *Handle, *Handle) {
		g := NewGraph(nil)
		big := &Handle{node: g.newNodeOfSize(16)}
		big.node.flags |= HeapNode
		small := &Handle{node: g.newNodeOfSize(8)}
		small.node.flags |= ReadNode
		return g, big, small
	}

	_, big1, small1 := mk()
	big1.MergeWith(small1)
	_, big2, small2 := mk()
	small2.MergeWith(big2)

	for i, pair := range [][2]*Handle{{big1, small1}, {big2, small2}} {
		big, small := pair[0], pair[1]
		if !SameNode(big, small) {
			t.Fatalf("case %d: handles not unified", i)
		}
		n := big.Node()
		if n.Size() != 16 {
			t.Errorf("case %d: larger size should win, got %d", i, n.Size())
		}
		if n.Flags()&(HeapNode|ReadNode) != HeapNode|ReadNode {
			t.Errorf("case %d: flags not unioned: %s", i, n.Flags())
		}
	}
}

func TestMergeAssociative(t *testing.T) {
	build := func() (*Graph, []*Handle, []*Handle) {
		g := NewGraph(nil)
		var hs, targets []*Handle
		for i := 0; i < 3; i++ {
			n := g.newNodeOfSize(8)
			tgt := &Handle{node: g.newNodeOfSize(8)}
			n.mergeEdge(0, tgt)
			hs = append(hs, &Handle{node: n})
			targets = append(targets, tgt)
		}
		return g, hs, targets
	}

	check := func(name string, hs, targets []*Handle) {
		if !SameNode(hs[0], hs[1]) || !SameNode(hs[1], hs[2]) {
			t.Errorf("%s: sources not in one class", name)
		}
		if !SameNode(targets[0], targets[1]) || !SameNode(targets[1], targets[2]) {
			t.Errorf("%s: targets not in one class", name)
		}
	}

	_, hs, targets := build()
	hs[0].MergeWith(hs[1])
	hs[1].MergeWith(hs[2])
	check("left", hs, targets)

	_, hs, targets = build()
	hs[1].MergeWith(hs[2])
	hs[0].MergeWith(hs[2])
	check("right", hs, targets)

	_, hs, targets = build()
	hs[0].MergeWith(hs[2])
	hs[0].MergeWith(hs[1])
	check("outer", hs, targets)
}

func TestNormalizeIdempotent(t *testing.T) {
	g := NewGraph(nil)
	winner := &Handle{node: g.newNodeOfSize(16)}
	loser := &Handle{node: g.newNodeOfSize(8)}
	stale := &Handle{node: loser.node, offset: 4}
	winner.MergeWith(loser)

	n, off := stale.Node(), stale.Offset()
	if n != winner.Node() {
		t.Fatalf("stale handle did not chase into the representative")
	}
	if stale.Node() != n || stale.Offset() != off {
		t.Errorf("normalization is not idempotent: (%v,%d) then (%v,%d)", n, off, stale.Node(), stale.Offset())
	}
	if stale.node.forward != nil {
		t.Errorf("normalized handle still references a forwarded node")
	}
}

func TestIntraNodeAliasFolds(t *testing.T) {
	g := NewGraph(nil)
	n := g.newNodeOfSize(16)
	h1 := &Handle{node: n, offset: 0}
	h2 := &Handle{node: n, offset: 8}
	h1.MergeWith(h2)
	if !n.IsCollapsed() {
		t.Fatalf("aliasing two offsets of one node must fold it")
	}
	if n.Size() != 0 {
		t.Errorf("folded node size must be the 0 sentinel, got %d", n.Size())
	}
	if h1.Offset() != 0 || h2.Offset() != 0 {
		t.Errorf("every offset of a folded node must read as 0")
	}
}

func TestMergeMigratesEdges(t *testing.T) {
	g := NewGraph(nil)
	n1 := g.newNodeOfSize(8)
	n2 := g.newNodeOfSize(8)
	t1 := &Handle{node: g.newNodeOfSize(8)}
	t2 := &Handle{node: g.newNodeOfSize(8)}
	n1.mergeEdge(0, t1)
	n2.mergeEdge(0, t2)

	h1 := &Handle{node: n1}
	h1.MergeWith(&Handle{node: n2})
	if !SameNode(t1, t2) {
		t.Errorf("edge targets at the same offset must unify with their sources")
	}
}

func TestMergeShiftsOffsets(t *testing.T) {
	g := NewGraph(nil)
	r := g.newNodeOfSize(16)
	s := g.newNodeOfSize(8)
	tgt := &Handle{node: g.newNodeOfSize(8)}
	s.mergeEdge(0, tgt)

	sh := &Handle{node: s, offset: 0}
	(&Handle{node: r, offset: 8}).MergeWith(sh)

	if sh.Node() != r || sh.Offset() != 8 {
		t.Fatalf("expected s to land at offset 8 of r, got (%v,%d)", sh.Node(), sh.Offset())
	}
	link := r.Link(8)
	if link == nil || !SameNode(link, tgt) {
		t.Errorf("s's edge at 0 must appear at offset 8 of the representative")
	}
}

func TestMergeGrowsRepresentative(t *testing.T) {
	g := NewGraph(nil)
	r := g.newNodeOfSize(8)
	s := g.newNodeOfSize(8)
	(&Handle{node: r, offset: 4}).MergeWith(&Handle{node: s})
	rep := (&Handle{node: r}).Node()
	if rep.Size() < 12 {
		t.Errorf("representative must grow to cover the merged node, size=%d", rep.Size())
	}
}

func TestArrayOffsetsWrap(t *testing.T) {
	g := NewGraph(nil)
	n := g.newNodeOfSize(8)
	n.flags |= ArrayNode
	h := &Handle{node: n, offset: 12}
	if h.Offset() != 4 {
		t.Errorf("offsets into an indexable node must wrap: got %d", h.Offset())
	}
}

func TestFoldCollapsesEdges(t *testing.T) {
	g := NewGraph(nil)
	n := g.newNodeOfSize(16)
	t1 := &Handle{node: g.newNodeOfSize(8)}
	t2 := &Handle{node: g.newNodeOfSize(8)}
	n.mergeEdge(0, t1)
	n.mergeEdge(8, t2)

	n.foldCompletely()
	if !SameNode(t1, t2) {
		t.Errorf("folding must merge all out-edges into one")
	}
	if len(n.links) != 1 || n.Link(0) == nil {
		t.Errorf("folded node must keep a single edge at offset 0")
	}
}

func TestRemoveTriviallyDeadNodes(t *testing.T) {
	g := NewGraph(nil)
	g.newNodeOfSize(8) // unreferenced, no flags worth keeping
	kept := g.newNodeOfSize(8)
	kept.flags |= ModifiedNode

	g.RemoveTriviallyDeadNodes()
	live := g.Nodes()
	if len(live) != 1 || live[0] != kept {
		t.Errorf("expected only the flagged node to survive, got %d nodes", len(live))
	}
}
