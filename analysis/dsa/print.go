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
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Debug returns a multi-line textual dump of the graph. Not very visual, but
// easier to read in a terminal than the Graphviz form.
func (g *Graph) Debug() string {
	out := bytes.NewBuffer([]byte{})
	for _, n := range g.Nodes() {
		fmt.Fprintf(out, "n%d [size=%d %s] -> ", n.id, n.size, n.flags)
		first := true
		for _, off := range n.edgeOffsets() {
			if !first {
				fmt.Fprintf(out, ", ")
			}
			first = false
			h := n.links[off]
			fmt.Fprintf(out, "%d:n%d+%d", off, h.Node().id, h.Offset())
		}
		if len(n.globals) > 0 {
			names := make([]string, 0, len(n.globals))
			for _, m := range n.globals {
				names = append(names, m.Name())
			}
			fmt.Fprintf(out, "    {%s}", strings.Join(names, " "))
		}
		fmt.Fprintf(out, "\n")
	}
	for _, v := range g.scalarOrder {
		h := g.scalars[v]
		fmt.Fprintf(out, "  %s = n%d+%d\n", v.Name(), h.Node().id, h.Offset())
	}
	return out.String()
}

// Graphviz returns a dot/graphviz rendering of the graph.
func (g *Graph) Graphviz() string {
	return g.GraphvizLabel("")
}

// GraphvizLabel is like Graphviz, but adds a label to the graph; useful for
// e.g. displaying the function the graph was built from.
func (g *Graph) GraphvizLabel(label string) string {
	out := bytes.NewBuffer([]byte{})
	fmt.Fprintf(out, "digraph { // start of digraph\nrankdir = LR;\n")
	fmt.Fprintf(out, "graph[label=%q];\n", label)

	nodes := g.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].id < nodes[j].id })
	for _, n := range nodes {
		extra := "shape=record"
		if n.IsIncomplete() {
			extra += " style=dashed"
		}
		if n.IsExternal() {
			extra += " peripheries=2"
		}
		lbl := fmt.Sprintf("n%d|%d|%s", n.id, n.size, n.flags)
		if len(n.globals) > 0 {
			names := make([]string, 0, len(n.globals))
			for _, m := range n.globals {
				names = append(names, m.Name())
			}
			lbl += "|" + strings.Join(names, ",")
		}
		fmt.Fprintf(out, "%d [label=%q %s];\n", n.id, lbl, extra)
		for _, off := range n.edgeOffsets() {
			h := n.links[off]
			fmt.Fprintf(out, "%d -> %d [taillabel=\"%d\" headlabel=\"%d\"];\n",
				n.id, h.Node().id, off, h.Offset())
		}
	}

	// Scalars as rounded boxes pointing at their cells, one per bound value.
	for i, v := range g.scalarOrder {
		h := g.scalars[v]
		name := v.Name()
		if p := v.Parent(); p != nil {
			name = p.Name() + ":" + name
		}
		fmt.Fprintf(out, "s%d [label=%q shape=rect style=rounded];\n", i, name)
		fmt.Fprintf(out, "s%d -> %d [headlabel=\"%d\" style=dotted];\n", i, h.Node().id, h.Offset())
	}

	fmt.Fprintf(out, "} // end of digraph\n")
	return out.String()
}
