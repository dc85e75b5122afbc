// SPDX-License-Identifier: MPL-2.0

// Package dag orders graph nodes so that every node follows the nodes
// it depends on. The installer uses it to materialize plugins
// dependencies first, so an install that fails midway never leaves a
// plugin on disk whose dependencies are missing.
package dag

import "golang.org/x/exp/slices"

// Graph is a directed graph over string-named nodes. An edge from A to
// B means A must be ordered before B.
type Graph struct {
	after map[string][]string
	nodes []string
	seen  map[string]bool
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		after: make(map[string][]string),
		seen:  make(map[string]bool),
	}
}

// AddNode adds a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if g.seen[name] {
		return
	}
	g.seen[name] = true
	g.nodes = append(g.nodes, name)
}

// AddEdge records that from must be ordered before to, adding both
// nodes as needed.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.after[from] = append(g.after[from], to)
}

// Order returns every node, dependencies first. Ties are broken by
// name, so the order is reproducible across runs. Cycles do not fail
// the ordering: when only mutually dependent nodes remain, the
// smallest-named one is released first.
func (g *Graph) Order() []string {
	names := slices.Clone(g.nodes)
	slices.Sort(names)

	waiting := make(map[string]int, len(names))
	for _, tos := range g.after {
		for _, to := range tos {
			waiting[to]++
		}
	}

	done := make(map[string]bool, len(names))
	order := make([]string, 0, len(names))
	for len(order) < len(names) {
		picked := ""
		for _, n := range names {
			if !done[n] && waiting[n] == 0 {
				picked = n
				break
			}
		}
		if picked == "" {
			// Every remaining node sits on a cycle.
			for _, n := range names {
				if !done[n] {
					picked = n
					break
				}
			}
		}

		done[picked] = true
		order = append(order, picked)
		for _, to := range g.after[picked] {
			waiting[to]--
		}
	}
	return order
}
