// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"slices"
	"strings"

	"golang.org/x/exp/maps"

	"pluginpm/pkg/version"
)

// RootName is the pseudo-requirer recorded for dependencies declared
// directly in the project manifest.
const RootName = "(root)"

type (
	// ResolvedPackage is one selection in a resolved graph: a package
	// pinned to exactly one version, together with the metadata needed
	// to fetch and verify it.
	ResolvedPackage struct {
		// Name is the package identifier.
		Name string
		// Version is the selected version.
		Version version.Version
		// Checksum is the lowercase hex SHA-256 of the package tarball.
		Checksum string
		// Source labels the registry the metadata came from.
		Source string
		// Engines is the engine range the selected version supports.
		Engines version.EngineRange
		// Dependencies are the selected version's own requirements.
		Dependencies map[string]version.Constraint
		// Yanked records whether the selected version is yanked. A
		// yanked selection can only come from a lockfile pin.
		Yanked bool
	}

	// Graph is the result of a resolution: at most one version per
	// package name, plus which packages required each selection. It is
	// immutable once built.
	Graph struct {
		packages  map[string]ResolvedPackage
		requirers map[string][]string
	}
)

// NewGraph builds a graph from selections and their requirers. The
// requirers map records, per package name, the names that imposed a
// constraint on it; [RootName] marks manifest-level dependencies.
func NewGraph(packages []ResolvedPackage, requirers map[string][]string) *Graph {
	g := &Graph{
		packages:  make(map[string]ResolvedPackage, len(packages)),
		requirers: make(map[string][]string, len(requirers)),
	}
	for _, pkg := range packages {
		g.packages[pkg.Name] = pkg
	}
	for name, from := range requirers {
		deduped := slices.Clone(from)
		slices.Sort(deduped)
		g.requirers[name] = slices.Compact(deduped)
	}
	return g
}

// Len returns the number of resolved packages.
func (g *Graph) Len() int {
	return len(g.packages)
}

// Package looks up one selection by name.
func (g *Graph) Package(name string) (ResolvedPackage, bool) {
	pkg, ok := g.packages[name]
	return pkg, ok
}

// Packages returns every selection sorted by name, so iteration order
// and everything derived from it is reproducible.
func (g *Graph) Packages() []ResolvedPackage {
	out := maps.Values(g.packages)
	slices.SortFunc(out, func(a, b ResolvedPackage) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Names returns the resolved package names in sorted order.
func (g *Graph) Names() []string {
	names := maps.Keys(g.packages)
	slices.Sort(names)
	return names
}

// Requirers returns the sorted names that imposed a constraint on
// name. [RootName] appears for manifest-level dependencies.
func (g *Graph) Requirers(name string) []string {
	return slices.Clone(g.requirers[name])
}

// Roots returns the manifest-level dependencies through which name is
// reachable, sorted. A package that is itself a manifest dependency
// includes its own name.
func (g *Graph) Roots(name string) []string {
	if _, ok := g.packages[name]; !ok {
		return nil
	}

	var roots []string
	seen := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, req := range g.requirers[cur] {
			if req == RootName {
				roots = append(roots, cur)
				continue
			}
			if seen[req] {
				continue
			}
			seen[req] = true
			queue = append(queue, req)
		}
	}

	slices.Sort(roots)
	return slices.Compact(roots)
}
