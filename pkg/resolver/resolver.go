// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/exp/maps"

	"pluginpm/pkg/registry"
	"pluginpm/pkg/version"
)

// YankedPolicy selects how yanked versions interact with lockfile pins.
type YankedPolicy int

const (
	// YankedAllowLocked permits a yanked version only when an existing
	// lockfile already pins that exact version. New selections never
	// pick a yanked version.
	YankedAllowLocked YankedPolicy = iota

	// YankedForbid never selects a yanked version, pinned or not.
	YankedForbid
)

func (p YankedPolicy) String() string {
	if p == YankedForbid {
		return "forbid"
	}
	return "allow-locked"
}

type (
	// Dependency is one requirement handed to [Resolver.Resolve].
	Dependency struct {
		Name       string
		Constraint version.Constraint
	}

	// Options tune a [Resolver].
	Options struct {
		// Engine is the project's engine version. Versions whose engine
		// range does not contain it are never candidates. The zero
		// value disables engine filtering.
		Engine version.Version

		// Locked maps package names to versions pinned by an existing
		// lockfile. A pinned version that still satisfies all
		// constraints is tried before newer ones, keeping repeat
		// resolutions stable.
		Locked map[string]version.Version

		// Yanked selects how yanked versions are handled. The zero
		// value is YankedAllowLocked.
		Yanked YankedPolicy

		// PrefetchLimit bounds concurrent metadata prefetches. Zero or
		// negative means one per CPU.
		PrefetchLimit int

		// Logger receives debug output. Nil means slog.Default().
		Logger *slog.Logger
	}

	// Resolver selects exactly one version per package such that every
	// constraint, the engine filter, and the yanked policy hold. It is
	// stateless across runs; each Resolve call fetches and memoizes its
	// own metadata.
	Resolver struct {
		client registry.Client
		opts   Options
		log    *slog.Logger
	}
)

// New creates a Resolver that reads metadata from client.
func New(client registry.Client, opts Options) *Resolver {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.PrefetchLimit <= 0 {
		opts.PrefetchLimit = runtime.NumCPU()
	}
	return &Resolver{client: client, opts: opts, log: log}
}

// Dependencies converts a requirement map, as produced by a manifest,
// into a name-sorted dependency list.
func Dependencies(reqs map[string]version.Constraint) []Dependency {
	names := maps.Keys(reqs)
	slices.Sort(names)

	deps := make([]Dependency, 0, len(names))
	for _, name := range names {
		deps = append(deps, Dependency{Name: name, Constraint: reqs[name]})
	}
	return deps
}

type (
	// edge is one unprocessed requirement: from needs name under
	// constraint. Manifest requirements use RootName as from.
	edge struct {
		from       string
		name       string
		constraint version.Constraint
	}

	// selection is a committed version choice.
	selection struct {
		info   *registry.VersionInfo
		source string
		// parent is the requirer whose edge triggered the selection,
		// used to reconstruct cycle paths.
		parent string
	}

	// choicePoint remembers the alternatives of one selection so the
	// solver can come back and try the next candidate.
	choicePoint struct {
		edge       edge
		meta       *registry.PackageMetadata
		candidates []version.Version
		// trailLen is the trail position to rewind to before retrying.
		trailLen int
		// pending is the work queue as of the decision.
		pending []edge
	}

	// trailOp is one reversible mutation of the search state.
	trailOp struct {
		kind opKind
		name string
	}

	opKind int

	// searchState is the mutable state of one Resolve run.
	searchState struct {
		selected map[string]selection
		reqs     map[string][]Requirement
		trail    []trailOp
		frames   []choicePoint
		pending  []edge

		// failure holds the deepest dead-end seen so far; it is what
		// gets reported when the whole search space is exhausted.
		failure      error
		failureDepth int
	}
)

const (
	opRequire opKind = iota
	opSelect
)

// Resolve picks one version per package reachable from deps, or
// reports a typed resolution error: *NoCompatibleVersionError,
// *EngineMismatchError, *CycleError, or *UnknownPackageError.
//
// The search is an iterative backtracking solver over an explicit
// choice-point stack, so pathological graphs cannot blow the call
// stack, and cancellation is honored between steps. Candidate order is
// deterministic; the same inputs always produce the same graph.
func (r *Resolver) Resolve(ctx context.Context, deps []Dependency) (*Graph, error) {
	src := newMetadataSource(r.client, r.opts.PrefetchLimit)
	defer src.wait()

	st := &searchState{
		selected: make(map[string]selection),
		reqs:     make(map[string][]Requirement),
	}

	roots := slices.Clone(deps)
	slices.SortFunc(roots, func(a, b Dependency) int {
		return strings.Compare(a.Name, b.Name)
	})
	for _, d := range roots {
		st.pending = append(st.pending, edge{from: RootName, name: d.Name, constraint: d.Constraint})
	}

	steps := 0
	for len(st.pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		steps++

		e := st.pending[0]
		st.pending = st.pending[1:]

		st.require(e)

		// An edge into an already-selected package either reuses the
		// selection (diamonds and cycles) or conflicts.
		if sel, ok := st.selected[e.name]; ok {
			if e.constraint.Matches(sel.info.Version) {
				continue
			}
			st.recordConflict(e)
			if !r.backtrack(ctx, src, st) {
				return nil, st.failure
			}
			continue
		}

		meta, err := src.metadata(ctx, e.name)
		if err != nil {
			var unknown *UnknownPackageError
			if !errors.As(err, &unknown) {
				return nil, err
			}
			st.fail(err)
			if !r.backtrack(ctx, src, st) {
				return nil, st.failure
			}
			continue
		}

		candidates, err := r.candidates(e.name, meta, st.reqs[e.name])
		if err != nil {
			st.fail(err)
			if !r.backtrack(ctx, src, st) {
				return nil, st.failure
			}
			continue
		}

		st.frames = append(st.frames, choicePoint{
			edge:       e,
			meta:       meta,
			candidates: candidates[1:],
			trailLen:   len(st.trail),
			pending:    slices.Clone(st.pending),
		})
		r.commit(ctx, src, st, e, meta, candidates[0])
	}

	r.log.Debug("resolution complete", "packages", len(st.selected), "steps", steps)
	return st.graph(), nil
}

// commit records a selection and queues the chosen version's own
// dependency edges.
func (r *Resolver) commit(ctx context.Context, src *metadataSource, st *searchState, e edge, meta *registry.PackageMetadata, v version.Version) {
	info, ok := meta.FindVersion(v)
	if !ok {
		// Candidates come from meta.Versions, so this cannot happen.
		panic("resolver: candidate version missing from metadata")
	}

	st.selected[e.name] = selection{info: info, source: meta.Source, parent: e.from}
	st.trail = append(st.trail, trailOp{kind: opSelect, name: e.name})

	depNames := maps.Keys(info.Dependencies)
	slices.Sort(depNames)
	for _, dep := range depNames {
		st.pending = append(st.pending, edge{from: e.name, name: dep, constraint: info.Dependencies[dep]})
	}
	src.prefetch(ctx, depNames)

	r.log.Debug("selected package", "package", e.name, "version", v, "required_by", e.from)
}

// backtrack rewinds to the most recent choice point with an untried
// candidate and commits it. It reports false when the search space is
// exhausted.
func (r *Resolver) backtrack(ctx context.Context, src *metadataSource, st *searchState) bool {
	for len(st.frames) > 0 {
		f := &st.frames[len(st.frames)-1]
		st.rewind(f.trailLen)

		if len(f.candidates) == 0 {
			st.frames = st.frames[:len(st.frames)-1]
			continue
		}

		v := f.candidates[0]
		f.candidates = f.candidates[1:]
		st.pending = slices.Clone(f.pending)

		r.log.Debug("backtracking", "package", f.edge.name, "version", v)
		r.commit(ctx, src, st, f.edge, f.meta, v)
		return true
	}
	return false
}

// candidates returns the versions of name that pass the engine filter,
// the yanked policy, and every accumulated constraint, in the order
// they should be tried: the still-viable locked version first, then
// newest first. An empty result comes back as the typed error that
// best explains it.
func (r *Resolver) candidates(name string, meta *registry.PackageMetadata, reqs []Requirement) ([]version.Version, error) {
	lockedVersion, isLocked := r.opts.Locked[name]

	engineOK := make([]*registry.VersionInfo, 0, len(meta.Versions))
	for i := range meta.Versions {
		info := &meta.Versions[i]
		if !r.opts.Engine.IsZero() && !info.Engines.Contains(r.opts.Engine) {
			continue
		}
		engineOK = append(engineOK, info)
	}
	if len(engineOK) == 0 && len(meta.Versions) > 0 {
		avail := make([]EngineSupport, 0, len(meta.Versions))
		for _, info := range meta.Versions {
			avail = append(avail, EngineSupport{Version: info.Version, Engines: info.Engines})
		}
		return nil, &EngineMismatchError{Package: name, Engine: r.opts.Engine, Available: avail}
	}

	var satisfying []version.Version
	yankedOnly := false
	for _, info := range engineOK {
		if !matchesAll(reqs, info.Version) {
			continue
		}
		if info.Yanked && !r.yankedAllowed(info.Version, lockedVersion, isLocked) {
			yankedOnly = true
			continue
		}
		satisfying = append(satisfying, info.Version)
	}
	if len(satisfying) == 0 {
		return nil, &NoCompatibleVersionError{
			Package:      name,
			Requirements: slices.Clone(reqs),
			YankedOnly:   yankedOnly,
		}
	}

	// Lockfile stability: a pinned version that is still viable is
	// tried before anything newer.
	if isLocked {
		for i, v := range satisfying {
			if v.Equal(lockedVersion) {
				if i > 0 {
					copy(satisfying[1:i+1], satisfying[:i])
					satisfying[0] = lockedVersion
				}
				break
			}
		}
	}
	return satisfying, nil
}

func (r *Resolver) yankedAllowed(v, lockedVersion version.Version, isLocked bool) bool {
	return r.opts.Yanked == YankedAllowLocked && isLocked && v.Equal(lockedVersion)
}

func matchesAll(reqs []Requirement, v version.Version) bool {
	for _, req := range reqs {
		if !req.Constraint.Matches(v) {
			return false
		}
	}
	return true
}

// require records one constraint on the edge's target, reversibly.
func (st *searchState) require(e edge) {
	st.reqs[e.name] = append(st.reqs[e.name], Requirement{By: e.from, Constraint: e.constraint})
	st.trail = append(st.trail, trailOp{kind: opRequire, name: e.name})
}

// rewind undoes trail operations until the trail is n entries long.
func (st *searchState) rewind(n int) {
	for len(st.trail) > n {
		op := st.trail[len(st.trail)-1]
		st.trail = st.trail[:len(st.trail)-1]

		switch op.kind {
		case opRequire:
			reqs := st.reqs[op.name]
			if len(reqs) == 1 {
				delete(st.reqs, op.name)
			} else {
				st.reqs[op.name] = reqs[:len(reqs)-1]
			}
		case opSelect:
			delete(st.selected, op.name)
		}
	}
}

// fail keeps the deepest dead-end, which is the most specific thing to
// tell the user when the search exhausts.
func (st *searchState) fail(err error) {
	if st.failure == nil || len(st.trail) > st.failureDepth {
		st.failure = err
		st.failureDepth = len(st.trail)
	}
}

// recordConflict classifies an edge that rejects an already-selected
// version: a back edge along the active requirement chain is a cycle,
// anything else is a plain version conflict.
func (st *searchState) recordConflict(e edge) {
	if cycle := st.cyclePath(e.from, e.name); cycle != nil {
		st.fail(&CycleError{Packages: cycle})
		return
	}
	st.fail(&NoCompatibleVersionError{
		Package:      e.name,
		Requirements: slices.Clone(st.reqs[e.name]),
	})
}

// cyclePath walks selection parents upward from `from`; reaching
// target means the rejected edge closes a requirement cycle. The
// returned path starts at target and ends at from.
func (st *searchState) cyclePath(from, target string) []string {
	if from == RootName {
		return nil
	}

	path := []string{from}
	seen := map[string]bool{from: true}
	cur := from
	for {
		sel, ok := st.selected[cur]
		if !ok || sel.parent == RootName {
			return nil
		}
		if sel.parent == target {
			slices.Reverse(path)
			return append([]string{target}, path...)
		}
		if seen[sel.parent] {
			return nil
		}
		seen[sel.parent] = true
		path = append(path, sel.parent)
		cur = sel.parent
	}
}

// graph freezes the final search state.
func (st *searchState) graph() *Graph {
	packages := make([]ResolvedPackage, 0, len(st.selected))
	for name, sel := range st.selected {
		packages = append(packages, ResolvedPackage{
			Name:         name,
			Version:      sel.info.Version,
			Checksum:     sel.info.Checksum,
			Source:       sel.source,
			Engines:      sel.info.Engines,
			Dependencies: sel.info.Dependencies,
			Yanked:       sel.info.Yanked,
		})
	}

	requirers := make(map[string][]string, len(st.reqs))
	for name, reqs := range st.reqs {
		for _, req := range reqs {
			requirers[name] = append(requirers[name], req.By)
		}
	}
	return NewGraph(packages, requirers)
}
