// SPDX-License-Identifier: MPL-2.0

package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"pluginpm/internal/dag"
	"pluginpm/pkg/cache"
	"pluginpm/pkg/lockfile"
	"pluginpm/pkg/manifest"
	"pluginpm/pkg/registry"
	"pluginpm/pkg/resolver"
	"pluginpm/pkg/signature"
)

// DefaultPluginsDir is where plugins land inside a project, following
// the engine's conventional layout.
const DefaultPluginsDir = "Plugins"

type (
	// Installer drives resolve, fetch, verify, cache, and materialize
	// for one project at a time. A single Installer can serve many
	// projects; per-run state lives on the stack.
	Installer struct {
		client      registry.Client
		store       *cache.Store
		keys        *signature.Keyring
		log         *slog.Logger
		concurrency int
		retry       registry.RetryPolicy
		yanked      resolver.YankedPolicy
		devDeps     bool
		pluginsDir  string
		verify      bool
	}

	// Option configures an Installer.
	Option func(*Installer)

	// Result reports what one Install run did.
	Result struct {
		// Graph is the resolved dependency graph that was installed.
		Graph *resolver.Graph
		// Diff describes how the lockfile changed against the previous
		// one; empty on a reproduced install.
		Diff lockfile.DiffResult
		// Installed lists every materialized plugin in installation
		// order, dependencies before their dependents.
		Installed []InstalledPackage
		// FromCache counts packages served from the local store
		// without touching the registry.
		FromCache int
	}
)

// WithLogger routes the installer's progress output to log.
func WithLogger(log *slog.Logger) Option {
	return func(i *Installer) { i.log = log }
}

// WithConcurrency bounds parallel downloads. Values below one fall
// back to one worker per CPU.
func WithConcurrency(n int) Option {
	return func(i *Installer) { i.concurrency = n }
}

// WithRetryPolicy overrides the retry budget for registry calls.
func WithRetryPolicy(p registry.RetryPolicy) Option {
	return func(i *Installer) { i.retry = p }
}

// WithYankedPolicy overrides how yanked versions are treated during
// resolution.
func WithYankedPolicy(p resolver.YankedPolicy) Option {
	return func(i *Installer) { i.yanked = p }
}

// WithDevDependencies includes the manifest's dev_dependencies in
// resolution and installation.
func WithDevDependencies() Option {
	return func(i *Installer) { i.devDeps = true }
}

// WithPluginsDir changes the project-relative directory plugins are
// materialized into.
func WithPluginsDir(dir string) Option {
	return func(i *Installer) { i.pluginsDir = dir }
}

// WithoutVerification disables signature verification for packages
// fetched by this installer. The bypass is logged loudly on every run,
// and entries cached while it is active are trusted by later runs the
// same as verified ones.
func WithoutVerification() Option {
	return func(i *Installer) { i.verify = false }
}

// New creates an Installer. The client is wrapped with the retry
// policy, so transient registry failures are absorbed up to the
// configured budget.
func New(client registry.Client, store *cache.Store, keys *signature.Keyring, opts ...Option) *Installer {
	inst := &Installer{
		client:      client,
		store:       store,
		keys:        keys,
		log:         slog.Default(),
		concurrency: runtime.NumCPU(),
		retry:       registry.DefaultRetryPolicy(),
		pluginsDir:  DefaultPluginsDir,
		verify:      true,
	}
	for _, opt := range opts {
		opt(inst)
	}
	if inst.concurrency < 1 {
		inst.concurrency = runtime.NumCPU()
	}
	inst.client = registry.WithRetry(inst.client, inst.retry)
	return inst
}

// Resolve loads the project manifest and prior lockfile and resolves
// the dependency graph without mutating anything. It is the dry-run
// half of Install.
func (inst *Installer) Resolve(ctx context.Context, projectDir string) (*resolver.Graph, error) {
	graph, _, _, err := inst.resolveProject(ctx, projectDir)
	return graph, err
}

// Install runs one installation transaction against projectDir:
// resolve, fetch and verify everything, write the lockfile, then
// materialize plugins and the install record. Any fetch or
// verification failure aborts the whole transaction before the
// lockfile or the project is touched.
func (inst *Installer) Install(ctx context.Context, projectDir string) (*Result, error) {
	graph, prior, _, err := inst.resolveProject(ctx, projectDir)
	if err != nil {
		return nil, err
	}

	for _, pkg := range graph.Packages() {
		if pkg.Yanked {
			inst.log.Warn("installing yanked version pinned by lockfile",
				"package", pkg.Name, "version", pkg.Version)
		}
	}

	fromCache, err := inst.fetchAll(ctx, graph)
	if err != nil {
		return nil, err
	}

	lock := lockfile.FromGraph(graph)
	diff := lockfile.Diff(prior, lock)
	if err := lock.SaveDir(projectDir); err != nil {
		return nil, err
	}

	installed := make([]InstalledPackage, 0, graph.Len())
	for _, name := range materializeOrder(graph) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pkg, _ := graph.Package(name)
		ip, err := inst.materialize(ctx, projectDir, pkg, graph)
		if err != nil {
			return nil, fmt.Errorf("materializing %s@%s: %w", pkg.Name, pkg.Version, err)
		}
		installed = append(installed, ip)
	}

	record := &Record{Version: recordVersion, Plugins: installed}
	if err := record.Save(projectDir); err != nil {
		return nil, err
	}

	inst.log.Info("install complete",
		"packages", graph.Len(),
		"from_cache", fromCache,
		"changed", !diff.Empty())

	return &Result{
		Graph:     graph,
		Diff:      diff,
		Installed: installed,
		FromCache: fromCache,
	}, nil
}

// CleanCache removes store entries according to policy, keeping
// everything the project lockfile references. A project without a
// lockfile references nothing.
func (inst *Installer) CleanCache(ctx context.Context, projectDir string, policy cache.Policy) ([]cache.Entry, error) {
	referenced := make(map[string]bool)
	lock, err := lockfile.LoadDir(projectDir)
	switch {
	case err == nil:
		referenced = lock.Checksums()
	case errors.Is(err, lockfile.ErrNotFound):
	default:
		return nil, err
	}
	return inst.store.Clean(ctx, policy, referenced)
}

// VerifyCache rehashes every store entry, evicting corrupt ones.
func (inst *Installer) VerifyCache(ctx context.Context) (cache.VerifyReport, error) {
	return inst.store.VerifyAll(ctx)
}

// materializeOrder returns the graph's package names dependencies
// first, so an install that fails partway never leaves a plugin on
// disk with its dependencies missing. Mutually dependent plugins are
// legal; the orderer breaks such ties by name.
func materializeOrder(graph *resolver.Graph) []string {
	g := dag.New()
	for _, pkg := range graph.Packages() {
		g.AddNode(pkg.Name)
		for dep := range pkg.Dependencies {
			if _, ok := graph.Package(dep); ok {
				g.AddEdge(dep, pkg.Name)
			}
		}
	}
	return g.Order()
}

// resolveProject loads the manifest and prior lockfile and resolves
// the graph. prior is nil when the project has no lockfile yet.
func (inst *Installer) resolveProject(ctx context.Context, projectDir string) (*resolver.Graph, *lockfile.File, *manifest.Manifest, error) {
	man, err := manifest.LoadDir(projectDir)
	if err != nil {
		return nil, nil, nil, err
	}

	prior, err := lockfile.LoadDir(projectDir)
	if err != nil {
		if !errors.Is(err, lockfile.ErrNotFound) {
			return nil, nil, nil, err
		}
		prior = nil
	}

	if !inst.verify {
		inst.log.Warn("signature verification disabled for this run")
	}

	res := resolver.New(inst.client, resolver.Options{
		Engine: man.Engine,
		Locked: prior.Locked(),
		Yanked: inst.yanked,
		Logger: inst.log,
	})

	graph, err := res.Resolve(ctx, resolver.Dependencies(man.Requirements(inst.devDeps)))
	if err != nil {
		return nil, nil, nil, err
	}
	return graph, prior, man, nil
}
