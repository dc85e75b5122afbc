// SPDX-License-Identifier: MPL-2.0

package registrytest

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"pluginpm/pkg/registry"
	"pluginpm/pkg/signature"
	"pluginpm/pkg/version"
)

// Op names one registry.Client operation for failure injection and
// call counting.
type Op string

const (
	OpMetadata  Op = "metadata"
	OpTarball   Op = "tarball"
	OpSignature Op = "signature"
)

// Source is the source label stamped on every metadata document the
// fake serves.
const Source = "https://registry.test"

type (
	// Registry is an in-memory registry.Client. Build it with
	// AddVersion, AddTarball, and SignVersion; break it with FailWith.
	// Safe for concurrent use.
	Registry struct {
		mu         sync.Mutex
		packages   map[string]*registry.PackageMetadata
		tarballs   map[string][]byte
		signatures map[string][]byte
		failures   map[string]*injectedFailure
		calls      map[string]int
	}

	// VersionOption customizes one published version.
	VersionOption func(*registry.VersionInfo)

	injectedFailure struct {
		err error
		// remaining is how many more calls fail; negative means all.
		remaining int
	}
)

var _ registry.Client = (*Registry)(nil)

// New creates an empty fake registry.
func New() *Registry {
	return &Registry{
		packages:   make(map[string]*registry.PackageMetadata),
		tarballs:   make(map[string][]byte),
		signatures: make(map[string][]byte),
		failures:   make(map[string]*injectedFailure),
		calls:      make(map[string]int),
	}
}

// AddVersion publishes a version of a package. The checksum defaults to
// a deterministic placeholder derived from name@version; AddTarball
// replaces it with the real one. Invalid version strings panic, as test
// setup errors should.
func (r *Registry) AddVersion(name, ver string, opts ...VersionOption) {
	info := registry.VersionInfo{
		Version:  version.MustParse(ver),
		Checksum: placeholderChecksum(name, ver),
	}
	for _, opt := range opts {
		opt(&info)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pkg := r.packages[name]
	if pkg == nil {
		pkg = &registry.PackageMetadata{Name: name, Source: Source}
		r.packages[name] = pkg
	}
	pkg.Versions = append(pkg.Versions, info)
	pkg.SortVersions()
}

// WithDependency adds a dependency constraint to the version.
func WithDependency(name, constraint string) VersionOption {
	return func(v *registry.VersionInfo) {
		if v.Dependencies == nil {
			v.Dependencies = make(map[string]version.Constraint)
		}
		v.Dependencies[name] = version.MustParseConstraint(constraint)
	}
}

// WithEngines sets the version's supported engine range.
func WithEngines(engines string) VersionOption {
	return func(v *registry.VersionInfo) {
		v.Engines = version.MustParseEngineRange(engines)
	}
}

// WithChecksum overrides the version's checksum.
func WithChecksum(sum string) VersionOption {
	return func(v *registry.VersionInfo) {
		v.Checksum = sum
	}
}

// Yanked marks the version yanked.
func Yanked() VersionOption {
	return func(v *registry.VersionInfo) {
		v.Yanked = true
	}
}

// AddTarball registers the tarball bytes served for name@ver and
// updates the published checksum to match. Returns the checksum.
func (r *Registry) AddTarball(name, ver string, data []byte) string {
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tarballs[name+"@"+ver] = data
	if pkg := r.packages[name]; pkg != nil {
		if info, ok := pkg.FindVersion(version.MustParse(ver)); ok {
			info.Checksum = checksum
		}
	}
	return checksum
}

// SetTarball serves raw tarball bytes for name@ver without updating
// the published checksum, so tests can simulate a corrupted download
// or a lying registry.
func (r *Registry) SetTarball(name, ver string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tarballs[name+"@"+ver] = data
}

// SignVersion signs the registered tarball's digest with priv and
// serves the signature for name@ver.
func (r *Registry) SignVersion(name, ver string, priv ed25519.PrivateKey) {
	r.mu.Lock()
	data, ok := r.tarballs[name+"@"+ver]
	r.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("registrytest: no tarball registered for %s@%s", name, ver))
	}

	digest := sha256.Sum256(data)
	sig, err := signature.Sign(priv, digest[:])
	if err != nil {
		panic(fmt.Sprintf("registrytest: signing %s@%s: %v", name, ver, err))
	}
	r.SetSignature(name, ver, sig)
}

// SetSignature serves raw signature bytes for name@ver, valid or not.
func (r *Registry) SetSignature(name, ver string, sig []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signatures[name+"@"+ver] = sig
}

// FailWith makes the next n calls of op for name return err; n < 0
// means every call fails. Failed calls still count.
func (r *Registry) FailWith(op Op, name string, err error, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[string(op)+":"+name] = &injectedFailure{err: err, remaining: n}
}

// Calls returns how many times op has been invoked for name.
func (r *Registry) Calls(op Op, name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[string(op)+":"+name]
}

// TotalCalls returns how many times op has been invoked across all
// packages.
func (r *Registry) TotalCalls(op Op) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := 0
	prefix := string(op) + ":"
	for key, n := range r.calls {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			total += n
		}
	}
	return total
}

// FetchMetadata implements registry.Client.
func (r *Registry) FetchMetadata(ctx context.Context, name string) (*registry.PackageMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.record(OpMetadata, name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pkg, ok := r.packages[name]
	if !ok {
		return nil, fmt.Errorf("package %s: %w", name, registry.ErrNotFound)
	}

	// Callers sort and alias the metadata, so hand out a copy.
	clone := &registry.PackageMetadata{
		Name:     pkg.Name,
		Source:   pkg.Source,
		Versions: append([]registry.VersionInfo(nil), pkg.Versions...),
	}
	return clone, nil
}

// FetchTarball implements registry.Client.
func (r *Registry) FetchTarball(ctx context.Context, name string, v version.Version) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.record(OpTarball, name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.tarballs[name+"@"+v.String()]
	if !ok {
		return nil, fmt.Errorf("tarball %s@%s: %w", name, v, registry.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// FetchSignature implements registry.Client.
func (r *Registry) FetchSignature(ctx context.Context, name string, v version.Version) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.record(OpSignature, name); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sig, ok := r.signatures[name+"@"+v.String()]
	if !ok {
		return nil, fmt.Errorf("signature %s@%s: %w", name, v, registry.ErrNotFound)
	}
	return append([]byte(nil), sig...), nil
}

// record counts the call and applies any injected failure.
func (r *Registry) record(op Op, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := string(op) + ":" + name
	r.calls[key]++

	f := r.failures[key]
	if f == nil || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

func placeholderChecksum(name, ver string) string {
	sum := sha256.Sum256([]byte(name + "@" + ver))
	return hex.EncodeToString(sum[:])
}
