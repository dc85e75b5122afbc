// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"io"
	"slices"

	"pluginpm/pkg/version"
)

type (
	// PackageMetadata describes a package and all of its published
	// versions as reported by a registry.
	PackageMetadata struct {
		// Name is the package identifier.
		Name string
		// Source labels where the metadata came from (registry URL or
		// a test label). Carried through to lockfile entries.
		Source string
		// Versions lists every published version, newest first.
		Versions []VersionInfo
	}

	// VersionInfo describes a single published version of a package.
	VersionInfo struct {
		// Version is the published semantic version.
		Version version.Version
		// Dependencies maps dependency names to version constraints.
		Dependencies map[string]version.Constraint
		// Engines is the engine range this version supports. The zero
		// value means the version works with any engine.
		Engines version.EngineRange
		// Checksum is the lowercase hex SHA-256 of the tarball.
		Checksum string
		// Yanked marks versions withdrawn from normal selection.
		Yanked bool
	}
)

// Client fetches package metadata and artifacts from a registry.
//
// Implementations must be safe for concurrent use: the resolver
// prefetches metadata and the installer downloads tarballs in parallel.
type Client interface {
	// FetchMetadata returns the full version listing for a package.
	// A package unknown to the registry yields ErrNotFound.
	FetchMetadata(ctx context.Context, name string) (*PackageMetadata, error)

	// FetchTarball streams the gzipped tarball for one published
	// version. The caller owns the returned ReadCloser.
	FetchTarball(ctx context.Context, name string, v version.Version) (io.ReadCloser, error)

	// FetchSignature returns the detached ed25519 signature (raw
	// bytes) for one published version's tarball digest.
	FetchSignature(ctx context.Context, name string, v version.Version) ([]byte, error)
}

// FindVersion returns the version info for an exact version match.
func (m *PackageMetadata) FindVersion(v version.Version) (*VersionInfo, bool) {
	for i := range m.Versions {
		if m.Versions[i].Version.Equal(v) {
			return &m.Versions[i], true
		}
	}
	return nil, false
}

// SortVersions orders Versions newest first. Clients normalize
// metadata with it after construction so consumers can rely on the
// ordering.
func (m *PackageMetadata) SortVersions() {
	slices.SortStableFunc(m.Versions, func(a, b VersionInfo) int {
		return b.Version.Compare(a.Version)
	})
}
