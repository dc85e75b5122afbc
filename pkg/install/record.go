// SPDX-License-Identifier: MPL-2.0

package install

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"pluginpm/pkg/resolver"
)

const (
	// recordDirName is the project-relative directory holding
	// installer state.
	recordDirName = ".pluginpm"

	// recordFileName is the install record consumed by why and
	// outdated reporting.
	recordFileName = "installed.toml"

	recordVersion = 1
)

// ErrNoRecord is returned when a project has no install record yet.
var ErrNoRecord = errors.New("install record not found")

type (
	// Record is the persisted outcome of the last install: what was
	// materialized where, and which packages required each entry. It
	// answers provenance queries without re-resolving.
	Record struct {
		Version int                `toml:"version"`
		Plugins []InstalledPackage `toml:"plugin"`
	}

	// InstalledPackage is one materialized plugin.
	InstalledPackage struct {
		// Name is the package identifier.
		Name string `toml:"name"`
		// Version is the installed version.
		Version string `toml:"version"`
		// Checksum is the tarball checksum the installation came from.
		Checksum string `toml:"checksum"`
		// Path is the project-relative plugin directory, with forward
		// slashes.
		Path string `toml:"path"`
		// RequiredBy names the packages that imposed a constraint on
		// this one; resolver.RootName marks manifest dependencies.
		RequiredBy []string `toml:"required_by"`
		// Roots names the manifest dependencies through which this
		// package is reachable.
		Roots []string `toml:"roots,omitempty"`
	}
)

// recordPath returns the install record location for a project.
func recordPath(projectDir string) string {
	return filepath.Join(projectDir, recordDirName, recordFileName)
}

// LoadRecord reads a project's install record. A project that was
// never installed yields ErrNoRecord.
func LoadRecord(projectDir string) (*Record, error) {
	data, err := os.ReadFile(recordPath(projectDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoRecord
		}
		return nil, err
	}

	var r Record
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing install record: %w", err)
	}
	return &r, nil
}

// Save writes the record atomically under the project's state
// directory, creating it if needed.
func (r *Record) Save(projectDir string) error {
	dir := filepath.Join(projectDir, recordDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	slices.SortFunc(r.Plugins, func(a, b InstalledPackage) int {
		return strings.Compare(a.Name, b.Name)
	})

	data, err := toml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding install record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, recordFileName+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, recordPath(projectDir))
}

// Package returns the record entry for a package name.
func (r *Record) Package(name string) (InstalledPackage, bool) {
	for _, p := range r.Plugins {
		if p.Name == name {
			return p, true
		}
	}
	return InstalledPackage{}, false
}

// Why explains why a package is installed: every dependency chain that
// leads to it, each running from a manifest-level dependency to the
// package itself. A direct dependency yields the single-element chain.
// The second return is false when the package is not in the record.
func (r *Record) Why(name string) ([][]string, bool) {
	if _, ok := r.Package(name); !ok {
		return nil, false
	}

	requiredBy := make(map[string][]string, len(r.Plugins))
	for _, p := range r.Plugins {
		requiredBy[p.Name] = p.RequiredBy
	}

	var chains [][]string
	// Walk requirers upward from the target; every arrival at the
	// manifest root completes one chain.
	var walk func(pkg string, onPath map[string]bool, path []string)
	walk = func(pkg string, onPath map[string]bool, path []string) {
		for _, req := range requiredBy[pkg] {
			if req == resolver.RootName {
				chain := make([]string, len(path))
				for i, p := range path {
					chain[len(path)-1-i] = p
				}
				chains = append(chains, chain)
				continue
			}
			if onPath[req] {
				continue
			}
			onPath[req] = true
			walk(req, onPath, append(path, req))
			delete(onPath, req)
		}
	}
	walk(name, map[string]bool{name: true}, []string{name})

	slices.SortFunc(chains, func(a, b []string) int {
		return slices.Compare(a, b)
	})
	return chains, true
}
