// SPDX-License-Identifier: MPL-2.0

// Package lockfile reads and writes pluginpm.lock files.
//
// The lock document pins the exact resolved version and tarball
// checksum of every package in the dependency graph, so subsequent
// installs reproduce the same tree without re-running resolution
// decisions. Serialization is deterministic: the same graph always
// marshals to byte-identical TOML, which keeps lockfiles diff-friendly
// under version control.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"pluginpm/pkg/resolver"
	"pluginpm/pkg/version"
)

// Filename is the standard name of the lock document.
const Filename = "pluginpm.lock"

// FormatVersion is the lock document format version this package writes.
const FormatVersion = 1

// ErrNotFound is returned by Load when no lock document exists.
var ErrNotFound = errors.New("lockfile not found")

// ParseError reports a lock document that could not be parsed or validated.
type ParseError struct {
	// Path is the file the document was read from.
	Path string
	// Err is the underlying cause.
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid lockfile %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type (
	// File is a parsed lock document.
	File struct {
		// Version is the lock format version.
		Version int `toml:"version"`
		// Packages are the pinned entries, sorted by name.
		Packages []Entry `toml:"package"`
	}

	// Entry pins one resolved package.
	Entry struct {
		// Name is the package identifier.
		Name string `toml:"name"`
		// Version is the exact resolved version in canonical form.
		Version string `toml:"version"`
		// Checksum is the lowercase hex SHA-256 of the package tarball.
		Checksum string `toml:"checksum"`
		// Source labels the registry the package came from.
		Source string `toml:"source,omitempty"`
	}
)

// New creates an empty lock document at the current format version.
func New() *File {
	return &File{Version: FormatVersion}
}

// FromGraph pins a resolved dependency graph. Entries are sorted by
// name so the same graph always produces the same document.
func FromGraph(g *resolver.Graph) *File {
	f := New()
	for _, pkg := range g.Packages() {
		f.Packages = append(f.Packages, Entry{
			Name:     pkg.Name,
			Version:  pkg.Version.String(),
			Checksum: strings.ToLower(pkg.Checksum),
			Source:   pkg.Source,
		})
	}
	slices.SortFunc(f.Packages, func(a, b Entry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return f
}

// Load reads and validates the lock document at path. A missing file
// yields ErrNotFound so callers can distinguish "no lock yet" from a
// broken one.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read lockfile at %s: %w", path, err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if f.Version != FormatVersion {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("unsupported lock format version %d", f.Version)}
	}
	for i, e := range f.Packages {
		if e.Name == "" {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("package[%d]: missing name", i)}
		}
		if _, err := version.Parse(e.Version); err != nil {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("package %s: %w", e.Name, err)}
		}
		if !isHexChecksum(e.Checksum) {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("package %s: malformed checksum %q", e.Name, e.Checksum)}
		}
	}
	return &f, nil
}

// LoadDir loads the lock document from pluginpm.lock in dir.
func LoadDir(dir string) (*File, error) {
	return Load(filepath.Join(dir, Filename))
}

// Marshal serializes the document. Entries are emitted in the stored
// order; FromGraph produces them name-sorted, which makes the output
// deterministic for a given graph.
func (f *File) Marshal() ([]byte, error) {
	data, err := toml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lockfile: %w", err)
	}
	return data, nil
}

// Save writes the document atomically: content goes to a temp file in
// the same directory which is then renamed over the target.
func (f *File) Save(path string) error {
	data, err := f.Marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pluginpm-lock-*")
	if err != nil {
		return fmt.Errorf("failed to create temp lockfile: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp lockfile: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set lockfile permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace lockfile at %s: %w", path, err)
	}
	return nil
}

// SaveDir writes the document to pluginpm.lock in dir.
func (f *File) SaveDir(dir string) error {
	return f.Save(filepath.Join(dir, Filename))
}

// Locked returns the pinned versions by package name, the form the
// resolver consumes for lock preference. Entries whose version does
// not parse are skipped; Load never produces such entries. A nil file
// pins nothing.
func (f *File) Locked() map[string]version.Version {
	if f == nil {
		return nil
	}
	locked := make(map[string]version.Version, len(f.Packages))
	for _, e := range f.Packages {
		v, err := version.Parse(e.Version)
		if err != nil {
			continue
		}
		locked[e.Name] = v
	}
	return locked
}

// Checksums returns the set of tarball checksums the document
// references, the input for unreferenced-cache cleaning.
func (f *File) Checksums() map[string]bool {
	set := make(map[string]bool, len(f.Packages))
	for _, e := range f.Packages {
		set[e.Checksum] = true
	}
	return set
}

// Package returns the entry for a package name.
func (f *File) Package(name string) (Entry, bool) {
	for _, e := range f.Packages {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// isHexChecksum reports whether s is a 64-character hex SHA-256 digest.
func isHexChecksum(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
