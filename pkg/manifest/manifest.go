// SPDX-License-Identifier: MPL-2.0

// Package manifest loads and validates pluginpm.json project manifests.
//
// A manifest declares the project's identity, the engine version it is
// built against, and its dependencies as name-to-constraint pairs. Files
// are validated against an embedded CUE schema before constraint and
// version fields are parsed into their typed forms.
package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"pluginpm/internal/cueutil"
	"pluginpm/pkg/version"
)

//go:embed manifest_schema.cue
var manifestSchema []byte

// Filename is the standard name of the project manifest file.
const Filename = "pluginpm.json"

// MaxNameLength is the maximum allowed length for package names.
const MaxNameLength = 64

// ParseError reports a manifest that could not be parsed or validated.
type ParseError struct {
	// Path is the file the manifest was read from.
	Path string
	// Err is the underlying cause.
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid manifest %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// rawManifest mirrors the JSON document before typed fields are parsed.
type rawManifest struct {
	Name            string            `json:"name,omitempty"`
	Version         string            `json:"version,omitempty"`
	Description     string            `json:"description,omitempty"`
	Engine          string            `json:"engine,omitempty"`
	Dependencies    map[string]string `json:"dependencies,omitempty"`
	DevDependencies map[string]string `json:"dev_dependencies,omitempty"`
}

// Manifest is a parsed project manifest with typed version fields.
type Manifest struct {
	// Name identifies the package (empty for plain projects).
	Name string
	// Version is the package's own version (zero for plain projects).
	Version version.Version
	// Description summarizes the project or plugin.
	Description string
	// Engine is the engine version the project is built against.
	// The zero value means no engine is declared.
	Engine version.Version
	// Dependencies maps package names to version constraints.
	Dependencies map[string]version.Constraint
	// DevDependencies are only installed when dev mode is requested.
	DevDependencies map[string]version.Constraint
	// FilePath is where the manifest was loaded from (empty for Parse).
	FilePath string
}

// HasEngine reports whether the manifest declares an engine version.
func (m *Manifest) HasEngine() bool {
	return !m.Engine.IsZero()
}

// Requirements returns the dependency set to resolve, merging dev
// dependencies in when includeDev is set. Direct dependencies win on
// name collisions.
func (m *Manifest) Requirements(includeDev bool) map[string]version.Constraint {
	reqs := make(map[string]version.Constraint, len(m.Dependencies)+len(m.DevDependencies))
	if includeDev {
		maps.Copy(reqs, m.DevDependencies)
	}
	maps.Copy(reqs, m.Dependencies)
	return reqs
}

// Exists reports whether dir contains a pluginpm.json.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, Filename))
	return err == nil
}

// LoadDir loads the manifest from pluginpm.json in the given directory.
func LoadDir(dir string) (*Manifest, error) {
	return Load(filepath.Join(dir, Filename))
}

// Load reads and parses the manifest file at the given path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest at %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse validates manifest content against the embedded schema and
// parses version and constraint fields into their typed forms. The
// filename is used in error messages only.
func Parse(data []byte, filename string) (*Manifest, error) {
	raw, err := cueutil.Decode[rawManifest](manifestSchema, data, "#Manifest")
	if err != nil {
		return nil, &ParseError{Path: filename, Err: err}
	}

	m, err := fromRaw(raw)
	if err != nil {
		return nil, &ParseError{Path: filename, Err: err}
	}
	m.FilePath = filename
	return m, nil
}

// fromRaw parses the typed fields out of a schema-validated document.
func fromRaw(raw *rawManifest) (*Manifest, error) {
	m := &Manifest{
		Name:        raw.Name,
		Description: raw.Description,
	}

	if raw.Version != "" {
		v, err := version.Parse(raw.Version)
		if err != nil {
			return nil, fmt.Errorf("version: %w", err)
		}
		m.Version = v
	}

	if raw.Engine != "" {
		v, err := version.Parse(raw.Engine)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		m.Engine = v
	}

	var err error
	if m.Dependencies, err = parseConstraints("dependencies", raw.Dependencies); err != nil {
		return nil, err
	}
	if m.DevDependencies, err = parseConstraints("dev_dependencies", raw.DevDependencies); err != nil {
		return nil, err
	}

	return m, nil
}

func parseConstraints(field string, raw map[string]string) (map[string]version.Constraint, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]version.Constraint, len(raw))
	for name, spec := range raw {
		if len(name) > MaxNameLength {
			return nil, fmt.Errorf("%s: package name %q exceeds %d characters", field, name, MaxNameLength)
		}
		c, err := version.ParseConstraint(spec)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", field, name, err)
		}
		out[name] = c
	}
	return out, nil
}

// Save writes the manifest as pretty-printed JSON to pluginpm.json in
// the given directory. The write is atomic: content goes to a temp file
// that is renamed into place.
func (m *Manifest) Save(dir string) error {
	raw := rawManifest{
		Name:        m.Name,
		Description: m.Description,
	}
	if !m.Version.IsZero() {
		raw.Version = m.Version.String()
	}
	if !m.Engine.IsZero() {
		raw.Engine = m.Engine.String()
	}
	raw.Dependencies = constraintStrings(m.Dependencies)
	raw.DevDependencies = constraintStrings(m.DevDependencies)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&raw); err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	path := filepath.Join(dir, Filename)
	tmp, err := os.CreateTemp(dir, ".pluginpm-manifest-*")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace manifest at %s: %w", path, err)
	}
	return nil
}

func constraintStrings(cs map[string]version.Constraint) map[string]string {
	if len(cs) == 0 {
		return nil
	}
	out := make(map[string]string, len(cs))
	for _, name := range sortedKeys(cs) {
		out[name] = cs[name].String()
	}
	return out
}

func sortedKeys(cs map[string]version.Constraint) []string {
	keys := maps.Keys(cs)
	slices.Sort(keys)
	return keys
}
