// SPDX-License-Identifier: MPL-2.0

package lockfile

import (
	"slices"
	"strings"

	"pluginpm/pkg/version"
)

type (
	// Change describes one package whose pinned state differs between
	// two lock documents. From/To are zero when the package is absent
	// on that side.
	Change struct {
		Name         string
		From         version.Version
		To           version.Version
		FromChecksum string
		ToChecksum   string
	}

	// DiffResult groups the changes between two lock documents.
	// Checksum-only changes at the same version are reported as
	// upgrades so they never go unnoticed.
	DiffResult struct {
		Added      []Change
		Removed    []Change
		Upgraded   []Change
		Downgraded []Change
	}
)

// Empty reports whether the two documents pin identical trees.
func (d DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 &&
		len(d.Upgraded) == 0 && len(d.Downgraded) == 0
}

// Diff compares two lock documents. Either side may be nil, meaning no
// lock existed. Each change list comes back sorted by package name.
func Diff(oldFile, newFile *File) DiffResult {
	oldEntries := entryMap(oldFile)
	newEntries := entryMap(newFile)

	var d DiffResult

	for name, ne := range newEntries {
		oe, existed := oldEntries[name]
		if !existed {
			d.Added = append(d.Added, Change{
				Name:       name,
				To:         mustVersion(ne.Version),
				ToChecksum: ne.Checksum,
			})
			continue
		}
		if oe.Version == ne.Version && oe.Checksum == ne.Checksum {
			continue
		}
		change := Change{
			Name:         name,
			From:         mustVersion(oe.Version),
			To:           mustVersion(ne.Version),
			FromChecksum: oe.Checksum,
			ToChecksum:   ne.Checksum,
		}
		if change.To.Less(change.From) {
			d.Downgraded = append(d.Downgraded, change)
		} else {
			d.Upgraded = append(d.Upgraded, change)
		}
	}

	for name, oe := range oldEntries {
		if _, still := newEntries[name]; !still {
			d.Removed = append(d.Removed, Change{
				Name:         name,
				From:         mustVersion(oe.Version),
				FromChecksum: oe.Checksum,
			})
		}
	}

	sortChanges(d.Added)
	sortChanges(d.Removed)
	sortChanges(d.Upgraded)
	sortChanges(d.Downgraded)
	return d
}

func entryMap(f *File) map[string]Entry {
	if f == nil {
		return nil
	}
	m := make(map[string]Entry, len(f.Packages))
	for _, e := range f.Packages {
		m[e.Name] = e
	}
	return m
}

// mustVersion parses entry versions, which Load and FromGraph have
// already validated. Unparseable input degrades to the zero version.
func mustVersion(s string) version.Version {
	v, err := version.Parse(s)
	if err != nil {
		return version.Version{}
	}
	return v
}

func sortChanges(changes []Change) {
	slices.SortFunc(changes, func(a, b Change) int {
		return strings.Compare(a.Name, b.Name)
	})
}
