// SPDX-License-Identifier: MPL-2.0

// Package version implements semantic version numbers, version
// constraints, and engine-compatibility ranges for plugin packages.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Version is a parsed semantic version. The zero value is "0.0.0",
// which IsZero reports; a zero Version passed as an engine filter
// means "no filtering".
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
}

// semverRegex matches semantic version strings. Minor and patch are
// optional ("5.3" parses as "5.3.0"); build metadata is accepted and
// discarded.
var semverRegex = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:-([0-9A-Za-z\-.]+))?(?:\+([0-9A-Za-z\-.]+))?$`)

// Parse parses a version string into a Version.
func Parse(s string) (Version, error) {
	matches := semverRegex.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		return Version{}, fmt.Errorf("invalid version format: %q", s)
	}

	var v Version

	var err error
	v.Major, err = strconv.Atoi(matches[1])
	if err != nil {
		return Version{}, fmt.Errorf("invalid major version in %q: %w", s, err)
	}

	if matches[2] != "" {
		v.Minor, err = strconv.Atoi(matches[2])
		if err != nil {
			return Version{}, fmt.Errorf("invalid minor version in %q: %w", s, err)
		}
	}

	if matches[3] != "" {
		v.Patch, err = strconv.Atoi(matches[3])
		if err != nil {
			return Version{}, fmt.Errorf("invalid patch version in %q: %w", s, err)
		}
	}

	v.Prerelease = matches[4]

	return v, nil
}

// MustParse parses a version string and panics on failure. Intended
// for constants and tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsValid reports whether s is a parseable version string.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// String returns the canonical form "major.minor.patch[-prerelease]".
// The canonical form is stable regardless of how the version was
// written ("5.3" and "5.3.0" render identically), which keeps
// serialized documents reproducible.
func (v Version) String() string {
	base := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		return base + "-" + v.Prerelease
	}
	return base
}

// IsZero reports whether v is the zero version.
func (v Version) IsZero() bool {
	return v.Major == 0 && v.Minor == 0 && v.Patch == 0 && v.Prerelease == ""
}

// Compare compares two versions.
// Returns -1 if v < other, 0 if v == other, 1 if v > other.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		if v.Major < other.Major {
			return -1
		}
		return 1
	}

	if v.Minor != other.Minor {
		if v.Minor < other.Minor {
			return -1
		}
		return 1
	}

	if v.Patch != other.Patch {
		if v.Patch < other.Patch {
			return -1
		}
		return 1
	}

	// Prerelease versions have lower precedence than the release.
	if v.Prerelease == "" && other.Prerelease != "" {
		return 1
	}
	if v.Prerelease != "" && other.Prerelease == "" {
		return -1
	}
	if v.Prerelease != other.Prerelease {
		if v.Prerelease < other.Prerelease {
			return -1
		}
		return 1
	}

	return 0
}

// Less reports whether v orders before other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// Equal reports whether v and other denote the same version.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// SortDesc sorts versions in descending order (newest first). The sort
// is stable so equal versions keep their input order.
func SortDesc(versions []Version) {
	slices.SortStableFunc(versions, func(a, b Version) int {
		return b.Compare(a)
	})
}
