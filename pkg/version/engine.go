// SPDX-License-Identifier: MPL-2.0

package version

import (
	"fmt"
	"strings"
)

// EngineRange is the span of engine versions a package version
// supports. Containment is decided on the major.minor pair: patch
// releases of an engine line never change plugin compatibility. The
// zero range contains every engine version.
//
// Accepted forms: "" or "*" (all engines), "5.3" (the 5.3 line),
// "5.0-5.3" (inclusive span), ">=5.1" (open maximum), "<=5.3" (open
// minimum).
type EngineRange struct {
	min    Version
	max    Version
	hasMin bool
	hasMax bool
}

// ParseEngineRange parses an engine-compatibility range string.
func ParseEngineRange(s string) (EngineRange, error) {
	s = strings.TrimSpace(s)

	switch {
	case s == "" || s == "*":
		return EngineRange{}, nil

	case strings.HasPrefix(s, ">="):
		v, err := Parse(strings.TrimSpace(s[2:]))
		if err != nil {
			return EngineRange{}, fmt.Errorf("invalid engine range %q: %w", s, err)
		}
		return EngineRange{min: v, hasMin: true}, nil

	case strings.HasPrefix(s, "<="):
		v, err := Parse(strings.TrimSpace(s[2:]))
		if err != nil {
			return EngineRange{}, fmt.Errorf("invalid engine range %q: %w", s, err)
		}
		return EngineRange{max: v, hasMax: true}, nil
	}

	// "5.0-5.3" or "5.0 - 5.3". The dash split must not eat a
	// prerelease suffix, so split on the dash only when both halves
	// parse as versions.
	if lo, hi, ok := splitRange(s); ok {
		minV, err := Parse(lo)
		if err != nil {
			return EngineRange{}, fmt.Errorf("invalid engine range %q: %w", s, err)
		}
		maxV, err := Parse(hi)
		if err != nil {
			return EngineRange{}, fmt.Errorf("invalid engine range %q: %w", s, err)
		}
		if compareMajorMinor(maxV, minV) < 0 {
			return EngineRange{}, fmt.Errorf("invalid engine range %q: bounds are reversed", s)
		}
		return EngineRange{min: minV, max: maxV, hasMin: true, hasMax: true}, nil
	}

	v, err := Parse(s)
	if err != nil {
		return EngineRange{}, fmt.Errorf("invalid engine range %q: %w", s, err)
	}
	return EngineRange{min: v, max: v, hasMin: true, hasMax: true}, nil
}

// MustParseEngineRange parses an engine range and panics on failure.
func MustParseEngineRange(s string) EngineRange {
	r, err := ParseEngineRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// splitRange splits "lo-hi" or "lo - hi" into bounds. Returns ok=false
// when s is not a two-sided range.
func splitRange(s string) (lo, hi string, ok bool) {
	idx := strings.Index(s, "-")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	lo = strings.TrimSpace(s[:idx])
	hi = strings.TrimSpace(s[idx+1:])
	if !IsValid(lo) || !IsValid(hi) {
		return "", "", false
	}
	return lo, hi, true
}

// Contains reports whether the range covers the given engine version.
func (r EngineRange) Contains(v Version) bool {
	if r.hasMin && compareMajorMinor(v, r.min) < 0 {
		return false
	}
	if r.hasMax && compareMajorMinor(v, r.max) > 0 {
		return false
	}
	return true
}

// IsUnbounded reports whether the range covers every engine version.
func (r EngineRange) IsUnbounded() bool {
	return !r.hasMin && !r.hasMax
}

// String returns a canonical rendering of the range.
func (r EngineRange) String() string {
	switch {
	case !r.hasMin && !r.hasMax:
		return "*"
	case r.hasMin && !r.hasMax:
		return fmt.Sprintf(">=%d.%d", r.min.Major, r.min.Minor)
	case !r.hasMin && r.hasMax:
		return fmt.Sprintf("<=%d.%d", r.max.Major, r.max.Minor)
	case r.min.Major == r.max.Major && r.min.Minor == r.max.Minor:
		return fmt.Sprintf("%d.%d", r.min.Major, r.min.Minor)
	default:
		return fmt.Sprintf("%d.%d-%d.%d", r.min.Major, r.min.Minor, r.max.Major, r.max.Minor)
	}
}

// compareMajorMinor compares only the major.minor pair of two versions.
func compareMajorMinor(a, b Version) int {
	if a.Major != b.Major {
		if a.Major < b.Major {
			return -1
		}
		return 1
	}
	if a.Minor != b.Minor {
		if a.Minor < b.Minor {
			return -1
		}
		return 1
	}
	return 0
}
