// SPDX-License-Identifier: MPL-2.0

package version

import (
	"fmt"
	"regexp"
	"strings"
)

// Constraint is a predicate over versions. A constraint string is
// either "*" (matches everything) or one or more whitespace-separated
// simple constraints that must all hold (set intersection):
//
//	=1.2.3   exact (bare "1.2.3" means the same)
//	^1.2.3   compatible: the left-most non-zero digit stays fixed
//	~1.2.3   patch-level changes only
//	>1.2.3  >=1.2.3  <2.0.0  <=2.0.0
//	>=1.0.0 <2.0.0   explicit range
type Constraint struct {
	parts    []constraintPart
	original string
}

// constraintPart is one operator/version pair within a constraint.
type constraintPart struct {
	op      string
	version Version
}

// constraintRegex matches a single simple constraint.
var constraintRegex = regexp.MustCompile(`^([~^]|>=|<=|>|<|=)?v?(\d+(?:\.\d+)?(?:\.\d+)?(?:-[0-9A-Za-z\-.]+)?)$`)

// ParseConstraint parses a constraint string.
func ParseConstraint(s string) (Constraint, error) {
	original := s
	s = strings.TrimSpace(s)

	if s == "" {
		return Constraint{}, fmt.Errorf("empty version constraint")
	}

	if s == "*" {
		return Constraint{original: original}, nil
	}

	var parts []constraintPart
	for _, field := range strings.Fields(s) {
		matches := constraintRegex.FindStringSubmatch(field)
		if matches == nil {
			return Constraint{}, fmt.Errorf("invalid constraint format: %q", original)
		}

		op := matches[1]
		if op == "" {
			op = "="
		}

		v, err := Parse(matches[2])
		if err != nil {
			return Constraint{}, fmt.Errorf("invalid version in constraint %q: %w", original, err)
		}

		parts = append(parts, constraintPart{op: op, version: v})
	}

	return Constraint{parts: parts, original: original}, nil
}

// MustParseConstraint parses a constraint string and panics on failure.
func MustParseConstraint(s string) Constraint {
	c, err := ParseConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// IsValidConstraint reports whether s is a parseable constraint string.
func IsValidConstraint(s string) bool {
	_, err := ParseConstraint(s)
	return err == nil
}

// String returns the constraint as written.
func (c Constraint) String() string {
	if c.original == "" {
		return "*"
	}
	return c.original
}

// IsAny reports whether the constraint matches every version.
func (c Constraint) IsAny() bool {
	return len(c.parts) == 0
}

// Matches reports whether v satisfies the constraint.
func (c Constraint) Matches(v Version) bool {
	for _, p := range c.parts {
		if !p.matches(v) {
			return false
		}
	}
	return true
}

func (p constraintPart) matches(v Version) bool {
	switch p.op {
	case "=":
		return v.Compare(p.version) == 0

	case "^":
		// Caret: allows changes that do not modify the left-most non-zero digit
		// ^1.2.3 := >=1.2.3 <2.0.0
		// ^0.2.3 := >=0.2.3 <0.3.0
		// ^0.0.3 := >=0.0.3 <0.0.4
		if v.Compare(p.version) < 0 {
			return false
		}
		if p.version.Major != 0 {
			return v.Major == p.version.Major
		}
		if p.version.Minor != 0 {
			return v.Major == 0 && v.Minor == p.version.Minor
		}
		return v.Major == 0 && v.Minor == 0 && v.Patch == p.version.Patch

	case "~":
		// Tilde: allows patch-level changes
		// ~1.2.3 := >=1.2.3 <1.3.0
		if v.Compare(p.version) < 0 {
			return false
		}
		return v.Major == p.version.Major && v.Minor == p.version.Minor

	case ">":
		return v.Compare(p.version) > 0

	case ">=":
		return v.Compare(p.version) >= 0

	case "<":
		return v.Compare(p.version) < 0

	case "<=":
		return v.Compare(p.version) <= 0

	default:
		return false
	}
}
