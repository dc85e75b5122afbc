// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"fmt"
	"strings"

	"pluginpm/pkg/version"
)

type (
	// Requirement is one constraint imposed on a package, with the
	// name of the package that imposed it. By is [RootName] for
	// constraints declared in the project manifest.
	Requirement struct {
		By         string
		Constraint version.Constraint
	}

	// NoCompatibleVersionError reports that no published version of a
	// package satisfies the intersection of every constraint imposed
	// on it.
	NoCompatibleVersionError struct {
		// Package is the name that could not be resolved.
		Package string
		// Requirements are the constraints in effect when resolution
		// gave up, in the order they were imposed.
		Requirements []Requirement
		// YankedOnly is true when a yanked version would have
		// satisfied the constraints.
		YankedOnly bool
	}

	// EngineMismatchError reports that none of a package's published
	// versions support the project's engine version.
	EngineMismatchError struct {
		// Package is the name whose versions were all rejected.
		Package string
		// Engine is the project's declared engine version.
		Engine version.Version
		// Available lists the published versions and the engine
		// ranges they support.
		Available []EngineSupport
	}

	// EngineSupport pairs a published version with its engine range,
	// for reporting.
	EngineSupport struct {
		Version version.Version
		Engines version.EngineRange
	}

	// CycleError reports a dependency cycle that no version reuse
	// could satisfy.
	CycleError struct {
		// Packages is the cycle path; the first element is also the
		// target of the closing edge.
		Packages []string
	}

	// UnknownPackageError reports a dependency on a package the
	// registry has never heard of.
	UnknownPackageError struct {
		Package string
	}
)

func (e *NoCompatibleVersionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no version of %s satisfies", e.Package)
	if len(e.Requirements) == 0 {
		b.WriteString(" the given requirements")
	}
	for i, req := range e.Requirements {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, " %s (required by %s)", req.Constraint, req.By)
	}
	if e.YankedOnly {
		b.WriteString("; only yanked versions match")
	}
	return b.String()
}

func (e *EngineMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no version of %s supports engine %s", e.Package, e.Engine)
	if len(e.Available) > 0 {
		b.WriteString(" (available:")
		for i, a := range e.Available {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, " %s for engines %s", a.Version, a.Engines)
		}
		b.WriteString(")")
	}
	return b.String()
}

func (e *CycleError) Error() string {
	path := strings.Join(e.Packages, " -> ")
	if len(e.Packages) > 0 {
		path += " -> " + e.Packages[0]
	}
	return fmt.Sprintf("dependency cycle cannot be satisfied: %s", path)
}

func (e *UnknownPackageError) Error() string {
	return fmt.Sprintf("unknown package %q", e.Package)
}
