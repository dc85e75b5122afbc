// SPDX-License-Identifier: MPL-2.0

package install

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/exp/maps"

	"pluginpm/pkg/lockfile"
	"pluginpm/pkg/manifest"
	"pluginpm/pkg/registry"
	"pluginpm/pkg/version"
)

type (
	// OutdatedPackage is a direct dependency whose newest selectable
	// version differs from the locked one.
	OutdatedPackage struct {
		// Name is the package identifier.
		Name string
		// Constraint is the manifest constraint for the dependency.
		Constraint version.Constraint
		// Locked is the version pinned by the lockfile.
		Locked version.Version
		// Latest is the newest non-yanked version that matches the
		// constraint and supports the project engine.
		Latest version.Version
	}

	// OutdatedReport summarizes an outdated check over every direct
	// dependency. Per-package failures land in Errors instead of
	// aborting the check, so one unreachable package does not hide
	// results for the rest.
	OutdatedReport struct {
		// Outdated lists dependencies with a different latest version,
		// sorted by name.
		Outdated []OutdatedPackage
		// UpToDate counts dependencies already at their latest version.
		UpToDate int
		// Errors maps package names to the failure that prevented a
		// comparison.
		Errors map[string]error
	}
)

// Outdated compares every direct dependency's locked version against
// the newest version the registry offers within the manifest
// constraint. Both a manifest and a lockfile are required; run Install
// first on a fresh project.
func (inst *Installer) Outdated(ctx context.Context, projectDir string) (*OutdatedReport, error) {
	man, err := manifest.LoadDir(projectDir)
	if err != nil {
		return nil, err
	}
	lock, err := lockfile.LoadDir(projectDir)
	if err != nil {
		return nil, err
	}

	deps := man.Requirements(inst.devDeps)
	names := maps.Keys(deps)
	slices.Sort(names)

	report := &OutdatedReport{Errors: make(map[string]error)}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, ok := lock.Package(name)
		if !ok {
			report.Errors[name] = fmt.Errorf("not in lockfile; run install first")
			continue
		}
		locked, err := version.Parse(entry.Version)
		if err != nil {
			report.Errors[name] = fmt.Errorf("locked version %q: %w", entry.Version, err)
			continue
		}

		meta, err := inst.client.FetchMetadata(ctx, name)
		if err != nil {
			report.Errors[name] = err
			continue
		}

		latest, ok := latestSelectable(meta, deps[name], man.Engine)
		if !ok {
			report.Errors[name] = fmt.Errorf("no version matches %s", deps[name])
			continue
		}

		if latest.Equal(locked) {
			report.UpToDate++
			continue
		}
		report.Outdated = append(report.Outdated, OutdatedPackage{
			Name:       name,
			Constraint: deps[name],
			Locked:     locked,
			Latest:     latest,
		})
	}
	return report, nil
}

// latestSelectable returns the newest non-yanked version that matches
// the constraint and supports the engine. A zero engine skips the
// engine check.
func latestSelectable(meta *registry.PackageMetadata, c version.Constraint, engine version.Version) (version.Version, bool) {
	for _, info := range meta.Versions {
		if info.Yanked {
			continue
		}
		if !engine.IsZero() && !info.Engines.Contains(engine) {
			continue
		}
		if !c.Matches(info.Version) {
			continue
		}
		return info.Version, true
	}
	return version.Version{}, false
}
