// SPDX-License-Identifier: MPL-2.0

// Package resolver selects one version per package from registry
// metadata such that every dependency constraint is satisfied, every
// selection supports the project's engine version, and yanked versions
// are only used when an existing lockfile pins them.
//
// [Resolver.Resolve] runs an iterative backtracking search over an
// explicit choice-point stack. Candidates for each package are tried in
// a deterministic order: the locked version first when it is still
// viable, then newest first. Dependency edges into already-selected
// packages reuse the selection when the constraint allows it, which is
// how diamonds and cycles resolve without revisiting; otherwise the
// solver rewinds to the most recent choice point with an untried
// candidate. The same inputs always produce the same [Graph].
//
// Resolution failures are typed: [NoCompatibleVersionError] when
// constraints cannot intersect, [EngineMismatchError] when no version
// supports the project's engine, [CycleError] when a requirement cycle
// cannot be satisfied by version reuse, and [UnknownPackageError] for
// names the registry does not know. When the whole search space is
// exhausted, the deepest dead-end is the one reported.
//
// The resolver fetches metadata through a [registry.Client], memoizes
// it per run, and prefetches likely-needed packages in the background.
// It performs no other I/O.
package resolver
