// SPDX-License-Identifier: MPL-2.0

// Package install orchestrates the full dependency installation
// transaction: resolve the manifest, fetch and verify every package,
// pin the result in the lockfile, and materialize plugin contents into
// the project.
//
// [Installer.Install] runs the phases in a fixed order. Resolution
// happens first and a resolution failure aborts before any network or
// filesystem mutation. Tarballs are then fetched concurrently; each one
// is streamed into the content-addressed store, compared against the
// metadata checksum, and its ed25519 signature checked against the
// trusted keyring. The first failure cancels the remaining fetches and
// aborts the transaction: no lockfile is written and nothing is copied
// into the project. Only after every package is cached and verified is
// the lockfile saved and each plugin staged and renamed into the
// plugins directory, with the previous installation backed up and
// restored if materialization fails.
//
// [Installer.Resolve] answers "what would change" without mutating
// anything. [Installer.CleanCache] and [Installer.VerifyCache] expose
// store maintenance with the project lockfile as the referenced set.
// [Installer.Outdated] compares locked versions against the newest
// constraint-satisfying release, aggregating per-package failures
// instead of aborting. [Record.Why] explains, from the persisted
// install record, which manifest dependencies pulled a package in.
package install
