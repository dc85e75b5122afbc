// SPDX-License-Identifier: MPL-2.0

// Package cache implements the content-addressed package store.
//
// Every cached tarball lives under its own SHA-256 checksum:
//
//	<root>/v1/packages/<checksum>/package.tgz
//	<root>/v1/packages/<checksum>/entry.toml
//	<root>/v1/tmp/
//
// The checksum key always equals the hash of the stored bytes: [Store.Put]
// hashes while it streams and installs entries with an atomic rename, so
// a partially written entry is never visible under packages/. Writers of
// the same key are serialized by an in-process per-key lock; distinct
// keys proceed in parallel.
//
// [Store.Verify] and [Store.VerifyAll] recompute hashes to detect
// corruption after the fact, and [Store.Clean] reclaims space with one
// of three policies (unreferenced, TTL, LRU) while never touching
// entries a lockfile still references.
package cache
