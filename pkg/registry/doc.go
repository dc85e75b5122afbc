// SPDX-License-Identifier: MPL-2.0

// Package registry defines the client interface for package registries
// and provides the HTTP implementation.
//
// A registry stores published plugin packages. For each package it
// serves a metadata document listing every published version with its
// dependencies, supported engine range, tarball checksum, and yanked
// flag, plus per-version artifacts: the gzipped tarball itself and a
// detached ed25519 signature over the tarball's SHA-256 digest.
//
// The [Client] interface abstracts the transport so resolution and
// installation never depend on a concrete backend:
//   - [HTTPClient]: talks to a registry server over its REST API
//   - [WithRetry]: decorates any Client with bounded exponential backoff
//     for transient failures
//
// Failures are classified into sentinel errors ([ErrNotFound],
// [ErrUnauthorized], [ErrTimeout], [ErrServer]) carried by a
// [*TransportError], so callers can match with errors.Is regardless of
// the backend. [Retryable] reports which of these classes are safe to
// retry.
package registry
