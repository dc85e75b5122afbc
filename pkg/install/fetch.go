// SPDX-License-Identifier: MPL-2.0

package install

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"pluginpm/pkg/cache"
	"pluginpm/pkg/resolver"
	"pluginpm/pkg/signature"
)

// fetchAll makes sure every resolved package is present and verified in
// the store. Downloads run concurrently up to the configured limit;
// the first failure cancels the rest and aborts the transaction.
// Returns how many packages were already cached.
func (inst *Installer) fetchAll(ctx context.Context, graph *resolver.Graph) (int, error) {
	packages := graph.Packages()
	cached := make([]bool, len(packages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inst.concurrency)

	for i, pkg := range packages {
		i, pkg := i, pkg
		g.Go(func() error {
			hit, err := inst.ensurePackage(gctx, pkg)
			if err != nil {
				return err
			}
			cached[i] = hit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	fromCache := 0
	for _, hit := range cached {
		if hit {
			fromCache++
		}
	}
	return fromCache, nil
}

// ensurePackage gets one package into the store: a cache hit by
// checksum is enough; otherwise the tarball is downloaded, re-hashed
// against the published checksum, and its signature verified before
// the entry is allowed to stay. Failed artifacts are evicted so the
// store never holds anything that did not pass the gate.
func (inst *Installer) ensurePackage(ctx context.Context, pkg resolver.ResolvedPackage) (fromCache bool, err error) {
	checksum := strings.ToLower(pkg.Checksum)
	if inst.store.Contains(checksum) {
		inst.log.Debug("package already cached", "package", pkg.Name, "version", pkg.Version)
		return true, nil
	}

	inst.log.Debug("downloading package", "package", pkg.Name, "version", pkg.Version, "source", pkg.Source)

	body, err := inst.client.FetchTarball(ctx, pkg.Name, pkg.Version)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = body.Close()
	}()

	entry, err := inst.store.Put(ctx, body, cache.Meta{
		Package: pkg.Name,
		Version: pkg.Version.String(),
	})
	if err != nil {
		return false, err
	}

	// The store keyed the entry by the hash of what actually arrived;
	// anything but the published checksum means a bad download or a
	// lying registry.
	if entry.Checksum != checksum {
		_ = inst.store.Remove(entry.Checksum)
		return false, &ChecksumError{
			Package:  pkg.Name,
			Version:  pkg.Version,
			Expected: checksum,
			Got:      entry.Checksum,
		}
	}

	if inst.verify {
		if err := inst.verifySignature(ctx, pkg, checksum); err != nil {
			_ = inst.store.Remove(checksum)
			return false, err
		}
	}
	return false, nil
}

// verifySignature checks the registry's detached signature for the
// package digest against the trusted keyring.
func (inst *Installer) verifySignature(ctx context.Context, pkg resolver.ResolvedPackage, checksum string) error {
	sig, err := inst.client.FetchSignature(ctx, pkg.Name, pkg.Version)
	if err != nil {
		return err
	}

	digest, err := signature.DigestFromChecksum(checksum)
	if err != nil {
		return err
	}
	return inst.keys.Verify(pkg.Name+"@"+pkg.Version.String(), digest, sig)
}
