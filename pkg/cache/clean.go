// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

type (
	// Policy selects which entries [Store.Clean] removes. Referenced
	// entries survive every policy.
	Policy interface {
		policy()
	}

	// Unreferenced removes entries no lockfile references.
	Unreferenced struct{}

	// TTL removes entries not used within MaxAge.
	TTL struct {
		MaxAge time.Duration
	}

	// LRU removes the least recently used entries until the store's
	// total tarball bytes fit under MaxBytes.
	LRU struct {
		MaxBytes int64
	}
)

func (Unreferenced) policy() {}
func (TTL) policy()          {}
func (LRU) policy()          {}

// Clean applies a policy and returns the removed entries, sorted by
// package, version, then checksum. referenced holds the checksums that
// must be kept regardless of policy, typically the union of every
// project lockfile on the machine. Stale staging leftovers are swept
// on every call.
func (s *Store) Clean(ctx context.Context, p Policy, referenced map[string]bool) ([]Entry, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(referenced))
	for checksum, ok := range referenced {
		if !ok {
			continue
		}
		key, err := normalizeChecksum(checksum)
		if err != nil {
			continue
		}
		keep[key] = true
	}

	var victims []Entry
	switch p := p.(type) {
	case Unreferenced:
		for _, e := range entries {
			if !keep[e.Checksum] {
				victims = append(victims, e)
			}
		}
	case TTL:
		cutoff := time.Now().Add(-p.MaxAge)
		for _, e := range entries {
			if keep[e.Checksum] {
				continue
			}
			if e.LastUsed.Before(cutoff) {
				victims = append(victims, e)
			}
		}
	case LRU:
		victims = lruVictims(entries, keep, p.MaxBytes)
	}

	var removed []Entry
	for _, e := range victims {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.Remove(e.Checksum); err != nil {
			return removed, err
		}
		slog.Debug("removed cache entry",
			"checksum", e.Checksum,
			"package", e.Package,
			"version", e.Version,
			"size", e.Size)
		removed = append(removed, e)
	}

	slices.SortFunc(removed, compareEntries)

	if err := s.sweepTmp(ctx); err != nil {
		return removed, err
	}
	return removed, nil
}

// lruVictims picks the oldest unreferenced entries until the total
// size of what remains fits under maxBytes.
func lruVictims(entries []Entry, keep map[string]bool, maxBytes int64) []Entry {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	if total <= maxBytes {
		return nil
	}

	byAge := slices.Clone(entries)
	slices.SortFunc(byAge, func(a, b Entry) int {
		if c := a.LastUsed.Compare(b.LastUsed); c != 0 {
			return c
		}
		return compareEntries(a, b)
	})

	var victims []Entry
	for _, e := range byAge {
		if total <= maxBytes {
			break
		}
		if keep[e.Checksum] {
			continue
		}
		victims = append(victims, e)
		total -= e.Size
	}
	return victims
}
