// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrCacheCorrupt is the root of every integrity failure reported by
// [Store.Verify] and [Store.VerifyAll].
var ErrCacheCorrupt = errors.New("cache entry corrupt")

// CorruptEntryError reports an entry whose stored bytes no longer hash
// to their key.
type CorruptEntryError struct {
	// Checksum is the entry's key, the hash the bytes should have.
	Checksum string
	// Actual is the hash the bytes do have.
	Actual string
}

func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("cache entry %s: content hashes to %s", e.Checksum, e.Actual)
}

func (e *CorruptEntryError) Unwrap() error { return ErrCacheCorrupt }

// VerifyReport summarizes a [Store.VerifyAll] pass.
type VerifyReport struct {
	// Checked is the number of entries rehashed.
	Checked int
	// Corrupt lists the checksums whose content no longer matched.
	Corrupt []string
	// Evicted is the number of corrupt entries removed.
	Evicted int
}

// Verify rehashes one entry's tarball and compares it against the key.
// A mismatch yields a *CorruptEntryError; the entry is left in place
// for the caller to decide on.
func (s *Store) Verify(ctx context.Context, checksum string) error {
	key, err := normalizeChecksum(checksum)
	if err != nil {
		return err
	}

	f, err := os.Open(filepath.Join(s.entryDir(key), tarballName))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrMiss
		}
		return err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := copyWithContext(ctx, hasher, f); err != nil {
		return fmt.Errorf("hashing cache entry %s: %w", key, err)
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != key {
		return &CorruptEntryError{Checksum: key, Actual: actual}
	}
	return nil
}

// VerifyAll rehashes every entry, evicts the corrupt ones, and sweeps
// stale staging leftovers. It keeps going past individual corruption;
// only I/O failures or cancellation abort the pass.
func (s *Store) VerifyAll(ctx context.Context) (VerifyReport, error) {
	entries, err := s.List()
	if err != nil {
		return VerifyReport{}, err
	}

	var report VerifyReport
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		err := s.Verify(ctx, entry.Checksum)
		switch {
		case err == nil:
			report.Checked++
		case errors.Is(err, ErrCacheCorrupt):
			report.Checked++
			report.Corrupt = append(report.Corrupt, entry.Checksum)
			slog.Warn("evicting corrupt cache entry",
				"checksum", entry.Checksum,
				"package", entry.Package,
				"version", entry.Version)
			if err := s.Remove(entry.Checksum); err != nil {
				return report, err
			}
			report.Evicted++
		case errors.Is(err, ErrMiss):
			// Removed between List and Verify; nothing to do.
		default:
			return report, err
		}
	}

	if err := s.sweepTmp(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// sweepTmp removes staging leftovers older than staleTmpAge. Anything
// younger may belong to an in-flight Put.
func (s *Store) sweepTmp(ctx context.Context) error {
	tmpDir := filepath.Join(s.root, tmpDirName)
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return fmt.Errorf("sweeping staging area: %w", err)
	}

	cutoff := time.Now().Add(-staleTmpAge)
	for _, d := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(tmpDir, d.Name())); err != nil {
			slog.Warn("failed to sweep staging leftover", "name", d.Name(), "error", err)
		}
	}
	return nil
}
