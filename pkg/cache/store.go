// SPDX-License-Identifier: MPL-2.0

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// storeVersion names the on-disk layout generation.
	storeVersion = "v1"

	// tarballName is the archive file inside each entry directory.
	tarballName = "package.tgz"

	// sidecarName is the metadata file inside each entry directory.
	sidecarName = "entry.toml"

	// tmpDirName is the staging area for in-flight writes.
	tmpDirName = "tmp"

	// staleTmpAge is how old a tmp leftover must be before sweeps
	// remove it. In-flight writes are always younger than this.
	staleTmpAge = time.Hour
)

// ErrMiss is returned when a checksum is not in the store.
var ErrMiss = errors.New("cache miss")

type (
	// Meta names the package a tarball belongs to, recorded in the
	// entry's sidecar for listings and diagnostics.
	Meta struct {
		Package string
		Version string
	}

	// Entry describes one cached tarball.
	Entry struct {
		// Checksum is the lowercase hex SHA-256 of the tarball, and
		// the entry's key in the store.
		Checksum string
		// Package and Version echo the sidecar metadata.
		Package string
		Version string
		// Size is the tarball size in bytes.
		Size int64
		// Fetched is when the entry was first stored.
		Fetched time.Time
		// LastUsed is when the entry was last read (tarball mtime).
		LastUsed time.Time
	}

	// Store is a handle to a content-addressed package store rooted at
	// a directory. It is safe for concurrent use.
	Store struct {
		root string // <root>/v1

		mu    sync.Mutex
		locks map[string]*entryLock
	}

	// entryLock serializes writers of one checksum key.
	entryLock struct {
		mu   sync.Mutex
		refs int
	}

	// sidecar is the TOML shape of entry.toml.
	sidecar struct {
		Package   string    `toml:"package"`
		Version   string    `toml:"version"`
		FetchedAt time.Time `toml:"fetched_at"`
	}
)

// DefaultRoot returns the per-user store location, ~/.pluginpm/store.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".pluginpm", "store"), nil
}

// Open creates the store tree under root if needed and returns a handle.
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("store root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving store root: %w", err)
	}

	versioned := filepath.Join(abs, storeVersion)
	if err := os.MkdirAll(filepath.Join(versioned, "packages"), 0o755); err != nil {
		return nil, fmt.Errorf("creating store tree: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(versioned, tmpDirName), 0o755); err != nil {
		return nil, fmt.Errorf("creating store tree: %w", err)
	}

	return &Store{
		root:  versioned,
		locks: make(map[string]*entryLock),
	}, nil
}

// Put streams a tarball into the store, hashing as it copies, and
// returns the entry it landed under. The key is the hash of the bytes
// actually written; callers compare Entry.Checksum against the expected
// value. Storing a checksum that already exists is a no-op success.
func (s *Store) Put(ctx context.Context, r io.Reader, meta Meta) (Entry, error) {
	// Stream to the staging area first: the key is unknown until the
	// bytes are hashed.
	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDirName), "put-*")
	if err != nil {
		return Entry{}, fmt.Errorf("creating staging file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() { _ = os.Remove(tmpName) }()

	hasher := sha256.New()
	size, err := copyWithContext(ctx, io.MultiWriter(tmpFile, hasher), r)
	closeErr := tmpFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return Entry{}, fmt.Errorf("staging tarball: %w", err)
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))

	unlock := s.lockKey(checksum)
	defer unlock()

	entryDir := s.entryDir(checksum)
	if _, statErr := os.Stat(entryDir); statErr == nil {
		// Same content is already stored; the staged copy is redundant.
		return s.entryInfo(checksum)
	}

	// Assemble the complete entry in staging, then rename it into
	// place so packages/ only ever holds complete entries.
	stageDir, err := os.MkdirTemp(filepath.Join(s.root, tmpDirName), checksum[:12]+"-*")
	if err != nil {
		return Entry{}, fmt.Errorf("creating staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(stageDir) }()

	if err := os.Rename(tmpName, filepath.Join(stageDir, tarballName)); err != nil {
		return Entry{}, fmt.Errorf("staging tarball: %w", err)
	}

	side := sidecar{
		Package:   meta.Package,
		Version:   meta.Version,
		FetchedAt: time.Now().UTC().Truncate(time.Second),
	}
	sideData, err := toml.Marshal(side)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding sidecar: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stageDir, sidecarName), sideData, 0o644); err != nil {
		return Entry{}, fmt.Errorf("writing sidecar: %w", err)
	}

	if err := os.Rename(stageDir, entryDir); err != nil {
		// Another process may have installed the same content between
		// the existence check and the rename; that still counts as
		// stored.
		if _, statErr := os.Stat(entryDir); statErr == nil {
			return s.entryInfo(checksum)
		}
		return Entry{}, fmt.Errorf("installing cache entry: %w", err)
	}

	return Entry{
		Checksum: checksum,
		Package:  meta.Package,
		Version:  meta.Version,
		Size:     size,
		Fetched:  side.FetchedAt,
		LastUsed: side.FetchedAt,
	}, nil
}

// Get opens the cached tarball for a checksum and touches its
// last-used time. Absent keys yield ErrMiss.
func (s *Store) Get(checksum string) (io.ReadCloser, Entry, error) {
	key, err := normalizeChecksum(checksum)
	if err != nil {
		return nil, Entry{}, err
	}

	entry, err := s.entryInfo(key)
	if err != nil {
		return nil, Entry{}, err
	}

	tarball := filepath.Join(s.entryDir(key), tarballName)
	f, err := os.Open(tarball)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Entry{}, ErrMiss
		}
		return nil, Entry{}, err
	}

	// Track recency for LRU cleaning via the tarball mtime; readers
	// never rewrite the sidecar.
	now := time.Now()
	if err := os.Chtimes(tarball, now, now); err != nil {
		slog.Warn("failed to touch cache entry", "checksum", key, "error", err)
	}
	entry.LastUsed = now

	return f, entry, nil
}

// Contains reports whether the store holds a complete entry for checksum.
func (s *Store) Contains(checksum string) bool {
	key, err := normalizeChecksum(checksum)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(s.entryDir(key), tarballName))
	return err == nil
}

// Remove deletes an entry. Removing an absent key is a no-op.
func (s *Store) Remove(checksum string) error {
	key, err := normalizeChecksum(checksum)
	if err != nil {
		return err
	}

	unlock := s.lockKey(key)
	defer unlock()

	if err := os.RemoveAll(s.entryDir(key)); err != nil {
		return fmt.Errorf("removing cache entry %s: %w", key, err)
	}
	return nil
}

// List returns every complete entry, sorted by package name, then
// version, then checksum. Entries whose sidecar cannot be read are
// skipped with a warning.
func (s *Store) List() ([]Entry, error) {
	dirs, err := os.ReadDir(filepath.Join(s.root, "packages"))
	if err != nil {
		return nil, fmt.Errorf("listing store: %w", err)
	}

	entries := make([]Entry, 0, len(dirs))
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		key, err := normalizeChecksum(d.Name())
		if err != nil {
			continue
		}
		entry, err := s.entryInfo(key)
		if err != nil {
			slog.Warn("skipping unreadable cache entry", "checksum", d.Name(), "error", err)
			continue
		}
		entries = append(entries, entry)
	}

	slices.SortFunc(entries, compareEntries)
	return entries, nil
}

// Stats reports the number of entries and their total tarball bytes.
func (s *Store) Stats() (count int, totalBytes int64, err error) {
	entries, err := s.List()
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		totalBytes += e.Size
	}
	return len(entries), totalBytes, nil
}

// entryInfo assembles an Entry from the sidecar and the tarball stat.
func (s *Store) entryInfo(key string) (Entry, error) {
	dir := s.entryDir(key)

	info, err := os.Stat(filepath.Join(dir, tarballName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, ErrMiss
		}
		return Entry{}, err
	}

	entry := Entry{
		Checksum: key,
		Size:     info.Size(),
		LastUsed: info.ModTime(),
	}

	sideData, err := os.ReadFile(filepath.Join(dir, sidecarName))
	if err != nil {
		return Entry{}, fmt.Errorf("reading sidecar: %w", err)
	}
	var side sidecar
	if err := toml.Unmarshal(sideData, &side); err != nil {
		return Entry{}, fmt.Errorf("parsing sidecar: %w", err)
	}
	entry.Package = side.Package
	entry.Version = side.Version
	entry.Fetched = side.FetchedAt

	return entry, nil
}

func (s *Store) entryDir(key string) string {
	return filepath.Join(s.root, "packages", key)
}

// lockKey acquires the in-process lock for one checksum key. The
// returned func releases it.
func (s *Store) lockKey(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// normalizeChecksum lowercases and validates a checksum key. Keys name
// directories, so anything but 64 hex characters is rejected.
func normalizeChecksum(checksum string) (string, error) {
	key := strings.ToLower(checksum)
	if len(key) != 64 {
		return "", fmt.Errorf("invalid checksum %q: want 64 hex characters", checksum)
	}
	for _, c := range key {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("invalid checksum %q: want 64 hex characters", checksum)
		}
	}
	return key, nil
}

func compareEntries(a, b Entry) int {
	if c := strings.Compare(a.Package, b.Package); c != 0 {
		return c
	}
	if c := strings.Compare(a.Version, b.Version); c != 0 {
		return c
	}
	return strings.Compare(a.Checksum, b.Checksum)
}

// copyWithContext copies src to dst, checking for cancellation between
// chunks so large downloads abort promptly.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
