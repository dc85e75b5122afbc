// SPDX-License-Identifier: MPL-2.0

package install

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"pluginpm/pkg/resolver"
)

const (
	// descriptorExt marks the file that identifies a plugin root
	// inside a tarball and an installed plugin directory.
	descriptorExt = ".plugin"

	// backupSuffix names the directory an existing installation is
	// moved to while the new version goes in.
	backupSuffix = ".pluginpm_backup"

	// stagePrefix names the temporary extraction directories. Staged
	// trees become visible only through a final rename.
	stagePrefix = ".pluginpm-stage-"

	// maxExtractBytes bounds the unpacked size of one plugin, so a
	// malicious tarball cannot fill the disk.
	maxExtractBytes = 8 << 30
)

// materialize places one cached package into the project's plugins
// directory. The tarball is extracted into a staging directory first
// and renamed into place, with any existing installation backed up and
// restored on failure, so the plugin directory is never half-written.
func (inst *Installer) materialize(ctx context.Context, projectDir string, pkg resolver.ResolvedPackage, graph *resolver.Graph) (InstalledPackage, error) {
	pluginsDir := filepath.Join(projectDir, inst.pluginsDir)
	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		return InstalledPackage{}, err
	}

	rc, _, err := inst.store.Get(pkg.Checksum)
	if err != nil {
		return InstalledPackage{}, fmt.Errorf("reading cached tarball: %w", err)
	}
	defer func() {
		_ = rc.Close()
	}()

	stageDir, err := os.MkdirTemp(pluginsDir, stagePrefix+pkg.Name+"-")
	if err != nil {
		return InstalledPackage{}, err
	}
	defer func() {
		_ = os.RemoveAll(stageDir)
	}()

	if err := extractTarGz(ctx, rc, stageDir); err != nil {
		return InstalledPackage{}, err
	}

	srcDir := findPluginRoot(stageDir, pkg.Name)
	target := filepath.Join(pluginsDir, pkg.Name)

	// The previous installation may live under a different directory
	// name; the descriptor file is the canonical identity.
	existing := findInstalledPlugin(pluginsDir, pkg.Name)
	if existing == "" {
		if _, err := os.Stat(target); err == nil {
			existing = target
		}
	}

	var backup string
	if existing != "" {
		backup = filepath.Join(pluginsDir, pkg.Name+backupSuffix)
		// A stale backup from an interrupted run gives way.
		if err := os.RemoveAll(backup); err != nil {
			return InstalledPackage{}, err
		}
		if err := os.Rename(existing, backup); err != nil {
			return InstalledPackage{}, fmt.Errorf("backing up existing plugin: %w", err)
		}
	}

	// The existing install can live under a different name while an
	// unrelated directory squats on the target path; the target must
	// be clear for the rename.
	if existing != "" && existing != target {
		if err := os.RemoveAll(target); err != nil {
			_ = os.Rename(backup, existing)
			return InstalledPackage{}, err
		}
	}

	if err := os.Rename(srcDir, target); err != nil {
		if backup != "" {
			_ = os.Rename(backup, existing)
		}
		return InstalledPackage{}, fmt.Errorf("installing plugin directory: %w", err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}

	inst.log.Debug("materialized plugin", "package", pkg.Name, "version", pkg.Version, "path", target)

	return InstalledPackage{
		Name:       pkg.Name,
		Version:    pkg.Version.String(),
		Checksum:   strings.ToLower(pkg.Checksum),
		Path:       path.Join(inst.pluginsDir, pkg.Name),
		RequiredBy: graph.Requirers(pkg.Name),
		Roots:      graph.Roots(pkg.Name),
	}, nil
}

// extractTarGz unpacks a gzipped tarball into dest. Entry paths are
// confined to dest: absolute paths, parent traversal, and link entries
// are rejected, and the total unpacked size is bounded.
func extractTarGz(ctx context.Context, r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening tarball: %w", err)
	}
	defer func() {
		_ = gz.Close()
	}()

	tr := tar.NewReader(gz)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tarball: %w", err)
		}

		name, err := sanitizeArchivePath(hdr.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		abs := filepath.Join(dest, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			total += hdr.Size
			if total > maxExtractBytes {
				return fmt.Errorf("tarball exceeds %d bytes unpacked", int64(maxExtractBytes))
			}
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return err
			}
			if err := writeArchiveFile(abs, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			// Metadata entries; the tar reader already consumed them.
		default:
			return fmt.Errorf("tarball entry %q: unsupported type %q", hdr.Name, hdr.Typeflag)
		}
	}
}

// sanitizeArchivePath normalizes one tar entry name and rejects
// anything that could escape the extraction root.
func sanitizeArchivePath(name string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(name, "./"))
	if clean == "." {
		return "", nil
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("tarball entry %q escapes the extraction root", name)
	}
	return clean, nil
}

func writeArchiveFile(abs string, r io.Reader, mode fs.FileMode) error {
	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm()|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// findPluginRoot locates the plugin directory inside an extracted
// tree. The tarball's top-level folder may not match the package name,
// so the descriptor file decides: first a directory holding the
// package's own descriptor, then any directory holding one, then the
// extraction root itself.
func findPluginRoot(dir, name string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return dir
	}

	want := strings.ToLower(name + descriptorExt)
	for _, e := range entries {
		if e.IsDir() && dirHasDescriptor(filepath.Join(dir, e.Name()), want) {
			return filepath.Join(dir, e.Name())
		}
	}
	for _, e := range entries {
		if e.IsDir() && dirHasDescriptor(filepath.Join(dir, e.Name()), "") {
			return filepath.Join(dir, e.Name())
		}
	}
	return dir
}

// findInstalledPlugin scans the plugins directory for the directory
// holding the package's descriptor, case-insensitively. Staging and
// backup directories are not candidates.
func findInstalledPlugin(pluginsDir, name string) string {
	entries, err := os.ReadDir(pluginsDir)
	if err != nil {
		return ""
	}

	want := strings.ToLower(name + descriptorExt)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), stagePrefix) || strings.HasSuffix(e.Name(), backupSuffix) {
			continue
		}
		if dirHasDescriptor(filepath.Join(pluginsDir, e.Name()), want) {
			return filepath.Join(pluginsDir, e.Name())
		}
	}
	return ""
}

// dirHasDescriptor reports whether dir directly contains the named
// descriptor file, or any descriptor when want is empty.
func dirHasDescriptor(dir, want string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		lower := strings.ToLower(e.Name())
		if want == "" {
			if strings.HasSuffix(lower, descriptorExt) {
				return true
			}
			continue
		}
		if lower == want {
			return true
		}
	}
	return false
}
