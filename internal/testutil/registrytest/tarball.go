// SPDX-License-Identifier: MPL-2.0

package registrytest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/exp/maps"
)

// TarGz builds a gzipped tarball of files, keyed by archive path. Paths
// ending in "/" become directories. Output is deterministic: entries
// are emitted in sorted order with zeroed timestamps, so the same map
// always produces the same checksum.
func TarGz(files map[string]string) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	paths := maps.Keys(files)
	slices.Sort(paths)

	for _, path := range paths {
		content := files[path]
		if strings.HasSuffix(path, "/") {
			hdr := &tar.Header{
				Name:     path,
				Typeflag: tar.TypeDir,
				Mode:     0o755,
			}
			if err := tw.WriteHeader(hdr); err != nil {
				panic(fmt.Sprintf("registrytest: writing tar header: %v", err))
			}
			continue
		}

		hdr := &tar.Header{
			Name:     path,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			panic(fmt.Sprintf("registrytest: writing tar header: %v", err))
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			panic(fmt.Sprintf("registrytest: writing tar entry: %v", err))
		}
	}

	if err := tw.Close(); err != nil {
		panic(fmt.Sprintf("registrytest: closing tar writer: %v", err))
	}
	if err := gz.Close(); err != nil {
		panic(fmt.Sprintf("registrytest: closing gzip writer: %v", err))
	}
	return buf.Bytes()
}

// PluginTarGz builds a minimal plugin tarball: a <name>/ directory
// holding a <Descriptor>.plugin file plus any extra files.
func PluginTarGz(name, descriptor string, extra map[string]string) []byte {
	files := map[string]string{
		name + "/" + descriptor + ".plugin": "{\n  \"FriendlyName\": \"" + name + "\"\n}\n",
	}
	for path, content := range extra {
		files[name+"/"+path] = content
	}
	return TarGz(files)
}
