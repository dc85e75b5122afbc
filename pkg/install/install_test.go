// SPDX-License-Identifier: MPL-2.0

package install

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pluginpm/internal/testutil/registrytest"
	"pluginpm/pkg/cache"
	"pluginpm/pkg/lockfile"
	"pluginpm/pkg/manifest"
	"pluginpm/pkg/registry"
	"pluginpm/pkg/resolver"
	"pluginpm/pkg/signature"
	"pluginpm/pkg/version"
)

// testEnv bundles the fixtures an installer test needs: a fake
// registry, a real store, a keyring trusting one signing key, and an
// empty project directory.
type testEnv struct {
	reg     *registrytest.Registry
	store   *cache.Store
	keys    *signature.Keyring
	priv    ed25519.PrivateKey
	project string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	pub, priv, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("cache.Open() error = %v", err)
	}
	return &testEnv{
		reg:     registrytest.New(),
		store:   store,
		keys:    signature.NewKeyring(pub),
		priv:    priv,
		project: t.TempDir(),
	}
}

// installer builds an Installer with fast retries.
func (e *testEnv) installer(t *testing.T, opts ...Option) *Installer {
	t.Helper()
	base := []Option{WithRetryPolicy(registry.RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	})}
	return New(e.reg, e.store, e.keys, append(base, opts...)...)
}

// publish registers a complete installable package: metadata, a plugin
// tarball carrying its version, and a valid signature. Returns the
// tarball checksum.
func (e *testEnv) publish(t *testing.T, name, ver string, opts ...registrytest.VersionOption) string {
	t.Helper()
	e.reg.AddVersion(name, ver, opts...)
	data := registrytest.PluginTarGz(name, name, map[string]string{"VERSION.txt": ver})
	checksum := e.reg.AddTarball(name, ver, data)
	e.reg.SignVersion(name, ver, e.priv)
	return checksum
}

func (e *testEnv) install(t *testing.T, opts ...Option) *Result {
	t.Helper()
	res, err := e.installer(t, opts...).Install(context.Background(), e.project)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	return res
}

func writeManifest(t *testing.T, dir string, m *manifest.Manifest) {
	t.Helper()
	if err := m.Save(dir); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
}

func constraints(pairs map[string]string) map[string]version.Constraint {
	out := make(map[string]version.Constraint, len(pairs))
	for name, c := range pairs {
		out[name] = version.MustParseConstraint(c)
	}
	return out
}

func assertFileContent(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	if string(data) != want {
		t.Errorf("%s = %q, want %q", path, data, want)
	}
}

func assertNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Errorf("%s exists, want absent", path)
	}
}

func TestInstallEndToEnd(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "awesome-plugin", "1.2.0", registrytest.WithDependency("lib", "^1.0.0"))
	env.publish(t, "lib", "1.4.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "^1.0.0"}),
	})

	res := env.install(t)

	if res.Graph.Len() != 2 {
		t.Errorf("Graph.Len() = %d, want 2", res.Graph.Len())
	}
	if res.FromCache != 0 {
		t.Errorf("FromCache = %d, want 0", res.FromCache)
	}
	if len(res.Installed) != 2 {
		t.Fatalf("len(Installed) = %d, want 2", len(res.Installed))
	}
	// Dependencies materialize before their dependents.
	if got := res.Installed[0].Name; got != "lib" {
		t.Errorf("Installed[0].Name = %q, want lib", got)
	}
	if got := res.Installed[1].Path; got != "Plugins/awesome-plugin" {
		t.Errorf("Installed[1].Path = %q, want Plugins/awesome-plugin", got)
	}

	plugins := filepath.Join(env.project, "Plugins")
	assertFileContent(t, filepath.Join(plugins, "awesome-plugin", "VERSION.txt"), "1.2.0")
	assertFileContent(t, filepath.Join(plugins, "lib", "VERSION.txt"), "1.4.0")
	if _, err := os.Stat(filepath.Join(plugins, "awesome-plugin", "awesome-plugin.plugin")); err != nil {
		t.Errorf("descriptor missing: %v", err)
	}

	lock, err := lockfile.LoadDir(env.project)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if entry, ok := lock.Package("lib"); !ok || entry.Version != "1.4.0" {
		t.Errorf("lockfile lib entry = %+v, ok=%v, want 1.4.0", entry, ok)
	}
	if len(res.Diff.Added) != 2 {
		t.Errorf("len(Diff.Added) = %d, want 2", len(res.Diff.Added))
	}

	rec, err := LoadRecord(env.project)
	if err != nil {
		t.Fatalf("LoadRecord() error = %v", err)
	}
	if len(rec.Plugins) != 2 {
		t.Errorf("record has %d plugins, want 2", len(rec.Plugins))
	}
	chains, ok := rec.Why("lib")
	if !ok || len(chains) != 1 || len(chains[0]) != 2 ||
		chains[0][0] != "awesome-plugin" || chains[0][1] != "lib" {
		t.Errorf("Why(lib) = %v, %v, want [[awesome-plugin lib]]", chains, ok)
	}
}

func TestInstallReproducedFromLockfile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "awesome-plugin", "1.0.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "^1.0.0"}),
	})
	env.install(t)

	// A newer version appears, but the lockfile pin must hold.
	env.publish(t, "awesome-plugin", "1.5.0")

	res := env.install(t)
	if !res.Diff.Empty() {
		t.Errorf("Diff = %+v, want empty on reproduced install", res.Diff)
	}
	if res.FromCache != 1 {
		t.Errorf("FromCache = %d, want 1", res.FromCache)
	}
	pkg, _ := res.Graph.Package("awesome-plugin")
	if got := pkg.Version.String(); got != "1.0.0" {
		t.Errorf("version = %s, want locked 1.0.0", got)
	}
}

func TestInstallSecondProjectServedFromCache(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "awesome-plugin", "1.2.0", registrytest.WithDependency("lib", "^1.0.0"))
	env.publish(t, "lib", "1.4.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "^1.0.0"}),
	})
	env.install(t)

	downloads := env.reg.TotalCalls(registrytest.OpTarball)
	sigFetches := env.reg.TotalCalls(registrytest.OpSignature)

	second := t.TempDir()
	writeManifest(t, second, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "^1.0.0"}),
	})
	res, err := env.installer(t).Install(context.Background(), second)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if res.FromCache != 2 {
		t.Errorf("FromCache = %d, want 2", res.FromCache)
	}
	if got := env.reg.TotalCalls(registrytest.OpTarball); got != downloads {
		t.Errorf("tarball fetches = %d, want unchanged %d", got, downloads)
	}
	if got := env.reg.TotalCalls(registrytest.OpSignature); got != sigFetches {
		t.Errorf("signature fetches = %d, want unchanged %d", got, sigFetches)
	}
	assertFileContent(t, filepath.Join(second, "Plugins", "lib", "VERSION.txt"), "1.4.0")

	// The same manifest against the same registry pins the same bytes.
	first, err := os.ReadFile(filepath.Join(env.project, lockfile.Filename))
	if err != nil {
		t.Fatal(err)
	}
	dup, err := os.ReadFile(filepath.Join(second, lockfile.Filename))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, dup) {
		t.Errorf("lockfiles differ across identical installs:\n%s---\n%s", first, dup)
	}
}

func TestInstallBadSignatureAborts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.reg.AddVersion("awesome-plugin", "1.0.0")
	data := registrytest.PluginTarGz("awesome-plugin", "awesome-plugin", nil)
	checksum := env.reg.AddTarball("awesome-plugin", "1.0.0", data)
	env.reg.SetSignature("awesome-plugin", "1.0.0", bytes.Repeat([]byte{0x42}, ed25519.SignatureSize))
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "*"}),
	})

	_, err := env.installer(t).Install(context.Background(), env.project)
	if !errors.Is(err, signature.ErrSignatureInvalid) {
		t.Fatalf("Install() error = %v, want ErrSignatureInvalid", err)
	}

	// The transaction must leave no trace: no lockfile, no record, no
	// plugins, and the rejected artifact evicted from the store.
	if _, err := lockfile.LoadDir(env.project); !errors.Is(err, lockfile.ErrNotFound) {
		t.Errorf("lockfile present after failed install (err = %v)", err)
	}
	if _, err := LoadRecord(env.project); !errors.Is(err, ErrNoRecord) {
		t.Errorf("record present after failed install (err = %v)", err)
	}
	assertNotExists(t, filepath.Join(env.project, "Plugins"))
	if env.store.Contains(checksum) {
		t.Error("unverified artifact left in store")
	}
}

func TestInstallChecksumMismatchAborts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.reg.AddVersion("awesome-plugin", "1.0.0")
	data := registrytest.PluginTarGz("awesome-plugin", "awesome-plugin", nil)
	// Served bytes do not match the published placeholder checksum.
	env.reg.SetTarball("awesome-plugin", "1.0.0", data)
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "*"}),
	})

	_, err := env.installer(t).Install(context.Background(), env.project)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Install() error = %v, want ErrChecksumMismatch", err)
	}

	var mismatch *ChecksumError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Install() error = %T, want *ChecksumError", err)
	}
	if mismatch.Package != "awesome-plugin" || mismatch.Expected == mismatch.Got {
		t.Errorf("ChecksumError = %+v, want differing sums for awesome-plugin", mismatch)
	}
	if env.store.Contains(mismatch.Got) {
		t.Error("mismatched artifact left in store")
	}
	if _, err := lockfile.LoadDir(env.project); !errors.Is(err, lockfile.ErrNotFound) {
		t.Errorf("lockfile present after failed install (err = %v)", err)
	}
}

func TestInstallOneBadPackageAbortsAll(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "good-plugin", "1.0.0")
	env.reg.AddVersion("bad-plugin", "1.0.0")
	env.reg.AddTarball("bad-plugin", "1.0.0", registrytest.PluginTarGz("bad-plugin", "bad-plugin", nil))
	env.reg.SetSignature("bad-plugin", "1.0.0", bytes.Repeat([]byte{0x13}, ed25519.SignatureSize))
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"good-plugin": "*", "bad-plugin": "*"}),
	})

	_, err := env.installer(t).Install(context.Background(), env.project)
	if !errors.Is(err, signature.ErrSignatureInvalid) {
		t.Fatalf("Install() error = %v, want ErrSignatureInvalid", err)
	}
	if !strings.Contains(err.Error(), "bad-plugin") {
		t.Errorf("error %q does not name the failing package", err)
	}

	// Not even the good half of the tree may be materialized.
	assertNotExists(t, filepath.Join(env.project, "Plugins"))
	if _, err := lockfile.LoadDir(env.project); !errors.Is(err, lockfile.ErrNotFound) {
		t.Errorf("lockfile present after failed install (err = %v)", err)
	}
}

func TestInstallUpgradeReplacesPlugin(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "terrain-tools", "1.0.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"terrain-tools": "^1.0.0"}),
	})
	env.install(t)

	env.publish(t, "terrain-tools", "2.0.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"terrain-tools": "^2.0.0"}),
	})

	res := env.install(t)

	if len(res.Diff.Upgraded) != 1 {
		t.Fatalf("Diff.Upgraded = %+v, want one entry", res.Diff.Upgraded)
	}
	up := res.Diff.Upgraded[0]
	if up.Name != "terrain-tools" || up.From.String() != "1.0.0" || up.To.String() != "2.0.0" {
		t.Errorf("Upgraded = %+v, want terrain-tools 1.0.0 -> 2.0.0", up)
	}

	pluginDir := filepath.Join(env.project, "Plugins", "terrain-tools")
	assertFileContent(t, filepath.Join(pluginDir, "VERSION.txt"), "2.0.0")

	// Neither the backup nor any staging directory may survive.
	entries, err := os.ReadDir(filepath.Join(env.project, "Plugins"))
	if err != nil {
		t.Fatalf("ReadDir(Plugins) error = %v", err)
	}
	for _, e := range entries {
		if e.Name() != "terrain-tools" {
			t.Errorf("unexpected entry in Plugins: %s", e.Name())
		}
	}
}

func TestInstallFindsRootByDescriptor(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.reg.AddVersion("render-kit", "1.0.0")
	// The archive's top-level folder does not match the package name;
	// the descriptor file identifies the plugin root.
	data := registrytest.TarGz(map[string]string{
		"RenderKitExport/render-kit.plugin": "{}\n",
		"RenderKitExport/Content/mesh.txt":  "mesh\n",
	})
	env.reg.AddTarball("render-kit", "1.0.0", data)
	env.reg.SignVersion("render-kit", "1.0.0", env.priv)
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"render-kit": "*"}),
	})

	env.install(t)

	assertFileContent(t, filepath.Join(env.project, "Plugins", "render-kit", "Content", "mesh.txt"), "mesh\n")
	assertNotExists(t, filepath.Join(env.project, "Plugins", "RenderKitExport"))
}

func TestInstallAdoptsRenamedPluginDir(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "terrain-tools", "1.0.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"terrain-tools": "*"}),
	})

	// A previous tool installed the same plugin under a vanity name.
	old := filepath.Join(env.project, "Plugins", "TerrainToolsPro")
	if err := os.MkdirAll(old, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(old, "terrain-tools.plugin"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	env.install(t)

	assertFileContent(t, filepath.Join(env.project, "Plugins", "terrain-tools", "VERSION.txt"), "1.0.0")
	assertNotExists(t, old)
	assertNotExists(t, old+backupSuffix)
}

func TestInstallRejectsTraversalEntries(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.reg.AddVersion("evil-plugin", "1.0.0")
	data := registrytest.TarGz(map[string]string{
		"../escape.txt": "outside\n",
	})
	env.reg.AddTarball("evil-plugin", "1.0.0", data)
	env.reg.SignVersion("evil-plugin", "1.0.0", env.priv)
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"evil-plugin": "*"}),
	})

	_, err := env.installer(t).Install(context.Background(), env.project)
	if err == nil || !strings.Contains(err.Error(), "escapes the extraction root") {
		t.Fatalf("Install() error = %v, want extraction-root rejection", err)
	}
	assertNotExists(t, filepath.Join(env.project, "escape.txt"))
}

func TestInstallRejectsLinkEntries(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.reg.AddVersion("evil-plugin", "1.0.0")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	hdr := &tar.Header{
		Name:     "evil-plugin/link",
		Typeflag: tar.TypeSymlink,
		Linkname: "/etc/passwd",
		Mode:     0o777,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	env.reg.AddTarball("evil-plugin", "1.0.0", buf.Bytes())
	env.reg.SignVersion("evil-plugin", "1.0.0", env.priv)
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"evil-plugin": "*"}),
	})

	_, err := env.installer(t).Install(context.Background(), env.project)
	if err == nil || !strings.Contains(err.Error(), "unsupported type") {
		t.Fatalf("Install() error = %v, want unsupported entry type", err)
	}
}

func TestInstallMaterializeFailureKeepsOldInstall(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "terrain-tools", "1.0.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"terrain-tools": "^1.0.0"}),
	})
	env.install(t)

	// Version 2.0.0 is properly signed but its archive is hostile, so
	// it fails during extraction, after fetch and verify.
	env.reg.AddVersion("terrain-tools", "2.0.0")
	evil := registrytest.TarGz(map[string]string{"../escape.txt": "outside\n"})
	env.reg.AddTarball("terrain-tools", "2.0.0", evil)
	env.reg.SignVersion("terrain-tools", "2.0.0", env.priv)
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"terrain-tools": "^2.0.0"}),
	})

	_, err := env.installer(t).Install(context.Background(), env.project)
	if err == nil || !strings.Contains(err.Error(), "materializing terrain-tools@2.0.0") {
		t.Fatalf("Install() error = %v, want materialize failure", err)
	}

	assertFileContent(t, filepath.Join(env.project, "Plugins", "terrain-tools", "VERSION.txt"), "1.0.0")
	assertNotExists(t, filepath.Join(env.project, "escape.txt"))
}

func TestInstallYankedPinnedWarns(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "awesome-plugin", "1.0.0")
	sum := env.publish(t, "awesome-plugin", "1.2.0", registrytest.Yanked())

	lock := lockfile.New()
	lock.Packages = append(lock.Packages, lockfile.Entry{
		Name:     "awesome-plugin",
		Version:  "1.2.0",
		Checksum: sum,
		Source:   registrytest.Source,
	})
	if err := lock.SaveDir(env.project); err != nil {
		t.Fatalf("SaveDir() error = %v", err)
	}
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "^1.0.0"}),
	})

	var logBuf bytes.Buffer
	res := env.install(t, WithLogger(slog.New(slog.NewTextHandler(&logBuf, nil))))

	pkg, _ := res.Graph.Package("awesome-plugin")
	if got := pkg.Version.String(); got != "1.2.0" {
		t.Errorf("version = %s, want pinned 1.2.0", got)
	}
	if !strings.Contains(logBuf.String(), "yanked") {
		t.Errorf("log output = %q, want a yanked warning", logBuf.String())
	}
}

func TestInstallDevDependencies(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "awesome-plugin", "1.0.0")
	env.publish(t, "debug-overlay", "1.0.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies:    constraints(map[string]string{"awesome-plugin": "*"}),
		DevDependencies: constraints(map[string]string{"debug-overlay": "*"}),
	})

	res := env.install(t)
	if res.Graph.Len() != 1 {
		t.Errorf("default install resolved %d packages, want 1", res.Graph.Len())
	}
	assertNotExists(t, filepath.Join(env.project, "Plugins", "debug-overlay"))

	res = env.install(t, WithDevDependencies())
	if res.Graph.Len() != 2 {
		t.Errorf("dev install resolved %d packages, want 2", res.Graph.Len())
	}
	assertFileContent(t, filepath.Join(env.project, "Plugins", "debug-overlay", "VERSION.txt"), "1.0.0")
}

func TestInstallWithoutVerificationSkipsSignatures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	// No signature published at all; only verification-off can install.
	env.reg.AddVersion("awesome-plugin", "1.0.0")
	env.reg.AddTarball("awesome-plugin", "1.0.0",
		registrytest.PluginTarGz("awesome-plugin", "awesome-plugin", nil))
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "*"}),
	})

	env.install(t, WithoutVerification())

	if got := env.reg.TotalCalls(registrytest.OpSignature); got != 0 {
		t.Errorf("signature fetches = %d, want 0", got)
	}
}

func TestInstallEmptyKeyringRefuses(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "awesome-plugin", "1.0.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "*"}),
	})

	inst := New(env.reg, env.store, signature.NewKeyring())
	_, err := inst.Install(context.Background(), env.project)
	if !errors.Is(err, signature.ErrNoTrustedKeys) {
		t.Fatalf("Install() error = %v, want ErrNoTrustedKeys", err)
	}
}

func TestInstallRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "awesome-plugin", "1.0.0")
	env.reg.FailWith(registrytest.OpTarball, "awesome-plugin", &registry.TransportError{
		Op: "tarball", Target: "awesome-plugin@1.0.0", Status: 500, Err: registry.ErrServer,
	}, 2)
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "*"}),
	})

	env.install(t)

	if got := env.reg.Calls(registrytest.OpTarball, "awesome-plugin"); got != 3 {
		t.Errorf("tarball attempts = %d, want 3 (two failures, one success)", got)
	}
}

// gaugeClient wraps a Client and records how many tarball downloads
// are in flight at once.
type gaugeClient struct {
	registry.Client

	mu     sync.Mutex
	active int
	peak   int
}

func (g *gaugeClient) FetchTarball(ctx context.Context, name string, v version.Version) (io.ReadCloser, error) {
	g.mu.Lock()
	g.active++
	if g.active > g.peak {
		g.peak = g.active
	}
	g.mu.Unlock()

	// Hold the slot long enough for unbounded downloads to overlap.
	time.Sleep(5 * time.Millisecond)

	defer func() {
		g.mu.Lock()
		g.active--
		g.mu.Unlock()
	}()
	return g.Client.FetchTarball(ctx, name, v)
}

func (g *gaugeClient) Peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func TestInstallConcurrencyBounded(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	deps := make(map[string]string)
	for _, name := range []string{"pkg-a", "pkg-b", "pkg-c", "pkg-d", "pkg-e", "pkg-f"} {
		env.publish(t, name, "1.0.0")
		deps[name] = "*"
	}
	writeManifest(t, env.project, &manifest.Manifest{Dependencies: constraints(deps)})

	gauge := &gaugeClient{Client: env.reg}
	inst := New(gauge, env.store, env.keys, WithConcurrency(2))
	if _, err := inst.Install(context.Background(), env.project); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if got := gauge.Peak(); got == 0 || got > 2 {
		t.Errorf("peak concurrent downloads = %d, want 1 or 2", got)
	}
	if got := env.reg.TotalCalls(registrytest.OpTarball); got != 6 {
		t.Errorf("tarball fetches = %d, want 6", got)
	}
}

func TestInstallMissingPackageNotRetried(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"ghost": "*"}),
	})

	_, err := env.installer(t).Install(context.Background(), env.project)

	var unknown *resolver.UnknownPackageError
	if !errors.As(err, &unknown) {
		t.Fatalf("Install() error = %v, want *UnknownPackageError", err)
	}
	if got := env.reg.Calls(registrytest.OpMetadata, "ghost"); got != 1 {
		t.Errorf("metadata attempts = %d, want 1 (not found is permanent)", got)
	}
}

func TestInstallEngineMismatchSurfaces(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "render-kit", "1.0.0", registrytest.WithEngines("5.0-5.3"))
	writeManifest(t, env.project, &manifest.Manifest{
		Engine:       version.MustParse("5.4"),
		Dependencies: constraints(map[string]string{"render-kit": "*"}),
	})

	_, err := env.installer(t).Install(context.Background(), env.project)

	var mismatch *resolver.EngineMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Install() error = %v, want *EngineMismatchError", err)
	}
	if n := env.reg.TotalCalls(registrytest.OpTarball); n != 0 {
		t.Errorf("downloaded %d tarballs after resolution failed, want 0", n)
	}
}

func TestResolveDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "awesome-plugin", "1.0.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "*"}),
	})

	g, err := env.installer(t).Resolve(context.Background(), env.project)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}

	if _, err := lockfile.LoadDir(env.project); !errors.Is(err, lockfile.ErrNotFound) {
		t.Errorf("dry run wrote a lockfile (err = %v)", err)
	}
	assertNotExists(t, filepath.Join(env.project, "Plugins"))
	if got := env.reg.TotalCalls(registrytest.OpTarball); got != 0 {
		t.Errorf("dry run fetched %d tarballs, want 0", got)
	}
}

func TestOutdatedReport(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "app-a", "1.0.0")
	env.publish(t, "app-b", "2.1.0")
	env.publish(t, "app-c", "1.0.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{
			"app-a": "^1.0.0",
			"app-b": "^2.0.0",
			"app-c": "^1.0.0",
		}),
	})
	env.install(t)

	// After the install: app-a gains a newer matching version, app-b
	// gains only a yanked one, and app-c's registry entry breaks.
	env.reg.AddVersion("app-a", "1.3.0")
	env.reg.AddVersion("app-b", "2.2.0", registrytest.Yanked())
	env.reg.FailWith(registrytest.OpMetadata, "app-c", &registry.TransportError{
		Op: "metadata", Target: "app-c", Status: 500, Err: registry.ErrServer,
	}, -1)

	report, err := env.installer(t).Outdated(context.Background(), env.project)
	if err != nil {
		t.Fatalf("Outdated() error = %v", err)
	}

	if len(report.Outdated) != 1 {
		t.Fatalf("Outdated = %+v, want one entry", report.Outdated)
	}
	out := report.Outdated[0]
	if out.Name != "app-a" || out.Locked.String() != "1.0.0" || out.Latest.String() != "1.3.0" {
		t.Errorf("Outdated[0] = %+v, want app-a 1.0.0 -> 1.3.0", out)
	}
	if report.UpToDate != 1 {
		t.Errorf("UpToDate = %d, want 1 (app-b ignores its yanked update)", report.UpToDate)
	}
	if _, ok := report.Errors["app-c"]; !ok {
		t.Errorf("Errors = %v, want app-c entry", report.Errors)
	}
}

func TestOutdatedRequiresLockfile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "awesome-plugin", "1.0.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "*"}),
	})

	_, err := env.installer(t).Outdated(context.Background(), env.project)
	if !errors.Is(err, lockfile.ErrNotFound) {
		t.Errorf("Outdated() error = %v, want ErrNotFound", err)
	}
}

func TestCleanCacheKeepsReferencedEntries(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sumA := env.publish(t, "awesome-plugin", "1.0.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "*"}),
	})
	env.install(t)

	orphan, err := env.store.Put(context.Background(),
		bytes.NewReader([]byte("orphaned tarball bytes")), cache.Meta{Package: "orphan", Version: "0.1.0"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	removed, err := env.installer(t).CleanCache(context.Background(), env.project, cache.Unreferenced{})
	if err != nil {
		t.Fatalf("CleanCache() error = %v", err)
	}

	if len(removed) != 1 || removed[0].Checksum != orphan.Checksum {
		t.Errorf("removed = %+v, want only the orphan", removed)
	}
	if !env.store.Contains(sumA) {
		t.Error("referenced entry was evicted")
	}
	if env.store.Contains(orphan.Checksum) {
		t.Error("orphan entry survived")
	}
}

func TestVerifyCacheReportsCleanStore(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.publish(t, "awesome-plugin", "1.0.0")
	writeManifest(t, env.project, &manifest.Manifest{
		Dependencies: constraints(map[string]string{"awesome-plugin": "*"}),
	})
	env.install(t)

	report, err := env.installer(t).VerifyCache(context.Background())
	if err != nil {
		t.Fatalf("VerifyCache() error = %v", err)
	}
	if report.Checked != 1 || len(report.Corrupt) != 0 {
		t.Errorf("report = %+v, want 1 checked, 0 corrupt", report)
	}
}
