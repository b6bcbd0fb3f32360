package lifecycle

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-lynx/pluginhost/internal/blockingpool"
	"github.com/go-lynx/pluginhost/permission"
	"github.com/go-lynx/pluginhost/plugins"
	"github.com/go-lynx/pluginhost/registry"
	"github.com/go-lynx/pluginhost/sandbox"
	"github.com/go-lynx/pluginhost/signature"
)

const sampleManifest = `
id: com.example.sample
version: 1.0.0
entry: bin/sample.dll
api_version: 1.0.0
permissions:
  - kind: filesystem
    filesystem:
      read: true
      paths: ["%TEMP%/sample"]
`

func writeSampleArchive(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("manifest.yaml")
	if err != nil {
		t.Fatalf("zw.Create manifest: %v", err)
	}
	if _, err := w.Write([]byte(sampleManifest)); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	w, err = zw.Create("bin/sample.dll")
	if err != nil {
		t.Fatalf("zw.Create entry: %v", err)
	}
	if _, err := w.Write([]byte("fake-native-module")); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zw.Close: %v", err)
	}
	return path
}

func newTestEngine(t *testing.T, trustLevel signature.TrustLevel, policy permission.PromptPolicy) *Engine {
	t.Helper()
	dir := t.TempDir()

	reg, err := registry.Open(filepath.Join(dir, "registry"))
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	broker, err := permission.NewBroker(filepath.Join(dir, "permissions.yaml"), permission.DenyAllPrompter{}, policy, permission.AuditNormal)
	if err != nil {
		t.Fatalf("NewBroker: %v", err)
	}

	trustStore, err := signature.NewTrustStore(nil, nil)
	if err != nil {
		t.Fatalf("NewTrustStore: %v", err)
	}

	pool := blockingpool.New(2, 16)
	t.Cleanup(pool.Close)

	governor := sandbox.NewGovernor(time.Second, nil, pool, nil)

	hostAPIVersion, err := plugins.ParseVersion("1.0.0")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}

	cfg := Config{StateDir: dir, HostAPIVersion: hostAPIVersion, TrustLevel: trustLevel}
	return NewEngine(cfg, reg, broker, trustStore, governor, nil, pool)
}

// TestInstallUnsignedArchiveUnderTrustNone exercises the happy install path:
// fetch -> (missing, so Invalid) signature decision accepted under TrustNone
// -> extract -> manifest validate -> broker-validate (not grant) -> registry
// commit. Permissions are only actually requested/granted on Enable.
func TestInstallUnsignedArchiveUnderTrustNone(t *testing.T) {
	engine := newTestEngine(t, signature.TrustNone, permission.PolicyAutoGrant)
	archivePath := writeSampleArchive(t, t.TempDir(), "sample.zip")

	rec, err := engine.Install(context.Background(), LocalArchive(archivePath), false)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if rec.ID != "com.example.sample" {
		t.Fatalf("unexpected installed id %q", rec.ID)
	}
	if rec.Status != registry.StatusDisabled {
		t.Fatalf("expected a fresh install to land Disabled, got %s", rec.Status)
	}
	if len(rec.GrantedPermissions) != 0 {
		t.Fatalf("expected no granted permissions before the plugin is ever enabled, got %v", rec.GrantedPermissions)
	}

	got, ok := engine.Get("com.example.sample")
	if !ok || got.Version != "1.0.0" {
		t.Fatalf("expected the record to be retrievable from the registry, got %+v (ok=%v)", got, ok)
	}
}

// TestInstallUnsignedArchiveUnderTrustStrictIsRejected confirms a missing
// signature envelope is treated as Invalid, which Strict trust never accepts.
func TestInstallUnsignedArchiveUnderTrustStrictIsRejected(t *testing.T) {
	engine := newTestEngine(t, signature.TrustStrict, permission.PolicyAutoGrant)
	archivePath := writeSampleArchive(t, t.TempDir(), "sample.zip")

	if _, err := engine.Install(context.Background(), LocalArchive(archivePath), false); err == nil {
		t.Fatal("expected Install to reject an unsigned archive under strict trust")
	}
}

// TestInstallThenDoubleInstallIsRejected confirms the AlreadyInstalled guard.
func TestInstallThenDoubleInstallIsRejected(t *testing.T) {
	engine := newTestEngine(t, signature.TrustNone, permission.PolicyAutoGrant)
	dir := t.TempDir()
	archivePath := writeSampleArchive(t, dir, "sample.zip")

	if _, err := engine.Install(context.Background(), LocalArchive(archivePath), false); err != nil {
		t.Fatalf("first Install: %v", err)
	}

	archivePath2 := writeSampleArchive(t, dir, "sample2.zip")
	_, err := engine.Install(context.Background(), LocalArchive(archivePath2), false)
	if err == nil {
		t.Fatal("expected a second install of the same id to fail")
	}
	pe := plugins.GetPluginError(err)
	if pe == nil || pe.Code != plugins.ErrorCodeAlreadyInstalled {
		t.Fatalf("expected ErrorCodeAlreadyInstalled, got %+v", err)
	}
}

// TestEnableFailsClosedWithoutNativeLinkingSupport confirms that on a
// platform lacking the Windows native-module linker, Enable fails with a
// structured LINK_FAILED error and leaves the record Errored rather than
// silently succeeding.
func TestEnableFailsClosedWithoutNativeLinkingSupport(t *testing.T) {
	engine := newTestEngine(t, signature.TrustNone, permission.PolicyAutoGrant)
	archivePath := writeSampleArchive(t, t.TempDir(), "sample.zip")

	if _, err := engine.Install(context.Background(), LocalArchive(archivePath), false); err != nil {
		t.Fatalf("Install: %v", err)
	}

	err := engine.Enable(context.Background(), "com.example.sample")
	if err == nil {
		t.Fatal("expected Enable to fail on a platform without native module linking")
	}
	pe := plugins.GetPluginError(err)
	if pe == nil || pe.Code != plugins.ErrorCodeLinkFailed {
		t.Fatalf("expected ErrorCodeLinkFailed, got %+v", err)
	}

	rec, ok := engine.Get("com.example.sample")
	if !ok {
		t.Fatal("expected the record to still exist after a failed enable")
	}
	if rec.Status != registry.StatusErrored {
		t.Fatalf("expected the record to land in Errored status, got %s", rec.Status)
	}
}

// TestUninstallPurgesRegistryAndPermissions confirms uninstall removes both
// the registry record and every permission decision for the plugin. Enable
// is expected to fail at the native-module-link step on this platform, but
// broker.Request persists its grant decision before that link attempt runs.
func TestUninstallPurgesRegistryAndPermissions(t *testing.T) {
	engine := newTestEngine(t, signature.TrustNone, permission.PolicyAutoGrant)
	archivePath := writeSampleArchive(t, t.TempDir(), "sample.zip")

	if _, err := engine.Install(context.Background(), LocalArchive(archivePath), false); err != nil {
		t.Fatalf("Install: %v", err)
	}
	_ = engine.Enable(context.Background(), "com.example.sample")
	if len(engine.Permissions("com.example.sample")) == 0 {
		t.Fatal("expected a granted permission decision to be persisted by Enable's broker.Request call")
	}

	if err := engine.Uninstall(context.Background(), "com.example.sample"); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}

	if _, ok := engine.Get("com.example.sample"); ok {
		t.Fatal("expected the registry record to be gone after uninstall")
	}
	if len(engine.Permissions("com.example.sample")) != 0 {
		t.Fatal("expected every permission decision to be purged on uninstall")
	}
}

// TestUpdateRejectsNonNewerVersion confirms the strictly-greater-version
// invariant on Update.
func TestUpdateRejectsNonNewerVersion(t *testing.T) {
	engine := newTestEngine(t, signature.TrustNone, permission.PolicyAutoGrant)
	dir := t.TempDir()
	archivePath := writeSampleArchive(t, dir, "sample.zip")

	if _, err := engine.Install(context.Background(), LocalArchive(archivePath), false); err != nil {
		t.Fatalf("Install: %v", err)
	}

	sameVersionArchive := writeSampleArchive(t, dir, "sample-same.zip")
	src := LocalArchive(sameVersionArchive)
	_, err := engine.Update(context.Background(), "com.example.sample", &src)
	if err == nil {
		t.Fatal("expected Update to reject a non-newer version")
	}
	pe := plugins.GetPluginError(err)
	if pe == nil || pe.Code != plugins.ErrorCodeNoUpdateAvailable {
		t.Fatalf("expected ErrorCodeNoUpdateAvailable, got %+v", err)
	}
}
