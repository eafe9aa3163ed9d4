package installer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/operation"
	"github.com/xaf/omni/internal/store"
)

func setupTestInstaller(t *testing.T) (*Installer, string) {
	t.Helper()

	tmpDir := t.TempDir()
	s, err := store.Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	installRoot := filepath.Join(tmpDir, "installs")
	return New(s, Options{InstallRoot: installRoot}), installRoot
}

func TestInstallKindConversion(t *testing.T) {
	if got := installKind(operation.KindToolVersion); got != models.InstallKindToolVersion {
		t.Fatalf("expected %s, got %s", models.InstallKindToolVersion, got)
	}
}

func TestSafePathSegment(t *testing.T) {
	got := safePathSegment("cli/cli@v2.40.0")
	want := "cli_cli_v2.40.0"
	if got != want {
		t.Fatalf("safePathSegment() = %q, want %q", got, want)
	}
}

func TestPathForIsDeterministic(t *testing.T) {
	in, root := setupTestInstaller(t)
	a := in.pathFor(operation.KindGithubRelease, "cli/cli@2.40.0")
	b := in.pathFor(operation.KindGithubRelease, "cli/cli@2.40.0")
	if a != b {
		t.Fatalf("pathFor() not deterministic: %q != %q", a, b)
	}
	if filepath.Dir(a) != filepath.Join(root, "github-release") {
		t.Fatalf("pathFor() not rooted under install root/kind: %q", a)
	}
}

func TestAtomicFinalizeMovesStagingIntoPlace(t *testing.T) {
	tmpDir := t.TempDir()
	staging := filepath.Join(tmpDir, "staging")
	final := filepath.Join(tmpDir, "final", "sub")

	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatalf("failed to create staging dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "bin"), []byte("x"), 0o755); err != nil {
		t.Fatalf("failed to seed staging dir: %v", err)
	}

	if err := atomicFinalize(staging, final); err != nil {
		t.Fatalf("atomicFinalize() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(final, "bin")); err != nil {
		t.Fatalf("expected finalized file to exist: %v", err)
	}
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Fatalf("expected staging directory to be gone, got err=%v", err)
	}
}

func TestAtomicFinalizeReplacesExisting(t *testing.T) {
	tmpDir := t.TempDir()
	staging := filepath.Join(tmpDir, "staging")
	final := filepath.Join(tmpDir, "final")

	os.MkdirAll(staging, 0o755)
	os.WriteFile(filepath.Join(staging, "new"), []byte("new"), 0o644)
	os.MkdirAll(final, 0o755)
	os.WriteFile(filepath.Join(final, "old"), []byte("old"), 0o644)

	if err := atomicFinalize(staging, final); err != nil {
		t.Fatalf("atomicFinalize() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(final, "old")); !os.IsNotExist(err) {
		t.Fatalf("expected previous install contents to be replaced")
	}
	if _, err := os.Stat(filepath.Join(final, "new")); err != nil {
		t.Fatalf("expected new install contents to be present: %v", err)
	}
}

func TestBinContribution(t *testing.T) {
	contribs := binContribution("PATH", "/opt/omni/foo/bin")
	if len(contribs) != 1 || len(contribs[0].Ops) != 1 {
		t.Fatalf("unexpected contribution shape: %+v", contribs)
	}
	op := contribs[0].Ops[0]
	if op.Name != "PATH" || op.Value != "/opt/omni/foo/bin" {
		t.Fatalf("unexpected op: %+v", op)
	}
}

func TestPresentIfInstalledSkipsWhenUpgrading(t *testing.T) {
	in, _ := setupTestInstaller(t)
	if _, done := in.presentIfInstalled(operation.KindToolVersion, "rust@1.70.0", "/nonexistent", true); done {
		t.Fatalf("expected upgrade=true to bypass the already-present check")
	}
}

func TestPresentIfInstalledRequiresPathOnDisk(t *testing.T) {
	in, root := setupTestInstaller(t)
	ctx := context.Background()

	installPath := filepath.Join(root, "tool-version", "rust_1.70.0")
	if _, err := in.store.UpsertInstall(ctx, models.InstallKindToolVersion, "rust@1.70.0", installPath, models.InstallMetadata{}); err != nil {
		t.Fatalf("UpsertInstall() failed: %v", err)
	}

	if _, done := in.presentIfInstalled(operation.KindToolVersion, "rust@1.70.0", installPath, false); done {
		t.Fatalf("expected present check to fail when the install path is missing on disk")
	}

	if err := os.MkdirAll(installPath, 0o755); err != nil {
		t.Fatalf("failed to create install path: %v", err)
	}
	outcome, done := in.presentIfInstalled(operation.KindToolVersion, "rust@1.70.0", installPath, false)
	if !done {
		t.Fatalf("expected present check to succeed once the install path exists")
	}
	if !outcome.AlreadyPresent {
		t.Fatalf("expected AlreadyPresent outcome")
	}
}
