package workdir

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/store"
)

func setupTestResolver(t *testing.T) *Resolver {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return NewResolver(s)
}

func initGitRepo(t *testing.T, dir string, withRemote bool) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if withRemote {
		run("remote", "add", "origin", "git@github.com:acme/widgets.git")
	}
}

func TestResolveGitRepoDerivesIdentityFromRemote(t *testing.T) {
	r := setupTestResolver(t)
	dir := t.TempDir()
	initGitRepo(t, dir, true)

	wd, err := r.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if wd.Kind != models.WorkDirKindGitRepo {
		t.Errorf("expected git-repo kind, got %s", wd.Kind)
	}
	if wd.ID != "github.com/acme/widgets" {
		t.Errorf("expected identity github.com/acme/widgets, got %s", wd.ID)
	}
}

func TestResolveGitRepoWithoutRemoteFallsBackToRandomID(t *testing.T) {
	r := setupTestResolver(t)
	dir := t.TempDir()
	initGitRepo(t, dir, false)

	wd, err := r.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if wd.Kind != models.WorkDirKindGitRepo {
		t.Errorf("expected git-repo kind, got %s", wd.Kind)
	}
	if len(wd.ID) != 32 {
		t.Errorf("expected a 32-char hex id, got %q", wd.ID)
	}
	if _, err := os.Stat(filepath.Join(dir, ".omni", "id")); err != nil {
		t.Errorf("expected id marker file to be created: %v", err)
	}
}

func TestResolveFindsOmniYamlUpward(t *testing.T) {
	r := setupTestResolver(t)
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".omni.yaml"), []byte("up: []\n"), 0o644); err != nil {
		t.Fatalf("failed to write .omni.yaml: %v", err)
	}
	nested := filepath.Join(root, "src", "pkg")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("failed to create nested dir: %v", err)
	}

	wd, err := r.Resolve(context.Background(), nested)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if wd.Kind != models.WorkDirKindPackage {
		t.Errorf("expected package kind, got %s", wd.Kind)
	}
	if wd.RootPath != root {
		t.Errorf("expected root %s, got %s", root, wd.RootPath)
	}
}

func TestResolveAdHocFallback(t *testing.T) {
	r := setupTestResolver(t)
	dir := t.TempDir()

	wd, err := r.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if wd.Kind != models.WorkDirKindAdHoc {
		t.Errorf("expected ad-hoc kind, got %s", wd.Kind)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	r := setupTestResolver(t)
	dir := t.TempDir()

	first, err := r.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	second, err := r.Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("second Resolve() failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected stable id across calls, got %s and %s", first.ID, second.ID)
	}
}

func TestTrustRoundTrip(t *testing.T) {
	r := setupTestResolver(t)
	ctx := context.Background()
	dir := t.TempDir()

	wd, err := r.Resolve(ctx, dir)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if err := RequireTrusted(wd); err == nil {
		t.Fatal("expected untrusted work directory to fail RequireTrusted")
	}

	if err := r.Trust(ctx, wd.ID); err != nil {
		t.Fatalf("Trust() failed: %v", err)
	}
	wd, err = r.Resolve(ctx, dir)
	if err != nil {
		t.Fatalf("Resolve() after trust failed: %v", err)
	}
	if err := RequireTrusted(wd); err != nil {
		t.Errorf("expected trusted work directory to pass RequireTrusted, got %v", err)
	}

	if err := r.Untrust(ctx, wd.ID); err != nil {
		t.Fatalf("Untrust() failed: %v", err)
	}
	wd, err = r.Resolve(ctx, dir)
	if err != nil {
		t.Fatalf("Resolve() after untrust failed: %v", err)
	}
	if err := RequireTrusted(wd); err == nil {
		t.Fatal("expected work directory to be untrusted again")
	}
}
