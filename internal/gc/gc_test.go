package gc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xaf/omni/internal/config"
	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRemoveInstallPathStagesThenRemoves(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "install")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatalf("failed to seed install dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(target, "bin"), []byte("x"), 0o755); err != nil {
		t.Fatalf("failed to seed install file: %v", err)
	}

	if err := removeInstallPath(target); err != nil {
		t.Fatalf("removeInstallPath() failed: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected install path to be gone")
	}
	if _, err := os.Stat(target + ".gc-pending"); !os.IsNotExist(err) {
		t.Fatalf("expected staging directory to be cleaned up too")
	}
}

func TestRemoveInstallPathMissingIsNotAnError(t *testing.T) {
	if err := removeInstallPath(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Fatalf("expected a missing install path to be a no-op, got %v", err)
	}
}

func TestRunReclaimsUnreferencedInstallsPastGracePeriod(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := New(s)

	installDir := filepath.Join(t.TempDir(), "install")
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		t.Fatalf("failed to seed install dir: %v", err)
	}

	if _, err := s.UpsertInstall(ctx, models.InstallKindToolVersion, "rust@1.70.0", installDir, models.InstallMetadata{}); err != nil {
		t.Fatalf("UpsertInstall() failed: %v", err)
	}

	// A negative grace period makes an install created "now" already
	// eligible, without needing to backdate last_required_at directly.
	cfg := &config.GlobalConfig{}
	cfg.GC.CleanupAfter = "-1h"

	result, err := c.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.InstallsRemoved != 1 {
		t.Fatalf("expected 1 install removed, got %d", result.InstallsRemoved)
	}
	if result.FilesRemoved != 1 {
		t.Fatalf("expected 1 install path removed, got %d", result.FilesRemoved)
	}
	if _, err := os.Stat(installDir); !os.IsNotExist(err) {
		t.Fatalf("expected the install directory to be removed")
	}

	remaining, err := s.ListInstalls("")
	if err != nil {
		t.Fatalf("ListInstalls() failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no installs left, got %v", remaining)
	}
}

func TestRunLeavesReferencedInstallsAlone(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := New(s)

	wd := &models.WorkDir{ID: "wd1", RootPath: t.TempDir(), Kind: models.WorkDirKindAdHoc, Trusted: true, CreatedAt: time.Now()}
	if err := s.UpsertWorkDir(ctx, wd); err != nil {
		t.Fatalf("UpsertWorkDir() failed: %v", err)
	}

	install, err := s.UpsertInstall(ctx, models.InstallKindToolVersion, "rust@1.70.0", filepath.Join(t.TempDir(), "install"), models.InstallMetadata{})
	if err != nil {
		t.Fatalf("UpsertInstall() failed: %v", err)
	}
	if err := s.AddReference(ctx, wd.ID, install.ID, ""); err != nil {
		t.Fatalf("AddReference() failed: %v", err)
	}

	cfg := &config.GlobalConfig{}
	cfg.GC.CleanupAfter = "-1h"

	result, err := c.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.InstallsRemoved != 0 {
		t.Fatalf("expected referenced install to survive GC, removed=%d", result.InstallsRemoved)
	}
}

func TestRunClosesEnvHistoryForVanishedWorkDir(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := New(s)

	missingRoot := filepath.Join(t.TempDir(), "gone")
	wd := &models.WorkDir{ID: "wd2", RootPath: missingRoot, Kind: models.WorkDirKindAdHoc, Trusted: true, CreatedAt: time.Now()}
	if err := s.UpsertWorkDir(ctx, wd); err != nil {
		t.Fatalf("UpsertWorkDir() failed: %v", err)
	}
	if err := s.OpenEnvHistory(ctx, wd.ID, "fingerprint", time.Now()); err != nil {
		t.Fatalf("OpenEnvHistory() failed: %v", err)
	}

	cfg := &config.GlobalConfig{}
	cfg.GC.RetentionStale = "-1h"

	result, err := c.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.EnvHistoryRowsClosed != 1 {
		t.Fatalf("expected 1 env-history row closed, got %d", result.EnvHistoryRowsClosed)
	}

	open, err := s.GetOpenEnvHistory(wd.ID)
	if err != nil {
		t.Fatalf("GetOpenEnvHistory() failed: %v", err)
	}
	if open != nil {
		t.Fatalf("expected the env-history row to be closed, got %+v", open)
	}
}
