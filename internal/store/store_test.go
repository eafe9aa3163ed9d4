package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xaf/omni/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := setupTestStore(t)

	tables := []string{"workdirs", "installs", "references", "version_catalogs", "env_history", "prompt_answers"}
	for _, table := range tables {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}
}

func TestWorkDirRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wd := &models.WorkDir{
		ID:        "abc123",
		RootPath:  "/home/user/proj",
		Kind:      models.WorkDirKindGitRepo,
		Trusted:   false,
		CreatedAt: time.Now(),
	}
	if err := s.UpsertWorkDir(ctx, wd); err != nil {
		t.Fatalf("UpsertWorkDir() failed: %v", err)
	}

	got, err := s.GetWorkDirByRootPath("/home/user/proj")
	if err != nil {
		t.Fatalf("GetWorkDirByRootPath() failed: %v", err)
	}
	if got == nil || got.ID != wd.ID {
		t.Fatalf("expected workdir %v, got %v", wd, got)
	}

	if err := s.SetTrusted(ctx, wd.ID, true); err != nil {
		t.Fatalf("SetTrusted() failed: %v", err)
	}
	got, err = s.GetWorkDir(wd.ID)
	if err != nil {
		t.Fatalf("GetWorkDir() failed: %v", err)
	}
	if !got.Trusted {
		t.Error("expected workdir to be trusted after SetTrusted")
	}
}

func TestInstallUpsertIsIdempotentOnIdentity(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	inst, err := s.UpsertInstall(ctx, models.InstallKindToolVersion, "rust@1.70.1", "/cache/rust/1.70.1", models.InstallMetadata{})
	if err != nil {
		t.Fatalf("UpsertInstall() failed: %v", err)
	}
	firstID := inst.ID

	inst2, err := s.UpsertInstall(ctx, models.InstallKindToolVersion, "rust@1.70.1", "/cache/rust/1.70.1-b", models.InstallMetadata{Immutable: true})
	if err != nil {
		t.Fatalf("second UpsertInstall() failed: %v", err)
	}
	if inst2.ID != firstID {
		t.Errorf("expected upsert to reuse row %d, got %d", firstID, inst2.ID)
	}
	if inst2.InstallPath != "/cache/rust/1.70.1-b" {
		t.Errorf("expected install path to be updated, got %s", inst2.InstallPath)
	}
}

func TestReferenceCountingAndGCEligibility(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wd := &models.WorkDir{ID: "wd1", RootPath: "/p", Kind: models.WorkDirKindAdHoc, CreatedAt: time.Now()}
	if err := s.UpsertWorkDir(ctx, wd); err != nil {
		t.Fatalf("UpsertWorkDir() failed: %v", err)
	}

	inst, err := s.UpsertInstall(ctx, models.InstallKindCargo, "ripgrep@14.0.0", "/cache/rg", models.InstallMetadata{})
	if err != nil {
		t.Fatalf("UpsertInstall() failed: %v", err)
	}

	if err := s.AddReference(ctx, wd.ID, inst.ID, ""); err != nil {
		t.Fatalf("AddReference() failed: %v", err)
	}

	inst, err = s.GetInstallByID(inst.ID)
	if err != nil {
		t.Fatalf("GetInstallByID() failed: %v", err)
	}
	if inst.ReferenceCount != 1 {
		t.Fatalf("expected reference count 1, got %d", inst.ReferenceCount)
	}

	eligible, err := s.ListGCEligibleInstalls(time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("ListGCEligibleInstalls() failed: %v", err)
	}
	if len(eligible) != 0 {
		t.Errorf("expected no gc-eligible installs while referenced, got %d", len(eligible))
	}

	if err := s.DropReference(ctx, wd.ID, inst.ID, ""); err != nil {
		t.Fatalf("DropReference() failed: %v", err)
	}

	eligible, err = s.ListGCEligibleInstalls(time.Now().Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("ListGCEligibleInstalls() failed: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != inst.ID {
		t.Fatalf("expected install %d to be gc-eligible, got %v", inst.ID, eligible)
	}
}

func TestDropStaleReferences(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	wd := &models.WorkDir{ID: "wd2", RootPath: "/p2", Kind: models.WorkDirKindAdHoc, CreatedAt: time.Now()}
	if err := s.UpsertWorkDir(ctx, wd); err != nil {
		t.Fatalf("UpsertWorkDir() failed: %v", err)
	}

	keep, err := s.UpsertInstall(ctx, models.InstallKindCargo, "keep@1.0.0", "/cache/keep", models.InstallMetadata{})
	if err != nil {
		t.Fatalf("UpsertInstall() failed: %v", err)
	}
	drop, err := s.UpsertInstall(ctx, models.InstallKindCargo, "drop@1.0.0", "/cache/drop", models.InstallMetadata{})
	if err != nil {
		t.Fatalf("UpsertInstall() failed: %v", err)
	}

	if err := s.AddReference(ctx, wd.ID, keep.ID, ""); err != nil {
		t.Fatalf("AddReference() failed: %v", err)
	}
	if err := s.AddReference(ctx, wd.ID, drop.ID, ""); err != nil {
		t.Fatalf("AddReference() failed: %v", err)
	}

	affected, err := s.DropStaleReferences(ctx, wd.ID, map[int64]map[string]bool{keep.ID: {"": true}})
	if err != nil {
		t.Fatalf("DropStaleReferences() failed: %v", err)
	}
	if len(affected) != 1 || affected[0] != drop.ID {
		t.Fatalf("expected only %d to be dropped, got %v", drop.ID, affected)
	}

	refs, err := s.ListReferencesForWorkDir(wd.ID)
	if err != nil {
		t.Fatalf("ListReferencesForWorkDir() failed: %v", err)
	}
	if len(refs) != 1 || refs[0].InstallID != keep.ID {
		t.Fatalf("expected only kept reference to remain, got %v", refs)
	}
}

func TestEnvHistoryAtMostOneOpenRow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.UpsertWorkDir(ctx, &models.WorkDir{ID: "wd3", RootPath: "/p3", Kind: models.WorkDirKindAdHoc, CreatedAt: now}); err != nil {
		t.Fatalf("UpsertWorkDir() failed: %v", err)
	}

	if err := s.OpenEnvHistory(ctx, "wd3", "fingerprint-a", now); err != nil {
		t.Fatalf("OpenEnvHistory() failed: %v", err)
	}
	first, err := s.GetOpenEnvHistory("wd3")
	if err != nil || first == nil {
		t.Fatalf("GetOpenEnvHistory() failed: %v", err)
	}

	// Same fingerprint: should touch the existing row, not open a second one.
	if err := s.OpenEnvHistory(ctx, "wd3", "fingerprint-a", now.Add(time.Minute)); err != nil {
		t.Fatalf("OpenEnvHistory() (touch) failed: %v", err)
	}
	same, err := s.GetOpenEnvHistory("wd3")
	if err != nil || same.ID != first.ID {
		t.Fatalf("expected same open row to be reused, got %v", same)
	}

	// Different fingerprint: should close the old row and open a new one.
	if err := s.OpenEnvHistory(ctx, "wd3", "fingerprint-b", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("OpenEnvHistory() (rotate) failed: %v", err)
	}
	rotated, err := s.GetOpenEnvHistory("wd3")
	if err != nil || rotated == nil || rotated.ID == first.ID {
		t.Fatalf("expected a new open row after fingerprint change, got %v", rotated)
	}
	if rotated.EnvFingerprint != "fingerprint-b" {
		t.Errorf("expected new open row to carry the new fingerprint, got %s", rotated.EnvFingerprint)
	}
}

func TestCatalogFreshnessRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := &models.VersionCatalog{
		Source:    "mise-plugin",
		Key:       "rust",
		Versions:  []string{"1.70.0", "1.70.1"},
		FetchedAt: time.Now(),
	}
	if err := s.PutCatalog(ctx, c); err != nil {
		t.Fatalf("PutCatalog() failed: %v", err)
	}

	got, err := s.GetCatalog("mise-plugin", "rust")
	if err != nil {
		t.Fatalf("GetCatalog() failed: %v", err)
	}
	if got == nil || len(got.Versions) != 2 {
		t.Fatalf("expected 2 cached versions, got %v", got)
	}

	missing, err := s.GetCatalog("mise-plugin", "nonexistent")
	if err != nil {
		t.Fatalf("GetCatalog() for missing key failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for uncached key, got %v", missing)
	}
}

func TestPromptAnswerRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.UpsertWorkDir(ctx, &models.WorkDir{ID: "wd4", RootPath: "/p4", Kind: models.WorkDirKindAdHoc, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("UpsertWorkDir() failed: %v", err)
	}

	_, found, err := s.GetPromptAnswer("wd4", "trust-untrusted-tool")
	if err != nil {
		t.Fatalf("GetPromptAnswer() failed: %v", err)
	}
	if found {
		t.Fatal("expected no answer before SetPromptAnswer")
	}

	if err := s.SetPromptAnswer(ctx, "wd4", "trust-untrusted-tool", "yes"); err != nil {
		t.Fatalf("SetPromptAnswer() failed: %v", err)
	}

	answer, found, err := s.GetPromptAnswer("wd4", "trust-untrusted-tool")
	if err != nil {
		t.Fatalf("GetPromptAnswer() failed: %v", err)
	}
	if !found || answer != "yes" {
		t.Fatalf("expected answer %q, got %q (found=%v)", "yes", answer, found)
	}
}
