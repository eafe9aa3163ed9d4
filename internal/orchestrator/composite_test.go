package orchestrator

import (
	"context"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xaf/omni/internal/config"
	"github.com/xaf/omni/internal/models"
)

func setupTestWorkDir(t *testing.T, id string) *models.WorkDir {
	t.Helper()
	return &models.WorkDir{ID: id, RootPath: "/proj-" + id, Kind: models.WorkDirKindAdHoc, Trusted: true, CreatedAt: time.Now()}
}

// TestUpOrFallsThroughOnApplyFailure guards the actual apply-time
// behavior spec.md §4.E describes for `or`: it must fall through to
// the next child when the previously selected one's installation
// genuinely fails, not merely when a plan-time precondition would
// have rejected it (there is no such precondition in production).
func TestUpOrFallsThroughOnApplyFailure(t *testing.T) {
	orch, s := setupTestOrchestrator(t)
	ctx := context.Background()

	wd := setupTestWorkDir(t, "or-fallthrough")
	if err := s.UpsertWorkDir(ctx, wd); err != nil {
		t.Fatalf("UpsertWorkDir() failed: %v", err)
	}

	wdConfig := &config.WorkDirConfig{
		Up: []yaml.Node{decodeNode(t, `or:
  - custom:
      meet: "exit 1"
  - custom:
      meet: "true"
`)},
	}

	result, err := orch.Up(ctx, wd, wdConfig, &config.GlobalConfig{}, nil)
	if err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected the failing child and its successful sibling both recorded, got %d items: %+v", len(result.Items), result.Items)
	}
	if result.Items[0].State != ItemFailed {
		t.Fatalf("expected the first child to be recorded as failed, got %+v", result.Items[0])
	}
	if result.Items[1].State != ItemApplied {
		t.Fatalf("expected the fallback child to be recorded as applied, got %+v", result.Items[1])
	}

	installs, err := s.ListInstalls(models.InstallKindCustom)
	if err != nil {
		t.Fatalf("ListInstalls() failed: %v", err)
	}
	if len(installs) != 1 || installs[0].Identity != "true" {
		t.Fatalf("expected exactly one persisted install for the successful child, got %+v", installs)
	}
}

// TestUpAndStopsAtFirstFailure guards the fail-fast behavior an `and`
// composite must have at apply time: a failing child must stop that
// composite's remaining children from ever being attempted, instead of
// falling into the same flat execution list as unrelated items.
func TestUpAndStopsAtFirstFailure(t *testing.T) {
	orch, s := setupTestOrchestrator(t)
	ctx := context.Background()

	wd := setupTestWorkDir(t, "and-failfast")
	if err := s.UpsertWorkDir(ctx, wd); err != nil {
		t.Fatalf("UpsertWorkDir() failed: %v", err)
	}

	wdConfig := &config.WorkDirConfig{
		Up: []yaml.Node{decodeNode(t, `and:
  - custom:
      meet: "true"
  - custom:
      meet: "exit 1"
  - custom:
      meet: "echo should-not-run"
`)},
	}

	result, err := orch.Up(ctx, wd, wdConfig, &config.GlobalConfig{}, nil)
	if err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected the composite to stop after its second child failed, got %d items: %+v", len(result.Items), result.Items)
	}
	if result.Items[0].State != ItemApplied {
		t.Fatalf("expected the first child to have applied, got %+v", result.Items[0])
	}
	if result.Items[1].State != ItemFailed {
		t.Fatalf("expected the second child to have failed, got %+v", result.Items[1])
	}

	installs, err := s.ListInstalls(models.InstallKindCustom)
	if err != nil {
		t.Fatalf("ListInstalls() failed: %v", err)
	}
	for _, inst := range installs {
		if inst.Identity == "echo should-not-run" {
			t.Fatalf("expected the third child to never run once its predecessor failed, but it was recorded: %+v", inst)
		}
	}
}

// TestUpAnyFallsThroughOnApplyFailure guards `any`'s apply-time
// fallback the same way `or`'s is guarded, on top of its
// preference-based try order.
func TestUpAnyFallsThroughOnApplyFailure(t *testing.T) {
	orch, s := setupTestOrchestrator(t)
	ctx := context.Background()

	wd := setupTestWorkDir(t, "any-fallthrough")
	if err := s.UpsertWorkDir(ctx, wd); err != nil {
		t.Fatalf("UpsertWorkDir() failed: %v", err)
	}

	wdConfig := &config.WorkDirConfig{
		Up: []yaml.Node{decodeNode(t, `any:
  - custom:
      meet: "exit 1"
  - custom:
      meet: "true"
`)},
	}

	result, err := orch.Up(ctx, wd, wdConfig, &config.GlobalConfig{}, nil)
	if err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if len(result.Items) != 2 || result.Items[1].State != ItemApplied {
		t.Fatalf("expected `any` to fall through to the surviving child, got %+v", result.Items)
	}
}
