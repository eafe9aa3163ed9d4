// Package workdir resolves a filesystem path to a stable work
// directory identity, persisting non-git identifiers under
// <root>/.omni/id and tracking trust status in the cache store.
package workdir

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/git"
	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/store"
)

const markerDir = ".omni"
const markerFile = "id"

// Resolver locates and persists work directory identities.
type Resolver struct {
	store *store.Store
}

// NewResolver builds a Resolver backed by the given cache store.
func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve walks upward from path to find a git top-level or an
// .omni.yaml marker, derives its identity, and registers it in the
// cache store if this is the first time it's seen.
func (r *Resolver) Resolve(ctx context.Context, path string) (*models.WorkDir, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrConfig, "failed to resolve absolute path for %s: %v", path, err)
	}

	root, kind, err := findRoot(absPath)
	if err != nil {
		return nil, err
	}

	if existing, err := r.store.GetWorkDirByRootPath(root); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	id, err := identityFor(root, kind)
	if err != nil {
		return nil, err
	}

	wd := &models.WorkDir{
		ID:        id,
		RootPath:  root,
		Kind:      kind,
		Trusted:   false,
		CreatedAt: time.Now(),
	}
	if err := r.store.UpsertWorkDir(ctx, wd); err != nil {
		return nil, err
	}
	return wd, nil
}

// NewSandbox registers an ephemeral work directory that is never
// discovered by upward search; every call at a distinct path gets its
// own random identity.
func (r *Resolver) NewSandbox(ctx context.Context, path string) (*models.WorkDir, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrConfig, "failed to resolve absolute path for %s: %v", path, err)
	}

	id, err := persistedRandomID(absPath)
	if err != nil {
		return nil, err
	}

	wd := &models.WorkDir{
		ID:        id,
		RootPath:  absPath,
		Kind:      models.WorkDirKindSandbox,
		Trusted:   true, // sandboxes are ephemeral and user-initiated; trust is implicit
		CreatedAt: time.Now(),
	}
	if err := r.store.UpsertWorkDir(ctx, wd); err != nil {
		return nil, err
	}
	return wd, nil
}

// Trust marks a work directory as trusted, permitting `up` to run.
func (r *Resolver) Trust(ctx context.Context, id string) error {
	return r.store.SetTrusted(ctx, id, true)
}

// Untrust revokes trust for a work directory.
func (r *Resolver) Untrust(ctx context.Context, id string) error {
	return r.store.SetTrusted(ctx, id, false)
}

// RequireTrusted returns omnierr.ErrNotTrusted if wd has not been
// trusted. Called by the orchestrator before planning an `up` run.
func RequireTrusted(wd *models.WorkDir) error {
	if !wd.Trusted {
		return eris.Wrapf(omnierr.ErrNotTrusted, "work directory %s (%s) is not trusted; run `omni trust`", wd.ID, wd.RootPath)
	}
	return nil
}

// findRoot walks upward from path looking for a git top-level or an
// .omni.yaml marker file. Falls back to treating path itself as an
// ad-hoc work directory.
func findRoot(path string) (string, models.WorkDirKind, error) {
	if toplevel, err := git.Toplevel(path); err == nil {
		return toplevel, models.WorkDirKindGitRepo, nil
	}

	dir := path
	for {
		if _, err := os.Stat(filepath.Join(dir, ".omni.yaml")); err == nil {
			return dir, models.WorkDirKindPackage, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return path, models.WorkDirKindAdHoc, nil
}

// identityFor derives the stable identifier for a resolved root: for
// git repositories, the remote URL normalized to host/org/repo; for
// everything else, a random 128-bit id persisted under the root.
//
// A git repository with no configured remote falls back to the same
// persisted-random-id scheme as non-git roots, since there is no
// remote URL to normalize.
func identityFor(root string, kind models.WorkDirKind) (string, error) {
	if kind == models.WorkDirKindGitRepo {
		if remote, err := git.GetRemoteURL(root); err == nil {
			if name, err := git.GenerateProjectName(remote); err == nil {
				return name, nil
			}
		}
	}
	return persistedRandomID(root)
}

// persistedRandomID reads the 128-bit id persisted at
// <root>/.omni/id, creating it on first use.
func persistedRandomID(root string) (string, error) {
	idPath := filepath.Join(root, markerDir, markerFile)

	if data, err := os.ReadFile(idPath); err == nil {
		return string(data), nil
	} else if !os.IsNotExist(err) {
		return "", eris.Wrapf(omnierr.ErrConfig, "failed to read work directory id at %s: %v", idPath, err)
	}

	raw := uuid.New()
	id := hex.EncodeToString(raw[:])

	if err := os.MkdirAll(filepath.Join(root, markerDir), 0o755); err != nil {
		return "", eris.Wrapf(omnierr.ErrConfig, "failed to create %s: %v", markerDir, err)
	}
	if err := os.WriteFile(idPath, []byte(id), 0o644); err != nil {
		return "", eris.Wrapf(omnierr.ErrConfig, "failed to persist work directory id at %s: %v", idPath, err)
	}

	return id, nil
}
