// Package gc implements the cache store's opportunistic garbage
// collector: reclaiming zero-reference installs, closing env-history
// rows for work directories that vanished from disk, and trimming
// history and catalog tables to their configured retention bounds.
package gc

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/config"
	"github.com/xaf/omni/internal/omnierr"
	"github.com/xaf/omni/internal/store"
)

// Collector runs the garbage collection sweep against a cache store.
type Collector struct {
	store *store.Store
}

// New builds a Collector.
func New(s *store.Store) *Collector {
	return &Collector{store: s}
}

// Result summarizes one collection sweep.
type Result struct {
	InstallsRemoved      int
	FilesRemoved         int
	EnvHistoryRowsClosed int
	EnvHistoryRowsTrimmed int64
	CatalogsTrimmed      int64
}

// Run performs the full sweep described for the garbage collector:
// reclaiming unreferenced installs, closing stale open env-history
// rows for work directories that no longer exist on disk, and
// trimming closed history and catalog rows to their configured
// bounds. File deletion happens outside the store's write lock but
// operates only on paths a deletion record already claimed.
func (c *Collector) Run(ctx context.Context, cfg *config.GlobalConfig) (*Result, error) {
	result := &Result{}
	now := time.Now()

	if err := c.reclaimInstalls(ctx, now, cfg.CleanupAfter(), result); err != nil {
		return result, err
	}
	if err := c.closeStaleEnvHistory(ctx, now, cfg.RetentionStale(), result); err != nil {
		return result, err
	}

	trimmed, err := c.store.TrimClosedEnvHistory(ctx, now, cfg.HistoryRetention(), cfg.MaxPerWorkdir(), cfg.MaxTotal())
	if err != nil {
		return result, err
	}
	result.EnvHistoryRowsTrimmed = trimmed

	catalogsTrimmed, err := c.store.TrimCatalogsOlderThan(ctx, now, cfg.HistoryRetention())
	if err != nil {
		return result, err
	}
	result.CatalogsTrimmed = catalogsTrimmed

	return result, nil
}

// reclaimInstalls deletes the files and records of every install with
// zero references whose grace period has elapsed. The record is
// deleted first, under the write lock, claiming the path; the
// filesystem removal happens afterward, outside the lock.
func (c *Collector) reclaimInstalls(ctx context.Context, now time.Time, gracePeriod time.Duration, result *Result) error {
	eligible, err := c.store.ListGCEligibleInstalls(now, gracePeriod)
	if err != nil {
		return err
	}
	for _, inst := range eligible {
		if err := c.store.DeleteInstall(ctx, inst.ID); err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to delete install record %d: %v", inst.ID, err)
		}
		result.InstallsRemoved++

		if inst.InstallPath == "" {
			continue
		}
		if err := removeInstallPath(inst.InstallPath); err != nil {
			return err
		}
		result.FilesRemoved++
	}
	return nil
}

// removeInstallPath reclaims an install's files by renaming it into a
// sibling staging path before removal, so a crash mid-delete leaves an
// orphaned ".gc-*" directory rather than a half-removed live path.
func removeInstallPath(path string) error {
	staging := path + ".gc-pending"
	if err := os.Rename(path, staging); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return eris.Wrapf(omnierr.ErrInstallFailed, "failed to stage %q for removal: %v", path, err)
	}
	if err := os.RemoveAll(staging); err != nil {
		return eris.Wrapf(omnierr.ErrInstallFailed, "failed to remove staged install %q: %v", staging, err)
	}
	return nil
}

// closeStaleEnvHistory probes the on-disk root of every work directory
// with a long-idle open env-history row; if the root is gone, the row
// is closed as if `omni down` had run. Rows for roots still present
// stay open and have last_seen_at advanced to now.
func (c *Collector) closeStaleEnvHistory(ctx context.Context, now time.Time, retentionStale time.Duration, result *Result) error {
	stale, err := c.store.ListStaleOpenEnvHistory(now.Add(-retentionStale))
	if err != nil {
		return err
	}
	for _, row := range stale {
		wd, err := c.store.GetWorkDir(row.WorkDirID)
		if err != nil {
			return err
		}
		if wd == nil {
			continue
		}
		if _, err := os.Stat(wd.RootPath); os.IsNotExist(err) {
			if err := c.store.CloseOpenEnvHistory(ctx, row.WorkDirID, now); err != nil {
				return err
			}
			result.EnvHistoryRowsClosed++
			continue
		}
		// Same fingerprint: OpenEnvHistory only touches last_seen_at.
		if err := c.store.OpenEnvHistory(ctx, row.WorkDirID, row.EnvFingerprint, now); err != nil {
			return err
		}
	}
	return nil
}
