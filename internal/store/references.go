package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
)

// AddReference records that workdirID depends on installID at
// dirSubpath, creating or refreshing the edge.
func (s *Store) AddReference(ctx context.Context, workdirID string, installID int64, dirSubpath string) error {
	return s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO "references" (workdir_id, install_id, dir_subpath, required_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (workdir_id, install_id, dir_subpath) DO UPDATE SET required_at = excluded.required_at
		`, workdirID, installID, dirSubpath, time.Now())
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to add reference %s -> %d: %v", workdirID, installID, err)
		}
		return nil
	})
}

// DropReference removes a single reference edge.
func (s *Store) DropReference(ctx context.Context, workdirID string, installID int64, dirSubpath string) error {
	return s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			DELETE FROM "references" WHERE workdir_id = ? AND install_id = ? AND dir_subpath = ?
		`, workdirID, installID, dirSubpath)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to drop reference %s -> %d: %v", workdirID, installID, err)
		}
		return nil
	})
}

// DropStaleReferences removes every reference from workdirID not in
// the keep set (install id -> set of subpaths still required), and
// returns the install ids that lost a reference. Used at the end of a
// successful up run to release installs the config no longer needs.
func (s *Store) DropStaleReferences(ctx context.Context, workdirID string, keep map[int64]map[string]bool) ([]int64, error) {
	var affected []int64
	err := s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT install_id, dir_subpath FROM "references" WHERE workdir_id = ?`, workdirID)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to list references for %s: %v", workdirID, err)
		}

		type edge struct {
			installID int64
			subpath   string
		}
		var toDrop []edge
		for rows.Next() {
			var e edge
			if err := rows.Scan(&e.installID, &e.subpath); err != nil {
				rows.Close()
				return eris.Wrap(err, "failed to scan reference")
			}
			if keep[e.installID] == nil || !keep[e.installID][e.subpath] {
				toDrop = append(toDrop, e)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "failed to iterate references")
		}

		for _, e := range toDrop {
			if _, err := tx.Exec(`DELETE FROM "references" WHERE workdir_id = ? AND install_id = ? AND dir_subpath = ?`,
				workdirID, e.installID, e.subpath); err != nil {
				return eris.Wrapf(omnierr.ErrStoreIO, "failed to drop stale reference: %v", err)
			}
			affected = append(affected, e.installID)
		}
		return nil
	})
	return affected, err
}

// ListReferencesForWorkDir returns every reference edge originating
// from a work directory.
func (s *Store) ListReferencesForWorkDir(workdirID string) ([]models.Reference, error) {
	rows, err := s.db.Query(`
		SELECT workdir_id, install_id, dir_subpath, required_at FROM "references" WHERE workdir_id = ?
	`, workdirID)
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to list references for %s: %v", workdirID, err)
	}
	defer rows.Close()

	var out []models.Reference
	for rows.Next() {
		var r models.Reference
		if err := rows.Scan(&r.WorkDirID, &r.InstallID, &r.DirSubpath, &r.RequiredAt); err != nil {
			return nil, eris.Wrap(err, "failed to scan reference")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
