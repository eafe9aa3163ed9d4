package store

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
)

// UpsertWorkDir inserts a work directory or updates its kind if it
// already exists at that root path. Trust status is left untouched on
// update; use SetTrusted to change it.
func (s *Store) UpsertWorkDir(ctx context.Context, wd *models.WorkDir) error {
	return s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO workdirs (id, root_path, kind, trusted, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (root_path) DO UPDATE SET kind = excluded.kind
		`, wd.ID, wd.RootPath, string(wd.Kind), wd.Trusted, wd.CreatedAt)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to upsert workdir %s: %v", wd.RootPath, err)
		}
		return nil
	})
}

// GetWorkDirByRootPath looks up a work directory by its absolute root
// path. Returns nil, nil if none is registered yet.
func (s *Store) GetWorkDirByRootPath(rootPath string) (*models.WorkDir, error) {
	wd, err := scanWorkDir(s.db.QueryRow(
		"SELECT id, root_path, kind, trusted, created_at FROM workdirs WHERE root_path = ?", rootPath,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to query workdir %s: %v", rootPath, err)
	}
	return wd, nil
}

// GetWorkDir looks up a work directory by its opaque id.
func (s *Store) GetWorkDir(id string) (*models.WorkDir, error) {
	wd, err := scanWorkDir(s.db.QueryRow(
		"SELECT id, root_path, kind, trusted, created_at FROM workdirs WHERE id = ?", id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to query workdir %s: %v", id, err)
	}
	return wd, nil
}

// SetTrusted marks a work directory as trusted or untrusted.
func (s *Store) SetTrusted(ctx context.Context, id string, trusted bool) error {
	return s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec("UPDATE workdirs SET trusted = ? WHERE id = ?", trusted, id)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to update trust for workdir %s: %v", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "failed to read rows affected")
		}
		if n == 0 {
			return eris.Errorf("no such workdir: %s", id)
		}
		return nil
	})
}

func scanWorkDir(row *sql.Row) (*models.WorkDir, error) {
	wd := &models.WorkDir{}
	var kind string
	if err := row.Scan(&wd.ID, &wd.RootPath, &kind, &wd.Trusted, &wd.CreatedAt); err != nil {
		return nil, err
	}
	wd.Kind = models.WorkDirKind(kind)
	return wd, nil
}
