package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
)

const installColumns = `
	installs.id, installs.kind, installs.identity, installs.install_path,
	installs.installed_at, installs.last_required_at, installs.metadata,
	(SELECT COUNT(*) FROM "references" WHERE "references".install_id = installs.id)
`

// UpsertInstall inserts a new install record, or if one already exists
// for (kind, identity), updates its install path, metadata, and
// last-required timestamp. Returns the resulting record.
func (s *Store) UpsertInstall(ctx context.Context, kind models.InstallKind, identity, installPath string, meta models.InstallMetadata) (*models.Install, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal install metadata")
	}

	now := time.Now()
	var id int64
	err = s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO installs (kind, identity, install_path, installed_at, last_required_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (kind, identity) DO UPDATE SET
				install_path = excluded.install_path,
				last_required_at = excluded.last_required_at,
				metadata = excluded.metadata
		`, string(kind), identity, installPath, now, now, string(metaJSON))
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to upsert install %s/%s: %v", kind, identity, err)
		}

		row := tx.QueryRow(`SELECT id FROM installs WHERE kind = ? AND identity = ?`, string(kind), identity)
		if err := row.Scan(&id); err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to read back install id: %v", err)
		}
		_ = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetInstallByID(id)
}

// TouchInstallLastRequired bumps an install's last-required timestamp
// without changing its install path or metadata.
func (s *Store) TouchInstallLastRequired(ctx context.Context, id int64) error {
	return s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE installs SET last_required_at = ? WHERE id = ?", time.Now(), id)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to touch install %d: %v", id, err)
		}
		return nil
	})
}

// GetInstall looks up an install by its (kind, identity) key.
func (s *Store) GetInstall(kind models.InstallKind, identity string) (*models.Install, error) {
	inst, err := scanInstall(s.db.QueryRow(
		"SELECT "+installColumns+" FROM installs WHERE kind = ? AND identity = ?", string(kind), identity,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to query install %s/%s: %v", kind, identity, err)
	}
	return inst, nil
}

// GetInstallByID looks up an install by its primary key.
func (s *Store) GetInstallByID(id int64) (*models.Install, error) {
	inst, err := scanInstall(s.db.QueryRow("SELECT "+installColumns+" FROM installs WHERE installs.id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to query install %d: %v", id, err)
	}
	return inst, nil
}

// ListInstalls returns every install of the given kind. If kind is
// empty, all installs are returned.
func (s *Store) ListInstalls(kind models.InstallKind) ([]*models.Install, error) {
	query := "SELECT " + installColumns + " FROM installs"
	args := []any{}
	if kind != "" {
		query += " WHERE installs.kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY installs.identity"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to list installs: %v", err)
	}
	defer rows.Close()

	var out []*models.Install
	for rows.Next() {
		inst, err := scanInstallRows(rows)
		if err != nil {
			return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to scan install: %v", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// DeleteInstall removes an install record. Callers must have already
// removed the underlying install path and confirmed no references
// remain.
func (s *Store) DeleteInstall(ctx context.Context, id int64) error {
	return s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM installs WHERE id = ?", id)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to delete install %d: %v", id, err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstall(row *sql.Row) (*models.Install, error) {
	return scanInstallRows(row)
}

func scanInstallRows(row rowScanner) (*models.Install, error) {
	inst := &models.Install{}
	var kind, metaJSON string
	if err := row.Scan(&inst.ID, &kind, &inst.Identity, &inst.InstallPath,
		&inst.InstalledAt, &inst.LastRequiredAt, &metaJSON, &inst.ReferenceCount); err != nil {
		return nil, err
	}
	inst.Kind = models.InstallKind(kind)
	if err := json.Unmarshal([]byte(metaJSON), &inst.Metadata); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal install metadata")
	}
	return inst, nil
}
