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

// PutCatalog records a freshly-fetched version listing, replacing any
// prior listing for the same (source, key).
func (s *Store) PutCatalog(ctx context.Context, c *models.VersionCatalog) error {
	versionsJSON, err := json.Marshal(c.Versions)
	if err != nil {
		return eris.Wrap(err, "failed to marshal catalog versions")
	}

	return s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO version_catalogs (source, key, versions, fetched_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (source, key) DO UPDATE SET versions = excluded.versions, fetched_at = excluded.fetched_at
		`, c.Source, c.Key, string(versionsJSON), c.FetchedAt)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to put catalog %s/%s: %v", c.Source, c.Key, err)
		}
		return nil
	})
}

// GetCatalog returns the cached listing for (source, key), or nil, nil
// if nothing has ever been cached for it.
func (s *Store) GetCatalog(source, key string) (*models.VersionCatalog, error) {
	row := s.db.QueryRow(`
		SELECT source, key, versions, fetched_at FROM version_catalogs WHERE source = ? AND key = ?
	`, source, key)

	c := &models.VersionCatalog{}
	var versionsJSON string
	err := row.Scan(&c.Source, &c.Key, &versionsJSON, &c.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to query catalog %s/%s: %v", source, key, err)
	}
	if err := json.Unmarshal([]byte(versionsJSON), &c.Versions); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal catalog versions")
	}
	return c, nil
}

// TrimCatalogsOlderThan deletes cached listings whose fetch time is
// older than the given retention window relative to now.
func (s *Store) TrimCatalogsOlderThan(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	var n int64
	err := s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM version_catalogs WHERE fetched_at < ?", now.Add(-retention))
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to trim catalogs: %v", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
