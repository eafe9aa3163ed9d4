package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
)

const envHistoryColumns = "id, workdir_id, used_from_date, used_until_date, last_seen_at, env_fingerprint"

// OpenEnvHistory closes any existing open row for workdirID whose
// fingerprint differs from fingerprint, then opens a new row (or
// touches last_seen_at on the existing one if the fingerprint
// matches). This keeps invariant P3 (at most one open row per work
// directory) even at the application layer, on top of the schema's
// partial unique index.
func (s *Store) OpenEnvHistory(ctx context.Context, workdirID, fingerprint string, now time.Time) error {
	return s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		var existingID int64
		var existingFingerprint string
		err := tx.QueryRow(`
			SELECT id, env_fingerprint FROM env_history WHERE workdir_id = ? AND used_until_date IS NULL
		`, workdirID).Scan(&existingID, &existingFingerprint)

		switch {
		case err == sql.ErrNoRows:
			// fall through to insert
		case err != nil:
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to query open env history for %s: %v", workdirID, err)
		case existingFingerprint == fingerprint:
			_, err := tx.Exec("UPDATE env_history SET last_seen_at = ? WHERE id = ?", now, existingID)
			if err != nil {
				return eris.Wrapf(omnierr.ErrStoreIO, "failed to touch env history %d: %v", existingID, err)
			}
			return nil
		default:
			if _, err := tx.Exec("UPDATE env_history SET used_until_date = ? WHERE id = ?", now, existingID); err != nil {
				return eris.Wrapf(omnierr.ErrStoreIO, "failed to close env history %d: %v", existingID, err)
			}
		}

		_, err = tx.Exec(`
			INSERT INTO env_history (workdir_id, used_from_date, used_until_date, last_seen_at, env_fingerprint)
			VALUES (?, ?, NULL, ?, ?)
		`, workdirID, now, now, fingerprint)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to open env history for %s: %v", workdirID, err)
		}
		return nil
	})
}

// CloseOpenEnvHistory closes the open row for workdirID, if any. Used
// by `omni down` and by the garbage collector to close stale rows
// whose work directory root no longer exists.
func (s *Store) CloseOpenEnvHistory(ctx context.Context, workdirID string, until time.Time) error {
	return s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE env_history SET used_until_date = ? WHERE workdir_id = ? AND used_until_date IS NULL
		`, until, workdirID)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to close env history for %s: %v", workdirID, err)
		}
		return nil
	})
}

// GetOpenEnvHistory returns the open row for a work directory, or nil,
// nil if there is none.
func (s *Store) GetOpenEnvHistory(workdirID string) (*models.EnvHistory, error) {
	h, err := scanEnvHistory(s.db.QueryRow(
		"SELECT "+envHistoryColumns+" FROM env_history WHERE workdir_id = ? AND used_until_date IS NULL", workdirID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to query open env history for %s: %v", workdirID, err)
	}
	return h, nil
}

// ListStaleOpenEnvHistory returns open rows whose last_seen_at is
// older than the given cutoff, candidates for the garbage collector to
// close because the owning shell session is gone.
func (s *Store) ListStaleOpenEnvHistory(cutoff time.Time) ([]*models.EnvHistory, error) {
	rows, err := s.db.Query(
		"SELECT "+envHistoryColumns+" FROM env_history WHERE used_until_date IS NULL AND last_seen_at < ?", cutoff,
	)
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to list stale env history: %v", err)
	}
	defer rows.Close()

	var out []*models.EnvHistory
	for rows.Next() {
		h, err := scanEnvHistoryRows(rows)
		if err != nil {
			return nil, eris.Wrap(err, "failed to scan env history")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// TrimClosedEnvHistory deletes closed rows beyond the retention window
// or exceeding maxPerWorkdir/maxTotal, oldest first.
func (s *Store) TrimClosedEnvHistory(ctx context.Context, now time.Time, retention time.Duration, maxPerWorkdir, maxTotal int) (int64, error) {
	var total int64
	err := s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			DELETE FROM env_history WHERE used_until_date IS NOT NULL AND used_until_date < ?
		`, now.Add(-retention))
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to trim expired env history: %v", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		total += n

		res, err = tx.Exec(`
			DELETE FROM env_history WHERE used_until_date IS NOT NULL AND id NOT IN (
				SELECT id FROM env_history eh
				WHERE eh.used_until_date IS NOT NULL AND (
					SELECT COUNT(*) FROM env_history eh2
					WHERE eh2.workdir_id = eh.workdir_id AND eh2.used_until_date IS NOT NULL
						AND eh2.used_until_date >= eh.used_until_date
				) <= ?
			)
		`, maxPerWorkdir)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to trim env history per workdir cap: %v", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return err
		}
		total += n

		res, err = tx.Exec(`
			DELETE FROM env_history WHERE used_until_date IS NOT NULL AND id NOT IN (
				SELECT id FROM env_history WHERE used_until_date IS NOT NULL
				ORDER BY used_until_date DESC LIMIT ?
			)
		`, maxTotal)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to trim env history total cap: %v", err)
		}
		n, err = res.RowsAffected()
		total += n
		return err
	})
	return total, err
}

func scanEnvHistory(row *sql.Row) (*models.EnvHistory, error) {
	return scanEnvHistoryRows(row)
}

func scanEnvHistoryRows(row rowScanner) (*models.EnvHistory, error) {
	h := &models.EnvHistory{}
	var until sql.NullTime
	if err := row.Scan(&h.ID, &h.WorkDirID, &h.UsedFromDate, &until, &h.LastSeenAt, &h.EnvFingerprint); err != nil {
		return nil, err
	}
	if until.Valid {
		h.UsedUntilDate = &until.Time
	}
	return h, nil
}
