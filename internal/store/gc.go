package store

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/models"
	"github.com/xaf/omni/internal/omnierr"
)

// ListGCEligibleInstalls returns installs with zero references whose
// last-required timestamp is older than the grace period, oldest
// first. The garbage collector deletes their install paths and then
// their records.
func (s *Store) ListGCEligibleInstalls(now time.Time, gracePeriod time.Duration) ([]*models.Install, error) {
	rows, err := s.db.Query(`
		SELECT `+installColumns+`
		FROM installs
		WHERE (SELECT COUNT(*) FROM "references" WHERE "references".install_id = installs.id) = 0
			AND installs.last_required_at < ?
		ORDER BY installs.last_required_at
	`, now.Add(-gracePeriod))
	if err != nil {
		return nil, eris.Wrapf(omnierr.ErrStoreIO, "failed to list gc-eligible installs: %v", err)
	}
	defer rows.Close()

	var out []*models.Install
	for rows.Next() {
		inst, err := scanInstallRows(rows)
		if err != nil {
			return nil, eris.Wrap(err, "failed to scan install")
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}
