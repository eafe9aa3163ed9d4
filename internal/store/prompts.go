package store

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/xaf/omni/internal/omnierr"
)

// GetPromptAnswer returns a previously-recorded answer for a work
// directory's interactive prompt, if any.
func (s *Store) GetPromptAnswer(workdirID, promptID string) (answer string, found bool, err error) {
	err = s.db.QueryRow(
		"SELECT answer FROM prompt_answers WHERE workdir_id = ? AND prompt_id = ?", workdirID, promptID,
	).Scan(&answer)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(omnierr.ErrStoreIO, "failed to query prompt answer: %v", err)
	}
	return answer, true, nil
}

// SetPromptAnswer records or overwrites the answer to a work
// directory's interactive prompt so it isn't asked again.
func (s *Store) SetPromptAnswer(ctx context.Context, workdirID, promptID, answer string) error {
	return s.WithWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO prompt_answers (workdir_id, prompt_id, answer)
			VALUES (?, ?, ?)
			ON CONFLICT (workdir_id, prompt_id) DO UPDATE SET answer = excluded.answer
		`, workdirID, promptID, answer)
		if err != nil {
			return eris.Wrapf(omnierr.ErrStoreIO, "failed to set prompt answer: %v", err)
		}
		return nil
	})
}
