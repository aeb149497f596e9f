package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"fleetdesk.org/internal/auth"
)

func (s *Store) CreateSession(ctx context.Context, sess auth.RefreshSession) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_sessions (id, user_id, created_at, expires_at)
		values ($1, $2, $3, $4)
	`, sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	return mapWriteError(err)
}

// ConsumeSession revokes the session in a single conditional update, so two
// concurrent refreshes with the same token cannot both succeed.
func (s *Store) ConsumeSession(ctx context.Context, id string, at time.Time) (auth.RefreshSession, error) {
	if s.db == nil {
		return auth.RefreshSession{}, errNoDB
	}
	sess := auth.RefreshSession{ID: id, RevokedAt: &at}
	err := s.db.QueryRowContext(ctx, `
		update refresh_sessions
		set revoked_at = $2
		where id = $1 and revoked_at is null and expires_at > $2
		returning user_id, created_at, expires_at
	`, id, at).Scan(&sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return auth.RefreshSession{}, err
	}

	var revokedAt sql.NullTime
	err = s.db.QueryRowContext(ctx, `select revoked_at from refresh_sessions where id = $1`, id).Scan(&revokedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return auth.RefreshSession{}, auth.ErrNotFound
	case err != nil:
		return auth.RefreshSession{}, err
	case revokedAt.Valid:
		return auth.RefreshSession{}, auth.ErrSessionConsumed
	default:
		return auth.RefreshSession{}, auth.ErrNotFound
	}
}

func (s *Store) RevokeSession(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update refresh_sessions
		set revoked_at = coalesce(revoked_at, $2)
		where id = $1
	`, id, at)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string, at time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update refresh_sessions
		set revoked_at = $2
		where user_id = $1 and revoked_at is null
	`, userID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		delete from refresh_sessions
		where expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
