package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"photoquota/internal/domain"
)

// SessionRepository reads photo sessions. Sessions are written by the scheduling side.
type SessionRepository struct {
	db sqlx.ExtContext
}

func NewSessionRepository(db sqlx.ExtContext) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) ListSessionIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, r.db, &ids,
		`SELECT id FROM sessions WHERE user_id = $1 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}

// Get returns domain.ErrSessionNotFound when the session does not belong to the user.
func (r *SessionRepository) Get(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	var sessions []domain.Session
	err := sqlx.SelectContext(ctx, r.db, &sessions,
		`SELECT id, user_id, title, created_at FROM sessions WHERE id = $1 AND user_id = $2`,
		sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return &sessions[0], nil
}

// ListUserIDs returns every user that owns at least one session.
func (r *SessionRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, r.db, &ids, `SELECT DISTINCT user_id FROM sessions ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return ids, nil
}
