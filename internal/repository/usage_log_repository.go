package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"photoquota/internal/domain"
)

// UsageLogRepository appends upload/delete analytics records. Nothing in the
// quota path reads them back.
type UsageLogRepository struct {
	db sqlx.ExtContext
}

func NewUsageLogRepository(db sqlx.ExtContext) *UsageLogRepository {
	return &UsageLogRepository{db: db}
}

func (r *UsageLogRepository) Append(ctx context.Context, entry *domain.UsageLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
        INSERT INTO usage_logs (id, user_id, session_id, action, byte_delta, folder_kind, filename, timestamp)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.SessionID,
		entry.Action,
		entry.ByteDelta,
		entry.FolderKind,
		entry.Filename,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append usage log: %w", err)
	}

	return nil
}
