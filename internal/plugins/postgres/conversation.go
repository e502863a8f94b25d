package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) GetByID(ctx context.Context, convID uuid.UUID) (*domain.Conversation, error) {
	exec := GetExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, `
		SELECT id, title, is_public, min_write_role, message_count,
		       last_activity_at, created_at
		FROM conversations
		WHERE id = $1
	`, convID)
	var c domain.Conversation
	err := row.Scan(
		&c.ID,
		&c.Title,
		&c.IsPublic,
		&c.MinWriteRole,
		&c.MessageCount,
		&c.LastActivityAt,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return &c, nil
}

// BumpStats is idempotent under retry: counters only move forward, so the
// at-least-once stats stage can re-run safely.
func (r *ConversationRepo) BumpStats(ctx context.Context, convID uuid.UUID, seq int64, at time.Time) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE conversations
		SET message_count = GREATEST(message_count, $2),
		    last_activity_at = GREATEST(last_activity_at, $3)
		WHERE id = $1
	`, convID, seq, at)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
