package postgres

import (
	"context"
	"database/sql"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

type MentionRepo struct {
	db *sql.DB
}

func NewMentionRepo(db *sql.DB) *MentionRepo {
	return &MentionRepo{db: db}
}

func (r *MentionRepo) CreateAll(ctx context.Context, mentions []domain.Mention) error {
	if len(mentions) == 0 {
		return nil
	}
	exec := GetExecutor(ctx, r.db)
	for _, m := range mentions {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO message_mentions (message_id, conversation_id, user_id, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id, user_id) DO NOTHING
		`, m.MessageID, m.ConversationID, m.UserID, m.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}
