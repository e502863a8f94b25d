package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

type TranslationRepo struct {
	db *sql.DB
}

func NewTranslationRepo(db *sql.DB) *TranslationRepo {
	return &TranslationRepo{db: db}
}

func (r *TranslationRepo) Save(ctx context.Context, t *domain.Translation) error {
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO message_translations (
			message_id, conversation_id, target_language, text, created_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, target_language)
		DO UPDATE SET text = EXCLUDED.text, created_at = EXCLUDED.created_at
	`, t.MessageID, t.ConversationID, t.TargetLanguage, t.Text, t.CreatedAt)
	return err
}

func (r *TranslationRepo) ListForMessages(ctx context.Context, messageIDs []uuid.UUID) ([]domain.Translation, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(messageIDs))
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, fmt.Sprintf(`
		SELECT message_id, conversation_id, target_language, text, created_at
		FROM message_translations
		WHERE message_id IN (%s)
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Translation
	for rows.Next() {
		var t domain.Translation
		if err := rows.Scan(
			&t.MessageID,
			&t.ConversationID,
			&t.TargetLanguage,
			&t.Text,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
