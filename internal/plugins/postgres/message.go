package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) SaveWithSequence(
	ctx context.Context,
	msg *domain.Message,
) (int64, error) {
	if msg.ConversationID == uuid.Nil {
		return 0, domain.ErrConversationNotFound
	}
	exec := GetExecutor(ctx, r.db)
	var seq int64
	err := exec.QueryRowContext(ctx, `
        UPDATE conversation_sequences
        SET last_seq = last_seq + 1
        WHERE conversation_id = $1
        RETURNING last_seq
    `, msg.ConversationID).Scan(&seq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No sequence row = conversation does not exist
			return 0, domain.ErrConversationNotFound
		}
		return 0, err
	}
	_, err = exec.ExecContext(ctx, `
        INSERT INTO messages (
            id, conversation_id, sender_id, sender_kind, content,
            original_language, msg_type, reply_to_id, seq, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.SenderKind,
		msg.Content,
		msg.OriginalLanguage,
		msg.Type,
		msg.ReplyToID,
		seq,
		msg.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	exec := GetExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, sender_kind, content,
		       original_language, msg_type, reply_to_id, seq,
		       created_at, edited_at, deleted_at
		FROM messages
		WHERE id = $1
	`, id)
	var m domain.Message
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.SenderKind,
		&m.Content,
		&m.OriginalLanguage,
		&m.Type,
		&m.ReplyToID,
		&m.Seq,
		&m.CreatedAt,
		&m.EditedAt,
		&m.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepo) UpdateContent(
	ctx context.Context,
	id uuid.UUID,
	content, language string,
	editedAt time.Time,
) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE messages
		SET content = $2, original_language = $3, edited_at = $4
		WHERE id = $1 AND deleted_at IS NULL
	`, id, content, language, editedAt)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *MessageRepo) SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE messages
		SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, deletedAt)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *MessageRepo) ListBefore(
	ctx context.Context,
	convID uuid.UUID,
	beforeSeq int64,
	limit int,
) ([]domain.Message, error) {
	if convID == uuid.Nil {
		return nil, domain.ErrConversationNotFound
	}
	if beforeSeq <= 0 {
		beforeSeq = int64(1) << 62
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, sender_kind, content,
		       original_language, msg_type, reply_to_id, seq,
		       created_at, edited_at, deleted_at
		FROM messages
		WHERE conversation_id = $1
		  AND seq < $2
		  AND deleted_at IS NULL
		ORDER BY seq DESC
		LIMIT $3
	`, convID, beforeSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.SenderID,
			&m.SenderKind,
			&m.Content,
			&m.OriginalLanguage,
			&m.Type,
			&m.ReplyToID,
			&m.Seq,
			&m.CreatedAt,
			&m.EditedAt,
			&m.DeletedAt,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
