package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

type MemberRepo struct {
	db *sql.DB
}

func NewMemberRepo(db *sql.DB) *MemberRepo {
	return &MemberRepo{db: db}
}

func (r *MemberRepo) GetMember(ctx context.Context, convID uuid.UUID, userID string) (*domain.Member, error) {
	exec := GetExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, display_name, role,
		       preferred_language, joined_at
		FROM conversation_members
		WHERE conversation_id = $1 AND user_id = $2
	`, convID, userID)
	var m domain.Member
	err := row.Scan(
		&m.ConversationID,
		&m.UserID,
		&m.DisplayName,
		&m.Role,
		&m.PreferredLanguage,
		&m.JoinedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotAMember
		}
		return nil, err
	}
	return &m, nil
}

func (r *MemberRepo) ListMembers(ctx context.Context, convID uuid.UUID) ([]domain.Member, error) {
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT conversation_id, user_id, display_name, role,
		       preferred_language, joined_at
		FROM conversation_members
		WHERE conversation_id = $1
	`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(
			&m.ConversationID,
			&m.UserID,
			&m.DisplayName,
			&m.Role,
			&m.PreferredLanguage,
			&m.JoinedAt,
		); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
