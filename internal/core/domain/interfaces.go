package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageRepository handles persistence and guaranteed ordering.
type MessageRepository interface {
	// SaveWithSequence increments the conversation sequence and inserts the
	// message in one transaction, returning the assigned sequence.
	SaveWithSequence(ctx context.Context, msg *Message) (seq int64, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	UpdateContent(ctx context.Context, id uuid.UUID, content, language string, editedAt time.Time) error
	// SoftDelete flips the deleted flag; content is retained for audit.
	SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error
	// ListBefore pages backwards through a conversation: messages with
	// seq < beforeSeq, newest first. beforeSeq <= 0 means "from the tip".
	ListBefore(ctx context.Context, convID uuid.UUID, beforeSeq int64, limit int) ([]Message, error)
}

// ConversationRepository reads room configuration and maintains the
// idempotent activity counters.
type ConversationRepository interface {
	GetByID(ctx context.Context, convID uuid.UUID) (*Conversation, error)
	// BumpStats sets message_count and last_activity_at monotonically so that
	// at-least-once retries of the stats stage cannot double count.
	BumpStats(ctx context.Context, convID uuid.UUID, seq int64, at time.Time) error
}

// MemberRepository reads conversation membership, the authoritative join
// target for the registry's room cache.
type MemberRepository interface {
	GetMember(ctx context.Context, convID uuid.UUID, userID string) (*Member, error)
	ListMembers(ctx context.Context, convID uuid.UUID) ([]Member, error)
}

// MentionRepository stores mention records produced by the post-commit
// handlers.
type MentionRepository interface {
	CreateAll(ctx context.Context, mentions []Mention) error
}

// TranslationRepository persists completed translations for offline
// catch-up reads.
type TranslationRepository interface {
	// Save upserts on (message_id, target_language) so cache hits and worker
	// results can both write without conflict.
	Save(ctx context.Context, t *Translation) error
	ListForMessages(ctx context.Context, messageIDs []uuid.UUID) ([]Translation, error)
}
