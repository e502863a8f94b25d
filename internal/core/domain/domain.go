package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdentityKind discriminates the two caller types. Exactly one side of the
// Identity union is populated per connection.
type IdentityKind string

const (
	KindRegistered IdentityKind = "registered"
	KindAnonymous  IdentityKind = "anonymous"
)

// RegisteredUser is a stable account holder.
type RegisteredUser struct {
	ID                string
	DisplayName       string
	PreferredLanguage string
}

// AnonymousPerms are the per-share-link capability flags granted to a guest.
type AnonymousPerms struct {
	CanSendMessages bool `json:"can_send_messages"`
	CanSendFiles    bool `json:"can_send_files"`
	CanSendImages   bool `json:"can_send_images"`
	CanViewHistory  bool `json:"can_view_history"`
}

// AnonymousParticipant is a guest scoped to a single share link. The share
// link grants access to exactly one conversation.
type AnonymousParticipant struct {
	ID                string // ephemeral participant id, token-scoped
	ShareLinkID       string
	ConversationID    uuid.UUID
	DisplayName       string
	PreferredLanguage string
	Perms             AnonymousPerms
}

// Identity is the tagged union of the two caller types.
type Identity struct {
	Kind      IdentityKind
	User      *RegisteredUser
	Anonymous *AnonymousParticipant
}

// Valid reports whether exactly one side of the union is populated and
// matches the kind tag.
func (i Identity) Valid() bool {
	switch i.Kind {
	case KindRegistered:
		return i.User != nil && i.Anonymous == nil && i.User.ID != ""
	case KindAnonymous:
		return i.Anonymous != nil && i.User == nil && i.Anonymous.ID != ""
	}
	return false
}

// ID returns the stable identifier used by the registry, presence and
// mention resolution.
func (i Identity) ID() string {
	switch i.Kind {
	case KindRegistered:
		return i.User.ID
	case KindAnonymous:
		return i.Anonymous.ID
	}
	return ""
}

func (i Identity) DisplayName() string {
	switch i.Kind {
	case KindRegistered:
		return i.User.DisplayName
	case KindAnonymous:
		return i.Anonymous.DisplayName
	}
	return ""
}

func (i Identity) PreferredLanguage() string {
	switch i.Kind {
	case KindRegistered:
		return i.User.PreferredLanguage
	case KindAnonymous:
		return i.Anonymous.PreferredLanguage
	}
	return ""
}

// SessionPolicy controls whether one identity may hold several live
// connections at once.
type SessionPolicy string

const (
	// PolicyMultiDevice allows any number of concurrent sessions per identity.
	PolicyMultiDevice SessionPolicy = "multi"
	// PolicySingleSession forces at most one live session per identity; a new
	// registration supersedes and closes the old one.
	PolicySingleSession SessionPolicy = "single"
)

// ParseSessionPolicy maps a config string onto a policy, defaulting to
// multi-device for anything unrecognized.
func ParseSessionPolicy(s string) SessionPolicy {
	if SessionPolicy(s) == PolicySingleSession {
		return PolicySingleSession
	}
	return PolicyMultiDevice
}

// ConnectionSession is the registry's view of one live connection.
type ConnectionSession struct {
	ID          string
	Identity    Identity
	Rooms       []string
	ConnectedAt time.Time
	LastSeenAt  time.Time
}

// Role is a conversation membership role. Ordering matters for write checks.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Rank maps a role onto the ordering used by write-permission checks.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleModerator:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

// CanModerate reports whether the role may edit or delete other senders'
// messages.
func (r Role) CanModerate() bool { return r.Rank() >= RoleModerator.Rank() }

// Conversation is a chat room. Membership rows are the source of truth for
// joins; the registry's room index is a derived cache.
type Conversation struct {
	ID             uuid.UUID
	Title          string
	IsPublic       bool
	MinWriteRole   Role
	MessageCount   int64
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// Member is one identity's membership in a conversation.
type Member struct {
	ConversationID    uuid.UUID
	UserID            string
	DisplayName       string
	Role              Role
	PreferredLanguage string
	JoinedAt          time.Time
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageAudio  MessageType = "audio"
	MessageSystem MessageType = "system"
)

// KnownMessageType reports whether t is part of the closed type set.
func KnownMessageType(t MessageType) bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageAudio, MessageSystem:
		return true
	}
	return false
}

// Message is a persisted chat entry. Seq is a per-conversation monotonic
// counter assigned atomically at insert time, which is what gives the fanout
// its per-conversation ordering guarantee.
type Message struct {
	ID               uuid.UUID
	ConversationID   uuid.UUID
	SenderID         string
	SenderKind       IdentityKind
	Content          string
	OriginalLanguage string
	Type             MessageType
	ReplyToID        *uuid.UUID
	Seq              int64
	CreatedAt        time.Time
	EditedAt         *time.Time
	DeletedAt        *time.Time
}

// Deleted reports whether the message has been soft-deleted. Content stays
// in storage for audit but must never reach clients.
func (m *Message) Deleted() bool { return m.DeletedAt != nil }

// Mention links a message to a mentioned member.
type Mention struct {
	MessageID      uuid.UUID
	ConversationID uuid.UUID
	UserID         string
	CreatedAt      time.Time
}

type TranslationStatus string

const (
	TranslationPending  TranslationStatus = "pending"
	TranslationInflight TranslationStatus = "inflight"
	TranslationDone     TranslationStatus = "done"
	TranslationFailed   TranslationStatus = "failed"
)

// Terminal reports whether the status admits no further transitions except
// a retry out of failed.
func (s TranslationStatus) Terminal() bool {
	return s == TranslationDone || s == TranslationFailed
}

// TranslationKey is the dedup key: at most one non-terminal request exists
// per key at any time.
type TranslationKey struct {
	MessageID      uuid.UUID
	TargetLanguage string
}

// TranslationRequest tracks one unit of translation work through the
// coordinator state machine.
type TranslationRequest struct {
	ID             uuid.UUID
	Key            TranslationKey
	ConversationID uuid.UUID
	SourceLanguage string
	Status         TranslationStatus
	ResultText     string
	Attempts       int
	CompletedAt    *time.Time
}

// Translation is a completed translation persisted for offline catch-up.
type Translation struct {
	MessageID      uuid.UUID
	ConversationID uuid.UUID
	TargetLanguage string
	Text           string
	CreatedAt      time.Time
}
