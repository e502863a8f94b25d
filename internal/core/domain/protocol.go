package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of wire event names. Payload shapes are fixed
// per kind and checked where wire bytes are decoded.
type EventKind string

const (
	// client → server
	KindMessageSend      EventKind = "message:send"
	KindMessageEdit      EventKind = "message:edit"
	KindMessageDelete    EventKind = "message:delete"
	KindConversationJoin EventKind = "conversation:join"
	KindConversationLeft EventKind = "conversation:leave"

	// both directions
	KindPresenceTyping EventKind = "presence:typing"

	// server → client
	KindHandshake         EventKind = "handshake"
	KindAck               EventKind = "ack"
	KindError             EventKind = "error"
	KindMessageNew        EventKind = "message:new"
	KindMessageUpdated    EventKind = "message:updated"
	KindMessageDeleted    EventKind = "message:deleted"
	KindTranslationReady  EventKind = "translation:ready"
	KindTranslationFailed EventKind = "translation:failed"
	KindPresenceStatus    EventKind = "presence:status"
	KindSuperseded        EventKind = "session:superseded"
)

// HandshakeEvent is sent once after a successful registration.
type HandshakeEvent struct {
	Kind      EventKind     `json:"kind"` // "handshake"
	SessionID string        `json:"session_id"`
	Policy    SessionPolicy `json:"session_policy"`
}

type AckStatus string

const (
	AckOK     AckStatus = "ok"
	AckFailed AckStatus = "failed"
)

// AckEvent is sent only to the originating session. It is the sender's
// delivery confirmation, distinct from the room broadcast.
type AckEvent struct {
	Kind        EventKind `json:"kind"` // "ack"
	ClientMsgID string    `json:"client_msg_id,omitempty"`
	Status      AckStatus `json:"status"`
	MessageID   string    `json:"message_id,omitempty"`
	Seq         int64     `json:"seq,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ErrorEvent is the WS-safe error surface.
type ErrorEvent struct {
	Kind    EventKind `json:"kind"` // "error"
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// MessageView is the client-facing shape of a message. Deleted messages are
// never rendered through it.
type MessageView struct {
	ID               string     `json:"id"`
	ConversationID   string     `json:"conversation_id"`
	SenderID         string     `json:"sender_id"`
	SenderKind       string     `json:"sender_kind"`
	Content          string     `json:"content"`
	OriginalLanguage string     `json:"original_language"`
	Type             string     `json:"type"`
	ReplyToID        string     `json:"reply_to_id,omitempty"`
	Seq              int64      `json:"seq"`
	CreatedAt        time.Time  `json:"created_at"`
	EditedAt         *time.Time `json:"edited_at,omitempty"`
}

// NewMessageView maps a persisted message into its wire shape.
func NewMessageView(m *Message) MessageView {
	v := MessageView{
		ID:               m.ID.String(),
		ConversationID:   m.ConversationID.String(),
		SenderID:         m.SenderID,
		SenderKind:       string(m.SenderKind),
		Content:          m.Content,
		OriginalLanguage: m.OriginalLanguage,
		Type:             string(m.Type),
		Seq:              m.Seq,
		CreatedAt:        m.CreatedAt,
		EditedAt:         m.EditedAt,
	}
	if m.ReplyToID != nil {
		v.ReplyToID = m.ReplyToID.String()
	}
	return v
}

// MessageEvent carries message:new and message:updated broadcasts.
type MessageEvent struct {
	Kind    EventKind   `json:"kind"`
	Message MessageView `json:"message"`
}

// MessageDeletedEvent carries message:deleted broadcasts. Only the id leaves
// the server; the soft-deleted content does not.
type MessageDeletedEvent struct {
	Kind           EventKind `json:"kind"` // "message:deleted"
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
}

// TranslationReadyEvent is pushed when a translation completes. Clients
// reconcile by (message_id, target_language), never by arrival order.
type TranslationReadyEvent struct {
	Kind           EventKind `json:"kind"` // "translation:ready"
	MessageID      string    `json:"message_id"`
	TargetLanguage string    `json:"target_language"`
	Text           string    `json:"text"`
	FromCache      bool      `json:"from_cache"`
}

// TranslationFailedEvent surfaces an exhausted translation as a non-blocking
// warning. Code carries the stable wire code for ErrTranslationFailed.
type TranslationFailedEvent struct {
	Kind           EventKind `json:"kind"` // "translation:failed"
	MessageID      string    `json:"message_id"`
	TargetLanguage string    `json:"target_language"`
	Code           string    `json:"code"`
}

// TypingEvent carries both directions of presence:typing.
type TypingEvent struct {
	Kind           EventKind `json:"kind"` // "presence:typing"
	ConversationID string    `json:"conversation_id"`
	IdentityID     string    `json:"identity_id"`
	IsTyping       bool      `json:"is_typing"`
}

// StatusEvent announces an identity going online or offline in a room.
type StatusEvent struct {
	Kind           EventKind `json:"kind"` // "presence:status"
	ConversationID string    `json:"conversation_id"`
	IdentityID     string    `json:"identity_id"`
	Online         bool      `json:"online"`
}

// SupersededEvent is delivered to a session right before it is forcibly
// closed under the single-session policy.
type SupersededEvent struct {
	Kind         EventKind `json:"kind"` // "session:superseded"
	NewSessionID string    `json:"new_session_id"`
}

// SendFrame is the message:send client payload.
type SendFrame struct {
	ClientMsgID      string `json:"client_msg_id"`
	ConversationID   string `json:"conversation_id" validate:"required,uuid4_rfc4122|uuid_rfc4122"`
	Content          string `json:"content"`
	OriginalLanguage string `json:"original_language" validate:"omitempty,bcp47_language_tag"`
	Type             string `json:"type"`
	ReplyToID        string `json:"reply_to_id" validate:"omitempty,uuid_rfc4122"`
}

// EditFrame is the message:edit client payload.
type EditFrame struct {
	ClientMsgID string `json:"client_msg_id"`
	MessageID   string `json:"message_id" validate:"required,uuid_rfc4122"`
	Content     string `json:"content"`
}

// DeleteFrame is the message:delete client payload.
type DeleteFrame struct {
	ClientMsgID string `json:"client_msg_id"`
	MessageID   string `json:"message_id" validate:"required,uuid_rfc4122"`
}

// RoomFrame is the conversation:join / conversation:leave client payload.
type RoomFrame struct {
	ClientMsgID    string `json:"client_msg_id"`
	ConversationID string `json:"conversation_id" validate:"required,uuid_rfc4122"`
}

// TypingFrame is the presence:typing client payload.
type TypingFrame struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid_rfc4122"`
	IsTyping       bool   `json:"is_typing"`
}

// ClientFrame is the decoded client → server envelope. Exactly one payload
// pointer is set, matching Kind.
type ClientFrame struct {
	Kind   EventKind
	Send   *SendFrame
	Edit   *EditFrame
	Delete *DeleteFrame
	Join   *RoomFrame
	Leave  *RoomFrame
	Typing *TypingFrame
}

// DecodeClientFrame turns raw wire bytes into a typed frame. Unknown kinds
// and malformed payloads are rejected here, at the boundary.
func DecodeClientFrame(raw []byte) (*ClientFrame, error) {
	var env struct {
		Kind    EventKind       `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", ErrValidation, err)
	}
	f := &ClientFrame{Kind: env.Kind}
	var dst any
	switch env.Kind {
	case KindMessageSend:
		f.Send = &SendFrame{}
		dst = f.Send
	case KindMessageEdit:
		f.Edit = &EditFrame{}
		dst = f.Edit
	case KindMessageDelete:
		f.Delete = &DeleteFrame{}
		dst = f.Delete
	case KindConversationJoin:
		f.Join = &RoomFrame{}
		dst = f.Join
	case KindConversationLeft:
		f.Leave = &RoomFrame{}
		dst = f.Leave
	case KindPresenceTyping:
		f.Typing = &TypingFrame{}
		dst = f.Typing
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrValidation, env.Kind)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return nil, fmt.Errorf("%w: malformed %s payload: %v", ErrValidation, env.Kind, err)
	}
	return f, nil
}

// ParseUUID is a small helper shared by handlers and services.
func ParseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q is not a uuid", ErrValidation, s)
	}
	return id, nil
}
