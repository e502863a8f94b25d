package contracts

import "context"

// Notification is the payload handed to the external dispatch transport.
type Notification struct {
	Recipients     []string `json:"recipients"`
	ConversationID string   `json:"conversation_id"`
	MessageID      string   `json:"message_id"`
	SenderName     string   `json:"sender_name"`
	Preview        string   `json:"preview"`
	Reason         string   `json:"reason"` // "mention" or "offline"
}

// Notifier dispatches notifications fire-and-forget. Errors are logged by
// the post-commit handler and never reach the sending request.
type Notifier interface {
	Dispatch(ctx context.Context, n Notification) error
}
