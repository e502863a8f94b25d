package contracts

import (
	"context"
	"time"
)

// PresenceStore keeps the ephemeral per-conversation online set. Backed by
// TTL-scored Redis ZSETs so stale entries clean themselves up.
type PresenceStore interface {
	UpdateOnlineStatus(ctx context.Context, convID, identityID string, ttl time.Duration) error
	// GetOnline returns the identities seen within the last staleAfter.
	GetOnline(ctx context.Context, convID string, staleAfter time.Duration) ([]string, error)
	MarkOffline(ctx context.Context, convID, identityID string) error
}
