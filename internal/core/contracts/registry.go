package contracts

import (
	"context"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

// Registry is the live connection registry plus broadcast fanout. It is
// instance-local: each process fans out only to its own connections, and
// cross-instance propagation rides the pub/sub bridge.
//
// Registry mutations never fail because of delivery problems: broadcast is
// fire-and-forget from the registry's point of view, and the room→sessions
// and session→rooms indices move in lockstep.
type Registry interface {
	// Register adds a connection for an identity and returns its session.
	// Under the single-session policy an existing live session for the same
	// identity is sent a superseded event and closed before the new one
	// becomes visible.
	Register(ctx context.Context, identity domain.Identity, c Client) (*domain.ConnectionSession, error)
	// Unregister removes the session from every room it joined and from the
	// identity index, and returns the rooms it was in so presence can
	// propagate the offline transition.
	Unregister(ctx context.Context, sessionID string) []string
	// Join is idempotent. Membership is checked by the caller; the registry
	// only maintains the derived room cache.
	Join(sessionID, convID string) error
	// Leave is an idempotent no-op when not joined.
	Leave(sessionID, convID string)
	// SessionsInRoom snapshots the session ids currently joined to a room.
	SessionsInRoom(convID string) []string
	// SessionRooms snapshots the rooms a session has joined.
	SessionRooms(sessionID string) []string
	// IdentityOnline reports whether any session exists for the identity.
	IdentityOnline(identityID string) bool
	// IdentityInRoom reports whether the identity still has a session joined
	// to the room, used to decide offline propagation.
	IdentityInRoom(convID, identityID string) bool

	// Emit delivers an event to every session in the room. Per-session
	// failures are logged and never abort delivery to the rest.
	Emit(ctx context.Context, convID string, event any)
	// EmitExcept is Emit minus one session, used to keep the sender's
	// broadcast echo separate from its ack.
	EmitExcept(ctx context.Context, convID, exceptSessionID string, event any)
	// Ack targets a single session with a delivery acknowledgement.
	Ack(ctx context.Context, sessionID string, event any)
}

// Client is the minimal transport surface the registry needs from a live
// connection.
type Client interface {
	Send(ctx context.Context, data []byte) error
	Close()
}
