package bridge

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/isopen-io/meeshy-sub020/internal/app/registry"
	"github.com/isopen-io/meeshy-sub020/internal/core/contracts"
	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/pkg/logging"
)

const fanoutChannel = "fanout:events"

// envelope is the pub/sub wire shape. Origin lets every subscriber drop its
// own publications; the excluded session only exists on the origin instance
// so remote re-emits go to the whole room.
type envelope struct {
	Origin  string          `json:"origin"`
	ConvID  string          `json:"conv_id"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge wraps the local hub with Redis pub/sub so a room spread over
// several instances still sees every broadcast. Registry mutations and acks
// stay instance-local; only room broadcasts cross the wire.
type Bridge struct {
	hub        *registry.Hub
	rdb        *redis.Client
	instanceID string
	log        *slog.Logger
}

var _ contracts.Registry = (*Bridge)(nil)

func New(log *slog.Logger, hub *registry.Hub, rdb *redis.Client, instanceID string) *Bridge {
	return &Bridge{hub: hub, rdb: rdb, instanceID: instanceID, log: log}
}

// Run consumes remote broadcasts until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, fanoutChannel)
	defer sub.Close()

	// force the subscription before we report ready
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	b.log.InfoContext(ctx, "bridge - run - subscribed", "channel", fanoutChannel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(ctx, []byte(msg.Payload))
		}
	}
}

func (b *Bridge) deliver(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.log.Warn("bridge - deliver - malformed envelope", logging.Err(err))
		return
	}
	if env.Origin == b.instanceID {
		return
	}
	b.hub.Emit(ctx, env.ConvID, env.Payload)
}

func (b *Bridge) publish(ctx context.Context, convID string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Error("bridge - publish - marshal failed", logging.Err(err))
		return
	}
	data, err := json.Marshal(envelope{Origin: b.instanceID, ConvID: convID, Payload: payload})
	if err != nil {
		b.log.Error("bridge - publish - marshal failed", logging.Err(err))
		return
	}
	if err := b.rdb.Publish(ctx, fanoutChannel, data).Err(); err != nil {
		// local delivery already happened; remote rooms miss this one event
		b.log.WarnContext(ctx, "bridge - publish - redis publish failed",
			logging.Conversation(convID), logging.Err(err))
	}
}

func (b *Bridge) Emit(ctx context.Context, convID string, event any) {
	b.hub.Emit(ctx, convID, event)
	b.publish(ctx, convID, event)
}

func (b *Bridge) EmitExcept(ctx context.Context, convID, exceptSessionID string, event any) {
	b.hub.EmitExcept(ctx, convID, exceptSessionID, event)
	b.publish(ctx, convID, event)
}

func (b *Bridge) Register(ctx context.Context, identity domain.Identity, c contracts.Client) (*domain.ConnectionSession, error) {
	return b.hub.Register(ctx, identity, c)
}

func (b *Bridge) Unregister(ctx context.Context, sessionID string) []string {
	return b.hub.Unregister(ctx, sessionID)
}

func (b *Bridge) Join(sessionID, convID string) error { return b.hub.Join(sessionID, convID) }

func (b *Bridge) Leave(sessionID, convID string) { b.hub.Leave(sessionID, convID) }

func (b *Bridge) SessionsInRoom(convID string) []string { return b.hub.SessionsInRoom(convID) }

func (b *Bridge) SessionRooms(sessionID string) []string { return b.hub.SessionRooms(sessionID) }

func (b *Bridge) IdentityOnline(identityID string) bool { return b.hub.IdentityOnline(identityID) }

func (b *Bridge) IdentityInRoom(convID, identityID string) bool {
	return b.hub.IdentityInRoom(convID, identityID)
}

func (b *Bridge) Ack(ctx context.Context, sessionID string, event any) {
	b.hub.Ack(ctx, sessionID, event)
}
