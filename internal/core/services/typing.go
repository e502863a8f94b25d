package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/isopen-io/meeshy-sub020/internal/core/contracts"
	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/pkg/logging"
)

type typingKey struct {
	convID     string
	identityID string
}

// TypingTracker is the ephemeral typing state. Every typing signal is
// broadcast immediately; a stop is auto-broadcast after the inactivity
// window even if the client never sends one. The auto-expiry is part of
// the contract, not an optimization.
type TypingTracker struct {
	mu     sync.Mutex
	timers map[typingKey]*clock.Timer

	registry contracts.Registry
	clock    clock.Clock
	window   time.Duration
	log      *slog.Logger
}

func NewTypingTracker(log *slog.Logger, registry contracts.Registry, clk clock.Clock, window time.Duration) *TypingTracker {
	if window <= 0 {
		window = 6 * time.Second
	}
	return &TypingTracker{
		timers:   make(map[typingKey]*clock.Timer),
		registry: registry,
		clock:    clk,
		window:   window,
		log:      log,
	}
}

func (t *TypingTracker) SetTyping(ctx context.Context, convID, identityID string, isTyping bool) {
	key := typingKey{convID: convID, identityID: identityID}

	t.mu.Lock()
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
	if isTyping {
		// Renewing the signal pushes the expiry window forward.
		t.timers[key] = t.clock.AfterFunc(t.window, func() {
			t.expire(key)
		})
	}
	t.mu.Unlock()

	t.registry.Emit(ctx, convID, domain.TypingEvent{
		Kind:           domain.KindPresenceTyping,
		ConversationID: convID,
		IdentityID:     identityID,
		IsTyping:       isTyping,
	})
}

// expire fires at most once per armed timer: the timer removes itself
// before broadcasting, so a concurrent renewal cannot double-stop.
func (t *TypingTracker) expire(key typingKey) {
	t.mu.Lock()
	_, ok := t.timers[key]
	if ok {
		delete(t.timers, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	t.log.Debug("typing - expire - auto stop",
		logging.Conversation(key.convID), logging.IdentityID(key.identityID))
	t.registry.Emit(context.Background(), key.convID, domain.TypingEvent{
		Kind:           domain.KindPresenceTyping,
		ConversationID: key.convID,
		IdentityID:     key.identityID,
		IsTyping:       false,
	})
}

// Clear drops any armed timer without broadcasting, used on disconnect.
func (t *TypingTracker) Clear(convID, identityID string) {
	key := typingKey{convID: convID, identityID: identityID}
	t.mu.Lock()
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
	t.mu.Unlock()
}
