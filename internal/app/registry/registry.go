package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/isopen-io/meeshy-sub020/internal/core/contracts"
	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/internal/platform/metrics"
	"github.com/isopen-io/meeshy-sub020/pkg/logging"
)

type session struct {
	id       string
	identity domain.Identity
	client   contracts.Client
	rooms    map[string]struct{}
	started  time.Time
}

// Hub is the instance-local session registry and broadcast fanout.
//
// Both indices (rooms and sessions) mutate under one lock, so a concurrent
// reader sees either the pre- or post-mutation state, never a torn one.
// Delivery happens outside the lock against a snapshot.
type Hub struct {
	mu         sync.RWMutex
	policy     domain.SessionPolicy
	sessions   map[string]*session            // session id → session
	byIdentity map[string]map[string]*session // identity id → session ids
	rooms      map[string]map[string]*session // conversation id → session ids

	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewHub(log *slog.Logger, policy domain.SessionPolicy, m *metrics.Metrics) *Hub {
	return &Hub{
		policy:     policy,
		sessions:   make(map[string]*session),
		byIdentity: make(map[string]map[string]*session),
		rooms:      make(map[string]map[string]*session),
		log:        log,
		metrics:    m,
	}
}

func (h *Hub) Register(ctx context.Context, identity domain.Identity, c contracts.Client) (*domain.ConnectionSession, error) {
	if !identity.Valid() {
		return nil, domain.ErrUnauthenticated
	}
	s := &session{
		id:       uuid.NewString(),
		identity: identity,
		client:   c,
		rooms:    make(map[string]struct{}),
		started:  time.Now(),
	}

	var superseded []*session
	h.mu.Lock()
	if h.policy == domain.PolicySingleSession {
		for _, old := range h.byIdentity[identity.ID()] {
			superseded = append(superseded, old)
		}
		for _, old := range superseded {
			h.removeLocked(old)
		}
	}
	if h.byIdentity[identity.ID()] == nil {
		h.byIdentity[identity.ID()] = make(map[string]*session)
	}
	h.byIdentity[identity.ID()][s.id] = s
	h.sessions[s.id] = s
	h.mu.Unlock()

	// Old sessions are already invisible; notify and close outside the lock.
	for _, old := range superseded {
		h.send(ctx, old, domain.SupersededEvent{Kind: domain.KindSuperseded, NewSessionID: s.id})
		old.client.Close()
		h.metrics.IncSessionSuperseded()
		h.log.InfoContext(ctx, "registry - register - session superseded",
			logging.Session(old.id), logging.IdentityID(identity.ID()))
	}

	h.metrics.IncSessionRegistered()
	return &domain.ConnectionSession{
		ID:          s.id,
		Identity:    identity,
		ConnectedAt: s.started,
		LastSeenAt:  s.started,
	}, nil
}

// removeLocked detaches a session from every index. Caller holds the lock.
func (h *Hub) removeLocked(s *session) {
	for convID := range s.rooms {
		delete(h.rooms[convID], s.id)
		if len(h.rooms[convID]) == 0 {
			delete(h.rooms, convID)
		}
	}
	delete(h.sessions, s.id)
	if peers := h.byIdentity[s.identity.ID()]; peers != nil {
		delete(peers, s.id)
		if len(peers) == 0 {
			delete(h.byIdentity, s.identity.ID())
		}
	}
}

func (h *Hub) Unregister(ctx context.Context, sessionID string) []string {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	var rooms []string
	if ok {
		for convID := range s.rooms {
			rooms = append(rooms, convID)
		}
		h.removeLocked(s)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	s.client.Close()
	h.log.InfoContext(ctx, "registry - unregister - session removed",
		logging.Session(sessionID), slog.Int("rooms", len(rooms)))
	return rooms
}

func (h *Hub) Join(sessionID, convID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if _, joined := s.rooms[convID]; joined {
		return nil
	}
	if h.rooms[convID] == nil {
		h.rooms[convID] = make(map[string]*session)
	}
	h.rooms[convID][sessionID] = s
	s.rooms[convID] = struct{}{}
	return nil
}

func (h *Hub) Leave(sessionID, convID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(s.rooms, convID)
	delete(h.rooms[convID], sessionID)
	if len(h.rooms[convID]) == 0 {
		delete(h.rooms, convID)
	}
}

func (h *Hub) SessionsInRoom(convID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms[convID]))
	for id := range h.rooms[convID] {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) SessionRooms(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(s.rooms))
	for convID := range s.rooms {
		rooms = append(rooms, convID)
	}
	return rooms
}

func (h *Hub) IdentityInRoom(convID, identityID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.rooms[convID] {
		if s.identity.ID() == identityID {
			return true
		}
	}
	return false
}

func (h *Hub) IdentityOnline(identityID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byIdentity[identityID]) > 0
}

// SessionIdentity resolves the identity bound to a live session.
func (h *Hub) SessionIdentity(sessionID string) (domain.Identity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return domain.Identity{}, false
	}
	return s.identity, true
}

func (h *Hub) Emit(ctx context.Context, convID string, event any) {
	h.EmitExcept(ctx, convID, "", event)
}

func (h *Hub) EmitExcept(ctx context.Context, convID, exceptSessionID string, event any) {
	h.mu.RLock()
	targets := make([]*session, 0, len(h.rooms[convID]))
	for id, s := range h.rooms[convID] {
		if id == exceptSessionID {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(event)
	if err != nil {
		h.log.ErrorContext(ctx, "registry - emit - marshal failed", logging.Err(err))
		return
	}
	for _, s := range targets {
		if err := s.client.Send(ctx, data); err != nil {
			// Best effort: one dead session never blocks the room.
			h.metrics.IncDeliveryFailure()
			h.log.DebugContext(ctx, "registry - emit - delivery failed",
				logging.Session(s.id), logging.Conversation(convID), logging.Err(err))
			continue
		}
		h.metrics.IncDelivery()
	}
}

func (h *Hub) Ack(ctx context.Context, sessionID string, event any) {
	h.mu.RLock()
	s := h.sessions[sessionID]
	h.mu.RUnlock()
	if s == nil {
		return
	}
	h.send(ctx, s, event)
}

func (h *Hub) send(ctx context.Context, s *session, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.ErrorContext(ctx, "registry - send - marshal failed", logging.Err(err))
		return
	}
	if err := s.client.Send(ctx, data); err != nil {
		h.metrics.IncDeliveryFailure()
		h.log.DebugContext(ctx, "registry - send - delivery failed",
			logging.Session(s.id), logging.Err(err))
	}
}
