package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/isopen-io/meeshy-sub020/internal/core/contracts"
	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

// emitted is one recorded broadcast.
type emitted struct {
	convID string
	except string
	event  any
}

type fakeRegistry struct {
	mu     sync.Mutex
	events []emitted
	acks   []any
	online map[string]bool
	rooms  map[string]map[string]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		online: make(map[string]bool),
		rooms:  make(map[string]map[string]bool),
	}
}

func (r *fakeRegistry) Register(_ context.Context, identity domain.Identity, _ contracts.Client) (*domain.ConnectionSession, error) {
	return &domain.ConnectionSession{ID: uuid.NewString(), Identity: identity}, nil
}

func (r *fakeRegistry) Unregister(context.Context, string) []string { return nil }
func (r *fakeRegistry) Join(string, string) error                   { return nil }
func (r *fakeRegistry) Leave(string, string)                        {}
func (r *fakeRegistry) SessionsInRoom(string) []string              { return nil }
func (r *fakeRegistry) SessionRooms(string) []string                { return nil }

func (r *fakeRegistry) IdentityOnline(identityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[identityID]
}

func (r *fakeRegistry) IdentityInRoom(convID, identityID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[convID][identityID]
}

func (r *fakeRegistry) Emit(_ context.Context, convID string, event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{convID: convID, event: event})
}

func (r *fakeRegistry) EmitExcept(_ context.Context, convID, exceptSessionID string, event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{convID: convID, except: exceptSessionID, event: event})
}

func (r *fakeRegistry) Ack(_ context.Context, _ string, event any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, event)
}

func (r *fakeRegistry) emittedEvents() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

func (r *fakeRegistry) typingEvents() []domain.TypingEvent {
	var out []domain.TypingEvent
	for _, e := range r.emittedEvents() {
		if te, ok := e.event.(domain.TypingEvent); ok {
			out = append(out, te)
		}
	}
	return out
}

type memMessages struct {
	mu      sync.Mutex
	seq     map[uuid.UUID]int64
	byID    map[uuid.UUID]*domain.Message
	saveErr error
}

func newMemMessages() *memMessages {
	return &memMessages{
		seq:  make(map[uuid.UUID]int64),
		byID: make(map[uuid.UUID]*domain.Message),
	}
}

func (m *memMessages) SaveWithSequence(_ context.Context, msg *domain.Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.seq[msg.ConversationID]++
	seq := m.seq[msg.ConversationID]
	stored := *msg
	stored.Seq = seq
	m.byID[msg.ID] = &stored
	return seq, nil
}

func (m *memMessages) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *memMessages) UpdateContent(_ context.Context, id uuid.UUID, content, language string, editedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	if !ok || msg.DeletedAt != nil {
		return domain.ErrMessageNotFound
	}
	msg.Content = content
	msg.OriginalLanguage = language
	msg.EditedAt = &editedAt
	return nil
}

func (m *memMessages) SoftDelete(_ context.Context, id uuid.UUID, deletedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	if !ok || msg.DeletedAt != nil {
		return domain.ErrMessageNotFound
	}
	msg.DeletedAt = &deletedAt
	return nil
}

func (m *memMessages) ListBefore(_ context.Context, convID uuid.UUID, beforeSeq int64, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if beforeSeq <= 0 {
		beforeSeq = 1 << 62
	}
	var out []domain.Message
	for _, msg := range m.byID {
		if msg.ConversationID == convID && msg.Seq < beforeSeq {
			out = append(out, *msg)
		}
	}
	// newest first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Seq > out[i].Seq {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memConvs struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*domain.Conversation
	bumps int
}

func newMemConvs(convs ...*domain.Conversation) *memConvs {
	m := &memConvs{byID: make(map[uuid.UUID]*domain.Conversation)}
	for _, c := range convs {
		m.byID[c.ID] = c
	}
	return m
}

func (m *memConvs) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConvs) BumpStats(_ context.Context, id uuid.UUID, seq int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return domain.ErrConversationNotFound
	}
	if seq > c.MessageCount {
		c.MessageCount = seq
		c.LastActivityAt = at
	}
	m.bumps++
	return nil
}

type memMembers struct {
	members []domain.Member
}

func (m *memMembers) GetMember(_ context.Context, convID uuid.UUID, userID string) (*domain.Member, error) {
	for i := range m.members {
		if m.members[i].ConversationID == convID && m.members[i].UserID == userID {
			return &m.members[i], nil
		}
	}
	return nil, domain.ErrNotAMember
}

func (m *memMembers) ListMembers(_ context.Context, convID uuid.UUID) ([]domain.Member, error) {
	var out []domain.Member
	for _, member := range m.members {
		if member.ConversationID == convID {
			out = append(out, member)
		}
	}
	return out, nil
}

type memMentions struct {
	mu      sync.Mutex
	created []domain.Mention
}

func (m *memMentions) CreateAll(_ context.Context, mentions []domain.Mention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, mentions...)
	return nil
}

type memTranslations struct {
	mu    sync.Mutex
	saved []domain.Translation
}

func (m *memTranslations) Save(_ context.Context, t *domain.Translation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.saved {
		if m.saved[i].MessageID == t.MessageID && m.saved[i].TargetLanguage == t.TargetLanguage {
			m.saved[i] = *t
			return nil
		}
	}
	m.saved = append(m.saved, *t)
	return nil
}

func (m *memTranslations) ListForMessages(_ context.Context, ids []uuid.UUID) ([]domain.Translation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Translation
	for _, t := range m.saved {
		for _, id := range ids {
			if t.MessageID == id {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

type fakeTx struct {
	err error
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(ctx)
}

type fakeQueue struct {
	mu         sync.Mutex
	published  [][]byte
	publishErr error
}

func (q *fakeQueue) Publish(_ context.Context, _ string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, payload)
	return nil
}

func (q *fakeQueue) Subscribe(context.Context, string, string, func(context.Context, string, []byte) error) error {
	return nil
}
func (q *fakeQueue) Ack(context.Context, string, string, string) error { return nil }
func (q *fakeQueue) Delete(context.Context, string, string) error      { return nil }

func (q *fakeQueue) publishedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published)
}

type cacheKey struct{ source, target, hash string }

type fakeCache struct {
	mu      sync.Mutex
	entries map[cacheKey]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[cacheKey]string)}
}

func (c *fakeCache) Get(_ context.Context, source, target, hash string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.entries[cacheKey{source, target, hash}]
	return text, ok, nil
}

func (c *fakeCache) Put(_ context.Context, source, target, hash, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{source, target, hash}] = text
	return nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	dispatched []contracts.Notification
}

func (n *fakeNotifier) Dispatch(_ context.Context, notification contracts.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispatched = append(n.dispatched, notification)
	return nil
}

var errStorageDown = errors.New("storage down")
