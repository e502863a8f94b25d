package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

// recordingPresence remembers writes and serves a canned roster, recording
// the staleness window it was asked for.
type recordingPresence struct {
	mu         sync.Mutex
	online     map[string][]string
	staleAfter time.Duration
}

func newRecordingPresence() *recordingPresence {
	return &recordingPresence{online: map[string][]string{}}
}

func (p *recordingPresence) UpdateOnlineStatus(_ context.Context, convID, identityID string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.online[convID] {
		if id == identityID {
			return nil
		}
	}
	p.online[convID] = append(p.online[convID], identityID)
	return nil
}

func (p *recordingPresence) GetOnline(_ context.Context, convID string, staleAfter time.Duration) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staleAfter = staleAfter
	return append([]string(nil), p.online[convID]...), nil
}

func (p *recordingPresence) MarkOffline(_ context.Context, convID, identityID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.online[convID][:0]
	for _, id := range p.online[convID] {
		if id != identityID {
			kept = append(kept, id)
		}
	}
	p.online[convID] = kept
	return nil
}

func newRoomFixture(t *testing.T) (*RoomService, *fakeRegistry, *recordingPresence, *domain.Conversation) {
	t.Helper()
	log := testLogger()
	clk := clock.NewMock()
	conv := &domain.Conversation{ID: uuid.New(), Title: "team room", MinWriteRole: domain.RoleMember}
	members := &memMembers{members: []domain.Member{
		{ConversationID: conv.ID, UserID: "alice", DisplayName: "Alice", Role: domain.RoleMember, PreferredLanguage: "en"},
	}}
	reg := newFakeRegistry()
	presence := newRecordingPresence()
	typing := NewTypingTracker(log, reg, clk, time.Second)
	rooms := NewRoomService(log, newMemConvs(conv), members, reg, presence, typing, clk, 30*time.Second, 45*time.Second)
	return rooms, reg, presence, conv
}

func TestRoomServiceOnlineRosterReflectsPresence(t *testing.T) {
	req := require.New(t)
	rooms, _, presence, conv := newRoomFixture(t)
	alice := domain.Identity{Kind: domain.KindRegistered, User: &domain.RegisteredUser{ID: "alice", DisplayName: "Alice", PreferredLanguage: "en"}}

	// Given alice joined over a live connection
	sess := &domain.ConnectionSession{ID: "sess-alice", Identity: alice}
	req.NoError(rooms.JoinRoom(context.Background(), sess, conv.ID.String()))

	// When she asks who is online
	online, err := rooms.OnlineRoster(context.Background(), alice, conv.ID.String())

	// Then the join's presence write is readable back
	req.NoError(err)
	req.Equal([]string{"alice"}, online)

	// Then the staleness window matches the configured online TTL
	req.Equal(45*time.Second, presence.staleAfter)
}

func TestRoomServiceOnlineRosterRequiresMembership(t *testing.T) {
	req := require.New(t)
	rooms, _, _, conv := newRoomFixture(t)

	// Given a registered user who is not a member of the private room
	mallory := domain.Identity{Kind: domain.KindRegistered, User: &domain.RegisteredUser{ID: "mallory", DisplayName: "Mallory", PreferredLanguage: "en"}}

	_, err := rooms.OnlineRoster(context.Background(), mallory, conv.ID.String())
	req.ErrorIs(err, domain.ErrNotAMember)
}

func TestRoomServiceRosterDropsIdentityAfterLeave(t *testing.T) {
	req := require.New(t)
	rooms, _, _, conv := newRoomFixture(t)
	alice := domain.Identity{Kind: domain.KindRegistered, User: &domain.RegisteredUser{ID: "alice", DisplayName: "Alice", PreferredLanguage: "en"}}

	sess := &domain.ConnectionSession{ID: "sess-alice", Identity: alice}
	req.NoError(rooms.JoinRoom(context.Background(), sess, conv.ID.String()))

	// When her only session leaves the room
	rooms.LeaveRoom(context.Background(), sess, conv.ID.String())

	// Then she is gone from the roster
	online, err := rooms.OnlineRoster(context.Background(), alice, conv.ID.String())
	req.NoError(err)
	req.Empty(online)
}
