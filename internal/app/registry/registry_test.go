package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

type fakeClient struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (c *fakeClient) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeClient) lastKind(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return ""
	}
	var env struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(c.sent[len(c.sent)-1], &env); err != nil {
		t.Fatalf("malformed event: %v", err)
	}
	return env.Kind
}

func testHub(policy domain.SessionPolicy) *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), policy, nil)
}

func identity(id string) domain.Identity {
	return domain.Identity{Kind: domain.KindRegistered, User: &domain.RegisteredUser{ID: id}}
}

func TestHubRegisterJoinLeave(t *testing.T) {
	req := require.New(t)
	hub := testHub(domain.PolicyMultiDevice)

	sess, err := hub.Register(context.Background(), identity("alice"), &fakeClient{})
	req.NoError(err)

	req.NoError(hub.Join(sess.ID, "conv-1"))
	req.NoError(hub.Join(sess.ID, "conv-1")) // idempotent
	req.NoError(hub.Join(sess.ID, "conv-2"))

	req.ElementsMatch([]string{"conv-1", "conv-2"}, hub.SessionRooms(sess.ID))
	req.Equal([]string{sess.ID}, hub.SessionsInRoom("conv-1"))
	req.True(hub.IdentityInRoom("conv-1", "alice"))

	hub.Leave(sess.ID, "conv-1")
	req.Empty(hub.SessionsInRoom("conv-1"))
	req.False(hub.IdentityInRoom("conv-1", "alice"))
	req.True(hub.IdentityOnline("alice"))
}

func TestHubJoinUnknownSession(t *testing.T) {
	req := require.New(t)
	hub := testHub(domain.PolicyMultiDevice)
	req.ErrorIs(hub.Join("ghost", "conv-1"), domain.ErrSessionNotFound)
}

func TestHubRegisterRejectsInvalidIdentity(t *testing.T) {
	req := require.New(t)
	hub := testHub(domain.PolicyMultiDevice)
	_, err := hub.Register(context.Background(), domain.Identity{}, &fakeClient{})
	req.ErrorIs(err, domain.ErrUnauthenticated)
}

func TestHubUnregisterCleansEveryIndex(t *testing.T) {
	req := require.New(t)
	hub := testHub(domain.PolicyMultiDevice)
	client := &fakeClient{}

	sess, err := hub.Register(context.Background(), identity("alice"), client)
	req.NoError(err)
	req.NoError(hub.Join(sess.ID, "conv-1"))
	req.NoError(hub.Join(sess.ID, "conv-2"))

	rooms := hub.Unregister(context.Background(), sess.ID)
	req.ElementsMatch([]string{"conv-1", "conv-2"}, rooms)

	req.True(client.closed)
	req.Empty(hub.SessionsInRoom("conv-1"))
	req.Empty(hub.SessionsInRoom("conv-2"))
	req.False(hub.IdentityOnline("alice"))
	req.Nil(hub.SessionRooms(sess.ID))

	// a second unregister is a no-op
	req.Nil(hub.Unregister(context.Background(), sess.ID))
}

func TestHubMultiDeviceKeepsBothSessions(t *testing.T) {
	req := require.New(t)
	hub := testHub(domain.PolicyMultiDevice)

	phone := &fakeClient{}
	laptop := &fakeClient{}
	s1, err := hub.Register(context.Background(), identity("alice"), phone)
	req.NoError(err)
	s2, err := hub.Register(context.Background(), identity("alice"), laptop)
	req.NoError(err)
	req.NotEqual(s1.ID, s2.ID)
	req.False(phone.closed)

	req.NoError(hub.Join(s1.ID, "conv-1"))
	req.NoError(hub.Join(s2.ID, "conv-1"))

	// both devices receive the broadcast
	hub.Emit(context.Background(), "conv-1", domain.TypingEvent{Kind: domain.KindPresenceTyping})
	req.Equal(1, phone.sentCount())
	req.Equal(1, laptop.sentCount())
}

func TestHubSingleSessionSupersedesOldDevice(t *testing.T) {
	req := require.New(t)
	hub := testHub(domain.PolicySingleSession)

	phone := &fakeClient{}
	s1, err := hub.Register(context.Background(), identity("alice"), phone)
	req.NoError(err)
	req.NoError(hub.Join(s1.ID, "conv-1"))

	laptop := &fakeClient{}
	s2, err := hub.Register(context.Background(), identity("alice"), laptop)
	req.NoError(err)

	// the old device got a superseded notice and was closed
	req.True(phone.closed)
	req.Equal(string(domain.KindSuperseded), phone.lastKind(t))

	// the identity stays online through the new session only
	req.True(hub.IdentityOnline("alice"))
	req.Empty(hub.SessionsInRoom("conv-1"))
	_, ok := hub.SessionIdentity(s1.ID)
	req.False(ok)
	_, ok = hub.SessionIdentity(s2.ID)
	req.True(ok)
}

func TestHubEmitExceptSkipsSender(t *testing.T) {
	req := require.New(t)
	hub := testHub(domain.PolicyMultiDevice)

	sender := &fakeClient{}
	peer := &fakeClient{}
	s1, _ := hub.Register(context.Background(), identity("alice"), sender)
	s2, _ := hub.Register(context.Background(), identity("bob"), peer)
	req.NoError(hub.Join(s1.ID, "conv-1"))
	req.NoError(hub.Join(s2.ID, "conv-1"))

	hub.EmitExcept(context.Background(), "conv-1", s1.ID, domain.MessageEvent{Kind: domain.KindMessageNew})

	req.Zero(sender.sentCount())
	req.Equal(1, peer.sentCount())
	req.Equal(string(domain.KindMessageNew), peer.lastKind(t))
}

func TestHubEmitReachesOnlyTheRoom(t *testing.T) {
	req := require.New(t)
	hub := testHub(domain.PolicyMultiDevice)

	inRoom := &fakeClient{}
	outside := &fakeClient{}
	s1, _ := hub.Register(context.Background(), identity("alice"), inRoom)
	_, err := hub.Register(context.Background(), identity("bob"), outside)
	req.NoError(err)
	req.NoError(hub.Join(s1.ID, "conv-1"))

	hub.Emit(context.Background(), "conv-1", domain.TypingEvent{Kind: domain.KindPresenceTyping})

	req.Equal(1, inRoom.sentCount())
	req.Zero(outside.sentCount())
}

func TestHubAckTargetsOneSession(t *testing.T) {
	req := require.New(t)
	hub := testHub(domain.PolicyMultiDevice)

	mine := &fakeClient{}
	other := &fakeClient{}
	s1, _ := hub.Register(context.Background(), identity("alice"), mine)
	s2, _ := hub.Register(context.Background(), identity("bob"), other)
	req.NoError(hub.Join(s1.ID, "conv-1"))
	req.NoError(hub.Join(s2.ID, "conv-1"))

	hub.Ack(context.Background(), s1.ID, domain.AckEvent{Kind: domain.KindAck, Status: domain.AckOK})

	req.Equal(1, mine.sentCount())
	req.Zero(other.sentCount())
	req.Equal(string(domain.KindAck), mine.lastKind(t))

	// acking a gone session is silent
	hub.Ack(context.Background(), "ghost", domain.AckEvent{Kind: domain.KindAck})
}
