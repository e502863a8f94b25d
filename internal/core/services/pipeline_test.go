package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
)

type pipelineFixture struct {
	pipeline     *Pipeline
	bus          *PostCommitBus
	coordinator  *Coordinator
	registry     *fakeRegistry
	messages     *memMessages
	convs        *memConvs
	members      *memMembers
	mentions     *memMentions
	translations *memTranslations
	queue        *fakeQueue
	tx           *fakeTx
	clk          *clock.Mock

	conv  *domain.Conversation
	alice domain.Identity
	bob   domain.Identity
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	log := testLogger()
	clk := clock.NewMock()

	conv := &domain.Conversation{
		ID:           uuid.New(),
		Title:        "team room",
		MinWriteRole: domain.RoleMember,
	}
	f := &pipelineFixture{
		registry:     newFakeRegistry(),
		messages:     newMemMessages(),
		convs:        newMemConvs(conv),
		mentions:     &memMentions{},
		translations: &memTranslations{},
		queue:        &fakeQueue{},
		tx:           &fakeTx{},
		clk:          clk,
		conv:         conv,
	}
	f.members = &memMembers{members: []domain.Member{
		{ConversationID: conv.ID, UserID: "alice", DisplayName: "Alice", Role: domain.RoleMember, PreferredLanguage: "en"},
		{ConversationID: conv.ID, UserID: "bob", DisplayName: "Bob", Role: domain.RoleMember, PreferredLanguage: "fr"},
		{ConversationID: conv.ID, UserID: "mona", DisplayName: "Mona", Role: domain.RoleModerator, PreferredLanguage: "en"},
	}}
	f.alice = domain.Identity{Kind: domain.KindRegistered, User: &domain.RegisteredUser{ID: "alice", DisplayName: "Alice", PreferredLanguage: "en"}}
	f.bob = domain.Identity{Kind: domain.KindRegistered, User: &domain.RegisteredUser{ID: "bob", DisplayName: "Bob", PreferredLanguage: "fr"}}

	typing := NewTypingTracker(log, f.registry, clk, time.Second)
	rooms := NewRoomService(log, f.convs, f.members, f.registry, fakePresence{}, typing, clk, 30*time.Second, 45*time.Second)
	f.coordinator = NewCoordinator(log, newFakeCache(), f.queue, f.registry, f.translations, nil, clk, CoordinatorConfig{
		Stream: "translation:jobs", MaxAttempts: 3, RetryBase: time.Second,
	})
	f.bus = NewPostCommitBus(log, 64,
		&MentionHandler{Mentions: f.mentions},
		&TranslationHandler{Coordinator: f.coordinator},
		&StatsHandler{Conversations: f.convs},
	)
	f.pipeline = NewPipeline(log, f.messages, f.convs, f.members, f.translations,
		f.tx, f.registry, rooms, f.bus, f.coordinator, clk, nil, 2000, 5*time.Second)
	return f
}

func (f *pipelineFixture) session(identity domain.Identity) *domain.ConnectionSession {
	return &domain.ConnectionSession{ID: "sess-" + identity.ID(), Identity: identity}
}

func (f *pipelineFixture) sendFrame(content string) *domain.SendFrame {
	return &domain.SendFrame{
		ConversationID:   f.conv.ID.String(),
		Content:          content,
		OriginalLanguage: "en",
	}
}

type fakePresence struct{}

func (fakePresence) UpdateOnlineStatus(context.Context, string, string, time.Duration) error {
	return nil
}
func (fakePresence) GetOnline(context.Context, string, time.Duration) ([]string, error) {
	return nil, nil
}
func (fakePresence) MarkOffline(context.Context, string, string) error { return nil }

func TestPipelineSendAssignsSequentialOrder(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)
	sess := f.session(f.alice)

	// When two messages go through the pipeline back to back
	first, err := f.pipeline.Send(context.Background(), sess, f.sendFrame("first message"))
	req.NoError(err)
	second, err := f.pipeline.Send(context.Background(), sess, f.sendFrame("second message"))
	req.NoError(err)

	// Then the conversation sequence is strictly increasing
	req.Equal(int64(1), first.Message.Seq)
	req.Equal(int64(2), second.Message.Seq)

	// Then both broadcasts exclude the sender's own session
	var broadcasts []emitted
	for _, e := range f.registry.emittedEvents() {
		if me, ok := e.event.(domain.MessageEvent); ok && me.Kind == domain.KindMessageNew {
			broadcasts = append(broadcasts, e)
		}
	}
	req.Len(broadcasts, 2)
	for _, b := range broadcasts {
		req.Equal(sess.ID, b.except)
		req.Equal(f.conv.ID.String(), b.convID)
	}
}

func TestPipelineSendPermissionDeniedLeavesNoTrace(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)

	// Given an anonymous participant whose share link forbids sending
	guest := domain.Identity{Kind: domain.KindAnonymous, Anonymous: &domain.AnonymousParticipant{
		ID:             "anon-1",
		ConversationID: f.conv.ID,
		Perms:          domain.AnonymousPerms{CanViewHistory: true},
	}}

	// When the guest tries to post
	_, err := f.pipeline.Send(context.Background(), f.session(guest), f.sendFrame("should not land"))

	// Then the stage fails closed with nothing persisted and nothing broadcast
	req.ErrorIs(err, domain.ErrPermissionDenied)
	req.Zero(f.messages.count())
	req.Empty(f.registry.emittedEvents())
}

func TestPipelineSendGuestScopedToOwnConversation(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)

	guest := domain.Identity{Kind: domain.KindAnonymous, Anonymous: &domain.AnonymousParticipant{
		ID:             "anon-1",
		ConversationID: uuid.New(), // a different room
		Perms:          domain.AnonymousPerms{CanSendMessages: true},
	}}

	_, err := f.pipeline.Send(context.Background(), f.session(guest), f.sendFrame("wrong room"))
	req.ErrorIs(err, domain.ErrNotAMember)
	req.Zero(f.messages.count())
}

func TestPipelineSendEnforcesWriteFloorInPublicRooms(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)

	// Given a public announcements room where only admins may post
	f.conv.IsPublic = true
	f.conv.MinWriteRole = domain.RoleAdmin

	// When a plain member tries to post
	_, err := f.pipeline.Send(context.Background(), f.session(f.alice), f.sendFrame("not an announcement"))

	// Then the write floor still applies and nothing lands
	req.ErrorIs(err, domain.ErrPermissionDenied)
	req.Zero(f.messages.count())
	req.Empty(f.registry.emittedEvents())

	// When the floor drops to moderator, the moderator's post goes through
	f.conv.MinWriteRole = domain.RoleModerator
	mona := domain.Identity{Kind: domain.KindRegistered, User: &domain.RegisteredUser{ID: "mona", DisplayName: "Mona", PreferredLanguage: "en"}}
	result, err := f.pipeline.Send(context.Background(), f.session(mona), f.sendFrame("weekly update"))
	req.NoError(err)
	req.Equal(int64(1), result.Message.Seq)
}

func TestPipelineSendPersistFailureHasNoSideEffects(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)
	f.tx.err = errStorageDown

	_, err := f.pipeline.Send(context.Background(), f.session(f.alice), f.sendFrame("doomed"))

	req.ErrorIs(err, domain.ErrPersistenceFailed)
	req.Zero(f.messages.count())
	req.Empty(f.registry.emittedEvents())
	req.Zero(f.queue.publishedCount())
}

func TestPipelineSendRejectsOversizedContent(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)

	long := make([]byte, 2001)
	for i := range long {
		long[i] = 'a'
	}
	_, err := f.pipeline.Send(context.Background(), f.session(f.alice), f.sendFrame(string(long)))
	req.ErrorIs(err, domain.ErrValidation)
	req.Zero(f.messages.count())
}

func TestPipelineSendRejectsUnknownType(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)

	frame := f.sendFrame("hello")
	frame.Type = "hologram"
	_, err := f.pipeline.Send(context.Background(), f.session(f.alice), frame)
	req.ErrorIs(err, domain.ErrValidation)
}

func TestPipelineSendCountsMentions(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)

	result, err := f.pipeline.Send(context.Background(), f.session(f.alice), f.sendFrame("@Bob can you review this?"))
	req.NoError(err)
	req.Equal(1, result.MentionCount)
	req.True(result.TranslationQueued)
}

func TestPipelinePostCommitSideEffects(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.bus.Run(ctx) }()

	result, err := f.pipeline.Send(ctx, f.session(f.alice), f.sendFrame("@Bob please take a look"))
	req.NoError(err)

	// Then mention rows, stats, and a translation job all land async
	req.Eventually(func() bool {
		f.mentions.mu.Lock()
		created := len(f.mentions.created)
		f.mentions.mu.Unlock()
		f.convs.mu.Lock()
		count := f.convs.byID[f.conv.ID].MessageCount
		f.convs.mu.Unlock()
		return created == 1 && count == result.Message.Seq && f.queue.publishedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPipelineEditUnchangedContentIsANoop(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)
	sess := f.session(f.alice)

	result, err := f.pipeline.Send(context.Background(), sess, f.sendFrame("stable content"))
	req.NoError(err)
	before := len(f.registry.emittedEvents())

	msg, err := f.pipeline.Edit(context.Background(), sess, &domain.EditFrame{
		MessageID: result.Message.ID.String(),
		Content:   "stable content",
	})
	req.NoError(err)
	req.Nil(msg.EditedAt)
	req.Len(f.registry.emittedEvents(), before)
	req.Zero(f.queue.publishedCount())
}

func TestPipelineEditChangedContentRebroadcastsAndRequeues(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)
	sess := f.session(f.alice)

	result, err := f.pipeline.Send(context.Background(), sess, f.sendFrame("original wording here"))
	req.NoError(err)

	msg, err := f.pipeline.Edit(context.Background(), sess, &domain.EditFrame{
		MessageID: result.Message.ID.String(),
		Content:   "completely different wording now",
	})
	req.NoError(err)
	req.NotNil(msg.EditedAt)

	var updated int
	for _, e := range f.registry.emittedEvents() {
		if me, ok := e.event.(domain.MessageEvent); ok && me.Kind == domain.KindMessageUpdated {
			updated++
		}
	}
	req.Equal(1, updated)
	// Bob prefers French, so the edit queues one fresh translation job
	req.Equal(1, f.queue.publishedCount())
}

func TestPipelineEditRequiresSenderOrModerator(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)

	result, err := f.pipeline.Send(context.Background(), f.session(f.alice), f.sendFrame("alice's words"))
	req.NoError(err)

	// Bob is a plain member, not the sender
	_, err = f.pipeline.Edit(context.Background(), f.session(f.bob), &domain.EditFrame{
		MessageID: result.Message.ID.String(),
		Content:   "bob rewrites history",
	})
	req.ErrorIs(err, domain.ErrPermissionDenied)

	// Mona moderates, so her edit goes through
	mona := domain.Identity{Kind: domain.KindRegistered, User: &domain.RegisteredUser{ID: "mona", DisplayName: "Mona", PreferredLanguage: "en"}}
	_, err = f.pipeline.Edit(context.Background(), f.session(mona), &domain.EditFrame{
		MessageID: result.Message.ID.String(),
		Content:   "moderated wording",
	})
	req.NoError(err)
}

func TestPipelineDeleteIsIdempotent(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)
	sess := f.session(f.alice)

	result, err := f.pipeline.Send(context.Background(), sess, f.sendFrame("to be removed"))
	req.NoError(err)

	frame := &domain.DeleteFrame{MessageID: result.Message.ID.String()}
	req.NoError(f.pipeline.Delete(context.Background(), sess, frame))
	req.NoError(f.pipeline.Delete(context.Background(), sess, frame))

	var deleted int
	for _, e := range f.registry.emittedEvents() {
		if _, ok := e.event.(domain.MessageDeletedEvent); ok {
			deleted++
		}
	}
	req.Equal(1, deleted)
}

func TestPipelineHistoryFiltersDeletedAndAttachesTranslations(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)
	sess := f.session(f.alice)

	kept, err := f.pipeline.Send(context.Background(), sess, f.sendFrame("kept message"))
	req.NoError(err)
	removed, err := f.pipeline.Send(context.Background(), sess, f.sendFrame("removed message"))
	req.NoError(err)
	req.NoError(f.pipeline.Delete(context.Background(), sess, &domain.DeleteFrame{MessageID: removed.Message.ID.String()}))

	req.NoError(f.translations.Save(context.Background(), &domain.Translation{
		MessageID:      kept.Message.ID,
		ConversationID: f.conv.ID,
		TargetLanguage: "fr",
		Text:           "message conservé",
	}))

	items, err := f.pipeline.History(context.Background(), f.alice, f.conv.ID.String(), 0, 50)
	req.NoError(err)
	req.Len(items, 1)
	req.Equal(kept.Message.ID.String(), items[0].Message.ID)
	req.Equal("message conservé", items[0].Translations["fr"])
}

func TestPipelineHistoryGuestNeedsViewPermission(t *testing.T) {
	req := require.New(t)
	f := newPipelineFixture(t)

	guest := domain.Identity{Kind: domain.KindAnonymous, Anonymous: &domain.AnonymousParticipant{
		ID:             "anon-1",
		ConversationID: f.conv.ID,
		Perms:          domain.AnonymousPerms{CanSendMessages: true},
	}}
	_, err := f.pipeline.History(context.Background(), guest, f.conv.ID.String(), 0, 10)
	req.ErrorIs(err, domain.ErrPermissionDenied)
}
