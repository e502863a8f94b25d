package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/isopen-io/meeshy-sub020/internal/core/contracts"
	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/pkg/logging"
)

var roomTracer = otel.Tracer("room-service")

// RoomService mediates between conversation membership (the source of
// truth in storage) and the registry's derived room cache, and owns the
// online-presence propagation around joins, leaves and disconnects.
type RoomService struct {
	convs    domain.ConversationRepository
	members  domain.MemberRepository
	registry contracts.Registry
	presence contracts.PresenceStore
	typing   *TypingTracker

	clock             clock.Clock
	heartbeatInterval time.Duration
	onlineTTL         time.Duration
	log               *slog.Logger
}

func NewRoomService(
	log *slog.Logger,
	convs domain.ConversationRepository,
	members domain.MemberRepository,
	registry contracts.Registry,
	presence contracts.PresenceStore,
	typing *TypingTracker,
	clk clock.Clock,
	heartbeatInterval, onlineTTL time.Duration,
) *RoomService {
	return &RoomService{
		convs:             convs,
		members:           members,
		registry:          registry,
		presence:          presence,
		typing:            typing,
		clock:             clk,
		heartbeatInterval: heartbeatInterval,
		onlineTTL:         onlineTTL,
		log:               log,
	}
}

// ResolveRole returns the caller's effective role in the conversation, or
// ErrNotAMember. Anonymous callers are members of exactly the conversation
// their share link points at; public rooms grant member-level access to
// any registered user.
func (s *RoomService) ResolveRole(ctx context.Context, identity domain.Identity, conv *domain.Conversation) (domain.Role, error) {
	switch identity.Kind {
	case domain.KindAnonymous:
		if identity.Anonymous.ConversationID != conv.ID {
			return "", domain.ErrNotAMember
		}
		return domain.RoleMember, nil
	case domain.KindRegistered:
		member, err := s.members.GetMember(ctx, conv.ID, identity.User.ID)
		if err != nil {
			if conv.IsPublic {
				return domain.RoleMember, nil
			}
			return "", err
		}
		return member.Role, nil
	}
	return "", domain.ErrUnauthenticated
}

func (s *RoomService) JoinRoom(ctx context.Context, sess *domain.ConnectionSession, convID string) error {
	ctx, span := roomTracer.Start(ctx, "RoomService.JoinRoom", trace.WithAttributes(
		attribute.String("session_id", sess.ID),
		attribute.String("conv_id", convID),
	))
	defer span.End()

	cid, err := domain.ParseUUID(convID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	conv, err := s.convs.GetByID(ctx, cid)
	if err != nil {
		span.RecordError(err)
		s.log.ErrorContext(ctx, "rooms - join - conversation lookup failed",
			logging.Conversation(convID), logging.Err(err))
		return err
	}
	if _, err := s.ResolveRole(ctx, sess.Identity, conv); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.registry.Join(sess.ID, convID); err != nil {
		span.RecordError(err)
		return err
	}

	identityID := sess.Identity.ID()
	if err := s.presence.UpdateOnlineStatus(ctx, convID, identityID, s.onlineTTL); err != nil {
		s.log.WarnContext(ctx, "rooms - join - presence update failed",
			logging.Conversation(convID), logging.Err(err))
	}
	s.registry.Emit(ctx, convID, domain.StatusEvent{
		Kind:           domain.KindPresenceStatus,
		ConversationID: convID,
		IdentityID:     identityID,
		Online:         true,
	})
	s.log.InfoContext(ctx, "rooms - join - session joined",
		logging.Session(sess.ID), logging.Conversation(convID))
	return nil
}

// OnlineRoster returns who is currently online in the conversation, as
// seen by the shared presence store. The caller must be able to see the
// room; the staleness window matches the TTL heartbeats refresh.
func (s *RoomService) OnlineRoster(ctx context.Context, identity domain.Identity, convID string) ([]string, error) {
	cid, err := domain.ParseUUID(convID)
	if err != nil {
		return nil, err
	}
	conv, err := s.convs.GetByID(ctx, cid)
	if err != nil {
		return nil, err
	}
	if _, err := s.ResolveRole(ctx, identity, conv); err != nil {
		return nil, err
	}
	online, err := s.presence.GetOnline(ctx, convID, s.onlineTTL)
	if err != nil {
		s.log.ErrorContext(ctx, "rooms - roster - presence read failed",
			logging.Conversation(convID), logging.Err(err))
		return nil, err
	}
	return online, nil
}

func (s *RoomService) LeaveRoom(ctx context.Context, sess *domain.ConnectionSession, convID string) {
	s.registry.Leave(sess.ID, convID)
	s.typing.Clear(convID, sess.Identity.ID())
	s.propagateOffline(ctx, convID, sess.Identity.ID())
}

// Disconnect removes the session from every room it had joined. Presence
// goes offline per room only when no other session of the same identity
// remains there.
func (s *RoomService) Disconnect(ctx context.Context, sess *domain.ConnectionSession) {
	ctx, span := roomTracer.Start(ctx, "RoomService.Disconnect", trace.WithAttributes(
		attribute.String("session_id", sess.ID),
	))
	defer span.End()

	rooms := s.registry.Unregister(ctx, sess.ID)
	identityID := sess.Identity.ID()
	for _, convID := range rooms {
		s.typing.Clear(convID, identityID)
		s.propagateOffline(ctx, convID, identityID)
	}
	s.log.InfoContext(ctx, "rooms - disconnect - session cleaned up",
		logging.Session(sess.ID), slog.Int("rooms", len(rooms)))
}

func (s *RoomService) propagateOffline(ctx context.Context, convID, identityID string) {
	if s.registry.IdentityInRoom(convID, identityID) {
		return // another device still joined
	}
	if err := s.presence.MarkOffline(ctx, convID, identityID); err != nil {
		s.log.WarnContext(ctx, "rooms - offline - presence update failed",
			logging.Conversation(convID), logging.Err(err))
	}
	s.registry.Emit(ctx, convID, domain.StatusEvent{
		Kind:           domain.KindPresenceStatus,
		ConversationID: convID,
		IdentityID:     identityID,
		Online:         false,
	})
}

// Heartbeat keeps presence TTLs fresh for every room the session is in.
// It returns when ctx is cancelled, i.e. when the connection goes away.
func (s *RoomService) Heartbeat(ctx context.Context, sess *domain.ConnectionSession) {
	ticker := s.clock.Ticker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("rooms - heartbeat - stopped", logging.Session(sess.ID))
			return
		case <-ticker.C:
			for _, convID := range s.registry.SessionRooms(sess.ID) {
				if err := s.presence.UpdateOnlineStatus(ctx, convID, sess.Identity.ID(), s.onlineTTL); err != nil {
					s.log.WarnContext(ctx, "rooms - heartbeat - presence update failed",
						logging.Conversation(convID), logging.Err(err))
				}
			}
		}
	}
}
