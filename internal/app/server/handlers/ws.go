package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/isopen-io/meeshy-sub020/internal/app/server/ws"
	"github.com/isopen-io/meeshy-sub020/internal/core/contracts"
	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/internal/core/services"
	"github.com/isopen-io/meeshy-sub020/pkg/logging"
	"github.com/isopen-io/meeshy-sub020/pkg/middleware"
)

// WSHandler upgrades authenticated requests and runs the connection's frame
// loop. Frames are processed in arrival order on purpose: a client's own
// sends must hit the pipeline in the order it issued them.
type WSHandler struct {
	registry contracts.Registry
	pipeline *services.Pipeline
	rooms    *services.RoomService
	typing   *services.TypingTracker
	policy   domain.SessionPolicy
}

func NewWSHandler(
	registry contracts.Registry,
	pipeline *services.Pipeline,
	rooms *services.RoomService,
	typing *services.TypingTracker,
	policy domain.SessionPolicy,
) *WSHandler {
	return &WSHandler{
		registry: registry,
		pipeline: pipeline,
		rooms:    rooms,
		typing:   typing,
		policy:   policy,
	}
}

func (h *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())

	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok || !identity.Valid() {
		log.ErrorContext(r.Context(), "ws handler - unauthorised, identity missing")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	span.SetAttributes(attribute.String("identity.id", identity.ID()))

	// the session outlives the upgrade request
	sessionCtx := context.WithoutCancel(r.Context())
	ctx, cancel := context.WithCancel(sessionCtx)
	defer cancel()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // tighten later
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(r.Context(), "ws handler - upgrade failed", logging.Err(err))
		return
	}
	conn.SetCloseHandler(func(code int, text string) error {
		cancel()
		return nil
	})

	socket := ws.NewWebSocket(ctx, log, conn)
	client := ws.NewClient(ctx, socket, identity)

	sess, err := h.registry.Register(ctx, identity, client)
	if err != nil {
		log.ErrorContext(ctx, "ws handler - register failed", logging.Err(err))
		client.Close()
		return
	}
	defer h.rooms.Disconnect(context.WithoutCancel(ctx), sess)

	h.sendEvent(ctx, client, domain.HandshakeEvent{
		Kind:      domain.KindHandshake,
		SessionID: sess.ID,
		Policy:    h.policy,
	})
	span.SetAttributes(attribute.String("session.id", sess.ID))
	log.InfoContext(ctx, "ws handler - connection established",
		logging.Session(sess.ID), logging.IdentityID(identity.ID()))

	go h.rooms.Heartbeat(ctx, sess)

	socket.ReadLoop(func(data []byte) {
		h.dispatch(ctx, client, sess, data)
	})
}

func (h *WSHandler) dispatch(ctx context.Context, client *ws.RuntimeClient, sess *domain.ConnectionSession, raw []byte) {
	log := logging.FromContext(ctx)

	frame, err := domain.DecodeClientFrame(raw)
	if err != nil {
		h.sendEvent(ctx, client, domain.ErrorEvent{
			Kind:    domain.KindError,
			Code:    domain.ErrorCode(err),
			Message: err.Error(),
		})
		return
	}

	switch frame.Kind {
	case domain.KindMessageSend:
		result, err := h.pipeline.Send(ctx, sess, frame.Send)
		if err != nil {
			h.ackFailed(ctx, sess.ID, frame.Send.ClientMsgID, err)
			return
		}
		h.registry.Ack(ctx, sess.ID, domain.AckEvent{
			Kind:        domain.KindAck,
			ClientMsgID: frame.Send.ClientMsgID,
			Status:      domain.AckOK,
			MessageID:   result.Message.ID.String(),
			Seq:         result.Message.Seq,
			Timestamp:   result.Message.CreatedAt,
		})

	case domain.KindMessageEdit:
		msg, err := h.pipeline.Edit(ctx, sess, frame.Edit)
		if err != nil {
			h.ackFailed(ctx, sess.ID, frame.Edit.ClientMsgID, err)
			return
		}
		h.ackOK(ctx, sess.ID, frame.Edit.ClientMsgID, msg.ID.String())

	case domain.KindMessageDelete:
		if err := h.pipeline.Delete(ctx, sess, frame.Delete); err != nil {
			h.ackFailed(ctx, sess.ID, frame.Delete.ClientMsgID, err)
			return
		}
		h.ackOK(ctx, sess.ID, frame.Delete.ClientMsgID, frame.Delete.MessageID)

	case domain.KindConversationJoin:
		if err := h.rooms.JoinRoom(ctx, sess, frame.Join.ConversationID); err != nil {
			h.ackFailed(ctx, sess.ID, frame.Join.ClientMsgID, err)
			return
		}
		h.ackOK(ctx, sess.ID, frame.Join.ClientMsgID, "")

	case domain.KindConversationLeft:
		h.rooms.LeaveRoom(ctx, sess, frame.Leave.ConversationID)
		h.ackOK(ctx, sess.ID, frame.Leave.ClientMsgID, "")

	case domain.KindPresenceTyping:
		// typing from rooms the session never joined is dropped
		if !h.registry.IdentityInRoom(frame.Typing.ConversationID, sess.Identity.ID()) {
			log.Debug("ws handler - typing from unjoined room dropped",
				logging.Session(sess.ID), logging.Conversation(frame.Typing.ConversationID))
			return
		}
		h.typing.SetTyping(ctx, frame.Typing.ConversationID, sess.Identity.ID(), frame.Typing.IsTyping)
	}
}

func (h *WSHandler) ackOK(ctx context.Context, sessionID, clientMsgID, messageID string) {
	h.registry.Ack(ctx, sessionID, domain.AckEvent{
		Kind:        domain.KindAck,
		ClientMsgID: clientMsgID,
		Status:      domain.AckOK,
		MessageID:   messageID,
		Timestamp:   time.Now().UTC(),
	})
}

func (h *WSHandler) ackFailed(ctx context.Context, sessionID, clientMsgID string, err error) {
	h.registry.Ack(ctx, sessionID, domain.AckEvent{
		Kind:        domain.KindAck,
		ClientMsgID: clientMsgID,
		Status:      domain.AckFailed,
		Error:       domain.ErrorCode(err),
		Timestamp:   time.Now().UTC(),
	})
}

func (h *WSHandler) sendEvent(ctx context.Context, client *ws.RuntimeClient, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = client.Send(ctx, data)
}
