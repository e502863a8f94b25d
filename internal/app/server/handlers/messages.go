package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/internal/core/services"
	"github.com/isopen-io/meeshy-sub020/pkg/logging"
	"github.com/isopen-io/meeshy-sub020/pkg/middleware"
)

// MessageHandler is the REST mirror of the websocket message frames. It
// feeds the same pipeline, so a message posted over HTTP is broadcast to
// the room's live sessions exactly like a websocket send.
type MessageHandler struct {
	pipeline *services.Pipeline
}

func NewMessageHandler(pipeline *services.Pipeline) *MessageHandler {
	return &MessageHandler{pipeline: pipeline}
}

type postMessageRequest struct {
	Content          string `json:"content"`
	OriginalLanguage string `json:"original_language"`
	Type             string `json:"type"`
	ReplyToID        string `json:"reply_to_id"`
}

type postMessageResponse struct {
	Message           domain.MessageView `json:"message"`
	MentionCount      int                `json:"mention_count"`
	TranslationQueued bool               `json:"translation_queued"`
}

// Post handles POST /conversations/{id}/messages.
func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// REST senders have no live session; an empty session id means the
	// broadcast reaches every connection in the room.
	sess := &domain.ConnectionSession{Identity: identity}
	result, err := h.pipeline.Send(r.Context(), sess, &domain.SendFrame{
		ConversationID:   r.PathValue("id"),
		Content:          req.Content,
		OriginalLanguage: req.OriginalLanguage,
		Type:             req.Type,
		ReplyToID:        req.ReplyToID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	log.InfoContext(r.Context(), "message handler - post - accepted",
		logging.Message(result.Message.ID.String()), logging.Sequence(result.Message.Seq))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(postMessageResponse{
		Message:           domain.NewMessageView(result.Message),
		MentionCount:      result.MentionCount,
		TranslationQueued: result.TranslationQueued,
	})
}

// Patch handles PATCH /messages/{id}.
func (h *MessageHandler) Patch(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess := &domain.ConnectionSession{Identity: identity}
	msg, err := h.pipeline.Edit(r.Context(), sess, &domain.EditFrame{
		MessageID: r.PathValue("id"),
		Content:   req.Content,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.NewMessageView(msg))
}

// Delete handles DELETE /messages/{id}.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sess := &domain.ConnectionSession{Identity: identity}
	if err := h.pipeline.Delete(r.Context(), sess, &domain.DeleteFrame{MessageID: r.PathValue("id")}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /conversations/{id}/messages?cursor=&limit=.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	cursor, _ := strconv.ParseInt(r.URL.Query().Get("cursor"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.pipeline.History(r.Context(), identity, r.PathValue("id"), cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	// the next cursor is the lowest seq on the page
	var next int64
	if len(items) > 0 {
		next = items[len(items)-1].Message.Seq
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"messages":    items,
		"next_cursor": next,
	})
}

// writeError maps domain sentinels onto HTTP statuses, keeping internal
// details out of the response body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrNotAMember):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrConversationNotFound),
		errors.Is(err, domain.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrMessageDeleted):
		status = http.StatusGone
	case errors.Is(err, domain.ErrPersistenceFailed):
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": domain.ErrorCode(err)})
}
