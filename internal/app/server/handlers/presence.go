package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/isopen-io/meeshy-sub020/internal/core/services"
	"github.com/isopen-io/meeshy-sub020/pkg/middleware"
)

// PresenceHandler exposes the online roster kept in the shared presence
// store. Live status changes still arrive over the websocket; this is the
// snapshot a client renders when it opens a room.
type PresenceHandler struct {
	rooms *services.RoomService
}

func NewPresenceHandler(rooms *services.RoomService) *PresenceHandler {
	return &PresenceHandler{rooms: rooms}
}

type presenceResponse struct {
	ConversationID string   `json:"conversation_id"`
	Online         []string `json:"online"`
}

// Roster handles GET /conversations/{id}/presence.
func (h *PresenceHandler) Roster(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	convID := r.PathValue("id")
	online, err := h.rooms.OnlineRoster(r.Context(), identity, convID)
	if err != nil {
		writeError(w, err)
		return
	}
	if online == nil {
		online = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(presenceResponse{
		ConversationID: convID,
		Online:         online,
	})
}
