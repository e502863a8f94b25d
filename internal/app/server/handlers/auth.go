package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/isopen-io/meeshy-sub020/internal/core/domain"
	"github.com/isopen-io/meeshy-sub020/internal/core/services"
	"github.com/isopen-io/meeshy-sub020/pkg/logging"
)

// AuthHandler issues anonymous share-link tokens. Registered-user tokens
// come from the upstream identity service; this process only ever mints
// guest credentials scoped to a single conversation.
type AuthHandler struct {
	convs    domain.ConversationRepository
	tokenSvc *services.TokenService
	validate *validator.Validate
}

func NewAuthHandler(convs domain.ConversationRepository, tokenSvc *services.TokenService) *AuthHandler {
	return &AuthHandler{convs: convs, tokenSvc: tokenSvc, validate: validator.New()}
}

type guestTokenRequest struct {
	ShareLinkID    string `json:"share_link_id" validate:"required"`
	ConversationID string `json:"conversation_id" validate:"required,uuid_rfc4122"`
	DisplayName    string `json:"display_name" validate:"required,max=64"`
	Language       string `json:"language" validate:"omitempty,bcp47_language_tag"`
}

// GuestToken mints a token for an anonymous participant. Guests get the
// baseline permission set: send text and read history, no file or image
// uploads.
func (h *AuthHandler) GuestToken(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req guestTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.ErrorContext(r.Context(), "auth handler - guest token - bad request", logging.Err(err))
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	convID, err := domain.ParseUUID(req.ConversationID)
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}
	if _, err := h.convs.GetByID(r.Context(), convID); err != nil {
		log.WarnContext(r.Context(), "auth handler - guest token - conversation lookup failed",
			logging.Conversation(req.ConversationID), logging.Err(err))
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	guest := domain.AnonymousParticipant{
		ID:                "anon-" + uuid.NewString(),
		ShareLinkID:       req.ShareLinkID,
		ConversationID:    convID,
		DisplayName:       req.DisplayName,
		PreferredLanguage: req.Language,
		Perms: domain.AnonymousPerms{
			CanSendMessages: true,
			CanViewHistory:  true,
		},
	}
	token, err := h.tokenSvc.GenerateGuestToken(guest)
	if err != nil {
		log.ErrorContext(r.Context(), "auth handler - guest token - generate failed", logging.Err(err))
		http.Error(w, "failed to generate token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":          token,
		"participant_id": guest.ID,
	})
	log.InfoContext(r.Context(), "auth handler - guest token issued",
		logging.IdentityID(guest.ID), logging.Conversation(req.ConversationID))
}
