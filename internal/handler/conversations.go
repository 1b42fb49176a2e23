package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kaya7oast/FSDP-sub000/internal/middleware"
	"github.com/kaya7oast/FSDP-sub000/internal/model"
	"github.com/kaya7oast/FSDP-sub000/internal/service"
	"github.com/kaya7oast/FSDP-sub000/pkg/logger"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventLister replays the recorded events of a conversation.
type EventLister interface {
	ListEvents(ctx context.Context, userID, conversationID string, limit int) ([]model.ConversationEvent, error)
}

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	conversations *service.ConversationService
	chat          *service.ChatService
	events        EventLister
	logger        *logger.Logger
}

// NewConversationHandler creates a new conversation handler. events may be
// nil when the event stream is disabled.
func NewConversationHandler(convs *service.ConversationService, chat *service.ChatService, events EventLister, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversations: convs,
		chat:          chat,
		events:        events,
		logger:        log,
	}
}

// Get handles GET /conversations/{conversationId}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// ListByUser handles GET /conversations/user/{userId}
func (h *ConversationHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userId")

	if err := middleware.ValidateUserID(userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !middleware.CanActAs(ctx, userID) {
		writeError(w, http.StatusForbidden, "token does not match userId")
		return
	}

	convs, err := h.conversations.ListActive(ctx, userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// Delete handles POST /conversations/{conversationId}/delete
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.load(w, r)
	if !ok {
		return
	}

	deleted, err := h.conversations.SoftDelete(r.Context(), conv.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.DeleteConversationResponse{
		Message:      "conversation deleted",
		Conversation: deleted,
	})
}

// Summarize handles POST /conversations/{conversationId}/summarize
func (h *ConversationHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.load(w, r)
	if !ok {
		return
	}

	summary, err := h.chat.Summarize(r.Context(), conv.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, &model.SummaryResponse{Summary: summary})
}

// SetProvider handles POST /conversations/{conversationId}/provider
func (h *ConversationHandler) SetProvider(w http.ResponseWriter, r *http.Request) {
	var req model.SetProviderRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Provider == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, ok := h.load(w, r)
	if !ok {
		return
	}

	updated, err := h.conversations.SetProvider(r.Context(), conv.ID, req.Provider)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Events handles GET /conversations/{conversationId}/events
func (h *ConversationHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream is disabled")
		return
	}

	limit := defaultEventLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxEventLimit {
			limit = parsed
		}
	}

	conv, ok := h.load(w, r)
	if !ok {
		return
	}

	events, err := h.events.ListEvents(r.Context(), conv.UserID, conv.ID, limit)
	if err != nil {
		h.logger.Error("failed to list conversation events",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// load resolves the active conversation named in the path and checks the
// caller may access it. It writes the error response itself.
func (h *ConversationHandler) load(w http.ResponseWriter, r *http.Request) (*model.Conversation, bool) {
	ctx := r.Context()
	conversationID := chi.URLParam(r, "conversationId")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	conv, err := h.conversations.FindActive(ctx, conversationID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return nil, false
	}
	if !middleware.CanActAs(ctx, conv.UserID) {
		writeError(w, http.StatusForbidden, "conversation belongs to another user")
		return nil, false
	}
	return conv, true
}
