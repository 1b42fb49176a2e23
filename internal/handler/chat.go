package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kaya7oast/FSDP-sub000/internal/middleware"
	"github.com/kaya7oast/FSDP-sub000/internal/model"
	"github.com/kaya7oast/FSDP-sub000/internal/service"
	"github.com/kaya7oast/FSDP-sub000/pkg/logger"
)

// ChatHandler handles chat turn endpoints.
type ChatHandler struct {
	chat   *service.ChatService
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chat *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chat:   chat,
		logger: log,
	}
}

// Chat handles POST /agents/{agentId}/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agentID := chi.URLParam(r, "agentId")

	var req model.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	for _, err := range []error{
		middleware.ValidateAgentID(agentID),
		middleware.ValidateUserID(req.UserID),
		middleware.ValidateMessageContent(req.Message),
		middleware.ValidateChatName(req.ChatName),
	} {
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if !middleware.CanActAs(ctx, req.UserID) {
		writeError(w, http.StatusForbidden, "token does not match userId")
		return
	}

	result, err := h.chat.Chat(ctx, service.ChatRequest{
		AgentID:        agentID,
		UserID:         req.UserID,
		Message:        req.Message,
		Provider:       req.Provider,
		ChatName:       req.ChatName,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		writeServiceError(w, h.logger.Scoped(logger.Scope{
			RequestID: middleware.GetCorrelationID(ctx),
			UserID:    req.UserID,
			AgentID:   agentID,
		}), err)
		return
	}

	writeJSON(w, http.StatusOK, &model.ChatResponse{
		Reply: model.ReplyView{
			Content:   result.Reply.Content,
			CreatedAt: result.Reply.CreatedAt,
		},
		ConversationID: result.ConversationID,
	})
}
