// Package service provides business logic for the agent chat service.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kaya7oast/FSDP-sub000/internal/errx"
	"github.com/kaya7oast/FSDP-sub000/internal/llm"
	"github.com/kaya7oast/FSDP-sub000/internal/model"
	"github.com/kaya7oast/FSDP-sub000/internal/store"
	"github.com/kaya7oast/FSDP-sub000/pkg/logger"
	"github.com/kaya7oast/FSDP-sub000/pkg/metrics"
)

// ProviderRegistry reports which provider names can serve requests.
type ProviderRegistry interface {
	Supports(provider string) bool
}

// EventPublisher receives conversation lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) error
}

// NopPublisher drops every event. It is used when NATS is disabled.
type NopPublisher struct{}

// PublishEvent implements EventPublisher.
func (NopPublisher) PublishEvent(context.Context, *model.ConversationEvent) error { return nil }

// ConversationService handles conversation operations.
type ConversationService struct {
	store     store.ConversationStore
	providers ProviderRegistry
	events    EventPublisher
	logger    *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(s store.ConversationStore, providers ProviderRegistry, events EventPublisher, log *logger.Logger) *ConversationService {
	if events == nil {
		events = NopPublisher{}
	}
	return &ConversationService{
		store:     s,
		providers: providers,
		events:    events,
		logger:    log,
	}
}

// NewConversation describes the conversation to create when no active one
// can be reused.
type NewConversation struct {
	UserID       string
	AgentID      string
	Provider     string
	Name         string
	SystemPrompt string
}

// FindActive retrieves a non-deleted conversation by ID.
func (s *ConversationService) FindActive(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", errx.ErrConversationGone, conversationID)
	}
	return conv, nil
}

func (s *ConversationService) get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.Get(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", errx.ErrConversationNotFound, conversationID)
	}
	if err != nil {
		return nil, errx.StoreUnavailable(err)
	}
	return conv, nil
}

// FindOrCreate resolves the conversation a turn belongs to. An explicit
// conversationID wins when it names an active conversation of the same
// user and agent; otherwise the pair's latest active conversation is used;
// otherwise a new one is built, seeded with the system prompt. The bool
// result reports whether the conversation is new. New conversations are
// not stored until Save.
func (s *ConversationService) FindOrCreate(ctx context.Context, conversationID string, seed NewConversation) (*model.Conversation, bool, error) {
	if conversationID != "" {
		conv, err := s.store.Get(ctx, conversationID)
		switch {
		case err == nil:
			if !conv.IsDeleted() && conv.UserID == seed.UserID && conv.AgentID == seed.AgentID {
				return conv, false, nil
			}
			s.logger.Debug("ignoring conversation id for another owner or deleted conversation",
				zap.String("conversation_id", conversationID),
				zap.String("user_id", seed.UserID),
				zap.String("agent_id", seed.AgentID),
			)
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, errx.StoreUnavailable(err)
		}
	}

	conv, err := s.store.FindLatestActive(ctx, seed.UserID, seed.AgentID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, errx.StoreUnavailable(err)
	}

	now := time.Now().UTC()
	conv = &model.Conversation{
		ID:        model.NewConversationID(seed.UserID, seed.AgentID),
		UserID:    seed.UserID,
		AgentID:   seed.AgentID,
		Provider:  seed.Provider,
		Name:      seed.Name,
		Status:    model.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sys := model.NewMessage(model.RoleSystem, seed.SystemPrompt)
	sys.CreatedAt = now
	conv.Append(sys)

	return conv, true, nil
}

// AppendMessage adds msg to the in-memory conversation. Nothing is stored.
func (s *ConversationService) AppendMessage(conv *model.Conversation, msg model.Message) {
	conv.Append(msg)
}

// Save persists a turn: a new conversation is inserted whole, an existing
// one gets the turn's messages in one atomic append. The append fails with
// ErrConversationGone when the conversation was deleted mid-turn.
func (s *ConversationService) Save(ctx context.Context, conv *model.Conversation, created bool, turn ...model.Message) error {
	var err error
	if created {
		err = s.store.Insert(ctx, conv)
	} else {
		err = s.store.AppendMessages(ctx, conv.ID, turn...)
	}
	if errors.Is(err, store.ErrInactive) {
		s.logger.Warn("conversation deleted during turn, reply discarded",
			zap.String("conversation_id", conv.ID),
		)
		return fmt.Errorf("%w: %s", errx.ErrConversationGone, conv.ID)
	}
	if err != nil {
		s.logger.Error("failed to persist conversation",
			zap.String("conversation_id", conv.ID),
			zap.Bool("created", created),
			zap.Error(err),
		)
		return errx.StoreUnavailable(err)
	}

	if created {
		metrics.ConversationsTotal.WithLabelValues(conv.Provider).Inc()
		metrics.MessagesTotal.WithLabelValues(string(model.RoleSystem)).Inc()
	}
	return nil
}

// SoftDelete marks a conversation deleted and returns it.
func (s *ConversationService) SoftDelete(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.FindActive(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetStatus(ctx, conversationID, model.StatusDeleted); err != nil {
		return nil, s.mutationError(conversationID, err)
	}
	conv.Status = model.StatusDeleted
	conv.UpdatedAt = time.Now().UTC()

	s.logger.Info("conversation deleted", zap.String("conversation_id", conversationID))
	s.publish(ctx, conv, model.EventTypeDeleted, "", nil)
	return conv, nil
}

// SetProvider changes the provider used by later turns.
func (s *ConversationService) SetProvider(ctx context.Context, conversationID, provider string) (*model.Conversation, error) {
	if !s.providers.Supports(provider) {
		return nil, &llm.UnsupportedProviderError{Provider: provider}
	}

	conv, err := s.FindActive(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetProvider(ctx, conversationID, provider); err != nil {
		return nil, s.mutationError(conversationID, err)
	}
	previous := conv.Provider
	conv.Provider = provider
	conv.UpdatedAt = time.Now().UTC()

	s.publish(ctx, conv, model.EventTypeProviderSet, "", map[string]any{"previous": previous})
	return conv, nil
}

// SetSummary stores a summary on the conversation.
func (s *ConversationService) SetSummary(ctx context.Context, conversationID, summary string) error {
	if err := s.store.SetSummary(ctx, conversationID, summary); err != nil {
		return s.mutationError(conversationID, err)
	}
	return nil
}

// ListActive returns the user's non-deleted conversations, most recently
// updated first.
func (s *ConversationService) ListActive(ctx context.Context, userID string) ([]model.Conversation, error) {
	convs, err := s.store.ListActive(ctx, userID)
	if err != nil {
		return nil, errx.StoreUnavailable(err)
	}
	return convs, nil
}

func (s *ConversationService) mutationError(conversationID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", errx.ErrConversationNotFound, conversationID)
	}
	if errors.Is(err, store.ErrInactive) {
		return fmt.Errorf("%w: %s", errx.ErrConversationGone, conversationID)
	}
	return errx.StoreUnavailable(err)
}

// publish sends an event without failing the caller.
func (s *ConversationService) publish(ctx context.Context, conv *model.Conversation, eventType model.EventType, reason string, metadata map[string]any) {
	event := &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		UserID:         conv.UserID,
		AgentID:        conv.AgentID,
		Type:           eventType,
		Provider:       conv.Provider,
		Reason:         reason,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish conversation event",
			zap.String("conversation_id", conv.ID),
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}
