package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kaya7oast/FSDP-sub000/internal/errx"
	"github.com/kaya7oast/FSDP-sub000/internal/llm"
	"github.com/kaya7oast/FSDP-sub000/internal/model"
	"github.com/kaya7oast/FSDP-sub000/internal/persona"
	"github.com/kaya7oast/FSDP-sub000/pkg/logger"
	"github.com/kaya7oast/FSDP-sub000/pkg/metrics"
)

const summarizeInstruction = "Summarize the following conversation concisely."

var tracer = otel.Tracer("github.com/kaya7oast/FSDP-sub000/internal/service")

// Generator produces assistant replies. *llm.Generator implements it.
type Generator interface {
	ProviderRegistry
	Generate(ctx context.Context, provider string, messages []llm.ChatMessage) (*llm.Reply, error)
}

// ChatConfig holds the tunables of a chat turn.
type ChatConfig struct {
	DefaultProvider string
	ContextWindow   int
}

// ChatRequest is one user turn addressed to an agent.
type ChatRequest struct {
	AgentID        string
	UserID         string
	Message        string
	Provider       string
	ChatName       string
	ConversationID string
}

// ChatResult is the outcome of a turn.
type ChatResult struct {
	Reply          model.Message
	ConversationID string
}

// IncompletePersonaError is returned when an agent lacks tone, language
// style or emotion.
type IncompletePersonaError struct {
	AgentID string
	Missing []string
}

func (e *IncompletePersonaError) Error() string {
	return fmt.Sprintf("agent %s persona is incomplete: missing %s", e.AgentID, strings.Join(e.Missing, ", "))
}

// Is makes every IncompletePersonaError match errx.ErrIncompletePersona.
func (e *IncompletePersonaError) Is(target error) bool {
	return target == errx.ErrIncompletePersona
}

// ValidatePersona checks the fields the system prompt is built from.
func ValidatePersona(p *model.Persona) error {
	var missing []string
	if strings.TrimSpace(p.Tone) == "" {
		missing = append(missing, "tone")
	}
	if strings.TrimSpace(p.LanguageStyle) == "" {
		missing = append(missing, "languageStyle")
	}
	if strings.TrimSpace(p.Emotion) == "" {
		missing = append(missing, "emotion")
	}
	if len(missing) > 0 {
		return &IncompletePersonaError{AgentID: p.ID, Missing: missing}
	}
	return nil
}

// BuildSystemPrompt renders the persona instruction that opens every new
// conversation.
func BuildSystemPrompt(p *model.Persona) string {
	return fmt.Sprintf("You are %s, an AI agent with a %s tone, a %s language style and a %s attitude.",
		p.Name,
		strings.ToLower(p.Tone),
		strings.ToLower(p.LanguageStyle),
		strings.ToLower(p.Emotion),
	)
}

// ChatService runs chat turns: it resolves the agent and conversation,
// asks a provider for a reply and persists both messages.
type ChatService struct {
	conversations *ConversationService
	personas      persona.Gateway
	generator     Generator
	locks         *keyedMutex
	cfg           ChatConfig
	logger        *logger.Logger
}

// NewChatService creates a new chat service.
func NewChatService(conversations *ConversationService, personas persona.Gateway, generator Generator, cfg ChatConfig, log *logger.Logger) *ChatService {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = llm.ProviderGemini
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 10
	}
	return &ChatService{
		conversations: conversations,
		personas:      personas,
		generator:     generator,
		locks:         newKeyedMutex(),
		cfg:           cfg,
		logger:        log,
	}
}

// DefaultProvider returns the provider used when neither the request nor
// the conversation names one.
func (s *ChatService) DefaultProvider() string {
	return s.cfg.DefaultProvider
}

// Chat runs one turn. Provider failures never fail the turn: they come back
// as the reply text. Agent resolution and persistence failures do.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if req.Provider != "" && !s.generator.Supports(req.Provider) {
		return nil, &llm.UnsupportedProviderError{Provider: req.Provider}
	}
	if req.AgentID == "" || req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: agentId, userId and message are required", errx.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("agent.id", req.AgentID),
		attribute.String("user.id", req.UserID),
	))
	defer span.End()

	result, err := s.chat(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat turn failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("conversation.id", result.ConversationID))
	return result, nil
}

func (s *ChatService) chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	p, err := s.resolvePersona(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	provider := req.Provider
	if provider == "" {
		provider = s.cfg.DefaultProvider
	}

	// an explicit conversation id is only honoured within the same
	// (user, agent) pair, so the pair key covers every resolution path
	unlock := s.locks.Lock("pair:" + req.UserID + ":" + req.AgentID)
	defer unlock()

	conv, created, err := s.conversations.FindOrCreate(ctx, req.ConversationID, NewConversation{
		UserID:       req.UserID,
		AgentID:      req.AgentID,
		Provider:     provider,
		Name:         req.ChatName,
		SystemPrompt: BuildSystemPrompt(p),
	})
	if err != nil {
		return nil, err
	}
	if !created && req.Provider == "" && conv.Provider != "" && s.generator.Supports(conv.Provider) {
		provider = conv.Provider
	}

	log := s.logger.Scoped(logger.Scope{
		UserID:         req.UserID,
		AgentID:        req.AgentID,
		ConversationID: conv.ID,
		Provider:       provider,
	})

	userMsg := model.NewMessage(model.RoleUser, req.Message)
	s.conversations.AppendMessage(conv, userMsg)

	reply, err := s.generator.Generate(ctx, provider, toChatMessages(conv.Window(s.cfg.ContextWindow)))
	if err != nil {
		return nil, err
	}

	assistantMsg := model.NewMessage(model.RoleAssistant, reply.Content)
	assistantMsg.Provider = provider
	if !reply.Failed {
		latency := reply.Latency.Milliseconds()
		tokensIn, tokensOut := reply.TokensIn, reply.TokensOut
		assistantMsg.Model = reply.Model
		assistantMsg.TokensIn = &tokensIn
		assistantMsg.TokensOut = &tokensOut
		assistantMsg.LatencyMs = &latency
	}
	s.conversations.AppendMessage(conv, assistantMsg)

	if err := s.conversations.Save(ctx, conv, created, userMsg, assistantMsg); err != nil {
		return nil, err
	}
	metrics.RecordChatTurn(provider, reply.Failed)

	if reply.Failed {
		log.Warn("turn completed with provider failure", zap.Error(reply.Err))
		s.conversations.publish(ctx, conv, model.EventTypeProviderError, reply.Err.Error(), map[string]any{"turn_provider": provider})
	} else {
		log.Info("turn completed", zap.Bool("new_conversation", created))
		s.conversations.publish(ctx, conv, model.EventTypeTurnCompleted, "", map[string]any{"turn_provider": provider})
	}

	return &ChatResult{Reply: assistantMsg, ConversationID: conv.ID}, nil
}

func (s *ChatService) resolvePersona(ctx context.Context, agentID string) (*model.Persona, error) {
	p, err := s.personas.FetchPersona(ctx, agentID)
	if errors.Is(err, persona.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", errx.ErrAgentNotFound, agentID)
	}
	if err != nil {
		s.logger.Error("failed to fetch agent persona", zap.String("agent_id", agentID), zap.Error(err))
		return nil, errx.New(err, http.StatusInternalServerError, "agent profile service unavailable")
	}
	if p.ID == "" {
		p.ID = agentID
	}
	if err := ValidatePersona(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Summarize asks the conversation's provider for a summary of the whole
// history and stores it. A provider failure is returned, never stored.
func (s *ChatService) Summarize(ctx context.Context, conversationID string) (string, error) {
	ctx, span := tracer.Start(ctx, "chat.summarize", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
	))
	defer span.End()

	conv, err := s.conversations.FindActive(ctx, conversationID)
	if err != nil {
		return "", err
	}

	provider := conv.Provider
	if provider == "" || !s.generator.Supports(provider) {
		provider = s.cfg.DefaultProvider
	}

	messages := make([]llm.ChatMessage, 0, len(conv.Messages)+1)
	messages = append(messages, llm.ChatMessage{Role: string(model.RoleSystem), Content: summarizeInstruction})
	messages = append(messages, toChatMessages(conv.Messages)...)

	reply, err := s.generator.Generate(ctx, provider, messages)
	if err != nil {
		return "", err
	}
	if reply.Failed {
		span.RecordError(reply.Err)
		span.SetStatus(codes.Error, "summary failed")
		return "", errx.New(reply.Err, http.StatusBadGateway, reply.Content)
	}

	if err := s.conversations.SetSummary(ctx, conversationID, reply.Content); err != nil {
		return "", err
	}
	conv.Summary = reply.Content

	s.conversations.publish(ctx, conv, model.EventTypeSummarized, "", nil)
	return reply.Content, nil
}

func toChatMessages(msgs []model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = llm.ChatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}
