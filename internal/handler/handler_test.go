package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaya7oast/FSDP-sub000/internal/llm"
	"github.com/kaya7oast/FSDP-sub000/internal/model"
	"github.com/kaya7oast/FSDP-sub000/internal/persona"
	"github.com/kaya7oast/FSDP-sub000/internal/service"
	"github.com/kaya7oast/FSDP-sub000/internal/store"
	"github.com/kaya7oast/FSDP-sub000/pkg/logger"
)

const testSecret = "handler-secret"

type stubAdapter struct {
	name string

	mu   sync.Mutex
	err  error
	seen int
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen++
	if a.err != nil {
		return nil, a.err
	}
	return &llm.CompletionResponse{
		Content: fmt.Sprintf("%s says hi (%d)", a.name, len(req.Messages)),
		Model:   a.name + "-model",
	}, nil
}

func (a *stubAdapter) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

type stubEvents struct {
	events []model.ConversationEvent
	err    error
}

func (s *stubEvents) ListEvents(_ context.Context, userID, conversationID string, limit int) ([]model.ConversationEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.ConversationEvent, 0)
	for _, e := range s.events {
		if e.UserID == userID && e.ConversationID == conversationID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubConn struct{ connected bool }

func (c stubConn) IsConnected() bool { return c.connected }

type pingStore struct {
	store.ConversationStore
	err error
}

func (p *pingStore) Ping(context.Context) error { return p.err }

type testServer struct {
	handler http.Handler
	store   *pingStore
	gemini  *stubAdapter
	events  *stubEvents
}

type serverOptions struct {
	auth      bool
	noEvents  bool
	nats      ConnChecker
	rateLimit int
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	log := logger.NewNop()

	ts := &testServer{
		store:  &pingStore{ConversationStore: store.NewMemoryStore()},
		gemini: &stubAdapter{name: llm.ProviderGemini},
		events: &stubEvents{},
	}

	generator := llm.NewGenerator(log)
	generator.Register(ts.gemini)
	generator.Register(&stubAdapter{name: llm.ProviderDeepSeek})
	generator.Register(llm.NewOpenAIClient(llm.OpenAIConfig{}))

	personas := persona.NewMemoryGateway(
		model.Persona{ID: "42", Name: "Nova", Tone: "Warm", LanguageStyle: "Casual", Emotion: "Cheerful"},
		model.Persona{ID: "13", Name: "Blank", Tone: "Warm"},
	)

	convs := service.NewConversationService(ts.store, generator, nil, log)
	chat := service.NewChatService(convs, personas, generator, service.ChatConfig{
		DefaultProvider: llm.ProviderGemini,
		ContextWindow:   10,
	}, log)

	var events EventLister = ts.events
	if opts.noEvents {
		events = nil
	}

	ts.handler = NewRouter(RouterConfig{
		Logger:            log,
		Health:            NewHealthHandler(ts.store, opts.nats, log),
		Providers:         NewProvidersHandler(generator, chat.DefaultProvider()),
		Chat:              NewChatHandler(chat, log),
		Conversations:     NewConversationHandler(convs, chat, events, log),
		AuthEnabled:       opts.auth,
		JWTSecret:         testSecret,
		RateLimitRequests: opts.rateLimit,
		RateLimitWindow:   time.Minute,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) chat(t *testing.T, agentID string, req model.ChatRequest) model.ChatResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/agents/"+agentID+"/chat", req, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp model.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func token(t *testing.T, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestChatEndpoint(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := ts.chat(t, "42", model.ChatRequest{UserID: "u1", Message: "hello"})
	assert.Equal(t, "gemini says hi (2)", resp.Reply.Content)
	assert.False(t, resp.Reply.CreatedAt.IsZero())
	assert.Regexp(t, `^conv_u1_42_[0-9a-f]{12}$`, resp.ConversationID)

	again := ts.chat(t, "42", model.ChatRequest{UserID: "u1", Message: "again"})
	assert.Equal(t, resp.ConversationID, again.ConversationID)
	assert.Equal(t, "gemini says hi (4)", again.Reply.Content)
}

func TestChatEndpointMissingProviderKey(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := ts.chat(t, "42", model.ChatRequest{UserID: "u1", Message: "hello", Provider: llm.ProviderOpenAI})
	assert.Contains(t, resp.Reply.Content, "OPENAI_API_KEY")

	rec := ts.do(t, http.MethodGet, "/conversations/"+resp.ConversationID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[model.Conversation](t, rec)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, model.RoleAssistant, conv.Messages[2].Role)
	assert.Equal(t, resp.Reply.Content, conv.Messages[2].Content)
}

func TestChatEndpointErrors(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	tests := []struct {
		name       string
		agentID    string
		body       any
		wantStatus int
		wantError  string
	}{
		{"malformed body", "42", "{not json", http.StatusBadRequest, "invalid request body"},
		{"empty body", "42", nil, http.StatusBadRequest, "invalid request body"},
		{"missing user", "42", model.ChatRequest{Message: "hi"}, http.StatusBadRequest, "userId is required"},
		{"blank message", "42", model.ChatRequest{UserID: "u1", Message: "  "}, http.StatusBadRequest, "message cannot be empty"},
		{"unsupported provider", "404", model.ChatRequest{UserID: "u1", Message: "hi", Provider: "OpenAI"}, http.StatusBadRequest, "unsupported provider"},
		{"unknown agent", "404", model.ChatRequest{UserID: "u1", Message: "hi"}, http.StatusNotFound, "agent not found"},
		{"incomplete persona", "13", model.ChatRequest{UserID: "u1", Message: "hi"}, http.StatusInternalServerError, "persona is incomplete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/agents/"+tt.agentID+"/chat", tt.body, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, decode[map[string]string](t, rec)["error"], tt.wantError)
		})
	}
}

func TestChatEndpointStoreFailure(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.store.ConversationStore = &brokenStore{ConversationStore: ts.store.ConversationStore}

	rec := ts.do(t, http.MethodPost, "/agents/42/chat", model.ChatRequest{UserID: "u1", Message: "hi"}, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "conversation store unavailable", decode[map[string]string](t, rec)["error"])
}

type brokenStore struct {
	store.ConversationStore
}

func (b *brokenStore) Insert(context.Context, *model.Conversation) error {
	return errors.New("connection refused")
}

func TestConversationLifecycle(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	first := ts.chat(t, "42", model.ChatRequest{UserID: "u1", Message: "one", ChatName: "Trip"})
	id := first.ConversationID

	rec := ts.do(t, http.MethodGet, "/conversations/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[model.Conversation](t, rec)
	assert.Equal(t, "Trip", conv.Name)
	assert.Equal(t, llm.ProviderGemini, conv.Provider)

	rec = ts.do(t, http.MethodGet, "/conversations/user/u1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Conversation](t, rec), 1)

	rec = ts.do(t, http.MethodPost, "/conversations/"+id+"/provider", map[string]string{"provider": llm.ProviderDeepSeek}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, llm.ProviderDeepSeek, decode[model.Conversation](t, rec).Provider)

	next := ts.chat(t, "42", model.ChatRequest{UserID: "u1", Message: "two", ConversationID: id})
	assert.Equal(t, "deepseek says hi (4)", next.Reply.Content)

	rec = ts.do(t, http.MethodPost, "/conversations/"+id+"/summarize", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deepseek says hi (6)", decode[model.SummaryResponse](t, rec).Summary)

	rec = ts.do(t, http.MethodPost, "/conversations/"+id+"/delete", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	deleted := decode[model.DeleteConversationResponse](t, rec)
	assert.Equal(t, "conversation deleted", deleted.Message)
	require.NotNil(t, deleted.Conversation)
	assert.Equal(t, model.StatusDeleted, deleted.Conversation.Status)

	assert.Equal(t, http.StatusGone, ts.do(t, http.MethodGet, "/conversations/"+id, nil, "").Code)
	assert.Equal(t, http.StatusGone, ts.do(t, http.MethodPost, "/conversations/"+id+"/delete", nil, "").Code)
	assert.Equal(t, http.StatusGone, ts.do(t, http.MethodPost, "/conversations/"+id+"/summarize", nil, "").Code)

	rec = ts.do(t, http.MethodGet, "/conversations/user/u1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestConversationNotFound(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/conversations/conv_nope", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/conversations/conv_nope/delete", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/conversations/conv_nope/summarize", nil, "").Code)
}

func TestSetProviderValidation(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	id := ts.chat(t, "42", model.ChatRequest{UserID: "u1", Message: "hi"}).ConversationID

	rec := ts.do(t, http.MethodPost, "/conversations/"+id+"/provider", map[string]string{"provider": "claude"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/conversations/"+id+"/provider", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSummarizeProviderFailure(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	id := ts.chat(t, "42", model.ChatRequest{UserID: "u1", Message: "hi"}).ConversationID

	ts.gemini.fail(errors.New("upstream 503"))
	rec := ts.do(t, http.MethodPost, "/conversations/"+id+"/summarize", nil, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = ts.do(t, http.MethodGet, "/conversations/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[model.Conversation](t, rec).Summary)
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	id := ts.chat(t, "42", model.ChatRequest{UserID: "u1", Message: "hi"}).ConversationID
	ts.events.events = []model.ConversationEvent{
		{ID: "e1", ConversationID: id, UserID: "u1", Type: model.EventTypeTurnCompleted},
		{ID: "e2", ConversationID: id, UserID: "u1", Type: model.EventTypeSummarized},
		{ID: "e3", ConversationID: "conv_other", UserID: "u1", Type: model.EventTypeDeleted},
	}

	rec := ts.do(t, http.MethodGet, "/conversations/"+id+"/events", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ConversationEvent](t, rec), 2)

	rec = ts.do(t, http.MethodGet, "/conversations/"+id+"/events?limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ConversationEvent](t, rec), 1)

	ts.events.err = errors.New("no responders")
	rec = ts.do(t, http.MethodGet, "/conversations/"+id+"/events", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEventsEndpointDisabled(t *testing.T) {
	ts := newTestServer(t, serverOptions{noEvents: true})
	rec := ts.do(t, http.MethodGet, "/conversations/conv_x/events", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProvidersEndpoint(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	rec := ts.do(t, http.MethodGet, "/providers", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ProvidersResponse](t, rec)
	assert.Equal(t, []string{"deepseek", "gemini", "openai"}, resp.Providers)
	assert.Equal(t, "gemini", resp.Default)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil, "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/ready", nil, "").Code)

	ts.store.err = errors.New("down")
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/ready", nil, "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil, "").Code)

	disconnected := newTestServer(t, serverOptions{nats: stubConn{connected: false}})
	rec := disconnected.do(t, http.MethodGet, "/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NATS not connected", decode[map[string]string](t, rec)["reason"])

	connected := newTestServer(t, serverOptions{nats: stubConn{connected: true}})
	assert.Equal(t, http.StatusOK, connected.do(t, http.MethodGet, "/ready", nil, "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.chat(t, "42", model.ChatRequest{UserID: "u1", Message: "hi"})

	rec := ts.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chat_turns_total")
}

func TestAuthEnabled(t *testing.T) {
	ts := newTestServer(t, serverOptions{auth: true})

	rec := ts.do(t, http.MethodPost, "/agents/42/chat", model.ChatRequest{UserID: "u1", Message: "hi"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/agents/42/chat", model.ChatRequest{UserID: "u1", Message: "hi"}, token(t, "u2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/agents/42/chat", model.ChatRequest{UserID: "u1", Message: "hi"}, token(t, "u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[model.ChatResponse](t, rec).ConversationID

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/conversations/"+id, nil, token(t, "u1")).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/conversations/"+id, nil, token(t, "u2")).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/conversations/"+id+"/delete", nil, token(t, "u2")).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/conversations/user/u1", nil, token(t, "u2")).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/conversations/user/u1", nil, token(t, "u1")).Code)

	// public endpoints stay open
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/providers", nil, "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil, "").Code)
}

func TestRateLimited(t *testing.T) {
	ts := newTestServer(t, serverOptions{rateLimit: 1})

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/conversations/user/u1", nil, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(t, http.MethodGet, "/conversations/user/u1", nil, "").Code)
}
