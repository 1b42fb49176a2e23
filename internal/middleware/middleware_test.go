package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaya7oast/FSDP-sub000/internal/errx"
	"github.com/kaya7oast/FSDP-sub000/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, method jwt.SigningMethod) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	handler := Auth(testSecret)(echoUser())

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"valid token", "Bearer " + signToken(t, testSecret, "u1", jwt.SigningMethodHS256), http.StatusOK, "u1"},
		{"lowercase scheme", "bearer " + signToken(t, testSecret, "u2", jwt.SigningMethodHS256), http.StatusOK, "u2"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + signToken(t, "other", "u1", jwt.SigningMethodHS256), http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + signToken(t, testSecret, "", jwt.SigningMethodHS256), http.StatusUnauthorized, ""},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestCanActAs(t *testing.T) {
	anonymous := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, CanActAs(anonymous.Context(), "anyone"))

	var captured *http.Request
	Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
	})).ServeHTTP(httptest.NewRecorder(), func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "u1", jwt.SigningMethodHS256))
		return req
	}())
	require.NotNil(t, captured)

	assert.True(t, CanActAs(captured.Context(), "u1"))
	assert.False(t, CanActAs(captured.Context(), "u2"))
}

func TestLoggingCorrelationID(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Logging(logger.NewNop()))
	r.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetCorrelationID(r.Context())))
	})

	req := httptest.NewRequest(http.MethodGet, "/things/1", nil)
	req.Header.Set(CorrelationIDHeader, "corr-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "corr-123", rec.Header().Get(CorrelationIDHeader))
	assert.Equal(t, "corr-123", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/2", nil))
	generated := rec.Header().Get(CorrelationIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1").Code)
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1").Code)

	limited := call("10.0.0.1:1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "rate limit exceeded")

	assert.Equal(t, http.StatusNoContent, call("10.0.0.2:1").Code)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(echoUser()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS([]string{"https://app.example.com"})(echoUser())

	req := httptest.NewRequest(http.MethodOptions, "/agents/42/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestValidators(t *testing.T) {
	long := make([]byte, maxMessageBytes+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"message ok", ValidateMessageContent("hello"), false},
		{"message blank", ValidateMessageContent("  \n"), true},
		{"message too long", ValidateMessageContent(string(long)), true},
		{"message invalid utf8", ValidateMessageContent("\xff\xfe"), true},
		{"user ok", ValidateUserID("u1"), false},
		{"user empty", ValidateUserID(""), true},
		{"agent ok", ValidateAgentID("42"), false},
		{"agent too long", ValidateAgentID(string(long[:maxIDLength+1])), true},
		{"conversation ok", ValidateConversationID("conv_u1_42_0123456789ab"), false},
		{"conversation blank", ValidateConversationID(" "), true},
		{"chatname empty ok", ValidateChatName(""), false},
		{"chatname too long", ValidateChatName(string(long[:maxChatName+1])), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.wantErr {
				assert.NoError(t, tt.err)
				return
			}
			require.Error(t, tt.err)
			assert.ErrorIs(t, tt.err, errx.ErrInvalidInput)
		})
	}
}
