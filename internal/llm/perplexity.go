package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultPerplexityBaseURL = "https://api.perplexity.ai"
	defaultPerplexityModel   = "sonar"
	defaultHTTPTimeout       = 120 * time.Second
)

// StatusError is a non-2xx answer from a provider's HTTP API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// PerplexityConfig configures the Perplexity adapter.
type PerplexityConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// PerplexityClient calls the Perplexity chat completions endpoint over
// plain HTTP and extracts the reply from whichever shape comes back.
type PerplexityClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
}

// PerplexityOption configures a PerplexityClient.
type PerplexityOption func(*PerplexityClient)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) PerplexityOption {
	return func(pc *PerplexityClient) {
		pc.httpClient = c
	}
}

// NewPerplexityClient creates the Perplexity adapter.
func NewPerplexityClient(cfg PerplexityConfig, opts ...PerplexityOption) *PerplexityClient {
	c := &PerplexityClient{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
	}
	if c.baseURL == "" {
		c.baseURL = defaultPerplexityBaseURL
	}
	if c.model == "" {
		c.model = defaultPerplexityModel
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider name.
func (c *PerplexityClient) Name() string {
	return ProviderPerplexity
}

type perplexityRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type perplexityUsage struct {
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends a chat completion request.
func (c *PerplexityClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if c.apiKey == "" {
		return nil, &MissingCredentialError{Provider: ProviderPerplexity, Label: "Perplexity", EnvVar: "PERPLEXITY_API_KEY"}
	}

	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := make([]ChatMessage, len(req.Messages))
	for i, msg := range req.Messages {
		role := msg.Role
		if role != "system" && role != "assistant" {
			role = "user"
		}
		messages[i] = ChatMessage{Role: role, Content: msg.Content}
	}

	body, err := json.Marshal(perplexityRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	out := &CompletionResponse{
		Content:   ExtractReply(respBody),
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}

	var usage perplexityUsage
	if err := json.Unmarshal(respBody, &usage); err == nil {
		if usage.Model != "" {
			out.Model = usage.Model
		}
		out.TokensIn = usage.Usage.PromptTokens
		out.TokensOut = usage.Usage.CompletionTokens
	}

	return out, nil
}
