package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// GeminiClient sends a flattened prompt to Gemini through the eino chat model.
type GeminiClient struct {
	chatModel *gemini.ChatModel
	model     string
}

// NewGeminiClient creates the Gemini adapter. With an empty API key no
// client is built and Complete reports a missing credential.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	c := &GeminiClient{model: cfg.Model}
	if cfg.APIKey == "" {
		return c, nil
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	geminiCfg := &gemini.Config{
		Client: client,
		Model:  cfg.Model,
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		geminiCfg.MaxTokens = &maxTokens
	}

	chatModel, err := gemini.NewChatModel(ctx, geminiCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini chat model: %w", err)
	}
	c.chatModel = chatModel
	return c, nil
}

// Name returns the provider name.
func (c *GeminiClient) Name() string {
	return ProviderGemini
}

// Complete sends the conversation as a single prompt.
func (c *GeminiClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if c.chatModel == nil {
		return nil, &MissingCredentialError{Provider: ProviderGemini, Label: "Gemini", EnvVar: "GEMINI_API_KEY"}
	}

	start := time.Now()

	prompt := FlattenMessages(req.Messages)
	out, err := c.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return nil, err
	}

	resp := &CompletionResponse{
		Content:   out.Content,
		Model:     c.model,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if out.ResponseMeta != nil {
		resp.StopReason = out.ResponseMeta.FinishReason
		if usage := out.ResponseMeta.Usage; usage != nil {
			resp.TokensIn = usage.PromptTokens
			resp.TokensOut = usage.CompletionTokens
		}
	}
	if resp.Content == "" {
		raw, _ := json.Marshal(out)
		resp.Content = string(raw)
	}

	return resp, nil
}
