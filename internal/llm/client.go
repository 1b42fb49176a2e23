// Package llm provides the provider adapter contract, one adapter per LLM
// provider and the generator that dispatches between them.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kaya7oast/FSDP-sub000/internal/errx"
)

// Provider names accepted by the API. Names are case-sensitive.
const (
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderDeepSeek   = "deepseek"
	ProviderPerplexity = "perplexity"
	ProviderAnthropic  = "anthropic"
)

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Adapter is implemented once per LLM provider.
type Adapter interface {
	// Name returns the provider name the adapter is registered under.
	Name() string

	// Complete sends the messages to the provider and returns a single text reply.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// MissingCredentialError is returned by an adapter whose API key is not configured.
type MissingCredentialError struct {
	Provider string
	Label    string
	EnvVar   string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s API key is not configured. Set %s to enable the %s provider.", e.Label, e.EnvVar, e.Provider)
}

// ProviderError tags a provider failure with the provider name.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is makes every ProviderError match errx.ErrProvider.
func (e *ProviderError) Is(target error) bool {
	return target == errx.ErrProvider
}

// UnsupportedProviderError is returned for provider names with no registered adapter.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q", e.Provider)
}

// Is makes every UnsupportedProviderError match errx.ErrUnsupportedProvider.
func (e *UnsupportedProviderError) Is(target error) bool {
	return target == errx.ErrUnsupportedProvider
}

// DisplayableReply turns a provider failure into the text stored as the
// assistant's reply. It is the only place that decides how failures look
// to chat users.
func DisplayableReply(err error) string {
	var missing *MissingCredentialError
	if errors.As(err, &missing) {
		return missing.Error()
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		return fmt.Sprintf("[%s] The AI provider failed to respond. Please try again.", perr.Provider)
	}

	return "The AI provider failed to respond. Please try again."
}

// FlattenMessages collapses a message list into one prompt for providers
// that take a single string: "{role}: {content}" lines, system messages
// first, everything else in original order.
func FlattenMessages(messages []ChatMessage) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			lines = append(lines, msg.Role+": "+msg.Content)
		}
	}
	for _, msg := range messages {
		if msg.Role != "system" {
			lines = append(lines, msg.Role+": "+msg.Content)
		}
	}
	return strings.Join(lines, "\n")
}
