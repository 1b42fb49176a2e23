package llm

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kaya7oast/FSDP-sub000/pkg/logger"
	"github.com/kaya7oast/FSDP-sub000/pkg/metrics"
)

var tracer = otel.Tracer("github.com/kaya7oast/FSDP-sub000/internal/llm")

// Reply is the outcome of a generation. When Failed is set, Content holds
// the displayable text produced for a provider failure and Err the cause.
type Reply struct {
	Content   string
	Provider  string
	Model     string
	TokensIn  int
	TokensOut int
	Latency   time.Duration
	Failed    bool
	Err       error
}

// Generator dispatches generation requests to registered adapters by
// provider name. Adapters are registered at startup and read-only after.
type Generator struct {
	adapters map[string]Adapter
	logger   *logger.Logger
}

// NewGenerator creates an empty generator.
func NewGenerator(log *logger.Logger) *Generator {
	return &Generator{
		adapters: make(map[string]Adapter),
		logger:   log,
	}
}

// Register adds an adapter under its Name, replacing any previous one.
func (g *Generator) Register(a Adapter) {
	g.adapters[a.Name()] = a
}

// Supports reports whether provider has a registered adapter.
func (g *Generator) Supports(provider string) bool {
	_, ok := g.adapters[provider]
	return ok
}

// Providers returns the registered provider names, sorted.
func (g *Generator) Providers() []string {
	names := make([]string, 0, len(g.adapters))
	for name := range g.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate produces a reply from provider. The only error it returns is
// UnsupportedProviderError; provider failures come back as a Reply with
// Failed set and displayable Content.
func (g *Generator) Generate(ctx context.Context, provider string, messages []ChatMessage) (*Reply, error) {
	adapter, ok := g.adapters[provider]
	if !ok {
		return nil, &UnsupportedProviderError{Provider: provider}
	}

	ctx, span := tracer.Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", provider),
		attribute.Int("llm.messages", len(messages)),
	)

	start := time.Now()
	resp, err := adapter.Complete(ctx, &CompletionRequest{Messages: messages})
	latency := time.Since(start)

	if err == nil && resp.Content == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		perr := &ProviderError{Provider: provider, Err: err}

		span.RecordError(perr)
		span.SetStatus(codes.Error, "provider failed")
		metrics.RecordProviderCall(provider, "error", latency.Seconds(), 0, 0)
		g.logger.Error("provider request failed",
			zap.String("provider", provider),
			zap.Duration("latency", latency),
			zap.Error(err),
		)

		return &Reply{
			Content:  DisplayableReply(perr),
			Provider: provider,
			Latency:  latency,
			Failed:   true,
			Err:      perr,
		}, nil
	}

	metrics.RecordProviderCall(provider, "success", latency.Seconds(), resp.TokensIn, resp.TokensOut)

	return &Reply{
		Content:   resp.Content,
		Provider:  provider,
		Model:     resp.Model,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		Latency:   latency,
	}, nil
}
