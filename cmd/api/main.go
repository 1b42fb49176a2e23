// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kaya7oast/FSDP-sub000/internal/config"
	"github.com/kaya7oast/FSDP-sub000/internal/handler"
	"github.com/kaya7oast/FSDP-sub000/internal/llm"
	natsclient "github.com/kaya7oast/FSDP-sub000/internal/nats"
	"github.com/kaya7oast/FSDP-sub000/internal/persona"
	"github.com/kaya7oast/FSDP-sub000/internal/service"
	"github.com/kaya7oast/FSDP-sub000/internal/store"
	"github.com/kaya7oast/FSDP-sub000/pkg/logger"
	"github.com/kaya7oast/FSDP-sub000/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Options{
		Level:       cfg.LogLevel,
		Development: cfg.Env == "development",
		Service:     "agent-chat",
	})
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server",
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("default_provider", cfg.DefaultProvider),
	)

	ctx := context.Background()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "agent-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	convStore, err := store.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := convStore.Close(closeCtx); err != nil {
			log.Warn("failed to close conversation store", zap.Error(err))
		}
	}()

	personas, err := newPersonaGateway(cfg, log)
	if err != nil {
		return err
	}

	generator, err := newGenerator(ctx, cfg, log)
	if err != nil {
		return err
	}

	var (
		publisher  service.EventPublisher = service.NopPublisher{}
		events     handler.EventLister
		natsHealth handler.ConnChecker
	)
	if cfg.NATSEnabled {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return fmt.Errorf("ensure stream: %w", err)
		}
		publisher = streamManager
		events = streamManager
		natsHealth = natsClient
	}

	conversationSvc := service.NewConversationService(convStore, generator, publisher, log)
	chatSvc := service.NewChatService(conversationSvc, personas, generator, service.ChatConfig{
		DefaultProvider: cfg.DefaultProvider,
		ContextWindow:   cfg.ContextWindow,
	}, log)

	router := handler.NewRouter(handler.RouterConfig{
		Logger:            log,
		Health:            handler.NewHealthHandler(convStore, natsHealth, log),
		Providers:         handler.NewProvidersHandler(generator, chatSvc.DefaultProvider()),
		Chat:              handler.NewChatHandler(chatSvc, log),
		Conversations:     handler.NewConversationHandler(conversationSvc, chatSvc, events, log),
		AuthEnabled:       cfg.AuthEnabled,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		CORSOrigins:       cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// newPersonaGateway prefers the agent service, then a persona file, then an
// empty in-memory gateway.
func newPersonaGateway(cfg *config.Config, log *logger.Logger) (persona.Gateway, error) {
	switch {
	case cfg.AgentServiceURL != "":
		log.Info("using agent service for personas", zap.String("url", cfg.AgentServiceURL))
		return persona.NewHTTPGateway(cfg.AgentServiceURL, nil), nil
	case cfg.PersonaFile != "":
		gw, err := persona.LoadFile(cfg.PersonaFile)
		if err != nil {
			return nil, fmt.Errorf("load personas: %w", err)
		}
		log.Info("loaded personas from file", zap.String("path", cfg.PersonaFile))
		return gw, nil
	default:
		log.Warn("no AGENT_SERVICE_URL or PERSONA_FILE configured, every agent lookup will fail")
		return persona.NewMemoryGateway(), nil
	}
}

// newGenerator registers every provider adapter behind the retry and
// circuit breaker decorator. Adapters without an API key still register and
// answer with a missing-credential reply.
func newGenerator(ctx context.Context, cfg *config.Config, log *logger.Logger) (*llm.Generator, error) {
	resilience := llm.DefaultResilienceConfig()
	resilience.Timeout = cfg.ProviderTimeout
	resilience.MaxRetries = cfg.ProviderMaxRetries

	gemini, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini adapter: %w", err)
	}

	adapters := []llm.Adapter{
		llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}),
		gemini,
		llm.NewDeepSeekClient(llm.OpenAIConfig{
			APIKey:  cfg.DeepSeekAPIKey,
			BaseURL: cfg.DeepSeekBaseURL,
			Model:   cfg.DeepSeekModel,
		}),
		llm.NewPerplexityClient(llm.PerplexityConfig{
			APIKey:  cfg.PerplexityAPIKey,
			BaseURL: cfg.PerplexityBaseURL,
			Model:   cfg.PerplexityModel,
		}),
		llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
			Model:   cfg.AnthropicModel,
		}),
	}

	generator := llm.NewGenerator(log)
	for _, a := range adapters {
		generator.Register(llm.NewResilient(a, resilience, log))
	}

	if !generator.Supports(cfg.DefaultProvider) {
		return nil, fmt.Errorf("DEFAULT_PROVIDER %q is not one of %v", cfg.DefaultProvider, generator.Providers())
	}
	log.Info("registered LLM providers", zap.Strings("providers", generator.Providers()))
	return generator, nil
}
