// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers selectable with STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `envconfig:"PORT" default:"8080"`
	ServerReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	ServerWriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info"`
	Env                string        `envconfig:"ENV" default:"production"`

	// Conversation store
	StoreDriver   string `envconfig:"STORE_DRIVER" default:"memory"`
	MongoURI      string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"agentchat"`
	RedisURL      string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN"`

	// NATS settings
	NATSEnabled  bool   `envconfig:"NATS_ENABLED" default:"false"`
	NATSURL      string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	NATSToken    string `envconfig:"NATS_TOKEN"`
	NATSCAFile   string `envconfig:"NATS_CA_FILE"`
	NATSCertFile string `envconfig:"NATS_CERT_FILE"`
	NATSKeyFile  string `envconfig:"NATS_KEY_FILE"`

	// JWT settings
	AuthEnabled bool   `envconfig:"AUTH_ENABLED" default:"false"`
	JWTSecret   string `envconfig:"JWT_SECRET" default:"development-secret-change-in-production"`

	// Rate limiting and CORS
	RateLimitRequests  int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	RateLimitWindow    time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"https://*,http://*"`

	// Tracing
	TracingEnabled  bool   `envconfig:"TRACING_ENABLED" default:"false"`
	TracingEndpoint string `envconfig:"TRACING_ENDPOINT" default:"localhost:4318"`

	// Agent personas
	AgentServiceURL string `envconfig:"AGENT_SERVICE_URL"`
	PersonaFile     string `envconfig:"PERSONA_FILE"`

	// Chat behaviour
	DefaultProvider    string        `envconfig:"DEFAULT_PROVIDER" default:"gemini"`
	ContextWindow      int           `envconfig:"CONTEXT_WINDOW" default:"10"`
	ProviderTimeout    time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
	ProviderMaxRetries int           `envconfig:"PROVIDER_MAX_RETRIES" default:"2"`

	// LLM providers
	OpenAIAPIKey      string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel       string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL     string `envconfig:"OPENAI_BASE_URL"`
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY"`
	GeminiModel       string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	GeminiBaseURL     string `envconfig:"GEMINI_BASE_URL"`
	DeepSeekAPIKey    string `envconfig:"DEEPSEEK_API_KEY"`
	DeepSeekModel     string `envconfig:"DEEPSEEK_MODEL" default:"deepseek-chat"`
	DeepSeekBaseURL   string `envconfig:"DEEPSEEK_BASE_URL" default:"https://api.deepseek.com/v1"`
	PerplexityAPIKey  string `envconfig:"PERPLEXITY_API_KEY"`
	PerplexityModel   string `envconfig:"PERPLEXITY_MODEL" default:"sonar"`
	PerplexityBaseURL string `envconfig:"PERPLEXITY_BASE_URL" default:"https://api.perplexity.ai"`
	AnthropicAPIKey   string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel    string `envconfig:"ANTHROPIC_MODEL" default:"claude-3-5-haiku-20241022"`
	AnthropicBaseURL  string `envconfig:"ANTHROPIC_BASE_URL"`
}

// Load reads a .env file when present and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
// Missing provider keys are not an error.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverMongo, DriverRedis:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.ContextWindow <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW must be positive, got %d", c.ContextWindow)
	}
	if c.ProviderMaxRetries < 0 {
		return fmt.Errorf("PROVIDER_MAX_RETRIES must not be negative, got %d", c.ProviderMaxRetries)
	}
	if c.AuthEnabled && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required when AUTH_ENABLED=true")
	}
	return nil
}
