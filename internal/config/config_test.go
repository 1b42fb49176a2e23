package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "gemini", cfg.DefaultProvider)
	assert.Equal(t, 10, cfg.ContextWindow)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 2, cfg.ProviderMaxRetries)
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.DeepSeekBaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("CONTEXT_WINDOW", "4")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverRedis, cfg.StoreDriver)
	assert.Equal(t, 4, cfg.ContextWindow)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{StoreDriver: DriverMemory, ContextWindow: 10}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.StoreDriver = "sqlite" }, wantErr: "unknown STORE_DRIVER"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StoreDriver = DriverPostgres }, wantErr: "POSTGRES_DSN"},
		{name: "zero window", mutate: func(c *Config) { c.ContextWindow = 0 }, wantErr: "CONTEXT_WINDOW"},
		{name: "negative retries", mutate: func(c *Config) { c.ProviderMaxRetries = -1 }, wantErr: "PROVIDER_MAX_RETRIES"},
		{name: "auth without secret", mutate: func(c *Config) { c.AuthEnabled = true }, wantErr: "JWT_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
