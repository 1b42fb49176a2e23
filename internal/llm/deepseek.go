package llm

const (
	defaultDeepSeekBaseURL = "https://api.deepseek.com/v1"
	defaultDeepSeekModel   = "deepseek-chat"
)

// NewDeepSeekClient creates the DeepSeek adapter. DeepSeek exposes an
// OpenAI-compatible API, so the OpenAI client is reused with another base URL.
func NewDeepSeekClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepSeekBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultDeepSeekModel
	}
	return newOpenAICompatible(ProviderDeepSeek, "DeepSeek", "DEEPSEEK_API_KEY", cfg)
}
