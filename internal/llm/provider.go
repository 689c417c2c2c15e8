package llm

import (
	"fmt"
	"strings"
	"time"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	xaiBaseURL        = "https://api.x.ai/v1"
)

// ProviderConfig describes the connection settings for one model provider.
type ProviderConfig struct {
	Name            string
	APIKey          string
	BaseURL         string
	Model           string
	RequestInterval time.Duration
	TokensPerMinute int
}

// NewOpenRouterClient creates a client for OpenRouter's OpenAI-compatible API.
func NewOpenRouterClient(apiKey, modelName string) (Client, error) {
	return NewOpenAICompatibleClient(apiKey, openRouterBaseURL, modelName)
}

// NewXAIClient creates a client for xAI's OpenAI-compatible API.
func NewXAIClient(apiKey, modelName string) (Client, error) {
	return NewOpenAICompatibleClient(apiKey, xaiBaseURL, modelName)
}

// NewClientForProvider builds a Client from provider settings, wrapping it
// with pacing when an interval or token budget is configured.
func NewClientForProvider(cfg ProviderConfig) (Client, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))

	var (
		client Client
		err    error
	)
	switch name {
	case "anthropic":
		client, err = NewAnthropicClient(cfg.APIKey, cfg.Model)
	case "openai":
		client, err = NewOpenAIClient(cfg.APIKey, cfg.Model)
	case "openrouter":
		client, err = NewOpenRouterClient(cfg.APIKey, cfg.Model)
	case "xai":
		client, err = NewXAIClient(cfg.APIKey, cfg.Model)
	case "openai-compatible":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("base URL is required for openai-compatible provider")
		}
		client, err = NewOpenAICompatibleClient(cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Name)
	}

	if err != nil {
		return nil, err
	}

	if cfg.RequestInterval > 0 || cfg.TokensPerMinute > 0 {
		client = NewPacedClient(client, cfg.RequestInterval, cfg.TokensPerMinute)
	}

	return client, nil
}
