package provider

import (
	"context"
	"fmt"
	"time"

	"widgetforge/internal/config"
	"widgetforge/internal/logging"
)

// NewRegistryFromConfig builds a registry from the workspace config.
// The configured provider is registered and mapped to every task; when
// its API key is missing the registry is returned empty so callers can
// surface a configuration error at request time rather than at startup.
func NewRegistryFromConfig(ctx context.Context, cfg *config.Config) (*Registry, error) {
	registry := NewRegistry()

	llm := cfg.LLM
	if llm.APIKey == "" {
		logging.Provider("No API key configured for provider %q; registry starts empty", llm.Provider)
		return registry, nil
	}

	timeout := cfg.ProviderTimeout()
	p, err := buildClient(ctx, llm.Provider, llm.APIKey, llm.Model, llm.BaseURL, timeout)
	if err != nil {
		return nil, err
	}
	registry.Register(p)

	for _, task := range []Task{TaskGeneration, TaskIteration, TaskVariation} {
		registry.SetDefault(task, p.Name())
	}
	return registry, nil
}

func buildClient(ctx context.Context, name, apiKey, model, baseURL string, timeout time.Duration) (Provider, error) {
	switch name {
	case "anthropic", "":
		cc := DefaultAnthropicConfig(apiKey)
		if model != "" {
			cc.Model = model
		}
		if baseURL != "" {
			cc.BaseURL = baseURL
		}
		cc.Timeout = timeout
		return NewAnthropicClientWithConfig(cc), nil
	case "openai":
		cc := DefaultOpenAIConfig(apiKey)
		if model != "" {
			cc.Model = model
		}
		if baseURL != "" {
			cc.BaseURL = baseURL
		}
		cc.Timeout = timeout
		return NewOpenAIClientWithConfig(cc), nil
	case "gemini":
		cc := DefaultGeminiConfig(apiKey)
		if model != "" {
			cc.Model = model
		}
		cc.Timeout = timeout
		return NewGeminiClientWithConfig(ctx, cc)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
