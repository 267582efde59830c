package provider

import (
	"context"
	"fmt"
	"maps"
	"time"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/openai"
	"github.com/charmbracelet/catwalk/pkg/catwalk"

	"github.com/guilhermegouw/chatctx/internal/config"
)

// DefaultRetryBase is the first backoff interval between retries.
const DefaultRetryBase = 500 * time.Millisecond

// Build creates the completion provider selected by cfg, wrapped with rate
// limiting and bounded retries.
func Build(ctx context.Context, cfg *config.Config) (CompletionProvider, error) {
	providerCfg, err := cfg.ActiveProvider()
	if err != nil {
		return nil, err
	}

	fp, err := New(ctx, providerCfg)
	if err != nil {
		return nil, err
	}

	var p CompletionProvider = fp
	if providerCfg.RequestsPerMinute > 0 {
		p = NewRateLimited(p, providerCfg.RequestsPerMinute)
	}
	if n := cfg.Retries(); n > 0 {
		p = NewRetrying(p, n, DefaultRetryBase)
	}
	return p, nil
}

// New creates a fantasy-backed provider from a provider configuration.
func New(ctx context.Context, providerCfg *config.ProviderConfig) (*FantasyProvider, error) {
	fp, err := buildProvider(providerCfg)
	if err != nil {
		return nil, err
	}

	lm, err := fp.LanguageModel(ctx, providerCfg.Model)
	if err != nil {
		return nil, fmt.Errorf("getting language model %q: %w", providerCfg.Model, err)
	}

	return NewFantasyProvider(providerCfg.ID, lm, providerCfg.MaxOutputTokens), nil
}

// buildProvider creates a fantasy provider from configuration. Groq speaks
// the OpenAI wire protocol, so both variants use the openai provider with
// their own base URL.
func buildProvider(providerCfg *config.ProviderConfig) (fantasy.Provider, error) {
	headers := maps.Clone(providerCfg.ExtraHeaders)

	//nolint:exhaustive // Only openai-compatible endpoints are supported.
	switch providerCfg.Type {
	case openai.Name, catwalk.TypeOpenAICompat:
		return buildOpenAIProvider(providerCfg.BaseURL, providerCfg.APIKey, headers)
	default:
		return nil, fmt.Errorf("unsupported provider type: %q", providerCfg.Type)
	}
}

func buildOpenAIProvider(baseURL, apiKey string, headers map[string]string) (fantasy.Provider, error) {
	var opts []openai.Option

	if apiKey != "" {
		opts = append(opts, openai.WithAPIKey(apiKey))
	}
	if len(headers) > 0 {
		opts = append(opts, openai.WithHeaders(headers))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	return openai.New(opts...)
}
