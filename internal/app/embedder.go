package app

import (
	"context"
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/adapter/gemini"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/adapter/guard"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/adapter/openai"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/config"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type provider interface {
	Embedder
	Name() string
}

// NewEmbedder builds the configured provider behind the cache, rate limit
// and circuit breaker guard. The returned func releases the provider client.
func NewEmbedder(ctx context.Context, cfg *config.Config) (*guard.Guard, func() error, error) {
	timeout := time.Duration(cfg.EmbeddingTimeoutSeconds) * time.Second
	closeFn := func() error { return nil }

	var p provider
	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		g, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.DefaultModel())
		if err != nil {
			return nil, nil, err
		}
		p, closeFn = g, g.Close
	case config.ProviderOpenAI:
		c, err := openai.NewClient(openai.Config{
			Provider: openai.ProviderOpenAI,
			BaseURL:  cfg.OpenAIBaseURL,
			APIKey:   cfg.OpenAIAPIKey,
			Model:    cfg.DefaultModel(),
			Timeout:  timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		p = c
	default:
		c, err := openai.NewClient(openai.Config{
			Provider: openai.ProviderOllama,
			BaseURL:  cfg.OllamaURL,
			Model:    cfg.DefaultModel(),
			Timeout:  timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		p = c
	}

	burst := int(cfg.EmbeddingRatePerSecond)
	if burst < 1 {
		burst = 1
	}
	g, err := guard.New(p, guard.Config{
		Name:          p.Name(),
		CacheSize:     cfg.EmbeddingCacheSize,
		RatePerSecond: cfg.EmbeddingRatePerSecond,
		Burst:         burst,
	})
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return g, closeFn, nil
}
