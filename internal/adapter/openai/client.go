package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Client calls an OpenAI-compatible embeddings endpoint or a local Ollama
// server over HTTP.
type Client struct {
	provider   string
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries uint64
	backoff    func() backoff.BackOff
}

type Config struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

func NewClient(cfg Config) (*Client, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, apperr.New(apperr.KindConfig, "openai api key not configured")
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Model == "" {
			cfg.Model = "text-embedding-3-small"
		}
	case ProviderOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:11434"
		}
		if cfg.Model == "" {
			cfg.Model = "nomic-embed-text"
		}
	default:
		return nil, apperr.Newf(apperr.KindConfig, "unknown embedding provider %q", cfg.Provider)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &Client{
		provider:   cfg.Provider,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: uint64(cfg.MaxRetries),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = cfg.Timeout
			return b
		},
	}, nil
}

func (c *Client) Name() string { return c.provider + "/" + c.model }

// Embed retries transport errors, 429 and 5xx responses. Other 4xx
// responses fail immediately.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	op := func() error {
		v, err := c.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.backoff(), c.maxRetries), ctx)
	notify := func(err error, d time.Duration) {
		slog.WarnContext(ctx, "embedding request failed, retrying", "provider", c.provider, "error", err, "delay", d)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, err, c.provider+" embed")
	}
	return vec, nil
}

func (c *Client) embedOnce(ctx context.Context, text string) ([]float32, error) {
	var (
		url  string
		body interface{}
	)
	if c.provider == ProviderOllama {
		url = c.baseURL + "/api/embeddings"
		body = map[string]string{"model": c.model, "prompt": text}
	} else {
		url = c.baseURL + "/embeddings"
		body = map[string]string{"model": c.model, "input": text}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%s api error: %s", c.provider, resp.Status)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, backoff.Permanent(fmt.Errorf("%s api error: %s: %s", c.provider, resp.Status, bytes.TrimSpace(msg)))
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
		Data      []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode embedding response: %w", err))
	}

	vec := result.Embedding
	if len(result.Data) > 0 {
		vec = result.Data[0].Embedding
	}
	if len(vec) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("empty embedding received"))
	}
	return vec, nil
}
