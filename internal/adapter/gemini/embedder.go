package gemini

import (
	"context"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
)

const DefaultModel = "text-embedding-004"

type Embedder struct {
	client *genai.Client
	model  string
}

func NewEmbedder(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Embedder, error) {
	if apiKey == "" {
		return nil, apperr.New(apperr.KindConfig, "gemini api key not configured")
	}
	if model == "" {
		model = DefaultModel
	}
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, err, "create gemini client")
	}
	return &Embedder{client: client, model: model}, nil
}

func (e *Embedder) Name() string { return "gemini/" + e.model }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, err, "gemini embed")
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, apperr.New(apperr.KindProvider, "empty embedding received")
	}
	return res.Embedding.Values, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}
