package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/features/article"
	"github.com/joelmnz/mcp-markdown-manager-sub001/features/metrics"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/middleware"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/text"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type DurationRecorder interface {
	RecordDuration(ctx context.Context, t metrics.Type, d time.Duration, taskID, articleID string)
}

type UpsertResult struct {
	Embedded int `json:"embedded"`
	Reused   int `json:"reused"`
	Skipped  int `json:"skipped"`
}

type RebuildResult struct {
	Total     int      `json:"total"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

type Stats struct {
	TotalEmbeddings   int `json:"totalEmbeddings"`
	IndexedArticles   int `json:"indexedArticles"`
	TotalArticles     int `json:"totalArticles"`
	UnindexedArticles int `json:"unindexedArticles"`
}

// Indexer turns article chunks into stored embeddings.
type Indexer struct {
	store     Store
	embedder  Embedder
	articles  article.Repository
	chunker   *text.Chunker
	dimension int
	recorder  DurationRecorder
}

func NewIndexer(store Store, embedder Embedder, articles article.Repository, chunker *text.Chunker, dimension int, recorder DurationRecorder) *Indexer {
	return &Indexer{
		store:     store,
		embedder:  embedder,
		articles:  articles,
		chunker:   chunker,
		dimension: dimension,
		recorder:  recorder,
	}
}

// Upsert replaces the embeddings of an article with ones built from chunks.
// Vectors of chunks whose content and heading path are unchanged are reused.
// A vector of the wrong dimension aborts the whole batch before anything is written.
func (i *Indexer) Upsert(ctx context.Context, articleID, title string, chunks []text.Chunk) (UpsertResult, error) {
	return i.upsert(ctx, articleID, title, chunks, true)
}

func (i *Indexer) upsert(ctx context.Context, articleID, title string, chunks []text.Chunk, reuse bool) (UpsertResult, error) {
	var res UpsertResult

	existing := map[string][]float32{}
	if reuse {
		found, err := i.store.ExistingVectors(ctx, articleID)
		if err != nil {
			slog.WarnContext(ctx, "could not load existing vectors, embedding all chunks", "article_id", articleID, "error", err)
		} else {
			existing = found
		}
	}

	embs := make([]Embedding, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			slog.WarnContext(ctx, "skipping empty chunk", "chunk_id", c.ID)
			res.Skipped++
			continue
		}

		vec, ok := existing[reuseKey(c.ContentHash, c.HeadingPath)]
		if ok && (i.dimension <= 0 || len(vec) == i.dimension) {
			res.Reused++
		} else {
			start := time.Now()
			v, err := i.embedder.Embed(ctx, text.EmbeddingInput(title, c))
			i.record(ctx, metrics.TypeEmbeddingGenerationTime, time.Since(start), articleID)
			if err != nil {
				return UpsertResult{}, fmt.Errorf("embed chunk %s: %w", c.ID, err)
			}
			vec = v
			res.Embedded++
		}

		if i.dimension > 0 && len(vec) != i.dimension {
			return UpsertResult{}, apperr.Newf(apperr.KindValidation,
				"embedding dimension mismatch for chunk %s: got %d, want %d", c.ID, len(vec), i.dimension)
		}
		if !finite(vec) {
			slog.WarnContext(ctx, "skipping chunk with non-finite embedding", "chunk_id", c.ID)
			res.Skipped++
			continue
		}

		embs = append(embs, Embedding{Chunk: c, Vector: vec})
	}

	start := time.Now()
	err := i.store.ReplaceArticle(ctx, articleID, embs)
	i.record(ctx, metrics.TypeDatabaseQueryTime, time.Since(start), articleID)
	if err != nil {
		return UpsertResult{}, err
	}

	slog.InfoContext(ctx, "article indexed",
		"article_id", articleID,
		"embedded", res.Embedded,
		"reused", res.Reused,
		"skipped", res.Skipped,
	)
	return res, nil
}

func (i *Indexer) Delete(ctx context.Context, articleID string) error {
	n, err := i.store.DeleteArticle(ctx, articleID)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "article embeddings deleted", "article_id", articleID, "count", n)
	return nil
}

// IndexArticle reads, chunks and upserts the article with the given slug.
func (i *Indexer) IndexArticle(ctx context.Context, slug string) (UpsertResult, error) {
	return i.indexArticle(ctx, slug, true)
}

func (i *Indexer) indexArticle(ctx context.Context, slug string, reuse bool) (UpsertResult, error) {
	a, err := i.articles.ReadArticle(ctx, slug)
	if err != nil {
		return UpsertResult{}, err
	}
	chunks := i.Chunks(a)
	return i.upsert(ctx, a.ID, a.Title, chunks, reuse)
}

func (i *Indexer) Chunks(a *article.Article) []text.Chunk {
	return i.chunker.Chunk(a.ID, text.Document{
		Title:     a.Title,
		Content:   a.Content,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	})
}

// RebuildIndex re-embeds every article without reusing stored vectors.
// A failing article is counted and does not stop the rebuild.
func (i *Indexer) RebuildIndex(ctx context.Context) (RebuildResult, error) {
	list, err := i.articles.ListArticles(ctx)
	if err != nil {
		return RebuildResult{}, err
	}
	slugs := make([]string, len(list))
	for n, s := range list {
		slugs[n] = s.Slug
	}
	return i.indexAll(ctx, slugs, false), nil
}

func (i *Indexer) IndexUnindexedArticles(ctx context.Context) (RebuildResult, error) {
	slugs, err := i.store.ListUnindexedArticles(ctx)
	if err != nil {
		return RebuildResult{}, err
	}
	return i.indexAll(ctx, slugs, true), nil
}

func (i *Indexer) indexAll(ctx context.Context, slugs []string, reuse bool) RebuildResult {
	res := RebuildResult{Total: len(slugs)}
	for _, slug := range slugs {
		if ctx.Err() != nil {
			res.Failed += res.Total - res.Processed - res.Failed
			res.Errors = append(res.Errors, ctx.Err().Error())
			break
		}
		if _, err := i.indexArticle(ctx, slug, reuse); err != nil {
			slog.ErrorContext(ctx, "failed to index article", "slug", slug, "error", err)
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", slug, err))
			continue
		}
		res.Processed++
	}
	slog.InfoContext(ctx, "index pass finished", "total", res.Total, "processed", res.Processed, "failed", res.Failed)
	return res
}

func (i *Indexer) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var err error
	if s.TotalEmbeddings, err = i.store.CountEmbeddings(ctx); err != nil {
		return Stats{}, err
	}
	if s.IndexedArticles, err = i.store.CountIndexedArticles(ctx); err != nil {
		return Stats{}, err
	}
	list, err := i.articles.ListArticles(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.TotalArticles = len(list)
	if s.TotalArticles > s.IndexedArticles {
		s.UnindexedArticles = s.TotalArticles - s.IndexedArticles
	}
	return s, nil
}

func (i *Indexer) record(ctx context.Context, t metrics.Type, d time.Duration, articleID string) {
	if i.recorder == nil {
		return
	}
	i.recorder.RecordDuration(ctx, t, d, middleware.GetTaskID(ctx), articleID)
}

func finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
