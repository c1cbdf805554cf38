package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/vector"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	// keywordBoost is the score added to the top keyword match; lower
	// ranks get a linearly smaller share.
	keywordBoost = 0.3
)

type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

type ArticleMetadata struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Folder    string    `json:"folder"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type SearchResult struct {
	Article     ArticleMetadata `json:"articleMetadata"`
	ChunkID     string          `json:"chunkId"`
	ChunkText   string          `json:"chunkText"`
	HeadingPath []string        `json:"headingPath"`
	Score       float64         `json:"score"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// KeywordSource returns articles whose title or slug matches query, best
// match first.
type KeywordSource interface {
	MatchTitles(ctx context.Context, query, folder string, limit int) ([]ArticleMetadata, error)
}

type Service struct {
	embedder Embedder
	searcher vector.Searcher
	keywords KeywordSource
	logger   *QueryLogger
}

func NewService(e Embedder, s vector.Searcher, k KeywordSource, l *QueryLogger) *Service {
	return &Service{embedder: e, searcher: s, keywords: k, logger: l}
}

// SemanticSearch returns up to k articles ranked by the similarity of their
// best chunk to query.
func (s *Service) SemanticSearch(ctx context.Context, query string, k int, folder string) ([]SearchResult, error) {
	start := time.Now()
	query, k, err := normalize(query, k)
	if err != nil {
		return nil, err
	}

	results, err := s.semantic(ctx, query, k, folder)
	if err != nil {
		return nil, err
	}
	s.log(ctx, ModeSemantic, query, folder, k, len(results), start)
	return results, nil
}

// HybridSearch ranks semantic candidates and boosts those whose title or
// slug also matches query. Keyword-only matches are not added.
func (s *Service) HybridSearch(ctx context.Context, query string, k int, folder string) ([]SearchResult, error) {
	start := time.Now()
	query, k, err := normalize(query, k)
	if err != nil {
		return nil, err
	}

	results, err := s.semantic(ctx, query, 2*k, folder)
	if err != nil {
		return nil, err
	}

	matches, err := s.keywords.MatchTitles(ctx, query, folder, 2*k)
	if err != nil {
		return nil, err
	}
	applyKeywordBoost(results, matches)

	sortByScore(results)
	if len(results) > k {
		results = results[:k]
	}
	s.log(ctx, ModeHybrid, query, folder, k, len(results), start)
	return results, nil
}

func (s *Service) Search(ctx context.Context, mode Mode, query string, k int, folder string) ([]SearchResult, error) {
	switch mode {
	case ModeHybrid:
		return s.HybridSearch(ctx, query, k, folder)
	case ModeSemantic, "":
		return s.SemanticSearch(ctx, query, k, folder)
	}
	return nil, apperr.Newf(apperr.KindValidation, "unknown search mode %q", mode)
}

func (s *Service) semantic(ctx context.Context, query string, k int, folder string) ([]SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.searcher.Nearest(ctx, vec, 2*k, folder)
	if err != nil {
		return nil, err
	}

	best := make(map[string]int, len(hits))
	var results []SearchResult
	for _, h := range hits {
		r := SearchResult{
			Article: ArticleMetadata{
				ID:        h.ArticleID,
				Slug:      h.Slug,
				Title:     h.Title,
				Folder:    h.Folder,
				UpdatedAt: h.UpdatedAt,
			},
			ChunkID:     h.ChunkID,
			ChunkText:   h.Text,
			HeadingPath: h.HeadingPath,
			Score:       h.Score,
		}
		if i, ok := best[h.ArticleID]; ok {
			if r.Score > results[i].Score {
				results[i] = r
			}
			continue
		}
		best[h.ArticleID] = len(results)
		results = append(results, r)
	}

	sortByScore(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func applyKeywordBoost(results []SearchResult, matches []ArticleMetadata) {
	total := len(matches)
	if total == 0 {
		return
	}
	rank := make(map[string]int, total)
	for i, m := range matches {
		if _, ok := rank[m.ID]; !ok {
			rank[m.ID] = i
		}
	}
	for i := range results {
		r, ok := rank[results[i].Article.ID]
		if !ok {
			continue
		}
		results[i].Score += keywordBoost * (1 - float64(r)/float64(total))
		if results[i].Score > 1 {
			results[i].Score = 1
		}
	}
}

func sortByScore(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

func normalize(query string, k int) (string, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", 0, apperr.New(apperr.KindValidation, "query must not be empty")
	}
	if k <= 0 {
		k = DefaultLimit
	}
	if k > MaxLimit {
		k = MaxLimit
	}
	return query, k, nil
}

func (s *Service) log(ctx context.Context, mode Mode, query, folder string, k, n int, start time.Time) {
	if s.logger == nil {
		return
	}
	s.logger.Log(ctx, QueryLogEntry{
		Query:      query,
		Mode:       string(mode),
		Folder:     folder,
		Limit:      k,
		NumResults: n,
		Duration:   time.Since(start),
	})
}
