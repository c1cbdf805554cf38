package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/index"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/middleware"
)

type Searcher interface {
	Search(ctx context.Context, mode Mode, query string, k int, folder string) ([]SearchResult, error)
}

type IndexOperations interface {
	RebuildIndex(ctx context.Context) (index.RebuildResult, error)
	IndexUnindexedArticles(ctx context.Context) (index.RebuildResult, error)
	Stats(ctx context.Context) (index.Stats, error)
}

type Handler struct {
	search  Searcher
	indexer IndexOperations
}

func NewHandler(s Searcher, ix IndexOperations) *Handler {
	return &Handler{search: s, indexer: ix}
}

func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.Handler) {
	mux.Handle("GET /search", wrap(h.Search))
	mux.Handle("POST /index/rebuild", wrap(h.Rebuild))
	mux.Handle("POST /index/unindexed", wrap(h.IndexUnindexed))
	mux.Handle("GET /index/stats", wrap(h.Stats))
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	k := 0
	if raw := q.Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(ctx, w, "VALIDATION_ERROR", "k must be a positive integer", http.StatusBadRequest)
			return
		}
		k = n
	}

	results, err := h.search.Search(ctx, Mode(q.Get("mode")), q.Get("q"), k, q.Get("folder"))
	if err != nil {
		h.fail(ctx, w, "search failed", err)
		return
	}
	if results == nil {
		results = []SearchResult{}
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": results,
		"meta": map[string]int{"count": len(results)},
	})
}

func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	res, err := h.indexer.RebuildIndex(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "index rebuild failed", err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": res})
}

func (h *Handler) IndexUnindexed(w http.ResponseWriter, r *http.Request) {
	res, err := h.indexer.IndexUnindexedArticles(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "indexing unindexed articles failed", err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": res})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.indexer.Stats(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "failed to get index stats", err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": stats})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case apperr.KindNotFound:
		h.writeError(ctx, w, "NOT_FOUND", err.Error(), http.StatusNotFound)
	case apperr.KindUnavailable, apperr.KindProvider:
		slog.WarnContext(ctx, msg, "error", err)
		h.writeError(ctx, w, "UPSTREAM_UNAVAILABLE", "Embedding provider unavailable", http.StatusServiceUnavailable)
	default:
		slog.ErrorContext(ctx, msg, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
