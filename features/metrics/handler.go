package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/middleware"
)

const defaultWindow = 24 * time.Hour

type Handler struct {
	collector *Collector
}

func NewHandler(c *Collector) *Handler {
	return &Handler{collector: c}
}

func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.Handler) {
	mux.Handle("GET /metrics/summary", wrap(h.Summary))
	mux.Handle("GET /metrics/stats/{type}", wrap(h.Stats))
}

// Summary accepts an optional ?window= duration, default 24h.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	window, err := parseWindow(r.URL.Query().Get("window"))
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "invalid window", http.StatusBadRequest)
		return
	}

	report, err := h.collector.Summary(ctx, window)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, map[string]interface{}{"data": report})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	window, err := parseWindow(r.URL.Query().Get("window"))
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "invalid window", http.StatusBadRequest)
		return
	}

	to := time.Now()
	stats, err := h.collector.Stats(ctx, Type(r.PathValue("type")), to.Add(-window), to)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	h.writeJSON(ctx, w, map[string]interface{}{"data": stats})
}

func parseWindow(s string) (time.Duration, error) {
	if s == "" {
		return defaultWindow, nil
	}
	return time.ParseDuration(s)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if apperr.Is(err, apperr.KindValidation) {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	slog.ErrorContext(ctx, "metrics request failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
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
