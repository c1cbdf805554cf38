package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/apperr"
	"github.com/joelmnz/mcp-markdown-manager-sub001/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.Handler) {
	mux.Handle("GET /queue/stats", wrap(h.Stats))
	mux.Handle("GET /queue/health", wrap(h.Health))
	mux.Handle("GET /queue/details", wrap(h.Details))
	mux.Handle("GET /queue/tasks", wrap(h.List))
	mux.Handle("GET /queue/tasks/{id}", wrap(h.Get))
	mux.Handle("POST /queue/tasks", wrap(h.Enqueue))
	mux.Handle("DELETE /queue/tasks/{id}", wrap(h.Delete))
	mux.Handle("POST /queue/failed/retry", wrap(h.RetryFailed))
	mux.Handle("DELETE /queue/failed", wrap(h.ClearFailed))
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetQueueStats(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "failed to get queue stats", err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": stats})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.service.GetQueueHealth(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "failed to get queue health", err)
		return
	}
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(r.Context(), w, status, map[string]interface{}{"data": health})
}

func (h *Handler) Details(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.GetDetailedQueueStats(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "failed to get queue details", err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": details})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := Status(r.URL.Query().Get("status"))

	tasks, err := h.service.ListTasks(ctx, status, limit)
	if err != nil {
		h.fail(ctx, w, "failed to list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []Task{}
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"data": tasks,
		"meta": map[string]int{"count": len(tasks)},
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(r.Context(), w, "failed to get task", err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": t})
}

func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		NewTask
		Unique bool `json:"unique"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "Invalid JSON", http.StatusBadRequest)
		return
	}

	enqueue := h.service.Enqueue
	if req.Unique {
		enqueue = h.service.EnqueueUnique
	}
	id, err := enqueue(ctx, req.NewTask)
	if err != nil {
		h.fail(ctx, w, "failed to enqueue task", err)
		return
	}
	h.writeJSON(ctx, w, http.StatusCreated, map[string]interface{}{"data": map[string]string{"id": id}})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	deleted, err := h.service.DeleteTask(ctx, id)
	if err != nil {
		h.fail(ctx, w, "failed to delete task", err)
		return
	}
	if !deleted {
		h.writeError(ctx, w, "NOT_FOUND", "Task not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.RetryFailedTasks(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "failed to retry failed tasks", err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": map[string]int64{"retried": n}})
}

func (h *Handler) ClearFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ClearFailedTasks(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "failed to clear failed tasks", err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": map[string]int64{"deleted": n}})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case apperr.KindNotFound:
		h.writeError(ctx, w, "NOT_FOUND", err.Error(), http.StatusNotFound)
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
