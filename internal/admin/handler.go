// Package admin implements the operator HTTP surface of the pipeline.
//
// Routes:
//
//	GET  /health        → liveness plus readiness checks
//	GET  /tasks/stats   → per-kind queue counts
//	GET  /tasks/{id}    → one task
//	POST /tasks/{kind}  → enqueue a task; the body is its JSON payload
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"jobmate/pipeline/internal/logging"
	"jobmate/pipeline/internal/queue"
)

const maxPayloadBytes = 64 << 10

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Handler holds shared dependencies.
type Handler struct {
	q       queue.Queue
	log     *logging.Logger
	version string
	checks  map[string]Check
}

// NewHandler returns a configured Handler. checks are run by /health.
func NewHandler(q queue.Queue, log *logging.Logger, version string, checks map[string]Check) *Handler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handler{q: q, log: log.Component("admin"), version: version, checks: checks}
}

// RegisterRoutes mounts all admin routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/tasks/", h.handleTasks)
}

// ─── Route dispatch ───────────────────────────────────────────────────────────

// handleTasks handles /tasks/stats, /tasks/{id} and /tasks/{kind}.
func (h *Handler) handleTasks(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[1] == "" {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if parts[1] == "stats" {
			h.stats(w, r)
			return
		}
		h.getTask(w, r, parts[1])
	case http.MethodPost:
		h.enqueue(w, r, parts[1])
	default:
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, rawKind string) {
	kind, err := queue.ParseKind(rawKind)
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
	if err != nil {
		jsonError(w, "could not read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxPayloadBytes {
		jsonError(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	task, err := h.q.Enqueue(r.Context(), kind, json.RawMessage(body))
	if err != nil {
		h.log.Error("enqueue failed", "kind", kind, "err", err)
		jsonError(w, "queue error", http.StatusInternalServerError)
		return
	}
	h.log.Info("task enqueued", "kind", kind, "task", task.ID)
	jsonOK(w, http.StatusAccepted, task)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request, id string) {
	task, err := h.q.Get(r.Context(), id)
	if errors.Is(err, queue.ErrTaskNotFound) {
		jsonError(w, fmt.Sprintf("task %s not found", id), http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get task failed", "task", id, "err", err)
		jsonError(w, "queue error", http.StatusInternalServerError)
		return
	}
	jsonOK(w, http.StatusOK, task)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.q.Stats(r.Context())
	if err != nil {
		h.log.Error("queue stats failed", "err", err)
		jsonError(w, "queue error", http.StatusInternalServerError)
		return
	}
	jsonOK(w, http.StatusOK, stats)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	jsonOK(w, code, map[string]any{
		"status":  status,
		"service": "jobmate-pipeline",
		"version": h.version,
		"checks":  checks,
	})
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func jsonOK(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
