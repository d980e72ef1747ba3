package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports process and dependency health.
type HealthHandler struct {
	db      Pinger
	backend Pinger
	timeout time.Duration
}

// NewHealthHandler creates a health handler. backend may be nil.
func NewHealthHandler(db, backend Pinger) *HealthHandler {
	return &HealthHandler{db: db, backend: backend, timeout: 3 * time.Second}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// RegisterHealth mounts GET /health.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// Health returns 503 only when the database is unreachable. An unreachable
// backend degrades the report without failing it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{"api": "ok"}}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		resp.Checks["database"] = "error"
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["database"] = "ok"
	}

	if h.backend != nil {
		if err := h.backend.Ping(ctx); err != nil {
			slog.Warn("Backend health check failed", "error", err)
			resp.Checks["backend"] = "unreachable"
			if status == http.StatusOK {
				resp.Status = "degraded"
			}
		} else {
			resp.Checks["backend"] = "ok"
		}
	}

	JSON(w, status, resp)
}
