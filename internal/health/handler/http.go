package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"medilink/internal/platform/httpx"
	"medilink/internal/platform/logger"
)

const checkTimeout = 2 * time.Second

// Pinger checks the database (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the portal policy compiles and evaluates.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler serves liveness and readiness.
type Handler struct {
	db     Pinger
	policy PolicyChecker
	log    *zap.Logger
}

// NewHandler returns a health handler. A nil dependency is not checked.
func NewHandler(db Pinger, policy PolicyChecker, log *zap.Logger) *Handler {
	return &Handler{db: db, policy: policy, log: logger.OrNop(log)}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/health", h.live)
	r.Get("/api/health/ready", h.ready)
}

func (h *Handler) live(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready answers 503 with the names of failing components.
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	failing := []string{}
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			h.log.Warn("readiness: database", zap.Error(err))
			failing = append(failing, "database")
		}
	}
	if h.policy != nil {
		if err := h.policy.HealthCheck(ctx); err != nil {
			h.log.Warn("readiness: portal policy", zap.Error(err))
			failing = append(failing, "portal_policy")
		}
	}
	if len(failing) > 0 {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
