package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"file-service/internal/httputil"
	"file-service/internal/metrics"

	"github.com/go-chi/chi/v5"
)

const checkTimeout = 2 * time.Second

// Check is one dependency probed by /ready.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type Handler struct {
	checks  []Check
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewHandler(m *metrics.Metrics, logger *slog.Logger, checks ...Check) *Handler {
	return &Handler{
		checks:  checks,
		metrics: m,
		logger:  logger,
	}
}

// Names lists the probed dependencies, for metric registration.
func (h *Handler) Names() []string {
	names := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		names = append(names, c.Name)
	}
	return names
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondWithJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready pings every dependency and answers 503 if any of them fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ready", Checks: make(map[string]string, len(h.checks))}
	code := http.StatusOK

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		start := time.Now()
		err := c.Ping(ctx)
		cancel()

		h.metrics.Health.RecordDependencyCheck(r.Context(), c.Name, time.Since(start), err)
		if err != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed", "dependency", c.Name, "error", err)
			resp.Checks[c.Name] = "unavailable"
			resp.Status = "not ready"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}

	httputil.RespondWithJSON(w, code, resp)
}
