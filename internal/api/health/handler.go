package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"barometer/pkg/logger"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// Handler serves the liveness, readiness and health probes over the three
// backing stores: ClickHouse (metric warehouse), Postgres (registry and run
// log) and Redis (snapshot cache).
type Handler struct {
	log         *logger.Logger
	postgres    *sqlx.DB
	clickhouse  driver.Conn
	redis       *redis.Client
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a health check handler
func New(
	log *logger.Logger,
	postgres *sqlx.DB,
	clickhouse driver.Conn,
	redis *redis.Client,
	serviceName string,
	version string,
) *Handler {
	return &Handler{
		log:         log.With("component", "health"),
		postgres:    postgres,
		clickhouse:  clickhouse,
		redis:       redis,
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// HealthStatus is the overall probe response
type HealthStatus struct {
	Status    string                     `json:"status"` // healthy, degraded, unhealthy
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth is the probe result for one backing store
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 while the process is running.
// Used by the Kubernetes liveness probe.
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// HandleReadiness returns 200 only when every backing store answers.
// Used by the Kubernetes readiness probe.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks, healthy := h.runChecks(ctx)

	status := h.newStatus(checks)
	code := http.StatusOK
	if healthy < len(checks) {
		status.Status = statusUnhealthy
		code = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", checks)
	}

	writeStatus(w, code, status)
}

// HandleHealth returns the detailed dependency breakdown. A single
// responsive store keeps the service at degraded rather than unhealthy.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks, healthy := h.runChecks(ctx)

	status := h.newStatus(checks)
	code := http.StatusOK
	switch {
	case healthy == 0:
		status.Status = statusUnhealthy
		code = http.StatusServiceUnavailable
	case healthy < len(checks):
		status.Status = statusDegraded
	}

	writeStatus(w, code, status)
}

func (h *Handler) runChecks(ctx context.Context) (map[string]ComponentHealth, int) {
	checks := map[string]ComponentHealth{
		"clickhouse": h.ping(ctx, "clickhouse", h.clickhouse.Ping),
		"postgres":   h.ping(ctx, "postgres", h.postgres.PingContext),
		"redis": h.ping(ctx, "redis", func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		}),
	}

	healthy := 0
	for _, c := range checks {
		if c.Status == statusHealthy {
			healthy++
		}
	}
	return checks, healthy
}

func (h *Handler) ping(ctx context.Context, name string, probe func(context.Context) error) ComponentHealth {
	start := time.Now()
	err := probe(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Warnw("Dependency probe failed", "component", name, "error", err, "elapsed", elapsed)
		return ComponentHealth{
			Status:       statusUnhealthy,
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}
	return ComponentHealth{
		Status:       statusHealthy,
		ResponseTime: elapsed.String(),
	}
}

func (h *Handler) newStatus(checks map[string]ComponentHealth) HealthStatus {
	return HealthStatus{
		Status:    statusHealthy,
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
