package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync/atomic"
)

// HealthChecker is satisfied by *pgxpool.Pool and by the redis adapters.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers liveness and readiness probes. Readiness pings every
// registered dependency.
type HealthHandler struct {
	checks map[string]HealthChecker
	ready  atomic.Bool
}

func NewHealthHandler(checks map[string]HealthChecker) *HealthHandler {
	h := &HealthHandler{checks: make(map[string]HealthChecker, len(checks))}
	for name, c := range checks {
		if c != nil {
			h.checks[name] = c
		}
	}
	h.ready.Store(false)
	return h
}

func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	checks := make(map[string]string, len(h.checks)+1)
	allHealthy := true

	if !h.ready.Load() {
		checks["app"] = "not ready"
		allHealthy = false
	} else {
		checks["app"] = "ok"
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name].Ping(r.Context()); err != nil {
			checks[name] = err.Error()
			allHealthy = false
		} else {
			checks[name] = "ok"
		}
	}

	status := "ok"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ReadyResponse{
		Status: status,
		Checks: checks,
	})
}
