package handlers

import (
	"context"
	"time"

	xhttp "github.com/nimasrn/time-capsule/pkg/http"
)

// HealthCheck is a named dependency probe, a store or a broker.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthHandler struct {
	checks  []HealthCheck
	timeout time.Duration
}

func RegisterHealthRoutes(g *xhttp.Group, h *HealthHandler) {
	g.GET("/health", h.GetHealth)
}

func NewHealthHandler(checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	// a RequestCtx is only a usable parent context inside a running server
	c, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	status := xhttp.StatusOK
	result := map[string]string{}
	for _, check := range h.checks {
		if err := check.Check(c); err != nil {
			status = xhttp.StatusServiceUnavailable
			result[check.Name] = "down"
			continue
		}
		result[check.Name] = "up"
	}

	overall := "ok"
	if status != xhttp.StatusOK {
		overall = "degraded"
	}
	writeJSON(ctx, status, map[string]any{"status": overall, "checks": result})
}
