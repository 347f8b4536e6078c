package api

import (
	"context"
	"net/http"
	"time"
)

// PingFunc checks one dependency.
type PingFunc func(ctx context.Context) error

type HealthHandler struct {
	postgres PingFunc
	redis    PingFunc // optional
	env      string
	version  string
}

func NewHealthHandler(postgres, redis PingFunc, env, version string) *HealthHandler {
	return &HealthHandler{
		postgres: postgres,
		redis:    redis,
		env:      env,
		version:  version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

// Readiness fails when postgres is down. Redis only guards the booking lock and the
// rate limiter, so losing it degrades the service without taking it out.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	if ping(ctx, h.postgres) != nil {
		deps["postgres"] = "down"
		status = "error"
	} else {
		deps["postgres"] = "ok"
	}

	if h.redis != nil {
		if ping(ctx, h.redis) != nil {
			deps["redis"] = "down"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			deps["redis"] = "ok"
		}
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}

func ping(ctx context.Context, fn PingFunc) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return fn(ctx)
}
