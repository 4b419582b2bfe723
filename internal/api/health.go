package api

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// dependency is one readiness check. Required dependencies take the service
// out of rotation when down; optional ones only degrade it.
type dependency struct {
	name     string
	required bool
	ping     func(ctx context.Context) error // nil when disabled
}

type HealthHandler struct {
	deps    []dependency
	env     string
	version string
}

// NewHealthHandler builds the checks. Postgres is required. Redis only backs
// the doctor lock and the month cache, so a nil client reports it as disabled.
func NewHealthHandler(db Pinger, rdb *redis.Client, env, version string) *HealthHandler {
	h := &HealthHandler{env: env, version: version}

	pg := dependency{name: "postgres", required: true}
	if db != nil {
		pg.ping = db.Ping
	}
	h.deps = append(h.deps, pg)

	rd := dependency{name: "redis"}
	if rdb != nil {
		rd.ping = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	h.deps = append(h.deps, rd)

	return h
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

// Readiness reports "error" when a required dependency is down and
// "degraded" when only optional ones are.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := ReadinessResponse{
		Status:       "ok",
		Version:      h.version,
		Env:          h.env,
		Dependencies: make(map[string]string, len(h.deps)),
	}

	for _, dep := range h.deps {
		state := check(ctx, dep)
		resp.Dependencies[dep.name] = state
		if state != "down" && !(state == "disabled" && dep.required) {
			continue
		}
		if dep.required {
			resp.Status = "error"
		} else if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status == "error" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func check(ctx context.Context, dep dependency) string {
	if dep.ping == nil {
		return "disabled"
	}
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := dep.ping(pingCtx); err != nil {
		return "down"
	}
	return "ok"
}
