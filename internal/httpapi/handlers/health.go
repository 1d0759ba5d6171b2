package handlers

import (
	"context"
	"net/http"
	"time"

	"weaver/internal/httpkit"
)

// Health reports liveness. With ?deep=true it also probes the job store,
// the queue and the renderer.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store, storage := h.renders.Backends()

	health := map[string]any{
		"status":  "ok",
		"service": "weaver-api",
		"version": h.version,
		"store":   store,
		"storage": storage,
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for _, c := range checks {
			if c["status"] != "ok" {
				health["status"] = "degraded"
				h.log.FromContext(ctx).Warn("health check degraded", "checks", checks)
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	checks := make(map[string]map[string]any)
	start := time.Now()
	for name, err := range h.renders.Ready(checkCtx) {
		checks[name] = result(err, start)
	}
	if h.renderer != nil {
		start := time.Now()
		checks["renderer"] = result(h.renderer.Ping(checkCtx), start)
	}
	return checks
}

func result(err error, start time.Time) map[string]any {
	out := map[string]any{"status": "ok", "latency_ms": time.Since(start).Milliseconds()}
	if err != nil {
		out["status"] = "error"
		out["error"] = err.Error()
	}
	return out
}
