package handlers

import (
	"net/http"
)

// Health reports readiness. The durable store is required; the cache is an
// optimization, so a down cache degrades the status without failing it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "ok"
	code := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		checks["database"] = "down"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.backend.Available() {
		checks["cache"] = "ok"
	} else {
		checks["cache"] = "down"
		if status == "ok" {
			status = "degraded"
		}
	}

	h.JSON(w, code, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
