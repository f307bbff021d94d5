package handler

import "net/http"

// HealthHandler answers liveness checks for both processes. It reports the
// process as up without contacting the queue; queue trouble shows up in
// /api/v1/metrics and the failure counters instead.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
