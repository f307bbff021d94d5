package handler

import (
	"net/http"

	"github.com/dinnerconnect/notifier/internal/queue"
)

// MetricsHandler serves a human-readable JSON queue snapshot.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp.Handler and are separate from this endpoint.
type MetricsHandler struct {
	q       queue.Queue
	observe func(int)
}

// NewMetricsHandler builds the snapshot handler. observe, if non-nil,
// receives every depth reading so the Prometheus gauge stays current.
func NewMetricsHandler(q queue.Queue, observe func(int)) *MetricsHandler {
	if observe == nil {
		observe = func(int) {}
	}
	return &MetricsHandler{q: q, observe: observe}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Approximate queue depth snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Failure  502  {object}  map[string]string
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	d, ok := h.q.(queue.Depther)
	if !ok {
		respondJSON(w, http.StatusOK, map[string]any{"queue_depth": nil})
		return
	}

	depth, err := d.Depth(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "queue depth unavailable")
		return
	}
	h.observe(depth)
	respondJSON(w, http.StatusOK, map[string]any{"queue_depth": depth})
}
