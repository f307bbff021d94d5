package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dinnerconnect/notifier/internal/domain"
	"github.com/dinnerconnect/notifier/internal/queue"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// mapError translates domain and queue sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMalformedMessage):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrMissingType),
		errors.Is(err, domain.ErrUnknownType),
		errors.Is(err, domain.ErrMissingField),
		errors.Is(err, domain.ErrEmptyField):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, queue.ErrQueueFull):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusBadGateway, "queue unavailable")
	}
}
