package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/dinnerconnect/notifier/internal/api/middleware"
	"github.com/dinnerconnect/notifier/internal/domain"
	"github.com/dinnerconnect/notifier/internal/queue"
)

// Enqueuer is the subset of producer.Producer the handler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg domain.Message) (queue.Receipt, error)
}

// NotificationHandler accepts notification intents over HTTP.
type NotificationHandler struct {
	producer Enqueuer
	logger   *zap.Logger
}

func NewNotificationHandler(producer Enqueuer, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{producer: producer, logger: logger}
}

// Create handles POST /api/v1/notifications
//
// The body is the queue wire format: one JSON object with a "type" tag and
// the fields of that variant. Unlike the bare producer, empty required
// fields are rejected here.
//
// @Summary     Enqueue a notification
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Success     202  {object}  queue.Receipt
// @Failure     400  {object}  map[string]string
// @Failure     413  {object}  map[string]string
// @Failure     422  {object}  map[string]string
// @Failure     502  {object}  map[string]string
// @Failure     503  {object}  map[string]string
// @Router      /api/v1/notifications [post]
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	msg, err := domain.Decode(body)
	if err == nil {
		err = msg.Validate()
	}
	if err != nil {
		mapError(w, err)
		return
	}

	receipt, err := h.producer.Enqueue(r.Context(), msg)
	if err != nil {
		h.logger.Warn("enqueue notification failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("type", string(msg.Kind())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, receipt)
}
