package producer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dinnerconnect/notifier/internal/domain"
	"github.com/dinnerconnect/notifier/internal/queue"
)

// Producer serialises notification intents onto the queue.
// It does not validate messages; the consumer rejects malformed ones.
type Producer struct {
	q          queue.Queue
	logger     *zap.Logger
	onEnqueued func(domain.Kind)
}

// New constructs a producer. onEnqueued is optional (nil = no-op).
func New(q queue.Queue, logger *zap.Logger, onEnqueued func(domain.Kind)) *Producer {
	if onEnqueued == nil {
		onEnqueued = func(domain.Kind) {}
	}
	return &Producer{q: q, logger: logger, onEnqueued: onEnqueued}
}

// Enqueue makes one Send call. Failures are returned to the caller unretried.
func (p *Producer) Enqueue(ctx context.Context, msg domain.Message) (queue.Receipt, error) {
	body, err := domain.Encode(msg)
	if err != nil {
		return queue.Receipt{}, fmt.Errorf("encode notification: %w", err)
	}

	receipt, err := p.q.Send(ctx, body)
	if err != nil {
		p.logger.Warn("enqueue failed",
			zap.String("type", string(msg.Kind())), zap.Error(err))
		return queue.Receipt{}, fmt.Errorf("enqueue %s: %w", msg.Kind(), err)
	}

	p.onEnqueued(msg.Kind())
	p.logger.Debug("notification enqueued",
		zap.String("message_id", receipt.MessageID),
		zap.String("type", string(msg.Kind())),
	)
	return receipt, nil
}
