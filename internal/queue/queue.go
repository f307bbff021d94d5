package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull      = errors.New("queue is at capacity, try again later")
	ErrUnknownReceipt = errors.New("unknown or expired receipt handle")
	ErrClosed         = errors.New("queue is closed")
)

// Delivery is one received message. It stays invisible to other receivers
// until its visibility timeout lapses or it is deleted via ReceiptHandle.
type Delivery struct {
	ID            string
	ReceiptHandle string
	Body          []byte
	// ReceiveCount is 1 on first delivery and grows on each redelivery.
	ReceiveCount int
}

// Receipt identifies an accepted message.
type Receipt struct {
	MessageID string `json:"message_id"`
}

// Queue is the durable broker between the producer and the consumer.
// Delivery is at-least-once: a message not deleted is received again.
type Queue interface {
	Send(ctx context.Context, body []byte) (Receipt, error)
	// Receive waits up to wait for at least one message and returns at most limit.
	// An empty result with a nil error means the wait elapsed.
	Receive(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error)
	Delete(ctx context.Context, receiptHandle string) error
	Close() error
}

// Depther is implemented by backends that can report how many messages are
// waiting to be received.
type Depther interface {
	Depth(ctx context.Context) (int, error)
}
