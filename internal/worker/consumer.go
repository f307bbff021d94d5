package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dinnerconnect/notifier/internal/domain"
	"github.com/dinnerconnect/notifier/internal/queue"
	"github.com/dinnerconnect/notifier/internal/ratelimiter"
)

// AckPolicy decides which successfully dispatched messages are deleted.
type AckPolicy string

const (
	// AckAll deletes every message whose dispatch succeeded.
	AckAll AckPolicy = "all"
	// AckSubscriptionOnly deletes only SUBSCRIPTION_EMAIL messages. Other
	// types are redelivered after every visibility timeout until they expire
	// from the queue.
	AckSubscriptionOnly AckPolicy = "subscription_only"
)

func (p AckPolicy) deletes(k domain.Kind) bool {
	if p == AckSubscriptionOnly {
		return k == domain.KindSubscriptionEmail
	}
	return true
}

// Failure stages reported through DispatchError and the failure hook.
const (
	StageDecode   = "decode"
	StageDispatch = "dispatch"
	StageDelete   = "delete"
)

// deleteTimeout bounds the acknowledgement that follows a successful send,
// which still runs when shutdown has cancelled the poll context.
const deleteTimeout = 5 * time.Second

// DispatchError describes one message that could not be processed.
// Kind is empty when the body could not be decoded.
type DispatchError struct {
	MessageID string
	Kind      domain.Kind
	Stage     string
	Err       error
}

func (e *DispatchError) Error() string {
	kind := string(e.Kind)
	if kind == "" {
		kind = "unknown type"
	}
	return fmt.Sprintf("%s message %s (%s): %v", e.Stage, e.MessageID, kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// MetricHooks carries the metric callback functions injected by main.
// Any nil hook is a no-op.
type MetricHooks struct {
	OnReceived   func(n int)
	OnDispatched func(kind domain.Kind, latency time.Duration)
	OnFailed     func(kind domain.Kind, stage string)
	OnDeleted    func(kind domain.Kind)
}

// Options tunes the poll loop.
type Options struct {
	BatchSize  int
	WaitTime   time.Duration
	ErrorPause time.Duration
	AckPolicy  AckPolicy
}

// Consumer is the single-threaded poll/dispatch loop. It long-polls the
// queue, decodes each message, hands it to the handler and acknowledges it
// according to the ack policy. No per-message failure stops the loop.
type Consumer struct {
	q       queue.Queue
	handler domain.Handler
	limiter *ratelimiter.KindLimiters
	opts    Options
	logger  *zap.Logger
	hooks   MetricHooks
}

// NewConsumer constructs a consumer. limiter may be nil (no throttling).
func NewConsumer(
	q queue.Queue,
	handler domain.Handler,
	limiter *ratelimiter.KindLimiters,
	opts Options,
	logger *zap.Logger,
	hooks MetricHooks,
) *Consumer {
	if opts.BatchSize < 1 {
		opts.BatchSize = 5
	}
	if opts.ErrorPause <= 0 {
		opts.ErrorPause = time.Second
	}
	if opts.AckPolicy == "" {
		opts.AckPolicy = AckAll
	}
	if hooks.OnReceived == nil {
		hooks.OnReceived = func(int) {}
	}
	if hooks.OnDispatched == nil {
		hooks.OnDispatched = func(domain.Kind, time.Duration) {}
	}
	if hooks.OnFailed == nil {
		hooks.OnFailed = func(domain.Kind, string) {}
	}
	if hooks.OnDeleted == nil {
		hooks.OnDeleted = func(domain.Kind) {}
	}
	return &Consumer{
		q: q, handler: handler, limiter: limiter,
		opts: opts, logger: logger, hooks: hooks,
	}
}

// Run polls until ctx is cancelled. A receive error is logged and followed
// by ErrorPause so a broken queue does not turn the loop into a busy spin.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("consumer started",
		zap.Int("batch_size", c.opts.BatchSize),
		zap.Duration("wait_time", c.opts.WaitTime),
		zap.String("ack_policy", string(c.opts.AckPolicy)),
	)

	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopping")
			return
		}

		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("queue receive failed", zap.Error(err))

			timer := time.NewTimer(c.opts.ErrorPause)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}

// Poll receives one batch and processes it message by message. It returns
// the number of deliveries received; the error is only ever a receive error.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	deliveries, err := c.q.Receive(ctx, c.opts.BatchSize, c.opts.WaitTime)
	if err != nil {
		return 0, err
	}
	if len(deliveries) == 0 {
		return 0, nil
	}

	c.hooks.OnReceived(len(deliveries))
	for _, d := range deliveries {
		// Unprocessed deliveries become visible again after the timeout.
		if ctx.Err() != nil {
			break
		}
		c.process(ctx, d)
	}
	return len(deliveries), nil
}

func (c *Consumer) process(ctx context.Context, d queue.Delivery) {
	log := c.logger.With(
		zap.String("message_id", d.ID),
		zap.Int("receive_count", d.ReceiveCount),
	)

	msg, err := domain.Decode(d.Body)
	if err != nil {
		c.fail(log, d, "", StageDecode, err)
		return
	}
	kind := msg.Kind()
	log = log.With(zap.String("type", string(kind)))

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, kind); err != nil {
			// Shutting down; leave the message for redelivery.
			return
		}
	}

	start := time.Now()
	if err := c.dispatch(ctx, msg); err != nil {
		c.fail(log, d, kind, StageDispatch, err)
		return
	}
	elapsed := time.Since(start)
	c.hooks.OnDispatched(kind, elapsed)

	if !c.opts.AckPolicy.deletes(kind) {
		log.Info("notification sent; left on queue by ack policy", zap.Duration("latency", elapsed))
		return
	}

	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()
	if err := c.q.Delete(delCtx, d.ReceiptHandle); err != nil {
		c.fail(log, d, kind, StageDelete, err)
		return
	}
	c.hooks.OnDeleted(kind)
	log.Info("notification sent", zap.Duration("latency", elapsed))
}

// dispatch converts a handler panic into an error so one bad message cannot
// take the loop down.
func (c *Consumer) dispatch(ctx context.Context, msg domain.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return msg.Dispatch(ctx, c.handler)
}

func (c *Consumer) fail(log *zap.Logger, d queue.Delivery, kind domain.Kind, stage string, err error) {
	log.Error("notification processing failed",
		zap.String("stage", stage),
		zap.Error(&DispatchError{MessageID: d.ID, Kind: kind, Stage: stage, Err: err}),
	)
	c.hooks.OnFailed(kind, stage)
}
