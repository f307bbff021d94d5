package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisBodyField = "body"

// RedisQueue is a Queue on a Redis Stream read through a consumer group.
//
// Entries stay in the group's pending list until Delete acknowledges them.
// Pending entries idle for longer than the visibility timeout are reclaimed
// by the next Receive, which is how redelivery happens.
type RedisQueue struct {
	client     redis.UniversalClient
	stream     string
	group      string
	consumer   string
	visibility time.Duration
}

// RedisConfig names the stream, group and consumer identity.
type RedisConfig struct {
	Stream     string
	Group      string
	Consumer   string
	Visibility time.Duration
}

// NewRedisQueue creates the consumer group if needed. It takes ownership of
// client; Close closes it.
func NewRedisQueue(ctx context.Context, client redis.UniversalClient, cfg RedisConfig) (*RedisQueue, error) {
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.Group, err)
	}
	return &RedisQueue{
		client:     client,
		stream:     cfg.Stream,
		group:      cfg.Group,
		consumer:   cfg.Consumer,
		visibility: cfg.Visibility,
	}, nil
}

func (q *RedisQueue) Send(ctx context.Context, body []byte) (Receipt, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{redisBodyField: string(body)},
	}).Result()
	if err != nil {
		return Receipt{}, fmt.Errorf("xadd: %w", err)
	}
	return Receipt{MessageID: id}, nil
}

// Receive first reclaims expired pending entries, then blocks on new ones.
func (q *RedisQueue) Receive(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error) {
	if limit < 1 {
		limit = 1
	}

	deliveries, err := q.reclaim(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(deliveries) >= limit {
		return deliveries, nil
	}

	// Block only if nothing was reclaimed; a negative Block means "don't block".
	block := wait
	if len(deliveries) > 0 || wait <= 0 {
		block = -1
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(limit - len(deliveries)),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return deliveries, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	for _, s := range streams {
		for _, m := range s.Messages {
			deliveries = append(deliveries, toDelivery(m, 1))
		}
	}
	return deliveries, nil
}

func (q *RedisQueue) reclaim(ctx context.Context, limit int) ([]Delivery, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.visibility,
		Start:    "0-0",
		Count:    int64(limit),
	}).Result()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}

	deliveries := make([]Delivery, 0, len(msgs))
	for _, m := range msgs {
		deliveries = append(deliveries, toDelivery(m, q.deliveryCount(ctx, m.ID)))
	}
	return deliveries, nil
}

// deliveryCount reads the pending entry's delivery counter. Errors are not
// fatal: the count only feeds logs.
func (q *RedisQueue) deliveryCount(ctx context.Context, id string) int {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return int(pending[0].RetryCount)
}

// Delete acknowledges the entry and removes it from the stream.
func (q *RedisQueue) Delete(ctx context.Context, receiptHandle string) error {
	pipe := q.client.TxPipeline()
	acked := pipe.XAck(ctx, q.stream, q.group, receiptHandle)
	pipe.XDel(ctx, q.stream, receiptHandle)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if acked.Val() == 0 {
		return ErrUnknownReceipt
	}
	return nil
}

// Depth is the stream length, which includes unacknowledged entries.
func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func toDelivery(m redis.XMessage, receives int) Delivery {
	body, _ := m.Values[redisBodyField].(string)
	return Delivery{
		ID:            m.ID,
		ReceiptHandle: m.ID,
		Body:          []byte(body),
		ReceiveCount:  receives,
	}
}

var (
	_ Queue   = (*RedisQueue)(nil)
	_ Depther = (*RedisQueue)(nil)
)
