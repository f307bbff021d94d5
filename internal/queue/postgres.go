package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresQueue is a Queue stored in the notification_queue table.
//
// Receive claims visible rows with FOR UPDATE SKIP LOCKED, stamps a new
// receipt and pushes visible_at forward by the visibility timeout, so several
// consumers can share the table without double-claiming.
type PostgresQueue struct {
	pool         *pgxpool.Pool
	visibility   time.Duration
	pollInterval time.Duration
}

// NewPostgresQueue takes ownership of pool; Close closes it.
func NewPostgresQueue(pool *pgxpool.Pool, visibility, pollInterval time.Duration) *PostgresQueue {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &PostgresQueue{pool: pool, visibility: visibility, pollInterval: pollInterval}
}

func (q *PostgresQueue) Send(ctx context.Context, body []byte) (Receipt, error) {
	id := uuid.New().String()
	_, err := q.pool.Exec(ctx,
		`INSERT INTO notification_queue (id, body) VALUES ($1::uuid, $2)`, id, string(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("insert queue row: %w", err)
	}
	return Receipt{MessageID: id}, nil
}

// Receive polls the table every pollInterval until rows are claimed, wait
// elapses or ctx is cancelled.
func (q *PostgresQueue) Receive(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error) {
	if limit < 1 {
		limit = 1
	}
	deadline := time.Now().Add(wait)

	for {
		deliveries, err := q.claim(ctx, limit)
		if err != nil || len(deliveries) > 0 {
			return deliveries, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(min(q.pollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *PostgresQueue) claim(ctx context.Context, limit int) ([]Delivery, error) {
	rows, err := q.pool.Query(ctx, `
		UPDATE notification_queue
		SET receipt       = gen_random_uuid(),
		    receive_count = receive_count + 1,
		    visible_at    = now() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE visible_at <= now()
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED)
		RETURNING id::text, receipt::text, body, receive_count`,
		limit, q.visibility.Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("claim queue rows: %w", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var (
			d    Delivery
			body string
		)
		if err := rows.Scan(&d.ID, &d.ReceiptHandle, &body, &d.ReceiveCount); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		d.Body = []byte(body)
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (q *PostgresQueue) Delete(ctx context.Context, receiptHandle string) error {
	if _, err := uuid.Parse(receiptHandle); err != nil {
		return ErrUnknownReceipt
	}
	tag, err := q.pool.Exec(ctx,
		`DELETE FROM notification_queue WHERE receipt = $1::uuid`, receiptHandle)
	if err != nil {
		return fmt.Errorf("delete queue row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownReceipt
	}
	return nil
}

// Depth counts rows that are currently visible.
func (q *PostgresQueue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notification_queue WHERE visible_at <= now()`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue rows: %w", err)
	}
	return n, nil
}

func (q *PostgresQueue) Close() error {
	q.pool.Close()
	return nil
}

var (
	_ Queue   = (*PostgresQueue)(nil)
	_ Depther = (*PostgresQueue)(nil)
)
