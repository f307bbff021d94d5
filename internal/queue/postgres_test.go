package queue_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dinnerconnect/notifier/internal/config"
	"github.com/dinnerconnect/notifier/internal/db"
	"github.com/dinnerconnect/notifier/internal/queue"
)

// These tests need a disposable Postgres; set TEST_DATABASE_URL to run them.
// The notification_queue table is truncated before each test.
func newPostgresQueue(t *testing.T, visibility time.Duration) *queue.PostgresQueue {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	require.NoError(t, db.Migrate("file://../../migrations", dsn))

	pool, err := db.Connect(ctx, &config.Config{DatabaseURL: dsn, DBMaxConns: 4, DBMinConns: 1})
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE notification_queue`)
	require.NoError(t, err)

	q := queue.NewPostgresQueue(pool, visibility, 20*time.Millisecond)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestPostgresQueue_SendReceiveDelete(t *testing.T) {
	q := newPostgresQueue(t, time.Minute)
	ctx := context.Background()

	receipt, err := q.Send(ctx, []byte(`{"type":"DINNER_UPDATE"}`))
	require.NoError(t, err)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	got, err := q.Receive(ctx, 5, time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, receipt.MessageID, got[0].ID)
	assert.Equal(t, `{"type":"DINNER_UPDATE"}`, string(got[0].Body))
	assert.Equal(t, 1, got[0].ReceiveCount)

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth, "claimed rows are invisible")

	require.NoError(t, q.Delete(ctx, got[0].ReceiptHandle))
	assert.ErrorIs(t, q.Delete(ctx, got[0].ReceiptHandle), queue.ErrUnknownReceipt)
	assert.ErrorIs(t, q.Delete(ctx, "not-a-uuid"), queue.ErrUnknownReceipt)
}

func TestPostgresQueue_EmptyReceiveTimesOut(t *testing.T) {
	q := newPostgresQueue(t, time.Minute)

	got, err := q.Receive(context.Background(), 5, 60*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPostgresQueue_RedeliversAfterVisibility(t *testing.T) {
	q := newPostgresQueue(t, 100*time.Millisecond)
	ctx := context.Background()

	_, err := q.Send(ctx, []byte(`{}`))
	require.NoError(t, err)

	first, err := q.Receive(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := q.Receive(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.Equal(t, 2, again[0].ReceiveCount)
	assert.NotEqual(t, first[0].ReceiptHandle, again[0].ReceiptHandle)

	assert.ErrorIs(t, q.Delete(ctx, first[0].ReceiptHandle), queue.ErrUnknownReceipt, "stale receipt")
}
