package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dinnerconnect/notifier/internal/domain"
	"github.com/dinnerconnect/notifier/internal/queue"
	"github.com/dinnerconnect/notifier/internal/worker"
)

// --- fakes ---

type recordingHandler struct {
	mu    sync.Mutex
	calls []domain.Message
	err   error
	panic bool
}

func (h *recordingHandler) record(m domain.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panic {
		panic("template exploded")
	}
	if h.err != nil {
		return h.err
	}
	h.calls = append(h.calls, m)
	return nil
}

func (h *recordingHandler) HandleEmail(_ context.Context, m domain.TemplatedEmail) error {
	return h.record(m)
}

func (h *recordingHandler) HandleVenueUpdate(_ context.Context, m domain.VenueUpdate) error {
	return h.record(m)
}

func (h *recordingHandler) HandleDinnerUpdate(_ context.Context, m domain.DinnerUpdate) error {
	return h.record(m)
}

func (h *recordingHandler) HandleSubscriptionEmail(_ context.Context, m domain.SubscriptionEmail) error {
	return h.record(m)
}

func (h *recordingHandler) Calls() []domain.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Message(nil), h.calls...)
}

// spyQueue wraps the memory queue to count deletes, record receive
// arguments and inject receive failures.
type spyQueue struct {
	*queue.MemoryQueue

	mu            sync.Mutex
	deletes       []string
	deleteErr     error
	receiveErrs   int
	receiveLimit  int
	receiveWait   time.Duration
	receiveCalled int
}

func newSpyQueue() *spyQueue {
	return &spyQueue{MemoryQueue: queue.NewMemoryQueue(100, time.Hour)}
}

func (q *spyQueue) Receive(ctx context.Context, limit int, wait time.Duration) ([]queue.Delivery, error) {
	q.mu.Lock()
	q.receiveCalled++
	q.receiveLimit, q.receiveWait = limit, wait
	if q.receiveErrs > 0 {
		q.receiveErrs--
		q.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	q.mu.Unlock()
	// The consumer's wait is long; tests never need to block for it.
	return q.MemoryQueue.Receive(ctx, limit, 10*time.Millisecond)
}

func (q *spyQueue) Delete(ctx context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deleteErr != nil {
		return q.deleteErr
	}
	q.deletes = append(q.deletes, handle)
	return q.MemoryQueue.Delete(ctx, handle)
}

func (q *spyQueue) ReceiveCalls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.receiveCalled
}

func (q *spyQueue) Deletes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deletes)
}

func (q *spyQueue) send(t *testing.T, body string) {
	t.Helper()
	_, err := q.Send(context.Background(), []byte(body))
	require.NoError(t, err)
}

type hookRecorder struct {
	mu         sync.Mutex
	received   int
	dispatched []domain.Kind
	failed     []string
	deleted    []domain.Kind
}

func (r *hookRecorder) hooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnReceived: func(n int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.received += n
		},
		OnDispatched: func(k domain.Kind, _ time.Duration) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.dispatched = append(r.dispatched, k)
		},
		OnFailed: func(k domain.Kind, stage string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.failed = append(r.failed, string(k)+"/"+stage)
		},
		OnDeleted: func(k domain.Kind) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.deleted = append(r.deleted, k)
		},
	}
}

func newConsumer(q queue.Queue, h domain.Handler, policy worker.AckPolicy, logger *zap.Logger, hooks worker.MetricHooks) *worker.Consumer {
	return worker.NewConsumer(q, h, nil, worker.Options{
		BatchSize:  5,
		WaitTime:   10 * time.Second,
		ErrorPause: 5 * time.Millisecond,
		AckPolicy:  policy,
	}, logger, hooks)
}

const (
	emailBody        = `{"type":"email","to":"a@x.com","subject":"Your code","template":"otp","data":{"otp":"482913"}}`
	venueBody        = `{"type":"VENUE_UPDATE","to_email":"a@x.com","name":"Ann","venue_name":"Chez Paul","venue_address":"8 Rue de Charonne","city":"Paris","date":"2025-01-01"}`
	dinnerBody       = `{"type":"DINNER_UPDATE","to_email":"a@x.com","name":"Ann","date":"2025-01-01","time":"19:00","city":"Paris"}`
	subscriptionBody = `{"type":"SUBSCRIPTION_EMAIL","to_email":"a@x.com","status":"active"}`
)

// --- tests ---

func TestConsumer_RoutesEachTypeToItsHandler(t *testing.T) {
	tests := []struct {
		name string
		body string
		want domain.Message
	}{
		{"email", emailBody, domain.TemplatedEmail{
			To: "a@x.com", Subject: "Your code", Template: "otp", Data: map[string]any{"otp": "482913"},
		}},
		{"venue update", venueBody, domain.VenueUpdate{
			ToEmail: "a@x.com", Name: "Ann", VenueName: "Chez Paul", VenueAddress: "8 Rue de Charonne",
			City: "Paris", Date: "2025-01-01",
		}},
		{"dinner update", dinnerBody, domain.DinnerUpdate{
			ToEmail: "a@x.com", Name: "Ann", Date: "2025-01-01", Time: "19:00", City: "Paris",
		}},
		{"subscription", subscriptionBody, domain.SubscriptionEmail{ToEmail: "a@x.com", Status: "active"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := newSpyQueue()
			h := &recordingHandler{}
			c := newConsumer(q, h, worker.AckAll, zap.NewNop(), worker.MetricHooks{})

			q.send(t, tc.body)
			n, err := c.Poll(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.Equal(t, []domain.Message{tc.want}, h.Calls())
		})
	}
}

func TestConsumer_PollUsesBatchAndWait(t *testing.T) {
	q := newSpyQueue()
	c := worker.NewConsumer(q, &recordingHandler{}, nil, worker.Options{WaitTime: 10 * time.Second}, zap.NewNop(), worker.MetricHooks{})

	_, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, q.receiveLimit)
	assert.Equal(t, 10*time.Second, q.receiveWait)
}

func TestConsumer_ProcessesWholeBatchInOrder(t *testing.T) {
	q := newSpyQueue()
	h := &recordingHandler{}
	c := newConsumer(q, h, worker.AckAll, zap.NewNop(), worker.MetricHooks{})

	for _, b := range []string{subscriptionBody, dinnerBody, venueBody} {
		q.send(t, b)
	}
	n, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	calls := h.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, domain.KindSubscriptionEmail, calls[0].Kind())
	assert.Equal(t, domain.KindDinnerUpdate, calls[1].Kind())
	assert.Equal(t, domain.KindVenueUpdate, calls[2].Kind())
}

func TestConsumer_MissingFieldIsLoggedAndNotDeleted(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	q := newSpyQueue()
	h := &recordingHandler{}
	rec := &hookRecorder{}
	c := newConsumer(q, h, worker.AckAll, zap.New(core), rec.hooks())

	// "time" is absent.
	q.send(t, `{"type":"DINNER_UPDATE","to_email":"a@x.com","name":"Ann","date":"2025-01-01","city":"Paris"}`)
	q.send(t, subscriptionBody)

	_, err := c.Poll(context.Background())
	require.NoError(t, err)

	assert.Len(t, h.Calls(), 1, "the following message is still dispatched")
	assert.Equal(t, 1, q.Deletes())
	assert.Equal(t, 1, q.InFlight(), "the malformed message stays leased for redelivery")
	assert.Equal(t, []string{"/decode"}, rec.failed)

	failures := logs.FilterMessage("notification processing failed").All()
	require.Len(t, failures, 1)
	fields := failures[0].ContextMap()
	assert.Equal(t, "decode", fields["stage"])
	assert.NotEmpty(t, fields["message_id"])
	assert.Contains(t, fields["error"], "time")
}

func TestConsumer_MissingTypeKeepsPolling(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	q := newSpyQueue()
	h := &recordingHandler{}
	c := newConsumer(q, h, worker.AckAll, zap.New(core), worker.MetricHooks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	q.send(t, `{"to_email":"a@x.com","status":"active"}`)
	q.send(t, `not json`)
	q.send(t, `{"type":"BIRTHDAY","to_email":"a@x.com"}`)
	q.send(t, subscriptionBody)

	assert.Eventually(t, func() bool { return len(h.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return q.Deletes() == 1 }, 2*time.Second, 5*time.Millisecond,
		"only the valid message is acknowledged")
	assert.Equal(t, 3, q.InFlight(), "malformed messages stay leased for redelivery")
	cancel()
	<-done

	assert.Equal(t, 3, logs.FilterMessage("notification processing failed").Len())
}

func TestConsumer_SubscriptionDeletedExactlyOnce(t *testing.T) {
	for _, policy := range []worker.AckPolicy{worker.AckAll, worker.AckSubscriptionOnly} {
		t.Run(string(policy), func(t *testing.T) {
			q := newSpyQueue()
			c := newConsumer(q, &recordingHandler{}, policy, zap.NewNop(), worker.MetricHooks{})

			q.send(t, subscriptionBody)
			_, err := c.Poll(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 1, q.Deletes())
			assert.Zero(t, q.InFlight())
		})
	}
}

func TestConsumer_AckAllDeletesEveryType(t *testing.T) {
	q := newSpyQueue()
	rec := &hookRecorder{}
	c := newConsumer(q, &recordingHandler{}, worker.AckAll, zap.NewNop(), rec.hooks())

	for _, b := range []string{emailBody, venueBody, dinnerBody, subscriptionBody} {
		q.send(t, b)
	}
	_, err := c.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, q.Deletes())
	assert.Zero(t, q.InFlight())
	assert.Equal(t, 4, rec.received)
	assert.Len(t, rec.dispatched, 4)
	assert.Len(t, rec.deleted, 4)
	assert.Empty(t, rec.failed)
}

// Under the legacy policy only SUBSCRIPTION_EMAIL is acknowledged; the other
// types are sent and then redelivered after the visibility timeout.
func TestConsumer_SubscriptionOnlyPolicyLeavesOtherTypesOnQueue(t *testing.T) {
	q := newSpyQueue()
	h := &recordingHandler{}
	c := newConsumer(q, h, worker.AckSubscriptionOnly, zap.NewNop(), worker.MetricHooks{})

	for _, b := range []string{emailBody, venueBody, dinnerBody} {
		q.send(t, b)
	}
	_, err := c.Poll(context.Background())
	require.NoError(t, err)

	assert.Len(t, h.Calls(), 3)
	assert.Zero(t, q.Deletes())
	assert.Equal(t, 3, q.InFlight())
}

func TestConsumer_HandlerErrorIsNotDeleted(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	q := newSpyQueue()
	rec := &hookRecorder{}
	h := &recordingHandler{err: errors.New("smtp: 421 try later")}
	c := newConsumer(q, h, worker.AckAll, zap.New(core), rec.hooks())

	q.send(t, venueBody)
	_, err := c.Poll(context.Background())
	require.NoError(t, err)

	assert.Zero(t, q.Deletes())
	assert.Equal(t, []string{"VENUE_UPDATE/dispatch"}, rec.failed)

	entry := logs.FilterMessage("notification processing failed").All()
	require.Len(t, entry, 1)
	assert.Equal(t, "VENUE_UPDATE", entry[0].ContextMap()["type"])
	assert.Contains(t, entry[0].ContextMap()["error"], "421 try later")
}

func TestConsumer_HandlerPanicIsRecovered(t *testing.T) {
	q := newSpyQueue()
	rec := &hookRecorder{}
	c := newConsumer(q, &recordingHandler{panic: true}, worker.AckAll, zap.NewNop(), rec.hooks())

	q.send(t, dinnerBody)
	require.NotPanics(t, func() {
		_, err := c.Poll(context.Background())
		require.NoError(t, err)
	})

	assert.Zero(t, q.Deletes())
	assert.Equal(t, []string{"DINNER_UPDATE/dispatch"}, rec.failed)
}

func TestConsumer_DeleteFailureIsReported(t *testing.T) {
	q := newSpyQueue()
	q.deleteErr = queue.ErrUnknownReceipt
	rec := &hookRecorder{}
	c := newConsumer(q, &recordingHandler{}, worker.AckAll, zap.NewNop(), rec.hooks())

	q.send(t, subscriptionBody)
	_, err := c.Poll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.Kind{domain.KindSubscriptionEmail}, rec.dispatched)
	assert.Equal(t, []string{"SUBSCRIPTION_EMAIL/delete"}, rec.failed)
	assert.Empty(t, rec.deleted)
}

func TestConsumer_RunSurvivesReceiveErrors(t *testing.T) {
	q := newSpyQueue()
	q.receiveErrs = 3
	h := &recordingHandler{}
	c := newConsumer(q, h, worker.AckAll, zap.NewNop(), worker.MetricHooks{})
	q.send(t, subscriptionBody)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(h.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestConsumer_RunPausesAfterReceiveErrorByDefault(t *testing.T) {
	q := newSpyQueue()
	q.receiveErrs = 1 << 30
	c := worker.NewConsumer(q, &recordingHandler{}, nil, worker.Options{}, zap.NewNop(), worker.MetricHooks{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	assert.LessOrEqual(t, q.ReceiveCalls(), 2, "zero ErrorPause must not spin on a failing queue")
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	q := newSpyQueue()
	c := newConsumer(q, &recordingHandler{}, worker.AckAll, zap.NewNop(), worker.MetricHooks{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDispatchError(t *testing.T) {
	cause := domain.ErrMissingField
	err := &worker.DispatchError{MessageID: "m-1", Stage: worker.StageDecode, Err: cause}

	assert.ErrorIs(t, err, domain.ErrMissingField)
	assert.Equal(t, "decode message m-1 (unknown type): "+cause.Error(), err.Error())
}
