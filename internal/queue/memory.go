package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue backed by a buffered channel.
//
// Received messages move to an in-flight set keyed by a fresh receipt handle.
// If they are not deleted before the visibility timeout, the next Receive
// puts them back on the channel, which gives the same redelivery behaviour
// as the remote backends.
type MemoryQueue struct {
	ready      chan *memoryEntry
	visibility time.Duration
	now        func() time.Time

	mu       sync.Mutex
	inflight map[string]*leasedEntry

	done      chan struct{}
	closeOnce sync.Once
}

type memoryEntry struct {
	id       string
	body     []byte
	receives int
}

type leasedEntry struct {
	entry    *memoryEntry
	deadline time.Time
}

// NewMemoryQueue returns a queue holding at most capacity visible messages.
func NewMemoryQueue(capacity int, visibility time.Duration) *MemoryQueue {
	return &MemoryQueue{
		ready:      make(chan *memoryEntry, capacity),
		visibility: visibility,
		now:        time.Now,
		inflight:   make(map[string]*leasedEntry),
		done:       make(chan struct{}),
	}
}

// Send is non-blocking: a full queue returns ErrQueueFull immediately.
func (q *MemoryQueue) Send(_ context.Context, body []byte) (Receipt, error) {
	select {
	case <-q.done:
		return Receipt{}, ErrClosed
	default:
	}

	e := &memoryEntry{id: uuid.New().String(), body: append([]byte(nil), body...)}
	select {
	case q.ready <- e:
		return Receipt{MessageID: e.id}, nil
	default:
		return Receipt{}, ErrQueueFull
	}
}

// Receive blocks until a message is available, wait elapses or ctx is cancelled.
func (q *MemoryQueue) Receive(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error) {
	if limit < 1 {
		limit = 1
	}
	q.requeueExpired()

	var first *memoryEntry

	// Step 1: take whatever is already there without arming a timer.
	select {
	case first = <-q.ready:
	default:
	}

	// Step 2: long-poll.
	if first == nil {
		if wait <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case first = <-q.ready:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, ErrClosed
		}
	}

	batch := []*memoryEntry{first}
drain:
	for len(batch) < limit {
		select {
		case e := <-q.ready:
			batch = append(batch, e)
		default:
			break drain
		}
	}

	return q.lease(batch), nil
}

// Delete acknowledges an in-flight message.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[receiptHandle]; !ok {
		return ErrUnknownReceipt
	}
	delete(q.inflight, receiptHandle)
	return nil
}

// Depth returns the number of messages waiting to be received.
func (q *MemoryQueue) Depth(context.Context) (int, error) {
	return len(q.ready), nil
}

// InFlight returns the number of received but not yet deleted messages.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func (q *MemoryQueue) lease(batch []*memoryEntry) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := q.now().Add(q.visibility)
	out := make([]Delivery, 0, len(batch))
	for _, e := range batch {
		e.receives++
		handle := uuid.New().String()
		q.inflight[handle] = &leasedEntry{entry: e, deadline: deadline}
		out = append(out, Delivery{
			ID:            e.id,
			ReceiptHandle: handle,
			Body:          e.body,
			ReceiveCount:  e.receives,
		})
	}
	return out
}

// requeueExpired makes lapsed in-flight messages visible again. Entries that
// do not fit stay in flight and are retried on the next call.
func (q *MemoryQueue) requeueExpired() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for handle, l := range q.inflight {
		if now.Before(l.deadline) {
			continue
		}
		select {
		case q.ready <- l.entry:
			delete(q.inflight, handle)
		default:
			return
		}
	}
}

var (
	_ Queue   = (*MemoryQueue)(nil)
	_ Depther = (*MemoryQueue)(nil)
)
