package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/fieldrelay/internal/device"
)

// BatchSink accepts batches without blocking.
type BatchSink interface {
	TrySend(batch device.Batch) bool
}

// Queue is a bounded, drop-on-full batch channel.
//
// TrySend never blocks: when the buffer is full the batch is discarded and
// counted, and it is never delivered later. Recv blocks until a batch is
// available, the queue is closed and drained, or the context ends.
// Requeued batches are delivered before anything still in the channel.
type Queue struct {
	ch chan device.Batch

	mu     sync.RWMutex
	closed bool
	head   []device.Batch

	queued  atomic.Uint64
	dropped atomic.Uint64
}

// QueueStats is a point-in-time view of a Queue.
type QueueStats struct {
	Queued   uint64 `json:"queued"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}

// NewQueue creates a queue holding at most capacity batches (minimum 1).
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan device.Batch, capacity)}
}

// TrySend offers a batch. It returns false if the batch was dropped because
// the queue is full or closed.
func (q *Queue) TrySend(batch device.Batch) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		return false
	}

	select {
	case q.ch <- batch:
		q.queued.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Recv waits for the next batch.
//
// Returns:
//   - device.Batch: The oldest queued batch
//   - error: ErrQueueClosed once closed and drained, or ctx.Err()
func (q *Queue) Recv(ctx context.Context) (device.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if len(q.head) > 0 {
		batch := q.head[0]
		q.head = q.head[1:]
		q.mu.Unlock()
		return batch, nil
	}
	q.mu.Unlock()

	select {
	case batch, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Requeue returns a batch that was received but never sent. It is
// delivered ahead of the channel, in requeue order, and does not count
// against capacity.
func (q *Queue) Requeue(batch device.Batch) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head = append(q.head, batch)
}

// Close stops accepting batches. Queued batches remain receivable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Len returns the number of queued batches, requeued ones included.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.ch) + len(q.head)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Stats returns the queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Queued:   q.queued.Load(),
		Dropped:  q.dropped.Load(),
		Depth:    q.Len(),
		Capacity: q.Cap(),
	}
}
