// Package queue implements the four-tier priority queue tasks wait in before
// dispatch.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"taskorch/internal/task"
)

var (
	// ErrQueueFull is returned by Enqueue when a capacity is configured and reached.
	ErrQueueFull = errors.New("task queue is full")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("task queue is closed")
)

// Options configures a Queue. The zero value is an unbounded strict-priority queue.
type Options struct {
	// Capacity caps the total number of queued tasks. 0 means unbounded.
	Capacity int
	Aging    AgingPolicy
}

// Queue holds one FIFO bucket per priority tier. Dequeue always takes the head
// of the most urgent non-empty bucket, so low priority work can starve while
// higher tiers stay busy unless an aging policy is enabled.
type Queue struct {
	opts Options

	mu      sync.Mutex
	cond    *sync.Cond
	buckets [4][]*task.Task
	size    int
	closed  bool
}

// New returns an empty queue.
func New(opts Options) *Queue {
	q := &Queue{opts: opts}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends t to the bucket for its priority.
func (q *Queue) Enqueue(t *task.Task) error {
	rank := t.Priority.Rank()
	if rank < 0 {
		return fmt.Errorf("%w: %q", task.ErrInvalidPriority, t.Priority)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.opts.Capacity > 0 && q.size >= q.opts.Capacity {
		return ErrQueueFull
	}
	q.buckets[rank] = append(q.buckets[rank], t)
	q.size++
	q.cond.Signal()
	return nil
}

// DequeueNext removes and returns the next task. The boolean is false when
// the queue is empty.
func (q *Queue) DequeueNext() (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeueLocked()
}

func (q *Queue) dequeueLocked() (*task.Task, bool) {
	if q.size == 0 {
		return nil, false
	}
	rank := q.opts.Aging.pick(&q.buckets)
	if rank < 0 {
		return nil, false
	}
	head := q.buckets[rank][0]
	q.buckets[rank][0] = nil
	q.buckets[rank] = q.buckets[rank][1:]
	if len(q.buckets[rank]) == 0 {
		q.buckets[rank] = nil
	}
	q.size--
	return head, true
}

// Wait blocks until the queue holds at least one task or is closed. It
// returns false once the queue is closed. A true result is a hint: another
// consumer may win the task first.
func (q *Queue) Wait() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size == 0 && !q.closed {
		q.cond.Wait()
	}
	return !q.closed
}

// Close stops accepting tasks and wakes every waiter. Tasks still queued are
// left in place.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Size returns the total number of queued tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Full reports whether a bounded queue has reached its capacity.
func (q *Queue) Full() bool {
	if q.opts.Capacity <= 0 {
		return false
	}
	return q.Size() >= q.opts.Capacity
}

// SizeByPriority returns the length of each bucket.
func (q *Queue) SizeByPriority() map[task.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[task.Priority]int, len(task.Priorities))
	for rank, p := range task.Priorities {
		out[p] = len(q.buckets[rank])
	}
	return out
}

// AgingPolicy promotes long-waiting bucket heads. A head that has waited n
// multiples of After competes as if it were n tiers more urgent, never above
// critical. The zero value disables aging.
type AgingPolicy struct {
	After time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Enabled reports whether the policy changes dequeue order.
func (a AgingPolicy) Enabled() bool { return a.After > 0 }

func (a AgingPolicy) pick(buckets *[4][]*task.Task) int {
	if !a.Enabled() {
		for rank := range buckets {
			if len(buckets[rank]) > 0 {
				return rank
			}
		}
		return -1
	}

	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}
	best, bestEffective := -1, 0
	for rank := range buckets {
		if len(buckets[rank]) == 0 {
			continue
		}
		effective := rank - int(now.Sub(buckets[rank][0].SubmittedAt)/a.After)
		if effective < 0 {
			effective = 0
		}
		// Strictly-less keeps ties with the naturally more urgent tier.
		if best < 0 || effective < bestEffective {
			best, bestEffective = rank, effective
		}
	}
	return best
}
