package followup

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a Queue backed by an in-memory buffered channel.
// Delayed messages sit on a timer, not on a goroutine.
type MemoryQueue struct {
	ch   chan QueueMessage
	done chan struct{}

	mu       sync.Mutex
	timers   map[*time.Timer]struct{}
	closed   bool
	inflight sync.WaitGroup
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		ch:     make(chan QueueMessage, buffer),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Send enqueues a payload or blocks until ctx is done. Delayed sends return immediately.
func (q *MemoryQueue) Send(ctx context.Context, body string, delay time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	msg := QueueMessage{
		ID:            uuid.NewString(),
		Body:          body,
		ReceiptHandle: uuid.NewString(),
	}

	if delay > 0 {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return context.Canceled
		}
		var timer *time.Timer
		timer = time.AfterFunc(delay, func() {
			q.mu.Lock()
			delete(q.timers, timer)
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.inflight.Add(1)
			q.mu.Unlock()
			defer q.inflight.Done()

			// A full buffer must not pin the timer goroutine past Close.
			select {
			case q.ch <- msg:
			case <-q.done:
			}
		})
		q.timers[timer] = struct{}{}
		return nil
	}

	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return context.Canceled
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case msg := <-q.ch:
		return q.collect(msg, maxMessages), nil
	}
}

// Delete is a no-op for the in-memory queue.
func (q *MemoryQueue) Delete(_ context.Context, _ string) error {
	return nil
}

// Pending reports how many delayed messages have not fired yet.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close drops delayed messages that have not fired and waits for fired ones
// still blocked on a full buffer to give up.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	q.mu.Unlock()

	q.inflight.Wait()
}

func (q *MemoryQueue) collect(first QueueMessage, max int) []QueueMessage {
	messages := make([]QueueMessage, 0, max)
	messages = append(messages, first)
	for len(messages) < max {
		select {
		case msg := <-q.ch:
			messages = append(messages, msg)
		default:
			return messages
		}
	}
	return messages
}
