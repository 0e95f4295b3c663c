package mqttclient

import (
	"context"
	"sync"
)

// queue is an unbounded FIFO with a single blocking consumer. It backs the
// receive queue and the event dispatcher. Producers never block.
type queue[T any] struct {
	mu       sync.Mutex
	items    []T
	signal   chan struct{}
	closed   chan struct{}
	closeErr error
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		signal: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// push appends v. It returns false once the queue is closed.
func (q *queue[T]) push(v T) bool {
	q.mu.Lock()
	if q.closeErr != nil {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pop removes the oldest item, waiting until one is available. Items queued
// before close are still returned; after that pop returns the close error.
// When ctx is done first, ctx.Err() is returned and nothing is consumed.
func (q *queue[T]) pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		err := q.closeErr
		q.mu.Unlock()

		if err != nil {
			return zero, err
		}

		select {
		case <-q.signal:
		case <-q.closed:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// close wakes the consumer; pending and future pops return err once drained.
func (q *queue[T]) close(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closeErr != nil {
		return
	}
	q.closeErr = err
	close(q.closed)
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
