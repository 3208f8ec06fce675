// Copyright (c) the taskfarm-go authors. All rights reserved.
// Licensed under the MIT License.

// Package joinq provides a FIFO queue with consumption acknowledgment:
// producers can wait not merely until items have been dequeued but until the
// consumers have called Done on every one of them. This is the join-barrier
// the pool's sentinel-based shutdown needs, since shutdown must wait until
// every worker has actually consumed its sentinel.
package joinq

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// A JoinableQueue is a FIFO queue of T with blocking Put/Get and a
// Done/Join acknowledgment pair. All methods are safe for concurrent use,
// and every blocking operation honors context cancellation.
//
// Ordering: items are delivered in Put order, each to exactly one Get
// caller. With multiple consumers no global processing order is implied.
type JoinableQueue[T any] struct {
	mu       sync.Mutex
	buf      deque.Deque[T]
	capacity int
	unacked  int

	getters waiterList
	putters waiterList
	joiners waiterList
}

// New creates a queue. A capacity of zero or less means unbounded: Put never
// blocks. A positive capacity bounds the buffer, and Put blocks while the
// queue is full.
func New[T any](capacity int) *JoinableQueue[T] {
	return &JoinableQueue[T]{capacity: capacity}
}

// Put appends item to the queue, blocking while a bounded queue is full.
// Returns the context error if ctx is canceled while waiting.
func (q *JoinableQueue[T]) Put(ctx context.Context, item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.capacity > 0 && q.buf.Len() >= q.capacity {
		if err := q.wait(ctx, &q.putters); err != nil {
			return err
		}
	}
	q.buf.PushBack(item)
	q.unacked++
	q.getters.notifyOne()
	return nil
}

// Get removes and returns the item at the front of the queue, blocking until
// one is available. Returns the context error if ctx is canceled while
// waiting. Every successful Get must eventually be matched by a call to
// [JoinableQueue.Done].
func (q *JoinableQueue[T]) Get(ctx context.Context) (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.buf.Len() == 0 {
		if err := q.wait(ctx, &q.getters); err != nil {
			var zero T
			return zero, err
		}
	}
	item := q.buf.PopFront()
	if q.capacity > 0 {
		q.putters.notifyOne()
	}
	return item, nil
}

// Done acknowledges that one previously gotten item has been fully
// processed. Panics if called more times than items were put, mirroring the
// underflow behavior of sync.WaitGroup.
func (q *JoinableQueue[T]) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.unacked--
	if q.unacked < 0 {
		panic("joinq: Done called more times than items were put")
	}
	if q.unacked == 0 {
		q.joiners.notifyAll()
	}
}

// Join blocks until every item ever put has been acknowledged with
// [JoinableQueue.Done]. Returns the context error if ctx is canceled while
// waiting.
func (q *JoinableQueue[T]) Join(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.unacked > 0 {
		if err := q.wait(ctx, &q.joiners); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of items currently buffered (put but not yet
// gotten).
func (q *JoinableQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Len()
}

// Unacked reports the number of items put but not yet acknowledged.
func (q *JoinableQueue[T]) Unacked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unacked
}

// wait parks the caller on list until notified or ctx is canceled. It must
// be called with q.mu held and returns with q.mu held.
func (q *JoinableQueue[T]) wait(ctx context.Context, list *waiterList) error {
	ch := list.add()
	q.mu.Unlock()
	select {
	case <-ch:
		q.mu.Lock()
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		select {
		case <-ch:
			// Notified concurrently with cancellation. Pass the wakeup along
			// so it is not lost on a waiter that is about to leave.
			list.notifyOne()
		default:
			list.remove(ch)
		}
		return ctx.Err()
	}
}

// waiterList is a FIFO of parked goroutines, each represented by a channel
// that is closed to wake its owner.
type waiterList struct {
	chans []chan struct{}
}

func (w *waiterList) add() chan struct{} {
	ch := make(chan struct{})
	w.chans = append(w.chans, ch)
	return ch
}

func (w *waiterList) notifyOne() {
	if len(w.chans) == 0 {
		return
	}
	close(w.chans[0])
	w.chans = w.chans[1:]
}

func (w *waiterList) notifyAll() {
	for _, ch := range w.chans {
		close(ch)
	}
	w.chans = nil
}

func (w *waiterList) remove(ch chan struct{}) {
	for i, c := range w.chans {
		if c == ch {
			w.chans = append(w.chans[:i], w.chans[i+1:]...)
			return
		}
	}
}
