package ucpool

import (
	"container/list"
	"time"
)

// result is what a waiter gets: a connection or the reason it has none.
type result struct {
	conn *pooledConn
	err  error
}

// waiter represents one pending acquisition. ready is buffered so the
// pool never blocks on it while holding its lock; a waiter removed from
// the queue always has exactly one result in ready.
type waiter struct {
	requestedAt time.Time
	deadline    time.Time // zero means no deadline
	ready       chan result
	elem        *list.Element
}

func newWaiter(now, deadline time.Time) *waiter {
	return &waiter{
		requestedAt: now,
		deadline:    deadline,
		ready:       make(chan result, 1),
	}
}

func (w *waiter) expired(now time.Time) bool {
	return !w.deadline.IsZero() && !now.Before(w.deadline)
}

// waiterQueue is a FIFO of waiters. The zero value is ready to use.
type waiterQueue struct {
	l list.List
}

func (q *waiterQueue) len() int {
	return q.l.Len()
}

func (q *waiterQueue) push(w *waiter) {
	w.elem = q.l.PushBack(w)
}

// pop removes and returns the oldest waiter or nil.
func (q *waiterQueue) pop() *waiter {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	w := q.l.Remove(e).(*waiter)
	w.elem = nil
	return w
}

// remove reports whether w was still queued.
func (q *waiterQueue) remove(w *waiter) bool {
	if w.elem == nil {
		return false
	}
	q.l.Remove(w.elem)
	w.elem = nil
	return true
}

func (q *waiterQueue) popExpired(now time.Time) []*waiter {
	var expired []*waiter
	for e := q.l.Front(); e != nil; {
		next := e.Next()
		if w := e.Value.(*waiter); w.expired(now) {
			q.l.Remove(e)
			w.elem = nil
			expired = append(expired, w)
		}
		e = next
	}
	return expired
}

func (q *waiterQueue) drain() []*waiter {
	waiters := make([]*waiter, 0, q.l.Len())
	for w := q.pop(); w != nil; w = q.pop() {
		waiters = append(waiters, w)
	}
	return waiters
}
