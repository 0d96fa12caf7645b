// Package limiter provides a bounded-concurrency gate with strict FIFO
// admission. It caps outbound page fetches and parallel feed scans.
package limiter

import (
	"context"
	"sync"
)

const DefaultMaxRunning = 50

// Limiter admits at most max callers at a time. Callers over the cap wait in
// a FIFO queue and are dispatched one per released slot, in submission order.
type Limiter struct {
	mu      sync.Mutex
	max     int
	running int
	waiters []chan struct{}
}

func New(max int) *Limiter {
	if max <= 0 {
		max = DefaultMaxRunning
	}
	return &Limiter{max: max}
}

// Acquire blocks until a slot is free or ctx is done. On success the caller
// owns one slot and must call Release exactly once.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.running < l.max {
		l.running++
		l.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ready {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// The slot was handed over between ctx firing and the lock; give
		// it back so it is not leaked.
		l.Release()
		return ctx.Err()
	}
}

// Release frees a slot. If anyone is queued, the slot transfers to the
// oldest waiter instead of decrementing the running count, so exactly one
// pending call starts per completion.
func (l *Limiter) Release() {
	l.mu.Lock()
	if len(l.waiters) > 0 {
		ready := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.mu.Unlock()
		close(ready)
		return
	}
	l.running--
	l.mu.Unlock()
}

// Do runs fn inside one admission slot. The slot is released whatever fn
// returns.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Running reports the number of in-flight admitted calls.
func (l *Limiter) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Queued reports the number of callers waiting for a slot.
func (l *Limiter) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
