package flushgate

import (
	"context"
	"sync"
)

// Signal is a notify-one primitive with a single buffered slot.
// A Notify with no waiter is kept and consumed by the next Wait; further
// Notifies before that Wait coalesce into the same slot.
type Signal struct {
	ch        chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewSignal creates an empty signal.
func NewSignal() *Signal {
	return &Signal{
		ch:   make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Notify wakes one waiter or records one pending notification.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
		// already pending
	}
}

// Wait blocks until a notification is available and consumes it.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	default:
	}
	select {
	case <-s.ch:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports whether a notification is buffered.
func (s *Signal) Pending() bool {
	return len(s.ch) > 0
}

// Close wakes all current and future waiters with ErrClosed.
func (s *Signal) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Broadcast is a generation counter that wakes every waiter on Publish.
// Waiters pass the last generation they consumed, so a publish that happened
// before a waiter arrived is never lost and any number of waiters can observe
// the same publish.
type Broadcast struct {
	mu     sync.Mutex
	gen    uint64
	ch     chan struct{}
	closed bool
}

// NewBroadcast creates a broadcast at generation 0.
func NewBroadcast() *Broadcast {
	return &Broadcast{ch: make(chan struct{})}
}

// Publish advances the generation and wakes all waiters.
func (b *Broadcast) Publish() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.gen
	}
	b.gen++
	close(b.ch)
	b.ch = make(chan struct{})
	return b.gen
}

// Generation returns the number of publishes so far.
func (b *Broadcast) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// Wait blocks until the generation is greater than after and returns it.
func (b *Broadcast) Wait(ctx context.Context, after uint64) (uint64, error) {
	for {
		b.mu.Lock()
		gen, closed, ch := b.gen, b.closed, b.ch
		b.mu.Unlock()

		if gen > after {
			return gen, nil
		}
		if closed {
			return gen, ErrClosed
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return after, ctx.Err()
		}
	}
}

// Close wakes all waiters with ErrClosed. Publishes after Close are ignored.
func (b *Broadcast) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
