// Package eventloop runs posted closures one at a time on a single
// goroutine. State owned by the loop needs no lock as long as it is only
// touched from inside those closures.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStopped is returned when work is dispatched to a loop that is no
// longer running.
var ErrStopped = errors.New("event loop stopped")

// Loop is a cooperative single-goroutine executor.
type Loop struct {
	queue chan func()
	done  chan struct{}

	mu      sync.Mutex
	started bool
}

// New creates a loop with the given queue depth.
func New(depth int) *Loop {
	if depth <= 0 {
		depth = 256
	}
	return &Loop{
		queue: make(chan func(), depth),
		done:  make(chan struct{}),
	}
}

// Run executes posted closures until ctx is done. Closures still queued
// when ctx ends are discarded. A loop can only be run once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return fmt.Errorf("event loop already started")
	}
	l.started = true
	l.mu.Unlock()

	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.queue:
			fn()
		}
	}
}

// Serve is Run for use as a suture service.
func (l *Loop) Serve(ctx context.Context) error {
	return l.Run(ctx)
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues fn for execution on the loop without waiting. It returns
// false if the loop has stopped or the queue is full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	default:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish.
// It must not be called from a closure running on the loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.queue <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}
