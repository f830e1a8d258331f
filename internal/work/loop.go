// Package work provides the single-consumer message loop used by every
// long-running worker (collector, quote cache refresher, search indexer).
//
// Each worker owns one Loop: producers enqueue typed commands without
// blocking, the loop drains them strictly in arrival order, and the worker's
// internal state needs no locks because only the loop goroutine touches it.
// Request/response commands carry a Completion handle the consumer fulfills
// exactly once.
package work

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Loop is a single-consumer queue of typed commands.
type Loop[C any] struct {
	name    string
	handler func(ctx context.Context, cmd C)
	log     zerolog.Logger

	mu    sync.Mutex
	queue []C
	wake  chan struct{}

	stopped chan struct{}
}

// NewLoop creates a loop that feeds each dequeued command to handler.
// The handler runs on the loop goroutine; it must not block forever.
func NewLoop[C any](name string, handler func(ctx context.Context, cmd C), log zerolog.Logger) *Loop[C] {
	return &Loop[C]{
		name:    name,
		handler: handler,
		log:     log.With().Str("loop", name).Logger(),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Enqueue appends a command to the queue. It never blocks; the queue is
// unbounded. Safe to call from any goroutine.
func (l *Loop[C]) Enqueue(cmd C) {
	l.mu.Lock()
	l.queue = append(l.queue, cmd)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
		// Wake already pending
	}
}

// Len returns the number of queued commands.
func (l *Loop[C]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run drains the queue until ctx is cancelled. It blocks; callers run it on
// a dedicated goroutine. Commands already dequeued when cancellation arrives
// still see the cancelled context and must abort their own waits.
func (l *Loop[C]) Run(ctx context.Context) {
	defer close(l.stopped)

	for {
		cmd, ok := l.pop()
		if ok {
			l.handler(ctx, cmd)
			continue
		}

		select {
		case <-ctx.Done():
			l.log.Debug().Msg("Loop stopped")
			return
		case <-l.wake:
		}
	}
}

// Wait blocks until Run has returned.
func (l *Loop[C]) Wait() {
	<-l.stopped
}

func (l *Loop[C]) pop() (C, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var zero C
	if len(l.queue) == 0 {
		return zero, false
	}
	cmd := l.queue[0]
	l.queue[0] = zero // release reference
	l.queue = l.queue[1:]
	return cmd, true
}
