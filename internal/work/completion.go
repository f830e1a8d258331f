package work

import (
	"context"
	"sync"
)

// Completion is a one-shot result handle attached to request/response
// commands. The consumer fulfills it exactly once; any number of callers may
// wait on it. Waiting respects context cancellation, which is reported as
// the context's error, never as a command failure.
type Completion[R any] struct {
	once   sync.Once
	done   chan struct{}
	result R
	err    error
}

// NewCompletion creates an unfulfilled completion handle.
func NewCompletion[R any]() *Completion[R] {
	return &Completion[R]{done: make(chan struct{})}
}

// Complete fulfills the handle with a result or an error. Subsequent calls
// are no-ops, so consumers can defer a failure Complete and overwrite it on
// the success path only if they complete first.
func (c *Completion[R]) Complete(result R, err error) {
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
	})
}

// Wait blocks until the handle is fulfilled or ctx is cancelled.
func (c *Completion[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Done returns a channel closed when the handle is fulfilled.
func (c *Completion[R]) Done() <-chan struct{} {
	return c.done
}
