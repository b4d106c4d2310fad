package opbox

import (
	"context"
	"sync"

	"github.com/faodel/kelpie/internal/faodel"
)

// Future is the synchronous handle a caller blocks on while an Op drives
// itself to completion in the background — the bridge between OpBox's
// callback-driven core and the blocking Publish/Need/Compute convenience
// calls the pool package exposes (spec §5).
type Future[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	value   T
	err     error
	settled bool
}

// NewFuture returns an unsettled Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Fulfill settles the future exactly once; later calls are ignored.
func (f *Future[T]) Fulfill(value T, err error) {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return
	}
	f.value, f.err, f.settled = value, err, true
	f.mu.Unlock()
	close(f.done)
}

// Wait blocks until the future settles or ctx is done, whichever comes
// first.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, faodel.Wrap(faodel.CodeUnavailable, ctx.Err(), "opbox: future wait canceled")
	}
}

// Done reports whether the future has settled without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
