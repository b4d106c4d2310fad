package lunasa

import "github.com/faodel/kelpie/internal/faodel"

func errInvalidSizes(meta, data, capacity int) error {
	return faodel.NewError(faodel.CodeInvalidInput,
		"lunasa: meta(%d)+data(%d) exceeds capacity(%d)", meta, data, capacity)
}

// ErrShuttingDown is returned by Allocate once the allocator's owner
// refcount has reached zero.
var ErrShuttingDown = faodel.NewError(faodel.CodeUnavailable, "lunasa: allocator is shutting down")
