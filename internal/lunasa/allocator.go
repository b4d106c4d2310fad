package lunasa

import (
	"sync"
	"sync/atomic"
)

// Kind distinguishes the two allocator pools spec §3/§4.1 require.
type Kind int

const (
	// Eager allocators pin memory for RDMA at allocation time.
	Eager Kind = iota
	// Lazy allocators pin on first RDMA handle request and cache the result.
	Lazy
)

func (k Kind) String() string {
	if k == Lazy {
		return "lazy"
	}
	return "eager"
}

// Stats is a point-in-time snapshot of an allocator's byte counters.
type Stats struct {
	TotalAllocated int64 // bytes currently handed out to live allocations
	TotalManaged   int64 // bytes the allocator has carved out of the OS
	TotalUsed      int64 // bytes currently occupied by meta+data payload
	TotalFree      int64 // TotalManaged - TotalAllocated
	LiveCount      int64 // number of live allocations
}

// Allocator is lunasa's allocate/free pool. Two concrete strategies are
// provided: NewPlainAllocator (eager-pinned, platform allocator per
// request) and NewPagePooledAllocator (lazy-pinned, fixed-size page reuse).
type Allocator struct {
	name string
	kind Kind

	pin   PinFunc
	unpin UnpinFunc

	ownerRefs   atomic.Int32
	shutdown    atomic.Bool
	liveCount   atomic.Int64
	allocated   atomic.Int64
	used        atomic.Int64
	managed     atomic.Int64
	onDestroyed func()

	// pageSize > 0 selects the page-pooled strategy; pages of exactly this
	// size are recycled via freeList instead of being released to the OS.
	pageSize int
	mu       sync.Mutex
	freeList [][]byte
}

func newAllocatorBase(name string, kind Kind, pageSize int) *Allocator {
	a := &Allocator{name: name, kind: kind, pageSize: pageSize, pin: noopPin, unpin: noopUnpin}
	a.ownerRefs.Store(1)
	return a
}

// NewPlainAllocator returns an eager allocator: each Allocate call goes
// straight to the platform allocator (make([]byte, ...)) and, once pin
// callbacks are set, pins the whole chunk immediately.
func NewPlainAllocator(name string) *Allocator {
	return newAllocatorBase(name, Eager, 0)
}

// NewPagePooledAllocator returns a lazy allocator suitable for frequent
// fixed-size allocations: buffers of exactly pageSize bytes of user
// capacity are recycled from a free list instead of reallocated, and
// pinning is deferred until the first RDMA-handle query.
func NewPagePooledAllocator(name string, pageSize int) *Allocator {
	return newAllocatorBase(name, Lazy, pageSize)
}

// Name identifies this allocator pool in logs and metrics.
func (a *Allocator) Name() string { return a.name }

// Kind reports eager vs lazy.
func (a *Allocator) Kind() Kind { return a.kind }

// SetPinCallbacks installs the transport's pin/unpin pair. Must be called
// before any Allocate that needs RDMA segments; a no-op pair is installed
// by default so single-process/test use works without a transport.
func (a *Allocator) SetPinCallbacks(pin PinFunc, unpin UnpinFunc) {
	if pin == nil {
		pin = noopPin
	}
	if unpin == nil {
		unpin = noopUnpin
	}
	a.pin = pin
	a.unpin = unpin
}

// OnDestroyed registers a callback fired once the allocator has fully shut
// down (owner refcount zero and no live allocations remain). Typically used
// by a registry to remove the allocator from its index.
func (a *Allocator) OnDestroyed(fn func()) { a.onDestroyed = fn }

// IncRef adds an owner reference, e.g. when a second component shares this
// allocator.
func (a *Allocator) IncRef() { a.ownerRefs.Add(1) }

// DecRef drops an owner reference. When it reaches zero while allocations
// are still live, the allocator enters shutdown: Allocate starts failing,
// but existing DataObjects keep working until freed. Once the last
// allocation is freed, the allocator self-destructs (OnDestroyed fires).
func (a *Allocator) DecRef() {
	if a.ownerRefs.Add(-1) > 0 {
		return
	}
	a.shutdown.Store(true)
	if a.liveCount.Load() == 0 {
		a.destroy()
	}
}

func (a *Allocator) destroy() {
	if a.onDestroyed != nil {
		a.onDestroyed()
	}
}

// IsShuttingDown reports whether new allocations are being refused.
func (a *Allocator) IsShuttingDown() bool { return a.shutdown.Load() }

// Stats returns a snapshot of this allocator's counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		TotalAllocated: a.allocated.Load(),
		TotalManaged:   a.managed.Load(),
		TotalUsed:      a.used.Load(),
		TotalFree:      a.managed.Load() - a.allocated.Load(),
		LiveCount:      a.liveCount.Load(),
	}
}

// Allocate returns a new DataObject with the given user capacity (meta +
// data region, before the 4-byte tail pad). Fails with ErrShuttingDown once
// DecRef has dropped the owner count to zero.
func (a *Allocator) Allocate(userCapacity int) (*DataObject, error) {
	if a.shutdown.Load() {
		return nil, ErrShuttingDown
	}

	var al *allocation
	if a.pageSize > 0 && userCapacity <= a.pageSize {
		al = a.takePage(userCapacity)
	} else {
		al = newAllocation(a, userCapacity)
		a.managed.Add(int64(len(al.buf)))
	}

	a.liveCount.Add(1)
	a.allocated.Add(int64(al.userCapacity))

	if a.kind == Eager {
		if h, err := a.pin(al.buf); err == nil {
			al.pinned = true
			al.pinHandle = h
		}
	}

	return &DataObject{alloc: al}, nil
}

func (a *Allocator) takePage(userCapacity int) *allocation {
	a.mu.Lock()
	n := len(a.freeList)
	if n > 0 {
		buf := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.mu.Unlock()
		for i := range buf {
			buf[i] = 0
		}
		al := &allocation{allocator: a, buf: buf, userCapacity: a.pageSize}
		al.refcount.Store(1)
		return al
	}
	a.mu.Unlock()
	al := newAllocation(a, a.pageSize)
	a.managed.Add(int64(len(al.buf)))
	return al
}

// reclaim returns a dead allocation's bytes to this allocator: to the free
// list for page-pooled allocators, or simply accounts for the release
// otherwise. Called by allocation.decref once refcount hits zero.
func (a *Allocator) reclaim(al *allocation) {
	a.allocated.Add(-int64(al.userCapacity))
	a.used.Add(-int64(al.metaBytes + al.dataBytes))
	remaining := a.liveCount.Add(-1)

	if a.pageSize > 0 && al.userCapacity == a.pageSize {
		a.mu.Lock()
		a.freeList = append(a.freeList, al.buf)
		a.mu.Unlock()
	} else {
		a.managed.Add(-int64(len(al.buf)))
	}

	if remaining == 0 && a.shutdown.Load() {
		a.destroy()
	}
}

func noopPin(data []byte) (RDMAHandle, error) {
	return RDMAHandle(0), nil
}

func noopUnpin(handle RDMAHandle) error { return nil }
