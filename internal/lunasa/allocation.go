package lunasa

import (
	"sync"
	"sync/atomic"
)

// RDMAHandle is an opaque pinned-memory registration id assigned by the
// transport layer's Pin callback. Whether memory is pinned is tracked apart
// from the handle, so 0 (what the default no-op pin returns) is a valid
// handle for pinned memory.
type RDMAHandle uint64

// PinFunc registers data for RDMA and returns a handle for it. The default
// is a no-op that always returns handle 0, standing in for the real
// transport, which is an external collaborator (spec §1).
type PinFunc func(data []byte) (RDMAHandle, error)

// UnpinFunc releases a previously pinned handle.
type UnpinFunc func(handle RDMAHandle) error

// segment is a piece of externally owned memory attached to an allocation,
// with its own pin handle and cleanup callback — e.g. memory the caller
// mmap'd and wants sent without an extra copy into the allocator's buffer.
type segment struct {
	data    []byte
	handle  RDMAHandle
	pinned  bool
	cleanup func()
}

// allocation is the local bookkeeping cell behind a DataObject handle: a
// raw byte buffer (wire header + user meta/data region), an atomic
// refcount, an optional pinned handle for the buffer itself, and any
// externally attached segments.
//
// Exactly one allocation backs any number of DataObject handles produced by
// ShallowCopy; the allocation is freed when refcount reaches zero.
type allocation struct {
	mu           sync.Mutex
	refcount     atomic.Int64
	allocator    *Allocator
	buf          []byte // wireHeaderSize + userCapacity
	userCapacity int
	metaBytes    int
	dataBytes    int
	typeID       uint16
	pinned       bool
	pinHandle    RDMAHandle
	segments     []segment
}

func newAllocation(a *Allocator, userCapacity int) *allocation {
	// The tail is padded to a 4-byte boundary; the pad lives past
	// userCapacity so meta/data lengths stay exact.
	al := &allocation{
		allocator:    a,
		buf:          make([]byte, wireHeaderSize+userCapacity+padTo4(userCapacity)),
		userCapacity: userCapacity,
	}
	al.refcount.Store(1)
	return al
}

// userRegion returns the slice of buf holding meta+data+tail-padding.
func (a *allocation) userRegion() []byte {
	return a.buf[wireHeaderSize:]
}

func (a *allocation) metaSlice() []byte {
	return a.userRegion()[:a.metaBytes]
}

func (a *allocation) dataSlice() []byte {
	return a.userRegion()[a.metaBytes : a.metaBytes+a.dataBytes]
}

func (a *allocation) syncHeader() {
	wireHeader{MetaBytes: uint16(a.metaBytes), DataBytes: uint32(a.dataBytes), TypeID: a.typeID}.encode(a.buf)
}

// modifySizes validates and applies new meta/data sizes, re-encoding the
// wire header. Caller holds a.mu.
func (a *allocation) modifySizes(meta, data int) error {
	if meta < 0 || data < 0 || meta+data > a.userCapacity {
		return errInvalidSizes(meta, data, a.userCapacity)
	}
	a.metaBytes = meta
	a.dataBytes = data
	a.syncHeader()
	return nil
}

func (a *allocation) incref() int64 {
	return a.refcount.Add(1)
}

// decref drops the refcount by one. When it reaches zero, segment cleanup
// callbacks run and the allocation is returned to its allocator. Returns
// the post-decrement count.
func (a *allocation) decref() int64 {
	n := a.refcount.Add(-1)
	if n == 0 {
		a.mu.Lock()
		segs := a.segments
		a.segments = nil
		pinned := a.pinned
		handle := a.pinHandle
		a.pinned = false
		a.mu.Unlock()

		for _, s := range segs {
			if s.pinned {
				a.allocator.unpin(s.handle)
			}
			if s.cleanup != nil {
				s.cleanup()
			}
		}
		if pinned {
			a.allocator.unpin(handle)
		}
		a.allocator.reclaim(a)
	}
	return n
}
