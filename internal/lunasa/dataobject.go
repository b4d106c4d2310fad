package lunasa

import (
	"bytes"
	"io"
)

// DataObject (LDO) is a refcounted handle over an allocation. The zero
// value is not usable; obtain one from an Allocator.
type DataObject struct {
	alloc *allocation
}

// RefCount returns the current refcount of the underlying allocation.
func (o *DataObject) RefCount() int64 { return o.alloc.refcount.Load() }

// ShallowCopy increments the allocation's refcount and returns a second
// handle over the same bytes. Both handles must eventually be Freed.
func (o *DataObject) ShallowCopy() *DataObject {
	o.alloc.incref()
	return &DataObject{alloc: o.alloc}
}

// Free drops this handle's reference. Once the last reference is dropped,
// attached segment cleanups run and the allocator reclaims the bytes.
func (o *DataObject) Free() {
	o.alloc.decref()
}

// Capacity returns the allocation's immutable user capacity (meta+data).
func (o *DataObject) Capacity() int { return o.alloc.userCapacity }

// ModifyUserSizes sets the meta and data region sizes. meta+data must not
// exceed Capacity(). Re-slicing Meta()/Data() afterward reflects the new
// boundaries; the tail is implicitly padded to a 4-byte boundary (the pad
// itself is never exposed to callers, only accounted for on disk/wire).
func (o *DataObject) ModifyUserSizes(meta, data int) error {
	o.alloc.mu.Lock()
	defer o.alloc.mu.Unlock()
	before := o.alloc.metaBytes + o.alloc.dataBytes
	if err := o.alloc.modifySizes(meta, data); err != nil {
		return err
	}
	after := meta + data
	if o.alloc.allocator != nil {
		o.alloc.allocator.used.Add(int64(after - before))
	}
	return nil
}

// MetaBytes and DataBytes report the current region sizes.
func (o *DataObject) MetaBytes() int { return o.alloc.metaBytes }
func (o *DataObject) DataBytes() int { return o.alloc.dataBytes }

// Meta returns the meta region as a mutable slice.
func (o *DataObject) Meta() []byte { return o.alloc.metaSlice() }

// Data returns the data region as a mutable slice. By construction
// Data() begins exactly len(Meta()) bytes after Meta() begins, satisfying
// the meta_ptr+m==data_ptr invariant from spec §8.
func (o *DataObject) Data() []byte { return o.alloc.dataSlice() }

// TypeID returns the 16-bit wire type tag.
func (o *DataObject) TypeID() uint16 { return o.alloc.typeID }

// SetTypeID sets the 16-bit wire type tag.
func (o *DataObject) SetTypeID(id uint16) {
	o.alloc.mu.Lock()
	o.alloc.typeID = id
	o.alloc.syncHeader()
	o.alloc.mu.Unlock()
}

// UserBytes returns MetaBytes()+DataBytes(), the figure LKV row stats track.
func (o *DataObject) UserBytes() int { return o.alloc.metaBytes + o.alloc.dataBytes }

// AttachSegment registers externally owned memory as an additional segment
// of this object, with its own cleanup callback run when the allocation's
// refcount reaches zero. Used for zero-copy sends of caller-owned buffers.
func (o *DataObject) AttachSegment(data []byte, cleanup func()) {
	o.alloc.mu.Lock()
	defer o.alloc.mu.Unlock()
	o.alloc.segments = append(o.alloc.segments, segment{data: data, cleanup: cleanup})
}

// Region selects which semantic portion of the object RDMASegments
// describes.
type Region int

const (
	RegionWhole Region = iota
	RegionHeader
	RegionMeta
	RegionData
)

// SegmentDescriptor is one {handle, offset, length} entry of the RDMA
// scatter/gather queue the transport consumes.
type SegmentDescriptor struct {
	Handle RDMAHandle
	Offset int
	Length int
}

// RDMASegments enumerates the descriptor queue for the requested region.
// Lazy allocators pin on first call and cache the handle; eager allocators
// already pinned at Allocate time. When the data region includes attached
// external segments, one descriptor is emitted per contiguous range.
func (o *DataObject) RDMASegments(region Region) ([]SegmentDescriptor, error) {
	a := o.alloc
	a.mu.Lock()
	if !a.pinned {
		h, err := a.allocator.pin(a.buf)
		if err != nil {
			a.mu.Unlock()
			return nil, err
		}
		a.pinned = true
		a.pinHandle = h
	}
	handle := a.pinHandle
	metaOff := wireHeaderSize
	dataOff := wireHeaderSize + a.metaBytes
	metaLen := a.metaBytes
	dataLen := a.dataBytes
	segs := append([]segment(nil), a.segments...)
	a.mu.Unlock()

	switch region {
	case RegionWhole:
		return []SegmentDescriptor{{Handle: handle, Offset: 0, Length: len(a.buf)}}, nil
	case RegionHeader:
		return []SegmentDescriptor{{Handle: handle, Offset: 0, Length: wireHeaderSize}}, nil
	case RegionMeta:
		return []SegmentDescriptor{{Handle: handle, Offset: metaOff, Length: metaLen}}, nil
	case RegionData:
		descs := make([]SegmentDescriptor, 0, 1+len(segs))
		if dataLen > 0 {
			descs = append(descs, SegmentDescriptor{Handle: handle, Offset: dataOff, Length: dataLen})
		}
		for i := range segs {
			s := &segs[i]
			if !s.pinned {
				h, err := a.allocator.pin(s.data)
				if err != nil {
					return nil, err
				}
				s.pinned = true
				s.handle = h
			}
			descs = append(descs, SegmentDescriptor{Handle: s.handle, Offset: 0, Length: len(s.data)})
		}
		return descs, nil
	default:
		return nil, errInvalidSizes(0, 0, 0)
	}
}

// DeepCopy duplicates meta+data (not attached user segments) into a fresh
// allocation from the same allocator.
func (o *DataObject) DeepCopy() (*DataObject, error) {
	cp, err := o.alloc.allocator.Allocate(o.alloc.userCapacity)
	if err != nil {
		return nil, err
	}
	if err := cp.ModifyUserSizes(o.MetaBytes(), o.DataBytes()); err != nil {
		cp.Free()
		return nil, err
	}
	copy(cp.Meta(), o.Meta())
	copy(cp.Data(), o.Data())
	cp.SetTypeID(o.TypeID())
	return cp, nil
}

// DeepCompare returns 0 when o and other have identical TypeID, meta, and
// data bytes, and a non-zero value otherwise (mirroring bytes.Compare's
// three-way convention on the concatenated meta+data buffers).
func DeepCompare(a, b *DataObject) int {
	if a.TypeID() != b.TypeID() {
		if a.TypeID() < b.TypeID() {
			return -1
		}
		return 1
	}
	if c := bytes.Compare(a.Meta(), b.Meta()); c != 0 {
		return c
	}
	return bytes.Compare(a.Data(), b.Data())
}

// WriteTo writes [wire header][meta][data] — not the local bookkeeping —
// matching the on-disk format from spec §6.
func (o *DataObject) WriteTo(w io.Writer) (int64, error) {
	o.alloc.mu.Lock()
	o.alloc.syncHeader()
	header := append([]byte(nil), o.alloc.buf[:wireHeaderSize]...)
	meta := append([]byte(nil), o.Meta()...)
	data := append([]byte(nil), o.Data()...)
	o.alloc.mu.Unlock()

	n1, err := w.Write(header)
	total := int64(n1)
	if err != nil {
		return total, err
	}
	n2, err := w.Write(meta)
	total += int64(n2)
	if err != nil {
		return total, err
	}
	n3, err := w.Write(data)
	total += int64(n3)
	return total, err
}

// ReadDataObject loads an LDO previously written by WriteTo: it allocates a
// new object from allocator sized to exactly the payload read (file size
// minus header size is the caller's job when reading from a file; here we
// just trust the header's declared lengths) and restores header+meta+data.
func ReadDataObject(r io.Reader, allocator *Allocator) (*DataObject, error) {
	headerBuf := make([]byte, wireHeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err
	}
	h := decodeWireHeader(headerBuf)

	capacity := int(h.MetaBytes) + int(h.DataBytes)
	obj, err := allocator.Allocate(capacity)
	if err != nil {
		return nil, err
	}
	if err := obj.ModifyUserSizes(int(h.MetaBytes), int(h.DataBytes)); err != nil {
		obj.Free()
		return nil, err
	}
	obj.SetTypeID(h.TypeID)

	if _, err := io.ReadFull(r, obj.Meta()); err != nil {
		obj.Free()
		return nil, err
	}
	if _, err := io.ReadFull(r, obj.Data()); err != nil {
		obj.Free()
		return nil, err
	}
	return obj, nil
}
