package lunasa

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"path/filepath"
	"testing"
)

func TestShallowCopyRefcount(t *testing.T) {
	a := NewPlainAllocator("test")
	o, err := a.Allocate(64)
	if err != nil {
		t.Fatal(err)
	}
	k := o.ShallowCopy()
	if got := o.RefCount(); got != 2 {
		t.Fatalf("refcount after shallow copy = %d, want 2", got)
	}
	k.Free()
	if got := o.RefCount(); got != 1 {
		t.Fatalf("refcount after one free = %d, want 1", got)
	}
	o.Free()
	if a.Stats().LiveCount != 0 {
		t.Fatalf("expected 0 live allocations after both frees, got %d", a.Stats().LiveCount)
	}
}

func TestModifyUserSizesContiguity(t *testing.T) {
	a := NewPlainAllocator("test")
	o, err := a.Allocate(128)
	if err != nil {
		t.Fatal(err)
	}
	defer o.Free()

	if err := o.ModifyUserSizes(8, 100); err != nil {
		t.Fatal(err)
	}
	meta := o.Meta()
	data := o.Data()
	if len(meta) != 8 || len(data) != 100 {
		t.Fatalf("meta/data lengths = %d/%d, want 8/100", len(meta), len(data))
	}
	// meta_ptr + m == data_ptr: verified structurally since Data() begins
	// immediately after Meta() in the same backing array.
	combined := o.alloc.userRegion()[:108]
	if !bytes.Equal(combined[:8], meta) || !bytes.Equal(combined[8:108], data) {
		t.Fatalf("meta/data are not contiguous")
	}

	if err := o.ModifyUserSizes(64, 64); err != nil {
		t.Fatalf("meta(64)+data(64)=128 should fit exactly in a 128-byte capacity: %v", err)
	}
	if err := o.ModifyUserSizes(65, 64); err == nil {
		t.Fatalf("expected error when meta+data exceeds capacity")
	}
}

func TestDeepCopyAndCompare(t *testing.T) {
	a := NewPlainAllocator("test")
	o, _ := a.Allocate(16)
	defer o.Free()
	o.ModifyUserSizes(4, 8)
	copy(o.Meta(), []byte("meta"))
	copy(o.Data(), []byte("somedata"))

	cp, err := o.DeepCopy()
	if err != nil {
		t.Fatal(err)
	}
	defer cp.Free()

	if DeepCompare(o, cp) != 0 {
		t.Fatalf("deep copy should compare equal to original")
	}
	cp.Data()[0] = 'X'
	if DeepCompare(o, cp) == 0 {
		t.Fatalf("mutating the copy should not affect the original")
	}
}

func TestFileRoundTrip(t *testing.T) {
	a := NewPlainAllocator("test")
	o, _ := a.Allocate(1024 + 8)
	defer o.Free()
	if err := o.ModifyUserSizes(8, 1024); err != nil {
		t.Fatal(err)
	}
	o.SetTypeID(42)
	for i := range o.Data() {
		o.Data()[i] = byte(0x30 + i%26)
	}
	copy(o.Meta(), []byte("CRC32AB"))

	path := filepath.Join(t.TempDir(), "obj.ldo")
	if err := o.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadDataObjectFromFile(path, a)
	if err != nil {
		t.Fatal(err)
	}
	defer loaded.Free()

	if loaded.TypeID() != 42 {
		t.Fatalf("type id = %d, want 42", loaded.TypeID())
	}
	if DeepCompare(o, loaded) != 0 {
		t.Fatalf("round-tripped object does not match original")
	}
}

func TestAllocatorShutdownDiscipline(t *testing.T) {
	a := NewPlainAllocator("test")
	o, _ := a.Allocate(16)

	destroyed := false
	a.OnDestroyed(func() { destroyed = true })

	a.DecRef() // owner refcount -> 0, but o is still live
	if !a.IsShuttingDown() {
		t.Fatalf("expected allocator to be shutting down")
	}
	if _, err := a.Allocate(16); err == nil {
		t.Fatalf("expected Allocate to fail once shutting down")
	}
	if destroyed {
		t.Fatalf("allocator destroyed while an allocation is still live")
	}

	o.Free()
	if !destroyed {
		t.Fatalf("expected allocator to self-destruct once the last allocation freed")
	}
}

func TestPagePooledAllocatorReusesPages(t *testing.T) {
	a := NewPagePooledAllocator("pages", 256)
	o1, _ := a.Allocate(200)
	buf1 := o1.alloc.buf
	o1.Free()

	o2, _ := a.Allocate(200)
	defer o2.Free()
	if &o2.alloc.buf[0] != &buf1[0] {
		t.Fatalf("expected page-pooled allocator to recycle the freed buffer")
	}
}

func TestAttachedSegmentCleanup(t *testing.T) {
	a := NewPlainAllocator("test")
	o, _ := a.Allocate(8)

	cleaned := false
	o.AttachSegment([]byte("external"), func() { cleaned = true })
	o.Free()

	if !cleaned {
		t.Fatalf("expected segment cleanup to run on final decref")
	}
}

func TestRDMASegmentsDataRegionWithAttachedSegment(t *testing.T) {
	a := NewPlainAllocator("test")
	o, _ := a.Allocate(32)
	defer o.Free()
	o.ModifyUserSizes(0, 10)

	o.AttachSegment(make([]byte, 20), func() {})
	descs, err := o.RDMASegments(RegionData)
	if err != nil {
		t.Fatal(err)
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors (internal data + 1 segment), got %d", len(descs))
	}
	if descs[0].Length != 10 || descs[1].Length != 20 {
		t.Fatalf("unexpected descriptor lengths: %+v", descs)
	}
}

func TestSnapshotRoundTripChecksum(t *testing.T) {
	a := NewPlainAllocator("snapshot")
	o, err := a.Allocate(8 + 1024)
	if err != nil {
		t.Fatal(err)
	}
	defer o.Free()
	if err := o.ModifyUserSizes(8, 1024); err != nil {
		t.Fatal(err)
	}
	o.SetTypeID(7)
	for i := range o.Data() {
		o.Data()[i] = byte(i*7 + 3)
	}
	// Tag the meta region with the data's checksum so the loaded copy can
	// be verified independently of the original.
	sum := crc32.ChecksumIEEE(o.Data())
	binary.LittleEndian.PutUint32(o.Meta()[:4], sum)
	binary.LittleEndian.PutUint32(o.Meta()[4:8], uint32(len(o.Data())))

	path := filepath.Join(t.TempDir(), "snapshot.ldo")
	if err := o.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadDataObjectFromFile(path, a)
	if err != nil {
		t.Fatal(err)
	}
	defer loaded.Free()

	if loaded.TypeID() != 7 {
		t.Fatalf("type id = %d, want 7", loaded.TypeID())
	}
	if loaded.MetaBytes() != 8 || loaded.DataBytes() != 1024 {
		t.Fatalf("sizes = %d/%d, want 8/1024", loaded.MetaBytes(), loaded.DataBytes())
	}
	wantSum := binary.LittleEndian.Uint32(loaded.Meta()[:4])
	if got := crc32.ChecksumIEEE(loaded.Data()); got != wantSum {
		t.Fatalf("data checksum %08x does not match meta tag %08x", got, wantSum)
	}
	if DeepCompare(o, loaded) != 0 {
		t.Fatal("loaded object is not byte-identical to the original")
	}
}
