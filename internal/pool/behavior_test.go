package pool

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/lkv"
	"github.com/faodel/kelpie/internal/lunasa"
)

// memIOM is an in-memory iom.IOM stub recording call counts so behavior
// gating is observable without a live backend.
type memIOM struct {
	name    string
	objects map[string][]byte
	writes  int
	reads   int
}

func newMemIOM(name string) *memIOM {
	return &memIOM{name: name, objects: map[string][]byte{}}
}

func iomKey(bucket faodel.Bucket, key faodel.Key) string {
	return fmt.Sprintf("%d|%s", bucket, key)
}

func (m *memIOM) Name() string { return m.name }

func (m *memIOM) Write(ctx context.Context, bucket faodel.Bucket, key faodel.Key, ldo *lunasa.DataObject) error {
	var buf bytes.Buffer
	if _, err := ldo.WriteTo(&buf); err != nil {
		return err
	}
	m.objects[iomKey(bucket, key)] = buf.Bytes()
	m.writes++
	return nil
}

func (m *memIOM) Read(ctx context.Context, bucket faodel.Bucket, key faodel.Key, allocator *lunasa.Allocator) (*lunasa.DataObject, error) {
	raw, ok := m.objects[iomKey(bucket, key)]
	if !ok {
		return nil, faodel.NewError(faodel.CodeNotFound, "memiom: %s not found", key)
	}
	m.reads++
	return lunasa.ReadDataObject(bytes.NewReader(raw), allocator)
}

func (m *memIOM) GetInfo(ctx context.Context, bucket faodel.Bucket, key faodel.Key) (iom.Info, error) {
	raw, ok := m.objects[iomKey(bucket, key)]
	if !ok {
		return iom.Info{}, nil
	}
	return iom.Info{Exists: true, DataSize: len(raw), Availability: faodel.AvailInDisk}, nil
}

func (m *memIOM) Drop(ctx context.Context, bucket faodel.Bucket, key faodel.Key) error {
	delete(m.objects, iomKey(bucket, key))
	return nil
}

func newIOMLocal(t *testing.T, opts string) (*Local, *memIOM, *lkv.Store) {
	t.Helper()
	registry := iom.NewRegistry()
	m := newMemIOM("bench")
	registry.Register(m)

	url, err := faodel.ParseResourceURL("local:/p" + opts)
	if err != nil {
		t.Fatal(err)
	}
	store := lkv.NewStore(lunasa.NewPlainAllocator("behavior-test"))
	store.Start()
	return NewLocal(url, store, registry), m, store
}

// An explicit behavior= next to iom= replaces only the default behavior
// value; the iom still attaches and WriteToIOM still routes writes to it.
func TestIOMAttachesAlongsideExplicitBehavior(t *testing.T) {
	p, m, store := newIOMLocal(t, "&iom=bench&behavior=WriteToLocal,WriteToIOM")
	if p.iomRef == nil {
		t.Fatal("iom= did not attach when behavior= was also present")
	}

	ctx := context.Background()
	key := faodel.NewKey("row", "col")
	payload := obj(t, store.Allocator(), "both")
	if err := p.Publish(ctx, key, payload); err != nil {
		t.Fatal(err)
	}
	payload.Free()

	if m.writes != 1 {
		t.Fatalf("iom writes = %d, want 1", m.writes)
	}
	got, err := store.Get(faodel.BucketUnspecified, key)
	if err != nil {
		t.Fatalf("expected the object in local memory too: %v", err)
	}
	got.Free()
}

// A behavior= without WriteToIOM keeps the iom attached but gates the
// write path off, per §4.5's put contract.
func TestWriteToIOMGatesTheIOMWrite(t *testing.T) {
	p, m, _ := newIOMLocal(t, "&iom=bench&behavior=WriteToLocal")
	if p.iomRef == nil {
		t.Fatal("iom= did not attach")
	}

	payload := obj(t, p.store.Allocator(), "memory-only")
	if err := p.Publish(context.Background(), faodel.NewKey("row", "col"), payload); err != nil {
		t.Fatal(err)
	}
	payload.Free()
	if m.writes != 0 {
		t.Fatalf("iom writes = %d, want 0 without WriteToIOM", m.writes)
	}
}

// iom= alone seeds DefaultLocalIOM: writes pass through, and a read that
// misses memory consults the iom and caches the result locally.
func TestIOMDefaultBehaviorWritesThroughAndCachesReads(t *testing.T) {
	p, m, store := newIOMLocal(t, "&iom=bench")
	if p.behavior != DefaultLocalIOM {
		t.Fatalf("behavior = %#x, want DefaultLocalIOM %#x", p.behavior, DefaultLocalIOM)
	}

	ctx := context.Background()
	key := faodel.NewKey("row", "col")
	payload := obj(t, store.Allocator(), "persisted")
	if err := p.Publish(ctx, key, payload); err != nil {
		t.Fatal(err)
	}
	payload.Free()
	if m.writes != 1 {
		t.Fatalf("iom writes = %d, want 1", m.writes)
	}

	// Evict from memory only; the iom copy must satisfy the next get and
	// repopulate the shard (ReadToLocal).
	if err := store.Drop(faodel.BucketUnspecified, key); err != nil {
		t.Fatal(err)
	}
	got, err := p.GetUnbounded(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data()) != "persisted" {
		t.Fatalf("iom read returned %q", got.Data())
	}
	got.Free()
	if m.reads != 1 {
		t.Fatalf("iom reads = %d, want 1", m.reads)
	}
	cached, err := store.Get(faodel.BucketUnspecified, key)
	if err != nil {
		t.Fatalf("expected the iom read to be cached locally: %v", err)
	}
	cached.Free()
}

// WriteAround persists to the iom only: memory never sees the publish.
func TestWriteAroundSkipsMemory(t *testing.T) {
	p, m, store := newIOMLocal(t, "&iom=bench&behavior=WriteAround")

	ctx := context.Background()
	key := faodel.NewKey("row", "col")
	payload := obj(t, store.Allocator(), "disk-only")
	if err := p.Publish(ctx, key, payload); err != nil {
		t.Fatal(err)
	}
	payload.Free()

	if m.writes != 1 {
		t.Fatalf("iom writes = %d, want 1", m.writes)
	}
	if _, err := store.Get(faodel.BucketUnspecified, key); faodel.CodeOf(err) != faodel.CodeNotFound {
		t.Fatalf("expected memory untouched by a write-around publish, got %v", err)
	}
}

func TestParseBehaviorFlagsAndAggregates(t *testing.T) {
	cases := []struct {
		in   string
		want Behavior
	}{
		{"WriteToLocal,ReadToLocal", WriteToLocal | ReadToLocal},
		{"writetoremote", WriteToRemote},
		{"WriteToIOM", WriteToIOM},
		{"ReadToRemote", ReadToRemote},
		{"WriteAround", WriteToIOM},
		{"WriteAll", WriteToLocal | WriteToRemote | WriteToIOM},
		{"DefaultIOM", WriteToRemote | WriteToIOM | ReadToRemote},
		{"DefaultLocalIOM", WriteToLocal | WriteToIOM | ReadToLocal},
		{"DefaultRemoteIOM", WriteToRemote | WriteToIOM | ReadToRemote},
		{"DefaultCachingIOM", WriteToRemote | WriteToIOM | ReadToRemote | ReadToLocal},
		{"nonsense", 0},
	}
	for _, tc := range cases {
		if got := ParseBehavior(tc.in); got != tc.want {
			t.Errorf("ParseBehavior(%q) = %#x, want %#x", tc.in, got, tc.want)
		}
	}
}
