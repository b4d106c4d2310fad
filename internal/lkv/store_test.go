package lkv

import (
	"context"
	"testing"
	"time"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/lunasa"
)

func newTestObject(t *testing.T, a *lunasa.Allocator, data string) *lunasa.DataObject {
	t.Helper()
	o, err := a.Allocate(len(data))
	if err != nil {
		t.Fatal(err)
	}
	if err := o.ModifyUserSizes(0, len(data)); err != nil {
		t.Fatal(err)
	}
	copy(o.Data(), data)
	return o
}

func TestPutGetRoundTrip(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	bucket := faodel.BucketFromString("b1")
	key := faodel.Key{K1: "row1", K2: "col1"}

	obj := newTestObject(t, a, "hello")
	if err := s.Put(bucket, key, obj); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(bucket, key)
	if err != nil {
		t.Fatal(err)
	}
	defer got.Free()
	if string(got.Data()) != "hello" {
		t.Fatalf("data = %q, want hello", got.Data())
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	bucket := faodel.BucketFromString("b1")
	if _, err := s.Get(bucket, faodel.Key{K1: "nope", K2: "nope"}); faodel.CodeOf(err) != faodel.CodeNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestWantLocalWakesOnPublish(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	bucket := faodel.BucketFromString("b1")
	key := faodel.Key{K1: "row1", K2: "col1"}

	result := make(chan *lunasa.DataObject, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		obj, err := s.WantLocal(ctx, bucket, key)
		if err != nil {
			t.Error(err)
			return
		}
		result <- obj
	}()

	time.Sleep(50 * time.Millisecond) // let the waiter register
	obj := newTestObject(t, a, "delayed")
	if err := s.Put(bucket, key, obj); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-result:
		defer got.Free()
		if string(got.Data()) != "delayed" {
			t.Fatalf("data = %q, want delayed", got.Data())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("want never woke up")
	}
}

func TestInPlaceUpdateDoesNotRenotify(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	bucket := faodel.BucketFromString("b1")
	key := faodel.Key{K1: "row1", K2: "col1"}

	// First publish satisfies any waiter registered before it.
	if err := s.Put(bucket, key, newTestObject(t, a, "v1")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	got, err := s.WantLocal(ctx, bucket, key)
	if err != nil {
		t.Fatal(err)
	}
	got.Free()

	// A second Want, registered after the key already exists, returns
	// immediately with the current value rather than blocking on the next
	// in-place update.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel2()
	got2, err := s.WantLocal(ctx2, bucket, key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got2.Data()) != "v1" {
		t.Fatalf("data = %q, want v1", got2.Data())
	}
	got2.Free()

	if err := s.Put(bucket, key, newTestObject(t, a, "v2")); err != nil {
		t.Fatal(err)
	}
}

func TestDropRowWildcard(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	bucket := faodel.BucketFromString("b1")

	s.Put(bucket, faodel.Key{K1: "row1", K2: "a"}, newTestObject(t, a, "x"))
	s.Put(bucket, faodel.Key{K1: "row1", K2: "b"}, newTestObject(t, a, "y"))

	if err := s.Drop(bucket, faodel.Key{K1: "row1", K2: "*"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(bucket, faodel.Key{K1: "row1", K2: "a"}); faodel.CodeOf(err) != faodel.CodeNotFound {
		t.Fatalf("expected col a gone, got %v", err)
	}
}

func TestListWildcardRow(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	bucket := faodel.BucketFromString("b1")

	s.Put(bucket, faodel.Key{K1: "row1", K2: "a"}, newTestObject(t, a, "1"))
	s.Put(bucket, faodel.Key{K1: "row2", K2: "a"}, newTestObject(t, a, "2"))
	s.Put(bucket, faodel.Key{K1: "other", K2: "a"}, newTestObject(t, a, "3"))

	keys, err := s.List(bucket, faodel.Key{K1: "row*", K2: "*"})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 matching keys, got %d: %v", len(keys), keys)
	}
}

func TestComputePickModes(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	s.Start()
	bucket := faodel.BucketFromString("b1")

	s.Put(bucket, faodel.Key{K1: "row", K2: "a"}, newTestObject(t, a, "aa"))
	s.Put(bucket, faodel.Key{K1: "row", K2: "b"}, newTestObject(t, a, "bbbbb"))
	s.Put(bucket, faodel.Key{K1: "row", K2: "c"}, newTestObject(t, a, "c"))

	pattern := faodel.Key{K1: "row", K2: "*"}

	first, err := s.Compute(bucket, pattern, "pick", map[string]string{"mode": "first"})
	if err != nil {
		t.Fatal(err)
	}
	if string(first.Data()) != "aa" {
		t.Fatalf("first = %q, want aa", first.Data())
	}
	first.Free()

	largest, err := s.Compute(bucket, pattern, "pick", map[string]string{"mode": "largest"})
	if err != nil {
		t.Fatal(err)
	}
	if string(largest.Data()) != "bbbbb" {
		t.Fatalf("largest = %q, want bbbbb", largest.Data())
	}
	largest.Free()

	smallest, err := s.Compute(bucket, pattern, "pick", map[string]string{"mode": "smallest"})
	if err != nil {
		t.Fatal(err)
	}
	if string(smallest.Data()) != "c" {
		t.Fatalf("smallest = %q, want c", smallest.Data())
	}
	smallest.Free()
}

func TestComputeZeroRowsReturnsEmptyOk(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	s.Start()
	bucket := faodel.BucketFromString("b1")

	result, err := s.Compute(bucket, faodel.Key{K1: "nothing*", K2: "*"}, "pick", nil)
	if err != nil {
		t.Fatalf("expected Ok for a zero-row compute, got %v", err)
	}
	defer result.Free()
	if result.DataBytes() != 0 {
		t.Fatalf("expected an empty result, got %d bytes", result.DataBytes())
	}
}

func TestComputeUnknownFunctionIsInvalidInput(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	s.Start()
	bucket := faodel.BucketFromString("b1")
	s.Put(bucket, faodel.Key{K1: "row", K2: "a"}, newTestObject(t, a, "x"))

	if _, err := s.Compute(bucket, faodel.Key{K1: "row", K2: "*"}, "nonexistent", nil); faodel.CodeOf(err) != faodel.CodeInvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestRegisterComputeFunctionAfterStartFails(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	s.Start()
	if err := s.RegisterComputeFunction("late", func([]*lunasa.DataObject, []faodel.Key, map[string]string) (*lunasa.DataObject, error) {
		return nil, nil
	}); faodel.CodeOf(err) != faodel.CodeInvalidInput {
		t.Fatalf("expected InvalidInput registering after Start, got %v", err)
	}
}

func TestWantCallbackImmediateWhenPresent(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	bucket := faodel.BucketFromString("b1")
	key := faodel.Key{K1: "row1", K2: "col1"}
	s.Put(bucket, key, newTestObject(t, a, "here"))

	fired := 0
	immediate, err := s.WantCallback(bucket, key, false, func(obj *lunasa.DataObject, err error) {
		fired++
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		if string(obj.Data()) != "here" {
			t.Errorf("data = %q", obj.Data())
		}
		obj.Free()
	})
	if err != nil {
		t.Fatal(err)
	}
	if !immediate || fired != 1 {
		t.Fatalf("immediate=%v fired=%d, want true/1", immediate, fired)
	}
}

func TestDropCancelsWaiterWithFailure(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	bucket := faodel.BucketFromString("b1")
	key := faodel.Key{K1: "row1", K2: "col1"}

	fired := make(chan error, 2)
	immediate, err := s.WantCallback(bucket, key, false, func(obj *lunasa.DataObject, err error) {
		fired <- err
	})
	if err != nil || immediate {
		t.Fatalf("immediate=%v err=%v, want deferred registration", immediate, err)
	}

	if err := s.Drop(bucket, key); err != nil {
		t.Fatal(err)
	}
	select {
	case werr := <-fired:
		if werr == nil {
			t.Fatal("expected failure delivery for a dropped want")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never fired")
	}

	// Exactly once: a later publish of the same key must not re-fire it.
	s.Put(bucket, key, newTestObject(t, a, "late"))
	select {
	case <-fired:
		t.Fatal("canceled waiter fired again on a later publish")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWantWildcardIsInvalidInput(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	bucket := faodel.BucketFromString("b1")
	if _, err := s.WantCallback(bucket, faodel.Key{K1: "row", K2: "*"}, false, func(*lunasa.DataObject, error) {}); faodel.CodeOf(err) != faodel.CodeInvalidInput {
		t.Fatalf("expected InvalidInput for wildcard want, got %v", err)
	}
	if err := s.Put(bucket, faodel.Key{K1: "row*", K2: "a"}, newTestObject(t, a, "x")); faodel.CodeOf(err) != faodel.CodeInvalidInput {
		t.Fatalf("expected InvalidInput for wildcard publish, got %v", err)
	}
}

func TestColStatusAvailability(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	bucket := faodel.BucketFromString("b1")
	key := faodel.Key{K1: "row1", K2: "col1"}

	if _, err := s.ColStatus(bucket, key); faodel.CodeOf(err) != faodel.CodeNotFound {
		t.Fatalf("expected NotFound for an absent column, got %v", err)
	}

	// A registered waiter flips the report to Waiting instead of NotFound.
	s.WantCallback(bucket, key, false, func(obj *lunasa.DataObject, err error) {
		if obj != nil {
			obj.Free()
		}
	})
	info, err := s.ColStatus(bucket, key)
	if err != nil {
		t.Fatal(err)
	}
	if info.Availability != faodel.AvailWaiting {
		t.Fatalf("availability = %v, want Waiting", info.Availability)
	}

	s.Put(bucket, key, newTestObject(t, a, "12345"))
	info, err = s.ColStatus(bucket, key)
	if err != nil {
		t.Fatal(err)
	}
	if info.Availability != faodel.AvailInLocalMemory || info.UserBytes != 5 {
		t.Fatalf("info = %+v, want InLocalMemory/5", info)
	}
}

func TestRowStatusCounters(t *testing.T) {
	a := lunasa.NewPlainAllocator("test")
	s := NewStore(a)
	bucket := faodel.BucketFromString("b1")
	s.Put(bucket, faodel.Key{K1: "row", K2: "a"}, newTestObject(t, a, "xx"))
	s.Put(bucket, faodel.Key{K1: "row", K2: "b"}, newTestObject(t, a, "yyy"))

	info, err := s.RowStatus(bucket, "row")
	if err != nil {
		t.Fatal(err)
	}
	if info.NumCols != 2 || info.TotalUserBytes != 5 {
		t.Fatalf("row info = %+v, want 2 cols / 5 bytes", info)
	}
}
