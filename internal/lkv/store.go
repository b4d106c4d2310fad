// Package lkv is the Local Key/Value store each process keeps for its own
// shard of every pool it participates in: a bucket-scoped map from row key
// (K1) to column key (K2) to data object, plus a waiter list so a Want call
// blocked on an absent key wakes the instant it is published (spec §4.5).
package lkv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/lunasa"
)

// WantCallback receives the published object on success (a shallow copy the
// callee owns and must Free) or a failure error when the entry is dropped
// before it was ever published. It is invoked exactly once, outside the
// row's critical section.
type WantCallback func(obj *lunasa.DataObject, err error)

type waiter struct {
	k2     string // exact column, or "*" to match any column in the row
	remote bool   // a remote peer asked to be notified, not a local caller
	cb     WantCallback
}

type rowData struct {
	mu      sync.Mutex
	cols    map[string]*lunasa.DataObject
	waiters []waiter
}

// ColInfo is what an info query reports about one column.
type ColInfo struct {
	Availability faodel.Availability
	UserBytes    int
}

// RowInfo is the row-level counters a row accumulates.
type RowInfo struct {
	NumCols        int
	TotalUserBytes int
}

// Store is one bucket-scoped LKV shard.
type Store struct {
	allocator *lunasa.Allocator

	mu      sync.RWMutex
	buckets map[faodel.Bucket]map[string]*rowData

	computeMu  sync.RWMutex
	computeFns map[string]ComputeFunc
	started    atomic.Bool
}

// NewStore returns an empty store. allocator backs the empty DataObject
// Compute returns over a zero-row match (spec §9, resolved: Ok with an
// empty object, not NotFound).
func NewStore(allocator *lunasa.Allocator) *Store {
	s := &Store{
		allocator:  allocator,
		buckets:    map[faodel.Bucket]map[string]*rowData{},
		computeFns: map[string]ComputeFunc{},
	}
	RegisterBuiltins(s)
	return s
}

// Start freezes compute function registration. Call once, after any
// RegisterComputeFunction calls and before serving requests.
func (s *Store) Start() { s.started.Store(true) }

// Allocator returns the allocator new objects (e.g. an IOM read, or a
// zero-row Compute result) should be built from.
func (s *Store) Allocator() *lunasa.Allocator { return s.allocator }

func (s *Store) row(bucket faodel.Bucket, k1 string, create bool) *rowData {
	s.mu.RLock()
	rows, ok := s.buckets[bucket]
	s.mu.RUnlock()
	if !ok {
		if !create {
			return nil
		}
		s.mu.Lock()
		rows, ok = s.buckets[bucket]
		if !ok {
			rows = map[string]*rowData{}
			s.buckets[bucket] = rows
		}
		s.mu.Unlock()
	}

	s.mu.RLock()
	r, ok := rows[k1]
	s.mu.RUnlock()
	if ok {
		return r
	}
	if !create {
		return nil
	}
	s.mu.Lock()
	r, ok = rows[k1]
	if !ok {
		r = &rowData{cols: map[string]*lunasa.DataObject{}}
		rows[k1] = r
	}
	s.mu.Unlock()
	return r
}

// Put publishes ldo under key in bucket. If key.K2 was already present this
// is an in-place update: the old object is freed and waiters already
// registered for this column are NOT notified, since they were waiting on
// an absent->present transition that already happened for them (spec §9,
// Open Question 1). A genuinely new column wakes every matching waiter.
// Waiter callbacks run outside the row's critical section so a waiter can
// safely re-enter the store.
func (s *Store) Put(bucket faodel.Bucket, key faodel.Key, ldo *lunasa.DataObject) error {
	if key.HasWildcard() {
		return faodel.NewError(faodel.CodeInvalidInput, "lkv: put requires a concrete key, got %s", key)
	}
	row := s.row(bucket, key.K1, true)

	row.mu.Lock()
	existing, hadExisting := row.cols[key.K2]
	row.cols[key.K2] = ldo

	var toNotify []waiter
	if !hadExisting {
		kept := row.waiters[:0]
		for _, w := range row.waiters {
			if w.k2 == key.K2 || w.k2 == "*" {
				toNotify = append(toNotify, w)
			} else {
				kept = append(kept, w)
			}
		}
		row.waiters = kept
	}
	row.mu.Unlock()

	if hadExisting {
		existing.Free()
	}
	for _, w := range toNotify {
		w.cb(ldo.ShallowCopy(), nil)
	}
	return nil
}

// Get returns a shallow copy of the object at key, or CodeNotFound if
// absent. key must be concrete; use List/Compute for wildcard lookups.
func (s *Store) Get(bucket faodel.Bucket, key faodel.Key) (*lunasa.DataObject, error) {
	if key.HasWildcard() {
		return nil, faodel.NewError(faodel.CodeInvalidInput, "lkv: get requires a concrete key, got %s", key)
	}
	row := s.row(bucket, key.K1, false)
	if row == nil {
		return nil, faodel.NewError(faodel.CodeNotFound, "lkv: %s not found", key)
	}
	row.mu.Lock()
	obj, ok := row.cols[key.K2]
	row.mu.Unlock()
	if !ok {
		return nil, faodel.NewError(faodel.CodeNotFound, "lkv: %s not found", key)
	}
	return obj.ShallowCopy(), nil
}

// WantCallback registers cb for key. If the column is already present cb is
// invoked immediately (before WantCallback returns) with a shallow copy and
// immediate is true. Otherwise cb is parked on the row's waiter list until
// the column is published (success) or dropped (failure). remoteRegistered
// records that the waiter stands in for a remote peer's request rather than
// a local caller.
func (s *Store) WantCallback(bucket faodel.Bucket, key faodel.Key, remoteRegistered bool, cb WantCallback) (immediate bool, err error) {
	if key.HasWildcard() {
		return false, faodel.NewError(faodel.CodeInvalidInput, "lkv: want requires a concrete key, got %s", key)
	}
	row := s.row(bucket, key.K1, true)

	row.mu.Lock()
	if obj, ok := row.cols[key.K2]; ok {
		cp := obj.ShallowCopy()
		row.mu.Unlock()
		cb(cp, nil)
		return true, nil
	}
	row.waiters = append(row.waiters, waiter{k2: key.K2, remote: remoteRegistered, cb: cb})
	row.mu.Unlock()
	return false, nil
}

// WantLocal blocks until key is published, the entry is dropped (failure),
// or ctx is done. If key already exists it returns immediately.
func (s *Store) WantLocal(ctx context.Context, bucket faodel.Bucket, key faodel.Key) (*lunasa.DataObject, error) {
	type result struct {
		obj *lunasa.DataObject
		err error
	}
	ch := make(chan result, 1)
	if _, err := s.WantCallback(bucket, key, false, func(obj *lunasa.DataObject, err error) {
		ch <- result{obj: obj, err: err}
	}); err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.obj, r.err
	case <-ctx.Done():
		return nil, faodel.Wrap(faodel.CodeUnavailable, ctx.Err(), "lkv: want canceled for %s", key)
	}
}

// Drop removes key and cancels any waiters parked on it with a failure. A
// wildcard K2 drops the whole row; a wildcard K1 drops every row with that
// prefix. Dropping an absent key is not an error. Waiter callbacks run
// outside the critical section, like Put's.
func (s *Store) Drop(bucket faodel.Bucket, key faodel.Key) error {
	var canceled []waiter
	for _, row := range s.matchingRows(bucket, key.K1) {
		row.mu.Lock()
		if key.K2Wildcard() {
			for _, obj := range row.cols {
				obj.Free()
			}
			row.cols = map[string]*lunasa.DataObject{}
			canceled = append(canceled, row.waiters...)
			row.waiters = nil
		} else {
			if obj, ok := row.cols[key.K2]; ok {
				obj.Free()
				delete(row.cols, key.K2)
			}
			kept := row.waiters[:0]
			for _, w := range row.waiters {
				if w.k2 == key.K2 {
					canceled = append(canceled, w)
				} else {
					kept = append(kept, w)
				}
			}
			row.waiters = kept
		}
		row.mu.Unlock()
	}
	for _, w := range canceled {
		w.cb(nil, faodel.NewError(faodel.CodeNotFound, "lkv: %s dropped while waiting", key))
	}
	return nil
}

// ColStatus reports where key's object stands: present (InLocalMemory with
// its byte count), absent with a registered waiter (Waiting, per spec §7's
// "Waiting rather than NotFound" rule), or absent entirely (Unavailable,
// with a CodeNotFound error).
func (s *Store) ColStatus(bucket faodel.Bucket, key faodel.Key) (ColInfo, error) {
	row := s.row(bucket, key.K1, false)
	if row == nil {
		return ColInfo{}, faodel.NewError(faodel.CodeNotFound, "lkv: %s not found", key)
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if obj, ok := row.cols[key.K2]; ok {
		return ColInfo{Availability: faodel.AvailInLocalMemory, UserBytes: obj.UserBytes()}, nil
	}
	for _, w := range row.waiters {
		if w.k2 == key.K2 || w.k2 == "*" {
			return ColInfo{Availability: faodel.AvailWaiting}, nil
		}
	}
	return ColInfo{}, faodel.NewError(faodel.CodeNotFound, "lkv: %s not found", key)
}

// RowStatus reports a row's column count and total payload bytes.
func (s *Store) RowStatus(bucket faodel.Bucket, k1 string) (RowInfo, error) {
	row := s.row(bucket, k1, false)
	if row == nil {
		return RowInfo{}, faodel.NewError(faodel.CodeNotFound, "lkv: row %s not found", k1)
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	info := RowInfo{NumCols: len(row.cols)}
	for _, obj := range row.cols {
		info.TotalUserBytes += obj.UserBytes()
	}
	return info, nil
}

// List returns every concrete key matching pattern (which may use K1/K2
// wildcards) currently present in bucket.
func (s *Store) List(bucket faodel.Bucket, pattern faodel.Key) ([]faodel.Key, error) {
	var out []faodel.Key
	for k1, row := range s.matchingRowsWithKeys(bucket, pattern.K1) {
		row.mu.Lock()
		for k2 := range row.cols {
			if pattern.K2Wildcard() || k2 == pattern.K2 {
				out = append(out, faodel.Key{K1: k1, K2: k2})
			}
		}
		row.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].K1 != out[j].K1 {
			return out[i].K1 < out[j].K1
		}
		return out[i].K2 < out[j].K2
	})
	return out, nil
}

// matchingRows resolves k1Pattern (exact or "prefix*") against bucket's
// rows, returning the matched row handles. Lookup happens entirely under
// s.mu so it never races a concurrent row creation.
func (s *Store) matchingRows(bucket faodel.Bucket, k1Pattern string) []*rowData {
	out := map[string]*rowData{}
	for k1, row := range s.matchingRowsWithKeys(bucket, k1Pattern) {
		out[k1] = row
	}
	rows := make([]*rowData, 0, len(out))
	for _, row := range out {
		rows = append(rows, row)
	}
	return rows
}

func (s *Store) matchingRowsWithKeys(bucket faodel.Bucket, k1Pattern string) map[string]*rowData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.buckets[bucket]
	if !ok {
		return nil
	}

	if !strings.HasSuffix(k1Pattern, "*") {
		if row, ok := rows[k1Pattern]; ok {
			return map[string]*rowData{k1Pattern: row}
		}
		return nil
	}

	prefix := strings.TrimSuffix(k1Pattern, "*")
	out := map[string]*rowData{}
	for k1, row := range rows {
		if strings.HasPrefix(k1, prefix) {
			out[k1] = row
		}
	}
	return out
}
