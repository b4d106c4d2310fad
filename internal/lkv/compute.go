package lkv

import (
	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/lunasa"
)

// ComputeFunc reduces the objects matching a wildcard pattern (in sorted
// key order) plus caller-supplied args into a single result object.
type ComputeFunc func(objs []*lunasa.DataObject, keys []faodel.Key, args map[string]string) (*lunasa.DataObject, error)

// RegisterComputeFunction adds name to the registry. It must be called
// before Start; afterward the registry is immutable (spec §4.5).
func (s *Store) RegisterComputeFunction(name string, fn ComputeFunc) error {
	if s.started.Load() {
		return faodel.NewError(faodel.CodeInvalidInput, "lkv: cannot register compute function %q after Start", name)
	}
	s.computeMu.Lock()
	defer s.computeMu.Unlock()
	s.computeFns[name] = fn
	return nil
}

// Compute evaluates fnName over every object matching pattern. A pattern
// matching zero rows returns Ok with an empty DataObject rather than
// CodeNotFound (spec §9, Open Question 2); an unregistered fnName is the
// only CodeInvalidInput this call produces for a compute-time reason.
func (s *Store) Compute(bucket faodel.Bucket, pattern faodel.Key, fnName string, args map[string]string) (*lunasa.DataObject, error) {
	s.computeMu.RLock()
	fn, ok := s.computeFns[fnName]
	s.computeMu.RUnlock()
	if !ok {
		return nil, faodel.NewError(faodel.CodeInvalidInput, "lkv: unknown compute function %q", fnName)
	}

	keys, err := s.List(bucket, pattern)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return s.allocator.Allocate(0)
	}

	objs := make([]*lunasa.DataObject, 0, len(keys))
	defer func() {
		for _, o := range objs {
			o.Free()
		}
	}()
	for _, k := range keys {
		obj, err := s.Get(bucket, k)
		if err != nil {
			continue // dropped between List and Get; skip it
		}
		objs = append(objs, obj)
	}

	return fn(objs, keys, args)
}
