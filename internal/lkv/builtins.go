package lkv

import (
	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/lunasa"
)

// RegisterBuiltins installs the compute functions every Store carries by
// default. It is called from NewStore, before Start, so callers may still
// shadow these names with their own registration if they choose.
func RegisterBuiltins(s *Store) {
	_ = s.RegisterComputeFunction("pick", pick)
}

// pick implements the built-in reduction named by args["mode"]:
// first/last (by sorted key order) or smallest/largest (by data byte
// length, ties broken by key order). It always hands back a deep copy so
// the caller's cleanup of the input objects after Compute returns is safe.
func pick(objs []*lunasa.DataObject, keys []faodel.Key, args map[string]string) (*lunasa.DataObject, error) {
	mode := args["mode"]
	if mode == "" {
		mode = "first"
	}

	var idx int
	switch mode {
	case "first":
		idx = 0
	case "last":
		idx = len(objs) - 1
	case "smallest":
		idx = extremeByLen(objs, false)
	case "largest":
		idx = extremeByLen(objs, true)
	default:
		return nil, faodel.NewError(faodel.CodeInvalidInput, "lkv: pick: unknown mode %q", mode)
	}
	return objs[idx].DeepCopy()
}

func extremeByLen(objs []*lunasa.DataObject, wantLargest bool) int {
	best := 0
	for i := 1; i < len(objs); i++ {
		if wantLargest && objs[i].DataBytes() > objs[best].DataBytes() {
			best = i
		}
		if !wantLargest && objs[i].DataBytes() < objs[best].DataBytes() {
			best = i
		}
	}
	return best
}
