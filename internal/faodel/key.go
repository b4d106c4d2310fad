package faodel

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is a two-part key: K1 ("row") selects a target node, K2 ("column")
// distinguishes items within a row. K1 may end in "*" to form a prefix
// wildcard; K2 is a wildcard only when it is exactly "*" (all columns), and a
// K2 ending in "*" after other text is treated as a literal column name.
type Key struct {
	K1 string
	K2 string
}

// NewKey builds a Key from a row and column.
func NewKey(k1, k2 string) Key { return Key{K1: k1, K2: k2} }

// String renders "k1|k2" for logging and map-style debugging.
func (k Key) String() string {
	return k.K1 + "|" + k.K2
}

// K1Wildcard reports whether K1 ends in "*", matching all rows with that prefix.
func (k Key) K1Wildcard() bool { return strings.HasSuffix(k.K1, "*") }

// K2Wildcard reports whether K2 is exactly "*", matching all columns in a row.
func (k Key) K2Wildcard() bool { return k.K2 == "*" }

// K1Prefix returns K1 with any trailing "*" stripped and the tag suffix
// removed, suitable for prefix matching.
func (k Key) K1Prefix() string {
	base, _ := k.K1WithoutTag()
	return strings.TrimSuffix(base, "*")
}

// HasWildcard reports whether either half of the key is a wildcard.
func (k Key) HasWildcard() bool { return k.K1Wildcard() || k.K2Wildcard() }

// K1WithoutTag strips an optional "{0xN}" tag suffix from K1, returning the
// bare row name and whether a tag was present.
func (k Key) K1WithoutTag() (string, bool) {
	base, _, ok := k.Tag()
	if !ok {
		return k.K1, false
	}
	return base, true
}

// Tag parses the textual "name{0xN}" encoding of a K1 tag used by TFT pools.
// It returns the bare name, the parsed tag value, and whether a tag was
// present at all.
func (k Key) Tag() (name string, tag uint64, ok bool) {
	open := strings.LastIndexByte(k.K1, '{')
	if open < 0 || !strings.HasSuffix(k.K1, "}") {
		return k.K1, 0, false
	}
	inner := k.K1[open+1 : len(k.K1)-1]
	v, err := strconv.ParseUint(strings.TrimPrefix(inner, "0x"), 16, 64)
	if err != nil {
		return k.K1, 0, false
	}
	return k.K1[:open], v, true
}

// WithTag returns a copy of name with a K1 tag encoded, e.g. WithTag("foo", 3) == "foo{0x3}".
func WithTag(name string, tag uint64) string {
	return fmt.Sprintf("%s{0x%x}", name, tag)
}

// Matches reports whether this key (which may contain wildcards) matches a
// concrete, wildcard-free candidate key.
func (k Key) Matches(candidate Key) bool {
	if k.K1Wildcard() {
		if !strings.HasPrefix(candidate.K1, k.K1Prefix()) {
			return false
		}
	} else if base, _ := k.K1WithoutTag(); base != func() string { b, _ := candidate.K1WithoutTag(); return b }() {
		return false
	}
	if k.K2Wildcard() {
		return true
	}
	return k.K2 == candidate.K2
}
