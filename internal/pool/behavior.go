package pool

import "strings"

// Behavior is the pool_behavior_t bitset a pool URL can request via its
// "behavior=" option: where a Publish lands and where a Get looks. Base
// flags compose freely; the named aggregates below cover the common
// combinations.
type Behavior uint32

const (
	// WriteToLocal lands a Publish in this process's own LKV shard.
	WriteToLocal Behavior = 1 << iota
	// WriteToRemote sends a Publish to the placement-selected member.
	WriteToRemote
	// WriteToIOM passes a Publish through to the attached IOM.
	WriteToIOM
	// ReadToLocal caches a Get's result (from a remote member or the IOM)
	// in the local LKV shard.
	ReadToLocal
	// ReadToRemote consults the placement-selected member on a Get.
	ReadToRemote
)

// Common aggregates.
const (
	// WriteAround persists straight to the IOM, bypassing memory.
	WriteAround = WriteToIOM
	// WriteAll lands a Publish everywhere at once.
	WriteAll = WriteToLocal | WriteToRemote | WriteToIOM
	// DefaultIOM is the behavior an iom= URL option seeds when no explicit
	// behavior= replaces it.
	DefaultIOM = WriteToRemote | WriteToIOM | ReadToRemote
	// DefaultLocalIOM is DefaultIOM's shape for pools whose member is this
	// process itself.
	DefaultLocalIOM = WriteToLocal | WriteToIOM | ReadToLocal
	// DefaultRemoteIOM spells out DefaultIOM's remote orientation.
	DefaultRemoteIOM = WriteToRemote | WriteToIOM | ReadToRemote
	// DefaultCachingIOM additionally keeps a local copy of whatever a Get
	// had to fetch.
	DefaultCachingIOM = WriteToRemote | WriteToIOM | ReadToRemote | ReadToLocal
)

var behaviorNames = map[string]Behavior{
	"writetolocal":      WriteToLocal,
	"writetoremote":     WriteToRemote,
	"writetoiom":        WriteToIOM,
	"readtolocal":       ReadToLocal,
	"readtoremote":      ReadToRemote,
	"writearound":       WriteAround,
	"writeall":          WriteAll,
	"defaultiom":        DefaultIOM,
	"defaultlocaliom":   DefaultLocalIOM,
	"defaultremoteiom":  DefaultRemoteIOM,
	"defaultcachingiom": DefaultCachingIOM,
}

// ParseBehavior decodes a comma-separated behavior= option value, e.g.
// "WriteToLocal,ReadToLocal" or "DefaultCachingIOM". Tokens OR together.
// Unknown tokens are ignored, matching the forward-compatible stance the
// rest of the URL option grammar takes.
func ParseBehavior(s string) Behavior {
	var b Behavior
	for _, tok := range strings.Split(s, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if flag, ok := behaviorNames[tok]; ok {
			b |= flag
		}
	}
	return b
}

func (b Behavior) Has(flag Behavior) bool { return b&flag != 0 }
