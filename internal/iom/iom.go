// Package iom defines the I/O Module interface pools attach to for
// persistence beyond the in-memory LKV shard (spec §4.6): write, read, and
// get_info. Concrete drivers (redisiom, pgiom, s3iom) live in subpackages.
package iom

import (
	"context"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/lunasa"
)

// IOM is the interface a pool's persistence backend implements.
type IOM interface {
	// Name identifies this IOM instance (matches a URL's iom= option).
	Name() string
	// Write persists ldo under bucket/key.
	Write(ctx context.Context, bucket faodel.Bucket, key faodel.Key, ldo *lunasa.DataObject) error
	// Read fetches the object at bucket/key, allocating it from allocator.
	Read(ctx context.Context, bucket faodel.Bucket, key faodel.Key, allocator *lunasa.Allocator) (*lunasa.DataObject, error)
	// GetInfo reports whether bucket/key exists and its size, without
	// fetching the data.
	GetInfo(ctx context.Context, bucket faodel.Bucket, key faodel.Key) (Info, error)
	// Drop removes bucket/key, if present.
	Drop(ctx context.Context, bucket faodel.Bucket, key faodel.Key) error
}

// Info is what GetInfo reports. Availability is from the answering
// process's vantage point: an IOM driver reports AvailInDisk, an LKV-backed
// pool reports AvailInLocalMemory, and a remote pool member's answer is
// flipped to AvailInRemoteMemory by the asking side.
type Info struct {
	Exists       bool
	DataSize     int
	Availability faodel.Availability
}

// Registry resolves iom= URL option values to a live IOM instance.
type Registry struct {
	ioms map[string]IOM
}

// NewRegistry builds an empty IOM registry.
func NewRegistry() *Registry { return &Registry{ioms: map[string]IOM{}} }

// Register adds m under its own Name().
func (r *Registry) Register(m IOM) { r.ioms[m.Name()] = m }

// Get resolves name, or (nil, false) if no such IOM was registered.
func (r *Registry) Get(name string) (IOM, bool) {
	m, ok := r.ioms[name]
	return m, ok
}
