// Package pool implements the Pool abstraction: a named, typed handle onto
// a (possibly distributed) collection of key/blob entries backed by one or
// more nodes' LKV shards and, optionally, an IOM (spec §4.6). Connect
// resolves a ResourceURL into a concrete implementation (Local, Null,
// Trace, DHT, RFT, TFT, or Unconfigured), deduping concurrent connects to
// the same URL via singleflight.
package pool

import (
	"context"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/lunasa"
)

// Pool is the operation surface every pool kind implements. Key wildcards
// are accepted by List, Compute and Drop; Publish, the Gets and Want
// require a concrete key.
type Pool interface {
	// URL returns the canonical URL this pool was connected from.
	URL() faodel.ResourceURL
	// Kind names the implementation ("local", "null", "trace", "dht",
	// "rft", "tft", "unconfigured").
	Kind() string

	Publish(ctx context.Context, key faodel.Key, ldo *lunasa.DataObject) error
	// GetBounded fetches key, expecting the caller already knows (or has
	// bounded) its size; behaviorally identical to GetUnbounded here since
	// a real RDMA-sized fast path lives at the transport layer, not here.
	GetBounded(ctx context.Context, key faodel.Key, maxSize int) (*lunasa.DataObject, error)
	// GetUnbounded fetches key without a prior size hint.
	GetUnbounded(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error)
	// Want blocks until key is published, or ctx is done.
	Want(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error)
	Drop(ctx context.Context, key faodel.Key) error
	List(ctx context.Context, pattern faodel.Key) ([]faodel.Key, error)
	Meta(ctx context.Context, key faodel.Key) (iom.Info, error)
	Compute(ctx context.Context, pattern faodel.Key, fnName string, args map[string]string) (*lunasa.DataObject, error)
}

// WantAsync issues a Want without blocking the caller: cb fires exactly
// once, either with the object once it is published or with the failure
// that canceled the wait (the entry being dropped, the pool being
// unreachable, ctx expiring). For a Local pool the callback is parked
// directly on the LKV waiter list and ctx is not consulted, so only a
// publish or a drop of the entry ends the wait; distributed kinds ride the blocking
// Want on their own goroutine, the inverse of the sync-on-async layering
// the wire ops themselves use.
func WantAsync(ctx context.Context, p Pool, key faodel.Key, cb func(*lunasa.DataObject, error)) {
	if lp, ok := p.(*Local); ok {
		if _, err := lp.store.WantCallback(lp.bucket, key, false, cb); err != nil {
			cb(nil, err)
		}
		return
	}
	go func() {
		cb(p.Want(ctx, key))
	}()
}

// base holds the fields every concrete pool kind shares.
type base struct {
	url      faodel.ResourceURL
	bucket   faodel.Bucket
	behavior Behavior
	iomRef   iom.IOM
}

func (b *base) URL() faodel.ResourceURL { return b.url }

// resolveIOM resolves a URL's iom= option and the pool's effective
// behavior. An iom= that resolves is ALWAYS attached; attaching seeds the
// behavior to withIOM (DefaultIOM, or a local-oriented variant), and an
// explicit behavior= option replaces that seeded value — the option
// overrides the default behavior, never the attachment itself. Without an
// iom the behavior is noIOM unless behavior= says otherwise.
func resolveIOM(url faodel.ResourceURL, registry *iom.Registry, noIOM, withIOM Behavior) (Behavior, iom.IOM) {
	var attached iom.IOM
	behavior := noIOM
	if registry != nil {
		if name, ok := url.GetOption("iom"); ok {
			if m, ok := registry.Get(name); ok {
				attached = m
				behavior = withIOM
			}
		}
	}
	if explicit := ParseBehavior(url.GetOptionDefault("behavior", "")); explicit != 0 {
		behavior = explicit
	}
	return behavior, attached
}
