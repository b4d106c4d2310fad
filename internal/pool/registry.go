package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/faodel/kelpie/internal/dirman"
	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/lkv"
	"github.com/faodel/kelpie/internal/logging"
	"github.com/faodel/kelpie/internal/poolops"
)

// Registry resolves ResourceURLs into concrete Pool handles, caching one
// handle per canonical tag and deduplicating concurrent Connect calls to
// the same tag with singleflight (spec §4.6, §9 DOMAIN STACK).
type Registry struct {
	self    faodel.NodeID
	store   *lkv.Store
	ioms    *iom.Registry
	client  *poolops.Client
	dir     *dirman.Client

	mu    sync.RWMutex
	pools map[string]Pool

	group singleflight.Group
}

// NewRegistry builds a Registry. dir may be nil if only local/null/trace
// pools will ever be connected (no distributed placement needs a
// directory lookup); client may be nil under the same condition.
func NewRegistry(self faodel.NodeID, store *lkv.Store, ioms *iom.Registry, client *poolops.Client, dir *dirman.Client) *Registry {
	return &Registry{self: self, store: store, ioms: ioms, client: client, dir: dir, pools: map[string]Pool{}}
}

// Snapshot returns every currently connected pool's URL and kind, keyed by
// canonical tag — introspection support for a status endpoint.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.pools))
	for tag, p := range r.pools {
		out[tag] = p.Kind()
	}
	return out
}

// Connect resolves url into a Pool, reusing an existing handle for the
// same canonical tag. On any resolution failure it returns an Unconfigured
// pool carrying the error, never nil, matching spec §4.6's Connect
// contract — but also returns the error so callers that want to fail fast
// still can.
func (r *Registry) Connect(ctx context.Context, url faodel.ResourceURL) (Pool, error) {
	tag := url.CanonicalTag()

	r.mu.RLock()
	if p, ok := r.pools[tag]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(tag, func() (interface{}, error) {
		r.mu.RLock()
		if p, ok := r.pools[tag]; ok {
			r.mu.RUnlock()
			return p, nil
		}
		r.mu.RUnlock()

		p, err := r.build(ctx, url)
		if err != nil {
			logging.Op().Debug("pool connect failed", "url", url.String(), "error", err)
			return Unconfigured{}, err
		}

		r.mu.Lock()
		if existing, ok := r.pools[tag]; ok {
			r.mu.Unlock()
			return existing, nil
		}
		r.pools[tag] = p
		r.mu.Unlock()
		return p, nil
	})

	return v.(Pool), err
}

func (r *Registry) build(ctx context.Context, url faodel.ResourceURL) (Pool, error) {
	switch url.ResourceType {
	case "ref":
		// A reference-only URL says nothing about the pool kind; the
		// directory it names does. Resolve it, merge the reference URL's
		// own options over the resolved one, and build that.
		if r.dir == nil {
			return nil, faodel.NewError(faodel.CodeUnavailable, "pool: no dirman client to resolve %s", url)
		}
		info, err := r.dir.Locate(ctx, url)
		if err != nil {
			return nil, err
		}
		resolved := info.URL
		if resolved.ResourceType == "" || resolved.ResourceType == "ref" {
			return nil, faodel.NewError(faodel.CodeInvalidInput, "pool: %s resolved to an untyped directory", url)
		}
		for _, k := range url.OptionKeys() {
			v, _ := url.GetOption(k)
			resolved.SetOption(k, v)
		}
		return r.build(ctx, resolved)
	case "lkv", "local":
		return NewLocal(url, r.store, r.ioms), nil
	case "null":
		return NewNull(url), nil
	case "dht":
		return NewDHT(url, r.self, r.localFor(url), r.client, r.dir), nil
	case "rft":
		return NewRFT(url, r.self, r.localFor(url), r.client, r.dir), nil
	case "tft":
		return NewTFT(url, r.self, r.localFor(url), r.client, r.dir), nil
	case "trace":
		target, ok := url.GetOption("target")
		if !ok {
			return nil, faodel.NewError(faodel.CodeInvalidInput, "trace pool %s missing target= option", url)
		}
		innerURL, err := faodel.ParseResourceURL(target)
		if err != nil {
			return nil, err
		}
		inner, err := r.Connect(ctx, innerURL)
		if err != nil {
			return nil, err
		}
		return NewTrace(url, inner), nil
	default:
		return nil, faodel.NewError(faodel.CodeInvalidInput, "pool: unrecognized resource type %q", url.ResourceType)
	}
}

// localFor builds the Local pool a distributed kind falls back to when
// placement resolves to this node, sharing this node's own LKV shard and
// iom registry under url's bucket/options.
func (r *Registry) localFor(url faodel.ResourceURL) *Local {
	return NewLocal(url, r.store, r.ioms)
}
