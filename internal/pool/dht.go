package pool

import (
	"context"

	"github.com/faodel/kelpie/internal/dirman"
	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/lunasa"
	"github.com/faodel/kelpie/internal/poolops"
)

// DHT distributes rows across a directory's membership by a stable hash of
// the row key, so every node in the directory owns a disjoint slice of the
// key space and every row always lands on exactly one owner (spec §4.6).
// List with a wildcard row pattern fans out to every member and merges,
// since such a pattern may span owners; Compute requires a single-row
// pattern and runs on that row's owner.
type DHT struct {
	base
	r *router
}

// NewDHT builds a DHT pool over the directory url names. self is this
// node's own identity; local is the Local pool this node hosts for its own
// shard of url's rows.
func NewDHT(url faodel.ResourceURL, self faodel.NodeID, local *Local, client *poolops.Client, dir *dirman.Client) *DHT {
	return &DHT{
		base: base{url: url, bucket: url.Bucket},
		r:    &router{self: self, url: url, local: local, client: client, dir: dir},
	}
}

func (p *DHT) Kind() string { return "dht" }

// owner picks the member responsible for key's row.
func (p *DHT) owner(ctx context.Context, k1 string) (faodel.NodeID, error) {
	members, err := p.r.members(ctx)
	if err != nil {
		return 0, err
	}
	idx := int(stableHash(k1) % uint64(len(members)))
	return members[idx].NodeID, nil
}

func (p *DHT) Publish(ctx context.Context, key faodel.Key, ldo *lunasa.DataObject) error {
	owner, err := p.owner(ctx, key.K1)
	if err != nil {
		return err
	}
	return p.r.publishTo(ctx, owner, key, ldo)
}

func (p *DHT) GetBounded(ctx context.Context, key faodel.Key, maxSize int) (*lunasa.DataObject, error) {
	owner, err := p.owner(ctx, key.K1)
	if err != nil {
		return nil, err
	}
	return p.r.getFrom(ctx, opGetBounded, owner, key, maxSize)
}

func (p *DHT) GetUnbounded(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	owner, err := p.owner(ctx, key.K1)
	if err != nil {
		return nil, err
	}
	return p.r.getFrom(ctx, opGetUnbounded, owner, key, 0)
}

func (p *DHT) Want(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	owner, err := p.owner(ctx, key.K1)
	if err != nil {
		return nil, err
	}
	return p.r.getFrom(ctx, opWant, owner, key, 0)
}

func (p *DHT) Drop(ctx context.Context, key faodel.Key) error {
	if key.K1Wildcard() {
		members, err := p.r.members(ctx)
		if err != nil {
			return err
		}
		for _, m := range members {
			if err := p.r.dropFrom(ctx, m.NodeID, key); err != nil {
				return err
			}
		}
		return nil
	}
	owner, err := p.owner(ctx, key.K1)
	if err != nil {
		return err
	}
	return p.r.dropFrom(ctx, owner, key)
}

// List fans out to every member and merges, since a wildcard row pattern
// may span owners; a concrete K1 is routed to its single owner.
func (p *DHT) List(ctx context.Context, pattern faodel.Key) ([]faodel.Key, error) {
	if !pattern.K1Wildcard() {
		owner, err := p.owner(ctx, pattern.K1)
		if err != nil {
			return nil, err
		}
		return p.r.listFrom(ctx, owner, pattern)
	}
	members, err := p.r.members(ctx)
	if err != nil {
		return nil, err
	}
	var out []faodel.Key
	for _, m := range members {
		keys, err := p.r.listFrom(ctx, m.NodeID, pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
	}
	return out, nil
}

func (p *DHT) Meta(ctx context.Context, key faodel.Key) (iom.Info, error) {
	owner, err := p.owner(ctx, key.K1)
	if err != nil {
		return iom.Info{}, err
	}
	return p.r.metaFrom(ctx, owner, key)
}

// Compute is only well defined over a single row (its matching pattern must
// resolve to one owner); a cross-owner reduction would need a merge step
// this pool kind doesn't implement.
func (p *DHT) Compute(ctx context.Context, pattern faodel.Key, fnName string, args map[string]string) (*lunasa.DataObject, error) {
	if pattern.K1Wildcard() {
		return nil, faodel.NewError(faodel.CodeInvalidInput, "dht: compute requires a single-row pattern, got %s", pattern)
	}
	owner, err := p.owner(ctx, pattern.K1)
	if err != nil {
		return nil, err
	}
	return p.r.computeFrom(ctx, owner, pattern, fnName, args)
}
