package pool

import (
	"context"

	"github.com/cespare/xxhash/v2"

	"github.com/faodel/kelpie/internal/dirman"
	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/lunasa"
	"github.com/faodel/kelpie/internal/poolops"
)

// Local op tags used only to pick a branch inside getFrom; distinct from
// poolops' own (unexported) wire op constants.
const (
	opGetBounded   = "get_bounded"
	opGetUnbounded = "get_unbounded"
	opWant         = "want"
)

// stableHash is the placement hash DHT uses (and TFT, for rows without a
// tag; RFT places by rank and does not hash): it hashes a row key (K1) so every column within a row colocates on the same
// member, matching the row-level locking LKV itself uses.
func stableHash(k1 string) uint64 { return xxhash.Sum64String(k1) }

// router resolves a distributed pool's current membership and dispatches
// an operation either to the local pool instance (if this node is a
// target) or over poolops to a remote member.
type router struct {
	self   faodel.NodeID
	url    faodel.ResourceURL
	local  *Local
	client *poolops.Client
	dir    *dirman.Client
}

func (r *router) members(ctx context.Context) ([]dirman.Member, error) {
	info, err := r.dir.Locate(ctx, r.url)
	if err != nil {
		return nil, err
	}
	if len(info.Members) == 0 {
		return nil, faodel.NewError(faodel.CodeUnavailable, "pool %s has no members yet", r.url)
	}
	return info.Members, nil
}

func (r *router) publishTo(ctx context.Context, target faodel.NodeID, key faodel.Key, ldo *lunasa.DataObject) error {
	if target == r.self {
		return r.local.Publish(ctx, key, ldo)
	}
	return r.client.Publish(ctx, target, r.url.CanonicalTag(), key, ldo)
}

func (r *router) getFrom(ctx context.Context, op string, target faodel.NodeID, key faodel.Key, maxSize int) (*lunasa.DataObject, error) {
	if target == r.self {
		switch op {
		case opGetBounded:
			return r.local.GetBounded(ctx, key, maxSize)
		case opWant:
			return r.local.Want(ctx, key)
		default:
			return r.local.GetUnbounded(ctx, key)
		}
	}
	switch op {
	case opGetBounded:
		return r.client.GetBounded(ctx, target, r.url.CanonicalTag(), key, maxSize)
	case opWant:
		return r.client.Want(ctx, target, r.url.CanonicalTag(), key)
	default:
		return r.client.GetUnbounded(ctx, target, r.url.CanonicalTag(), key)
	}
}

func (r *router) dropFrom(ctx context.Context, target faodel.NodeID, key faodel.Key) error {
	if target == r.self {
		return r.local.Drop(ctx, key)
	}
	return r.client.Drop(ctx, target, r.url.CanonicalTag(), key)
}

func (r *router) listFrom(ctx context.Context, target faodel.NodeID, pattern faodel.Key) ([]faodel.Key, error) {
	if target == r.self {
		return r.local.List(ctx, pattern)
	}
	return r.client.List(ctx, target, r.url.CanonicalTag(), pattern)
}

func (r *router) metaFrom(ctx context.Context, target faodel.NodeID, key faodel.Key) (iom.Info, error) {
	if target == r.self {
		return r.local.Meta(ctx, key)
	}
	return r.client.Meta(ctx, target, r.url.CanonicalTag(), key)
}

func (r *router) computeFrom(ctx context.Context, target faodel.NodeID, pattern faodel.Key, fnName string, args map[string]string) (*lunasa.DataObject, error) {
	if target == r.self {
		return r.local.Compute(ctx, pattern, fnName, args)
	}
	return r.client.Compute(ctx, target, r.url.CanonicalTag(), pattern, fnName, args)
}
