package pool

import (
	"context"

	"github.com/faodel/kelpie/internal/dirman"
	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/lunasa"
	"github.com/faodel/kelpie/internal/poolops"
)

// TFT (Tag-Folding Table) is a DHT variant that places a row by its K1 tag
// (the "name{0xN}" suffix faodel.Key.Tag parses) mod len(members), instead
// of hashing the row name; a key with no tag falls back to DHT hashing
// (spec §4.6).
type TFT struct {
	base
	r *router
}

// NewTFT builds a TFT pool over the directory url names.
func NewTFT(url faodel.ResourceURL, self faodel.NodeID, local *Local, client *poolops.Client, dir *dirman.Client) *TFT {
	return &TFT{
		base: base{url: url, bucket: url.Bucket},
		r:    &router{self: self, url: url, local: local, client: client, dir: dir},
	}
}

func (p *TFT) Kind() string { return "tft" }

func (p *TFT) owner(ctx context.Context, k1 string) (faodel.NodeID, error) {
	members, err := p.r.members(ctx)
	if err != nil {
		return 0, err
	}
	n := len(members)
	if _, tag, ok := (faodel.Key{K1: k1}).Tag(); ok {
		return members[int(tag%uint64(n))].NodeID, nil
	}
	idx := int(stableHash(k1) % uint64(n))
	return members[idx].NodeID, nil
}

func (p *TFT) Publish(ctx context.Context, key faodel.Key, ldo *lunasa.DataObject) error {
	owner, err := p.owner(ctx, key.K1)
	if err != nil {
		return err
	}
	return p.r.publishTo(ctx, owner, key, ldo)
}

func (p *TFT) GetBounded(ctx context.Context, key faodel.Key, maxSize int) (*lunasa.DataObject, error) {
	owner, err := p.owner(ctx, key.K1)
	if err != nil {
		return nil, err
	}
	return p.r.getFrom(ctx, opGetBounded, owner, key, maxSize)
}

func (p *TFT) GetUnbounded(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	owner, err := p.owner(ctx, key.K1)
	if err != nil {
		return nil, err
	}
	return p.r.getFrom(ctx, opGetUnbounded, owner, key, 0)
}

func (p *TFT) Want(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	owner, err := p.owner(ctx, key.K1)
	if err != nil {
		return nil, err
	}
	return p.r.getFrom(ctx, opWant, owner, key, 0)
}

func (p *TFT) Drop(ctx context.Context, key faodel.Key) error {
	owner, err := p.owner(ctx, key.K1)
	if err != nil {
		return err
	}
	return p.r.dropFrom(ctx, owner, key)
}

func (p *TFT) List(ctx context.Context, pattern faodel.Key) ([]faodel.Key, error) {
	if pattern.K1Wildcard() {
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
	owner, err := p.owner(ctx, pattern.K1)
	if err != nil {
		return nil, err
	}
	return p.r.listFrom(ctx, owner, pattern)
}

func (p *TFT) Meta(ctx context.Context, key faodel.Key) (iom.Info, error) {
	owner, err := p.owner(ctx, key.K1)
	if err != nil {
		return iom.Info{}, err
	}
	return p.r.metaFrom(ctx, owner, key)
}

func (p *TFT) Compute(ctx context.Context, pattern faodel.Key, fnName string, args map[string]string) (*lunasa.DataObject, error) {
	if pattern.K1Wildcard() {
		return nil, faodel.NewError(faodel.CodeInvalidInput, "tft: compute requires a single-row pattern, got %s", pattern)
	}
	owner, err := p.owner(ctx, pattern.K1)
	if err != nil {
		return nil, err
	}
	return p.r.computeFrom(ctx, owner, pattern, fnName, args)
}
