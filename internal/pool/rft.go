package pool

import (
	"context"
	"os"
	"strconv"

	"github.com/faodel/kelpie/internal/dirman"
	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/lunasa"
	"github.com/faodel/kelpie/internal/poolops"
)

// RFT (Rank-Folding Table) is a DHT variant whose placement ignores the key
// entirely: every row in the pool lands on member `rank mod len(members)`,
// where rank is the pool's "rank" URL option (spec §4.6). It is used when a
// process wants a pool pinned to its own rank in a fixed-size deployment
// rather than hash-distributed.
type RFT struct {
	base
	r    *router
	rank int
}

// NewRFT builds an RFT pool over the directory url names, targeting the
// member at url's "rank=" option. Without the option the KELPIE_RANK
// environment variable stands in for the launcher-assigned process rank
// (default 0).
func NewRFT(url faodel.ResourceURL, self faodel.NodeID, local *Local, client *poolops.Client, dir *dirman.Client) *RFT {
	rank := 0
	v, ok := url.GetOption("rank")
	if !ok {
		v = os.Getenv("KELPIE_RANK")
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		rank = n
	}
	return &RFT{
		base: base{url: url, bucket: url.Bucket},
		r:    &router{self: self, url: url, local: local, client: client, dir: dir},
		rank: rank,
	}
}

func (p *RFT) Kind() string { return "rft" }

func (p *RFT) target(ctx context.Context) (faodel.NodeID, error) {
	members, err := p.r.members(ctx)
	if err != nil {
		return 0, err
	}
	return members[p.rank%len(members)].NodeID, nil
}

func (p *RFT) Publish(ctx context.Context, key faodel.Key, ldo *lunasa.DataObject) error {
	target, err := p.target(ctx)
	if err != nil {
		return err
	}
	return p.r.publishTo(ctx, target, key, ldo)
}

func (p *RFT) GetBounded(ctx context.Context, key faodel.Key, maxSize int) (*lunasa.DataObject, error) {
	target, err := p.target(ctx)
	if err != nil {
		return nil, err
	}
	return p.r.getFrom(ctx, opGetBounded, target, key, maxSize)
}

func (p *RFT) GetUnbounded(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	target, err := p.target(ctx)
	if err != nil {
		return nil, err
	}
	return p.r.getFrom(ctx, opGetUnbounded, target, key, 0)
}

func (p *RFT) Want(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	target, err := p.target(ctx)
	if err != nil {
		return nil, err
	}
	return p.r.getFrom(ctx, opWant, target, key, 0)
}

func (p *RFT) Drop(ctx context.Context, key faodel.Key) error {
	target, err := p.target(ctx)
	if err != nil {
		return err
	}
	return p.r.dropFrom(ctx, target, key)
}

func (p *RFT) List(ctx context.Context, pattern faodel.Key) ([]faodel.Key, error) {
	target, err := p.target(ctx)
	if err != nil {
		return nil, err
	}
	return p.r.listFrom(ctx, target, pattern)
}

func (p *RFT) Meta(ctx context.Context, key faodel.Key) (iom.Info, error) {
	target, err := p.target(ctx)
	if err != nil {
		return iom.Info{}, err
	}
	return p.r.metaFrom(ctx, target, key)
}

func (p *RFT) Compute(ctx context.Context, pattern faodel.Key, fnName string, args map[string]string) (*lunasa.DataObject, error) {
	target, err := p.target(ctx)
	if err != nil {
		return nil, err
	}
	return p.r.computeFrom(ctx, target, pattern, fnName, args)
}
