package pool

import (
	"context"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/lkv"
	"github.com/faodel/kelpie/internal/lunasa"
)

// Local is a single-node pool: every operation hits this process's own LKV
// shard directly, optionally mirrored to an attached IOM.
type Local struct {
	base
	store *lkv.Store
}

// NewLocal builds a Local pool over store. With no iom= option the pool
// reads and writes its own shard; attaching an iom seeds DefaultLocalIOM
// (write through to the iom, cache iom reads), which an explicit
// behavior= option may replace.
func NewLocal(url faodel.ResourceURL, store *lkv.Store, registry *iom.Registry) *Local {
	behavior, m := resolveIOM(url, registry, WriteToLocal|ReadToLocal, DefaultLocalIOM)
	return &Local{base: base{url: url, bucket: url.Bucket, behavior: behavior, iomRef: m}, store: store}
}

func (p *Local) Kind() string { return "local" }

func (p *Local) Publish(ctx context.Context, key faodel.Key, ldo *lunasa.DataObject) error {
	if p.iomRef != nil && p.behavior.Has(WriteToIOM) {
		if err := p.iomRef.Write(ctx, p.bucket, key, ldo); err != nil {
			return err
		}
	}
	if !p.behavior.Has(WriteToLocal) {
		// WriteAround and friends: the IOM write above is the whole publish.
		return nil
	}
	return p.store.Put(p.bucket, key, ldo.ShallowCopy())
}

func (p *Local) GetBounded(ctx context.Context, key faodel.Key, maxSize int) (*lunasa.DataObject, error) {
	return p.get(ctx, key)
}

func (p *Local) GetUnbounded(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	return p.get(ctx, key)
}

func (p *Local) get(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	obj, err := p.store.Get(p.bucket, key)
	if faodel.CodeOf(err) == faodel.CodeNotFound && p.iomRef != nil {
		fetched, ferr := p.iomRef.Read(ctx, p.bucket, key, p.store.Allocator())
		if ferr != nil {
			return nil, ferr
		}
		if p.behavior.Has(ReadToLocal) {
			p.store.Put(p.bucket, key, fetched.ShallowCopy())
		}
		return fetched, nil
	}
	return obj, err
}

func (p *Local) Want(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	return p.store.WantLocal(ctx, p.bucket, key)
}

func (p *Local) Drop(ctx context.Context, key faodel.Key) error {
	if p.iomRef != nil {
		if err := p.iomRef.Drop(ctx, p.bucket, key); err != nil {
			return err
		}
	}
	return p.store.Drop(p.bucket, key)
}

func (p *Local) List(ctx context.Context, pattern faodel.Key) ([]faodel.Key, error) {
	return p.store.List(p.bucket, pattern)
}

func (p *Local) Meta(ctx context.Context, key faodel.Key) (iom.Info, error) {
	info, err := p.store.ColStatus(p.bucket, key)
	if err == nil {
		return iom.Info{
			Exists:       info.Availability == faodel.AvailInLocalMemory,
			DataSize:     info.UserBytes,
			Availability: info.Availability,
		}, nil
	}
	if p.iomRef != nil {
		return p.iomRef.GetInfo(ctx, p.bucket, key)
	}
	return iom.Info{}, nil
}

func (p *Local) Compute(ctx context.Context, pattern faodel.Key, fnName string, args map[string]string) (*lunasa.DataObject, error) {
	return p.store.Compute(p.bucket, pattern, fnName, args)
}
