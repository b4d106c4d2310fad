package pool

import (
	"context"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/lunasa"
)

// Null discards every Publish and reports every Get as CodeNotFound — a
// pool kind useful as a benchmark sink or a disabled output slot.
type Null struct {
	base
}

// NewNull builds a Null pool for url.
func NewNull(url faodel.ResourceURL) *Null {
	return &Null{base: base{url: url, bucket: url.Bucket}}
}

func (p *Null) Kind() string { return "null" }

func (p *Null) Publish(context.Context, faodel.Key, *lunasa.DataObject) error { return nil }

func (p *Null) GetBounded(ctx context.Context, key faodel.Key, maxSize int) (*lunasa.DataObject, error) {
	return nil, faodel.NewError(faodel.CodeNotFound, "null pool: %s", key)
}

func (p *Null) GetUnbounded(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	return nil, faodel.NewError(faodel.CodeNotFound, "null pool: %s", key)
}

func (p *Null) Want(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	<-ctx.Done()
	return nil, faodel.Wrap(faodel.CodeUnavailable, ctx.Err(), "null pool: want never resolves")
}

func (p *Null) Drop(context.Context, faodel.Key) error { return nil }

func (p *Null) List(context.Context, faodel.Key) ([]faodel.Key, error) { return nil, nil }

func (p *Null) Meta(context.Context, faodel.Key) (iom.Info, error) { return iom.Info{}, nil }

func (p *Null) Compute(ctx context.Context, pattern faodel.Key, fnName string, args map[string]string) (*lunasa.DataObject, error) {
	return nil, faodel.NewError(faodel.CodeNotFound, "null pool: no rows to compute over")
}
