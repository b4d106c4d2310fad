package pool

import (
	"context"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/logging"
	"github.com/faodel/kelpie/internal/lunasa"
)

// Trace wraps another pool and logs every call through it at debug level —
// useful for diagnosing placement or IOM behavior without instrumenting
// the caller (spec §4.6).
type Trace struct {
	base
	inner Pool
}

// NewTrace wraps inner under url's own identity.
func NewTrace(url faodel.ResourceURL, inner Pool) *Trace {
	return &Trace{base: base{url: url, bucket: url.Bucket}, inner: inner}
}

func (p *Trace) Kind() string { return "trace" }

func (p *Trace) Publish(ctx context.Context, key faodel.Key, ldo *lunasa.DataObject) error {
	err := p.inner.Publish(ctx, key, ldo)
	logging.Op().Debug("trace: publish", "key", key.String(), "error", err)
	return err
}

func (p *Trace) GetBounded(ctx context.Context, key faodel.Key, maxSize int) (*lunasa.DataObject, error) {
	obj, err := p.inner.GetBounded(ctx, key, maxSize)
	logging.Op().Debug("trace: get_bounded", "key", key.String(), "error", err)
	return obj, err
}

func (p *Trace) GetUnbounded(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	obj, err := p.inner.GetUnbounded(ctx, key)
	logging.Op().Debug("trace: get_unbounded", "key", key.String(), "error", err)
	return obj, err
}

func (p *Trace) Want(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error) {
	obj, err := p.inner.Want(ctx, key)
	logging.Op().Debug("trace: want", "key", key.String(), "error", err)
	return obj, err
}

func (p *Trace) Drop(ctx context.Context, key faodel.Key) error {
	err := p.inner.Drop(ctx, key)
	logging.Op().Debug("trace: drop", "key", key.String(), "error", err)
	return err
}

func (p *Trace) List(ctx context.Context, pattern faodel.Key) ([]faodel.Key, error) {
	keys, err := p.inner.List(ctx, pattern)
	logging.Op().Debug("trace: list", "pattern", pattern.String(), "count", len(keys), "error", err)
	return keys, err
}

func (p *Trace) Meta(ctx context.Context, key faodel.Key) (iom.Info, error) {
	info, err := p.inner.Meta(ctx, key)
	logging.Op().Debug("trace: meta", "key", key.String(), "error", err)
	return info, err
}

func (p *Trace) Compute(ctx context.Context, pattern faodel.Key, fnName string, args map[string]string) (*lunasa.DataObject, error) {
	obj, err := p.inner.Compute(ctx, pattern, fnName, args)
	logging.Op().Debug("trace: compute", "pattern", pattern.String(), "fn", fnName, "error", err)
	return obj, err
}
