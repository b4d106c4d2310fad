package pool

import (
	"context"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/lunasa"
)

// Unconfigured is the zero-value pool handle: every operation fails with
// CodeUnavailable. It exists so a variable of type Pool can be declared
// before Connect runs without a nil-pointer call being possible.
type Unconfigured struct{}

func (Unconfigured) URL() faodel.ResourceURL { return faodel.ResourceURL{} }
func (Unconfigured) Kind() string            { return "unconfigured" }

func (Unconfigured) err() error {
	return faodel.NewError(faodel.CodeUnavailable, "pool handle is unconfigured")
}

func (p Unconfigured) Publish(context.Context, faodel.Key, *lunasa.DataObject) error { return p.err() }
func (p Unconfigured) GetBounded(context.Context, faodel.Key, int) (*lunasa.DataObject, error) {
	return nil, p.err()
}
func (p Unconfigured) GetUnbounded(context.Context, faodel.Key) (*lunasa.DataObject, error) {
	return nil, p.err()
}
func (p Unconfigured) Want(context.Context, faodel.Key) (*lunasa.DataObject, error) {
	return nil, p.err()
}
func (p Unconfigured) Drop(context.Context, faodel.Key) error { return p.err() }
func (p Unconfigured) List(context.Context, faodel.Key) ([]faodel.Key, error) {
	return nil, p.err()
}
func (p Unconfigured) Meta(context.Context, faodel.Key) (iom.Info, error) {
	return iom.Info{}, p.err()
}
func (p Unconfigured) Compute(context.Context, faodel.Key, string, map[string]string) (*lunasa.DataObject, error) {
	return nil, p.err()
}
