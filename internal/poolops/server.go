package poolops

import (
	"context"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/lunasa"
	"github.com/faodel/kelpie/internal/message"
	"github.com/faodel/kelpie/internal/opbox"
)

// LocalPool is the subset of pool.Pool's method set poolops needs to serve
// a remote request against a locally hosted pool. It is declared here
// (rather than imported from package pool) so pool can depend on poolops
// for its DHT/RFT/TFT remote-member path without an import cycle; any
// pool.Pool implementation satisfies this interface structurally.
type LocalPool interface {
	Publish(ctx context.Context, key faodel.Key, ldo *lunasa.DataObject) error
	GetBounded(ctx context.Context, key faodel.Key, maxSize int) (*lunasa.DataObject, error)
	GetUnbounded(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error)
	Want(ctx context.Context, key faodel.Key) (*lunasa.DataObject, error)
	Drop(ctx context.Context, key faodel.Key) error
	List(ctx context.Context, pattern faodel.Key) ([]faodel.Key, error)
	Meta(ctx context.Context, key faodel.Key) (iom.Info, error)
	Compute(ctx context.Context, pattern faodel.Key, fnName string, args map[string]string) (*lunasa.DataObject, error)
}

// Registry resolves a pool's canonical URL tag to its locally hosted
// instance, so a Server can serve requests against whichever pools this
// node happens to host.
type Registry struct {
	pools map[string]LocalPool
}

// NewRegistry returns an empty pool registry.
func NewRegistry() *Registry { return &Registry{pools: map[string]LocalPool{}} }

// Put registers p under its canonical tag.
func (r *Registry) Put(tag string, p LocalPool) { r.pools[tag] = p }

// Get resolves tag.
func (r *Registry) Get(tag string) (LocalPool, bool) {
	p, ok := r.pools[tag]
	return p, ok
}

const opPoolRPC = "poolops.rpc"

// RegisterServerOps installs the target-side handler so remote nodes can
// reach pools this process hosts.
func RegisterServerOps(rt *opbox.Runtime, transport message.Transport, registry *Registry) error {
	_, err := rt.RegisterOp(opPoolRPC, func() opbox.Op {
		return &serverTarget{
			registry:  registry,
			runtime:   rt,
			transport: transport,
			allocator: transport.Allocator(),
		}
	})
	return err
}

// serverTarget states.
const (
	stFresh = iota
	stPullingPublish // pulling a large Publish's payload from the origin
	stAwaitingRelease // reply with descriptors sent; bounce pinned until pull_done
)

type serverTarget struct {
	registry  *Registry
	runtime   *opbox.Runtime
	transport message.Transport
	allocator *lunasa.Allocator

	mailbox uint64
	state   int

	// pulling-publish context
	reqMsg message.Message
	pubReq wireRequest
	pubObj *lunasa.DataObject

	remaining int
	bounce    *lunasa.DataObject
}

// SetMailbox records this instance's own mailbox so replies can advertise
// it as the pull holder (opbox.MailboxHolder).
func (t *serverTarget) SetMailbox(mailbox uint64) { t.mailbox = mailbox }

func (t *serverTarget) UpdateOrigin(message.OpArgs) (opbox.WaitingType, error) {
	panic("serverTarget never plays the origin role")
}

func (t *serverTarget) UpdateTarget(args message.OpArgs) (opbox.WaitingType, error) {
	switch t.state {
	case stFresh:
		return t.handleFresh(args)
	case stPullingPublish:
		return t.handlePullCompletion(args)
	default: // stAwaitingRelease
		// The only thing that can reach this mailbox now is the origin's
		// pull_done notice.
		t.bounce.Free()
		t.bounce = nil
		return opbox.DoneAndDestroy, nil
	}
}

func (t *serverTarget) handleFresh(args message.OpArgs) (opbox.WaitingType, error) {
	req := args.Message
	var wreq wireRequest
	if err := message.DecodeValue(req.Body, &wreq); err != nil {
		return opbox.OpFailed, err
	}
	if wreq.Op == opPullDone {
		// A stray release notice whose holder already retired; nothing held.
		return opbox.DoneAndDestroy, nil
	}
	if wreq.Op == opPublish && wreq.Pull != nil {
		return t.startPublishPull(req, wreq)
	}

	resp, bounce := t.handle(wreq)
	if bounce != nil {
		pull, err := pullForObject(bounce, t.mailbox)
		if err != nil {
			bounce.Free()
			bounce = nil
			resp = errResponse(err)
		} else {
			resp.Pull = pull
		}
	}
	if err := t.reply(req, resp); err != nil {
		if bounce != nil {
			bounce.Free()
		}
		return opbox.OpFailed, err
	}
	if bounce != nil {
		t.bounce = bounce
		t.state = stAwaitingRelease
		return opbox.WaitingOnCQ, nil
	}
	return opbox.DoneAndDestroy, nil
}

// startPublishPull allocates the landing object for a large Publish and
// pulls the payload from the origin's pinned memory.
func (t *serverTarget) startPublishPull(req message.Message, wreq wireRequest) (opbox.WaitingType, error) {
	p := wreq.Pull
	obj, err := t.allocator.Allocate(p.MetaBytes + p.DataBytes)
	if err != nil {
		t.reply(req, errResponse(err))
		return opbox.OpFailed, err
	}
	if err := obj.ModifyUserSizes(p.MetaBytes, p.DataBytes); err != nil {
		obj.Free()
		t.reply(req, errResponse(err))
		return opbox.OpFailed, err
	}
	obj.SetTypeID(p.TypeID)

	tasks, err := rdmaGetTasks(obj, p)
	if err != nil {
		obj.Free()
		t.reply(req, errResponse(err))
		return opbox.OpFailed, err
	}

	t.reqMsg = req
	t.pubReq = wreq
	t.pubObj = obj

	if len(tasks) == 0 {
		return t.finishPublishPull()
	}

	peer, err := t.transport.Connect(req.Header.Src)
	if err != nil {
		obj.Free()
		t.pubObj = nil
		t.reply(req, errResponse(err))
		return opbox.OpFailed, err
	}

	t.state = stPullingPublish
	t.remaining = len(tasks)
	for _, tk := range tasks {
		err := t.transport.Get(peer, tk.local, tk.remote, tk.remote.Length, func(cbargs message.OpArgs) {
			go t.runtime.TriggerOp(t.mailbox, cbargs)
		})
		if err != nil {
			t.pubObj.Free()
			t.pubObj = nil
			t.reply(req, errResponse(err))
			return opbox.OpFailed, err
		}
	}
	return opbox.WaitingOnCQ, nil
}

func (t *serverTarget) handlePullCompletion(args message.OpArgs) (opbox.WaitingType, error) {
	switch args.Kind {
	case message.SendSuccess:
		t.remaining--
		if t.remaining > 0 {
			return opbox.WaitingOnCQ, nil
		}
		return t.finishPublishPull()
	case message.SendFailure:
		err := args.Err
		if err == nil {
			err = faodel.NewError(faodel.CodeCommunicationError, "poolops: publish pull failed")
		}
		t.pubObj.Free()
		t.pubObj = nil
		t.reply(t.reqMsg, errResponse(err))
		return opbox.OpFailed, err
	default:
		return opbox.WaitingOnCQ, nil
	}
}

// finishPublishPull lands the fully pulled object in the local pool and
// acks the origin.
func (t *serverTarget) finishPublishPull() (opbox.WaitingType, error) {
	resp := wireResponse{}
	p, ok := t.registry.Get(t.pubReq.PoolURL)
	if !ok {
		resp = errResponse(faodel.NewError(faodel.CodeNotFound, "poolops: no local pool for %s", t.pubReq.PoolURL))
	} else if err := p.Publish(context.Background(), t.pubReq.Key.toKey(), t.pubObj); err != nil {
		resp = errResponse(err)
	}
	t.pubObj.Free()
	t.pubObj = nil
	if err := t.reply(t.reqMsg, resp); err != nil {
		return opbox.OpFailed, err
	}
	return opbox.DoneAndDestroy, nil
}

func (t *serverTarget) reply(req message.Message, resp wireResponse) error {
	reply, err := message.NewValueReply(req, t.mailbox, resp)
	if err != nil {
		return err
	}
	peer, err := t.transport.Connect(req.Header.Src)
	if err != nil {
		return err
	}
	return t.transport.SendMsg(peer, reply, nil)
}

// Close releases anything a torn-down instance still pins.
func (t *serverTarget) Close() {
	if t.pubObj != nil {
		t.pubObj.Free()
		t.pubObj = nil
	}
	if t.bounce != nil {
		t.bounce.Free()
		t.bounce = nil
	}
}

// handle serves every single-shot request. Get-style ops whose payload
// exceeds MaxEagerBytes return the object itself as a bounce buffer instead
// of encoding it, leaving the caller to advertise its descriptors; the
// caller owns the returned object until the origin's pull finishes.
func (t *serverTarget) handle(req wireRequest) (wireResponse, *lunasa.DataObject) {
	p, ok := t.registry.Get(req.PoolURL)
	if !ok {
		return errResponse(faodel.NewError(faodel.CodeNotFound, "poolops: no local pool for %s", req.PoolURL)), nil
	}
	ctx := context.Background()
	key := req.Key.toKey()

	switch req.Op {
	case opPublish:
		ldo, err := decodeObject(req.DataHex, t.allocator)
		if err != nil {
			return errResponse(err), nil
		}
		defer ldo.Free()
		if err := p.Publish(ctx, key, ldo); err != nil {
			return errResponse(err), nil
		}
		return wireResponse{}, nil
	case opGetBounded, opGetUnbounded, opWant, opCompute:
		var obj *lunasa.DataObject
		var err error
		switch req.Op {
		case opGetBounded:
			obj, err = p.GetBounded(ctx, key, req.MaxSize)
		case opGetUnbounded:
			obj, err = p.GetUnbounded(ctx, key)
		case opWant:
			obj, err = p.Want(ctx, key)
		default:
			obj, err = p.Compute(ctx, key, req.FnName, req.Args)
		}
		if err != nil {
			return errResponse(err), nil
		}
		if size := obj.UserBytes(); req.Op == opGetBounded && req.MaxSize > 0 && size > req.MaxSize {
			obj.Free()
			return errResponse(faodel.NewError(faodel.CodeInvalidInput,
				"poolops: object %s is %d bytes, over the caller's %d-byte bound", key, size, req.MaxSize)), nil
		}
		if obj.UserBytes() > MaxEagerBytes {
			return wireResponse{}, obj
		}
		defer obj.Free()
		hexData, err := encodeObject(obj)
		if err != nil {
			return errResponse(err), nil
		}
		return wireResponse{DataHex: hexData}, nil
	case opDrop:
		if err := p.Drop(ctx, key); err != nil {
			return errResponse(err), nil
		}
		return wireResponse{}, nil
	case opList:
		keys, err := p.List(ctx, key)
		if err != nil {
			return errResponse(err), nil
		}
		resp := wireResponse{}
		for _, k := range keys {
			resp.Keys = append(resp.Keys, toWireKey(k))
		}
		return resp, nil
	case opMeta:
		info, err := p.Meta(ctx, key)
		if err != nil {
			return errResponse(err), nil
		}
		return wireResponse{Exists: info.Exists, Size: info.DataSize, Avail: int(info.Availability)}, nil
	default:
		return errResponse(faodel.NewError(faodel.CodeInvalidInput, "poolops: unknown op %q", req.Op)), nil
	}
}
