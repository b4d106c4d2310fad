package poolops

import (
	"context"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/lunasa"
	"github.com/faodel/kelpie/internal/message"
	"github.com/faodel/kelpie/internal/opbox"
)

// Client issues pool operations against a remote node's locally hosted
// pool (resolved there by poolURL, its canonical tag).
//
// Objects above MaxEagerBytes ride the RDMA pull protocol instead of the
// inline body, so a large Publish's payload must come from an allocator
// whose pin callbacks are wired to this client's transport (the transport's
// own allocator always qualifies).
type Client struct {
	runtime   *opbox.Runtime
	transport message.Transport
	allocator *lunasa.Allocator
}

// NewClient builds a Client over rt/transport. rt must already be started.
func NewClient(rt *opbox.Runtime, transport message.Transport) *Client {
	return &Client{runtime: rt, transport: transport, allocator: transport.Allocator()}
}

// callResult is what a finished exchange hands back: the decoded reply
// plus, when the payload traveled by RDMA pull, the pulled object.
type callResult struct {
	resp wireResponse
	obj  *lunasa.DataObject
}

func (c *Client) call(ctx context.Context, target faodel.NodeID, req wireRequest) (wireResponse, *lunasa.DataObject, error) {
	peer, err := c.transport.Connect(target)
	if err != nil {
		return wireResponse{}, nil, err
	}
	future := opbox.NewFuture[callResult]()
	c.runtime.LaunchOp(opbox.OpcodeFromName(opPoolRPC), func(mailbox uint64) opbox.Op {
		return &clientOrigin{
			runtime:   c.runtime,
			transport: c.transport,
			allocator: c.allocator,
			peer:      peer,
			mailbox:   mailbox,
			req:       req,
			future:    future,
		}
	})
	r, err := future.Wait(ctx)
	if err != nil {
		return wireResponse{}, nil, err
	}
	return r.resp, r.obj, nil
}

func (c *Client) Publish(ctx context.Context, target faodel.NodeID, poolURL string, key faodel.Key, ldo *lunasa.DataObject) error {
	req := wireRequest{Op: opPublish, PoolURL: poolURL, Key: toWireKey(key)}
	if ldo.UserBytes() > MaxEagerBytes {
		pull, err := pullForObject(ldo, 0)
		if err != nil {
			return err
		}
		req.Pull = pull
	} else {
		hexData, err := encodeObject(ldo)
		if err != nil {
			return err
		}
		req.DataHex = hexData
	}
	_, _, err := c.call(ctx, target, req)
	return err
}

func (c *Client) get(ctx context.Context, op string, target faodel.NodeID, poolURL string, key faodel.Key, maxSize int) (*lunasa.DataObject, error) {
	resp, obj, err := c.call(ctx, target, wireRequest{Op: op, PoolURL: poolURL, Key: toWireKey(key), MaxSize: maxSize})
	if err != nil {
		return nil, err
	}
	if obj != nil {
		return obj, nil
	}
	return decodeObject(resp.DataHex, c.allocator)
}

func (c *Client) GetBounded(ctx context.Context, target faodel.NodeID, poolURL string, key faodel.Key, maxSize int) (*lunasa.DataObject, error) {
	return c.get(ctx, opGetBounded, target, poolURL, key, maxSize)
}

func (c *Client) GetUnbounded(ctx context.Context, target faodel.NodeID, poolURL string, key faodel.Key) (*lunasa.DataObject, error) {
	return c.get(ctx, opGetUnbounded, target, poolURL, key, 0)
}

func (c *Client) Want(ctx context.Context, target faodel.NodeID, poolURL string, key faodel.Key) (*lunasa.DataObject, error) {
	return c.get(ctx, opWant, target, poolURL, key, 0)
}

func (c *Client) Drop(ctx context.Context, target faodel.NodeID, poolURL string, key faodel.Key) error {
	_, _, err := c.call(ctx, target, wireRequest{Op: opDrop, PoolURL: poolURL, Key: toWireKey(key)})
	return err
}

func (c *Client) List(ctx context.Context, target faodel.NodeID, poolURL string, pattern faodel.Key) ([]faodel.Key, error) {
	resp, _, err := c.call(ctx, target, wireRequest{Op: opList, PoolURL: poolURL, Key: toWireKey(pattern)})
	if err != nil {
		return nil, err
	}
	keys := make([]faodel.Key, 0, len(resp.Keys))
	for _, k := range resp.Keys {
		keys = append(keys, k.toKey())
	}
	return keys, nil
}

func (c *Client) Meta(ctx context.Context, target faodel.NodeID, poolURL string, key faodel.Key) (iom.Info, error) {
	resp, _, err := c.call(ctx, target, wireRequest{Op: opMeta, PoolURL: poolURL, Key: toWireKey(key)})
	if err != nil {
		return iom.Info{}, err
	}
	avail := faodel.Availability(resp.Avail)
	// The target reported where the object sits from its own vantage; from
	// this process's side "their local memory" is remote memory.
	if avail == faodel.AvailInLocalMemory {
		avail = faodel.AvailInRemoteMemory
	}
	return iom.Info{Exists: resp.Exists, DataSize: resp.Size, Availability: avail}, nil
}

func (c *Client) Compute(ctx context.Context, target faodel.NodeID, poolURL string, pattern faodel.Key, fnName string, args map[string]string) (*lunasa.DataObject, error) {
	resp, obj, err := c.call(ctx, target, wireRequest{Op: opCompute, PoolURL: poolURL, Key: toWireKey(pattern), FnName: fnName, Args: args})
	if err != nil {
		return nil, err
	}
	if obj != nil {
		return obj, nil
	}
	return decodeObject(resp.DataHex, c.allocator)
}

// rdmaGetTask pairs one local landing descriptor with the remote descriptor
// to pull from.
type rdmaGetTask struct {
	local  lunasa.SegmentDescriptor
	remote lunasa.SegmentDescriptor
}

// rdmaGetTasks lays pull's remote meta/data ranges against obj's own
// freshly allocated meta/data regions, one task per contiguous remote
// range. obj must already have its user sizes set to pull's.
func rdmaGetTasks(obj *lunasa.DataObject, pull *wirePull) ([]rdmaGetTask, error) {
	var tasks []rdmaGetTask
	lay := func(region lunasa.Region, remote []wireDesc) error {
		if len(remote) == 0 {
			return nil
		}
		local, err := obj.RDMASegments(region)
		if err != nil {
			return err
		}
		if len(local) == 0 {
			return faodel.NewError(faodel.CodeFatal, "poolops: no local landing descriptor for pulled region")
		}
		base := local[0]
		off := 0
		for _, rd := range remote {
			tasks = append(tasks, rdmaGetTask{
				local:  lunasa.SegmentDescriptor{Handle: base.Handle, Offset: base.Offset + off, Length: rd.Length},
				remote: rd.toDesc(),
			})
			off += rd.Length
		}
		return nil
	}
	if err := lay(lunasa.RegionMeta, pull.Meta); err != nil {
		return nil, err
	}
	if err := lay(lunasa.RegionData, pull.Data); err != nil {
		return nil, err
	}
	return tasks, nil
}

// clientOrigin drives one request/reply exchange from the origin side,
// including the optional pull phase when the reply advertises descriptors
// instead of inline bytes.
type clientOrigin struct {
	runtime   *opbox.Runtime
	transport message.Transport
	allocator *lunasa.Allocator
	peer      message.Peer
	mailbox   uint64
	req       wireRequest
	future    *opbox.Future[callResult]

	sent        bool
	resp        wireResponse
	obj         *lunasa.DataObject
	remaining   int
	pullMailbox uint64
}

func (o *clientOrigin) UpdateOrigin(args message.OpArgs) (opbox.WaitingType, error) {
	if !o.sent {
		o.sent = true
		req, err := message.NewValueRequest(o.transport.LocalNode(), o.peer.NodeID(), o.mailbox, opbox.OpcodeFromName(opPoolRPC), o.req)
		if err != nil {
			o.future.Fulfill(callResult{}, err)
			return opbox.OpFailed, err
		}
		if err := o.transport.SendMsg(o.peer, req, nil); err != nil {
			o.future.Fulfill(callResult{}, err)
			return opbox.OpFailed, err
		}
		return opbox.WaitingOnCQ, nil
	}

	switch args.Kind {
	case message.Incoming:
		var resp wireResponse
		if err := message.DecodeValue(args.Message.Body, &resp); err != nil {
			o.future.Fulfill(callResult{}, err)
			return opbox.OpFailed, err
		}
		if err := resp.toError(); err != nil {
			o.future.Fulfill(callResult{}, err)
			return opbox.DoneAndDestroy, nil
		}
		if resp.Pull == nil {
			o.future.Fulfill(callResult{resp: resp}, nil)
			return opbox.DoneAndDestroy, nil
		}
		return o.startPull(resp)

	case message.SendSuccess:
		o.remaining--
		if o.remaining > 0 {
			return opbox.WaitingOnCQ, nil
		}
		o.sendPullDone()
		o.future.Fulfill(callResult{resp: o.resp, obj: o.obj}, nil)
		o.obj = nil
		return opbox.DoneAndDestroy, nil

	default: // SendFailure
		err := args.Err
		if err == nil {
			err = faodel.NewError(faodel.CodeCommunicationError, "poolops: rdma pull failed")
		}
		o.sendPullDone()
		o.future.Fulfill(callResult{}, err)
		return opbox.OpFailed, err
	}
}

// startPull allocates the landing object and issues one RDMA Get per
// advertised remote range; completions come back through TriggerOp.
func (o *clientOrigin) startPull(resp wireResponse) (opbox.WaitingType, error) {
	p := resp.Pull
	obj, err := o.allocator.Allocate(p.MetaBytes + p.DataBytes)
	if err != nil {
		o.future.Fulfill(callResult{}, err)
		return opbox.OpFailed, err
	}
	if err := obj.ModifyUserSizes(p.MetaBytes, p.DataBytes); err != nil {
		obj.Free()
		o.future.Fulfill(callResult{}, err)
		return opbox.OpFailed, err
	}
	obj.SetTypeID(p.TypeID)

	o.resp, o.obj, o.pullMailbox = resp, obj, p.Mailbox

	tasks, err := rdmaGetTasks(obj, p)
	if err != nil {
		o.obj.Free()
		o.obj = nil
		o.future.Fulfill(callResult{}, err)
		return opbox.OpFailed, err
	}
	if len(tasks) == 0 {
		// A zero-byte object: nothing to pull, release and finish.
		o.sendPullDone()
		o.future.Fulfill(callResult{resp: o.resp, obj: o.obj}, nil)
		o.obj = nil
		return opbox.DoneAndDestroy, nil
	}

	o.remaining = len(tasks)
	for _, tk := range tasks {
		err := o.transport.Get(o.peer, tk.local, tk.remote, tk.remote.Length, func(cbargs message.OpArgs) {
			// Completion may land on the transport's own goroutine while
			// this update still holds the instance lock; re-enter through
			// the runtime asynchronously.
			go o.runtime.TriggerOp(o.mailbox, cbargs)
		})
		if err != nil {
			o.sendPullDone()
			o.future.Fulfill(callResult{}, err)
			return opbox.OpFailed, err
		}
	}
	return opbox.WaitingOnCQ, nil
}

// sendPullDone tells the holder it may drop its pinned object. Best effort:
// a lost notice only delays the holder's cleanup, it cannot corrupt data.
func (o *clientOrigin) sendPullDone() {
	if o.pullMailbox == 0 {
		return
	}
	body, err := message.EncodeValue(wireRequest{Op: opPullDone})
	if err != nil {
		return
	}
	msg := message.NewRequest(o.transport.LocalNode(), o.peer.NodeID(), o.mailbox, o.pullMailbox, opbox.OpcodeFromName(opPoolRPC), body)
	_ = o.transport.SendMsg(o.peer, msg, nil)
}

func (o *clientOrigin) UpdateTarget(message.OpArgs) (opbox.WaitingType, error) {
	panic("clientOrigin never plays the target role")
}

// Close releases the landing object if the exchange died mid-pull.
func (o *clientOrigin) Close() {
	if o.obj != nil {
		o.obj.Free()
		o.obj = nil
	}
}
