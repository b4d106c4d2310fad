package dirman

import (
	"context"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/message"
	"github.com/faodel/kelpie/internal/opbox"
)

const opDirRPC = "dirman.rpc"

// RegisterAuthorityOps installs the target-side handler that lets remote
// Clients reach a's Authority over opbox. Call this once, before
// rt.Start(), on the node hosting the centralized directory.
func RegisterAuthorityOps(rt *opbox.Runtime, transport message.Transport, a *Authority) error {
	_, err := rt.RegisterOp(opDirRPC, func() opbox.Op {
		return &dirmanTarget{authority: a, transport: transport}
	})
	return err
}

type dirmanTarget struct {
	authority *Authority
	transport message.Transport
}

func (t *dirmanTarget) UpdateOrigin(message.OpArgs) (opbox.WaitingType, error) {
	panic("dirmanTarget never plays the origin role")
}

func (t *dirmanTarget) UpdateTarget(args message.OpArgs) (opbox.WaitingType, error) {
	req := args.Message
	var wreq wireRequest
	if err := message.DecodeValue(req.Body, &wreq); err != nil {
		return opbox.OpFailed, err
	}

	resp := t.handle(wreq)
	reply, err := message.NewValueReply(req, 0, resp)
	if err != nil {
		return opbox.OpFailed, err
	}
	// Replying needs no mailbox of our own: this exchange is single-shot
	// request/reply, so DstMailbox routes straight back to the origin.
	peer, err := t.transport.Connect(req.Header.Src)
	if err != nil {
		return opbox.OpFailed, err
	}
	if err := t.transport.SendMsg(peer, reply, nil); err != nil {
		return opbox.OpFailed, err
	}
	return opbox.DoneAndDestroy, nil
}

func (t *dirmanTarget) handle(req wireRequest) wireResponse {
	url, err := faodel.ParseResourceURL(req.URL)
	if err != nil {
		return errResponse(err)
	}

	switch req.Op {
	case opLocate:
		info, err := t.authority.Locate(url)
		if err != nil {
			return errResponse(err)
		}
		return wireResponse{Info: toWireInfo(info)}
	case opDefine:
		if err := t.authority.DefineNewDir(url, req.InfoText, req.MinMembers); err != nil {
			return errResponse(err)
		}
		return wireResponse{}
	case opHostDir:
		if err := t.authority.HostNewDir(url, req.InfoText, req.MinMembers); err != nil {
			return errResponse(err)
		}
		return wireResponse{}
	case opJoin:
		id, err := faodel.NodeIDFromHex(req.NodeID)
		if err != nil {
			return errResponse(err)
		}
		info, err := t.authority.JoinDirWithName(url, id, req.MemberInfo)
		if err != nil {
			return errResponse(err)
		}
		return wireResponse{Info: toWireInfo(info)}
	case opLeaveDir:
		id, err := faodel.NodeIDFromHex(req.NodeID)
		if err != nil {
			return errResponse(err)
		}
		info, err := t.authority.LeaveDir(url, id)
		if err != nil {
			return errResponse(err)
		}
		return wireResponse{Info: toWireInfo(info)}
	case opDropDir:
		if err := t.authority.DropDir(url); err != nil {
			return errResponse(err)
		}
		return wireResponse{}
	default:
		return errResponse(faodel.NewError(faodel.CodeInvalidInput, "dirman: unknown op %q", req.Op))
	}
}

// RemoteOps is the origin-side handle a Client uses to reach a remote
// authority.
type RemoteOps struct {
	runtime       *opbox.Runtime
	transport     message.Transport
	authorityNode faodel.NodeID
}

// NewRemoteOps builds a RemoteOps addressing authorityNode over rt's
// transport. rt must already be started.
func NewRemoteOps(rt *opbox.Runtime, transport message.Transport, authorityNode faodel.NodeID) *RemoteOps {
	return &RemoteOps{runtime: rt, transport: transport, authorityNode: authorityNode}
}

func (r *RemoteOps) call(ctx context.Context, req wireRequest) (wireResponse, error) {
	peer, err := r.transport.Connect(r.authorityNode)
	if err != nil {
		return wireResponse{}, err
	}
	future := opbox.NewFuture[wireResponse]()
	r.runtime.LaunchOp(opbox.OpcodeFromName(opDirRPC), func(mailbox uint64) opbox.Op {
		return &dirmanOrigin{transport: r.transport, peer: peer, mailbox: mailbox, req: req, future: future}
	})
	resp, err := future.Wait(ctx)
	if err != nil {
		return wireResponse{}, err
	}
	if err := resp.toError(); err != nil {
		return wireResponse{}, err
	}
	return resp, nil
}

func (r *RemoteOps) Locate(ctx context.Context, url faodel.ResourceURL) (DirectoryInfo, error) {
	resp, err := r.call(ctx, wireRequest{Op: opLocate, URL: url.String()})
	if err != nil {
		return DirectoryInfo{}, err
	}
	return fromWireInfo(resp.Info)
}

func (r *RemoteOps) DefineNewDir(ctx context.Context, url faodel.ResourceURL, infoText string, minMembers int) error {
	_, err := r.call(ctx, wireRequest{Op: opDefine, URL: url.String(), InfoText: infoText, MinMembers: minMembers})
	return err
}

func (r *RemoteOps) HostNewDir(ctx context.Context, url faodel.ResourceURL, infoText string, minMembers int) error {
	_, err := r.call(ctx, wireRequest{Op: opHostDir, URL: url.String(), InfoText: infoText, MinMembers: minMembers})
	return err
}

func (r *RemoteOps) JoinDirWithName(ctx context.Context, url faodel.ResourceURL, id faodel.NodeID, memberInfo string) (DirectoryInfo, error) {
	resp, err := r.call(ctx, wireRequest{Op: opJoin, URL: url.String(), NodeID: id.Hex(), MemberInfo: memberInfo})
	if err != nil {
		return DirectoryInfo{}, err
	}
	return fromWireInfo(resp.Info)
}

func (r *RemoteOps) LeaveDir(ctx context.Context, url faodel.ResourceURL, id faodel.NodeID) (DirectoryInfo, error) {
	resp, err := r.call(ctx, wireRequest{Op: opLeaveDir, URL: url.String(), NodeID: id.Hex()})
	if err != nil {
		return DirectoryInfo{}, err
	}
	return fromWireInfo(resp.Info)
}

func (r *RemoteOps) DropDir(ctx context.Context, url faodel.ResourceURL) error {
	_, err := r.call(ctx, wireRequest{Op: opDropDir, URL: url.String()})
	return err
}

type dirmanOrigin struct {
	transport message.Transport
	peer      message.Peer
	mailbox   uint64
	req       wireRequest
	sent      bool
	future    *opbox.Future[wireResponse]
}

func (o *dirmanOrigin) UpdateOrigin(args message.OpArgs) (opbox.WaitingType, error) {
	if !o.sent {
		o.sent = true
		req, err := message.NewValueRequest(o.transport.LocalNode(), o.peer.NodeID(), o.mailbox, opbox.OpcodeFromName(opDirRPC), o.req)
		if err != nil {
			o.future.Fulfill(wireResponse{}, err)
			return opbox.OpFailed, err
		}
		if err := o.transport.SendMsg(o.peer, req, nil); err != nil {
			o.future.Fulfill(wireResponse{}, err)
			return opbox.OpFailed, err
		}
		return opbox.WaitingOnCQ, nil
	}

	var resp wireResponse
	if err := message.DecodeValue(args.Message.Body, &resp); err != nil {
		o.future.Fulfill(wireResponse{}, err)
		return opbox.OpFailed, err
	}
	o.future.Fulfill(resp, nil)
	return opbox.DoneAndDestroy, nil
}

func (o *dirmanOrigin) UpdateTarget(message.OpArgs) (opbox.WaitingType, error) {
	panic("dirmanOrigin never plays the target role")
}
