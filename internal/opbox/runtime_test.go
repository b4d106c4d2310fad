package opbox

import (
	"context"
	"testing"
	"time"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/message"
	"github.com/faodel/kelpie/internal/transport/memnet"
)

const echoOpName = "test.echo"

type echoOrigin struct {
	rt      *Runtime
	peer    message.Peer
	mailbox uint64
	sent    bool
	future  *Future[string]
}

func (o *echoOrigin) UpdateOrigin(args message.OpArgs) (WaitingType, error) {
	if !o.sent {
		o.sent = true
		req := message.NewRequest(o.rt.Transport().LocalNode(), o.peer.NodeID(), o.mailbox, 0, OpcodeFromName(echoOpName), []byte("ping"))
		if err := o.rt.Transport().SendMsg(o.peer, req, nil); err != nil {
			o.future.Fulfill("", err)
			return OpFailed, err
		}
		return WaitingOnCQ, nil
	}
	o.future.Fulfill(string(args.Message.Body), nil)
	return DoneAndDestroy, nil
}

func (o *echoOrigin) UpdateTarget(message.OpArgs) (WaitingType, error) {
	panic("echoOrigin never plays the target role")
}

type echoTarget struct {
	rt      *Runtime
	mailbox uint64
}

// SetMailbox receives this instance's runtime-assigned mailbox
// (MailboxHolder).
func (t *echoTarget) SetMailbox(mailbox uint64) { t.mailbox = mailbox }

func (t *echoTarget) UpdateOrigin(message.OpArgs) (WaitingType, error) {
	panic("echoTarget never plays the origin role")
}

func (t *echoTarget) UpdateTarget(args message.OpArgs) (WaitingType, error) {
	_, peerMailbox, _ := t.rt.PeerMailbox(t.mailbox)
	req := args.Message
	reply := message.NewReply(req, t.mailbox, []byte("pong:"+string(req.Body)))
	reply.Header.DstMailbox = peerMailbox
	peer, err := t.rt.Transport().Connect(req.Header.Src)
	if err != nil {
		return OpFailed, err
	}
	if err := t.rt.Transport().SendMsg(peer, reply, nil); err != nil {
		return OpFailed, err
	}
	return DoneAndDestroy, nil
}

func TestLaunchOpRoundTrip(t *testing.T) {
	net := memnet.NewNetwork()
	clientTransport := net.NewNode(faodel.NewNodeID([]byte{10, 0, 0, 1}, 1900))
	serverTransport := net.NewNode(faodel.NewNodeID([]byte{10, 0, 0, 2}, 1900))

	clientRT := NewRuntime(clientTransport)
	serverRT := NewRuntime(serverTransport)

	if _, err := serverRT.RegisterOp(echoOpName, func() Op {
		return &echoTarget{rt: serverRT}
	}); err != nil {
		t.Fatal(err)
	}
	clientRT.Start()
	serverRT.Start()

	peer, err := clientTransport.Connect(serverTransport.LocalNode())
	if err != nil {
		t.Fatal(err)
	}

	future := NewFuture[string]()
	clientRT.LaunchOp(OpcodeFromName(echoOpName), func(mailbox uint64) Op {
		return &echoOrigin{rt: clientRT, peer: peer, mailbox: mailbox, future: future}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := future.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != "pong:ping" {
		t.Fatalf("future value = %q, want pong:ping", got)
	}
}

func TestRegisterOpAfterStartFails(t *testing.T) {
	net := memnet.NewNetwork()
	transport := net.NewNode(faodel.NewNodeID([]byte{10, 0, 0, 1}, 1900))
	rt := NewRuntime(transport)
	rt.Start()
	if _, err := rt.RegisterOp("late", func() Op { return nil }); err == nil {
		t.Fatal("expected error registering an op after Start")
	}
}

func TestUnknownOpcodeIsDropped(t *testing.T) {
	net := memnet.NewNetwork()
	a := net.NewNode(faodel.NewNodeID([]byte{10, 0, 0, 1}, 1900))
	b := net.NewNode(faodel.NewNodeID([]byte{10, 0, 0, 2}, 1900))
	rt := NewRuntime(b)
	rt.Start()

	peer, _ := a.Connect(b.LocalNode())
	req := message.NewRequest(a.LocalNode(), b.LocalNode(), 1, 0, OpcodeFromName("nobody.registered"), nil)
	if err := a.SendMsg(peer, req, nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
}
