package tcpnet

import (
	"net"
	"testing"
	"time"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/message"
)

func localNode(t *testing.T, port uint16) faodel.NodeID {
	t.Helper()
	return faodel.NewNodeID(net.ParseIP("127.0.0.1"), port)
}

func TestSendMsgDelivery(t *testing.T) {
	a, err := Listen(localNode(t, 18801))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Listen(localNode(t, 18802))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	received := make(chan message.Message, 1)
	b.RegisterDeliveryHandler(func(args message.OpArgs) {
		if args.Kind == message.Incoming {
			received <- args.Message
		}
	})

	peer, err := a.Connect(b.LocalNode())
	if err != nil {
		t.Fatal(err)
	}
	req := message.NewRequest(a.LocalNode(), b.LocalNode(), 1, 0, 7, []byte("hello"))

	sent := make(chan struct{}, 1)
	if err := a.SendMsg(peer, req, func(args message.OpArgs) { sent <- struct{}{} }); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-received:
		if string(m.Body) != "hello" {
			t.Fatalf("body = %q, want hello", m.Body)
		}
		if m.Header.OpID != 7 {
			t.Fatalf("op id = %d, want 7", m.Header.OpID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send completion")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	a, err := Listen(localNode(t, 18811))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Listen(localNode(t, 18812))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	srcObj, err := a.NewMessage(64)
	if err != nil {
		t.Fatal(err)
	}
	defer srcObj.Free()
	srcObj.ModifyUserSizes(0, 16)
	copy(srcObj.Data(), []byte("0123456789abcdef"))
	srcDescs, err := a.GetRdmaPtr(srcObj)
	if err != nil {
		t.Fatal(err)
	}

	dstObj, err := b.NewMessage(64)
	if err != nil {
		t.Fatal(err)
	}
	defer dstObj.Free()
	dstObj.ModifyUserSizes(0, 16)
	dstDescs, err := b.GetRdmaPtr(dstObj)
	if err != nil {
		t.Fatal(err)
	}

	peer, err := a.Connect(b.LocalNode())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan message.OpArgs, 1)
	if err := a.Put(peer, srcDescs[0], dstDescs[0], 16, func(args message.OpArgs) { done <- args }); err != nil {
		t.Fatal(err)
	}
	select {
	case args := <-done:
		if args.Kind != message.SendSuccess {
			t.Fatalf("put failed: %v", args.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for put completion")
	}
	if string(dstObj.Data()) != "0123456789abcdef" {
		t.Fatalf("dst data = %q after put", dstObj.Data())
	}

	dstObj2, _ := b.NewMessage(64)
	defer dstObj2.Free()
	dstObj2.ModifyUserSizes(0, 16)
	dstDescs2, _ := b.GetRdmaPtr(dstObj2)

	peerBA, err := b.Connect(a.LocalNode())
	if err != nil {
		t.Fatal(err)
	}
	done2 := make(chan message.OpArgs, 1)
	if err := b.Get(peerBA, dstDescs2[0], srcDescs[0], 16, func(args message.OpArgs) { done2 <- args }); err != nil {
		t.Fatal(err)
	}
	select {
	case args := <-done2:
		if args.Kind != message.SendSuccess {
			t.Fatalf("get failed: %v", args.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for get completion")
	}
	if string(dstObj2.Data()) != "0123456789abcdef" {
		t.Fatalf("dst2 data = %q after get", dstObj2.Data())
	}
}

func TestConnectUnreachableNodeFails(t *testing.T) {
	a, err := Listen(localNode(t, 18821))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if _, err := a.Connect(localNode(t, 18822)); err == nil {
		t.Fatal("expected error connecting to an address nothing is listening on")
	}
}
