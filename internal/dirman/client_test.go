package dirman

import (
	"context"
	"testing"
	"time"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/opbox"
	"github.com/faodel/kelpie/internal/transport/memnet"
)

func TestLocalClientLocateCaching(t *testing.T) {
	a := NewAuthority()
	c := NewLocalClient(a)
	url := faodel.NewResourceURL("dht", "/p")
	ctx := context.Background()

	if err := c.DefineNewDir(ctx, url, "info", 0); err != nil {
		t.Fatal(err)
	}
	id := faodel.NewNodeID([]byte{10, 0, 0, 1}, 1900)
	if _, err := c.JoinDirWithName(ctx, url, id, "me"); err != nil {
		t.Fatal(err)
	}

	info, err := c.Locate(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(info.Members))
	}

	if _, err := c.LeaveDir(ctx, url, id); err != nil {
		t.Fatal(err)
	}
	info, err = c.Locate(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Members) != 0 {
		t.Fatalf("expected 0 members after leave, got %d", len(info.Members))
	}
}

func TestRemoteClientRoundTrip(t *testing.T) {
	net := memnet.NewNetwork()
	authorityTransport := net.NewNode(faodel.NewNodeID([]byte{10, 0, 0, 1}, 1900))
	clientTransport := net.NewNode(faodel.NewNodeID([]byte{10, 0, 0, 2}, 1900))

	authority := NewAuthority()
	authorityRT := opbox.NewRuntime(authorityTransport)
	if err := RegisterAuthorityOps(authorityRT, authorityTransport, authority); err != nil {
		t.Fatal(err)
	}
	authorityRT.Start()

	clientRT := opbox.NewRuntime(clientTransport)
	clientRT.Start()

	remote := NewRemoteOps(clientRT, clientTransport, authorityTransport.LocalNode())
	client := NewRemoteClient(remote)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := faodel.NewResourceURL("dht", "/remote/pool")
	if err := client.DefineNewDir(ctx, url, "remote pool", 1); err != nil {
		t.Fatal(err)
	}
	id := faodel.NewNodeID([]byte{10, 0, 0, 9}, 1900)
	if _, err := client.JoinDirWithoutName(ctx, url, id); err != nil {
		t.Fatal(err)
	}

	info, err := client.Locate(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Members) != 1 || info.Members[0].NodeID != id {
		t.Fatalf("unexpected members: %+v", info.Members)
	}
	if info.InfoText != "remote pool" {
		t.Fatalf("info text = %q", info.InfoText)
	}
}

func TestRemoteClientLocateMissingDirFails(t *testing.T) {
	net := memnet.NewNetwork()
	authorityTransport := net.NewNode(faodel.NewNodeID([]byte{10, 0, 0, 1}, 1900))
	clientTransport := net.NewNode(faodel.NewNodeID([]byte{10, 0, 0, 2}, 1900))

	authority := NewAuthority()
	authorityRT := opbox.NewRuntime(authorityTransport)
	if err := RegisterAuthorityOps(authorityRT, authorityTransport, authority); err != nil {
		t.Fatal(err)
	}
	authorityRT.Start()

	clientRT := opbox.NewRuntime(clientTransport)
	clientRT.Start()
	remote := NewRemoteOps(clientRT, clientTransport, authorityTransport.LocalNode())
	client := NewRemoteClient(remote)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := client.Locate(ctx, faodel.NewResourceURL("dht", "/missing")); faodel.CodeOf(err) != faodel.CodeNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

// Three nodes join a directory whose authority lives on the third node;
// afterward a reference-only lookup resolves the full membership in join
// arrival order.
func TestThreeNodeJoinOrderedMembership(t *testing.T) {
	net := memnet.NewNetwork()
	ids := []faodel.NodeID{
		faodel.NewNodeID([]byte{10, 0, 0, 1}, 1900),
		faodel.NewNodeID([]byte{10, 0, 0, 2}, 1900),
		faodel.NewNodeID([]byte{10, 0, 0, 3}, 1900),
	}

	authority := NewAuthority()
	clients := make([]*Client, 3)
	for i, id := range ids {
		transport := net.NewNode(id)
		rt := opbox.NewRuntime(transport)
		if i == 2 {
			if err := RegisterAuthorityOps(rt, transport, authority); err != nil {
				t.Fatal(err)
			}
		}
		rt.Start()
		if i == 2 {
			clients[i] = NewLocalClient(authority)
		} else {
			clients[i] = NewRemoteClient(NewRemoteOps(rt, transport, ids[2]))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := faodel.NewResourceURL("dht", "/myplace")
	if err := clients[2].HostNewDir(ctx, url, "", 3); err != nil {
		t.Fatal(err)
	}
	for i, c := range clients {
		if _, err := c.JoinDirWithoutName(ctx, url, ids[i]); err != nil {
			t.Fatal(err)
		}
	}

	info, err := clients[0].GetDirectoryInfo(ctx, faodel.NewResourceURL("ref", "/myplace"))
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Members) != 3 {
		t.Fatalf("members = %d, want 3", len(info.Members))
	}
	for i, m := range info.Members {
		if m.NodeID != ids[i] {
			t.Fatalf("member %d = %v, want join-arrival order %v", i, m.NodeID, ids[i])
		}
	}
	if !info.IsComplete() {
		t.Fatal("expected directory complete at 3/3 members")
	}
}
