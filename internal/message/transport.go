package message

import (
	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/lunasa"
)

// Peer is a connected destination handle returned by Transport.Connect.
// Concrete transports may embed a socket, an in-process channel, etc.
type Peer interface {
	NodeID() faodel.NodeID
}

// ArgsKind tags what happened in a delivery callback.
type ArgsKind int

const (
	// Incoming means a message arrived for this mailbox.
	Incoming ArgsKind = iota
	// SendSuccess means a previously issued SendMsg/Put/Get completed.
	SendSuccess
	// SendFailure means a previously issued SendMsg/Put/Get failed.
	SendFailure
)

// OpArgs is what a delivery callback receives — an incoming message, or a
// completion notice for a send/put/get this op issued earlier.
type OpArgs struct {
	Kind    ArgsKind
	Message Message
	Err     error
}

// SendCallback is invoked when a SendMsg completes (success or failure).
type SendCallback func(args OpArgs)

// RDMACallback is invoked when a Put/Get completes.
type RDMACallback func(args OpArgs)

// DeliveryHandler receives every message routed to this process — OpBox is
// the only consumer in this repo, dispatching by DstMailbox (spec §4.3).
type DeliveryHandler func(args OpArgs)

// Transport is the message/RDMA surface core components consume (spec
// §4.2). A concrete implementation lives outside core scope per §1; two
// reference implementations (internal/transport/memnet, .../tcpnet) satisfy
// it for tests and the bench CLI.
type Transport interface {
	// LocalNode returns this process's own NodeID.
	LocalNode() faodel.NodeID

	// Connect resolves dst into a reusable Peer handle.
	Connect(dst faodel.NodeID) (Peer, error)

	// NewMessage allocates an LDO sized for a message body up to
	// maxEagerSize bytes, from the transport's own (typically eager-pinned)
	// allocator, so the returned object is already RDMA-ready.
	NewMessage(maxEagerSize int) (*lunasa.DataObject, error)

	// SendMsg transmits msg (header and body) to peer. cb, if
	// non-nil, fires once the local send completes (or fails) — this says
	// nothing about whether the remote has processed it.
	SendMsg(peer Peer, msg Message, cb SendCallback) error

	// Put pushes length bytes described by localDesc to remoteDesc on peer.
	Put(peer Peer, localDesc, remoteDesc lunasa.SegmentDescriptor, length int, cb RDMACallback) error

	// Get pulls length bytes described by remoteDesc on peer into localDesc.
	Get(peer Peer, localDesc, remoteDesc lunasa.SegmentDescriptor, length int, cb RDMACallback) error

	// GetRdmaPtr exposes o's scatter descriptors for the data region, the
	// form a reply embeds so the other side can Get/Put against it.
	GetRdmaPtr(o *lunasa.DataObject) ([]lunasa.SegmentDescriptor, error)

	// RegisterDeliveryHandler installs the single handler fed every
	// message/completion this process observes; OpBox installs itself here
	// at startup.
	RegisterDeliveryHandler(fn DeliveryHandler)

	// Allocator returns the transport's own eager-pinned allocator, used
	// for NewMessage and by lunasa allocators that want pin/unpin wired to
	// this transport (SetPinCallbacks).
	Allocator() *lunasa.Allocator
}
