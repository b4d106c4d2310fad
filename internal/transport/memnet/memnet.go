// Package memnet is an in-process reference Transport connecting several
// NodeIDs within one test binary by calling the destination's delivery
// handler on a new goroutine for each message, instead of a real RDMA
// fabric. It exists so the end-to-end scenarios in spec §8 (and
// the rest of the test suite) can drive multi-node behavior without
// spawning real processes or MPI — both explicitly out of scope (spec §1).
//
// Because every node lives in the same address space, Put/Get are a direct
// byte copy between the two sides' registered memory rather than a real
// RDMA operation; there is no second address space to put/get across.
package memnet

import (
	"sync"
	"sync/atomic"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/logging"
	"github.com/faodel/kelpie/internal/lunasa"
	"github.com/faodel/kelpie/internal/message"
)

// Network is the shared fabric several Transports attach to.
type Network struct {
	mu    sync.RWMutex
	nodes map[faodel.NodeID]*Transport
}

// NewNetwork returns an empty in-process network.
func NewNetwork() *Network {
	return &Network{nodes: map[faodel.NodeID]*Transport{}}
}

// NewNode creates and registers a Transport for id on this network.
func (n *Network) NewNode(id faodel.NodeID) *Transport {
	t := &Transport{
		id:        id,
		net:       n,
		allocator: lunasa.NewPlainAllocator("memnet:" + id.String()),
		registry:  map[lunasa.RDMAHandle][]byte{},
	}
	t.allocator.SetPinCallbacks(t.pin, t.unpin)

	n.mu.Lock()
	n.nodes[id] = t
	n.mu.Unlock()
	return t
}

// Remove detaches a node, e.g. simulating a process exit.
func (n *Network) Remove(id faodel.NodeID) {
	n.mu.Lock()
	delete(n.nodes, id)
	n.mu.Unlock()
}

func (n *Network) lookup(id faodel.NodeID) (*Transport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.nodes[id]
	return t, ok
}

// Stats counts what this transport has been asked to do — tests use it to
// confirm a bulk payload actually rode the RDMA path rather than the
// message body.
type Stats struct {
	Sends int64
	Puts  int64
	Gets  int64
}

// Transport is memnet's message.Transport implementation.
type Transport struct {
	id        faodel.NodeID
	net       *Network
	allocator *lunasa.Allocator
	handler   atomic.Value // message.DeliveryHandler

	sends atomic.Int64
	puts  atomic.Int64
	gets  atomic.Int64

	mu         sync.Mutex
	registry   map[lunasa.RDMAHandle][]byte
	nextHandle uint64
}

// Stats returns a snapshot of this transport's operation counters.
func (t *Transport) Stats() Stats {
	return Stats{Sends: t.sends.Load(), Puts: t.puts.Load(), Gets: t.gets.Load()}
}

// Peer is a connected destination: in-process, simply a pointer to the
// remote node's own Transport.
type Peer struct {
	remote *Transport
}

func (p Peer) NodeID() faodel.NodeID { return p.remote.id }

var _ message.Transport = (*Transport)(nil)

func (t *Transport) LocalNode() faodel.NodeID { return t.id }

func (t *Transport) Allocator() *lunasa.Allocator { return t.allocator }

func (t *Transport) Connect(dst faodel.NodeID) (message.Peer, error) {
	remote, ok := t.net.lookup(dst)
	if !ok {
		return nil, faodel.NewError(faodel.CodeCommunicationError, "memnet: no such node %s", dst)
	}
	return Peer{remote: remote}, nil
}

func (t *Transport) NewMessage(maxEagerSize int) (*lunasa.DataObject, error) {
	return t.allocator.Allocate(maxEagerSize)
}

func (t *Transport) RegisterDeliveryHandler(fn message.DeliveryHandler) {
	t.handler.Store(fn)
}

func (t *Transport) deliver(args message.OpArgs) {
	h, _ := t.handler.Load().(message.DeliveryHandler)
	if h == nil {
		logging.Op().Warn("memnet: dropping message, no delivery handler registered", "node", t.id)
		return
	}
	h(args)
}

func (t *Transport) SendMsg(peer message.Peer, msg message.Message, cb message.SendCallback) error {
	p, ok := peer.(Peer)
	if !ok {
		return faodel.NewError(faodel.CodeInvalidInput, "memnet: peer from a different transport")
	}
	t.sends.Add(1)
	// The transport may deliver callbacks from other goroutines (spec §5);
	// simulate that instead of calling the handler inline.
	go p.remote.deliver(message.OpArgs{Kind: message.Incoming, Message: msg})
	if cb != nil {
		go cb(message.OpArgs{Kind: message.SendSuccess, Message: msg})
	}
	return nil
}

func (t *Transport) pin(data []byte) (lunasa.RDMAHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextHandle++
	h := lunasa.RDMAHandle(t.nextHandle)
	t.registry[h] = data
	return h, nil
}

func (t *Transport) unpin(h lunasa.RDMAHandle) error {
	t.mu.Lock()
	delete(t.registry, h)
	t.mu.Unlock()
	return nil
}

func (t *Transport) resolve(desc lunasa.SegmentDescriptor) ([]byte, error) {
	t.mu.Lock()
	buf, ok := t.registry[desc.Handle]
	t.mu.Unlock()
	if !ok {
		return nil, faodel.NewError(faodel.CodeInvalidInput, "memnet: unknown RDMA handle %d", desc.Handle)
	}
	if desc.Offset+desc.Length > len(buf) {
		return nil, faodel.NewError(faodel.CodeInvalidInput, "memnet: descriptor out of range")
	}
	return buf[desc.Offset : desc.Offset+desc.Length], nil
}

func (t *Transport) GetRdmaPtr(o *lunasa.DataObject) ([]lunasa.SegmentDescriptor, error) {
	return o.RDMASegments(lunasa.RegionData)
}

func (t *Transport) Put(peer message.Peer, localDesc, remoteDesc lunasa.SegmentDescriptor, length int, cb message.RDMACallback) error {
	p, ok := peer.(Peer)
	if !ok {
		return faodel.NewError(faodel.CodeInvalidInput, "memnet: peer from a different transport")
	}
	t.puts.Add(1)
	local, err := t.resolve(localDesc)
	if err != nil {
		if cb != nil {
			cb(message.OpArgs{Kind: message.SendFailure, Err: err})
		}
		return err
	}
	go func() {
		remote, err := p.remote.resolve(remoteDesc)
		if err != nil {
			if cb != nil {
				cb(message.OpArgs{Kind: message.SendFailure, Err: err})
			}
			return
		}
		copy(remote[:length], local[:length])
		if cb != nil {
			cb(message.OpArgs{Kind: message.SendSuccess})
		}
	}()
	return nil
}

func (t *Transport) Get(peer message.Peer, localDesc, remoteDesc lunasa.SegmentDescriptor, length int, cb message.RDMACallback) error {
	p, ok := peer.(Peer)
	if !ok {
		return faodel.NewError(faodel.CodeInvalidInput, "memnet: peer from a different transport")
	}
	t.gets.Add(1)
	local, err := t.resolve(localDesc)
	if err != nil {
		if cb != nil {
			cb(message.OpArgs{Kind: message.SendFailure, Err: err})
		}
		return err
	}
	go func() {
		remote, err := p.remote.resolve(remoteDesc)
		if err != nil {
			if cb != nil {
				cb(message.OpArgs{Kind: message.SendFailure, Err: err})
			}
			return
		}
		copy(local[:length], remote[:length])
		if cb != nil {
			cb(message.OpArgs{Kind: message.SendSuccess})
		}
	}()
	return nil
}
