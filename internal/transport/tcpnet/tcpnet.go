// Package tcpnet is a real loop-back-capable TCP message.Transport,
// grounded in the teacher's internal/firecracker vsock framing
// (length-prefixed frames written/read in one syscall each) applied to
// plain sockets instead of AF_VSOCK, and using the exact little-endian
// message_t byte layout from spec §6 for the message frame's payload.
//
// RDMA put/get has no real fabric to ride here, so it is emulated as a
// length-prefixed bulk copy over a second frame type on the same
// connection: a get request names a remote handle/offset/length and gets a
// data frame back; a put request carries the data inline and gets an ack.
package tcpnet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/logging"
	"github.com/faodel/kelpie/internal/lunasa"
	"github.com/faodel/kelpie/internal/message"
)

type frameKind byte

const (
	frameMessage frameKind = iota + 1
	frameGetRequest
	frameGetResponse
	framePutRequest
	frameAck
)

// Transport is tcpnet's message.Transport implementation. One Transport
// owns one listening socket and a set of outbound connections to peers it
// has sent to; inbound connections are accepted and read independently.
type Transport struct {
	id        faodel.NodeID
	ln        net.Listener
	allocator *lunasa.Allocator
	handler   atomic.Value // message.DeliveryHandler

	connMu sync.Mutex
	conns  map[faodel.NodeID]*conn

	regMu      sync.Mutex
	registry   map[lunasa.RDMAHandle][]byte
	nextHandle uint64

	reqMu   sync.Mutex
	pending map[uint64]chan frame
	nextReq uint64

	closed atomic.Bool
}

type conn struct {
	nc net.Conn
	w  *bufio.Writer
	wm sync.Mutex
}

type frame struct {
	kind    frameKind
	payload []byte
}

// Listen binds id's embedded IP:port and starts accepting peer connections.
func Listen(id faodel.NodeID) (*Transport, error) {
	addr := fmt.Sprintf("%s:%d", id.IP().String(), id.Port())
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpnet: listen %s: %w", addr, err)
	}
	t := &Transport{
		id:        id,
		ln:        ln,
		allocator: lunasa.NewPlainAllocator("tcpnet:" + id.String()),
		conns:     map[faodel.NodeID]*conn{},
		registry:  map[lunasa.RDMAHandle][]byte{},
		pending:   map[uint64]chan frame{},
	}
	t.allocator.SetPinCallbacks(t.pin, t.unpin)
	go t.acceptLoop()
	logging.Op().Info("tcpnet listening", "node", id, "addr", ln.Addr().String())
	return t, nil
}

func (t *Transport) acceptLoop() {
	for {
		nc, err := t.ln.Accept()
		if err != nil {
			if t.closed.Load() {
				return
			}
			logging.Op().Warn("tcpnet: accept error", "node", t.id, "err", err)
			return
		}
		go t.readLoop(&conn{nc: nc, w: bufio.NewWriter(nc)})
	}
}

// Close stops accepting new connections and closes all live ones.
func (t *Transport) Close() error {
	t.closed.Store(true)
	err := t.ln.Close()
	t.connMu.Lock()
	for _, c := range t.conns {
		c.nc.Close()
	}
	t.connMu.Unlock()
	return err
}

var _ message.Transport = (*Transport)(nil)

func (t *Transport) LocalNode() faodel.NodeID      { return t.id }
func (t *Transport) Allocator() *lunasa.Allocator   { return t.allocator }
func (t *Transport) RegisterDeliveryHandler(fn message.DeliveryHandler) {
	t.handler.Store(fn)
}

func (t *Transport) deliver(args message.OpArgs) {
	h, _ := t.handler.Load().(message.DeliveryHandler)
	if h == nil {
		logging.Op().Warn("tcpnet: dropping message, no delivery handler registered", "node", t.id)
		return
	}
	h(args)
}

// Peer is a connected destination: the remote NodeID plus a lazily-dialed
// connection cached on the Transport.
type Peer struct {
	node faodel.NodeID
}

func (p Peer) NodeID() faodel.NodeID { return p.node }

func (t *Transport) Connect(dst faodel.NodeID) (message.Peer, error) {
	if _, err := t.dial(dst); err != nil {
		return nil, err
	}
	return Peer{node: dst}, nil
}

func (t *Transport) dial(dst faodel.NodeID) (*conn, error) {
	t.connMu.Lock()
	if c, ok := t.conns[dst]; ok {
		t.connMu.Unlock()
		return c, nil
	}
	t.connMu.Unlock()

	addr := fmt.Sprintf("%s:%d", dst.IP().String(), dst.Port())
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, faodel.Wrap(faodel.CodeCommunicationError, err, "tcpnet: dial %s", addr)
	}
	c := &conn{nc: nc, w: bufio.NewWriter(nc)}
	t.connMu.Lock()
	t.conns[dst] = c
	t.connMu.Unlock()
	go t.readLoop(c)
	return c, nil
}

func writeFrame(c *conn, kind frameKind, payload []byte) error {
	c.wm.Lock()
	defer c.wm.Unlock()
	hdr := [5]byte{byte(kind)}
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := c.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := c.w.Write(payload); err != nil {
			return err
		}
	}
	return c.w.Flush()
}

func readFrame(r io.Reader) (frameKind, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return frameKind(hdr[0]), payload, nil
}

// readLoop services one socket (inbound or outbound) for its whole life,
// dispatching each frame by kind. Inbound sockets are registered into
// t.conns under the peer's claimed NodeID on its first message frame, so
// replies can be sent back over the same connection.
func (t *Transport) readLoop(c *conn) {
	// c is the single wrapper for this socket's whole life: every write to
	// it, whether a reply to a request we're servicing or a message we're
	// initiating elsewhere, goes through c's one bufio.Writer under c's one
	// mutex, so frames from different goroutines never interleave mid-write.
	br := bufio.NewReader(c.nc)
	for {
		kind, payload, err := readFrame(br)
		if err != nil {
			return
		}
		switch kind {
		case frameMessage:
			if len(payload) < message.HeaderSize {
				logging.Op().Warn("tcpnet: short message frame", "node", t.id)
				continue
			}
			hdr := message.DecodeHeader(payload[:message.HeaderSize])
			body := append([]byte(nil), payload[message.HeaderSize:]...)
			t.registerInbound(hdr.Src, c)
			t.deliver(message.OpArgs{Kind: message.Incoming, Message: message.Message{Header: hdr, Body: body}})
		case frameGetRequest:
			t.handleGetRequest(c, payload)
		case framePutRequest:
			t.handlePutRequest(c, payload)
		case frameGetResponse, frameAck:
			t.completePending(payload)
		}
	}
}

func (t *Transport) registerInbound(src faodel.NodeID, c *conn) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if _, ok := t.conns[src]; ok {
		return
	}
	t.conns[src] = c
}

func (t *Transport) pin(data []byte) (lunasa.RDMAHandle, error) {
	t.regMu.Lock()
	defer t.regMu.Unlock()
	t.nextHandle++
	h := lunasa.RDMAHandle(t.nextHandle)
	t.registry[h] = data
	return h, nil
}

func (t *Transport) unpin(h lunasa.RDMAHandle) error {
	t.regMu.Lock()
	delete(t.registry, h)
	t.regMu.Unlock()
	return nil
}

func (t *Transport) resolve(desc lunasa.SegmentDescriptor) ([]byte, error) {
	t.regMu.Lock()
	buf, ok := t.registry[desc.Handle]
	t.regMu.Unlock()
	if !ok {
		return nil, faodel.NewError(faodel.CodeInvalidInput, "tcpnet: unknown RDMA handle %d", desc.Handle)
	}
	if desc.Offset+desc.Length > len(buf) {
		return nil, faodel.NewError(faodel.CodeInvalidInput, "tcpnet: descriptor out of range")
	}
	return buf[desc.Offset : desc.Offset+desc.Length], nil
}

func (t *Transport) GetRdmaPtr(o *lunasa.DataObject) ([]lunasa.SegmentDescriptor, error) {
	return o.RDMASegments(lunasa.RegionData)
}

func (t *Transport) NewMessage(maxEagerSize int) (*lunasa.DataObject, error) {
	return t.allocator.Allocate(maxEagerSize)
}

func (t *Transport) SendMsg(peer message.Peer, msg message.Message, cb message.SendCallback) error {
	p, ok := peer.(Peer)
	if !ok {
		return faodel.NewError(faodel.CodeInvalidInput, "tcpnet: peer from a different transport")
	}
	c, err := t.dial(p.node)
	if err != nil {
		if cb != nil {
			cb(message.OpArgs{Kind: message.SendFailure, Err: err})
		}
		return err
	}
	payload := make([]byte, message.HeaderSize+len(msg.Body))
	msg.Header.Encode(payload[:message.HeaderSize])
	copy(payload[message.HeaderSize:], msg.Body)
	if err := writeFrame(c, frameMessage, payload); err != nil {
		werr := faodel.Wrap(faodel.CodeCommunicationError, err, "tcpnet: send to %s", p.node)
		if cb != nil {
			cb(message.OpArgs{Kind: message.SendFailure, Err: werr})
		}
		return werr
	}
	if cb != nil {
		cb(message.OpArgs{Kind: message.SendSuccess, Message: msg})
	}
	return nil
}

// rdmaHeaderSize: reqID(8) handle(8) offset(4) length(4).
const rdmaHeaderSize = 24

func encodeRDMAHeader(reqID uint64, desc lunasa.SegmentDescriptor) []byte {
	buf := make([]byte, rdmaHeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], reqID)
	binary.BigEndian.PutUint64(buf[8:16], uint64(desc.Handle))
	binary.BigEndian.PutUint32(buf[16:20], uint32(desc.Offset))
	binary.BigEndian.PutUint32(buf[20:24], uint32(desc.Length))
	return buf
}

func decodeRDMAHeader(buf []byte) (reqID uint64, desc lunasa.SegmentDescriptor) {
	reqID = binary.BigEndian.Uint64(buf[0:8])
	desc.Handle = lunasa.RDMAHandle(binary.BigEndian.Uint64(buf[8:16]))
	desc.Offset = int(binary.BigEndian.Uint32(buf[16:20]))
	desc.Length = int(binary.BigEndian.Uint32(buf[20:24]))
	return
}

func (t *Transport) newPending() (uint64, chan frame) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()
	t.nextReq++
	id := t.nextReq
	ch := make(chan frame, 1)
	t.pending[id] = ch
	return id, ch
}

func (t *Transport) completePending(payload []byte) {
	if len(payload) < 8 {
		return
	}
	reqID := binary.BigEndian.Uint64(payload[:8])
	t.reqMu.Lock()
	ch, ok := t.pending[reqID]
	if ok {
		delete(t.pending, reqID)
	}
	t.reqMu.Unlock()
	if ok {
		ch <- frame{payload: payload[8:]}
	}
}

// Put pushes length bytes described by localDesc to remoteDesc on peer,
// framed as a single inline write plus an ack round-trip.
func (t *Transport) Put(peer message.Peer, localDesc, remoteDesc lunasa.SegmentDescriptor, length int, cb message.RDMACallback) error {
	p, ok := peer.(Peer)
	if !ok {
		return faodel.NewError(faodel.CodeInvalidInput, "tcpnet: peer from a different transport")
	}
	local, err := t.resolve(localDesc)
	if err != nil {
		if cb != nil {
			cb(message.OpArgs{Kind: message.SendFailure, Err: err})
		}
		return err
	}
	c, err := t.dial(p.node)
	if err != nil {
		if cb != nil {
			cb(message.OpArgs{Kind: message.SendFailure, Err: err})
		}
		return err
	}
	reqID, ch := t.newPending()
	payload := append(encodeRDMAHeader(reqID, remoteDesc), local[:length]...)
	go func() {
		if err := writeFrame(c, framePutRequest, payload); err != nil {
			if cb != nil {
				cb(message.OpArgs{Kind: message.SendFailure, Err: err})
			}
			return
		}
		<-ch
		if cb != nil {
			cb(message.OpArgs{Kind: message.SendSuccess})
		}
	}()
	return nil
}

// Get pulls length bytes described by remoteDesc on peer into localDesc.
func (t *Transport) Get(peer message.Peer, localDesc, remoteDesc lunasa.SegmentDescriptor, length int, cb message.RDMACallback) error {
	p, ok := peer.(Peer)
	if !ok {
		return faodel.NewError(faodel.CodeInvalidInput, "tcpnet: peer from a different transport")
	}
	local, err := t.resolve(localDesc)
	if err != nil {
		if cb != nil {
			cb(message.OpArgs{Kind: message.SendFailure, Err: err})
		}
		return err
	}
	c, err := t.dial(p.node)
	if err != nil {
		if cb != nil {
			cb(message.OpArgs{Kind: message.SendFailure, Err: err})
		}
		return err
	}
	reqID, ch := t.newPending()
	payload := encodeRDMAHeader(reqID, remoteDesc)
	go func() {
		if err := writeFrame(c, frameGetRequest, payload); err != nil {
			if cb != nil {
				cb(message.OpArgs{Kind: message.SendFailure, Err: err})
			}
			return
		}
		f := <-ch
		if len(f.payload) != length {
			if cb != nil {
				cb(message.OpArgs{Kind: message.SendFailure, Err: faodel.NewError(faodel.CodeCommunicationError, "tcpnet: get short read")})
			}
			return
		}
		copy(local[:length], f.payload)
		if cb != nil {
			cb(message.OpArgs{Kind: message.SendSuccess})
		}
	}()
	return nil
}

// handleGetRequest runs on the target side: resolve the requested
// descriptor locally and write its bytes back as a frameGetResponse.
func (t *Transport) handleGetRequest(c *conn, payload []byte) {
	if len(payload) < rdmaHeaderSize {
		return
	}
	reqID, desc := decodeRDMAHeader(payload)
	data, err := t.resolve(desc)
	if err != nil {
		logging.Op().Warn("tcpnet: get request for unknown handle", "node", t.id, "err", err)
		resp := make([]byte, 8)
		binary.BigEndian.PutUint64(resp, reqID)
		_ = writeFrame(c, frameGetResponse, resp)
		return
	}
	resp := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(resp[:8], reqID)
	copy(resp[8:], data)
	_ = writeFrame(c, frameGetResponse, resp)
}

// handlePutRequest runs on the target side: copy the inline bytes into the
// requested local descriptor and ack.
func (t *Transport) handlePutRequest(c *conn, payload []byte) {
	if len(payload) < rdmaHeaderSize {
		return
	}
	reqID, desc := decodeRDMAHeader(payload)
	data := payload[rdmaHeaderSize:]
	local, err := t.resolve(desc)
	if err != nil {
		logging.Op().Warn("tcpnet: put request for unknown handle", "node", t.id, "err", err)
		ack := make([]byte, 8)
		binary.BigEndian.PutUint64(ack, reqID)
		_ = writeFrame(c, frameAck, ack)
		return
	}
	copy(local, data)
	ack := make([]byte, 8)
	binary.BigEndian.PutUint64(ack, reqID)
	_ = writeFrame(c, frameAck, ack)
}
