// Package message defines the fixed message_t header, envelope helpers, and
// the Transport interface every Op runtime call goes through. The real
// reliable-messaging/RDMA fabric behind Transport is an external
// collaborator (spec §1); this package only specifies the surface the core
// consumes, per §4.2/§6, plus enough envelope plumbing to build requests
// and replies.
package message

import (
	"encoding/binary"

	"github.com/faodel/kelpie/internal/faodel"
)

// HeaderSize is the encoded size of Header: src(8) dst(8) src_mailbox(8)
// dst_mailbox(8) body_len(4) op_id(4) user_flags(2) hdr_flags(2).
const HeaderSize = 8 + 8 + 8 + 8 + 4 + 4 + 2 + 2

// Header is the fixed header prefixing every inter-node exchange.
type Header struct {
	Src        faodel.NodeID
	Dst        faodel.NodeID
	SrcMailbox uint64
	DstMailbox uint64
	BodyLen    uint32
	OpID       uint32
	UserFlags  uint16
	HdrFlags   uint16
}

// Header flag bits.
const (
	HdrFlagReply uint16 = 1 << iota
)

// Encode writes the little-endian wire form of h into buf, which must be at
// least HeaderSize bytes.
func (h Header) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.Src))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Dst))
	binary.LittleEndian.PutUint64(buf[16:24], h.SrcMailbox)
	binary.LittleEndian.PutUint64(buf[24:32], h.DstMailbox)
	binary.LittleEndian.PutUint32(buf[32:36], h.BodyLen)
	binary.LittleEndian.PutUint32(buf[36:40], h.OpID)
	binary.LittleEndian.PutUint16(buf[40:42], h.UserFlags)
	binary.LittleEndian.PutUint16(buf[42:44], h.HdrFlags)
}

// DecodeHeader parses HeaderSize bytes of wire form into a Header.
func DecodeHeader(buf []byte) Header {
	return Header{
		Src:        faodel.NodeID(binary.LittleEndian.Uint64(buf[0:8])),
		Dst:        faodel.NodeID(binary.LittleEndian.Uint64(buf[8:16])),
		SrcMailbox: binary.LittleEndian.Uint64(buf[16:24]),
		DstMailbox: binary.LittleEndian.Uint64(buf[24:32]),
		BodyLen:    binary.LittleEndian.Uint32(buf[32:36]),
		OpID:       binary.LittleEndian.Uint32(buf[36:40]),
		UserFlags:  binary.LittleEndian.Uint16(buf[40:42]),
		HdrFlags:   binary.LittleEndian.Uint16(buf[42:44]),
	}
}

// Message is the fixed header plus its body. The body may hold inline
// bytes, a URL string, or a JSON-serialized structured value — the choice
// is up to the Op that built it; Transport treats Body as opaque bytes.
type Message struct {
	Header Header
	Body   []byte
}

// IsReply reports whether this message's header flags mark it as a reply.
func (m Message) IsReply() bool { return m.Header.HdrFlags&HdrFlagReply != 0 }

// NewRequest builds a request message with a fresh body. dstMailbox may be
// zero when the destination mailbox is not yet known (a target op has not
// been created yet); OpBox assigns it from src's own mailbox on delivery.
func NewRequest(src, dst faodel.NodeID, srcMailbox, dstMailbox uint64, opID uint32, body []byte) Message {
	return Message{
		Header: Header{
			Src: src, Dst: dst,
			SrcMailbox: srcMailbox, DstMailbox: dstMailbox,
			BodyLen: uint32(len(body)), OpID: opID,
		},
		Body: body,
	}
}

// NewReply builds a reply to req: src/dst are swapped, and — critically —
// the reply's DstMailbox is req's SrcMailbox, so the origin can route the
// reply back to the op that is waiting on that mailbox (spec §4.2).
func NewReply(req Message, replySrcMailbox uint64, body []byte) Message {
	return Message{
		Header: Header{
			Src: req.Header.Dst, Dst: req.Header.Src,
			SrcMailbox: replySrcMailbox, DstMailbox: req.Header.SrcMailbox,
			BodyLen: uint32(len(body)), OpID: req.Header.OpID,
			HdrFlags: req.Header.HdrFlags | HdrFlagReply,
		},
		Body: body,
	}
}
