// Package lunasa implements the reference-counted, RDMA-pinnable object
// allocator (DataObject/LDO) described in spec §3 ("DataObject (LDO)") and
// §4.1 ("Allocator & DataObject").
package lunasa

import "encoding/binary"

// wireHeaderSize is the on-the-wire/on-disk header: a 16-bit meta length, a
// 32-bit data length, and a 16-bit type tag.
const wireHeaderSize = 2 + 4 + 2

// wireHeader is the serialized form written ahead of meta+data, both over
// RDMA and to disk.
type wireHeader struct {
	MetaBytes uint16
	DataBytes uint32
	TypeID    uint16
}

func (h wireHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], h.MetaBytes)
	binary.LittleEndian.PutUint32(buf[2:6], h.DataBytes)
	binary.LittleEndian.PutUint16(buf[6:8], h.TypeID)
}

func decodeWireHeader(buf []byte) wireHeader {
	return wireHeader{
		MetaBytes: binary.LittleEndian.Uint16(buf[0:2]),
		DataBytes: binary.LittleEndian.Uint32(buf[2:6]),
		TypeID:    binary.LittleEndian.Uint16(buf[6:8]),
	}
}

// padTo4 returns the number of padding bytes needed so that n rounds up to
// a multiple of 4 (the tail-alignment invariant from spec §3/§4.1).
func padTo4(n int) int {
	rem := n % 4
	if rem == 0 {
		return 0
	}
	return 4 - rem
}
