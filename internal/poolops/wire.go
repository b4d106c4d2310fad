// Package poolops is the pool-level wire protocol: Publish, GetBounded,
// GetUnbounded, Drop, List, Meta, and Compute as remote calls against
// another node's local Pool/LKV shard (spec §4.7). It is the thing a DHT,
// RFT, or TFT pool reaches for once placement has picked a member that
// isn't the local node.
//
// Payloads up to MaxEagerBytes travel inline in the request/reply body.
// Above that, only the object's sizes and pinned-memory descriptors travel;
// the other side pulls the bulk bytes with an RDMA Get against them and
// then tells the holder to release (spec §4.7's bounce-buffer protocol).
package poolops

import (
	"bytes"
	"encoding/hex"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/lunasa"
)

// MaxEagerBytes is the largest meta+data payload sent inline in a message
// body. Larger objects switch to the RDMA pull protocol. Variable, not
// const, so tests can lower it to force the pull path with small objects.
var MaxEagerBytes = 32 << 10

const (
	opPublish      = "pool.publish"
	opGetBounded   = "pool.get_bounded"
	opGetUnbounded = "pool.get_unbounded"
	opWant         = "pool.want"
	opDrop         = "pool.drop"
	opList         = "pool.list"
	opMeta         = "pool.meta"
	opCompute      = "pool.compute"
	opPullDone     = "pool.pull_done"
)

type wireKey struct {
	K1 string `json:"k1"`
	K2 string `json:"k2"`
}

func toWireKey(k faodel.Key) wireKey { return wireKey{K1: k.K1, K2: k.K2} }
func (w wireKey) toKey() faodel.Key  { return faodel.Key{K1: w.K1, K2: w.K2} }

// wireDesc is one {handle, offset, length} RDMA segment descriptor in
// transit.
type wireDesc struct {
	Handle uint64 `json:"h"`
	Offset int    `json:"o"`
	Length int    `json:"l"`
}

func toWireDescs(descs []lunasa.SegmentDescriptor) []wireDesc {
	out := make([]wireDesc, 0, len(descs))
	for _, d := range descs {
		if d.Length == 0 {
			continue
		}
		out = append(out, wireDesc{Handle: uint64(d.Handle), Offset: d.Offset, Length: d.Length})
	}
	return out
}

func (w wireDesc) toDesc() lunasa.SegmentDescriptor {
	return lunasa.SegmentDescriptor{Handle: lunasa.RDMAHandle(w.Handle), Offset: w.Offset, Length: w.Length}
}

// wirePull describes an object one side holds pinned so the other side can
// RDMA-Get it: exact region sizes plus the descriptors to pull from, and
// the mailbox of the op instance keeping the memory alive until the puller
// sends a pull_done notice.
type wirePull struct {
	MetaBytes int        `json:"meta_bytes"`
	DataBytes int        `json:"data_bytes"`
	TypeID    uint16     `json:"type_id"`
	Meta      []wireDesc `json:"meta,omitempty"`
	Data      []wireDesc `json:"data,omitempty"`
	Mailbox   uint64     `json:"mailbox"`
}

type wireRequest struct {
	Op      string            `json:"op"`
	PoolURL string            `json:"pool_url"`
	Key     wireKey           `json:"key"`
	MaxSize int               `json:"max_size,omitempty"`
	FnName  string            `json:"fn_name,omitempty"`
	Args    map[string]string `json:"args,omitempty"`
	DataHex string            `json:"data_hex,omitempty"`
	Pull    *wirePull         `json:"pull,omitempty"`
}

type wireResponse struct {
	ErrCode int       `json:"err_code,omitempty"`
	ErrMsg  string    `json:"err_msg,omitempty"`
	DataHex string    `json:"data_hex,omitempty"`
	Exists  bool      `json:"exists,omitempty"`
	Size    int       `json:"size,omitempty"`
	Avail   int       `json:"avail,omitempty"`
	Keys    []wireKey `json:"keys,omitempty"`
	Pull    *wirePull `json:"pull,omitempty"`
}

func errResponse(err error) wireResponse {
	return wireResponse{ErrCode: int(faodel.CodeOf(err)), ErrMsg: err.Error()}
}

func (w wireResponse) toError() error {
	if w.ErrCode == 0 {
		return nil
	}
	return faodel.NewError(faodel.Code(w.ErrCode), "%s", w.ErrMsg)
}

// pullForObject builds the wirePull advertising obj's pinned regions,
// pinning lazily as a side effect of enumerating them. holderMailbox is the
// op instance that keeps obj alive until the pull completes.
func pullForObject(obj *lunasa.DataObject, holderMailbox uint64) (*wirePull, error) {
	metaDescs, err := obj.RDMASegments(lunasa.RegionMeta)
	if err != nil {
		return nil, err
	}
	dataDescs, err := obj.RDMASegments(lunasa.RegionData)
	if err != nil {
		return nil, err
	}
	return &wirePull{
		MetaBytes: obj.MetaBytes(),
		DataBytes: obj.DataBytes(),
		TypeID:    obj.TypeID(),
		Meta:      toWireDescs(metaDescs),
		Data:      toWireDescs(dataDescs),
		Mailbox:   holderMailbox,
	}, nil
}

// encodeObject serializes ldo (full header+meta+data) into a hex string so
// it travels inline inside the JSON envelope the rest of poolops/dirman
// uses. Only used below MaxEagerBytes.
func encodeObject(ldo *lunasa.DataObject) (string, error) {
	var buf bytes.Buffer
	if _, err := ldo.WriteTo(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func decodeObject(s string, allocator *lunasa.Allocator) (*lunasa.DataObject, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, faodel.Wrap(faodel.CodeInvalidInput, err, "poolops: bad hex payload")
	}
	return lunasa.ReadDataObject(bytes.NewReader(raw), allocator)
}
