package message

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/faodel/kelpie/internal/faodel"
)

// NewCorrelationID returns a fresh random id with no wire meaning of its
// own — it exists purely so a request and its eventual reply (and every
// log line either side emits about them) can be tied together across two
// processes' logs, the way a mailbox ties a reply to its waiting op within
// one process.
func NewCorrelationID() string { return uuid.NewString() }

// AllocateStringRequest builds a request message whose body is s, copied
// after the header — the envelope helper spec §4.2 names for URL-bearing
// requests (e.g. a DirMan Locate/GetInfo call).
func AllocateStringRequest(src, dst faodel.NodeID, srcMailbox uint64, opID uint32, s string) Message {
	return NewRequest(src, dst, srcMailbox, 0, opID, []byte(s))
}

// AllocateStringReply mirrors AllocateStringRequest for the reply leg,
// swapping src/dst and preserving req's SrcMailbox as the reply's
// DstMailbox.
func AllocateStringReply(req Message, replySrcMailbox uint64, s string) Message {
	return NewReply(req, replySrcMailbox, []byte(s))
}

// BodyString returns the body interpreted as a string (for string requests).
func (m Message) BodyString() string { return string(m.Body) }

// EncodeValue cereal-style-serializes a composite value (this
// implementation uses JSON, matching the encoding the rest of the pack uses
// for structured wire payloads) into a request/reply body.
func EncodeValue(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeValue parses a body previously produced by EncodeValue.
func DecodeValue(body []byte, v any) error {
	return json.Unmarshal(body, v)
}

// NewValueRequest builds a request whose body is the JSON encoding of v.
func NewValueRequest(src, dst faodel.NodeID, srcMailbox uint64, opID uint32, v any) (Message, error) {
	b, err := EncodeValue(v)
	if err != nil {
		return Message{}, err
	}
	return NewRequest(src, dst, srcMailbox, 0, opID, b), nil
}

// NewValueReply builds a reply whose body is the JSON encoding of v.
func NewValueReply(req Message, replySrcMailbox uint64, v any) (Message, error) {
	b, err := EncodeValue(v)
	if err != nil {
		return Message{}, err
	}
	return NewReply(req, replySrcMailbox, b), nil
}
