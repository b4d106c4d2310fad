// Package opbox is the Op state-machine runtime: it assigns mailboxes,
// dispatches incoming messages and completion notices to the right Op
// instance, and drives each instance's Update method until it reports it is
// done (spec §4.3). It is the only consumer of message.Transport's
// DeliveryHandler slot.
package opbox

import "github.com/faodel/kelpie/internal/message"

// Role says which side of an exchange an Op instance is playing.
type Role int

const (
	// RoleOrigin is the side that created the op and issued the first
	// request.
	RoleOrigin Role = iota
	// RoleTarget is the side a factory created in response to an incoming
	// request for an op it did not start itself.
	RoleTarget
)

func (r Role) String() string {
	if r == RoleOrigin {
		return "origin"
	}
	return "target"
}

// WaitingType is what an Op's Update method reports about its own state
// after processing one event.
type WaitingType int

const (
	// WaitingOnCQ means the op issued more sends/puts/gets and is waiting on
	// their completion or on a further incoming message; it stays registered.
	WaitingOnCQ WaitingType = iota
	// DoneAndDestroy means the op has reached a terminal state and its
	// mailbox can be reclaimed.
	DoneAndDestroy
	// OpFailed means the op hit an unrecoverable error; it is torn down like
	// DoneAndDestroy but the runtime logs it as a failure.
	OpFailed
)

func (w WaitingType) String() string {
	switch w {
	case WaitingOnCQ:
		return "waiting_on_cq"
	case DoneAndDestroy:
		return "done_and_destroy"
	case OpFailed:
		return "error"
	default:
		return "unknown"
	}
}

// Op is a single op instance's state machine. Exactly one of UpdateOrigin /
// UpdateTarget is called for a given instance's lifetime, according to the
// Role it was created under; the runtime serializes calls to either method
// per mailbox so an Op never needs its own locking against concurrent
// delivery.
type Op interface {
	// UpdateOrigin advances an origin-role instance given the next event
	// (an empty Incoming OpArgs kicks off the very first call after
	// LaunchOp).
	UpdateOrigin(args message.OpArgs) (WaitingType, error)
	// UpdateTarget advances a target-role instance given the next event.
	UpdateTarget(args message.OpArgs) (WaitingType, error)
}

// Closer is optionally implemented by an Op that holds resources (LDOs,
// file handles) needing explicit release once the runtime tears it down.
type Closer interface {
	Close()
}

// MailboxHolder is optionally implemented by a target-role Op that needs
// its own mailbox — e.g. to stamp it into a reply so the origin can address
// a follow-up message (an RDMA pull completion notice) back to this same
// instance. The runtime calls SetMailbox once, before the first Update.
type MailboxHolder interface {
	SetMailbox(mailbox uint64)
}

// Factory constructs a fresh target-role Op instance in response to an
// unsolicited incoming request for a registered opcode.
type Factory func() Op
