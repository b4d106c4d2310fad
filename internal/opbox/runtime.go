package opbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/logging"
	"github.com/faodel/kelpie/internal/message"
)

// OpcodeFromName hashes a human-readable op name (e.g. "pool.publish") into
// the stable 32-bit opcode carried in every message_t header. Using a hash
// instead of a hand-assigned enum lets pool/iom packages register ops
// without a shared numeric registry (spec §4.1).
func OpcodeFromName(name string) uint32 {
	return uint32(xxhash.Sum64String(name))
}

// Registration binds a name/opcode to the factory that builds target-role
// instances for unsolicited incoming requests.
type Registration struct {
	Name    string
	Opcode  uint32
	Factory Factory
}

type instance struct {
	mu          sync.Mutex // serializes Update calls (the drive lock)
	mailbox     uint64
	peerMailbox uint64 // guarded by Runtime.instMu, not mu
	peerNode    faodel.NodeID
	role        Role
	op          Op
	opcode      uint32
	corrID      string
}

// Runtime is a single process's Op dispatcher: one per Transport.
type Runtime struct {
	transport message.Transport

	regMu    sync.RWMutex
	registry map[uint32]Registration
	started  atomic.Bool

	instMu      sync.Mutex
	instances   map[uint64]*instance
	nextMailbox atomic.Uint64

	metrics *Metrics
	tracer  trace.Tracer
}

// NewRuntime builds a Runtime over the given transport. Start must be
// called once before any messages can be routed.
func NewRuntime(transport message.Transport) *Runtime {
	return &Runtime{
		transport: transport,
		registry:  map[uint32]Registration{},
		instances: map[uint64]*instance{},
		metrics:   NewMetrics(),
		tracer:    otel.Tracer("kelpie/opbox"),
	}
}

// Metrics exposes the runtime's prometheus collector for registration.
func (rt *Runtime) Metrics() *Metrics { return rt.metrics }

// Transport returns the transport this runtime dispatches over.
func (rt *Runtime) Transport() message.Transport { return rt.transport }

// RegisterOp adds a target-side factory for name/opcode. Registrations are
// protected by a mutex before Start and rejected afterward — the registry is
// immutable once the runtime is live (spec §4.1).
func (rt *Runtime) RegisterOp(name string, factory Factory) (uint32, error) {
	if rt.started.Load() {
		return 0, faodel.NewError(faodel.CodeInvalidInput, "opbox: cannot register op %q after Start", name)
	}
	opcode := OpcodeFromName(name)
	rt.regMu.Lock()
	defer rt.regMu.Unlock()
	if existing, ok := rt.registry[opcode]; ok && existing.Name != name {
		return 0, faodel.NewError(faodel.CodeInvalidInput, "opbox: opcode collision between %q and %q", existing.Name, name)
	}
	rt.registry[opcode] = Registration{Name: name, Opcode: opcode, Factory: factory}
	return opcode, nil
}

// Start installs the runtime as the transport's delivery handler. Op
// registrations become immutable at this point.
func (rt *Runtime) Start() {
	rt.started.Store(true)
	rt.transport.RegisterDeliveryHandler(rt.onDelivery)
}

// LaunchOp reserves a fresh mailbox, builds the origin-role op via build
// (which receives that mailbox so it can stamp it into its first request's
// SrcMailbox), and drives its first Update call — conventionally where an
// origin op sends its opening request. It returns the assigned mailbox, so
// callers can address follow-up TriggerOp calls (e.g. from a Put/Get
// completion closure) at this instance.
func (rt *Runtime) LaunchOp(opcode uint32, build func(mailbox uint64) Op) uint64 {
	mailbox := rt.nextMailbox.Add(1)
	op := build(mailbox)
	inst := &instance{mailbox: mailbox, role: RoleOrigin, op: op, opcode: opcode, corrID: message.NewCorrelationID()}
	rt.instMu.Lock()
	rt.instances[mailbox] = inst
	rt.instMu.Unlock()
	rt.metrics.launched.Inc()
	rt.drive(inst, message.OpArgs{Kind: message.Incoming})
	return mailbox
}

// TriggerOp re-enters an already-registered instance with an externally
// observed event — the mechanism a Put/Get completion callback or an LKV
// waiter wakeup uses to resume an op that is not driven by a fresh incoming
// message.
func (rt *Runtime) TriggerOp(mailbox uint64, args message.OpArgs) error {
	rt.instMu.Lock()
	inst, ok := rt.instances[mailbox]
	rt.instMu.Unlock()
	if !ok {
		return faodel.NewError(faodel.CodeInvalidInput, "opbox: unknown mailbox %d", mailbox)
	}
	rt.drive(inst, args)
	return nil
}

// PeerMailbox returns the mailbox to address replies to the other side of
// inst's exchange, and its node, as recorded when the instance was created
// (for origin instances, this is set the first time a reply arrives). Peer
// fields are guarded by the runtime's instance lock, NOT the per-instance
// drive lock, so an op may call this from inside its own Update method.
func (rt *Runtime) PeerMailbox(mailbox uint64) (peerNode faodel.NodeID, peerMailbox uint64, ok bool) {
	rt.instMu.Lock()
	defer rt.instMu.Unlock()
	inst, found := rt.instances[mailbox]
	if !found {
		return 0, 0, false
	}
	return inst.peerNode, inst.peerMailbox, true
}

func (rt *Runtime) onDelivery(args message.OpArgs) {
	if args.Kind != message.Incoming {
		// Send/Put/Get completions are routed directly to their own
		// closures by the op that issued them, not through here.
		return
	}
	hdr := args.Message.Header
	if hdr.DstMailbox != 0 {
		rt.instMu.Lock()
		inst, ok := rt.instances[hdr.DstMailbox]
		if ok && inst.role == RoleOrigin && inst.peerMailbox == 0 {
			inst.peerMailbox = hdr.SrcMailbox
			inst.peerNode = hdr.Src
		}
		rt.instMu.Unlock()
		if ok {
			rt.drive(inst, args)
			return
		}
	}

	rt.regMu.RLock()
	reg, ok := rt.registry[hdr.OpID]
	rt.regMu.RUnlock()
	if !ok {
		logging.Op().Warn("opbox: dropping incoming message for unregistered opcode",
			"opcode", hdr.OpID, "src", hdr.Src.String())
		return
	}

	mailbox := rt.nextMailbox.Add(1)
	op := reg.Factory()
	if mh, ok := op.(MailboxHolder); ok {
		mh.SetMailbox(mailbox)
	}
	inst := &instance{
		mailbox:     mailbox,
		peerMailbox: hdr.SrcMailbox,
		peerNode:    hdr.Src,
		role:        RoleTarget,
		op:          op,
		opcode:      hdr.OpID,
		corrID:      message.NewCorrelationID(),
	}
	rt.instMu.Lock()
	rt.instances[mailbox] = inst
	rt.instMu.Unlock()
	rt.metrics.launched.Inc()
	rt.drive(inst, args)
}

func (rt *Runtime) drive(inst *instance, args message.OpArgs) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	ctx, span := rt.tracer.Start(context.Background(), fmt.Sprintf("opbox.%s", inst.role))
	span.SetAttributes(
		attribute.Int64("opbox.mailbox", int64(inst.mailbox)),
		attribute.Int64("opbox.opcode", int64(inst.opcode)),
		attribute.String("opbox.correlation_id", inst.corrID),
	)
	_ = ctx
	defer span.End()

	var wt WaitingType
	var err error
	if inst.role == RoleOrigin {
		wt, err = inst.op.UpdateOrigin(args)
	} else {
		wt, err = inst.op.UpdateTarget(args)
	}
	if err != nil {
		span.RecordError(err)
	}

	switch wt {
	case WaitingOnCQ:
	case DoneAndDestroy:
		rt.retire(inst.mailbox, inst.op)
		rt.metrics.completed.Inc()
	case OpFailed:
		rt.retire(inst.mailbox, inst.op)
		rt.metrics.failed.Inc()
		if err != nil {
			logger := logging.Op()
			if sc := span.SpanContext(); sc.IsValid() {
				logger = logging.OpWithTrace(sc.TraceID().String(), sc.SpanID().String())
			}
			logger.Error("opbox: op failed", "mailbox", inst.mailbox, "opcode", inst.opcode, "correlation_id", inst.corrID, "error", err)
		}
	}
}

func (rt *Runtime) retire(mailbox uint64, op Op) {
	rt.instMu.Lock()
	delete(rt.instances, mailbox)
	rt.instMu.Unlock()
	if c, ok := op.(Closer); ok {
		c.Close()
	}
}
