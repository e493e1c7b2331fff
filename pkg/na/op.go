package na

import (
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// OpKind tags which state machine an operation record is driving.
type OpKind int

const (
	OpLookup OpKind = iota
	OpSendUnexpected
	OpSendExpected
	OpRecvUnexpected
	OpRecvExpected
	OpPut
	OpGet
)

func (k OpKind) String() string {
	switch k {
	case OpLookup:
		return "lookup"
	case OpSendUnexpected:
		return "send_unexpected"
	case OpSendExpected:
		return "send_expected"
	case OpRecvUnexpected:
		return "recv_unexpected"
	case OpRecvExpected:
		return "recv_expected"
	case OpPut:
		return "put"
	case OpGet:
		return "get"
	default:
		return "unknown"
	}
}

// Magic words bound the record for runtime corruption checks. Both must
// hold their set values for the entire lifetime of the record; they are
// zeroed immediately before the record is dropped.
const (
	opMagic1 uint64 = 0x4E415F4F505F3101 // "NA_OP_1" + version nibble
	opMagic2 uint64 = 0x4E415F4F505F3202 // "NA_OP_2" + version nibble
)

// CompletionCallback is the user callback a caller attaches to an op at
// post time, invoked (indirectly, via the framework's completion queue)
// once the op's completion has been demultiplexed and filled in.
type CompletionCallback func(*CompletionInfo)

// CompletionInfo is the per-kind result payload delivered to a completion
// callback. Exactly the fields relevant to Kind are meaningful.
type CompletionInfo struct {
	Kind   OpKind
	Status Status

	// OpLookup
	Addr *Address

	// OpRecvUnexpected / OpRecvExpected
	Buf        []byte
	ActualSize uint64
	Tag        uint64
	Source     *Address
}

// Op is the plugin's in-flight descriptor for one posted operation:
// lookup, send, recv, put, or get. Every field after the magic words is
// safe for concurrent access only through the documented atomics; the
// variant payload fields are set once before posting and read only after
// completion, so no lock protects them.
type Op struct {
	magic1 uint64

	id       xid.ID
	kind     OpKind
	ctxToken uint64 // the "provider context" correlation token

	refcount  atomic.Int32
	completed atomic.Bool
	canceled  atomic.Bool

	callback CompletionCallback
	userArg  any
	addr     *Address

	// recv-unexpected / recv-expected
	buf         []byte
	actualSize  uint64
	tag         uint64
	expectedTag uint64

	// lookup
	lookupAddr *Address

	magic2 uint64
}

var ctxTokenSeq atomic.Uint64

// NewOp allocates an operation record not yet posted: refcount 1,
// completed true (an unposted op is, by definition, not in flight), both
// magic words set.
func NewOp(kind OpKind, cb CompletionCallback, userArg any) *Op {
	op := &Op{
		magic1:   opMagic1,
		magic2:   opMagic2,
		id:       xid.New(),
		kind:     kind,
		callback: cb,
		userArg:  userArg,
		ctxToken: ctxTokenSeq.Add(1),
	}
	op.refcount.Store(1)
	op.completed.Store(true)
	return op
}

// ID returns the op's correlation identifier, used only for logging and
// tracing, never for addressing or lookup.
func (op *Op) ID() string { return op.id.String() }

func (op *Op) Kind() OpKind { return op.kind }

// Token returns the correlation token handed to the fabric provider as the
// "context" pointer at post time. pkg/na's idiomatic substitute for the
// original's reverse-offset recovery: rather than computing the address of
// the enclosing struct from a field pointer (unsafe and non-portable in
// Go), each context maintains a token->*Op map populated at post and
// consulted at completion, see opRegistry.register/opRegistry.recover.
func (op *Op) Token() *uint64 { return &op.ctxToken }

// valid reports whether both magic words are intact.
func (op *Op) valid() bool {
	return op.magic1 == opMagic1 && op.magic2 == opMagic2
}

// Ref bumps the refcount, used when a user-supplied op-ID slot is reused.
func (op *Op) Ref() { op.refcount.Add(1) }

// Release decrements the refcount; at zero the magic words are zeroed so
// any further use is detectable, and the record is left for the garbage
// collector (the idiomatic substitute for an explicit free()).
func (op *Op) Release() {
	if op.refcount.Add(-1) == 0 {
		op.magic1 = 0
		op.magic2 = 0
	}
}

// post clears completed/canceled immediately before the op is handed to
// the provider, per the messaging and RMA posting paths.
func (op *Op) post() {
	op.completed.Store(false)
	op.canceled.Store(false)
}

// tryComplete is the single CAS on completed that every completion path
// (progress engine, cancel) must go through. Returns false if the op was
// already completed, in which case the caller must not act further.
func (op *Op) tryComplete() bool {
	return op.completed.CompareAndSwap(false, true)
}

func (op *Op) isCompleted() bool { return op.completed.Load() }

// tryCancel is the CAS-once transition on canceled; cancel() is idempotent
// and a second call is a silent no-op.
func (op *Op) tryCancel() bool {
	return op.canceled.CompareAndSwap(false, true)
}

func (op *Op) isCanceled() bool { return op.canceled.Load() }

// opRegistry maps a context-local correlation token to the *Op that posted
// it, so a completion event (which only carries the token back) can
// recover the record. Guarded by a mutex rather than sync.Map: posting and
// completion both take a write lock, and the table is small (bounded by
// in-flight ops per context), so contention is not a concern relative to
// the provider round trip itself.
type opRegistry struct {
	mu    sync.Mutex
	byTok map[uint64]*Op
}

func newOpRegistry() *opRegistry {
	return &opRegistry{byTok: make(map[uint64]*Op)}
}

func (r *opRegistry) register(op *Op) {
	r.mu.Lock()
	r.byTok[op.ctxToken] = op
	r.mu.Unlock()
}

func (r *opRegistry) recover(token uint64) (*Op, bool) {
	r.mu.Lock()
	op, ok := r.byTok[token]
	r.mu.Unlock()
	return op, ok
}

func (r *opRegistry) forget(op *Op) {
	r.mu.Lock()
	delete(r.byTok, op.ctxToken)
	r.mu.Unlock()
}

// Len reports the number of ops currently posted and awaiting completion on
// this context, for metrics collection.
func (r *opRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byTok)
}
