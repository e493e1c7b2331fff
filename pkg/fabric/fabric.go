// Package fabric defines the thin libfabric-shaped provider interface
// consumed by pkg/na, and the opaque handle types that flow through it.
//
// Nothing in this package talks to real hardware or a real OFI provider.
// It exists so pkg/na can be written and tested against a stable Go
// interface while the actual provider binding (cgo against libfabric, or
// a pure-Go reimplementation of one transport) is swapped in later without
// touching the domain/endpoint/context/progress code.
package fabric

import (
	"context"
	"fmt"
	"time"
)

// Provider identifies a transport backend.
type Provider string

const (
	ProviderSockets Provider = "sockets"
	ProviderVerbs   Provider = "verbs"
	ProviderPSM2    Provider = "psm2"
	ProviderGNI     Provider = "gni"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderSockets, ProviderVerbs, ProviderPSM2, ProviderGNI:
		return true
	default:
		return false
	}
}

// Caps is a capability bitmask, mirroring libfabric's fi_info::caps.
type Caps uint64

const (
	CapTagged Caps = 1 << iota
	CapRMA
	CapDirectedRecv
	CapSource
	CapSourceErr
	CapLocalMR
)

func (c Caps) Has(f Caps) bool { return c&f != 0 }

// MRMode selects between a single global memory region covering the whole
// address space (scalable) and per-allocation registration (basic).
type MRMode int

const (
	MRBasic MRMode = iota
	MRScalable
)

// WaitKind selects the wait-object flavor for a completion queue.
type WaitKind int

const (
	WaitNone WaitKind = iota
	WaitFD
	WaitSet
)

// Info is the Go analogue of fi_info: what a provider advertises it can do,
// and what a caller asks for via hints.
type Info struct {
	Provider    Provider
	DeviceName  string
	Node        string
	Service     string
	Caps        Caps
	MRMode      MRMode
	ThreadSafe  bool
	Numeric     bool
	AuthKey     *uint64
	SrcAddrRaw  []byte
	ManualProgress bool
	SupportsWait   bool
}

func (i *Info) Clone() *Info {
	if i == nil {
		return nil
	}
	c := *i
	if i.AuthKey != nil {
		k := *i.AuthKey
		c.AuthKey = &k
	}
	if i.SrcAddrRaw != nil {
		c.SrcAddrRaw = append([]byte(nil), i.SrcAddrRaw...)
	}
	return &c
}

// Addr is an opaque fabric-address handle, the Go analogue of fi_addr_t.
type Addr uint64

// AddrUnspec matches the libfabric FI_ADDR_UNSPEC sentinel.
const AddrUnspec Addr = ^Addr(0)

// CQFlags demultiplexes a completion event, mirroring libfabric's
// fi_cq_tagged_entry::flags.
type CQFlags uint64

const (
	FlagSend CQFlags = 1 << iota
	FlagRecv
	FlagTagged
	FlagRMA
	FlagRead
	FlagWrite
)

func (f CQFlags) Has(x CQFlags) bool { return f&x != 0 }

// CQEvent is one successfully-completed fabric operation.
type CQEvent struct {
	Context *uint64 // the pointer passed at post time, echoed back unchanged
	Flags   CQFlags
	Len     uint64
	Tag     uint64
	Buf     []byte // for recv completions, the buffer that was filled
	SrcAddr Addr   // populated by the read_from variant
}

// RxAddr packs a scalable-endpoint target context index into the high bits
// of a base fabric address, the Go analogue of libfabric's fi_rx_addr.
func RxAddr(base Addr, rxID, rxBits int) Addr {
	shift := uint(64 - rxBits)
	mask := Addr(1)<<uint(rxBits) - 1
	return (base &^ (mask << shift)) | (Addr(rxID&int(mask)) << shift)
}

// SplitRxAddr reverses RxAddr, recovering the base address and target
// context index.
func SplitRxAddr(addr Addr, rxBits int) (base Addr, rxID int) {
	shift := uint(64 - rxBits)
	mask := Addr(1)<<uint(rxBits) - 1
	rxID = int((addr >> shift) & mask)
	base = addr &^ (mask << shift)
	return base, rxID
}

// CQErrKind distinguishes the provider error-queue entry kinds named in
// the progress engine's error-demultiplexing step.
type CQErrKind int

const (
	CQErrUnknown CQErrKind = iota
	CQErrCancelled
	CQErrAddrNotAvail
	CQErrIO
)

// CQErrEvent is an entry read via CQReadErr.
type CQErrEvent struct {
	Context *uint64
	Kind    CQErrKind
	Err     error
	ErrData []byte // raw peer address, populated for CQErrAddrNotAvail
}

// MRAccess is the memory-region access-flags byte from a memory handle.
type MRAccess int

const (
	MRReadOnly MRAccess = iota
	MRWriteOnly
	MRReadWrite
)

// Opaque resource handles. Each is provider-defined; pkg/na never inspects
// their contents, only passes them back into the interface that produced
// them.
type (
	FabricHandle any
	DomainHandle any
	EPHandle     any
	CQHandle     any
	AVHandle     any
	MRHandle     any
	WaitHandle   any
	TxCtxHandle  any
	RxCtxHandle  any
)

// ErrTryAgain is returned by post operations (TSend/TRecv/WriteMsg/ReadV)
// and by CQRead/CQReadFrom when the provider has no space/events right now
// and the caller should retry after a progress() call.
var ErrTryAgain = fmt.Errorf("fabric: try again")

// ErrTimedOut is returned by Wait when the deadline elapses with no event.
var ErrTimedOut = fmt.Errorf("fabric: wait timed out")

// Iface is the fabric-provider interface consumed by pkg/na, matching
// libfabric's get_info/fabric/domain/endpoint/cq/av/mr/tagged-messaging/
// rma/wait-object surface.
type Iface interface {
	GetInfo(ctx context.Context, hints *Info) ([]*Info, error)
	FreeInfo(info *Info)
	DupInfo(info *Info) *Info
	AllocInfo() *Info

	OpenFabric(info *Info) (FabricHandle, error)
	OpenDomain(fab FabricHandle, info *Info) (DomainHandle, error)
	OpenEndpoint(dom DomainHandle, info *Info) (EPHandle, error)
	OpenScalableEndpoint(dom DomainHandle, info *Info) (EPHandle, error)
	TxContext(ep EPHandle, id int) (TxCtxHandle, error)
	RxContext(ep EPHandle, id int) (RxCtxHandle, error)
	Enable(ep EPHandle) error

	CQOpen(dom DomainHandle, size int) (CQHandle, error)
	CQRead(cq CQHandle, max int) ([]CQEvent, error)
	CQReadFrom(cq CQHandle, max int) ([]CQEvent, []Addr, error)
	CQReadErr(cq CQHandle) (*CQErrEvent, error)
	CQSignal(cq CQHandle) error

	// BindCQ binds a transmit or receive context (rxID identifies which,
	// 0 for the endpoint's lone basic-mode context) to cq.
	BindCQ(ep EPHandle, rxID int, cq CQHandle) error
	// BindAV binds an endpoint to its address vector.
	BindAV(ep EPHandle, av AVHandle) error
	// BindWait attaches a wait object to a completion queue.
	BindWait(cq CQHandle, w WaitHandle) error

	WaitOpen(dom DomainHandle, kind WaitKind) (WaitHandle, error)
	Wait(w WaitHandle, timeout time.Duration) error

	AVOpen(dom DomainHandle, recvCtxBits int) (AVHandle, error)
	AVInsert(av AVHandle, rawAddr []byte) (Addr, error)
	AVInsertService(av AVHandle, node, service string) (Addr, error)
	AVRemove(av AVHandle, addr Addr) error
	AVLookup(av AVHandle, addr Addr) ([]byte, error)
	AVStraddr(av AVHandle, rawAddr []byte) (string, error)

	MRReg(dom DomainHandle, buf []byte, access MRAccess) (MRHandle, error)
	MRKey(mr MRHandle) uint64
	MRDesc(mr MRHandle) any

	TSend(ep EPHandle, buf []byte, dest Addr, tag uint64, ctxPtr *uint64) error
	TRecv(ep EPHandle, buf []byte, src Addr, tag, ignore uint64, ctxPtr *uint64) error
	WriteMsg(ep EPHandle, local []byte, desc MRHandle, dest Addr, remoteAddr, remoteKey uint64, ctxPtr *uint64) error
	ReadV(ep EPHandle, local []byte, desc MRHandle, dest Addr, remoteAddr, remoteKey uint64, ctxPtr *uint64) error

	Cancel(ep EPHandle, ctxPtr *uint64) error
	Close(h any) error
	Control(h any, op int, arg any) error
	GetName(ep EPHandle) ([]byte, error)
	StrError(code int) string
}
