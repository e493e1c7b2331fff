package fabric

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Network is a shared in-memory rendezvous point for a set of FakeProvider
// endpoints. Tests that exercise two-sided messaging or RMA between two
// simulated peers construct one Network and one FakeProvider per peer
// sharing it.
type Network struct {
	mu          sync.Mutex
	eps         map[string]*fakeEP
	mrs         map[uint64][]byte
	addrToIdent map[Addr]string
	nextKey     atomic.Uint64
	nextFiA     atomic.Uint64
}

func NewNetwork() *Network {
	return &Network{
		eps:         make(map[string]*fakeEP),
		mrs:         make(map[uint64][]byte),
		addrToIdent: make(map[Addr]string),
	}
}

// FakeProvider implements Iface entirely in memory. It is deterministic and
// single-process: useful for testing pkg/na without a real libfabric
// binding.
type FakeProvider struct {
	net *Network
}

func NewFakeProvider(net *Network) *FakeProvider {
	return &FakeProvider{net: net}
}

type pendingMsg struct {
	buf  []byte
	tag  uint64
	from string // sender identity, as seen in the network directory
}

type pendingRecv struct {
	buf     []byte
	srcAddr Addr
	tag     uint64
	ignore  uint64
	ctxPtr  *uint64
}

type fakeEP struct {
	mu       sync.Mutex
	identity string
	sep      bool
	rxBits   int
	inbox    map[int][]pendingMsg  // rx context id -> queued sends
	recvs    map[int][]pendingRecv // rx context id -> queued recvs
	cqs      map[int]*fakeCQ       // rx context id -> its CQ (0 used for basic mode)
	selfAddr Addr
	av       *fakeAV // the address vector this endpoint's domain opened
}

func newFakeEP(identity string, selfAddr Addr) *fakeEP {
	return &fakeEP{
		identity: identity,
		inbox:    make(map[int][]pendingMsg),
		recvs:    make(map[int][]pendingRecv),
		cqs:      make(map[int]*fakeCQ),
		selfAddr: selfAddr,
	}
}

// tryMatch attempts to pair queued sends against queued recvs for one
// context bucket, following libfabric tag-matching semantics: a recv with
// ignore mask `ignore` matches a send tag `t` when `(recvTag^t)&^ignore == 0`.
func (ep *fakeEP) tryMatch(rxID int) {
	inbox := ep.inbox[rxID]
	recvs := ep.recvs[rxID]

	for ri := 0; ri < len(recvs); ri++ {
		r := recvs[ri]
		for mi := 0; mi < len(inbox); mi++ {
			m := inbox[mi]
			if r.srcAddr != AddrUnspec {
				wantIdent := ""
				if ep.av != nil {
					ep.av.mu.Lock()
					wantIdent = ep.av.byAddr[r.srcAddr]
					ep.av.mu.Unlock()
				}
				if wantIdent != m.from {
					continue
				}
			}
			if (r.tag^m.tag)&^r.ignore != 0 {
				continue
			}

			n := copy(r.buf, m.buf)
			cq := ep.cqs[rxID]
			if cq == nil {
				cq = ep.cqs[0]
			}
			srcAddr := AddrUnspec
			if ep.av != nil {
				ep.av.mu.Lock()
				srcAddr = ep.av.byIdent[m.from]
				ep.av.mu.Unlock()
			}
			cq.push(CQEvent{
				Context: r.ctxPtr,
				Flags:   FlagRecv | FlagTagged,
				Len:     uint64(len(m.buf)),
				Tag:     m.tag,
				Buf:     r.buf[:n],
				SrcAddr: srcAddr,
			})

			inbox = append(inbox[:mi], inbox[mi+1:]...)
			recvs = append(recvs[:ri], recvs[ri+1:]...)
			ep.inbox[rxID] = inbox
			ep.recvs[rxID] = recvs
			ep.tryMatch(rxID)
			return
		}
	}
}

func (f *FakeProvider) GetInfo(_ context.Context, hints *Info) ([]*Info, error) {
	if hints == nil || !hints.Provider.Valid() {
		return nil, fmt.Errorf("fabric: invalid provider in hints")
	}
	info := hints.Clone()
	info.ManualProgress = true
	info.SupportsWait = true
	info.ThreadSafe = hints.Provider != ProviderPSM2
	return []*Info{info}, nil
}

func (f *FakeProvider) FreeInfo(*Info) {}

func (f *FakeProvider) DupInfo(info *Info) *Info { return info.Clone() }

func (f *FakeProvider) AllocInfo() *Info { return &Info{} }

func (f *FakeProvider) OpenFabric(*Info) (FabricHandle, error) {
	return "fake-fabric", nil
}

func (f *FakeProvider) OpenDomain(FabricHandle, *Info) (DomainHandle, error) {
	return "fake-domain", nil
}

func (f *FakeProvider) openEP(info *Info, sep bool) (EPHandle, error) {
	identity := fmt.Sprintf("%s:%s", info.Node, info.Service)

	f.net.mu.Lock()
	addr := Addr(f.net.nextFiA.Add(1))
	ep := newFakeEP(identity, addr)
	ep.sep = sep
	f.net.eps[identity] = ep
	f.net.mu.Unlock()

	return ep, nil
}

func (f *FakeProvider) OpenEndpoint(_ DomainHandle, info *Info) (EPHandle, error) {
	return f.openEP(info, false)
}

func (f *FakeProvider) OpenScalableEndpoint(_ DomainHandle, info *Info) (EPHandle, error) {
	return f.openEP(info, true)
}

// fakeTxCtx/fakeRxCtx are the per-context handles a scalable endpoint hands
// back from TxContext/RxContext; TSend/TRecv/WriteMsg/ReadV accept either
// these or a bare *fakeEP (basic mode) as their ep argument, mirroring how
// a real tx/rx context fid can stand in for the endpoint fid in fi_tsend
// / fi_trecv.
type fakeTxCtx struct {
	ep *fakeEP
	id int
}

type fakeRxCtx struct {
	ep *fakeEP
	id int
}

func (f *FakeProvider) TxContext(ep EPHandle, id int) (TxCtxHandle, error) {
	return &fakeTxCtx{ep: ep.(*fakeEP), id: id}, nil
}

func (f *FakeProvider) RxContext(ep EPHandle, id int) (RxCtxHandle, error) {
	return &fakeRxCtx{ep: ep.(*fakeEP), id: id}, nil
}

// asEPAndCtx recovers the underlying endpoint and its context bucket id
// from any of the three handle shapes TSend/TRecv/WriteMsg/ReadV accept.
func asEPAndCtx(h EPHandle) (*fakeEP, int) {
	switch v := h.(type) {
	case *fakeEP:
		return v, 0
	case *fakeTxCtx:
		return v.ep, v.id
	case *fakeRxCtx:
		return v.ep, v.id
	default:
		panic(fmt.Sprintf("fabric: unrecognized endpoint handle %T", h))
	}
}

func (f *FakeProvider) Enable(EPHandle) error { return nil }

func (f *FakeProvider) CQOpen(_ DomainHandle, size int) (CQHandle, error) {
	return newFakeCQ(size), nil
}

// BindCQ associates a CQ with one of an endpoint's rx context buckets
// (bucket 0 in basic mode), mirroring fi_ep_bind(ep, cq, ...).
func (f *FakeProvider) BindCQ(ep EPHandle, rxID int, cq CQHandle) error {
	fep, _ := asEPAndCtx(ep)
	fep.mu.Lock()
	fep.cqs[rxID] = cq.(*fakeCQ)
	fep.mu.Unlock()
	return nil
}

// BindAV associates an endpoint with the address vector its domain opened,
// mirroring the implicit fi_ep_bind(ep, av, 0) a real binding performs
// before fi_enable.
func (f *FakeProvider) BindAV(ep EPHandle, av AVHandle) error {
	fep, _ := asEPAndCtx(ep)
	fep.mu.Lock()
	fep.av = av.(*fakeAV)
	fep.rxBits = fep.av.rxBits
	fep.mu.Unlock()
	return nil
}

func (f *FakeProvider) CQRead(cq CQHandle, max int) ([]CQEvent, error) {
	return cq.(*fakeCQ).read(max)
}

func (f *FakeProvider) CQReadFrom(cq CQHandle, max int) ([]CQEvent, []Addr, error) {
	evs, err := cq.(*fakeCQ).read(max)
	if err != nil {
		return nil, nil, err
	}
	addrs := make([]Addr, len(evs))
	for i, e := range evs {
		addrs[i] = e.SrcAddr
	}
	return evs, addrs, nil
}

func (f *FakeProvider) CQReadErr(cq CQHandle) (*CQErrEvent, error) {
	return cq.(*fakeCQ).readErr()
}

func (f *FakeProvider) CQSignal(cq CQHandle) error {
	cq.(*fakeCQ).signal()
	return nil
}

func (f *FakeProvider) WaitOpen(_ DomainHandle, kind WaitKind) (WaitHandle, error) {
	return &fakeWait{ready: make(chan struct{}, 1)}, nil
}

// BindWait associates a wait object with a CQ so that CQSignal/event pushes
// wake a blocked Wait call, mirroring fi_cq_open's wait-object binding.
func (f *FakeProvider) BindWait(cq CQHandle, w WaitHandle) error {
	fcq := cq.(*fakeCQ)
	fcq.mu.Lock()
	fcq.wait = w.(*fakeWait)
	fcq.mu.Unlock()
	return nil
}

func (f *FakeProvider) Wait(w WaitHandle, timeout time.Duration) error {
	fw := w.(*fakeWait)
	select {
	case <-fw.ready:
		return nil
	case <-time.After(timeout):
		return ErrTimedOut
	}
}

func (f *FakeProvider) AVOpen(_ DomainHandle, recvCtxBits int) (AVHandle, error) {
	return &fakeAV{
		byAddr:  make(map[Addr]string),
		byIdent: make(map[string]Addr),
		rxBits:  recvCtxBits,
	}, nil
}

func (f *FakeProvider) AVInsert(av AVHandle, rawAddr []byte) (Addr, error) {
	a := av.(*fakeAV)
	ident := string(rawAddr)

	addr := Addr(f.net.nextFiA.Add(1))

	a.mu.Lock()
	a.byAddr[addr] = ident
	a.byIdent[ident] = addr
	a.mu.Unlock()

	f.net.mu.Lock()
	f.net.addrToIdent[addr] = ident
	f.net.mu.Unlock()

	return addr, nil
}

func (f *FakeProvider) AVInsertService(av AVHandle, node, service string) (Addr, error) {
	return f.AVInsert(av, []byte(fmt.Sprintf("%s:%s", node, service)))
}

func (f *FakeProvider) AVRemove(av AVHandle, addr Addr) error {
	a := av.(*fakeAV)
	a.mu.Lock()
	defer a.mu.Unlock()
	if ident, ok := a.byAddr[addr]; ok {
		delete(a.byIdent, ident)
		delete(a.byAddr, addr)
	}
	return nil
}

func (f *FakeProvider) AVLookup(av AVHandle, addr Addr) ([]byte, error) {
	a := av.(*fakeAV)
	a.mu.Lock()
	defer a.mu.Unlock()
	ident, ok := a.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("fabric: address %d not in av", addr)
	}
	return []byte(ident), nil
}

func (f *FakeProvider) AVStraddr(_ AVHandle, rawAddr []byte) (string, error) {
	return string(rawAddr), nil
}

func (f *FakeProvider) MRReg(_ DomainHandle, buf []byte, access MRAccess) (MRHandle, error) {
	key := f.net.nextKey.Add(1)
	f.net.mu.Lock()
	f.net.mrs[key] = buf
	f.net.mu.Unlock()
	return &fakeMR{key: key, buf: buf, access: access}, nil
}

func (f *FakeProvider) MRKey(mr MRHandle) uint64 {
	return mr.(*fakeMR).key
}

func (f *FakeProvider) MRDesc(mr MRHandle) any {
	return mr
}

type fakeMR struct {
	key    uint64
	buf    []byte
	access MRAccess
}

type fakeAV struct {
	mu      sync.Mutex
	byAddr  map[Addr]string
	byIdent map[string]Addr
	rxBits  int
}

type fakeWait struct {
	ready chan struct{}
}

type fakeCQ struct {
	mu      sync.Mutex
	events  []CQEvent
	errs    []CQErrEvent
	maxSize int
	wait    *fakeWait
}

func newFakeCQ(size int) *fakeCQ {
	return &fakeCQ{maxSize: size}
}

func (c *fakeCQ) push(e CQEvent) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	c.signal()
}

// PushErrEvent lets tests inject a synthetic provider error-queue entry
// (cancelled / address-not-available / io-error) without needing the fake
// network to model every failure path end to end.
func (c *fakeCQ) PushErrEvent(e CQErrEvent) {
	c.mu.Lock()
	c.errs = append(c.errs, e)
	c.mu.Unlock()
	c.signal()
}

func (c *fakeCQ) read(max int) ([]CQEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil, ErrTryAgain
	}
	n := max
	if n > len(c.events) {
		n = len(c.events)
	}
	out := c.events[:n]
	c.events = c.events[n:]
	return out, nil
}

func (c *fakeCQ) readErr() (*CQErrEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) == 0 {
		return nil, ErrTryAgain
	}
	e := c.errs[0]
	c.errs = c.errs[1:]
	return &e, nil
}

func (c *fakeCQ) signal() {
	if c.wait == nil {
		return
	}
	select {
	case c.wait.ready <- struct{}{}:
	default:
	}
}

// PushErrEventTo is a package-level convenience for tests that only hold a
// CQHandle (an any) rather than the concrete *fakeCQ.
func PushErrEventTo(cq CQHandle, e CQErrEvent) {
	cq.(*fakeCQ).PushErrEvent(e)
}

// resolveDest maps a (possibly rx-packed) fi_addr_t to the fakeEP it was
// produced from by AVInsert, and the target rx context id if any.
func (f *FakeProvider) resolveDest(fep *fakeEP, dest Addr) (*fakeEP, int, error) {
	rxID := 0
	base := dest
	if fep.sep && fep.rxBits > 0 {
		base, rxID = SplitRxAddr(dest, fep.rxBits)
	}

	f.net.mu.Lock()
	ident, ok := f.net.addrToIdent[base]
	var destEP *fakeEP
	if ok {
		destEP = f.net.eps[ident]
	}
	f.net.mu.Unlock()

	if destEP == nil {
		return nil, 0, fmt.Errorf("fabric: no such destination address %d", dest)
	}
	return destEP, rxID, nil
}

func (f *FakeProvider) TSend(ep EPHandle, buf []byte, dest Addr, tag uint64, ctxPtr *uint64) error {
	fep, txID := asEPAndCtx(ep)

	destEP, rxID, err := f.resolveDest(fep, dest)
	if err != nil {
		return err
	}

	cp := append([]byte(nil), buf...)

	destEP.mu.Lock()
	destEP.inbox[rxID] = append(destEP.inbox[rxID], pendingMsg{buf: cp, tag: tag, from: fep.identity})
	destEP.tryMatch(rxID)
	destEP.mu.Unlock()

	fep.mu.Lock()
	cq := fep.cqs[txID]
	if cq == nil {
		cq = fep.cqs[0]
	}
	fep.mu.Unlock()
	if cq != nil {
		cq.push(CQEvent{Context: ctxPtr, Flags: FlagSend | FlagTagged, Len: uint64(len(buf)), Tag: tag})
	}
	return nil
}

func (f *FakeProvider) TRecv(ep EPHandle, buf []byte, src Addr, tag, ignore uint64, ctxPtr *uint64) error {
	fep, rxID := asEPAndCtx(ep)

	fep.mu.Lock()
	fep.recvs[rxID] = append(fep.recvs[rxID], pendingRecv{buf: buf, srcAddr: src, tag: tag, ignore: ignore, ctxPtr: ctxPtr})
	fep.tryMatch(rxID)
	fep.mu.Unlock()
	return nil
}

func (f *FakeProvider) WriteMsg(ep EPHandle, local []byte, desc MRHandle, dest Addr, remoteAddr, remoteKey uint64, ctxPtr *uint64) error {
	fep, txID := asEPAndCtx(ep)

	f.net.mu.Lock()
	remote, ok := f.net.mrs[remoteKey]
	f.net.mu.Unlock()
	if !ok {
		return fmt.Errorf("fabric: unknown remote key %d", remoteKey)
	}
	if remoteAddr+uint64(len(local)) > uint64(len(remote)) {
		return fmt.Errorf("fabric: write out of bounds")
	}
	copy(remote[remoteAddr:], local)

	fep.mu.Lock()
	cq := fep.cqs[txID]
	if cq == nil {
		cq = fep.cqs[0]
	}
	fep.mu.Unlock()
	if cq != nil {
		cq.push(CQEvent{Context: ctxPtr, Flags: FlagRMA | FlagWrite, Len: uint64(len(local))})
	}
	return nil
}

func (f *FakeProvider) ReadV(ep EPHandle, local []byte, desc MRHandle, dest Addr, remoteAddr, remoteKey uint64, ctxPtr *uint64) error {
	fep, txID := asEPAndCtx(ep)

	f.net.mu.Lock()
	remote, ok := f.net.mrs[remoteKey]
	f.net.mu.Unlock()
	if !ok {
		return fmt.Errorf("fabric: unknown remote key %d", remoteKey)
	}
	if remoteAddr+uint64(len(local)) > uint64(len(remote)) {
		return fmt.Errorf("fabric: read out of bounds")
	}
	copy(local, remote[remoteAddr:remoteAddr+uint64(len(local))])

	fep.mu.Lock()
	cq := fep.cqs[txID]
	if cq == nil {
		cq = fep.cqs[0]
	}
	fep.mu.Unlock()
	if cq != nil {
		cq.push(CQEvent{Context: ctxPtr, Flags: FlagRMA | FlagRead, Len: uint64(len(local))})
	}
	return nil
}

func (f *FakeProvider) Cancel(ep EPHandle, ctxPtr *uint64) error {
	return nil
}

func (f *FakeProvider) Close(h any) error { return nil }

func (f *FakeProvider) Control(h any, op int, arg any) error { return nil }

func (f *FakeProvider) GetName(ep EPHandle) ([]byte, error) {
	fep, _ := asEPAndCtx(ep)
	return []byte(fep.identity), nil
}

func (f *FakeProvider) StrError(code int) string {
	return fmt.Sprintf("fabric error %d", code)
}

var _ Iface = (*FakeProvider)(nil)
