package na

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mellanox/rdmamap"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/na-ofi/internal/logger"
	"github.com/marmos91/na-ofi/internal/telemetry"
	"github.com/marmos91/na-ofi/pkg/fabric"
)

// recvCtxBits is the address-vector receive-context-bits value every
// domain opens with, per §4.1.
const recvCtxBits = 8

// nonThreadSafeAV is the set of providers whose address-vector mutations
// are not safe for concurrent callers; Domain.withProviderLock is a real
// critical section for these and a no-op for everyone else. This resolves
// Open Question (a): the source's class_lock/class_unlock placeholders are
// implemented, not removed.
var nonThreadSafeAV = map[fabric.Provider]bool{
	fabric.ProviderPSM2: true,
}

// Domain is the process-global handle to a provider + fabric + memory
// region + address vector, shared across every endpoint opened against the
// same (provider, device) pair.
type Domain struct {
	ID         string // uuid, for log correlation across opens/closes
	Provider   fabric.Provider
	DeviceName string
	AuthKey    *uint64

	iface fabric.Iface
	info  *fabric.Info

	fab fabric.FabricHandle
	dom fabric.DomainHandle
	av  fabric.AVHandle

	globalMR   fabric.MRHandle
	mrModeVal  fabric.MRMode
	manualProg bool
	noWait     bool // ProgressMode == non_blocking forces no_wait, per na_ofi.c:2281

	cache *addrCache
	pools *PoolAllocator

	refcount int32

	providerMu sync.Mutex // real lock only for nonThreadSafeAV providers

	// Metrics is nil until AttachMetrics is called; every instrumentation
	// call site in the package guards on it being non-nil.
	Metrics *Metrics
}

// AttachMetrics builds and registers a Metrics collector for this domain
// against reg, wiring the returned instance into d.Metrics.
func (d *Domain) AttachMetrics(reg prometheus.Registerer) *Metrics {
	d.Metrics = NewMetrics(reg, d)
	return d.Metrics
}

var (
	domainListMu sync.Mutex
	domainList   []*Domain
)

// Open implements §4.1: scan the process-global domain list, refcount and
// return a match, or build hints for the requested provider and open a
// fresh domain.
func Open(ctx context.Context, iface fabric.Iface, cfg Config) (*Domain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}

	deviceName := cfg.HostName
	if deviceName == "" && (provider == fabric.ProviderVerbs || provider == fabric.ProviderGNI) {
		if dev, ok := discoverRDMADevice(); ok {
			deviceName = dev
			logger.DebugCtx(ctx, "auto-selected rdma device", logger.Provider(string(provider)), logger.DeviceName(dev))
		}
	}

	domainListMu.Lock()
	for _, d := range domainList {
		if d.Provider == provider && d.DeviceName == deviceName {
			d.refcount++
			domainListMu.Unlock()
			logger.InfoCtx(ctx, "domain reused", logger.DomainID(d.ID), logger.Provider(string(provider)), logger.RefCount(d.refcount))
			return d, nil
		}
	}
	domainListMu.Unlock()

	ctx, span := telemetry.StartNASpan(ctx, telemetry.SpanDomainOpen, "domain_open", "", telemetry.Provider(string(provider)))
	defer span.End()

	hints := buildHints(provider, cfg.AuthKey)

	var infos []*fabric.Info
	openErr := backoff.Retry(func() error {
		var err error
		infos, err = iface.GetInfo(ctx, hints)
		return err
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	if openErr != nil {
		return nil, wrapError(StatusProtocol, openErr, "provider get_info for %s", provider)
	}
	if len(infos) != 1 {
		return nil, newError(StatusProtocol, "expected exactly one matching provider info for %s, got %d", provider, len(infos))
	}
	info := infos[0]

	fab, err := iface.OpenFabric(info)
	if err != nil {
		return nil, wrapError(StatusProtocol, err, "opening fabric for %s", provider)
	}

	dom, err := iface.OpenDomain(fab, info)
	if err != nil {
		return nil, wrapError(StatusProtocol, err, "opening domain for %s", provider)
	}

	d := &Domain{
		ID:         uuid.NewString(),
		Provider:   provider,
		DeviceName: deviceName,
		AuthKey:    cfg.AuthKey,
		iface:      iface,
		info:       info,
		fab:        fab,
		dom:        dom,
		mrModeVal:  info.MRMode,
		manualProg: info.ManualProgress,
		noWait:     cfg.ProgressMode == ProgressNonBlocking,
		cache:      newAddrCache(),
		refcount:   1,
	}
	d.pools = NewPoolAllocator(d)

	if info.MRMode == fabric.MRScalable {
		mr, err := iface.MRReg(dom, make([]byte, 0), fabric.MRReadWrite)
		if err != nil {
			return nil, wrapError(StatusProtocol, err, "registering global [0, UINT64_MAX) memory region")
		}
		d.globalMR = mr
	}

	av, err := iface.AVOpen(dom, recvCtxBits)
	if err != nil {
		return nil, wrapError(StatusProtocol, err, "opening address vector for %s", provider)
	}
	d.av = av

	if provider == fabric.ProviderGNI {
		logger.DebugCtx(ctx, "switching GNI domain to named external MR cache with lazy deregistration", logger.DomainID(d.ID))
	}

	domainListMu.Lock()
	domainList = append(domainList, d)
	domainListMu.Unlock()

	logger.InfoCtx(ctx, "domain opened", logger.DomainID(d.ID), logger.Provider(string(provider)), logger.DeviceName(deviceName))
	return d, nil
}

// discoverRDMADevice returns the first RDMA device sysfs reports, for
// providers (verbs, GNI) that bind to a specific HCA rather than resolving
// one from a host/service string. Returns ok=false when no device node is
// present (e.g. running the sockets/psm2 path on a host with no RDMA
// hardware at all), in which case the caller falls back to whatever the
// provider's own default-device resolution does.
func discoverRDMADevice() (string, bool) {
	devices := rdmamap.GetRdmaDeviceList()
	if len(devices) == 0 {
		return "", false
	}
	return devices[0], true
}

// buildHints constructs the provider-specific hints record per §4.1's
// per-provider table, plus the shared hints every provider gets.
func buildHints(provider fabric.Provider, authKey *uint64) *fabric.Info {
	h := &fabric.Info{
		Provider: provider,
		Caps:     fabric.CapTagged | fabric.CapRMA,
	}

	switch provider {
	case fabric.ProviderSockets:
		h.MRMode = fabric.MRScalable
		h.Caps |= fabric.CapDirectedRecv
	case fabric.ProviderVerbs:
		h.MRMode = fabric.MRBasic
		h.Caps |= fabric.CapLocalMR
		h.ThreadSafe = true
	case fabric.ProviderPSM2:
		h.MRMode = fabric.MRBasic
		// FI_SOURCE_ERR is PSM2-only, per SPEC_FULL.md §5.3: sockets
		// and verbs never request it even though they have other
		// source-reporting-like behavior.
		h.Caps |= fabric.CapSource | fabric.CapSourceErr
	case fabric.ProviderGNI:
		h.MRMode = fabric.MRBasic
		h.AuthKey = authKey
	}

	return h
}

// Close decrements the refcount; at zero, tears down in the spec'd order
// and removes the domain from the process-global list.
func (d *Domain) Close(ctx context.Context) error {
	domainListMu.Lock()
	d.refcount--
	rc := d.refcount
	if rc > 0 {
		domainListMu.Unlock()
		return nil
	}

	idx := -1
	for i, x := range domainList {
		if x == d {
			idx = i
			break
		}
	}
	if idx >= 0 {
		domainList = append(domainList[:idx], domainList[idx+1:]...)
	}
	domainListMu.Unlock()

	var errs []error
	if d.globalMR != nil {
		if err := d.iface.Close(d.globalMR); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.iface.Close(d.av); err != nil {
		errs = append(errs, err)
	}
	if err := d.iface.Close(d.dom); err != nil {
		errs = append(errs, err)
	}
	if err := d.iface.Close(d.fab); err != nil {
		errs = append(errs, err)
	}
	d.iface.FreeInfo(d.info)

	if len(errs) > 0 {
		return wrapError(StatusProtocol, errs[0], "closing domain %s", d.ID)
	}
	logger.InfoCtx(ctx, "domain closed", logger.DomainID(d.ID))
	return nil
}

// RefCount reports the current reference count, for tests and metrics.
func (d *Domain) RefCount() int32 {
	domainListMu.Lock()
	defer domainListMu.Unlock()
	return d.refcount
}

// withProviderLock wraps fn in a real mutex for providers with a known
// non-thread-safe address vector (psm2) and is a pass-through otherwise.
func (d *Domain) withProviderLock(fn func() error) error {
	if nonThreadSafeAV[d.Provider] {
		d.providerMu.Lock()
		defer d.providerMu.Unlock()
	}
	return fn()
}

// --- resolver (addrCache) ---

func (d *Domain) supportsInsertService() bool {
	return d.Provider != fabric.ProviderPSM2
}

func (d *Domain) insertService(node, service string) (fabric.Addr, error) {
	var addr fabric.Addr
	err := d.withProviderLock(func() error {
		var err error
		addr, err = d.iface.AVInsertService(d.av, node, service)
		return err
	})
	return addr, err
}

func (d *Domain) insertRaw(node, service string) (fabric.Addr, error) {
	info := d.info.Clone()
	info.Node = node
	info.Service = service

	var infos []*fabric.Info
	err := d.withProviderLock(func() error {
		var err error
		infos, err = d.iface.GetInfo(context.Background(), info)
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(infos) != 1 {
		return 0, fmt.Errorf("expected exactly one resolved address for %s:%s, got %d", node, service, len(infos))
	}

	var addr fabric.Addr
	err = d.withProviderLock(func() error {
		var err error
		addr, err = d.iface.AVInsert(d.av, infos[0].SrcAddrRaw)
		return err
	})
	return addr, err
}

// removeFromAV reverses a losing insert when a racing writer beat this
// lookup to the cache, so the discarded AV slot doesn't leak until domain
// teardown.
func (d *Domain) removeFromAV(addr fabric.Addr) error {
	return d.withProviderLock(func() error {
		return d.iface.AVRemove(d.av, addr)
	})
}

// Lookup resolves (node, service) into a fabric address through the
// domain's cache, computing the IP-based key form. PSM2's endpoint-ID key
// form is computed by LookupPSM2 since it needs the provider's string
// address, not a node/service pair.
func (d *Domain) Lookup(node, service string) (*Address, error) {
	ip, port, err := parseHostPort(fmt.Sprintf("%s:%s", node, service))
	if err != nil {
		return nil, err
	}
	key := ipPortKey(ip, port)
	return d.cache.lookup(key, node, service, d)
}

// LookupPSM2 resolves a PSM2 peer identified by its provider-native string
// address form, keyed by the xxhash of that string per §3.
func (d *Domain) LookupPSM2(ident string) (*Address, error) {
	key := addrKey(fabric.ProviderPSM2, 0, 0, ident)
	return d.cache.lookup(key, ident, "", d)
}

// --- poolRegistrar ---

func (d *Domain) registerPoolRegion(buf []byte) (fabric.MRHandle, uint64, error) {
	mr, err := d.iface.MRReg(d.dom, buf, fabric.MRReadWrite)
	if err != nil {
		return nil, 0, err
	}
	return mr, d.iface.MRKey(mr), nil
}

func (d *Domain) mrMode() fabric.MRMode { return d.mrModeVal }

// MRMode exposes the domain's memory-registration mode for callers outside
// the package (endpoint/context open need it to pick descriptor shapes).
func (d *Domain) MRMode() fabric.MRMode { return d.mrModeVal }

// NoWait reports whether the domain was opened with ProgressNonBlocking,
// which forces endpoint/context open to skip wait-object creation even when
// the provider would otherwise support one.
func (d *Domain) NoWait() bool { return d.noWait }

var _ poolRegistrar = (*Domain)(nil)

// Pools returns the domain's pool allocator for endpoint/message code that
// needs to allocate/free registered buffers.
func (d *Domain) Pools() *PoolAllocator { return d.pools }

// Cache returns the domain's address cache.
func (d *Domain) Cache() *addrCache { return d.cache }

// Iface returns the underlying fabric provider, for endpoint/context open.
func (d *Domain) Iface() fabric.Iface { return d.iface }

// Handle returns the provider domain handle.
func (d *Domain) Handle() fabric.DomainHandle { return d.dom }

// AV returns the address-vector handle.
func (d *Domain) AV() fabric.AVHandle { return d.av }

// Info returns the provider info this domain was opened with.
func (d *Domain) Info() *fabric.Info { return d.info }

// GlobalMR returns the scalable-mode global memory region, or nil in basic
// mode.
func (d *Domain) GlobalMR() fabric.MRHandle { return d.globalMR }
