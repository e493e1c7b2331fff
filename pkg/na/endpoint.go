package na

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/marmos91/na-ofi/internal/logger"
	"github.com/marmos91/na-ofi/internal/telemetry"
	"github.com/marmos91/na-ofi/pkg/fabric"
)

// cqSize is the basic-mode completion queue depth, per §4.2.
const cqSize = 8192

// Endpoint is one opened fabric address: either a basic endpoint sharing a
// single transmit/receive/CQ/wait set across all of its contexts, or a
// scalable endpoint (SEP) where each context gets its own tx/rx pair bound
// to its own CQ.
type Endpoint struct {
	domain *Domain
	handle fabric.EPHandle

	sep         bool
	maxContexts int

	uri            string
	nativeSource   bool
	headerTemplate []byte // nil when nativeSource is true

	waitKind fabric.WaitKind

	// basic mode only: the lone shared tx/rx/cq/wait set, aliased by
	// every context (§4.3).
	basicCQ   fabric.CQHandle
	basicWait fabric.WaitHandle

	mu           sync.Mutex
	liveContexts int
	contexts     []*Context // stack, for LIFO destroy order
}

// verbsInetFixup strips the redundant "inet://" segment verbs-with-rxm
// prepends to its native address string, per §4.2's textual fixup table.
var verbsInetFixup = map[fabric.Provider]func(string) string{
	fabric.ProviderVerbs: func(straddr string) string {
		return strings.TrimPrefix(straddr, "inet://")
	},
}

// nativeSourceReporting reports whether CQReadFrom already carries the
// sender's address, so no request-header template needs caching.
func nativeSourceReporting(p fabric.Provider) bool {
	return p == fabric.ProviderPSM2
}

// acceptsNumericHost reports whether the provider can bind directly off a
// numeric host string, per §4.2 ("everything except psm2/verbs-rxm").
func acceptsNumericHost(p fabric.Provider) bool {
	return p != fabric.ProviderPSM2 && p != fabric.ProviderVerbs
}

func splitHostService(hostPort string) (host, service string) {
	idx := strings.LastIndex(hostPort, ":")
	if idx < 0 {
		return hostPort, ""
	}
	return hostPort[:idx], hostPort[idx+1:]
}

// OpenEndpoint implements §4.2: resolve a bind-side info record, branch
// into scalable vs. basic endpoint construction, derive and cache the
// endpoint's own URI, and set up a request-header template when the
// provider can't report its own source address natively.
func OpenEndpoint(ctx context.Context, d *Domain, cfg Config) (*Endpoint, error) {
	ctx, span := telemetry.StartNASpan(ctx, telemetry.SpanEndpointOpen, "endpoint_open", "", telemetry.Provider(string(d.Provider)))
	defer span.End()

	host, service := splitHostService(cfg.HostName)

	hints := d.info.Clone()
	hints.Node = host
	hints.Service = service
	hints.Numeric = acceptsNumericHost(d.Provider) && host != ""

	infos, err := d.iface.GetInfo(ctx, hints)
	if err != nil {
		return nil, wrapError(StatusProtocol, err, "resolving endpoint bind address for %s", d.Provider)
	}
	if len(infos) == 0 {
		return nil, newError(StatusProtocol, "no matching bind address for %s:%s", host, service)
	}
	info := infos[0]

	ep := &Endpoint{
		domain:       d,
		maxContexts:  cfg.MaxContexts,
		nativeSource: nativeSourceReporting(d.Provider),
	}

	sep := cfg.MaxContexts > 1 && d.Provider != fabric.ProviderVerbs
	ep.sep = sep

	if sep {
		h, err := d.iface.OpenScalableEndpoint(d.dom, info)
		if err != nil {
			return nil, wrapError(StatusProtocol, err, "opening scalable endpoint")
		}
		ep.handle = h
		if err := d.iface.BindAV(h, d.av); err != nil {
			return nil, wrapError(StatusProtocol, err, "binding address vector to scalable endpoint")
		}
		if err := d.iface.Enable(h); err != nil {
			return nil, wrapError(StatusProtocol, err, "enabling scalable endpoint")
		}
	} else {
		h, err := d.iface.OpenEndpoint(d.dom, info)
		if err != nil {
			return nil, wrapError(StatusProtocol, err, "opening endpoint")
		}
		ep.handle = h

		cq, err := d.iface.CQOpen(d.dom, cqSize)
		if err != nil {
			return nil, wrapError(StatusProtocol, err, "opening completion queue")
		}
		ep.basicCQ = cq

		if err := d.iface.BindCQ(h, 0, cq); err != nil {
			return nil, wrapError(StatusProtocol, err, "binding completion queue")
		}
		if err := d.iface.BindAV(h, d.av); err != nil {
			return nil, wrapError(StatusProtocol, err, "binding address vector")
		}

		if info.SupportsWait && d.manualProg && !d.noWait {
			kind := fabric.WaitSet
			if d.Provider == fabric.ProviderSockets {
				kind = fabric.WaitFD
			}
			ep.waitKind = kind
			w, err := d.iface.WaitOpen(d.dom, kind)
			if err != nil {
				return nil, wrapError(StatusProtocol, err, "opening wait object")
			}
			ep.basicWait = w
			if err := d.iface.BindWait(cq, w); err != nil {
				return nil, wrapError(StatusProtocol, err, "binding wait object")
			}
		} else {
			ep.waitKind = fabric.WaitNone
		}

		if err := d.iface.Enable(h); err != nil {
			return nil, wrapError(StatusProtocol, err, "enabling endpoint")
		}
	}

	name, err := d.iface.GetName(ep.handle)
	if err != nil {
		// Retry once: a too-small buffer is the only expected
		// transient failure here, per §4.2.
		name, err = d.iface.GetName(ep.handle)
		if err != nil {
			return nil, wrapError(StatusProtocol, err, "retrieving endpoint name")
		}
	}

	straddr, err := d.iface.AVStraddr(d.av, name)
	if err != nil {
		return nil, wrapError(StatusProtocol, err, "formatting endpoint address")
	}
	if fix, ok := verbsInetFixup[d.Provider]; ok {
		straddr = fix(straddr)
	}
	ep.uri = fmt.Sprintf("%s://%s", d.Provider, straddr)

	if !ep.nativeSource {
		ip, port, perr := parseHostPort(straddr)
		if perr == nil {
			buf := make([]byte, RequestHeaderSize)
			encodeRequestHeader(buf, 0, ip, port)
			ep.headerTemplate = buf
		} else {
			logger.WarnCtx(ctx, "endpoint address is not host:port, request-header template disabled", logger.Provider(string(d.Provider)))
		}
	}

	logger.InfoCtx(ctx, "endpoint opened", logger.EndpointURI(ep.uri), logger.Provider(string(d.Provider)))
	return ep, nil
}

// URI returns the endpoint's formatted address.
func (e *Endpoint) URI() string { return e.uri }

// Handle returns the provider endpoint handle.
func (e *Endpoint) Handle() fabric.EPHandle { return e.handle }

// Domain returns the owning domain.
func (e *Endpoint) Domain() *Domain { return e.domain }

// HeaderTemplate returns the cached request-header bytes (ip/port encoded,
// feats always 0) for providers without native source reporting, or nil.
func (e *Endpoint) HeaderTemplate() []byte { return e.headerTemplate }

// NativeSource reports whether CQReadFrom carries the sender's address
// directly for this endpoint's provider.
func (e *Endpoint) NativeSource() bool { return e.nativeSource }

// SEP reports whether this is a scalable endpoint.
func (e *Endpoint) SEP() bool { return e.sep }

// Close tears down every remaining context (in LIFO order) and then the
// endpoint's own resources.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	contexts := append([]*Context(nil), e.contexts...)
	e.mu.Unlock()

	for i := len(contexts) - 1; i >= 0; i-- {
		if err := contexts[i].Destroy(); err != nil {
			return err
		}
	}

	d := e.domain
	if !e.sep {
		if e.basicWait != nil {
			if err := d.iface.Close(e.basicWait); err != nil {
				return err
			}
		}
		if e.basicCQ != nil {
			if err := d.iface.Close(e.basicCQ); err != nil {
				return err
			}
		}
	}
	return d.iface.Close(e.handle)
}
