package na

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/marmos91/na-ofi/internal/logger"
	"github.com/marmos91/na-ofi/pkg/fabric"
)

// maxEventsPerRead bounds how many completion events one CQ read drains in
// a single pass, per §4.9.
const maxEventsPerRead = 16

// Progress implements §4.9: wait on the context's wait object for up to
// timeoutMs, read and demultiplex completion events, and retry on
// transient try-again until the budget is spent. Returns the number of
// real (non-error) events processed.
func Progress(c *Context, timeoutMs int) (int, error) {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	remaining := timeoutMs
	total := 0

	for {
		if remaining > 0 && c.wait != nil {
			if err := c.ep.domain.iface.Wait(c.wait, time.Duration(remaining)*time.Millisecond); err != nil {
				if err == fabric.ErrTimedOut {
					return total, ErrTimeout
				}
				return total, wrapError(StatusProtocol, err, "waiting on context %d", c.id)
			}
		}

		n, err := c.drainOnce()
		total += n
		if err == nil {
			return total, nil
		}
		if err != fabric.ErrTryAgain {
			return total, err
		}

		remaining = int(time.Until(deadline) / time.Millisecond)
		if remaining <= 0 {
			if timeoutMs <= 0 {
				return total, nil
			}
			return total, ErrTimeout
		}
	}
}

// progressDrain is the timeout=0 drain used internally by the messaging
// and RMA posting paths' single try-again retry.
func progressDrain(c *Context, timeoutMs int) (int, error) {
	return Progress(c, timeoutMs)
}

// drainOnce performs one CQ read (plus error-queue check) and demultiplexes
// whatever real events it found. Returns fabric.ErrTryAgain when the CQ had
// nothing for this pass, so the caller's budget loop can decide whether to
// retry.
func (c *Context) drainOnce() (int, error) {
	var events []fabric.CQEvent
	var addrs []fabric.Addr
	var err error

	if c.ep.nativeSource {
		events, addrs, err = c.ep.domain.iface.CQReadFrom(c.cq, maxEventsPerRead)
	} else {
		events, err = c.ep.domain.iface.CQRead(c.cq, maxEventsPerRead)
	}

	if err == fabric.ErrTryAgain {
		if cerr := c.drainErrors(); cerr != nil {
			return 0, cerr
		}
		return 0, fabric.ErrTryAgain
	}
	if err != nil {
		return 0, wrapError(StatusProtocol, err, "reading completion queue")
	}

	for i, ev := range events {
		var src fabric.Addr
		if addrs != nil {
			src = addrs[i]
		} else {
			src = ev.SrcAddr
		}
		c.demux(ev, src)
	}

	if m := c.ep.domain.Metrics; m != nil {
		m.ObserveCQDepth(c.id, len(events))
		m.SetOpsInFlight(c.id, c.registry.Len())
	}

	if derr := c.drainErrors(); derr != nil {
		return len(events), derr
	}
	return len(events), nil
}

// drainErrors reads and dispatches the CQ's error-queue entries, per
// §4.9 step 4.
func (c *Context) drainErrors() error {
	for {
		ee, err := c.ep.domain.iface.CQReadErr(c.cq)
		if err == fabric.ErrTryAgain {
			return nil
		}
		if err != nil {
			return wrapError(StatusProtocol, err, "reading cq error queue")
		}

		switch ee.Kind {
		case fabric.CQErrCancelled:
			// The cancel path already completed the op; nothing to do.
		case fabric.CQErrAddrNotAvail:
			addr, aerr := c.ep.domain.iface.AVInsert(c.ep.domain.av, ee.ErrData)
			if aerr != nil {
				logger.Warn("failed to insert address-not-available peer", logger.Err(aerr))
				continue
			}
			key := ipPortKey(0, 0)
			if len(ee.ErrData) >= 6 {
				key = addrKey(c.ep.domain.Provider, uint32(ee.ErrData[0])<<24|uint32(ee.ErrData[1])<<16|uint32(ee.ErrData[2])<<8|uint32(ee.ErrData[3]), uint16(ee.ErrData[4])<<8|uint16(ee.ErrData[5]), "")
			}
			resolved := newAddress(addr, "")
			c.ep.domain.cache.insertResolved(key, resolved)
			if ee.Context != nil {
				if op, ok := c.registry.recover(*ee.Context); ok {
					c.completeEvent(op, fabric.CQEvent{Context: ee.Context, Flags: fabric.FlagRecv | fabric.FlagTagged}, addr)
				}
			}
		case fabric.CQErrIO:
			logger.Warn("transient io error on completion queue", logger.Err(ee.Err))
		default:
			return wrapError(StatusProtocol, ee.Err, "completion queue error event")
		}
	}
}

// demux dispatches one successfully-read event to its op record by flag
// bitmask, per §4.9 step 5.
func (c *Context) demux(ev fabric.CQEvent, src fabric.Addr) {
	if ev.Context == nil {
		logger.Warn("completion event with nil context pointer, dropped")
		return
	}
	op, ok := c.registry.recover(*ev.Context)
	if !ok {
		logger.Warn("completion event for unknown op token, dropped")
		return
	}
	if !op.valid() {
		logger.Warn("completion event for corrupted op record, dropped", logger.OpID(op.ID()))
		c.registry.forget(op)
		return
	}
	c.completeEvent(op, ev, src)
}

// completeEvent fills in the per-kind completion payload and runs
// complete() (§4.9's closing paragraph): a single CAS on completed, then
// enqueue onto the context's callback queue.
func (c *Context) completeEvent(op *Op, ev fabric.CQEvent, src fabric.Addr) {
	c.registry.forget(op)

	status := StatusSuccess

	switch {
	case ev.Flags.Has(fabric.FlagSend):
		// validated implicitly: only a posted send's token recovers here.

	case ev.Flags.Has(fabric.FlagRecv) && ev.Flags.Has(fabric.FlagTagged):
		op.actualSize = ev.Len
		op.tag = ev.Tag
		switch op.kind {
		case OpRecvExpected:
			if (ev.Tag&0xffffffff) != op.expectedTag&0xffffffff || ev.Len > uint64(len(op.buf)) {
				if ev.Len > uint64(len(op.buf)) {
					status = StatusSize
				} else {
					status = StatusProtocol
				}
			}
		case OpRecvUnexpected:
			c.unexpected.Remove(func(x *Op) bool { return x == op })
			peer := newAddress(src, "")
			peer.refcount.Store(2)
			peer.IsUnexpectedGenerated = true

			if !c.ep.nativeSource && len(ev.Buf) >= RequestHeaderSize {
				hdr, herr := decodeRequestHeader(ev.Buf)
				if herr == nil {
					peer.URI = c.ep.uriForProvider(parseIPv4Port(hdr.IP, uint16(hdr.Port)))
					key := ipPortKey(hdr.IP, uint16(hdr.Port))
					peer = c.ep.domain.cache.insertResolved(key, peer)
				} else {
					status = StatusProtocol
				}
			}
			op.lookupAddr = peer
		}

	case ev.Flags.Has(fabric.FlagRMA):
		op.actualSize = ev.Len
	}

	if !op.tryComplete() {
		return
	}

	info := &CompletionInfo{
		Kind:       op.kind,
		Status:     status,
		Buf:        op.buf,
		ActualSize: op.actualSize,
		Tag:        op.tag,
		Source:     op.lookupAddr,
	}
	if op.addr != nil && info.Source == nil {
		info.Source = op.addr
	}

	cb := op.callback
	addr := op.addr
	lookupAddr := op.lookupAddr
	c.callbacks.push(cb, info, func() {
		if addr != nil {
			addr.Release()
		}
		if lookupAddr != nil {
			lookupAddr.Release()
		}
		op.Release()
	})
}

// uriForProvider formats a recovered peer's "<provider>://host:port" URI
// the way the endpoint's own URI was formatted at open time.
func (e *Endpoint) uriForProvider(hostPort string) string {
	return string(e.domain.Provider) + "://" + hostPort
}

// DrainAll fans Progress out across contexts concurrently; the semaphore
// is sized to the context count, so every context can be progressed at
// once. The first non-timeout error cancels the group's context, which
// stops goroutines that have not yet acquired the semaphore; a Progress
// call already running is not interrupted.
func DrainAll(ctx context.Context, timeoutMs int, contexts ...*Context) error {
	if len(contexts) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(len(contexts)))
	g, gctx := errgroup.WithContext(ctx)

	for _, c := range contexts {
		c := c
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			_, err := Progress(c, timeoutMs)
			if err == ErrTimeout {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
