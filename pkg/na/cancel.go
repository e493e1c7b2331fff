package na

import (
	"github.com/marmos91/na-ofi/internal/logger"
	"github.com/marmos91/na-ofi/pkg/fabric"
)

// Cancel implements §4.10: a magic check and an already-completed check
// both return silently, then a CAS-once on canceled makes a redundant
// cancel a silent no-op too. recv-unexpected is pulled out of the
// unexpected queue before the provider cancel so a racing match can never
// deliver it after this call returns; every other kind just asks the
// provider to cancel on the appropriate side. Either way, completion is
// immediate — the provider's own cancel event arrives later and is
// suppressed because completed is already set.
func Cancel(c *Context, op *Op) error {
	if !op.valid() {
		logger.Warn("cancel on corrupted op record, ignored", logger.OpID(op.ID()))
		return nil
	}
	if op.isCompleted() {
		return nil
	}
	if !op.tryCancel() {
		return nil
	}

	switch op.kind {
	case OpRecvUnexpected:
		c.unexpected.Remove(func(x *Op) bool { return x == op })
		_ = c.ep.domain.iface.Cancel(c.rxHandle, op.Token())
	case OpRecvExpected:
		_ = c.ep.domain.iface.Cancel(c.rxHandle, op.Token())
	default:
		_ = c.ep.domain.iface.Cancel(c.txHandle, op.Token())
	}

	completeCanceled(c, op)
	if m := c.ep.domain.Metrics; m != nil {
		m.IncCancel()
	}

	// verbs-with-rxm crashes on a signal call against its CQ; every other
	// provider gets a wake-up so a wait-blocked progress call returns.
	if c.ep.domain.Provider != fabric.ProviderVerbs {
		_ = c.ep.domain.iface.CQSignal(c.cq)
	}
	return nil
}

// completeCanceled runs the same single-CAS completion path as the
// progress engine's complete(), with a fixed StatusCanceled payload.
func completeCanceled(c *Context, op *Op) {
	c.registry.forget(op)
	if !op.tryComplete() {
		return
	}

	info := &CompletionInfo{
		Kind:   op.kind,
		Status: StatusCanceled,
		Buf:    op.buf,
		Tag:    op.tag,
		Source: op.addr,
	}

	cb := op.callback
	addr := op.addr
	c.callbacks.push(cb, info, func() {
		if addr != nil {
			addr.Release()
		}
		op.Release()
	})
}
