package na

import (
	"sync"

	"github.com/marmos91/na-ofi/pkg/fabric"
	"github.com/marmos91/na-ofi/pkg/na/internal/opqueue"
)

// Context is one progress-capable unit: in basic-endpoint mode it aliases
// the endpoint's shared tx/rx/CQ/wait set (§4.3), in SEP mode it owns an
// independent tx context, rx context, CQ, and (optionally) wait object.
type Context struct {
	ep *Endpoint
	id int

	txHandle fabric.EPHandle // passed as the ep argument to TSend/WriteMsg/ReadV
	rxHandle fabric.EPHandle // passed as the ep argument to TRecv

	cq       fabric.CQHandle
	wait     fabric.WaitHandle
	waitKind fabric.WaitKind

	unexpected *opqueue.Queue[*Op]
	registry   *opRegistry
	callbacks  *CallbackQueue

	mu     sync.Mutex
	closed bool
}

// CreateContext implements §4.3: basic-endpoint mode aliases the
// endpoint's shared resources; SEP mode allocates an independent tx/rx
// pair bound to a fresh CQ (and wait object, if the endpoint wasn't opened
// with no_wait). Exceeding max_contexts is an invalid-parameter error.
func CreateContext(ep *Endpoint) (*Context, error) {
	ep.mu.Lock()
	if ep.liveContexts >= ep.maxContexts {
		ep.mu.Unlock()
		return nil, newError(StatusInvalidParam, "max_contexts (%d) exceeded", ep.maxContexts)
	}
	id := ep.liveContexts
	ep.liveContexts++
	ep.mu.Unlock()

	c := &Context{ep: ep, id: id, unexpected: opqueue.New[*Op](), registry: newOpRegistry(), callbacks: NewCallbackQueue()}
	d := ep.domain

	if !ep.sep {
		c.txHandle = ep.handle
		c.rxHandle = ep.handle
		c.cq = ep.basicCQ
		c.wait = ep.basicWait
		c.waitKind = ep.waitKind
		ep.mu.Lock()
		ep.contexts = append(ep.contexts, c)
		ep.mu.Unlock()
		return c, nil
	}

	cq, err := d.iface.CQOpen(d.dom, cqSize)
	if err != nil {
		return nil, wrapError(StatusProtocol, err, "opening context completion queue")
	}
	c.cq = cq

	if d.info.SupportsWait && d.manualProg && !d.noWait {
		kind := fabric.WaitSet
		if d.Provider == fabric.ProviderSockets {
			kind = fabric.WaitFD
		}
		c.waitKind = kind
		w, err := d.iface.WaitOpen(d.dom, kind)
		if err != nil {
			return nil, wrapError(StatusProtocol, err, "opening context wait object")
		}
		c.wait = w
		if err := d.iface.BindWait(cq, w); err != nil {
			return nil, wrapError(StatusProtocol, err, "binding context wait object")
		}
	} else {
		c.waitKind = fabric.WaitNone
	}

	tx, err := d.iface.TxContext(ep.handle, id)
	if err != nil {
		return nil, wrapError(StatusProtocol, err, "opening tx context %d", id)
	}
	rx, err := d.iface.RxContext(ep.handle, id)
	if err != nil {
		return nil, wrapError(StatusProtocol, err, "opening rx context %d", id)
	}
	c.txHandle = tx
	c.rxHandle = rx

	if err := d.iface.BindCQ(tx, id, cq); err != nil {
		return nil, wrapError(StatusProtocol, err, "binding tx context %d to cq", id)
	}
	if err := d.iface.BindCQ(rx, id, cq); err != nil {
		return nil, wrapError(StatusProtocol, err, "binding rx context %d to cq", id)
	}
	if err := d.iface.Enable(tx); err != nil {
		return nil, wrapError(StatusProtocol, err, "enabling tx context %d", id)
	}
	if err := d.iface.Enable(rx); err != nil {
		return nil, wrapError(StatusProtocol, err, "enabling rx context %d", id)
	}

	ep.mu.Lock()
	ep.contexts = append(ep.contexts, c)
	ep.mu.Unlock()
	return c, nil
}

// Destroy requires the unexpected queue to be empty, then closes the
// context's own resources (SEP mode only — basic mode owns nothing of its
// own to close) in LIFO order.
func (c *Context) Destroy() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.unexpected.Len() > 0 {
		c.mu.Unlock()
		return newError(StatusProtocol, "context %d destroyed with non-empty unexpected queue", c.id)
	}
	c.closed = true
	c.mu.Unlock()

	ep := c.ep
	ep.mu.Lock()
	ep.liveContexts--
	for i, x := range ep.contexts {
		if x == c {
			ep.contexts = append(ep.contexts[:i], ep.contexts[i+1:]...)
			break
		}
	}
	ep.mu.Unlock()

	if !ep.sep {
		return nil
	}

	d := ep.domain
	if err := d.iface.Close(c.rxHandle); err != nil {
		return err
	}
	if err := d.iface.Close(c.txHandle); err != nil {
		return err
	}
	if c.wait != nil {
		if err := d.iface.Close(c.wait); err != nil {
			return err
		}
	}
	return d.iface.Close(c.cq)
}

// Endpoint returns the owning endpoint.
func (c *Context) Endpoint() *Endpoint { return c.ep }

// Unexpected returns the context's unexpected-recv queue.
func (c *Context) Unexpected() *opqueue.Queue[*Op] { return c.unexpected }

// Registry returns the context's token->Op correlation map.
func (c *Context) Registry() *opRegistry { return c.registry }

// Callbacks returns the context's completion trigger queue.
func (c *Context) Callbacks() *CallbackQueue { return c.callbacks }

// CQ returns the context's completion queue handle.
func (c *Context) CQ() fabric.CQHandle { return c.cq }

// Wait returns the context's wait object, or nil if none.
func (c *Context) Wait() fabric.WaitHandle { return c.wait }

// WaitKind reports the wait-object flavor this context was opened with.
func (c *Context) WaitKind() fabric.WaitKind { return c.waitKind }
