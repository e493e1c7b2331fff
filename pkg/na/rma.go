package na

// Put implements §4.8's one-sided write: a one-iov local descriptor built
// from local's registered MR (nil in scalable mode, where the provider
// addresses memory purely by the predefined global key) and a one-iov
// remote descriptor at (remote.Base+remoteOffset, remote.Key()). The
// provider is asked for FI_COMPLETION|FI_DELIVERY_COMPLETE semantics
// implicitly by using the write path, so completion only fires once the
// peer has observed the data.
func Put(c *Context, peer *Address, targetID int, local *MemoryHandle, localBuf []byte, remote *MemoryHandle, remoteOffset uint64, cb CompletionCallback, userArg any) (*Op, error) {
	return postRMA(c, OpPut, peer, targetID, local, localBuf, remote, remoteOffset, cb, userArg)
}

// Get implements §4.8's one-sided read: identical address/descriptor
// construction to Put, but posts a read. Completion semantics are
// naturally read-after-data, with no extra flags needed. Tagged OpGet,
// not OpPut — the two kinds must stay distinguishable for the framework's
// completion payload.
func Get(c *Context, peer *Address, targetID int, local *MemoryHandle, localBuf []byte, remote *MemoryHandle, remoteOffset uint64, cb CompletionCallback, userArg any) (*Op, error) {
	return postRMA(c, OpGet, peer, targetID, local, localBuf, remote, remoteOffset, cb, userArg)
}

func postRMA(c *Context, kind OpKind, peer *Address, targetID int, local *MemoryHandle, localBuf []byte, remote *MemoryHandle, remoteOffset uint64, cb CompletionCallback, userArg any) (*Op, error) {
	if remoteOffset+uint64(len(localBuf)) > remote.Size {
		return nil, newError(StatusInvalidParam, "rma transfer of %d bytes at offset %d exceeds remote handle size %d", len(localBuf), remoteOffset, remote.Size)
	}

	op := NewOp(kind, cb, userArg)
	op.addr = peer
	op.post()
	peer.Ref()
	c.registry.register(op)

	addr := destAddr(c.ep, peer, targetID)
	remoteAddr := remote.Base + remoteOffset

	var post func() error
	if kind == OpPut {
		post = func() error {
			return c.ep.domain.iface.WriteMsg(c.txHandle, localBuf, local.MR(), addr, remoteAddr, remote.Key(), op.Token())
		}
	} else {
		post = func() error {
			return c.ep.domain.iface.ReadV(c.txHandle, localBuf, local.MR(), addr, remoteAddr, remote.Key(), op.Token())
		}
	}

	if err := postWithRetry(c, post); err != nil {
		c.registry.forget(op)
		peer.Release()
		op.Release()
		return nil, wrapError(StatusProtocol, err, "posting rma %s", kind)
	}
	return op, nil
}
