package na

import (
	"github.com/marmos91/na-ofi/pkg/fabric"
)

// expectedTagFlag distinguishes expected traffic (bit 32 set) from
// unexpected traffic (bit 32 clear), per §3's tag-space layout.
const expectedTagFlag uint64 = 1 << 32

// maxUnexpectedTag is the largest user tag an unexpected send may carry:
// user tags are limited to 30 bits, below the expected flag at bit 32.
const maxUnexpectedTag uint64 = (1 << 30) - 1

// unexpectedMatchTag/unexpectedIgnoreMask are the fixed match parameters a
// recv-unexpected posts with: "match any tag whose bit 32 is clear."
const (
	unexpectedMatchTag   uint64 = 1
	unexpectedIgnoreMask uint64 = 0xFFFFFFFF
)

// postWithRetry issues post once; on a transient try-again it drains the
// context once via progress(0) and reposts, per §4.7's retry rule shared
// by all four messaging op kinds.
func postWithRetry(c *Context, post func() error) error {
	err := post()
	if err == fabric.ErrTryAgain {
		_, _ = progressDrain(c, 0)
		err = post()
	}
	return err
}

// destAddr computes the fi_addr_t to post to: for a scalable endpoint,
// the peer's base address packed with the target rx context id; for a
// basic endpoint, the peer's address unchanged.
func destAddr(ep *Endpoint, peer *Address, targetID int) fabric.Addr {
	if ep.sep {
		return fabric.RxAddr(peer.FiAddr, targetID, recvCtxBits)
	}
	return peer.FiAddr
}

// SendUnexpected implements §4.7's send-unexpected: tag must fit the
// unexpected tag space, and when the provider lacks native source
// reporting the endpoint's cached request-header template is prepended so
// the receiver can recover the sender's address out of band.
func SendUnexpected(c *Context, peer *Address, targetID int, payload []byte, tag uint64, cb CompletionCallback, userArg any) (*Op, error) {
	if tag > maxUnexpectedTag {
		return nil, newError(StatusInvalidParam, "unexpected send tag %d exceeds max %d", tag, maxUnexpectedTag)
	}

	ep := c.ep
	wireSize := len(payload)
	if !ep.nativeSource {
		wireSize += RequestHeaderSize
	}
	if wireSize >= UnexpectedSize {
		return nil, newError(StatusInvalidParam, "unexpected send of %d bytes reaches max unexpected size %d", wireSize, UnexpectedSize)
	}

	buf := payload
	if !ep.nativeSource {
		if ep.headerTemplate == nil {
			return nil, newError(StatusProtocol, "endpoint has no request-header template for non-native-source provider")
		}
		buf = make([]byte, 0, RequestHeaderSize+len(payload))
		buf = append(buf, ep.headerTemplate...)
		buf = append(buf, payload...)
	}

	op := NewOp(OpSendUnexpected, cb, userArg)
	op.addr = peer
	op.tag = tag
	op.post()
	peer.Ref()
	c.registry.register(op)

	addr := destAddr(ep, peer, targetID)
	err := postWithRetry(c, func() error {
		return c.ep.domain.iface.TSend(c.txHandle, buf, addr, tag, op.Token())
	})
	if err != nil {
		c.registry.forget(op)
		peer.Release()
		op.Release()
		return nil, wrapError(StatusProtocol, err, "posting unexpected send")
	}
	return op, nil
}

// RecvUnexpected implements §4.7's recv-unexpected: posted with
// FI_ADDR_UNSPEC and the match/ignore pair that accepts any tag whose
// expected-flag bit is clear. The op is enqueued on the context's
// unexpected queue before posting, so a racing cancel always finds it
// there even if the post itself hasn't returned yet.
func RecvUnexpected(c *Context, buf []byte, cb CompletionCallback, userArg any) (*Op, error) {
	op := NewOp(OpRecvUnexpected, cb, userArg)
	op.buf = buf
	op.post()
	c.registry.register(op)
	c.unexpected.PushBack(op)

	err := postWithRetry(c, func() error {
		return c.ep.domain.iface.TRecv(c.rxHandle, buf, fabric.AddrUnspec, unexpectedMatchTag, unexpectedIgnoreMask, op.Token())
	})
	if err != nil {
		c.unexpected.Remove(func(x *Op) bool { return x == op })
		c.registry.forget(op)
		op.Release()
		return nil, wrapError(StatusProtocol, err, "posting unexpected recv")
	}
	return op, nil
}

// SendExpected implements §4.7's send-expected: tag = EXPECTED_TAG_FLAG |
// user_tag, addressed directly (no request header, since the recv side
// already knows who it's receiving from).
func SendExpected(c *Context, peer *Address, targetID int, payload []byte, userTag uint64, cb CompletionCallback, userArg any) (*Op, error) {
	op := NewOp(OpSendExpected, cb, userArg)
	op.addr = peer
	op.tag = expectedTagFlag | userTag
	op.post()
	peer.Ref()
	c.registry.register(op)

	addr := destAddr(c.ep, peer, targetID)
	err := postWithRetry(c, func() error {
		return c.ep.domain.iface.TSend(c.txHandle, payload, addr, op.tag, op.Token())
	})
	if err != nil {
		c.registry.forget(op)
		peer.Release()
		op.Release()
		return nil, wrapError(StatusProtocol, err, "posting expected send")
	}
	return op, nil
}

// RecvExpected implements §4.7's recv-expected: match-tag =
// EXPECTED_TAG_FLAG|user_tag, ignore-mask = 0 (exact match), addressed to
// a specific peer.
func RecvExpected(c *Context, peer *Address, buf []byte, userTag uint64, cb CompletionCallback, userArg any) (*Op, error) {
	op := NewOp(OpRecvExpected, cb, userArg)
	op.addr = peer
	op.buf = buf
	op.expectedTag = userTag
	op.post()
	peer.Ref()
	c.registry.register(op)

	err := postWithRetry(c, func() error {
		return c.ep.domain.iface.TRecv(c.rxHandle, buf, peer.FiAddr, expectedTagFlag|userTag, 0, op.Token())
	})
	if err != nil {
		c.registry.forget(op)
		peer.Release()
		op.Release()
		return nil, wrapError(StatusProtocol, err, "posting expected recv")
	}
	return op, nil
}
