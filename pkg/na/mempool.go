// Memory pool: registered buffer blocks recycled through a free list,
// adapted from the teacher's pkg/bufpool tiered sync.Pool design. bufpool
// hands out plain byte slices sized to a fixed tier; a registered-memory
// pool additionally needs every block to come out of one
// already-registered region (so handing a block to send/recv never
// triggers a fresh, blocking memory registration on the hot path). Blocks
// carry no header; PoolAllocator.Free finds the owning pool by MR key.
package na

import (
	"sync"
	"sync/atomic"

	"github.com/marmos91/na-ofi/internal/bytesize"
	"github.com/marmos91/na-ofi/pkg/fabric"
)

// UnexpectedSize is the maximum unexpected-message size; messages at or
// above this are rejected at buffer allocation (§8 boundary behavior).
const UnexpectedSize = 4096

// defaultPoolBlocks is the block count used for a pool auto-created by
// alloc() when no existing pool has room, sized to the maximum unexpected
// message size per §4.6.
const defaultPoolBlocks = 256

// poolRegistrar is the subset of domain behavior a pool needs to register
// its backing region with the fabric.
type poolRegistrar interface {
	registerPoolRegion(buf []byte) (fabric.MRHandle, uint64, error)
	mrMode() fabric.MRMode
}

// poolBlock is a free-list node: one fixed-size block of its pool's
// region.
type poolBlock struct {
	pool *memPool
	buf  []byte // the block's slice of the pool region
}

// memPool owns one registered region, sliced into
// block_count fixed-size blocks, plus a free list of the blocks not
// currently handed out.
type memPool struct {
	mu        sync.Mutex
	region    []byte
	blockSize int
	free      []*poolBlock

	mr    fabric.MRHandle
	mrKey uint64

	outstanding atomic.Int32
}

// newMemPool allocates blockCount blocks of blockSize bytes each as one
// contiguous region and registers it with the fabric, mirroring create()'s
// single allocation + single registration.
func newMemPool(d poolRegistrar, blockSize, blockCount int) (*memPool, error) {
	if blockSize <= 0 || blockCount <= 0 {
		return nil, newError(StatusInvalidParam, "pool block size and count must be positive")
	}

	total := blockSize * blockCount
	region := make([]byte, total)

	p := &memPool{region: region, blockSize: blockSize}

	if d.mrMode() == fabric.MRBasic {
		mr, key, err := d.registerPoolRegion(region)
		if err != nil {
			return nil, wrapError(StatusNoMemory, err, "registering pool region of %s", bytesize.ByteSize(total))
		}
		p.mr = mr
		p.mrKey = key
	} else {
		p.mrKey = scalableMRKey
	}

	p.free = make([]*poolBlock, 0, blockCount)
	for i := 0; i < blockCount; i++ {
		start := i * blockSize
		p.free = append(p.free, &poolBlock{pool: p, buf: region[start : start+blockSize : start+blockSize]})
	}

	return p, nil
}

// tryAlloc pops a block under the pool's lock; returns nil if the free
// list is empty.
func (p *memPool) tryAlloc(size int) *poolBlock {
	if size > p.blockSize {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil
	}
	b := p.free[n-1]
	p.free = p.free[:n-1]
	p.outstanding.Add(1)
	return b
}

func (p *memPool) put(b *poolBlock) {
	p.mu.Lock()
	p.free = append(p.free, b)
	p.mu.Unlock()
	p.outstanding.Add(-1)
}

// PoolAllocator is a class-level list of memory pools (§4.6's "class's pool
// list"): alloc scans for room before creating a new pool, free recovers
// the owning pool from the block's MR key.
type PoolAllocator struct {
	mu    sync.Mutex
	pools []*memPool
	d     poolRegistrar
}

func NewPoolAllocator(d poolRegistrar) *PoolAllocator {
	return &PoolAllocator{d: d}
}

// Alloc returns a buffer of at least size bytes plus its owning MR key,
// matching §4.6's alloc(size): scan for a pool with room, else create one
// sized to the max unexpected message size x 256 blocks. A request at or
// above UnexpectedSize is rejected rather than grown, per §8's boundary
// behavior: the pool only ever backs unexpected-sized messages.
func (a *PoolAllocator) Alloc(size int) ([]byte, uint64, error) {
	if size >= UnexpectedSize {
		return nil, 0, newError(StatusInvalidParam, "requested size %d reaches unexpected-message limit %d", size, UnexpectedSize)
	}

	a.mu.Lock()
	pools := a.pools
	a.mu.Unlock()

	for _, p := range pools {
		if b := p.tryAlloc(size); b != nil {
			return b.buf, p.mrKey, nil
		}
	}

	p, err := newMemPool(a.d, UnexpectedSize, defaultPoolBlocks)
	if err != nil {
		return nil, 0, err
	}

	a.mu.Lock()
	a.pools = append(a.pools, p)
	a.mu.Unlock()

	b := p.tryAlloc(size)
	if b == nil {
		return nil, 0, newError(StatusNoMemory, "freshly created pool has no room for %d bytes", size)
	}
	return b.buf, p.mrKey, nil
}

// Free recovers the block from the payload pointer's backing pool (found
// by matching the handed-back MR key, since a payload slice alone can't
// carry a back-pointer in Go the way a C node header would) and returns it
// to the free list.
func (a *PoolAllocator) Free(buf []byte, mrKey uint64) {
	a.mu.Lock()
	pools := a.pools
	a.mu.Unlock()

	for _, p := range pools {
		if p.mrKey != mrKey {
			continue
		}
		p.mu.Lock()
		blk := &poolBlock{pool: p, buf: buf}
		p.mu.Unlock()
		p.put(blk)
		return
	}
}

// Len reports how many pools have been created, for tests and metrics.
func (a *PoolAllocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pools)
}
