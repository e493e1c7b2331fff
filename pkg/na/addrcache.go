package na

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/marmos91/na-ofi/pkg/fabric"
)

// Address is a resolved fabric-address record: the opaque provider handle,
// its human-readable URI, a reference count, and the two flags the
// progress engine and framework need to track its provenance.
type Address struct {
	FiAddr               fabric.Addr
	URI                  string
	refcount             atomic.Int32
	IsUnexpectedGenerated bool
	IsSelf                bool
}

func newAddress(fiAddr fabric.Addr, uri string) *Address {
	a := &Address{FiAddr: fiAddr, URI: uri}
	a.refcount.Store(1)
	return a
}

// Ref bumps the address refcount: +1 per user hand-out, +1 per op holding
// it.
func (a *Address) Ref() { a.refcount.Add(1) }

// Release drops one reference, matching addr_free/complete's convention.
func (a *Address) Release() { a.refcount.Add(-1) }

// addrKey computes the 64-bit cache key for a resolved address: for IP
// providers, (ipv4<<32)|port; for PSM2, the xxhash of the provider's
// textual endpoint-ID form (the provider never hands back a numeric ID
// directly, only the av_straddr string, so hashing it down is the Go
// substitute for the original's direct integer extraction).
func addrKey(provider fabric.Provider, ip uint32, port uint16, psm2Ident string) uint64 {
	if provider == fabric.ProviderPSM2 {
		return xxhash.Sum64String(psm2Ident)
	}
	return (uint64(ip) << 32) | uint64(port)
}

func ipPortKey(ip uint32, port uint16) uint64 {
	return (uint64(ip) << 32) | uint64(port)
}

// addrCacheEntry is the heap-allocated (key, value) pair the cache map
// owns; freed only at domain teardown, per spec.
type addrCacheEntry struct {
	key  uint64
	addr *Address
}

// addrCache is a domain's address-vector cache: a hash table from a
// provider-relative key to a resolved fabric address, guarded by a
// reader/writer lock so concurrent lookups of already-cached peers never
// block each other.
type addrCache struct {
	mu      sync.RWMutex
	entries map[uint64]*addrCacheEntry

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newAddrCache() *addrCache {
	return &addrCache{entries: make(map[uint64]*addrCacheEntry)}
}

// resolver is the subset of domain behavior lookup needs: either native
// service-string insertion, or a get_info + raw insert fallback.
type resolver interface {
	insertService(node, service string) (fabric.Addr, error)
	insertRaw(node, service string) (fabric.Addr, error)
	supportsInsertService() bool
	removeFromAV(addr fabric.Addr) error
}

// lookup implements §4.5: double-checked read, resolve, double-checked
// insert, with the provider-error and allocation-failure mapping spec'd
// there.
func (c *addrCache) lookup(key uint64, node, service string, d resolver) (*Address, error) {
	c.mu.RLock()
	if e, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		return e.addr, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		c.hits.Add(1)
		return e.addr, nil
	}
	c.mu.Unlock()
	c.misses.Add(1)

	var fiAddr fabric.Addr
	var err error
	if d.supportsInsertService() {
		fiAddr, err = d.insertService(node, service)
	} else {
		fiAddr, err = d.insertRaw(node, service)
	}
	if err != nil {
		return nil, wrapError(StatusProtocol, err, "address vector insert for %s:%s", node, service)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		// Another writer raced us via a different code path; the
		// map's prior entry wins and our freshly-inserted duplicate
		// is removed from the AV so its slot doesn't leak until
		// domain teardown.
		if err := d.removeFromAV(fiAddr); err != nil {
			return nil, wrapError(StatusProtocol, err, "removing losing AV insert for %s:%s", node, service)
		}
		c.hits.Add(1)
		return e.addr, nil
	}

	uri := fmt.Sprintf("%s://%s:%s", "fabric", node, service)
	addr := newAddress(fiAddr, uri)
	c.entries[key] = &addrCacheEntry{key: key, addr: addr}
	return addr, nil
}

// insertResolved records an address the progress engine resolved directly
// (e.g. from an address-not-available error event's raw address, or from a
// recv-unexpected's request header), bypassing the two-phase lookup since
// the caller already holds the only candidate value.
func (c *addrCache) insertResolved(key uint64, addr *Address) *Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.addr
	}
	c.entries[key] = &addrCacheEntry{key: key, addr: addr}
	return addr
}

func (c *addrCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Hits and Misses expose the cache's lookup counters for metrics
// collection.
func (c *addrCache) Hits() uint64   { return c.hits.Load() }
func (c *addrCache) Misses() uint64 { return c.misses.Load() }

// parseIPv4Port decodes a request header's big-endian ip/port fields back
// into a dotted-quad string and numeric port, used to stamp the recovered
// unexpected-sender URI.
func parseIPv4Port(ip uint32, port uint16) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ip)
	return fmt.Sprintf("%d.%d.%d.%d:%d", b[0], b[1], b[2], b[3], port)
}
