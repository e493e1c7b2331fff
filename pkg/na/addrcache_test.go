package na

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/na-ofi/pkg/fabric"
)

type fakeResolver struct {
	mu            sync.Mutex
	insertCalls   int
	insertService bool
	removed       []fabric.Addr
	removeErr     error

	// onInsert, if set, runs after the AV insert resolves but before
	// insertService returns, so a test can simulate a racing writer
	// populating the cache in that window.
	onInsert func()
}

func (r *fakeResolver) supportsInsertService() bool { return r.insertService }

func (r *fakeResolver) insertService(node, service string) (fabric.Addr, error) {
	r.mu.Lock()
	r.insertCalls++
	n := r.insertCalls
	r.mu.Unlock()
	if r.onInsert != nil {
		r.onInsert()
	}
	return fabric.Addr(n), nil
}

func (r *fakeResolver) insertRaw(node, service string) (fabric.Addr, error) {
	return r.insertService(node, service)
}

func (r *fakeResolver) removeFromAV(addr fabric.Addr) error {
	if r.removeErr != nil {
		return r.removeErr
	}
	r.mu.Lock()
	r.removed = append(r.removed, addr)
	r.mu.Unlock()
	return nil
}

func TestAddrCacheLookupCachesAcrossCalls(t *testing.T) {
	c := newAddrCache()
	r := &fakeResolver{insertService: true}

	a1, err := c.lookup(42, "10.0.0.1", "4242", r)
	require.NoError(t, err)
	a2, err := c.lookup(42, "10.0.0.1", "4242", r)
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, 1, r.insertCalls)
	assert.Equal(t, uint64(1), c.Hits())
	assert.Equal(t, uint64(1), c.Misses())
}

func TestAddrCacheLookupDistinctKeys(t *testing.T) {
	c := newAddrCache()
	r := &fakeResolver{insertService: true}

	a1, err := c.lookup(1, "10.0.0.1", "1", r)
	require.NoError(t, err)
	a2, err := c.lookup(2, "10.0.0.2", "2", r)
	require.NoError(t, err)

	assert.NotSame(t, a1, a2)
	assert.Equal(t, 2, c.len())
}

func TestAddrCacheFallsBackToInsertRaw(t *testing.T) {
	c := newAddrCache()
	r := &fakeResolver{insertService: false}

	_, err := c.lookup(7, "host", "svc", r)
	require.NoError(t, err)
	assert.Equal(t, 1, r.insertCalls)
}

func TestAddrCacheLookupRemovesLosingRaceInsertFromAV(t *testing.T) {
	c := newAddrCache()
	r := &fakeResolver{insertService: true}

	// Simulate a racing writer populating the cache in the window
	// between this lookup's AV insert resolving and its final
	// double-checked read: our own insert must then be torn down via
	// removeFromAV instead of left dangling in the AV.
	winner := newAddress(fabric.Addr(99), "fabric://host:1")
	r.onInsert = func() {
		c.mu.Lock()
		c.entries[7] = &addrCacheEntry{key: 7, addr: winner}
		c.mu.Unlock()
	}

	a, err := c.lookup(7, "host", "1", r)
	require.NoError(t, err)
	assert.Same(t, winner, a)
	require.Len(t, r.removed, 1)
	assert.Equal(t, fabric.Addr(1), r.removed[0])
}

func TestAddrKeyPSM2HashesIdent(t *testing.T) {
	k1 := addrKey(fabric.ProviderPSM2, 0, 0, "peer-a")
	k2 := addrKey(fabric.ProviderPSM2, 0, 0, "peer-b")
	assert.NotEqual(t, k1, k2)
}

func TestAddrKeyIPProvidersUseIPPort(t *testing.T) {
	k := addrKey(fabric.ProviderSockets, 0x0A000001, 4242, "")
	assert.Equal(t, ipPortKey(0x0A000001, 4242), k)
}

func TestAddressRefRelease(t *testing.T) {
	a := newAddress(fabric.Addr(1), "fabric://host:1")
	assert.Equal(t, int32(1), a.refcount.Load())
	a.Ref()
	assert.Equal(t, int32(2), a.refcount.Load())
	a.Release()
	assert.Equal(t, int32(1), a.refcount.Load())
}

func TestParseIPv4Port(t *testing.T) {
	s := parseIPv4Port(0x0A000001, 4242)
	assert.Equal(t, "10.0.0.1:4242", s)
}
