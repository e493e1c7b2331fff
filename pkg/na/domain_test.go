package na

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/na-ofi/pkg/fabric"
)

func TestOpenReusesDomainForSameProviderAndDevice(t *testing.T) {
	net := fabric.NewNetwork()
	iface := fabric.NewFakeProvider(net)
	cfg := Config{Provider: "sockets", HostName: "10.0.0.1:9000", ProgressMode: ProgressBlocking, MaxContexts: 1}

	d1, err := Open(context.Background(), iface, cfg)
	require.NoError(t, err)
	defer d1.Close(context.Background())

	d2, err := Open(context.Background(), iface, cfg)
	require.NoError(t, err)
	defer d2.Close(context.Background())

	assert.Same(t, d1, d2)
	assert.Equal(t, int32(2), d1.RefCount())
}

func TestOpenDistinctDevicesGetDistinctDomains(t *testing.T) {
	net := fabric.NewNetwork()
	iface := fabric.NewFakeProvider(net)

	d1, err := Open(context.Background(), iface, Config{Provider: "sockets", HostName: "10.0.0.2:9001", ProgressMode: ProgressBlocking, MaxContexts: 1})
	require.NoError(t, err)
	defer d1.Close(context.Background())

	d2, err := Open(context.Background(), iface, Config{Provider: "sockets", HostName: "10.0.0.3:9002", ProgressMode: ProgressBlocking, MaxContexts: 1})
	require.NoError(t, err)
	defer d2.Close(context.Background())

	assert.NotSame(t, d1, d2)
}

func TestCloseRemovesDomainAtZeroRefcount(t *testing.T) {
	net := fabric.NewNetwork()
	iface := fabric.NewFakeProvider(net)
	cfg := Config{Provider: "sockets", HostName: "10.0.0.4:9003", ProgressMode: ProgressBlocking, MaxContexts: 1}

	d1, err := Open(context.Background(), iface, cfg)
	require.NoError(t, err)
	require.NoError(t, d1.Close(context.Background()))

	d2, err := Open(context.Background(), iface, cfg)
	require.NoError(t, err)
	defer d2.Close(context.Background())

	assert.NotSame(t, d1, d2, "closed domain must not be handed back out by a later Open")
	assert.Equal(t, int32(1), d2.RefCount())
}

func TestBuildHintsPerProvider(t *testing.T) {
	sockets := buildHints(fabric.ProviderSockets, nil)
	assert.Equal(t, fabric.MRScalable, sockets.MRMode)
	assert.True(t, sockets.Caps.Has(fabric.CapDirectedRecv))

	verbs := buildHints(fabric.ProviderVerbs, nil)
	assert.Equal(t, fabric.MRBasic, verbs.MRMode)
	assert.True(t, verbs.ThreadSafe)
	assert.True(t, verbs.Caps.Has(fabric.CapLocalMR))

	psm2 := buildHints(fabric.ProviderPSM2, nil)
	assert.Equal(t, fabric.MRBasic, psm2.MRMode)
	assert.True(t, psm2.Caps.Has(fabric.CapSource))
	assert.True(t, psm2.Caps.Has(fabric.CapSourceErr))

	key := uint64(42)
	gni := buildHints(fabric.ProviderGNI, &key)
	assert.Equal(t, fabric.MRBasic, gni.MRMode)
	require.NotNil(t, gni.AuthKey)
	assert.Equal(t, uint64(42), *gni.AuthKey)
}

func TestWithProviderLockIsRealLockOnlyForPSM2(t *testing.T) {
	socketsDomain := &Domain{Provider: fabric.ProviderSockets}
	calls := 0
	require.NoError(t, socketsDomain.withProviderLock(func() error {
		calls++
		if assert.True(t, socketsDomain.providerMu.TryLock(), "sockets must not hold the provider lock") {
			socketsDomain.providerMu.Unlock()
		}
		return nil
	}))
	assert.Equal(t, 1, calls)

	psm2Domain := &Domain{Provider: fabric.ProviderPSM2}
	require.NoError(t, psm2Domain.withProviderLock(func() error {
		calls++
		assert.False(t, psm2Domain.providerMu.TryLock(), "psm2 must hold the provider lock while fn runs")
		return nil
	}))
	assert.Equal(t, 2, calls)
}

func TestDomainLookupRejectsUnparsableHost(t *testing.T) {
	net := fabric.NewNetwork()
	iface := fabric.NewFakeProvider(net)
	cfg := Config{Provider: "sockets", HostName: "10.0.0.5:9004", ProgressMode: ProgressBlocking, MaxContexts: 1}

	d, err := Open(context.Background(), iface, cfg)
	require.NoError(t, err)
	defer d.Close(context.Background())

	_, err = d.Lookup("not-an-ip", "100")
	assert.Error(t, err)
}
