package na

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/na-ofi/pkg/fabric"
)

func openTestDomain(t *testing.T, provider, hostPort string, maxContexts int) *Domain {
	t.Helper()
	net := fabric.NewNetwork()
	iface := fabric.NewFakeProvider(net)
	cfg := Config{Provider: provider, HostName: hostPort, ProgressMode: ProgressBlocking, MaxContexts: maxContexts}

	d, err := Open(context.Background(), iface, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func TestOpenEndpointBasicModeBindsSharedCQAndWait(t *testing.T) {
	d := openTestDomain(t, "sockets", "10.1.0.1:1000", 1)
	cfg := Config{Provider: "sockets", HostName: "10.1.0.1:1000", ProgressMode: ProgressBlocking, MaxContexts: 1}

	ep, err := OpenEndpoint(context.Background(), d, cfg)
	require.NoError(t, err)
	defer ep.Close()

	assert.False(t, ep.SEP())
	assert.Equal(t, "sockets://10.1.0.1:1000", ep.URI())
	assert.False(t, ep.NativeSource(), "sockets has no native source reporting, a header template must be cached")
	assert.NotNil(t, ep.HeaderTemplate())
	assert.Len(t, ep.HeaderTemplate(), RequestHeaderSize)
}

func TestOpenEndpointNonBlockingProgressSkipsWaitObject(t *testing.T) {
	net := fabric.NewNetwork()
	iface := fabric.NewFakeProvider(net)
	cfg := Config{Provider: "sockets", HostName: "10.1.0.6:6000", ProgressMode: ProgressNonBlocking, MaxContexts: 1}

	d, err := Open(context.Background(), iface, cfg)
	require.NoError(t, err)
	defer d.Close(context.Background())

	ep, err := OpenEndpoint(context.Background(), d, cfg)
	require.NoError(t, err)
	defer ep.Close()

	assert.True(t, d.NoWait())
	assert.Equal(t, fabric.WaitNone, ep.waitKind)
	assert.Nil(t, ep.basicWait)
}

func TestOpenEndpointSEPModeForMultipleContexts(t *testing.T) {
	d := openTestDomain(t, "sockets", "10.1.0.2:2000", 2)
	cfg := Config{Provider: "sockets", HostName: "10.1.0.2:2000", ProgressMode: ProgressBlocking, MaxContexts: 2}

	ep, err := OpenEndpoint(context.Background(), d, cfg)
	require.NoError(t, err)
	defer ep.Close()

	assert.True(t, ep.SEP())
}

func TestOpenEndpointVerbsNeverUsesSEPEvenWithMultipleContexts(t *testing.T) {
	d := openTestDomain(t, "verbs", "10.1.0.3:3000", 4)
	cfg := Config{Provider: "verbs", HostName: "10.1.0.3:3000", ProgressMode: ProgressBlocking, MaxContexts: 4}

	ep, err := OpenEndpoint(context.Background(), d, cfg)
	require.NoError(t, err)
	defer ep.Close()

	assert.False(t, ep.SEP(), "verbs never opens a scalable endpoint regardless of max_contexts")
}

func TestSplitHostService(t *testing.T) {
	host, service := splitHostService("192.168.1.1:4242")
	assert.Equal(t, "192.168.1.1", host)
	assert.Equal(t, "4242", service)

	host, service = splitHostService("no-colon")
	assert.Equal(t, "no-colon", host)
	assert.Equal(t, "", service)
}

func TestVerbsInetFixupStripsPrefix(t *testing.T) {
	fix, ok := verbsInetFixup[fabric.ProviderVerbs]
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:100", fix("inet://10.0.0.1:100"))
	assert.Equal(t, "10.0.0.1:100", fix("10.0.0.1:100"))
}

func TestAcceptsNumericHost(t *testing.T) {
	assert.True(t, acceptsNumericHost(fabric.ProviderSockets))
	assert.True(t, acceptsNumericHost(fabric.ProviderGNI))
	assert.False(t, acceptsNumericHost(fabric.ProviderPSM2))
	assert.False(t, acceptsNumericHost(fabric.ProviderVerbs))
}
