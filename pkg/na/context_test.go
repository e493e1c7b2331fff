package na

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/na-ofi/pkg/fabric"
)

func openTestEndpoint(t *testing.T, provider, hostPort string, maxContexts int) *Endpoint {
	t.Helper()
	d := openTestDomain(t, provider, hostPort, maxContexts)
	cfg := Config{Provider: provider, HostName: hostPort, ProgressMode: ProgressBlocking, MaxContexts: maxContexts}

	ep, err := OpenEndpoint(context.Background(), d, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })
	return ep
}

func TestCreateContextBasicModeAliasesEndpointResources(t *testing.T) {
	ep := openTestEndpoint(t, "sockets", "10.2.0.1:1100", 1)

	c, err := CreateContext(ep)
	require.NoError(t, err)
	defer c.Destroy()

	assert.Equal(t, ep.handle, c.txHandle)
	assert.Equal(t, ep.handle, c.rxHandle)
	assert.Equal(t, ep.basicCQ, c.CQ())
}

func TestCreateContextEnforcesMaxContexts(t *testing.T) {
	ep := openTestEndpoint(t, "sockets", "10.2.0.2:1200", 1)

	c1, err := CreateContext(ep)
	require.NoError(t, err)
	defer c1.Destroy()

	_, err = CreateContext(ep)
	require.Error(t, err)
	assert.Equal(t, StatusInvalidParam, StatusOf(err))
}

func TestCreateContextSEPModeOwnsIndependentTxRx(t *testing.T) {
	ep := openTestEndpoint(t, "sockets", "10.2.0.3:1300", 2)

	c1, err := CreateContext(ep)
	require.NoError(t, err)
	defer c1.Destroy()

	c2, err := CreateContext(ep)
	require.NoError(t, err)
	defer c2.Destroy()

	assert.NotEqual(t, c1.CQ(), c2.CQ(), "each SEP context gets its own completion queue")
	assert.NotEqual(t, c1.txHandle, c2.txHandle)
}

func TestDestroyRejectsNonEmptyUnexpectedQueue(t *testing.T) {
	ep := openTestEndpoint(t, "sockets", "10.2.0.4:1400", 1)

	c, err := CreateContext(ep)
	require.NoError(t, err)

	op, err := RecvUnexpected(c, make([]byte, 16), func(*CompletionInfo) {}, nil)
	require.NoError(t, err)

	err = c.Destroy()
	require.Error(t, err)
	assert.Equal(t, StatusProtocol, StatusOf(err))

	require.NoError(t, Cancel(c, op))
	require.NoError(t, c.Destroy())
}

func TestCreateContextSEPModeNonBlockingProgressSkipsWaitObject(t *testing.T) {
	net := fabric.NewNetwork()
	iface := fabric.NewFakeProvider(net)
	cfg := Config{Provider: "sockets", HostName: "10.2.0.6:1600", ProgressMode: ProgressNonBlocking, MaxContexts: 2}

	d, err := Open(context.Background(), iface, cfg)
	require.NoError(t, err)
	defer d.Close(context.Background())

	ep, err := OpenEndpoint(context.Background(), d, cfg)
	require.NoError(t, err)
	defer ep.Close()

	c, err := CreateContext(ep)
	require.NoError(t, err)
	defer c.Destroy()

	assert.Equal(t, fabric.WaitNone, c.WaitKind())
	assert.Nil(t, c.Wait())
}

func TestDestroyIsIdempotent(t *testing.T) {
	ep := openTestEndpoint(t, "sockets", "10.2.0.5:1500", 1)

	c, err := CreateContext(ep)
	require.NoError(t, err)

	require.NoError(t, c.Destroy())
	require.NoError(t, c.Destroy())
}
