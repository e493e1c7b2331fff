package fabric

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBasicEP(t *testing.T, f *FakeProvider, node, service string) (EPHandle, *fakeCQ, AVHandle) {
	t.Helper()

	info, err := f.GetInfo(context.Background(), &Info{Provider: ProviderSockets, Node: node, Service: service})
	require.NoError(t, err)
	require.Len(t, info, 1)

	fab, err := f.OpenFabric(info[0])
	require.NoError(t, err)
	dom, err := f.OpenDomain(fab, info[0])
	require.NoError(t, err)

	ep, err := f.OpenEndpoint(dom, info[0])
	require.NoError(t, err)

	cq, err := f.CQOpen(dom, 16)
	require.NoError(t, err)
	require.NoError(t, f.BindCQ(ep, 0, cq))

	av, err := f.AVOpen(dom, 0)
	require.NoError(t, err)
	require.NoError(t, f.BindAV(ep, av))
	require.NoError(t, f.Enable(ep))

	return ep, cq.(*fakeCQ), av
}

func TestFakeProviderTaggedSendRecvMatches(t *testing.T) {
	net := NewNetwork()
	sender := NewFakeProvider(net)
	receiver := NewFakeProvider(net)

	sEP, sCQ, sAV := openBasicEP(t, sender, "host-a", "100")
	rEP, rCQ, rAV := openBasicEP(t, receiver, "host-b", "200")

	rName, err := receiver.GetName(rEP)
	require.NoError(t, err)
	rAddr, err := sender.AVInsert(sAV, rName)
	require.NoError(t, err)

	sName, err := sender.GetName(sEP)
	require.NoError(t, err)
	_, err = receiver.AVInsert(rAV, sName)
	require.NoError(t, err)

	recvBuf := make([]byte, 32)
	var recvCtx uint64 = 42
	require.NoError(t, receiver.TRecv(rEP, recvBuf, AddrUnspec, 7, 0, &recvCtx))

	var sendCtx uint64 = 99
	require.NoError(t, sender.TSend(sEP, []byte("hello fabric"), rAddr, 7, &sendCtx))

	sEvents, err := sCQ.read(8)
	require.NoError(t, err)
	require.Len(t, sEvents, 1)
	assert.True(t, sEvents[0].Flags.Has(FlagSend))
	assert.Same(t, &sendCtx, sEvents[0].Context)

	rEvents, err := rCQ.read(8)
	require.NoError(t, err)
	require.Len(t, rEvents, 1)
	assert.True(t, rEvents[0].Flags.Has(FlagRecv))
	assert.True(t, rEvents[0].Flags.Has(FlagTagged))
	assert.Equal(t, uint64(7), rEvents[0].Tag)
	assert.Equal(t, "hello fabric", string(recvBuf[:rEvents[0].Len]))
}

func TestFakeProviderCQReadTryAgainWhenEmpty(t *testing.T) {
	net := NewNetwork()
	f := NewFakeProvider(net)
	_, cq, _ := openBasicEP(t, f, "host-c", "300")

	_, err := cq.read(8)
	assert.ErrorIs(t, err, ErrTryAgain)
}

func TestFakeProviderWriteMsgAndReadV(t *testing.T) {
	net := NewNetwork()
	writer := NewFakeProvider(net)
	owner := NewFakeProvider(net)

	wEP, wCQ, wAV := openBasicEP(t, writer, "host-d", "400")
	oEP, _, _ := openBasicEP(t, owner, "host-e", "500")

	oName, err := owner.GetName(oEP)
	require.NoError(t, err)
	oAddr, err := writer.AVInsert(wAV, oName)
	require.NoError(t, err)

	region := make([]byte, 64)
	mr, err := owner.MRReg(nil, region, MRReadWrite)
	require.NoError(t, err)
	key := owner.MRKey(mr)

	var writeCtx uint64 = 1
	payload := []byte("remote write payload")
	require.NoError(t, writer.WriteMsg(wEP, payload, nil, oAddr, 8, key, &writeCtx))

	events, err := wCQ.read(8)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Flags.Has(FlagRMA))
	assert.True(t, events[0].Flags.Has(FlagWrite))
	assert.Equal(t, string(payload), string(region[8:8+len(payload)]))

	readBack := make([]byte, len(payload))
	var readCtx uint64 = 2
	require.NoError(t, writer.ReadV(wEP, readBack, nil, oAddr, 8, key, &readCtx))
	assert.Equal(t, string(payload), string(readBack))
}

func TestFakeProviderWriteMsgOutOfBounds(t *testing.T) {
	net := NewNetwork()
	writer := NewFakeProvider(net)
	owner := NewFakeProvider(net)

	wEP, _, wAV := openBasicEP(t, writer, "host-f", "600")
	oEP, _, _ := openBasicEP(t, owner, "host-g", "700")

	oName, err := owner.GetName(oEP)
	require.NoError(t, err)
	oAddr, err := writer.AVInsert(wAV, oName)
	require.NoError(t, err)

	region := make([]byte, 8)
	mr, err := owner.MRReg(nil, region, MRReadWrite)
	require.NoError(t, err)
	key := owner.MRKey(mr)

	var ctx uint64
	err = writer.WriteMsg(wEP, make([]byte, 16), nil, oAddr, 0, key, &ctx)
	assert.Error(t, err)
}
