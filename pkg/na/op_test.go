package na

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpStartsCompletedAndValid(t *testing.T) {
	op := NewOp(OpSendExpected, nil, nil)
	assert.True(t, op.valid())
	assert.True(t, op.isCompleted())
	assert.False(t, op.isCanceled())
	assert.Equal(t, OpSendExpected, op.Kind())
	assert.NotEmpty(t, op.ID())
}

func TestOpPostClearsCompletedAndCanceled(t *testing.T) {
	op := NewOp(OpRecvExpected, nil, nil)
	op.canceled.Store(true)
	op.post()
	assert.False(t, op.isCompleted())
	assert.False(t, op.isCanceled())
}

func TestOpTryCompleteIsCASOnce(t *testing.T) {
	op := NewOp(OpPut, nil, nil)
	op.post()
	assert.True(t, op.tryComplete())
	assert.False(t, op.tryComplete())
	assert.True(t, op.isCompleted())
}

func TestOpTryCancelIsCASOnce(t *testing.T) {
	op := NewOp(OpGet, nil, nil)
	op.post()
	assert.True(t, op.tryCancel())
	assert.False(t, op.tryCancel())
}

func TestOpReleaseZeroesMagicAtZeroRefcount(t *testing.T) {
	op := NewOp(OpLookup, nil, nil)
	op.Ref()
	op.Release()
	assert.True(t, op.valid())
	op.Release()
	assert.False(t, op.valid())
}

func TestOpKindString(t *testing.T) {
	assert.Equal(t, "put", OpPut.String())
	assert.Equal(t, "get", OpGet.String())
	assert.Equal(t, "unknown", OpKind(99).String())
}

func TestOpRegistryRegisterRecoverForget(t *testing.T) {
	r := newOpRegistry()
	op := NewOp(OpSendUnexpected, nil, nil)
	op.post()
	r.register(op)

	got, ok := r.recover(*op.Token())
	require.True(t, ok)
	assert.Same(t, op, got)
	assert.Equal(t, 1, r.Len())

	r.forget(op)
	_, ok = r.recover(*op.Token())
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestOpRegistryRecoverUnknownToken(t *testing.T) {
	r := newOpRegistry()
	_, ok := r.recover(0xdeadbeef)
	assert.False(t, ok)
}
