package na

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/na-ofi/pkg/fabric"
)

func TestNewLocalHandleScalableUsesFixedKey(t *testing.T) {
	h := newLocalHandle(0x1000, 4096, MemReadWrite, fabric.MRScalable, nil, 0)
	assert.Equal(t, scalableMRKey, h.Key())
	assert.Nil(t, h.MR())
}

func TestNewLocalHandleBasicUsesRegistrationKey(t *testing.T) {
	h := newLocalHandle(0x2000, 8192, MemReadOnly, fabric.MRBasic, nil, 0xABCD)
	assert.Equal(t, uint64(0xABCD), h.Key())
}

func TestMemoryHandleMarshalRoundTrip(t *testing.T) {
	h := newLocalHandle(0x3000, 1024, MemWriteOnly, fabric.MRBasic, nil, 77)

	data, err := h.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalMemoryHandle(data)
	require.NoError(t, err)

	assert.Equal(t, h.Base, decoded.Base)
	assert.Equal(t, h.Size, decoded.Size)
	assert.Equal(t, h.Access, decoded.Access)
	assert.Equal(t, h.Key(), decoded.Key())
	assert.True(t, decoded.IsRemote)
	assert.Nil(t, decoded.MR())
}

func TestUnmarshalMemoryHandleRejectsGarbage(t *testing.T) {
	_, err := UnmarshalMemoryHandle([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.Equal(t, StatusProtocol, StatusOf(err))
}
