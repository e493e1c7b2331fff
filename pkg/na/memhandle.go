package na

import (
	"bytes"

	"github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/na-ofi/pkg/fabric"
)

// MemAccess is the access-flags byte carried on every memory handle.
type MemAccess int

const (
	MemReadOnly MemAccess = iota
	MemWriteOnly
	MemReadWrite
)

// scalableMRKey is the fixed key every handle uses in scalable-MR mode,
// where a single domain-wide memory region covers the whole address space
// and no per-allocation registration happens.
const scalableMRKey uint64 = 0x0F1B0F1B

// MemoryHandle describes one block of memory registered with the fabric
// (or, for a deserialized handle, a remote block this process never
// registered itself).
type MemoryHandle struct {
	Base     uint64
	Size     uint64
	Access   MemAccess
	IsRemote bool

	// Local, basic-MR-mode registrations only; nil for scalable mode
	// and for deserialized remote handles.
	mr  fabric.MRHandle
	key uint64
}

// newLocalHandle wraps a registered local buffer. In basic-MR mode the key
// comes from the registration; in scalable mode every handle shares
// scalableMRKey and mr is nil.
func newLocalHandle(base uint64, size uint64, access MemAccess, mrMode fabric.MRMode, mr fabric.MRHandle, mrKey uint64) *MemoryHandle {
	h := &MemoryHandle{Base: base, Size: size, Access: access}
	if mrMode == fabric.MRScalable {
		h.key = scalableMRKey
		return h
	}
	h.mr = mr
	h.key = mrKey
	return h
}

// Key returns the memory-region key to hand to a remote peer for RMA
// addressing.
func (h *MemoryHandle) Key() uint64 { return h.key }

// MR returns the provider registration handle for local descriptor
// construction; nil in scalable mode.
func (h *MemoryHandle) MR() fabric.MRHandle { return h.mr }

// wireMemoryHandle is the XDR-serializable subset of MemoryHandle: base,
// size, access, and key. Nothing provider-internal (the MR handle itself)
// crosses the wire.
type wireMemoryHandle struct {
	Base   uint64
	Size   uint64
	Access uint32
	Key    uint64
}

// Marshal encodes the serializable parts of h through XDR, the same
// encoding discipline the teacher's NFS structures use, repurposed here
// for RMA handle exchange.
func (h *MemoryHandle) Marshal() ([]byte, error) {
	w := wireMemoryHandle{
		Base:   h.Base,
		Size:   h.Size,
		Access: uint32(h.Access),
		Key:    h.key,
	}

	var buf bytes.Buffer
	if _, err := xdr2.Marshal(&buf, w); err != nil {
		return nil, wrapError(StatusProtocol, err, "marshaling memory handle")
	}
	return buf.Bytes(), nil
}

// UnmarshalMemoryHandle decodes a handle previously produced by Marshal.
// The result always has IsRemote = true and never allocates or registers
// memory, per §8's round-trip property.
func UnmarshalMemoryHandle(data []byte) (*MemoryHandle, error) {
	var w wireMemoryHandle
	if _, err := xdr2.Unmarshal(bytes.NewReader(data), &w); err != nil {
		return nil, wrapError(StatusProtocol, err, "unmarshaling memory handle")
	}

	return &MemoryHandle{
		Base:     w.Base,
		Size:     w.Size,
		Access:   MemAccess(w.Access),
		key:      w.Key,
		IsRemote: true,
	}, nil
}
