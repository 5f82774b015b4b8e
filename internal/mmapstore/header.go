package mmapstore

import (
	"encoding/binary"
	"fmt"
)

// magic identifies a Tier-3 embedding store file. Version 1 only.
var magic = [8]byte{'S', 'E', 'M', 'C', 'M', 'M', 'P', '1'}

// headerSize is fixed and 8-byte aligned so slot payloads that follow it
// stay aligned for atomic uint32 access.
const headerSize = 32

// header is the fixed file preamble: magic, version, slot geometry, and the
// workspace-wide embedding dimension D this store was created for.
type header struct {
	Version      uint32
	SlotCount    uint32
	MaxSlotBytes uint32
	Dimension    uint32
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], magic[:])
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint32(buf[12:16], h.SlotCount)
	binary.LittleEndian.PutUint32(buf[16:20], h.MaxSlotBytes)
	binary.LittleEndian.PutUint32(buf[20:24], h.Dimension)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	var h header
	if len(buf) < headerSize {
		return h, fmt.Errorf("mmapstore: header truncated: %d bytes", len(buf))
	}
	if string(buf[0:8]) != string(magic[:]) {
		return h, fmt.Errorf("mmapstore: bad magic %q", buf[0:8])
	}
	h.Version = binary.LittleEndian.Uint32(buf[8:12])
	h.SlotCount = binary.LittleEndian.Uint32(buf[12:16])
	h.MaxSlotBytes = binary.LittleEndian.Uint32(buf[16:20])
	h.Dimension = binary.LittleEndian.Uint32(buf[20:24])
	if h.Version != 1 {
		return h, fmt.Errorf("mmapstore: unsupported version %d", h.Version)
	}
	return h, nil
}

// slotHeaderBytes is the per-slot {used, len} prefix size. Both fields are
// 4-byte aligned for atomic access.
const slotHeaderBytes = 8

const (
	slotFree = uint32(0)
	slotUsed = uint32(1)
)
