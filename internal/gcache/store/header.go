// Package store defines the buffer header shared by every gcache tier and
// the bit-exact on-disk layout used by the ring buffer and page store.
package store

import (
	"encoding/binary"

	"github.com/behrlich/go-wsrep/internal/core"
)

// Tier is a sum type over which store owns a buffer, used in place of an
// integer tag plus a raw back-pointer.
type Tier int32

const (
	TierMem Tier = iota
	TierRB
	TierPage
)

const (
	// FlagReleased marks a buffer as no longer in use by its owner.
	FlagReleased uint32 = 1 << 0
	flagsMax            = FlagReleased
)

// HeaderSize is the on-disk size of a Header, word-aligned.
const HeaderSize = 8 + 8 + 8 + 8 + 4 + 4 // = 40, padded to 8-byte multiple already

// Header precedes every allocation in every tier. Layout order and widths
// match the on-disk wire format exactly for the ring-buffer tier;
// mem/page tiers reuse the same struct for uniformity even though only the
// ring buffer persists it to disk.
type Header struct {
	SeqnoGlobal  core.Seqno // int64
	SeqnoDepends core.Seqno // int64, or a user tag for unordered buffers
	Size         uint64     // total size including header
	StorePtr     uint64     // process-local, cleared on recovery; unused off-RB
	Flags        uint32
	Store        Tier
}

// Clear zeroes h in place (mirrors BH_clear).
func (h *Header) Clear() { *h = Header{} }

// IsClear reports whether h is the zero value (mirrors BH_is_clear).
func (h *Header) IsClear() bool { return *h == Header{} }

// Released reports whether FlagReleased is set.
func (h *Header) Released() bool { return h.Flags&FlagReleased != 0 }

// Release sets FlagReleased.
func (h *Header) Release() { h.Flags |= FlagReleased }

// Valid reports whether h could plausibly be a real header, mirroring
// BH_test in gcache_bh.hpp. wantStore restricts acceptance to one tier
// (the ring buffer scanner only trusts TierRB headers during recovery).
func (h *Header) Valid(wantStore Tier) bool {
	if h.IsClear() {
		return true
	}
	return h.SeqnoGlobal >= core.SeqnoIll &&
		h.SeqnoDepends >= core.SeqnoIll &&
		(h.SeqnoDepends < h.SeqnoGlobal || h.SeqnoGlobal == core.SeqnoIll) &&
		int64(h.Size) >= int64(HeaderSize) &&
		h.Flags <= flagsMax &&
		h.Store == wantStore
}

// Encode writes h's on-disk representation (little-endian)
// into buf, which must be at least HeaderSize bytes.
func (h *Header) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.SeqnoGlobal))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.SeqnoDepends))
	binary.LittleEndian.PutUint64(buf[16:24], h.Size)
	binary.LittleEndian.PutUint64(buf[24:32], h.StorePtr)
	binary.LittleEndian.PutUint32(buf[32:36], h.Flags)
	binary.LittleEndian.PutUint32(buf[36:40], uint32(h.Store))
}

// Decode parses a Header from buf (reverse of Encode).
func Decode(buf []byte) Header {
	return Header{
		SeqnoGlobal:  core.Seqno(binary.LittleEndian.Uint64(buf[0:8])),
		SeqnoDepends: core.Seqno(binary.LittleEndian.Uint64(buf[8:16])),
		Size:         binary.LittleEndian.Uint64(buf[16:24]),
		StorePtr:     binary.LittleEndian.Uint64(buf[24:32]),
		Flags:        binary.LittleEndian.Uint32(buf[32:36]),
		Store:        Tier(int32(binary.LittleEndian.Uint32(buf[36:40]))),
	}
}

// Buffer is a tier-agnostic handle: the payload slice plus its header.
// Tiers return *Buffer from allocation and accept it back on free.
type Buffer struct {
	Header  *Header
	Payload []byte
	// Offset is tier-private bookkeeping: the byte offset of the header
	// within the tier's backing storage (arena or page file). Unused by
	// the mem tier, load-bearing for rb and page so Free/Discard can
	// locate the on-disk header without pointer arithmetic into mmap'd
	// memory.
	Offset int64
}
