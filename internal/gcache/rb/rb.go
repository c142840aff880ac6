// Package rb implements gcache's memory-mapped ring-buffer tier: a single
// mmap'd file holding a human-readable preamble, a reserved header
// region, and a logically circular arena of header-prefixed buffers.
// Buffer contents are accessed directly as byte slices of the mapping
// rather than through unsafe pointer arithmetic.
package rb

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-wsrep/internal/core"
	"github.com/behrlich/go-wsrep/internal/gcache/store"
	"github.com/behrlich/go-wsrep/internal/logging"
)

const (
	preambleLen    = 1024
	reservedLen    = 32 * 8
	wordSize       = 8
	headerRegionOf = preambleLen // header region begins right after preamble
	arenaOffset    = preambleLen + reservedLen
)

func align8(n int64) int64 {
	if r := n % wordSize; r != 0 {
		n += wordSize - r
	}
	return n
}

// RingBuffer is gcache's persistent, mmap'd circular allocator.
type RingBuffer struct {
	mu sync.Mutex

	path string
	file *os.File
	data []byte // full mmap: preamble + reserved header + arena

	arenaSize int64
	first     int64 // offset of oldest live buffer, relative to arena start
	next      int64 // offset of the free-space cursor, relative to arena start

	sizeUsed  int64
	sizeTrail int64

	gid                core.GTID
	seqnoMin, seqnoMax core.Seqno

	logger *logging.Logger
}

// Params configures Open.
type Params struct {
	Path      string
	ArenaSize int64
	Recover   bool
	Logger    *logging.Logger
}

// Open opens (creating if necessary) the ring-buffer file at params.Path,
// mmaps it, and either resets it fresh or attempts recovery per
// params.Recover.
func Open(p Params) (*RingBuffer, error) {
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	arenaSize := align8(p.ArenaSize)
	totalSize := arenaOffset + arenaSize

	existed := true
	if _, err := os.Stat(p.Path); os.IsNotExist(err) {
		existed = false
	}

	f, err := os.OpenFile(p.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rb: open %s: %w", p.Path, err)
	}

	if err := f.Truncate(totalSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("rb: truncate %s: %w", p.Path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(totalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("rb: mmap %s: %w", p.Path, err)
	}

	rbuf := &RingBuffer{
		path:      p.Path,
		file:      f,
		data:      data,
		arenaSize: arenaSize,
		logger:    p.Logger,
	}

	if existed && p.Recover {
		if err := rbuf.openPreambleAndRecover(); err != nil {
			p.Logger.Warn("ring buffer recovery failed, starting fresh", "error", err)
			rbuf.resetFresh()
		}
	} else {
		rbuf.resetFresh()
	}

	return rbuf, nil
}

func (rb *RingBuffer) resetFresh() {
	rb.first = 0
	rb.next = 0
	rb.sizeUsed = 0
	rb.sizeTrail = 0
	rb.seqnoMin = core.SeqnoNone
	rb.seqnoMax = core.SeqnoNone
	rb.zeroHeaderAt(0)
	rb.writePreamble(false)
}

func (rb *RingBuffer) arena() []byte { return rb.data[arenaOffset:] }

func (rb *RingBuffer) headerAt(off int64) store.Header {
	return store.Decode(rb.arena()[off : off+store.HeaderSize])
}

func (rb *RingBuffer) writeHeaderAt(off int64, h store.Header) {
	h.Encode(rb.arena()[off : off+store.HeaderSize])
}

func (rb *RingBuffer) zeroHeaderAt(off int64) {
	if off+store.HeaderSize <= rb.arenaSize {
		rb.writeHeaderAt(off, store.Header{})
	}
}

// SizeFree returns the number of bytes free, derived from the invariant
// sizeUsed + sizeFree + sizeTrail = arenaSize.
func (rb *RingBuffer) SizeFree() int64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.arenaSize - rb.sizeUsed - rb.sizeTrail
}

// ErrTooLarge is returned when a requested allocation exceeds half the
// arena size, a fragmentation guard.
var ErrTooLarge = fmt.Errorf("rb: requested size exceeds half of arena")

// ErrNoSpace is returned when the arena cannot make room even after
// discarding every released buffer; the caller must fall back to a page.
var ErrNoSpace = fmt.Errorf("rb: no space, head buffer is not released")

// Malloc allocates size bytes of payload (header overhead is added
// internally).
func (rb *RingBuffer) Malloc(size int) (*store.Buffer, error) {
	if align8(int64(size)) > rb.arenaSize/2 {
		return nil, ErrTooLarge
	}
	total := align8(store.HeaderSize + int64(size))

	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.next >= rb.first {
		if rb.arenaSize-rb.next >= total+store.HeaderSize {
			off := rb.next
			rb.writeHeaderAt(off, store.Header{Size: uint64(total), Store: store.TierRB})
			rb.next += total
			rb.zeroHeaderAt(rb.next)
			rb.sizeUsed += total
			return rb.bufferAt(off, size), nil
		}
		// Not enough room before the physical end: mark the remainder as
		// trail and wrap the cursor to the start of the arena.
		rb.sizeTrail = rb.arenaSize - rb.next
		rb.next = 0
	}

	for rb.first-rb.next < total {
		if !rb.discardFrontLocked() {
			return nil, ErrNoSpace
		}
	}

	off := rb.next
	rb.writeHeaderAt(off, store.Header{Size: uint64(total), Store: store.TierRB})
	rb.next += total
	rb.sizeUsed += total
	return rb.bufferAt(off, size), nil
}

func (rb *RingBuffer) bufferAt(off int64, size int) *store.Buffer {
	h := rb.headerAt(off)
	payload := rb.arena()[off+store.HeaderSize : off+store.HeaderSize+int64(size)]
	return &store.Buffer{Header: &h, Payload: payload, Offset: off}
}

// Assign stamps buf's seqno fields and persists them to the on-disk
// header immediately, since buf.Header is a decoded copy rather than an
// alias into the mmap. Called by the facade's SeqnoAssign once a buffer
// that was allocated unordered is given its place in the global order.
func (rb *RingBuffer) Assign(buf *store.Buffer, seqnoGlobal, seqnoDepends core.Seqno) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	buf.Header.SeqnoGlobal = seqnoGlobal
	buf.Header.SeqnoDepends = seqnoDepends
	rb.writeHeaderAt(buf.Offset, *buf.Header)
	if rb.seqnoMin == core.SeqnoNone || seqnoGlobal < rb.seqnoMin {
		rb.seqnoMin = seqnoGlobal
	}
	if seqnoGlobal > rb.seqnoMax {
		rb.seqnoMax = seqnoGlobal
	}
}

// Free marks buf released. The space is not reclaimed until the buffer
// reaches the front of the ring and is discarded, by DiscardFront or by a
// later Malloc that needs the room.
func (rb *RingBuffer) Free(buf *store.Buffer) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	h := rb.headerAt(buf.Offset)
	h.Release()
	rb.writeHeaderAt(buf.Offset, h)
	buf.Header.Release()
}

// DiscardFront advances `first` past the oldest buffer if it is released,
// reclaiming its space. Returns false if the oldest buffer is still in
// use (the ring cannot skip past it, since discard only ever proceeds in
// physical/seqno order). Handles the trailing zero-size header by wrapping
// `first` to the start of the arena.
func (rb *RingBuffer) DiscardFront() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.discardFrontLocked()
}

func (rb *RingBuffer) discardFrontLocked() bool {
	if rb.first == rb.next && rb.sizeUsed == 0 {
		return false
	}

	h := rb.headerAt(rb.first)
	if h.Size == 0 {
		// End-of-sequence marker before wrap: hop to the start and
		// reclaim the trailing gap.
		rb.first = 0
		rb.sizeTrail = 0
		if rb.first == rb.next {
			return false
		}
		h = rb.headerAt(rb.first)
	}

	if !h.Released() {
		return false
	}

	rb.first += int64(h.Size)
	rb.sizeUsed -= int64(h.Size)
	if rb.first >= rb.arenaSize {
		rb.first = 0
	}
	return true
}

// writePreamble serializes the current state as the 1024-byte
// human-readable preamble.
func (rb *RingBuffer) writePreamble(synced bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "Version: 2\n")
	fmt.Fprintf(&b, "GID: %x\n", rb.gid.UUID)
	fmt.Fprintf(&b, "seqno_min: %d\n", rb.seqnoMin)
	fmt.Fprintf(&b, "seqno_max: %d\n", rb.seqnoMax)
	fmt.Fprintf(&b, "offset: %d\n", rb.first)
	if synced {
		fmt.Fprintf(&b, "synced: 1\n")
	} else {
		fmt.Fprintf(&b, "synced: 0\n")
	}
	b.WriteString("\n")

	region := rb.data[:preambleLen]
	for i := range region {
		region[i] = 0
	}
	copy(region, b.String())
}

type preambleFields struct {
	version            int
	gid                [16]byte
	seqnoMin, seqnoMax core.Seqno
	offset             int64
	synced             bool
	ok                 bool
}

func (rb *RingBuffer) parsePreamble() preambleFields {
	var pf preambleFields
	raw := rb.data[:preambleLen]
	nul := bytes.IndexByte(raw, 0)
	if nul >= 0 {
		raw = raw[:nul]
	}

	sc := bufio.NewScanner(bytes.NewReader(raw))
	found := map[string]string{}
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		found[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}

	if v, ok := found["Version"]; ok {
		pf.version, _ = strconv.Atoi(v)
	}
	if g, ok := found["GID"]; ok {
		var raw [16]byte
		if n, err := fmt.Sscanf(g, "%x", &raw); err == nil && n == 1 {
			pf.gid = raw
		}
	}
	if s, ok := found["seqno_min"]; ok {
		n, _ := strconv.ParseInt(s, 10, 64)
		pf.seqnoMin = core.Seqno(n)
	}
	if s, ok := found["seqno_max"]; ok {
		n, _ := strconv.ParseInt(s, 10, 64)
		pf.seqnoMax = core.Seqno(n)
	}
	if s, ok := found["offset"]; ok {
		n, _ := strconv.ParseInt(s, 10, 64)
		pf.offset = n
	} else {
		pf.offset = -1
	}
	pf.synced = found["synced"] == "1"
	pf.ok = pf.version > 0
	return pf
}

// openPreambleAndRecover implements the ring buffer's recovery algorithm: if
// the preamble parses and claims synced, fast-skip to the recorded offset
// (rounding down to alignment when the recovered offset predates an
// offset-alignment open question); otherwise scan the whole arena.
func (rb *RingBuffer) openPreambleAndRecover() error {
	pf := rb.parsePreamble()
	if !pf.ok {
		return fmt.Errorf("rb: bootstrap, no valid preamble")
	}

	rb.gid = core.GTID{UUID: pf.gid}
	rb.seqnoMin = pf.seqnoMin
	rb.seqnoMax = pf.seqnoMax

	offset := pf.offset
	if offset < 0 {
		return rb.scanEntireArena()
	}
	if offset >= rb.arenaSize || offset%wordSize != 0 {
		aligned := (offset / wordSize) * wordSize
		if aligned < 0 {
			aligned = 0
		}
		if aligned >= rb.arenaSize {
			aligned = 0
		}
		rb.logger.Warn("ring buffer preamble offset misaligned or out of range, rounding down",
			"offset", offset, "rounded", aligned)
		offset = aligned
	}

	if pf.synced {
		rb.first = offset
		return rb.scanFromOffset(offset)
	}
	return rb.scanEntireArena()
}

// scannedBuffer is one header found during a recovery scan.
type scannedBuffer struct {
	offset int64
	header store.Header
}

// scanEntireArena implements the "uncleanly closed" recovery path: walk
// the arena from byte 0, collecting headers that pass BH_test-equivalent
// validation, then keep only the longest gapless seqno suffix ending at
// the last buffer found. The walk stops at the first zero-size or invalid
// header; nothing beyond it is examined.
func (rb *RingBuffer) scanEntireArena() error {
	return rb.scanFrom(0)
}

func (rb *RingBuffer) scanFromOffset(offset int64) error {
	return rb.scanFrom(offset)
}

func (rb *RingBuffer) scanFrom(start int64) error {
	var found []scannedBuffer
	off := start
	for off+store.HeaderSize <= rb.arenaSize {
		h := rb.headerAt(off)
		if h.Size == 0 {
			break
		}
		if !h.Valid(store.TierRB) || int64(h.Size) < store.HeaderSize {
			break
		}
		found = append(found, scannedBuffer{offset: off, header: h})
		off += int64(h.Size)
		if off >= rb.arenaSize {
			break
		}
	}

	// Longest gapless seqno suffix ending at the last scanned buffer: walk
	// backward and stop at the first break in seqno continuity.
	gapless := longestGaplessSuffix(found)

	rb.sizeUsed = 0
	for _, b := range gapless {
		rb.sizeUsed += int64(b.header.Size)
	}
	if len(gapless) > 0 {
		rb.first = gapless[0].offset
		rb.next = align8(gapless[len(gapless)-1].offset + int64(gapless[len(gapless)-1].header.Size))
		rb.seqnoMin = gapless[0].header.SeqnoGlobal
		rb.seqnoMax = gapless[len(gapless)-1].header.SeqnoGlobal
	} else {
		rb.first = 0
		rb.next = 0
		rb.seqnoMin = core.SeqnoNone
		rb.seqnoMax = core.SeqnoNone
	}
	rb.sizeTrail = 0
	rb.zeroHeaderAt(rb.next)
	return nil
}

func longestGaplessSuffix(found []scannedBuffer) []scannedBuffer {
	if len(found) == 0 {
		return nil
	}
	end := len(found)
	for i := end - 1; i > 0; i-- {
		if found[i].header.SeqnoGlobal != found[i-1].header.SeqnoGlobal+1 {
			return found[i:end]
		}
	}
	return found[0:end]
}

// SeqnoRange reports the recovered (or current) min/max seqno bounds.
func (rb *RingBuffer) SeqnoRange() (core.Seqno, core.Seqno) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.seqnoMin, rb.seqnoMax
}

// SetGID updates the GID recorded in the preamble, used by
// seqno_reset).
func (rb *RingBuffer) SetGID(g core.GTID) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.gid = g
}

// Sync flushes the current state to the preamble (synced:0, still open).
func (rb *RingBuffer) Sync() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.writePreamble(false)
	return unix.Msync(rb.data[:preambleLen], unix.MS_SYNC)
}

// Close writes the final synced:1 preamble and unmaps the file.
func (rb *RingBuffer) Close() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.writePreamble(true)
	_ = unix.Msync(rb.data, unix.MS_SYNC)
	err := unix.Munmap(rb.data)
	rb.data = nil
	if cerr := rb.file.Close(); err == nil {
		err = cerr
	}
	return err
}
