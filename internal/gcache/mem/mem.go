// Package mem implements gcache's in-memory tier: a bounded heap arena
// with a soft cap used for the smallest, hottest writesets so the ring
// buffer and page store are never touched for them. Allocation reuses a
// size-bucketed sync.Pool; on pressure it discards already-released
// seqno'd buffers in seqno order (oldest first) until the request fits.
package mem

import (
	"sync"

	"github.com/behrlich/go-wsrep/internal/core"
	"github.com/behrlich/go-wsrep/internal/gcache/store"
)

// Requests larger than the top bucket fall back to a direct allocation
// (never pooled).
const (
	size32k  = 32 * 1024
	size64k  = 64 * 1024
	size128k = 128 * 1024
	size256k = 256 * 1024
)

var bucketPool = struct {
	p32k, p64k, p128k, p256k sync.Pool
}{
	p32k:  sync.Pool{New: func() any { b := make([]byte, size32k); return &b }},
	p64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	p128k: sync.Pool{New: func() any { b := make([]byte, size128k); return &b }},
	p256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
}

func getBuffer(size int) []byte {
	switch {
	case size <= size32k:
		return (*bucketPool.p32k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*bucketPool.p64k.Get().(*[]byte))[:size]
	case size <= size128k:
		return (*bucketPool.p128k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*bucketPool.p256k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

func putBuffer(buf []byte) {
	switch cap(buf) {
	case size32k:
		b := buf[:size32k]
		bucketPool.p32k.Put(&b)
	case size64k:
		b := buf[:size64k]
		bucketPool.p64k.Put(&b)
	case size128k:
		b := buf[:size128k]
		bucketPool.p128k.Put(&b)
	case size256k:
		b := buf[:size256k]
		bucketPool.p256k.Put(&b)
		// Non-bucket-sized capacities (direct allocations) are dropped.
	}
}

// entry is one live allocation, kept in a FIFO list in assignment order so
// eviction can walk oldest-first ("in seqno order": within
// a single tier, Assign calls arrive in strictly increasing seqno order
// because the facade assigns seqnos globally before handing a buffer to
// a tier).
type entry struct {
	buf        *store.Buffer
	prev, next *entry
}

// Store is the in-memory gcache tier.
type Store struct {
	mu      sync.Mutex
	softCap int64
	used    int64

	head, tail *entry // oldest .. newest
	bySeqno    map[core.Seqno]*entry
}

// New returns an empty in-memory store with the given soft cap in bytes.
func New(softCap int64) *Store {
	return &Store{softCap: softCap, bySeqno: make(map[core.Seqno]*entry)}
}

// Fits reports whether an allocation of size bytes is within the soft cap,
// i.e. whether this tier should even be tried before falling back to the
// ring buffer, per the malloc tier-selection order.
func (s *Store) Fits(size int) bool {
	return int64(size) <= s.softCap
}

// Malloc allocates size bytes, evicting released seqno'd buffers oldest
// first if needed to stay under the soft cap. Returns false if even after
// evicting everything evictable the request still does not fit.
func (s *Store) Malloc(size int) (*store.Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	need := int64(size)
	for s.used+need > s.softCap && s.evictOldestLocked() {
	}
	if s.used+need > s.softCap {
		return nil, false
	}

	payload := getBuffer(size)
	hdr := &store.Header{Store: store.TierMem, Size: uint64(size)}
	buf := &store.Buffer{Header: hdr, Payload: payload}
	s.used += need
	return buf, true
}

// Assign appends buf to the seqno-ordered FIFO so that eviction in a later
// Malloc, and Discard, can find it in order. Must be called at most once
// per buffer.
func (s *Store) Assign(buf *store.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{buf: buf}
	if s.tail != nil {
		s.tail.next = e
		e.prev = s.tail
	} else {
		s.head = e
	}
	s.tail = e
	s.bySeqno[buf.Header.SeqnoGlobal] = e
}

// Free marks buf released. Unordered buffers (SeqnoGlobal == SeqnoNone)
// are reclaimed immediately.
func (s *Store) Free(buf *store.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf.Header.Release()
	if buf.Header.SeqnoGlobal == core.SeqnoNone {
		putBuffer(buf.Payload)
		s.used -= int64(buf.Header.Size)
	}
}

// Discard reclaims the released, seqno'd buffer for seqno if present.
// Returns true if a buffer was reclaimed.
func (s *Store) Discard(seqno core.Seqno) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.bySeqno[seqno]
	if !ok || !e.buf.Header.Released() {
		return false
	}
	s.removeLocked(e)
	return true
}

// evictOldestLocked discards the oldest released entry, if any. Stops
// (returns false) at the first unreleased buffer to preserve order, same
// as the ring buffer's "head not released" give-up rule.
func (s *Store) evictOldestLocked() bool {
	if s.head == nil || !s.head.buf.Header.Released() {
		return false
	}
	s.removeLocked(s.head)
	return true
}

func (s *Store) removeLocked(e *entry) {
	putBuffer(e.buf.Payload)
	s.used -= int64(e.buf.Header.Size)
	delete(s.bySeqno, e.buf.Header.SeqnoGlobal)

	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
}

// Used returns the current number of bytes allocated (not yet reclaimed).
func (s *Store) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}
