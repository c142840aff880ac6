// Package gcache is the facade unifying the mem, rb, and page tiers
// behind a seqno-indexed allocator API: seqno_assign, seqno_release,
// seqno_lock/seqno_unlock, seqno_get_buffers, and seqno_reset.
package gcache

import (
	"fmt"
	"sync"

	"github.com/behrlich/go-wsrep/internal/constants"
	"github.com/behrlich/go-wsrep/internal/core"
	"github.com/behrlich/go-wsrep/internal/gcache/mem"
	"github.com/behrlich/go-wsrep/internal/gcache/page"
	"github.com/behrlich/go-wsrep/internal/gcache/rb"
	"github.com/behrlich/go-wsrep/internal/gcache/seqnomap"
	"github.com/behrlich/go-wsrep/internal/gcache/store"
	"github.com/behrlich/go-wsrep/internal/logging"
)

// Params configures New.
type Params struct {
	MemSize       int64
	RingBufferDir string
	RingBufferMB  int64
	PageDir       string
	PageSize      int64
	KeepPagesSize int64
	KeepPageCount int
	RecoverOnOpen bool
	Logger        *logging.Logger
}

// DefaultParams returns the contractual default parameter values.
func DefaultParams(dir string) Params {
	return Params{
		MemSize:       constants.DefaultMemSize,
		RingBufferDir: dir,
		RingBufferMB:  constants.DefaultRingBufferSize,
		PageDir:       dir,
		PageSize:      constants.DefaultPageSize,
		KeepPagesSize: constants.DefaultKeepPagesSize,
		KeepPageCount: constants.DefaultKeepPageCount,
		RecoverOnOpen: constants.DefaultRecoverOnOpen,
	}
}

// Cache is the three-tier persistent buffer allocator.
type Cache struct {
	mu sync.Mutex

	mem *mem.Store
	rb  *rb.RingBuffer
	pg  *page.Store

	seqno2ptr     *seqnomap.Map
	seqnoMax      core.Seqno
	seqnoReleased core.Seqno
	seqnoLocked   core.Seqno
	seqnoLockCnt  int

	gid core.GTID

	logger *logging.Logger
}

// Open opens (or creates) a Cache with the given parameters.
func Open(p Params) (*Cache, error) {
	if p.Logger == nil {
		p.Logger = logging.Default()
	}

	r, err := rb.Open(rb.Params{
		Path:      p.RingBufferDir + "/gcache.rb",
		ArenaSize: p.RingBufferMB,
		Recover:   p.RecoverOnOpen,
		Logger:    p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("gcache: %w", err)
	}

	pg := page.New(page.Params{
		Dir:         p.PageDir,
		DefaultSize: p.PageSize,
		KeepSize:    p.KeepPagesSize,
		KeepCount:   p.KeepPageCount,
		Logger:      p.Logger,
	})

	return &Cache{
		mem:           mem.New(p.MemSize),
		rb:            r,
		pg:            pg,
		seqno2ptr:     seqnomap.New(),
		seqnoMax:      core.SeqnoNone,
		seqnoReleased: core.SeqnoNone,
		seqnoLocked:   core.SeqnoMax,
		logger:        p.Logger,
	}, nil
}

// Malloc allocates size bytes, unordered (no seqno assigned yet), trying
// mem first, then the ring buffer, then falling back to a page, per
// the tier-selection order.
func (c *Cache) Malloc(size int) (*store.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mem.Fits(size) {
		if buf, ok := c.mem.Malloc(size); ok {
			buf.Header.SeqnoGlobal = core.SeqnoNone
			buf.Header.SeqnoDepends = core.SeqnoIll
			return buf, nil
		}
	}

	if buf, err := c.rb.Malloc(size); err == nil {
		buf.Header.SeqnoGlobal = core.SeqnoNone
		buf.Header.SeqnoDepends = core.SeqnoIll
		return buf, nil
	}

	buf, err := c.pg.Malloc(size)
	if err != nil {
		return nil, fmt.Errorf("gcache: malloc %d bytes: %w", size, err)
	}
	buf.Header.SeqnoGlobal = core.SeqnoNone
	buf.Header.SeqnoDepends = core.SeqnoIll
	return buf, nil
}

// Free marks buf released and hands it back to its tier. Only an
// unordered (never SeqnoAssign'd) mem-tier buffer is reclaimed right away.
// Other released buffers are reclaimed lazily: mem and ring-buffer space
// when a later Malloc in that tier evicts or discards the oldest released
// buffers, a page once all its buffers are freed and it is the oldest
// page. Free does not remove a seqno'd buffer from the seqno map;
// SeqnoRelease does.
func (c *Cache) Free(buf *store.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.freeLocked(buf)
}

func (c *Cache) freeLocked(buf *store.Buffer) {
	switch buf.Header.Store {
	case store.TierMem:
		c.mem.Free(buf)
	case store.TierRB:
		c.rb.Free(buf)
	case store.TierPage:
		c.pg.Free(buf)
	}
}

// SeqnoAssign stamps buf with its place in the global commit order,
// grounded on GCache::seqno_assign. Panics (as the original asserts) if
// called twice for the same buffer.
func (c *Cache) SeqnoAssign(buf *store.Buffer, seqnoG, seqnoD core.Seqno) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if buf.Header.SeqnoGlobal != core.SeqnoNone {
		panic("gcache: SeqnoAssign called twice for the same buffer")
	}

	if seqnoG > c.seqnoMax {
		c.seqnoMax = seqnoG
	} else if c.seqnoReleased == core.SeqnoNone || seqnoG-1 < c.seqnoReleased {
		c.seqnoReleased = seqnoG - 1
	}

	switch buf.Header.Store {
	case store.TierRB:
		c.rb.Assign(buf, seqnoG, seqnoD)
	default:
		buf.Header.SeqnoGlobal = seqnoG
		buf.Header.SeqnoDepends = seqnoD
		if buf.Header.Store == store.TierMem {
			c.mem.Assign(buf)
		}
	}

	if c.seqno2ptr.Empty() {
		c.seqno2ptr.PushBack(seqnoG, buf)
		return
	}
	for c.seqno2ptr.End() < seqnoG {
		c.seqno2ptr.PushBack(c.seqno2ptr.End(), nil)
	}
	if c.seqno2ptr.End() == seqnoG {
		c.seqno2ptr.PushBack(seqnoG, buf)
	} else {
		c.seqno2ptr.Set(seqnoG, buf)
	}
}

// SeqnoRelease releases every buffer up to and including seqno (and below
// any seqno lock), skipping holes in the seqno map. It works in batches of
// about SeqnoReleaseBatchSize seqnos and drops the cache mutex between
// batches to bound lock-hold time.
func (c *Cache) SeqnoRelease(seqno core.Seqno) {
	batch := constants.SeqnoReleaseBatchSize
	for {
		c.mu.Lock()
		maxEnd := seqno
		if c.seqnoLocked-1 < maxEnd {
			maxEnd = c.seqnoLocked - 1
		}
		if last := c.seqno2ptr.End() - 1; last < maxEnd {
			maxEnd = last
		}

		start := c.seqnoReleased + 1
		if start > maxEnd {
			c.mu.Unlock()
			return
		}
		end := maxEnd
		if int64(maxEnd-start) >= int64(2*batch) {
			end = start + core.Seqno(batch)
		}

		for s := start; s <= end; s++ {
			if v, ok := c.seqno2ptr.Get(s); ok {
				buf := v.(*store.Buffer)
				if !buf.Header.Released() {
					c.freeLocked(buf)
				}
				c.seqno2ptr.Erase(s)
			}
			c.seqnoReleased = s
		}
		c.seqno2ptr.TrimHoles()
		c.mu.Unlock()

		if end >= seqno {
			return
		}
	}
}

// SeqnoLock pins the low-water mark for reclamation at seqnoG, returning
// an error if seqnoG is not present in the map.
func (c *Cache) SeqnoLock(seqnoG core.Seqno) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seqno2ptr.Get(seqnoG); !ok {
		return fmt.Errorf("gcache: seqno %d not found", seqnoG)
	}
	c.seqnoLockCnt++
	if seqnoG < c.seqnoLocked {
		c.seqnoLocked = seqnoG
	}
	return nil
}

// SeqnoUnlock releases one lock taken by SeqnoLock.
func (c *Cache) SeqnoUnlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seqnoLockCnt > 0 {
		c.seqnoLockCnt--
		if c.seqnoLockCnt == 0 {
			c.seqnoLocked = core.SeqnoMax
		}
	}
}

// SeqnoLocked returns the current reclamation low-water mark set by
// SeqnoLock, or core.SeqnoMax if nothing is locked. Used by callers
// (certification's purge pass) that must not evict an index entry gcache
// still needs.
func (c *Cache) SeqnoLocked() core.Seqno {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seqnoLocked
}

// SeqnoGetBuffers fills out with up to len(out) buffers starting at
// start, stopping at the first gap, returning the count filled
// the IST catch-up read path.
func (c *Cache) SeqnoGetBuffers(out []*store.Buffer, start core.Seqno) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	found := 0
	for s := start; found < len(out); s++ {
		v, ok := c.seqno2ptr.Get(s)
		if !ok {
			break
		}
		out[found] = v.(*store.Buffer)
		found++
	}
	return found
}

// SeqnoReset clears the seqno index and resets the gid, per
// GCache::seqno_reset. If gid matches the current gid and s is within
// the current range, this just truncates the tail instead of a full wipe.
func (c *Cache) SeqnoReset(gid core.GTID, s core.Seqno) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gid.SameGroup(c.gid) && s != core.SeqnoIll && c.seqnoMax >= s {
		if c.seqnoMax > s {
			for seq := s + 1; seq <= c.seqnoMax; seq++ {
				c.seqno2ptr.Erase(seq)
			}
			c.seqno2ptr.TrimHoles()
			c.seqnoMax = s
			c.seqnoReleased = s
		}
		return
	}

	c.logger.Info("gcache history reset", "old_gid", c.gid, "old_max", c.seqnoMax, "new_gid", gid, "new_seqno", s)

	c.seqnoReleased = core.SeqnoNone
	c.gid = gid
	c.rb.SetGID(gid)
	c.pg.Reset()

	c.seqno2ptr = seqnomap.New()
	c.seqnoMax = core.SeqnoNone
}

// Close flushes and releases all tier resources.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pg.Close()
	return c.rb.Close()
}
