// Package page implements gcache's page-store tier: a sequence of
// sequentially numbered, individually mmap'd files used when a writeset
// is too large for the ring buffer or the ring buffer is full. Pages
// delete only from the front, and the deletion thread is implemented as
// a bounded channel plus a single consumer goroutine instead of a
// detached thread per file.
package page

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/behrlich/go-wsrep/internal/gcache/store"
	"github.com/behrlich/go-wsrep/internal/logging"
)

// page is one backing file: a preamble-free mmap'd arena with a simple
// bump-pointer cursor, since pages are never recycled in place: a page
// is either fully in use or entirely freed and deleted.
type page struct {
	id     uint64 // stamped into each buffer's Header.StorePtr so Free can find its page
	name   string
	file   *os.File
	data   []byte
	size   int64
	cursor int64
	used   int64 // bytes still referenced by live (unreleased) buffers
}

func (p *page) malloc(total int64) (*store.Buffer, bool) {
	if p.cursor+total > p.size {
		return nil, false
	}
	off := p.cursor
	h := store.Header{Size: uint64(total), Store: store.TierPage, StorePtr: p.id}
	h.Encode(p.data[off : off+store.HeaderSize])
	p.cursor += total
	p.used += total
	payload := p.data[off+store.HeaderSize : off+total]
	return &store.Buffer{Header: &h, Payload: payload, Offset: off}, true
}

func (p *page) headerAt(off int64) store.Header {
	return store.Decode(p.data[off : off+store.HeaderSize])
}

func (p *page) free(buf *store.Buffer) {
	h := p.headerAt(buf.Offset)
	if !h.Released() {
		h.Release()
		h.Encode(p.data[buf.Offset : buf.Offset+store.HeaderSize])
		p.used -= int64(h.Size)
	}
	buf.Header.Release()
}

func (p *page) close() error {
	if p.data != nil {
		_ = unix.Munmap(p.data)
		p.data = nil
	}
	return p.file.Close()
}

// Store is gcache's page-file tier: a FIFO of pages, always allocating
// from the newest (current) page and deleting fully-freed pages only
// from the front, per the original's documented simplification.
type Store struct {
	mu sync.Mutex

	dir         string
	defaultSize int64
	keepSize    int64
	keepCount   int
	pages       []*page // oldest .. newest; current = pages[len-1]
	byID        map[uint64]*page
	count       int
	nextID      uint64
	totalSize   int64

	deleteCh chan string
	logger   *logging.Logger
}

// Params configures New.
type Params struct {
	Dir         string
	DefaultSize int64
	KeepSize    int64
	KeepCount   int
	Logger      *logging.Logger
}

// New returns an empty page store rooted at params.Dir. The caller must
// call Close to stop the deletion worker and release mmap'd pages.
func New(p Params) *Store {
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	if p.KeepCount < 1 {
		p.KeepCount = 1
	}
	s := &Store{
		dir:         p.Dir,
		defaultSize: p.DefaultSize,
		keepSize:    p.KeepSize,
		keepCount:   p.KeepCount,
		byID:        make(map[uint64]*page),
		deleteCh:    make(chan string, 64),
		logger:      p.Logger,
	}
	go s.deleteWorker()
	return s
}

func (s *Store) pageName() string {
	return filepath.Join(s.dir, fmt.Sprintf("gcache.page.%06d", s.count))
}

func (s *Store) newPageLocked(minSize int64) (*page, error) {
	size := s.defaultSize
	if minSize > size {
		size = minSize
	}
	name := s.pageName()
	s.count++

	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("page: create %s: %w", name, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("page: truncate %s: %w", name, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("page: mmap %s: %w", name, err)
	}

	s.nextID++
	pg := &page{id: s.nextID, name: name, file: f, data: data, size: size}
	s.pages = append(s.pages, pg)
	s.byID[pg.id] = pg
	s.totalSize += size
	return pg, nil
}

// Malloc allocates a buffer of the given payload size, opening a new page
// if the current page cannot fit it.
func (s *Store) Malloc(size int) (*store.Buffer, error) {
	total := store.HeaderSize + int64(size)
	if r := total % 8; r != 0 {
		total += 8 - r
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.pages); n > 0 {
		if buf, ok := s.pages[n-1].malloc(total); ok {
			s.cleanupLocked()
			return buf, nil
		}
		s.dropFSCacheLocked(s.pages[n-1])
	}

	pg, err := s.newPageLocked(total)
	if err != nil {
		return nil, err
	}
	buf, ok := pg.malloc(total)
	if !ok {
		return nil, fmt.Errorf("page: new page too small for %d bytes", total)
	}
	s.cleanupLocked()
	return buf, nil
}

// dropFSCacheLocked hints the kernel to evict a page's clean, unused file
// pages from the page cache once it is full and no longer being written,
// mirroring Page::drop_fs_cache in the original.
func (s *Store) dropFSCacheLocked(pg *page) {
	if err := unix.Fadvise(int(pg.file.Fd()), 0, 0, unix.FADV_DONTNEED); err != nil {
		s.logger.Warn("fadvise DONTNEED failed on page", "page", pg.name, "error", err)
	}
}

// Free releases buf back to its owning page, identified by the page id
// stamped into buf.Header.StorePtr at allocation time. The page's space
// is not reclaimed until the whole page is empty and it is the oldest
// page (cleanup only removes from the front, per the original's
// documented tradeoff of leaving free pages locked in the middle).
func (s *Store) Free(buf *store.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pg, ok := s.byID[buf.Header.StorePtr]
	if !ok {
		return
	}
	pg.free(buf)
	s.cleanupLocked()
}

// cleanupLocked deletes fully-freed pages from the front while total size
// exceeds keepSize and more than keepCount pages remain, per the
// original's cleanup().
func (s *Store) cleanupLocked() {
	for s.totalSize > s.keepSize && len(s.pages) > s.keepCount {
		if !s.deleteFrontLocked() {
			break
		}
	}
}

func (s *Store) deleteFrontLocked() bool {
	if len(s.pages) == 0 {
		return false
	}
	front := s.pages[0]
	if front.used > 0 {
		return false
	}

	s.pages = s.pages[1:]
	delete(s.byID, front.id)
	s.totalSize -= front.size
	name := front.name
	_ = front.close()

	select {
	case s.deleteCh <- name:
	default:
		s.logger.Warn("page deletion queue full, deleting inline", "page", name)
		if err := os.Remove(name); err != nil {
			s.logger.Warn("failed to remove page file", "page", name, "error", err)
		}
	}
	return true
}

func (s *Store) deleteWorker() {
	for name := range s.deleteCh {
		if err := os.Remove(name); err != nil {
			s.logger.Warn("failed to remove page file", "page", name, "error", err)
		} else {
			s.logger.Info("deleted page", "page", name)
		}
	}
}

// Reset deletes every page unconditionally, used by gcache's seqno_reset.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pages) > 0 {
		front := s.pages[0]
		s.pages = s.pages[1:]
		delete(s.byID, front.id)
		s.totalSize -= front.size
		name := front.name
		_ = front.close()
		s.deleteCh <- name
	}
	s.count = 0
}

// Close unmaps every open page and closes the deletion queue. It does not
// wait for the deletion worker: file names already queued are removed by
// the worker after Close returns.
func (s *Store) Close() {
	s.mu.Lock()
	for _, pg := range s.pages {
		_ = pg.close()
	}
	close(s.deleteCh)
	s.mu.Unlock()
}

// PageCount reports the number of pages currently open, for tests and
// status reporting.
func (s *Store) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// TotalSize reports the combined size of all open pages.
func (s *Store) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}
