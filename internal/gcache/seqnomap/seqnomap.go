// Package seqnomap implements the seqno→pointer sparse deque:
// a contiguous-keyed map over an interval [begin, end) where absent seqnos
// are holes represented by a nil entry. Entries are added only at the back
// (PushBack, amortized O(1)) or overwritten in range (Set); there is no
// push at the front and no pop. Holes at either end are trimmed only when
// the caller calls TrimHoles.
package seqnomap

import "github.com/behrlich/go-wsrep/internal/core"

// Map is a sparse deque keyed by core.Seqno.
type Map struct {
	slots []unsafePtr // slots[i] corresponds to seqno begin+i
	begin core.Seqno
	end   core.Seqno // exclusive
}

// unsafePtr is an opaque payload; the map does not care what it stores.
type unsafePtr = interface{}

// New returns an empty map.
func New() *Map {
	return &Map{}
}

// Len returns end-begin (includes holes).
func (m *Map) Len() int { return int(m.end - m.begin) }

// Empty reports whether the map holds no entries (holes or otherwise).
func (m *Map) Empty() bool { return m.begin == m.end }

// Begin returns the lowest seqno in range (undefined if Empty).
func (m *Map) Begin() core.Seqno { return m.begin }

// End returns the exclusive upper bound.
func (m *Map) End() core.Seqno { return m.end }

// PushBack appends seqno with the given pointer. seqno must equal End();
// on an empty map any seqno is accepted and becomes Begin().
func (m *Map) PushBack(seqno core.Seqno, ptr interface{}) {
	if m.Empty() {
		m.begin = seqno
		m.end = seqno
	}
	if seqno != m.end {
		panic("seqnomap: PushBack seqno out of sequence")
	}
	m.slots = append(m.slots, ptr)
	m.end++
}

// Set installs ptr at seqno, which must lie within [begin, end).
func (m *Map) Set(seqno core.Seqno, ptr interface{}) {
	if seqno < m.begin || seqno >= m.end {
		panic("seqnomap: Set out of range")
	}
	m.slots[seqno-m.begin] = ptr
}

// Get returns the pointer at seqno and whether it is present (non-hole)
// and in range.
func (m *Map) Get(seqno core.Seqno) (interface{}, bool) {
	if seqno < m.begin || seqno >= m.end {
		return nil, false
	}
	v := m.slots[seqno-m.begin]
	return v, v != nil
}

// Erase punches a hole at seqno (does not shrink the interval unless the
// hole is at an end, in which case TrimHoles should be called by the
// caller after a batch of erases).
func (m *Map) Erase(seqno core.Seqno) {
	if seqno < m.begin || seqno >= m.end {
		return
	}
	m.slots[seqno-m.begin] = nil
}

// TrimHoles advances begin past leading holes and retreats end past
// trailing holes, shrinking the backing slice. Interior holes remain.
func (m *Map) TrimHoles() {
	for len(m.slots) > 0 && m.slots[0] == nil {
		m.slots = m.slots[1:]
		m.begin++
	}
	for len(m.slots) > 0 && m.slots[len(m.slots)-1] == nil {
		m.slots = m.slots[:len(m.slots)-1]
		m.end--
	}
	if len(m.slots) == 0 {
		m.begin = m.end
	}
}

// GetContiguous returns up to max pointers starting at start, stopping at
// the first hole or at End(), per gcache's seqno_get_buffers IST path.
func (m *Map) GetContiguous(start core.Seqno, max int) []interface{} {
	var out []interface{}
	for s := start; s < m.end && len(out) < max; s++ {
		v, ok := m.Get(s)
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}
