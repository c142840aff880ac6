package gcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-wsrep/internal/core"
	"github.com/behrlich/go-wsrep/internal/gcache/store"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(Params{
		MemSize:       4096,
		RingBufferDir: dir,
		RingBufferMB:  8192,
		PageDir:       dir,
		PageSize:      4096,
		KeepPageCount: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMallocServesSmallRequest(t *testing.T) {
	c := newCache(t)

	small, err := c.Malloc(64)
	require.NoError(t, err)
	require.Equal(t, 64, len(small.Payload))
}

func TestSeqnoAssignThenRelease(t *testing.T) {
	c := newCache(t)

	buf, err := c.Malloc(64)
	require.NoError(t, err)
	c.SeqnoAssign(buf, 1, core.SeqnoIll)
	require.Equal(t, core.Seqno(1), buf.Header.SeqnoGlobal)

	c.SeqnoRelease(1)
}

func TestSeqnoLockPreventsReleasePastLock(t *testing.T) {
	c := newCache(t)

	buf1, err := c.Malloc(32)
	require.NoError(t, err)
	c.SeqnoAssign(buf1, 1, core.SeqnoIll)

	buf2, err := c.Malloc(32)
	require.NoError(t, err)
	c.SeqnoAssign(buf2, 2, core.SeqnoIll)

	require.NoError(t, c.SeqnoLock(2))
	c.SeqnoRelease(2)
	// seqno 2 is locked, so release should stop at seqno 1.
	require.Equal(t, core.Seqno(1), c.seqnoReleased)

	c.SeqnoUnlock()
	c.SeqnoRelease(2)
	require.Equal(t, core.Seqno(2), c.seqnoReleased)
}

func TestSeqnoLockUnknownSeqnoErrors(t *testing.T) {
	c := newCache(t)
	require.Error(t, c.SeqnoLock(99))
}

func TestSeqnoGetBuffersStopsAtGap(t *testing.T) {
	c := newCache(t)

	buf1, err := c.Malloc(16)
	require.NoError(t, err)
	c.SeqnoAssign(buf1, 1, core.SeqnoIll)

	buf3, err := c.Malloc(16)
	require.NoError(t, err)
	c.SeqnoAssign(buf3, 3, core.SeqnoIll)

	out := make([]*store.Buffer, 5)
	n := c.SeqnoGetBuffers(out, 1)
	require.Equal(t, 1, n, "must stop before the gap at seqno 2")
}

func TestSeqnoResetTruncatesTail(t *testing.T) {
	c := newCache(t)

	gid := core.GTID{} // matches the cache's zero-value gid set at Open
	buf1, err := c.Malloc(16)
	require.NoError(t, err)
	c.SeqnoAssign(buf1, 1, core.SeqnoIll)
	buf2, err := c.Malloc(16)
	require.NoError(t, err)
	c.SeqnoAssign(buf2, 2, core.SeqnoIll)

	c.SeqnoReset(gid, 1)
	require.Equal(t, core.Seqno(1), c.seqnoMax)
}

func TestPageFallbackForOversizedRequest(t *testing.T) {
	c := newCache(t)
	buf, err := c.Malloc(20000)
	require.NoError(t, err)
	require.Len(t, buf.Payload, 20000)
}
