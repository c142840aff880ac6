package mem

import (
	"testing"

	"github.com/behrlich/go-wsrep/internal/core"
	"github.com/stretchr/testify/require"
)

func TestMallocWithinCap(t *testing.T) {
	s := New(1024)
	buf, ok := s.Malloc(512)
	require.True(t, ok)
	require.Len(t, buf.Payload, 512)
	require.Equal(t, int64(512), s.Used())
}

func TestMallocEvictsReleasedOldest(t *testing.T) {
	s := New(1024)

	buf1, ok := s.Malloc(600)
	require.True(t, ok)
	buf1.Header.SeqnoGlobal = 1
	s.Assign(buf1)
	s.Free(buf1)

	buf2, ok := s.Malloc(600)
	require.True(t, ok, "second malloc should evict released buf1 to make room")
	buf2.Header.SeqnoGlobal = 2
	s.Assign(buf2)

	require.Equal(t, int64(600), s.Used())
}

func TestMallocFailsWhenOldestNotReleased(t *testing.T) {
	s := New(1024)

	buf1, ok := s.Malloc(600)
	require.True(t, ok)
	buf1.Header.SeqnoGlobal = 1
	s.Assign(buf1)
	// buf1 not freed: still in use.

	_, ok = s.Malloc(600)
	require.False(t, ok, "malloc must fail: head buffer is unreleased and blocks eviction")
}

func TestFreeUnorderedReclaimsImmediately(t *testing.T) {
	s := New(1024)
	buf, ok := s.Malloc(512)
	require.True(t, ok)
	buf.Header.SeqnoGlobal = core.SeqnoNone

	s.Free(buf)
	require.Equal(t, int64(0), s.Used())
}

func TestDiscardRemovesReleasedEntry(t *testing.T) {
	s := New(1024)
	buf, ok := s.Malloc(128)
	require.True(t, ok)
	buf.Header.SeqnoGlobal = 5
	s.Assign(buf)
	s.Free(buf)

	require.True(t, s.Discard(5))
	require.Equal(t, int64(0), s.Used())
	require.False(t, s.Discard(5), "second discard of the same seqno finds nothing")
}
