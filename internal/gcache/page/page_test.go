package page

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, defaultSize, keepSize int64, keepCount int) *Store {
	t.Helper()
	dir := t.TempDir()
	s := New(Params{Dir: dir, DefaultSize: defaultSize, KeepSize: keepSize, KeepCount: keepCount})
	t.Cleanup(s.Close)
	return s
}

func TestMallocWithinCurrentPage(t *testing.T) {
	s := newStore(t, 4096, 0, 1)
	buf, err := s.Malloc(128)
	require.NoError(t, err)
	require.Len(t, buf.Payload, 128)
	require.Equal(t, 1, s.PageCount())
}

func TestMallocOpensNewPageWhenCurrentFull(t *testing.T) {
	s := newStore(t, 256, 0, 2)

	_, err := s.Malloc(200)
	require.NoError(t, err)
	require.Equal(t, 1, s.PageCount())

	_, err = s.Malloc(200)
	require.NoError(t, err)
	require.Equal(t, 2, s.PageCount())
}

func TestMallocLargerThanDefaultSizesPageUp(t *testing.T) {
	s := newStore(t, 256, 0, 1)
	buf, err := s.Malloc(10000)
	require.NoError(t, err)
	require.Len(t, buf.Payload, 10000)
}

func TestCleanupDeletesOnlyFullyFreedFrontPage(t *testing.T) {
	s := newStore(t, 256, 0, 1)

	buf1, err := s.Malloc(200)
	require.NoError(t, err)
	_, err = s.Malloc(200)
	require.NoError(t, err)
	require.Equal(t, 2, s.PageCount())

	// Front page still has a live buffer: cleanup must not delete it even
	// though we're over keepCount.
	require.Equal(t, 2, s.PageCount())

	s.Free(buf1)
	// Freeing the front page's last live buffer lets cleanup drop that page.
	require.Eventually(t, func() bool {
		return s.PageCount() == 1
	}, time.Second, time.Millisecond)
}

func TestResetDeletesAllPages(t *testing.T) {
	s := newStore(t, 256, 0, 4)
	_, err := s.Malloc(100)
	require.NoError(t, err)
	require.Equal(t, 1, s.PageCount())

	s.Reset()
	require.Equal(t, 0, s.PageCount())
}
