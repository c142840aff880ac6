package seqnomap

import (
	"testing"

	"github.com/behrlich/go-wsrep/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushBackAndGet(t *testing.T) {
	m := New()
	m.PushBack(1, "a")
	m.PushBack(2, "b")
	m.PushBack(3, "c")

	require.Equal(t, core.Seqno(1), m.Begin())
	require.Equal(t, core.Seqno(4), m.End())

	v, ok := m.Get(2)
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestEraseAndTrimHoles(t *testing.T) {
	m := New()
	for i := core.Seqno(1); i <= 6; i++ {
		m.PushBack(i, i)
	}
	m.Erase(1)
	m.Erase(2)
	m.Erase(6)
	m.TrimHoles()

	assert.Equal(t, core.Seqno(3), m.Begin())
	assert.Equal(t, core.Seqno(6), m.End())
}

func TestGetContiguousStopsAtHole(t *testing.T) {
	m := New()
	for i := core.Seqno(1); i <= 6; i++ {
		m.PushBack(i, i)
	}
	m.Erase(4)

	got := m.GetContiguous(1, 10)
	assert.Len(t, got, 3) // 1,2,3 then hole at 4
}
