package store

import (
	"testing"

	"github.com/behrlich/go-wsrep/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		SeqnoGlobal:  42,
		SeqnoDepends: 40,
		Size:         128,
		Flags:        FlagReleased,
		Store:        TierRB,
	}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)
	got := Decode(buf)
	require.Equal(t, h, got)
}

func TestHeaderValid(t *testing.T) {
	h := Header{SeqnoGlobal: 5, SeqnoDepends: 4, Size: HeaderSize, Store: TierRB}
	assert.True(t, h.Valid(TierRB))

	bad := Header{SeqnoGlobal: 5, SeqnoDepends: 4, Size: HeaderSize, Store: TierPage}
	assert.False(t, bad.Valid(TierRB))

	var clear Header
	assert.True(t, clear.Valid(TierRB))
}

func TestHeaderReleaseIdempotentFlagCheck(t *testing.T) {
	var h Header
	assert.False(t, h.Released())
	h.Release()
	assert.True(t, h.Released())
}

func TestSeqnoNoneTag(t *testing.T) {
	assert.Equal(t, core.Seqno(0), core.SeqnoNone)
}
