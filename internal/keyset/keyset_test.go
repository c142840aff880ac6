package keyset

import (
	"testing"

	"github.com/behrlich/go-wsrep/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPrefixes(t *testing.T) {
	k := Key{Parts: []Part{
		{Value: []byte("db"), Type: core.KeyShared},
		{Value: []byte("tbl"), Type: core.KeyShared},
		{Value: []byte("row1"), Type: core.KeyExclusive},
	}}

	prefixes := k.Prefixes()
	require.Len(t, prefixes, 3)
	assert.False(t, prefixes[0].Full)
	assert.False(t, prefixes[1].Full)
	assert.True(t, prefixes[2].Full)
	assert.Equal(t, core.KeyExclusive, prefixes[2].Type)
}

func TestCanonicalBytesNoAliasing(t *testing.T) {
	k1 := Key{Parts: []Part{{Value: []byte("a")}, {Value: []byte("bc")}}}
	k2 := Key{Parts: []Part{{Value: []byte("ab")}, {Value: []byte("c")}}}

	assert.NotEqual(t, k1.Prefixes()[1].Bytes, k2.Prefixes()[1].Bytes)
}

func TestCheckMatrix(t *testing.T) {
	cases := []struct {
		existing, new core.KeyType
		want          Action
	}{
		{core.KeyExclusive, core.KeyExclusive, ActionConflictCandidate},
		{core.KeyExclusive, core.KeySemi, ActionConflictCandidate},
		{core.KeyExclusive, core.KeyShared, ActionConflictCandidate},
		{core.KeySemi, core.KeyExclusive, ActionConflictCandidate},
		{core.KeySemi, core.KeySemi, ActionNothing},
		{core.KeySemi, core.KeyShared, ActionNothing},
		{core.KeyShared, core.KeyExclusive, ActionDependency},
		{core.KeyShared, core.KeySemi, ActionNothing},
		{core.KeyShared, core.KeyShared, ActionNothing},
	}
	for _, c := range cases {
		got := Check(c.existing, c.new)
		assert.Equal(t, c.want, got, "existing=%v new=%v", c.existing, c.new)
	}
}
