package cert

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/behrlich/go-wsrep/internal/core"
	"github.com/behrlich/go-wsrep/internal/keyset"
)

func newTestCert(t *testing.T) *Certification {
	t.Helper()
	c := New(DefaultParams())
	c.AssignInitialPosition(core.GTID{Seqno: 0}, 4)
	return c
}

func exclusiveKey(value string) keyset.KeySet {
	return keyset.KeySet{Keys: []keyset.Key{{
		Parts: []keyset.Part{{Value: []byte(value), Type: core.KeyExclusive}},
	}}}
}

func sharedKey(value string) keyset.KeySet {
	return keyset.KeySet{Keys: []keyset.Key{{
		Parts: []keyset.Part{{Value: []byte(value), Type: core.KeyShared}},
	}}}
}

func trx(seqno, lastSeen core.Seqno, source byte, keys keyset.KeySet) *Writeset {
	ws := &Writeset{
		GlobalSeqno:   seqno,
		LastSeenSeqno: lastSeen,
		Version:       4,
		Keys:          keys,
	}
	ws.SourceID[0] = source
	return ws
}

func TestAppendTrxNoConflictOnDisjointKeys(t *testing.T) {
	c := newTestCert(t)

	ws1 := trx(1, 0, 1, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws1))

	ws2 := trx(2, 1, 2, exclusiveKey("b"))
	require.NoError(t, c.AppendTrx(ws2))
}

func TestAppendTrxConflictsOnSameExclusiveKeyDifferentSource(t *testing.T) {
	c := newTestCert(t)

	ws1 := trx(1, 0, 1, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws1))

	// ws2 has not seen ws1 (last_seen_seqno 0 < ws1's global_seqno 1) and
	// comes from a different source: must conflict.
	ws2 := trx(2, 0, 2, exclusiveKey("a"))
	err := c.AppendTrx(ws2)
	require.ErrorIs(t, err, ErrTestFailed)
}

func TestAppendTrxNoConflictWhenLastSeenCoversEarlierWriter(t *testing.T) {
	c := newTestCert(t)

	ws1 := trx(1, 0, 1, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws1))

	// ws2 has already seen ws1 (last_seen_seqno 1 >= ws1's global_seqno 1):
	// no conflict, but ws2 must depend on ws1.
	ws2 := trx(2, 1, 2, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws2))
	require.GreaterOrEqual(t, ws2.DependsSeqno, core.Seqno(1))
}

func TestAppendTrxSharedKeysDoNotConflictWithEachOther(t *testing.T) {
	c := newTestCert(t)

	ws1 := trx(1, 0, 1, sharedKey("a"))
	require.NoError(t, c.AppendTrx(ws1))

	ws2 := trx(2, 0, 2, sharedKey("a"))
	require.NoError(t, c.AppendTrx(ws2))
}

func TestAppendTrxSharedConflictsWithExistingExclusive(t *testing.T) {
	c := newTestCert(t)

	ws1 := trx(1, 0, 1, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws1))

	ws2 := trx(2, 0, 2, sharedKey("a"))
	err := c.AppendTrx(ws2)
	require.ErrorIs(t, err, ErrTestFailed)
}

func TestAppendTrxRollsBackPartialKeysOnConflict(t *testing.T) {
	c := newTestCert(t)

	ws1 := trx(1, 0, 1, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws1))

	twoKeys := keyset.KeySet{Keys: []keyset.Key{
		{Parts: []keyset.Part{{Value: []byte("fresh"), Type: core.KeyExclusive}}},
		{Parts: []keyset.Part{{Value: []byte("a"), Type: core.KeyExclusive}}},
	}}
	ws2 := trx(2, 0, 2, twoKeys)
	err := c.AppendTrx(ws2)
	require.ErrorIs(t, err, ErrTestFailed)

	// "fresh" must have been installed and then rolled back: a third
	// writeset touching only "fresh" must not see ws2 as a reference.
	ws3 := trx(3, 0, 3, exclusiveKey("fresh"))
	require.NoError(t, c.AppendTrx(ws3))
}

func TestVersionCompatibility(t *testing.T) {
	require.True(t, versionCompatible(3, 3))
	require.False(t, versionCompatible(2, 3))
	require.True(t, versionCompatible(3, 4))
	require.True(t, versionCompatible(4, 4))
	require.False(t, versionCompatible(2, 4))
}

func TestAppendTrxRejectsProtocolMismatch(t *testing.T) {
	c := newTestCert(t)
	ws := trx(1, 0, 1, exclusiveKey("a"))
	ws.Version = 2
	require.ErrorIs(t, c.AppendTrx(ws), ErrProtocolMismatch)
}

func TestAppendTrxRejectsOversizedCertInterval(t *testing.T) {
	c := New(DefaultParams())
	c.AssignInitialPosition(core.GTID{Seqno: 0}, 4)
	c.maxLength = 2

	ws := trx(10, 0, 1, exclusiveKey("a"))
	err := c.AppendTrx(ws)
	require.ErrorIs(t, err, ErrTestFailed)
}

func TestSetTrxCommittedAdvancesSafeToDiscard(t *testing.T) {
	c := newTestCert(t)

	ws1 := trx(1, 0, 1, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws1))
	ws2 := trx(2, 1, 2, exclusiveKey("b"))
	require.NoError(t, c.AppendTrx(ws2))

	c.SetTrxCommitted(ws1)
	watermark := c.SetTrxCommitted(ws2)
	require.Equal(t, core.Seqno(1), watermark)
}

func TestPurgeTrxsUptoRemovesFromIndex(t *testing.T) {
	c := newTestCert(t)

	ws1 := trx(1, 0, 1, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws1))
	c.SetTrxCommitted(ws1)

	n := c.PurgeTrxsUpto(1, core.SeqnoMax)
	require.Equal(t, 1, n)
	require.Equal(t, 0, c.IndexSize())

	// The key should be free for a conflicting writer now that ws1 is gone.
	ws2 := trx(2, 0, 2, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws2))
}

func TestPurgeTrxsUptoClampsToGcacheLock(t *testing.T) {
	c := newTestCert(t)

	ws1 := trx(1, 0, 1, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws1))
	ws2 := trx(2, 1, 2, exclusiveKey("b"))
	require.NoError(t, c.AppendTrx(ws2))
	c.SetTrxCommitted(ws1)
	c.SetTrxCommitted(ws2)

	// gcache still has seqno 1 locked, so purge must stop before it even
	// though cert's own safe-to-discard watermark would allow further.
	n := c.PurgeTrxsUpto(2, 1)
	require.Equal(t, 0, n)
	require.Equal(t, 2, c.IndexSize())
}

func TestAssignInitialPositionClearsIndex(t *testing.T) {
	c := newTestCert(t)
	ws1 := trx(1, 0, 1, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws1))

	c.AssignInitialPosition(core.GTID{Seqno: 5}, 4)
	require.Equal(t, 0, c.IndexSize())
	require.Equal(t, core.Seqno(5), c.Position())

	ws2 := trx(6, 5, 2, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws2))
}

func TestAppendPreorderedSeedsDependsSeqnoFromPriorPosition(t *testing.T) {
	c := newTestCert(t)

	ws1 := trx(1, 0, 1, keyset.KeySet{})
	ws1.Preordered = true
	ws1.TrxID = 1
	require.NoError(t, c.AppendTrx(ws1))

	ws2 := trx(2, 0, 1, keyset.KeySet{})
	ws2.Preordered = true
	ws2.TrxID = 2
	require.NoError(t, c.AppendTrx(ws2))
	require.Equal(t, ws1.GlobalSeqno, ws2.DependsSeqno)
}

func TestIsolationWritesetBypassesKeyMatrix(t *testing.T) {
	c := newTestCert(t)

	iso := trx(1, 0, 1, exclusiveKey("a"))
	iso.Flags = core.FlagIsolation
	require.NoError(t, c.AppendTrx(iso))

	// Since isolation writesets never touch the index, a later writeset on
	// the same key from a different source must not conflict with it.
	ws2 := trx(2, 0, 2, exclusiveKey("a"))
	require.NoError(t, c.AppendTrx(ws2))
}

func TestParamSetTogglesOptimisticPA(t *testing.T) {
	c := New(DefaultParams())
	require.NoError(t, c.ParamSet("cert.optimistic_pa", false))
	require.False(t, c.optimisticPA)
	require.Error(t, c.ParamSet("cert.unknown", true))
}
