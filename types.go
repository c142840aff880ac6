package wsrep

import "github.com/behrlich/go-wsrep/internal/core"

// Re-exported leaf types so host code never needs to import internal
// packages directly.
type (
	Seqno   = core.Seqno
	GTID    = core.GTID
	KeyType = core.KeyType
	Flags   = core.Flags
	State   = core.State
)

const (
	SeqnoNone = core.SeqnoNone
	SeqnoIll  = core.SeqnoIll
	SeqnoMax  = core.SeqnoMax

	KeyShared    = core.KeyShared
	KeySemi      = core.KeySemi
	KeyExclusive = core.KeyExclusive

	FlagIsolation   = core.FlagIsolation
	FlagPAUnsafe    = core.FlagPAUnsafe
	FlagCommutative = core.FlagCommutative
	FlagNative      = core.FlagNative
	FlagPrepared    = core.FlagPrepared

	StateNew         = core.StateNew
	StateReplicating = core.StateReplicating
	StateCertifying  = core.StateCertifying
	StateApplying    = core.StateApplying
	StateCommitting  = core.StateCommitting
	StateCommitted   = core.StateCommitted
	StateCertFailed  = core.StateCertFailed
	StateMustAbort   = core.StateMustAbort
	StateAborting    = core.StateAborting
	StateMustReplay  = core.StateMustReplay
	StateReplaying   = core.StateReplaying
	StateRolledBack  = core.StateRolledBack
)
