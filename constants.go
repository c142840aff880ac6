package wsrep

import "github.com/behrlich/go-wsrep/internal/constants"

// Re-exported defaults so host code configuring EngineParams never needs to
// import internal/constants directly.
const (
	DefaultLogConflicts  = constants.DefaultLogConflicts
	DefaultOptimisticPA  = constants.DefaultOptimisticPA
	DefaultCertMaxLength = constants.DefaultMaxLength
	DefaultLengthCheck   = constants.DefaultLengthCheck

	DefaultRingBufferName = constants.DefaultRingBufferName
	DefaultRingBufferSize = constants.DefaultRingBufferSize
	DefaultPageSize       = constants.DefaultPageSize
	DefaultKeepPagesSize  = constants.DefaultKeepPagesSize
	DefaultMemSize        = constants.DefaultMemSize
	DefaultRecoverOnOpen  = constants.DefaultRecoverOnOpen
)
