// Package cert implements the certification index: the deterministic
// conflict detector that decides whether an incoming writeset may commit,
// and the dependency tracker that feeds the apply and commit monitors
// their ordering constraints.
package cert

import (
	"fmt"
	"sync"

	"github.com/behrlich/go-wsrep/internal/constants"
	"github.com/behrlich/go-wsrep/internal/core"
	"github.com/behrlich/go-wsrep/internal/gcache/store"
	"github.com/behrlich/go-wsrep/internal/keyset"
	"github.com/behrlich/go-wsrep/internal/logging"
)

// Writeset is the in-memory handle certification operates on.
// The host/engine layer owns its lifetime; cert only reads and stamps
// fields on it.
type Writeset struct {
	GlobalSeqno   core.Seqno
	LocalSeqno    core.Seqno
	LastSeenSeqno core.Seqno
	SourceID      [16]byte
	Version       int
	Flags         core.Flags
	DependsSeqno  core.Seqno
	State         core.State
	Buf           *store.Buffer
	Keys          keyset.KeySet
	Preordered    bool
	TrxID         uint64 // used only by the preordered path's gap check
}

func (ws *Writeset) isolation() bool { return ws.Flags.Has(core.FlagIsolation) }
func (ws *Writeset) paUnsafe() bool  { return ws.Flags.Has(core.FlagPAUnsafe) }

// ref is one stored reference inside a keyEntry: the writeset that last
// touched this key at this depth with the recorded type.
type ref struct {
	ws   *Writeset
	kind core.KeyType
}

// keyEntry holds one distinct key's four reference slots: an exclusive
// reference and a combined semi/shared reference, each tracked both for
// any-depth insertion and specifically for full/leaf-key insertion. SEMI
// and SHARED share one slot since the matrix only ever distinguishes them
// by the *stored* kind, never by having two independent slots (see
// DESIGN.md).
type keyEntry struct {
	bytes []byte

	excl     *ref
	shared   *ref
	exclFull *ref
	sharedFull *ref
}

func (e *keyEntry) empty() bool {
	return e.excl == nil && e.shared == nil && e.exclFull == nil && e.sharedFull == nil
}

// Error codes returned by Certification operations, joined with the root
// package's wsrep.Error machinery by the engine layer; this package only
// returns plain errors so it has no dependency on the root package.
var (
	ErrTestFailed        = fmt.Errorf("cert: certification test failed")
	ErrProtocolMismatch  = fmt.Errorf("cert: writeset protocol version incompatible")
	ErrDuplicate         = fmt.Errorf("cert: global seqno already indexed")
)

// Params configures New.
type Params struct {
	LogConflicts bool
	OptimisticPA bool
	MaxLength    int
	LengthCheck  core.Seqno
	Logger       *logging.Logger
}

// DefaultParams returns the contractual default parameter values.
func DefaultParams() Params {
	return Params{
		LogConflicts: constants.DefaultLogConflicts,
		OptimisticPA: constants.DefaultOptimisticPA,
		MaxLength:    constants.DefaultMaxLength,
		LengthCheck:  constants.DefaultLengthCheck,
	}
}

// Certification is the replicated certification index.
type Certification struct {
	mu sync.Mutex

	version         int
	initialPosition core.Seqno
	position        core.Seqno
	lastPAUnsafe    core.Seqno
	safeToDiscard   core.Seqno

	lastPreorderedSeqno core.Seqno
	lastPreorderedID    uint64

	index  map[string]*keyEntry
	trxMap map[core.Seqno]*Writeset
	order  []core.Seqno // ascending insertion order, front-trimmed on purge

	depsCount map[core.Seqno]int
	depsMin   *seqnoMultiset

	logConflicts bool
	optimisticPA bool
	maxLength    int
	lengthCheck  core.Seqno

	logger *logging.Logger
}

// New returns a certification index with initial_position set to SeqnoIll;
// AssignInitialPosition must be called before AppendTrx is used in earnest.
func New(p Params) *Certification {
	if p.Logger == nil {
		p.Logger = logging.Default()
	}
	return &Certification{
		version:             -1,
		initialPosition:     core.SeqnoIll,
		position:            core.SeqnoIll,
		lastPAUnsafe:        core.SeqnoIll,
		safeToDiscard:       core.SeqnoIll,
		lastPreorderedSeqno: core.SeqnoIll,
		index:               make(map[string]*keyEntry),
		trxMap:              make(map[core.Seqno]*Writeset),
		depsCount:           make(map[core.Seqno]int),
		depsMin:             newSeqnoMultiset(),
		logConflicts:        p.LogConflicts,
		optimisticPA:        p.OptimisticPA,
		maxLength:           p.MaxLength,
		lengthCheck:         p.LengthCheck,
		logger:              p.Logger,
	}
}

// versionCompatible implements trx_cert_version_match: protocol <= 3
// requires an exact match, protocol >= 4 accepts writesets in [3, certVersion].
func versionCompatible(wsVersion, certVersion int) bool {
	if certVersion <= 3 {
		return wsVersion == certVersion
	}
	return wsVersion >= 3 && wsVersion <= certVersion
}

// AssignInitialPosition resets (or rewinds) the index to seqno, per
// assign_initial_position. Every currently indexed writeset is dropped
// and the key index, trx map and deps bookkeeping are cleared outright,
// whichever direction the position moves.
func (c *Certification) AssignInitialPosition(gtid core.GTID, version int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, seqno := range c.order {
		c.unrefWriteset(c.trxMap[seqno])
	}
	c.trxMap = make(map[core.Seqno]*Writeset)
	c.order = nil
	c.index = make(map[string]*keyEntry)
	c.depsCount = make(map[core.Seqno]int)
	c.depsMin = newSeqnoMultiset()

	c.logger.Info("assign initial position for certification", "seqno", gtid.Seqno, "version", version)

	c.initialPosition = gtid.Seqno
	c.position = gtid.Seqno
	c.safeToDiscard = gtid.Seqno
	c.lastPAUnsafe = gtid.Seqno
	c.lastPreorderedSeqno = gtid.Seqno
	c.lastPreorderedID = 0
	c.version = version
}

// ParamSet supports runtime toggling of log_conflicts and optimistic_pa.
func (c *Certification) ParamSet(name string, value bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch name {
	case "cert.log_conflicts":
		c.logConflicts = value
	case "cert.optimistic_pa":
		c.optimisticPA = value
	default:
		return fmt.Errorf("cert: unknown parameter %q", name)
	}
	return nil
}

// canonicalKey renders a keyset.Prefixed to its map key, reusing its
// already-canonical (length-prefixed) byte encoding.
func canonicalKey(p keyset.Prefixed) string { return string(p.Bytes) }

// undoStep records one mutation made to the index during a single
// AppendTrx pass, so a later key conflict can roll every prior key part
// back exactly, leaving the index as if the call had never happened.
type undoStep struct {
	entryKey   string
	createdNew bool
	prevExcl, prevShared, prevExclFull, prevSharedFull *ref
}

// AppendTrx is the only mutating admission operation. A global seqno
// passed twice is structural corruption in the caller's stream, not an
// ordinary certification outcome: it is rejected with ErrDuplicate rather
// than silently overwriting the already-indexed writeset (which would
// orphan its key-entry references and double-count deps bookkeeping).
func (c *Certification) AppendTrx(ws *Writeset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ws.Preordered {
		return c.appendPreorderedLocked(ws)
	}

	if _, duplicate := c.trxMap[ws.GlobalSeqno]; duplicate {
		return ErrDuplicate
	}

	if !versionCompatible(ws.Version, c.version) {
		return ErrProtocolMismatch
	}
	if ws.LastSeenSeqno < c.initialPosition {
		return fmt.Errorf("%w: last_seen_seqno %d below initial_position %d", ErrTestFailed, ws.LastSeenSeqno, c.initialPosition)
	}
	if int64(ws.GlobalSeqno-ws.LastSeenSeqno) > int64(c.maxLength) {
		return fmt.Errorf("%w: certification interval exceeds max_length", ErrTestFailed)
	}

	// Initial dependency seeding.
	if ws.isolation() || ws.paUnsafe() || len(c.order) == 0 {
		ws.DependsSeqno = ws.GlobalSeqno - 1
	} else {
		ws.DependsSeqno = c.order[0] - 1
		if !c.optimisticPA && ws.LastSeenSeqno > ws.DependsSeqno {
			ws.DependsSeqno = ws.LastSeenSeqno
		}
	}

	if err := c.certifyLocked(ws); err != nil {
		return err
	}

	c.position = ws.GlobalSeqno

	// Rule 4: raise depends_seqno to at least last_pa_unsafe after the pass.
	if ws.DependsSeqno < c.lastPAUnsafe {
		ws.DependsSeqno = c.lastPAUnsafe
	}
	if ws.paUnsafe() {
		c.lastPAUnsafe = ws.GlobalSeqno
	}

	c.trxMap[ws.GlobalSeqno] = ws
	c.order = append(c.order, ws.GlobalSeqno)
	c.depsCount[ws.LastSeenSeqno]++
	c.depsMin.insert(ws.LastSeenSeqno)

	c.maybeEvict()
	return nil
}

// certifyLocked runs the key-matrix pass over ws's keyset, installing
// references and computing dependencies. On conflict it rolls back every
// change this call made and returns ErrTestFailed.
func (c *Certification) certifyLocked(ws *Writeset) error {
	if ws.isolation() {
		// Total-order isolation writesets bypass the key matrix entirely:
		// they already serialize against everything via global ordering, so
		// there is nothing to check and nothing worth indexing.
		return nil
	}

	var undo []undoStep

	for _, key := range ws.Keys.Keys {
		for _, p := range key.Prefixes() {
			conflict, step := c.certifyKeyPart(p, ws)
			if conflict {
				c.rollback(undo)
				if c.logConflicts {
					c.logger.Info("certification conflict", "key", fmt.Sprintf("%x", p.Bytes), "seqno", ws.GlobalSeqno)
				}
				return fmt.Errorf("%w: conflict on key", ErrTestFailed)
			}
			undo = append(undo, step)
		}
	}
	return nil
}

// certifyKeyPart evaluates the 3x3 matrix for one key-part occurrence and
// installs ws as the new reference, returning whether a conflict was
// realized and the undo step needed to reverse the installation.
func (c *Certification) certifyKeyPart(p keyset.Prefixed, ws *Writeset) (bool, undoStep) {
	k := canonicalKey(p)
	entry, existed := c.index[k]
	step := undoStep{entryKey: k, createdNew: !existed}
	if !existed {
		entry = &keyEntry{bytes: p.Bytes}
		c.index[k] = entry
	} else {
		step.prevExcl, step.prevShared = entry.excl, entry.shared
		step.prevExclFull, step.prevSharedFull = entry.exclFull, entry.sharedFull
	}

	depends := ws.DependsSeqno

	// Check against the existing exclusive reference, for every new type.
	if conflict, dep := c.checkAgainst(entry.excl, p.Type, ws); conflict {
		return true, step
	} else if dep > depends {
		depends = dep
	}

	// Exclusive keys are additionally checked against the shared slot,
	// since the shared row can realize SEMI-vs-EXCL conflicts too.
	if p.Type == core.KeyExclusive && entry.shared != nil {
		if conflict, dep := c.checkAgainst(entry.shared, p.Type, ws); conflict {
			return true, step
		} else if dep > depends {
			depends = dep
		}
	}

	ws.DependsSeqno = depends

	c.installRef(p, ws)
	return false, step
}

// checkAgainst realizes the matrix cell (existing.kind, newType) for one
// stored reference, returning whether it is a conflict and, if not, the
// dependency floor it implies.
func (c *Certification) checkAgainst(existing *ref, newType core.KeyType, ws *Writeset) (bool, core.Seqno) {
	if existing == nil {
		return false, core.SeqnoIll
	}

	action := keyset.Check(existing.kind, newType)
	switch action {
	case keyset.ActionNothing:
		return false, core.SeqnoIll
	case keyset.ActionDependency:
		return false, existing.ws.GlobalSeqno
	default: // ActionConflictCandidate
		realized := existing.ws.isolation() ||
			(existing.ws.GlobalSeqno > ws.LastSeenSeqno && existing.ws.SourceID != ws.SourceID)
		if realized {
			return true, core.SeqnoIll
		}
		return false, existing.ws.GlobalSeqno
	}
}

// installRef overwrites the relevant reference slot(s) for p with ws,
// per "overwrite the relevant reference with the new writeset" and the
// leaf/prefix distinction.
func (c *Certification) installRef(p keyset.Prefixed, ws *Writeset) {
	entry := c.index[canonicalKey(p)]
	r := &ref{ws: ws, kind: p.Type}
	if p.Type == core.KeyExclusive {
		entry.excl = r
		if p.Full {
			entry.exclFull = r
		}
	} else {
		entry.shared = r
		if p.Full {
			entry.sharedFull = r
		}
	}
}

// rollback undoes every recorded step in reverse order, restoring exactly
// the state the index held before this AppendTrx call began.
func (c *Certification) rollback(undo []undoStep) {
	for i := len(undo) - 1; i >= 0; i-- {
		step := undo[i]
		if step.createdNew {
			delete(c.index, step.entryKey)
			continue
		}
		entry := c.index[step.entryKey]
		entry.excl, entry.shared = step.prevExcl, step.prevShared
		entry.exclFull, entry.sharedFull = step.prevExclFull, step.prevSharedFull
		if entry.empty() {
			delete(c.index, step.entryKey)
		}
	}
}

// unrefWriteset removes ws's references wherever they are still the
// latest at a key entry, deleting any entry left with no pointers. Used
// by purge and by AssignInitialPosition's reset.
func (c *Certification) unrefWriteset(ws *Writeset) {
	if ws == nil {
		return
	}
	for _, key := range ws.Keys.Keys {
		for _, p := range key.Prefixes() {
			k := canonicalKey(p)
			entry, ok := c.index[k]
			if !ok {
				continue
			}
			if entry.excl != nil && entry.excl.ws == ws {
				entry.excl = nil
			}
			if entry.shared != nil && entry.shared.ws == ws {
				entry.shared = nil
			}
			if entry.exclFull != nil && entry.exclFull.ws == ws {
				entry.exclFull = nil
			}
			if entry.sharedFull != nil && entry.sharedFull.ws == ws {
				entry.sharedFull = nil
			}
			if entry.empty() {
				delete(c.index, k)
			}
		}
	}
}

// appendPreorderedLocked implements the TOI/preordered shortcut: skip the
// key matrix, seed depends_seqno from the running preordered-stream
// position.
func (c *Certification) appendPreorderedLocked(ws *Writeset) error {
	if _, duplicate := c.trxMap[ws.GlobalSeqno]; duplicate {
		return ErrDuplicate
	}
	if c.lastPreorderedID != 0 && c.lastPreorderedID+1 != ws.TrxID {
		c.logger.Warn("gap in preordered stream", "expected", c.lastPreorderedID+1, "got", ws.TrxID)
	}

	ws.DependsSeqno = c.lastPreorderedSeqno
	c.lastPreorderedSeqno = ws.GlobalSeqno
	c.lastPreorderedID = ws.TrxID

	c.position = ws.GlobalSeqno
	c.trxMap[ws.GlobalSeqno] = ws
	c.order = append(c.order, ws.GlobalSeqno)
	c.depsCount[ws.LastSeenSeqno]++
	c.depsMin.insert(ws.LastSeenSeqno)
	return nil
}

// SetTrxCommitted removes ws's last_seen_seqno from the dependency
// multiset and returns the new safe-to-discard watermark.
func (c *Certification) SetTrxCommitted(ws *Writeset) core.Seqno {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := c.depsCount[ws.LastSeenSeqno]; n > 0 {
		c.depsCount[ws.LastSeenSeqno] = n - 1
		if n == 1 {
			delete(c.depsCount, ws.LastSeenSeqno)
		}
		c.depsMin.remove(ws.LastSeenSeqno)
		if c.depsMin.empty() {
			// Nothing outstanding depends on anything earlier: the watermark
			// settles at the last committed writeset's own last_seen_seqno.
			c.safeToDiscard = ws.LastSeenSeqno
		}
	}

	return c.safeToDiscardLocked()
}

func (c *Certification) safeToDiscardLocked() core.Seqno {
	if c.depsMin.empty() {
		return c.safeToDiscard
	}
	return c.depsMin.min() - 1
}

// PurgeTrxsUpto evicts every writeset with global seqno <= seqno, clamped
// to gcacheSeqnoLocked-1: the more conservative of cert's own
// safe-to-discard bound and gcache's lock floor wins.
func (c *Certification) PurgeTrxsUpto(seqno core.Seqno, gcacheSeqnoLocked core.Seqno) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeUpToLocked(seqno, gcacheSeqnoLocked)
}

func (c *Certification) purgeUpToLocked(seqno, gcacheSeqnoLocked core.Seqno) int {
	if gcacheSeqnoLocked != core.SeqnoMax && gcacheSeqnoLocked-1 < seqno {
		seqno = gcacheSeqnoLocked - 1
	}

	n := 0
	for len(c.order) > 0 && c.order[0] <= seqno {
		s := c.order[0]
		c.order = c.order[1:]
		ws := c.trxMap[s]
		delete(c.trxMap, s)
		c.unrefWriteset(ws)
		n++
	}
	return n
}

// maybeEvict implements the interleaved eviction policy: on a
// length_check boundary, trim the index down to max_length, clamped to
// the safe-to-discard watermark. gcache's seqno lock is not consulted
// here; only PurgeTrxsUpto takes it into account.
func (c *Certification) maybeEvict() {
	if c.lengthCheck > 0 && int64(c.position)&int64(c.lengthCheck) != 0 {
		return
	}
	if len(c.order) <= c.maxLength {
		return
	}

	trim := c.position - core.Seqno(c.maxLength)
	stds := c.safeToDiscardLocked()
	if trim > stds {
		trim = stds
	}
	if trim > 0 {
		c.purgeUpToLocked(trim, core.SeqnoMax)
	}
}

// Position returns the highest seqno admitted so far.
func (c *Certification) Position() core.Seqno {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// IndexSize returns the number of still-indexed writesets, for status
// reporting and tests.
func (c *Certification) IndexSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
