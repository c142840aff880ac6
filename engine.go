// Package wsrep is the public API of the replication engine: certification
// and ordering (internal/cert, internal/monitor) plus gcache
// (internal/gcache) wired behind a host-facing replication surface, using a
// CreateAndServe/StopAndDelete-style orchestration and an explicit
// Params/Options config-struct pattern.
package wsrep

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/behrlich/go-wsrep/internal/cert"
	"github.com/behrlich/go-wsrep/internal/core"
	"github.com/behrlich/go-wsrep/internal/gcache"
	"github.com/behrlich/go-wsrep/internal/gcache/store"
	"github.com/behrlich/go-wsrep/internal/keyset"
	"github.com/behrlich/go-wsrep/internal/logging"
	"github.com/behrlich/go-wsrep/internal/monitor"
)

// TrxID identifies one host transaction across its AppendKey/PreCommit/
// PostCommit/PostRollback calls.
type TrxID uint64

// SSTRequest is an opaque state-transfer request, produced by ViewCB and
// consumed by SSTDonateCB; the engine never interprets its contents, since
// the state-transfer protocols themselves run outside this package.
type SSTRequest []byte

// ViewInfo describes one group reconfiguration event passed to ViewCB.
type ViewInfo struct {
	ViewID   int64
	Members  [][16]byte
	OwnIndex int
}

// Logger is a Printf/Debugf-shaped logging interface accepted in
// EngineParams. NewEngine does not use it: the engine and its subsystems
// log through internal/logging's default logger.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// HostCallbacks are the callbacks a host provides to the engine. ApplyCB
// is invoked only for writesets arriving through Receive (foreign/IST
// writesets); locally-originated transactions are applied by the host
// itself before calling PreCommit, per the host's own commit pipeline.
type HostCallbacks interface {
	// ViewCB fires on every group reconfiguration; returns an empty
	// SSTRequest if no state transfer is needed.
	ViewCB(view ViewInfo) SSTRequest
	// ApplyCB applies a foreign writeset's payload at the given seqno.
	// Must not call back into the engine on the same goroutine.
	ApplyCB(ctx context.Context, payload []byte, seqno Seqno) error
	// SSTDonateCB is called when this node is asked to donate state.
	SSTDonateCB(ctx context.Context, req SSTRequest, gtid GTID) error
	// SyncedCB notifies the host that this node has caught up.
	SyncedCB()
}

// Outcome is the result of PreCommit/Replay/AbortPreCommit.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeCertFailed
	OutcomeMustReplay
	OutcomeMustAbort
	OutcomeWarning
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeCertFailed:
		return "CERT_FAILED"
	case OutcomeMustReplay:
		return "MUST_REPLAY"
	case OutcomeMustAbort:
		return "MUST_ABORT"
	case OutcomeWarning:
		return "WARNING"
	default:
		return "UNKNOWN"
	}
}

// EngineParams configures NewEngine: one explicit struct, no package-level
// configuration singleton, so multiple engines can coexist in a process
// with independent settings.
type EngineParams struct {
	Callbacks HostCallbacks

	// CertVersion is the certification protocol version this node runs,
	// gating which writeset versions it will admit.
	CertVersion int

	LogConflicts    bool
	OptimisticPA    bool
	CertMaxLength   int
	CertLengthCheck Seqno

	// GcacheDir holds both the ring-buffer file and the page directory.
	GcacheDir           string
	GcacheMemSize       int64
	GcacheRingBufferMB  int64
	GcachePageSize      int64
	GcacheKeepPagesSize int64
	GcacheKeepPageCount int
	GcacheRecoverOnOpen bool

	// CommitMonitorBypass starts the commit monitor in bypass mode:
	// appliers may commit in any order.
	CommitMonitorBypass bool

	Logger   Logger
	Observer Observer
}

// DefaultEngineParams returns sensible defaults for a single-node harness.
func DefaultEngineParams(callbacks HostCallbacks, gcacheDir string) EngineParams {
	return EngineParams{
		Callbacks:           callbacks,
		CertVersion:         4,
		LogConflicts:        DefaultLogConflicts,
		OptimisticPA:        DefaultOptimisticPA,
		CertMaxLength:       DefaultCertMaxLength,
		CertLengthCheck:     DefaultLengthCheck,
		GcacheDir:           gcacheDir,
		GcacheMemSize:       DefaultMemSize,
		GcacheRingBufferMB:  DefaultRingBufferSize,
		GcachePageSize:      DefaultPageSize,
		GcacheKeepPagesSize: DefaultKeepPagesSize,
		GcacheKeepPageCount: 1,
		GcacheRecoverOnOpen: DefaultRecoverOnOpen,
	}
}

// pendingTrx accumulates a host transaction's state between AppendKey and
// PreCommit/PostCommit/PostRollback calls.
type pendingTrx struct {
	state         State
	keys          keyset.KeySet
	flags         core.Flags
	sourceID      [16]byte
	lastSeenSeqno Seqno
	seqno         Seqno // assigned when PreCommit or ToExecuteStart orders the writeset; SeqnoIll until then
	localSeqno    Seqno
	buf           *store.Buffer
	depends       Seqno
	savedMonitor  string // "apply" or "commit": where MUST_REPLAY left off
}

// Engine is the replication engine: certification, ordering, and gcache
// wired behind the host-facing API.
type Engine struct {
	params EngineParams

	cert      *cert.Certification
	gcache    *gcache.Cache
	applyMon  *monitor.Monitor
	commitMon *monitor.Monitor

	metrics  *Metrics
	observer Observer
	logger   *logging.Logger

	mu   sync.Mutex
	txns map[TrxID]*pendingTrx

	nextSeqno  core.Seqno // stands in for the group-communication total-order stream
	localSeqno core.Seqno

	sourceID [16]byte
	started  time.Time
}

// NewEngine constructs and opens an Engine: opens gcache, builds the
// certification index, and starts the ordering monitors. The caller is
// responsible for eventually calling Close.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Callbacks == nil {
		return nil, NewError("new_engine", ErrBootstrap, "HostCallbacks is required")
	}
	if params.CertVersion == 0 {
		params.CertVersion = 4
	}

	logger := logging.Default()

	gc, err := gcache.Open(gcache.Params{
		MemSize:       orDefault(params.GcacheMemSize, DefaultMemSize),
		RingBufferDir: params.GcacheDir,
		RingBufferMB:  orDefault(params.GcacheRingBufferMB, DefaultRingBufferSize),
		PageDir:       params.GcacheDir,
		PageSize:      orDefault(params.GcachePageSize, DefaultPageSize),
		KeepPagesSize: params.GcacheKeepPagesSize,
		KeepPageCount: orDefaultInt(params.GcacheKeepPageCount, 1),
		RecoverOnOpen: params.GcacheRecoverOnOpen,
		Logger:        logger,
	})
	if err != nil {
		return nil, WrapError("new_engine", err)
	}

	c := cert.New(cert.Params{
		LogConflicts: params.LogConflicts,
		OptimisticPA: params.OptimisticPA,
		MaxLength:    orDefaultInt(params.CertMaxLength, DefaultCertMaxLength),
		LengthCheck:  core.Seqno(orDefaultInt64(int64(params.CertLengthCheck), int64(DefaultLengthCheck))),
		Logger:       logger,
	})
	c.AssignInitialPosition(core.GTID{}, params.CertVersion)

	commitMon := monitor.New(core.SeqnoNone)
	commitMon.SetBypass(params.CommitMonitorBypass)

	e := &Engine{
		params:    params,
		cert:      c,
		gcache:    gc,
		applyMon:  monitor.New(core.SeqnoNone),
		commitMon: commitMon,
		metrics:   NewMetrics(),
		observer:  params.Observer,
		logger:    logger,
		txns:      make(map[TrxID]*pendingTrx),
		started:   time.Now(),
	}
	if e.observer == nil {
		e.observer = NewMetricsObserver(e.metrics)
	}
	return e, nil
}

func orDefault(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}
func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
func orDefaultInt64(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

// certError translates an error returned by cert.AppendTrx into the
// engine's structured error taxonomy. A duplicate global seqno indicates
// structural corruption in the replicated stream (the same position
// admitted twice) and is marked fatal rather than treated as an ordinary
// certification failure.
func certError(op string, seqno core.Seqno, err error) *Error {
	if errors.Is(err, cert.ErrDuplicate) {
		ce := NewCertError(op, Seqno(seqno), ErrDuplicate, err.Error())
		ce.Fatal = true
		return ce
	}
	if errors.Is(err, cert.ErrProtocolMismatch) {
		return NewCertError(op, Seqno(seqno), ErrProtocolMismatch, err.Error())
	}
	return NewCertError(op, Seqno(seqno), ErrCertificationFailure, err.Error())
}

// trxLocked fetches or lazily creates a pendingTrx for id.
func (e *Engine) trxLocked(id TrxID) *pendingTrx {
	t, ok := e.txns[id]
	if !ok {
		t = &pendingTrx{state: StateNew, seqno: SeqnoIll, depends: SeqnoIll}
		e.txns[id] = t
	}
	return t
}

// AppendKey records one hierarchical key reference for trx, to be
// certified when PreCommit is called.
func (e *Engine) AppendKey(trx TrxID, parts [][]byte, kind KeyType) error {
	if len(parts) == 0 {
		return NewCertError("append_key", SeqnoIll, ErrOutOfRange, "key must have at least one part")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.trxLocked(trx)
	key := keyset.Key{Parts: make([]keyset.Part, len(parts))}
	for i, p := range parts {
		key.Parts[i] = keyset.Part{Value: p, Type: kind}
	}
	t.keys.Keys = append(t.keys.Keys, key)
	return nil
}

// PreCommit certifies a locally-originated transaction's writeset and
// waits its turn in the commit monitor. The payload has already been
// applied locally by the host's own storage engine; the host calls
// PostCommit once its own commit completes.
func (e *Engine) PreCommit(ctx context.Context, trx TrxID, payload []byte) (Outcome, error) {
	start := time.Now()

	e.mu.Lock()
	t := e.trxLocked(trx)
	t.state = StateReplicating
	t.sourceID = e.sourceID
	seqno := e.nextSeqno + 1
	e.nextSeqno = seqno
	lastSeen := e.cert.Position()
	e.mu.Unlock()

	buf, err := e.gcache.Malloc(len(payload))
	if err != nil {
		e.metrics.RecordAllocation(uint64(len(payload)), uint64(time.Since(start).Nanoseconds()), true)
		return OutcomeMustAbort, NewGcacheError("pre_commit", ErrAllocationFull, err.Error(), true)
	}
	copy(buf.Payload, payload)
	e.gcache.SeqnoAssign(buf, seqno, core.SeqnoIll)
	e.metrics.RecordAllocation(uint64(len(payload)), uint64(time.Since(start).Nanoseconds()), false)

	e.mu.Lock()
	t.state = StateCertifying
	t.seqno = Seqno(seqno)
	t.lastSeenSeqno = Seqno(lastSeen)
	t.buf = buf
	keys := t.keys
	flags := t.flags
	e.mu.Unlock()

	ws := &cert.Writeset{
		GlobalSeqno:   seqno,
		LocalSeqno:    seqno,
		LastSeenSeqno: lastSeen,
		Version:       e.params.CertVersion,
		Flags:         flags,
		Keys:          keys,
		Buf:           buf,
	}
	ws.SourceID = e.sourceID

	certStart := time.Now()
	err = e.cert.AppendTrx(ws)
	conflict := err != nil
	e.metrics.RecordCertification(uint64(time.Since(certStart).Nanoseconds()), conflict)
	e.observer.ObserveCertification(uint64(time.Since(certStart).Nanoseconds()), conflict)

	if err != nil {
		e.gcache.Free(buf)
		e.withLock(func() { t.state = StateCertFailed })
		e.applyMon.SelfCancel(seqno)
		e.commitMon.SelfCancel(seqno)
		return OutcomeCertFailed, certError("pre_commit", seqno, err)
	}

	e.withLock(func() {
		t.depends = Seqno(ws.DependsSeqno)
		t.state = StateApplying
	})

	if err := e.applyMon.Enter(seqno, ws.DependsSeqno, flags.Has(core.FlagPAUnsafe)); err != nil {
		e.withLock(func() { t.savedMonitor = "apply" })
		return OutcomeMustAbort, NewCertError("pre_commit", Seqno(seqno), ErrInterrupted, "apply monitor interrupted")
	}
	e.applyMon.Leave(seqno)

	e.withLock(func() { t.state = StateCommitting })

	if err := e.commitMon.Enter(seqno, ws.DependsSeqno, flags.Has(core.FlagPAUnsafe)); err != nil {
		e.withLock(func() { t.savedMonitor = "commit" })
		return OutcomeMustAbort, NewCertError("pre_commit", Seqno(seqno), ErrInterrupted, "commit monitor interrupted")
	}

	return OutcomeOK, nil
}

// Replay re-drives a writeset previously aborted mid-replication
// (MUST_ABORT -> MUST_REPLAY): its certification result is preserved, so
// this re-enters the monitors at their saved position instead of
// certifying again.
func (e *Engine) Replay(ctx context.Context, trx TrxID) (Outcome, error) {
	e.mu.Lock()
	t, ok := e.txns[trx]
	if !ok {
		e.mu.Unlock()
		return OutcomeMustAbort, NewError("replay", ErrOutOfRange, "unknown trx")
	}
	seqno := core.Seqno(t.seqno)
	depends := core.Seqno(t.depends)
	flags := t.flags
	savedAt := t.savedMonitor
	t.state = StateReplaying
	e.mu.Unlock()

	e.metrics.RecordReplay()
	e.observer.ObserveReplay()

	if savedAt == "apply" {
		if err := e.applyMon.Enter(seqno, depends, flags.Has(core.FlagPAUnsafe)); err != nil {
			return OutcomeMustAbort, NewCertError("replay", Seqno(seqno), ErrInterrupted, "apply monitor interrupted")
		}
		e.applyMon.Leave(seqno)
	}

	if err := e.commitMon.Enter(seqno, depends, flags.Has(core.FlagPAUnsafe)); err != nil {
		return OutcomeMustAbort, NewCertError("replay", Seqno(seqno), ErrInterrupted, "commit monitor interrupted")
	}

	e.withLock(func() { t.state = StateApplying })
	return OutcomeOK, nil
}

// PostCommit finalizes a committed transaction: exits the commit monitor,
// tells certification it committed (advancing the safe-to-discard
// watermark), and releases its gcache buffer up to that new watermark.
func (e *Engine) PostCommit(trx TrxID) error {
	e.mu.Lock()
	t, ok := e.txns[trx]
	if !ok {
		e.mu.Unlock()
		return NewError("post_commit", ErrOutOfRange, "unknown trx")
	}
	seqno := core.Seqno(t.seqno)
	lastSeen := core.Seqno(t.lastSeenSeqno)
	delete(e.txns, trx)
	e.mu.Unlock()

	e.commitMon.Leave(seqno)

	watermark := e.cert.SetTrxCommitted(&cert.Writeset{GlobalSeqno: seqno, LastSeenSeqno: lastSeen})

	locked := e.gcache.SeqnoLocked()
	purged := e.cert.PurgeTrxsUpto(watermark, locked)
	if purged > 0 {
		e.metrics.RecordPurge(uint64(purged))
		e.observer.ObservePurge(uint64(purged))
	}

	e.gcache.SeqnoRelease(watermark)
	return nil
}

// PostRollback finalizes a rolled-back transaction: self-cancels both
// monitors at its position and frees its gcache buffer immediately,
// since a writeset that never committed holds nothing else needs to see.
func (e *Engine) PostRollback(trx TrxID) error {
	e.mu.Lock()
	t, ok := e.txns[trx]
	if !ok {
		e.mu.Unlock()
		return NewError("post_rollback", ErrOutOfRange, "unknown trx")
	}
	seqno := core.Seqno(t.seqno)
	buf := t.buf
	delete(e.txns, trx)
	e.mu.Unlock()

	if seqno != core.SeqnoIll {
		e.applyMon.SelfCancel(seqno)
		e.commitMon.SelfCancel(seqno)
	}
	if buf != nil {
		e.gcache.Free(buf)
	}
	return nil
}

// AbortPreCommit forces a victim transaction out of REPLICATING/
// CERTIFYING, interrupting whichever monitor it may be waiting in.
func (e *Engine) AbortPreCommit(bfSeqno Seqno, victim TrxID) (Outcome, error) {
	e.mu.Lock()
	t, ok := e.txns[victim]
	if !ok {
		e.mu.Unlock()
		return OutcomeWarning, nil
	}
	seqno := core.Seqno(t.seqno)
	t.state = StateMustAbort
	e.mu.Unlock()

	if seqno == core.SeqnoIll {
		// Victim hasn't been assigned a seqno yet (still accumulating
		// keys): nothing in the monitors to interrupt.
		return OutcomeOK, nil
	}

	e.applyMon.Interrupt(seqno)
	e.commitMon.Interrupt(seqno)
	return OutcomeOK, nil
}

// ToExecuteStart begins a total-order-isolation region: connID's payload
// is certified via the preordered fast path and returns once ordering is
// assured, without waiting on the key matrix.
func (e *Engine) ToExecuteStart(ctx context.Context, connID TrxID, payload []byte) (Outcome, error) {
	e.mu.Lock()
	seqno := e.nextSeqno + 1
	e.nextSeqno = seqno
	e.mu.Unlock()

	buf, err := e.gcache.Malloc(len(payload))
	if err != nil {
		return OutcomeMustAbort, NewGcacheError("to_execute_start", ErrAllocationFull, err.Error(), true)
	}
	copy(buf.Payload, payload)
	e.gcache.SeqnoAssign(buf, seqno, core.SeqnoIll)

	ws := &cert.Writeset{
		GlobalSeqno: seqno,
		Version:     e.params.CertVersion,
		Flags:       core.FlagIsolation,
		Preordered:  true,
		TrxID:       uint64(connID),
		Buf:         buf,
	}
	if err := e.cert.AppendTrx(ws); err != nil {
		e.gcache.Free(buf)
		return OutcomeMustAbort, certError("to_execute_start", seqno, err)
	}

	e.mu.Lock()
	t := e.trxLocked(connID)
	t.seqno = Seqno(seqno)
	t.buf = buf
	t.state = StateApplying
	e.mu.Unlock()

	if err := e.applyMon.Enter(seqno, ws.DependsSeqno, false); err != nil {
		return OutcomeMustAbort, NewCertError("to_execute_start", Seqno(seqno), ErrInterrupted, "apply monitor interrupted")
	}
	return OutcomeOK, nil
}

// ToExecuteEnd closes a total-order-isolation region begun by
// ToExecuteStart, exiting the apply monitor and committing the
// certification record.
func (e *Engine) ToExecuteEnd(connID TrxID) error {
	e.mu.Lock()
	t, ok := e.txns[connID]
	if !ok {
		e.mu.Unlock()
		return NewError("to_execute_end", ErrOutOfRange, "unknown connection")
	}
	seqno := core.Seqno(t.seqno)
	delete(e.txns, connID)
	e.mu.Unlock()

	e.applyMon.Leave(seqno)
	e.cert.SetTrxCommitted(&cert.Writeset{GlobalSeqno: seqno, LastSeenSeqno: core.SeqnoNone})
	return nil
}

// Receive admits a foreign writeset that arrived already totally ordered
// from the transport, running the full intake pipeline: certify, apply
// via the host callback, then wait in the commit monitor.
func (e *Engine) Receive(ctx context.Context, globalSeqno Seqno, lastSeenSeqno Seqno, sourceID [16]byte, flags Flags, parts [][][]byte, kinds []KeyType, payload []byte) error {
	if len(parts) != len(kinds) {
		return NewCertError("receive", globalSeqno, ErrOutOfRange, "parts/kinds length mismatch")
	}

	buf, err := e.gcache.Malloc(len(payload))
	if err != nil {
		return NewGcacheError("receive", ErrAllocationFull, err.Error(), true)
	}
	copy(buf.Payload, payload)
	e.gcache.SeqnoAssign(buf, core.Seqno(globalSeqno), core.SeqnoIll)

	ks := keyset.KeySet{Keys: make([]keyset.Key, len(parts))}
	for i, p := range parts {
		key := keyset.Key{Parts: make([]keyset.Part, len(p))}
		for j, v := range p {
			key.Parts[j] = keyset.Part{Value: v, Type: core.KeyType(kinds[i])}
		}
		ks.Keys[i] = key
	}

	ws := &cert.Writeset{
		GlobalSeqno:   core.Seqno(globalSeqno),
		LastSeenSeqno: core.Seqno(lastSeenSeqno),
		SourceID:      sourceID,
		Version:       e.params.CertVersion,
		Flags:         core.Flags(flags),
		Keys:          ks,
		Buf:           buf,
	}

	certStart := time.Now()
	err = e.cert.AppendTrx(ws)
	conflict := err != nil
	e.metrics.RecordCertification(uint64(time.Since(certStart).Nanoseconds()), conflict)
	e.observer.ObserveCertification(uint64(time.Since(certStart).Nanoseconds()), conflict)

	if err != nil {
		e.gcache.Free(buf)
		e.applyMon.SelfCancel(core.Seqno(globalSeqno))
		e.commitMon.SelfCancel(core.Seqno(globalSeqno))
		return certError("receive", core.Seqno(globalSeqno), err)
	}

	if err := e.applyMon.Enter(core.Seqno(globalSeqno), ws.DependsSeqno, ws.Flags.Has(core.FlagPAUnsafe)); err != nil {
		return NewCertError("receive", globalSeqno, ErrInterrupted, "apply monitor interrupted")
	}
	applyErr := e.params.Callbacks.ApplyCB(ctx, payload, globalSeqno)
	e.applyMon.Leave(core.Seqno(globalSeqno))
	if applyErr != nil {
		return WrapError("receive.apply_cb", applyErr)
	}

	if err := e.commitMon.Enter(core.Seqno(globalSeqno), ws.DependsSeqno, ws.Flags.Has(core.FlagPAUnsafe)); err != nil {
		return NewCertError("receive", globalSeqno, ErrInterrupted, "commit monitor interrupted")
	}
	e.commitMon.Leave(core.Seqno(globalSeqno))

	watermark := e.cert.SetTrxCommitted(ws)
	locked := e.gcache.SeqnoLocked()
	if purged := e.cert.PurgeTrxsUpto(watermark, locked); purged > 0 {
		e.metrics.RecordPurge(uint64(purged))
		e.observer.ObservePurge(uint64(purged))
	}
	e.gcache.SeqnoRelease(watermark)
	return nil
}

// SSTSent notifies the engine that this node finished donating state up
// to gtid; purely informational at this layer since the state-transfer
// protocol itself runs outside this package.
func (e *Engine) SSTSent(gtid GTID) {
	e.logger.Info("sst sent", "gtid", gtid.String())
}

// SSTReceived notifies the engine that this node received state up to
// gtid, resetting gcache's history to match the new starting point.
func (e *Engine) SSTReceived(gtid GTID) {
	e.gcache.SeqnoReset(core.GTID(gtid), core.Seqno(gtid.Seqno))
	e.cert.AssignInitialPosition(core.GTID(gtid), e.params.CertVersion)
	e.logger.Info("sst received", "gtid", gtid.String())
}

// Status is the set of enumerated counters returned by StatusGet.
type Status struct {
	Metrics       MetricsSnapshot
	CertPosition  Seqno
	CertIndexSize int
	ApplyDrain    Seqno
	CommitDrain   Seqno
}

// StatusGet snapshots the engine's observable state.
func (e *Engine) StatusGet() Status {
	return Status{
		Metrics:       e.metrics.Snapshot(),
		CertPosition:  Seqno(e.cert.Position()),
		CertIndexSize: e.cert.IndexSize(),
		ApplyDrain:    Seqno(e.applyMon.DrainSeqno()),
		CommitDrain:   Seqno(e.commitMon.DrainSeqno()),
	}
}

// Metrics returns the engine's metrics instance.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Drain blocks until every writeset up to toSeqno has exited both
// monitors, used before state transfer and reconfiguration.
func (e *Engine) Drain(toSeqno Seqno) {
	e.applyMon.Drain(core.Seqno(toSeqno))
	e.commitMon.Drain(core.Seqno(toSeqno))
}

// Close releases gcache's resources. The certification index and
// monitors hold no external resources and need no explicit close.
func (e *Engine) Close() error {
	e.metrics.Stop()
	return e.gcache.Close()
}

// withLock runs fn with the engine mutex held, for call sites that need a
// single guarded field mutation without a named intermediate.
func (e *Engine) withLock(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}
