package wsrep

import (
	"context"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) (*Engine, *MockHostCallbacks) {
	t.Helper()
	cb := NewMockHostCallbacks()
	params := DefaultEngineParams(cb, t.TempDir())
	params.GcacheMemSize = 1 << 20
	params.GcacheRingBufferMB = 1 << 20
	params.GcachePageSize = 1 << 20

	e, err := NewEngine(params)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, cb
}

func TestNewEngineRequiresCallbacks(t *testing.T) {
	_, err := NewEngine(EngineParams{})
	if err == nil {
		t.Fatal("expected NewEngine to fail without HostCallbacks")
	}
	if !IsCode(err, ErrBootstrap) {
		t.Errorf("expected ErrBootstrap, got %v", err)
	}
}

func TestPreCommitThenPostCommitHappyPath(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	trx := TrxID(1)
	if err := e.AppendKey(trx, [][]byte{[]byte("rowA")}, KeyExclusive); err != nil {
		t.Fatalf("AppendKey failed: %v", err)
	}

	outcome, err := e.PreCommit(ctx, trx, []byte("payload-1"))
	if err != nil {
		t.Fatalf("PreCommit failed: %v", err)
	}
	if outcome != OutcomeOK {
		t.Errorf("expected OutcomeOK, got %s", outcome)
	}

	if err := e.PostCommit(trx); err != nil {
		t.Fatalf("PostCommit failed: %v", err)
	}

	status := e.StatusGet()
	if status.Metrics.TrxCertified != 1 {
		t.Errorf("expected 1 certified trx, got %d", status.Metrics.TrxCertified)
	}
}

func TestPreCommitConflictReturnsCertFailed(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	trx1 := TrxID(1)
	if err := e.AppendKey(trx1, [][]byte{[]byte("rowA")}, KeyExclusive); err != nil {
		t.Fatalf("AppendKey failed: %v", err)
	}
	if _, err := e.PreCommit(ctx, trx1, []byte("payload-1")); err != nil {
		t.Fatalf("first PreCommit failed: %v", err)
	}

	trx2 := TrxID(2)
	if err := e.AppendKey(trx2, [][]byte{[]byte("rowA")}, KeyExclusive); err != nil {
		t.Fatalf("AppendKey failed: %v", err)
	}
	outcome, err := e.PreCommit(ctx, trx2, []byte("payload-2"))
	if outcome != OutcomeCertFailed {
		t.Errorf("expected OutcomeCertFailed, got %s (err=%v)", outcome, err)
	}
	if !IsCode(err, ErrCertificationFailure) {
		t.Errorf("expected ErrCertificationFailure, got %v", err)
	}

	if err := e.PostCommit(trx1); err != nil {
		t.Fatalf("PostCommit failed: %v", err)
	}

	status := e.StatusGet()
	if status.Metrics.TrxFailed != 1 {
		t.Errorf("expected 1 failed certification, got %d", status.Metrics.TrxFailed)
	}
}

func TestPostRollbackForgetsTrx(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	trx := TrxID(1)
	if err := e.AppendKey(trx, [][]byte{[]byte("rowA")}, KeyShared); err != nil {
		t.Fatalf("AppendKey failed: %v", err)
	}
	outcome, err := e.PreCommit(ctx, trx, []byte("payload"))
	if err != nil || outcome != OutcomeOK {
		t.Fatalf("PreCommit failed: outcome=%s err=%v", outcome, err)
	}

	if err := e.PostRollback(trx); err != nil {
		t.Fatalf("PostRollback failed: %v", err)
	}

	e.mu.Lock()
	_, stillTracked := e.txns[trx]
	e.mu.Unlock()
	if stillTracked {
		t.Error("expected trx to be removed from engine bookkeeping after PostRollback")
	}
}

func TestAbortPreCommitUnknownTrxIsWarning(t *testing.T) {
	e, _ := newTestEngine(t)
	outcome, err := e.AbortPreCommit(0, TrxID(999))
	if outcome != OutcomeWarning {
		t.Errorf("expected OutcomeWarning for unknown victim, got %s", outcome)
	}
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestToExecuteStartAndEndCommitsPreorderedWriteset(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	conn := TrxID(7)
	outcome, err := e.ToExecuteStart(ctx, conn, []byte("DDL payload"))
	if err != nil {
		t.Fatalf("ToExecuteStart failed: %v", err)
	}
	if outcome != OutcomeOK {
		t.Errorf("expected OutcomeOK, got %s", outcome)
	}

	if err := e.ToExecuteEnd(conn); err != nil {
		t.Fatalf("ToExecuteEnd failed: %v", err)
	}

	status := e.StatusGet()
	if status.CertPosition < 1 {
		t.Errorf("expected cert position to advance, got %d", status.CertPosition)
	}
}

func TestReceiveDrivesApplyCBAndCommits(t *testing.T) {
	e, cb := newTestEngine(t)
	ctx := context.Background()

	err := e.Receive(ctx, Seqno(1), SeqnoNone, [16]byte{1}, Flags(0),
		[][][]byte{{[]byte("rowB")}}, []KeyType{KeyExclusive}, []byte("foreign payload"))
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	counts := cb.CallCounts()
	if counts["apply"] != 1 {
		t.Errorf("expected ApplyCB called once, got %d", counts["apply"])
	}
	payloads := cb.AppliedPayloads()
	if len(payloads) != 1 || string(payloads[0]) != "foreign payload" {
		t.Errorf("expected ApplyCB to see the foreign payload, got %v", payloads)
	}
}

func TestReceiveMismatchedPartsAndKindsRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	err := e.Receive(ctx, Seqno(1), SeqnoNone, [16]byte{1}, Flags(0),
		[][][]byte{{[]byte("rowB")}}, nil, []byte("payload"))
	if !IsCode(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestSSTReceivedResetsGcacheAndCertPosition(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	trx := TrxID(1)
	if err := e.AppendKey(trx, [][]byte{[]byte("rowA")}, KeyExclusive); err != nil {
		t.Fatalf("AppendKey failed: %v", err)
	}
	if _, err := e.PreCommit(ctx, trx, []byte("payload")); err != nil {
		t.Fatalf("PreCommit failed: %v", err)
	}
	if err := e.PostCommit(trx); err != nil {
		t.Fatalf("PostCommit failed: %v", err)
	}

	newGTID := GTID{UUID: [16]byte{9}, Seqno: 100}
	e.SSTReceived(newGTID)

	if got := e.StatusGet().CertPosition; got != 100 {
		t.Errorf("expected cert position reset to 100, got %d", got)
	}
}

func TestDrainReturnsImmediatelyWhenNothingInFlight(t *testing.T) {
	e, _ := newTestEngine(t)
	done := make(chan struct{})
	go func() {
		e.Drain(0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain(0) should return immediately with nothing in flight")
	}
}
