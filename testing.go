package wsrep

import (
	"context"
	"sync"
)

// MockHostCallbacks provides a mock implementation of HostCallbacks for
// testing engine integrations, tracking method calls for verification.
type MockHostCallbacks struct {
	mu sync.Mutex

	viewCalls   int
	applyCalls  int
	donateCalls int
	syncedCalls int

	applied []appliedWriteset

	viewResponse SSTRequest
	applyErr     error
	donateErr    error
	applyDelay   func()
}

type appliedWriteset struct {
	payload []byte
	seqno   Seqno
}

// NewMockHostCallbacks creates a mock with no configured errors or delays.
func NewMockHostCallbacks() *MockHostCallbacks {
	return &MockHostCallbacks{}
}

// ViewCB implements HostCallbacks.
func (m *MockHostCallbacks) ViewCB(view ViewInfo) SSTRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewCalls++
	return m.viewResponse
}

// ApplyCB implements HostCallbacks.
func (m *MockHostCallbacks) ApplyCB(ctx context.Context, payload []byte, seqno Seqno) error {
	m.mu.Lock()
	m.applyCalls++
	err := m.applyErr
	delay := m.applyDelay
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.applied = append(m.applied, appliedWriteset{payload: cp, seqno: seqno})
	m.mu.Unlock()

	if delay != nil {
		delay()
	}
	return err
}

// SSTDonateCB implements HostCallbacks.
func (m *MockHostCallbacks) SSTDonateCB(ctx context.Context, req SSTRequest, gtid GTID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.donateCalls++
	return m.donateErr
}

// SyncedCB implements HostCallbacks.
func (m *MockHostCallbacks) SyncedCB() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncedCalls++
}

// SetApplyError makes subsequent ApplyCB calls fail with err.
func (m *MockHostCallbacks) SetApplyError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyErr = err
}

// SetDonateError makes subsequent SSTDonateCB calls fail with err.
func (m *MockHostCallbacks) SetDonateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.donateErr = err
}

// SetViewResponse sets the SSTRequest returned by the next ViewCB calls.
func (m *MockHostCallbacks) SetViewResponse(req SSTRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewResponse = req
}

// SetApplyDelay installs a function invoked synchronously inside ApplyCB,
// after bookkeeping but before returning, for tests that exercise
// interleavings around the apply monitor.
func (m *MockHostCallbacks) SetApplyDelay(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyDelay = fn
}

// AppliedPayloads returns a copy of every payload passed to ApplyCB, in
// call order.
func (m *MockHostCallbacks) AppliedPayloads() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.applied))
	for i, a := range m.applied {
		out[i] = a.payload
	}
	return out
}

// AppliedSeqnos returns the seqno each ApplyCB call was given, in call order.
func (m *MockHostCallbacks) AppliedSeqnos() []Seqno {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Seqno, len(m.applied))
	for i, a := range m.applied {
		out[i] = a.seqno
	}
	return out
}

// CallCounts returns the number of times each callback has been invoked.
func (m *MockHostCallbacks) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"view":   m.viewCalls,
		"apply":  m.applyCalls,
		"donate": m.donateCalls,
		"synced": m.syncedCalls,
	}
}

// Reset clears all call counters and recorded state.
func (m *MockHostCallbacks) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewCalls = 0
	m.applyCalls = 0
	m.donateCalls = 0
	m.syncedCalls = 0
	m.applied = nil
}

// Compile-time interface check.
var _ HostCallbacks = (*MockHostCallbacks)(nil)
