// Package monitor implements the apply and commit ordering monitors:
// per-seqno tickets that become ready once every writeset they depend on
// has passed through the same monitor, with drain and interrupt support
// for state-transfer and abort handling. The per-seqno wait bookkeeping
// uses a map keyed by seqno, guarded by one sync.Cond instead of one
// mutex per slot since the slot set is unbounded and churns continuously.
package monitor

import (
	"fmt"
	"sync"

	"github.com/behrlich/go-wsrep/internal/core"
)

// ErrInterrupted is returned by Enter when the waiting ticket was
// cancelled by Interrupt rather than becoming ready normally.
var ErrInterrupted = fmt.Errorf("monitor: wait interrupted")

// ticket tracks one seqno's progress through the monitor.
type ticket struct {
	paUnsafe    bool
	entered     bool
	interrupted bool
}

// Monitor serializes entry into a critical section (applying a payload,
// or committing) by seqno, enforcing that a writeset only proceeds once
// every seqno it depends on has exited, and that no earlier in-flight
// writeset is PA-unsafe.
type Monitor struct {
	mu   sync.Mutex
	cond *sync.Cond

	bypass bool // commit monitor may run in bypass mode at startup

	drain   core.Seqno // highest contiguous seqno that has exited or was cancelled
	tickets map[core.Seqno]*ticket
	done    map[core.Seqno]bool // exited or self-cancelled, sparse above drain
}

// New returns a Monitor with its drain seqno initialized to start (the
// last seqno already known to have passed, so Enter(start+1, ...) is the
// first real entry).
func New(start core.Seqno) *Monitor {
	m := &Monitor{
		drain:   start,
		tickets: make(map[core.Seqno]*ticket),
		done:    make(map[core.Seqno]bool),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SetBypass toggles bypass mode (commit monitor only):
// while bypass is set, Enter never blocks on ordering, but bookkeeping
// for Drain/Leave still applies so drain tracking stays consistent.
func (m *Monitor) SetBypass(bypass bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bypass = bypass
}

// Enter blocks until seqno's ticket is ready: every seqno <= depends has
// exited or been cancelled, and no in-flight seqno earlier than seqno is
// marked PA-unsafe. Returns ErrInterrupted if Interrupt(seqno) is called
// while waiting.
func (m *Monitor) Enter(seqno, depends core.Seqno, paUnsafe bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, preRegistered := m.tickets[seqno]
	if preRegistered {
		t.paUnsafe = paUnsafe
	} else {
		t = &ticket{paUnsafe: paUnsafe}
		m.tickets[seqno] = t
	}

	for !m.bypass && !m.readyLocked(seqno, depends) {
		if t.interrupted {
			delete(m.tickets, seqno)
			return ErrInterrupted
		}
		m.cond.Wait()
		if t.interrupted {
			delete(m.tickets, seqno)
			return ErrInterrupted
		}
	}
	if t.interrupted {
		delete(m.tickets, seqno)
		return ErrInterrupted
	}

	t.entered = true
	return nil
}

// readyLocked implements the monitor's readiness contract.
func (m *Monitor) readyLocked(seqno, depends core.Seqno) bool {
	if depends > m.drain {
		return false
	}
	for s, other := range m.tickets {
		if s < seqno && other.entered && other.paUnsafe {
			return false
		}
	}
	return true
}

// Leave marks seqno as having exited the monitor, advancing the drain
// watermark over any now-contiguous run and waking waiters whose
// readiness may have changed.
func (m *Monitor) Leave(seqno core.Seqno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tickets, seqno)
	m.markDoneLocked(seqno)
}

// SelfCancel records that seqno will never enter this monitor, equivalent
// to a null-pass so dependants proceed without waiting on it forever.
func (m *Monitor) SelfCancel(seqno core.Seqno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tickets, seqno)
	m.markDoneLocked(seqno)
}

func (m *Monitor) markDoneLocked(seqno core.Seqno) {
	m.done[seqno] = true
	for m.done[m.drain+1] {
		m.drain++
		delete(m.done, m.drain)
	}
	m.cond.Broadcast()
}

// Interrupt aborts a current or future wait on seqno, causing its Enter
// call to return ErrInterrupted so the caller can initiate rollback.
func (m *Monitor) Interrupt(seqno core.Seqno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tickets[seqno]; ok {
		t.interrupted = true
	} else {
		// Not waiting yet: pre-register the interrupt so a subsequent
		// Enter for this seqno fails immediately instead of racing.
		m.tickets[seqno] = &ticket{interrupted: true}
	}
	m.cond.Broadcast()
}

// Drain blocks until every seqno <= toSeqno has exited the monitor, used
// before state transfer and reconfiguration.
func (m *Monitor) Drain(toSeqno core.Seqno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.drain < toSeqno {
		m.cond.Wait()
	}
}

// DrainSeqno returns the current drain watermark, for status reporting
// and tests.
func (m *Monitor) DrainSeqno() core.Seqno {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drain
}
