package timing

import (
	"sync"
	"sync/atomic"
)

// Metrics is an in-process counter registry for the session engine,
// dispatcher, and MQTT bridge. It has no HTTP export surface; values are
// read back only through snapshot accessors, and no component logs them
// on a schedule.
type Metrics struct {
	PacketsSent   outcomeCounters
	PacketsRecv   outcomeCounters
	DecodeErrors  atomic.Uint64
	Retransmits   atomic.Uint64
	AckMatched    atomic.Uint64
	AckTimeout    atomic.Uint64
	AckDuplicate  atomic.Uint64
	Handshakes    outcomeCounters
	Reconnects    reasonCounters
	DedupEvicted  atomic.Uint64
	PrimaryViols  atomic.Uint64

	mu       sync.Mutex
	sessions map[string]ConnState
}

// ConnState is the coarse connection-state gauge reported per session.
type ConnState int

const (
	StateUnknown ConnState = iota
	StateAccepted
	StateHandshaking
	StateProbing
	StateReady
	StateClosing
	StateClosed
)

// NewMetrics returns an empty registry ready for use.
func NewMetrics() *Metrics {
	return &Metrics{sessions: make(map[string]ConnState)}
}

// SetSessionState records the current state of a session, keyed by its
// remote address. Closed sessions are dropped from the gauge rather than
// retained at StateClosed indefinitely.
func (m *Metrics) SetSessionState(addr string, state ConnState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == StateClosed {
		delete(m.sessions, addr)
		return
	}
	m.sessions[addr] = state
}

// SessionCounts returns the number of sessions currently in each state.
func (m *Metrics) SessionCounts() map[ConnState]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[ConnState]int, len(m.sessions))
	for _, s := range m.sessions {
		counts[s]++
	}
	return counts
}

// outcomeCounters splits a counter into success/failure buckets, the two
// outcomes that matter for sent/received packets and handshakes.
type outcomeCounters struct {
	Success atomic.Uint64
	Failure atomic.Uint64
}

func (c *outcomeCounters) Record(ok bool) {
	if ok {
		c.Success.Add(1)
	} else {
		c.Failure.Add(1)
	}
}

func (c *outcomeCounters) Snapshot() (success, failure uint64) {
	return c.Success.Load(), c.Failure.Load()
}

// reasonCounters tallies occurrences by an open-ended reason string
// (reconnection reasons: "heartbeat_timeout", "remote_close", "tls_error", ...).
type reasonCounters struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func (c *reasonCounters) Record(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]uint64)
	}
	c.counts[reason]++
}

func (c *reasonCounters) Snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
