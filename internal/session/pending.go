package session

import (
	"sync"
	"time"
)

// pendingCommand tracks one outbound COMMAND (0x73) awaiting its ACK
// (spec §3 PendingCommand). At most one entry exists per msg_id at a time.
type pendingCommand struct {
	msgID         [2]byte
	correlationID string
	sentAt        time.Time
	retries       int
	done          chan SendResult
	fired         bool
}

// pendingTable is the per-session ACK-tracking table keyed by msg_id.
type pendingTable struct {
	mu      sync.Mutex
	entries map[[2]byte]*pendingCommand
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[[2]byte]*pendingCommand)}
}

// register installs a new pending entry, replacing any stale retry entry
// for the same msg_id (a retry reuses its own msg_id deliberately).
func (t *pendingTable) register(msgID [2]byte, correlationID string) *pendingCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc := &pendingCommand{
		msgID:         msgID,
		correlationID: correlationID,
		sentAt:        nowFunc(),
		done:          make(chan SendResult, 1),
	}
	t.entries[msgID] = pc
	return pc
}

// complete matches an inbound ACK to its pending entry and signals it.
// Returns the zero SendResult and false if no entry exists (a late or
// duplicate ACK).
func (t *pendingTable) complete(msgID [2]byte) (SendResult, bool) {
	t.mu.Lock()
	pc, ok := t.entries[msgID]
	if ok {
		delete(t.entries, msgID)
	}
	t.mu.Unlock()
	if !ok {
		return SendResult{}, false
	}
	result := SendResult{Success: true, CorrelationID: pc.correlationID, Retries: pc.retries}
	t.signal(pc, result)
	return result, true
}

// release removes an entry without requiring an ACK (used on retry
// exhaustion or session teardown).
func (t *pendingTable) release(msgID [2]byte, result SendResult) {
	t.mu.Lock()
	pc, ok := t.entries[msgID]
	if ok {
		delete(t.entries, msgID)
	}
	t.mu.Unlock()
	if ok {
		t.signal(pc, result)
	}
}

// releaseAll signals every outstanding entry with reason and empties the
// table. Used on session close (spec §3 invariant: closing destroys the
// pending table atomically) and on graceful shutdown (spec §5 step 3).
func (t *pendingTable) releaseAll(reason string) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[[2]byte]*pendingCommand)
	t.mu.Unlock()

	for _, pc := range entries {
		t.signal(pc, SendResult{Success: false, CorrelationID: pc.correlationID, Reason: reason})
	}
}

func (t *pendingTable) signal(pc *pendingCommand, result SendResult) {
	if pc.fired {
		return
	}
	pc.fired = true
	pc.done <- result
}

// len reports the number of outstanding entries, used by tests asserting
// the table is empty after every outcome (spec §8 testable property 2).
func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
