package timing

import "time"

// defaultMeasuredP99 is the measured p99 ACK latency (0x7B from the
// device) that every other timeout below is derived from (spec §4.6).
const defaultMeasuredP99 = 51 * time.Millisecond

// TimeoutConfig holds the adaptive session timeouts, all derived from a
// single measured ACK latency so they move together if that measurement
// changes.
type TimeoutConfig struct {
	MeasuredP99      time.Duration
	AckTimeout       time.Duration
	HandshakeTimeout time.Duration
	HeartbeatTimeout time.Duration
	CleanupInterval  time.Duration
}

// NewTimeoutConfig derives a TimeoutConfig from measuredP99. Passing zero
// uses the default measured value (51ms).
func NewTimeoutConfig(measuredP99 time.Duration) TimeoutConfig {
	if measuredP99 <= 0 {
		measuredP99 = defaultMeasuredP99
	}

	ack := time.Duration(float64(measuredP99) * 2.5)
	handshake := time.Duration(float64(ack) * 2.5)
	heartbeat := ack * 3
	if heartbeat < 10*time.Second {
		heartbeat = 10 * time.Second
	}
	cleanup := ack / 3
	if cleanup < 10*time.Second {
		cleanup = 10 * time.Second
	}
	if cleanup > 60*time.Second {
		cleanup = 60 * time.Second
	}

	return TimeoutConfig{
		MeasuredP99:      measuredP99,
		AckTimeout:       ack,
		HandshakeTimeout: handshake,
		HeartbeatTimeout: heartbeat,
		CleanupInterval:  cleanup,
	}
}

// DefaultTimeoutConfig returns the configuration derived from the default
// measured p99 (51ms).
func DefaultTimeoutConfig() TimeoutConfig {
	return NewTimeoutConfig(defaultMeasuredP99)
}
