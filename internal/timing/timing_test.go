package timing

import (
	"context"
	"testing"
	"time"
)

func TestNewTimeoutConfigDerivation(t *testing.T) {
	cfg := NewTimeoutConfig(40 * time.Millisecond)

	wantAck := 100 * time.Millisecond
	if cfg.AckTimeout != wantAck {
		t.Fatalf("AckTimeout = %v, want %v", cfg.AckTimeout, wantAck)
	}
	wantHandshake := time.Duration(float64(wantAck) * 2.5)
	if cfg.HandshakeTimeout != wantHandshake {
		t.Fatalf("HandshakeTimeout = %v, want %v", cfg.HandshakeTimeout, wantHandshake)
	}
	if cfg.HeartbeatTimeout != 10*time.Second {
		t.Fatalf("HeartbeatTimeout = %v, want floor of 10s", cfg.HeartbeatTimeout)
	}
	if cfg.CleanupInterval != 10*time.Second {
		t.Fatalf("CleanupInterval = %v, want floor of 10s", cfg.CleanupInterval)
	}
}

func TestNewTimeoutConfigHighLatencyClampsCleanup(t *testing.T) {
	cfg := NewTimeoutConfig(80 * time.Second)
	if cfg.CleanupInterval != 60*time.Second {
		t.Fatalf("CleanupInterval = %v, want ceiling of 60s", cfg.CleanupInterval)
	}
	if cfg.HeartbeatTimeout <= 10*time.Second {
		t.Fatalf("HeartbeatTimeout = %v, want > 10s floor at this latency", cfg.HeartbeatTimeout)
	}
}

func TestNewTimeoutConfigZeroUsesDefault(t *testing.T) {
	cfg := NewTimeoutConfig(0)
	if cfg.MeasuredP99 != defaultMeasuredP99 {
		t.Fatalf("MeasuredP99 = %v, want default %v", cfg.MeasuredP99, defaultMeasuredP99)
	}
}

func TestRetryPolicyDelayCapsAtMaxDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	for attempt := 0; attempt < 20; attempt++ {
		d := p.Delay(attempt)
		ceiling := p.MaxDelay + time.Duration(float64(p.MaxDelay)*p.JitterFactor) + time.Millisecond
		if d > ceiling {
			t.Fatalf("attempt %d: Delay = %v, exceeds ceiling %v", attempt, d, ceiling)
		}
	}
}

func TestRetryPolicyDelayGrowsExponentially(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Hour, JitterFactor: 0}
	d0 := p.Delay(0)
	d1 := p.Delay(1)
	d2 := p.Delay(2)
	if d0 != 100*time.Millisecond {
		t.Fatalf("Delay(0) = %v, want 100ms", d0)
	}
	if d1 != 200*time.Millisecond {
		t.Fatalf("Delay(1) = %v, want 200ms", d1)
	}
	if d2 != 400*time.Millisecond {
		t.Fatalf("Delay(2) = %v, want 400ms", d2)
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if id := CorrelationID(ctx); id != "" {
		t.Fatalf("CorrelationID on bare context = %q, want empty", id)
	}

	ctx2, id := EnsureCorrelationID(ctx)
	if id == "" {
		t.Fatal("EnsureCorrelationID produced empty id")
	}
	if got := CorrelationID(ctx2); got != id {
		t.Fatalf("CorrelationID after Ensure = %q, want %q", got, id)
	}

	ctx3, id2 := EnsureCorrelationID(ctx2)
	if id2 != id {
		t.Fatalf("EnsureCorrelationID replaced existing id: got %q, want %q", id2, id)
	}
	if ctx3 != ctx2 {
		t.Fatal("EnsureCorrelationID returned a new context when one already carried an id")
	}
}

func TestMetricsSessionStateGauge(t *testing.T) {
	m := NewMetrics()
	m.SetSessionState("10.0.0.5:4000", StateHandshaking)
	m.SetSessionState("10.0.0.6:4000", StateReady)
	m.SetSessionState("10.0.0.7:4000", StateReady)

	counts := m.SessionCounts()
	if counts[StateReady] != 2 {
		t.Fatalf("StateReady count = %d, want 2", counts[StateReady])
	}
	if counts[StateHandshaking] != 1 {
		t.Fatalf("StateHandshaking count = %d, want 1", counts[StateHandshaking])
	}

	m.SetSessionState("10.0.0.5:4000", StateClosed)
	counts = m.SessionCounts()
	if _, ok := counts[StateHandshaking]; ok {
		t.Fatal("closed session still present in gauge")
	}
}

func TestMetricsOutcomeAndReasonCounters(t *testing.T) {
	m := NewMetrics()
	m.PacketsSent.Record(true)
	m.PacketsSent.Record(true)
	m.PacketsSent.Record(false)
	success, failure := m.PacketsSent.Snapshot()
	if success != 2 || failure != 1 {
		t.Fatalf("PacketsSent snapshot = (%d, %d), want (2, 1)", success, failure)
	}

	m.Reconnects.Record("heartbeat_timeout")
	m.Reconnects.Record("heartbeat_timeout")
	m.Reconnects.Record("remote_close")
	reasons := m.Reconnects.Snapshot()
	if reasons["heartbeat_timeout"] != 2 {
		t.Fatalf("heartbeat_timeout reconnects = %d, want 2", reasons["heartbeat_timeout"])
	}
	if reasons["remote_close"] != 1 {
		t.Fatalf("remote_close reconnects = %d, want 1", reasons["remote_close"])
	}
}
