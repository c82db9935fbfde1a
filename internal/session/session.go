package session

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/meshbridge-core/internal/codec"
	"github.com/nerrad567/meshbridge-core/internal/timing"
)

const (
	readBufferSize      = 4096
	observerCallBudget  = 5 * time.Millisecond
	msgIDFieldLen       = 2
	defaultDedupTTL     = 2 * time.Second
	defaultDedupCap     = 512
)

var queueIDCounter atomic.Uint32

func assignQueueID() [3]byte {
	v := queueIDCounter.Add(1)
	var id [3]byte
	id[0] = byte(v >> 16)
	id[1] = byte(v >> 8)
	id[2] = byte(v)
	return id
}

// Config supplies a Session's collaborators and tunables.
type Config struct {
	Conn          net.Conn
	ID            string // defaults to Conn.RemoteAddr().String()
	Sink          DeviceSink
	Observer      Observer // optional
	Metrics       *timing.Metrics
	Timeouts      timing.TimeoutConfig
	Retry         timing.RetryPolicy
	DedupTTL      time.Duration
	DedupCapacity int
	Logger        Logger
}

// Session owns exactly one TLS connection from a device-mesh bridge
// (spec §3 Session / GLOSSARY).
type Session struct {
	id   string
	conn net.Conn

	framer *codec.Framer

	stateMu sync.RWMutex
	state   State

	queueID      [3]byte
	msgIDCounter atomic.Uint32

	knownMu      sync.RWMutex
	knownDevices map[string]struct{}

	lastActivity atomic.Int64 // unix nanoseconds

	pending *pendingTable
	dedup   *dedupCache

	sink     DeviceSink
	observer Observer
	metrics  *timing.Metrics
	timeouts timing.TimeoutConfig
	retry    timing.RetryPolicy
	logger   Logger

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSession constructs a Session ready to Serve. Conn and Sink are
// required.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Conn == nil {
		return nil, errors.New("session: nil connection")
	}
	if cfg.Sink == nil {
		return nil, errors.New("session: nil device sink")
	}

	id := cfg.ID
	if id == "" {
		id = cfg.Conn.RemoteAddr().String()
	}

	timeouts := cfg.Timeouts
	if timeouts == (timing.TimeoutConfig{}) {
		timeouts = timing.DefaultTimeoutConfig()
	}
	retry := cfg.Retry
	if retry == (timing.RetryPolicy{}) {
		retry = timing.DefaultRetryPolicy()
	}
	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	dedupCapacity := cfg.DedupCapacity
	if dedupCapacity <= 0 {
		dedupCapacity = defaultDedupCap
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	s := &Session{
		id:           id,
		conn:         cfg.Conn,
		framer:       codec.NewFramer(),
		state:        StateAccepted,
		queueID:      assignQueueID(),
		knownDevices: make(map[string]struct{}),
		pending:      newPendingTable(),
		dedup:        newDedupCache(ttl, dedupCapacity),
		sink:         cfg.Sink,
		observer:     cfg.Observer,
		metrics:      cfg.Metrics,
		timeouts:     timeouts,
		retry:        retry,
		logger:       logger,
		done:         make(chan struct{}),
	}
	s.lastActivity.Store(nowFunc().UnixNano())
	return s, nil
}

// ID returns the session's identifying address, used as its metrics and
// dedup-scope key.
func (s *Session) ID() string { return s.id }

// QueueID returns the session's assigned 3-byte queue identifier.
func (s *Session) QueueID() [3]byte { return s.queueID }

// LastActivity returns the timestamp of the most recently processed
// inbound packet of any kind (spec §4.2 heartbeat policy).
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// KnownDevices returns the device IDs this session currently carries.
func (s *Session) KnownDevices() []string {
	s.knownMu.RLock()
	defer s.knownMu.RUnlock()
	ids := make([]string, 0, len(s.knownDevices))
	for id := range s.knownDevices {
		ids = append(ids, id)
	}
	return ids
}

// KnowsDevice reports whether id is in this session's known-device set.
func (s *Session) KnowsDevice(id string) bool {
	s.knownMu.RLock()
	defer s.knownMu.RUnlock()
	_, ok := s.knownDevices[id]
	return ok
}

func (s *Session) addKnownDevice(id string) {
	s.knownMu.Lock()
	s.knownDevices[id] = struct{}{}
	s.knownMu.Unlock()
}

// Serve runs the session until its connection closes, ctx is cancelled, or
// Close is called. It blocks until teardown completes.
func (s *Session) Serve(ctx context.Context) {
	s.setState(StateAwaitingHandshake)
	if s.observer != nil {
		s.observer.OnConnectionEstablished(s.id)
	}

	s.wg.Add(1)
	go s.healthTicker()

	s.readLoop(ctx)

	s.Close(ErrConnectionClosed.Error())
	s.teardown()
}

func (s *Session) teardown() {
	s.wg.Wait()
	s.setState(StateClosed)
	if s.observer != nil {
		s.observer.OnConnectionClosed(s.id)
	}
}

// Close begins graceful teardown: it stops the reader, releases every
// pending-ACK waiter with reason, and drops the dedup cache by discarding
// the session (spec §3 invariant: closing destroys pending table and
// dedup cache atomically). Safe to call more than once and from any
// goroutine.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		close(s.done)
		s.conn.Close()
		s.pending.releaseAll(reason)
	})
}

func (s *Session) readLoop(ctx context.Context) {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		if err := s.conn.SetReadDeadline(nowFunc().Add(s.timeouts.HeartbeatTimeout)); err != nil {
			return
		}

		n, err := s.conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Debug("session read ended", "session", s.id, "error", err)
			return
		}

		for _, frame := range s.framer.Feed(buf[:n]) {
			s.handleFrame(ctx, frame)
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame []byte) {
	s.lastActivity.Store(nowFunc().UnixNano())
	s.notifyObserver(DirectionInbound, frame)

	pkt, err := codec.Decode(frame)
	if err != nil {
		if s.metrics != nil {
			s.metrics.DecodeErrors.Add(1)
		}
		var de *codec.DecodeError
		if errors.As(err, &de) {
			s.logger.Warn("decode error", "reason", de.Reason, "session", s.id)
		} else {
			s.logger.Warn("decode error", "error", err, "session", s.id)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.PacketsRecv.Record(true)
	}

	switch pkt.Kind {
	case codec.KindHandshake:
		s.handleHandshake(pkt)
	case codec.KindDeviceInfo:
		s.handleDeviceInfo(ctx, pkt)
	case codec.KindCommandAck:
		s.handleCommandAck(pkt)
	case codec.KindStatus:
		s.handleStatus(ctx, pkt)
	case codec.KindHeartbeat, codec.KindHeartbeatAlt:
		s.handleHeartbeat()
	default:
		s.logger.Debug("unhandled packet kind", "kind", pkt.Kind.String(), "session", s.id)
	}
}

// handleHandshake implements spec §4.2's 0x23 rule: always ack, but only
// advance to PROBING (and send the 0xA3 probe) the first time.
func (s *Session) handleHandshake(_ *codec.Packet) {
	first := s.setState(StateHandshaking)
	s.reply(codec.KindHandshakeAck, nil)

	if !first {
		return
	}
	if s.setState(StateProbing) {
		s.reply(codec.KindProbe, nil)
	}
	s.setState(StateReady)
}

func (s *Session) handleDeviceInfo(ctx context.Context, pkt *codec.Packet) {
	deviceID, err := s.sink.ObserveDeviceInfo(ctx, pkt.Payload)
	if err != nil {
		s.logger.Warn("observe device info failed", "error", err, "session", s.id)
	} else if deviceID != "" {
		s.addKnownDevice(deviceID)
	}
	s.reply(codec.KindInfoAck, nil)
}

func (s *Session) handleCommandAck(pkt *codec.Packet) {
	if len(pkt.Payload) < msgIDFieldLen {
		s.logger.Warn("command ack too short", "session", s.id)
		return
	}
	var msgID [2]byte
	copy(msgID[:], pkt.Payload[:msgIDFieldLen])

	if _, ok := s.pending.complete(msgID); ok {
		if s.metrics != nil {
			s.metrics.AckMatched.Add(1)
		}
		return
	}
	// Late ACK: the pending entry already timed out or was released.
	s.logger.Debug("unmatched command ack", "session", s.id)
}

func (s *Session) handleStatus(ctx context.Context, pkt *codec.Packet) {
	inner, err := pkt.InnerData()
	if err != nil {
		s.logger.Warn("status missing inner data", "session", s.id, "error", err)
		s.reply(codec.KindStatusAck, nil)
		return
	}

	if s.dedup.seen(pkt.Kind, pkt.Endpoint, pkt.MsgID, inner) {
		if s.metrics != nil {
			s.metrics.AckDuplicate.Add(1)
		}
		s.reply(codec.KindStatusAck, nil) // device must still see an ack
		return
	}

	deviceID, err := s.sink.ObserveStatus(ctx, pkt.Endpoint, inner)
	if err != nil {
		s.logger.Warn("observe status failed", "error", err, "session", s.id)
	} else if deviceID != "" {
		s.addKnownDevice(deviceID)
	}
	s.reply(codec.KindStatusAck, nil)
}

func (s *Session) handleHeartbeat() {
	s.reply(codec.KindHeartbeatAck, nil)
}

// SendCommand delivers inner as a framed COMMAND (0x73) to endpoint with
// at-most-once semantics: retry with backoff on ACK timeout, reusing the
// same msg_id, up to the configured max retries (spec §4.2 Outbound
// command flow).
func (s *Session) SendCommand(ctx context.Context, endpoint [5]byte, inner []byte, correlationID string) (SendResult, error) {
	if s.State() != StateReady {
		return SendResult{CorrelationID: correlationID}, ErrSessionClosed
	}

	msgID := s.nextMsgID()
	pc := s.pending.register(msgID, correlationID)

	for attempt := 0; ; attempt++ {
		frame, err := codec.EncodeCommand(endpoint, msgID, inner)
		if err != nil {
			s.pending.release(msgID, SendResult{})
			return SendResult{CorrelationID: correlationID}, err
		}

		if err := s.writeFrame(frame); err != nil {
			s.pending.release(msgID, SendResult{})
			return SendResult{CorrelationID: correlationID, Retries: attempt, Reason: err.Error()}, err
		}
		if s.metrics != nil {
			s.metrics.PacketsSent.Record(true)
		}

		select {
		case result := <-pc.done:
			return result, nil
		case <-ctx.Done():
			s.pending.release(msgID, SendResult{})
			return SendResult{CorrelationID: correlationID, Retries: attempt}, ctx.Err()
		case <-s.done:
			s.pending.release(msgID, SendResult{})
			return SendResult{CorrelationID: correlationID, Retries: attempt, Reason: ErrConnectionClosed.Error()}, ErrConnectionClosed
		case <-time.After(s.timeouts.AckTimeout):
		}

		if attempt >= s.retry.MaxRetries {
			s.pending.release(msgID, SendResult{})
			if s.metrics != nil {
				s.metrics.AckTimeout.Add(1)
			}
			return SendResult{CorrelationID: correlationID, Retries: attempt, Reason: ErrAckTimeout.Error()}, ErrAckTimeout
		}

		pc.retries = attempt + 1
		if s.metrics != nil {
			s.metrics.Retransmits.Add(1)
		}

		select {
		case <-time.After(s.retry.Delay(attempt)):
		case <-ctx.Done():
			s.pending.release(msgID, SendResult{})
			return SendResult{CorrelationID: correlationID, Retries: attempt}, ctx.Err()
		case <-s.done:
			s.pending.release(msgID, SendResult{})
			return SendResult{CorrelationID: correlationID, Retries: attempt, Reason: ErrConnectionClosed.Error()}, ErrConnectionClosed
		}
	}
}

func (s *Session) nextMsgID() [2]byte {
	v := s.msgIDCounter.Add(1)
	var id [2]byte
	binary.BigEndian.PutUint16(id[:], uint16(v))
	return id
}

func (s *Session) reply(kind codec.PacketKind, payload []byte) {
	frame, err := codec.Encode(kind, payload)
	if err != nil {
		s.logger.Error("encode reply failed", "kind", kind.String(), "error", err, "session", s.id)
		return
	}
	if err := s.writeFrame(frame); err != nil {
		s.logger.Debug("write reply failed", "kind", kind.String(), "error", err, "session", s.id)
		return
	}
	if s.metrics != nil {
		s.metrics.PacketsSent.Record(true)
	}
}

func (s *Session) writeFrame(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(nowFunc().Add(s.timeouts.AckTimeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(frame)
	if err == nil {
		s.notifyObserver(DirectionOutbound, frame)
	}
	return err
}

// notifyObserver invokes the observer seam synchronously from the Reader's
// viewpoint but bounded: a slow observer is logged and skipped rather than
// allowed to stall packet processing (spec §6 Observer seam).
func (s *Session) notifyObserver(direction Direction, data []byte) {
	if s.observer == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("observer panicked", "panic", r, "session", s.id)
			}
		}()
		s.observer.OnPacketReceived(direction, data, s.id)
	}()

	select {
	case <-done:
	case <-time.After(observerCallBudget):
		s.logger.Warn("observer slow, skipping", "session", s.id, "budget", observerCallBudget)
	}
}

func (s *Session) healthTicker() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.timeouts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkHealth()
		}
	}
}

func (s *Session) checkHealth() {
	state := s.State()
	if state == StateClosing || state == StateClosed {
		return
	}

	idle := nowFunc().Sub(s.LastActivity())

	if state == StateReady {
		if idle > s.timeouts.HeartbeatTimeout {
			s.logger.Warn("heartbeat timeout, closing session", "session", s.id, "idle", idle)
			s.Close(ErrConnectionClosed.Error())
		}
		return
	}

	if idle > s.timeouts.HandshakeTimeout {
		s.logger.Warn("handshake timeout, closing session", "session", s.id, "idle", idle)
		s.Close(ErrConnectionClosed.Error())
	}
}

func toMetricsState(s State) timing.ConnState {
	switch s {
	case StateAccepted:
		return timing.StateAccepted
	case StateAwaitingHandshake, StateHandshaking:
		return timing.StateHandshaking
	case StateProbing:
		return timing.StateProbing
	case StateReady:
		return timing.StateReady
	case StateClosing:
		return timing.StateClosing
	case StateClosed:
		return timing.StateClosed
	default:
		return timing.StateUnknown
	}
}
