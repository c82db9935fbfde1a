package session

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/meshbridge-core/internal/timing"
)

const defaultBlackholeDelay = 14750 * time.Millisecond // matches CYNC_TCP_BLACKHOLE_DELAY default

// ServerConfig supplies the device TLS endpoint's tunables and collaborators.
type ServerConfig struct {
	Addr           string
	TLSConfig      *tls.Config
	MaxConnections int // default 8 (CYNC_MAX_TCP_CONN)
	Allowlist      []string
	BlackholeDelay time.Duration

	Sink          DeviceSink
	Observer      Observer
	Metrics       *timing.Metrics
	Timeouts      timing.TimeoutConfig
	Retry         timing.RetryPolicy
	DedupTTL      time.Duration
	DedupCapacity int
	Logger        Logger
}

// Server accepts device TLS connections and hands each off to its own
// Session (spec §6 device TLS endpoint, §5 connection limits).
//
// The allowlist gates the raw TCP accept, before any TLS work happens
// (spec §3: "rejected before TLS"). Exceeding max_tcp_connections is
// handled differently: the connection completes its TLS handshake, is
// held open for BlackholeDelay, then closed (spec §5), so a probing
// reconnect attempt wastes the device's own retry budget instead of
// failing fast.
type Server struct {
	cfg       ServerConfig
	allowlist map[string]struct{}
	slots     chan struct{}
	logger    Logger

	mu       sync.RWMutex
	listener net.Listener
	sessions map[string]*Session
}

// NewServer constructs a Server with cfg's defaults applied.
func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 8
	}
	if cfg.BlackholeDelay <= 0 {
		cfg.BlackholeDelay = defaultBlackholeDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	var allow map[string]struct{}
	if len(cfg.Allowlist) > 0 {
		allow = make(map[string]struct{}, len(cfg.Allowlist))
		for _, addr := range cfg.Allowlist {
			allow[addr] = struct{}{}
		}
	}

	return &Server{
		cfg:       cfg,
		allowlist: allow,
		slots:     make(chan struct{}, cfg.MaxConnections),
		logger:    logger,
		sessions:  make(map[string]*Session),
	}
}

// ListenAndServe accepts connections until ctx is cancelled or the listener
// fails. Each accepted connection runs in its own goroutine and does not
// block the accept loop.
func (sv *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", sv.cfg.Addr)
	if err != nil {
		return err
	}

	sv.mu.Lock()
	sv.listener = ln
	sv.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go sv.handleConn(ctx, conn)
	}
}

func (sv *Server) handleConn(ctx context.Context, conn net.Conn) {
	if sv.allowlist != nil {
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		if _, ok := sv.allowlist[host]; !ok {
			sv.logger.Warn("rejecting non-allowlisted peer", "addr", conn.RemoteAddr().String())
			conn.Close()
			return
		}
	}

	select {
	case sv.slots <- struct{}{}:
		defer func() { <-sv.slots }()
	default:
		sv.blackhole(conn)
		return
	}

	tlsConn := tls.Server(conn, sv.cfg.TLSConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		sv.logger.Warn("tls handshake failed", "addr", conn.RemoteAddr().String(), "error", err)
		tlsConn.Close()
		return
	}

	sess, err := NewSession(Config{
		Conn:          tlsConn,
		Sink:          sv.cfg.Sink,
		Observer:      sv.cfg.Observer,
		Metrics:       sv.cfg.Metrics,
		Timeouts:      sv.cfg.Timeouts,
		Retry:         sv.cfg.Retry,
		DedupTTL:      sv.cfg.DedupTTL,
		DedupCapacity: sv.cfg.DedupCapacity,
		Logger:        sv.logger,
	})
	if err != nil {
		sv.logger.Error("session init failed", "error", err)
		tlsConn.Close()
		return
	}

	sv.register(sess)
	defer sv.unregister(sess)

	sess.Serve(ctx)
}

// blackhole completes the TLS handshake (so the device believes the
// connection succeeded) then holds the connection open for BlackholeDelay
// before closing it, without ever constructing a Session.
func (sv *Server) blackhole(conn net.Conn) {
	tlsConn := tls.Server(conn, sv.cfg.TLSConfig)
	_ = tlsConn.Handshake()
	sv.logger.Debug("blackholing connection at capacity", "addr", conn.RemoteAddr().String(), "delay", sv.cfg.BlackholeDelay)
	time.Sleep(sv.cfg.BlackholeDelay)
	tlsConn.Close()
}

func (sv *Server) register(s *Session) {
	sv.mu.Lock()
	sv.sessions[s.ID()] = s
	sv.mu.Unlock()
}

func (sv *Server) unregister(s *Session) {
	sv.mu.Lock()
	delete(sv.sessions, s.ID())
	sv.mu.Unlock()
}

// Sessions returns a snapshot of currently tracked sessions, consumed by
// the dispatcher's target-resolution pass.
func (sv *Server) Sessions() []*Session {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	out := make([]*Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		out = append(out, s)
	}
	return out
}

// Shutdown closes every tracked session with reason and stops the
// listener (spec §5 graceful shutdown steps 1-2).
func (sv *Server) Shutdown(reason string) {
	for _, s := range sv.Sessions() {
		s.Close(reason)
	}

	sv.mu.RLock()
	ln := sv.listener
	sv.mu.RUnlock()
	if ln != nil {
		ln.Close()
	}
}
