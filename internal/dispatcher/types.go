package dispatcher

import (
	"context"
	"time"

	"github.com/nerrad567/meshbridge-core/internal/registry"
	"github.com/nerrad567/meshbridge-core/internal/session"
	"github.com/nerrad567/meshbridge-core/internal/timing"
)

// Session is the subset of *session.Session the dispatcher needs. Defined
// here (the consumer) so the dispatcher can be tested against a fake
// without standing up a real TLS connection.
type Session interface {
	ID() string
	KnowsDevice(deviceID string) bool
	LastActivity() time.Time
	SendCommand(ctx context.Context, endpoint [5]byte, inner []byte, correlationID string) (session.SendResult, error)
}

// SessionProvider returns the currently tracked sessions as the
// dispatcher's own Session interface, so it can be faked in tests without
// standing up a real *session.Server.
type SessionProvider interface {
	Sessions() []Session
}

// serverProvider adapts *session.Server to SessionProvider. *session.Session
// already satisfies Session's method set; this only does the slice
// element-type conversion.
type serverProvider struct {
	srv *session.Server
}

// NewSessionProvider wraps srv so it can be passed as Config.Sessions.
func NewSessionProvider(srv *session.Server) SessionProvider {
	return serverProvider{srv: srv}
}

func (p serverProvider) Sessions() []Session {
	native := p.srv.Sessions()
	out := make([]Session, len(native))
	for i, s := range native {
		out[i] = s
	}
	return out
}

// Registry is the subset of *registry.Registry the dispatcher reads from
// to resolve targets and shape commands.
type Registry interface {
	GetDevice(deviceID string) (*registry.Device, error)
	GetGroup(groupID string) (*registry.Group, error)
	GroupsContaining(deviceID string) []string
}

// Logger is the structured logging interface the dispatcher logs through.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config supplies the Dispatcher's collaborators and tunables.
type Config struct {
	Sessions SessionProvider
	Registry Registry
	Metrics  *timing.Metrics
	Logger   Logger

	// Broadcasts is the number of redundant 0x73 copies issued per group
	// command to tolerate mesh loss (spec §4.2 Broadcasting for groups,
	// default CYNC_CMD_BROADCASTS=2). Application-level redundancy, not
	// the transport-level per-send retry session.SendCommand already does.
	Broadcasts int

	// BroadcastDelay spaces redundant copies (spec §4.4 default 0ms; the
	// device-side dedup cache absorbs repeats).
	BroadcastDelay time.Duration
}

// Dispatcher decides which session receives an outbound command and how
// it is shaped (spec §4.4). It holds no device or session state of its
// own — see doc.go.
type Dispatcher struct {
	sessions SessionProvider
	registry Registry
	metrics  *timing.Metrics
	logger   Logger

	broadcasts     int
	broadcastDelay time.Duration
}

// New constructs a Dispatcher with cfg's defaults applied.
func New(cfg Config) *Dispatcher {
	broadcasts := cfg.Broadcasts
	if broadcasts <= 0 {
		broadcasts = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		sessions:       cfg.Sessions,
		registry:       cfg.Registry,
		metrics:        cfg.Metrics,
		logger:         logger,
		broadcasts:     broadcasts,
		broadcastDelay: cfg.BroadcastDelay,
	}
}

// Result is the outcome of a dispatched command, spanning however many
// wire-level sends the shaping stage produced.
type Result struct {
	Success       bool
	CorrelationID string
	Attempts      int
	Reason        string
}
