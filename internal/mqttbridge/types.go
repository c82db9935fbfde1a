package mqttbridge

import (
	"context"
	"sync"

	"github.com/nerrad567/meshbridge-core/internal/dispatcher"
	infmqtt "github.com/nerrad567/meshbridge-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshbridge-core/internal/registry"
)

// Client is the subset of *infmqtt.Client the bridge needs, defined here
// (the consumer) so it can be faked in tests without a real broker
// connection (mirrors dispatcher.Session/registry.Store being
// consumer-defined interfaces, spec §9).
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler infmqtt.MessageHandler) error
	IsConnected() bool
}

// Registry is the subset of *registry.Registry the bridge reads from to
// build discovery documents and resolve command targets.
type Registry interface {
	GetDevice(deviceID string) (*registry.Device, error)
	GetGroup(groupID string) (*registry.Group, error)
	ListDevices() []registry.Device
	ListGroups() []registry.Group
	Aggregate(groupID string) (registry.GroupStatus, error)
	GroupsContaining(deviceID string) []string
}

// Dispatcher is the subset of *dispatcher.Dispatcher the bridge calls
// into to turn a parsed command into wire traffic. Defined locally so it
// can be faked in tests without standing up a real session server.
type Dispatcher interface {
	SendDeviceCommand(ctx context.Context, deviceID string, intent dispatcher.Intent, correlationID string) (dispatcher.Result, error)
	SendGroupCommand(ctx context.Context, groupID string, intent dispatcher.Intent, correlationID string) (dispatcher.Result, error)
}

// Logger is the structured logging interface the bridge logs through.
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

// Config supplies the Bridge's collaborators and tunables.
type Config struct {
	Client     Client
	Registry   Registry
	Dispatcher Dispatcher
	Logger     Logger

	// Topics builds the bridge's full topic tree (command/state/
	// availability/discovery), spec §6 "MQTT".
	Topics infmqtt.Topics

	// QoS is the default publish/subscribe QoS (spec §6, config-driven).
	QoS byte

	// MinKelvin/MaxKelvin bound the color-temperature conversion used
	// when translating MQTT's Kelvin color_temp into device scale
	// (spec §4.3, default 2000/7000).
	MinKelvin, MaxKelvin int
}

// Bridge is the single client to the external broker (spec §4.5). It
// publishes discovery documents and state, subscribes to commands, and
// implements registry.Notifier so the registry can push change events to
// it without a compile-time dependency in the other direction.
type Bridge struct {
	client     Client
	registry   Registry
	dispatcher Dispatcher
	logger     Logger
	topics     infmqtt.Topics
	qos        byte
	minKelvin  int
	maxKelvin  int

	// uniqueIDs maps a published entity's MQTT unique ID back to its
	// registry ID and kind, so an inbound command on that entity's
	// command topic resolves without re-parsing the topic string (spec
	// §4.5 "Topic parsing yields (target_type, id, extra)").
	mu        sync.RWMutex
	uniqueIDs map[string]entityRef

	// publish queue: one goroutine per device/group, spawned lazily,
	// that drains state-publish jobs in arrival order so MQTT sees
	// updates for a given entity in registry-update order even though
	// OnDeviceChanged may be called from different registry-writer
	// goroutines over the entity's lifetime (spec §5 "MQTT publishes for
	// a single device are emitted in Registry-update order, serialized
	// through the Bridge's per-device queue").
	queues   map[string]chan func()
	queuesMu sync.Mutex
}

type entityKind int

const (
	entityDevice entityKind = iota
	entityGroup
)

type entityRef struct {
	kind entityKind
	id   string // registry ID (home_id/cync_id or home_id/group_id)
}

// New constructs a Bridge with cfg's defaults applied.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	qos := cfg.QoS
	minK, maxK := cfg.MinKelvin, cfg.MaxKelvin
	if minK <= 0 {
		minK = 2000
	}
	if maxK <= minK {
		maxK = 7000
	}
	return &Bridge{
		client:     cfg.Client,
		registry:   cfg.Registry,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
		topics:     cfg.Topics,
		qos:        qos,
		minKelvin:  minK,
		maxKelvin:  maxK,
		uniqueIDs:  make(map[string]entityRef),
		queues:     make(map[string]chan func()),
	}
}

// Attach supplies the Registry and Dispatcher once they exist.
//
// Construction order forces this two-step wiring: the Registry takes the
// Bridge as its Notifier at construction (spec §9 "break the reference
// cycle"), so the Bridge itself cannot be handed a live Registry until
// after the Registry exists. Call Attach before Start.
func (b *Bridge) Attach(reg Registry, disp Dispatcher) {
	b.registry = reg
	b.dispatcher = disp
}

// enqueue schedules fn to run on entityID's serial publish queue,
// spawning a worker goroutine for it on first use.
func (b *Bridge) enqueue(entityID string, fn func()) {
	b.queuesMu.Lock()
	ch, ok := b.queues[entityID]
	if !ok {
		ch = make(chan func(), 32)
		b.queues[entityID] = ch
		go func() {
			for job := range ch {
				job()
			}
		}()
	}
	b.queuesMu.Unlock()

	select {
	case ch <- fn:
	default:
		// Queue saturated: run inline rather than drop the publish, at
		// the cost of this call briefly blocking the registry-notify
		// path. Saturation only happens under sustained, abnormal
		// publish storms for one entity.
		fn()
	}
}

func uniqueID(homeID, id string) string {
	return homeID + "-" + id
}
