package registry

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Logger is the structured logging interface the registry logs through.
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

// Notifier is the registry's consumer-defined output seam (mirroring
// session.Observer/DeviceSink, spec §9's "break the reference cycle"
// design note): the registry holds no reference to the MQTT bridge, only
// to this interface, which the bridge implements.
type Notifier interface {
	OnDeviceChanged(deviceID string)
	OnGroupChanged(groupID string)
	OnDeviceAdded(deviceID string)
	OnGroupAdded(groupID string)
}

// NoopNotifier implements Notifier with no-ops, used where no bridge is
// wired (tests, standalone session testing).
type NoopNotifier struct{}

func (NoopNotifier) OnDeviceChanged(string) {}
func (NoopNotifier) OnGroupChanged(string)  {}
func (NoopNotifier) OnDeviceAdded(string)   {}
func (NoopNotifier) OnGroupAdded(string)    {}

// Store persists devices and groups so the registry survives a restart
// without depending on the wire protocol to rediscover them (spec §6:
// the YAML config stays authoritative on boot; this is a runtime cache
// and state-history sink, not a second config source).
type Store interface {
	LoadDevices(ctx context.Context) ([]Device, error)
	LoadGroups(ctx context.Context) ([]Group, error)
	SaveDevice(ctx context.Context, d *Device) error
	SaveGroup(ctx context.Context, g *Group) error
	RecordStatusHistory(ctx context.Context, deviceID string, status Status, at time.Time) error
}

// Registry is the single-writer, in-memory authority for every device and
// group (spec §4.3). All mutation goes through its methods; readers get
// deep-copied snapshots so the cache can never be mutated from outside.
type Registry struct {
	mu           sync.RWMutex
	devices      map[string]*Device // keyed by Device.ID()
	groups       map[string]*Group  // keyed by Group.ID()
	macIndex     map[string]string  // MAC (lowercase hex, no separators) -> device ID
	addressIndex map[string]string  // mesh endpoint (hex) -> device ID

	store    Store
	notifier Notifier
	logger   Logger

	minKelvin, maxKelvin int
}

// Config configures a new Registry.
type Config struct {
	Store    Store
	Notifier Notifier
	Logger   Logger

	// MinKelvin/MaxKelvin bound the color-temperature conversion range
	// (spec §4.3 default 2000K/7000K).
	MinKelvin int
	MaxKelvin int
}

// New creates a Registry. Call LoadFromStore to populate it from
// persisted state before serving traffic.
func New(cfg Config) *Registry {
	r := &Registry{
		devices:      make(map[string]*Device),
		groups:       make(map[string]*Group),
		macIndex:     make(map[string]string),
		addressIndex: make(map[string]string),
		store:        cfg.Store,
		notifier:     cfg.Notifier,
		logger:       cfg.Logger,
		minKelvin:    cfg.MinKelvin,
		maxKelvin:    cfg.MaxKelvin,
	}
	if r.notifier == nil {
		r.notifier = NoopNotifier{}
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r
}

// LoadFromStore repopulates the in-memory cache from the backing store.
// Should be called once at startup, after config-declared devices/groups
// have already been upserted.
func (r *Registry) LoadFromStore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	devices, err := r.store.LoadDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading devices from store: %w", err)
	}
	groups, err := r.store.LoadGroups(ctx)
	if err != nil {
		return fmt.Errorf("loading groups from store: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range devices {
		d := devices[i]
		resolveAddress(&d)
		r.devices[d.ID()] = d.DeepCopy()
		r.indexDeviceLocked(&d)
	}
	for i := range groups {
		g := groups[i]
		r.groups[g.ID()] = g.DeepCopy()
	}
	r.logger.Info("registry loaded from store", "devices", len(devices), "groups", len(groups))
	return nil
}

// UpsertDevice creates or merges a device record (spec §4.3).
func (r *Registry) UpsertDevice(ctx context.Context, homeID, cyncID string, attrs DeviceAttrs) (*Device, error) {
	id := DeviceID(homeID, cyncID)

	r.mu.Lock()
	existing, ok := r.devices[id]
	var d *Device
	if ok {
		d = existing.DeepCopy()
		mergeDeviceAttrs(d, attrs)
	} else {
		d = &Device{
			HomeID:          homeID,
			CyncID:          cyncID,
			Name:            attrs.Name,
			TypeCode:        attrs.TypeCode,
			Capabilities:    attrs.Capabilities,
			MAC:             attrs.MAC,
			FirmwareVersion: attrs.FirmwareVersion,
			Address:         attrs.Address,
			Status:          Status{OfflineCount: 0},
		}
	}
	resolveAddress(d)
	d.UpdatedAt = nowFunc()
	r.devices[id] = d.DeepCopy()
	r.indexDeviceLocked(d)
	r.mu.Unlock()

	if err := r.persistDevice(ctx, d); err != nil {
		return nil, err
	}

	if ok {
		r.notifier.OnDeviceChanged(id)
	} else {
		r.notifier.OnDeviceAdded(id)
	}
	return d.DeepCopy(), nil
}

func mergeDeviceAttrs(d *Device, attrs DeviceAttrs) {
	if attrs.Name != "" {
		d.Name = attrs.Name
	}
	if attrs.TypeCode != 0 {
		d.TypeCode = attrs.TypeCode
	}
	if attrs.Capabilities != nil {
		d.Capabilities = attrs.Capabilities
	}
	if attrs.MAC != "" {
		d.MAC = attrs.MAC
	}
	if attrs.FirmwareVersion != "" {
		d.FirmwareVersion = attrs.FirmwareVersion
	}
	if attrs.Address != zeroAddress {
		d.Address = attrs.Address
	}
}

// zeroAddress is the unset value for Device.Address; it is also the
// reserved group-broadcast endpoint (dispatcher.broadcastEndpoint), so a
// real device's Address must never be left at this value once its MAC is
// known.
var zeroAddress [5]byte

// resolveAddress derives d.Address from d.MAC when no explicit endpoint
// has been recorded yet. Every device's wire endpoint is its MAC's first
// 5 bytes (spec §4.2/§4.3: the endpoint identifies the device on framed
// COMMAND/STATUS traffic; MACs only appear in the unframed DEVICE_INFO
// announcement, so this is the only place that links the two).
func resolveAddress(d *Device) {
	if d.Address != zeroAddress {
		return
	}
	if addr, ok := macToAddress(d.MAC); ok {
		d.Address = addr
	}
}

// macToAddress converts a MAC address string to the 5-byte wire endpoint
// derived from it (its first 5 bytes), or ok=false if mac does not parse
// to at least 5 bytes.
func macToAddress(mac string) (addr [5]byte, ok bool) {
	norm := normalizeMAC(mac)
	if len(norm) < 10 {
		return addr, false
	}
	raw, err := hex.DecodeString(norm[:10])
	if err != nil {
		return addr, false
	}
	copy(addr[:], raw)
	return addr, true
}

// indexDeviceLocked updates macIndex/addressIndex for d. Callers must
// hold r.mu for writing.
func (r *Registry) indexDeviceLocked(d *Device) {
	if d.MAC != "" {
		r.macIndex[normalizeMAC(d.MAC)] = d.ID()
	}
	if d.Address != zeroAddress {
		r.addressIndex[hex.EncodeToString(d.Address[:])] = d.ID()
	}
}

// UpsertGroup creates or merges a group record.
func (r *Registry) UpsertGroup(ctx context.Context, homeID, groupID string, attrs GroupAttrs) (*Group, error) {
	id := GroupID(homeID, groupID)

	r.mu.Lock()
	existing, ok := r.groups[id]
	var g *Group
	if ok {
		g = existing.DeepCopy()
		if attrs.Name != "" {
			g.Name = attrs.Name
		}
		if attrs.MemberIDs != nil {
			g.MemberIDs = attrs.MemberIDs
		}
	} else {
		g = &Group{HomeID: homeID, GroupID: groupID, Name: attrs.Name, MemberIDs: attrs.MemberIDs}
	}
	g.UpdatedAt = nowFunc()
	r.groups[id] = g.DeepCopy()
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveGroup(ctx, g); err != nil {
			return nil, fmt.Errorf("persisting group: %w", err)
		}
	}

	if ok {
		r.notifier.OnGroupChanged(id)
	} else {
		r.notifier.OnGroupAdded(id)
	}
	return g.DeepCopy(), nil
}

// UpdateStatus validates and applies a status delta (spec §4.3). Invalid
// values are rejected wholesale: the caller is expected to log and drop,
// per spec's "rejects out-of-range values (log + drop)".
func (r *Registry) UpdateStatus(ctx context.Context, deviceID string, delta StatusDelta) error {
	if err := validateDelta(delta); err != nil {
		return err
	}

	r.mu.Lock()
	existing, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	d := existing.DeepCopy()
	applyDelta(&d.Status, delta)
	d.UpdatedAt = nowFunc()
	r.devices[deviceID] = d.DeepCopy()
	r.mu.Unlock()

	if err := r.persistDevice(ctx, d); err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.RecordStatusHistory(ctx, deviceID, d.Status, d.UpdatedAt); err != nil {
			r.logger.Warn("recording status history failed", "device_id", deviceID, "err", err)
		}
	}

	r.notifier.OnDeviceChanged(deviceID)
	return nil
}

func applyDelta(s *Status, delta StatusDelta) {
	if delta.State != nil {
		s.State = *delta.State
	}
	if delta.Brightness != nil {
		s.Brightness = delta.Brightness
	}
	if delta.Temperature != nil {
		s.Temperature = delta.Temperature
	}
	if delta.Red != nil {
		s.Red = delta.Red
	}
	if delta.Green != nil {
		s.Green = delta.Green
	}
	if delta.Blue != nil {
		s.Blue = delta.Blue
	}
}

// MarkOffline toggles a device offline, resetting offline_count to 0
// (spec §4.3: "offline resets offline_count" — this bridge treats the
// reset as happening at the moment a device is confirmed down, so the
// counter tracks consecutive heartbeat misses since the last transition).
func (r *Registry) MarkOffline(ctx context.Context, deviceID string) error {
	return r.setOnline(ctx, deviceID, false)
}

// MarkOnline toggles a device online.
func (r *Registry) MarkOnline(ctx context.Context, deviceID string) error {
	return r.setOnline(ctx, deviceID, true)
}

func (r *Registry) setOnline(ctx context.Context, deviceID string, online bool) error {
	r.mu.Lock()
	existing, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	d := existing.DeepCopy()
	wasOnline := d.Status.Online
	d.Status.Online = online
	if !online && wasOnline {
		d.Status.OfflineCount = 0
	} else if !online {
		d.Status.OfflineCount++
	}
	d.UpdatedAt = nowFunc()
	r.devices[deviceID] = d.DeepCopy()
	r.mu.Unlock()

	if err := r.persistDevice(ctx, d); err != nil {
		return err
	}
	r.notifier.OnDeviceChanged(deviceID)
	return nil
}

// Aggregate returns a group's derived status (spec §4.3).
func (r *Registry) Aggregate(groupID string) (GroupStatus, error) {
	r.mu.RLock()
	g, ok := r.groups[groupID]
	if !ok {
		r.mu.RUnlock()
		return GroupStatus{}, ErrGroupNotFound
	}
	members := make([]Device, 0, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		if d, ok := r.devices[id]; ok {
			members = append(members, *d.DeepCopy())
		}
	}
	r.mu.RUnlock()

	return Aggregate(members), nil
}

// GetDevice returns a deep copy of the named device.
func (r *Registry) GetDevice(deviceID string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// GetGroup returns a deep copy of the named group.
func (r *Registry) GetGroup(groupID string) (*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g.DeepCopy(), nil
}

// ListDevices returns deep copies of every known device.
func (r *Registry) ListDevices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d.DeepCopy())
	}
	return out
}

// ListGroups returns deep copies of every known group.
func (r *Registry) ListGroups() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, *g.DeepCopy())
	}
	return out
}

// GroupsContaining returns the IDs of every group that lists deviceID as
// a member, used by the MQTT bridge to refresh group state whenever a
// member's status changes.
func (r *Registry) GroupsContaining(deviceID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, g := range r.groups {
		for _, member := range g.MemberIDs {
			if member == deviceID {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

func (r *Registry) persistDevice(ctx context.Context, d *Device) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveDevice(ctx, d); err != nil {
		return fmt.Errorf("persisting device: %w", err)
	}
	return nil
}

// ObserveDeviceInfo implements session.DeviceSink. It resolves an inbound
// DEVICE_INFO (0x43) announcement to a known device by MAC address,
// records it online, and returns the device's stable ID so the session
// can add it to its known-device set.
//
// DEVICE_INFO's payload layout is not specified beyond "device announces
// self" (spec §4.1); like the probe body (spec §9(a)), no captured
// fixture exists to pin the exact structure. This parses the first 6
// bytes as the device MAC and the following 2 bytes as a big-endian
// cync_id, the same convention used for the framed endpoint/msgID fields
// elsewhere in the codec.
func (r *Registry) ObserveDeviceInfo(ctx context.Context, payload []byte) (string, error) {
	mac, cyncID, err := parseDeviceInfo(payload)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	deviceID, ok := r.macIndex[mac]
	r.mu.RUnlock()

	if !ok {
		// Spec §4.2: an announcement from a device with no configured
		// record still updates known_device_ids and gets a minimal
		// record, rather than being dropped.
		r.logger.Warn("device_info from unconfigured device, creating minimal record", "mac", mac, "cync_id", cyncID)
		d, err := r.UpsertDevice(ctx, unknownHomeID, mac, DeviceAttrs{MAC: mac})
		if err != nil {
			return "", err
		}
		deviceID = d.ID()
	}

	if err := r.MarkOnline(ctx, deviceID); err != nil {
		return "", err
	}
	return deviceID, nil
}

// unknownHomeID groups minimal device records created from broadcasts
// that reference no configured device (spec §4.2).
const unknownHomeID = "unknown"

const deviceInfoMinLength = 8

func parseDeviceInfo(payload []byte) (mac string, cyncID uint16, err error) {
	if len(payload) < deviceInfoMinLength {
		return "", 0, fmt.Errorf("registry: device_info payload too short (%d bytes)", len(payload))
	}
	mac = hex.EncodeToString(payload[:6])
	cyncID = binary.BigEndian.Uint16(payload[6:8])
	return mac, cyncID, nil
}

// normalizeMAC reduces a human-entered MAC address ("AA:BB:CC:DD:EE:FF",
// "aa-bb-cc-dd-ee-ff", or already-bare "aabbccddeeff") to the same bare
// lowercase hex form produced by hex.EncodeToString on raw wire bytes, so
// config-supplied MACs and wire-observed endpoints compare equal.
func normalizeMAC(mac string) string {
	var b strings.Builder
	for _, r := range mac {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
			b.WriteRune(r)
		case r >= 'A' && r <= 'F':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

// ObserveStatus implements session.DeviceSink. It resolves an inbound
// STATUS (0x83) packet's endpoint to a known device via addressIndex
// (keyed by the device's wire endpoint, not its MAC — see resolveAddress)
// and applies the decoded inner payload as a status delta.
//
// The inner STATUS payload's field layout for on/off, brightness,
// temperature and rgb is likewise empirical and undocumented in the
// source material; this bridge reads it as:
// [0]=state [1]=brightness [2]=temperature [3]=red [4]=green [5]=blue,
// matching the order those fields are listed throughout spec §3/§4.3.
func (r *Registry) ObserveStatus(ctx context.Context, endpoint [5]byte, inner []byte) (string, error) {
	addrKey := hex.EncodeToString(endpoint[:])

	r.mu.RLock()
	deviceID, ok := r.addressIndex[addrKey]
	r.mu.RUnlock()

	if !ok {
		// Spec §4.2: "Broadcasts referencing unknown device IDs update
		// known_device_ids and create a minimal device record."
		r.logger.Warn("status from unconfigured endpoint, creating minimal record", "endpoint", addrKey)
		d, err := r.UpsertDevice(ctx, unknownHomeID, addrKey, DeviceAttrs{Address: endpoint})
		if err != nil {
			return "", err
		}
		deviceID = d.ID()
	}

	delta, err := decodeStatusPayload(inner)
	if err != nil {
		return "", err
	}
	if err := r.UpdateStatus(ctx, deviceID, delta); err != nil {
		return "", err
	}
	return deviceID, nil
}

const statusPayloadMinLength = 6

func decodeStatusPayload(inner []byte) (StatusDelta, error) {
	if len(inner) < statusPayloadMinLength {
		return StatusDelta{}, fmt.Errorf("registry: status payload too short (%d bytes)", len(inner))
	}
	state := int(inner[0])
	brightness := int(inner[1])
	temperature := int(inner[2])
	red := int(inner[3])
	green := int(inner[4])
	blue := int(inner[5])
	return StatusDelta{
		State:       &state,
		Brightness:  &brightness,
		Temperature: &temperature,
		Red:         &red,
		Green:       &green,
		Blue:        &blue,
	}, nil
}

// nowFunc exists so tests can substitute a deterministic clock.
var nowFunc = time.Now
