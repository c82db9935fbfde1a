package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/meshbridge-core/internal/registry"
	"github.com/nerrad567/meshbridge-core/internal/session"
	"github.com/nerrad567/meshbridge-core/internal/timing"
)

type fakeSession struct {
	id       string
	known    map[string]bool
	lastSeen time.Time

	sendErr    error
	sendResult session.SendResult
	sent       [][]byte
	endpoints  [][5]byte
}

func (f *fakeSession) ID() string                { return f.id }
func (f *fakeSession) KnowsDevice(id string) bool { return f.known[id] }
func (f *fakeSession) LastActivity() time.Time    { return f.lastSeen }
func (f *fakeSession) SendCommand(ctx context.Context, endpoint [5]byte, inner []byte, correlationID string) (session.SendResult, error) {
	f.sent = append(f.sent, append([]byte(nil), inner...))
	f.endpoints = append(f.endpoints, endpoint)
	if f.sendErr != nil {
		return session.SendResult{}, f.sendErr
	}
	if (f.sendResult != session.SendResult{}) {
		return f.sendResult, nil
	}
	return session.SendResult{Success: true, CorrelationID: correlationID}, nil
}

type fakeProvider struct {
	sessions []*fakeSession
}

func (p *fakeProvider) Sessions() []Session {
	out := make([]Session, len(p.sessions))
	for i, s := range p.sessions {
		out[i] = s
	}
	return out
}

// fakeRegistry implements dispatcher.Registry directly so tests don't need
// a live *registry.Registry with its Store/Notifier dependencies.
type fakeRegistry struct {
	devices map[string]*registry.Device
	groups  map[string]*registry.Group
}

func (r *fakeRegistry) GetDevice(id string) (*registry.Device, error) {
	d, ok := r.devices[id]
	if !ok {
		return nil, registry.ErrDeviceNotFound
	}
	cpy := *d
	return &cpy, nil
}

func (r *fakeRegistry) GetGroup(id string) (*registry.Group, error) {
	g, ok := r.groups[id]
	if !ok {
		return nil, registry.ErrGroupNotFound
	}
	cpy := *g
	return &cpy, nil
}

func (r *fakeRegistry) GroupsContaining(deviceID string) []string {
	var out []string
	for id, g := range r.groups {
		for _, m := range g.MemberIDs {
			if m == deviceID {
				out = append(out, id)
			}
		}
	}
	return out
}

func newTestDispatcher(sessions []*fakeSession, reg *fakeRegistry) *Dispatcher {
	return New(Config{
		Sessions:       &fakeProvider{sessions: sessions},
		Registry:       reg,
		Metrics:        timing.NewMetrics(),
		Broadcasts:     2,
		BroadcastDelay: 0,
	})
}

func TestSendDeviceCommand_NoBridge(t *testing.T) {
	reg := &fakeRegistry{
		devices: map[string]*registry.Device{
			"home1/dev1": {HomeID: "home1", CyncID: "dev1", Capabilities: []registry.Capability{registry.CapabilityOnOff}},
		},
	}
	d := newTestDispatcher(nil, reg)
	_, err := d.SendDeviceCommand(context.Background(), "home1/dev1", Intent{Name: "set_power", Power: 1}, "corr-1")
	if err == nil {
		t.Fatal("expected ErrNoBridgeAvailable when no session knows the device")
	}
}

func TestSendDeviceCommand_UnsupportedCapability(t *testing.T) {
	reg := &fakeRegistry{
		devices: map[string]*registry.Device{
			"home1/dev1": {HomeID: "home1", CyncID: "dev1", Capabilities: []registry.Capability{registry.CapabilityOnOff}},
		},
	}
	sess := &fakeSession{id: "s1", known: map[string]bool{"home1/dev1": true}, lastSeen: time.Now()}
	d := newTestDispatcher([]*fakeSession{sess}, reg)

	_, err := d.SendDeviceCommand(context.Background(), "home1/dev1", Intent{Name: "set_rgb"}, "corr-2")
	if err != ErrUnsupportedCapability {
		t.Fatalf("expected ErrUnsupportedCapability, got %v", err)
	}
}

func TestSendDeviceCommand_Success(t *testing.T) {
	addr := [5]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee}
	reg := &fakeRegistry{
		devices: map[string]*registry.Device{
			"home1/dev1": {HomeID: "home1", CyncID: "dev1", Address: addr, Capabilities: []registry.Capability{registry.CapabilityBrightness}},
		},
	}
	sess := &fakeSession{id: "s1", known: map[string]bool{"home1/dev1": true}, lastSeen: time.Now()}
	d := newTestDispatcher([]*fakeSession{sess}, reg)

	result, err := d.SendDeviceCommand(context.Background(), "home1/dev1", Intent{Name: "set_brightness", Brightness: 50}, "corr-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}
	if len(sess.sent) != 1 {
		t.Fatalf("expected 1 payload sent, got %d", len(sess.sent))
	}
	if sess.sent[0][0] != opSetBrightness || sess.sent[0][1] != 50 {
		t.Fatalf("unexpected payload: %v", sess.sent[0])
	}
	if sess.endpoints[0] != addr {
		t.Fatalf("endpoint = %v, want device address %v", sess.endpoints[0], addr)
	}
}

// TestSendDeviceCommand_UsesDeviceAddressNotBroadcast pins the bug where a
// device with no recorded Address would be sent commands on the all-zero
// endpoint, making it indistinguishable on the wire from a group broadcast
// (broadcastEndpoint in dispatch.go).
func TestSendDeviceCommand_UsesDeviceAddressNotBroadcast(t *testing.T) {
	addr := [5]byte{0x11, 0x22, 0x33, 0x44, 0x55}
	reg := &fakeRegistry{
		devices: map[string]*registry.Device{
			"home1/dev1": {HomeID: "home1", CyncID: "dev1", Address: addr, Capabilities: []registry.Capability{registry.CapabilityOnOff}},
		},
	}
	sess := &fakeSession{id: "s1", known: map[string]bool{"home1/dev1": true}, lastSeen: time.Now()}
	d := newTestDispatcher([]*fakeSession{sess}, reg)

	if _, err := d.SendDeviceCommand(context.Background(), "home1/dev1", Intent{Name: "set_power", Power: 1}, "corr-addr"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sess.endpoints) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sess.endpoints))
	}
	if sess.endpoints[0] == broadcastEndpoint {
		t.Fatal("individual device command must not use the group broadcast endpoint")
	}
	if sess.endpoints[0] != addr {
		t.Fatalf("endpoint = %v, want device address %v", sess.endpoints[0], addr)
	}
}

func TestSendDeviceCommand_PicksMostRecentlyActive(t *testing.T) {
	reg := &fakeRegistry{
		devices: map[string]*registry.Device{
			"home1/dev1": {HomeID: "home1", CyncID: "dev1", Capabilities: []registry.Capability{registry.CapabilityOnOff}},
		},
	}
	stale := &fakeSession{id: "stale", known: map[string]bool{"home1/dev1": true}, lastSeen: time.Now().Add(-time.Minute)}
	fresh := &fakeSession{id: "fresh", known: map[string]bool{"home1/dev1": true}, lastSeen: time.Now()}
	d := newTestDispatcher([]*fakeSession{stale, fresh}, reg)

	_, err := d.SendDeviceCommand(context.Background(), "home1/dev1", Intent{Name: "set_power", Power: 1}, "corr-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fresh.sent) != 1 {
		t.Fatalf("expected the fresh session to receive the command, got %d sends", len(fresh.sent))
	}
	if len(stale.sent) != 0 {
		t.Fatalf("expected the stale session to be skipped, got %d sends", len(stale.sent))
	}
}

func TestSendGroupCommand_BroadcastsToPreferredSession(t *testing.T) {
	reg := &fakeRegistry{
		groups: map[string]*registry.Group{
			"home1/grp1": {HomeID: "home1", GroupID: "grp1", MemberIDs: []string{"home1/dev1", "home1/dev2"}},
		},
	}
	sessA := &fakeSession{id: "a", known: map[string]bool{"home1/dev1": true}, lastSeen: time.Now()}
	sessB := &fakeSession{id: "b", known: map[string]bool{"home1/dev1": true, "home1/dev2": true}, lastSeen: time.Now()}
	d := newTestDispatcher([]*fakeSession{sessA, sessB}, reg)

	result, err := d.SendGroupCommand(context.Background(), "home1/grp1", Intent{Name: "set_power", Power: 1}, "corr-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}
	if len(sessB.sent) != d.broadcasts {
		t.Fatalf("expected %d broadcast copies on the session knowing both members, got %d", d.broadcasts, len(sessB.sent))
	}
	if len(sessA.sent) != 0 {
		t.Fatalf("expected the lesser-coverage session to receive nothing, got %d", len(sessA.sent))
	}
}

func TestSendGroupCommand_NoMembersOnline(t *testing.T) {
	reg := &fakeRegistry{
		groups: map[string]*registry.Group{
			"home1/grp1": {HomeID: "home1", GroupID: "grp1", MemberIDs: []string{"home1/dev1"}},
		},
	}
	d := newTestDispatcher(nil, reg)
	_, err := d.SendGroupCommand(context.Background(), "home1/grp1", Intent{Name: "set_power", Power: 1}, "corr-6")
	if err == nil {
		t.Fatal("expected ErrNoBridgeAvailable")
	}
}

func TestShapePreset_Unknown(t *testing.T) {
	_, err := shapePreset([]registry.Capability{registry.CapabilityColorTemp}, "nonexistent")
	if err != ErrUnknownIntent {
		t.Fatalf("expected ErrUnknownIntent, got %v", err)
	}
}
