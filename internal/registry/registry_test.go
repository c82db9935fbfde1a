package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	devices map[string]Device
	groups  map[string]Group
	history int
}

func newFakeStore() *fakeStore {
	return &fakeStore{devices: make(map[string]Device), groups: make(map[string]Group)}
}

func (s *fakeStore) LoadDevices(ctx context.Context) ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out, nil
}

func (s *fakeStore) LoadGroups(ctx context.Context) ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out, nil
}

func (s *fakeStore) SaveDevice(ctx context.Context, d *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID()] = *d.DeepCopy()
	return nil
}

func (s *fakeStore) SaveGroup(ctx context.Context, g *Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID()] = *g.DeepCopy()
	return nil
}

func (s *fakeStore) RecordStatusHistory(ctx context.Context, deviceID string, status Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history++
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	changed []string
	added   []string
}

func (n *fakeNotifier) OnDeviceChanged(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, id)
}
func (n *fakeNotifier) OnGroupChanged(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, id)
}
func (n *fakeNotifier) OnDeviceAdded(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.added = append(n.added, id)
}
func (n *fakeNotifier) OnGroupAdded(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.added = append(n.added, id)
}

func newTestRegistry() (*Registry, *fakeStore, *fakeNotifier) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	r := New(Config{Store: store, Notifier: notifier})
	return r, store, notifier
}

func TestUpsertDeviceCreatesThenMerges(t *testing.T) {
	r, _, notifier := newTestRegistry()
	ctx := context.Background()

	d, err := r.UpsertDevice(ctx, "home1", "1001", DeviceAttrs{Name: "Lamp", MAC: "aabbccddeeff"})
	if err != nil {
		t.Fatalf("UpsertDevice() error: %v", err)
	}
	if d.ID() != "home1/1001" {
		t.Fatalf("ID() = %q, want home1/1001", d.ID())
	}

	d2, err := r.UpsertDevice(ctx, "home1", "1001", DeviceAttrs{FirmwareVersion: "2.0"})
	if err != nil {
		t.Fatalf("second UpsertDevice() error: %v", err)
	}
	if d2.Name != "Lamp" {
		t.Fatalf("merge dropped existing Name, got %q", d2.Name)
	}
	if d2.FirmwareVersion != "2.0" {
		t.Fatalf("FirmwareVersion = %q, want 2.0", d2.FirmwareVersion)
	}

	if len(notifier.added) != 1 {
		t.Fatalf("OnDeviceAdded called %d times, want 1", len(notifier.added))
	}
	if len(notifier.changed) != 1 {
		t.Fatalf("OnDeviceChanged called %d times, want 1", len(notifier.changed))
	}
}

func TestGetDeviceReturnsIndependentCopy(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()
	r.UpsertDevice(ctx, "home1", "1001", DeviceAttrs{Name: "Lamp"})

	d, err := r.GetDevice("home1/1001")
	if err != nil {
		t.Fatalf("GetDevice() error: %v", err)
	}
	d.Name = "Mutated"

	d2, _ := r.GetDevice("home1/1001")
	if d2.Name != "Lamp" {
		t.Fatalf("mutating the returned copy affected the cache: %q", d2.Name)
	}
}

func TestUpdateStatusRejectsOutOfRangeAndLeavesStateUnchanged(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()
	r.UpsertDevice(ctx, "home1", "1001", DeviceAttrs{Name: "Lamp"})

	bad := 500
	err := r.UpdateStatus(ctx, "home1/1001", StatusDelta{Brightness: &bad})
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}

	d, _ := r.GetDevice("home1/1001")
	if d.Status.Brightness != nil {
		t.Fatalf("Brightness = %v, want nil after rejected update", d.Status.Brightness)
	}
}

func TestUpdateStatusUnknownDevice(t *testing.T) {
	r, _, _ := newTestRegistry()
	state := 1
	err := r.UpdateStatus(context.Background(), "home1/missing", StatusDelta{State: &state})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", err)
	}
}

func TestMarkOfflineResetsOfflineCountOnTransition(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()
	r.UpsertDevice(ctx, "home1", "1001", DeviceAttrs{Name: "Lamp"})
	r.MarkOnline(ctx, "home1/1001")

	r.MarkOffline(ctx, "home1/1001")
	d, _ := r.GetDevice("home1/1001")
	if d.Status.Online {
		t.Fatal("expected Online=false after MarkOffline")
	}
	if d.Status.OfflineCount != 0 {
		t.Fatalf("OfflineCount = %d, want 0 on first offline transition", d.Status.OfflineCount)
	}

	r.MarkOffline(ctx, "home1/1001")
	d, _ = r.GetDevice("home1/1001")
	if d.Status.OfflineCount != 1 {
		t.Fatalf("OfflineCount = %d, want 1 after a second consecutive offline mark", d.Status.OfflineCount)
	}
}

func TestUpsertGroupAndAggregate(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()
	r.UpsertDevice(ctx, "home1", "1001", DeviceAttrs{Name: "Lamp1"})
	r.UpsertDevice(ctx, "home1", "1002", DeviceAttrs{Name: "Lamp2"})
	r.MarkOnline(ctx, "home1/1001")
	r.MarkOnline(ctx, "home1/1002")
	state1 := 1
	r.UpdateStatus(ctx, "home1/1001", StatusDelta{State: &state1})

	_, err := r.UpsertGroup(ctx, "home1", "g1", GroupAttrs{Name: "Living room", MemberIDs: []string{"home1/1001", "home1/1002"}})
	if err != nil {
		t.Fatalf("UpsertGroup() error: %v", err)
	}

	agg, err := r.Aggregate("home1/g1")
	if err != nil {
		t.Fatalf("Aggregate() error: %v", err)
	}
	if !agg.Available {
		t.Fatal("expected Available=true")
	}
	if agg.State != 1 {
		t.Fatalf("State = %d, want 1", agg.State)
	}
}

func TestAggregateUnknownGroup(t *testing.T) {
	r, _, _ := newTestRegistry()
	if _, err := r.Aggregate("home1/missing"); !errors.Is(err, ErrGroupNotFound) {
		t.Fatalf("err = %v, want ErrGroupNotFound", err)
	}
}

func TestGroupsContaining(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()
	r.UpsertDevice(ctx, "home1", "1001", DeviceAttrs{Name: "Lamp1"})
	r.UpsertGroup(ctx, "home1", "g1", GroupAttrs{MemberIDs: []string{"home1/1001"}})

	groups := r.GroupsContaining("home1/1001")
	if len(groups) != 1 || groups[0] != "home1/g1" {
		t.Fatalf("GroupsContaining() = %v, want [home1/g1]", groups)
	}
}

func TestObserveDeviceInfoResolvesByMACAndMarksOnline(t *testing.T) {
	r, _, _ := newTestRegistry()
	ctx := context.Background()
	r.UpsertDevice(ctx, "home1", "1001", DeviceAttrs{Name: "Lamp", MAC: "aabbccddeeff"})

	payload := []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x03, 0xe9} // MAC + cync_id 1001
	deviceID, err := r.ObserveDeviceInfo(ctx, payload)
	if err != nil {
		t.Fatalf("ObserveDeviceInfo() error: %v", err)
	}
	if deviceID != "home1/1001" {
		t.Fatalf("deviceID = %q, want home1/1001", deviceID)
	}

	d, _ := r.GetDevice(deviceID)
	if !d.Status.Online {
		t.Fatal("expected device marked online after device_info")
	}
}

func TestObserveDeviceInfoUnknownMAC(t *testing.T) {
	r, _, _ := newTestRegistry()
	payload := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x00, 0x01}
	deviceID, err := r.ObserveDeviceInfo(context.Background(), payload)
	if err != nil {
		t.Fatalf("ObserveDeviceInfo() error: %v", err)
	}

	d, getErr := r.GetDevice(deviceID)
	if getErr != nil {
		t.Fatalf("GetDevice(%q): %v", deviceID, getErr)
	}
	if d.HomeID != unknownHomeID {
		t.Fatalf("HomeID = %q, want %q", d.HomeID, unknownHomeID)
	}
	if d.MAC != "112233445566" {
		t.Fatalf("MAC = %q, want 112233445566", d.MAC)
	}
	if !d.Status.Online {
		t.Fatal("expected minimal device marked online after device_info")
	}
}

func TestObserveStatusUnknownEndpointCreatesMinimalDevice(t *testing.T) {
	r, _, _ := newTestRegistry()
	endpoint := [5]byte{0x11, 0x22, 0x33, 0x44, 0x55}
	inner := []byte{1, 80, 50, 255, 0, 0}

	deviceID, err := r.ObserveStatus(context.Background(), endpoint, inner)
	if err != nil {
		t.Fatalf("ObserveStatus() error: %v", err)
	}

	d, getErr := r.GetDevice(deviceID)
	if getErr != nil {
		t.Fatalf("GetDevice(%q): %v", deviceID, getErr)
	}
	if d.HomeID != unknownHomeID {
		t.Fatalf("HomeID = %q, want %q", d.HomeID, unknownHomeID)
	}
	if d.Address != endpoint {
		t.Fatalf("Address = %v, want %v", d.Address, endpoint)
	}

	// A second STATUS from the same endpoint must resolve to the same
	// minimal device via addressIndex rather than creating another one.
	secondID, err := r.ObserveStatus(context.Background(), endpoint, inner)
	if err != nil {
		t.Fatalf("ObserveStatus() second call error: %v", err)
	}
	if secondID != deviceID {
		t.Fatalf("second ObserveStatus deviceID = %q, want %q", secondID, deviceID)
	}
}

func TestObserveStatusAppliesDelta(t *testing.T) {
	r, store, _ := newTestRegistry()
	ctx := context.Background()
	r.UpsertDevice(ctx, "home1", "1001", DeviceAttrs{Name: "Lamp", MAC: "aabbccddeeff"})

	endpoint := [5]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee}
	inner := []byte{1, 80, 50, 255, 0, 0}
	deviceID, err := r.ObserveStatus(ctx, endpoint, inner)
	if err != nil {
		t.Fatalf("ObserveStatus() error: %v", err)
	}
	if deviceID != "home1/1001" {
		t.Fatalf("deviceID = %q, want home1/1001", deviceID)
	}

	d, _ := r.GetDevice(deviceID)
	if d.Status.State != 1 {
		t.Fatalf("State = %d, want 1", d.Status.State)
	}
	if d.Status.Brightness == nil || *d.Status.Brightness != 80 {
		t.Fatalf("Brightness = %v, want 80", d.Status.Brightness)
	}

	if store.history == 0 {
		t.Fatal("expected a status history record")
	}
}

func TestLoadFromStoreRebuildsMACIndex(t *testing.T) {
	store := newFakeStore()
	store.devices["home1/1001"] = Device{HomeID: "home1", CyncID: "1001", MAC: "aabbccddeeff", Status: Status{}}
	r := New(Config{Store: store})

	if err := r.LoadFromStore(context.Background()); err != nil {
		t.Fatalf("LoadFromStore() error: %v", err)
	}

	payload := []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0, 1}
	deviceID, err := r.ObserveDeviceInfo(context.Background(), payload)
	if err != nil {
		t.Fatalf("ObserveDeviceInfo() after load error: %v", err)
	}
	if deviceID != "home1/1001" {
		t.Fatalf("deviceID = %q, want home1/1001", deviceID)
	}
}
