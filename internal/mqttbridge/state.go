package mqttbridge

import (
	"encoding/json"

	"github.com/nerrad567/meshbridge-core/internal/registry"
)

// stateJSON is the canonical state payload published to a device's or
// group's retained state topic (spec §4.5 "State publication").
type stateJSON struct {
	State      string   `json:"state"`
	Brightness *int     `json:"brightness,omitempty"`
	ColorTemp  *int     `json:"color_temp,omitempty"`
	Color      *rgbJSON `json:"color,omitempty"`
}

type rgbJSON struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

func powerString(state int) string {
	if state == 1 {
		return "ON"
	}
	return "OFF"
}

// OnDeviceChanged implements registry.Notifier. It publishes the
// device's current state and availability, and refreshes the aggregate
// state of every group the device is a member of, since group state is
// a pure function of member status (spec §4.3).
func (b *Bridge) OnDeviceChanged(deviceID string) {
	b.enqueue(deviceID, func() { b.publishDeviceState(deviceID) })
	for _, groupID := range b.registry.GroupsContaining(deviceID) {
		gid := groupID
		b.enqueue(gid, func() { b.publishGroupState(gid) })
	}
}

// OnDeviceAdded implements registry.Notifier: a newly upserted device
// gets a discovery document and its initial state published immediately
// rather than waiting for the next full PublishAllDiscovery pass (spec
// §4.5 "whenever the Registry gains a device or group").
func (b *Bridge) OnDeviceAdded(deviceID string) {
	dev, err := b.registry.GetDevice(deviceID)
	if err != nil {
		return
	}
	b.publishDeviceDiscovery(dev)
	b.OnDeviceChanged(deviceID)
}

// OnGroupChanged implements registry.Notifier.
func (b *Bridge) OnGroupChanged(groupID string) {
	b.enqueue(groupID, func() { b.publishGroupState(groupID) })
}

// OnGroupAdded implements registry.Notifier.
func (b *Bridge) OnGroupAdded(groupID string) {
	grp, err := b.registry.GetGroup(groupID)
	if err != nil {
		return
	}
	b.publishGroupDiscovery(grp)
	b.OnGroupChanged(groupID)
}

func (b *Bridge) publishDeviceState(deviceID string) {
	dev, err := b.registry.GetDevice(deviceID)
	if err != nil {
		b.logger.Warn("publishing state for unknown device", "device_id", deviceID, "error", err)
		return
	}
	uid := uniqueID(dev.HomeID, dev.CyncID)

	payload := stateJSON{State: powerString(dev.Status.State)}
	if dev.Status.Brightness != nil {
		mqttBrightness := registry.BrightnessDeviceToMQTT(*dev.Status.Brightness)
		payload.Brightness = &mqttBrightness
	}
	if dev.Status.Temperature != nil {
		kelvin := registry.DeviceTempToKelvin(*dev.Status.Temperature, b.minKelvin, b.maxKelvin)
		payload.ColorTemp = &kelvin
	}
	if dev.Status.Red != nil && dev.Status.Green != nil && dev.Status.Blue != nil {
		payload.Color = &rgbJSON{R: *dev.Status.Red, G: *dev.Status.Green, B: *dev.Status.Blue}
	}

	b.publishStateAndAvailability(uid, payload, dev.Status.Online)
}

func (b *Bridge) publishGroupState(groupID string) {
	grp, err := b.registry.GetGroup(groupID)
	if err != nil {
		b.logger.Warn("publishing state for unknown group", "group_id", groupID, "error", err)
		return
	}
	agg, err := b.registry.Aggregate(groupID)
	if err != nil {
		b.logger.Warn("aggregating group failed", "group_id", groupID, "error", err)
		return
	}
	uid := uniqueID(grp.HomeID, grp.GroupID)

	payload := stateJSON{State: powerString(agg.State)}
	if agg.Available {
		brightness := registry.BrightnessDeviceToMQTT(agg.Brightness)
		payload.Brightness = &brightness
	}
	if agg.Temperature != nil {
		kelvin := registry.DeviceTempToKelvin(*agg.Temperature, b.minKelvin, b.maxKelvin)
		payload.ColorTemp = &kelvin
	}
	if agg.Red != nil && agg.Green != nil && agg.Blue != nil {
		payload.Color = &rgbJSON{R: *agg.Red, G: *agg.Green, B: *agg.Blue}
	}

	b.publishStateAndAvailability(uid, payload, agg.Available)
}

func (b *Bridge) publishStateAndAvailability(uid string, payload stateJSON, online bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("marshaling state failed", "unique_id", uid, "error", err)
		return
	}
	if err := b.client.PublishRetained(b.topics.State(uid), data); err != nil {
		b.logger.Warn("publishing state failed", "unique_id", uid, "error", err)
	}

	availability := "offline"
	if online {
		availability = "online"
	}
	if err := b.client.PublishRetained(b.topics.Availability(uid), []byte(availability)); err != nil {
		b.logger.Warn("publishing availability failed", "unique_id", uid, "error", err)
	}
}