package mqttbridge

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/meshbridge-core/internal/registry"
)

// discoveryDoc is a Home-Assistant MQTT discovery document (spec §4.5
// "Discovery"). Field names follow HA's documented discovery schema;
// only the subset the bridge's capability set needs is modeled.
type discoveryDoc struct {
	UniqueID     string          `json:"unique_id"`
	Name         string          `json:"name"`
	StateTopic   string          `json:"state_topic"`
	CommandTopic string          `json:"command_topic"`
	AvailTopic   string          `json:"availability_topic"`
	Schema       string          `json:"schema,omitempty"`
	Brightness   bool            `json:"brightness,omitempty"`
	ColorTemp    bool            `json:"color_temp,omitempty"`
	RGB          bool            `json:"rgb,omitempty"`
	Device       discoveryDevice `json:"device"`
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	SuggestedArea string  `json:"suggested_area,omitempty"`
}

const discoveryManufacturer = "meshbridge"

// component returns the Home Assistant component family for a device's
// capability set (spec §4.5 "JSON schema (light/switch/fan/etc.)
// matching capabilities").
func component(caps []registry.Capability) string {
	switch {
	case hasCap(caps, registry.CapabilityFanSpeed):
		return "fan"
	case hasCap(caps, registry.CapabilityBrightness),
		hasCap(caps, registry.CapabilityColorTemp),
		hasCap(caps, registry.CapabilityRGB):
		return "light"
	default:
		return "switch"
	}
}

func hasCap(caps []registry.Capability, c registry.Capability) bool {
	for _, existing := range caps {
		if existing == c {
			return true
		}
	}
	return false
}

// PublishAllDiscovery publishes (or republishes) a retained discovery
// document for every currently known device and group (spec §4.5 "On
// startup and whenever the Registry gains a device or group" — and, per
// "Ingress & birth messages", on every HA birth message too).
func (b *Bridge) PublishAllDiscovery() {
	for _, d := range b.registry.ListDevices() {
		b.publishDeviceDiscovery(&d)
	}
	for _, g := range b.registry.ListGroups() {
		b.publishGroupDiscovery(&g)
	}
}

func (b *Bridge) publishDeviceDiscovery(d *registry.Device) {
	uid := uniqueID(d.HomeID, d.CyncID)
	b.recordEntity(uid, entityDevice, d.ID())

	comp := component(d.Capabilities)
	doc := discoveryDoc{
		UniqueID:     uid,
		Name:         d.Name,
		StateTopic:   b.topics.State(uid),
		CommandTopic: b.topics.Command(uid),
		AvailTopic:   b.topics.Availability(uid),
		Brightness:   hasCap(d.Capabilities, registry.CapabilityBrightness) || hasCap(d.Capabilities, registry.CapabilityFanSpeed),
		ColorTemp:    hasCap(d.Capabilities, registry.CapabilityColorTemp),
		RGB:          hasCap(d.Capabilities, registry.CapabilityRGB),
		Device: discoveryDevice{
			Identifiers:  []string{uid},
			Name:         d.Name,
			Manufacturer: discoveryManufacturer,
			Model:        fmt.Sprintf("type-%d", d.TypeCode),
			SWVersion:    d.FirmwareVersion,
		},
	}
	if comp == "light" {
		doc.Schema = "json"
	}
	b.publishDiscoveryDoc(comp, uid, doc)
}

func (b *Bridge) publishGroupDiscovery(g *registry.Group) {
	uid := uniqueID(g.HomeID, g.GroupID)
	b.recordEntity(uid, entityGroup, g.ID())

	// A group's advertised capability set does not depend on its
	// members, whose capabilities are not examined: every group is a
	// light with brightness, color_temp and rgb. The dispatcher shapes
	// group commands against "any capability"
	// (dispatcher.allCapabilities) and lets member firmware
	// ignore what it can't act on, so discovery advertises the richest
	// plausible entity (light with brightness/color) rather than a bare
	// switch, matching what an installer actually wants to see for a
	// room-level group.
	doc := discoveryDoc{
		UniqueID:     uid,
		Name:         g.Name,
		StateTopic:   b.topics.State(uid),
		CommandTopic: b.topics.Command(uid),
		AvailTopic:   b.topics.Availability(uid),
		Schema:       "json",
		Brightness:   true,
		ColorTemp:    true,
		RGB:          true,
		Device: discoveryDevice{
			Identifiers:   []string{uid},
			Name:          g.Name,
			Manufacturer:  discoveryManufacturer,
			Model:         "group",
			SuggestedArea: g.Name,
		},
	}
	b.publishDiscoveryDoc("light", uid, doc)
}

func (b *Bridge) publishDiscoveryDoc(comp, uid string, doc discoveryDoc) {
	payload, err := json.Marshal(doc)
	if err != nil {
		b.logger.Error("marshaling discovery document failed", "unique_id", uid, "error", err)
		return
	}
	topic := b.topics.DiscoveryConfig(comp, uid)
	if err := b.client.PublishRetained(topic, payload); err != nil {
		b.logger.Warn("publishing discovery document failed", "unique_id", uid, "error", err)
	}
}

func (b *Bridge) recordEntity(uid string, kind entityKind, id string) {
	b.mu.Lock()
	b.uniqueIDs[uid] = entityRef{kind: kind, id: id}
	b.mu.Unlock()
}
