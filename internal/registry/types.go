package registry

import "time"

// Capability enumerates the command surfaces a device exposes (spec §3).
type Capability string

const (
	CapabilityOnOff      Capability = "on_off"
	CapabilityBrightness Capability = "brightness"
	CapabilityColorTemp  Capability = "color_temp"
	CapabilityRGB        Capability = "rgb"
	CapabilityFanSpeed   Capability = "fan_speed"
	CapabilityHVAC       Capability = "hvac"
)

// hasCapability reports whether capabilities contains c.
func hasCapability(capabilities []Capability, c Capability) bool {
	for _, existing := range capabilities {
		if existing == c {
			return true
		}
	}
	return false
}

// Status is a device's or group's last-known (or aggregated) state
// (spec §3, §4.3). Pointer fields are nil when the quantity is undefined
// for the device/group ("omitted if none").
type Status struct {
	State        int
	Brightness   *int
	Temperature  *int
	Red          *int
	Green        *int
	Blue         *int
	Online       bool
	OfflineCount int
}

// DeepCopy returns an independent copy of s.
func (s Status) DeepCopy() Status {
	cpy := s
	cpy.Brightness = copyIntPtr(s.Brightness)
	cpy.Temperature = copyIntPtr(s.Temperature)
	cpy.Red = copyIntPtr(s.Red)
	cpy.Green = copyIntPtr(s.Green)
	cpy.Blue = copyIntPtr(s.Blue)
	return cpy
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// StatusDelta carries a partial status update (spec §4.3 UpdateStatus);
// nil fields are left unchanged.
type StatusDelta struct {
	State       *int
	Brightness  *int
	Temperature *int
	Red         *int
	Green       *int
	Blue        *int
}

// Device is the authoritative record for a single mesh endpoint
// (spec §3: stable identity (home_id, cync_id)).
type Device struct {
	HomeID string
	CyncID string

	Name            string
	TypeCode        int
	Capabilities    []Capability
	MAC             string
	FirmwareVersion string

	// Address is the 5-byte mesh endpoint the device uses in framed
	// packets (codec.Packet.Endpoint) — distinct from MAC, which only
	// appears in the unframed DEVICE_INFO announcement.
	Address [5]byte

	Status    Status
	UpdatedAt time.Time
}

// ID returns the device's stable identifier ("home_id/cync_id").
func (d *Device) ID() string {
	return DeviceID(d.HomeID, d.CyncID)
}

// DeviceID formats the stable identifier for a (home_id, cync_id) pair.
func DeviceID(homeID, cyncID string) string {
	return homeID + "/" + cyncID
}

// HasCapability reports whether the device supports c.
func (d *Device) HasCapability(c Capability) bool {
	return hasCapability(d.Capabilities, c)
}

// DeepCopy returns an independent copy of d so cache readers can never
// mutate registry-owned state.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.Status = d.Status.DeepCopy()
	if d.Capabilities != nil {
		cpy.Capabilities = make([]Capability, len(d.Capabilities))
		copy(cpy.Capabilities, d.Capabilities)
	}
	return &cpy
}

// DeviceAttrs are the caller-supplied fields for UpsertDevice; zero values
// leave the corresponding field unchanged on merge into an existing record.
type DeviceAttrs struct {
	Name            string
	TypeCode        int
	Capabilities    []Capability
	MAC             string
	FirmwareVersion string
	Address         [5]byte
}

// Group is a logical collection of devices whose state is derived, never
// stored directly (spec §3: "Groups are not physical devices").
type Group struct {
	HomeID  string
	GroupID string
	Name    string

	MemberIDs []string
	UpdatedAt time.Time
}

// ID returns the group's stable identifier ("home_id/group_id").
func (g *Group) ID() string {
	return GroupID(g.HomeID, g.GroupID)
}

// GroupID formats the stable identifier for a (home_id, group_id) pair.
func GroupID(homeID, groupID string) string {
	return homeID + "/" + groupID
}

// DeepCopy returns an independent copy of g.
func (g *Group) DeepCopy() *Group {
	if g == nil {
		return nil
	}
	cpy := *g
	if g.MemberIDs != nil {
		cpy.MemberIDs = make([]string, len(g.MemberIDs))
		copy(cpy.MemberIDs, g.MemberIDs)
	}
	return &cpy
}

// GroupAttrs are the caller-supplied fields for UpsertGroup.
type GroupAttrs struct {
	Name      string
	MemberIDs []string
}

// GroupStatus is a group's aggregated status (spec §4.3 Aggregation
// rules). Available is false when the group has zero online members.
type GroupStatus struct {
	State       int
	Brightness  int
	Temperature *int
	Red         *int
	Green       *int
	Blue        *int
	Available   bool
}
