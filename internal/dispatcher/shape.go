package dispatcher

import "github.com/nerrad567/meshbridge-core/internal/registry"

// Intent opcodes for the outbound COMMAND (0x73) inner payload. The wire
// format for outbound commands is not specified beyond "framed" (spec
// §4.1); like the probe body (spec §9(a)) there is no captured fixture,
// so this mirrors the STATUS inner layout's field ordering (spec §3/§4.3:
// state, brightness, temperature, red, green, blue) with a leading opcode
// byte selecting which field the command carries, rather than inventing
// an unrelated structure.
const (
	opSetPower       byte = 0x01
	opSetBrightness  byte = 0x02
	opSetTemperature byte = 0x03
	opSetRGB         byte = 0x04
	opSetFanSpeed    byte = 0x05
)

// Intent is a capability-aware high-level command, already converted to
// device-native scales by the caller (registry.BrightnessMQTTToDevice,
// registry.KelvinToDeviceTemp, registry.CanonicalizeState — spec §4.3
// "Capability-aware state conversion" lives in the registry, not here).
type Intent struct {
	Name string // "set_power", "set_brightness", "set_temperature", "set_rgb", "set_fan_speed", "preset"

	Power      int // 0 or 1, for set_power
	Brightness int // 0-100, for set_brightness and set_fan_speed (speed-as-brightness)
	Temp       int // 0-100 device scale, for set_temperature
	Red        int
	Green      int
	Blue       int // 0-255 each, for set_rgb

	Preset string // named effect, for preset
}

// shapeIntent translates intent into one or more inner COMMAND payloads
// for a device with the given capabilities (spec §4.4 "Command shaping").
// Fan-controller devices receive set_fan_speed as its own opcode carrying
// the 0-100 percentage clamped to range; the percentage is not mapped to a
// speed enum here.
func shapeIntent(capabilities []registry.Capability, intent Intent) ([][]byte, error) {
	switch intent.Name {
	case "set_power":
		if !hasCap(capabilities, registry.CapabilityOnOff) {
			return nil, ErrUnsupportedCapability
		}
		return [][]byte{{opSetPower, byte(intent.Power)}}, nil

	case "set_brightness":
		if !hasCap(capabilities, registry.CapabilityBrightness) {
			return nil, ErrUnsupportedCapability
		}
		return [][]byte{{opSetBrightness, byte(clamp(intent.Brightness, 0, 100))}}, nil

	case "set_temperature":
		if !hasCap(capabilities, registry.CapabilityColorTemp) {
			return nil, ErrUnsupportedCapability
		}
		return [][]byte{{opSetTemperature, byte(clamp(intent.Temp, 0, 100))}}, nil

	case "set_rgb":
		if !hasCap(capabilities, registry.CapabilityRGB) {
			return nil, ErrUnsupportedCapability
		}
		return [][]byte{{
			opSetRGB,
			byte(clamp(intent.Red, 0, 255)),
			byte(clamp(intent.Green, 0, 255)),
			byte(clamp(intent.Blue, 0, 255)),
		}}, nil

	case "set_fan_speed":
		if !hasCap(capabilities, registry.CapabilityFanSpeed) {
			return nil, ErrUnsupportedCapability
		}
		return [][]byte{{opSetFanSpeed, byte(clamp(intent.Brightness, 0, 100))}}, nil

	case "preset":
		return shapePreset(capabilities, intent.Preset)

	default:
		return nil, ErrUnknownIntent
	}
}

// shapePreset expands a named effect preset into its constituent
// payloads. Presets are a small fixed set known to every capability
// profile; unknown names fail with ErrUnknownIntent rather than silently
// no-opping.
func shapePreset(capabilities []registry.Capability, name string) ([][]byte, error) {
	switch name {
	case "warm_white":
		if !hasCap(capabilities, registry.CapabilityColorTemp) {
			return nil, ErrUnsupportedCapability
		}
		return [][]byte{
			{opSetPower, 1},
			{opSetTemperature, 20},
		}, nil
	case "daylight":
		if !hasCap(capabilities, registry.CapabilityColorTemp) {
			return nil, ErrUnsupportedCapability
		}
		return [][]byte{
			{opSetPower, 1},
			{opSetTemperature, 80},
		}, nil
	default:
		return nil, ErrUnknownIntent
	}
}

func hasCap(capabilities []registry.Capability, c registry.Capability) bool {
	for _, existing := range capabilities {
		if existing == c {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
