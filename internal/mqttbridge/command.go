package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/meshbridge-core/internal/dispatcher"
	"github.com/nerrad567/meshbridge-core/internal/registry"
	"github.com/nerrad567/meshbridge-core/internal/timing"
)

// commandTimeout bounds how long a single inbound MQTT command is given
// to resolve, shape, and confirm before the bridge gives up waiting for
// the dispatcher (the dispatcher's own session-level ACK timeout and
// retries run underneath this).
const commandTimeout = 10 * time.Second

// commandPayload is the JSON shape accepted on a command topic (spec
// §4.5 "the payload is either JSON (...) or a plain state string"). Power
// may also arrive as a bare "ON"/"OFF"/"true" string instead of this
// object; see parseCommandPayload.
type commandPayload struct {
	State      *string     `json:"state,omitempty"`
	Brightness *int        `json:"brightness,omitempty"`
	ColorTemp  *int        `json:"color_temp,omitempty"`
	Color      *rgbPayload `json:"color,omitempty"`
	Percentage *int        `json:"percentage,omitempty"`
	Preset     *string     `json:"preset,omitempty"`
}

type rgbPayload struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// Start subscribes to the command wildcard and the discovery status
// topic (spec §4.5 "Command subscription", "Ingress & birth messages"),
// then publishes the initial discovery pass.
func (b *Bridge) Start() error {
	if err := b.client.Subscribe(b.topics.CommandWildcard(), b.qos, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribing to command topic: %w", err)
	}
	if err := b.client.Subscribe(b.topics.DiscoveryStatus(), b.qos, b.handleBirthMessage); err != nil {
		return fmt.Errorf("subscribing to discovery status topic: %w", err)
	}
	b.PublishAllDiscovery()
	return nil
}

// handleBirthMessage republishes every discovery document when Home
// Assistant (or any discovery-topic subscriber) announces it has come
// back online with an empty registry (spec §4.5 "Ingress & birth
// messages").
func (b *Bridge) handleBirthMessage(_ string, payload []byte) error {
	if strings.TrimSpace(string(payload)) != "online" {
		return nil
	}
	b.PublishAllDiscovery()
	return nil
}

// handleCommandMessage is the MessageHandler wired to the command
// wildcard subscription. It resolves the target entity, parses the
// payload, translates it into a dispatcher.Intent, and — on success —
// lets OnDeviceChanged/OnGroupChanged (triggered once the device's own
// status traffic confirms the change) republish state; on failure it
// logs and leaves the retained state untouched (spec §4.5 "On Dispatcher
// failure, the Bridge logs and leaves the retained state as-is").
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	uid := commandTopicUniqueID(topic, b.topics.Base)
	if uid == "" {
		return fmt.Errorf("mqttbridge: malformed command topic %q", topic)
	}

	b.mu.RLock()
	ref, ok := b.uniqueIDs[uid]
	b.mu.RUnlock()
	if !ok {
		b.logger.Warn("command for unknown entity", "unique_id", uid, "topic", topic)
		return fmt.Errorf("%w: %s", ErrUnknownEntity, uid)
	}

	cmd, err := parseCommandPayload(payload)
	if err != nil {
		b.logger.Warn("malformed command payload", "unique_id", uid, "error", err)
		return err
	}

	intent, err := b.translateIntent(cmd)
	if err != nil {
		b.logger.Warn("translating command failed", "unique_id", uid, "error", err)
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	ctx, correlationID := timing.EnsureCorrelationID(ctx)

	var result dispatcher.Result
	switch ref.kind {
	case entityDevice:
		result, err = b.dispatcher.SendDeviceCommand(ctx, ref.id, intent, correlationID)
	case entityGroup:
		result, err = b.dispatcher.SendGroupCommand(ctx, ref.id, intent, correlationID)
	}
	if err != nil {
		b.logger.Warn("dispatch failed", "unique_id", uid, "correlation_id", correlationID, "error", err)
		return err
	}
	if !result.Success {
		b.logger.Warn("command not confirmed", "unique_id", uid, "correlation_id", correlationID, "reason", result.Reason)
		return fmt.Errorf("mqttbridge: command not confirmed: %s", result.Reason)
	}

	b.logger.Info("command dispatched", "unique_id", uid, "correlation_id", correlationID, "attempts", result.Attempts)
	return nil
}

// commandTopicUniqueID extracts the unique ID from "<base>/set/<uid>".
func commandTopicUniqueID(topic, base string) string {
	prefix := base + "/set/"
	if !strings.HasPrefix(topic, prefix) {
		return ""
	}
	return strings.TrimPrefix(topic, prefix)
}

// parseCommandPayload accepts either a JSON object or a bare state
// string ("ON", "OFF", "true", ...) on a command topic (spec §4.5).
func parseCommandPayload(payload []byte) (commandPayload, error) {
	trimmed := strings.TrimSpace(string(payload))
	if len(trimmed) == 0 {
		return commandPayload{}, fmt.Errorf("mqttbridge: empty command payload")
	}
	if trimmed[0] != '{' {
		return commandPayload{State: &trimmed}, nil
	}

	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return commandPayload{}, fmt.Errorf("mqttbridge: decoding command payload: %w", err)
	}
	return cmd, nil
}

// translateIntent converts a parsed MQTT command into a device-native
// dispatcher.Intent (spec §4.4 "Command shaping" input side, spec §4.3
// "Capability-aware state conversion"). Multiple fields may be set on a
// single payload (e.g. {"state":"ON","brightness":128}); only one is
// translated, in the fixed precedence preset, color, color_temp,
// percentage, brightness, state (so that example yields a brightness
// command), regardless of field order — callers wanting multiple effects issue
// multiple messages, matching how HA's own MQTT light component
// publishes separate retained commands per attribute change.
func (b *Bridge) translateIntent(cmd commandPayload) (dispatcher.Intent, error) {
	switch {
	case cmd.Preset != nil:
		return dispatcher.Intent{Name: "preset", Preset: *cmd.Preset}, nil

	case cmd.Color != nil:
		return dispatcher.Intent{Name: "set_rgb", Red: cmd.Color.R, Green: cmd.Color.G, Blue: cmd.Color.B}, nil

	case cmd.ColorTemp != nil:
		temp := registry.KelvinToDeviceTemp(*cmd.ColorTemp, b.minKelvin, b.maxKelvin)
		return dispatcher.Intent{Name: "set_temperature", Temp: temp}, nil

	case cmd.Percentage != nil:
		return dispatcher.Intent{Name: "set_fan_speed", Brightness: clampPercent(*cmd.Percentage)}, nil

	case cmd.Brightness != nil:
		return dispatcher.Intent{Name: "set_brightness", Brightness: registry.BrightnessMQTTToDevice(*cmd.Brightness)}, nil

	case cmd.State != nil:
		state, err := registry.CanonicalizeState(*cmd.State)
		if err != nil {
			return dispatcher.Intent{}, err
		}
		return dispatcher.Intent{Name: "set_power", Power: state}, nil

	default:
		return dispatcher.Intent{}, fmt.Errorf("mqttbridge: command payload carries no recognized field")
	}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
