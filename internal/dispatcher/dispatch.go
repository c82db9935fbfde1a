package dispatcher

import (
	"context"
	"time"

	"github.com/nerrad567/meshbridge-core/internal/registry"
)

// broadcastEndpoint addresses a group command at the session's mesh
// bridge itself rather than any individual member (spec §4.2 Broadcasting
// for groups: "one 0x73 targeted at the session's mesh bridge ... the
// bridge distributes it within the mesh"). The exact endpoint encoding
// for a mesh-wide broadcast is as empirical/undocumented as the 0xA3
// probe body (spec §9(a)); the all-zero endpoint is adopted as the
// reserved "not a specific device" value, since every real device
// endpoint is populated from its MAC and MACs are never all-zero.
var broadcastEndpoint = [5]byte{}

// SendDeviceCommand resolves deviceID's primary session and delivers
// intent as one or more reliable 0x73 sends (spec §4.4 full control flow:
// resolve -> shape -> send -> await ACK -> refresh). The caller is
// expected to have already converted intent's fields to device-native
// scale (registry helpers) and to trigger the post-command state refresh
// itself once Result.Success is true.
func (d *Dispatcher) SendDeviceCommand(ctx context.Context, deviceID string, intent Intent, correlationID string) (Result, error) {
	dev, err := d.registry.GetDevice(deviceID)
	if err != nil {
		return Result{CorrelationID: correlationID}, err
	}

	sess, err := d.resolvePrimary(deviceID)
	if err != nil {
		d.logger.Warn("no bridge available for device", "device_id", deviceID)
		return Result{CorrelationID: correlationID, Reason: err.Error()}, err
	}

	payloads, err := shapeIntent(dev.Capabilities, intent)
	if err != nil {
		return Result{CorrelationID: correlationID, Reason: err.Error()}, err
	}

	return d.sendAll(ctx, sess, dev.Address, payloads, correlationID), nil
}

// SendGroupCommand resolves groupID to the primary session of its
// best-connected member (members' online flags are not consulted) and
// broadcasts intent Broadcasts times to
// tolerate mesh loss (spec §4.4 Group target / Broadcast fan-out). It
// shapes against the union of member capabilities' narrowest common
// requirement is not attempted here — each member device applies the
// command according to its own capability set once the mesh relays it,
// so shaping uses a synthetic "any capability" set and lets the device
// firmware ignore commands it cannot act on.
func (d *Dispatcher) SendGroupCommand(ctx context.Context, groupID string, intent Intent, correlationID string) (Result, error) {
	grp, err := d.registry.GetGroup(groupID)
	if err != nil {
		return Result{CorrelationID: correlationID}, err
	}

	sess, err := d.resolveGroupPrimary(grp)
	if err != nil {
		d.logger.Warn("no bridge available for group", "group_id", groupID)
		return Result{CorrelationID: correlationID, Reason: err.Error()}, err
	}

	payloads, err := shapeIntent(allCapabilities, intent)
	if err != nil {
		return Result{CorrelationID: correlationID, Reason: err.Error()}, err
	}

	result := Result{CorrelationID: correlationID}
	for copyNum := 0; copyNum < d.broadcasts; copyNum++ {
		r := d.sendAll(ctx, sess, broadcastEndpoint, payloads, correlationID)
		result.Attempts += r.Attempts
		if r.Success {
			result.Success = true
		}
		if copyNum == 0 {
			result.Reason = r.Reason
		}
		// Any ACKed copy counts as success (spec §4.4). Every copy is
		// still sent for mesh loss tolerance; each is a full reliable
		// send that waits for its own ACK, with retries, before the next
		// copy goes out.
		if copyNum < d.broadcasts-1 && d.broadcastDelay > 0 {
			select {
			case <-time.After(d.broadcastDelay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}
	return result, nil
}

// allCapabilities is used for group shaping, where the dispatcher does not
// narrow to a single device's declared capability set (see
// SendGroupCommand's doc comment).
var allCapabilities = []registry.Capability{
	registry.CapabilityOnOff,
	registry.CapabilityBrightness,
	registry.CapabilityColorTemp,
	registry.CapabilityRGB,
	registry.CapabilityFanSpeed,
	registry.CapabilityHVAC,
}

func (d *Dispatcher) sendAll(ctx context.Context, sess Session, endpoint [5]byte, payloads [][]byte, correlationID string) Result {
	result := Result{CorrelationID: correlationID}
	for _, payload := range payloads {
		sr, err := sess.SendCommand(ctx, endpoint, payload, correlationID)
		result.Attempts += sr.Retries + 1
		if err != nil || !sr.Success {
			reason := sr.Reason
			if reason == "" && err != nil {
				reason = err.Error()
			}
			result.Reason = reason
			return result
		}
	}
	result.Success = true
	return result
}
