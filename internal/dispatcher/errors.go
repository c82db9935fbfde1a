package dispatcher

import "fmt"

// DispatchError carries a machine-readable code alongside the message,
// matching spec §7's "DispatchError — NO_BRIDGE_AVAILABLE when no session
// knows the target" taxonomy entry.
type DispatchError struct {
	Code string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatcher: %s", e.Code)
}

func newDispatchError(code string) *DispatchError {
	return &DispatchError{Code: code}
}

// ErrUnsupportedCapability is returned when a command targets a
// capability the device or group does not declare (spec §4.3
// capability-aware command shaping).
var ErrUnsupportedCapability = fmt.Errorf("dispatcher: unsupported capability")

// ErrUnknownIntent is returned for a command name shape doesn't recognize.
var ErrUnknownIntent = fmt.Errorf("dispatcher: unknown command intent")
