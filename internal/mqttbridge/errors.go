package mqttbridge

import "errors"

// ErrUnknownEntity is returned when a command arrives for a unique ID the
// bridge has never published discovery for.
var ErrUnknownEntity = errors.New("mqttbridge: unknown entity")
