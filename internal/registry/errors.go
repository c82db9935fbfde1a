package registry

import "errors"

// Domain errors for the registry package.
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrGroupNotFound is returned when a group ID does not exist.
	ErrGroupNotFound = errors.New("registry: group not found")

	// ErrOutOfRange is returned when a status delta fails validation
	// (spec §4.3: 0<=brightness,temperature<=100, 0<=rgb<=255).
	ErrOutOfRange = errors.New("registry: value out of range")

	// ErrInvalidStateValue is returned when a state value can't be
	// canonicalized to {0,1}.
	ErrInvalidStateValue = errors.New("registry: invalid state value")
)
