package sensor

import "errors"

// Domain-specific errors for catalog operations.
var (
	// ErrNoSensors is returned when discovery yields an empty record set.
	ErrNoSensors = errors.New("sensor: no sensors discovered")

	// ErrNoSource is returned when a catalog has no hardware source attached.
	ErrNoSource = errors.New("sensor: no hardware source")

	// ErrInvalidDevice is returned when a catalog is built without a device name.
	ErrInvalidDevice = errors.New("sensor: device name is required")
)
