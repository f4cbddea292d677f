package telemetry

import "errors"

// Startup and lifecycle errors. Use errors.Is to check for them.
var (
	// ErrSourceFailed is returned when the hardware source cannot be opened.
	ErrSourceFailed = errors.New("telemetry: hardware source failed")

	// ErrConnectFailed is returned when the publisher does not connect in time.
	ErrConnectFailed = errors.New("telemetry: publisher connect failed")

	// ErrDiscoveryFailed is returned when no sensors could be published for discovery.
	ErrDiscoveryFailed = errors.New("telemetry: sensor discovery failed")

	// ErrStartAborted is returned when a stop or the caller's context ends a start.
	ErrStartAborted = errors.New("telemetry: start aborted")

	// ErrStopping is returned by Start while a stop is still in progress.
	ErrStopping = errors.New("telemetry: service is stopping")

	// ErrCoolingDown is returned by Start during the post-stop cooldown.
	ErrCoolingDown = errors.New("telemetry: service is cooling down")

	// ErrLoopFatal marks an unrecoverable failure inside the update loop.
	ErrLoopFatal = errors.New("telemetry: update loop failed")
)
