// Package telemetry runs the sensor publishing service.
//
// A Service owns one run at a time. Each run opens a hardware source,
// connects a fresh publisher, publishes discovery for every sensor and then
// publishes state values on a fixed interval until it is stopped.
//
// # Lifecycle
//
//	stopped --Start--> starting --connected and discovered--> running
//	running --Stop--> stopping --loop drained, resources released--> stopped
//	running --fatal loop error--> stopped
//
// Every stop that goes through stopping is followed by a cooldown during
// which Start is rejected with ErrCoolingDown. Callers that exit the process
// should wait for it with WaitCooldown.
//
// A fatal loop error does not restart the service. Restarts are the job of
// the supervisor package.
package telemetry
