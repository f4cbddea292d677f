// Package supervisor keeps the telemetry service running.
//
// The telemetry service never restarts itself. The Supervisor decides: it
// starts the service on boot when configured to, retries failed starts and
// crashed runs with exponential backoff, and respects the service's
// post-stop cooldown before every attempt. A manual Stop disables restarts
// until the next manual Start.
package supervisor
