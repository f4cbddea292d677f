// Package api implements the local HTTP control API for hwmqtt.
//
// This package provides:
//   - Read-only endpoints for service status and the published sensor catalog
//   - Control endpoints to start, stop and restart the telemetry service
//   - Runtime reconfiguration of the enabled sensor categories
//   - A Prometheus scrape endpoint
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Architecture
//
// The API never talks to MQTT or the hardware source directly. Control
// requests go through the supervisor so the restart policy stays consistent
// with what the operator asked for, and reads come from the telemetry
// service's own snapshots.
//
// The listener is meant for localhost. There is no authentication.
package api
