// Package mqtt provides MQTT client connectivity for the telemetry service.
//
// This package manages:
//   - Connection to the broker with a bounded initial connect and auto-reconnect
//   - Message publishing with QoS guarantees behind a circuit breaker
//   - Topic subscriptions (used for the Home Assistant birth message)
//   - Last Will and Testament (LWT) for offline detection
//
// # Lifecycle
//
// A Client is single use. New builds it, Connect dials the broker, and
// Disconnect closes it for good. The telemetry service creates a fresh
// client for every run.
//
// # Security Considerations
//
//   - TLS is enabled with cfg.Broker.TLS=true (TLS 1.2 minimum)
//   - Credentials are validated against broker ACL
//   - Anonymous access is accepted when no username is configured
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect(context.Background())
//
//	err := client.Publish(ctx, "lhmmqtt/desk01_CPU_Load_Load/cpu/0/load/0/state", []byte("42"), 1, false)
package mqtt
