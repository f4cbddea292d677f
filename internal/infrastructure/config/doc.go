// Package config handles loading and validating hwmqtt configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker credentials should be set via HWMQTT_MQTT_USERNAME and HWMQTT_MQTT_PASSWORD
//   - The config file should have restricted permissions (0600)
//   - The control API binds to 127.0.0.1 by default and has no authentication
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.UpdateInterval())
package config
