package mqtt

import "fmt"

// Topics owned by the receiving platform.
const (
	// PlatformStatusTopic carries Home Assistant's birth and last-will messages.
	PlatformStatusTopic = "homeassistant/status"

	// PlatformOnline is the birth payload sent when Home Assistant starts.
	PlatformOnline = "online"
)

// Topics builds the service's own housekeeping topics.
//
// Sensor discovery and state topics are built by the sensor package; this
// type only covers what the transport publishes by itself.
type Topics struct {
	// Prefix is the state prefix, e.g. "lhmmqtt".
	Prefix string
}

// Status returns the retained online/offline topic for a client.
//
// Example: lhmmqtt/status/hwmqtt-1a2b3c4d
func (t Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/status/%s", t.Prefix, clientID)
}
