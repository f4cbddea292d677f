package sensor

import "fmt"

// Default topic prefixes.
const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultStatePrefix     = "lhmmqtt"
)

// Topics builds discovery and state topics.
//
//	t := sensor.DefaultTopics()
//	t.Discovery("desk", "desk_CPU_CPUTotal_Load")
//	// homeassistant/sensor/desk/desk_CPU_CPUTotal_Load/config
//	t.State("desk_CPU_CPUTotal_Load", "/cpu/0/load/0")
//	// lhmmqtt/desk_CPU_CPUTotal_Load/cpu/0/load/0/state
type Topics struct {
	DiscoveryPrefix string
	StatePrefix     string
}

// DefaultTopics returns the prefixes the receiving platform expects.
func DefaultTopics() Topics {
	return Topics{
		DiscoveryPrefix: DefaultDiscoveryPrefix,
		StatePrefix:     DefaultStatePrefix,
	}
}

// Discovery returns the config topic for a sensor.
func (t Topics) Discovery(deviceName, uniqueID string) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", t.DiscoveryPrefix, deviceName, uniqueID)
}

// State returns the topic carrying a sensor's value. The raw identifier
// is appended to the unique id without a separator.
func (t Topics) State(uniqueID, rawID string) string {
	return fmt.Sprintf("%s/%s%s/state", t.StatePrefix, uniqueID, rawID)
}
