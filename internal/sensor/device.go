package sensor

// DefaultManufacturer is reported in the device block when none is configured.
const DefaultManufacturer = "LHMMQTT"

// Device is the machine every sensor is attached to on the receiving side.
type Device struct {
	Name         string `json:"name"`
	Identifier   string `json:"-"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
}

// NewDevice builds a Device from a host name. The name is sanitized and
// doubles as the identifier.
func NewDevice(hostname, model, manufacturer string) Device {
	name := Sanitize(hostname)
	if manufacturer == "" {
		manufacturer = DefaultManufacturer
	}
	return Device{
		Name:         name,
		Identifier:   name,
		Model:        model,
		Manufacturer: manufacturer,
	}
}

// deviceBlock is the wire form embedded in discovery payloads.
type deviceBlock struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

func (d Device) block() deviceBlock {
	return deviceBlock{
		Name:         d.Name,
		Identifiers:  []string{d.Identifier},
		Model:        d.Model,
		Manufacturer: d.Manufacturer,
	}
}
