package hardware

import (
	"context"
	"errors"
)

// ErrReleased is returned when a source is used after Release.
var ErrReleased = errors.New("hardware: source released")

// Category groups hardware units the way the monitoring configuration does.
type Category string

// Supported hardware categories.
const (
	CategoryCPU         Category = "cpu"
	CategoryGPU         Category = "gpu"
	CategoryMemory      Category = "memory"
	CategoryMotherboard Category = "motherboard"
	CategoryController  Category = "controller"
	CategoryNetworking  Category = "networking"
	CategoryStorage     Category = "storage"
)

// AllCategories lists every category in enumeration order.
var AllCategories = []Category{
	CategoryCPU,
	CategoryGPU,
	CategoryMemory,
	CategoryMotherboard,
	CategoryController,
	CategoryNetworking,
	CategoryStorage,
}

// Categories holds the per-category enable flags for a source.
type Categories struct {
	CPU         bool `json:"cpu" yaml:"cpu"`
	GPU         bool `json:"gpu" yaml:"gpu"`
	Memory      bool `json:"memory" yaml:"memory"`
	Motherboard bool `json:"motherboard" yaml:"motherboard"`
	Controller  bool `json:"controller" yaml:"controller"`
	Networking  bool `json:"networking" yaml:"networking"`
	Storage     bool `json:"storage" yaml:"storage"`
}

// Enabled reports whether the given category is switched on.
func (c Categories) Enabled(cat Category) bool {
	switch cat {
	case CategoryCPU:
		return c.CPU
	case CategoryGPU:
		return c.GPU
	case CategoryMemory:
		return c.Memory
	case CategoryMotherboard:
		return c.Motherboard
	case CategoryController:
		return c.Controller
	case CategoryNetworking:
		return c.Networking
	case CategoryStorage:
		return c.Storage
	default:
		return false
	}
}

// Any reports whether at least one category is enabled.
func (c Categories) Any() bool {
	for _, cat := range AllCategories {
		if c.Enabled(cat) {
			return true
		}
	}
	return false
}

// Sensor is a single reading exposed by a hardware unit.
//
// Kind is the source's native type tag (e.g. "Temperature", "Load").
// ID is stable within its unit across refreshes. Value is nil when the
// sensor currently has no reading.
type Sensor struct {
	Name  string
	Kind  string
	ID    string
	Value *float64
}

// HasValue reports whether the sensor carries a current reading.
func (s Sensor) HasValue() bool {
	return s.Value != nil
}

// Unit is one piece of hardware (a CPU package, a NIC, a disk) and its sensors.
type Unit struct {
	Name     string
	Category Category
	Sensors  []Sensor
}

// Source is a refreshable tree of hardware units.
//
// Implementations must allow Refresh to be called repeatedly and Release
// to be called more than once. Refresh after Release returns ErrReleased.
type Source interface {
	// Categories returns the enable flags the source was opened with.
	Categories() Categories

	// Hardware returns a snapshot of the enabled units as of the last refresh.
	Hardware() []Unit

	// Refresh re-samples every sensor value. It may block.
	Refresh(ctx context.Context) error

	// Release closes any OS handles held by the source.
	Release() error
}

// Float returns a pointer to v, for building sensors with a reading.
func Float(v float64) *float64 {
	return &v
}

// cloneUnits deep-copies units so callers can't mutate source state.
func cloneUnits(units []Unit) []Unit {
	if units == nil {
		return nil
	}
	out := make([]Unit, len(units))
	for i, u := range units {
		out[i] = Unit{Name: u.Name, Category: u.Category}
		if u.Sensors != nil {
			out[i].Sensors = make([]Sensor, len(u.Sensors))
			for j, s := range u.Sensors {
				out[i].Sensors[j] = s
				if s.Value != nil {
					out[i].Sensors[j].Value = Float(*s.Value)
				}
			}
		}
	}
	return out
}
