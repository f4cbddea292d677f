package sensor

import (
	"math"
	"strconv"
	"strings"
)

// Kind is the closed set of sensor classifications.
type Kind int

// Sensor kinds. KindUnknown covers native types outside the table.
const (
	KindUnknown Kind = iota
	KindVoltage
	KindCurrent
	KindPower
	KindClock
	KindTemperature
	KindLoad
	KindFrequency
	KindFan
	KindFlow
	KindControl
	KindLevel
	KindFactor
	KindData
	KindSmallData
	KindThroughput
	KindTimeSpan
	KindEnergy
	KindNoise
	KindConductivity
	KindHumidity
)

// Format is the numeric rendering rule for a state payload.
type Format int

const (
	// FormatInteger rounds to the nearest whole number.
	FormatInteger Format = iota
	// FormatFixed2 renders two decimal places.
	FormatFixed2
)

// Descriptor is the static metadata for one kind.
type Descriptor struct {
	Unit           string
	Classification string
	Format         Format
}

type kindEntry struct {
	tag string
	Descriptor
}

var kindTable = [...]kindEntry{
	KindUnknown:      {"", Descriptor{}},
	KindVoltage:      {"Voltage", Descriptor{"V", "voltage", FormatFixed2}},
	KindCurrent:      {"Current", Descriptor{"A", "current", FormatFixed2}},
	KindPower:        {"Power", Descriptor{"W", "power", FormatFixed2}},
	KindClock:        {"Clock", Descriptor{"MHz", "frequency", FormatInteger}},
	KindTemperature:  {"Temperature", Descriptor{"°C", "temperature", FormatFixed2}},
	KindLoad:         {"Load", Descriptor{"%", "", FormatInteger}},
	KindFrequency:    {"Frequency", Descriptor{"MHz", "frequency", FormatInteger}},
	KindFan:          {"Fan", Descriptor{"RPM", "speed", FormatInteger}},
	KindFlow:         {"Flow", Descriptor{"L/min", "volume_flow_rate", FormatInteger}},
	KindControl:      {"Control", Descriptor{}},
	KindLevel:        {"Level", Descriptor{}},
	KindFactor:       {"Factor", Descriptor{}},
	KindData:         {"Data", Descriptor{"GB", "data_size", FormatInteger}},
	KindSmallData:    {"SmallData", Descriptor{"MB", "data_size", FormatInteger}},
	KindThroughput:   {"Throughput", Descriptor{"bps", "", FormatInteger}},
	KindTimeSpan:     {"TimeSpan", Descriptor{"s", "", FormatInteger}},
	KindEnergy:       {"Energy", Descriptor{"Wh", "energy", FormatInteger}},
	KindNoise:        {"Noise", Descriptor{"dB", "sound_pressure", FormatInteger}},
	KindConductivity: {"Conductivity", Descriptor{"S/m", "", FormatInteger}},
	KindHumidity:     {"Humidity", Descriptor{"%", "moisture", FormatInteger}},
}

// String returns the kind's tag, or "Unknown".
func (k Kind) String() string {
	if k <= KindUnknown || int(k) >= len(kindTable) {
		return "Unknown"
	}
	return kindTable[k].tag
}

// ParseKind resolves a native sensor type tag, ignoring case.
func ParseKind(tag string) (Kind, bool) {
	for k := KindVoltage; int(k) < len(kindTable); k++ {
		if strings.EqualFold(kindTable[k].tag, tag) {
			return k, true
		}
	}
	return KindUnknown, false
}

// Describe returns the descriptor for k. Unknown kinds get an empty unit
// and classification with the integer format.
func Describe(k Kind) Descriptor {
	if k <= KindUnknown || int(k) >= len(kindTable) {
		return Descriptor{Format: FormatInteger}
	}
	return kindTable[k].Descriptor
}

// FormatValue renders v according to the format rule of k.
func FormatValue(k Kind, v float64) string {
	switch Describe(k).Format {
	case FormatFixed2:
		return trimNegativeZero(strconv.FormatFloat(v, 'f', 2, 64))
	default:
		return trimNegativeZero(strconv.FormatFloat(math.Round(v), 'f', 0, 64))
	}
}

// trimNegativeZero turns "-0" and "-0.00" into their unsigned form.
func trimNegativeZero(s string) string {
	if strings.HasPrefix(s, "-") && strings.Trim(s[1:], "0.") == "" {
		return s[1:]
	}
	return s
}
