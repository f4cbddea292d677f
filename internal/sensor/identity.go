package sensor

import "strings"

// Sanitize strips every character outside [A-Za-z0-9].
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return -1
		}
	}, s)
}

// UniqueID derives the stable identifier of a sensor.
//
// The result is "{device}_{unit}_{sensor}_{kind}" with the unit and sensor
// names sanitized. The device name is used as given; callers pass the
// already sanitized Device.Name. Empty segments are kept, never rejected.
func UniqueID(deviceName, unitName, sensorName, kindTag string) string {
	var b strings.Builder
	b.Grow(len(deviceName) + len(unitName) + len(sensorName) + len(kindTag) + 3)
	b.WriteString(deviceName)
	b.WriteByte('_')
	b.WriteString(Sanitize(unitName))
	b.WriteByte('_')
	b.WriteString(Sanitize(sensorName))
	b.WriteByte('_')
	b.WriteString(kindTag)
	return b.String()
}
