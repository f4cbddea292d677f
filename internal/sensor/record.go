package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/hwmqtt/internal/hardware"
)

// Record is one known sensor and its discovery metadata.
//
// The discovery payload is built on first use and never changes for the
// life of the record. Only the published value varies between ticks.
type Record struct {
	Name           string
	UniqueID       string
	RawID          string
	Kind           Kind
	KindTag        string
	StateTopic     string
	DiscoveryTopic string

	device      Device
	expireAfter int

	once       sync.Once
	payload    []byte
	payloadErr error
	builds     int
}

// discoveryPayload is the config message understood by the receiving platform.
// Field order is part of the wire format.
type discoveryPayload struct {
	Name              string      `json:"name"`
	StateTopic        string      `json:"state_topic"`
	DeviceClass       string      `json:"device_class,omitempty"`
	UnitOfMeasurement string      `json:"unit_of_measurement"`
	UniqueID          string      `json:"unique_id"`
	ExpireAfter       int         `json:"expire_after"`
	Device            deviceBlock `json:"device"`
}

// NewRecord describes sensor s of unit u.
//
// expireAfter is the number of seconds of silence after which the receiving
// side marks the sensor unavailable.
func NewRecord(device Device, topics Topics, u hardware.Unit, s hardware.Sensor, expireAfter int) *Record {
	kind, _ := ParseKind(s.Kind)
	uid := UniqueID(device.Name, u.Name, s.Name, s.Kind)
	return &Record{
		Name:           u.Name + " " + s.Name,
		UniqueID:       uid,
		RawID:          s.ID,
		Kind:           kind,
		KindTag:        s.Kind,
		StateTopic:     topics.State(uid, s.ID),
		DiscoveryTopic: topics.Discovery(device.Name, uid),
		device:         device,
		expireAfter:    expireAfter,
	}
}

// Payload returns the discovery payload, building it on the first call.
func (r *Record) Payload() ([]byte, error) {
	r.once.Do(func() {
		r.builds++
		desc := Describe(r.Kind)
		r.payload, r.payloadErr = json.Marshal(discoveryPayload{
			Name:              r.Name,
			StateTopic:        r.StateTopic,
			DeviceClass:       desc.Classification,
			UnitOfMeasurement: desc.Unit,
			UniqueID:          r.UniqueID,
			ExpireAfter:       r.expireAfter,
			Device:            r.device.block(),
		})
	})
	return r.payload, r.payloadErr
}

// Configure publishes the discovery payload as a retained, exactly-once message.
func (r *Record) Configure(ctx context.Context, pub Publisher) error {
	payload, err := r.Payload()
	if err != nil {
		return fmt.Errorf("building discovery payload for %s: %w", r.UniqueID, err)
	}
	if err := pub.Publish(ctx, r.DiscoveryTopic, payload, ExactlyOnce, true); err != nil {
		return fmt.Errorf("publishing discovery for %s: %w", r.UniqueID, err)
	}
	return nil
}

// FormatValue renders v with the record's kind format.
func (r *Record) FormatValue(v float64) string {
	return FormatValue(r.Kind, v)
}
