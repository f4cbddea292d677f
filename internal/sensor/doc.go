// Package sensor turns hardware readings into discoverable broker sensors.
//
// It owns three pieces:
//   - identity: UniqueID derives a stable id from device, unit, sensor and kind
//   - descriptors: a static table mapping each Kind to unit, device class and format
//   - the catalog: the record set for one hardware snapshot, each record carrying
//     a discovery payload that is built once and then cached
//
// # Wire Format
//
// Discovery messages go to
//
//	homeassistant/sensor/{device}/{unique_id}/config
//
// as retained JSON objects with the fields name, state_topic, device_class
// (omitted when empty), unit_of_measurement, unique_id, expire_after and
// device. State values go to
//
//	lhmmqtt/{unique_id}{raw_id}/state
//
// as plain strings formatted per kind.
//
// # Usage
//
//	cat, err := sensor.NewCatalog(sensor.CatalogOptions{
//	    Source:         src,
//	    Device:         sensor.NewDevice(hostname, model, ""),
//	    UpdateInterval: 10 * time.Second,
//	})
//	records, err := cat.Discover(ctx, publisher)
package sensor
