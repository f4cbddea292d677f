package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/hwmqtt/internal/hardware"
)

// expireAfterMultiplier is how many missed updates mark a sensor unavailable.
const expireAfterMultiplier = 3

// CatalogOptions configures a Catalog.
type CatalogOptions struct {
	// Source is the hardware tree to enumerate. Required.
	Source hardware.Source

	// Device is attached to every discovery payload. Device.Name is required.
	Device Device

	// Topics defaults to DefaultTopics.
	Topics Topics

	// UpdateInterval drives expire_after. It must already be resolved to a
	// positive duration by the caller.
	UpdateInterval time.Duration

	// Logger is optional.
	Logger Logger
}

// Catalog owns the sensor records for the current hardware snapshot.
//
// The record set is empty until Discover runs and is replaced wholesale by
// Reinitialize. Records are never removed one at a time.
//
// Thread Safety: All methods are safe for concurrent use.
type Catalog struct {
	device      Device
	topics      Topics
	expireAfter int
	logger      Logger

	mu      sync.RWMutex
	src     hardware.Source
	records map[string]*Record
	order   []*Record
}

// NewCatalog creates an empty catalog.
func NewCatalog(opts CatalogOptions) (*Catalog, error) {
	if opts.Source == nil {
		return nil, ErrNoSource
	}
	if opts.Device.Name == "" {
		return nil, ErrInvalidDevice
	}
	if opts.Topics == (Topics{}) {
		opts.Topics = DefaultTopics()
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Catalog{
		device:      opts.Device,
		topics:      opts.Topics,
		expireAfter: int(opts.UpdateInterval/time.Second) * expireAfterMultiplier,
		logger:      opts.Logger,
		src:         opts.Source,
		records:     make(map[string]*Record),
	}, nil
}

// Discover builds a record for every sensor of every enabled unit and
// publishes its discovery payload.
//
// On a catalog that is already populated the existing records are simply
// republished. Payloads are never rebuilt. If a publish fails or ctx is
// cancelled the record set is cleared so the next call starts over.
// An empty result yields ErrNoSensors.
func (c *Catalog) Discover(ctx context.Context, pub Publisher) ([]*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.src == nil {
		return nil, ErrNoSource
	}

	if len(c.order) == 0 {
		c.enumerate()
	}
	if len(c.order) == 0 {
		return nil, ErrNoSensors
	}

	for _, rec := range c.order {
		if err := ctx.Err(); err != nil {
			c.reset()
			return nil, fmt.Errorf("discovery cancelled: %w", err)
		}
		if err := rec.Configure(ctx, pub); err != nil {
			c.reset()
			return nil, err
		}
		c.logger.Debug("configured sensor", "name", rec.Name, "kind", rec.Kind.String(), "unique_id", rec.UniqueID)
	}

	c.logger.Info("sensor discovery complete", "sensors", len(c.order))
	return c.snapshot(), nil
}

// Republish sends the discovery payload of every known record again, for
// example after the receiving platform restarts. Unlike Discover it never
// clears the record set; failed records are reported together.
func (c *Catalog) Republish(ctx context.Context, pub Publisher) error {
	var errs []error
	for _, rec := range c.Records() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("republish cancelled: %w", err)
		}
		if err := rec.Configure(ctx, pub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// enumerate populates the record set from the source. Caller holds c.mu.
//
// When two sensors share a unique id the first one enumerated wins and the
// later one is logged and left out.
func (c *Catalog) enumerate() {
	cats := c.src.Categories()
	for _, unit := range c.src.Hardware() {
		if unit.Category != "" && !cats.Enabled(unit.Category) {
			continue
		}
		for _, s := range unit.Sensors {
			rec := NewRecord(c.device, c.topics, unit, s, c.expireAfter)
			if rec.Kind == KindUnknown {
				c.logger.Info("unknown sensor type", "unit", unit.Name, "sensor", s.Name, "type", s.Kind)
			}
			if existing, dup := c.records[rec.UniqueID]; dup {
				c.logger.Warn("sensor unique id collision, keeping first",
					"unique_id", rec.UniqueID,
					"kept", existing.RawID,
					"dropped", rec.RawID,
				)
				continue
			}
			c.records[rec.UniqueID] = rec
			c.order = append(c.order, rec)
		}
	}
}

// reset discards all records. Caller holds c.mu.
func (c *Catalog) reset() {
	c.records = make(map[string]*Record)
	c.order = nil
}

func (c *Catalog) snapshot() []*Record {
	out := make([]*Record, len(c.order))
	copy(out, c.order)
	return out
}

// Reinitialize swaps in a new hardware source and clears the record set.
// The previous source is released. Discover must run again afterwards.
func (c *Catalog) Reinitialize(src hardware.Source) error {
	if src == nil {
		return ErrNoSource
	}

	c.mu.Lock()
	old := c.src
	c.src = src
	c.reset()
	c.mu.Unlock()

	if old != nil && old != src {
		if err := old.Release(); err != nil {
			return fmt.Errorf("releasing previous hardware source: %w", err)
		}
	}
	c.logger.Info("sensor catalog reinitialised", "categories", fmt.Sprintf("%+v", src.Categories()))
	return nil
}

// Release releases the hardware source. The records stay readable.
func (c *Catalog) Release() error {
	c.mu.RLock()
	src := c.src
	c.mu.RUnlock()
	if src == nil {
		return nil
	}
	return src.Release()
}

// Source returns the current hardware source.
func (c *Catalog) Source() hardware.Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.src
}

// Lookup returns the record with the given unique id.
func (c *Catalog) Lookup(uniqueID string) (*Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[uniqueID]
	return rec, ok
}

// Match returns the record for a live sensor of unit u.
func (c *Catalog) Match(u hardware.Unit, s hardware.Sensor) (*Record, bool) {
	return c.Lookup(UniqueID(c.device.Name, u.Name, s.Name, s.Kind))
}

// Records returns the records in enumeration order.
func (c *Catalog) Records() []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot()
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Device returns the device attached to every record.
func (c *Catalog) Device() Device {
	return c.device
}
