package hardware

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/sensors"
)

// bytesPerGB converts byte counters to the GB figures reported for Data sensors.
const bytesPerGB = 1 << 30

// Logger is the optional logging interface used by Host.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// sample carries readings shared by several categories within one refresh.
type sample struct {
	once     sync.Once
	temps    []sensors.TemperatureStat
	tempsErr error
}

// temperatures reads all hwmon temperatures at most once per refresh.
func (s *sample) temperatures(ctx context.Context) ([]sensors.TemperatureStat, error) {
	s.once.Do(func() {
		s.temps, s.tempsErr = sensors.TemperaturesWithContext(ctx)
		// gopsutil reports per-chip read warnings alongside partial results.
		if s.tempsErr != nil && len(s.temps) > 0 {
			s.tempsErr = nil
		}
	})
	return s.temps, s.tempsErr
}

// sampleFunc produces the units of one category.
type sampleFunc func(ctx context.Context, s *sample) ([]Unit, error)

type sampler struct {
	category Category
	sample   sampleFunc
}

// Host is a Source backed by the local operating system via gopsutil.
//
// Controller hardware has no portable OS interface, so that category is
// accepted but never yields units.
type Host struct {
	cats     Categories
	samplers []sampler
	logger   Logger

	mu       sync.RWMutex
	units    []Unit
	released bool
}

// Open creates a Host for the enabled categories and takes the first sample.
//
// A partially failed first sample is logged rather than returned, so that
// machines missing some sensor interfaces still expose the rest.
func Open(ctx context.Context, cats Categories, logger Logger) (*Host, error) {
	h := newHost(cats, hostSamplers(newNICTracker()), logger)
	if err := h.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("opening hardware source: %w", err)
		}
		h.logger.Warn("initial hardware sample incomplete", "error", err)
	}
	return h, nil
}

func newHost(cats Categories, samplers []sampler, logger Logger) *Host {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Host{
		cats:     cats,
		samplers: samplers,
		logger:   logger,
	}
}

// Categories returns the enable flags the host was opened with.
func (h *Host) Categories() Categories {
	return h.cats
}

// Hardware returns a copy of the units captured by the last refresh.
func (h *Host) Hardware() []Unit {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return cloneUnits(h.units)
}

// Refresh re-samples every enabled category.
//
// A category whose sampler fails keeps its previous units with all values
// cleared; the failures are joined into the returned error.
func (h *Host) Refresh(ctx context.Context) error {
	h.mu.RLock()
	released := h.released
	previous := h.units
	h.mu.RUnlock()
	if released {
		return ErrReleased
	}

	var (
		units []Unit
		errs  []error
		s     sample
	)
	for _, sm := range h.samplers {
		if !h.cats.Enabled(sm.category) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		got, err := sm.sample(ctx, &s)
		if err != nil {
			errs = append(errs, fmt.Errorf("sampling %s: %w", sm.category, err))
			units = append(units, clearedUnits(previous, sm.category)...)
			continue
		}
		units = append(units, got...)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	h.units = units
	return errors.Join(errs...)
}

// Release drops all sampled state. Calling it again is a no-op.
func (h *Host) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	h.units = nil
	h.logger.Debug("hardware source released")
	return nil
}

// clearedUnits returns the units of cat from prev with every value removed.
func clearedUnits(prev []Unit, cat Category) []Unit {
	var out []Unit
	for _, u := range cloneUnits(prev) {
		if u.Category != cat {
			continue
		}
		for i := range u.Sensors {
			u.Sensors[i].Value = nil
		}
		out = append(out, u)
	}
	return out
}

// hostSamplers wires each category to its gopsutil sampler.
func hostSamplers(nics *nicTracker) []sampler {
	return []sampler{
		{CategoryCPU, sampleCPU},
		{CategoryGPU, sampleChipTemperatures(CategoryGPU)},
		{CategoryMemory, sampleMemory},
		{CategoryMotherboard, sampleChipTemperatures(CategoryMotherboard)},
		{CategoryController, func(context.Context, *sample) ([]Unit, error) { return nil, nil }},
		{CategoryNetworking, nics.sample},
		{CategoryStorage, sampleStorage},
	}
}

func sampleCPU(ctx context.Context, s *sample) ([]Unit, error) {
	name := "CPU"
	infos, err := cpu.InfoWithContext(ctx)
	if err == nil && len(infos) > 0 && infos[0].ModelName != "" {
		name = strings.TrimSpace(infos[0].ModelName)
	}

	unit := Unit{Name: name, Category: CategoryCPU}

	total, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	unit.Sensors = append(unit.Sensors, Sensor{
		Name: "CPU Total", Kind: "Load", ID: "/cpu/0/load/0", Value: firstValue(total),
	})

	cores, err := cpu.PercentWithContext(ctx, 0, true)
	if err == nil {
		for i, v := range cores {
			unit.Sensors = append(unit.Sensors, Sensor{
				Name:  "CPU Core #" + strconv.Itoa(i+1),
				Kind:  "Load",
				ID:    "/cpu/0/load/" + strconv.Itoa(i+1),
				Value: Float(v),
			})
		}
	}

	for i, info := range infos {
		if info.Mhz <= 0 {
			continue
		}
		unit.Sensors = append(unit.Sensors, Sensor{
			Name:  "CPU Core #" + strconv.Itoa(i+1),
			Kind:  "Clock",
			ID:    "/cpu/0/clock/" + strconv.Itoa(i+1),
			Value: Float(info.Mhz),
		})
	}

	temps, _ := s.temperatures(ctx)
	n := 0
	for _, t := range temps {
		if classifyTemperature(t.SensorKey) != CategoryCPU {
			continue
		}
		unit.Sensors = append(unit.Sensors, Sensor{
			Name:  temperatureName(t.SensorKey),
			Kind:  "Temperature",
			ID:    "/cpu/0/temperature/" + strconv.Itoa(n),
			Value: Float(t.Temperature),
		})
		n++
	}

	return []Unit{unit}, nil
}

func sampleMemory(ctx context.Context, _ *sample) ([]Unit, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	unit := Unit{
		Name:     "Generic Memory",
		Category: CategoryMemory,
		Sensors: []Sensor{
			{Name: "Memory", Kind: "Load", ID: "/ram/load/0", Value: Float(vm.UsedPercent)},
			{Name: "Memory Used", Kind: "Data", ID: "/ram/data/0", Value: Float(float64(vm.Used) / bytesPerGB)},
			{Name: "Memory Available", Kind: "Data", ID: "/ram/data/1", Value: Float(float64(vm.Available) / bytesPerGB)},
		},
	}

	// Swap is absent on many hosts; report it without values rather than failing.
	swap := []Sensor{
		{Name: "Virtual Memory", Kind: "Load", ID: "/ram/load/1"},
		{Name: "Virtual Memory Used", Kind: "Data", ID: "/ram/data/2"},
	}
	if sw, swErr := mem.SwapMemoryWithContext(ctx); swErr == nil && sw.Total > 0 {
		swap[0].Value = Float(sw.UsedPercent)
		swap[1].Value = Float(float64(sw.Used) / bytesPerGB)
	}
	unit.Sensors = append(unit.Sensors, swap...)

	return []Unit{unit}, nil
}

// sampleChipTemperatures groups the temperatures of one category by chip.
func sampleChipTemperatures(cat Category) sampleFunc {
	return func(ctx context.Context, s *sample) ([]Unit, error) {
		temps, err := s.temperatures(ctx)
		if err != nil {
			return nil, err
		}
		return chipUnits(cat, temps), nil
	}
}

func chipUnits(cat Category, temps []sensors.TemperatureStat) []Unit {
	var (
		units []Unit
		index = make(map[string]int)
	)
	for _, t := range temps {
		if classifyTemperature(t.SensorKey) != cat {
			continue
		}
		chip := chipName(t.SensorKey)
		i, ok := index[chip]
		if !ok {
			i = len(units)
			index[chip] = i
			units = append(units, Unit{Name: chip, Category: cat})
		}
		n := len(units[i].Sensors)
		units[i].Sensors = append(units[i].Sensors, Sensor{
			Name:  temperatureName(t.SensorKey),
			Kind:  "Temperature",
			ID:    "/" + string(cat) + "/" + chip + "/temperature/" + strconv.Itoa(n),
			Value: Float(t.Temperature),
		})
	}
	return units
}

func sampleStorage(ctx context.Context, s *sample) ([]Unit, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	var units []Unit
	seen := make(map[string]bool)
	for _, p := range parts {
		if p.Device == "" || seen[p.Device] {
			continue
		}
		seen[p.Device] = true

		name := filepath.Base(p.Device)
		used := Sensor{Name: "Used Space", Kind: "Load", ID: "/storage/" + name + "/load/0"}
		free := Sensor{Name: "Free Space", Kind: "Data", ID: "/storage/" + name + "/data/0"}
		if usage, uErr := disk.UsageWithContext(ctx, p.Mountpoint); uErr == nil {
			used.Value = Float(usage.UsedPercent)
			free.Value = Float(float64(usage.Free) / bytesPerGB)
		}
		units = append(units, Unit{
			Name:     name,
			Category: CategoryStorage,
			Sensors:  []Sensor{used, free},
		})
	}

	if temps, tErr := s.temperatures(ctx); tErr == nil {
		units = append(units, chipUnits(CategoryStorage, temps)...)
	}
	return units, nil
}

// nicTracker keeps the previous counters per interface to derive throughput.
type nicTracker struct {
	mu   sync.Mutex
	last map[string]nicCounters
	now  func() time.Time
}

type nicCounters struct {
	sent, recv uint64
	at         time.Time
}

func newNICTracker() *nicTracker {
	return &nicTracker{last: make(map[string]nicCounters), now: time.Now}
}

func (t *nicTracker) sample(ctx context.Context, _ *sample) ([]Unit, error) {
	counters, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var units []Unit
	for _, c := range counters {
		if c.Name == "lo" || c.Name == "lo0" {
			continue
		}
		up := Sensor{Name: "Upload Speed", Kind: "Throughput", ID: "/nic/" + c.Name + "/throughput/0"}
		down := Sensor{Name: "Download Speed", Kind: "Throughput", ID: "/nic/" + c.Name + "/throughput/1"}
		if prev, ok := t.last[c.Name]; ok {
			up.Value = rate(prev.sent, c.BytesSent, now.Sub(prev.at))
			down.Value = rate(prev.recv, c.BytesRecv, now.Sub(prev.at))
		}
		t.last[c.Name] = nicCounters{sent: c.BytesSent, recv: c.BytesRecv, at: now}

		units = append(units, Unit{
			Name:     c.Name,
			Category: CategoryNetworking,
			Sensors: []Sensor{
				{Name: "Data Uploaded", Kind: "Data", ID: "/nic/" + c.Name + "/data/0", Value: Float(float64(c.BytesSent) / bytesPerGB)},
				{Name: "Data Downloaded", Kind: "Data", ID: "/nic/" + c.Name + "/data/1", Value: Float(float64(c.BytesRecv) / bytesPerGB)},
				up,
				down,
			},
		})
	}
	return units, nil
}

// rate returns bytes per second between two counter samples, or nil when
// the interval is empty or the counter went backwards.
func rate(prev, cur uint64, elapsed time.Duration) *float64 {
	if elapsed <= 0 || cur < prev {
		return nil
	}
	return Float(float64(cur-prev) / elapsed.Seconds())
}

func firstValue(vs []float64) *float64 {
	if len(vs) == 0 {
		return nil
	}
	return Float(vs[0])
}

// classifyTemperature maps an hwmon sensor key to the category that owns it.
func classifyTemperature(key string) Category {
	k := strings.ToLower(key)
	switch {
	case hasAnyPrefix(k, "coretemp", "k10temp", "zenpower", "cpu"):
		return CategoryCPU
	case hasAnyPrefix(k, "amdgpu", "nouveau", "radeon", "nvidia", "gpu"):
		return CategoryGPU
	case hasAnyPrefix(k, "nvme", "drivetemp"):
		return CategoryStorage
	default:
		return CategoryMotherboard
	}
}

// chipName is the driver prefix of an hwmon key ("nvme_composite" -> "nvme").
func chipName(key string) string {
	if i := strings.IndexByte(key, '_'); i > 0 {
		return key[:i]
	}
	if key == "" {
		return "unknown"
	}
	return key
}

func temperatureName(key string) string {
	return strings.TrimSpace(strings.ReplaceAll(key, "_", " "))
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
