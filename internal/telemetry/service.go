package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/hwmqtt/internal/hardware"
	"github.com/nerrad567/hwmqtt/internal/sensor"
)

// State is the lifecycle state of the service.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Lifecycle defaults.
const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultConfirmTimeout    = 5 * time.Second
	DefaultDrainTimeout      = 10 * time.Second
	DefaultDisconnectTimeout = 3 * time.Second
	DefaultEmergencyTimeout  = 1 * time.Second
	DefaultCooldown          = 5 * time.Second
	DefaultUpdateInterval    = 10 * time.Second
)

// Timeouts bounds each blocking lifecycle step. Zero fields take the defaults.
type Timeouts struct {
	// Connect bounds Publisher.Connect during start.
	Connect time.Duration

	// Confirm bounds discovery after the connection is up.
	Confirm time.Duration

	// Drain bounds the wait for the update loop to exit on Stop.
	Drain time.Duration

	// Disconnect bounds Publisher.Disconnect on Stop and on failed starts.
	Disconnect time.Duration

	// Emergency bounds the disconnect after a fatal loop error.
	Emergency time.Duration
}

// DefaultTimeouts returns the standard lifecycle bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:    DefaultConnectTimeout,
		Confirm:    DefaultConfirmTimeout,
		Drain:      DefaultDrainTimeout,
		Disconnect: DefaultDisconnectTimeout,
		Emergency:  DefaultEmergencyTimeout,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Connect <= 0 {
		t.Connect = d.Connect
	}
	if t.Confirm <= 0 {
		t.Confirm = d.Confirm
	}
	if t.Drain <= 0 {
		t.Drain = d.Drain
	}
	if t.Disconnect <= 0 {
		t.Disconnect = d.Disconnect
	}
	if t.Emergency <= 0 {
		t.Emergency = d.Emergency
	}
	return t
}

// Logger defines the logging interface for the service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Service.
type Options struct {
	// OpenSource opens the hardware source for a run. Required.
	OpenSource SourceFactory

	// NewPublisher creates the publisher for a run. Required.
	NewPublisher PublisherFactory

	// Device is attached to every discovery payload. Device.Name is required.
	Device sensor.Device

	// Topics defaults to sensor.DefaultTopics.
	Topics sensor.Topics

	// Categories are the hardware categories enabled for the first run.
	Categories hardware.Categories

	// UpdateInterval is the sleep between ticks. Zero or negative means 10s.
	UpdateInterval time.Duration

	Timeouts Timeouts

	// Cooldown follows every stop. Zero means 5s.
	Cooldown time.Duration

	// MaxConcurrentPublishes limits in-flight state publishes per tick.
	// Zero or negative means no limit.
	MaxConcurrentPublishes int

	Logger  Logger
	Metrics *Metrics

	// OnStopped is called after a running service reaches stopped.
	// err is nil for a requested stop and wraps ErrLoopFatal after a crash.
	// It must not block.
	OnStopped func(err error)
}

// Status is a point-in-time view of the service.
type Status struct {
	State             State               `json:"state"`
	Running           bool                `json:"running"`
	RunID             string              `json:"run_id,omitempty"`
	StartedAt         time.Time           `json:"started_at,omitzero"`
	Sensors           int                 `json:"sensors"`
	Categories        hardware.Categories `json:"categories"`
	BrokerConnected   bool                `json:"broker_connected"`
	CooldownRemaining time.Duration       `json:"cooldown_remaining"`
	Runs              int                 `json:"runs"`
	LastError         string              `json:"last_error,omitempty"`
}

// Service publishes hardware telemetry for one device.
//
// Thread Safety: All methods are safe for concurrent use. Start and Stop are
// serialised by the state machine; at most one run holds the publisher and
// hardware source at any time.
type Service struct {
	opts     Options
	timeouts Timeouts
	interval time.Duration
	topics   sensor.Topics
	logger   Logger
	metrics  *Metrics

	mu            sync.Mutex
	state         State
	run           *run
	catalog       *sensor.Catalog
	categories    hardware.Categories
	cooldownUntil time.Time
	cooldownTimer *time.Timer
	lastErr       error
	startedAt     time.Time
	runs          int
}

// New creates a stopped service.
func New(opts Options) (*Service, error) {
	if opts.OpenSource == nil {
		return nil, fmt.Errorf("%w: no source factory", sensor.ErrNoSource)
	}
	if opts.NewPublisher == nil {
		return nil, errors.New("telemetry: publisher factory is required")
	}
	if opts.Device.Name == "" {
		return nil, sensor.ErrInvalidDevice
	}

	interval := opts.UpdateInterval
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.MaxConcurrentPublishes <= 0 {
		opts.MaxConcurrentPublishes = -1
	}
	topics := opts.Topics
	if topics == (sensor.Topics{}) {
		topics = sensor.DefaultTopics()
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	s := &Service{
		opts:       opts,
		timeouts:   opts.Timeouts.withDefaults(),
		interval:   interval,
		topics:     topics,
		logger:     logger,
		metrics:    opts.Metrics,
		state:      StateStopped,
		categories: opts.Categories,
	}
	s.metrics.setState(StateStopped)
	return s, nil
}

// Start connects, runs discovery and launches the update loop.
//
// It blocks until the service is running or the start has failed. Calling
// Start while starting or running returns nil without side effects. During
// a stop or its cooldown Start is rejected. If ctx ends first the run is
// stopped and ErrStartAborted is returned.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateRunning, StateStarting:
		s.mu.Unlock()
		s.logger.Info("telemetry service already running")
		return nil
	case StateStopping:
		s.mu.Unlock()
		return ErrStopping
	}
	if remaining := time.Until(s.cooldownUntil); remaining > 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s remaining", ErrCoolingDown, remaining.Round(time.Millisecond))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := newRun(cancel)
	s.run = r
	s.state = StateStarting
	s.lastErr = nil
	cats := s.categories
	s.mu.Unlock()

	s.metrics.setState(StateStarting)
	s.logger.Info("starting telemetry service", "run_id", r.id, "interval", s.interval)

	go s.execute(runCtx, r, cats)

	select {
	case err := <-r.started:
		return err
	case <-ctx.Done():
		s.logger.Warn("start abandoned by caller", "run_id", r.id, "error", ctx.Err())
		if err := s.Stop(context.Background()); err != nil {
			s.logger.Warn("stopping abandoned start", "run_id", r.id, "error", err)
		}
		return fmt.Errorf("%w: %w", ErrStartAborted, ctx.Err())
	}
}

// Stop cancels the current run and releases its resources.
//
// It waits up to the drain timeout for the loop to exit, or less if ctx
// ends first, then disconnects the publisher and releases the hardware
// source regardless. Stop on a stopped service is a no-op. A Stop issued
// while another is in progress waits for that one.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.run
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateStopping {
		s.mu.Unlock()
		select {
		case <-r.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.metrics.setState(StateStopping)
	s.logger.Info("stopping telemetry service", "run_id", r.id)
	r.cancel()

	drain := time.NewTimer(s.timeouts.Drain)
	defer drain.Stop()
	select {
	case <-r.done:
	case <-drain.C:
		s.logger.Warn("update loop did not exit in time, releasing resources", "run_id", r.id, "timeout", s.timeouts.Drain)
	case <-ctx.Done():
		s.logger.Warn("stop wait abandoned, releasing resources", "run_id", r.id, "error", ctx.Err())
	}

	r.teardown(s.timeouts.Disconnect, s.logger)

	s.mu.Lock()
	wasRunning := r.running
	if s.run == r {
		s.state = StateStopped
		s.run = nil
		if !wasRunning {
			s.catalog = nil
		}
		s.startCooldown()
	}
	s.mu.Unlock()
	close(r.stopped)

	s.metrics.setState(StateStopped)
	s.logger.Info("telemetry service stopped", "run_id", r.id, "cooldown", s.opts.Cooldown)

	if wasRunning && s.opts.OnStopped != nil {
		s.opts.OnStopped(nil)
	}
	return nil
}

// startCooldown arms the post-stop cooldown. Caller holds s.mu.
func (s *Service) startCooldown() {
	s.cooldownUntil = time.Now().Add(s.opts.Cooldown)
	if s.cooldownTimer != nil {
		s.cooldownTimer.Stop()
	}
	s.cooldownTimer = time.AfterFunc(s.opts.Cooldown, func() {
		s.logger.Debug("telemetry service cooldown elapsed")
	})
}

// execute is the body of one run.
func (s *Service) execute(ctx context.Context, r *run, cats hardware.Categories) {
	defer close(r.done)

	cat, err := s.startup(ctx, r, cats)
	if err != nil {
		s.metrics.started(false)
		s.abortStartup(r, err)
		r.started <- err
		return
	}

	if !s.markRunning(r, cat) {
		// A stop arrived between discovery and the state change; Stop owns teardown.
		s.metrics.started(false)
		r.started <- ErrStartAborted
		return
	}
	s.metrics.started(true)
	r.started <- nil

	if err := s.loop(ctx, r, cat); err != nil {
		s.crash(r, err)
	}
}

// startup acquires the run's resources and publishes discovery.
func (s *Service) startup(ctx context.Context, r *run, cats hardware.Categories) (*sensor.Catalog, error) {
	src, err := s.opts.OpenSource(ctx, cats)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceFailed, err)
	}
	if !r.adoptSource(src, s.logger) {
		return nil, fmt.Errorf("%w: stopped while opening hardware", ErrStartAborted)
	}

	pub := s.opts.NewPublisher()
	if !r.adoptPublisher(pub) {
		return nil, fmt.Errorf("%w: stopped before connecting", ErrStartAborted)
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.timeouts.Connect)
	err = callWithinOr(connectCtx, pub.Connect, func(lateErr error) {
		s.discardLateConnect(r, pub, lateErr)
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartAborted, err)
	}
	if !pub.IsConnected() {
		return nil, fmt.Errorf("%w: publisher reports not connected", ErrConnectFailed)
	}
	s.logger.Info("publisher connected", "run_id", r.id)

	cat, err := s.catalogFor(src)
	if err != nil {
		return nil, err
	}

	discoverCtx, cancel := context.WithTimeout(ctx, s.timeouts.Confirm)
	records, err := cat.Discover(discoverCtx, pub)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	s.metrics.setSensors(len(records))

	s.watchPlatform(ctx, r, cat, pub)
	return cat, nil
}

// discardLateConnect disconnects a publisher whose Connect returned after
// the start had already given up on it.
func (s *Service) discardLateConnect(r *run, pub Publisher, err error) {
	if err != nil {
		return
	}
	s.logger.Warn("publisher connected after start gave up, disconnecting", "run_id", r.id)
	ctx, cancel := context.WithTimeout(context.Background(), s.timeouts.Disconnect)
	defer cancel()
	if err := callWithin(ctx, pub.Disconnect); err != nil {
		s.logger.Warn("disconnecting late publisher", "run_id", r.id, "error", err)
	}
}

// catalogFor returns the service catalog bound to src.
func (s *Service) catalogFor(src hardware.Source) (*sensor.Catalog, error) {
	s.mu.Lock()
	cat := s.catalog
	s.mu.Unlock()

	if cat != nil {
		if err := cat.Reinitialize(src); err != nil {
			s.logger.Warn("reinitialising sensor catalog", "error", err)
		}
		return cat, nil
	}

	cat, err := sensor.NewCatalog(sensor.CatalogOptions{
		Source:         src,
		Device:         s.opts.Device,
		Topics:         s.topics,
		UpdateInterval: s.interval,
		Logger:         s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	s.mu.Lock()
	s.catalog = cat
	s.mu.Unlock()
	return cat, nil
}

// watchPlatform republishes discovery whenever the platform announces itself.
func (s *Service) watchPlatform(ctx context.Context, r *run, cat *sensor.Catalog, pub Publisher) {
	sub, ok := pub.(Subscriber)
	if !ok {
		return
	}
	err := sub.Subscribe(PlatformStatusTopic, func(_ string, payload []byte) error {
		if string(payload) != PlatformOnline || ctx.Err() != nil {
			return nil
		}
		s.logger.Info("platform online, republishing discovery", "run_id", r.id, "sensors", cat.Len())
		return cat.Republish(ctx, pub)
	})
	if err != nil {
		s.logger.Warn("subscribing to platform status", "run_id", r.id, "error", err)
	}
}

// abortStartup releases whatever a failed start acquired.
func (s *Service) abortStartup(r *run, err error) {
	s.logger.Error("telemetry service failed to start", "run_id", r.id, "error", err)
	r.teardown(s.timeouts.Disconnect, s.logger)

	s.mu.Lock()
	owned := s.run == r && s.state == StateStarting
	if owned {
		s.state = StateStopped
		s.run = nil
		s.catalog = nil
		s.lastErr = err
	}
	s.mu.Unlock()

	if owned {
		s.metrics.setState(StateStopped)
	}
}

// markRunning moves r from starting to running.
func (s *Service) markRunning(r *run, cat *sensor.Catalog) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != r || s.state != StateStarting {
		return false
	}
	s.state = StateRunning
	s.startedAt = time.Now()
	s.runs++
	r.running = true
	s.metrics.setState(StateRunning)
	s.logger.Info("telemetry service running", "run_id", r.id, "sensors", cat.Len())
	return true
}

// crash handles a fatal loop error: emergency teardown, then straight to stopped.
func (s *Service) crash(r *run, err error) {
	s.logger.Error("telemetry update loop failed", "run_id", r.id, "error", err)
	s.metrics.crashed()
	r.teardown(s.timeouts.Emergency, s.logger)

	s.mu.Lock()
	owned := s.run == r && s.state == StateRunning
	if owned {
		s.state = StateStopped
		s.run = nil
		s.lastErr = err
	}
	s.mu.Unlock()

	if !owned {
		return
	}
	s.metrics.setState(StateStopped)
	if s.opts.OnStopped != nil {
		s.opts.OnStopped(err)
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the update loop is active.
func (s *Service) IsRunning() bool {
	return s.State() == StateRunning
}

// CooldownRemaining returns how long the post-stop cooldown still lasts.
func (s *Service) CooldownRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := time.Until(s.cooldownUntil); d > 0 {
		return d
	}
	return 0
}

// InCooldown reports whether the post-stop cooldown is active.
func (s *Service) InCooldown() bool {
	return s.CooldownRemaining() > 0
}

// WaitCooldown blocks until the cooldown has elapsed or ctx ends.
func (s *Service) WaitCooldown(ctx context.Context) error {
	remaining := s.CooldownRemaining()
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Categories returns the categories the next run will enable.
func (s *Service) Categories() hardware.Categories {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.categories
}

// SetCategories changes the enabled categories. It takes effect on the next Start.
func (s *Service) SetCategories(cats hardware.Categories) {
	s.mu.Lock()
	s.categories = cats
	s.mu.Unlock()
}

// Sensors returns the catalog records of the current or last run.
func (s *Service) Sensors() []*sensor.Record {
	s.mu.Lock()
	cat := s.catalog
	s.mu.Unlock()
	if cat == nil {
		return nil
	}
	return cat.Records()
}

// Status returns a snapshot of the service state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:      s.state,
		Running:    s.state == StateRunning,
		Categories: s.categories,
		Runs:       s.runs,
	}
	if s.run != nil {
		st.RunID = s.run.id
		if pub := s.run.publisher(); pub != nil {
			st.BrokerConnected = pub.IsConnected()
		}
	}
	if st.Running {
		st.StartedAt = s.startedAt
	}
	if s.catalog != nil {
		st.Sensors = s.catalog.Len()
	}
	if d := time.Until(s.cooldownUntil); d > 0 {
		st.CooldownRemaining = d
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
