package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/hwmqtt/internal/hardware"
	"github.com/nerrad567/hwmqtt/internal/infrastructure/config"
	"github.com/nerrad567/hwmqtt/internal/telemetry"
)

// shutdownTimeout bounds the final stop and cooldown wait in Run.
const shutdownTimeout = 20 * time.Second

// ErrShuttingDown is returned by Start once Run has begun shutting down.
var ErrShuttingDown = errors.New("supervisor: shutting down")

// Service is the lifecycle surface the supervisor drives.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	WaitCooldown(ctx context.Context) error
	SetCategories(cats hardware.Categories)
}

// Config holds the restart policy.
type Config struct {
	// AutoStart starts the service when Run begins.
	AutoStart bool

	// RestartOnFailure retries failed starts and crashed runs.
	RestartOnFailure bool

	// InitialDelay is the first backoff interval.
	InitialDelay time.Duration

	// MaxDelay caps the backoff interval.
	MaxDelay time.Duration

	// MaxAttempts limits consecutive restart attempts. 0 means unlimited.
	MaxAttempts int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AutoStart:        true,
		RestartOnFailure: true,
		InitialDelay:     5 * time.Second,
		MaxDelay:         5 * time.Minute,
	}
}

// FromServiceConfig converts the service section of the config file.
func FromServiceConfig(cfg config.ServiceConfig) Config {
	return Config{
		AutoStart:        cfg.AutoStart,
		RestartOnFailure: cfg.RestartOnFailure,
		InitialDelay:     time.Duration(cfg.Restart.InitialDelay) * time.Second,
		MaxDelay:         time.Duration(cfg.Restart.MaxDelay) * time.Second,
		MaxAttempts:      cfg.Restart.MaxAttempts,
	}
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Status is a snapshot of the restart policy state.
type Status struct {
	Wanted          bool   `json:"wanted"`
	Retrying        bool   `json:"retrying"`
	RestartAttempts int    `json:"restart_attempts"`
	LastError       string `json:"last_error,omitempty"`
}

// Supervisor owns the restart policy for one Service.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	svc    Service
	config Config
	logger Logger

	mu       sync.Mutex
	baseCtx  context.Context
	wanted   bool
	attempts int
	lastErr  error
	retry    *retryHandle

	// shuttingDown is set under mu before Run waits on wg; no restart loop
	// is added to wg after that.
	shuttingDown bool
	wg           sync.WaitGroup
}

// retryHandle identifies one pending restart loop.
type retryHandle struct {
	cancel context.CancelFunc
}

// New creates a supervisor for svc.
func New(svc Service, cfg Config) *Supervisor {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	return &Supervisor{
		svc:     svc,
		config:  cfg,
		logger:  noopLogger{},
		baseCtx: context.Background(),
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Run starts the service if AutoStart is set and blocks until ctx ends.
// It then stops the service and waits out its cooldown so the process can
// exit without leaving hardware handles half released.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if s.config.AutoStart {
		if err := s.Start(ctx); err != nil {
			s.logger.Warn("auto start failed", "error", err)
		}
	}

	<-ctx.Done()
	s.logger.Info("supervisor shutting down")

	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.Stop(shutdownCtx)
	if waitErr := s.svc.WaitCooldown(shutdownCtx); waitErr != nil {
		err = errors.Join(err, fmt.Errorf("waiting for cooldown: %w", waitErr))
	}
	s.wg.Wait()
	return err
}

// Start starts the service and re-enables automatic restarts.
//
// A failed start is returned to the caller. When RestartOnFailure is set it
// is also retried in the background.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	s.wanted = true
	s.attempts = 0
	s.cancelRetryLocked()
	s.mu.Unlock()

	err := s.svc.Start(ctx)
	if err != nil {
		s.recordFailure(err)
		if s.config.RestartOnFailure && !errors.Is(err, telemetry.ErrCoolingDown) && !errors.Is(err, telemetry.ErrStopping) {
			s.scheduleRestart(err)
		}
	}
	return err
}

// Stop stops the service and disables automatic restarts.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.wanted = false
	s.cancelRetryLocked()
	s.mu.Unlock()

	return s.svc.Stop(ctx)
}

// Restart stops the service, waits for the cooldown and starts it again.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return fmt.Errorf("stopping for restart: %w", err)
	}
	if err := s.svc.WaitCooldown(ctx); err != nil {
		return fmt.Errorf("waiting for cooldown: %w", err)
	}
	return s.Start(ctx)
}

// Reconfigure changes the enabled hardware categories. A running service is
// restarted so the new set takes effect; a stopped one picks it up on the
// next start.
func (s *Supervisor) Reconfigure(ctx context.Context, cats hardware.Categories) error {
	s.svc.SetCategories(cats)
	s.logger.Info("hardware categories changed", "categories", fmt.Sprintf("%+v", cats))
	if !s.svc.IsRunning() {
		return nil
	}
	return s.Restart(ctx)
}

// ServiceStopped is the telemetry OnStopped hook. A nil err is a requested
// stop; anything else is a crash and may trigger a restart.
func (s *Supervisor) ServiceStopped(err error) {
	if err == nil {
		return
	}
	s.logger.Warn("telemetry service stopped unexpectedly", "error", err)
	s.recordFailure(err)
	if s.config.RestartOnFailure {
		s.scheduleRestart(err)
	}
}

// Status returns the restart policy state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Wanted:          s.wanted,
		Retrying:        s.retry != nil,
		RestartAttempts: s.attempts,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Supervisor) recordFailure(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// cancelRetryLocked stops a pending restart loop. Caller holds s.mu.
func (s *Supervisor) cancelRetryLocked() {
	if s.retry != nil {
		s.retry.cancel()
		s.retry = nil
	}
}

// scheduleRestart launches the restart loop unless one is already pending,
// restarts are not wanted, or Run is shutting down.
func (s *Supervisor) scheduleRestart(cause error) {
	s.mu.Lock()
	if s.retry != nil || !s.wanted || s.shuttingDown {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	h := &retryHandle{cancel: cancel}
	s.retry = h
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("scheduling service restart", "cause", cause)
	go s.restartLoop(ctx, h)
}

// newBackOff builds the restart schedule from config.
func (s *Supervisor) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.InitialDelay
	bo.MaxInterval = s.config.MaxDelay
	bo.MaxElapsedTime = 0

	if s.config.MaxAttempts > 0 {
		return backoff.WithMaxRetries(bo, uint64(s.config.MaxAttempts))
	}
	return bo
}

// restartLoop waits for each backoff interval and the service cooldown, then
// tries to start the service, until it runs or attempts run out.
func (s *Supervisor) restartLoop(ctx context.Context, h *retryHandle) {
	defer s.wg.Done()
	defer func() {
		h.cancel()
		s.mu.Lock()
		if s.retry == h {
			s.retry = nil
		}
		s.mu.Unlock()
	}()

	b := s.newBackOff()
	b.Reset()

	for {
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			s.logger.Error("max restart attempts reached, giving up", "attempts", s.Status().RestartAttempts)
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.svc.WaitCooldown(ctx); err != nil {
			return
		}

		s.mu.Lock()
		if !s.wanted || ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		s.logger.Info("restarting telemetry service", "attempt", attempt, "delay", delay)
		err := s.svc.Start(ctx)
		if err == nil {
			s.logger.Info("telemetry service restarted", "attempt", attempt)
			s.mu.Lock()
			s.attempts = 0
			s.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.recordFailure(err)
		s.logger.Warn("restart attempt failed", "attempt", attempt, "error", err)
	}
}
