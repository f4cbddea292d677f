package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hwmqtt/internal/hardware"
	"github.com/nerrad567/hwmqtt/internal/infrastructure/config"
	"github.com/nerrad567/hwmqtt/internal/telemetry"
)

// mockService scripts Start results and records calls.
type mockService struct {
	mu         sync.Mutex
	running    bool
	results    []error // consumed in order; empty means success
	failAlways error
	calls      []string
	starts     int
	categories hardware.Categories
}

func (m *mockService) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "start")
	m.starts++
	if m.failAlways != nil {
		return m.failAlways
	}
	if len(m.results) > 0 {
		err := m.results[0]
		m.results = m.results[1:]
		if err != nil {
			return err
		}
	}
	m.running = true
	return nil
}

func (m *mockService) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "stop")
	m.running = false
	return nil
}

func (m *mockService) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *mockService) WaitCooldown(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "cooldown")
	return nil
}

func (m *mockService) SetCategories(cats hardware.Categories) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories = cats
}

func (m *mockService) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *mockService) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockService) crash() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func fastConfig() Config {
	return Config{
		AutoStart:        true,
		RestartOnFailure: true,
		InitialDelay:     5 * time.Millisecond,
		MaxDelay:         10 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_AppliesDefaults(t *testing.T) {
	s := New(&mockService{}, Config{MaxDelay: time.Millisecond})
	if s.config.InitialDelay != 5*time.Second {
		t.Errorf("InitialDelay = %v, want 5s", s.config.InitialDelay)
	}
	if s.config.MaxDelay != s.config.InitialDelay {
		t.Errorf("MaxDelay = %v, want at least InitialDelay", s.config.MaxDelay)
	}
}

func TestFromServiceConfig(t *testing.T) {
	got := FromServiceConfig(config.Default().Service)
	want := Config{
		AutoStart:        true,
		RestartOnFailure: true,
		InitialDelay:     5 * time.Second,
		MaxDelay:         300 * time.Second,
	}
	if got != want {
		t.Errorf("FromServiceConfig() = %+v, want %+v", got, want)
	}
}

func TestStart_Success(t *testing.T) {
	svc := &mockService{}
	s := New(svc, fastConfig())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	st := s.Status()
	if !st.Wanted || st.Retrying {
		t.Errorf("Status() = %+v", st)
	}
}

func TestStart_FailureIsRetried(t *testing.T) {
	boom := errors.New("broker down")
	svc := &mockService{results: []error{boom, boom, nil}}
	s := New(svc, fastConfig())

	if err := s.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Start() error = %v, want %v", err, boom)
	}
	waitFor(t, "service to come up", svc.IsRunning)

	if svc.Starts() != 3 {
		t.Errorf("starts = %d, want 3", svc.Starts())
	}
	waitFor(t, "retry to clear", func() bool { return !s.Status().Retrying })
	if got := s.Status().RestartAttempts; got != 0 {
		t.Errorf("RestartAttempts = %d after success, want 0", got)
	}
	if s.Status().LastError == "" {
		t.Error("LastError should keep the last failure")
	}
}

func TestStart_NoRetryWhenDisabled(t *testing.T) {
	svc := &mockService{failAlways: errors.New("nope")}
	cfg := fastConfig()
	cfg.RestartOnFailure = false
	s := New(svc, cfg)

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	if svc.Starts() != 1 {
		t.Errorf("starts = %d, want 1", svc.Starts())
	}
}

func TestStart_CoolingDownIsNotRetried(t *testing.T) {
	svc := &mockService{failAlways: telemetry.ErrCoolingDown}
	s := New(svc, fastConfig())

	if err := s.Start(context.Background()); !errors.Is(err, telemetry.ErrCoolingDown) {
		t.Fatalf("Start() error = %v", err)
	}
	if s.Status().Retrying {
		t.Error("a cooldown rejection should be reported, not retried")
	}
}

func TestServiceStopped_CrashRestarts(t *testing.T) {
	svc := &mockService{}
	s := New(svc, fastConfig())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	svc.crash()
	s.ServiceStopped(telemetry.ErrLoopFatal)
	waitFor(t, "restart after crash", func() bool { return svc.Starts() == 2 && svc.IsRunning() })

	calls := svc.Calls()
	if calls[len(calls)-2] != "cooldown" {
		t.Errorf("calls = %v, want cooldown wait before restart", calls)
	}
}

func TestServiceStopped_RequestedStopIgnored(t *testing.T) {
	svc := &mockService{}
	s := New(svc, fastConfig())
	s.Start(context.Background())

	s.ServiceStopped(nil)
	time.Sleep(30 * time.Millisecond)
	if svc.Starts() != 1 {
		t.Errorf("starts = %d, a requested stop must not restart", svc.Starts())
	}
}

func TestStop_CancelsPendingRestart(t *testing.T) {
	svc := &mockService{failAlways: errors.New("still down")}
	cfg := fastConfig()
	cfg.InitialDelay = 20 * time.Millisecond
	cfg.MaxDelay = 20 * time.Millisecond
	s := New(svc, cfg)

	s.Start(context.Background())
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	s.wg.Wait()

	starts := svc.Starts()
	time.Sleep(60 * time.Millisecond)
	if svc.Starts() != starts {
		t.Errorf("starts grew from %d to %d after Stop", starts, svc.Starts())
	}
	if st := s.Status(); st.Wanted || st.Retrying {
		t.Errorf("Status() = %+v after Stop", st)
	}
}

func TestMaxAttempts(t *testing.T) {
	svc := &mockService{failAlways: errors.New("down")}
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	s := New(svc, cfg)

	s.Start(context.Background())
	waitFor(t, "retry loop to give up", func() bool { return !s.Status().Retrying })
	s.wg.Wait()

	if svc.Starts() != 3 {
		t.Errorf("starts = %d, want initial + 2 retries", svc.Starts())
	}
}

func TestRestart(t *testing.T) {
	svc := &mockService{}
	s := New(svc, fastConfig())
	s.Start(context.Background())

	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	calls := svc.Calls()
	want := []string{"start", "stop", "cooldown", "start"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestReconfigure(t *testing.T) {
	cats := hardware.Categories{CPU: true, Networking: true}

	t.Run("stopped", func(t *testing.T) {
		svc := &mockService{}
		s := New(svc, fastConfig())
		if err := s.Reconfigure(context.Background(), cats); err != nil {
			t.Fatalf("Reconfigure() error = %v", err)
		}
		if svc.categories != cats {
			t.Errorf("categories = %+v", svc.categories)
		}
		if len(svc.Calls()) != 0 {
			t.Errorf("calls = %v, stopped service should not be started", svc.Calls())
		}
	})

	t.Run("running", func(t *testing.T) {
		svc := &mockService{}
		s := New(svc, fastConfig())
		s.Start(context.Background())
		if err := s.Reconfigure(context.Background(), cats); err != nil {
			t.Fatalf("Reconfigure() error = %v", err)
		}
		if svc.Starts() != 2 || !svc.IsRunning() {
			t.Errorf("starts = %d running = %v, want restart", svc.Starts(), svc.IsRunning())
		}
	})
}

func TestRun_AutoStartAndShutdown(t *testing.T) {
	svc := &mockService{}
	s := New(svc, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "auto start", svc.IsRunning)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	calls := svc.Calls()
	if len(calls) < 3 || calls[len(calls)-2] != "stop" || calls[len(calls)-1] != "cooldown" {
		t.Errorf("calls = %v, want stop then cooldown at shutdown", calls)
	}
}

func TestRun_NoAutoStart(t *testing.T) {
	svc := &mockService{}
	cfg := fastConfig()
	cfg.AutoStart = false
	s := New(svc, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if svc.Starts() != 0 {
		t.Errorf("starts = %d, want 0", svc.Starts())
	}
}

func TestRun_NoRestartAfterShutdown(t *testing.T) {
	svc := &mockService{}
	s := New(svc, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	waitFor(t, "auto start", svc.IsRunning)

	// Crash reports racing the shutdown.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ServiceStopped(telemetry.ErrLoopFatal)
		}()
	}
	cancel()
	wg.Wait()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	s.ServiceStopped(telemetry.ErrLoopFatal)
	if s.Status().Retrying {
		t.Error("restart scheduled after Run returned")
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Start() after shutdown error = %v, want ErrShuttingDown", err)
	}
}
