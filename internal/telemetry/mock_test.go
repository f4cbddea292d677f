package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hwmqtt/internal/hardware"
	"github.com/nerrad567/hwmqtt/internal/sensor"
)

// publishedMessage records one call to mockPublisher.Publish.
type publishedMessage struct {
	Topic    string
	Payload  string
	Delivery sensor.Delivery
	Retained bool
}

// mockPublisher is an in-memory Publisher and Subscriber.
type mockPublisher struct {
	mu           sync.Mutex
	connected    bool
	connects     int
	disconnects  int
	unsubscribes int
	published    []publishedMessage
	failOn       map[string]error
	handlers     map[string]func(string, []byte) error

	// connectErr is returned by Connect when set.
	connectErr error
	// connectBlock makes Connect wait on it, ignoring ctx.
	connectBlock chan struct{}
	// connectWaitsForCtx makes Connect block until ctx ends.
	connectWaitsForCtx bool
	// connecting is closed when Connect is entered.
	connecting chan struct{}
}

func (m *mockPublisher) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.connects++
	block, waitCtx, signal, connectErr := m.connectBlock, m.connectWaitsForCtx, m.connecting, m.connectErr
	m.mu.Unlock()

	if signal != nil {
		close(signal)
	}
	if block != nil {
		<-block
	}
	if waitCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	if connectErr != nil {
		return connectErr
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *mockPublisher) Disconnect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.connected = false
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, payload []byte, d sensor.Delivery, retained bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failOn[topic]; ok {
		return err
	}
	m.published = append(m.published, publishedMessage{topic, string(payload), d, retained})
	return nil
}

func (m *mockPublisher) Subscribe(topic string, handler func(string, []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[string]func(string, []byte) error)
	}
	m.handlers[topic] = handler
	return nil
}

func (m *mockPublisher) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	m.unsubscribes++
	return nil
}

// dropConnection simulates a broker drop with the client left to reconnect.
func (m *mockPublisher) dropConnection() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

func (m *mockPublisher) Unsubscribes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribes
}

func (m *mockPublisher) deliver(topic, payload string) error {
	m.mu.Lock()
	h := m.handlers[topic]
	m.mu.Unlock()
	if h == nil {
		return errors.New("no handler for " + topic)
	}
	return h(topic, []byte(payload))
}

func (m *mockPublisher) GetPublished() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishedMessage, len(m.published))
	copy(out, m.published)
	return out
}

func (m *mockPublisher) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

func (m *mockPublisher) countSuffix(suffix string) int {
	n := 0
	for _, msg := range m.GetPublished() {
		if strings.HasSuffix(msg.Topic, suffix) {
			n++
		}
	}
	return n
}

// mockSource is a mutable hardware tree.
type mockSource struct {
	mu           sync.Mutex
	cats         hardware.Categories
	units        []hardware.Unit
	refreshes    int
	releases     int
	refreshErr   error
	refreshPanic bool
}

func (s *mockSource) Categories() hardware.Categories {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cats
}

func (s *mockSource) Hardware() []hardware.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]hardware.Unit, len(s.units))
	for i, u := range s.units {
		out[i] = u
		out[i].Sensors = append([]hardware.Sensor(nil), u.Sensors...)
	}
	return out
}

func (s *mockSource) Refresh(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.refreshPanic {
		panic("driver fault")
	}
	if s.releases > 0 {
		return hardware.ErrReleased
	}
	return s.refreshErr
}

func (s *mockSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	return nil
}

func (s *mockSource) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

func (s *mockSource) setValue(unit, name string, v *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.units {
		if s.units[i].Name != unit {
			continue
		}
		for j := range s.units[i].Sensors {
			if s.units[i].Sensors[j].Name == name {
				s.units[i].Sensors[j].Value = v
			}
		}
	}
}

func (s *mockSource) addSensor(unit string, sn hardware.Sensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.units {
		if s.units[i].Name == unit {
			s.units[i].Sensors = append(s.units[i].Sensors, sn)
		}
	}
}

func (s *mockSource) set(fn func(*mockSource)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func cpuSource() *mockSource {
	return &mockSource{
		cats: hardware.Categories{CPU: true},
		units: []hardware.Unit{{
			Name:     "CPU",
			Category: hardware.CategoryCPU,
			Sensors: []hardware.Sensor{
				{Name: "CPU Total", Kind: "Load", ID: "/cpu/0/load/0", Value: hardware.Float(12.4)},
				{Name: "CPU Package", Kind: "Temperature", ID: "/cpu/0/temperature/0", Value: hardware.Float(42.567)},
				{Name: "CPU Core #1", Kind: "Clock", ID: "/cpu/0/clock/1", Value: hardware.Float(3600.4)},
			},
		}},
	}
}

// recordingLogger keeps warning and error messages.
type recordingLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) hasWarn(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.warns {
		if w == msg {
			return true
		}
	}
	return false
}

// harness wires a Service to mocks and counts factory calls.
type harness struct {
	svc     *Service
	src     *mockSource
	pub     *mockPublisher
	logger  *recordingLogger
	stopped chan error

	mu         sync.Mutex
	publishers int
	sources    int
	newSource  func() *mockSource
	newPub     func() *mockPublisher
	allPubs    []*mockPublisher
	allSources []*mockSource
}

func newHarness(t *testing.T, src *mockSource, pub *mockPublisher, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		src:     src,
		pub:     pub,
		logger:  &recordingLogger{},
		stopped: make(chan error, 4),
	}
	h.newSource = func() *mockSource { return h.src }
	h.newPub = func() *mockPublisher { return h.pub }

	opts := Options{
		OpenSource: func(_ context.Context, cats hardware.Categories) (hardware.Source, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sources++
			s := h.newSource()
			s.set(func(s *mockSource) { s.cats = cats })
			h.allSources = append(h.allSources, s)
			return s, nil
		},
		NewPublisher: func() Publisher {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.publishers++
			p := h.newPub()
			h.allPubs = append(h.allPubs, p)
			return p
		},
		Device:         sensor.NewDevice("desk-01", "Linux 6.1 (x86_64)", ""),
		Categories:     hardware.Categories{CPU: true},
		UpdateInterval: 20 * time.Millisecond,
		Cooldown:       100 * time.Millisecond,
		Timeouts: Timeouts{
			Connect:    200 * time.Millisecond,
			Confirm:    200 * time.Millisecond,
			Drain:      500 * time.Millisecond,
			Disconnect: 100 * time.Millisecond,
			Emergency:  50 * time.Millisecond,
		},
		Logger: h.logger,
		OnStopped: func(err error) {
			h.stopped <- err
		},
	}
	if tweak != nil {
		tweak(&opts)
	}

	svc, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.svc = svc
	t.Cleanup(func() {
		svc.Stop(context.Background())
	})
	return h
}

func (h *harness) Publishers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.publishers
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
