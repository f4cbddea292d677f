package sensor

import (
	"context"
	"sync"

	"github.com/nerrad567/hwmqtt/internal/hardware"
)

// publishedMessage records one call to MockPublisher.Publish.
type publishedMessage struct {
	Topic    string
	Payload  string
	Delivery Delivery
	Retained bool
}

// MockPublisher records publishes and can fail on demand.
type MockPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	failOn    map[string]error
	onPublish func(topic string)
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload []byte, d Delivery, retained bool) error {
	if m.onPublish != nil {
		m.onPublish(topic)
	}
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

func (m *MockPublisher) GetPublished() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishedMessage, len(m.published))
	copy(out, m.published)
	return out
}

// mockSource is a fixed hardware tree.
type mockSource struct {
	mu       sync.Mutex
	cats     hardware.Categories
	units    []hardware.Unit
	releases int
}

func (s *mockSource) Categories() hardware.Categories { return s.cats }

func (s *mockSource) Hardware() []hardware.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units
}

func (s *mockSource) Refresh(context.Context) error { return nil }

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

func testDevice() Device {
	return NewDevice("desk-01", "Linux 6.1 (x86_64)", "")
}

func cpuSource() *mockSource {
	return &mockSource{
		cats: hardware.Categories{CPU: true},
		units: []hardware.Unit{{
			Name:     "CPU",
			Category: hardware.CategoryCPU,
			Sensors: []hardware.Sensor{
				{Name: "CPU Total", Kind: "Load", ID: "/cpu/0/load/0", Value: hardware.Float(12)},
				{Name: "CPU Package", Kind: "Temperature", ID: "/cpu/0/temperature/0", Value: hardware.Float(42.567)},
				{Name: "CPU Core #1", Kind: "Clock", ID: "/cpu/0/clock/1"},
			},
		}},
	}
}
