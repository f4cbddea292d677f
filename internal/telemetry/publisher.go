package telemetry

import (
	"context"

	"github.com/nerrad567/hwmqtt/internal/hardware"
	"github.com/nerrad567/hwmqtt/internal/infrastructure/config"
	"github.com/nerrad567/hwmqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/hwmqtt/internal/sensor"
)

// Publisher is the broker connection owned by one service run.
type Publisher interface {
	sensor.Publisher

	// Connect dials the broker. It must honour ctx.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. The publisher is not reused afterwards.
	Disconnect(ctx context.Context) error

	// IsConnected reports whether the connection is live.
	IsConnected() bool
}

// Subscriber is implemented by publishers that can also receive messages.
// When available the service listens for the platform's birth message and
// republishes discovery, and drops the subscription on teardown.
type Subscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte) error) error
	Unsubscribe(topic string) error
}

// PublisherFactory creates a new, unconnected publisher for each run.
type PublisherFactory func() Publisher

// SourceFactory opens a hardware source for each run.
type SourceFactory func(ctx context.Context, cats hardware.Categories) (hardware.Source, error)

// MQTTPublisher adapts an mqtt.Client to Publisher and Subscriber.
type MQTTPublisher struct {
	client  *mqtt.Client
	metrics *Metrics
}

// NewMQTTPublisher wraps client. Connection changes are reported to logger
// and metrics; both may be nil.
func NewMQTTPublisher(client *mqtt.Client, logger mqtt.Logger, metrics *Metrics) *MQTTPublisher {
	p := &MQTTPublisher{client: client, metrics: metrics}
	client.SetOnConnect(func() {
		metrics.setBrokerConnected(true)
	})
	client.SetOnDisconnect(func(err error) {
		metrics.setBrokerConnected(false)
		metrics.connectionLost()
		if logger != nil {
			logger.Warn("broker connection lost, reconnecting", "client_id", client.ClientID(), "error", err)
		}
	})
	return p
}

// MQTTFactory returns a factory building a fresh MQTT client per run.
func MQTTFactory(cfg config.MQTTConfig, logger mqtt.Logger, metrics *Metrics) PublisherFactory {
	return func() Publisher {
		client := mqtt.New(cfg)
		if logger != nil {
			client.SetLogger(logger)
		}
		return NewMQTTPublisher(client, logger, metrics)
	}
}

func (p *MQTTPublisher) Connect(ctx context.Context) error {
	if err := p.client.Connect(ctx); err != nil {
		return err
	}
	p.metrics.setBrokerConnected(true)
	return nil
}

func (p *MQTTPublisher) Disconnect(ctx context.Context) error {
	p.metrics.setBrokerConnected(false)
	return p.client.Disconnect(ctx)
}

func (p *MQTTPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte, delivery sensor.Delivery, retained bool) error {
	return p.client.Publish(ctx, topic, payload, byte(delivery), retained)
}

func (p *MQTTPublisher) Subscribe(topic string, handler func(topic string, payload []byte) error) error {
	return p.client.Subscribe(topic, byte(sensor.AtLeastOnce), mqtt.MessageHandler(handler))
}

func (p *MQTTPublisher) Unsubscribe(topic string) error {
	return p.client.Unsubscribe(topic)
}

// BreakerState reports the publish circuit breaker state.
func (p *MQTTPublisher) BreakerState() string {
	return p.client.BreakerState()
}

// Platform birth message, see mqtt.PlatformStatusTopic.
const (
	PlatformStatusTopic = mqtt.PlatformStatusTopic
	PlatformOnline      = mqtt.PlatformOnline
)
