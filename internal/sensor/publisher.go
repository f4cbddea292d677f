package sensor

import "context"

// Delivery is the broker delivery guarantee for one message.
type Delivery byte

// Delivery guarantees, numerically equal to MQTT QoS levels.
const (
	AtMostOnce  Delivery = 0
	AtLeastOnce Delivery = 1
	ExactlyOnce Delivery = 2
)

// String returns the guarantee name.
func (d Delivery) String() string {
	switch d {
	case AtMostOnce:
		return "at_most_once"
	case AtLeastOnce:
		return "at_least_once"
	case ExactlyOnce:
		return "exactly_once"
	default:
		return "unknown"
	}
}

// Publisher sends one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, delivery Delivery, retained bool) error
}

// Logger is the logging interface used by the catalog.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
