package mqtt

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message to the specified MQTT topic.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "lhmmqtt/desk01_CPU_Load_Load/cpu/0/load/0/state")
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// Publish waits for the broker acknowledgment until ctx ends. When ctx has no
// deadline the default publish timeout applies. Consecutive failures open the
// circuit breaker, after which Publish fails fast with ErrCircuitOpen.
//
// Example:
//
//	err := client.Publish(ctx, rec.DiscoveryTopic, payload, 2, true)
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	// A disconnected client is not a broker failure; keep it out of the breaker.
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if c.breaker == nil {
		return c.publish(ctx, topic, payload, qos, retained)
	}

	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.publish(ctx, topic, payload, qos, retained)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}

func (c *Client) publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.publishTimeout())
		defer cancel()
	}

	token := c.client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
