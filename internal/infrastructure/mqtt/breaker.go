package mqtt

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nerrad567/hwmqtt/internal/infrastructure/config"
)

// breakerInterval is the window after which closed-state failure counts reset.
const breakerInterval = 60 * time.Second

// newBreaker builds the circuit breaker guarding publishes.
//
// It opens after cfg.MaxFailures consecutive failed publishes and lets a
// single probe through once cfg.OpenTimeout has passed.
func newBreaker(cfg config.MQTTBreakerConfig, name string) *gobreaker.CircuitBreaker {
	maxFailures := uint32(cfg.MaxFailures)
	if maxFailures == 0 {
		maxFailures = 1
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "mqtt-publish-" + name,
		Interval: breakerInterval,
		Timeout:  time.Duration(cfg.OpenTimeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A publish abandoned by its caller says nothing about the broker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// BreakerState reports the publish breaker state ("closed", "open",
// "half-open"), or "disabled".
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}
