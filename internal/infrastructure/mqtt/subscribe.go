package mqtt

import (
	"fmt"
)

// Subscribe registers handler for topic and keeps it registered across
// reconnects.
//
// The service subscribes to PlatformStatusTopic so it can republish
// discovery when Home Assistant restarts:
//
//	err := client.Subscribe(mqtt.PlatformStatusTopic, 1,
//	    func(topic string, payload []byte) error {
//	        if string(payload) == mqtt.PlatformOnline {
//	            return republish(ctx)
//	        }
//	        return nil
//	    })
//
// Handlers run on paho's goroutines and must not block for long.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	var err error
	if !token.WaitTimeout(c.publishTimeout()) {
		err = fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, c.publishTimeout())
	} else if tokenErr := token.Error(); tokenErr != nil {
		err = fmt.Errorf("%w: %w", ErrSubscribeFailed, tokenErr)
	}
	if err != nil {
		c.forget(topic)
	}
	return err
}

// Unsubscribe drops the subscription for topic. The topic is forgotten even
// when the broker round trip fails, so a later reconnect does not restore it.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	c.forget(topic)
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(c.publishTimeout()) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, c.publishTimeout())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}
