package nats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
)

// SubscribeRoom subscribes one websocket client to a room's events.
// Duplicate subscriptions for the same (room, client) pair are ignored.
func (c *NATSClient) SubscribeRoom(roomID, clientID string, handle func(domain.Envelope)) error {
	return c.subscribe(roomSubject(roomID), clientID, handle)
}

// SubscribeUser subscribes one websocket client to its user subject,
// established once at handshake time.
func (c *NATSClient) SubscribeUser(userID, clientID string, handle func(domain.Envelope)) error {
	return c.subscribe(userSubject(userID), clientID, handle)
}

func (c *NATSClient) subscribe(subject, clientID string, handle func(domain.Envelope)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := subKey(subject, clientID)
	if _, exists := c.SubMapping[key]; exists {
		return nil
	}

	sub, err := c.Conn.Subscribe(subject, func(msg *nats.Msg) {
		var env domain.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return // Skip invalid events
		}
		handle(env)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.SubMapping[key] = sub
	return nil
}

// UnsubscribeRoom removes one client's subscription to a room. Missing
// subscriptions are not an error.
func (c *NATSClient) UnsubscribeRoom(roomID, clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := subKey(roomSubject(roomID), clientID)
	if sub, exists := c.SubMapping[key]; exists {
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to unsubscribe: %w", err)
		}
		delete(c.SubMapping, key)
	}
	return nil
}

// UnsubscribeClient removes every subscription held for one websocket
// client, used on connection teardown. Unsubscribe errors are ignored so
// cleanup always completes.
func (c *NATSClient) UnsubscribeClient(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	suffix := ":" + clientID
	for key, sub := range c.SubMapping {
		if strings.HasSuffix(key, suffix) {
			_ = sub.Unsubscribe()
			delete(c.SubMapping, key)
		}
	}
}

// CleanupSubscriptions drops every active subscription, used at shutdown.
func (c *NATSClient) CleanupSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.SubMapping {
		_ = sub.Unsubscribe()
		delete(c.SubMapping, key)
	}
}
