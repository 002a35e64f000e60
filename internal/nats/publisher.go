package nats

import (
	"encoding/json"
	"fmt"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
)

// PublishRoom fans an event out to everyone subscribed to a room.
func (c *NATSClient) PublishRoom(roomID string, env domain.Envelope) error {
	return c.publish(roomSubject(roomID), env)
}

// PublishUser delivers an event to one user's connections, used for
// per-user pushes such as unread counts.
func (c *NATSClient) PublishUser(userID string, env domain.Envelope) error {
	return c.publish(userSubject(userID), env)
}

func (c *NATSClient) publish(subject string, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	return c.Conn.Publish(subject, data)
}
