package nats

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// NATSClient fans chat events out between relay instances: one subject
// per room, one subject per user. Subscriptions are tracked per
// (subject, client) so a websocket teardown can drop exactly its own.
type NATSClient struct {
	Conn *nats.Conn
	log  logger.Logger

	mu         sync.Mutex
	SubMapping map[string]*nats.Subscription
}

func NewNATSClient(ctx context.Context, url string) (*NATSClient, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSClient{
		Conn:       nc,
		log:        logger.FromContext(ctx).WithModule("nats"),
		SubMapping: make(map[string]*nats.Subscription),
	}, nil
}

func (c *NATSClient) Close() {
	c.CleanupSubscriptions()
	c.Conn.Close()
}

func roomSubject(roomID string) string {
	return "chat.room." + roomID
}

func userSubject(userID string) string {
	return "chat.user." + userID
}

func subKey(subject, clientID string) string {
	return subject + ":" + clientID
}
