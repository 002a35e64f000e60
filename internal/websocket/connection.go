package websocket

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/relay"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// Connection is one authenticated websocket client on the relay. ClientID
// distinguishes multiple connections of the same user so subscription
// teardown stays per-connection.
type Connection struct {
	Ws       *websocket.Conn
	Send     chan domain.Envelope
	Hub      *Hub
	UserID   string
	ClientID string
	Service  relay.Service
	Logger   logger.Logger
}

// Push delivers an event to this client, dropping it if the client's send
// buffer is full rather than blocking the fan-out path.
func (c *Connection) Push(env domain.Envelope) {
	defer func() {
		// Send channel closes on unregister; a racing push is dropped.
		_ = recover()
	}()
	select {
	case c.Send <- env:
	default:
		c.Logger.Warnf("dropping %s push to slow client %s", env.Event, c.UserID)
	}
}

// ReadPump consumes the client's intents until the connection drops.
func (c *Connection) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.Unregister <- c
		c.Ws.Close()
		c.Service.Disconnected(ctx, c.UserID, c.ClientID)
	}()

	for {
		var env domain.Envelope
		if err := c.Ws.ReadJSON(&env); err != nil {
			c.Logger.Debugf("client %s read loop ended: %v", c.UserID, err)
			return
		}
		c.handle(ctx, env)
	}
}

// WritePump serializes pushes onto the websocket.
func (c *Connection) WritePump() {
	defer c.Ws.Close()

	for env := range c.Send {
		if err := c.Ws.WriteJSON(env); err != nil {
			c.Logger.Debugf("client %s write failed: %v", c.UserID, err)
			return
		}
	}
}

func (c *Connection) handle(ctx context.Context, env domain.Envelope) {
	switch env.Event {
	case domain.EventJoinRoom:
		var ref domain.RoomRef
		if !c.decode(env.Data, &ref) {
			return
		}
		if err := c.Service.JoinRoom(ctx, ref.RoomID, c.UserID, c.ClientID, c.Push); err != nil {
			c.fail("join_failed", err)
		}

	case domain.EventLeaveRoom:
		var ref domain.RoomRef
		if !c.decode(env.Data, &ref) {
			return
		}
		if err := c.Service.LeaveRoom(ctx, ref.RoomID, c.ClientID); err != nil {
			c.fail("leave_failed", err)
		}

	case domain.EventSendMessage:
		var payload domain.SendMessagePayload
		if !c.decode(env.Data, &payload) {
			return
		}
		if _, err := c.Service.SendMessage(ctx, c.UserID, payload); err != nil {
			c.fail("send_failed", err)
		}

	case domain.EventTyping, domain.EventStopTyping:
		var payload domain.TypingPayload
		if !c.decode(env.Data, &payload) {
			return
		}
		if err := c.Service.Typing(ctx, payload.RoomID, c.UserID, env.Event == domain.EventStopTyping); err != nil {
			c.Logger.Errorf("typing relay for %s: %v", c.UserID, err)
		}

	case domain.EventMarkRead:
		var payload domain.ReadPayload
		if !c.decode(env.Data, &payload) {
			return
		}
		if err := c.Service.MarkRead(ctx, payload.RoomID, c.UserID); err != nil {
			c.fail("mark_read_failed", err)
		}

	default:
		c.fail("unknown_event", nil)
	}
}

func (c *Connection) decode(data json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.Logger.Warnf("malformed %T from %s: %v", v, c.UserID, err)
		c.fail("malformed_payload", err)
		return false
	}
	return true
}

func (c *Connection) fail(code string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c.Push(domain.NewEnvelope(domain.EventSocketError, domain.SocketErrorPayload{Code: code, Message: msg}))
}
