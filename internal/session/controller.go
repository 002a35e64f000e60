package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/connection"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// Bus is the slice of the connection manager the controller needs.
type Bus interface {
	On(event string, fn connection.Handler) func()
	JoinRoom(roomID string)
	LeaveRoom(roomID string)
}

// MessageSink consumes room-scoped message events (the timeline store).
type MessageSink interface {
	AppendFromServer(msg domain.Message)
	ReconcilePending(roomID, tempID string, confirmed *domain.Message) bool
	MarkDeleted(roomID, messageID string)
}

// TypingSink consumes remote typing events.
type TypingSink interface {
	OnRemoteTyping(roomID, userID string)
	OnRemoteStopTyping(roomID, userID string)
}

// ReadSink consumes remote read receipts.
type ReadSink interface {
	OnRemoteRead(roomID, userID string, readAt time.Time)
}

// Controller owns the join/leave lifecycle. Exactly one room is active at
// a time: opening a room first leaves the previous one, deregistering all
// of its handlers, so events from the old room can never reach the new
// room's consumers. Every inbound event is additionally filtered by room
// id before being forwarded.
type Controller struct {
	bus      Bus
	selfID   string
	messages MessageSink
	typing   TypingSink
	reads    ReadSink
	log      logger.Logger

	mu     sync.Mutex
	active *domain.Room
	unsubs []func()
}

func NewController(bus Bus, selfID string, messages MessageSink, typing TypingSink, reads ReadSink, log logger.Logger) *Controller {
	return &Controller{
		bus:      bus,
		selfID:   selfID,
		messages: messages,
		typing:   typing,
		reads:    reads,
		log:      log.WithModule("session"),
	}
}

// OpenRoom makes room the single active room, leaving any previous one
// first. Reopening the already active room is a no-op. The previous
// room's timeline stays cached in the store; only subscriptions change.
func (c *Controller) OpenRoom(room domain.Room) {
	c.mu.Lock()
	if c.active != nil {
		if c.active.ID == room.ID {
			c.mu.Unlock()
			return
		}
		c.leaveLocked()
	}
	active := room
	c.active = &active
	roomID := room.ID
	c.unsubs = []func(){
		c.bus.On(domain.EventNewMessage, c.forRoom(roomID, c.handleNewMessage)),
		c.bus.On(domain.EventMessageRead, c.forRoom(roomID, c.handleMessageRead)),
		c.bus.On(domain.EventMessageDeleted, c.forRoom(roomID, c.handleMessageDeleted)),
		c.bus.On(domain.EventUserTyping, c.forRoom(roomID, c.handleUserTyping)),
		c.bus.On(domain.EventUserStopTyping, c.forRoom(roomID, c.handleUserStopTyping)),
	}
	c.mu.Unlock()

	c.bus.JoinRoom(roomID)
	c.log.Infof("opened room %s", roomID)
}

// CloseRoom deregisters the active room's handlers and issues leave_room.
func (c *Controller) CloseRoom() {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return
	}
	c.leaveLocked()
	c.mu.Unlock()
}

func (c *Controller) leaveLocked() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	roomID := c.active.ID
	c.active = nil
	c.bus.LeaveRoom(roomID)
	c.log.Infof("left room %s", roomID)
}

// Active returns a copy of the active room, or nil.
func (c *Controller) Active() *domain.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	room := *c.active
	return &room
}

// forRoom wraps a handler with the room id equality filter. Events tagged
// with any other room id are dropped, never forwarded.
func (c *Controller) forRoom(roomID string, fn func(data json.RawMessage)) connection.Handler {
	return func(data json.RawMessage) {
		var ref domain.RoomRef
		if err := json.Unmarshal(data, &ref); err != nil || ref.RoomID != roomID {
			return
		}
		fn(data)
	}
}

func (c *Controller) handleNewMessage(data json.RawMessage) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warnf("malformed new_message payload: %v", err)
		return
	}
	// The confirmed echo of an own optimistic send carries the client's
	// temp id; reconcile in place instead of appending a duplicate.
	if msg.TempID != "" && msg.SenderID == c.selfID {
		if c.messages.ReconcilePending(msg.RoomID, msg.TempID, &msg) {
			return
		}
	}
	c.messages.AppendFromServer(msg)
}

func (c *Controller) handleMessageRead(data json.RawMessage) {
	var payload domain.ReadPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.log.Warnf("malformed message_read payload: %v", err)
		return
	}
	c.reads.OnRemoteRead(payload.RoomID, payload.UserID, payload.ReadAt)
}

func (c *Controller) handleMessageDeleted(data json.RawMessage) {
	var payload domain.DeletedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.log.Warnf("malformed message_deleted payload: %v", err)
		return
	}
	c.messages.MarkDeleted(payload.RoomID, payload.MessageID)
}

func (c *Controller) handleUserTyping(data json.RawMessage) {
	var payload domain.TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	c.typing.OnRemoteTyping(payload.RoomID, payload.UserID)
}

func (c *Controller) handleUserStopTyping(data json.RawMessage) {
	var payload domain.TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	c.typing.OnRemoteStopTyping(payload.RoomID, payload.UserID)
}
