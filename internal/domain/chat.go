package domain

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeLocation MessageType = "location"
	MessageTypeSystem   MessageType = "system"
)

// DeliveryState is the local send state of a message. It never travels on
// the wire; messages received from the server are always confirmed.
type DeliveryState int

const (
	DeliveryConfirmed DeliveryState = iota
	DeliveryPending
	DeliveryFailed
)

type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Message struct {
	ID       string `json:"id,omitempty"`
	TempID   string `json:"tempId,omitempty"`
	RoomID   string `json:"roomId"`
	SenderID string `json:"senderId"`

	Type         MessageType `json:"type"`
	Body         string      `json:"body,omitempty"`
	MediaURL     string      `json:"mediaUrl,omitempty"`
	ThumbnailURL string      `json:"thumbnailUrl,omitempty"`
	Location     *GeoPoint   `json:"location,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	Read      bool       `json:"read"`
	ReadAt    *time.Time `json:"readAt,omitempty"`

	// Local-only state for optimistic sends.
	State     DeliveryState `json:"-"`
	Preview   string        `json:"-"`
	Uploading bool          `json:"-"`
}

// TimelineID is the identity a message carries inside a timeline: the
// server id once assigned, the temporary id while the send is in flight.
func (m Message) TimelineID() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// Room is a two-party conversation bound to one listing. Active reports
// whether new messages may still be sent (a closed listing freezes it).
type Room struct {
	ID        string `json:"id"`
	ListingID string `json:"listingId"`
	BuyerID   string `json:"buyerId"`
	SellerID  string `json:"sellerId"`
	Active    bool   `json:"active"`
}

// Peer returns the other party of the room.
func (r Room) Peer(userID string) string {
	if r.BuyerID == userID {
		return r.SellerID
	}
	return r.BuyerID
}

// HasMember reports whether userID is one of the two parties.
func (r Room) HasMember(userID string) bool {
	return r.BuyerID == userID || r.SellerID == userID
}

// Outbound intents.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
	EventMarkRead    = "mark_read"
)

// Inbound pushes.
const (
	EventNewMessage       = "new_message"
	EventMessageRead      = "message_read"
	EventMessageDeleted   = "message_deleted"
	EventUserTyping       = "user_typing"
	EventUserStopTyping   = "user_stop_typing"
	EventConnectionStatus = "connection_status"
	EventUnreadCounts     = "unread_counts"
	EventChatCountUpdate  = "chat_count_update"
	EventSocketError      = "socket_error"
)

// EventAuthError is raised locally by the connection manager when the
// server rejects the credential; it never arrives from the wire.
const EventAuthError = "auth_error"

var roomScopedEvents = map[string]struct{}{
	EventNewMessage:     {},
	EventMessageRead:    {},
	EventMessageDeleted: {},
	EventUserTyping:     {},
	EventUserStopTyping: {},
}

// RoomScoped reports whether an inbound event is tagged with a room id and
// therefore subject to the active-room filter.
func RoomScoped(event string) bool {
	_, ok := roomScopedEvents[event]
	return ok
}

// Envelope is the wire frame: one event name plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope. Marshal failures are
// programming errors on our own payload types, so they surface as a panic
// during development rather than an error return at every call site.
func NewEnvelope(event string, payload interface{}) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		panic("domain: unmarshalable event payload: " + err.Error())
	}
	return Envelope{Event: event, Data: data}
}

type RoomRef struct {
	RoomID string `json:"roomId"`
}

type SendMessagePayload struct {
	RoomID   string      `json:"roomId"`
	TempID   string      `json:"tempId,omitempty"`
	Type     MessageType `json:"type"`
	Body     string      `json:"body,omitempty"`
	Location *GeoPoint   `json:"location,omitempty"`
}

type TypingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type ReadPayload struct {
	RoomID string    `json:"roomId"`
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

type DeletedPayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

type ConnectionStatusPayload struct {
	Connected bool `json:"connected"`
}

type UnreadCountsPayload struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

type ChatCountPayload struct {
	Total int64 `json:"total"`
}

type SocketErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
