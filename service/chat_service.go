package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/connection"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/media"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/port"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/receipts"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/session"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/timeline"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/typing"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// ChatService is the single surface the UI layer drives. It wires the
// connection manager, room session, timeline store, typing indicator,
// read receipts and the media pipeline together; the UI issues intents
// here and re-renders from Timeline snapshots.
type ChatService interface {
	Connect(credential string) error
	Disconnect()

	OpenRoom(ctx context.Context, room domain.Room) error
	OpenListing(ctx context.Context, listingID, sellerID string) (domain.Room, error)
	CloseRoom()
	ActiveRoom() *domain.Room

	SendText(text string) error
	SendLocation(point domain.GeoPoint) error
	SendImage(ctx context.Context, att media.Attachment) error
	NotifyTyping()

	Timeline() []domain.Message
	Typists() []string

	On(event string, fn connection.Handler) func()
}

type chatService struct {
	conn     *connection.Manager
	store    *timeline.Store
	typing   *typing.Controller
	receipts *receipts.Tracker
	media    *media.Pipeline
	session  *session.Controller
	rooms    port.RoomDirectory
	selfID   string
	log      logger.Logger
}

// Collaborators are the external request/response endpoints the core
// consumes; internally these point at one REST client.
type Collaborators struct {
	History  port.HistoryFetcher
	Uploader port.MediaUploader
	Marker   port.ReadMarker
	Rooms    port.RoomDirectory
}

func NewChatService(selfID string, conn *connection.Manager, ext Collaborators, log logger.Logger) ChatService {
	store := timeline.NewStore(ext.History, log)
	typingCtrl := typing.NewController(conn, selfID, log)
	tracker := receipts.NewTracker(conn, ext.Marker, store, selfID, log)
	pipeline := media.NewPipeline(ext.Uploader, store, selfID, log)
	sess := session.NewController(conn, selfID, store, typingCtrl, tracker, log)

	svc := &chatService{
		conn:     conn,
		store:    store,
		typing:   typingCtrl,
		receipts: tracker,
		media:    pipeline,
		session:  sess,
		rooms:    ext.Rooms,
		selfID:   selfID,
		log:      log.WithModule("chat"),
	}
	// Not room-scoped, so the registration survives disconnects.
	conn.On(domain.EventConnectionStatus, svc.onConnectionStatus)
	return svc
}

// onConnectionStatus refreshes the active room after a reconnect. The
// history merge picks up whatever was persisted while the socket was
// down and reconciles optimistic sends by temp id; a pending entry from
// before the reconnect that history did not confirm was lost with the
// old connection and is dropped.
func (s *chatService) onConnectionStatus(data json.RawMessage) {
	var status domain.ConnectionStatusPayload
	if err := json.Unmarshal(data, &status); err != nil || !status.Connected {
		return
	}
	room := s.session.Active()
	if room == nil {
		return
	}
	cutoff := time.Now().UTC()
	go func() {
		if _, err := s.store.LoadHistory(context.Background(), room.ID); err != nil {
			s.log.Warnf("reconnect history refresh for room %s: %v", room.ID, err)
			return
		}
		s.store.FailPendingBefore(room.ID, cutoff)
	}()
}

func (s *chatService) Connect(credential string) error {
	return s.conn.Connect(credential)
}

func (s *chatService) Disconnect() {
	s.session.CloseRoom()
	s.typing.Stop()
	s.conn.Disconnect()
}

// OpenRoom activates a room: subscriptions switch, the cached timeline
// redisplays instantly, a history refresh merges in, and the backlog is
// marked read. A history failure does not abort the open; the room stays
// usable on its cached view.
func (s *chatService) OpenRoom(ctx context.Context, room domain.Room) error {
	s.session.OpenRoom(room)

	if _, err := s.store.LoadHistory(ctx, room.ID); err != nil {
		s.log.Warnf("history load for room %s: %v", room.ID, err)
	}
	s.receipts.OnRoomOpened(ctx, room)
	return nil
}

// OpenListing resolves the room for a listing through the directory
// collaborator, then opens it.
func (s *chatService) OpenListing(ctx context.Context, listingID, sellerID string) (domain.Room, error) {
	room, err := s.rooms.RoomForListing(ctx, listingID, sellerID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("open listing %s: %w", listingID, err)
	}
	if err := s.OpenRoom(ctx, room); err != nil {
		return domain.Room{}, err
	}
	return room, nil
}

func (s *chatService) CloseRoom() {
	if room := s.session.Active(); room != nil {
		s.typing.ClearRoom(room.ID)
	}
	s.session.CloseRoom()
}

func (s *chatService) ActiveRoom() *domain.Room {
	return s.session.Active()
}

// SendText performs an optimistic text send: the pending message is
// visible immediately and replaced in place when the server echoes it
// back with the temp id and its assigned id.
func (s *chatService) SendText(text string) error {
	return s.send(domain.MessageTypeText, text, nil)
}

// SendLocation shares a coordinate pair, same optimistic path as text.
func (s *chatService) SendLocation(point domain.GeoPoint) error {
	p := point
	return s.send(domain.MessageTypeLocation, "", &p)
}

func (s *chatService) send(msgType domain.MessageType, body string, location *domain.GeoPoint) error {
	room := s.session.Active()
	if room == nil {
		return fmt.Errorf("send: no active room")
	}
	if !room.Active {
		return fmt.Errorf("send: room %s no longer accepts messages", room.ID)
	}
	if !s.conn.Connected() {
		// Dropped, not queued: the user retries once reconnected.
		return fmt.Errorf("send: not connected")
	}

	tempID := uuid.NewString()
	s.store.AppendPending(domain.Message{
		TempID:    tempID,
		RoomID:    room.ID,
		SenderID:  s.selfID,
		Type:      msgType,
		Body:      body,
		Location:  location,
		CreatedAt: time.Now().UTC(),
	})

	err := s.conn.Emit(domain.EventSendMessage, domain.SendMessagePayload{
		RoomID:   room.ID,
		TempID:   tempID,
		Type:     msgType,
		Body:     body,
		Location: location,
	})
	if err != nil {
		s.store.ReconcilePending(room.ID, tempID, nil)
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// SendImage runs the media pipeline against the active room. Blocking;
// callers keep the UI responsive by running it in a goroutine and
// rendering the placeholder's uploading state meanwhile.
func (s *chatService) SendImage(ctx context.Context, att media.Attachment) error {
	room := s.session.Active()
	if room == nil {
		return fmt.Errorf("send image: no active room")
	}
	if !room.Active {
		return fmt.Errorf("send image: room %s no longer accepts messages", room.ID)
	}
	return s.media.SendImage(ctx, room.ID, att)
}

func (s *chatService) NotifyTyping() {
	if room := s.session.Active(); room != nil {
		s.typing.NotifyTyping(room.ID)
	}
}

// Timeline returns a snapshot of the active room's messages.
func (s *chatService) Timeline() []domain.Message {
	room := s.session.Active()
	if room == nil {
		return nil
	}
	return s.store.Snapshot(room.ID)
}

// Typists returns who is currently typing in the active room.
func (s *chatService) Typists() []string {
	room := s.session.Active()
	if room == nil {
		return nil
	}
	return s.typing.Typists(room.ID)
}

// On exposes the raw event bus for events without a dedicated store,
// such as unread_counts and chat_count_update.
func (s *chatService) On(event string, fn connection.Handler) func() {
	return s.conn.On(event, fn)
}
