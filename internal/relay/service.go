package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/nats"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/port"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/redis"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

const defaultHistoryLimit = 50

// Service is the relay-side chat service: room membership, message
// persistence and fan-out, typing relay, read receipts, and unread
// accounting. Push handlers are per websocket client, registered on join
// and dropped on leave, so no event crosses rooms.
type Service interface {
	Connected(ctx context.Context, userID, clientID string, push func(domain.Envelope)) error
	Disconnected(ctx context.Context, userID, clientID string)

	JoinRoom(ctx context.Context, roomID, userID, clientID string, push func(domain.Envelope)) error
	LeaveRoom(ctx context.Context, roomID, clientID string) error

	SendMessage(ctx context.Context, userID string, p domain.SendMessagePayload) (domain.Message, error)
	SendMedia(ctx context.Context, roomID, userID string, ref port.MediaRef) (domain.Message, error)
	Typing(ctx context.Context, roomID, userID string, stopped bool) error
	MarkRead(ctx context.Context, roomID, userID string) error
	DeleteMessage(ctx context.Context, roomID, userID, messageID string) error

	History(ctx context.Context, roomID, userID, cursor string, limit int) (port.HistoryPage, error)
	RoomForListing(ctx context.Context, listingID, buyerID, sellerID string) (domain.Room, error)
	Room(ctx context.Context, roomID string) (domain.Room, bool, error)

	ListActiveUsers(ctx context.Context) ([]string, error)
}

type relayService struct {
	natsClient  *nats.NATSClient
	redisClient *redis.RedisClient
	log         logger.Logger
}

func NewService(ctx context.Context, nc *nats.NATSClient, rc *redis.RedisClient) Service {
	return &relayService{
		natsClient:  nc,
		redisClient: rc,
		log:         logger.FromContext(ctx).WithModule("relay"),
	}
}

// Connected registers a websocket client: presence plus its per-user
// subject, which carries unread_counts and chat_count_update pushes.
func (s *relayService) Connected(ctx context.Context, userID, clientID string, push func(domain.Envelope)) error {
	if err := s.redisClient.AddActiveUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to add active user: %w", err)
	}
	if err := s.natsClient.SubscribeUser(userID, clientID, push); err != nil {
		return fmt.Errorf("failed to subscribe user subject: %w", err)
	}
	return nil
}

// Disconnected tears down everything the client held.
func (s *relayService) Disconnected(ctx context.Context, userID, clientID string) {
	s.natsClient.UnsubscribeClient(clientID)
	if err := s.redisClient.RemoveActiveUser(ctx, userID); err != nil {
		s.log.Errorf("failed to remove active user %s: %v", userID, err)
	}
}

func (s *relayService) JoinRoom(ctx context.Context, roomID, userID, clientID string, push func(domain.Envelope)) error {
	room, ok, err := s.redisClient.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to load room: %w", err)
	}
	if !ok {
		return fmt.Errorf("room %s does not exist", roomID)
	}
	if !room.HasMember(userID) {
		return fmt.Errorf("user %s is not a member of room %s", userID, roomID)
	}
	if err := s.natsClient.SubscribeRoom(roomID, clientID, push); err != nil {
		return fmt.Errorf("failed to subscribe to room: %w", err)
	}
	return nil
}

func (s *relayService) LeaveRoom(ctx context.Context, roomID, clientID string) error {
	if err := s.natsClient.UnsubscribeRoom(roomID, clientID); err != nil {
		return fmt.Errorf("failed to unsubscribe from room %s: %w", roomID, err)
	}
	return nil
}

// SendMessage persists a message, assigns its server id and timestamp,
// bumps the peer's unread counters, and fans the confirmed record out.
// The client's temp id is echoed back untouched for reconciliation.
func (s *relayService) SendMessage(ctx context.Context, userID string, p domain.SendMessagePayload) (domain.Message, error) {
	msg := domain.Message{
		ID:        uuid.NewString(),
		TempID:    p.TempID,
		RoomID:    p.RoomID,
		SenderID:  userID,
		Type:      p.Type,
		Body:      p.Body,
		Location:  p.Location,
		CreatedAt: time.Now().UTC(),
	}
	return s.deliver(ctx, msg)
}

// SendMedia creates the durable image message once an upload lands. The
// client learns about it through the normal confirmed path, never by
// synthesizing the record locally.
func (s *relayService) SendMedia(ctx context.Context, roomID, userID string, ref port.MediaRef) (domain.Message, error) {
	msg := domain.Message{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		SenderID:     userID,
		Type:         domain.MessageTypeImage,
		MediaURL:     ref.URL,
		ThumbnailURL: ref.ThumbnailURL,
		CreatedAt:    time.Now().UTC(),
	}
	return s.deliver(ctx, msg)
}

func (s *relayService) deliver(ctx context.Context, msg domain.Message) (domain.Message, error) {
	room, ok, err := s.redisClient.GetRoom(ctx, msg.RoomID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to load room: %w", err)
	}
	if !ok {
		return domain.Message{}, fmt.Errorf("room %s does not exist", msg.RoomID)
	}
	if !room.HasMember(msg.SenderID) {
		return domain.Message{}, fmt.Errorf("user %s is not a member of room %s", msg.SenderID, msg.RoomID)
	}
	if !room.Active {
		return domain.Message{}, fmt.Errorf("room %s no longer accepts messages", msg.RoomID)
	}

	if err := s.redisClient.AppendMessage(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("failed to persist message: %w", err)
	}

	peer := room.Peer(msg.SenderID)
	if err := s.redisClient.IncrUnread(ctx, peer, msg.RoomID); err != nil {
		s.log.Errorf("failed to bump unread for %s: %v", peer, err)
	}

	if err := s.natsClient.PublishRoom(msg.RoomID, domain.NewEnvelope(domain.EventNewMessage, msg)); err != nil {
		return domain.Message{}, fmt.Errorf("failed to publish message: %w", err)
	}
	s.pushUnread(ctx, peer)
	return msg, nil
}

func (s *relayService) Typing(ctx context.Context, roomID, userID string, stopped bool) error {
	event := domain.EventUserTyping
	if stopped {
		event = domain.EventUserStopTyping
	}
	payload := domain.TypingPayload{RoomID: roomID, UserID: userID}
	if err := s.natsClient.PublishRoom(roomID, domain.NewEnvelope(event, payload)); err != nil {
		return fmt.Errorf("failed to relay %s: %w", event, err)
	}
	return nil
}

// MarkRead advances the reader's high-water mark, clears their unread
// counter for the room, and notifies both parties.
func (s *relayService) MarkRead(ctx context.Context, roomID, userID string) error {
	at := time.Now().UTC()
	if err := s.redisClient.SetReadAt(ctx, roomID, userID, at); err != nil {
		return fmt.Errorf("failed to store read mark: %w", err)
	}
	if err := s.redisClient.ClearUnread(ctx, userID, roomID); err != nil {
		s.log.Errorf("failed to clear unread for %s: %v", userID, err)
	}

	payload := domain.ReadPayload{RoomID: roomID, UserID: userID, ReadAt: at}
	if err := s.natsClient.PublishRoom(roomID, domain.NewEnvelope(domain.EventMessageRead, payload)); err != nil {
		return fmt.Errorf("failed to publish read receipt: %w", err)
	}
	s.pushUnread(ctx, userID)
	return nil
}

// DeleteMessage removes a message (sender or moderation) and pushes the
// deletion to the room.
func (s *relayService) DeleteMessage(ctx context.Context, roomID, userID, messageID string) error {
	if err := s.redisClient.DeleteMessage(ctx, roomID, messageID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	payload := domain.DeletedPayload{RoomID: roomID, MessageID: messageID}
	if err := s.natsClient.PublishRoom(roomID, domain.NewEnvelope(domain.EventMessageDeleted, payload)); err != nil {
		return fmt.Errorf("failed to publish deletion: %w", err)
	}
	s.log.Infof("message %s deleted from room %s by %s", messageID, roomID, userID)
	return nil
}

// History serves one page of backlog, newest page first, with read flags
// computed from the counterpart's high-water mark. The cursor is the
// create time of the oldest message of the previous page.
func (s *relayService) History(ctx context.Context, roomID, userID, cursor string, limit int) (port.HistoryPage, error) {
	room, ok, err := s.redisClient.GetRoom(ctx, roomID)
	if err != nil {
		return port.HistoryPage{}, fmt.Errorf("failed to load room: %w", err)
	}
	if !ok {
		return port.HistoryPage{}, fmt.Errorf("room %s does not exist", roomID)
	}
	if !room.HasMember(userID) {
		return port.HistoryPage{}, fmt.Errorf("user %s is not a member of room %s", userID, roomID)
	}

	before := time.Now().UTC().Add(time.Second)
	if cursor != "" {
		parsed, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return port.HistoryPage{}, fmt.Errorf("invalid history cursor: %w", err)
		}
		before = parsed
	}
	if limit <= 0 || limit > 200 {
		limit = defaultHistoryLimit
	}

	msgs, err := s.redisClient.MessagesBefore(ctx, roomID, before, limit)
	if err != nil {
		return port.HistoryPage{}, fmt.Errorf("failed to load backlog: %w", err)
	}

	buyerRead, _, err := s.redisClient.ReadAt(ctx, roomID, room.BuyerID)
	if err != nil {
		return port.HistoryPage{}, err
	}
	sellerRead, _, err := s.redisClient.ReadAt(ctx, roomID, room.SellerID)
	if err != nil {
		return port.HistoryPage{}, err
	}
	for i := range msgs {
		// A message is read once the counterpart's mark passed it.
		counterpartRead := buyerRead
		if msgs[i].SenderID == room.BuyerID {
			counterpartRead = sellerRead
		}
		if !counterpartRead.IsZero() && !msgs[i].CreatedAt.After(counterpartRead) {
			msgs[i].Read = true
			at := counterpartRead
			msgs[i].ReadAt = &at
		}
	}

	page := port.HistoryPage{Messages: msgs}
	if len(msgs) == limit {
		page.NextCursor = msgs[0].CreatedAt.Format(time.RFC3339Nano)
	}
	return page, nil
}

// RoomForListing returns the buyer's room for a listing, creating it on
// first contact.
func (s *relayService) RoomForListing(ctx context.Context, listingID, buyerID, sellerID string) (domain.Room, error) {
	if listingID == "" || buyerID == "" || sellerID == "" {
		return domain.Room{}, fmt.Errorf("listing, buyer and seller are all required")
	}
	if buyerID == sellerID {
		return domain.Room{}, fmt.Errorf("cannot open a room with yourself")
	}

	if id, ok, err := s.redisClient.RoomIDForListing(ctx, listingID, buyerID); err != nil {
		return domain.Room{}, err
	} else if ok {
		room, found, err := s.redisClient.GetRoom(ctx, id)
		if err != nil {
			return domain.Room{}, err
		}
		if found {
			return room, nil
		}
	}

	room := domain.Room{
		ID:        uuid.NewString(),
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Active:    true,
	}
	if err := s.redisClient.SaveRoom(ctx, room); err != nil {
		return domain.Room{}, fmt.Errorf("failed to create room: %w", err)
	}
	s.log.Infof("created room %s for listing %s", room.ID, listingID)
	return room, nil
}

func (s *relayService) Room(ctx context.Context, roomID string) (domain.Room, bool, error) {
	return s.redisClient.GetRoom(ctx, roomID)
}

func (s *relayService) ListActiveUsers(ctx context.Context) ([]string, error) {
	return s.redisClient.GetActiveUsers(ctx)
}

// pushUnread recomputes and pushes a user's unread counters and total
// chat count on their user subject.
func (s *relayService) pushUnread(ctx context.Context, userID string) {
	counts, err := s.redisClient.UnreadCounts(ctx, userID)
	if err != nil {
		s.log.Errorf("failed to load unread counts for %s: %v", userID, err)
		return
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	if err := s.natsClient.PublishUser(userID, domain.NewEnvelope(domain.EventUnreadCounts, domain.UnreadCountsPayload{
		Counts: counts,
		Total:  total,
	})); err != nil {
		s.log.Errorf("failed to push unread counts to %s: %v", userID, err)
		return
	}
	if err := s.natsClient.PublishUser(userID, domain.NewEnvelope(domain.EventChatCountUpdate, domain.ChatCountPayload{
		Total: int64(len(counts)),
	})); err != nil {
		s.log.Errorf("failed to push chat count to %s: %v", userID, err)
	}
}
