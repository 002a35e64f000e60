package timeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/port"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// Near-equal timestamp window for the defensive duplicate check in
// AppendFromServer. The primary reconciliation path is temp-id based; this
// only catches a confirmed echo racing ahead of it.
const dupWindow = 2 * time.Second

const defaultPageSize = 50

// Store holds the ordered, deduplicated message timeline per room.
// Timelines for rooms the user has left stay cached so switching back is
// instant; only the active subscriptions change.
//
// Total order within a room: createdAt ascending, ties broken by id string
// compare, so same-millisecond messages still order deterministically.
type Store struct {
	history  port.HistoryFetcher
	pageSize int
	log      logger.Logger

	mu    sync.Mutex
	rooms map[string][]domain.Message
}

func NewStore(history port.HistoryFetcher, log logger.Logger) *Store {
	return &Store{
		history:  history,
		pageSize: defaultPageSize,
		log:      log.WithModule("timeline"),
		rooms:    make(map[string][]domain.Message),
	}
}

func less(a, b domain.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.TimelineID() < b.TimelineID()
}

// insert places msg at its sorted position.
func insert(msgs []domain.Message, msg domain.Message) []domain.Message {
	i := sort.Search(len(msgs), func(i int) bool { return less(msg, msgs[i]) })
	msgs = append(msgs, domain.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	return msgs
}

// LoadHistory fetches the most recent page of the room's backlog and
// merges it in: confirmed entries are replaced by their server record, a
// pending entry whose temp id appears in the page is replaced by its
// confirmed copy, and the remaining pending entries survive untouched.
// Returns the cursor for older pages.
func (s *Store) LoadHistory(ctx context.Context, roomID string) (string, error) {
	return s.load(ctx, roomID, "")
}

// LoadOlder fetches the page behind cursor, for backscroll.
func (s *Store) LoadOlder(ctx context.Context, roomID, cursor string) (string, error) {
	return s.load(ctx, roomID, cursor)
}

func (s *Store) load(ctx context.Context, roomID, cursor string) (string, error) {
	page, err := s.history.FetchMessages(ctx, roomID, cursor, s.pageSize)
	if err != nil {
		return "", fmt.Errorf("load history for room %s: %w", roomID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]domain.Message, len(page.Messages))
	byTempID := make(map[string]struct{})
	for _, msg := range page.Messages {
		msg.State = domain.DeliveryConfirmed
		byID[msg.ID] = msg
		if msg.TempID != "" {
			byTempID[msg.TempID] = struct{}{}
		}
	}

	merged := make([]domain.Message, 0, len(s.rooms[roomID])+len(page.Messages))
	for _, existing := range s.rooms[roomID] {
		if existing.State == domain.DeliveryPending {
			// The confirmed copy of this send arrived via history (echo
			// lost, say). It enters through the fetch below; keeping the
			// optimistic entry too would show the message twice.
			if _, ok := byTempID[existing.TempID]; ok {
				continue
			}
			merged = append(merged, existing)
			continue
		}
		if fetched, ok := byID[existing.ID]; ok {
			merged = append(merged, fetched)
			delete(byID, existing.ID)
			continue
		}
		merged = append(merged, existing)
	}
	for _, msg := range byID {
		merged = append(merged, msg)
	}
	sort.SliceStable(merged, func(i, j int) bool { return less(merged[i], merged[j]) })
	s.rooms[roomID] = merged

	return page.NextCursor, nil
}

// AppendFromServer inserts a confirmed message. A message already present
// under the same id is updated in place (edits). A pending message from
// the same sender with the same type and a near-equal timestamp is treated
// as the optimistic copy of this message and replaced; that is a defensive
// de-dup only, the send pipelines normally reconcile by temp id first.
func (s *Store) AppendFromServer(msg domain.Message) {
	msg.State = domain.DeliveryConfirmed

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[msg.RoomID]
	for i, existing := range msgs {
		if existing.ID != "" && existing.ID == msg.ID {
			msgs[i] = msg
			return
		}
	}
	for i, existing := range msgs {
		if existing.State != domain.DeliveryPending {
			continue
		}
		if existing.SenderID == msg.SenderID && existing.Type == msg.Type &&
			absDuration(existing.CreatedAt.Sub(msg.CreatedAt)) <= dupWindow {
			msgs[i] = msg
			return
		}
	}
	s.rooms[msg.RoomID] = insert(msgs, msg)
}

// AppendPending inserts a locally created message under its temporary id,
// visible immediately.
func (s *Store) AppendPending(msg domain.Message) {
	msg.State = domain.DeliveryPending
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[msg.RoomID] = insert(s.rooms[msg.RoomID], msg)
}

// ReconcilePending resolves a pending entry. A non-nil confirmed message
// replaces the entry in place, keeping its timeline position; nil removes
// it (failed send). Reports whether a pending entry with that temp id
// existed, so a confirmed echo can fall back to AppendFromServer.
func (s *Store) ReconcilePending(roomID, tempID string, confirmed *domain.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[roomID]
	for i, existing := range msgs {
		if existing.State != domain.DeliveryPending || existing.TempID != tempID {
			continue
		}
		if confirmed == nil {
			s.rooms[roomID] = append(msgs[:i:i], msgs[i+1:]...)
			return true
		}
		c := *confirmed
		c.State = domain.DeliveryConfirmed
		msgs[i] = c
		return true
	}
	return false
}

// FailPendingBefore removes pending entries created before cutoff. The
// confirmed echo of a send can only arrive on the connection it was sent
// on, so after a reconnect any pending entry from before the drop that a
// history refresh did not confirm is lost for good. Upload placeholders
// are exempt; the media pipeline bounds those with its own deadline.
func (s *Store) FailPendingBefore(roomID string, cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[roomID]
	kept := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.State == domain.DeliveryPending && !msg.Uploading && msg.CreatedAt.Before(cutoff) {
			s.log.Warnf("dropping unconfirmed send %s in room %s", msg.TempID, roomID)
			continue
		}
		kept = append(kept, msg)
	}
	s.rooms[roomID] = kept
}

// MarkDeleted removes a message by id. Idempotent when already absent.
func (s *Store) MarkDeleted(roomID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[roomID]
	for i, existing := range msgs {
		if existing.TimelineID() == messageID {
			s.rooms[roomID] = append(msgs[:i:i], msgs[i+1:]...)
			return
		}
	}
}

// ApplyReadState flips read on the given ids without touching order.
func (s *Store) ApplyReadState(roomID string, messageIDs []string) {
	ids := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.rooms[roomID]
	for i := range msgs {
		if _, ok := ids[msgs[i].TimelineID()]; ok {
			msgs[i].Read = true
		}
	}
}

// MarkReadUpTo flips read and stamps readAt on all of senderID's messages
// created at or before readAt. Read receipts are a timestamp cutoff, not a
// message-id list.
func (s *Store) MarkReadUpTo(roomID, senderID string, readAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[roomID]
	for i := range msgs {
		if msgs[i].SenderID != senderID || msgs[i].CreatedAt.After(readAt) {
			continue
		}
		msgs[i].Read = true
		at := readAt
		msgs[i].ReadAt = &at
	}
}

// UnreadFrom returns the ids of unread messages authored by senderID.
func (s *Store) UnreadFrom(roomID, senderID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, msg := range s.rooms[roomID] {
		if msg.SenderID == senderID && !msg.Read {
			ids = append(ids, msg.TimelineID())
		}
	}
	return ids
}

// Snapshot returns a copy of the room's timeline for rendering.
func (s *Store) Snapshot(roomID string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[roomID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
