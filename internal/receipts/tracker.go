package receipts

import (
	"context"
	"time"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/port"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// Emitter is the slice of the connection manager the tracker needs.
type Emitter interface {
	Emit(event string, payload interface{}) error
}

// Timeline is the slice of the message store the tracker needs.
type Timeline interface {
	UnreadFrom(roomID, senderID string) []string
	ApplyReadState(roomID string, messageIDs []string)
	MarkReadUpTo(roomID, senderID string, readAt time.Time)
}

// Tracker keeps the read high-water mark per room. Opening a room marks
// its backlog read through both transports, since either may be the one
// the server listens on; remote read receipts are applied retroactively as
// a timestamp cutoff over the local user's outbound messages.
type Tracker struct {
	emitter Emitter
	marker  port.ReadMarker
	store   Timeline
	selfID  string
	log     logger.Logger
}

func NewTracker(emitter Emitter, marker port.ReadMarker, store Timeline, selfID string, log logger.Logger) *Tracker {
	return &Tracker{
		emitter: emitter,
		marker:  marker,
		store:   store,
		selfID:  selfID,
		log:     log.WithModule("receipts"),
	}
}

// OnRoomOpened marks everything the counterpart sent as read: local flags
// immediately, then the bulk REST call and the mark_read socket event. A
// failed call is not retried; the next room open repeats it naturally.
func (t *Tracker) OnRoomOpened(ctx context.Context, room domain.Room) {
	peer := room.Peer(t.selfID)
	unread := t.store.UnreadFrom(room.ID, peer)
	t.store.ApplyReadState(room.ID, unread)

	if err := t.marker.MarkRead(ctx, room.ID); err != nil {
		t.log.Warnf("mark read for room %s failed (not retried): %v", room.ID, err)
	}
	if err := t.emitter.Emit(domain.EventMarkRead, domain.ReadPayload{
		RoomID: room.ID,
		UserID: t.selfID,
		ReadAt: time.Now().UTC(),
	}); err != nil {
		t.log.Errorf("mark_read emit for room %s: %v", room.ID, err)
	}
}

// OnRemoteRead handles a message_read push. The counterpart reading up to
// readAt flips read on all of the local user's messages at or before that
// cutoff; the user's own mark_read echo carries nothing new and is
// dropped.
func (t *Tracker) OnRemoteRead(roomID, userID string, readAt time.Time) {
	if userID == t.selfID {
		return
	}
	t.store.MarkReadUpTo(roomID, t.selfID, readAt)
}
