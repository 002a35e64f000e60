package receipts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

type fakeEmitter struct {
	events   []string
	payloads []domain.ReadPayload
	err      error
}

func (f *fakeEmitter) Emit(event string, payload interface{}) error {
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload.(domain.ReadPayload))
	return f.err
}

type fakeMarker struct {
	rooms []string
	err   error
}

func (f *fakeMarker) MarkRead(_ context.Context, roomID string) error {
	f.rooms = append(f.rooms, roomID)
	return f.err
}

type fakeTimeline struct {
	unread  map[string][]string
	applied [][]string
	cutoffs []time.Time
	senders []string
}

func (f *fakeTimeline) UnreadFrom(roomID, senderID string) []string {
	return f.unread[roomID+"|"+senderID]
}

func (f *fakeTimeline) ApplyReadState(_ string, messageIDs []string) {
	f.applied = append(f.applied, messageIDs)
}

func (f *fakeTimeline) MarkReadUpTo(_, senderID string, readAt time.Time) {
	f.senders = append(f.senders, senderID)
	f.cutoffs = append(f.cutoffs, readAt)
}

func testRoom() domain.Room {
	return domain.Room{ID: "42", ListingID: "listing-1", BuyerID: "me", SellerID: "them", Active: true}
}

func newTestTracker(emitter *fakeEmitter, marker *fakeMarker, store *fakeTimeline) *Tracker {
	return NewTracker(emitter, marker, store, "me", logger.NewLogger("error", ""))
}

// Opening a room marks the counterpart's backlog read locally and reports
// it through both the REST bulk call and the mark_read socket event.
func TestOnRoomOpened(t *testing.T) {
	emitter := &fakeEmitter{}
	marker := &fakeMarker{}
	store := &fakeTimeline{unread: map[string][]string{"42|them": {"1", "2"}}}
	tracker := newTestTracker(emitter, marker, store)

	tracker.OnRoomOpened(context.Background(), testRoom())

	require.Len(t, store.applied, 1)
	assert.Equal(t, []string{"1", "2"}, store.applied[0])
	assert.Equal(t, []string{"42"}, marker.rooms)
	require.Equal(t, []string{domain.EventMarkRead}, emitter.events)
	assert.Equal(t, "42", emitter.payloads[0].RoomID)
	assert.Equal(t, "me", emitter.payloads[0].UserID)
	assert.False(t, emitter.payloads[0].ReadAt.IsZero())
}

// A failed bulk call is logged and not retried; the local flags and the
// socket event still go through.
func TestOnRoomOpenedMarkerFailure(t *testing.T) {
	emitter := &fakeEmitter{}
	marker := &fakeMarker{err: fmt.Errorf("503")}
	store := &fakeTimeline{unread: map[string][]string{"42|them": {"1"}}}
	tracker := newTestTracker(emitter, marker, store)

	tracker.OnRoomOpened(context.Background(), testRoom())

	require.Len(t, store.applied, 1)
	assert.Equal(t, []string{domain.EventMarkRead}, emitter.events)
}

func TestOnRemoteReadAppliesCutoff(t *testing.T) {
	store := &fakeTimeline{}
	tracker := newTestTracker(&fakeEmitter{}, &fakeMarker{}, store)

	readAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.OnRemoteRead("42", "them", readAt)

	// The counterpart reading flips the local user's outbound messages.
	require.Equal(t, []string{"me"}, store.senders)
	assert.Equal(t, readAt, store.cutoffs[0])
}

func TestOnRemoteReadDropsOwnEcho(t *testing.T) {
	store := &fakeTimeline{}
	tracker := newTestTracker(&fakeEmitter{}, &fakeMarker{}, store)

	tracker.OnRemoteRead("42", "me", time.Now())

	assert.Empty(t, store.senders)
}
