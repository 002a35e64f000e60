package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/connection"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

type fakeBus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]connection.Handler
	joined   []string
	left     []string
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]map[int]connection.Handler)}
}

func (b *fakeBus) On(event string, fn connection.Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.handlers[event] == nil {
		b.handlers[event] = make(map[int]connection.Handler)
	}
	b.handlers[event][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[event], id)
	}
}

func (b *fakeBus) JoinRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joined = append(b.joined, roomID)
}

func (b *fakeBus) LeaveRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.left = append(b.left, roomID)
}

func (b *fakeBus) fire(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	b.mu.Lock()
	fns := make([]connection.Handler, 0, len(b.handlers[event]))
	for _, fn := range b.handlers[event] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}

func (b *fakeBus) handlerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, byID := range b.handlers {
		n += len(byID)
	}
	return n
}

type fakeMessages struct {
	appended   []domain.Message
	reconciled []string
	deleted    []string
	pending    map[string]bool
}

func (f *fakeMessages) AppendFromServer(msg domain.Message) {
	f.appended = append(f.appended, msg)
}

func (f *fakeMessages) ReconcilePending(roomID, tempID string, _ *domain.Message) bool {
	f.reconciled = append(f.reconciled, tempID)
	return f.pending[tempID]
}

func (f *fakeMessages) MarkDeleted(_, messageID string) {
	f.deleted = append(f.deleted, messageID)
}

type fakeTyping struct {
	typing  []string
	stopped []string
}

func (f *fakeTyping) OnRemoteTyping(_, userID string) { f.typing = append(f.typing, userID) }
func (f *fakeTyping) OnRemoteStopTyping(_, userID string) {
	f.stopped = append(f.stopped, userID)
}

type fakeReads struct {
	reads []string
}

func (f *fakeReads) OnRemoteRead(_, userID string, _ time.Time) {
	f.reads = append(f.reads, userID)
}

func room(id string) domain.Room {
	return domain.Room{ID: id, ListingID: "listing-1", BuyerID: "me", SellerID: "them", Active: true}
}

func newTestController(bus *fakeBus) (*Controller, *fakeMessages, *fakeTyping, *fakeReads) {
	messages := &fakeMessages{pending: make(map[string]bool)}
	typing := &fakeTyping{}
	reads := &fakeReads{}
	c := NewController(bus, "me", messages, typing, reads, logger.NewLogger("error", ""))
	return c, messages, typing, reads
}

func TestOpenRoomRegistersAndJoins(t *testing.T) {
	bus := newFakeBus()
	c, _, _, _ := newTestController(bus)

	c.OpenRoom(room("42"))

	assert.Equal(t, 5, bus.handlerCount())
	assert.Equal(t, []string{"42"}, bus.joined)
	require.NotNil(t, c.Active())
	assert.Equal(t, "42", c.Active().ID)
}

func TestOpenRoomIdempotent(t *testing.T) {
	bus := newFakeBus()
	c, _, _, _ := newTestController(bus)

	c.OpenRoom(room("42"))
	c.OpenRoom(room("42"))

	assert.Equal(t, 5, bus.handlerCount())
	assert.Equal(t, []string{"42"}, bus.joined)
	assert.Empty(t, bus.left)
}

// Switching rooms must leave zero handlers from the old room behind: room
// A's events have no path to room B's consumers.
func TestSwitchRoomsLeavesNoHandlersBehind(t *testing.T) {
	bus := newFakeBus()
	c, messages, _, _ := newTestController(bus)

	c.OpenRoom(room("A"))
	c.OpenRoom(room("B"))

	assert.Equal(t, 5, bus.handlerCount())
	assert.Equal(t, []string{"A", "B"}, bus.joined)
	assert.Equal(t, []string{"A"}, bus.left)

	bus.fire(t, domain.EventNewMessage, domain.Message{ID: "1", RoomID: "A", SenderID: "them"})
	assert.Empty(t, messages.appended)

	bus.fire(t, domain.EventNewMessage, domain.Message{ID: "2", RoomID: "B", SenderID: "them"})
	require.Len(t, messages.appended, 1)
	assert.Equal(t, "2", messages.appended[0].ID)
}

func TestCloseRoom(t *testing.T) {
	bus := newFakeBus()
	c, _, _, _ := newTestController(bus)

	c.OpenRoom(room("42"))
	c.CloseRoom()

	assert.Zero(t, bus.handlerCount())
	assert.Equal(t, []string{"42"}, bus.left)
	assert.Nil(t, c.Active())

	// Closing again is a no-op.
	c.CloseRoom()
	assert.Equal(t, []string{"42"}, bus.left)
}

// Events tagged with a different room id are dropped by the filter even
// while their event type is subscribed.
func TestRoomIDFilter(t *testing.T) {
	bus := newFakeBus()
	c, messages, typing, reads := newTestController(bus)

	c.OpenRoom(room("42"))

	bus.fire(t, domain.EventNewMessage, domain.Message{ID: "1", RoomID: "43", SenderID: "them"})
	bus.fire(t, domain.EventUserTyping, domain.TypingPayload{RoomID: "43", UserID: "them"})
	bus.fire(t, domain.EventMessageRead, domain.ReadPayload{RoomID: "43", UserID: "them", ReadAt: time.Now()})
	bus.fire(t, domain.EventMessageDeleted, domain.DeletedPayload{RoomID: "43", MessageID: "1"})

	assert.Empty(t, messages.appended)
	assert.Empty(t, typing.typing)
	assert.Empty(t, reads.reads)
	assert.Empty(t, messages.deleted)
}

// A confirmed echo of an own send carries the temp id and is routed to
// reconciliation, not appended as a second entry.
func TestOwnEchoReconciles(t *testing.T) {
	bus := newFakeBus()
	c, messages, _, _ := newTestController(bus)
	messages.pending["t1"] = true

	c.OpenRoom(room("42"))
	bus.fire(t, domain.EventNewMessage, domain.Message{ID: "77", TempID: "t1", RoomID: "42", SenderID: "me"})

	assert.Equal(t, []string{"t1"}, messages.reconciled)
	assert.Empty(t, messages.appended)
}

// When the pending entry is already gone (resolved by another path) the
// echo falls through to a normal append.
func TestOwnEchoWithoutPendingAppends(t *testing.T) {
	bus := newFakeBus()
	c, messages, _, _ := newTestController(bus)

	c.OpenRoom(room("42"))
	bus.fire(t, domain.EventNewMessage, domain.Message{ID: "77", TempID: "t1", RoomID: "42", SenderID: "me"})

	assert.Equal(t, []string{"t1"}, messages.reconciled)
	require.Len(t, messages.appended, 1)
	assert.Equal(t, "77", messages.appended[0].ID)
}

func TestCounterpartMessageAppends(t *testing.T) {
	bus := newFakeBus()
	c, messages, _, _ := newTestController(bus)

	c.OpenRoom(room("42"))
	bus.fire(t, domain.EventNewMessage, domain.Message{ID: "5", RoomID: "42", SenderID: "them", Body: "hello"})

	assert.Empty(t, messages.reconciled)
	require.Len(t, messages.appended, 1)
	assert.Equal(t, "hello", messages.appended[0].Body)
}

func TestTypingAndReadEventsForwarded(t *testing.T) {
	bus := newFakeBus()
	c, messages, typing, reads := newTestController(bus)

	c.OpenRoom(room("42"))

	bus.fire(t, domain.EventUserTyping, domain.TypingPayload{RoomID: "42", UserID: "them"})
	bus.fire(t, domain.EventUserStopTyping, domain.TypingPayload{RoomID: "42", UserID: "them"})
	bus.fire(t, domain.EventMessageRead, domain.ReadPayload{RoomID: "42", UserID: "them", ReadAt: time.Now()})
	bus.fire(t, domain.EventMessageDeleted, domain.DeletedPayload{RoomID: "42", MessageID: "9"})

	assert.Equal(t, []string{"them"}, typing.typing)
	assert.Equal(t, []string{"them"}, typing.stopped)
	assert.Equal(t, []string{"them"}, reads.reads)
	assert.Equal(t, []string{"9"}, messages.deleted)
}

// Malformed payloads are logged and dropped, never panic or reach sinks.
func TestMalformedPayloadDropped(t *testing.T) {
	bus := newFakeBus()
	c, messages, _, _ := newTestController(bus)

	c.OpenRoom(room("42"))

	bus.mu.Lock()
	fns := make([]connection.Handler, 0)
	for _, fn := range bus.handlers[domain.EventNewMessage] {
		fns = append(fns, fn)
	}
	bus.mu.Unlock()
	for _, fn := range fns {
		fn(json.RawMessage(`{not json`))
	}

	assert.Empty(t, messages.appended)
}
