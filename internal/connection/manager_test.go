package connection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// testServer is a minimal relay double: it records handshakes, captures
// everything the manager emits, and can push envelopes back.
type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	dials    atomic.Int64
	rejects  atomic.Int64
	dropNext atomic.Bool

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []domain.Envelope
}

func newTestServer(t *testing.T) *testServer {
	s := &testServer{t: t}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *testServer) handle(w http.ResponseWriter, r *http.Request) {
	s.dials.Add(1)

	if s.rejects.Load() > 0 {
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if s.dropNext.CompareAndSwap(true, false) {
		conn.Close()
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, env)
		s.mu.Unlock()
	}
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *testServer) push(env domain.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(s.t, s.conns, "no client connected")
	require.NoError(s.t, s.conns[len(s.conns)-1].WriteJSON(env))
}

func (s *testServer) envelopes(event string) []domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Envelope
	for _, env := range s.received {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (s *testServer) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func newTestManager(s *testServer) *Manager {
	m := NewManager(s.wsURL(), logger.NewLogger("error", ""))
	m.initialBackoff = 20 * time.Millisecond
	m.maxBackoff = 50 * time.Millisecond
	return m
}

// statusRecorder collects connection_status transitions.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []bool
}

func (r *statusRecorder) handler(data json.RawMessage) {
	var p domain.ConnectionStatusPayload
	if json.Unmarshal(data, &p) == nil {
		r.mu.Lock()
		r.statuses = append(r.statuses, p.Connected)
		r.mu.Unlock()
	}
}

func (r *statusRecorder) all() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func TestConnectPublishesStatus(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(s)
	defer m.Disconnect()

	rec := &statusRecorder{}
	m.On(domain.EventConnectionStatus, rec.handler)

	require.NoError(t, m.Connect("token-1"))

	assert.True(t, m.Connected())
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, []bool{true}, rec.all())
}

func TestConnectIdempotentWithSameCredential(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(s)
	defer m.Disconnect()

	require.NoError(t, m.Connect("token-1"))
	require.NoError(t, m.Connect("token-1"))

	assert.Equal(t, int64(1), s.dials.Load())
}

func TestConnectWithNewCredentialRedials(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(s)
	defer m.Disconnect()

	require.NoError(t, m.Connect("token-1"))
	require.NoError(t, m.Connect("token-2"))

	assert.Equal(t, int64(2), s.dials.Load())
	assert.True(t, m.Connected())
}

func TestEmitDeliversEnvelope(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(s)
	defer m.Disconnect()

	require.NoError(t, m.Connect("token-1"))
	require.NoError(t, m.Emit(domain.EventSendMessage, domain.SendMessagePayload{
		RoomID: "42", TempID: "t1", Type: domain.MessageTypeText, Body: "hi",
	}))

	require.Eventually(t, func() bool {
		return len(s.envelopes(domain.EventSendMessage)) == 1
	}, time.Second, 5*time.Millisecond)

	var payload domain.SendMessagePayload
	require.NoError(t, json.Unmarshal(s.envelopes(domain.EventSendMessage)[0].Data, &payload))
	assert.Equal(t, "hi", payload.Body)
	assert.Equal(t, "t1", payload.TempID)
}

func TestEmitWhileDisconnectedDropsSilently(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(s)

	assert.NoError(t, m.Emit(domain.EventTyping, domain.TypingPayload{RoomID: "42", UserID: "me"}))
	assert.Equal(t, int64(0), s.dials.Load())
}

func TestInboundEventsDispatchInRegistrationOrder(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(s)
	defer m.Disconnect()

	var mu sync.Mutex
	var order []string
	m.On(domain.EventNewMessage, func(json.RawMessage) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	m.On(domain.EventNewMessage, func(json.RawMessage) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	require.NoError(t, m.Connect("token-1"))
	s.push(domain.NewEnvelope(domain.EventNewMessage, domain.Message{ID: "1", RoomID: "42"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(s)
	defer m.Disconnect()

	var calls atomic.Int64
	unsub := m.On(domain.EventNewMessage, func(json.RawMessage) { calls.Add(1) })
	require.Equal(t, 1, m.HandlerCount(domain.EventNewMessage))

	unsub()
	assert.Zero(t, m.HandlerCount(domain.EventNewMessage))

	require.NoError(t, m.Connect("token-1"))
	s.push(domain.NewEnvelope(domain.EventNewMessage, domain.Message{ID: "1", RoomID: "42"}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), calls.Load())
}

// A credential rejection raises auth_error and stays down: no background
// retry can succeed with the same bad credential.
func TestAuthRejectionDoesNotRetry(t *testing.T) {
	s := newTestServer(t)
	s.rejects.Store(1)
	m := newTestManager(s)

	var authErrors atomic.Int64
	m.On(domain.EventAuthError, func(data json.RawMessage) {
		var p domain.SocketErrorPayload
		if json.Unmarshal(data, &p) == nil && p.Code == "auth_rejected" {
			authErrors.Add(1)
		}
	})
	rec := &statusRecorder{}
	m.On(domain.EventConnectionStatus, rec.handler)

	err := m.Connect("bad-token")
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, int64(1), authErrors.Load())
	assert.Equal(t, []bool{false}, rec.all())

	// No reconnect loop: the dial count stays at one.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), s.dials.Load())
}

// Network loss flips status, reconnects with backoff, and re-issues
// join_room for every recorded room on the new connection.
func TestReconnectRejoinsRooms(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(s)
	defer m.Disconnect()

	rec := &statusRecorder{}
	m.On(domain.EventConnectionStatus, rec.handler)

	require.NoError(t, m.Connect("token-1"))
	m.JoinRoom("42")

	require.Eventually(t, func() bool {
		return len(s.envelopes(domain.EventJoinRoom)) == 1
	}, time.Second, 5*time.Millisecond)

	s.closeClients()

	require.Eventually(t, func() bool {
		return m.Connected() && len(s.envelopes(domain.EventJoinRoom)) == 2
	}, 3*time.Second, 10*time.Millisecond)

	statuses := rec.all()
	require.GreaterOrEqual(t, len(statuses), 3)
	assert.Equal(t, []bool{true, false}, statuses[:2])
	assert.True(t, statuses[len(statuses)-1])

	var ref domain.RoomRef
	require.NoError(t, json.Unmarshal(s.envelopes(domain.EventJoinRoom)[1].Data, &ref))
	assert.Equal(t, "42", ref.RoomID)
}

// Joins recorded while disconnected are buffered and flushed on connect.
func TestJoinRoomBufferedUntilConnected(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(s)
	defer m.Disconnect()

	m.JoinRoom("42")
	require.NoError(t, m.Connect("token-1"))

	require.Eventually(t, func() bool {
		return len(s.envelopes(domain.EventJoinRoom)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLeaveRoomDropsJoinRecord(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(s)
	defer m.Disconnect()

	require.NoError(t, m.Connect("token-1"))
	m.JoinRoom("42")
	m.LeaveRoom("42")

	require.Eventually(t, func() bool {
		return len(s.envelopes(domain.EventLeaveRoom)) == 1
	}, time.Second, 5*time.Millisecond)

	// A reconnect must not re-join the left room.
	s.closeClients()
	require.Eventually(t, func() bool { return m.Connected() }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s.envelopes(domain.EventJoinRoom), 1)
}

// Disconnect clears the room-scoped registry but keeps generic
// subscriptions alive across a logout/login cycle.
func TestDisconnectClearsRoomScopedSubscriptions(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(s)

	m.On(domain.EventNewMessage, func(json.RawMessage) {})
	m.On(domain.EventUserTyping, func(json.RawMessage) {})
	m.On(domain.EventConnectionStatus, func(json.RawMessage) {})
	m.On(domain.EventUnreadCounts, func(json.RawMessage) {})

	require.NoError(t, m.Connect("token-1"))
	m.Disconnect()

	assert.Equal(t, StateDisconnected, m.State())
	assert.Zero(t, m.HandlerCount(domain.EventNewMessage))
	assert.Zero(t, m.HandlerCount(domain.EventUserTyping))
	assert.Equal(t, 1, m.HandlerCount(domain.EventConnectionStatus))
	assert.Equal(t, 1, m.HandlerCount(domain.EventUnreadCounts))

	// No reconnect after a deliberate disconnect.
	dials := s.dials.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, dials, s.dials.Load())
}
