package connection

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Handler receives the raw payload of one event.
type Handler func(data json.RawMessage)

type subscription struct {
	id uint64
	fn Handler
}

// Manager owns the single persistent websocket to the message server and
// the subscriber registry every higher layer works through. It is built
// once at login and torn down at logout; components receive it by handle,
// never as ambient package state.
//
// Network loss reconnects automatically with capped exponential backoff.
// An explicit credential rejection does not: it raises auth_error and
// stays down until Connect is called with a fresh credential.
type Manager struct {
	url string
	log logger.Logger

	mu         sync.Mutex
	state      State
	credential string
	conn       *websocket.Conn
	subs       map[string][]subscription
	nextSubID  uint64
	joined     map[string]struct{}
	generation uint64

	writeMu sync.Mutex

	// Reconnect schedule knobs, fixed except in tests.
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewManager(serverURL string, log logger.Logger) *Manager {
	return &Manager{
		url:            serverURL,
		log:            log.WithModule("connection"),
		subs:           make(map[string][]subscription),
		joined:         make(map[string]struct{}),
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the transport is up.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Connect opens the transport with the given credential. Calling it while
// already connected with the same credential is a no-op. On a network
// failure it schedules background reconnects and returns the dial error;
// on a credential rejection it raises auth_error and does not retry.
func (m *Manager) Connect(credential string) error {
	m.mu.Lock()
	if m.state == StateConnected && m.credential == credential {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	gen := m.generation
	m.credential = credential
	m.state = StateConnecting
	old := m.conn
	m.conn = nil
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}

	authRejected, err := m.dial(gen)
	if err != nil {
		if authRejected {
			return err
		}
		m.setState(gen, StateReconnecting)
		m.publishStatus(false)
		go m.reconnectLoop(gen)
		return err
	}
	return nil
}

// dial performs one handshake attempt and, on success, installs the
// connection and flushes the buffered room joins.
func (m *Manager) dial(gen uint64) (authRejected bool, err error) {
	m.mu.Lock()
	credential := m.credential
	stale := gen != m.generation
	m.mu.Unlock()
	if stale {
		return false, nil
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, resp, err := websocket.DefaultDialer.Dial(m.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			m.setState(gen, StateDisconnected)
			m.publishStatus(false)
			m.dispatch(domain.EventAuthError, mustMarshal(domain.SocketErrorPayload{
				Code:    "auth_rejected",
				Message: "credential rejected by server",
			}))
			return true, fmt.Errorf("connect: credential rejected: %w", err)
		}
		return false, fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		conn.Close()
		return false, nil
	}
	m.conn = conn
	m.state = StateConnected
	joined := make([]string, 0, len(m.joined))
	for roomID := range m.joined {
		joined = append(joined, roomID)
	}
	m.mu.Unlock()

	m.log.Infof("connected to %s", m.url)
	m.publishStatus(true)
	for _, roomID := range joined {
		if err := m.Emit(domain.EventJoinRoom, domain.RoomRef{RoomID: roomID}); err != nil {
			m.log.Errorf("rejoin room %s: %v", roomID, err)
		}
	}

	go m.readPump(conn, gen)
	return false, nil
}

func (m *Manager) reconnectLoop(gen uint64) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.initialBackoff
	bo.MaxInterval = m.maxBackoff
	bo.MaxElapsedTime = 0

	for {
		wait := bo.NextBackOff()
		time.Sleep(wait)

		m.mu.Lock()
		stale := gen != m.generation || m.state == StateConnected
		m.mu.Unlock()
		if stale {
			return
		}

		authRejected, err := m.dial(gen)
		if err == nil || authRejected {
			return
		}
		m.log.Debugf("reconnect attempt failed, next in %s: %v", bo.NextBackOff(), err)
	}
}

func (m *Manager) readPump(conn *websocket.Conn, gen uint64) {
	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			m.mu.Lock()
			if gen != m.generation {
				// Deliberate disconnect already handled teardown.
				m.mu.Unlock()
				return
			}
			m.conn = nil
			m.state = StateReconnecting
			m.mu.Unlock()
			conn.Close()

			m.log.Warnf("connection lost: %v", err)
			m.publishStatus(false)
			m.reconnectLoop(gen)
			return
		}
		if env.Event == "" {
			continue
		}
		m.dispatch(env.Event, env.Data)
	}
}

// Disconnect tears down the transport and drops room-scoped subscriptions.
// The generic registry (connection_status, unread_counts, ...) survives so
// upper layers keep observing across a logout/login cycle.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.generation++
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.credential = ""
	for event := range m.subs {
		if domain.RoomScoped(event) {
			delete(m.subs, event)
		}
	}
	m.joined = make(map[string]struct{})
	m.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	m.publishStatus(false)
}

// On registers a handler for an event and returns its unsubscribe
// function. Handlers for the same event fire in registration order.
func (m *Manager) On(event string, fn Handler) func() {
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subs[event] = append(m.subs[event], subscription{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.subs[event]
		for i, sub := range list {
			if sub.id == id {
				m.subs[event] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(m.subs[event]) == 0 {
			delete(m.subs, event)
		}
	}
}

// HandlerCount reports the registered handlers for an event.
func (m *Manager) HandlerCount(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[event])
}

// Emit sends an event to the server. While disconnected the event is
// dropped with a warning; the caller decides whether that warrants a
// user-visible failure. This client keeps no durable outbox.
func (m *Manager) Emit(event string, payload interface{}) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.log.Warnf("emit %s dropped: not connected", event)
		return nil
	}

	env := domain.NewEnvelope(event, payload)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// JoinRoom records interest in a room and issues the join intent. The
// record survives disconnects: every (re)connect re-issues join_room for
// all recorded rooms.
func (m *Manager) JoinRoom(roomID string) {
	m.mu.Lock()
	m.joined[roomID] = struct{}{}
	m.mu.Unlock()
	if err := m.Emit(domain.EventJoinRoom, domain.RoomRef{RoomID: roomID}); err != nil {
		m.log.Errorf("join room %s: %v", roomID, err)
	}
}

// LeaveRoom drops the join record and issues the leave intent.
func (m *Manager) LeaveRoom(roomID string) {
	m.mu.Lock()
	delete(m.joined, roomID)
	m.mu.Unlock()
	if err := m.Emit(domain.EventLeaveRoom, domain.RoomRef{RoomID: roomID}); err != nil {
		m.log.Errorf("leave room %s: %v", roomID, err)
	}
}

func (m *Manager) setState(gen uint64, s State) {
	m.mu.Lock()
	if gen == m.generation {
		m.state = s
	}
	m.mu.Unlock()
}

func (m *Manager) publishStatus(connected bool) {
	m.dispatch(domain.EventConnectionStatus, mustMarshal(domain.ConnectionStatusPayload{Connected: connected}))
}

// dispatch delivers an event to local subscribers in registration order.
// The handler slice is copied so handlers may subscribe or unsubscribe
// without deadlocking.
func (m *Manager) dispatch(event string, data json.RawMessage) {
	m.mu.Lock()
	list := make([]subscription, len(m.subs[event]))
	copy(list, m.subs[event])
	m.mu.Unlock()

	for _, sub := range list {
		sub.fn(data)
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
