package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

// Emitter is the slice of the connection manager the controller needs.
type Emitter interface {
	Emit(event string, payload interface{}) error
}

const (
	defaultDebounce = 3 * time.Second
	defaultIdle     = 2 * time.Second
	defaultExpiry   = 5 * time.Second
)

// Controller owns both directions of the typing indicator: the debounced
// local "I am typing" broadcast and the expiring set of remote typists.
// Every timer is an explicit handle armed and cancelled here; the remote
// expiry guarantees a lost stop_typing can never leave a stale indicator.
type Controller struct {
	emitter Emitter
	selfID  string
	log     logger.Logger

	debounce time.Duration
	idle     time.Duration
	expiry   time.Duration

	mu         sync.Mutex
	stopped    bool
	lastSent   map[string]time.Time
	idleTimers map[string]*time.Timer
	remote     map[string]map[string]*time.Timer
}

func NewController(emitter Emitter, selfID string, log logger.Logger) *Controller {
	return &Controller{
		emitter:    emitter,
		selfID:     selfID,
		log:        log.WithModule("typing"),
		debounce:   defaultDebounce,
		idle:       defaultIdle,
		expiry:     defaultExpiry,
		lastSent:   make(map[string]time.Time),
		idleTimers: make(map[string]*time.Timer),
		remote:     make(map[string]map[string]*time.Timer),
	}
}

// NotifyTyping is called on every local keystroke. At most one typing
// event leaves per debounce window; the idle timer re-arms on each call
// and emits stop_typing once input pauses.
func (c *Controller) NotifyTyping(roomID string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	send := false
	if last, ok := c.lastSent[roomID]; !ok || now.Sub(last) >= c.debounce {
		c.lastSent[roomID] = now
		send = true
	}
	if t := c.idleTimers[roomID]; t != nil {
		t.Stop()
	}
	c.idleTimers[roomID] = time.AfterFunc(c.idle, func() { c.idleElapsed(roomID) })
	c.mu.Unlock()

	if send {
		if err := c.emitter.Emit(domain.EventTyping, domain.TypingPayload{RoomID: roomID, UserID: c.selfID}); err != nil {
			c.log.Errorf("typing broadcast: %v", err)
		}
	}
}

func (c *Controller) idleElapsed(roomID string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	delete(c.idleTimers, roomID)
	delete(c.lastSent, roomID)
	c.mu.Unlock()

	if err := c.emitter.Emit(domain.EventStopTyping, domain.TypingPayload{RoomID: roomID, UserID: c.selfID}); err != nil {
		c.log.Errorf("stop_typing broadcast: %v", err)
	}
}

// OnRemoteTyping adds or refreshes a remote typist with a fresh expiry.
func (c *Controller) OnRemoteTyping(roomID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || userID == c.selfID {
		return
	}
	room := c.remote[roomID]
	if room == nil {
		room = make(map[string]*time.Timer)
		c.remote[roomID] = room
	}
	if t := room[userID]; t != nil {
		t.Stop()
	}
	room[userID] = time.AfterFunc(c.expiry, func() { c.expire(roomID, userID) })
}

// OnRemoteStopTyping removes the entry immediately.
func (c *Controller) OnRemoteStopTyping(roomID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeRemote(roomID, userID)
}

func (c *Controller) expire(roomID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeRemote(roomID, userID)
}

func (c *Controller) removeRemote(roomID, userID string) {
	room := c.remote[roomID]
	if room == nil {
		return
	}
	if t := room[userID]; t != nil {
		t.Stop()
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(c.remote, roomID)
	}
}

// Typists returns the users currently typing in the room, sorted.
func (c *Controller) Typists(roomID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.remote[roomID]
	users := make([]string, 0, len(room))
	for userID := range room {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// ClearRoom drops remote state for a room, used when it is closed. Typing
// events for inactive rooms are not queued for replay.
func (c *Controller) ClearRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for userID := range c.remote[roomID] {
		c.removeRemote(roomID, userID)
	}
}

// Stop cancels every timer. The controller is unusable afterwards.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for _, t := range c.idleTimers {
		t.Stop()
	}
	c.idleTimers = make(map[string]*time.Timer)
	c.lastSent = make(map[string]time.Time)
	for roomID, room := range c.remote {
		for _, t := range room {
			t.Stop()
		}
		delete(c.remote, roomID)
	}
}
