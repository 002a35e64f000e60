package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/internal/domain"
	"github.com/eclassifyadvertising7/eclassify-frontend-sub001/pkg/logger"
)

type recordedEvent struct {
	event   string
	payload domain.TypingPayload
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEmitter) Emit(event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{event: event, payload: payload.(domain.TypingPayload)})
	return nil
}

func (f *fakeEmitter) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func newTestController(emitter *fakeEmitter) *Controller {
	c := NewController(emitter, "me", logger.NewLogger("error", ""))
	c.debounce = 50 * time.Millisecond
	c.idle = 30 * time.Millisecond
	c.expiry = 40 * time.Millisecond
	return c
}

// A burst of keystrokes inside the debounce window emits exactly one
// typing event.
func TestNotifyTypingDebounce(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newTestController(emitter)
	defer c.Stop()

	for i := 0; i < 10; i++ {
		c.NotifyTyping("42")
	}

	assert.Equal(t, 1, emitter.count(domain.EventTyping))
}

func TestNotifyTypingReEmitsAfterDebounce(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newTestController(emitter)
	defer c.Stop()

	c.NotifyTyping("42")
	time.Sleep(c.debounce + 10*time.Millisecond)
	c.NotifyTyping("42")

	assert.Equal(t, 2, emitter.count(domain.EventTyping))
}

// Once input pauses past the idle threshold, exactly one stop_typing goes
// out, and the debounce window resets so the next keystroke emits again.
func TestIdleEmitsStopTyping(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newTestController(emitter)
	defer c.Stop()

	c.NotifyTyping("42")
	c.NotifyTyping("42")

	require.Eventually(t, func() bool {
		return emitter.count(domain.EventStopTyping) == 1
	}, time.Second, 5*time.Millisecond)

	c.NotifyTyping("42")
	assert.Equal(t, 2, emitter.count(domain.EventTyping))
}

func TestRoomsDebounceIndependently(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newTestController(emitter)
	defer c.Stop()

	c.NotifyTyping("42")
	c.NotifyTyping("43")

	assert.Equal(t, 2, emitter.count(domain.EventTyping))
}

func TestRemoteTypistExpires(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newTestController(emitter)
	defer c.Stop()

	c.OnRemoteTyping("42", "them")
	assert.Equal(t, []string{"them"}, c.Typists("42"))

	// Expires on its own even though stop_typing never arrives.
	require.Eventually(t, func() bool {
		return len(c.Typists("42")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRemoteTypingRefreshesExpiry(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newTestController(emitter)
	defer c.Stop()

	c.OnRemoteTyping("42", "them")
	time.Sleep(c.expiry / 2)
	c.OnRemoteTyping("42", "them")
	time.Sleep(c.expiry / 2)

	// Still present: the second event re-armed the timer.
	assert.Equal(t, []string{"them"}, c.Typists("42"))
}

func TestRemoteStopTypingRemovesImmediately(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newTestController(emitter)
	defer c.Stop()

	c.OnRemoteTyping("42", "them")
	c.OnRemoteStopTyping("42", "them")

	assert.Empty(t, c.Typists("42"))
}

func TestRemoteTypingIgnoresSelfEcho(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newTestController(emitter)
	defer c.Stop()

	c.OnRemoteTyping("42", "me")

	assert.Empty(t, c.Typists("42"))
}

func TestTypistsSorted(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newTestController(emitter)
	defer c.Stop()

	c.OnRemoteTyping("42", "zoe")
	c.OnRemoteTyping("42", "amy")

	assert.Equal(t, []string{"amy", "zoe"}, c.Typists("42"))
}

func TestClearRoom(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newTestController(emitter)
	defer c.Stop()

	c.OnRemoteTyping("42", "them")
	c.ClearRoom("42")

	assert.Empty(t, c.Typists("42"))
}

func TestStopSilencesTimers(t *testing.T) {
	emitter := &fakeEmitter{}
	c := newTestController(emitter)

	c.NotifyTyping("42")
	c.Stop()
	time.Sleep(c.idle + 20*time.Millisecond)

	assert.Equal(t, 0, emitter.count(domain.EventStopTyping))
}
