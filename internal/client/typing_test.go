package client

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/relay/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingLine(t *testing.T) {
	tests := []struct {
		names []string
		want  string
	}{
		{nil, ""},
		{[]string{"ann"}, "ann is typing..."},
		{[]string{"ann", "ben"}, "ann and ben are typing..."},
		{[]string{"ann", "ben", "cy"}, "ann and 2 others are typing..."},
		{[]string{"ann", "ben", "cy", "di", "ed"}, "ann and 4 others are typing..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, typingLine(tt.names))
	}
}

func TestTypingTracker(t *testing.T) {
	tr := NewTypingTracker()
	five, six := protocol.StringID("5"), protocol.StringID("6")

	assert.True(t, tr.Set(five, "ann", true))
	assert.False(t, tr.Set(five, "ann", true), "already typing")
	assert.True(t, tr.Set(protocol.NumberID("5"), "ben", true))
	assert.True(t, tr.Set(six, "cy", true))
	assert.Equal(t, "ann and ben are typing...", tr.Display(five))
	assert.Equal(t, "cy is typing...", tr.Display(six))

	assert.True(t, tr.Set(five, "ann", false))
	assert.Equal(t, "ben is typing...", tr.Display(five))
	assert.False(t, tr.Set(five, "ann", false), "not typing")

	tr.Clear(six)
	assert.Equal(t, "", tr.Display(six))
}

func TestTypingTrackerDrop(t *testing.T) {
	tr := NewTypingTracker()
	tr.Set(protocol.StringID("5"), "ann", true)
	tr.Set(protocol.StringID("5"), "ben", true)
	tr.Set(protocol.StringID("6"), "ann", true)

	assert.ElementsMatch(t, []protocol.ID{protocol.StringID("5"), protocol.StringID("6")}, tr.Drop("ann"))
	assert.Equal(t, "ben is typing...", tr.Display(protocol.StringID("5")))
	assert.Equal(t, "", tr.Display(protocol.StringID("6")))
	assert.Empty(t, tr.Drop("ann"))
}

func deliver(t *testing.T, c *Client, event string, payload any) {
	t.Helper()
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	c.dispatch(env)
}

func TestTypingClearedWhenTyperLeaves(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1"})
	tr := NewTypingTracker()
	var lines []string
	tr.Attach(c, func(_ protocol.ID, line string) { lines = append(lines, line) })
	five := protocol.NumberID("5")

	deliver(t, c, protocol.EventUserTyping, protocol.UserTyping{ChannelID: five, UserID: protocol.StringID("a"), Username: "alice", IsTyping: true})
	assert.Equal(t, "alice is typing...", tr.Display(five))

	deliver(t, c, protocol.EventUserLeftChannel, protocol.ChannelPresence{ChannelID: five, UserID: protocol.StringID("a"), Username: "alice"})
	assert.Equal(t, "", tr.Display(five))
	assert.Equal(t, []string{"alice is typing...", ""}, lines)

	// Leaving without typing changes nothing.
	deliver(t, c, protocol.EventUserLeftChannel, protocol.ChannelPresence{ChannelID: five, UserID: protocol.StringID("b"), Username: "bob"})
	assert.Len(t, lines, 2)
}

func TestTypingClearedWhenTyperGoesOffline(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1"})
	tr := NewTypingTracker()
	var lines []string
	tr.Attach(c, func(_ protocol.ID, line string) { lines = append(lines, line) })
	five := protocol.StringID("5")

	deliver(t, c, protocol.EventUserTyping, protocol.UserTyping{ChannelID: five, Username: "alice", IsTyping: true})
	deliver(t, c, protocol.EventUserTyping, protocol.UserTyping{ChannelID: five, Username: "bob", IsTyping: true})
	deliver(t, c, protocol.EventUserStatusUpdate, protocol.StatusUpdate{UserID: protocol.StringID("a"), Username: "alice", Status: "idle"})
	assert.Equal(t, "alice and bob are typing...", tr.Display(five))

	deliver(t, c, protocol.EventUserStatusUpdate, protocol.StatusUpdate{UserID: protocol.StringID("a"), Username: "alice", Status: "offline"})
	assert.Equal(t, "bob is typing...", tr.Display(five))
	assert.Equal(t, "bob is typing...", lines[len(lines)-1])
}

type sent struct {
	event   string
	channel protocol.ID
	at      time.Time
}

type fakeEmitter struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeEmitter) Emit(event string, payload any) error {
	ref := payload.(protocol.ChannelRef)
	f.mu.Lock()
	f.sent = append(f.sent, sent{event: event, channel: ref.ChannelID, at: time.Now()})
	f.mu.Unlock()
	return nil
}

func (f *fakeEmitter) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.event)
	}
	return out
}

func TestTypingNotifierAutoStop(t *testing.T) {
	em := &fakeEmitter{}
	n := NewTypingNotifier(em, 80*time.Millisecond)

	require.NoError(t, n.Keystroke(protocol.StringID("5")))
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, n.Keystroke(protocol.StringID("5")))

	// the first timer was superseded by the second keystroke
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{protocol.EventTypingStart, protocol.EventTypingStart}, em.events())

	assert.Eventually(t, func() bool {
		return len(em.events()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.EventTypingStop, em.events()[2])

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, em.events(), 3, "exactly one typing_stop")
}

func TestTypingNotifierStop(t *testing.T) {
	em := &fakeEmitter{}
	n := NewTypingNotifier(em, 30*time.Millisecond)

	require.NoError(t, n.Stop(protocol.StringID("5")))
	assert.Empty(t, em.events(), "nothing to stop")

	require.NoError(t, n.Keystroke(protocol.StringID("5")))
	require.NoError(t, n.Stop(protocol.StringID("5")))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{protocol.EventTypingStart, protocol.EventTypingStop}, em.events())
}

func TestTypingNotifierDefaultTimeout(t *testing.T) {
	n := NewTypingNotifier(&fakeEmitter{}, 0)
	assert.Equal(t, TypingTimeout, n.timeout)
}
