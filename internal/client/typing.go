package client

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/relay/internal/domain"
	"github.com/dkeye/relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

const TypingTimeout = 3 * time.Second

// TypingTracker keeps, per channel, the usernames currently typing in the
// order they started. Channels are keyed by their normalized id.
type TypingTracker struct {
	mu    sync.Mutex
	rooms map[string][]string
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{rooms: make(map[string][]string)}
}

// Set records that username started or stopped typing in channel and
// reports whether the set changed.
func (t *TypingTracker) Set(channel protocol.ID, username string, typing bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := channel.String()
	names := t.rooms[key]
	i := slices.Index(names, username)
	switch {
	case typing && i < 0:
		t.rooms[key] = append(names, username)
	case !typing && i >= 0:
		t.remove(key, i)
	default:
		return false
	}
	return true
}

// Drop removes username from every channel and returns the channels whose
// set changed.
func (t *TypingTracker) Drop(username string) []protocol.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var changed []protocol.ID
	for key, names := range t.rooms {
		if i := slices.Index(names, username); i >= 0 {
			t.remove(key, i)
			changed = append(changed, protocol.StringID(key))
		}
	}
	return changed
}

func (t *TypingTracker) remove(key string, i int) {
	names := slices.Delete(t.rooms[key], i, i+1)
	if len(names) == 0 {
		delete(t.rooms, key)
		return
	}
	t.rooms[key] = names
}

func (t *TypingTracker) Clear(channel protocol.ID) {
	t.mu.Lock()
	delete(t.rooms, channel.String())
	t.mu.Unlock()
}

// Display renders the typing line for channel, or "" when nobody types.
func (t *TypingTracker) Display(channel protocol.ID) string {
	t.mu.Lock()
	names := slices.Clone(t.rooms[channel.String()])
	t.mu.Unlock()
	return typingLine(names)
}

func typingLine(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing...", names[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing...", names[0], names[1])
	default:
		return fmt.Sprintf("%s and %d others are typing...", names[0], len(names)-1)
	}
}

// Attach feeds typing events from c into the tracker and calls onChange
// with the new line whenever a channel's set changes. A user leaving the
// channel or going offline stops typing there.
func (t *TypingTracker) Attach(c *Client, onChange func(channel protocol.ID, line string)) {
	changed := func(channel protocol.ID) {
		if onChange != nil {
			onChange(channel, t.Display(channel))
		}
	}
	c.On(protocol.EventUserTyping, func(env protocol.Envelope) {
		var p protocol.UserTyping
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad user_typing payload")
			return
		}
		if t.Set(p.ChannelID, p.Username, p.IsTyping) {
			changed(p.ChannelID)
		}
	})
	c.On(protocol.EventUserLeftChannel, func(env protocol.Envelope) {
		var p protocol.ChannelPresence
		if err := json.Unmarshal(env.Data, &p); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad user_left_channel payload")
			return
		}
		if t.Set(p.ChannelID, p.Username, false) {
			changed(p.ChannelID)
		}
	})
	c.On(protocol.EventUserStatusUpdate, func(env protocol.Envelope) {
		var p protocol.StatusUpdate
		if err := json.Unmarshal(env.Data, &p); err != nil || p.Status != string(domain.StatusOffline) {
			return
		}
		for _, ch := range t.Drop(p.Username) {
			changed(ch)
		}
	})
}

// TypingNotifier sends typing_start on every keystroke and typing_stop
// once no keystroke arrived for the timeout.
type TypingNotifier struct {
	emit    Emitter
	timeout time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	gen    map[string]uint64
}

func NewTypingNotifier(emit Emitter, timeout time.Duration) *TypingNotifier {
	if timeout <= 0 {
		timeout = TypingTimeout
	}
	return &TypingNotifier{
		emit:    emit,
		timeout: timeout,
		timers:  make(map[string]*time.Timer),
		gen:     make(map[string]uint64),
	}
}

func (n *TypingNotifier) Keystroke(channel protocol.ID) error {
	key := channel.String()
	n.mu.Lock()
	if t, ok := n.timers[key]; ok {
		t.Stop()
	}
	n.gen[key]++
	g := n.gen[key]
	n.timers[key] = time.AfterFunc(n.timeout, func() { n.expire(channel, g) })
	n.mu.Unlock()

	return n.emit.Emit(protocol.EventTypingStart, protocol.ChannelRef{ChannelID: channel})
}

// Stop sends typing_stop now if channel has a pending timer.
func (n *TypingNotifier) Stop(channel protocol.ID) error {
	key := channel.String()
	n.mu.Lock()
	t, ok := n.timers[key]
	if ok {
		t.Stop()
		delete(n.timers, key)
		n.gen[key]++
	}
	n.mu.Unlock()
	if !ok {
		return nil
	}
	return n.emit.Emit(protocol.EventTypingStop, protocol.ChannelRef{ChannelID: channel})
}

// expire fires from a timer. A newer keystroke or Stop bumps the
// generation and makes the stale timer a no-op.
func (n *TypingNotifier) expire(channel protocol.ID, g uint64) {
	key := channel.String()
	n.mu.Lock()
	if n.gen[key] != g {
		n.mu.Unlock()
		return
	}
	delete(n.timers, key)
	n.mu.Unlock()

	if err := n.emit.Emit(protocol.EventTypingStop, protocol.ChannelRef{ChannelID: channel}); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("channel", channel.String()).Msg("auto typing_stop")
	}
}
