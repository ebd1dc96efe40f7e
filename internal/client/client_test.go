package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/relay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay accepts websockets and hands every inbound envelope to the test.
type fakeRelay struct {
	srv    *httptest.Server
	frames chan protocol.Envelope
	conns  chan *websocket.Conn
	refuse atomic.Int32
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	f := &fakeRelay{
		frames: make(chan protocol.Envelope, 32),
		conns:  make(chan *websocket.Conn, 8),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.refuse.Load() > 0 {
			f.refuse.Add(-1)
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- ws
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var env protocol.Envelope
			if json.Unmarshal(data, &env) == nil {
				f.frames <- env
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) url() string { return "ws" + strings.TrimPrefix(f.srv.URL, "http") }

func (f *fakeRelay) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-f.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from client")
		return protocol.Envelope{}
	}
}

func (f *fakeRelay) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-f.conns:
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("client did not connect")
		return nil
	}
}

func run(t *testing.T, c *Client) (cancel func(), result <-chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(stop)
	return stop, done
}

type statusLog struct {
	mu  sync.Mutex
	got []Status
}

func (s *statusLog) add(st Status) {
	s.mu.Lock()
	s.got = append(s.got, st)
	s.mu.Unlock()
}

func (s *statusLog) has(st Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.got {
		if g == st {
			return true
		}
	}
	return false
}

func decodeAuth(t *testing.T, env protocol.Envelope) protocol.Authenticate {
	t.Helper()
	require.Equal(t, protocol.EventAuthenticate, env.Type)
	var a protocol.Authenticate
	require.NoError(t, json.Unmarshal(env.Data, &a))
	return a
}

func TestRunReauthenticatesOnEveryConnect(t *testing.T) {
	relay := newFakeRelay(t)

	var hits atomic.Int32
	profile := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"userId": 42, "username": "ana"}`))
	}))
	defer profile.Close()

	c := New(Options{
		URL:        relay.url(),
		Provider:   HTTPIdentity{URL: profile.URL},
		RetryDelay: 10 * time.Millisecond,
	})
	var statuses statusLog
	c.OnStatus(statuses.add)
	stop, done := run(t, c)

	want := protocol.Authenticate{UserID: protocol.NumberID("42"), Username: "ana"}
	ws := relay.conn(t)
	assert.Equal(t, want, decodeAuth(t, relay.next(t)))
	assert.Eventually(t, func() bool { return c.Status() == StatusConnected }, time.Second, 5*time.Millisecond)

	// Each outage gets its own retry.
	for range 2 {
		_ = ws.Close()
		ws = relay.conn(t)
		assert.Equal(t, want, decodeAuth(t, relay.next(t)))
	}
	assert.Equal(t, int32(1), hits.Load(), "identity is cached after the first fetch")
	assert.True(t, statuses.has(StatusReconnecting))

	stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StatusStopped, c.Status())
}

func TestRunRetriesFailedDials(t *testing.T) {
	relay := newFakeRelay(t)
	relay.refuse.Store(2)

	c := New(Options{
		URL:        relay.url(),
		Identity:   &Identity{UserID: protocol.StringID("1"), Username: "bo"},
		RetryDelay: 10 * time.Millisecond,
		MaxRetries: 3,
	})
	run(t, c)

	relay.conn(t)
	assert.Equal(t, "bo", decodeAuth(t, relay.next(t)).Username)
	assert.Equal(t, int32(0), relay.refuse.Load())
}

func TestRunGivesUpAfterOneRetry(t *testing.T) {
	relay := newFakeRelay(t)
	relay.refuse.Store(5)

	c := New(Options{
		URL:        relay.url(),
		Identity:   &Identity{UserID: protocol.StringID("1"), Username: "bo"},
		RetryDelay: 10 * time.Millisecond,
	})
	var statuses statusLog
	c.OnStatus(statuses.add)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Run(ctx)
	require.Error(t, err)
	assert.NoError(t, ctx.Err())
	assert.Equal(t, int32(3), relay.refuse.Load(), "one dial plus one retry")
	assert.True(t, statuses.has(StatusReconnecting))
	assert.Equal(t, StatusStopped, c.Status())
}

func TestRunWithoutIdentity(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1", RetryDelay: time.Millisecond})
	err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestIdentityFetchFailureIsRetried(t *testing.T) {
	relay := newFakeRelay(t)
	var hits atomic.Int32
	profile := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"userId": "u-1", "username": "cy"}`))
	}))
	defer profile.Close()

	c := New(Options{URL: relay.url(), Provider: HTTPIdentity{URL: profile.URL}, RetryDelay: 10 * time.Millisecond})
	run(t, c)

	relay.conn(t)
	assert.Equal(t, protocol.StringID("u-1"), decodeAuth(t, relay.next(t)).UserID)
	assert.Equal(t, int32(2), hits.Load())
}

func TestEventsReachHandlers(t *testing.T) {
	relay := newFakeRelay(t)
	c := New(Options{URL: relay.url(), Identity: &Identity{UserID: protocol.StringID("1"), Username: "me"}, RetryDelay: 10 * time.Millisecond})

	tracker := NewTypingTracker()
	lines := make(chan string, 4)
	tracker.Attach(c, func(_ protocol.ID, line string) { lines <- line })
	run(t, c)

	ws := relay.conn(t)
	relay.next(t)

	for _, name := range []string{"ann", "ben"} {
		frame, err := protocol.Encode(protocol.EventUserTyping, protocol.UserTyping{
			ChannelID: protocol.NumberID("5"), UserID: protocol.NumberID("9"), Username: name, IsTyping: true,
		})
		require.NoError(t, err)
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
	}

	for _, want := range []string{"ann is typing...", "ann and ben are typing..."} {
		select {
		case got := <-lines:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("no typing line %q", want)
		}
	}
}

func TestEmitNotConnected(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1"})
	assert.ErrorIs(t, c.Emit(protocol.EventPing, nil), ErrNotConnected)
}
