// Package client is a Go client for the relay. It keeps a connection open,
// re-authenticates on every connect and routes inbound events to callbacks.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/relay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	DefaultRetryDelay = 3 * time.Second
	// DefaultMaxRetries is how many reconnects follow one outage.
	DefaultMaxRetries = 1
)

var (
	ErrNotConnected   = errors.New("not connected")
	errConnectionLost = errors.New("connection lost")
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusStopped      Status = "stopped"
)

type Handler func(env protocol.Envelope)

// Emitter sends one event to the relay.
type Emitter interface {
	Emit(event string, payload any) error
}

type Options struct {
	URL        string
	Header     http.Header
	Dialer     *websocket.Dialer
	Identity   *Identity
	Provider   IdentityProvider
	RetryDelay time.Duration
	// MaxRetries bounds the reconnects after each outage. Zero means
	// DefaultMaxRetries; a negative value retries until ctx is done.
	MaxRetries int
}

type Client struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	retryDelay time.Duration
	maxRetries int
	identity   identityCache

	mu       sync.RWMutex
	handlers map[string][]Handler
	onStatus []func(Status)
	status   Status

	writeMu sync.Mutex
	conn    *websocket.Conn
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	c := &Client{
		url:        opts.URL,
		header:     opts.Header,
		dialer:     opts.Dialer,
		retryDelay: opts.RetryDelay,
		maxRetries: opts.MaxRetries,
		identity:   identityCache{provider: opts.Provider},
		handlers:   make(map[string][]Handler),
		status:     StatusStopped,
	}
	if opts.Identity != nil && opts.Identity.valid() {
		id := *opts.Identity
		c.identity.cached = &id
	}
	return c
}

// On registers h for inbound events named event. Handlers run on the read
// goroutine in registration order.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.mu.Unlock()
}

func (c *Client) OnStatus(f func(Status)) {
	c.mu.Lock()
	c.onStatus = append(c.onStatus, f)
	c.mu.Unlock()
}

func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	subs := append([]func(Status){}, c.onStatus...)
	c.mu.Unlock()

	log.Debug().Str("module", "client").Str("status", string(s)).Msg("status changed")
	for _, f := range subs {
		f(s)
	}
}

func (c *Client) Emit(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Run keeps the client connected until ctx is done. A failed or lost
// connection is retried after the fixed retry delay, at most MaxRetries
// times in a row; a connection that authenticates restores the budget.
// Run returns the last error once the retries are spent.
func (c *Client) Run(ctx context.Context) error {
	var b backoff.BackOff = backoff.NewConstantBackOff(c.retryDelay)
	if c.maxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(c.maxRetries))
	}
	b = backoff.WithContext(b, ctx)

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		c.setStatus(StatusConnecting)
		connected, err := c.session(ctx)
		if connected {
			b.Reset()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		if errors.Is(err, ErrNoIdentity) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Str("module", "client").Str("url", c.url).Dur("retry_in", next).Msg("connection failed")
		c.setStatus(StatusReconnecting)
	}

	err := backoff.RetryNotify(op, b, notify)
	c.setStatus(StatusStopped)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// session runs one connection: dial, authenticate, then read until the
// connection drops. connected reports that authenticate went out.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	id, err := c.identity.get(ctx)
	if err != nil {
		return false, err
	}

	ws, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.writeMu.Lock()
	c.conn = ws
	c.writeMu.Unlock()

	done := make(chan struct{})
	var watcher conc.WaitGroup
	watcher.Go(func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-done:
		}
	})
	defer func() {
		close(done)
		watcher.Wait()
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		_ = ws.Close()
	}()

	if err := c.Emit(protocol.EventAuthenticate, protocol.Authenticate{UserID: id.UserID, Username: id.Username}); err != nil {
		return false, fmt.Errorf("authenticate: %w", err)
	}
	c.setStatus(StatusConnected)
	log.Info().Str("module", "client").Str("url", c.url).Str("user", id.UserID.String()).Msg("connected")

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("%w: %w", errConnectionLost, err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame from relay")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	c.mu.RLock()
	hs := append([]Handler{}, c.handlers[env.Type]...)
	c.mu.RUnlock()
	for _, h := range hs {
		h(env)
	}
}
