// Package orch is the relay's event router. It owns the connection
// registry, the membership index and the dispatcher, and serializes every
// transition behind one mutex.
package orch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/relay/internal/app"
	"github.com/dkeye/relay/internal/core"
	"github.com/dkeye/relay/internal/domain"
	"github.com/dkeye/relay/internal/metrics"
	"github.com/dkeye/relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Policy     app.Policy
	Limiter    *app.RateLimiter
	Presence   app.PresenceSink
	Metrics    *metrics.Metrics
	ICEServers []protocol.ICEServer
	Now        func() time.Time
}

type Orchestrator struct {
	Registry   *app.Registry
	Index      *core.Index
	Dispatcher *app.Dispatcher

	limiter    *app.RateLimiter
	presence   app.PresenceSink
	metrics    *metrics.Metrics
	iceServers []protocol.ICEServer
	now        func() time.Time

	mu sync.Mutex
}

func New(opts Options) *Orchestrator {
	if opts.Policy == nil {
		opts.Policy = app.SimplePolicy{}
	}
	if opts.Presence == nil {
		opts.Presence = app.NoopPresence{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	reg := app.NewRegistry()
	idx := core.NewIndex()
	return &Orchestrator{
		Registry: reg,
		Index:    idx,
		Dispatcher: &app.Dispatcher{
			Registry: reg,
			Index:    idx,
			Policy:   opts.Policy,
			Metrics:  opts.Metrics,
		},
		limiter:    opts.Limiter,
		presence:   opts.Presence,
		metrics:    opts.Metrics,
		iceServers: opts.ICEServers,
		now:        opts.Now,
	}
}

// Connect registers a freshly accepted transport connection.
func (o *Orchestrator) Connect(id domain.ConnID, sig core.SignalConnection) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, err := o.Registry.Register(id, sig, o.now()); err != nil {
		return fmt.Errorf("connect %s: %w", id, err)
	}
	o.metrics.SetConnections(o.Registry.Count())
	return nil
}

// Disconnect releases every membership of id and announces the departures.
// If id owned its user's presence, presence passes to the user's newest
// other live connection, or the user is broadcast offline when none is left.
func (o *Orchestrator) Disconnect(id domain.ConnID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	c, ok := o.Registry.Get(id)
	if !ok {
		return
	}
	for _, room := range o.Index.ReleaseAll(id) {
		o.announceLeave(c, room)
	}
	o.syncRooms()

	_, res := o.Registry.Unregister(id, o.now())
	o.limiter.Forget(id)
	o.metrics.SetConnections(o.Registry.Count())

	switch {
	case res.Successor != nil:
		o.announceHandover(res.Successor, res.Active)
	case res.Owned:
		o.announceOffline(c.UserID, c.WireUserID(), c.Username, id)
	}
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("user", string(c.UserID)).Msg("disconnected")
}

type handler struct {
	fn func(o *Orchestrator, c *app.Connection, env protocol.Envelope) error
	// auth requires an authenticated connection.
	auth bool
	// limited events count against the per-connection rate limit.
	limited bool
}

var handlers = map[string]handler{
	protocol.EventAuthenticate:      {fn: (*Orchestrator).handleAuthenticate},
	protocol.EventPing:              {fn: (*Orchestrator).handlePing},
	protocol.EventWhoAmI:            {fn: (*Orchestrator).handleWhoAmI},
	protocol.EventUpdateStatus:      {fn: (*Orchestrator).handleUpdateStatus, auth: true},
	protocol.EventJoinServer:        {fn: (*Orchestrator).handleJoinServer, auth: true},
	protocol.EventLeaveServer:       {fn: (*Orchestrator).handleLeaveServer, auth: true},
	protocol.EventJoinChannel:       {fn: (*Orchestrator).handleJoinChannel, auth: true},
	protocol.EventLeaveChannel:      {fn: (*Orchestrator).handleLeaveChannel, auth: true},
	protocol.EventGetChannelMembers: {fn: (*Orchestrator).handleGetChannelMembers, auth: true},
	protocol.EventNewMessage:        {fn: (*Orchestrator).handleNewMessage, auth: true, limited: true},
	protocol.EventEditMessage:       {fn: (*Orchestrator).handleEditMessage, auth: true, limited: true},
	protocol.EventDeleteMessage:     {fn: (*Orchestrator).handleDeleteMessage, auth: true, limited: true},
	protocol.EventAddReaction:       {fn: (*Orchestrator).handleAddReaction, auth: true, limited: true},
	protocol.EventRemoveReaction:    {fn: (*Orchestrator).handleRemoveReaction, auth: true, limited: true},
	protocol.EventTypingStart:       {fn: (*Orchestrator).handleTypingStart, auth: true, limited: true},
	protocol.EventTypingStop:        {fn: (*Orchestrator).handleTypingStop, auth: true},
	protocol.EventJoinVoice:         {fn: (*Orchestrator).handleJoinVoice, auth: true},
	protocol.EventLeaveVoice:        {fn: (*Orchestrator).handleLeaveVoice},
	protocol.EventVoiceState:        {fn: (*Orchestrator).handleVoiceState, auth: true, limited: true},
	protocol.EventWebRTCOffer:       {fn: (*Orchestrator).handleOffer, auth: true},
	protocol.EventWebRTCAnswer:      {fn: (*Orchestrator).handleAnswer, auth: true},
	protocol.EventWebRTCCandidate:   {fn: (*Orchestrator).handleCandidate, auth: true},
}

// HandleFrame processes one inbound frame from connection id. Bad input is
// answered with an error event and never escapes to the caller.
func (o *Orchestrator) HandleFrame(id domain.ConnID, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "orch").Str("conn", string(id)).Interface("panic", r).Msg("handler panic")
		}
	}()

	o.mu.Lock()
	defer o.mu.Unlock()

	c, ok := o.Registry.Get(id)
	if !ok {
		return
	}
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		o.reject(c, env.Type, err)
		return
	}
	h, ok := handlers[env.Type]
	if !ok {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Str("type", env.Type).Msg("unknown event ignored")
		return
	}
	o.metrics.Event(env.Type)

	if h.auth && !c.Authenticated() {
		o.reject(c, env.Type, protocol.Errorf(protocol.CodeUnauthenticated, "authenticate first"))
		return
	}
	if h.limited && !o.limiter.Allow(id) {
		o.reject(c, env.Type, protocol.Errorf(protocol.CodeRateLimited, "too many events"))
		return
	}
	if err := h.fn(o, c, env); err != nil {
		o.reject(c, env.Type, err)
	}
}

func (o *Orchestrator) reject(c *app.Connection, event string, err error) {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		log.Error().Err(err).Str("module", "orch").Str("conn", string(c.ID)).Str("event", event).Msg("handler failed")
		perr = protocol.Errorf(protocol.CodeInternal, "internal error")
	} else {
		log.Warn().Str("module", "orch").Str("conn", string(c.ID)).Str("event", event).
			Str("code", perr.Code).Msg(perr.Message)
	}
	o.metrics.Rejected(perr.Code)
	o.Dispatcher.Send(c.ID, protocol.EventError, protocol.ErrorEvent{
		Code:    perr.Code,
		Message: perr.Message,
		Event:   event,
	})
}

func (o *Orchestrator) syncRooms() {
	if o.metrics == nil {
		return
	}
	for kind, n := range o.Index.Counts() {
		o.metrics.SetRooms(string(kind), n)
	}
}

// RoomsSnapshot lists live rooms.
func (o *Orchestrator) RoomsSnapshot() []core.RoomInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Index.Rooms()
}

func (o *Orchestrator) ActiveUsers() []app.ActiveUser {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Registry.ActiveUsers()
}

func (o *Orchestrator) ConnectionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Registry.Count()
}

func (o *Orchestrator) ICEServers() []protocol.ICEServer { return o.iceServers }

func userID(c *app.Connection) protocol.ID { return c.WireUserID() }

// members lists ms with each user id in the shape its own connection sent.
func (o *Orchestrator) members(ms []domain.Member) []protocol.Member {
	out := make([]protocol.Member, 0, len(ms))
	for _, m := range ms {
		uid := protocol.StringID(string(m.User.ID))
		if mc, ok := o.Registry.Get(m.ConnID); ok {
			uid = mc.WireUserID()
		}
		out = append(out, protocol.Member{
			UserID:       uid,
			Username:     m.User.Username,
			ConnectionID: string(m.ConnID),
			JoinedAt:     m.JoinedAt,
		})
	}
	return out
}
