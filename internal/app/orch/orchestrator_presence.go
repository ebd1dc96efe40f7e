package orch

import (
	"github.com/dkeye/relay/internal/app"
	"github.com/dkeye/relay/internal/domain"
	"github.com/dkeye/relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// handleAuthenticate binds the self-reported identity. The last connection
// to authenticate owns the user's presence.
func (o *Orchestrator) handleAuthenticate(c *app.Connection, env protocol.Envelope) error {
	var p protocol.Authenticate
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	prevRef := c.WireUserID()
	res, ok := o.Registry.Bind(c.ID, domain.UserID(p.UserID.String()), p.Username, o.now())
	if !ok {
		return nil
	}
	c.UserRef = p.UserID
	if res.Released != "" {
		o.releasePresence(res.Released, prevRef, c.ID)
	}
	if res.Superseded != "" {
		log.Info().Str("module", "orch").Str("user", p.UserID.String()).
			Str("conn", string(c.ID)).Str("superseded", string(res.Superseded)).Msg("presence moved to newer connection")
	}

	o.Dispatcher.Send(c.ID, protocol.EventAuthenticated, protocol.Authenticated{
		ConnectionID: string(c.ID),
		UserID:       p.UserID,
		Username:     p.Username,
	})
	o.Dispatcher.BroadcastAll(protocol.EventUserStatusUpdate, protocol.StatusUpdate{
		UserID:   p.UserID,
		Username: p.Username,
		Status:   string(domain.StatusOnline),
	}, c.ID)
	o.presence.Online(res.Active)
	return nil
}

func (o *Orchestrator) handleUpdateStatus(c *app.Connection, env protocol.Envelope) error {
	var p protocol.UpdateStatus
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	st, err := domain.ParseStatus(p.Status)
	if err != nil {
		return protocol.Errorf(protocol.CodeBadPayload, "%v", err)
	}
	au, ok := o.Registry.SetStatus(c.ID, st)
	if !ok {
		return nil
	}
	o.Dispatcher.BroadcastAll(protocol.EventUserStatusUpdate, protocol.StatusUpdate{
		UserID:   userID(c),
		Username: c.Username,
		Status:   string(st),
	}, c.ID)
	o.presence.Online(au)
	return nil
}

func (o *Orchestrator) handlePing(c *app.Connection, _ protocol.Envelope) error {
	o.Dispatcher.Send(c.ID, protocol.EventPong, protocol.Pong{Time: o.now().UnixMilli()})
	return nil
}

func (o *Orchestrator) handleWhoAmI(c *app.Connection, _ protocol.Envelope) error {
	rooms := o.Index.RoomsOf(c.ID)
	views := make([]protocol.RoomView, 0, len(rooms))
	for _, r := range rooms {
		views = append(views, protocol.RoomView{Kind: string(r.Kind), ID: c.RoomID(r)})
	}
	resp := protocol.WhoAmI{
		ConnectionID: string(c.ID),
		Rooms:        views,
	}
	if c.Authenticated() {
		resp.UserID = userID(c)
		resp.Username = c.Username
		resp.Status = string(c.Status)
	}
	o.Dispatcher.Send(c.ID, protocol.EventWhoAmI, resp)
	return nil
}

// releasePresence follows a connection switching to another user. The
// user it left stays online if another of its connections is live.
func (o *Orchestrator) releasePresence(uid domain.UserID, ref protocol.ID, exclude domain.ConnID) {
	if next, au, ok := o.Registry.Reclaim(uid, o.now()); ok {
		o.announceHandover(next, au)
		return
	}
	o.announceOffline(uid, ref, "", exclude)
}

// announceHandover publishes the status of the connection that inherited a
// user's presence.
func (o *Orchestrator) announceHandover(next *app.Connection, au app.ActiveUser) {
	log.Info().Str("module", "orch").Str("user", string(au.UserID)).
		Str("conn", string(next.ID)).Msg("presence handed to live connection")
	o.Dispatcher.BroadcastAll(protocol.EventUserStatusUpdate, protocol.StatusUpdate{
		UserID:   next.WireUserID(),
		Username: au.Username,
		Status:   string(au.Status),
	}, "")
	o.presence.Online(au)
}

func (o *Orchestrator) announceOffline(uid domain.UserID, ref protocol.ID, username string, exclude domain.ConnID) {
	o.Dispatcher.BroadcastAll(protocol.EventUserStatusUpdate, protocol.StatusUpdate{
		UserID:   ref,
		Username: username,
		Status:   string(domain.StatusOffline),
	}, exclude)
	o.presence.Offline(uid)
}
