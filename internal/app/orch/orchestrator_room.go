package orch

import (
	"github.com/dkeye/relay/internal/app"
	"github.com/dkeye/relay/internal/domain"
	"github.com/dkeye/relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) handleJoinServer(c *app.Connection, env protocol.Envelope) error {
	var p protocol.ServerRef
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	room := domain.ServerRoom(p.ServerID.String())
	c.NameRoom(room, p.ServerID)
	if o.Index.Join(c, room, o.now()).Joined {
		log.Info().Str("module", "orch").Str("conn", string(c.ID)).Str("room", room.String()).Msg("joined server")
		o.syncRooms()
	}
	return nil
}

func (o *Orchestrator) handleLeaveServer(c *app.Connection, env protocol.Envelope) error {
	var p protocol.ServerRef
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	room := domain.ServerRoom(p.ServerID.String())
	if o.Index.Leave(c.ID, room) {
		c.ForgetRoom(room)
		o.syncRooms()
	}
	return nil
}

// handleJoinChannel moves the connection into a channel room. The old room
// hears user_left_channel before the new room hears user_joined_channel.
func (o *Orchestrator) handleJoinChannel(c *app.Connection, env protocol.Envelope) error {
	var p protocol.JoinChannel
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	room := domain.ChannelRoom(p.ChannelID.String())
	res := o.Index.Join(c, room, o.now())
	if res.Left != nil {
		o.announceLeave(c, *res.Left)
		c.ForgetRoom(*res.Left)
	}
	c.NameRoom(room, p.ChannelID)
	if res.Joined {
		o.Dispatcher.Broadcast(room, protocol.EventUserJoinedChannel, protocol.ChannelPresence{
			ChannelID: p.ChannelID,
			ServerID:  p.ServerID,
			UserID:    userID(c),
			Username:  c.Username,
		}, c.ID)
		log.Info().Str("module", "orch").Str("conn", string(c.ID)).Str("room", room.String()).Msg("joined channel")
		o.syncRooms()
	}
	o.sendChannelMembers(c, p.ChannelID)
	return nil
}

func (o *Orchestrator) handleLeaveChannel(c *app.Connection, env protocol.Envelope) error {
	var p protocol.ChannelRef
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	room := domain.ChannelRoom(p.ChannelID.String())
	if o.Index.Leave(c.ID, room) {
		o.announceLeave(c, room)
		c.ForgetRoom(room)
		o.syncRooms()
	}
	return nil
}

func (o *Orchestrator) handleGetChannelMembers(c *app.Connection, env protocol.Envelope) error {
	var p protocol.ChannelRef
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	o.sendChannelMembers(c, p.ChannelID)
	return nil
}

func (o *Orchestrator) sendChannelMembers(c *app.Connection, channelID protocol.ID) {
	room := domain.ChannelRoom(channelID.String())
	o.Dispatcher.Send(c.ID, protocol.EventChannelMembers, protocol.ChannelMembers{
		ChannelID: channelID,
		Members:   o.members(o.Index.MembersOf(room)),
	})
}

// announceLeave tells the rest of room that c left it. Server rooms have
// no departure notice.
func (o *Orchestrator) announceLeave(c *app.Connection, room domain.RoomRef) {
	switch room.Kind {
	case domain.KindChannel:
		o.Dispatcher.Broadcast(room, protocol.EventUserLeftChannel, protocol.ChannelPresence{
			ChannelID: c.RoomID(room),
			UserID:    userID(c),
			Username:  c.Username,
		}, c.ID)
	case domain.KindVoice:
		o.Dispatcher.Broadcast(room, protocol.EventUserLeftVoice, protocol.VoicePresence{
			ChannelID:    c.RoomID(room),
			UserID:       userID(c),
			Username:     c.Username,
			ConnectionID: string(c.ID),
		}, c.ID)
	case domain.KindServer:
	}
}

// requireMember rejects content events for rooms the sender is not in.
func (o *Orchestrator) requireMember(c *app.Connection, room domain.RoomRef) error {
	if o.Index.IsMember(c.ID, room) {
		return nil
	}
	return protocol.Errorf(protocol.CodeNotInRoom, "not a member of %s", room)
}
