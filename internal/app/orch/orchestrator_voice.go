package orch

import (
	"github.com/dkeye/relay/internal/app"
	"github.com/dkeye/relay/internal/domain"
	"github.com/dkeye/relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) handleJoinVoice(c *app.Connection, env protocol.Envelope) error {
	var p protocol.ChannelRef
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	room := domain.VoiceRoom(p.ChannelID.String())
	c.NameRoom(room, p.ChannelID)
	if o.Index.Join(c, room, o.now()).Joined {
		o.Dispatcher.Broadcast(room, protocol.EventUserJoinedVoice, protocol.VoicePresence{
			ChannelID:    p.ChannelID,
			UserID:       userID(c),
			Username:     c.Username,
			ConnectionID: string(c.ID),
		}, c.ID)
		log.Info().Str("module", "orch").Str("conn", string(c.ID)).Str("room", room.String()).Msg("joined voice")
		o.syncRooms()
	}
	o.Dispatcher.Send(c.ID, protocol.EventVoiceMembers, protocol.VoiceMembers{
		ChannelID:  p.ChannelID,
		Members:    o.members(o.Index.MembersOf(room)),
		ICEServers: o.iceServers,
	})
	return nil
}

func (o *Orchestrator) handleLeaveVoice(c *app.Connection, env protocol.Envelope) error {
	var p protocol.ChannelRef
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	room := domain.VoiceRoom(p.ChannelID.String())
	if o.Index.Leave(c.ID, room) {
		o.announceLeave(c, room)
		c.ForgetRoom(room)
		o.syncRooms()
	}
	return nil
}

func (o *Orchestrator) handleVoiceState(c *app.Connection, env protocol.Envelope) error {
	var p protocol.VoiceState
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	room := domain.VoiceRoom(p.ChannelID.String())
	if err := o.requireMember(c, room); err != nil {
		return err
	}
	o.Dispatcher.Broadcast(room, protocol.EventVoiceStateChanged, protocol.VoiceStateChanged{
		ChannelID: p.ChannelID,
		UserID:    userID(c),
		Username:  c.Username,
		Muted:     p.Muted,
		Deafened:  p.Deafened,
	}, c.ID)
	return nil
}

func (o *Orchestrator) handleOffer(c *app.Connection, env protocol.Envelope) error {
	var p protocol.Offer
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	target, room, err := o.signalTarget(c, p.To)
	if err != nil {
		return err
	}
	o.Dispatcher.Send(target.ID, protocol.EventWebRTCOffer, protocol.SignalOffer{
		From:       string(c.ID),
		FromUserID: userID(c),
		ChannelID:  c.RoomID(room),
		Offer:      p.Offer,
	})
	return nil
}

func (o *Orchestrator) handleAnswer(c *app.Connection, env protocol.Envelope) error {
	var p protocol.Answer
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	target, room, err := o.signalTarget(c, p.To)
	if err != nil {
		return err
	}
	o.Dispatcher.Send(target.ID, protocol.EventWebRTCAnswer, protocol.SignalAnswer{
		From:       string(c.ID),
		FromUserID: userID(c),
		ChannelID:  c.RoomID(room),
		Answer:     p.Answer,
	})
	return nil
}

func (o *Orchestrator) handleCandidate(c *app.Connection, env protocol.Envelope) error {
	var p protocol.ICECandidate
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	target, room, err := o.signalTarget(c, p.To)
	if err != nil {
		return err
	}
	o.Dispatcher.Send(target.ID, protocol.EventWebRTCCandidate, protocol.SignalCandidate{
		From:       string(c.ID),
		FromUserID: userID(c),
		ChannelID:  c.RoomID(room),
		Candidate:  p.Candidate,
	})
	return nil
}

// signalTarget resolves the peer of a signaling message. Signaling only
// flows between connections that share a voice room.
func (o *Orchestrator) signalTarget(c *app.Connection, to protocol.ID) (*app.Connection, domain.RoomRef, error) {
	target, ok := o.Registry.Resolve(to.String())
	if !ok || target.ID == c.ID {
		return nil, domain.RoomRef{}, protocol.Errorf(protocol.CodeUnknownTarget, "no peer %q", to)
	}
	for _, room := range o.Index.RoomsOf(c.ID) {
		if room.Kind == domain.KindVoice && o.Index.IsMember(target.ID, room) {
			return target, room, nil
		}
	}
	return nil, domain.RoomRef{}, protocol.Errorf(protocol.CodeNotInRoom, "no shared voice room with %q", to)
}
