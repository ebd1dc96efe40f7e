package orch

import (
	"github.com/dkeye/relay/internal/app"
	"github.com/dkeye/relay/internal/domain"
	"github.com/dkeye/relay/internal/protocol"
)

// ISO-8601 with milliseconds, as browsers render Date.toISOString.
const editedAtLayout = "2006-01-02T15:04:05.000Z07:00"

func (o *Orchestrator) handleNewMessage(c *app.Connection, env protocol.Envelope) error {
	var p protocol.NewMessage
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	room := domain.ChannelRoom(p.ChannelID.String())
	if err := o.requireMember(c, room); err != nil {
		return err
	}
	o.Dispatcher.Broadcast(room, protocol.EventMessageReceived, protocol.MessageReceived{
		ChannelID: p.ChannelID,
		Message:   p.MessageData,
		UserID:    userID(c),
		Username:  c.Username,
	}, c.ID)
	return nil
}

func (o *Orchestrator) handleEditMessage(c *app.Connection, env protocol.Envelope) error {
	var p protocol.EditMessage
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	room := domain.ChannelRoom(p.ChannelID.String())
	if err := o.requireMember(c, room); err != nil {
		return err
	}
	o.Dispatcher.Broadcast(room, protocol.EventMessageEdited, protocol.MessageEdited{
		ChannelID: p.ChannelID,
		MessageID: p.MessageID,
		Message:   p.MessageData,
		UserID:    userID(c),
		Username:  c.Username,
		EditedAt:  o.now().UTC().Format(editedAtLayout),
	}, c.ID)
	return nil
}

func (o *Orchestrator) handleDeleteMessage(c *app.Connection, env protocol.Envelope) error {
	var p protocol.DeleteMessage
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	room := domain.ChannelRoom(p.ChannelID.String())
	if err := o.requireMember(c, room); err != nil {
		return err
	}
	o.Dispatcher.Broadcast(room, protocol.EventMessageDeleted, protocol.MessageDeleted{
		ChannelID: p.ChannelID,
		MessageID: p.MessageID,
		UserID:    userID(c),
		Username:  c.Username,
	}, c.ID)
	return nil
}

func (o *Orchestrator) handleAddReaction(c *app.Connection, env protocol.Envelope) error {
	return o.relayReaction(c, env, protocol.EventReactionAdded)
}

func (o *Orchestrator) handleRemoveReaction(c *app.Connection, env protocol.Envelope) error {
	return o.relayReaction(c, env, protocol.EventReactionRemoved)
}

func (o *Orchestrator) relayReaction(c *app.Connection, env protocol.Envelope, out string) error {
	var p protocol.Reaction
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	room := domain.ChannelRoom(p.ChannelID.String())
	if err := o.requireMember(c, room); err != nil {
		return err
	}
	o.Dispatcher.Broadcast(room, out, protocol.ReactionChanged{
		ChannelID: p.ChannelID,
		MessageID: p.MessageID,
		Emoji:     p.Emoji,
		UserID:    userID(c),
		Username:  c.Username,
	}, c.ID)
	return nil
}

func (o *Orchestrator) handleTypingStart(c *app.Connection, env protocol.Envelope) error {
	return o.relayTyping(c, env, true)
}

func (o *Orchestrator) handleTypingStop(c *app.Connection, env protocol.Envelope) error {
	return o.relayTyping(c, env, false)
}

func (o *Orchestrator) relayTyping(c *app.Connection, env protocol.Envelope, typing bool) error {
	var p protocol.ChannelRef
	if err := protocol.DecodeData(env, &p); err != nil {
		return err
	}
	room := domain.ChannelRoom(p.ChannelID.String())
	if err := o.requireMember(c, room); err != nil {
		return err
	}
	o.Dispatcher.Broadcast(room, protocol.EventUserTyping, protocol.UserTyping{
		ChannelID: p.ChannelID,
		UserID:    userID(c),
		Username:  c.Username,
		IsTyping:  typing,
	}, c.ID)
	return nil
}
