package protocol

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

// Inbound payloads.

type Authenticate struct {
	UserID   ID     `json:"userId" validate:"required,max=64"`
	Username string `json:"username" validate:"required,max=64"`
}

type ServerRef struct {
	ServerID ID `json:"serverId" validate:"required,max=64"`
}

type JoinChannel struct {
	ChannelID ID `json:"channelId" validate:"required,max=64"`
	ServerID  ID `json:"serverId,omitzero" validate:"omitempty,max=64"`
}

// ChannelRef carries only a channel id: leave_channel, get_channel_members,
// typing_start, typing_stop, join_voice and leave_voice.
type ChannelRef struct {
	ChannelID ID `json:"channelId" validate:"required,max=64"`
}

type NewMessage struct {
	ChannelID   ID              `json:"channelId" validate:"required,max=64"`
	MessageData json.RawMessage `json:"messageData" validate:"required"`
}

type EditMessage struct {
	ChannelID   ID              `json:"channelId" validate:"required,max=64"`
	MessageID   ID              `json:"messageId" validate:"required,max=64"`
	MessageData json.RawMessage `json:"messageData" validate:"required"`
}

type DeleteMessage struct {
	ChannelID ID `json:"channelId" validate:"required,max=64"`
	MessageID ID `json:"messageId" validate:"required,max=64"`
}

type Reaction struct {
	ChannelID ID     `json:"channelId" validate:"required,max=64"`
	MessageID ID     `json:"messageId" validate:"required,max=64"`
	Emoji     string `json:"emoji" validate:"required,max=64"`
}

type VoiceState struct {
	ChannelID ID   `json:"channelId" validate:"required,max=64"`
	Muted     bool `json:"muted"`
	Deafened  bool `json:"deafened"`
}

// To names a connection id, or a user id whose active connection is meant.
type Offer struct {
	To    ID                        `json:"to" validate:"required"`
	Offer webrtc.SessionDescription `json:"offer"`
}

type Answer struct {
	To     ID                        `json:"to" validate:"required"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type ICECandidate struct {
	To        ID                      `json:"to" validate:"required"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type UpdateStatus struct {
	Status string `json:"status" validate:"required,oneof=online idle dnd"`
}

// Outbound payloads.

type Authenticated struct {
	ConnectionID string `json:"connectionId"`
	UserID       ID     `json:"userId"`
	Username     string `json:"username"`
}

type StatusUpdate struct {
	UserID   ID     `json:"userId"`
	Username string `json:"username,omitempty"`
	Status   string `json:"status"`
}

// ChannelPresence is sent with user_joined_channel and user_left_channel.
type ChannelPresence struct {
	ChannelID ID     `json:"channelId"`
	ServerID  ID     `json:"serverId,omitzero"`
	UserID    ID     `json:"userId"`
	Username  string `json:"username"`
}

type Member struct {
	UserID       ID        `json:"userId"`
	Username     string    `json:"username"`
	ConnectionID string    `json:"connectionId"`
	JoinedAt     time.Time `json:"joinedAt"`
}

type ChannelMembers struct {
	ChannelID ID       `json:"channelId"`
	Members   []Member `json:"members"`
}

type MessageReceived struct {
	ChannelID ID              `json:"channelId"`
	Message   json.RawMessage `json:"message"`
	UserID    ID              `json:"userId"`
	Username  string          `json:"username"`
}

type MessageEdited struct {
	ChannelID ID              `json:"channelId"`
	MessageID ID              `json:"messageId"`
	Message   json.RawMessage `json:"message"`
	UserID    ID              `json:"userId"`
	Username  string          `json:"username"`
	EditedAt  string          `json:"editedAt"`
}

type MessageDeleted struct {
	ChannelID ID     `json:"channelId"`
	MessageID ID     `json:"messageId"`
	UserID    ID     `json:"userId"`
	Username  string `json:"username"`
}

type ReactionChanged struct {
	ChannelID ID     `json:"channelId"`
	MessageID ID     `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    ID     `json:"userId"`
	Username  string `json:"username"`
}

type UserTyping struct {
	ChannelID ID     `json:"channelId"`
	UserID    ID     `json:"userId"`
	Username  string `json:"username"`
	IsTyping  bool   `json:"isTyping"`
}

type VoicePresence struct {
	ChannelID    ID     `json:"channelId"`
	UserID       ID     `json:"userId"`
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type VoiceMembers struct {
	ChannelID  ID          `json:"channelId"`
	Members    []Member    `json:"members"`
	ICEServers []ICEServer `json:"iceServers,omitempty"`
}

type VoiceStateChanged struct {
	ChannelID ID     `json:"channelId"`
	UserID    ID     `json:"userId"`
	Username  string `json:"username"`
	Muted     bool   `json:"muted"`
	Deafened  bool   `json:"deafened"`
}

// Signaling payloads delivered to the target peer. From is the sender's
// connection id; it is a valid "to" for the reply.
type SignalOffer struct {
	From       string                    `json:"from"`
	FromUserID ID                        `json:"fromUserId"`
	ChannelID  ID                        `json:"channelId"`
	Offer      webrtc.SessionDescription `json:"offer"`
}

type SignalAnswer struct {
	From       string                    `json:"from"`
	FromUserID ID                        `json:"fromUserId"`
	ChannelID  ID                        `json:"channelId"`
	Answer     webrtc.SessionDescription `json:"answer"`
}

type SignalCandidate struct {
	From       string                  `json:"from"`
	FromUserID ID                      `json:"fromUserId"`
	ChannelID  ID                      `json:"channelId"`
	Candidate  webrtc.ICECandidateInit `json:"candidate"`
}

type Pong struct {
	Time int64 `json:"time"`
}

type WhoAmI struct {
	ConnectionID string     `json:"connectionId"`
	UserID       ID         `json:"userId,omitzero"`
	Username     string     `json:"username,omitempty"`
	Status       string     `json:"status,omitempty"`
	Rooms        []RoomView `json:"rooms"`
}

type RoomView struct {
	Kind string `json:"kind"`
	ID   ID     `json:"id"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
