// Package protocol defines the relay's wire format: event names, the
// versioned envelope and the payload of every event.
package protocol

// Inbound events.
const (
	EventAuthenticate      = "authenticate"
	EventJoinServer        = "join_server"
	EventLeaveServer       = "leave_server"
	EventJoinChannel       = "join_channel"
	EventLeaveChannel      = "leave_channel"
	EventGetChannelMembers = "get_channel_members"
	EventNewMessage        = "new_message"
	EventEditMessage       = "edit_message"
	EventDeleteMessage     = "delete_message"
	EventAddReaction       = "add_reaction"
	EventRemoveReaction    = "remove_reaction"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventJoinVoice         = "join_voice"
	EventLeaveVoice        = "leave_voice"
	EventVoiceState        = "voice_state"
	EventWebRTCOffer       = "webrtc_offer"
	EventWebRTCAnswer      = "webrtc_answer"
	EventWebRTCCandidate   = "webrtc_ice_candidate"
	EventUpdateStatus      = "update_status"
	EventPing              = "ping"
	EventWhoAmI            = "whoami"
)

// Outbound events. Signaling events keep their inbound names.
const (
	EventAuthenticated     = "authenticated"
	EventUserStatusUpdate  = "user_status_update"
	EventUserJoinedChannel = "user_joined_channel"
	EventUserLeftChannel   = "user_left_channel"
	EventChannelMembers    = "channel_members"
	EventMessageReceived   = "message_received"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
	EventReactionAdded     = "reaction_added"
	EventReactionRemoved   = "reaction_removed"
	EventUserTyping        = "user_typing"
	EventUserJoinedVoice   = "user_joined_voice"
	EventUserLeftVoice     = "user_left_voice"
	EventVoiceMembers      = "voice_members"
	EventVoiceStateChanged = "voice_state_changed"
	EventPong              = "pong"
	EventError             = "error"
)
