package domain

type RoomKind string

const (
	KindServer  RoomKind = "server"
	KindChannel RoomKind = "channel"
	KindVoice   RoomKind = "voice"
)

// RoomRef identifies an implicit broadcast group. Rooms have no state of
// their own: they exist while at least one connection is joined.
type RoomRef struct {
	Kind RoomKind `json:"kind"`
	ID   string   `json:"id"`
}

func ServerRoom(id string) RoomRef  { return RoomRef{Kind: KindServer, ID: id} }
func ChannelRoom(id string) RoomRef { return RoomRef{Kind: KindChannel, ID: id} }
func VoiceRoom(id string) RoomRef   { return RoomRef{Kind: KindVoice, ID: id} }

func (r RoomRef) String() string { return string(r.Kind) + "_" + r.ID }

func (r RoomRef) IsZero() bool { return r.Kind == "" && r.ID == "" }
