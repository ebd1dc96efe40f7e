package core

import (
	"sort"
	"time"

	"github.com/dkeye/relay/internal/domain"
	"github.com/rs/zerolog/log"
)

type entry struct {
	p        Participant
	joinedAt time.Time
}

// Index maps rooms to their members and connections to their rooms.
// Both directions are updated together, so a connection is in a room's set
// iff the room is in the connection's set. A room disappears when its last
// member leaves.
//
// Index is not safe for concurrent use; the owner serializes access.
type Index struct {
	rooms  map[domain.RoomRef]map[domain.ConnID]*entry
	byConn map[domain.ConnID]map[domain.RoomRef]struct{}
}

func NewIndex() *Index {
	return &Index{
		rooms:  make(map[domain.RoomRef]map[domain.ConnID]*entry),
		byConn: make(map[domain.ConnID]map[domain.RoomRef]struct{}),
	}
}

type JoinResult struct {
	// Joined is false when the connection was already a member.
	Joined bool
	// Left is the channel room vacated to keep a single text channel.
	Left *domain.RoomRef
}

// Join adds p to room. Joining a channel room first leaves the channel
// room p was in, if any.
func (x *Index) Join(p Participant, room domain.RoomRef, at time.Time) JoinResult {
	id := p.ConnID()
	if x.IsMember(id, room) {
		return JoinResult{}
	}
	var res JoinResult
	if room.Kind == domain.KindChannel {
		if prev, ok := x.ChannelOf(id); ok {
			x.Leave(id, prev)
			res.Left = &prev
		}
	}

	members, ok := x.rooms[room]
	if !ok {
		members = make(map[domain.ConnID]*entry)
		x.rooms[room] = members
		log.Debug().Str("module", "core.membership").Str("room", room.String()).Msg("room created")
	}
	members[id] = &entry{p: p, joinedAt: at}

	joined, ok := x.byConn[id]
	if !ok {
		joined = make(map[domain.RoomRef]struct{})
		x.byConn[id] = joined
	}
	joined[room] = struct{}{}
	res.Joined = true

	log.Debug().Str("module", "core.membership").Str("conn", string(id)).Str("room", room.String()).Msg("joined")
	return res
}

// Leave is a no-op when id is not in room.
func (x *Index) Leave(id domain.ConnID, room domain.RoomRef) bool {
	members, ok := x.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[id]; !ok {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(x.rooms, room)
		log.Debug().Str("module", "core.membership").Str("room", room.String()).Msg("room pruned")
	}
	if joined, ok := x.byConn[id]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(x.byConn, id)
		}
	}
	log.Debug().Str("module", "core.membership").Str("conn", string(id)).Str("room", room.String()).Msg("left")
	return true
}

// ReleaseAll removes id from every room and returns the rooms it left,
// channel rooms first, then voice, then server.
func (x *Index) ReleaseAll(id domain.ConnID) []domain.RoomRef {
	rooms := x.RoomsOf(id)
	for _, room := range rooms {
		x.Leave(id, room)
	}
	return rooms
}

// MembersOf returns the members of room ordered by join time.
func (x *Index) MembersOf(room domain.RoomRef) []domain.Member {
	members := x.rooms[room]
	out := make([]domain.Member, 0, len(members))
	for id, e := range members {
		out = append(out, domain.Member{ConnID: id, User: e.p.User(), JoinedAt: e.joinedAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Participants returns the live members of room for delivery.
func (x *Index) Participants(room domain.RoomRef) []Participant {
	members := x.rooms[room]
	out := make([]Participant, 0, len(members))
	for _, e := range members {
		out = append(out, e.p)
	}
	return out
}

func (x *Index) IsMember(id domain.ConnID, room domain.RoomRef) bool {
	_, ok := x.rooms[room][id]
	return ok
}

// ChannelOf returns the single channel room id is in.
func (x *Index) ChannelOf(id domain.ConnID) (domain.RoomRef, bool) {
	for room := range x.byConn[id] {
		if room.Kind == domain.KindChannel {
			return room, true
		}
	}
	return domain.RoomRef{}, false
}

var kindOrder = map[domain.RoomKind]int{
	domain.KindChannel: 0,
	domain.KindVoice:   1,
	domain.KindServer:  2,
}

func (x *Index) RoomsOf(id domain.ConnID) []domain.RoomRef {
	joined := x.byConn[id]
	out := make([]domain.RoomRef, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	sortRooms(out)
	return out
}

type RoomInfo struct {
	Room    domain.RoomRef `json:"room"`
	Members int            `json:"members"`
}

func (x *Index) Rooms() []RoomInfo {
	refs := make([]domain.RoomRef, 0, len(x.rooms))
	for room := range x.rooms {
		refs = append(refs, room)
	}
	sortRooms(refs)
	out := make([]RoomInfo, 0, len(refs))
	for _, room := range refs {
		out = append(out, RoomInfo{Room: room, Members: len(x.rooms[room])})
	}
	return out
}

// Counts returns the number of live rooms per kind.
func (x *Index) Counts() map[domain.RoomKind]int {
	out := map[domain.RoomKind]int{
		domain.KindServer:  0,
		domain.KindChannel: 0,
		domain.KindVoice:   0,
	}
	for room := range x.rooms {
		out[room.Kind]++
	}
	return out
}

func sortRooms(rooms []domain.RoomRef) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Kind != rooms[j].Kind {
			return kindOrder[rooms[i].Kind] < kindOrder[rooms[j].Kind]
		}
		return rooms[i].ID < rooms[j].ID
	})
}
