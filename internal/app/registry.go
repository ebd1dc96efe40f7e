package app

import (
	"errors"
	"sort"
	"time"

	"github.com/dkeye/relay/internal/core"
	"github.com/dkeye/relay/internal/domain"
	"github.com/dkeye/relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrDuplicateConnection = errors.New("duplicate connection id")

// Connection is one live transport session. UserID stays empty until the
// connection authenticates.
type Connection struct {
	ID          domain.ConnID
	UserID      domain.UserID
	Username    string
	Status      domain.Status
	ConnectedAt time.Time
	// UserRef is UserID as the client spelled it in authenticate.
	UserRef protocol.ID
	BoundAt time.Time

	signal  core.SignalConnection
	roomIDs map[domain.RoomRef]protocol.ID
}

func (c *Connection) ConnID() domain.ConnID         { return c.ID }
func (c *Connection) Signal() core.SignalConnection { return c.signal }
func (c *Connection) Authenticated() bool           { return c.UserID != "" }

func (c *Connection) User() domain.User {
	return domain.User{ID: c.UserID, Username: c.Username}
}

// WireUserID is the user id in the shape this connection sent it.
func (c *Connection) WireUserID() protocol.ID {
	if c.UserRef.IsZero() {
		return protocol.StringID(string(c.UserID))
	}
	return c.UserRef
}

// NameRoom records how the client spelled the id of a room it joined.
func (c *Connection) NameRoom(room domain.RoomRef, id protocol.ID) {
	if c.roomIDs == nil {
		c.roomIDs = make(map[domain.RoomRef]protocol.ID)
	}
	c.roomIDs[room] = id
}

func (c *Connection) ForgetRoom(room domain.RoomRef) { delete(c.roomIDs, room) }

// RoomID returns the room id in the shape this connection used for it.
func (c *Connection) RoomID(room domain.RoomRef) protocol.ID {
	if id, ok := c.roomIDs[room]; ok {
		return id
	}
	return protocol.StringID(room.ID)
}

// ActiveUser is the presence entry of a user: at most one per user, owned
// by the connection that authenticated last.
type ActiveUser struct {
	ConnID   domain.ConnID `json:"connectionId"`
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	Status   domain.Status `json:"status"`
	Since    time.Time     `json:"since"`
}

// Registry tracks live connections and the ActiveUser table.
// It is not locked; the orchestrator serializes every call.
type Registry struct {
	conns  map[domain.ConnID]*Connection
	active map[domain.UserID]ActiveUser
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[domain.ConnID]*Connection),
		active: make(map[domain.UserID]ActiveUser),
	}
}

func (r *Registry) Register(id domain.ConnID, sig core.SignalConnection, now time.Time) (*Connection, error) {
	if _, ok := r.conns[id]; ok {
		return nil, ErrDuplicateConnection
	}
	c := &Connection{ID: id, ConnectedAt: now, signal: sig}
	r.conns[id] = c
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("registered connection")
	return c, nil
}

type BindResult struct {
	// Superseded is the connection that owned the user's presence before.
	Superseded domain.ConnID
	// Released is a different user this connection was bound to and whose
	// presence it gave up.
	Released domain.UserID
	Active   ActiveUser
}

// Bind attaches a user identity to a connection and makes it the user's
// active connection. Unknown connection ids are ignored.
func (r *Registry) Bind(id domain.ConnID, uid domain.UserID, username string, now time.Time) (BindResult, bool) {
	c, ok := r.conns[id]
	if !ok {
		return BindResult{}, false
	}
	var res BindResult
	if c.UserID != "" && c.UserID != uid {
		if au, ok := r.active[c.UserID]; ok && au.ConnID == id {
			delete(r.active, c.UserID)
			res.Released = c.UserID
		}
	}
	if au, ok := r.active[uid]; ok && au.ConnID != id {
		res.Superseded = au.ConnID
	}

	c.UserID = uid
	c.Username = username
	c.Status = domain.StatusOnline
	c.BoundAt = now
	res.Active = ActiveUser{ConnID: id, UserID: uid, Username: username, Status: c.Status, Since: now}
	r.active[uid] = res.Active

	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(uid)).
		Str("superseded", string(res.Superseded)).Msg("bound user")
	return res, true
}

type UnregisterResult struct {
	// Owned is set when the connection held its user's presence.
	Owned bool
	// Successor is the user's most recently bound live connection that
	// took presence over. Nil means the user went offline.
	Successor *Connection
	Active    ActiveUser
}

// Unregister removes the connection. If it owned its user's presence and
// another live connection is bound to the same user, presence passes to
// that connection; otherwise the ActiveUser entry is removed.
func (r *Registry) Unregister(id domain.ConnID, now time.Time) (*Connection, UnregisterResult) {
	c, ok := r.conns[id]
	if !ok {
		return nil, UnregisterResult{}
	}
	delete(r.conns, id)
	var res UnregisterResult
	if c.UserID != "" {
		if au, ok := r.active[c.UserID]; ok && au.ConnID == id {
			res.Owned = true
			delete(r.active, c.UserID)
			if next, au, ok := r.Reclaim(c.UserID, now); ok {
				res.Successor = next
				res.Active = au
			}
		}
	}
	ev := log.Info().Str("module", "app.registry").Str("conn", string(id)).Bool("owned_presence", res.Owned)
	if res.Successor != nil {
		ev = ev.Str("successor", string(res.Successor.ID))
	}
	ev.Msg("unregistered connection")
	return c, res
}

// Reclaim gives a user without an ActiveUser entry back its presence,
// owned by the most recently bound live connection of that user.
func (r *Registry) Reclaim(uid domain.UserID, now time.Time) (*Connection, ActiveUser, bool) {
	if _, ok := r.active[uid]; ok {
		return nil, ActiveUser{}, false
	}
	next := r.successor(uid)
	if next == nil {
		return nil, ActiveUser{}, false
	}
	au := ActiveUser{ConnID: next.ID, UserID: uid, Username: next.Username, Status: next.Status, Since: now}
	r.active[uid] = au
	return next, au, true
}

func (r *Registry) successor(uid domain.UserID) *Connection {
	var next *Connection
	for _, c := range r.conns {
		if c.UserID != uid {
			continue
		}
		if next == nil || c.BoundAt.After(next.BoundAt) || c.BoundAt.Equal(next.BoundAt) && c.ID > next.ID {
			next = c
		}
	}
	return next
}

// SetStatus updates the connection's status. ok is false when the
// connection does not own its user's presence.
func (r *Registry) SetStatus(id domain.ConnID, st domain.Status) (ActiveUser, bool) {
	c, ok := r.conns[id]
	if !ok || c.UserID == "" {
		return ActiveUser{}, false
	}
	c.Status = st
	au, ok := r.active[c.UserID]
	if !ok || au.ConnID != id {
		return ActiveUser{}, false
	}
	au.Status = st
	r.active[c.UserID] = au
	return au, true
}

func (r *Registry) Get(id domain.ConnID) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Resolve finds a connection by connection id, then by the active
// connection of a user id.
func (r *Registry) Resolve(target string) (*Connection, bool) {
	if c, ok := r.conns[domain.ConnID(target)]; ok {
		return c, true
	}
	if au, ok := r.active[domain.UserID(target)]; ok {
		return r.Get(au.ConnID)
	}
	return nil, false
}

func (r *Registry) ActiveUser(uid domain.UserID) (ActiveUser, bool) {
	au, ok := r.active[uid]
	return au, ok
}

func (r *Registry) ActiveUsers() []ActiveUser {
	out := make([]ActiveUser, 0, len(r.active))
	for _, au := range r.active {
		out = append(out, au)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) All() []*Connection {
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Count() int { return len(r.conns) }
