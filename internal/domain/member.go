package domain

import "time"

// Member is one connection's participation in a room.
// No transport or lifecycle logic here.
type Member struct {
	ConnID   ConnID
	User     User
	JoinedAt time.Time
}
