package core

import (
	"errors"

	"github.com/dkeye/relay/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Frame is one encoded outbound event.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks: a full queue yields ErrBackpressure.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Participant is what the membership index knows about a connection.
type Participant interface {
	ConnID() domain.ConnID
	User() domain.User
	Signal() SignalConnection
}

type PublishResult struct {
	SendTo  int
	Dropped []Participant
}
