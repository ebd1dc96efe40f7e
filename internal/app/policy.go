package app

import (
	"github.com/dkeye/relay/internal/core"
	"github.com/dkeye/relay/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose outbound queue is full.
// room is zero for direct sends.
type Policy interface {
	OnBackPressure(room domain.RoomRef, member core.Participant) BackpressureAction
}

// SimplePolicy disconnects slow consumers.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomRef, core.Participant) BackpressureAction {
	return KickMember
}

// DropPolicy keeps slow consumers and loses the frame.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.RoomRef, core.Participant) BackpressureAction {
	return DropFrame
}

func PolicyByName(name string) Policy {
	if name == "drop" {
		return DropPolicy{}
	}
	return SimplePolicy{}
}
