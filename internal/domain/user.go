// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
)

var ErrUnknownStatus = errors.New("unknown status")

type (
	UserID string
	ConnID string
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// ParseStatus accepts only the statuses a client may set for itself.
// Offline is derived from the connection lifecycle.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOnline, StatusIdle, StatusDND:
		return st, nil
	}
	return "", ErrUnknownStatus
}

type User struct {
	ID       UserID `json:"userId"`
	Username string `json:"username"`
}
