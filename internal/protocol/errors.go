package protocol

import "fmt"

// Error codes carried by the "error" event.
const (
	CodeBadPayload         = "bad_payload"
	CodeUnsupportedVersion = "unsupported_version"
	CodeUnauthenticated    = "unauthenticated"
	CodeNotInRoom          = "not_in_room"
	CodeUnknownTarget      = "unknown_target"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal"
)

// Error is a rejected inbound event. Code is machine readable.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
