package app

import "github.com/dkeye/relay/internal/domain"

// PresenceSink mirrors presence changes somewhere outside the process.
// Calls are made under the orchestrator lock and must not block.
type PresenceSink interface {
	Online(ActiveUser)
	Offline(domain.UserID)
}

type NoopPresence struct{}

func (NoopPresence) Online(ActiveUser)     {}
func (NoopPresence) Offline(domain.UserID) {}
