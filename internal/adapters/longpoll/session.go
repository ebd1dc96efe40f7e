package longpoll

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/relay/internal/core"
	"github.com/dkeye/relay/internal/domain"
)

// Session is a core.SignalConnection whose frames wait in a bounded queue
// until the client polls for them.
type Session struct {
	ID    domain.ConnID
	owner string

	mu       sync.Mutex
	queue    []core.Frame
	max      int
	closed   bool
	lastSeen time.Time
	notify   chan struct{}
}

func newSession(id domain.ConnID, owner string, limit int, now time.Time) *Session {
	return &Session{
		ID:       id,
		owner:    owner,
		max:      limit,
		lastSeen: now,
		notify:   make(chan struct{}, 1),
	}
}

func (s *Session) TrySend(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrClosed
	}
	if len(s.queue) >= s.max {
		return core.ErrBackpressure
	}
	s.queue = append(s.queue, f)
	s.wake()
	return nil
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.wake()
}

func (s *Session) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// idle reports whether the session is closed or has not been polled since
// before deadline.
func (s *Session) idle(deadline time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.lastSeen.Before(deadline)
}

// drain waits up to wait for queued frames and takes all of them. closed is
// true once the session is closed and nothing is left to deliver.
func (s *Session) drain(ctx context.Context, wait time.Duration) (frames []core.Frame, closed bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			frames, s.queue = s.queue, nil
			s.mu.Unlock()
			return frames, false
		}
		if s.closed {
			s.mu.Unlock()
			return nil, true
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}
