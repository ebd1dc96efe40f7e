// Package longpoll is the HTTP long-polling fallback transport. A session
// behaves like a websocket connection to the orchestrator: frames are
// submitted with POST and collected with GET.
package longpoll

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/relay/internal/app/orch"
	"github.com/dkeye/relay/internal/config"
	"github.com/dkeye/relay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Handshake struct {
	SID         string `json:"sid"`
	PollTimeout int64  `json:"pollTimeout"`
}

type Manager struct {
	Orch *orch.Orchestrator

	wait      time.Duration
	idle      time.Duration
	buffer    int
	readLimit int64
	now       func() time.Time

	mu       sync.Mutex
	sessions map[domain.ConnID]*Session
}

func NewManager(o *orch.Orchestrator, cfg *config.Config) *Manager {
	return &Manager{
		Orch:      o,
		wait:      cfg.LongPoll.Wait,
		idle:      cfg.LongPoll.IdleTimeout,
		buffer:    cfg.SendBuffer,
		readLimit: cfg.ReadLimit,
		now:       time.Now,
		sessions:  make(map[domain.ConnID]*Session),
	}
}

func (m *Manager) Register(r gin.IRoutes) {
	r.POST("/poll", m.HandleOpen)
	r.GET("/poll/:sid", m.HandlePoll)
	r.POST("/poll/:sid", m.HandleSubmit)
	r.DELETE("/poll/:sid", m.HandleClose)
}

func (m *Manager) HandleOpen(c *gin.Context) {
	id := domain.ConnID(uuid.NewString())
	s := newSession(id, c.GetString("client_token"), m.buffer, m.now())
	if err := m.Orch.Connect(id, s); err != nil {
		log.Error().Err(err).Str("module", "longpoll").Msg("register session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot open session"})
		return
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	log.Info().Str("module", "longpoll").Str("conn", string(id)).Msg("session opened")
	c.JSON(http.StatusOK, Handshake{SID: string(id), PollTimeout: m.wait.Milliseconds()})
}

func (m *Manager) HandlePoll(c *gin.Context) {
	s, ok := m.lookup(c)
	if !ok {
		return
	}
	s.touch(m.now())
	frames, closed := s.drain(c.Request.Context(), m.wait)
	s.touch(m.now())
	if closed {
		m.drop(s.ID)
		c.JSON(http.StatusGone, gin.H{"error": "session closed"})
		return
	}

	out := make([]json.RawMessage, 0, len(frames))
	for _, f := range frames {
		out = append(out, json.RawMessage(f))
	}
	c.JSON(http.StatusOK, out)
}

func (m *Manager) HandleSubmit(c *gin.Context) {
	s, ok := m.lookup(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, m.readLimit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "frame too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read frame"})
		return
	}
	s.touch(m.now())
	m.Orch.HandleFrame(s.ID, body)
	c.Status(http.StatusNoContent)
}

func (m *Manager) HandleClose(c *gin.Context) {
	s, ok := m.lookup(c)
	if !ok {
		return
	}
	s.Close()
	m.drop(s.ID)
	c.Status(http.StatusNoContent)
}

// lookup finds the session named in the path. A session is only visible to
// the client token that opened it.
func (m *Manager) lookup(c *gin.Context) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[domain.ConnID(c.Param("sid"))]
	m.mu.Unlock()
	if !ok || s.owner != c.GetString("client_token") {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return nil, false
	}
	return s, true
}

func (m *Manager) drop(id domain.ConnID) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		m.Orch.Disconnect(id)
		log.Info().Str("module", "longpoll").Str("conn", string(id)).Msg("session closed")
	}
}

// Reap disconnects sessions that were closed or have not polled within the
// idle timeout, until ctx is done.
func (m *Manager) Reap(ctx context.Context) {
	ticker := time.NewTicker(m.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			m.reapOnce()
		}
	}
}

func (m *Manager) reapOnce() int {
	deadline := m.now().Add(-m.idle)
	m.mu.Lock()
	var stale []*Session
	for _, s := range m.sessions {
		if s.idle(deadline) {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
		m.drop(s.ID)
	}
	if len(stale) > 0 {
		log.Debug().Str("module", "longpoll").Int("count", len(stale)).Msg("reaped idle sessions")
	}
	return len(stale)
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
		m.drop(s.ID)
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
