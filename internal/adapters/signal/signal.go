// Package signal is the WebSocket transport of the relay.
package signal

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/relay/internal/app/orch"
	"github.com/dkeye/relay/internal/config"
	"github.com/dkeye/relay/internal/core"
	"github.com/dkeye/relay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

type SignalWSController struct {
	Orch *orch.Orchestrator

	readLimit  int64
	pingPeriod time.Duration
	pongWait   time.Duration
	writeWait  time.Duration
	sendBuffer int
	upgrader   websocket.Upgrader

	conns conc.WaitGroup
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	origins := NewOriginPolicy(cfg.AllowedOrigins)
	return &SignalWSController{
		Orch:       o,
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		pongWait:   cfg.PongWait,
		writeWait:  cfg.WriteWait,
		sendBuffer: cfg.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.Check,
		},
	}
}

// WsSignalConn is a core.SignalConnection over a websocket. Frames are
// queued on send and written by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades the request and serves the connection until either
// side closes it or ctx is done.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := domain.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendBuffer),
	}
	if err := ctl.Orch.Connect(id, conn); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("register connection")
		conn.Close()
		return
	}

	ctl.conns.Go(func() { ctl.serve(ctx, id, conn) })
}

func (ctl *SignalWSController) serve(ctx context.Context, id domain.ConnID, conn *WsSignalConn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pumps conc.WaitGroup
	pumps.Go(func() { ctl.writePump(ctx, id, conn) })
	pumps.Go(func() {
		defer cancel()
		ctl.readPump(id, conn)
	})
	pumps.Wait()

	ctl.Orch.Disconnect(id)
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("connection closed")
}

// Wait blocks until every served connection has been torn down.
func (ctl *SignalWSController) Wait() {
	ctl.conns.Wait()
}
