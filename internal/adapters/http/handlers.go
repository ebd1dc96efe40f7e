package http

import (
	"net/http"

	"github.com/dkeye/relay/internal/app"
	"github.com/dkeye/relay/internal/app/orch"
	"github.com/dkeye/relay/internal/core"
	"github.com/dkeye/relay/internal/protocol"
	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

type RoomsResponse struct {
	Rooms []core.RoomInfo `json:"rooms"`
}

type PresenceResponse struct {
	Users []app.ActiveUser `json:"users"`
}

type ICEServersResponse struct {
	ICEServers []protocol.ICEServer `json:"iceServers"`
}

type handlers struct {
	orch *orch.Orchestrator
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Connections: h.orch.ConnectionCount()})
}

func (h *handlers) rooms(c *gin.Context) {
	c.JSON(http.StatusOK, RoomsResponse{Rooms: h.orch.RoomsSnapshot()})
}

func (h *handlers) presence(c *gin.Context) {
	c.JSON(http.StatusOK, PresenceResponse{Users: h.orch.ActiveUsers()})
}

func (h *handlers) iceServers(c *gin.Context) {
	servers := h.orch.ICEServers()
	if servers == nil {
		servers = []protocol.ICEServer{}
	}
	c.JSON(http.StatusOK, ICEServersResponse{ICEServers: servers})
}
