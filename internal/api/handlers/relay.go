package handlers

import (
	"log"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/printlink/printlink/internal/core"
	"github.com/printlink/printlink/internal/events"
)

// ErrorResponse is the relay's transport-level failure shape (400/404/500).
// Logical printer failures travel inside HTTP 200 results instead.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Kind    string `json:"error_kind,omitempty"`
}

type ConnectRequest struct {
	ID        int64  `json:"id" binding:"required"`
	IPAddress string `json:"ip_address" binding:"required,ip_addr"`
	Port      int    `json:"port" binding:"required,gt=0,lte=65535"`
}

type DisconnectRequest struct {
	ID int64 `json:"id" binding:"required"`
}

type SendCommandRequest struct {
	ID      int64  `json:"id" binding:"required"`
	Command string `json:"command" binding:"required"`
}

type CheckStatusRequest struct {
	Printers []core.Endpoint `json:"printers" binding:"required,min=1"`
}

type InfoResponse struct {
	Relay   bool     `json:"relay"`
	Version string   `json:"version"`
	IPs     []string `json:"ips"`
}

type RelayHandler struct {
	gateway  *core.Gateway
	hub      *events.Hub
	version  string
	upgrader websocket.Upgrader
}

func NewRelayHandler(gateway *core.Gateway, hub *events.Hub, version string) *RelayHandler {
	return &RelayHandler{
		gateway: gateway,
		hub:     hub,
		version: version,
		upgrader: websocket.Upgrader{
			// same open posture as the HTTP surface
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Info lets companion apps confirm they found a relay and learn its LAN
// addresses.
func (h *RelayHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, InfoResponse{
		Relay:   true,
		Version: h.version,
		IPs:     localIPv4s(),
	})
}

func (h *RelayHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.gateway.Connect(req.ID, req.IPAddress, req.Port))
}

func (h *RelayHandler) Disconnect(c *gin.Context) {
	var req DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.gateway.Disconnect(req.ID))
}

func (h *RelayHandler) SendCommand(c *gin.Context) {
	var req SendCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.gateway.SendCommand(req.ID, req.Command))
}

func (h *RelayHandler) CheckStatus(c *gin.Context) {
	var req CheckStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.gateway.CheckStatus(c.Request.Context(), req.Printers))
}

// Events upgrades to a websocket carrying the connection lifecycle stream.
func (h *RelayHandler) Events(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[relay] websocket upgrade failed: %v", err)
		return
	}
	h.hub.Add(conn)

	// reader only exists to notice the close
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.hub.Remove(conn)
				return
			}
		}
	}()
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: "invalid request body: " + err.Error(),
		Kind:  "invalid_request",
	})
}

func localIPv4s() []string {
	var ips []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			ips = append(ips, v4.String())
		}
	}
	return ips
}
