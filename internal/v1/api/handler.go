// Package api serves the small REST surface next to the websocket: token
// minting for development and trusted backends, ICE server discovery, and a
// status summary.
package api

import (
	"net/http"
	"time"

	"github.com/RoseWrightdev/sfu-signaling/internal/v1/auth"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/config"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/logging"
	"github.com/RoseWrightdev/sfu-signaling/internal/v1/rooms"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler carries the REST dependencies.
type Handler struct {
	minter     *auth.Minter
	rooms      *rooms.Manager
	iceServers []config.ICEServer
	startedAt  time.Time
}

func NewHandler(minter *auth.Minter, roomMgr *rooms.Manager, iceServers []config.ICEServer) *Handler {
	return &Handler{
		minter:     minter,
		rooms:      roomMgr,
		iceServers: iceServers,
		startedAt:  time.Now(),
	}
}

// Register mounts the routes on a router group.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/token", h.MintToken)
	g.GET("/health", h.Status)
	g.GET("/ice-servers", h.ICEServers)
}

// MintToken issues an access token for the requested identity and grants.
// POST /api/token
func (h *Handler) MintToken(c *gin.Context) {
	var req auth.MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	token, expiresAt, err := h.minter.Mint(req)
	if err != nil {
		logging.Warn(c.Request.Context(), "Token mint rejected",
			zap.String("identity", req.Identity), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expiresAt.Unix(),
	})
}

// Status reports coarse server statistics.
// GET /api/health
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"rooms":         h.rooms.Len(),
		"uptimeSeconds": int(time.Since(h.startedAt).Seconds()),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// ICEServers hands clients the STUN/TURN configuration.
// GET /api/ice-servers
func (h *Handler) ICEServers(c *gin.Context) {
	servers := h.iceServers
	if servers == nil {
		servers = []config.ICEServer{}
	}
	c.JSON(http.StatusOK, gin.H{"iceServers": servers})
}
