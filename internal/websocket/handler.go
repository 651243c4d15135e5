package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matchcast/backend/internal/auth"
	"github.com/rs/zerolog"
)

// Handler upgrades status-feed requests
type Handler struct {
	hub        *Hub
	jwtService *auth.JWTService
	upgrader   websocket.Upgrader
}

// NewHandler builds a handler. With no allowed origins every origin is
// accepted.
func NewHandler(hub *Hub, jwtService *auth.JWTService, allowedOrigins []string) *Handler {
	h := &Handler{
		hub:        hub,
		jwtService: jwtService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		if len(allowedOrigins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		for _, pattern := range allowedOrigins {
			if matchOrigin(pattern, origin) {
				return true
			}
		}
		return false
	}
	return h
}

// HandleWebSocket serves GET /ws/broadcasts?token=...&organization_id=...
func (h *Handler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}

	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	org := c.Query("organization_id")
	if org == "" {
		org = claims.OrganizationID
	}
	if !claims.CanAccess(org) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Organization not allowed"})
		return
	}

	log := zerolog.Ctx(c.Request.Context()).With().
		Str("user_id", claims.UserID.String()).
		Str("organization_id", org).
		Logger()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("failed to upgrade status feed connection")
		return
	}

	client := NewClient(h.hub, conn, claims.UserID, org, log)
	if !h.hub.Register(client) {
		log.Debug().Msg("status feed hub stopped, closing connection")
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// matchOrigin supports exact matches or wildcard patterns like *.example.com
func matchOrigin(pattern, origin string) bool {
	if pattern == origin {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		originHost := origin
		if u, err := url.Parse(origin); err == nil {
			originHost = u.Hostname()
		}
		if strings.HasSuffix(originHost, strings.TrimPrefix(pattern, "*")) {
			return true
		}
	}
	return false
}
