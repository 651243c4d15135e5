package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/matchcast/backend/internal/broadcast"
	"github.com/matchcast/backend/internal/middleware"
	"github.com/matchcast/backend/internal/models"
	"github.com/matchcast/backend/internal/reaper"
	"github.com/rs/zerolog"
)

type BroadcastHandler struct {
	manager *broadcast.Manager
	reaper  *reaper.Reaper
}

func NewBroadcastHandler(manager *broadcast.Manager, r *reaper.Reaper) *BroadcastHandler {
	return &BroadcastHandler{
		manager: manager,
		reaper:  r,
	}
}

// RegisterRoutes mounts the admin API on rg. Authentication is the caller's
// middleware.
func (h *BroadcastHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/broadcasts", h.CreateBroadcast)
	rg.GET("/broadcasts", h.ListBroadcasts)
	rg.GET("/broadcasts/:id", h.GetBroadcast)
	rg.POST("/broadcasts/:id/cancel", h.CancelBroadcast)
	rg.POST("/broadcasts/:id/end", h.EndBroadcast)
	rg.POST("/broadcasts/:id/credential", h.EnsureCredential)
	rg.GET("/broadcasts/:id/activity", h.GetActivity)
	rg.POST("/reaper/sweep", h.Sweep)
}

// createResponse is the only place the stream key leaves the service.
type createResponse struct {
	*models.Broadcast
	StreamKey            string `json:"stream_key"`
	CredentialRegistered bool   `json:"credential_registered"`
}

// CreateBroadcast handles POST /api/v1/broadcasts
func (h *BroadcastHandler) CreateBroadcast(c *gin.Context) {
	var req models.CreateBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if !h.canAccess(c, req.OrganizationID) {
		ErrorResponse(c, http.StatusForbidden, "Organization not allowed")
		return
	}

	b, err := h.manager.Create(c.Request.Context(), broadcast.CreateInput{
		ExternalMatchID: req.ExternalMatchID,
		OrganizationID:  req.OrganizationID,
	})
	if err != nil && !errors.Is(err, broadcast.ErrCredentialNotRegistered) {
		errorFrom(c, err, "failed to create broadcast")
		return
	}

	c.JSON(http.StatusCreated, createResponse{
		Broadcast:            b,
		StreamKey:            b.StreamKey,
		CredentialRegistered: err == nil,
	})
}

// ListBroadcasts handles GET /api/v1/broadcasts?status=live,scheduled&organization_id=&limit=
func (h *BroadcastHandler) ListBroadcasts(c *gin.Context) {
	filter := models.BroadcastFilter{OrganizationID: c.Query("organization_id")}

	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := models.ParseBroadcastStatus(strings.TrimSpace(part))
			if err != nil {
				ErrorResponse(c, http.StatusBadRequest, err.Error())
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			ErrorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	if claims, ok := middleware.ClaimsFrom(c); ok && claims.OrganizationID != "" {
		if filter.OrganizationID != "" && filter.OrganizationID != claims.OrganizationID {
			ErrorResponse(c, http.StatusForbidden, "Organization not allowed")
			return
		}
		filter.OrganizationID = claims.OrganizationID
	}

	list, err := h.manager.List(c.Request.Context(), filter)
	if err != nil {
		errorFrom(c, err, "failed to list broadcasts")
		return
	}
	if list == nil {
		list = []models.Broadcast{}
	}
	c.JSON(http.StatusOK, gin.H{"broadcasts": list, "count": len(list)})
}

// GetBroadcast handles GET /api/v1/broadcasts/:id
func (h *BroadcastHandler) GetBroadcast(c *gin.Context) {
	b, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, b)
}

// CancelBroadcast handles POST /api/v1/broadcasts/:id/cancel
func (h *BroadcastHandler) CancelBroadcast(c *gin.Context) {
	b, ok := h.load(c)
	if !ok {
		return
	}
	cancelled, err := h.manager.Cancel(c.Request.Context(), b.ID)
	if err != nil {
		errorFrom(c, err, "failed to cancel broadcast")
		return
	}
	c.JSON(http.StatusOK, cancelled)
}

// EndBroadcast handles POST /api/v1/broadcasts/:id/end
func (h *BroadcastHandler) EndBroadcast(c *gin.Context) {
	b, ok := h.load(c)
	if !ok {
		return
	}
	finished, err := h.manager.End(c.Request.Context(), b.ID)
	if err != nil {
		errorFrom(c, err, "failed to end broadcast")
		return
	}
	c.JSON(http.StatusOK, finished)
}

// EnsureCredential handles POST /api/v1/broadcasts/:id/credential
func (h *BroadcastHandler) EnsureCredential(c *gin.Context) {
	b, ok := h.load(c)
	if !ok {
		return
	}
	if _, err := h.manager.EnsureCredential(c.Request.Context(), b.ID); err != nil {
		errorFrom(c, err, "failed to register credential")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": b.ID, "stream_key": b.StreamKey})
}

// GetActivity handles GET /api/v1/broadcasts/:id/activity
func (h *BroadcastHandler) GetActivity(c *gin.Context) {
	b, ok := h.load(c)
	if !ok {
		return
	}
	act, err := h.manager.Activity(c.Request.Context(), b.ID)
	if err != nil {
		errorFrom(c, err, "failed to inspect credential")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": b.ID, "status": b.Status, "activity": act})
}

// Sweep handles POST /api/v1/reaper/sweep
func (h *BroadcastHandler) Sweep(c *gin.Context) {
	if claims, ok := middleware.ClaimsFrom(c); ok && claims.OrganizationID != "" {
		ErrorResponse(c, http.StatusForbidden, "Sweep requires an unscoped token")
		return
	}
	report := h.reaper.Sweep(c.Request.Context())
	zerolog.Ctx(c.Request.Context()).Info().Int("finalized", report.Finalized).Msg("manual sweep")
	c.JSON(http.StatusOK, report)
}

// load resolves :id and enforces the caller's organization scope. Broadcasts
// of other organizations are reported as missing.
func (h *BroadcastHandler) load(c *gin.Context) (*models.Broadcast, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid broadcast ID")
		return nil, false
	}
	b, err := h.manager.Get(c.Request.Context(), id)
	if err != nil {
		errorFrom(c, err, "failed to load broadcast")
		return nil, false
	}
	if !h.canAccess(c, b.OrganizationID) {
		ErrorResponse(c, http.StatusNotFound, "Broadcast not found")
		return nil, false
	}
	return b, true
}

func (h *BroadcastHandler) canAccess(c *gin.Context, org string) bool {
	claims, ok := middleware.ClaimsFrom(c)
	return !ok || claims.CanAccess(org)
}
