package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matchcast/backend/internal/ingest"
	"github.com/matchcast/backend/internal/logging"
	"github.com/matchcast/backend/internal/middleware"
	"github.com/matchcast/backend/internal/models"
	"github.com/rs/zerolog"
)

// WebhookHandler serves the media server's publish callbacks.
type WebhookHandler struct {
	ingest            *ingest.Service
	readAccessAllowed bool
	limiter           *middleware.RateLimiter
}

// NewWebhookHandler builds the handler. limiter, when set, bounds publish
// attempts per stream key; every callback arrives from the same ingest
// server, so per-IP limits do not apply here.
func NewWebhookHandler(svc *ingest.Service, readAccessAllowed bool, limiter *middleware.RateLimiter) *WebhookHandler {
	return &WebhookHandler{
		ingest:            svc,
		readAccessAllowed: readAccessAllowed,
		limiter:           limiter,
	}
}

// RegisterRoutes mounts the callbacks on rg. secret, when non-empty, must be
// sent in the X-Ingest-Secret header.
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup, secret string) {
	rg.Use(middleware.IngestSecret(secret))
	rg.POST("/on-publish", h.OnPublish)
	rg.POST("/on-publish-done", h.OnPublishDone)
	rg.POST("/mediamtx-auth", h.MediaMTXAuth)
}

// OnPublish handles POST /hooks/on-publish: 200 when the publisher may
// stream, 401 otherwise.
func (h *WebhookHandler) OnPublish(c *gin.Context) {
	var req models.IngestHookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zerolog.Ctx(c.Request.Context()).Info().Err(err).Msg("unreadable publish callback")
		c.Status(http.StatusUnauthorized)
		return
	}
	h.authorize(c, req)
}

// OnPublishDone handles POST /hooks/on-publish-done. It always answers 200.
func (h *WebhookHandler) OnPublishDone(c *gin.Context) {
	var req models.IngestHookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("unreadable publish done callback")
		c.Status(http.StatusOK)
		return
	}
	outcome := h.ingest.CompletePublish(c.Request.Context(), req.Path)
	zerolog.Ctx(c.Request.Context()).Debug().Str("outcome", string(outcome)).Msg("publish done handled")
	c.Status(http.StatusOK)
}

// MediaMTXAuth handles POST /hooks/mediamtx-auth. Publish requests go through
// the authorizer; read and playback follow the read access setting.
func (h *WebhookHandler) MediaMTXAuth(c *gin.Context) {
	var req models.IngestHookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zerolog.Ctx(c.Request.Context()).Info().Err(err).Msg("unreadable auth callback")
		c.Status(http.StatusUnauthorized)
		return
	}

	switch req.Action {
	case models.IngestActionPublish:
		h.authorize(c, req)
	case models.IngestActionRead, models.IngestActionPlayback:
		if !h.readAccessAllowed {
			c.Status(http.StatusUnauthorized)
			return
		}
		c.Status(http.StatusOK)
	default:
		c.Status(http.StatusUnauthorized)
	}
}

// authorize fails closed: denials, throttling and infrastructure errors all
// answer 401.
func (h *WebhookHandler) authorize(c *gin.Context, req models.IngestHookRequest) {
	ctx := c.Request.Context()
	key := h.ingest.StreamKey(req.Path)
	log := zerolog.Ctx(ctx).With().
		Str("stream_key", logging.MaskKey(key)).
		Str("ip", req.IP).
		Str("protocol", req.Protocol).
		Logger()

	if key != "" && !h.limiter.Allow(ctx, key) {
		log.Warn().Msg("publish attempts throttled")
		c.Status(http.StatusUnauthorized)
		return
	}

	err := h.ingest.AuthorizePublish(ctx, req.Path)
	if err == nil {
		c.Status(http.StatusOK)
		return
	}
	if ingest.IsDenial(err) {
		log.Info().Err(err).Msg("publish denied")
	} else {
		log.Error().Err(err).Msg("publish authorization failed")
	}
	c.Status(http.StatusUnauthorized)
}
