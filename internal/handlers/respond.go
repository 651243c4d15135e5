package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matchcast/backend/internal/cache"
	"github.com/matchcast/backend/internal/models"
	"github.com/matchcast/backend/internal/repository"
	"github.com/rs/zerolog"
)

// ErrorResponse sends a standardized error response
func ErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// statusFor maps domain errors onto admin API status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "Broadcast not found"
	case errors.Is(err, models.ErrAlreadyEnded):
		return http.StatusConflict, "Broadcast already ended"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, cache.ErrRegistryUnavailable):
		return http.StatusServiceUnavailable, "Credential registry unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func errorFrom(c *gin.Context, err error, msg string) {
	status, text := statusFor(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg(msg)
	}
	ErrorResponse(c, status, text)
}
