package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const HeaderIngestSecret = "X-Ingest-Secret"

// IngestSecret rejects media-server callbacks that do not carry the shared
// secret. An empty secret disables the check.
func IngestSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(HeaderIngestSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid ingest secret"})
			return
		}
		c.Next()
	}
}
