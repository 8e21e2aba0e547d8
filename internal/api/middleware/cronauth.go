package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// CronAuth guards scheduler-only endpoints with a shared bearer secret. An
// unset secret disables the endpoints entirely rather than leaving them open.
func CronAuth(secret string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "cron_auth").Logger()

	return func(c *gin.Context) {
		if secret == "" {
			log.Error().Msg("cron secret not configured, rejecting request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Unauthorized: cron secret not configured",
			})
			return
		}

		header := c.GetHeader("Authorization")
		expected := "Bearer " + secret
		if subtle.ConstantTimeCompare([]byte(header), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Unauthorized: invalid or missing cron secret",
			})
			return
		}

		c.Next()
	}
}
