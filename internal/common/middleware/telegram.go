package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"relay-bot-backend/internal/common/errors"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookSecret rejects webhook calls whose secret token header does not match.
// An empty secret disables the check.
func WebhookSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		got := c.GetHeader(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			AbortWithError(c, errors.New(errors.ErrCodeUnauthorized, "Invalid webhook secret token"))
			return
		}
		c.Next()
	}
}
