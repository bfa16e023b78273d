package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"keygate/api/internal/config"
	"keygate/api/internal/security"
)

// WebhookSignature rejects unsigned or stale billing deliveries before
// the reconciler sees them. Replays inside the tolerance window are
// allowed through; the idempotency ledger makes them no-ops.
func WebhookSignature(cfg config.SecurityConfig, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		signature := c.GetHeader(security.HeaderWebhookSignature)
		timestamp := c.GetHeader(security.HeaderWebhookTimestamp)
		if signature == "" || timestamp == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature_required"})
			return
		}

		rawBody, err := c.GetRawData()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

		if err := security.ValidateWebhookSignature(cfg.WebhookSecret, timestamp, signature, rawBody); err != nil {
			log.Warn().Err(err).Str("client_ip", c.ClientIP()).Msg("webhook signature rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
			return
		}

		c.Next()
	}
}
