package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"keygate/api/internal/license"
	"keygate/api/internal/service"
)

type webhookRequest struct {
	EventID string                      `json:"eventId" binding:"required"`
	Kind    string                      `json:"kind" binding:"required"`
	Payload service.NotificationPayload `json:"payload"`
}

func (h HandlerSet) Webhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.billing.ApplyNotification(c.Request.Context(), req.EventID, req.Kind, req.Payload)
	if err != nil {
		if errors.Is(err, license.ErrSubscriptionNotFound) {
			// Out-of-order delivery; the claim rolled back, so a later
			// retry can succeed once the creation event lands.
			c.JSON(http.StatusConflict, gin.H{"error": "SUBSCRIPTION_NOT_FOUND"})
			return
		}
		h.log.Error().Err(err).Str("event_id", req.EventID).Msg("apply notification failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"eventId":     result.ExternalEventID,
		"kind":        result.Kind,
		"processedAt": result.ProcessedAt,
		"duplicate":   result.Duplicate,
	})
}
