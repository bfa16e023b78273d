package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"keygate/api/internal/rollout"
)

const defaultUpdateChannel = "stable"

// UpdateCheck answers whether a device is inside the staged rollout for
// an update channel. Deterministic per device and channel: the answer
// only changes when the configured percentage does.
func (h HandlerSet) UpdateCheck(c *gin.Context) {
	deviceID := c.Query("deviceId")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId required"})
		return
	}

	channel := c.DefaultQuery("channel", defaultUpdateChannel)
	percentage := h.cfg.Rollout.Percentage
	if override, ok := h.cfg.Rollout.Channels[channel]; ok {
		percentage = override
	}

	// Keyed per channel so each channel ramps its own cohort.
	c.JSON(http.StatusOK, gin.H{
		"channel":    channel,
		"inRollout":  rollout.InRollout(channel+":"+deviceID, percentage),
		"percentage": percentage,
	})
}
