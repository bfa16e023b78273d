package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"keygate/api/internal/license"
	"keygate/api/internal/middleware"
	"keygate/api/internal/models"
	"keygate/api/internal/service"
)

type registerRequest struct {
	Email      string `json:"email" binding:"required,email"`
	DeviceHash string `json:"deviceHash" binding:"required"`
}

type entitlementResponse struct {
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	DaysLeft  *int       `json:"daysLeft,omitempty"`
}

type registerResponse struct {
	UserID     string              `json:"userId"`
	DeviceID   string              `json:"deviceId"`
	LeaseToken string              `json:"leaseToken"`
	License    entitlementResponse `json:"license"`
}

func (h HandlerSet) RegisterDevice(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.registration.Register(c.Request.Context(), service.RegisterInput{
		Email:      req.Email,
		DeviceHash: req.DeviceHash,
		IPAddress:  c.ClientIP(),
	})
	if err != nil {
		h.registrationError(c, err)
		return
	}

	token, err := h.licenses.IssueToken(result.Device.ID, result.Entitlement)
	if err != nil {
		h.log.Error().Err(err).Msg("issue lease token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, registerResponse{
		UserID:     result.User.ID,
		DeviceID:   result.Device.ID,
		LeaseToken: token,
		License:    toEntitlementResponse(result.Entitlement),
	})
}

// registrationError maps abuse-gate denials to structured responses;
// legitimate users get current/max detail, everything else stays opaque.
func (h HandlerSet) registrationError(c *gin.Context, err error) {
	var capErr *license.DeviceCapError
	if errors.As(err, &capErr) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "DEVICE_CAP_EXCEEDED",
			"current": capErr.Current,
			"max":     capErr.Max,
		})
		return
	}

	var rateErr *license.RateLimitError
	if errors.As(err, &rateErr) {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "RATE_LIMIT_EXCEEDED",
			"type":    string(rateErr.Type),
			"current": rateErr.Current,
			"max":     rateErr.Max,
		})
		return
	}

	h.log.Error().Err(err).Msg("registration failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func (h HandlerSet) Status(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId required"})
		return
	}

	device := boundDevice(c)
	if device == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ent, err := h.licenses.ResolveStatus(c.Request.Context(), userID, device.ID)
	if err != nil {
		h.log.Error().Err(err).Str("device_id", device.ID).Msg("resolve status failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, toEntitlementResponse(ent))
}

type refreshRequest struct {
	UserID string `json:"userId" binding:"required"`
}

func (h HandlerSet) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device := boundDevice(c)
	if device == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ent, err := h.licenses.ResolveStatus(c.Request.Context(), req.UserID, device.ID)
	if err != nil {
		h.log.Error().Err(err).Str("device_id", device.ID).Msg("resolve status failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	token, err := h.licenses.IssueToken(device.ID, ent)
	if err != nil {
		h.log.Error().Err(err).Msg("issue lease token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leaseToken": token,
		"license":    toEntitlementResponse(ent),
	})
}

func boundDevice(c *gin.Context) *models.Device {
	val, ok := c.Get(middleware.ContextDevice)
	if !ok {
		return nil
	}
	device, ok := val.(models.Device)
	if !ok {
		return nil
	}
	return &device
}

func toEntitlementResponse(ent license.Entitlement) entitlementResponse {
	return entitlementResponse{
		Status:    string(ent.Status),
		ExpiresAt: ent.ExpiresAt,
		DaysLeft:  ent.DaysLeft,
	}
}
