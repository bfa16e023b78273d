package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"keygate/api/internal/config"
	"keygate/api/internal/license"
	"keygate/api/internal/models"
	"keygate/api/internal/security"
)

const (
	// HeaderDeviceID carries the raw client fingerprint on every
	// protected request.
	HeaderDeviceID = "X-Device-Id"

	ContextDevice      = "device"
	ContextLeaseClaims = "lease_claims"
)

var errMissingCredentials = errors.New("missing lease credentials")

// DeviceFinder is the device lookup the binding check needs; the device
// repository satisfies it.
type DeviceFinder interface {
	GetByID(ctx context.Context, id string) (models.Device, error)
}

// Lease authenticates protected requests: verify the lease token, load
// the device it names, and require the caller's fingerprint header to
// match the stored one exactly. A stolen token replayed under another
// fingerprint fails here, before any handler runs. Every failure is the
// same generic 401 so replay attempts learn nothing.
func Lease(cfg config.SecurityConfig, devices DeviceFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		device, claims, err := bindDevice(c, cfg, devices)
		if err != nil {
			unauthorized(c)
			return
		}

		c.Set(ContextDevice, device)
		c.Set(ContextLeaseClaims, *claims)

		c.Next()
	}
}

// bindDevice is the whole auth decision. The distinct errors exist for
// callers and tests; the HTTP response collapses them all to one 401.
func bindDevice(c *gin.Context, cfg config.SecurityConfig, devices DeviceFinder) (models.Device, *security.LeaseClaims, error) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return models.Device{}, nil, errMissingCredentials
	}

	claims, err := security.VerifyLeaseToken(strings.TrimPrefix(authHeader, "Bearer "), cfg.LeaseSecret)
	if err != nil {
		return models.Device{}, nil, err
	}

	fingerprint := c.GetHeader(HeaderDeviceID)
	if fingerprint == "" {
		return models.Device{}, nil, errMissingCredentials
	}

	device, err := devices.GetByID(c.Request.Context(), claims.DeviceID)
	if err != nil {
		return models.Device{}, nil, license.ErrDeviceNotFound
	}

	if device.DeviceHash != fingerprint {
		return models.Device{}, nil, license.ErrDeviceMismatch
	}

	return device, claims, nil
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}
