package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrLeaseExpired means the token verified but its own lifetime has
	// passed. Distinct from the embedded license expiry, which is display
	// data only.
	ErrLeaseExpired = errors.New("lease token expired")
	// ErrLeaseInvalid covers malformed tokens and bad signatures.
	ErrLeaseInvalid = errors.New("lease token invalid")
)

const (
	minLeaseTTL = 12 * time.Hour
	maxLeaseTTL = 24 * time.Hour
)

// LeaseClaims binds a device to a snapshot of its license status. The
// LicenseExpiresAt claim is what the client displays; the registered
// ExpiresAt claim is what gates the session.
type LeaseClaims struct {
	DeviceID         string `json:"did"`
	LicenseStatus    string `json:"lst"`
	LicenseExpiresAt *int64 `json:"lexp,omitempty"`
	jwt.RegisteredClaims
}

// IssueLeaseToken signs a compact lease for deviceID. ttl is clamped to
// the 12–24h session validity band.
func IssueLeaseToken(secret string, deviceID string, status string, licenseExpiresAt *time.Time, ttl time.Duration) (string, error) {
	if ttl < minLeaseTTL {
		ttl = minLeaseTTL
	}
	if ttl > maxLeaseTTL {
		ttl = maxLeaseTTL
	}

	now := time.Now()
	claims := LeaseClaims{
		DeviceID:      deviceID,
		LicenseStatus: status,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   deviceID,
		},
	}
	if licenseExpiresAt != nil {
		unix := licenseExpiresAt.Unix()
		claims.LicenseExpiresAt = &unix
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign lease: %w", err)
	}
	return signed, nil
}

// VerifyLeaseToken checks signature and session expiry. It never consults
// the embedded license expiry; callers re-resolve status for ground truth.
func VerifyLeaseToken(tokenStr string, secret string) (*LeaseClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &LeaseClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrLeaseExpired
		}
		return nil, ErrLeaseInvalid
	}

	claims, ok := token.Claims.(*LeaseClaims)
	if !ok || !token.Valid || claims.DeviceID == "" {
		return nil, ErrLeaseInvalid
	}
	return claims, nil
}

// LicenseExpiry returns the embedded license expiry, if any.
func (c *LeaseClaims) LicenseExpiry() *time.Time {
	if c.LicenseExpiresAt == nil {
		return nil
	}
	t := time.Unix(*c.LicenseExpiresAt, 0)
	return &t
}
