package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-lease-secret"

func TestLeaseTokenRoundTrip(t *testing.T) {
	licenseEnd := time.Now().Add(10 * 24 * time.Hour).Truncate(time.Second)

	token, err := IssueLeaseToken(testSecret, "dev_7", "trial", &licenseEnd, 12*time.Hour)
	require.NoError(t, err)

	claims, err := VerifyLeaseToken(token, testSecret)
	require.NoError(t, err)
	require.Equal(t, "dev_7", claims.DeviceID)
	require.Equal(t, "trial", claims.LicenseStatus)
	require.NotNil(t, claims.LicenseExpiry())
	require.Equal(t, licenseEnd.Unix(), claims.LicenseExpiry().Unix())
}

func TestLeaseTokenWrongSecretIsInvalid(t *testing.T) {
	token, err := IssueLeaseToken(testSecret, "dev_7", "active", nil, 12*time.Hour)
	require.NoError(t, err)

	_, err = VerifyLeaseToken(token, "other-secret")
	require.ErrorIs(t, err, ErrLeaseInvalid)
}

func TestLeaseTokenGarbageIsInvalid(t *testing.T) {
	_, err := VerifyLeaseToken("not-a-token", testSecret)
	require.ErrorIs(t, err, ErrLeaseInvalid)

	_, err = VerifyLeaseToken("", testSecret)
	require.ErrorIs(t, err, ErrLeaseInvalid)
}

func TestLeaseTokenExpiredIsDistinctFromInvalid(t *testing.T) {
	claims := LeaseClaims{
		DeviceID:      "dev_7",
		LicenseStatus: "active",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-13 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			Subject:   "dev_7",
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = VerifyLeaseToken(expired, testSecret)
	require.ErrorIs(t, err, ErrLeaseExpired)
	require.NotErrorIs(t, err, ErrLeaseInvalid)
}

// The embedded license expiry is display data: a token whose license
// snapshot already lapsed still verifies for its own lifetime.
func TestLeaseTokenOutlivesEmbeddedLicenseExpiry(t *testing.T) {
	pastLicense := time.Now().Add(-time.Hour)

	token, err := IssueLeaseToken(testSecret, "dev_7", "expired", &pastLicense, 12*time.Hour)
	require.NoError(t, err)

	claims, err := VerifyLeaseToken(token, testSecret)
	require.NoError(t, err)
	require.True(t, claims.LicenseExpiry().Before(time.Now()))
}

func TestLeaseTokenTTLClamped(t *testing.T) {
	token, err := IssueLeaseToken(testSecret, "dev_7", "trial", nil, time.Minute)
	require.NoError(t, err)

	claims, err := VerifyLeaseToken(token, testSecret)
	require.NoError(t, err)
	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	require.Equal(t, 12*time.Hour, ttl)

	token, err = IssueLeaseToken(testSecret, "dev_7", "trial", nil, 72*time.Hour)
	require.NoError(t, err)

	claims, err = VerifyLeaseToken(token, testSecret)
	require.NoError(t, err)
	ttl = claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	require.Equal(t, 24*time.Hour, ttl)
}
