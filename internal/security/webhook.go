package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const (
	HeaderWebhookSignature = "X-Keygate-Signature"
	HeaderWebhookTimestamp = "X-Keygate-Timestamp"

	// Deliveries older than this are rejected outright; the idempotency
	// ledger handles anything fresher that gets retried.
	webhookTolerance = 5 * time.Minute
)

// ComputeWebhookSignature signs timestamp.body with HMAC-SHA256.
func ComputeWebhookSignature(secret string, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateWebhookSignature checks the timestamp freshness and the HMAC.
func ValidateWebhookSignature(secret string, timestamp string, signature string, body []byte) error {
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}

	sent := time.Unix(unix, 0)
	if time.Since(sent) > webhookTolerance || time.Until(sent) > webhookTolerance {
		return fmt.Errorf("webhook timestamp outside tolerance")
	}

	expected := ComputeWebhookSignature(secret, timestamp, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("webhook signature mismatch")
	}
	return nil
}
