package security

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWebhookSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"eventId":"evt_1","kind":"invoice.paid"}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())

	sig := ComputeWebhookSignature("whsec", ts, body)
	require.NoError(t, ValidateWebhookSignature("whsec", ts, sig, body))
}

func TestWebhookSignatureTamperedBody(t *testing.T) {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	sig := ComputeWebhookSignature("whsec", ts, []byte(`{"a":1}`))

	err := ValidateWebhookSignature("whsec", ts, sig, []byte(`{"a":2}`))
	require.Error(t, err)
}

func TestWebhookSignatureWrongSecret(t *testing.T) {
	body := []byte(`{}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())
	sig := ComputeWebhookSignature("whsec", ts, body)

	require.Error(t, ValidateWebhookSignature("other", ts, sig, body))
}

func TestWebhookSignatureStaleTimestamp(t *testing.T) {
	body := []byte(`{}`)
	ts := fmt.Sprintf("%d", time.Now().Add(-time.Hour).Unix())
	sig := ComputeWebhookSignature("whsec", ts, body)

	require.Error(t, ValidateWebhookSignature("whsec", ts, sig, body))
}

func TestWebhookSignatureBadTimestamp(t *testing.T) {
	require.Error(t, ValidateWebhookSignature("whsec", "soon", "sig", []byte(`{}`)))
}
