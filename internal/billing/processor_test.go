package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keygate/api/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPProcessorClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPProcessorClient(config.BillingConfig{
		ProcessorBaseURL: srv.URL,
		ProcessorAPIKey:  "sk_test",
	})
}

func TestGetSubscriptionDecodesRemote(t *testing.T) {
	periodEnd := time.Now().Add(720 * time.Hour).UTC().Truncate(time.Second)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/subscriptions/sub_123", r.URL.Path)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(RemoteSubscription{
			ID:               "sub_123",
			CustomerRef:      "cus_9",
			Status:           "active",
			CurrentPeriodEnd: &periodEnd,
		})
	})

	remote, err := client.GetSubscription(context.Background(), "sub_123")
	require.NoError(t, err)
	require.Equal(t, "sub_123", remote.ID)
	require.Equal(t, "active", remote.Status)
	require.Equal(t, periodEnd.Unix(), remote.CurrentPeriodEnd.Unix())
}

func TestGetSubscriptionNotFoundIsGone(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetSubscription(context.Background(), "sub_missing")
	require.ErrorIs(t, err, ErrSubscriptionGone)
}

func TestGetSubscriptionServerErrorIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GetSubscription(context.Background(), "sub_123")
	require.ErrorIs(t, err, ErrProcessorUnavailable)
}

func TestGetSubscriptionTransportErrorIsUnavailable(t *testing.T) {
	client := NewHTTPProcessorClient(config.BillingConfig{
		ProcessorBaseURL: "http://127.0.0.1:1",
		ProcessorAPIKey:  "sk_test",
	})

	_, err := client.GetSubscription(context.Background(), "sub_123")
	require.ErrorIs(t, err, ErrProcessorUnavailable)
}
