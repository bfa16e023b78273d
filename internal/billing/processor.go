package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"keygate/api/internal/config"
)

// ErrProcessorUnavailable covers transport failures and 5xx replies. The
// reconciler treats it as "no answer" and leaves local state untouched.
var ErrProcessorUnavailable = errors.New("payment processor unavailable")

// ErrSubscriptionGone is the processor explicitly saying the subscription
// no longer exists. Unlike an unavailable processor, this is proof of
// non-active.
var ErrSubscriptionGone = errors.New("subscription not found at processor")

// RemoteSubscription is the processor's view of one subscription.
type RemoteSubscription struct {
	ID                string     `json:"id"`
	CustomerRef       string     `json:"customer"`
	Status            string     `json:"status"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CanceledAt        *time.Time `json:"canceled_at"`
}

// ProcessorClient is the remote payment processor collaborator. The real
// API semantics live behind this seam; tests substitute an httptest
// server or a stub.
type ProcessorClient interface {
	GetSubscription(ctx context.Context, externalRef string) (RemoteSubscription, error)
}

type HTTPProcessorClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPProcessorClient(cfg config.BillingConfig) *HTTPProcessorClient {
	return &HTTPProcessorClient{
		baseURL: cfg.ProcessorBaseURL,
		apiKey:  cfg.ProcessorAPIKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPProcessorClient) GetSubscription(ctx context.Context, externalRef string) (RemoteSubscription, error) {
	url := fmt.Sprintf("%s/v1/subscriptions/%s", c.baseURL, externalRef)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RemoteSubscription{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return RemoteSubscription{}, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return RemoteSubscription{}, ErrSubscriptionGone
	case res.StatusCode >= 500:
		return RemoteSubscription{}, fmt.Errorf("%w: status %d", ErrProcessorUnavailable, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return RemoteSubscription{}, fmt.Errorf("processor status %d", res.StatusCode)
	}

	var remote RemoteSubscription
	if err := json.NewDecoder(res.Body).Decode(&remote); err != nil {
		return RemoteSubscription{}, fmt.Errorf("decode subscription: %w", err)
	}
	return remote, nil
}
