/**
 * @description
 * This package provides a minimal client for the payment provider's REST API.
 * The webhook processor uses it for two lookups that the webhook payloads do
 * not carry themselves: the billing period of a subscription (to set the
 * credit expiry window) and the email behind a provider customer id (to
 * resolve invoice events to an internal account).
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - internal/domain: SubscriptionPeriod model.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lumina/billing-service/internal/domain"
)

// Client is a client for the payment provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payment provider API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// BillingAPI is the subset of provider lookups the webhook processor needs.
// Declared here so the app layer can substitute a stub in tests.
type BillingAPI interface {
	GetSubscriptionPeriod(ctx context.Context, subscriptionID string) (*domain.SubscriptionPeriod, error)
	GetCustomerEmail(ctx context.Context, customerID string) (string, error)
}

type subscriptionResponse struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
}

type customerResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Deleted bool   `json:"deleted"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetSubscriptionPeriod retrieves the current billing period for a
// subscription. The provider reports period bounds as unix seconds.
func (c *Client) GetSubscriptionPeriod(ctx context.Context, subscriptionID string) (*domain.SubscriptionPeriod, error) {
	var sub subscriptionResponse
	if err := c.get(ctx, "/v1/subscriptions/"+subscriptionID, &sub); err != nil {
		return nil, err
	}
	if sub.CurrentPeriodStart == 0 || sub.CurrentPeriodEnd == 0 {
		return nil, fmt.Errorf("subscription %s has no billing period", subscriptionID)
	}
	return &domain.SubscriptionPeriod{
		Start: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		End:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}, nil
}

// GetCustomerEmail resolves a provider customer id to the customer's email.
func (c *Client) GetCustomerEmail(ctx context.Context, customerID string) (string, error) {
	var customer customerResponse
	if err := c.get(ctx, "/v1/customers/"+customerID, &customer); err != nil {
		return "", err
	}
	if customer.Deleted || customer.Email == "" {
		return "", fmt.Errorf("customer %s has no usable email", customerID)
	}
	return customer.Email, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("provider api error (status %d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("provider api error (status %d)", resp.StatusCode)
	}

	return json.Unmarshal(body, out)
}
