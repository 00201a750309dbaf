// Package stripe adapts the Stripe API to domain.BillingProvider and parses
// its subscription webhooks.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/codecov/codecov-api/internal/domain"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

var _ domain.BillingProvider = (*Client)(nil)

type Client struct {
	api *client.API
}

type Option func(*stripeapi.BackendConfig)

// WithBaseURL points the client at another API host.
func WithBaseURL(url string) Option {
	return func(c *stripeapi.BackendConfig) { c.URL = stripeapi.String(url) }
}

// WithHTTPClient replaces the HTTP client used by the backend.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *stripeapi.BackendConfig) { c.HTTPClient = hc }
}

func NewClient(apiKey string, opts ...Option) *Client {
	cfg := &stripeapi.BackendConfig{
		MaxNetworkRetries: stripeapi.Int64(2),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelError},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	backends := &stripeapi.Backends{
		API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, cfg),
		Connect: stripeapi.GetBackendWithConfig(stripeapi.ConnectBackend, cfg),
		Uploads: stripeapi.GetBackendWithConfig(stripeapi.UploadsBackend, cfg),
	}
	return &Client{api: client.New(apiKey, backends)}
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	params := &stripeapi.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, translate(err)
	}
	return toSubscription(sub), nil
}

func (c *Client) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	params := &stripeapi.CustomerParams{}
	params.Context = ctx

	cus, err := c.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, translate(err)
	}
	return &domain.Customer{ID: cus.ID, Email: cus.Email, Name: cus.Name}, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	params := &stripeapi.SubscriptionParams{CancelAtPeriodEnd: stripeapi.Bool(true)}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, translate(err)
	}
	return toSubscription(sub), nil
}

func toSubscription(sub *stripeapi.Subscription) *domain.Subscription {
	out := &domain.Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.Quantity = item.Quantity
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	return out
}

// translate turns Stripe API errors into domain.BillingError so handlers can
// relay the status. Transport failures become a 502.
func translate(err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		status := se.HTTPStatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		msg := se.Msg
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &domain.BillingError{HTTPStatus: status, Message: msg}
	}
	return &domain.BillingError{HTTPStatus: http.StatusBadGateway, Message: err.Error()}
}

// ErrInvalidSignature is returned for webhook payloads that fail verification.
var ErrInvalidSignature = errors.New("invalid stripe webhook signature")

// WebhookParser verifies and decodes subscription webhooks.
type WebhookParser struct {
	secret string
}

func NewWebhookParser(secret string) *WebhookParser {
	return &WebhookParser{secret: secret}
}

// Parse checks the Stripe-Signature header and maps subscription events to a
// domain.BillingEvent. Events of other types come back with only Type set.
func (p *WebhookParser) Parse(payload []byte, signatureHeader string) (domain.BillingEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.BillingEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := domain.BillingEvent{Type: string(ev.Type)}
	if !strings.HasPrefix(out.Type, "customer.subscription.") || ev.Data == nil {
		return out, nil
	}

	var sub stripeapi.Subscription
	if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
		return domain.BillingEvent{}, fmt.Errorf("failed to decode subscription event: %w", err)
	}
	out.SubscriptionID = sub.ID
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if s := toSubscription(&sub); s != nil {
		out.PriceID = s.PriceID
		out.Quantity = s.Quantity
	}
	return out, nil
}
