package domain

import (
	"context"
	"fmt"
	"time"
)

const (
	PlanFree  = "users-free"
	PlanBasic = "users-basic"

	// DefaultFreeSeats applies when an owner falls back to the free plan.
	DefaultFreeSeats = 5
)

// BillingError is a failure reported by the payment provider, carrying the HTTP status to surface.
type BillingError struct {
	HTTPStatus int
	Message    string
}

func (e *BillingError) Error() string {
	return fmt.Sprintf("billing error (%d): %s", e.HTTPStatus, e.Message)
}

type Subscription struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	PriceID           string    `json:"price_id"`
	Quantity          int64     `json:"quantity"`
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type AccountDetails struct {
	Plan          string        `json:"plan"`
	PlanUserCount int           `json:"plan_user_count"`
	Subscription  *Subscription `json:"subscription_detail"`
	Customer      *Customer     `json:"customer"`
}

// BillingEvent is the subset of a provider webhook the service reacts to.
type BillingEvent struct {
	Type           string
	CustomerID     string
	SubscriptionID string
	PriceID        string
	Quantity       int64
}

const (
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventSubscriptionUpdated = "customer.subscription.updated"
)

type BillingProvider interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	// CancelSubscription cancels at the end of the current period.
	CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}
