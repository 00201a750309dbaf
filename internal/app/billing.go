package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codecov/codecov-api/internal/domain"
	"golang.org/x/sync/errgroup"
)

type BillingService struct {
	owners   domain.OwnerRepository
	provider domain.BillingProvider
	// plans maps provider price ids back to plan names.
	plans map[string]string
}

// NewBillingService takes the configured plan name to price id mapping.
func NewBillingService(owners domain.OwnerRepository, provider domain.BillingProvider, planPriceIDs map[string]string) *BillingService {
	plans := make(map[string]string, len(planPriceIDs))
	for plan, price := range planPriceIDs {
		plans[price] = plan
	}
	return &BillingService{owners: owners, provider: provider, plans: plans}
}

// AccountDetails fetches the subscription and customer concurrently.
func (s *BillingService) AccountDetails(ctx context.Context, owner *domain.Owner) (*domain.AccountDetails, error) {
	details := &domain.AccountDetails{Plan: owner.Plan, PlanUserCount: owner.PlanUserCount}

	g, gctx := errgroup.WithContext(ctx)
	if owner.StripeSubscriptionID != "" {
		g.Go(func() error {
			sub, err := s.provider.GetSubscription(gctx, owner.StripeSubscriptionID)
			if err != nil {
				return err
			}
			details.Subscription = sub
			return nil
		})
	}
	if owner.StripeCustomerID != "" {
		g.Go(func() error {
			customer, err := s.provider.GetCustomer(gctx, owner.StripeCustomerID)
			if err != nil {
				return err
			}
			details.Customer = customer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return details, nil
}

// CancelSubscription cancels at period end; the plan changes when the provider
// reports the deletion.
func (s *BillingService) CancelSubscription(ctx context.Context, owner *domain.Owner) (*domain.AccountDetails, error) {
	if owner.StripeSubscriptionID == "" {
		return nil, domain.ErrNoSubscription
	}

	sub, err := s.provider.CancelSubscription(ctx, owner.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Subscription set to cancel", "owner_id", owner.ID, "subscription_id", sub.ID)
	return &domain.AccountDetails{Plan: owner.Plan, PlanUserCount: owner.PlanUserCount, Subscription: sub}, nil
}

// HandleEvent applies a provider webhook event to the owner it belongs to.
// Events for unknown customers are ignored.
func (s *BillingService) HandleEvent(ctx context.Context, ev domain.BillingEvent) error {
	switch ev.Type {
	case domain.EventSubscriptionDeleted, domain.EventSubscriptionUpdated:
	default:
		slog.DebugContext(ctx, "Ignoring billing event", "type", ev.Type)
		return nil
	}

	owner, err := s.owners.GetByStripeCustomerID(ctx, ev.CustomerID)
	if errors.Is(err, domain.ErrOwnerNotFound) {
		slog.WarnContext(ctx, "Billing event for unknown customer", "type", ev.Type, "customer_id", ev.CustomerID)
		return nil
	}
	if err != nil {
		return err
	}

	if ev.Type == domain.EventSubscriptionDeleted {
		if err := s.owners.UpdatePlan(ctx, owner.ID, domain.PlanFree, domain.DefaultFreeSeats, ""); err != nil {
			return fmt.Errorf("failed to downgrade owner: %w", err)
		}
		slog.InfoContext(ctx, "Owner downgraded to free plan", "owner_id", owner.ID)
		return nil
	}

	plan, ok := s.plans[ev.PriceID]
	if !ok {
		slog.WarnContext(ctx, "Subscription updated to unknown price", "owner_id", owner.ID, "price_id", ev.PriceID)
		return nil
	}
	if err := s.owners.UpdatePlan(ctx, owner.ID, plan, int(ev.Quantity), ev.SubscriptionID); err != nil {
		return fmt.Errorf("failed to update owner plan: %w", err)
	}
	slog.InfoContext(ctx, "Owner plan updated", "owner_id", owner.ID, "plan", plan, "seats", ev.Quantity)
	return nil
}
