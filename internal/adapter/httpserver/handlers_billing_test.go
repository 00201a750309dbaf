package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/codecov/codecov-api/internal/adapter/metrics"
	"github.com/codecov/codecov-api/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountDetails(t *testing.T) {
	billing := &mockBillingService{
		accountDetailsFn: func(_ context.Context, owner *domain.Owner) (*domain.AccountDetails, error) {
			return &domain.AccountDetails{
				Plan:          owner.Plan,
				PlanUserCount: owner.PlanUserCount,
				Subscription:  &domain.Subscription{ID: "sub_1", Status: "active"},
			}, nil
		},
	}
	srv := newTestServer(t, Deps{Auth: authAs(), Repos: reposWithAccess(), Billing: billing})

	rec := doRequest(srv, http.MethodGet, "/api/v2/github/codecov/account-details", nil, withBearer(testUserToken))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plan":"users-basic"`)
	assert.Contains(t, rec.Body.String(), `"plan_user_count":10`)
	assert.Contains(t, rec.Body.String(), `"id":"sub_1"`)
}

func TestAccountDetails_BillingErrorIsRelayed(t *testing.T) {
	billing := &mockBillingService{
		accountDetailsFn: func(context.Context, *domain.Owner) (*domain.AccountDetails, error) {
			return nil, &domain.BillingError{HTTPStatus: http.StatusPaymentRequired, Message: "card declined"}
		},
	}
	srv := newTestServer(t, Deps{Auth: authAs(), Repos: reposWithAccess(), Billing: billing})

	rec := doRequest(srv, http.MethodGet, "/api/v2/github/codecov/account-details", nil, withBearer(testUserToken))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"card declined"`)
}

func TestAccountDetails_NonMember(t *testing.T) {
	srv := newTestServer(t, Deps{Auth: authAs(), Repos: &mockRepoService{
		requireMemberFn: func(context.Context, *domain.Owner, string, string) (*domain.Owner, error) {
			return nil, domain.ErrNotPartOfOrg
		},
	}, Billing: &mockBillingService{}})

	rec := doRequest(srv, http.MethodGet, "/api/v2/github/codecov/account-details", nil, withBearer(testUserToken))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAccountDetails_BillingDisabled(t *testing.T) {
	srv := newTestServer(t, Deps{Auth: authAs(), Repos: reposWithAccess()})

	rec := doRequest(srv, http.MethodGet, "/api/v2/github/codecov/account-details", nil, withBearer(testUserToken))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelSubscription(t *testing.T) {
	billing := &mockBillingService{
		cancelSubscriptionFn: func(_ context.Context, owner *domain.Owner) (*domain.AccountDetails, error) {
			return &domain.AccountDetails{Plan: owner.Plan, Subscription: &domain.Subscription{ID: "sub_1", CancelAtPeriodEnd: true}}, nil
		},
	}
	srv := newTestServer(t, Deps{Auth: authAs(), Repos: reposWithAccess(), Billing: billing})

	rec := doRequest(srv, http.MethodDelete, "/api/v2/github/codecov/account-details", nil, withBearer(testUserToken))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancel_at_period_end":true`)
}

func TestCancelSubscription_NoSubscription(t *testing.T) {
	srv := newTestServer(t, Deps{Auth: authAs(), Repos: reposWithAccess(), Billing: &mockBillingService{}})

	rec := doRequest(srv, http.MethodDelete, "/api/v2/github/codecov/account-details", nil, withBearer(testUserToken))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhook(t *testing.T) {
	var handled domain.BillingEvent
	billing := &mockBillingService{
		handleEventFn: func(_ context.Context, ev domain.BillingEvent) error {
			handled = ev
			return nil
		},
	}
	parser := &mockWebhookParser{
		parseFn: func(payload []byte, sig string) (domain.BillingEvent, error) {
			if sig != "t=1,v1=good" {
				return domain.BillingEvent{}, errors.New("invalid signature")
			}
			return domain.BillingEvent{Type: domain.EventSubscriptionDeleted, CustomerID: "cus_1"}, nil
		},
	}
	appMetrics := metrics.NewAppMetrics(prometheus.NewRegistry())
	srv := newTestServer(t, Deps{Billing: billing, Webhooks: parser, AppMetrics: appMetrics})

	rec := doRequest(srv, http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`), func(r *http.Request) {
		r.Header.Set("Stripe-Signature", "t=1,v1=good")
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "cus_1", handled.CustomerID)
	assert.InDelta(t, 1, testutil.ToFloat64(appMetrics.BillingWebhooks.WithLabelValues(domain.EventSubscriptionDeleted, "ok")), 0)

	rec = doRequest(srv, http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`), func(r *http.Request) {
		r.Header.Set("Stripe-Signature", "t=1,v1=forged")
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(appMetrics.BillingWebhooks.WithLabelValues("unknown", "rejected")), 0)
}

func TestStripeWebhook_HandlerFailure(t *testing.T) {
	billing := &mockBillingService{
		handleEventFn: func(context.Context, domain.BillingEvent) error { return errors.New("db down") },
	}
	parser := &mockWebhookParser{
		parseFn: func([]byte, string) (domain.BillingEvent, error) {
			return domain.BillingEvent{Type: domain.EventSubscriptionUpdated}, nil
		},
	}
	srv := newTestServer(t, Deps{Billing: billing, Webhooks: parser})

	rec := doRequest(srv, http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStripeWebhook_NotRegisteredWithoutBilling(t *testing.T) {
	srv := newTestServer(t, Deps{})

	rec := doRequest(srv, http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
