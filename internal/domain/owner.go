package domain

import (
	"context"
	"slices"
	"time"
)

const (
	ServiceGitHub    = "github"
	ServiceGitLab    = "gitlab"
	ServiceBitbucket = "bitbucket"
)

// ValidService reports whether service names a supported VCS provider.
func ValidService(service string) bool {
	switch service {
	case ServiceGitHub, ServiceGitLab, ServiceBitbucket:
		return true
	}
	return false
}

// Owner is a user or an organization on a VCS service.
type Owner struct {
	ID        int64
	Service   string
	ServiceID string
	Username  string
	Name      string
	Email     string
	// OAuthToken is plaintext here; the repository encrypts it at rest.
	OAuthToken string
	// Organizations holds the owner ids of the orgs this user belongs to. Nil for orgs.
	Organizations []int64

	Plan                 string
	PlanUserCount        int
	StripeCustomerID     string
	StripeSubscriptionID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CurrentUserPartOfOrg reports whether user may act on behalf of org.
// Anonymous callers (nil user) are never part of an org.
func CurrentUserPartOfOrg(user, org *Owner) bool {
	if user == nil || org == nil {
		return false
	}
	if user.ID == org.ID {
		return true
	}
	return slices.Contains(user.Organizations, org.ID)
}

// OwnerProfile is the provider-side identity used to create or refresh an Owner.
type OwnerProfile struct {
	Service   string
	ServiceID string
	Username  string
	Name      string
	Email     string
}

type OwnerRepository interface {
	GetByID(ctx context.Context, ownerID int64) (*Owner, error)
	GetByUsername(ctx context.Context, service, username string) (*Owner, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*Owner, error)
	// Upsert creates or updates the owner keyed by (service, service_id). Empty token
	// and nil organizations leave the stored values untouched.
	Upsert(ctx context.Context, profile OwnerProfile, oauthToken string, organizations []int64) (*Owner, error)
	UpdatePlan(ctx context.Context, ownerID int64, plan string, userCount int, subscriptionID string) error
}
