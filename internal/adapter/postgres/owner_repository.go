package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/codecov/codecov-api/internal/platform/crypto"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ownerColumns = `owner_id, service, service_id, username, name, email, oauth_token, organizations,
	plan, plan_user_count, stripe_customer_id, stripe_subscription_id, created_at, updated_at`

// OwnerRepo stores owners; oauth tokens are encrypted with crypto before they reach the table.
type OwnerRepo struct {
	pool   *pgxpool.Pool
	crypto crypto.Service
}

func NewOwnerRepo(pool *pgxpool.Pool, cryptoSvc crypto.Service) *OwnerRepo {
	return &OwnerRepo{pool: pool, crypto: cryptoSvc}
}

func (r *OwnerRepo) scanOwner(row pgx.Row) (*domain.Owner, error) {
	var (
		o                     domain.Owner
		token, customer, subs *string
	)
	err := row.Scan(&o.ID, &o.Service, &o.ServiceID, &o.Username, &o.Name, &o.Email, &token, &o.Organizations,
		&o.Plan, &o.PlanUserCount, &customer, &subs, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOwnerNotFound
	}
	if err != nil {
		return nil, err
	}

	if token != nil && *token != "" {
		plain, err := r.crypto.Decrypt(*token)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt oauth token: %w", err)
		}
		o.OAuthToken = plain
	}
	if customer != nil {
		o.StripeCustomerID = *customer
	}
	if subs != nil {
		o.StripeSubscriptionID = *subs
	}
	return &o, nil
}

func (r *OwnerRepo) GetByID(ctx context.Context, ownerID int64) (*domain.Owner, error) {
	o, err := r.scanOwner(r.pool.QueryRow(ctx, `SELECT `+ownerColumns+` FROM owners WHERE owner_id = $1`, ownerID))
	if err != nil && !errors.Is(err, domain.ErrOwnerNotFound) {
		return nil, fmt.Errorf("failed to get owner by ID: %w", err)
	}
	return o, err
}

func (r *OwnerRepo) GetByUsername(ctx context.Context, service, username string) (*domain.Owner, error) {
	o, err := r.scanOwner(r.pool.QueryRow(ctx,
		`SELECT `+ownerColumns+` FROM owners WHERE service = $1 AND lower(username) = lower($2)`, service, username))
	if err != nil && !errors.Is(err, domain.ErrOwnerNotFound) {
		return nil, fmt.Errorf("failed to get owner by username: %w", err)
	}
	return o, err
}

func (r *OwnerRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.Owner, error) {
	o, err := r.scanOwner(r.pool.QueryRow(ctx, `SELECT `+ownerColumns+` FROM owners WHERE stripe_customer_id = $1`, customerID))
	if err != nil && !errors.Is(err, domain.ErrOwnerNotFound) {
		return nil, fmt.Errorf("failed to get owner by stripe customer: %w", err)
	}
	return o, err
}

func (r *OwnerRepo) Upsert(ctx context.Context, profile domain.OwnerProfile, oauthToken string, organizations []int64) (*domain.Owner, error) {
	var token *string
	if oauthToken != "" {
		encrypted, err := r.crypto.Encrypt(oauthToken)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt oauth token: %w", err)
		}
		token = &encrypted
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO owners (service, service_id, username, name, email, oauth_token, organizations)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (service, service_id) DO UPDATE SET
			username      = EXCLUDED.username,
			name          = COALESCE(NULLIF(EXCLUDED.name, ''), owners.name),
			email         = COALESCE(NULLIF(EXCLUDED.email, ''), owners.email),
			oauth_token   = COALESCE(EXCLUDED.oauth_token, owners.oauth_token),
			organizations = COALESCE(EXCLUDED.organizations, owners.organizations),
			updated_at    = now()
		RETURNING `+ownerColumns,
		profile.Service, profile.ServiceID, profile.Username, profile.Name, profile.Email, token, organizations)

	o, err := r.scanOwner(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert owner: %w", err)
	}
	return o, nil
}

func (r *OwnerRepo) UpdatePlan(ctx context.Context, ownerID int64, plan string, userCount int, subscriptionID string) error {
	var subs *string
	if subscriptionID != "" {
		subs = &subscriptionID
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE owners SET plan = $2, plan_user_count = $3, stripe_subscription_id = $4, updated_at = now()
		WHERE owner_id = $1`, ownerID, plan, userCount, subs)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOwnerNotFound
	}
	return nil
}

// SetStripeCustomer links an owner to its payment provider customer.
func (r *OwnerRepo) SetStripeCustomer(ctx context.Context, ownerID int64, customerID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE owners SET stripe_customer_id = $2, updated_at = now() WHERE owner_id = $1`, ownerID, customerID)
	if err != nil {
		return fmt.Errorf("failed to set stripe customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOwnerNotFound
	}
	return nil
}
