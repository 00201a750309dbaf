package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// lastSeenResolution bounds how often an active session writes its lastseen column.
const lastSeenResolution = time.Minute

// AuthService handles OAuth login and resolves session tokens to owners.
type AuthService struct {
	owners    domain.OwnerRepository
	sessions  domain.SessionRepository
	cache     domain.SessionCache
	providers map[string]domain.VCSProvider
	clock     clockwork.Clock
	lookups   singleflight.Group
	repoSync  *RepoSyncService
}

type AuthOption func(*AuthService)

// WithRepoSync refreshes the owner's repositories on every login.
func WithRepoSync(sync *RepoSyncService) AuthOption {
	return func(s *AuthService) { s.repoSync = sync }
}

// NewAuthService wires the auth use cases. cache may be nil, in which case every
// lookup goes to the session repository.
func NewAuthService(owners domain.OwnerRepository, sessions domain.SessionRepository, cache domain.SessionCache, providers []domain.VCSProvider, clock clockwork.Clock, opts ...AuthOption) *AuthService {
	byService := make(map[string]domain.VCSProvider, len(providers))
	for _, p := range providers {
		byService[p.Service()] = p
	}
	s := &AuthService{
		owners:    owners,
		sessions:  sessions,
		cache:     cache,
		providers: byService,
		clock:     clock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provider returns the OAuth application for service.
func (s *AuthService) Provider(service string) (domain.VCSProvider, error) {
	p, ok := s.providers[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownService, service)
	}
	return p, nil
}

// LoginURL returns the provider authorization URL carrying state.
func (s *AuthService) LoginURL(service, state string) (string, error) {
	p, err := s.Provider(service)
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(state), nil
}

type LoginRequest struct {
	Service   string
	Code      string
	UserAgent string
	IP        string
}

// CompleteLogin exchanges the authorization code, syncs the owner and its orgs,
// and opens a login session.
func (s *AuthService) CompleteLogin(ctx context.Context, req LoginRequest) (*domain.Owner, *domain.Session, error) {
	p, err := s.Provider(req.Service)
	if err != nil {
		return nil, nil, err
	}

	token, err := p.Exchange(ctx, req.Code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	client := p.Client(token)
	profile, err := client.GetAuthenticatedUser(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch authenticated user: %w", err)
	}
	profile.Service = req.Service

	orgIDs, err := s.syncOrganizations(ctx, req.Service, client)
	if err != nil {
		// Membership stays as last stored; login itself still succeeds.
		slog.WarnContext(ctx, "Failed to sync organizations", "service", req.Service, "username", profile.Username, "error", err)
	}

	owner, err := s.owners.Upsert(ctx, *profile, token, orgIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to upsert owner: %w", err)
	}

	if s.repoSync != nil {
		if _, err := s.repoSync.Sync(ctx, owner, client); err != nil {
			slog.WarnContext(ctx, "Failed to sync repositories", "service", req.Service, "owner_id", owner.ID, "error", err)
		}
	}

	session, err := s.openSession(ctx, owner.ID, domain.SessionLogin, "", req.UserAgent, req.IP)
	if err != nil {
		return nil, nil, err
	}

	slog.InfoContext(ctx, "Owner logged in", "service", req.Service, "owner_id", owner.ID)
	return owner, session, nil
}

func (s *AuthService) syncOrganizations(ctx context.Context, service string, client domain.VCSClient) ([]int64, error) {
	orgs, err := client.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(orgs))
	for _, org := range orgs {
		org.Service = service
		stored, err := s.owners.Upsert(ctx, org, "", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert org %s: %w", org.Username, err)
		}
		ids = append(ids, stored.ID)
	}
	return ids, nil
}

// CreateAPISession opens a named session meant for the Authorization header.
func (s *AuthService) CreateAPISession(ctx context.Context, owner *domain.Owner, name string) (*domain.Session, error) {
	return s.openSession(ctx, owner.ID, domain.SessionAPI, name, "", "")
}

func (s *AuthService) openSession(ctx context.Context, ownerID int64, typ domain.SessionType, name, userAgent, ip string) (*domain.Session, error) {
	now := s.clock.Now()
	session := domain.Session{
		Token:     uuid.New(),
		OwnerID:   ownerID,
		Type:      typ,
		Name:      name,
		UserAgent: userAgent,
		IP:        ip,
		LastSeen:  now,
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &session, nil
}

// Authenticate resolves a session token to its owner. Concurrent lookups of the
// same token share one round trip.
func (s *AuthService) Authenticate(ctx context.Context, token uuid.UUID) (*domain.Owner, error) {
	v, err, _ := s.lookups.Do(token.String(), func() (any, error) {
		session, err := s.lookupSession(ctx, token)
		if err != nil {
			return nil, err
		}

		owner, err := s.owners.GetByID(ctx, session.OwnerID)
		if err != nil {
			return nil, err
		}

		now := s.clock.Now()
		if now.Sub(session.LastSeen) >= lastSeenResolution {
			if err := s.sessions.Touch(ctx, token, now); err != nil {
				slog.WarnContext(ctx, "Failed to update session lastseen", "owner_id", owner.ID, "error", err)
			}
		}
		return owner, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Owner), nil
}

func (s *AuthService) lookupSession(ctx context.Context, token uuid.UUID) (*domain.Session, error) {
	if s.cache != nil {
		return s.cache.Get(ctx, token)
	}
	return s.sessions.Get(ctx, token)
}

// Logout removes the session and drops it from the cache.
func (s *AuthService) Logout(ctx context.Context, token uuid.UUID) error {
	if err := s.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, token); err != nil {
			slog.WarnContext(ctx, "Failed to invalidate cached session", "error", err)
		}
	}
	return nil
}

// ListSessions returns the sessions that belong to owner.
func (s *AuthService) ListSessions(ctx context.Context, owner *domain.Owner) ([]domain.Session, error) {
	return s.sessions.ListByOwner(ctx, owner.ID)
}
