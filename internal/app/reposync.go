package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codecov/codecov-api/internal/domain"
)

// RepoSyncService copies the repositories an owner can see on its VCS into the store.
type RepoSyncService struct {
	owners    domain.OwnerRepository
	repos     domain.RepoRepository
	providers map[string]domain.VCSProvider
}

func NewRepoSyncService(owners domain.OwnerRepository, repos domain.RepoRepository, providers []domain.VCSProvider) *RepoSyncService {
	byService := make(map[string]domain.VCSProvider, len(providers))
	for _, p := range providers {
		byService[p.Service()] = p
	}
	return &RepoSyncService{owners: owners, repos: repos, providers: byService}
}

// SyncOwnerByID loads the owner and syncs with its stored oauth token.
func (s *RepoSyncService) SyncOwnerByID(ctx context.Context, ownerID int64) (int, error) {
	owner, err := s.owners.GetByID(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	if owner.OAuthToken == "" {
		return 0, fmt.Errorf("owner %d has no oauth token, log in first", ownerID)
	}
	p, ok := s.providers[owner.Service]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownService, owner.Service)
	}
	return s.Sync(ctx, owner, p.Client(owner.OAuthToken))
}

// Sync upserts every repository client lists, creating the owning orgs as needed.
// It returns the number of repositories stored.
func (s *RepoSyncService) Sync(ctx context.Context, owner *domain.Owner, client domain.VCSClient) (int, error) {
	listed, err := client.ListRepos(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list repositories: %w", err)
	}

	ownerIDs := map[string]int64{owner.ServiceID: owner.ID}
	synced := 0
	for _, r := range listed {
		ownerID, ok := ownerIDs[r.Owner.ServiceID]
		if !ok {
			profile := r.Owner
			profile.Service = owner.Service
			stored, err := s.owners.Upsert(ctx, profile, "", nil)
			if err != nil {
				return synced, fmt.Errorf("failed to upsert repository owner %s: %w", profile.Username, err)
			}
			ownerID = stored.ID
			ownerIDs[r.Owner.ServiceID] = ownerID
		}

		_, err := s.repos.Upsert(ctx, domain.Repo{
			OwnerID:       ownerID,
			ServiceID:     r.ServiceID,
			Name:          r.Name,
			Private:       r.Private,
			DefaultBranch: r.DefaultBranch,
			Language:      r.Language,
		})
		if err != nil {
			return synced, fmt.Errorf("failed to upsert repository %s: %w", r.Name, err)
		}
		synced++
	}

	slog.InfoContext(ctx, "Repositories synced", "owner_id", owner.ID, "service", owner.Service, "count", synced)
	return synced, nil
}
