package app

import (
	"context"

	"github.com/codecov/codecov-api/internal/domain"
)

// RepoService resolves URL owner/repo names and enforces who may see them.
type RepoService struct {
	owners domain.OwnerRepository
	repos  domain.RepoRepository
}

func NewRepoService(owners domain.OwnerRepository, repos domain.RepoRepository) *RepoService {
	return &RepoService{owners: owners, repos: repos}
}

func (s *RepoService) ResolveOwner(ctx context.Context, service, username string) (*domain.Owner, error) {
	if !domain.ValidService(service) {
		return nil, domain.ErrUnknownService
	}
	return s.owners.GetByUsername(ctx, service, username)
}

// ResolveRepo loads a repository. Private repositories are only visible to members
// of the owning org.
func (s *RepoService) ResolveRepo(ctx context.Context, currentUser *domain.Owner, service, ownerName, repoName string) (*domain.Owner, *domain.Repo, error) {
	owner, err := s.ResolveOwner(ctx, service, ownerName)
	if err != nil {
		return nil, nil, err
	}

	repo, err := s.repos.GetByName(ctx, owner.ID, repoName)
	if err != nil {
		return nil, nil, err
	}

	if repo.Private && !domain.CurrentUserPartOfOrg(currentUser, owner) {
		return nil, nil, domain.ErrNotPartOfOrg
	}
	return owner, repo, nil
}

// RequireMember loads the org and fails unless currentUser belongs to it.
func (s *RepoService) RequireMember(ctx context.Context, currentUser *domain.Owner, service, ownerName string) (*domain.Owner, error) {
	owner, err := s.ResolveOwner(ctx, service, ownerName)
	if err != nil {
		return nil, err
	}
	if !domain.CurrentUserPartOfOrg(currentUser, owner) {
		return nil, domain.ErrNotPartOfOrg
	}
	return owner, nil
}
