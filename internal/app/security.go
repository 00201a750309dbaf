package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecov/codecov-api/internal/domain"
)

type SecurityService struct {
	records domain.EnvVarsExposedRepository
	repos   domain.RepoRepository
}

func NewSecurityService(records domain.EnvVarsExposedRepository, repos domain.RepoRepository) *SecurityService {
	return &SecurityService{records: records, repos: repos}
}

// ForOwner lists exposure records for every repository of owner.
func (s *SecurityService) ForOwner(ctx context.Context, owner *domain.Owner) ([]domain.EnvVarsExposed, error) {
	return s.records.ListByOwner(ctx, owner.ID)
}

func (s *SecurityService) ForRepo(ctx context.Context, owner *domain.Owner, repo *domain.Repo) (*domain.EnvVarsExposed, error) {
	return s.records.GetByRepo(ctx, owner.ID, repo.ID)
}

// Import stores exposure records produced by log analysis. A record naming a
// known repository gets its owner and visibility filled in from the store when
// they are missing. Records are validated before any is written.
func (s *SecurityService) Import(ctx context.Context, records []domain.EnvVarsExposed) (int, error) {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		if records[i].RepoID == nil {
			return 0, fmt.Errorf("record %d: %w: repo_id is required", i, domain.ErrInvalidRecord)
		}
	}

	imported := 0
	for _, rec := range records {
		repo, err := s.repos.GetByID(ctx, *rec.RepoID)
		switch {
		case err == nil:
			if rec.OwnerID == nil {
				rec.OwnerID = &repo.OwnerID
			}
			if rec.IsRepoPrivate == nil {
				rec.IsRepoPrivate = &repo.Private
			}
			exists := true
			rec.ExistsOnCodecov = &exists
		case errors.Is(err, domain.ErrRepoNotFound):
			exists := false
			rec.ExistsOnCodecov = &exists
		default:
			return imported, err
		}

		if _, err := s.records.Upsert(ctx, rec); err != nil {
			return imported, fmt.Errorf("failed to store exposure for repo %d: %w", *rec.RepoID, err)
		}
		imported++
	}
	return imported, nil
}
