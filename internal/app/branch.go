package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/jonboulle/clockwork"
)

// BranchService builds per-request BranchCommands.
type BranchService struct {
	branches  domain.BranchRepository
	owners    domain.OwnerRepository
	providers map[string]domain.VCSProvider
	clock     clockwork.Clock
}

func NewBranchService(branches domain.BranchRepository, owners domain.OwnerRepository, providers []domain.VCSProvider, clock clockwork.Clock) *BranchService {
	byService := make(map[string]domain.VCSProvider, len(providers))
	for _, p := range providers {
		byService[p.Service()] = p
	}
	return &BranchService{branches: branches, owners: owners, providers: byService, clock: clock}
}

// Commands returns the branch commands acting as currentUser on service.
func (s *BranchService) Commands(currentUser *domain.Owner, service string) *BranchCommands {
	base := interactor{
		currentUser: currentUser,
		service:     service,
		branches:    s.branches,
		owners:      s.owners,
		provider:    s.providers[service],
		clock:       s.clock,
	}
	return &BranchCommands{
		currentUser:  currentUser,
		service:      service,
		fetchBranch:  &FetchBranchInteractor{interactor: base},
		listBranches: &ListBranchesInteractor{interactor: base},
	}
}

type branchFetcher interface {
	Execute(ctx context.Context, repo *domain.Repo, branchName string) (*domain.Branch, error)
}

type branchLister interface {
	Execute(ctx context.Context, repo *domain.Repo) ([]domain.Branch, error)
}

// BranchCommands is the entry point for branch use cases of one caller.
type BranchCommands struct {
	currentUser  *domain.Owner
	service      string
	fetchBranch  branchFetcher
	listBranches branchLister
}

func (c *BranchCommands) FetchBranch(ctx context.Context, repo *domain.Repo, branchName string) (*domain.Branch, error) {
	return c.fetchBranch.Execute(ctx, repo, branchName)
}

func (c *BranchCommands) ListBranches(ctx context.Context, repo *domain.Repo) ([]domain.Branch, error) {
	return c.listBranches.Execute(ctx, repo)
}

type interactor struct {
	currentUser *domain.Owner
	service     string
	branches    domain.BranchRepository
	owners      domain.OwnerRepository
	provider    domain.VCSProvider
	clock       clockwork.Clock
}

// vcsClient returns nil when no provider is configured or the caller has no token.
func (i *interactor) vcsClient() domain.VCSClient {
	if i.provider == nil || i.currentUser == nil || i.currentUser.OAuthToken == "" {
		return nil
	}
	return i.provider.Client(i.currentUser.OAuthToken)
}

// FetchBranchInteractor reads a branch from the store and falls back to the provider.
type FetchBranchInteractor struct {
	interactor
}

func (i *FetchBranchInteractor) Execute(ctx context.Context, repo *domain.Repo, branchName string) (*domain.Branch, error) {
	branch, err := i.branches.Get(ctx, repo.ID, branchName)
	if err == nil {
		return branch, nil
	}
	if !errors.Is(err, domain.ErrBranchNotFound) {
		return nil, err
	}

	client := i.vcsClient()
	if client == nil {
		return nil, err
	}

	owner, err := i.owners.GetByID(ctx, repo.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load repository owner: %w", err)
	}

	remote, err := client.GetBranch(ctx, owner.Username, repo.Name, branchName)
	if err != nil {
		return nil, err
	}

	fetched := domain.Branch{
		RepoID:    repo.ID,
		Name:      remote.Name,
		Head:      remote.Head,
		Base:      repo.DefaultBranch,
		UpdatedAt: i.clock.Now(),
	}
	if err := i.branches.Upsert(ctx, fetched); err != nil {
		slog.WarnContext(ctx, "Failed to store fetched branch", "repo_id", repo.ID, "branch", branchName, "error", err)
	}
	return &fetched, nil
}

// ListBranchesInteractor lists stored branches, syncing from the provider when none are known.
type ListBranchesInteractor struct {
	interactor
}

func (i *ListBranchesInteractor) Execute(ctx context.Context, repo *domain.Repo) ([]domain.Branch, error) {
	stored, err := i.branches.List(ctx, repo.ID)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		return stored, nil
	}

	client := i.vcsClient()
	if client == nil {
		return stored, nil
	}

	owner, err := i.owners.GetByID(ctx, repo.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load repository owner: %w", err)
	}

	remote, err := client.ListBranches(ctx, owner.Username, repo.Name)
	if err != nil {
		return nil, err
	}

	now := i.clock.Now()
	out := make([]domain.Branch, 0, len(remote))
	for _, rb := range remote {
		b := domain.Branch{RepoID: repo.ID, Name: rb.Name, Head: rb.Head, Base: repo.DefaultBranch, UpdatedAt: now}
		if err := i.branches.Upsert(ctx, b); err != nil {
			slog.WarnContext(ctx, "Failed to store fetched branch", "repo_id", repo.ID, "branch", rb.Name, "error", err)
		}
		out = append(out, b)
	}
	return out, nil
}
