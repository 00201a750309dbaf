package app

import (
	"context"
	"fmt"
	"time"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/google/uuid"
)

// --- Mock implementations ---

type mockOwnerRepo struct {
	getByIDFn               func(ctx context.Context, ownerID int64) (*domain.Owner, error)
	getByUsernameFn         func(ctx context.Context, service, username string) (*domain.Owner, error)
	getByStripeCustomerIDFn func(ctx context.Context, customerID string) (*domain.Owner, error)
	upsertFn                func(ctx context.Context, profile domain.OwnerProfile, oauthToken string, organizations []int64) (*domain.Owner, error)
	updatePlanFn            func(ctx context.Context, ownerID int64, plan string, userCount int, subscriptionID string) error
}

func (m *mockOwnerRepo) GetByID(ctx context.Context, ownerID int64) (*domain.Owner, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, ownerID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockOwnerRepo) GetByUsername(ctx context.Context, service, username string) (*domain.Owner, error) {
	if m.getByUsernameFn != nil {
		return m.getByUsernameFn(ctx, service, username)
	}
	return nil, domain.ErrOwnerNotFound
}

func (m *mockOwnerRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.Owner, error) {
	if m.getByStripeCustomerIDFn != nil {
		return m.getByStripeCustomerIDFn(ctx, customerID)
	}
	return nil, domain.ErrOwnerNotFound
}

func (m *mockOwnerRepo) Upsert(ctx context.Context, profile domain.OwnerProfile, oauthToken string, organizations []int64) (*domain.Owner, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, profile, oauthToken, organizations)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockOwnerRepo) UpdatePlan(ctx context.Context, ownerID int64, plan string, userCount int, subscriptionID string) error {
	if m.updatePlanFn != nil {
		return m.updatePlanFn(ctx, ownerID, plan, userCount, subscriptionID)
	}
	return nil
}

type mockRepoRepo struct {
	getByIDFn   func(ctx context.Context, repoID int64) (*domain.Repo, error)
	getByNameFn func(ctx context.Context, ownerID int64, name string) (*domain.Repo, error)
	upsertFn    func(ctx context.Context, repo domain.Repo) (*domain.Repo, error)
}

func (m *mockRepoRepo) GetByID(ctx context.Context, repoID int64) (*domain.Repo, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, repoID)
	}
	return nil, domain.ErrRepoNotFound
}

func (m *mockRepoRepo) GetByName(ctx context.Context, ownerID int64, name string) (*domain.Repo, error) {
	if m.getByNameFn != nil {
		return m.getByNameFn(ctx, ownerID, name)
	}
	return nil, domain.ErrRepoNotFound
}

func (m *mockRepoRepo) Upsert(ctx context.Context, repo domain.Repo) (*domain.Repo, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, repo)
	}
	return &repo, nil
}

type mockSessionRepo struct {
	createFn      func(ctx context.Context, session domain.Session) error
	getFn         func(ctx context.Context, token uuid.UUID) (*domain.Session, error)
	touchFn       func(ctx context.Context, token uuid.UUID, at time.Time) error
	deleteFn      func(ctx context.Context, token uuid.UUID) error
	listByOwnerFn func(ctx context.Context, ownerID int64) ([]domain.Session, error)
	deleteIdleFn  func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *mockSessionRepo) Create(ctx context.Context, session domain.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) Get(ctx context.Context, token uuid.UUID) (*domain.Session, error) {
	if m.getFn != nil {
		return m.getFn(ctx, token)
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockSessionRepo) Touch(ctx context.Context, token uuid.UUID, at time.Time) error {
	if m.touchFn != nil {
		return m.touchFn(ctx, token, at)
	}
	return nil
}

func (m *mockSessionRepo) Delete(ctx context.Context, token uuid.UUID) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, token)
	}
	return nil
}

func (m *mockSessionRepo) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Session, error) {
	if m.listByOwnerFn != nil {
		return m.listByOwnerFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.deleteIdleFn != nil {
		return m.deleteIdleFn(ctx, cutoff)
	}
	return 0, nil
}

type mockSessionCache struct {
	getFn        func(ctx context.Context, token uuid.UUID) (*domain.Session, error)
	invalidateFn func(ctx context.Context, token uuid.UUID) error
}

func (m *mockSessionCache) Get(ctx context.Context, token uuid.UUID) (*domain.Session, error) {
	if m.getFn != nil {
		return m.getFn(ctx, token)
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockSessionCache) Invalidate(ctx context.Context, token uuid.UUID) error {
	if m.invalidateFn != nil {
		return m.invalidateFn(ctx, token)
	}
	return nil
}

type mockVCSClient struct {
	getAuthenticatedUserFn func(ctx context.Context) (*domain.OwnerProfile, error)
	listOrganizationsFn    func(ctx context.Context) ([]domain.OwnerProfile, error)
	getBranchFn            func(ctx context.Context, owner, repo, branch string) (*domain.VCSBranch, error)
	listBranchesFn         func(ctx context.Context, owner, repo string) ([]domain.VCSBranch, error)
	listReposFn            func(ctx context.Context) ([]domain.VCSRepo, error)
}

func (m *mockVCSClient) GetAuthenticatedUser(ctx context.Context) (*domain.OwnerProfile, error) {
	if m.getAuthenticatedUserFn != nil {
		return m.getAuthenticatedUserFn(ctx)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockVCSClient) ListOrganizations(ctx context.Context) ([]domain.OwnerProfile, error) {
	if m.listOrganizationsFn != nil {
		return m.listOrganizationsFn(ctx)
	}
	return nil, nil
}

func (m *mockVCSClient) GetBranch(ctx context.Context, owner, repo, branch string) (*domain.VCSBranch, error) {
	if m.getBranchFn != nil {
		return m.getBranchFn(ctx, owner, repo, branch)
	}
	return nil, &domain.ClientError{Code: 404, Message: "Not Found"}
}

func (m *mockVCSClient) ListBranches(ctx context.Context, owner, repo string) ([]domain.VCSBranch, error) {
	if m.listBranchesFn != nil {
		return m.listBranchesFn(ctx, owner, repo)
	}
	return nil, nil
}

func (m *mockVCSClient) ListRepos(ctx context.Context) ([]domain.VCSRepo, error) {
	if m.listReposFn != nil {
		return m.listReposFn(ctx)
	}
	return nil, nil
}

type mockVCSProvider struct {
	service    string
	exchangeFn func(ctx context.Context, code string) (string, error)
	client     *mockVCSClient
	lastToken  string
}

func (m *mockVCSProvider) Service() string { return m.service }

func (m *mockVCSProvider) AuthCodeURL(state string) string {
	return "https://" + m.service + ".example/authorize?state=" + state
}

func (m *mockVCSProvider) Exchange(ctx context.Context, code string) (string, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return "token-" + code, nil
}

func (m *mockVCSProvider) Client(accessToken string) domain.VCSClient {
	m.lastToken = accessToken
	return m.client
}

type mockBranchRepo struct {
	getFn    func(ctx context.Context, repoID int64, name string) (*domain.Branch, error)
	listFn   func(ctx context.Context, repoID int64) ([]domain.Branch, error)
	upsertFn func(ctx context.Context, branch domain.Branch) error
}

func (m *mockBranchRepo) Get(ctx context.Context, repoID int64, name string) (*domain.Branch, error) {
	if m.getFn != nil {
		return m.getFn(ctx, repoID, name)
	}
	return nil, domain.ErrBranchNotFound
}

func (m *mockBranchRepo) List(ctx context.Context, repoID int64) ([]domain.Branch, error) {
	if m.listFn != nil {
		return m.listFn(ctx, repoID)
	}
	return nil, nil
}

func (m *mockBranchRepo) Upsert(ctx context.Context, branch domain.Branch) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, branch)
	}
	return nil
}

type mockMeasurementRepo struct {
	upsertFn       func(ctx context.Context, m domain.Measurement) error
	aggregateByFn  func(ctx context.Context, interval domain.Interval, filter domain.MeasurementFilter) ([]domain.MeasurementSummary, error)
	deleteByRepoFn func(ctx context.Context, repoID int64) (int64, error)
}

func (m *mockMeasurementRepo) Upsert(ctx context.Context, ms domain.Measurement) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, ms)
	}
	return nil
}

func (m *mockMeasurementRepo) AggregateBy(ctx context.Context, interval domain.Interval, filter domain.MeasurementFilter) ([]domain.MeasurementSummary, error) {
	if m.aggregateByFn != nil {
		return m.aggregateByFn(ctx, interval, filter)
	}
	return nil, nil
}

func (m *mockMeasurementRepo) DeleteByRepo(ctx context.Context, repoID int64) (int64, error) {
	if m.deleteByRepoFn != nil {
		return m.deleteByRepoFn(ctx, repoID)
	}
	return 0, nil
}

type mockDatasetRepo struct {
	getOrCreateFn    func(ctx context.Context, name string, repositoryID int64) (*domain.Dataset, error)
	getFn            func(ctx context.Context, name string, repositoryID int64) (*domain.Dataset, error)
	listFn           func(ctx context.Context, repositoryID int64) ([]domain.Dataset, error)
	markBackfilledFn func(ctx context.Context, id int64) error
	deleteByRepoFn   func(ctx context.Context, repositoryID int64) (int64, error)
}

func (m *mockDatasetRepo) GetOrCreate(ctx context.Context, name string, repositoryID int64) (*domain.Dataset, error) {
	if m.getOrCreateFn != nil {
		return m.getOrCreateFn(ctx, name, repositoryID)
	}
	return &domain.Dataset{Name: name, RepositoryID: repositoryID}, nil
}

func (m *mockDatasetRepo) Get(ctx context.Context, name string, repositoryID int64) (*domain.Dataset, error) {
	if m.getFn != nil {
		return m.getFn(ctx, name, repositoryID)
	}
	return nil, domain.ErrDatasetNotFound
}

func (m *mockDatasetRepo) List(ctx context.Context, repositoryID int64) ([]domain.Dataset, error) {
	if m.listFn != nil {
		return m.listFn(ctx, repositoryID)
	}
	return nil, nil
}

func (m *mockDatasetRepo) MarkBackfilled(ctx context.Context, id int64) error {
	if m.markBackfilledFn != nil {
		return m.markBackfilledFn(ctx, id)
	}
	return nil
}

func (m *mockDatasetRepo) DeleteByRepository(ctx context.Context, repositoryID int64) (int64, error) {
	if m.deleteByRepoFn != nil {
		return m.deleteByRepoFn(ctx, repositoryID)
	}
	return 0, nil
}

type mockBillingProvider struct {
	getSubscriptionFn    func(ctx context.Context, subscriptionID string) (*domain.Subscription, error)
	getCustomerFn        func(ctx context.Context, customerID string) (*domain.Customer, error)
	cancelSubscriptionFn func(ctx context.Context, subscriptionID string) (*domain.Subscription, error)
}

func (m *mockBillingProvider) GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	if m.getSubscriptionFn != nil {
		return m.getSubscriptionFn(ctx, subscriptionID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockBillingProvider) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	if m.getCustomerFn != nil {
		return m.getCustomerFn(ctx, customerID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockBillingProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	if m.cancelSubscriptionFn != nil {
		return m.cancelSubscriptionFn(ctx, subscriptionID)
	}
	return nil, fmt.Errorf("not implemented")
}

type mockEnvVarsRepo struct {
	upsertFn      func(ctx context.Context, record domain.EnvVarsExposed) (*domain.EnvVarsExposed, error)
	getByRepoFn   func(ctx context.Context, ownerID, repoID int64) (*domain.EnvVarsExposed, error)
	listByOwnerFn func(ctx context.Context, ownerID int64) ([]domain.EnvVarsExposed, error)
}

func (m *mockEnvVarsRepo) Upsert(ctx context.Context, record domain.EnvVarsExposed) (*domain.EnvVarsExposed, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, record)
	}
	return &record, nil
}

func (m *mockEnvVarsRepo) GetByRepo(ctx context.Context, ownerID, repoID int64) (*domain.EnvVarsExposed, error) {
	if m.getByRepoFn != nil {
		return m.getByRepoFn(ctx, ownerID, repoID)
	}
	return nil, domain.ErrEnvVarsExposedNotFound
}

func (m *mockEnvVarsRepo) ListByOwner(ctx context.Context, ownerID int64) ([]domain.EnvVarsExposed, error) {
	if m.listByOwnerFn != nil {
		return m.listByOwnerFn(ctx, ownerID)
	}
	return nil, nil
}

type mockLeaderLock struct {
	tryAcquireFn func(ctx context.Context) (bool, error)
	released     bool
}

func (m *mockLeaderLock) TryAcquire(ctx context.Context) (bool, error) {
	if m.tryAcquireFn != nil {
		return m.tryAcquireFn(ctx)
	}
	return true, nil
}

func (m *mockLeaderLock) Release(context.Context) error {
	m.released = true
	return nil
}
