package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codecov/codecov-api/internal/app"
	"github.com/codecov/codecov-api/internal/domain"
	"github.com/codecov/codecov-api/internal/platform/config"
	"github.com/codecov/codecov-api/internal/platform/signedcookie"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// --- Mock implementations ---

type mockAuthService struct {
	loginURLFn         func(service, state string) (string, error)
	completeLoginFn    func(ctx context.Context, req app.LoginRequest) (*domain.Owner, *domain.Session, error)
	authenticateFn     func(ctx context.Context, token uuid.UUID) (*domain.Owner, error)
	logoutFn           func(ctx context.Context, token uuid.UUID) error
	listSessionsFn     func(ctx context.Context, owner *domain.Owner) ([]domain.Session, error)
	createAPISessionFn func(ctx context.Context, owner *domain.Owner, name string) (*domain.Session, error)
}

func (m *mockAuthService) LoginURL(service, state string) (string, error) {
	if m.loginURLFn != nil {
		return m.loginURLFn(service, state)
	}
	return "https://vcs.test/authorize?state=" + state, nil
}

func (m *mockAuthService) CompleteLogin(ctx context.Context, req app.LoginRequest) (*domain.Owner, *domain.Session, error) {
	if m.completeLoginFn != nil {
		return m.completeLoginFn(ctx, req)
	}
	return nil, nil, errors.New("not implemented")
}

func (m *mockAuthService) Authenticate(ctx context.Context, token uuid.UUID) (*domain.Owner, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, token)
	}
	return nil, domain.ErrSessionNotFound
}

func (m *mockAuthService) Logout(ctx context.Context, token uuid.UUID) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

func (m *mockAuthService) ListSessions(ctx context.Context, owner *domain.Owner) ([]domain.Session, error) {
	if m.listSessionsFn != nil {
		return m.listSessionsFn(ctx, owner)
	}
	return nil, nil
}

func (m *mockAuthService) CreateAPISession(ctx context.Context, owner *domain.Owner, name string) (*domain.Session, error) {
	if m.createAPISessionFn != nil {
		return m.createAPISessionFn(ctx, owner, name)
	}
	return nil, errors.New("not implemented")
}

type mockRepoService struct {
	resolveRepoFn   func(ctx context.Context, currentUser *domain.Owner, service, ownerName, repoName string) (*domain.Owner, *domain.Repo, error)
	requireMemberFn func(ctx context.Context, currentUser *domain.Owner, service, ownerName string) (*domain.Owner, error)
}

func (m *mockRepoService) ResolveRepo(ctx context.Context, currentUser *domain.Owner, service, ownerName, repoName string) (*domain.Owner, *domain.Repo, error) {
	if m.resolveRepoFn != nil {
		return m.resolveRepoFn(ctx, currentUser, service, ownerName, repoName)
	}
	return nil, nil, domain.ErrRepoNotFound
}

func (m *mockRepoService) RequireMember(ctx context.Context, currentUser *domain.Owner, service, ownerName string) (*domain.Owner, error) {
	if m.requireMemberFn != nil {
		return m.requireMemberFn(ctx, currentUser, service, ownerName)
	}
	return nil, domain.ErrOwnerNotFound
}

type mockBranchCommands struct {
	fetchBranchFn  func(ctx context.Context, repo *domain.Repo, branchName string) (*domain.Branch, error)
	listBranchesFn func(ctx context.Context, repo *domain.Repo) ([]domain.Branch, error)
}

func (m *mockBranchCommands) FetchBranch(ctx context.Context, repo *domain.Repo, branchName string) (*domain.Branch, error) {
	if m.fetchBranchFn != nil {
		return m.fetchBranchFn(ctx, repo, branchName)
	}
	return nil, domain.ErrBranchNotFound
}

func (m *mockBranchCommands) ListBranches(ctx context.Context, repo *domain.Repo) ([]domain.Branch, error) {
	if m.listBranchesFn != nil {
		return m.listBranchesFn(ctx, repo)
	}
	return nil, nil
}

type mockTimeseriesService struct {
	repoCoverageFn func(ctx context.Context, repo *domain.Repo, q app.CoverageQuery) (*app.CoverageResult, error)
	recordFn       func(ctx context.Context, m domain.Measurement) error
}

func (m *mockTimeseriesService) RepoCoverage(ctx context.Context, repo *domain.Repo, q app.CoverageQuery) (*app.CoverageResult, error) {
	if m.repoCoverageFn != nil {
		return m.repoCoverageFn(ctx, repo, q)
	}
	return &app.CoverageResult{Interval: q.Interval.String(), Results: []domain.MeasurementSummary{}}, nil
}

func (m *mockTimeseriesService) Record(ctx context.Context, meas domain.Measurement) error {
	if m.recordFn != nil {
		return m.recordFn(ctx, meas)
	}
	return nil
}

type mockBillingService struct {
	accountDetailsFn     func(ctx context.Context, owner *domain.Owner) (*domain.AccountDetails, error)
	cancelSubscriptionFn func(ctx context.Context, owner *domain.Owner) (*domain.AccountDetails, error)
	handleEventFn        func(ctx context.Context, ev domain.BillingEvent) error
}

func (m *mockBillingService) AccountDetails(ctx context.Context, owner *domain.Owner) (*domain.AccountDetails, error) {
	if m.accountDetailsFn != nil {
		return m.accountDetailsFn(ctx, owner)
	}
	return &domain.AccountDetails{Plan: owner.Plan, PlanUserCount: owner.PlanUserCount}, nil
}

func (m *mockBillingService) CancelSubscription(ctx context.Context, owner *domain.Owner) (*domain.AccountDetails, error) {
	if m.cancelSubscriptionFn != nil {
		return m.cancelSubscriptionFn(ctx, owner)
	}
	return nil, domain.ErrNoSubscription
}

func (m *mockBillingService) HandleEvent(ctx context.Context, ev domain.BillingEvent) error {
	if m.handleEventFn != nil {
		return m.handleEventFn(ctx, ev)
	}
	return nil
}

type mockSecurityService struct {
	forOwnerFn func(ctx context.Context, owner *domain.Owner) ([]domain.EnvVarsExposed, error)
	forRepoFn  func(ctx context.Context, owner *domain.Owner, repo *domain.Repo) (*domain.EnvVarsExposed, error)
}

func (m *mockSecurityService) ForOwner(ctx context.Context, owner *domain.Owner) ([]domain.EnvVarsExposed, error) {
	if m.forOwnerFn != nil {
		return m.forOwnerFn(ctx, owner)
	}
	return nil, nil
}

func (m *mockSecurityService) ForRepo(ctx context.Context, owner *domain.Owner, repo *domain.Repo) (*domain.EnvVarsExposed, error) {
	if m.forRepoFn != nil {
		return m.forRepoFn(ctx, owner, repo)
	}
	return nil, domain.ErrEnvVarsExposedNotFound
}

type mockWebhookParser struct {
	parseFn func(payload []byte, signatureHeader string) (domain.BillingEvent, error)
}

func (m *mockWebhookParser) Parse(payload []byte, signatureHeader string) (domain.BillingEvent, error) {
	if m.parseFn != nil {
		return m.parseFn(payload, signatureHeader)
	}
	return domain.BillingEvent{}, errors.New("invalid signature")
}

// --- Test server ---

const testCookieSecret = "test-cookie-secret-0123456789"

var testNow = time.Date(2024, time.May, 20, 12, 0, 0, 0, time.UTC)

type testServerOption func(*Deps)

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(d *Deps) { d.HealthChecks = checks }
}

func withBranches(cmds *mockBranchCommands) testServerOption {
	return func(d *Deps) {
		d.Branches = func(*domain.Owner, string) BranchCommands { return cmds }
	}
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:        "test",
		Port:          "8080",
		SessionSecret: "test-session-secret-0123456789abcdef",
		CookieSecret:  testCookieSecret,
		CookieDomain:  "codecov.test",
		CookieMaxAge:  time.Hour,
		FrontendURL:   "https://app.codecov.test",
		APIURL:        "https://api.codecov.test",
	}
}

// newTestServer wires default mocks; options and the explicit Deps fields override them.
func newTestServer(t *testing.T, deps Deps, opts ...testServerOption) *Server {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testNow)
	if deps.Auth == nil {
		deps.Auth = &mockAuthService{}
	}
	if deps.Repos == nil {
		deps.Repos = &mockRepoService{}
	}
	if deps.Branches == nil {
		cmds := &mockBranchCommands{}
		deps.Branches = func(*domain.Owner, string) BranchCommands { return cmds }
	}
	if deps.Timeseries == nil {
		deps.Timeseries = &mockTimeseriesService{}
	}
	if deps.Security == nil {
		deps.Security = &mockSecurityService{}
	}
	if deps.Signer == nil {
		deps.Signer = signedcookie.NewSigner(testCookieSecret, clock)
	}
	if deps.Clock == nil {
		deps.Clock = clock
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return NewServer(testConfig(), deps)
}

func doRequest(srv *Server, method, target string, body io.Reader, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func withBearer(token uuid.UUID) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token.String()) }
}

var (
	testUserToken = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	testUser      = &domain.Owner{ID: 7, Service: "github", Username: "octocat", Organizations: []int64{42}, OAuthToken: "gho_x"}
	testOrg       = &domain.Owner{ID: 42, Service: "github", Username: "codecov", Plan: domain.PlanBasic, PlanUserCount: 10}
	testRepo      = &domain.Repo{ID: 100, OwnerID: 42, Name: "api", Private: true, DefaultBranch: "main"}
)

// authAs returns an auth mock that accepts testUserToken as testUser.
func authAs() *mockAuthService {
	return &mockAuthService{
		authenticateFn: func(_ context.Context, token uuid.UUID) (*domain.Owner, error) {
			if token == testUserToken {
				return testUser, nil
			}
			return nil, domain.ErrSessionNotFound
		},
	}
}

// reposWithAccess resolves testOrg/testRepo, enforcing org membership like the app service.
func reposWithAccess() *mockRepoService {
	return &mockRepoService{
		resolveRepoFn: func(_ context.Context, user *domain.Owner, service, ownerName, repoName string) (*domain.Owner, *domain.Repo, error) {
			if ownerName != testOrg.Username || repoName != testRepo.Name {
				return nil, nil, domain.ErrRepoNotFound
			}
			if testRepo.Private && !domain.CurrentUserPartOfOrg(user, testOrg) {
				return nil, nil, domain.ErrNotPartOfOrg
			}
			return testOrg, testRepo, nil
		},
		requireMemberFn: func(_ context.Context, user *domain.Owner, service, ownerName string) (*domain.Owner, error) {
			if ownerName != testOrg.Username {
				return nil, domain.ErrOwnerNotFound
			}
			if !domain.CurrentUserPartOfOrg(user, testOrg) {
				return nil, domain.ErrNotPartOfOrg
			}
			return testOrg, nil
		},
	}
}
