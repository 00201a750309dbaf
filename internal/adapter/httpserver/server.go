package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codecov/codecov-api/internal/adapter/metrics"
	"github.com/codecov/codecov-api/internal/app"
	"github.com/codecov/codecov-api/internal/domain"
	"github.com/codecov/codecov-api/internal/platform/config"
	"github.com/codecov/codecov-api/internal/platform/signedcookie"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
)

type authService interface {
	LoginURL(service, state string) (string, error)
	CompleteLogin(ctx context.Context, req app.LoginRequest) (*domain.Owner, *domain.Session, error)
	Authenticate(ctx context.Context, token uuid.UUID) (*domain.Owner, error)
	Logout(ctx context.Context, token uuid.UUID) error
	ListSessions(ctx context.Context, owner *domain.Owner) ([]domain.Session, error)
	CreateAPISession(ctx context.Context, owner *domain.Owner, name string) (*domain.Session, error)
}

type repoService interface {
	ResolveRepo(ctx context.Context, currentUser *domain.Owner, service, ownerName, repoName string) (*domain.Owner, *domain.Repo, error)
	RequireMember(ctx context.Context, currentUser *domain.Owner, service, ownerName string) (*domain.Owner, error)
}

// BranchCommands is the per-request branch use case bound to the current user.
type BranchCommands interface {
	FetchBranch(ctx context.Context, repo *domain.Repo, branchName string) (*domain.Branch, error)
	ListBranches(ctx context.Context, repo *domain.Repo) ([]domain.Branch, error)
}

type timeseriesService interface {
	RepoCoverage(ctx context.Context, repo *domain.Repo, q app.CoverageQuery) (*app.CoverageResult, error)
	Record(ctx context.Context, m domain.Measurement) error
}

type billingService interface {
	AccountDetails(ctx context.Context, owner *domain.Owner) (*domain.AccountDetails, error)
	CancelSubscription(ctx context.Context, owner *domain.Owner) (*domain.AccountDetails, error)
	HandleEvent(ctx context.Context, ev domain.BillingEvent) error
}

type securityService interface {
	ForOwner(ctx context.Context, owner *domain.Owner) ([]domain.EnvVarsExposed, error)
	ForRepo(ctx context.Context, owner *domain.Owner, repo *domain.Repo) (*domain.EnvVarsExposed, error)
}

type webhookParser interface {
	Parse(payload []byte, signatureHeader string) (domain.BillingEvent, error)
}

// Deps are the use cases and infrastructure the server routes to.
// Billing, Webhooks and the metrics fields may be nil.
type Deps struct {
	Auth       authService
	Repos      repoService
	Branches   func(currentUser *domain.Owner, service string) BranchCommands
	Timeseries timeseriesService
	Security   securityService
	Billing    billingService
	Webhooks   webhookParser

	Signer       *signedcookie.Signer
	Clock        clockwork.Clock
	HealthChecks []HealthCheck

	HTTPMetrics    *metrics.HTTPMetrics
	AppMetrics     *metrics.AppMetrics
	MetricsHandler http.Handler
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	deps   Deps

	sessionStore *sessions.CookieStore
	startTime    time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		deps:         deps,
		sessionStore: setupSessionStore(cfg),
		startTime:    deps.Clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router for tests and embedding.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Session keys of the short-lived OAuth state cookie.
const (
	sessionName          = "codecov-oauth"
	sessionKeyOAuthState = "oauth_state"
	oauthStateMaxAge     = 10 * 60
)

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	return store
}
