package vcs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codecov/codecov-api/internal/adapter/metrics"
	"github.com/codecov/codecov-api/internal/domain"
	"github.com/codecov/codecov-api/internal/platform/config"
	"github.com/codecov/codecov-api/internal/platform/retry"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/bitbucket"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/gitlab"
)

var _ domain.VCSProvider = (*Provider)(nil)

type dialect struct {
	endpoint oauth2.Endpoint
	apiURL   string
	scopes   []string
	newAPI   func(t *transport, accessToken string) domain.VCSClient
}

var dialects = map[string]dialect{
	domain.ServiceGitHub: {
		endpoint: github.Endpoint,
		apiURL:   "https://api.github.com",
		scopes:   []string{"user:email", "read:org", "repo:status"},
		newAPI:   newGitHubClient,
	},
	domain.ServiceGitLab: {
		endpoint: gitlab.Endpoint,
		apiURL:   "https://gitlab.com/api/v4",
		scopes:   []string{"api"},
		newAPI:   newGitLabClient,
	},
	domain.ServiceBitbucket: {
		endpoint: bitbucket.Endpoint,
		apiURL:   "https://api.bitbucket.org/2.0",
		newAPI:   newBitbucketClient,
	},
}

// Provider is the OAuth application of one VCS service.
type Provider struct {
	service string
	dialect dialect
	oauth   *oauth2.Config
	apiURL  string
	base    *http.Client
	breaker *gobreaker.CircuitBreaker
	policy  retry.Policy
	metrics *metrics.VCSMetrics
}

type Option func(*Provider)

// WithHTTPClient replaces the client used for token exchange and API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.base = c }
}

// WithEndpoint points the OAuth flow at another authorization server.
func WithEndpoint(e oauth2.Endpoint) Option {
	return func(p *Provider) { p.oauth.Endpoint = e }
}

func WithMetrics(m *metrics.VCSMetrics, bm *metrics.BreakerMetrics) Option {
	return func(p *Provider) {
		p.metrics = m
		p.breaker = newBreaker(p.service, bm)
	}
}

// WithRetryPolicy overrides the backoff used for transient failures.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Provider) { p.policy = policy }
}

// NewProvider builds the provider for service. cfg.APIURL overrides the public
// API root for self-hosted installs. redirectURL is the OAuth callback.
func NewProvider(service string, cfg config.Provider, redirectURL string, opts ...Option) (*Provider, error) {
	d, ok := dialects[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownService, service)
	}

	p := &Provider{
		service: service,
		dialect: d,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     d.endpoint,
			RedirectURL:  redirectURL,
			Scopes:       d.scopes,
		},
		apiURL: strings.TrimSuffix(d.apiURL, "/"),
		base:   &http.Client{Timeout: requestTimeout},
		policy: retry.Policy{
			MaxAttempts:      defaultAttempts,
			InitialBackoff:   200 * time.Millisecond,
			MaxBackoff:       2 * time.Second,
			RateLimitBackoff: 5 * time.Second,
			Clock:            clockwork.NewRealClock(),
		},
	}
	if cfg.APIURL != "" {
		p.apiURL = strings.TrimSuffix(cfg.APIURL, "/")
	}
	if u, err := url.Parse(p.apiURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s api url %q", service, p.apiURL)
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = newBreaker(service, nil)
	}
	return p, nil
}

func (p *Provider) Service() string { return p.service }

func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *Provider) Exchange(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.base)
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		if re, ok := err.(*oauth2.RetrieveError); ok && re.Response != nil {
			msg := re.ErrorDescription
			if msg == "" {
				msg = re.ErrorCode
			}
			return "", &domain.ClientError{Code: re.Response.StatusCode, Message: msg}
		}
		return "", fmt.Errorf("failed to exchange %s code: %w", p.service, err)
	}
	return tok.AccessToken, nil
}

// Client returns an API client acting as the owner of accessToken.
func (p *Provider) Client(accessToken string) domain.VCSClient {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, p.base)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	httpClient.Timeout = requestTimeout

	return p.dialect.newAPI(&transport{
		service: p.service,
		baseURL: p.apiURL,
		client:  httpClient,
		breaker: p.breaker,
		policy:  p.policy,
		metrics: p.metrics,
	}, accessToken)
}

// State reports the provider's circuit breaker state.
func (p *Provider) State() gobreaker.State { return p.breaker.State() }
