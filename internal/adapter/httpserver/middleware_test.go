package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/codecov/codecov-api/internal/platform/correlation"
	apperrors "github.com/codecov/codecov-api/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(method, target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestTranslateDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		user       *domain.Owner
		wantStatus int
	}{
		{"owner not found", domain.ErrOwnerNotFound, nil, http.StatusNotFound},
		{"wrapped repo not found", fmt.Errorf("lookup: %w", domain.ErrRepoNotFound), nil, http.StatusNotFound},
		{"unknown service", domain.ErrUnknownService, nil, http.StatusNotFound},
		{"stale session", domain.ErrSessionNotFound, nil, http.StatusUnauthorized},
		{"not part of org anonymous", domain.ErrNotPartOfOrg, nil, http.StatusUnauthorized},
		{"not part of org authenticated", domain.ErrNotPartOfOrg, testUser, http.StatusForbidden},
		{"bad interval", &domain.IntervalError{Value: "2d"}, nil, http.StatusBadRequest},
		{"inverted range", domain.ErrInvalidRange, nil, http.StatusBadRequest},
		{"no subscription", domain.ErrNoSubscription, nil, http.StatusBadRequest},
		{"invalid record", fmt.Errorf("import: %w", domain.ErrInvalidRecord), nil, http.StatusBadRequest},
		{"structured passes through", apperrors.ConflictError("dup"), nil, http.StatusConflict},
		{"unknown is internal", errors.New("boom"), nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestContext(http.MethodGet, "/")
			if tt.user != nil {
				c.Set(contextKeyUser, tt.user)
			}

			got := apperrors.AsStructuredError(translateDomainError(c, tt.err))

			assert.Equal(t, tt.wantStatus, got.HTTPStatus())
		})
	}
}

func TestVCSSafe(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/")
	wrapped := fmt.Errorf("fetch branch: %w", &domain.ClientError{Code: http.StatusTooManyRequests, Message: "slow down"})

	err := VCSSafe(func(echo.Context) error { return wrapped })(c)

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, apperrors.TypeUpstream, structured.Type)
	assert.Equal(t, http.StatusTooManyRequests, structured.HTTPStatus())
	assert.Equal(t, "slow down", structured.Message)
}

func TestVCSSafe_LeavesOtherErrors(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/")

	err := VCSSafe(func(echo.Context) error { return domain.ErrRepoNotFound })(c)
	assert.ErrorIs(t, err, domain.ErrRepoNotFound)

	err = VCSSafe(func(echo.Context) error { return &domain.BillingError{HTTPStatus: 402} })(c)
	var billingErr *domain.BillingError
	assert.ErrorAs(t, err, &billingErr)
}

func TestBillingSafe(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/")

	err := BillingSafe(func(echo.Context) error {
		return &domain.BillingError{HTTPStatus: 0, Message: "no status"}
	})(c)

	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, http.StatusBadGateway, structured.HTTPStatus())
}

func TestErrorHandlingMiddleware_PassesHTTPErrors(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/")
	httpErr := echo.NewHTTPError(http.StatusMethodNotAllowed)

	err := ErrorHandlingMiddleware()(func(echo.Context) error { return httpErr })(c)

	assert.Equal(t, httpErr, err)
}

func TestErrorHandlingMiddleware_WritesStructuredBody(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/")

	err := ErrorHandlingMiddleware()(func(echo.Context) error {
		return apperrors.ValidationError("bad branch").WithField("branch", "x")
	})(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"bad branch","type":"validation","context":{"branch":"x"}}`, rec.Body.String())
}

func TestCorrelationMiddleware(t *testing.T) {
	srv := newTestServer(t, Deps{})

	rec := doRequest(srv, http.MethodGet, "/version", nil, func(r *http.Request) {
		r.Header.Set(correlation.HeaderName, "req-123")
	})
	assert.Equal(t, "req-123", rec.Header().Get(correlation.HeaderName))

	rec = doRequest(srv, http.MethodGet, "/version", nil, func(r *http.Request) {
		r.Header.Set(correlation.HeaderName, "bad id with spaces")
	})
	assert.Len(t, rec.Header().Get(correlation.HeaderName), 16)
}

func TestHostAllowed(t *testing.T) {
	allowed := []string{"api.codecov.io", ".codecov.dev"}

	tests := []struct {
		host string
		want bool
	}{
		{"api.codecov.io", true},
		{"API.codecov.io:443", true},
		{"codecov.dev", true},
		{"stage.codecov.dev", true},
		{"evilcodecov.dev", false},
		{"codecov.io", false},
		{"attacker.test", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, hostAllowed(tt.host, allowed))
		})
	}
	assert.True(t, hostAllowed("anything", []string{"*"}))
}

func TestAllowedHostsMiddleware(t *testing.T) {
	mw := allowedHostsMiddleware([]string{"api.codecov.test"})
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	c, _ := newTestContext(http.MethodGet, "/")
	c.Request().Host = "evil.test"
	err := mw(ok)(c)
	var structured *apperrors.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, http.StatusBadRequest, structured.HTTPStatus())

	c, rec := newTestContext(http.MethodGet, "/")
	c.Request().Host = "api.codecov.test"
	require.NoError(t, mw(ok)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, Deps{})

	rec := doRequest(srv, http.MethodGet, "/version", nil)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
