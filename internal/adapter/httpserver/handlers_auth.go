package httpserver

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/codecov/codecov-api/internal/app"
	"github.com/codecov/codecov-api/internal/domain"
	"github.com/codecov/codecov-api/internal/platform/correlation"
	apperrors "github.com/codecov/codecov-api/internal/platform/errors"
	"github.com/codecov/codecov-api/internal/platform/signedcookie"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	contextKeyUser  = "currentUser"
	contextKeyToken = "sessionToken"
)

var services = []string{domain.ServiceGitHub, domain.ServiceGitLab, domain.ServiceBitbucket}

func cookieName(service string) string { return service + "-token" }

func (s *Server) registerAuthRoutes(rateLimiter echo.MiddlewareFunc) {
	s.echo.GET("/login/:service", s.handleLogin, rateLimiter, VCSSafe)
	s.echo.POST("/logout", s.handleLogout, s.authenticate, requireAuth)
}

// currentUser returns the authenticated owner, or nil for anonymous requests.
func currentUser(c echo.Context) *domain.Owner {
	user, _ := c.Get(contextKeyUser).(*domain.Owner)
	return user
}

// authenticate resolves the caller from an Authorization header or a signed
// <service>-token cookie. Requests without credentials continue anonymously.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, found, err := s.sessionToken(c)
		if err != nil {
			if errors.Is(err, errMalformedCredentials) || signedcookie.IsAuthFailure(err) {
				return apperrors.UnauthorizedError("invalid credentials")
			}
			return apperrors.InternalError("failed to verify session cookie", err)
		}
		if !found {
			return next(c)
		}

		user, err := s.deps.Auth.Authenticate(c.Request().Context(), token)
		if err != nil {
			return err
		}

		c.Set(contextKeyUser, user)
		c.Set(contextKeyToken, token)
		c.SetRequest(c.Request().WithContext(correlation.WithOwner(c.Request().Context(), user.ID)))
		return next(c)
	}
}

func requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if currentUser(c) == nil {
			return apperrors.UnauthorizedError("authentication required")
		}
		return next(c)
	}
}

var errMalformedCredentials = errors.New("malformed credentials")

func (s *Server) sessionToken(c echo.Context) (uuid.UUID, bool, error) {
	if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if !ok || (!strings.EqualFold(scheme, "bearer") && !strings.EqualFold(scheme, "token")) {
			return uuid.Nil, false, errMalformedCredentials
		}
		return parseToken(strings.TrimSpace(value))
	}

	for _, service := range s.cookieServices(c) {
		cookie, err := c.Cookie(cookieName(service))
		if err != nil || cookie.Value == "" {
			continue
		}
		value, err := s.deps.Signer.Verify(cookieName(service), cookie.Value)
		if err != nil {
			return uuid.Nil, false, err
		}
		return parseToken(value)
	}
	return uuid.Nil, false, nil
}

func parseToken(value string) (uuid.UUID, bool, error) {
	token, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%w: %w", errMalformedCredentials, err)
	}
	return token, true, nil
}

// cookieServices prefers the cookie of the service named in the path.
func (s *Server) cookieServices(c echo.Context) []string {
	if service := c.Param("service"); domain.ValidService(service) {
		return []string{service}
	}
	return services
}

func (s *Server) handleLogin(c echo.Context) error {
	service := c.Param("service")
	if !domain.ValidService(service) {
		return domain.ErrUnknownService
	}

	if oauthErr := c.QueryParam("error"); oauthErr != "" {
		s.observeLogin(service, "denied")
		return apperrors.ValidationError("authorization was denied").WithField("reason", oauthErr)
	}
	if code := c.QueryParam("code"); code != "" {
		return s.handleOAuthCallback(c, service, code)
	}

	state, err := newState()
	if err != nil {
		return apperrors.InternalError("failed to create oauth state", err)
	}
	authURL, err := s.deps.Auth.LoginURL(service, state)
	if err != nil {
		return err
	}

	session, _ := s.sessionStore.Get(c.Request(), sessionName)
	session.Values[sessionKeyOAuthState] = state
	if err := session.Save(c.Request(), c.Response()); err != nil {
		return apperrors.InternalError("failed to save oauth state", err)
	}

	if err := c.Redirect(http.StatusFound, authURL); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

func (s *Server) handleOAuthCallback(c echo.Context, service, code string) error {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		s.observeLogin(service, "invalid_state")
		return apperrors.ValidationError("missing oauth state")
	}
	expected, _ := session.Values[sessionKeyOAuthState].(string)
	got := c.QueryParam("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		s.observeLogin(service, "invalid_state")
		return apperrors.ValidationError("invalid oauth state")
	}

	delete(session.Values, sessionKeyOAuthState)
	if err := session.Save(c.Request(), c.Response()); err != nil {
		slog.WarnContext(c.Request().Context(), "Failed to clear oauth state", "error", err)
	}

	owner, sess, err := s.deps.Auth.CompleteLogin(c.Request().Context(), app.LoginRequest{
		Service:   service,
		Code:      code,
		UserAgent: c.Request().UserAgent(),
		IP:        c.RealIP(),
	})
	if err != nil {
		s.observeLogin(service, "error")
		var clientErr *domain.ClientError
		if errors.As(err, &clientErr) {
			return err
		}
		return apperrors.ExternalError("login failed", err)
	}
	s.observeLogin(service, "success")

	c.SetCookie(s.tokenCookie(service, s.deps.Signer.Sign(cookieName(service), sess.Token.String()), int(s.config.CookieMaxAge.Seconds())))
	slog.InfoContext(c.Request().Context(), "Login cookie issued", "service", service, "owner_id", owner.ID)

	redirect := strings.TrimSuffix(s.config.FrontendURL, "/") + "/" + service
	if err := c.Redirect(http.StatusFound, redirect); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

func (s *Server) handleLogout(c echo.Context) error {
	token, _ := c.Get(contextKeyToken).(uuid.UUID)
	if err := s.deps.Auth.Logout(c.Request().Context(), token); err != nil {
		return apperrors.InternalError("failed to delete session", err)
	}

	for _, service := range services {
		if _, err := c.Cookie(cookieName(service)); err == nil {
			c.SetCookie(s.tokenCookie(service, "", -1))
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) tokenCookie(service, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     cookieName(service),
		Value:    value,
		Domain:   s.config.CookieDomain,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Server) observeLogin(service, result string) {
	if s.deps.AppMetrics != nil {
		s.deps.AppMetrics.Logins.WithLabelValues(service, result).Inc()
	}
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
