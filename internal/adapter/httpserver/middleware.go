package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/codecov/codecov-api/internal/platform/correlation"
	apperrors "github.com/codecov/codecov-api/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

// correlationMiddleware keeps a sane inbound request id, or mints one, and echoes it back.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromHeader(c.Request().Header.Get(correlation.HeaderName))
		c.Response().Header().Set(correlation.HeaderName, id)
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			return HandleError(c, err)
		}
	}
}

// HandleError writes err as a structured JSON error response.
func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structuredErr := apperrors.AsStructuredError(translateDomainError(c, err))
	logError(c, structuredErr)
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

// translateDomainError maps domain sentinels onto API errors. Anything it does not
// know is returned unchanged and ends up as an internal error.
func translateDomainError(c echo.Context, err error) error {
	var structured *apperrors.Error
	if errors.As(err, &structured) {
		return structured
	}

	var intervalErr *domain.IntervalError
	switch {
	case errors.Is(err, domain.ErrOwnerNotFound),
		errors.Is(err, domain.ErrRepoNotFound),
		errors.Is(err, domain.ErrBranchNotFound),
		errors.Is(err, domain.ErrDatasetNotFound),
		errors.Is(err, domain.ErrEnvVarsExposedNotFound),
		errors.Is(err, domain.ErrUnknownService):
		return apperrors.NotFoundError(err.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		return apperrors.UnauthorizedError("invalid credentials")
	case errors.Is(err, domain.ErrNotPartOfOrg):
		if currentUser(c) == nil {
			return apperrors.UnauthorizedError("authentication required")
		}
		return apperrors.ForbiddenError("you are not part of this organization")
	case errors.As(err, &intervalErr),
		errors.Is(err, domain.ErrInvalidRange),
		errors.Is(err, domain.ErrNoSubscription),
		errors.Is(err, domain.ErrInvalidRecord):
		return apperrors.ValidationError(err.Error())
	}
	return err
}

// VCSSafe relays a provider ClientError with the provider's status and message.
func VCSSafe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		var clientErr *domain.ClientError
		if errors.As(err, &clientErr) {
			return apperrors.UpstreamError(clientErr.Code, clientErr.Message, err)
		}
		return err
	}
}

// BillingSafe relays a payment provider BillingError with its status and message.
func BillingSafe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		var billingErr *domain.BillingError
		if errors.As(err, &billingErr) {
			return apperrors.UpstreamError(billingErr.HTTPStatus, billingErr.Message, err)
		}
		return err
	}
}

// allowedHostsMiddleware rejects requests whose Host is not listed. Entries starting
// with a dot match the domain and all its subdomains; "*" or an empty list allows all.
func allowedHostsMiddleware(allowed []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if len(allowed) == 0 {
			return next
		}
		return func(c echo.Context) error {
			if !hostAllowed(c.Request().Host, allowed) {
				return apperrors.ValidationError("invalid host header").WithField("host", c.Request().Host)
			}
			return next(c)
		}
	}
}

func hostAllowed(host string, allowed []string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	for _, pattern := range allowed {
		pattern = strings.ToLower(pattern)
		switch {
		case pattern == "*":
			return true
		case strings.HasPrefix(pattern, "."):
			if host == pattern[1:] || strings.HasSuffix(host, pattern) {
				return true
			}
		case host == pattern:
			return true
		}
	}
	return false
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	if user := currentUser(c); user != nil {
		attrs = append(attrs, "owner_id", user.ID)
	}

	ctx := c.Request().Context()
	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeUnauthorized, apperrors.TypeForbidden:
		slog.InfoContext(ctx, "Access denied", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeRateLimited:
		slog.WarnContext(ctx, "Rate limited", attrs...)
	case apperrors.TypeUpstream:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.WarnContext(ctx, "Upstream error", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}
