package httpserver

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/codecov/codecov-api/internal/domain"
	apperrors "github.com/codecov/codecov-api/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

// Stripe caps event payloads well below this.
const maxWebhookBody = 512 * 1024

func (s *Server) accountOwner(c echo.Context) (*domain.Owner, error) {
	if s.deps.Billing == nil {
		return nil, apperrors.NotFoundError("billing is not enabled")
	}
	return s.deps.Repos.RequireMember(c.Request().Context(), currentUser(c), c.Param("service"), c.Param("owner"))
}

func (s *Server) handleAccountDetails(c echo.Context) error {
	owner, err := s.accountOwner(c)
	if err != nil {
		return err
	}

	details, err := s.deps.Billing.AccountDetails(c.Request().Context(), owner)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, details)
}

func (s *Server) handleCancelSubscription(c echo.Context) error {
	owner, err := s.accountOwner(c)
	if err != nil {
		return err
	}

	details, err := s.deps.Billing.CancelSubscription(c.Request().Context(), owner)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, details)
}

func (s *Server) handleStripeWebhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return apperrors.ValidationError("failed to read webhook body")
	}

	event, err := s.deps.Webhooks.Parse(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		s.observeWebhook("unknown", "rejected")
		slog.WarnContext(c.Request().Context(), "Rejected billing webhook", "error", err)
		return apperrors.ValidationError("invalid webhook")
	}

	if err := s.deps.Billing.HandleEvent(c.Request().Context(), event); err != nil {
		s.observeWebhook(event.Type, "error")
		return apperrors.InternalError("failed to handle billing event", err).WithField("event_type", event.Type)
	}

	s.observeWebhook(event.Type, "ok")
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) observeWebhook(eventType, result string) {
	if s.deps.AppMetrics != nil {
		s.deps.AppMetrics.BillingWebhooks.WithLabelValues(eventType, result).Inc()
	}
}
