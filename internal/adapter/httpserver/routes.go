package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/codecov/codecov-api/internal/platform/correlation"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	if s.deps.HTTPMetrics != nil {
		s.echo.Use(s.deps.HTTPMetrics.Middleware())
	}
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(allowedHostsMiddleware(s.config.AllowedHosts))
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            63072000, // 2 years; only sent over HTTPS
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))
	if len(s.config.CORSAllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     s.config.CORSAllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, correlation.HeaderName},
			AllowCredentials: true,
		}))
	}

	s.registerHealthRoutes()
	s.registerAuthRoutes(loginLimit.middleware())
	s.registerAPIRoutes()
	s.registerWebhookRoutes(webhookLimit.middleware())
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health/live" || c.Path() == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api/v2", s.authenticate)

	api.GET("/sessions", s.handleListSessions, requireAuth)
	api.POST("/sessions", s.handleCreateAPISession, requireAuth)

	owner := api.Group("/:service/:owner")
	owner.GET("/account-details", s.handleAccountDetails, requireAuth, BillingSafe)
	owner.DELETE("/account-details", s.handleCancelSubscription, requireAuth, BillingSafe)
	owner.GET("/env-vars-exposed", s.handleOwnerEnvVarsExposed, requireAuth)

	repo := owner.Group("/repos/:repo")
	repo.GET("/branches", s.handleListBranches, VCSSafe)
	repo.GET("/branches/*", s.handleGetBranch, VCSSafe)
	repo.GET("/coverage", s.handleRepoCoverage)
	repo.POST("/measurements", s.handleRecordMeasurement, requireAuth, measurementLimit.middleware())
	repo.GET("/env-vars-exposed", s.handleRepoEnvVarsExposed, requireAuth)
}

func (s *Server) registerWebhookRoutes(rateLimiter echo.MiddlewareFunc) {
	if s.deps.Billing == nil || s.deps.Webhooks == nil {
		return
	}
	s.echo.POST("/webhooks/stripe", s.handleStripeWebhook, rateLimiter)
}
