package httpserver

import (
	"math"
	"strconv"
	"time"

	apperrors "github.com/codecov/codecov-api/internal/platform/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// rateLimit is a token bucket per caller. Every middleware built from it keeps
// its own buckets.
type rateLimit struct {
	name      string
	perSecond float64
	burst     int
}

var (
	loginLimit       = rateLimit{name: "login", perSecond: 1, burst: 10}
	webhookLimit     = rateLimit{name: "webhooks", perSecond: 20, burst: 50}
	measurementLimit = rateLimit{name: "measurements", perSecond: 10, burst: 100}
)

// limiterKey buckets signed-in owners by id, so uploads from shared CI egress
// IPs do not starve each other. Anonymous callers are bucketed by IP.
func limiterKey(c echo.Context) (string, error) {
	if user := currentUser(c); user != nil {
		return "owner:" + strconv.FormatInt(user.ID, 10), nil
	}
	return "ip:" + c.RealIP(), nil
}

// retryAfter is the whole number of seconds until one token is back.
func (l rateLimit) retryAfter() int {
	if l.perSecond <= 0 {
		return int(rateLimiterExpiry.Seconds())
	}
	return int(math.Max(1, math.Ceil(1/l.perSecond)))
}

func (l rateLimit) middleware() echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(l.perSecond),
			Burst:     l.burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: limiterKey,
		Store:               store,
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			c.Response().Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
			return HandleError(c, apperrors.RateLimitedError("rate limit exceeded").WithField("limiter", l.name))
		},
	})
}
