package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetrics_RecordsRouteAndStatus(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v2/:service/:owner", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/boom", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "short and stout")
	})

	for _, path := range []string{"/api/v2/github/codecov", "/api/v2/gitlab/acme", "/boom"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/v2/:service/:owner", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/boom", "418")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlightGauge))
}

func TestHTTPMetrics_SkipsHealthAndMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, 0, testutil.CollectAndCount(m.RequestsTotal))
}

func TestStatusOf_StructuredError(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	assert.Equal(t, http.StatusPaymentRequired, statusOf(c, statusErr(http.StatusPaymentRequired)))
	assert.Equal(t, http.StatusInternalServerError, statusOf(c, assert.AnError))
}

type statusErr int

func (s statusErr) Error() string   { return "status" }
func (s statusErr) HTTPStatus() int { return int(s) }

func TestConstructorsRegister(t *testing.T) {
	reg := NewRegistry()

	require.NotPanics(t, func() {
		NewCacheMetrics(reg)
		NewDBMetrics(reg)
		NewRedisMetrics(reg)
		NewVCSMetrics(reg)
		b := NewBreakerMetrics(reg)
		b.OnStateChange("redis", gobreaker.StateClosed, gobreaker.StateOpen)
		assert.Equal(t, 2.0, testutil.ToFloat64(b.State.WithLabelValues("redis")))
		assert.Equal(t, 1.0, testutil.ToFloat64(b.Transitions.WithLabelValues("redis", "open")))
		app := NewAppMetrics(reg)
		app.ObservePruned(4)
		assert.Equal(t, 4.0, testutil.ToFloat64(app.SessionsPruned))
	})

	// registering twice on one registry is a programming error
	assert.Panics(t, func() { NewDBMetrics(reg) })
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := NewRegistry()
	NewAppMetrics(reg).Logins.WithLabelValues("github", "success").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `codecov_logins_total{result="success",service="github"} 1`)
}

func TestBreakerMetrics_StateGauge(t *testing.T) {
	b := NewBreakerMetrics(NewRegistry())

	b.OnStateChange("github", gobreaker.StateClosed, gobreaker.StateOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(b.State.WithLabelValues("github")))

	b.OnStateChange("github", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(b.State.WithLabelValues("github")))

	b.OnStateChange("github", gobreaker.StateHalfOpen, gobreaker.StateClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.State.WithLabelValues("github")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.Transitions.WithLabelValues("github", "half-open")))
}

func TestBreakerMetrics_NilReceiverOnlyLogs(t *testing.T) {
	var b *BreakerMetrics
	assert.NotPanics(t, func() {
		b.OnStateChange("redis", gobreaker.StateClosed, gobreaker.StateOpen)
	})
}

func TestRegistry_ExposesBuildInfo(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(NewRegistry()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "codecov_build_info{")
	assert.Contains(t, rec.Body.String(), `version="dev"`)
	assert.Contains(t, rec.Body.String(), "codecov_process_")
}
