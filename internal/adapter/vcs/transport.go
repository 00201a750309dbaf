package vcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/codecov/codecov-api/internal/adapter/metrics"
	"github.com/codecov/codecov-api/internal/domain"
	"github.com/codecov/codecov-api/internal/platform/retry"
	"github.com/codecov/codecov-api/internal/platform/version"
	"github.com/sony/gobreaker"
)

const (
	requestTimeout  = 10 * time.Second
	maxErrorBody    = 4 << 10
	defaultAttempts = 3
)

// rateLimitedError carries the provider's Retry-After hint.
type rateLimitedError struct {
	*domain.ClientError
	retryAfter time.Duration
}

func (e *rateLimitedError) RetryAfter() time.Duration { return e.retryAfter }
func (e *rateLimitedError) Unwrap() error             { return e.ClientError }

// breakerOpenError is returned without calling the provider.
type breakerOpenError struct {
	*domain.ClientError
}

func (e *breakerOpenError) Unwrap() error { return e.ClientError }

// transport runs authenticated calls against one provider API, through the
// provider's breaker and retry policy.
type transport struct {
	service string
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	policy  retry.Policy
	metrics *metrics.VCSMetrics
}

func (t *transport) execute(ctx context.Context, once func(ctx context.Context) error) error {
	return retry.DoVoid(ctx, t.policy, classify, func(ctx context.Context) error {
		_, err := t.breaker.Execute(func() (interface{}, error) {
			return nil, once(ctx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &breakerOpenError{&domain.ClientError{Code: http.StatusServiceUnavailable, Message: t.service + " is temporarily unavailable"}}
		}
		return err
	})
}

// getJSON decodes the answer to GET baseURL+path into out.
func (t *transport) getJSON(ctx context.Context, path string, out any) error {
	return t.execute(ctx, func(ctx context.Context) error {
		return t.doOnce(ctx, path, out)
	})
}

// call runs one SDK request. fn returns the raw response, if any, next to the
// SDK's error so that status codes are judged the same way as in getJSON.
func (t *transport) call(ctx context.Context, fn func(ctx context.Context) (*http.Response, error)) error {
	return t.execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		start := time.Now()
		resp, err := fn(ctx)
		t.observe(resp, time.Since(start))

		// Some SDK calls decode without checking the status, so it goes first.
		if resp != nil && resp.StatusCode >= 400 {
			return sdkError(resp, err)
		}
		if err != nil {
			return fmt.Errorf("%s request failed: %w", t.service, err)
		}
		return nil
	})
}

func (t *transport) doOnce(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", t.service, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := t.client.Do(req)
	t.observe(resp, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s request failed: %w", t.service, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return clientError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", t.service, err)
	}
	return nil
}

func (t *transport) observe(resp *http.Response, d time.Duration) {
	if t.metrics == nil {
		return
	}
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode/100) + "xx"
	}
	t.metrics.Requests.WithLabelValues(t.service, status).Inc()
	t.metrics.RequestDuration.WithLabelValues(t.service).Observe(d.Seconds())
}

func clientError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return statusError(resp, errorMessage(body, resp.StatusCode), 0)
}

// statusError turns a failed response into a *domain.ClientError, wrapped in a
// rateLimitedError when the provider asks to back off.
func statusError(resp *http.Response, message string, wait time.Duration) error {
	ce := &domain.ClientError{Code: resp.StatusCode, Message: message}
	if wait > 0 || resp.StatusCode == http.StatusTooManyRequests || isRateLimited(resp) {
		if wait == 0 {
			wait = retryAfter(resp)
		}
		return &rateLimitedError{ClientError: ce, retryAfter: wait}
	}
	return ce
}

// isRateLimited covers GitHub, which answers 403 once the quota is exhausted.
func isRateLimited(resp *http.Response) bool {
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func retryAfter(resp *http.Response) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// errorMessage extracts the provider's message from the common error shapes:
// {"message": "..."}, {"error": "..."} and {"error": {"message": "..."}}.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		var s string
		if json.Unmarshal(payload.Error, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return http.StatusText(status)
}

// classify retries server errors, rate limits and transport failures. Other
// client errors and cancellations are final.
func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	var limited *rateLimitedError
	if errors.As(err, &limited) {
		return retry.After
	}
	var open *breakerOpenError
	if errors.As(err, &open) {
		return retry.Stop
	}
	var ce *domain.ClientError
	if errors.As(err, &ce) {
		if ce.Code >= 500 {
			return retry.Retry
		}
		return retry.Stop
	}
	return retry.Retry
}

// breakerSuccess keeps 4xx answers from tripping the breaker; they are the
// caller's problem, not the provider's.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var limited *rateLimitedError
	if errors.As(err, &limited) {
		return false
	}
	var ce *domain.ClientError
	return errors.As(err, &ce) && ce.Code < 500
}

func newBreaker(service string, bm *metrics.BreakerMetrics) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: bm.OnStateChange,
		IsSuccessful:  breakerSuccess,
	})
}
