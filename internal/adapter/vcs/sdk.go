package vcs

import (
	"context"
	"errors"
	"net/http"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/google/go-github/v72/github"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// sdkError maps a failed SDK call onto the same errors getJSON returns.
func sdkError(resp *http.Response, err error) error {
	var (
		ghErr   *github.ErrorResponse
		ghLimit *github.RateLimitError
		ghAbuse *github.AbuseRateLimitError
		glErr   *gitlab.ErrorResponse
	)
	switch {
	case errors.As(err, &ghAbuse):
		return statusError(resp, messageOr(ghAbuse.Message, resp), ghAbuse.GetRetryAfter())
	case errors.As(err, &ghLimit):
		ce := &domain.ClientError{Code: resp.StatusCode, Message: messageOr(ghLimit.Message, resp)}
		return &rateLimitedError{ClientError: ce, retryAfter: retryAfter(resp)}
	case errors.As(err, &ghErr):
		return statusError(resp, messageOr(ghErr.Message, resp), 0)
	case errors.As(err, &glErr):
		return statusError(resp, errorMessage(glErr.Body, resp.StatusCode), 0)
	}
	return statusError(resp, http.StatusText(resp.StatusCode), 0)
}

func messageOr(message string, resp *http.Response) string {
	if message != "" {
		return message
	}
	return http.StatusText(resp.StatusCode)
}

func githubHTTP(r *github.Response) *http.Response {
	if r == nil {
		return nil
	}
	return r.Response
}

func gitlabHTTP(r *gitlab.Response) *http.Response {
	if r == nil {
		return nil
	}
	return r.Response
}

// unavailableClient stands in when an SDK client cannot be built, and answers
// every call with that error.
type unavailableClient struct {
	err error
}

func (c unavailableClient) GetAuthenticatedUser(context.Context) (*domain.OwnerProfile, error) {
	return nil, c.err
}

func (c unavailableClient) ListOrganizations(context.Context) ([]domain.OwnerProfile, error) {
	return nil, c.err
}

func (c unavailableClient) GetBranch(context.Context, string, string, string) (*domain.VCSBranch, error) {
	return nil, c.err
}

func (c unavailableClient) ListBranches(context.Context, string, string) ([]domain.VCSBranch, error) {
	return nil, c.err
}

func (c unavailableClient) ListRepos(context.Context) ([]domain.VCSRepo, error) {
	return nil, c.err
}
