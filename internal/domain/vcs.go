package domain

import (
	"context"
	"fmt"
)

// ClientError is a 4xx/5xx answer from a VCS provider, carrying the status to surface.
type ClientError struct {
	Code    int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("vcs client error (%d): %s", e.Code, e.Message)
}

type VCSBranch struct {
	Name string
	Head string
}

// VCSRepo is a repository the authenticated owner can see, together with its owner.
type VCSRepo struct {
	Owner         OwnerProfile
	ServiceID     string
	Name          string
	Private       bool
	DefaultBranch string
	Language      string
}

// VCSClient talks to one provider on behalf of one authenticated owner.
type VCSClient interface {
	GetAuthenticatedUser(ctx context.Context) (*OwnerProfile, error)
	ListOrganizations(ctx context.Context) ([]OwnerProfile, error)
	GetBranch(ctx context.Context, owner, repo, branch string) (*VCSBranch, error)
	ListBranches(ctx context.Context, owner, repo string) ([]VCSBranch, error)
	// ListRepos returns the first page of repositories the owner is a member of.
	ListRepos(ctx context.Context) ([]VCSRepo, error)
}

// VCSProvider is the OAuth application for one service.
type VCSProvider interface {
	Service() string
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for an access token.
	Exchange(ctx context.Context, code string) (string, error)
	Client(accessToken string) VCSClient
}
