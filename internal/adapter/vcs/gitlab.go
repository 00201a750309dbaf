package vcs

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/codecov/codecov-api/internal/platform/version"
	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"
)

const gitlabPageSize = 100

type gitlabClient struct {
	t   *transport
	api *gitlab.Client
}

// newGitLabClient leaves retries and rate limiting to the transport, so the SDK
// sends exactly one request per attempt.
func newGitLabClient(t *transport, accessToken string) domain.VCSClient {
	api, err := gitlab.NewOAuthClient(accessToken,
		gitlab.WithBaseURL(t.baseURL),
		gitlab.WithHTTPClient(t.client),
		gitlab.WithoutRetries(),
		gitlab.WithCustomLimiter(rate.NewLimiter(rate.Inf, 0)),
	)
	if err != nil {
		return unavailableClient{fmt.Errorf("failed to create gitlab client: %w", err)}
	}
	api.UserAgent = version.UserAgent()
	return &gitlabClient{t: t, api: api}
}

// projectID is the "namespace/project" path GitLab accepts in place of a numeric id.
func projectID(owner, repo string) string {
	return owner + "/" + repo
}

func (c *gitlabClient) GetAuthenticatedUser(ctx context.Context) (*domain.OwnerProfile, error) {
	var u *gitlab.User
	err := c.t.call(ctx, func(ctx context.Context) (*http.Response, error) {
		var resp *gitlab.Response
		var err error
		u, resp, err = c.api.Users.CurrentUser(gitlab.WithContext(ctx))
		return gitlabHTTP(resp), err
	})
	if err != nil {
		return nil, err
	}
	return &domain.OwnerProfile{
		Service:   domain.ServiceGitLab,
		ServiceID: strconv.Itoa(u.ID),
		Username:  u.Username,
		Name:      u.Name,
		Email:     u.Email,
	}, nil
}

func (c *gitlabClient) ListOrganizations(ctx context.Context) ([]domain.OwnerProfile, error) {
	var groups []*gitlab.Group
	opts := &gitlab.ListGroupsOptions{
		ListOptions:    gitlab.ListOptions{PerPage: gitlabPageSize},
		MinAccessLevel: gitlab.Ptr(gitlab.GuestPermissions),
	}
	err := c.t.call(ctx, func(ctx context.Context) (*http.Response, error) {
		var resp *gitlab.Response
		var err error
		groups, resp, err = c.api.Groups.ListGroups(opts, gitlab.WithContext(ctx))
		return gitlabHTTP(resp), err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.OwnerProfile, 0, len(groups))
	for _, g := range groups {
		out = append(out, domain.OwnerProfile{Service: domain.ServiceGitLab, ServiceID: strconv.Itoa(g.ID), Username: g.FullPath, Name: g.Name})
	}
	return out, nil
}

func (c *gitlabClient) GetBranch(ctx context.Context, owner, repo, branch string) (*domain.VCSBranch, error) {
	var b *gitlab.Branch
	err := c.t.call(ctx, func(ctx context.Context) (*http.Response, error) {
		var resp *gitlab.Response
		var err error
		b, resp, err = c.api.Branches.GetBranch(projectID(owner, repo), branch, gitlab.WithContext(ctx))
		return gitlabHTTP(resp), err
	})
	if err != nil {
		return nil, err
	}
	return gitlabBranch(b), nil
}

func (c *gitlabClient) ListBranches(ctx context.Context, owner, repo string) ([]domain.VCSBranch, error) {
	var branches []*gitlab.Branch
	opts := &gitlab.ListBranchesOptions{ListOptions: gitlab.ListOptions{PerPage: gitlabPageSize}}
	err := c.t.call(ctx, func(ctx context.Context) (*http.Response, error) {
		var resp *gitlab.Response
		var err error
		branches, resp, err = c.api.Branches.ListBranches(projectID(owner, repo), opts, gitlab.WithContext(ctx))
		return gitlabHTTP(resp), err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.VCSBranch, 0, len(branches))
	for _, b := range branches {
		out = append(out, *gitlabBranch(b))
	}
	return out, nil
}

func gitlabBranch(b *gitlab.Branch) *domain.VCSBranch {
	out := &domain.VCSBranch{Name: b.Name}
	if b.Commit != nil {
		out.Head = b.Commit.ID
	}
	return out
}

func (c *gitlabClient) ListRepos(ctx context.Context) ([]domain.VCSRepo, error) {
	var projects []*gitlab.Project
	opts := &gitlab.ListProjectsOptions{
		ListOptions: gitlab.ListOptions{PerPage: gitlabPageSize},
		Membership:  gitlab.Ptr(true),
	}
	err := c.t.call(ctx, func(ctx context.Context) (*http.Response, error) {
		var resp *gitlab.Response
		var err error
		projects, resp, err = c.api.Projects.ListProjects(opts, gitlab.WithContext(ctx))
		return gitlabHTTP(resp), err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.VCSRepo, 0, len(projects))
	for _, p := range projects {
		if p.Namespace == nil {
			continue
		}
		out = append(out, domain.VCSRepo{
			Owner:         projectOwner(p),
			ServiceID:     strconv.Itoa(p.ID),
			Name:          p.Path,
			Private:       p.Visibility != gitlab.PublicVisibility,
			DefaultBranch: p.DefaultBranch,
		})
	}
	return out, nil
}

// projectOwner is the group owning p, or the user for a personal namespace.
// User namespaces have their own ids, so the user's id is used there instead.
func projectOwner(p *gitlab.Project) domain.OwnerProfile {
	if p.Namespace.Kind == "user" && p.Owner != nil {
		return domain.OwnerProfile{Service: domain.ServiceGitLab, ServiceID: strconv.Itoa(p.Owner.ID), Username: p.Owner.Username, Name: p.Owner.Name}
	}
	return domain.OwnerProfile{Service: domain.ServiceGitLab, ServiceID: strconv.Itoa(p.Namespace.ID), Username: p.Namespace.FullPath, Name: p.Namespace.Name}
}
