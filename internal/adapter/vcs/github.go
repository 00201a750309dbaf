package vcs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/codecov/codecov-api/internal/platform/version"
	"github.com/google/go-github/v72/github"
)

const githubPageSize = 100

type githubClient struct {
	t   *transport
	api *github.Client
}

func newGitHubClient(t *transport, _ string) domain.VCSClient {
	base, err := url.Parse(t.baseURL + "/")
	if err != nil {
		return unavailableClient{fmt.Errorf("invalid github api url: %w", err)}
	}
	api := github.NewClient(t.client)
	api.BaseURL = base
	api.UserAgent = version.UserAgent()
	return &githubClient{t: t, api: api}
}

func (c *githubClient) GetAuthenticatedUser(ctx context.Context) (*domain.OwnerProfile, error) {
	var u *github.User
	err := c.t.call(ctx, func(ctx context.Context) (*http.Response, error) {
		var resp *github.Response
		var err error
		u, resp, err = c.api.Users.Get(ctx, "")
		return githubHTTP(resp), err
	})
	if err != nil {
		return nil, err
	}
	return &domain.OwnerProfile{
		Service:   domain.ServiceGitHub,
		ServiceID: strconv.FormatInt(u.GetID(), 10),
		Username:  u.GetLogin(),
		Name:      u.GetName(),
		Email:     u.GetEmail(),
	}, nil
}

func (c *githubClient) ListOrganizations(ctx context.Context) ([]domain.OwnerProfile, error) {
	var orgs []*github.Organization
	err := c.t.call(ctx, func(ctx context.Context) (*http.Response, error) {
		var resp *github.Response
		var err error
		orgs, resp, err = c.api.Organizations.List(ctx, "", &github.ListOptions{PerPage: githubPageSize})
		return githubHTTP(resp), err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.OwnerProfile, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, domain.OwnerProfile{
			Service:   domain.ServiceGitHub,
			ServiceID: strconv.FormatInt(o.GetID(), 10),
			Username:  o.GetLogin(),
			Name:      o.GetName(),
		})
	}
	return out, nil
}

func (c *githubClient) GetBranch(ctx context.Context, owner, repo, branch string) (*domain.VCSBranch, error) {
	var b *github.Branch
	err := c.t.call(ctx, func(ctx context.Context) (*http.Response, error) {
		var resp *github.Response
		var err error
		b, resp, err = c.api.Repositories.GetBranch(ctx, owner, repo, branch, 1)
		return githubHTTP(resp), err
	})
	if err != nil {
		return nil, err
	}
	return &domain.VCSBranch{Name: b.GetName(), Head: b.GetCommit().GetSHA()}, nil
}

func (c *githubClient) ListBranches(ctx context.Context, owner, repo string) ([]domain.VCSBranch, error) {
	var branches []*github.Branch
	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: githubPageSize}}
	err := c.t.call(ctx, func(ctx context.Context) (*http.Response, error) {
		var resp *github.Response
		var err error
		branches, resp, err = c.api.Repositories.ListBranches(ctx, owner, repo, opts)
		return githubHTTP(resp), err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.VCSBranch, 0, len(branches))
	for _, b := range branches {
		out = append(out, domain.VCSBranch{Name: b.GetName(), Head: b.GetCommit().GetSHA()})
	}
	return out, nil
}

func (c *githubClient) ListRepos(ctx context.Context) ([]domain.VCSRepo, error) {
	var repos []*github.Repository
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Affiliation: "owner,collaborator,organization_member",
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: githubPageSize},
	}
	err := c.t.call(ctx, func(ctx context.Context) (*http.Response, error) {
		var resp *github.Response
		var err error
		repos, resp, err = c.api.Repositories.ListByAuthenticatedUser(ctx, opts)
		return githubHTTP(resp), err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.VCSRepo, 0, len(repos))
	for _, r := range repos {
		owner := r.GetOwner()
		out = append(out, domain.VCSRepo{
			Owner: domain.OwnerProfile{
				Service:   domain.ServiceGitHub,
				ServiceID: strconv.FormatInt(owner.GetID(), 10),
				Username:  owner.GetLogin(),
			},
			ServiceID:     strconv.FormatInt(r.GetID(), 10),
			Name:          r.GetName(),
			Private:       r.GetPrivate(),
			DefaultBranch: r.GetDefaultBranch(),
			Language:      strings.ToLower(r.GetLanguage()),
		})
	}
	return out, nil
}
