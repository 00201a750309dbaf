package vcs

import (
	"context"
	"net/url"
	"strings"

	"github.com/codecov/codecov-api/internal/domain"
)

// bitbucketClient calls the 2.0 REST API directly through the transport.
type bitbucketClient struct {
	t *transport
}

func newBitbucketClient(t *transport, _ string) domain.VCSClient {
	return &bitbucketClient{t}
}

type bitbucketBranch struct {
	Name   string `json:"name"`
	Target struct {
		Hash string `json:"hash"`
	} `json:"target"`
}

// bitbucketID strips the braces Bitbucket puts around uuids.
func bitbucketID(uuid string) string {
	return strings.Trim(uuid, "{}")
}

func (c *bitbucketClient) GetAuthenticatedUser(ctx context.Context) (*domain.OwnerProfile, error) {
	var u struct {
		UUID        string `json:"uuid"`
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
	}
	if err := c.t.getJSON(ctx, "/user", &u); err != nil {
		return nil, err
	}
	return &domain.OwnerProfile{
		Service:   domain.ServiceBitbucket,
		ServiceID: bitbucketID(u.UUID),
		Username:  u.Username,
		Name:      u.DisplayName,
	}, nil
}

func (c *bitbucketClient) ListOrganizations(ctx context.Context) ([]domain.OwnerProfile, error) {
	var page struct {
		Values []struct {
			UUID string `json:"uuid"`
			Slug string `json:"slug"`
			Name string `json:"name"`
		} `json:"values"`
	}
	if err := c.t.getJSON(ctx, "/workspaces?pagelen=100", &page); err != nil {
		return nil, err
	}
	out := make([]domain.OwnerProfile, 0, len(page.Values))
	for _, w := range page.Values {
		out = append(out, domain.OwnerProfile{Service: domain.ServiceBitbucket, ServiceID: bitbucketID(w.UUID), Username: w.Slug, Name: w.Name})
	}
	return out, nil
}

func (c *bitbucketClient) GetBranch(ctx context.Context, owner, repo, branch string) (*domain.VCSBranch, error) {
	var b bitbucketBranch
	path := "/repositories/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/refs/branches/" + url.PathEscape(branch)
	if err := c.t.getJSON(ctx, path, &b); err != nil {
		return nil, err
	}
	return &domain.VCSBranch{Name: b.Name, Head: b.Target.Hash}, nil
}

func (c *bitbucketClient) ListBranches(ctx context.Context, owner, repo string) ([]domain.VCSBranch, error) {
	var page struct {
		Values []bitbucketBranch `json:"values"`
	}
	path := "/repositories/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/refs/branches?pagelen=100"
	if err := c.t.getJSON(ctx, path, &page); err != nil {
		return nil, err
	}
	out := make([]domain.VCSBranch, 0, len(page.Values))
	for _, b := range page.Values {
		out = append(out, domain.VCSBranch{Name: b.Name, Head: b.Target.Hash})
	}
	return out, nil
}

func (c *bitbucketClient) ListRepos(ctx context.Context) ([]domain.VCSRepo, error) {
	var page struct {
		Values []struct {
			UUID       string `json:"uuid"`
			Slug       string `json:"slug"`
			IsPrivate  bool   `json:"is_private"`
			Language   string `json:"language"`
			MainBranch *struct {
				Name string `json:"name"`
			} `json:"mainbranch"`
			Workspace struct {
				UUID string `json:"uuid"`
				Slug string `json:"slug"`
				Name string `json:"name"`
			} `json:"workspace"`
		} `json:"values"`
	}
	if err := c.t.getJSON(ctx, "/repositories?role=member&pagelen=100", &page); err != nil {
		return nil, err
	}
	out := make([]domain.VCSRepo, 0, len(page.Values))
	for _, r := range page.Values {
		repo := domain.VCSRepo{
			Owner: domain.OwnerProfile{
				Service:   domain.ServiceBitbucket,
				ServiceID: bitbucketID(r.Workspace.UUID),
				Username:  r.Workspace.Slug,
				Name:      r.Workspace.Name,
			},
			ServiceID: bitbucketID(r.UUID),
			Name:      r.Slug,
			Private:   r.IsPrivate,
			Language:  strings.ToLower(r.Language),
		}
		if r.MainBranch != nil {
			repo.DefaultBranch = r.MainBranch.Name
		}
		out = append(out, repo)
	}
	return out, nil
}
