package domain

import (
	"context"
	"time"
)

type Repo struct {
	ID            int64
	OwnerID       int64
	ServiceID     string
	Name          string
	Private       bool
	Active        bool
	DefaultBranch string
	Language      string
	UpdatedAt     time.Time
}

type RepoRepository interface {
	GetByID(ctx context.Context, repoID int64) (*Repo, error)
	GetByName(ctx context.Context, ownerID int64, name string) (*Repo, error)
	Upsert(ctx context.Context, repo Repo) (*Repo, error)
}
